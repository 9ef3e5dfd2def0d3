package batch

import (
	"github.com/woxQAQ/jsbridge/internal/codec"
	"github.com/woxQAQ/jsbridge/internal/encode"
)

// RunSync encodes one call to fnID and returns its result.
//
// When ret does not need a flush the result is a placeholder. Outside a
// batch scope the call is still flushed before returning; inside one it
// stays queued. When ret needs a flush the call is always sent and the true
// result decoded. Releases triggered while the call is encoded or awaited are
// held until it completes.
func RunSync[R any](env encode.Env, s *State, fnID uint32, ret encode.Codec[R], args func(enc *codec.EncodedData)) (R, error) {
	var zero R

	s.DrainDeferred()
	s.PushFrame()
	defer s.PopFrame()

	s.enc.PushU32(fnID)
	if args != nil {
		args(s.enc)
	}
	s.enc.MarkOp()

	if !ret.NeedsFlush() {
		v := ret.Placeholder(env)
		if s.Batching() {
			return v, nil
		}
		if _, err := s.Flush(); err != nil {
			return v, err
		}
		return v, s.Verify()
	}

	dec, err := s.Flush()
	if err != nil {
		return zero, err
	}
	v, err := ret.Decode(env, dec)
	if err != nil {
		if encode.IsThrown(err) {
			if verr := s.Verify(); verr != nil {
				return zero, verr
			}
		}
		return zero, err
	}
	return v, s.Verify()
}

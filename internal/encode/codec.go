// Package encode defines how Go values cross the bridge.
//
// Every type that can appear in a call signature has a Codec. The codec knows
// its wire shape, how to push a value into an accumulator, how to take one out
// of a decoded buffer, and whether a call returning it has to wait for the
// script side to answer (NeedsFlush) or can hand back a placeholder at once.
package encode

import (
	"errors"
	"fmt"

	"github.com/woxQAQ/jsbridge/internal/codec"
	"github.com/woxQAQ/jsbridge/internal/value"
)

// Invoker runs a registered native closure. It decodes the arguments from args
// and, on success, writes protocol.CallbackOK followed by the result to out.
// On failure it writes nothing and returns the error.
type Invoker func(env Env, args *codec.DecodedData, out *codec.EncodedData) error

// Env is the runtime state codecs need while encoding and decoding.
type Env interface {
	value.Releaser

	// ReserveHeapID takes the next heap id as a placeholder.
	ReserveHeapID() uint64
	// ClaimHeapID takes the next heap id and checks the script side assigned the same one.
	ClaimHeapID(id uint64) error
	// RegisterCallback stores inv and returns the key the script side calls it by.
	RegisterCallback(inv Invoker) uint64
}

// Codec encodes and decodes values of Go type T.
type Codec[T any] interface {
	Type() *Type
	Encode(env Env, enc *codec.EncodedData, v T)
	Decode(env Env, dec *codec.DecodedData) (T, error)
	// NeedsFlush reports whether the caller must wait for the true value.
	NeedsFlush() bool
	// Placeholder returns the value of a call that has not executed yet.
	// It is only called when NeedsFlush is false.
	Placeholder(env Env) T
}

// ErrNoPlaceholder is the panic value when a needs-flush codec is asked for a placeholder.
var ErrNoPlaceholder = errors.New("encode: placeholder requested for a type that needs a flush")

var errCallbackDecode = errors.New("native callbacks cannot be received from the script side")

// ThrownError is an exception raised by a catch-marked script function.
// It is an ordinary call outcome, not a protocol failure.
type ThrownError struct {
	Message string
}

func (e *ThrownError) Error() string {
	return fmt.Sprintf("script threw: %s", e.Message)
}

// IsThrown reports whether err carries a caught script exception.
func IsThrown(err error) bool {
	var te *ThrownError
	return errors.As(err, &te)
}

package scriptside

import (
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/dop251/goja"

	"github.com/woxQAQ/jsbridge/internal/codec"
	"github.com/woxQAQ/jsbridge/internal/encode"
	"github.com/woxQAQ/jsbridge/pkg/protocol"
)

// callbackHandle tracks whether the drop for one native closure has been queued.
type callbackHandle struct {
	key      uint64
	released atomic.Bool
}

// release reports whether the caller is the first to release h.
func (h *callbackHandle) release() bool {
	return h.released.CompareAndSwap(false, true)
}

// dropQueue collects keys of wrappers the garbage collector reclaimed.
// It is filled from cleanup goroutines and drained by the peer.
type dropQueue struct {
	mu   sync.Mutex
	keys []uint64
}

func (q *dropQueue) push(key uint64) {
	q.mu.Lock()
	q.keys = append(q.keys, key)
	q.mu.Unlock()
}

func (q *dropQueue) take() []uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	keys := q.keys
	q.keys = nil
	return keys
}

// wrapCallback exposes the native closure registered under key as a script
// function. Calling it blocks until native code answers; ref arguments are
// lent on the borrow stack for the duration of the call. Its release method
// tells native code the closure will not be called again. A wrapper that is
// collected without being released is dropped on the next exchange.
func (p *Peer) wrapCallback(typ *encode.Type, key uint64) goja.Value {
	h := &callbackHandle{key: key}

	fn := func(call goja.FunctionCall) goja.Value {
		if h.released.Load() {
			panic(p.vm.NewTypeError("native callback has been released"))
		}

		enc := codec.AcquireEncoder()
		defer codec.ReleaseEncoder(enc)
		p.pushDrops(enc)

		base := len(p.heap.borrow)
		defer func() { p.heap.borrow = p.heap.borrow[:base] }()

		enc.PushU32(protocol.FnCallCallback)
		enc.PushU64(key)
		for i, at := range typ.Args {
			if err := p.encode(at, call.Argument(i), enc, p.lendRef); err != nil {
				panic(p.vm.NewGoError(err))
			}
		}
		enc.MarkOp()

		resp, err := p.roundTrip(enc.Bytes())
		if err != nil {
			p.abort(err)
			return goja.Undefined()
		}

		dec, err := codec.NewDecodedData(resp)
		if err != nil {
			p.abort(err)
			return goja.Undefined()
		}
		status, err := dec.TakeU8()
		if err != nil {
			p.abort(err)
			return goja.Undefined()
		}
		if status != protocol.CallbackOK {
			msg, err := dec.TakeStr()
			if err != nil {
				p.abort(err)
				return goja.Undefined()
			}
			panic(p.vm.NewGoError(&CallbackFailedError{Message: msg}))
		}

		th, err := p.decode(typ.Ret, dec)
		if err != nil {
			p.abort(err)
			return goja.Undefined()
		}
		v, err := th()
		if err != nil {
			panic(p.vm.NewGoError(err))
		}
		return v
	}

	obj := p.vm.ToValue(fn).(*goja.Object)
	collected := p.collected
	cleanup := runtime.AddCleanup(obj, func(h *callbackHandle) {
		if h.release() {
			collected.push(h.key)
		}
	}, h)
	_ = obj.Set("release", func(goja.FunctionCall) goja.Value {
		if h.release() {
			cleanup.Stop()
			p.drops = append(p.drops, key)
		}
		return goja.Undefined()
	})
	return obj
}

// Package function provides typed call sites for script functions and the
// registry of native closures the script side may call back into.
package function

import (
	"errors"
	"fmt"
	"runtime/debug"

	"go.uber.org/zap"

	"github.com/woxQAQ/jsbridge/internal/codec"
	"github.com/woxQAQ/jsbridge/internal/encode"
	"github.com/woxQAQ/jsbridge/internal/metrics"
)

var (
	// ErrUnknownCallback is returned when the key names no live closure.
	ErrUnknownCallback = errors.New("unknown callback key")
	// ErrCallbackBusy is returned when a closure is invoked while it is already running.
	ErrCallbackBusy = errors.New("callback is already running")
	// ErrCallbackPanicked wraps a panic recovered from a native closure.
	ErrCallbackPanicked = errors.New("callback panicked")
)

// CallbackError reports a failed invocation of a registered closure.
type CallbackError struct {
	Key uint64
	Err error
}

func (e *CallbackError) Error() string {
	return fmt.Sprintf("callback %#x: %v", e.Key, e.Err)
}

func (e *CallbackError) Unwrap() error {
	return e.Err
}

type slotState uint8

const (
	slotIdle slotState = iota
	slotRunning
)

type slot struct {
	gen     uint32
	inv     encode.Invoker
	state   slotState
	dropped bool // drop requested while running
	used    bool
}

// Registry stores native closures under generation-tagged keys. The low 32
// bits of a key index a slot, the high 32 bits carry the slot's generation so a
// stale key never reaches a reused slot.
//
// A Registry is confined to the goroutine driving its runtime.
type Registry struct {
	slots   []slot
	free    []uint32
	live    int
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *zap.Logger, m *metrics.Metrics) *Registry {
	return &Registry{
		metrics: m,
		logger:  logger.With(zap.String("component", "callbacks")),
	}
}

func key(idx, gen uint32) uint64 {
	return uint64(idx) | uint64(gen)<<32
}

func (r *Registry) lookup(k uint64) (*slot, bool) {
	idx, gen := uint32(k), uint32(k>>32)
	if int(idx) >= len(r.slots) {
		return nil, false
	}
	s := &r.slots[idx]
	if !s.used || s.gen != gen {
		return nil, false
	}
	return s, true
}

// Register stores inv and returns its key.
func (r *Registry) Register(inv encode.Invoker) uint64 {
	var idx uint32
	if n := len(r.free); n > 0 {
		idx = r.free[n-1]
		r.free = r.free[:n-1]
	} else {
		idx = uint32(len(r.slots))
		r.slots = append(r.slots, slot{})
	}

	s := &r.slots[idx]
	s.inv, s.state, s.dropped, s.used = inv, slotIdle, false, true
	r.live++
	r.metrics.SetCallbacksLive(r.live)
	return key(idx, s.gen)
}

// Invoke runs the closure under k. The closure writes its result to out.
// A closure may not be re-entered while it is running.
func (r *Registry) Invoke(env encode.Env, k uint64, args *codec.DecodedData, out *codec.EncodedData) (err error) {
	s, ok := r.lookup(k)
	if !ok {
		return &CallbackError{Key: k, Err: ErrUnknownCallback}
	}
	if s.state == slotRunning {
		return &CallbackError{Key: k, Err: ErrCallbackBusy}
	}

	s.state = slotRunning
	inv := s.inv
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("Callback panicked",
				zap.Uint64("key", k),
				zap.Any("panic", p),
				zap.ByteString("stack", debug.Stack()),
			)
			err = &CallbackError{Key: k, Err: fmt.Errorf("%w: %v", ErrCallbackPanicked, p)}
		}

		// The slice may have grown during the call.
		s, _ := r.lookup(k)
		s.state = slotIdle
		if s.dropped {
			r.remove(k)
		}
	}()

	return inv(env, args, out)
}

// Drop removes the closure under k. A running closure is removed when it returns.
func (r *Registry) Drop(k uint64) bool {
	s, ok := r.lookup(k)
	if !ok {
		return false
	}
	if s.state == slotRunning {
		s.dropped = true
		return true
	}
	r.remove(k)
	return true
}

func (r *Registry) remove(k uint64) {
	idx := uint32(k)
	s := &r.slots[idx]
	*s = slot{gen: s.gen + 1}
	r.free = append(r.free, idx)
	r.live--
	r.metrics.SetCallbacksLive(r.live)
}

// Len returns the number of live closures.
func (r *Registry) Len() int {
	return r.live
}

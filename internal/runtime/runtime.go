// Package runtime drives the native end of the bridge. A Runtime sends
// batches to the script side and, while it waits for each answer, serves the
// native callbacks the script side invokes.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"go.uber.org/zap"

	"github.com/woxQAQ/jsbridge/internal/batch"
	"github.com/woxQAQ/jsbridge/internal/codec"
	"github.com/woxQAQ/jsbridge/internal/encode"
	"github.com/woxQAQ/jsbridge/internal/function"
	"github.com/woxQAQ/jsbridge/internal/metrics"
	"github.com/woxQAQ/jsbridge/internal/transport"
	"github.com/woxQAQ/jsbridge/internal/value"
	"github.com/woxQAQ/jsbridge/pkg/protocol"
)

// Config holds runtime configuration.
type Config struct {
	// CallTimeout bounds each wait for a Respond. Zero waits forever.
	// A wait that times out poisons the runtime.
	CallTimeout time.Duration

	// StrictHeap panics on heap bookkeeping violations.
	StrictHeap bool

	// VerifyHeap compares allocator cursors on every Respond.
	VerifyHeap bool

	Metrics *metrics.Metrics
}

// DefaultConfig returns the production defaults.
func DefaultConfig() *Config {
	return &Config{
		CallTimeout: 0,
		StrictHeap:  false,
		VerifyHeap:  true,
	}
}

// Runtime is the native side of one bridge. It implements encode.Env,
// function.Caller and batch.Flusher, and must be driven by a single goroutine.
type Runtime struct {
	t         transport.Transport
	conv      *transport.Conversation
	state     *batch.State
	callbacks *function.Registry

	fatal    error
	shutdown bool

	config  *Config
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// New creates a runtime talking over t.
func New(t transport.Transport, logger *zap.Logger, config *Config) *Runtime {
	if config == nil {
		config = DefaultConfig()
	}

	conv := transport.NewConversation()
	r := &Runtime{
		t:         transport.Counted(t, conv),
		conv:      conv,
		callbacks: function.NewRegistry(logger, config.Metrics),
		config:    config,
		metrics:   config.Metrics,
		logger:    logger.With(zap.String("component", "runtime")),
	}
	r.state = batch.NewState(r, logger, &batch.Config{
		Strict:  config.StrictHeap,
		Verify:  config.VerifyHeap,
		Metrics: config.Metrics,
	})

	r.logger.Info("Runtime started",
		zap.Duration("call_timeout", config.CallTimeout),
		zap.Bool("strict_heap", config.StrictHeap),
		zap.Bool("verify_heap", config.VerifyHeap),
	)
	return r
}

// BatchState returns the batching engine.
func (r *Runtime) BatchState() *batch.State { return r.state }

// Conversation returns the request/reply balance of this side.
func (r *Runtime) Conversation() *transport.Conversation { return r.conv }

// Live returns the number of heap ids this side holds.
func (r *Runtime) Live() int { return r.state.Live() }

// Callbacks returns the number of registered native closures.
func (r *Runtime) Callbacks() int { return r.callbacks.Len() }

func (r *Runtime) ReleaseHeapRef(id uint64)                   { r.state.ReleaseHeapRef(id) }
func (r *Runtime) DeferRelease(id uint64)                     { r.state.DeferRelease(id) }
func (r *Runtime) ReserveHeapID() uint64                      { return r.state.NextHeapID() }
func (r *Runtime) ClaimHeapID(id uint64) error                { return r.state.ClaimHeapID(id) }
func (r *Runtime) RegisterCallback(inv encode.Invoker) uint64 { return r.callbacks.Register(inv) }

// Batch runs fn in a batch scope. Calls whose results are placeholders are
// sent together when the outermost scope exits.
func (r *Runtime) Batch(fn func() error) error {
	return r.state.Batch(fn)
}

var cloneHeapRef = function.New1(protocol.FnCloneHeapRef, encode.Ref, encode.Ref)

// Keep returns a ref that outlives the current callback. Borrowed refs are
// copied into a fresh heap slot; owned refs are cloned.
func (r *Runtime) Keep(ref *value.Ref) (*value.Ref, error) {
	if !ref.IsBorrowed() {
		return ref.Clone(), nil
	}
	return cloneHeapRef.Call(r, ref)
}

// Flush sends payload as an Evaluate and returns the payload of its Respond.
// Evaluates arriving first are callback invocations and are served in place.
func (r *Runtime) Flush(payload []byte) ([]byte, error) {
	if r.failed() {
		return nil, r.poisoned()
	}

	ctx, cancel := r.waitContext()
	defer cancel()

	if err := r.send(ctx, protocol.Evaluate, payload); err != nil {
		return nil, r.fail(err)
	}
	for {
		msg, err := r.t.Recv(ctx)
		if err != nil {
			return nil, r.fail(err)
		}
		r.metrics.ObserveMessage(metrics.Received, msg.Type, len(msg.Payload))
		r.logger.Debug("Received message", zap.Stringer("type", msg.Type), zap.Int("bytes", len(msg.Payload)))

		switch msg.Type {
		case protocol.Respond:
			return msg.Payload, nil
		case protocol.Evaluate:
			if err := r.serve(ctx, msg.Payload); err != nil {
				return nil, err
			}
		case protocol.Shutdown:
			return nil, r.fail(ErrShutdown)
		}
	}
}

// serve runs the callback ops of one inbound Evaluate and sends its Respond.
// The first failing callback ends the batch; its failure is the last entry.
func (r *Runtime) serve(ctx context.Context, payload []byte) error {
	restore := r.state.Suspend()
	defer restore()

	dec, err := codec.NewDecodedData(payload)
	if err != nil {
		return r.fail(err)
	}

	out := codec.AcquireEncoder()
	defer codec.ReleaseEncoder(out)

loop:
	for dec.U32Remaining() > 0 {
		fn, err := dec.TakeU32()
		if err != nil {
			return r.fail(err)
		}
		key, err := dec.TakeU64()
		if err != nil {
			return r.fail(err)
		}

		switch fn {
		case protocol.FnCallCallback:
			err := r.callbacks.Invoke(r, key, dec, out)
			if r.failed() {
				return r.poisoned()
			}
			if err != nil {
				r.logger.Warn("Callback failed", zap.Uint64("key", key), zap.Error(err))
				out.PushU8(protocol.CallbackFailed)
				out.PushStr(err.Error())
				break loop
			}
		case protocol.FnDropCallback:
			if !r.callbacks.Drop(key) {
				r.logger.Warn("Drop of unknown callback", zap.Uint64("key", key))
			}
		default:
			return r.fail(&codec.DecodeError{Op: fmt.Sprintf("inbound op %d", fn), Err: ErrUnknownInbound})
		}
	}

	if err := r.state.FlushPending(); err != nil {
		if r.failed() {
			return r.poisoned()
		}
		r.logger.Warn("Flushing callback work failed", zap.Error(err))
	}
	if err := r.send(ctx, protocol.Respond, out.Bytes()); err != nil {
		return r.fail(err)
	}
	return nil
}

func (r *Runtime) send(ctx context.Context, t protocol.MessageType, payload []byte) error {
	if err := r.t.Send(ctx, codec.Message{Type: t, Payload: payload}); err != nil {
		return err
	}
	r.metrics.ObserveMessage(metrics.Sent, t, len(payload))
	r.logger.Debug("Sent message", zap.Stringer("type", t), zap.Int("bytes", len(payload)))
	return nil
}

func (r *Runtime) waitContext() (context.Context, context.CancelFunc) {
	if r.config.CallTimeout > 0 {
		return context.WithTimeout(context.Background(), r.config.CallTimeout)
	}
	return context.WithCancel(context.Background())
}

// fail records err as fatal. No later call can be answered reliably.
func (r *Runtime) fail(err error) error {
	switch {
	case errors.Is(err, transport.ErrClosed):
		err = fmt.Errorf("%w: %w", ErrTransportClosed, err)
	case errors.Is(err, context.DeadlineExceeded):
		err = fmt.Errorf("%w: no reply within %s", ErrPoisoned, r.config.CallTimeout)
	}
	if r.fatal == nil {
		r.fatal = err
		r.logger.Error("Runtime failed", zap.Error(err))
	}
	return err
}

// failed reports whether no later call can be answered reliably. An allocator
// desync seen by the batching engine is recorded as fatal first.
func (r *Runtime) failed() bool {
	if err := r.state.Err(); err != nil && r.fatal == nil {
		_ = r.fail(err)
	}
	return r.fatal != nil
}

func (r *Runtime) poisoned() error {
	if errors.Is(r.fatal, ErrPoisoned) {
		return r.fatal
	}
	return fmt.Errorf("%w: %w", ErrPoisoned, r.fatal)
}

// Shutdown tells the script side to tear down. Later calls fail with ErrPoisoned.
func (r *Runtime) Shutdown() error {
	if r.shutdown {
		return nil
	}
	r.shutdown = true

	var err error
	if !errors.Is(r.fatal, ErrTransportClosed) && !errors.Is(r.fatal, ErrShutdown) {
		ctx, cancel := r.waitContext()
		defer cancel()
		err = r.send(ctx, protocol.Shutdown, nil)
	}
	if r.fatal == nil {
		r.fatal = ErrShutdown
	}
	r.logger.Info("Runtime shut down")
	return err
}

// Close flushes queued operations, shuts the script side down and closes the transport.
func (r *Runtime) Close() error {
	var errs []error
	if !r.failed() {
		errs = append(errs, r.state.FlushPending())
	}
	errs = append(errs, r.Shutdown(), r.t.Close())
	return errors.Join(errs...)
}

// Run calls app with r. A panic in app is logged and turned into a Shutdown
// so the script side is not left waiting.
func (r *Runtime) Run(app func(rt *Runtime) error) (err error) {
	defer func() {
		p := recover()
		if p == nil {
			return
		}
		r.logger.Error("Application panicked",
			zap.Any("panic", p),
			zap.ByteString("stack", debug.Stack()),
		)
		if serr := r.Shutdown(); serr != nil {
			r.logger.Warn("Failed to send shutdown", zap.Error(serr))
		}
		err = &PanicError{Value: p}
	}()
	return app(r)
}

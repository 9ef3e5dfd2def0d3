// Package scriptside is the JavaScript end of the bridge. A Peer runs binding
// functions on a goja VM, keeps the heap of values native code holds refs to,
// and calls back into native closures through the same transport.
package scriptside

import (
	"context"
	"errors"
	"fmt"

	"github.com/dop251/goja"
	"go.uber.org/zap"

	"github.com/woxQAQ/jsbridge/internal/binding"
	"github.com/woxQAQ/jsbridge/internal/codec"
	"github.com/woxQAQ/jsbridge/internal/transport"
	"github.com/woxQAQ/jsbridge/pkg/protocol"
)

// ErrShutdown is returned when the native side asks the peer to stop while a
// call is outstanding.
var ErrShutdown = errors.New("native side shut down")

type compiled struct {
	fn   *binding.Function
	call goja.Callable
}

// Peer serves one native runtime. It is driven by a single goroutine.
type Peer struct {
	vm        *goja.Runtime
	t         transport.Transport
	fns       map[uint32]*compiled
	heap      *heap
	drops     []uint64 // callback keys released by script code, not yet sent
	collected *dropQueue
	ctx       context.Context
	fatal     error
	logger    *zap.Logger
}

// NewPeer compiles every function in table on a fresh VM.
func NewPeer(t transport.Transport, table *binding.Table, logger *zap.Logger) (*Peer, error) {
	p := &Peer{
		vm:        goja.New(),
		t:         t,
		fns:       make(map[uint32]*compiled, table.Len()),
		heap:      newHeap(),
		collected: &dropQueue{},
		ctx:       context.Background(),
		logger:    logger.With(zap.String("component", "scriptside")),
	}

	for _, f := range table.Functions() {
		v, err := p.vm.RunString("(" + f.Source + ")")
		if err != nil {
			return nil, &SourceError{Name: f.Name, Err: err}
		}
		call, ok := goja.AssertFunction(v)
		if !ok {
			return nil, &SourceError{Name: f.Name, Err: fmt.Errorf("source evaluates to %s, not a function", v.ExportType())}
		}
		p.fns[f.ID] = &compiled{fn: f, call: call}
	}

	p.logger.Debug("Peer ready", zap.Int("functions", len(p.fns)))
	return p, nil
}

// VM exposes the underlying runtime, for installing globals before Serve.
func (p *Peer) VM() *goja.Runtime {
	return p.vm
}

// Live returns the number of heap slots holding a value.
func (p *Peer) Live() int {
	return p.heap.live()
}

// Serve answers native Evaluates until the native side shuts down or the
// transport closes. A Shutdown message ends Serve without error.
func (p *Peer) Serve(ctx context.Context) error {
	p.ctx = ctx
	for {
		msg, err := p.t.Recv(ctx)
		if err != nil {
			if errors.Is(err, transport.ErrClosed) {
				p.logger.Debug("Transport closed")
				return nil
			}
			return err
		}

		switch msg.Type {
		case protocol.Evaluate:
			if err := p.answer(msg.Payload); err != nil {
				if errors.Is(err, ErrShutdown) {
					return nil
				}
				return err
			}
		case protocol.Shutdown:
			p.logger.Info("Shutdown requested by native side")
			return nil
		default:
			return ErrUnexpectedRespond
		}
	}
}

// answer evaluates one native batch and sends its Respond. Callback drops
// queued during the batch are delivered first.
func (p *Peer) answer(payload []byte) error {
	out, err := p.evaluate(payload)
	if err != nil {
		return err
	}
	if err := p.flushDrops(); err != nil {
		return err
	}
	if out.threw {
		p.logger.Debug("Batch threw", zap.String("message", out.message))
	}
	return p.t.Send(p.ctx, codec.Message{Type: protocol.Respond, Payload: p.respond(out)})
}

func (p *Peer) pushDrops(enc *codec.EncodedData) {
	p.drainCollected()
	for _, key := range p.drops {
		enc.PushU32(protocol.FnDropCallback)
		enc.PushU64(key)
		enc.MarkOp()
	}
	p.drops = p.drops[:0]
}

// drainCollected moves keys of reclaimed wrappers into the pending drops.
func (p *Peer) drainCollected() {
	for _, key := range p.collected.take() {
		p.logger.Debug("Dropping unreachable callback", zap.Uint64("key", key))
		p.drops = append(p.drops, key)
	}
}

func (p *Peer) flushDrops() error {
	p.drainCollected()
	if len(p.drops) == 0 {
		return nil
	}
	enc := codec.AcquireEncoder()
	defer codec.ReleaseEncoder(enc)
	p.pushDrops(enc)
	_, err := p.roundTrip(enc.Bytes())
	return err
}

// roundTrip sends an Evaluate and waits for its Respond, serving any native
// Evaluates that arrive first.
func (p *Peer) roundTrip(payload []byte) ([]byte, error) {
	if err := p.t.Send(p.ctx, codec.Message{Type: protocol.Evaluate, Payload: payload}); err != nil {
		return nil, err
	}
	for {
		msg, err := p.t.Recv(p.ctx)
		if err != nil {
			return nil, err
		}
		switch msg.Type {
		case protocol.Respond:
			return msg.Payload, nil
		case protocol.Evaluate:
			if err := p.answer(msg.Payload); err != nil {
				return nil, err
			}
		case protocol.Shutdown:
			return nil, ErrShutdown
		}
	}
}

// abort stops the running script. Errors that end the conversation must not
// be catchable by script code.
func (p *Peer) abort(err error) {
	if p.fatal == nil {
		p.fatal = err
	}
	p.vm.Interrupt(err)
}

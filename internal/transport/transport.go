// Package transport moves framed IPC messages between the two sides of the bridge.
//
// Every transport delivers messages in order per direction. Send and Recv may
// be called from different goroutines, but each must have a single caller.
package transport

import (
	"context"
	"errors"
	"sync"

	"github.com/woxQAQ/jsbridge/internal/codec"
)

var (
	// ErrClosed is returned once either end of a transport has been closed.
	ErrClosed = errors.New("transport closed")
)

// Transport carries messages to and from the other side.
type Transport interface {
	Send(ctx context.Context, msg codec.Message) error
	Recv(ctx context.Context) (codec.Message, error)
	Close() error
}

// Pipe is one end of an in-memory transport.
type Pipe struct {
	in  <-chan codec.Message
	out chan<- codec.Message

	done     chan struct{} // closed by this end
	peerDone chan struct{} // closed by the other end
	once     *sync.Once
}

// NewPipe creates two connected ends. Each direction buffers up to size messages.
func NewPipe(size int) (*Pipe, *Pipe) {
	ab := make(chan codec.Message, size)
	ba := make(chan codec.Message, size)
	aDone := make(chan struct{})
	bDone := make(chan struct{})

	a := &Pipe{in: ba, out: ab, done: aDone, peerDone: bDone, once: &sync.Once{}}
	b := &Pipe{in: ab, out: ba, done: bDone, peerDone: aDone, once: &sync.Once{}}
	return a, b
}

// Send queues msg for the other end.
func (p *Pipe) Send(ctx context.Context, msg codec.Message) error {
	select {
	case <-p.done:
		return ErrClosed
	case <-p.peerDone:
		return ErrClosed
	default:
	}

	select {
	case p.out <- msg:
		return nil
	case <-p.done:
		return ErrClosed
	case <-p.peerDone:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Recv returns the next message from the other end. Messages sent before the
// other end closed are still delivered.
func (p *Pipe) Recv(ctx context.Context) (codec.Message, error) {
	select {
	case msg := <-p.in:
		return msg, nil
	default:
	}

	select {
	case msg := <-p.in:
		return msg, nil
	case <-p.done:
		return codec.Message{}, ErrClosed
	case <-p.peerDone:
		select {
		case msg := <-p.in:
			return msg, nil
		default:
			return codec.Message{}, ErrClosed
		}
	case <-ctx.Done():
		return codec.Message{}, ctx.Err()
	}
}

// Close closes this end. The other end observes ErrClosed once it has drained.
func (p *Pipe) Close() error {
	p.once.Do(func() { close(p.done) })
	return nil
}

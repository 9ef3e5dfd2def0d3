package transport

import (
	"context"
	"sync"

	"github.com/woxQAQ/jsbridge/internal/codec"
	"github.com/woxQAQ/jsbridge/pkg/protocol"
)

// Conversation tracks the request/reply balance of one side of the bridge.
//
// Every Evaluate expects exactly one Respond. AwaitingRemote counts Evaluates we
// sent that are not yet answered; AwaitingLocal counts Evaluates we received
// and still owe a Respond for. The conversation is idle when both are zero.
type Conversation struct {
	mu             sync.Mutex
	awaitingRemote int
	awaitingLocal  int
	shutdown       bool
	changed        chan struct{}
}

// NewConversation creates an idle conversation.
func NewConversation() *Conversation {
	return &Conversation{changed: make(chan struct{})}
}

// ObserveSent records an outbound message.
func (c *Conversation) ObserveSent(t protocol.MessageType) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch t {
	case protocol.Evaluate:
		c.awaitingRemote++
	case protocol.Respond:
		c.awaitingLocal--
	case protocol.Shutdown:
		c.shutdown = true
	}
	c.notify()
}

// ObserveReceived records an inbound message.
func (c *Conversation) ObserveReceived(t protocol.MessageType) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch t {
	case protocol.Evaluate:
		c.awaitingLocal++
	case protocol.Respond:
		c.awaitingRemote--
	case protocol.Shutdown:
		c.shutdown = true
	}
	c.notify()
}

func (c *Conversation) notify() {
	close(c.changed)
	c.changed = make(chan struct{})
}

// Done reports whether no reply is outstanding in either direction.
func (c *Conversation) Done() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.awaitingRemote == 0 && c.awaitingLocal == 0
}

// Pending returns the two outstanding counts.
func (c *Conversation) Pending() (awaitingRemote, awaitingLocal int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.awaitingRemote, c.awaitingLocal
}

// ShutDown reports whether a Shutdown message crossed in either direction.
func (c *Conversation) ShutDown() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.shutdown
}

// Changed returns a channel closed at the next observed message.
func (c *Conversation) Changed() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.changed
}

type counted struct {
	Transport
	conv *Conversation
}

// Counted wraps t so every message it carries updates conv.
func Counted(t Transport, conv *Conversation) Transport {
	return &counted{Transport: t, conv: conv}
}

func (c *counted) Send(ctx context.Context, msg codec.Message) error {
	if err := c.Transport.Send(ctx, msg); err != nil {
		return err
	}
	c.conv.ObserveSent(msg.Type)
	return nil
}

func (c *counted) Recv(ctx context.Context) (codec.Message, error) {
	msg, err := c.Transport.Recv(ctx)
	if err != nil {
		return msg, err
	}
	c.conv.ObserveReceived(msg.Type)
	return msg, nil
}

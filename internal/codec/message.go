package codec

import (
	"github.com/woxQAQ/jsbridge/pkg/protocol"
)

// Message is the unit carried by a transport: a type tag and an encoded payload.
type Message struct {
	Type    protocol.MessageType
	Payload []byte
}

// NewMessage wraps the serialized form of data.
func NewMessage(t protocol.MessageType, data *EncodedData) Message {
	return Message{Type: t, Payload: data.Bytes()}
}

// Marshal returns the wire form: one tag byte followed by the payload.
func (m Message) Marshal() []byte {
	buf := make([]byte, 1+len(m.Payload))
	buf[0] = byte(m.Type)
	copy(buf[1:], m.Payload)
	return buf
}

// ParseMessage splits a wire frame into its tag and payload.
// The payload aliases b.
func ParseMessage(b []byte) (Message, error) {
	if len(b) < 1 {
		return Message{}, &DecodeError{Op: "message", Err: ErrTruncated}
	}
	t := protocol.MessageType(b[0])
	if !t.Valid() {
		return Message{}, &DecodeError{Op: "message", Err: ErrUnknownMessageType}
	}
	return Message{Type: t, Payload: b[1:]}, nil
}

package transport

import (
	"encoding/base64"

	"github.com/woxQAQ/jsbridge/internal/codec"
)

// EncodeText renders a message as base64 for channels that only carry text.
func EncodeText(msg codec.Message) string {
	return base64.StdEncoding.EncodeToString(msg.Marshal())
}

// DecodeText parses a message produced by EncodeText.
func DecodeText(s string) (codec.Message, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return codec.Message{}, &codec.DecodeError{Op: "text frame", Err: err}
	}
	return codec.ParseMessage(b)
}

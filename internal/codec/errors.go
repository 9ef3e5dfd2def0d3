package codec

import (
	"errors"
	"fmt"
)

var (
	// ErrTruncated is returned when a buffer is shorter than its header.
	ErrTruncated = errors.New("buffer truncated")
	// ErrBadOffsets is returned when header offsets are out of order or out of range.
	ErrBadOffsets = errors.New("inconsistent region offsets")
	// ErrRegionExhausted is returned when a read runs past the end of its region.
	ErrRegionExhausted = errors.New("region exhausted")
	// ErrInvalidUTF8 is returned when a decoded string is not valid UTF-8.
	ErrInvalidUTF8 = errors.New("invalid utf-8 in string region")
	// ErrUnknownMessageType is returned for a message tag outside the protocol.
	ErrUnknownMessageType = errors.New("unknown message type")
)

// DecodeError describes a failed read from an encoded buffer.
type DecodeError struct {
	Op     string
	Region string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Region != "" {
		return fmt.Sprintf("decode %s (%s region): %v", e.Op, e.Region, e.Err)
	}
	return fmt.Sprintf("decode %s: %v", e.Op, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// IsDecodeError reports whether err came from malformed wire bytes.
func IsDecodeError(err error) bool {
	var de *DecodeError
	return errors.As(err, &de)
}

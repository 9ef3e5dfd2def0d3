package runtime

import (
	"errors"
	"fmt"

	"github.com/woxQAQ/jsbridge/internal/batch"
)

var (
	// ErrShutdown is returned when the script side sends Shutdown while a reply is awaited.
	ErrShutdown = errors.New("script side shut down")
	// ErrTransportClosed is returned when the transport closes while a reply is awaited.
	ErrTransportClosed = errors.New("transport closed while awaiting a reply")
	// ErrPoisoned is returned by every call after a fatal error.
	ErrPoisoned = errors.New("runtime is unusable after a fatal error")
	// ErrUnknownInbound is returned when the script side sends an op native code does not serve.
	ErrUnknownInbound = errors.New("unknown inbound operation")
)

// RemoteError is an exception the script side did not catch.
type RemoteError = batch.RemoteError

// PanicError is returned by Run when the application panicked.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("application panicked: %v", e.Value)
}

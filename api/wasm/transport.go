// Package wasm is the guest half of the jsbridge host module. A script side
// compiled with GOOS=wasip1 reaches native code through Transport and exports
// its entry point as ipc_main:
//
//	//go:wasmexport ipc_main
//	func ipcMain() { ... }
//
// Build with -buildmode=c-shared so the host can run _initialize first.
//
// NOTE: uint32 is used for pointers and lengths because WebAssembly uses a 32-bit
// linear memory model.
package wasm

import (
	"context"
	"errors"
	"fmt"
	"runtime"

	"github.com/woxQAQ/jsbridge/internal/codec"
	"github.com/woxQAQ/jsbridge/internal/transport"
)

// BindingDir is where the host mounts the binding tables.
const BindingDir = "/bindings"

// Status codes returned by the ipc imports.
const (
	statusOK     int32 = 0
	statusClosed int32 = -1
	statusFailed int32 = -2
)

// ErrHost is returned when a host import reports a failure.
var ErrHost = errors.New("host import failed")

func status(op string, rc int32) error {
	switch rc {
	case statusOK:
		return nil
	case statusClosed:
		return transport.ErrClosed
	default:
		return fmt.Errorf("%s returned %d: %w", op, rc, ErrHost)
	}
}

// Transport is the guest end of the connection to native code. The ipc
// imports block inside the host, so contexts passed to Send and Recv are
// not observed.
type Transport struct {
	closed bool
}

// NewTransport returns the guest's only transport.
func NewTransport() *Transport {
	return &Transport{}
}

// Recv waits for the next message from native code.
func (t *Transport) Recv(_ context.Context) (codec.Message, error) {
	if t.closed {
		return codec.Message{}, transport.ErrClosed
	}
	n := ipcWait()
	if n < 0 {
		return codec.Message{}, status("ipc_wait", n)
	}

	frame := make([]byte, n)
	rc := ipcRead(bufPtr(frame))
	runtime.KeepAlive(frame)
	if err := status("ipc_read", rc); err != nil {
		return codec.Message{}, err
	}
	return codec.ParseMessage(frame)
}

// Send hands msg to native code.
func (t *Transport) Send(_ context.Context, msg codec.Message) error {
	if t.closed {
		return transport.ErrClosed
	}
	frame := msg.Marshal()
	rc := ipcSend(bufPtr(frame), uint32(len(frame)))
	runtime.KeepAlive(frame)
	return status("ipc_send", rc)
}

// Close stops using the connection. Native code observes the guest's exit
// when ipc_main returns.
func (t *Transport) Close() error {
	t.closed = true
	return nil
}

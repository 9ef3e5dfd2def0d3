//go:build wasip1

package wasm

import "unsafe"

//go:wasmimport jsbridge ipc_wait
func ipcWait() int32

//go:wasmimport jsbridge ipc_read
func ipcRead(ptr uint32) int32

//go:wasmimport jsbridge ipc_send
func ipcSend(ptr, length uint32) int32

//go:wasmimport jsbridge log_message
func logMessage(level, ptr, length uint32)

// Wasm memory addresses are 32-bit.
func bufPtr(b []byte) uint32 {
	return uint32(uintptr(unsafe.Pointer(unsafe.SliceData(b))))
}

package guest

import (
	"github.com/tetratelabs/wazero/api"
)

// Memory moves IPC frames in and out of a guest's linear memory. The guest
// owns allocation: it passes the address of a buffer it has reserved.
type Memory struct {
	mem api.Memory
}

// NewMemory wraps the exported memory of module.
func NewMemory(module api.Module) *Memory {
	return &Memory{mem: module.Memory()}
}

// ReadFrame copies length bytes at ptr out of guest memory. The copy does
// not alias the guest, which may reuse its buffer once the call returns.
func (m *Memory) ReadFrame(ptr, length uint32) ([]byte, error) {
	if m.mem == nil {
		return nil, &MemoryAccessError{Operation: "read", Address: ptr, Length: length}
	}
	buf, ok := m.mem.Read(ptr, length)
	if !ok {
		return nil, &MemoryAccessError{Operation: "read", Address: ptr, Length: length}
	}
	out := make([]byte, len(buf))
	copy(out, buf)
	return out, nil
}

// WriteFrame copies frame into guest memory at ptr.
func (m *Memory) WriteFrame(ptr uint32, frame []byte) error {
	if m.mem == nil || !m.mem.Write(ptr, frame) {
		return &MemoryAccessError{Operation: "write", Address: ptr, Length: uint32(len(frame))}
	}
	return nil
}

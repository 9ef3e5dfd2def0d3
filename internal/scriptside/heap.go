package scriptside

import (
	"github.com/dop251/goja"

	"github.com/woxQAQ/jsbridge/pkg/protocol"
)

// heap holds the values native code refers to by id. Allocation mirrors the
// native allocator exactly: most recently freed id first, then fresh ids.
type heap struct {
	slots  map[uint64]goja.Value
	free   []uint64
	maxID  uint64
	borrow []goja.Value
}

func newHeap() *heap {
	return &heap{
		slots: make(map[uint64]goja.Value),
		maxID: protocol.HeapReserved,
	}
}

func (h *heap) alloc() uint64 {
	if n := len(h.free); n > 0 {
		id := h.free[n-1]
		h.free = h.free[:n-1]
		return id
	}
	id := h.maxID
	h.maxID++
	return id
}

func (h *heap) release(id uint64) {
	h.free = append(h.free, id)
}

func (h *heap) cursor() uint64 {
	if n := len(h.free); n > 0 {
		return h.free[n-1]
	}
	return h.maxID
}

func (h *heap) lend(v goja.Value) (uint64, error) {
	if uint64(len(h.borrow)) >= protocol.BorrowStackSize {
		return 0, ErrBorrowOverflow
	}
	h.borrow = append(h.borrow, v)
	return uint64(len(h.borrow) - 1), nil
}

func (h *heap) get(vm *goja.Runtime, id uint64) (goja.Value, error) {
	switch {
	case id == protocol.HeapUndefined:
		return goja.Undefined(), nil
	case id == protocol.HeapNull:
		return goja.Null(), nil
	case id == protocol.HeapTrue:
		return vm.ToValue(true), nil
	case id == protocol.HeapFalse:
		return vm.ToValue(false), nil
	case id == protocol.HeapGlobal:
		return vm.GlobalObject(), nil
	case protocol.IsBorrowedHeapID(id):
		if id < uint64(len(h.borrow)) {
			return h.borrow[id], nil
		}
	case !protocol.IsReservedHeapID(id):
		if v, ok := h.slots[id]; ok {
			return v, nil
		}
	}
	return nil, &HeapLookupError{ID: id}
}

func (h *heap) live() int {
	return len(h.slots)
}

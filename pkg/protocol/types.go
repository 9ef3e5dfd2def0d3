package protocol

// Shared constants for the native <-> script IPC protocol.
// Both sides of the bridge must agree on every value in this file.

import "math"

// MessageType is the tag byte that prefixes every IPC message.
type MessageType uint8

const (
	// Evaluate carries a batch of operations for the receiver to execute.
	Evaluate MessageType = iota
	// Respond answers the most recent Evaluate the receiver sent.
	Respond
	// Shutdown asks the receiver to tear down its side of the bridge.
	Shutdown
)

func (t MessageType) String() string {
	switch t {
	case Evaluate:
		return "evaluate"
	case Respond:
		return "respond"
	case Shutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

// Valid reports whether t is a known message type.
func (t MessageType) Valid() bool {
	return t <= Shutdown
}

// Heap slot ids. Ids below HeapReserved are never allocated dynamically
// and never released.
const (
	// BorrowStackSize bounds the ids lent for the duration of one inbound call.
	BorrowStackSize uint64 = 128

	HeapUndefined uint64 = 128
	HeapNull      uint64 = 129
	HeapTrue      uint64 = 130
	HeapFalse     uint64 = 131
	HeapGlobal    uint64 = 132

	// HeapReserved is the first id handed out by either allocator.
	HeapReserved uint64 = 136
)

// IsReservedHeapID reports whether id names a fixed singleton or a borrowed slot.
func IsReservedHeapID(id uint64) bool {
	return id < HeapReserved
}

// IsBorrowedHeapID reports whether id lives on the borrow stack.
func IsBorrowedHeapID(id uint64) bool {
	return id < BorrowStackSize
}

// Reserved function ids occupy the top of the u32 space.
const (
	// FnDropHeapRef releases a heap slot (native -> script).
	FnDropHeapRef uint32 = math.MaxUint32
	// FnCloneHeapRef copies a heap or borrowed slot into a fresh slot (native -> script).
	FnCloneHeapRef uint32 = math.MaxUint32 - 1
	// FnCallCallback invokes a registered native closure (script -> native).
	FnCallCallback uint32 = math.MaxUint32 - 2
	// FnDropCallback releases a registered native closure (script -> native).
	FnDropCallback uint32 = math.MaxUint32 - 3

	// FnReservedBase is the lowest reserved function id. Binding ids must be below it.
	FnReservedBase uint32 = math.MaxUint32 - 15
)

// IsReservedFunctionID reports whether id is used by the protocol itself.
func IsReservedFunctionID(id uint32) bool {
	return id >= FnReservedBase
}

// Status bytes.
const (
	// RespondOK leads a Respond whose operations all completed.
	RespondOK uint8 = 0
	// RespondThrew leads a Respond whose batch hit an uncaught exception.
	RespondThrew uint8 = 1

	// CallbackOK precedes the encoded return value of a native closure.
	CallbackOK uint8 = 0
	// CallbackFailed precedes the error message of a native closure.
	CallbackFailed uint8 = 1
)

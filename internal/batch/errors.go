package batch

import (
	"errors"
	"fmt"
)

var (
	// ErrDoubleRelease is returned when a heap id is released while already free.
	ErrDoubleRelease = errors.New("heap id released twice")
	// ErrReservedID is returned when a reserved heap id is released.
	ErrReservedID = errors.New("reserved heap id cannot be released")
	// ErrUnallocated is returned when an id that was never handed out is released.
	ErrUnallocated = errors.New("heap id was never allocated")
)

// HeapError reports a heap bookkeeping violation for one id.
type HeapError struct {
	ID  uint64
	Err error
}

func (e *HeapError) Error() string {
	return fmt.Sprintf("heap id %d: %v", e.ID, e.Err)
}

func (e *HeapError) Unwrap() error {
	return e.Err
}

// DesyncError reports that the script side's allocator cursor differs from ours.
// Every heap ref created after the divergence may name the wrong value.
type DesyncError struct {
	Local  uint64
	Remote uint64
}

func (e *DesyncError) Error() string {
	return fmt.Sprintf("heap allocator desync: next local id %d, next remote id %d", e.Local, e.Remote)
}

// RemoteError is an exception the script side did not catch while running a batch.
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("uncaught script exception: %s", e.Message)
}

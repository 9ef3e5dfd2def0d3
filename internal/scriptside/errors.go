package scriptside

import (
	"errors"
	"fmt"
)

var (
	// ErrUnexpectedRespond is returned when a Respond arrives while nothing is awaiting one.
	ErrUnexpectedRespond = errors.New("respond received with no call outstanding")
	// ErrUnknownFunction is returned when an operation names a function the table lacks.
	ErrUnknownFunction = errors.New("unknown function id")
	// ErrBorrowOverflow is returned when a callback would lend more refs than the borrow stack holds.
	ErrBorrowOverflow = errors.New("borrow stack exhausted")
)

// SourceError reports a binding whose JavaScript does not evaluate to a function.
type SourceError struct {
	Name string
	Err  error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("function %s: %v", e.Name, e.Err)
}

func (e *SourceError) Unwrap() error {
	return e.Err
}

// HeapLookupError reports an operation naming a heap slot that holds no value.
type HeapLookupError struct {
	ID uint64
}

func (e *HeapLookupError) Error() string {
	return fmt.Sprintf("heap id %d holds no value", e.ID)
}

// CallbackFailedError is thrown into JavaScript when a native callback fails.
type CallbackFailedError struct {
	Message string
}

func (e *CallbackFailedError) Error() string {
	return fmt.Sprintf("native callback failed: %s", e.Message)
}

package guest

import (
	"errors"
	"fmt"
)

// ErrRuntimeClosed is returned when an instance is requested from a closed runtime.
var ErrRuntimeClosed = errors.New("guest runtime is closed")

// CompilationError occurs when a guest module fails to compile.
type CompilationError struct {
	ModuleName string
	Err        error
}

func (e *CompilationError) Error() string {
	return fmt.Sprintf("failed to compile guest module '%s': %v", e.ModuleName, e.Err)
}

func (e *CompilationError) Unwrap() error {
	return e.Err
}

// InstantiationError occurs when a guest module cannot be instantiated.
type InstantiationError struct {
	ModuleName string
	InstanceID string
	Err        error
}

func (e *InstantiationError) Error() string {
	return fmt.Sprintf("failed to instantiate guest '%s' (instance: %s): %v",
		e.ModuleName, e.InstanceID, e.Err)
}

func (e *InstantiationError) Unwrap() error {
	return e.Err
}

// ModuleNotFoundError occurs when a module was never loaded.
type ModuleNotFoundError struct {
	ModuleName string
}

func (e *ModuleNotFoundError) Error() string {
	return fmt.Sprintf("guest module '%s' not loaded", e.ModuleName)
}

// FunctionNotFoundError occurs when a guest lacks a required export.
type FunctionNotFoundError struct {
	ModuleName   string
	FunctionName string
}

func (e *FunctionNotFoundError) Error() string {
	return fmt.Sprintf("function '%s' not exported by guest '%s'",
		e.FunctionName, e.ModuleName)
}

// MemoryAccessError occurs when a frame does not fit the guest's memory.
type MemoryAccessError struct {
	Operation string
	Address   uint32
	Length    uint32
}

func (e *MemoryAccessError) Error() string {
	return fmt.Sprintf("guest memory access out of range (op=%s, addr=%d, len=%d)",
		e.Operation, e.Address, e.Length)
}

// HostFunctionError occurs when a host import fails on behalf of a guest.
type HostFunctionError struct {
	FunctionName string
	InstanceID   string
	Err          error
}

func (e *HostFunctionError) Error() string {
	return fmt.Sprintf("host function '%s' failed for instance %s: %v", e.FunctionName, e.InstanceID, e.Err)
}

func (e *HostFunctionError) Unwrap() error {
	return e.Err
}

// Package value defines handles to values that live in the script side's heap.
package value

import (
	"runtime"
	"sync/atomic"

	"github.com/woxQAQ/jsbridge/pkg/protocol"
)

// Releaser reclaims heap ids whose last handle was released.
type Releaser interface {
	// ReleaseHeapRef is called on the owning goroutine when the last handle is released.
	ReleaseHeapRef(id uint64)
	// DeferRelease may be called from any goroutine; the owner releases id on its next operation.
	DeferRelease(id uint64)
}

type shared struct {
	id    uint64
	owner Releaser
	refs  atomic.Int64
}

func (s *shared) drop(explicit bool) {
	if s.refs.Add(-1) != 0 {
		return
	}
	if explicit {
		s.owner.ReleaseHeapRef(s.id)
		return
	}
	s.owner.DeferRelease(s.id)
}

// Ref is a reference-counted handle to a value in the script heap.
// Clones share one count; the heap id is released when the last clone is released.
// A Ref that becomes unreachable without Release is reclaimed by the garbage collector
// through the owner's deferred queue.
type Ref struct {
	id      uint64
	shared  *shared
	cleanup runtime.Cleanup
	done    bool
}

// New wraps an id decoded from the wire or reserved as a placeholder.
func New(id uint64, owner Releaser) *Ref {
	if protocol.IsReservedHeapID(id) || owner == nil {
		return &Ref{id: id}
	}
	s := &shared{id: id, owner: owner}
	s.refs.Store(1)
	return track(s)
}

func track(s *shared) *Ref {
	r := &Ref{id: s.id, shared: s}
	r.cleanup = runtime.AddCleanup(r, func(s *shared) { s.drop(false) }, s)
	return r
}

// Borrowed wraps an id lent by the script side for the duration of one call.
func Borrowed(id uint64) *Ref {
	return &Ref{id: id}
}

// Reserved wraps one of the fixed singleton ids.
func Reserved(id uint64) *Ref {
	return &Ref{id: id}
}

func Undefined() *Ref { return Reserved(protocol.HeapUndefined) }
func Null() *Ref      { return Reserved(protocol.HeapNull) }
func True() *Ref      { return Reserved(protocol.HeapTrue) }
func False() *Ref     { return Reserved(protocol.HeapFalse) }
func Global() *Ref    { return Reserved(protocol.HeapGlobal) }

// ID returns the heap slot this handle names.
func (r *Ref) ID() uint64 {
	return r.id
}

// IsReserved reports whether the handle names a singleton or a borrowed slot.
func (r *Ref) IsReserved() bool {
	return r.shared == nil
}

// IsBorrowed reports whether the handle is only valid during the current inbound call.
func (r *Ref) IsBorrowed() bool {
	return protocol.IsBorrowedHeapID(r.id)
}

// Clone returns a new handle sharing the count of r.
func (r *Ref) Clone() *Ref {
	if r.shared == nil {
		return &Ref{id: r.id}
	}
	if r.done {
		panic("value: clone of released ref")
	}
	r.shared.refs.Add(1)
	return track(r.shared)
}

// Release drops this handle. Releasing the same handle twice is a no-op.
func (r *Ref) Release() {
	if r.shared == nil || r.done {
		return
	}
	r.done = true
	r.cleanup.Stop()
	r.shared.drop(true)
}

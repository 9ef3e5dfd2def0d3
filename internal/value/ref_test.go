package value

import (
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/woxQAQ/jsbridge/pkg/protocol"
)

type fakeOwner struct {
	mu       sync.Mutex
	released []uint64
	deferred []uint64
}

func (f *fakeOwner) ReleaseHeapRef(id uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released = append(f.released, id)
}

func (f *fakeOwner) DeferRelease(id uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deferred = append(f.deferred, id)
}

func (f *fakeOwner) deferredIDs() []uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]uint64(nil), f.deferred...)
}

func TestReleaseLastClone(t *testing.T) {
	owner := &fakeOwner{}
	r := New(200, owner)
	c1 := r.Clone()
	c2 := c1.Clone()

	r.Release()
	c1.Release()
	assert.Empty(t, owner.released, "ref still has a live clone")

	c2.Release()
	assert.Equal(t, []uint64{200}, owner.released)
}

func TestDoubleReleaseOfSameHandle(t *testing.T) {
	owner := &fakeOwner{}
	r := New(300, owner)
	c := r.Clone()

	r.Release()
	r.Release()
	assert.Empty(t, owner.released, "second release of one handle must not consume the clone's count")

	c.Release()
	assert.Equal(t, []uint64{300}, owner.released)
}

func TestReservedRefsBypassRelease(t *testing.T) {
	owner := &fakeOwner{}

	for _, r := range []*Ref{Undefined(), Null(), True(), False(), Global(), Borrowed(3), New(protocol.HeapNull, owner)} {
		assert.True(t, r.IsReserved())
		c := r.Clone()
		c.Release()
		r.Release()
	}
	assert.Empty(t, owner.released)
	assert.True(t, Borrowed(3).IsBorrowed())
	assert.False(t, Undefined().IsBorrowed())
}

func TestCloneAfterReleasePanics(t *testing.T) {
	r := New(400, &fakeOwner{})
	r.Release()
	assert.Panics(t, func() { r.Clone() })
}

func TestForgottenRefIsDeferred(t *testing.T) {
	owner := &fakeOwner{}
	func() {
		r := New(500, owner)
		_ = r.ID()
	}()

	require.Eventually(t, func() bool {
		runtime.GC()
		return len(owner.deferredIDs()) == 1
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, []uint64{500}, owner.deferredIDs())
	assert.Empty(t, owner.released)
}

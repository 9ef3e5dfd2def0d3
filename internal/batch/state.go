// Package batch accumulates operations for the script side into one message
// and keeps heap id numbering identical on both sides of the bridge.
//
// A State is confined to the goroutine that drives its runtime. The only
// method that may be called from elsewhere is DeferRelease.
package batch

import (
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/woxQAQ/jsbridge/internal/codec"
	"github.com/woxQAQ/jsbridge/internal/metrics"
	"github.com/woxQAQ/jsbridge/pkg/protocol"
)

// Flusher sends an encoded batch and returns the payload of the matching Respond.
// It must service any inbound calls that arrive before the Respond.
type Flusher interface {
	Flush(payload []byte) ([]byte, error)
}

// Config holds State configuration.
type Config struct {
	// Strict panics on heap bookkeeping violations instead of logging them.
	Strict bool

	// Verify compares allocator cursors after every flush.
	Verify bool

	Metrics *metrics.Metrics
}

// DefaultConfig returns the production defaults.
func DefaultConfig() *Config {
	return &Config{
		Strict: false,
		Verify: true,
	}
}

type pendingRelease struct {
	id   uint64
	drop bool
}

// State is the batching engine for one runtime.
type State struct {
	enc     *codec.EncodedData
	flusher Flusher

	free     []uint64
	released map[uint64]struct{}
	maxID    uint64

	frames [][]pendingRelease
	depth  int

	orphanMu sync.Mutex
	orphans  []uint64

	remote     uint64
	haveRemote bool
	desynced   error

	config  *Config
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewState creates an idle batching engine that flushes through f.
func NewState(f Flusher, logger *zap.Logger, config *Config) *State {
	if config == nil {
		config = DefaultConfig()
	}
	return &State{
		enc:      codec.AcquireEncoder(),
		flusher:  f,
		released: make(map[uint64]struct{}),
		maxID:    protocol.HeapReserved,
		config:   config,
		metrics:  config.Metrics,
		logger:   logger.With(zap.String("component", "batch")),
	}
}

// Encoder returns the accumulator operations are written into.
func (s *State) Encoder() *codec.EncodedData {
	return s.enc
}

// NextHeapID pops the most recently freed id, or takes a never-used one.
func (s *State) NextHeapID() uint64 {
	var id uint64
	if n := len(s.free); n > 0 {
		id = s.free[n-1]
		s.free = s.free[:n-1]
		delete(s.released, id)
	} else {
		id = s.maxID
		s.maxID++
	}
	s.metrics.SetHeapLive(s.Live())
	return id
}

// PeekHeapID returns the id the next call to NextHeapID will return.
func (s *State) PeekHeapID() uint64 {
	if n := len(s.free); n > 0 {
		return s.free[n-1]
	}
	return s.maxID
}

// ClaimHeapID takes the next id for a ref the script side created. With
// verification on it checks the id matches the one the script side assigned.
func (s *State) ClaimHeapID(id uint64) error {
	want := s.NextHeapID()
	if s.config.Verify && want != id {
		return s.desync(want, id)
	}
	return nil
}

// Err returns the first allocator desync detected, or nil. Once set it never clears.
func (s *State) Err() error {
	return s.desynced
}

// Live returns the number of allocated ids not yet released.
func (s *State) Live() int {
	return int(s.maxID-protocol.HeapReserved) - len(s.released)
}

// ReleaseHeapRef queues a drop of id on the script side and frees it.
// Inside an operation both are held until the operation completes so the
// drop never precedes a use encoded earlier.
func (s *State) ReleaseHeapRef(id uint64) {
	_ = s.release(id, true)
}

// DeferRelease queues id for release on the owning goroutine. Safe for concurrent use.
func (s *State) DeferRelease(id uint64) {
	s.orphanMu.Lock()
	s.orphans = append(s.orphans, id)
	s.orphanMu.Unlock()
}

// DrainDeferred releases every id queued by DeferRelease.
func (s *State) DrainDeferred() {
	s.orphanMu.Lock()
	orphans := s.orphans
	s.orphans = nil
	s.orphanMu.Unlock()

	for _, id := range orphans {
		s.logger.Debug("Releasing unreachable heap ref", zap.Uint64("id", id))
		s.ReleaseHeapRef(id)
	}
}

// release frees id, queueing a drop on the script side when drop is set.
func (s *State) release(id uint64, drop bool) error {
	var err error
	switch _, freed := s.released[id]; {
	case protocol.IsReservedHeapID(id):
		err = &HeapError{ID: id, Err: ErrReservedID}
	case id >= s.maxID:
		err = &HeapError{ID: id, Err: ErrUnallocated}
	case freed:
		err = &HeapError{ID: id, Err: ErrDoubleRelease}
	}
	if err != nil {
		return s.violation(err)
	}

	s.released[id] = struct{}{}
	p := pendingRelease{id: id, drop: drop}
	if n := len(s.frames); n > 0 {
		s.frames[n-1] = append(s.frames[n-1], p)
		return nil
	}
	s.finish(p)
	return nil
}

func (s *State) finish(p pendingRelease) {
	if p.drop {
		s.enc.PushU32(protocol.FnDropHeapRef)
		s.enc.PushU64(p.id)
		s.enc.MarkOp()
	}
	s.free = append(s.free, p.id)
	s.metrics.SetHeapLive(s.Live())
}

func (s *State) violation(err error) error {
	if s.config.Strict {
		panic(err)
	}

	kind := metrics.AnomalyDoubleRelease
	if errors.Is(err, ErrReservedID) {
		kind = metrics.AnomalyReserved
	}
	s.metrics.HeapAnomaly(kind)
	s.logger.Warn("Heap bookkeeping violation", zap.Error(err))
	return err
}

func (s *State) desync(local, remote uint64) error {
	err := &DesyncError{Local: local, Remote: remote}
	if s.desynced == nil {
		s.desynced = err
	}
	s.metrics.HeapAnomaly(metrics.AnomalyDesync)
	s.logger.Error("Heap allocator desync", zap.Uint64("local", local), zap.Uint64("remote", remote))
	return err
}

// PushFrame opens a scope whose releases are held until PopFrame.
func (s *State) PushFrame() {
	s.frames = append(s.frames, nil)
}

// PopFrame closes the innermost scope. Its releases move to the enclosing
// scope, or take effect if there is none.
func (s *State) PopFrame() {
	n := len(s.frames)
	if n == 0 {
		return
	}
	top := s.frames[n-1]
	s.frames = s.frames[:n-1]
	for _, p := range top {
		if n > 1 {
			s.frames[n-2] = append(s.frames[n-2], p)
			continue
		}
		s.finish(p)
	}
}

// Batching reports whether an explicit batch scope is open.
func (s *State) Batching() bool {
	return s.depth > 0
}

// Batch runs fn inside a batch scope. Operations that do not need a flush
// accumulate until the outermost scope exits, which flushes them once.
func (s *State) Batch(fn func() error) error {
	err := func() error {
		s.depth++
		defer func() { s.depth-- }()
		return fn()
	}()
	if s.depth > 0 {
		return err
	}
	return errors.Join(err, s.FlushPending())
}

// Suspend clears the batch scope and release frames while inbound calls are
// serviced, and returns a function that restores them.
func (s *State) Suspend() (restore func()) {
	depth, frames := s.depth, s.frames
	s.depth, s.frames = 0, nil
	return func() {
		s.depth, s.frames = depth, frames
	}
}

// FlushPending flushes accumulated operations, if any, and verifies the allocators.
func (s *State) FlushPending() error {
	if s.enc.IsEmpty() {
		return nil
	}
	if _, err := s.Flush(); err != nil {
		return err
	}
	return s.Verify()
}

// Flush sends the accumulated operations and waits for the Respond.
// The returned cursor is positioned at the first result value.
func (s *State) Flush() (*codec.DecodedData, error) {
	enc := s.enc
	s.enc = codec.AcquireEncoder()
	payload := enc.Bytes()
	ops := enc.Ops()
	codec.ReleaseEncoder(enc)

	s.metrics.ObserveFlush(ops)
	s.logger.Debug("Flushing batch", zap.Int("ops", ops), zap.Int("bytes", len(payload)))

	resp, err := s.flusher.Flush(payload)
	if err != nil {
		return nil, err
	}

	dec, err := codec.NewDecodedData(resp)
	if err != nil {
		return nil, err
	}
	cursor, err := dec.TakeU64()
	if err != nil {
		return nil, err
	}
	status, err := dec.TakeU8()
	if err != nil {
		return nil, err
	}
	s.remote, s.haveRemote = cursor, true

	if status == protocol.RespondThrew {
		msg, err := dec.TakeStr()
		if err != nil {
			return nil, err
		}
		if err := s.Verify(); err != nil {
			return nil, err
		}
		return nil, &RemoteError{Message: msg}
	}
	return dec, nil
}

// Verify compares the script side's allocator cursor from the last Respond with ours.
func (s *State) Verify() error {
	if !s.config.Verify || !s.haveRemote {
		return nil
	}
	if local := s.PeekHeapID(); local != s.remote {
		return s.desync(local, s.remote)
	}
	return nil
}

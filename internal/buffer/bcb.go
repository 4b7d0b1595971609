// Package buffer implements the Buffer Control Block (BCB) and Record
// Buffer: the unit of data flow between sources,
// pipeline stages, and sinks.
//
// The two-counter (pinned + data) reference scheme and the lock-free
// main-segment read are grounded on original_source/nes-memory's
// TupleBufferImpl.cpp, which this package's RepinGuard (see repin.go)
// adapts into an RAII-style handle so callers cannot forget to clear
// the repinning flag.
package buffer

import (
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nebulastream/worker-core/internal/bufferpool"
	"github.com/nebulastream/worker-core/internal/errs"
)

// ChildKey identifies a variable-sized child segment within a BCB. It is
// stable for the lifetime of dataCounter > 0 (§3 invariant).
type ChildKey int

// MainKey identifies the BCB's primary data segment, for use with
// SwapSegment.
const MainKey ChildKey = -1

const pinnedInTransition = -1

// BCB is the metadata object coordinating ownership and spill state of
// one logical record buffer.
type BCB struct {
	pool *bufferpool.Pool

	// main is read lock-free via atomic pointer load.
	main atomic.Pointer[bufferpool.Segment]

	// Structural mutations (child append/remove, segment swap) take this
	// lock. Reads of main never take it.
	structMu sync.RWMutex
	children []bufferpool.Segment

	pinnedCounter atomic.Int64
	dataCounter   atomic.Int64

	repinning atomic.Bool
	skipSpillingUpTo atomic.Int64
	isSpilledUpTo    atomic.Int64

	// Metadata: windowing, ordering, and drain semantics.
	NumberOfTuples     uint64
	Watermark          uint64
	SequenceNumber     uint64
	ChunkNumber        uint64
	LastChunk          bool
	OriginID           uint64
	CreationTimestamp  time.Time

	// leakTracking, when non-nil, records a callstack on every
	// pinnedRetain, per spec §6 enableLeakTracking and the original's
	// debug-build retain-callstack capture (§9 supplement #2).
	leakMu   sync.Mutex
	leakSites []string
	leakTrackingEnabled bool

	// onRecycle is invoked exactly once when both counters reach zero and
	// all segments have been returned to the pool.
	onRecycle func()
}

// New creates a BCB owning the primary segment, with zero outstanding
// references. Callers must call PinnedRetain/DataRetain to take a hold
// before use; a freshly constructed BCB with no holds is immediately
// eligible for recycling by the next retain/release pair that drops to
// zero, so construction and the first retain must be atomic from the
// caller's perspective (Wrap does not retain; callers retain before
// wrapping). CreationTimestamp is set to the construction time.
func New(pool *bufferpool.Pool, main bufferpool.Segment, enableLeakTracking bool) *BCB {
	b := &BCB{pool: pool, leakTrackingEnabled: enableLeakTracking, CreationTimestamp: time.Now()}
	b.main.Store(&main)
	b.skipSpillingUpTo.Store(-1)
	b.isSpilledUpTo.Store(-1)
	return b
}

// MainSegment returns the current primary segment via a lock-free atomic
// load.
func (b *BCB) MainSegment() bufferpool.Segment {
	return *b.main.Load()
}

// PinnedRetain increments the pinned counter, forbidding spilling while
// held.
func (b *BCB) PinnedRetain() {
	if b.leakTrackingEnabled {
		b.recordLeakSite()
	}
	for {
		cur := b.pinnedCounter.Load()
		if cur == pinnedInTransition {
			runtime.Gosched()
			continue
		}
		if b.pinnedCounter.CompareAndSwap(cur, cur+1) {
			b.dataCounter.Add(1)
			return
		}
	}
}

func (b *BCB) recordLeakSite() {
	pc := make([]uintptr, 16)
	n := runtime.Callers(3, pc)
	frames := runtime.CallersFrames(pc[:n])
	site := ""
	if f, _ := frames.Next(); f.Function != "" {
		site = f.Function
	}
	b.leakMu.Lock()
	b.leakSites = append(b.leakSites, site)
	b.leakMu.Unlock()
}

// DebugRetainSites returns the callstack-derived sites of every
// PinnedRetain call observed while leak tracking was enabled (§9
// supplement #2). Returns nil when leak tracking is disabled.
func (b *BCB) DebugRetainSites() []string {
	if !b.leakTrackingEnabled {
		return nil
	}
	b.leakMu.Lock()
	defer b.leakMu.Unlock()
	out := make([]string, len(b.leakSites))
	copy(out, b.leakSites)
	return out
}

// PinnedRelease decrements the pinned counter. Returns true if this was
// the last pinned holder (data may still be live per §4.2).
func (b *BCB) PinnedRelease() bool {
	for {
		cur := b.pinnedCounter.Load()
		if cur == pinnedInTransition {
			runtime.Gosched()
			continue
		}
		if cur <= 0 {
			errs.Fatal("buffer.BCB", "pinnedRelease called with pinnedCounter=%d", cur)
		}
		if b.pinnedCounter.CompareAndSwap(cur, cur-1) {
			last := cur-1 == 0
			b.dataRelease()
			return last
		}
	}
}

// DataRetain increments the data counter, for a holder that only needs
// buffer identity and tolerates spilling.
func (b *BCB) DataRetain() {
	b.dataCounter.Add(1)
}

// DataRelease decrements the data counter. Returns true if this call
// triggered recycling of all segments.
func (b *BCB) DataRelease() bool {
	return b.dataRelease()
}

func (b *BCB) dataRelease() bool {
	v := b.dataCounter.Add(-1)
	if v < 0 {
		errs.Fatal("buffer.BCB", "dataCounter went negative")
	}
	if v == 0 {
		b.recycle()
		return true
	}
	return false
}

// recycle returns every segment to the pool and clears metadata. Called
// at most once, when dataCounter first reaches zero.
func (b *BCB) recycle() {
	b.structMu.Lock()
	main := b.main.Load()
	children := b.children
	b.children = nil
	b.structMu.Unlock()

	if b.pool != nil {
		if main != nil {
			b.pool.RecycleSegment(*main)
		}
		for _, c := range children {
			b.pool.RecycleSegment(c)
		}
	}
	b.NumberOfTuples = 0
	b.Watermark = 0
	b.SequenceNumber = 0
	b.ChunkNumber = 0
	b.LastChunk = false
	b.OriginID = 0
	b.CreationTimestamp = time.Time{}
	if b.onRecycle != nil {
		b.onRecycle()
	}
}

// SetOnRecycle registers a callback invoked when the BCB's segments are
// returned to the pool. Used by tests to assert round-trip recycling.
func (b *BCB) SetOnRecycle(fn func()) { b.onRecycle = fn }

// RegisterChild appends seg under the unique BCB lock and returns its
// stable index. The second return is false if repinning is in progress,
// or if try is true and the lock is contended.
func (b *BCB) RegisterChild(seg bufferpool.Segment, try bool) (ChildKey, bool) {
	if b.repinning.Load() {
		return 0, false
	}
	if try {
		if !b.structMu.TryLock() {
			return 0, false
		}
	} else {
		b.structMu.Lock()
	}
	defer b.structMu.Unlock()
	b.children = append(b.children, seg)
	return ChildKey(len(b.children) - 1), true
}

// UnregisterChild removes a child, permitted only when dataCounter == 1
//. Any other caller holding a stale index after this call is
// a bug and must be caught by the caller re-validating dataCounter
// before dereferencing a child index (§9 Open Question).
func (b *BCB) UnregisterChild(key ChildKey) {
	if b.dataCounter.Load() != 1 {
		errs.Fatal("buffer.BCB", "unregisterChild requires dataCounter==1, got %d", b.dataCounter.Load())
	}
	b.structMu.Lock()
	defer b.structMu.Unlock()
	idx := int(key)
	if idx < 0 || idx >= len(b.children) {
		errs.Fatal("buffer.BCB", "unregisterChild: invalid key %d", key)
	}
	if b.pool != nil {
		b.pool.RecycleSegment(b.children[idx])
	}
	// Preserve index stability for surviving children by tombstoning
	// rather than compacting.
	b.children[idx] = bufferpool.Segment{}
}

// Child returns the segment registered at key.
func (b *BCB) Child(key ChildKey) bufferpool.Segment {
	b.structMu.RLock()
	defer b.structMu.RUnlock()
	idx := int(key)
	if idx < 0 || idx >= len(b.children) {
		errs.Fatal("buffer.BCB", "child: invalid key %d", key)
	}
	return b.children[idx]
}

// TryLockShared attempts a non-blocking shared-lock acquisition,
// refusing while repinning is in progress so new references cannot
// escape during spill.
func (b *BCB) TryLockShared() (func(), bool) {
	if b.repinning.Load() {
		return nil, false
	}
	if !b.structMu.TryRLock() {
		return nil, false
	}
	return b.structMu.RUnlock, true
}

// TryLockUnique attempts a non-blocking unique-lock acquisition, with
// the same repinning refusal as TryLockShared.
func (b *BCB) TryLockUnique() (func(), bool) {
	if b.repinning.Load() {
		return nil, false
	}
	if !b.structMu.TryLock() {
		return nil, false
	}
	return b.structMu.Unlock, true
}

// SwapSegment atomically replaces the main segment (key == MainKey) or a
// child segment with newSeg. Succeeds only when pinnedCounter == 0; the
// swap momentarily sets pinnedCounter to the in-transition sentinel
// (-1), installs the new segment, then restores it to 0.
func (b *BCB) SwapSegment(newSeg bufferpool.Segment, key ChildKey) bool {
	if b.repinning.Load() {
		errs.Fatal("buffer.BCB", "swapSegment attempted while repinning")
	}
	if !b.pinnedCounter.CompareAndSwap(0, pinnedInTransition) {
		return false
	}
	if key == MainKey {
		old := b.main.Swap(&newSeg)
		if b.pool != nil && old != nil {
			b.pool.RecycleSegment(*old)
		}
	} else {
		b.structMu.Lock()
		idx := int(key)
		old := b.children[idx]
		b.children[idx] = newSeg
		b.structMu.Unlock()
		if b.pool != nil {
			b.pool.RecycleSegment(old)
		}
	}
	b.pinnedCounter.Store(0)
	return true
}

// StealDataSegment atomically removes the main segment, recording the
// steal in the spill progress marker. Used by a spiller moving
// hot data out of the pool; the caller becomes responsible for the
// returned segment's lifecycle.
func (b *BCB) StealDataSegment() bufferpool.Segment {
	if !b.pinnedCounter.CompareAndSwap(0, pinnedInTransition) {
		errs.Fatal("buffer.BCB", "stealDataSegment requires pinnedCounter==0")
	}
	stolen := *b.main.Load()
	b.main.Store(&bufferpool.Segment{})
	b.isSpilledUpTo.Store(time.Now().UnixNano())
	b.pinnedCounter.Store(0)
	return stolen
}

package buffer

import "github.com/nebulastream/worker-core/internal/errs"

// RepinGuard is returned by StartRepinning and must have Done called
// exactly once to clear the repinning flag. Modeled as an RAII-style
// scope guard after TupleBufferImpl.cpp's repin scope handling (§9
// supplement #1), so a caller that forgets to release it is a compile
// error away from leaking the flag rather than a silent bug: callers are
// expected to `defer guard.Done()` immediately after acquiring it.
type RepinGuard struct {
	b     *BCB
	armed bool
}

// StartRepinning raises the repinning flag. While it is raised,
// TryLockShared, TryLockUnique and RegisterChild refuse, and
// SwapSegment is a fatal invariant violation. PinnedRetain does not
// consult the flag.
func (b *BCB) StartRepinning() *RepinGuard {
	if !b.repinning.CompareAndSwap(false, true) {
		errs.Fatal("buffer.BCB", "startRepinning called while already repinning")
	}
	return &RepinGuard{b: b, armed: true}
}

// Done clears the repinning flag. Safe to call at most once; a second
// call is a no-op.
func (g *RepinGuard) Done() {
	if !g.armed {
		return
	}
	g.armed = false
	g.b.repinning.Store(false)
}

package buffer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nebulastream/worker-core/internal/bufferpool"
)

func TestStartRepinning_refusesSwapAndSecondCallPanics(t *testing.T) {
	t.Parallel()

	pool := bufferpool.New(64, 64*2)
	b := newTestBCB(t, pool)
	b.DataRetain()
	defer b.DataRelease()

	guard := b.StartRepinning()
	newSeg, ok := pool.Acquire()
	require.True(t, ok)
	assert.Panics(t, func() { b.SwapSegment(newSeg, MainKey) }, "swap must be refused while repinning")
	pool.RecycleSegment(newSeg)
	assert.Panics(t, func() { b.StartRepinning() }, "a second concurrent repin must be refused")
	guard.Done()

	guard2 := b.StartRepinning()
	guard2.Done()
	guard2.Done() // second Done is a documented no-op
}

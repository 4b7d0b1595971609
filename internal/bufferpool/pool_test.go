package bufferpool

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_preallocatesCapacity(t *testing.T) {
	t.Parallel()

	p := New(64, 640)
	require.Equal(t, 10, p.Capacity())
	require.Equal(t, 64, p.SegmentSize())
	require.Equal(t, 0, p.Outstanding())
}

func TestAcquire_exhaustionReturnsFalse(t *testing.T) {
	t.Parallel()

	p := New(16, 32) // capacity 2
	seg1, ok := p.Acquire()
	require.True(t, ok)
	seg2, ok := p.Acquire()
	require.True(t, ok)

	_, ok = p.Acquire()
	assert.False(t, ok, "pool should be exhausted after capacity acquisitions")
	assert.Equal(t, 2, p.Outstanding())

	p.RecycleSegment(seg1)
	p.RecycleSegment(seg2)
	assert.Equal(t, 0, p.Outstanding())
}

func TestRecycleSegment_roundTripsFreeList(t *testing.T) {
	t.Parallel()

	p := New(16, 16)
	seg, ok := p.Acquire()
	require.True(t, ok)
	_, ok = p.Acquire()
	require.False(t, ok)

	p.RecycleSegment(seg)
	seg2, ok := p.Acquire()
	require.True(t, ok)
	assert.Equal(t, 16, len(seg2.Bytes))
}

func TestAcquireBlocking_wakesOnRecycle(t *testing.T) {
	t.Parallel()

	p := New(16, 16)
	seg, ok := p.Acquire()
	require.True(t, ok)

	done := make(chan struct{})
	var blocked Segment
	go func() {
		defer close(done)
		s, err := p.AcquireBlocking(context.Background())
		require.NoError(t, err)
		blocked = s
	}()

	time.Sleep(20 * time.Millisecond)
	p.RecycleSegment(seg)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("AcquireBlocking did not wake after recycle")
	}
	assert.Equal(t, 16, len(blocked.Bytes))
}

func TestAcquireBlocking_ctxCancel(t *testing.T) {
	t.Parallel()

	p := New(16, 16)
	_, ok := p.Acquire()
	require.True(t, ok)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := p.AcquireBlocking(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestAcquireUnpooled_neverCountsAgainstCapacity(t *testing.T) {
	t.Parallel()

	p := New(16, 16)
	seg, err := p.AcquireUnpooled(1024)
	require.NoError(t, err)
	assert.Equal(t, 1024, len(seg.Bytes))
	assert.False(t, seg.Pooled)
	assert.Equal(t, 0, p.Outstanding())

	p.RecycleSegment(seg) // no-op for unpooled segments
	assert.Equal(t, 0, p.Outstanding())
}

func TestPool_concurrentAcquireRelease(t *testing.T) {
	t.Parallel()

	p := New(64, 64*8)
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				seg, err := p.AcquireBlocking(context.Background())
				require.NoError(t, err)
				p.RecycleSegment(seg)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 0, p.Outstanding())
}

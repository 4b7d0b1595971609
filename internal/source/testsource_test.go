package source

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nebulastream/worker-core/internal/buffer"
	"github.com/nebulastream/worker-core/internal/bufferpool"
	"github.com/nebulastream/worker-core/internal/eventloop"
	"github.com/nebulastream/worker-core/internal/logging"
)

// collector records emitted buffers and releases each one, mirroring
// what a downstream task would do once it finished with the buffer.
type collector struct {
	mu  sync.Mutex
	got [][]byte
	sig chan struct{} // closed once len(got) reaches the target
}

func newCollector() *collector {
	return &collector{sig: make(chan struct{})}
}

func (c *collector) emit(target int) Emit {
	return func(rb buffer.RecordBuffer) error {
		c.mu.Lock()
		c.got = append(c.got, append([]byte(nil), rb.Bytes()[:1]...))
		n := len(c.got)
		c.mu.Unlock()
		rb.Release()
		if n == target {
			close(c.sig)
		}
		return nil
	}
}

func TestTestSource_S1_gracefulDrainProducesAllPayloadsThenCloses(t *testing.T) {
	t.Parallel()

	pool := bufferpool.New(64, 64*8)
	schema := buffer.Schema{Fields: []buffer.Field{{Name: "v", Type: buffer.Int8}}}
	payloads := [][]byte{{1}, {2}, {3}}

	ctrl := eventloop.NewAbortController()
	src := NewTestSource(pool, schema, payloads, ctrl.Signal(), logging.Discard(), "q1", false)

	c := newCollector()
	fut := src.Open(context.Background(), c.emit(len(payloads)))

	<-fut.Done()
	_, err := fut.Result()
	require.NoError(t, err)

	select {
	case <-c.sig:
	case <-time.After(time.Second):
		t.Fatal("source did not emit all payloads")
	}

	require.Eventually(t, func() bool {
		return src.State() == Closed
	}, time.Second, time.Millisecond)

	assert.Equal(t, [][]byte{{1}, {2}, {3}}, c.got)
}

func TestTestSource_S4_hardStopDiscardsMidFlight(t *testing.T) {
	t.Parallel()

	pool := bufferpool.New(64, 64*8)
	schema := buffer.Schema{Fields: []buffer.Field{{Name: "v", Type: buffer.Int8}}}
	payloads := make([][]byte, 1000)
	for i := range payloads {
		payloads[i] = []byte{byte(i)}
	}

	ctrl := eventloop.NewAbortController()
	src := NewTestSource(pool, schema, payloads, ctrl.Signal(), logging.Discard(), "q1", false)

	var emitted int
	emit := func(rb buffer.RecordBuffer) error {
		emitted++
		rb.Release()
		return nil
	}
	fut := src.Open(context.Background(), emit)
	<-fut.Done()

	src.Stop(CloseHardStop, nil)

	require.Eventually(t, func() bool {
		return src.State() == Closed
	}, time.Second, time.Millisecond)
	assert.Less(t, emitted, len(payloads), "hard stop should cut production short")
}

func TestTestSource_updateVersionRewindsCursor(t *testing.T) {
	t.Parallel()

	pool := bufferpool.New(64, 64*8)
	schema := buffer.Schema{Fields: []buffer.Field{{Name: "v", Type: buffer.Int8}}}
	ctrl := eventloop.NewAbortController()
	src := NewTestSource(pool, schema, [][]byte{{9}}, ctrl.Signal(), logging.Discard(), "q1", false)

	fut := src.Open(context.Background(), func(buffer.RecordBuffer) error { return nil })
	<-fut.Done()

	err := src.UpdateVersion(context.Background(), [][]byte{{1}, {2}})
	require.NoError(t, err)

	assert.Equal(t, 0, src.cursor)
	assert.Equal(t, [][]byte{{1}, {2}}, src.payloads)
	assert.Equal(t, Running, src.State())
}

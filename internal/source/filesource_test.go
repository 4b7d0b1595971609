package source

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nebulastream/worker-core/internal/buffer"
	"github.com/nebulastream/worker-core/internal/bufferpool"
	"github.com/nebulastream/worker-core/internal/eventloop"
	"github.com/nebulastream/worker-core/internal/ratelimit"
)

func TestFileSource_replaysLinesThenDrains(t *testing.T) {
	t.Parallel()

	f, err := os.CreateTemp(t.TempDir(), "filesource")
	require.NoError(t, err)
	_, err = f.WriteString("alpha\nbeta\ngamma\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	pool := bufferpool.New(64, 64*4)
	schema := buffer.Schema{Fields: []buffer.Field{{Name: "v", Type: buffer.VarSized}}}
	gate := ratelimit.NewGate(time.Second, 10)
	ctrl := eventloop.NewAbortController()
	src := NewFileSource(f.Name(), pool, schema, ctrl.Signal(), gate, false)

	var lines []string
	sig := make(chan struct{})
	emit := func(rb buffer.RecordBuffer) error {
		data := append([]byte(nil), rb.Bytes()...)
		n := 0
		for n < len(data) && data[n] != 0 {
			n++
		}
		lines = append(lines, string(data[:n]))
		rb.Release()
		if len(lines) == 3 {
			close(sig)
		}
		return nil
	}

	fut := src.Open(context.Background(), emit)
	<-fut.Done()
	_, err = fut.Result()
	require.NoError(t, err)

	select {
	case <-sig:
	case <-time.After(2 * time.Second):
		t.Fatal("file source did not emit all lines")
	}

	require.Eventually(t, func() bool { return src.State() == Closed }, time.Second, time.Millisecond)
	assert.Equal(t, []string{"alpha", "beta", "gamma"}, lines)
}

func TestFileSource_openMissingFileRejects(t *testing.T) {
	t.Parallel()

	pool := bufferpool.New(64, 64)
	schema := buffer.Schema{Fields: []buffer.Field{{Name: "v", Type: buffer.VarSized}}}
	gate := ratelimit.NewGate(time.Second, 10)
	ctrl := eventloop.NewAbortController()
	src := NewFileSource("/nonexistent/path/does-not-exist", pool, schema, ctrl.Signal(), gate, false)

	fut := src.Open(context.Background(), func(buffer.RecordBuffer) error { return nil })
	<-fut.Done()
	_, err := fut.Result()
	assert.Error(t, err)
	assert.Equal(t, Closed, src.State())
}

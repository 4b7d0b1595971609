package rpc

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/nebulastream/worker-core/internal/buffer"
	"github.com/nebulastream/worker-core/internal/bufferpool"
	"github.com/nebulastream/worker-core/internal/eventloop"
	"github.com/nebulastream/worker-core/internal/logging"
	"github.com/nebulastream/worker-core/internal/querymanager"
	"github.com/nebulastream/worker-core/internal/sink"
	"github.com/nebulastream/worker-core/internal/source"
)

func schemaOneByte() buffer.Schema {
	return buffer.Schema{Fields: []buffer.Field{{Name: "v", Type: buffer.Int8}}}
}

func testSourceFactory(payloads [][]byte, abort *eventloop.AbortController) SourceFactory {
	return func(descriptor any, pool *bufferpool.Pool, schema buffer.Schema, qctx QueryContext) (source.Source, error) {
		return source.NewTestSource(pool, schema, payloads, abort.Signal(), logging.Discard(), qctx.QueryID, qctx.EnableLeakTracking), nil
	}
}

func stdoutSinkFactory(buf *bytes.Buffer, abort *eventloop.AbortController) SinkFactory {
	return func(descriptor any, pool *bufferpool.Pool, schema buffer.Schema, qctx QueryContext) (sink.Sink, error) {
		return sink.NewStdoutSink(buf, abort.Signal()), nil
	}
}

func TestServer_registerStartStopRoundTrip(t *testing.T) {
	t.Parallel()

	m := querymanager.New(querymanager.WithWorkerThreads(2), querymanager.WithLogger(logging.Discard()))
	reg := NewRegistry()
	abort := eventloop.NewAbortController()
	var buf bytes.Buffer
	reg.Sources["test"] = testSourceFactory([][]byte{{1}, {2}}, abort)
	reg.Sinks["stdout"] = stdoutSinkFactory(&buf, abort)

	srv := NewServer(m, reg)

	plan := SerializedPlan{Nodes: []NodeDescriptor{
		{ID: "src", Kind: KindSource, TypeTag: "test", Schema: schemaOneByte(), Successors: []string{"snk"}},
		{ID: "snk", Kind: KindSink, TypeTag: "stdout"},
	}}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	require.NoError(t, srv.RegisterDecomposedQueryPlan(ctx, "q1", "d1", 1, plan))
	require.NoError(t, srv.StartQuery(ctx, "q1", "d1"))
	require.NoError(t, srv.StopQuery(ctx, "q1", "d1", Graceful))

	shCtx, shCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer shCancel()
	require.NoError(t, m.Shutdown(shCtx))
}

func TestServer_registerUnknownTypeTagReturnsInvalidArgument(t *testing.T) {
	t.Parallel()

	m := querymanager.New(querymanager.WithWorkerThreads(2), querymanager.WithLogger(logging.Discard()))
	reg := NewRegistry()
	srv := NewServer(m, reg)

	plan := SerializedPlan{Nodes: []NodeDescriptor{
		{ID: "src", Kind: KindSource, TypeTag: "unknown-kind"},
	}}

	err := srv.RegisterDecomposedQueryPlan(context.Background(), "q2", "d1", 1, plan)
	require.Error(t, err)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	shCtx, shCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer shCancel()
	require.NoError(t, m.Shutdown(shCtx))
}

func TestServer_startUnknownQueryReturnsNotFound(t *testing.T) {
	t.Parallel()

	m := querymanager.New(querymanager.WithWorkerThreads(2), querymanager.WithLogger(logging.Discard()))
	srv := NewServer(m, NewRegistry())

	err := srv.StartQuery(context.Background(), "missing", "d1")
	require.Error(t, err)
	assert.Equal(t, codes.NotFound, status.Code(err))

	shCtx, shCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer shCancel()
	require.NoError(t, m.Shutdown(shCtx))
}

func TestServer_injectReconfigurationMarkerResolvesOnceSinksSeeIt(t *testing.T) {
	t.Parallel()

	m := querymanager.New(querymanager.WithWorkerThreads(2), querymanager.WithLogger(logging.Discard()))
	reg := NewRegistry()
	abort := eventloop.NewAbortController()
	var buf bytes.Buffer
	reg.Sources["test"] = testSourceFactory([][]byte{{1}}, abort)
	reg.Sinks["stdout"] = stdoutSinkFactory(&buf, abort)
	srv := NewServer(m, reg)

	plan := SerializedPlan{Nodes: []NodeDescriptor{
		{ID: "src", Kind: KindSource, TypeTag: "test", Schema: schemaOneByte(), Successors: []string{"snk"}},
		{ID: "snk", Kind: KindSink, TypeTag: "stdout"},
	}}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, srv.RegisterDecomposedQueryPlan(ctx, "q3", "d1", 1, plan))
	require.NoError(t, srv.StartQuery(ctx, "q3", "d1"))

	fut, err := srv.InjectReconfigurationMarker(ctx, "q3", "d1", "epoch-metadata")
	require.NoError(t, err)

	select {
	case <-fut.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("reconfiguration marker future never resolved")
	}
	_, err = fut.Result()
	require.NoError(t, err)

	require.NoError(t, srv.StopQuery(ctx, "q3", "d1", Graceful))

	shCtx, shCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer shCancel()
	require.NoError(t, m.Shutdown(shCtx))
}

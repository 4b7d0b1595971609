package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nebulastream/worker-core/internal/buffer"
	"github.com/nebulastream/worker-core/internal/bufferpool"
)

func newRecordBuffer(t *testing.T, pool *bufferpool.Pool, payload byte) buffer.RecordBuffer {
	t.Helper()
	seg, ok := pool.Acquire()
	require.True(t, ok)
	seg.Bytes[0] = payload
	bcb := buffer.New(pool, seg, false)
	bcb.DataRetain()
	return buffer.Wrap(bcb, buffer.Schema{Fields: []buffer.Field{{Name: "v", Type: buffer.Int8}}})
}

func TestIdentityStage_emitsUnchanged(t *testing.T) {
	t.Parallel()

	pool := bufferpool.New(64, 64)
	var emitted []buffer.RecordBuffer
	ctx := NewContext("q", "d", func(rb buffer.RecordBuffer) { emitted = append(emitted, rb) })

	stg := NewIdentityStage()
	rb := newRecordBuffer(t, pool, 5)
	require.NoError(t, stg.Execute(ctx, rb))
	require.Len(t, emitted, 1)
	assert.Equal(t, byte(5), emitted[0].Bytes()[0])
	emitted[0].Release()
}

func TestMapStage_transformsAndPropagatesError(t *testing.T) {
	t.Parallel()

	pool := bufferpool.New(64, 64)
	var emitted []buffer.RecordBuffer
	ctx := NewContext("q", "d", func(rb buffer.RecordBuffer) { emitted = append(emitted, rb) })

	stg := NewMapStage(func(rb buffer.RecordBuffer) (buffer.RecordBuffer, error) {
		return rb, nil
	})
	rb := newRecordBuffer(t, pool, 9)
	require.NoError(t, stg.Execute(ctx, rb))
	require.Len(t, emitted, 1)
	emitted[0].Release()

	failing := NewMapStage(func(buffer.RecordBuffer) (buffer.RecordBuffer, error) {
		return buffer.RecordBuffer{}, assertErr
	})
	rb2 := newRecordBuffer(t, pool, 1)
	defer rb2.Release()
	assert.ErrorIs(t, failing.Execute(ctx, rb2), assertErr)
}

var assertErr = errStub("stage failure")

type errStub string

func (e errStub) Error() string { return string(e) }

func TestBaseStage_executeMarkerForwardsUnchanged(t *testing.T) {
	t.Parallel()

	var forwarded []Marker
	stg := IdentityStage{}
	mk := Marker{Kind: MarkerSoftEoS, Epoch: 3}
	err := stg.ExecuteMarker(nil, mk, func(m Marker) { forwarded = append(forwarded, m) })
	require.NoError(t, err)
	require.Len(t, forwarded, 1)
	assert.Equal(t, mk, forwarded[0])
}

func TestMergeStage_waitsForAllInputsBeforeForwarding(t *testing.T) {
	t.Parallel()

	s := NewMergeStage(3)
	var forwarded []Marker

	require.NoError(t, s.ExecuteMarker(nil, Marker{Kind: MarkerCustom, Epoch: 1}, func(m Marker) { forwarded = append(forwarded, m) }))
	assert.Empty(t, forwarded, "must not forward until every input edge has reported")

	require.NoError(t, s.ExecuteMarker(nil, Marker{Kind: MarkerCustom, Epoch: 1}, func(m Marker) { forwarded = append(forwarded, m) }))
	assert.Empty(t, forwarded)

	require.NoError(t, s.ExecuteMarker(nil, Marker{Kind: MarkerCustom, Epoch: 1}, func(m Marker) { forwarded = append(forwarded, m) }))
	require.Len(t, forwarded, 1, "third and final input edge triggers exactly one forward")
	assert.Equal(t, uint64(1), forwarded[0].Epoch)
}

func TestMergeStage_distinctEpochsTrackedIndependently(t *testing.T) {
	t.Parallel()

	s := NewMergeStage(2)
	var forwarded []Marker
	fwd := func(m Marker) { forwarded = append(forwarded, m) }

	require.NoError(t, s.ExecuteMarker(nil, Marker{Kind: MarkerCustom, Epoch: 1}, fwd))
	require.NoError(t, s.ExecuteMarker(nil, Marker{Kind: MarkerCustom, Epoch: 2}, fwd))
	assert.Empty(t, forwarded)

	require.NoError(t, s.ExecuteMarker(nil, Marker{Kind: MarkerCustom, Epoch: 1}, fwd))
	require.Len(t, forwarded, 1)
	assert.Equal(t, uint64(1), forwarded[0].Epoch)

	require.NoError(t, s.ExecuteMarker(nil, Marker{Kind: MarkerCustom, Epoch: 2}, fwd))
	require.Len(t, forwarded, 2)
	assert.Equal(t, uint64(2), forwarded[1].Epoch)
}

package buffer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nebulastream/worker-core/internal/bufferpool"
)

func TestRecordBuffer_metadataAccessorsRoundTrip(t *testing.T) {
	t.Parallel()

	pool := bufferpool.New(64, 64)
	b := newTestBCB(t, pool)
	b.DataRetain()
	rb := Wrap(b, Schema{Fields: []Field{{Name: "v", Type: Int32}}})
	defer rb.Release()

	rb.SetNumberOfTuples(3)
	rb.SetWatermark(100)
	rb.SetSequenceNumber(7)

	assert.Equal(t, uint64(3), rb.NumberOfTuples())
	assert.Equal(t, uint64(100), rb.Watermark())
	assert.Equal(t, uint64(7), rb.SequenceNumber())
	assert.WithinDuration(t, time.Now(), rb.CreationTimestamp(), time.Minute)
}

func TestRecordBuffer_tupleSlotAddressesFixedWidthRows(t *testing.T) {
	t.Parallel()

	pool := bufferpool.New(64, 64)
	b := newTestBCB(t, pool)
	b.DataRetain()
	schema := Schema{Fields: []Field{{Name: "a", Type: Int32}, {Name: "b", Type: Int32}}}
	rb := Wrap(b, schema)
	defer rb.Release()

	require.Equal(t, 8, schema.TupleSize())
	rb.Bytes()[8] = 9
	assert.Equal(t, byte(9), rb.TupleSlot(1)[0])
}

func TestRecordBuffer_varSizedRegisterAndDecodeRoundTrip(t *testing.T) {
	t.Parallel()

	pool := bufferpool.New(64, 64*2)
	b := newTestBCB(t, pool)
	b.DataRetain()
	schema := Schema{Fields: []Field{{Name: "s", Type: VarSized}}}
	rb := Wrap(b, schema)
	defer rb.Release()

	key, err := rb.RegisterVarSized(pool, []byte("hello world"))
	require.NoError(t, err)

	slot := rb.TupleSlot(0)
	EncodeChildKey(slot, key)
	gotKey := DecodeChildKey(slot)
	assert.Equal(t, key, gotKey)
	assert.Equal(t, []byte("hello world"), rb.VarSized(gotKey)[:len("hello world")])
}

func TestRecordBuffer_retainIncrementsSharedBCBCounter(t *testing.T) {
	t.Parallel()

	pool := bufferpool.New(64, 64)
	b := newTestBCB(t, pool)
	b.DataRetain()
	rb := Wrap(b, Schema{})

	rb2 := rb.Retain()
	rb.Release()
	assert.Equal(t, 1, pool.Outstanding()) // still held by rb2
	rb2.Release()
	assert.Equal(t, 0, pool.Outstanding())
}

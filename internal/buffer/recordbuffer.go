package buffer

import (
	"encoding/binary"
	"errors"
	"time"

	"github.com/nebulastream/worker-core/internal/bufferpool"
)

// RecordBuffer is a lightweight handle pairing a BCB with an accessor
// view over a typed Schema. It is cheap to copy; a plain struct copy
// does not touch the BCB counters, so callers must use Retain/Release
// to manage BCB lifetime explicitly (Go has no destructors).
type RecordBuffer struct {
	bcb    *BCB
	schema Schema
}

// Wrap constructs a RecordBuffer over an already-retained BCB. The
// caller transfers one data-retain's worth of ownership to the returned
// RecordBuffer.
func Wrap(bcb *BCB, schema Schema) RecordBuffer {
	return RecordBuffer{bcb: bcb, schema: schema}
}

// BCB returns the underlying control block.
func (r RecordBuffer) BCB() *BCB { return r.bcb }

// Schema returns the buffer's tuple schema.
func (r RecordBuffer) Schema() Schema { return r.schema }

// Retain returns a new handle sharing the same BCB, incrementing the
// data counter. Use PinnedRetain via RetainPinned when spill must be
// forbidden for the duration of the hold.
func (r RecordBuffer) Retain() RecordBuffer {
	r.bcb.DataRetain()
	return r
}

// RetainPinned returns a new handle that also holds a pinned reference,
// forbidding the BCB's segments from being spilled while held.
func (r RecordBuffer) RetainPinned() RecordBuffer {
	r.bcb.PinnedRetain()
	return r
}

// Release drops this handle's data-counter hold. Callers that obtained
// the handle via RetainPinned must call ReleasePinned instead.
func (r RecordBuffer) Release() { r.bcb.DataRelease() }

// ReleasePinned drops both the pinned and (transitively) data-counter
// holds taken by RetainPinned.
func (r RecordBuffer) ReleasePinned() { r.bcb.PinnedRelease() }

// NumberOfTuples returns the tuple count carried in the BCB metadata.
func (r RecordBuffer) NumberOfTuples() uint64 { return r.bcb.NumberOfTuples }

// SetNumberOfTuples sets the tuple count. Only valid while the caller
// holds a unique structural lock or otherwise has exclusive access
// (e.g. immediately after construction, before publishing the buffer).
func (r RecordBuffer) SetNumberOfTuples(n uint64) { r.bcb.NumberOfTuples = n }

// Watermark, SequenceNumber, ChunkNumber, LastChunk, OriginID, and
// CreationTimestamp mirror the corresponding BCB metadata fields.
func (r RecordBuffer) Watermark() uint64          { return r.bcb.Watermark }
func (r RecordBuffer) SetWatermark(w uint64)      { r.bcb.Watermark = w }
func (r RecordBuffer) SequenceNumber() uint64     { return r.bcb.SequenceNumber }
func (r RecordBuffer) SetSequenceNumber(n uint64) { r.bcb.SequenceNumber = n }
func (r RecordBuffer) ChunkNumber() uint64        { return r.bcb.ChunkNumber }
func (r RecordBuffer) LastChunk() bool            { return r.bcb.LastChunk }
func (r RecordBuffer) OriginID() uint64           { return r.bcb.OriginID }
func (r RecordBuffer) CreationTimestamp() time.Time {
	return r.bcb.CreationTimestamp
}

// Bytes returns the raw primary segment backing this buffer.
func (r RecordBuffer) Bytes() []byte {
	return r.bcb.MainSegment().Bytes
}

// TupleSlot returns the byte range of the i'th tuple's fixed-width slot.
func (r RecordBuffer) TupleSlot(i int) []byte {
	size := r.schema.TupleSize()
	return r.Bytes()[i*size : (i+1)*size]
}

// RegisterVarSized appends data as a new child segment (acquiring an
// unpooled segment sized to fit) and returns the ChildKey to encode into
// a tuple slot for a VarSized field.
func (r RecordBuffer) RegisterVarSized(pool *bufferpool.Pool, data []byte) (ChildKey, error) {
	seg, err := pool.AcquireUnpooled(len(data))
	if err != nil {
		return 0, err
	}
	copy(seg.Bytes, data)
	key, ok := r.bcb.RegisterChild(seg, false)
	if !ok {
		return 0, errors.New("buffer: child registration refused while repinning")
	}
	return key, nil
}

// VarSized returns the bytes referenced by a child key, as previously
// registered by RegisterVarSized.
func (r RecordBuffer) VarSized(key ChildKey) []byte {
	return r.bcb.Child(key).Bytes
}

// EncodeChildKey writes key into a fixed-width VarSized tuple slot.
func EncodeChildKey(slot []byte, key ChildKey) {
	binary.LittleEndian.PutUint64(slot, uint64(key))
}

// DecodeChildKey reads a ChildKey previously written by EncodeChildKey.
func DecodeChildKey(slot []byte) ChildKey {
	return ChildKey(binary.LittleEndian.Uint64(slot))
}

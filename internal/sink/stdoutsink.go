package sink

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/nebulastream/worker-core/internal/buffer"
	"github.com/nebulastream/worker-core/internal/eventloop"
)

// StdoutSink writes each buffer's tuple count and raw bytes to w,
// mirroring spec §2's "stdout" collaborator.
type StdoutSink struct {
	*Base
	mu sync.Mutex
	w  io.Writer
}

func NewStdoutSink(w io.Writer, signal *eventloop.AbortSignal) *StdoutSink {
	return &StdoutSink{Base: NewBase(signal), w: w}
}

func (s *StdoutSink) Open(ctx context.Context) *eventloop.Future[struct{}] {
	fut, resolve, _ := eventloop.NewFuture[struct{}]()
	s.TryTransition(Created, Opening)
	s.TryTransition(Opening, Running)
	resolve(struct{}{})
	return fut
}

func (s *StdoutSink) Consume(ctx context.Context, rb buffer.RecordBuffer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := fmt.Fprintf(s.w, "seq=%d tuples=%d bytes=%x\n", rb.SequenceNumber(), rb.NumberOfTuples(), rb.Bytes())
	return err
}

func (s *StdoutSink) Drain(ctx context.Context, kind EoSKind) error {
	switch kind {
	case SoftEoS:
		s.TryTransition(Running, Draining)
		s.TryTransition(Draining, Closed)
	default:
		for {
			cur := s.State()
			if cur == Closed {
				return nil
			}
			if s.TryTransition(cur, Closed) {
				return nil
			}
		}
	}
	return nil
}

func (s *StdoutSink) UpdateVersion(ctx context.Context, descriptor any) error {
	return nil
}

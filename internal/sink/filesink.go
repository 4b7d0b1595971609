package sink

import (
	"context"
	"os"
	"sync"

	"github.com/nebulastream/worker-core/internal/buffer"
	"github.com/nebulastream/worker-core/internal/eventloop"
)

// FileSink appends each buffer's raw bytes to a local file.
type FileSink struct {
	*Base
	path string
	mu   sync.Mutex
	f    *os.File
}

func NewFileSink(path string, signal *eventloop.AbortSignal) *FileSink {
	return &FileSink{Base: NewBase(signal), path: path}
}

func (s *FileSink) Open(ctx context.Context) *eventloop.Future[struct{}] {
	fut, resolve, reject := eventloop.NewFuture[struct{}]()
	if !s.TryTransition(Created, Opening) {
		resolve(struct{}{})
		return fut
	}
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		s.TryTransition(Opening, Closed)
		reject(err)
		return fut
	}
	s.mu.Lock()
	s.f = f
	s.mu.Unlock()
	s.TryTransition(Opening, Running)
	resolve(struct{}{})
	return fut
}

func (s *FileSink) Consume(ctx context.Context, rb buffer.RecordBuffer) error {
	s.mu.Lock()
	f := s.f
	s.mu.Unlock()
	_, err := f.Write(rb.Bytes())
	return err
}

func (s *FileSink) Drain(ctx context.Context, kind EoSKind) error {
	s.mu.Lock()
	f := s.f
	s.mu.Unlock()

	switch kind {
	case SoftEoS:
		s.TryTransition(Running, Draining)
		err := f.Sync()
		f.Close()
		s.TryTransition(Draining, Closed)
		return err
	default:
		f.Close()
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
}

func (s *FileSink) UpdateVersion(ctx context.Context, descriptor any) error {
	path, ok := descriptor.(string)
	if !ok {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f != nil {
		s.f.Close()
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	s.f = f
	s.path = path
	return nil
}

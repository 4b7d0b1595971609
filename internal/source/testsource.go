package source

import (
	"context"
	"sync"

	"github.com/nebulastream/worker-core/internal/buffer"
	"github.com/nebulastream/worker-core/internal/bufferpool"
	"github.com/nebulastream/worker-core/internal/eventloop"
	"github.com/nebulastream/worker-core/internal/logging"
)

// TestSource is an in-memory fixture source used by the S1-S6 seed
// scenarios of spec §8: it replays a fixed slice of tuple payloads as
// record buffers, then emits EoS.
//
// Guarantee documented per spec §9's Open Question on exactly-once
// semantics: TestSource delivers each configured payload at-least-once;
// it performs no transactional bookkeeping and, like the ODBC adapter's
// "top N" re-issue strategy discussed in the original source, may
// redeliver a payload if UpdateVersion rewinds it mid-stream.
type TestSource struct {
	*Base

	pool    *bufferpool.Pool
	schema  buffer.Schema
	log     *logging.Logger
	queryID string

	enableLeakTracking bool

	mu       sync.Mutex
	payloads [][]byte
	cursor   int
	emit     Emit
}

// NewTestSource constructs a TestSource that will replay payloads in
// order, one per buffer, each buffer carrying exactly one tuple whose
// fixed-width slot is the payload bytes.
func NewTestSource(pool *bufferpool.Pool, schema buffer.Schema, payloads [][]byte, signal *eventloop.AbortSignal, log *logging.Logger, queryID string, enableLeakTracking bool) *TestSource {
	return &TestSource{
		Base:               NewBase(signal),
		pool:               pool,
		schema:             schema,
		payloads:           payloads,
		log:                log,
		queryID:            queryID,
		enableLeakTracking: enableLeakTracking,
	}
}

// Open transitions Created -> Opening -> Running and begins producing
// on a background goroutine. The returned future settles once Opening
// completes (instantly for this in-memory fixture; a real network or
// file source would resolve it once its handshake finished).
func (s *TestSource) Open(ctx context.Context, emit Emit) *eventloop.Future[struct{}] {
	fut, resolve, _ := eventloop.NewFuture[struct{}]()
	if !s.TryTransition(Created, Opening) {
		resolve(struct{}{})
		return fut
	}
	s.mu.Lock()
	s.emit = emit
	s.mu.Unlock()

	if !s.TryTransition(Opening, Running) {
		resolve(struct{}{})
		return fut
	}
	resolve(struct{}{})

	go s.run(ctx)
	return fut
}

func (s *TestSource) run(ctx context.Context) {
	defer func() {
		s.TryTransition(Draining, Closed)
	}()

	for {
		if s.State() != Running {
			return
		}
		if s.Aborted() {
			s.TryTransition(Running, Closed)
			return
		}

		s.mu.Lock()
		if s.cursor >= len(s.payloads) {
			s.mu.Unlock()
			s.TryTransition(Running, Draining)
			return
		}
		payload := s.payloads[s.cursor]
		s.cursor++
		emit := s.emit
		s.mu.Unlock()

		rb, err := s.makeBuffer(payload)
		if err != nil {
			logging.WithFields(s.log, s.queryID, "", "testsource").Err(err).Log("buffer acquisition failed")
			s.Stop(CloseFailure, err)
			return
		}
		if err := emit(rb); err != nil {
			s.Stop(CloseFailure, err)
			return
		}

		select {
		case <-ctx.Done():
			s.Stop(CloseHardStop, ctx.Err())
			return
		default:
		}
	}
}

func (s *TestSource) makeBuffer(payload []byte) (buffer.RecordBuffer, error) {
	seg, ok := s.pool.Acquire()
	if !ok {
		return buffer.RecordBuffer{}, context.DeadlineExceeded
	}
	n := copy(seg.Bytes, payload)
	_ = n
	bcb := buffer.New(s.pool, seg, s.enableLeakTracking)
	bcb.DataRetain()
	bcb.SequenceNumber = uint64(s.cursor)
	rb := buffer.Wrap(bcb, s.schema)
	rb.SetNumberOfTuples(1)
	return rb, nil
}

// Stop requests termination. Hard/Failure transitions skip
// Draining; Graceful lets the run loop's own end-of-payloads detection
// drive Draining -> Closed.
func (s *TestSource) Stop(reason CloseReason, cause error) {
	switch reason {
	case CloseGraceful:
		s.TryTransition(Running, Draining)
	default:
		for {
			cur := s.State()
			if cur == Closed {
				return
			}
			if s.TryTransition(cur, Closed) {
				return
			}
		}
	}
}

// UpdateVersion tears down and resets the replay cursor to 0, simulating
// a rebind against new payloads. In-flight
// buffers produced under the old version keep their already-assigned
// sequence numbers.
func (s *TestSource) UpdateVersion(ctx context.Context, descriptor any) error {
	if payloads, ok := descriptor.([][]byte); ok {
		s.TryTransition(Running, Opening)
		s.mu.Lock()
		s.payloads = payloads
		s.cursor = 0
		s.mu.Unlock()
		s.TryTransition(Opening, Running)
	}
	return nil
}

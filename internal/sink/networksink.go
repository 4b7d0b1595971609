package sink

import (
	"context"
	"sync"

	"github.com/nebulastream/worker-core/internal/buffer"
	"github.com/nebulastream/worker-core/internal/eventloop"
	"github.com/nebulastream/worker-core/internal/ratelimit"
)

// Endpoint models the opaque descriptor of a network peer a NetworkSink
// pushes buffers to. In this worker-core, the wire transport is out of
// scope; Endpoint only carries the identity the sink rebinds
// against.
type Endpoint struct {
	Address string
}

// NetworkConn is the collaborator a NetworkSink pushes buffers through.
// A real implementation would wrap a connection to the coordinator's
// RPC transport (out of scope per §1); tests substitute a fake.
type NetworkConn interface {
	Connect(ctx context.Context, ep Endpoint) error
	Send(ctx context.Context, data []byte) error
	// TryAcceptsMore reports whether the peer is currently willing to
	// accept more data (§4.5 "Backpressure" flow-control signal).
	TryAcceptsMore() bool
	Flush(ctx context.Context) error
	Close() error
}

// NetworkSink pushes buffers to a remote peer, identified by Endpoint,
// and supports live re-pointing via UpdateVersion (spec S5: "sink drains
// residual data to X, rebinds to Y, continues receiving subsequent
// source buffers at Y. Status stays Running throughout").
type NetworkSink struct {
	*Base

	mu       sync.Mutex
	conn     NetworkConn
	endpoint Endpoint
	gate     *ratelimit.Gate
}

// connectRetryAttempts bounds how many times a handshake is retried
// against the gate before giving up (§9 supplement #3, grounded on
// NetworkSource.cpp's backoff-before-fail reconnect handshake).
const connectRetryAttempts = 5

// NewNetworkSink constructs a NetworkSink targeting endpoint via conn,
// gated against reconnect storms by gate.
func NewNetworkSink(conn NetworkConn, endpoint Endpoint, signal *eventloop.AbortSignal, gate *ratelimit.Gate) *NetworkSink {
	return &NetworkSink{Base: NewBase(signal), conn: conn, endpoint: endpoint, gate: gate}
}

func (s *NetworkSink) Open(ctx context.Context) *eventloop.Future[struct{}] {
	fut, resolve, reject := eventloop.NewFuture[struct{}]()
	if !s.TryTransition(Created, Opening) {
		resolve(struct{}{})
		return fut
	}
	go func() {
		s.mu.Lock()
		conn, ep := s.conn, s.endpoint
		s.mu.Unlock()
		err := s.gate.Retry(ctx, ep.Address, connectRetryAttempts, func() error {
			return conn.Connect(ctx, ep)
		})
		if err != nil {
			s.TryTransition(Opening, Closed)
			reject(err)
			return
		}
		s.TryTransition(Opening, Running)
		resolve(struct{}{})
	}()
	return fut
}

func (s *NetworkSink) Consume(ctx context.Context, rb buffer.RecordBuffer) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()

	if !conn.TryAcceptsMore() {
		return ErrRetryLater
	}
	return conn.Send(ctx, rb.Bytes())
}

func (s *NetworkSink) Drain(ctx context.Context, kind EoSKind) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()

	switch kind {
	case SoftEoS:
		s.TryTransition(Running, Draining)
		err := conn.Flush(ctx)
		conn.Close()
		s.TryTransition(Draining, Closed)
		return err
	default:
		conn.Close()
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

// UpdateVersion drains residual buffered data to the current endpoint,
// then rebinds to the new one (S5). It never changes the sink's
// lifecycle state; the sink stays Running throughout, per spec.
func (s *NetworkSink) UpdateVersion(ctx context.Context, descriptor any) error {
	newEndpoint, ok := descriptor.(Endpoint)
	if !ok {
		return nil
	}

	s.mu.Lock()
	oldConn := s.conn
	s.mu.Unlock()

	if err := oldConn.Flush(ctx); err != nil {
		return err
	}
	if err := oldConn.Close(); err != nil {
		return err
	}

	if err := s.gate.Retry(ctx, newEndpoint.Address, connectRetryAttempts, func() error {
		return oldConn.Connect(ctx, newEndpoint)
	}); err != nil {
		return err
	}

	s.mu.Lock()
	s.endpoint = newEndpoint
	s.mu.Unlock()
	return nil
}

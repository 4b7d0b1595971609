// Package sink implements the Sink state machine and backpressure
// contract.
package sink

import (
	"context"
	"sync/atomic"

	"github.com/nebulastream/worker-core/internal/buffer"
	"github.com/nebulastream/worker-core/internal/eventloop"
)

// State mirrors source.State; sinks share the same lifecycle shape
//.
type State int32

const (
	Created State = iota
	Opening
	Running
	Draining
	Closed
)

func (s State) String() string {
	switch s {
	case Created:
		return "Created"
	case Opening:
		return "Opening"
	case Running:
		return "Running"
	case Draining:
		return "Draining"
	case Closed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// EoSKind classifies the drain request delivered to a sink.
type EoSKind int

const (
	SoftEoS EoSKind = iota
	HardEoS
	FailEoS
)

// ErrRetryLater is returned by Consume when the external endpoint cannot
// currently accept data; the Query Manager re-enqueues the task after
// sinkRetryDelay.
var ErrRetryLater = retryLaterError{}

type retryLaterError struct{}

func (retryLaterError) Error() string { return "sink: retry later" }

// Sink consumes record buffers and pushes them to an external endpoint.
type Sink interface {
	Open(ctx context.Context) *eventloop.Future[struct{}]

	// Consume emits one buffer. Returning ErrRetryLater is not a failure;
	// the Query Manager will retry after a bounded delay.
	Consume(ctx context.Context, rb buffer.RecordBuffer) error

	// Drain handles an EoS. SoftEoS flushes and waits for endpoint
	// acknowledgement before Closed; Hard/FailEoS release immediately,
	// discarding any pending data.
	Drain(ctx context.Context, kind EoSKind) error

	// UpdateVersion rebinds to a new endpoint descriptor, draining
	// residual data to the old endpoint first (§4.4 S5 scenario).
	UpdateVersion(ctx context.Context, descriptor any) error
}

// Base provides the shared atomic state machine for Sink
// implementations, the same CAS idiom as source.Base.
type Base struct {
	state  atomic.Int32
	signal *eventloop.AbortSignal
}

func NewBase(signal *eventloop.AbortSignal) *Base {
	b := &Base{signal: signal}
	b.state.Store(int32(Created))
	return b
}

func (b *Base) State() State { return State(b.state.Load()) }

func (b *Base) TryTransition(from, to State) bool {
	return b.state.CompareAndSwap(int32(from), int32(to))
}

func (b *Base) Signal() *eventloop.AbortSignal { return b.signal }

func (b *Base) Aborted() bool { return b.signal != nil && b.signal.Aborted() }

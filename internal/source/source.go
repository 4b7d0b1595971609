// Package source implements the Source state machine:
// Created → Opening → Running → Draining → Closed, with failure
// possible at any point.
package source

import (
	"context"
	"sync/atomic"

	"github.com/nebulastream/worker-core/internal/buffer"
	"github.com/nebulastream/worker-core/internal/eventloop"
)

// State is one node of the source lifecycle.
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

// CloseReason classifies why a source reached Closed (§4.3 EoS
// semantics).
type CloseReason int

const (
	CloseGraceful CloseReason = iota
	CloseHardStop
	CloseFailure
)

// Emit is the callback a Source uses to hand a produced buffer to the
// scheduler. Implementations must treat it as a blocking call that may
// apply admission-control backpressure (§6 perQueryBufferQuota); it must
// never be called from more than one goroutine at a time for the same
// Source.
type Emit func(buffer.RecordBuffer) error

// Source produces record buffers from an external input. One instance
// belongs to exactly one query.
type Source interface {
	// Open begins the external handshake. It may return before the
	// handshake completes; Source must report completion via the
	// returned Future settling, so long handshakes do not block a
	// worker thread.
	Open(ctx context.Context, emit Emit) *eventloop.Future[struct{}]

	// Stop requests termination with the given reason. Graceful allows
	// in-flight production to drain; HardStop/Failure must stop
	// promptly once the current Emit call (if any) returns.
	Stop(reason CloseReason, cause error)

	// UpdateVersion tears down the current external binding and rebinds
	// using the new descriptor, per §4.3 "Version update".
	UpdateVersion(ctx context.Context, descriptor any) error
}

// Base provides the atomic state machine shared by all Source
// implementations, mirroring the teacher's FastState CAS pattern
// (eventloop/state.go) generalized from the loop's 5-state machine to
// this component's Created/Opening/Running/Draining/Closed states.
type Base struct {
	state  atomic.Int32
	signal *eventloop.AbortSignal
}

// NewBase constructs a Base in the Created state, bound to signal for
// Hard-stop/shutdown cancellation.
func NewBase(signal *eventloop.AbortSignal) *Base {
	b := &Base{signal: signal}
	b.state.Store(int32(Created))
	return b
}

// State returns the current lifecycle state.
func (b *Base) State() State { return State(b.state.Load()) }

// TryTransition attempts a CAS from `from` to `to`, mirroring
// FastState.TryTransition.
func (b *Base) TryTransition(from, to State) bool {
	return b.state.CompareAndSwap(int32(from), int32(to))
}

// Signal returns the abort signal this source should poll at task
// boundaries while Running.
func (b *Base) Signal() *eventloop.AbortSignal { return b.signal }

// Aborted is a convenience wrapper over Signal().Aborted().
func (b *Base) Aborted() bool { return b.signal != nil && b.signal.Aborted() }

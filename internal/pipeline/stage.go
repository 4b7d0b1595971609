// Package pipeline implements the Pipeline Stage abstraction (spec
// §4.4): opaque compiled units of computation taking one input buffer
// and emitting zero or more output buffers.
package pipeline

import (
	"github.com/nebulastream/worker-core/internal/buffer"
)

// ConcurrencyMode declares how the Query Manager may schedule a
// stateful stage's execute calls.
type ConcurrencyMode int

const (
	// SingleThreaded: at most one thread executes this stage for this
	// query at a time.
	SingleThreaded ConcurrencyMode = iota
	// Partitioned: buffers with the same partition key route to the same
	// worker thread.
	Partitioned
	// Shared: internal state is safe for concurrent access; any number
	// of concurrent execute calls may be dispatched.
	Shared
)

// Context is the execution context passed to Stage methods, through
// which stages allocate per-stage state and emit output buffers
//.
type Context struct {
	// QueryID and DecomposedID identify the owning IQP.
	QueryID      string
	DecomposedID string

	// state holds the stage's per-query allocated state, set by Setup
	// and available to Execute/Teardown via State/SetState.
	state any

	// emit receives buffers produced by Execute/Teardown and hands them
	// to the scheduler as successor tasks.
	emit func(buffer.RecordBuffer)
}

// NewContext constructs a Context wired to the given emit callback.
func NewContext(queryID, decomposedID string, emit func(buffer.RecordBuffer)) *Context {
	return &Context{QueryID: queryID, DecomposedID: decomposedID, emit: emit}
}

// State returns the stage-private state installed by Setup.
func (c *Context) State() any { return c.state }

// SetState installs stage-private state, normally called once from
// Setup.
func (c *Context) SetState(s any) { c.state = s }

// Emit hands a produced buffer to the execution context, which enqueues
// it as a successor task (§4.4 "Emissions are handed to the execution
// context").
func (c *Context) Emit(rb buffer.RecordBuffer) {
	c.emit(rb)
}

// Marker is a Reconfiguration Marker flowing in-band through Execute
//: an in-band control record identifying a drain or version
// update, carried alongside data rather than through a side channel.
type Marker struct {
	Kind     MarkerKind
	Epoch    uint64
	Metadata any
}

type MarkerKind int

const (
	MarkerSoftEoS MarkerKind = iota
	MarkerHardEoS
	MarkerFailEoS
	MarkerUpdateVersion
	MarkerCustom
)

// Stage is the contract every compiled pipeline operator implements
//.
type Stage interface {
	// Setup is called exactly once per query before any buffer is
	// processed.
	Setup(ctx *Context) error

	// Execute transforms one input buffer synchronously. It must call
	// ctx.Emit zero or more times.
	Execute(ctx *Context, rb buffer.RecordBuffer) error

	// ExecuteMarker delivers a reconfiguration marker. Implementations
	// must perform any local drain (e.g. flush a windowed aggregate on
	// MarkerSoftEoS) and then forward the marker downstream by calling
	// forward.
	ExecuteMarker(ctx *Context, m Marker, forward func(Marker)) error

	// Teardown is called exactly once after the final buffer of the
	// query has been processed. Graceful shutdown may emit final
	// buffers here (e.g. final window closes).
	Teardown(ctx *Context) error

	// Concurrency declares this stage's scheduling contract.
	Concurrency() ConcurrencyMode

	// PartitionKey extracts the routing key for a buffer, used only
	// when Concurrency() == Partitioned.
	PartitionKey(rb buffer.RecordBuffer) string
}

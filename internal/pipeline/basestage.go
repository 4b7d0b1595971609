package pipeline

import "github.com/nebulastream/worker-core/internal/buffer"

// BaseStage provides no-op defaults for Setup/Teardown/PartitionKey and
// the straightforward "forward immediately" marker policy used by every
// single-input stage (identity, map). Stages with real per-key state
// embed BaseStage and override what they need.
type BaseStage struct {
	Mode ConcurrencyMode
}

func (BaseStage) Setup(ctx *Context) error    { return nil }
func (BaseStage) Teardown(ctx *Context) error { return nil }
func (BaseStage) PartitionKey(buffer.RecordBuffer) string { return "" }

func (b BaseStage) Concurrency() ConcurrencyMode { return b.Mode }

// ExecuteMarker forwards the marker downstream unchanged, which is
// correct for any stage with no buffered per-key state to flush and no
// multiple-input merge semantics.
func (BaseStage) ExecuteMarker(ctx *Context, m Marker, forward func(Marker)) error {
	forward(m)
	return nil
}

// IdentityStage passes every buffer through unchanged, used by the S1,
// S2, and S4 seed scenarios.
type IdentityStage struct {
	BaseStage
}

func NewIdentityStage() *IdentityStage {
	return &IdentityStage{BaseStage: BaseStage{Mode: Shared}}
}

func (s *IdentityStage) Execute(ctx *Context, rb buffer.RecordBuffer) error {
	ctx.Emit(rb)
	return nil
}

// MapStage applies a pure transform function to each buffer; Fn must be
// idempotent and side-effect-free per §4.4's definition of a stateless
// stage ("any schedule interleaving yields identical output").
type MapStage struct {
	BaseStage
	Fn func(buffer.RecordBuffer) (buffer.RecordBuffer, error)
}

func NewMapStage(fn func(buffer.RecordBuffer) (buffer.RecordBuffer, error)) *MapStage {
	return &MapStage{BaseStage: BaseStage{Mode: Shared}, Fn: fn}
}

func (s *MapStage) Execute(ctx *Context, rb buffer.RecordBuffer) error {
	out, err := s.Fn(rb)
	if err != nil {
		return err
	}
	ctx.Emit(out)
	return nil
}

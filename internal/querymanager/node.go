package querymanager

import (
	"sync"

	"github.com/nebulastream/worker-core/internal/pipeline"
	"github.com/nebulastream/worker-core/internal/sink"
	"github.com/nebulastream/worker-core/internal/source"
)

type nodeKind int

const (
	nodeSource nodeKind = iota
	nodeStage
	nodeSink
)

// node is a flat, non-owning slab entry representing one source, stage,
// or sink within an IQP's DAG (spec §9 "Cyclic references": "Represent
// these via indices into a flat slab of components owned by the Query
// Manager; hold only non-owning handles across edges").
type node struct {
	id   string
	kind nodeKind

	src  source.Source
	stg  pipeline.Stage
	snk  sink.Sink

	successors []*node
	pctx       *pipeline.Context

	// mu serializes execution for SingleThreaded stages; acquired via
	// TryLock with requeue-on-contention per §5.
	mu sync.Mutex

	// partitionLocks serializes execution per partition key for
	// Partitioned stages.
	partitionLocks sync.Map // string -> *sync.Mutex
}

func (n *node) partitionLock(key string) *sync.Mutex {
	v, _ := n.partitionLocks.LoadOrStore(key, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// NodeSpec is the caller-facing description of one DAG node, used to
// build an IQP via Manager.Deploy.
type NodeSpec struct {
	ID         string
	Source     source.Source
	Stage      pipeline.Stage
	Sink       sink.Sink
	Successors []string // IDs of downstream nodes (empty for sinks)
}

package querymanager

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/nebulastream/worker-core/internal/eventloop"
)

// iqp is the Instantiated Query Plan: a set of source handles,
// a DAG of pipeline stage handles, a set of sink handles, the assigned
// query identifier, the decomposed-plan identifier, and a version
// number, owned by the Query Manager for the query's lifetime.
type iqp struct {
	queryID      string
	decomposedID string
	version      uint64

	nodes   map[string]*node
	sources []*node
	sinks   []*node

	status atomic.Int32 // QueryStatus

	abort  *eventloop.AbortController
	ctx    context.Context
	cancel context.CancelFunc

	// outstanding tracks buffers produced by any source but not yet
	// consumed by every downstream sink, or dropped under Hard/Fail
	//.
	outstanding atomic.Int64

	// sourcesClosed counts sources that have reached source.Closed.
	sourcesClosed atomic.Int32
	totalSources  int32

	// admission gates producer concurrency at perQueryBufferQuota.
	admission chan struct{}

	markerEpoch atomic.Uint64

	mu          sync.Mutex
	initPending map[string]struct{} // node ids awaiting Initialize ack
	terminated  bool                // true once fail() or an init failure occurred
	failReason  string
	finalized   bool // true once the terminal status event has been delivered

	// initDone resolves once every node has acked Initialize, or rejects
	// if any node's Initialize failed; start() awaits it.
	initDone        *eventloop.Future[struct{}]
	resolveInitDone func(struct{})
	rejectInitDone  func(error)

	// pendingMarkerSinks/markerResolve track an in-flight reconfigure()
	// marker: the count of sinks still to see the current epoch, and the
	// resolver for the caller's returned future.
	pendingMarkerSinks int
	markerResolve      func(struct{})
}

func newIQP(queryID, decomposedID string, version uint64, quota uint) *iqp {
	ctx, cancel := context.WithCancel(context.Background())
	q := &iqp{
		queryID:      queryID,
		decomposedID: decomposedID,
		version:      version,
		nodes:        make(map[string]*node),
		abort:        eventloop.NewAbortController(),
		ctx:          ctx,
		cancel:       cancel,
		admission:    make(chan struct{}, quota),
		initPending:  make(map[string]struct{}),
	}
	q.status.Store(int32(StatusRegistered))
	q.abort.Signal().OnAbort(func(any) { cancel() })
	q.initDone, q.resolveInitDone, q.rejectInitDone = eventloop.NewFuture[struct{}]()
	return q
}

func (q *iqp) Status() QueryStatus { return QueryStatus(q.status.Load()) }

func (q *iqp) setStatus(s QueryStatus) { q.status.Store(int32(s)) }

// key uniquely identifies an IQP within the Manager's table.
func (q *iqp) key() string { return q.queryID + "/" + q.decomposedID }

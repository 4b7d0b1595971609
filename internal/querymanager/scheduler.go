package querymanager

import (
	"github.com/nebulastream/worker-core/internal/buffer"
	"github.com/nebulastream/worker-core/internal/errs"
	"github.com/nebulastream/worker-core/internal/eventloop"
	"github.com/nebulastream/worker-core/internal/pipeline"
	"github.com/nebulastream/worker-core/internal/sink"
	"github.com/nebulastream/worker-core/internal/source"
)

func (m *Manager) submit(t task) { m.taskCh <- t }

// workerLoop is one of the Manager's fixed pool of worker goroutines
//. It has no per-query affinity: any worker may execute any
// task for any query, consistent with spec §5's "no work stealing per
// query" (there is nothing to steal from — one shared queue already).
func (m *Manager) workerLoop() {
	defer m.wg.Done()
	for {
		select {
		case <-m.stopCh:
			return
		case t := <-m.taskCh:
			m.execute(t)
		}
	}
}

func (m *Manager) execute(t task) {
	switch t.kind {
	case taskReconfig:
		m.execReconfig(t)
	case taskData:
		if t.q.abort.Signal().Aborted() {
			m.dropData(t)
			return
		}
		m.execData(t)
	case taskSink:
		if t.q.abort.Signal().Aborted() {
			m.dropData(t)
			return
		}
		m.execSink(t)
	}
}

// dropData discards an in-flight data/sink task under a Hard or Fail
// termination (§4.3 "Hard/FailEoS release immediately, discarding any
// pending data"), still retiring the outstanding-count and admission
// token it holds so termination detection and backpressure stay
// consistent.
func (m *Manager) dropData(t task) {
	t.rb.Release()
	m.releaseAdmission(t)
	t.q.outstanding.Add(-1)
	m.checkTermination(t.q)
}

func (m *Manager) releaseAdmission(t task) {
	if t.admissionHeld {
		t.q.admission <- struct{}{}
	}
}

// execData runs one pipeline stage's Execute for one input buffer,
// honoring the stage's declared concurrency contract via try-lock with
// requeue-on-contention: a SingleThreaded or Partitioned stage
// that is currently busy does not block the calling worker, it simply
// re-enqueues the task for another worker to pick up later.
func (m *Manager) execData(t task) {
	n := t.n
	stg := n.stg

	switch stg.Concurrency() {
	case pipeline.SingleThreaded:
		if !n.mu.TryLock() {
			m.submit(t)
			return
		}
		defer n.mu.Unlock()
	case pipeline.Partitioned:
		lk := n.partitionLock(stg.PartitionKey(t.rb))
		if !lk.TryLock() {
			m.submit(t)
			return
		}
		defer lk.Unlock()
	}

	err := stg.Execute(n.pctx, t.rb)
	t.rb.Release()
	m.releaseAdmission(t)
	t.q.outstanding.Add(-1)

	if err != nil {
		m.failInternal(t.q, err.Error())
		return
	}
	m.checkTermination(t.q)
}

// execSink runs one sink's Consume. ErrRetryLater re-enqueues the task
// after sinkRetryDelay via the Manager's TimerHeap rather than blocking
// a worker thread on a sleep.
func (m *Manager) execSink(t task) {
	n := t.n
	err := n.snk.Consume(t.q.ctx, t.rb)
	if err == sink.ErrRetryLater {
		m.timers.Schedule(m.cfg.SinkRetryDelay, func() { m.submit(t) })
		return
	}

	t.rb.Release()
	m.releaseAdmission(t)
	t.q.outstanding.Add(-1)

	if err != nil {
		m.failInternal(t.q, err.Error())
		return
	}
	m.checkTermination(t.q)
}

// sourceEmit is the Emit callback bound to a source: it applies
// the per-query admission-control quota (blocking the producing source
// when the IQP's in-flight buffer count is already at
// perQueryBufferQuota) and then fans the buffer out to the source
// node's successors.
func (m *Manager) sourceEmit(q *iqp, n *node, rb buffer.RecordBuffer) error {
	select {
	case <-q.admission:
	case <-q.ctx.Done():
		rb.Release()
		return errs.ErrClosed
	}
	m.routeEmit(q, n, rb, true)
	return nil
}

// routeEmit fans a buffer produced by from out to every successor,
// enqueuing one task per edge. heldToken marks that the caller already
// acquired one admission-control token for this emission; it is
// attached to exactly one successor task and returned to the IQP's
// admission channel when that task completes.
func (m *Manager) routeEmit(q *iqp, from *node, rb buffer.RecordBuffer, heldToken bool) {
	succs := from.successors
	if len(succs) == 0 {
		if heldToken {
			q.admission <- struct{}{}
		}
		rb.Release()
		return
	}

	for i, succ := range succs {
		buf := rb
		if i < len(succs)-1 {
			buf = rb.Retain()
		}
		q.outstanding.Add(1)

		kind := taskData
		if succ.kind == nodeSink {
			kind = taskSink
		}
		m.submit(task{kind: kind, q: q, n: succ, rb: buf, admissionHeld: heldToken && i == 0})
	}
}

func (m *Manager) execReconfig(t task) {
	q, n, msg := t.q, t.n, t.msg

	switch msg.kind {
	case reconfigInitialize:
		switch n.kind {
		case nodeSource:
			fut := n.src.Open(q.ctx, func(rb buffer.RecordBuffer) error {
				return m.sourceEmit(q, n, rb)
			})
			go m.awaitInit(q, n.id, fut)
		case nodeSink:
			fut := n.snk.Open(q.ctx)
			go m.awaitInit(q, n.id, fut)
		case nodeStage:
			m.ackInit(q, n.id, n.stg.Setup(n.pctx))
		}

	case reconfigSoftEoS, reconfigHardEoS, reconfigFailEoS:
		if n.kind != nodeSource {
			return
		}
		reason := source.CloseGraceful
		markerKind := pipeline.MarkerSoftEoS
		switch msg.kind {
		case reconfigHardEoS:
			reason, markerKind = source.CloseHardStop, pipeline.MarkerHardEoS
		case reconfigFailEoS:
			reason, markerKind = source.CloseFailure, pipeline.MarkerFailEoS
		}
		n.src.Stop(reason, msg.cause)
		q.sourcesClosed.Add(1)
		m.forwardMarker(q, n, pipeline.Marker{Kind: markerKind})
		m.checkTermination(q)

	case reconfigMarker:
		if n.kind != nodeSource {
			return
		}
		m.forwardMarker(q, n, pipeline.Marker{Kind: pipeline.MarkerCustom, Epoch: msg.epoch, Metadata: msg.descriptor})

	case reconfigUpdateVersion:
		switch n.kind {
		case nodeSource:
			go func() {
				if err := n.src.UpdateVersion(q.ctx, msg.descriptor); err != nil {
					m.failInternal(q, err.Error())
				}
			}()
		case nodeSink:
			go func() {
				if err := n.snk.UpdateVersion(q.ctx, msg.descriptor); err != nil {
					m.failInternal(q, err.Error())
				}
			}()
		}
	}
}

func (m *Manager) awaitInit(q *iqp, nodeID string, fut *eventloop.Future[struct{}]) {
	<-fut.Done()
	_, err := fut.Result()
	m.ackInit(q, nodeID, err)
}

func (m *Manager) ackInit(q *iqp, nodeID string, err error) {
	if err != nil {
		m.failInternal(q, err.Error())
		return
	}
	q.mu.Lock()
	delete(q.initPending, nodeID)
	done := len(q.initPending) == 0
	q.mu.Unlock()
	if done {
		q.resolveInitDone(struct{}{})
	}
}

// forwardMarker walks a reconfiguration marker through the DAG
// synchronously from the given node's successors, holding each stage's
// mu while calling ExecuteMarker. Only SingleThreaded stages hold mu
// while executing data, so the marker waits for an in-progress Execute
// of such a stage; it does not wait for Partitioned or Shared stage
// executions, nor for data tasks still queued for the stage.
//
// Teardown fires in the forward callback, before the marker reaches
// the stage's successors, so it runs once per EoS forward. A
// MergeStage sized to its inbound edges forwards once per epoch, so it
// is torn down once; a BaseStage-derived stage fed by several inbound
// edges forwards, and is torn down, once per edge that delivers the
// EoS marker.
func (m *Manager) forwardMarker(q *iqp, from *node, mk pipeline.Marker) {
	for _, succ := range from.successors {
		switch succ.kind {
		case nodeStage:
			succ.mu.Lock()
			_ = succ.stg.ExecuteMarker(succ.pctx, mk, func(out pipeline.Marker) {
				if isEoSMarker(mk.Kind) {
					if err := succ.stg.Teardown(succ.pctx); err != nil {
						m.failInternal(q, err.Error())
						return
					}
				}
				m.forwardMarker(q, succ, out)
			})
			succ.mu.Unlock()
		case nodeSink:
			m.markerReachSink(q, succ, mk)
		}
	}
}

func isEoSMarker(k pipeline.MarkerKind) bool {
	switch k {
	case pipeline.MarkerSoftEoS, pipeline.MarkerHardEoS, pipeline.MarkerFailEoS:
		return true
	default:
		return false
	}
}

func (m *Manager) markerReachSink(q *iqp, n *node, mk pipeline.Marker) {
	switch mk.Kind {
	case pipeline.MarkerCustom:
		q.mu.Lock()
		q.pendingMarkerSinks--
		done := q.pendingMarkerSinks <= 0
		resolve := q.markerResolve
		q.mu.Unlock()
		if done && resolve != nil {
			resolve(struct{}{})
		}
		return
	default:
		kind := sink.SoftEoS
		switch mk.Kind {
		case pipeline.MarkerHardEoS:
			kind = sink.HardEoS
		case pipeline.MarkerFailEoS:
			kind = sink.FailEoS
		}
		if err := n.snk.Drain(q.ctx, kind); err != nil {
			m.failInternal(q, err.Error())
			return
		}
	}
	m.checkTermination(q)
}

// checkTermination implements §4.6's termination rule: an IQP is done
// once every source has closed and no buffer it produced remains
// outstanding anywhere in the DAG. Delivers exactly one terminal status
// event (Stopped or Failed) and retires the IQP from the Manager's
// table.
func (m *Manager) checkTermination(q *iqp) {
	if q.sourcesClosed.Load() < q.totalSources {
		return
	}
	if q.outstanding.Load() > 0 {
		return
	}

	q.mu.Lock()
	if q.finalized {
		q.mu.Unlock()
		return
	}
	q.finalized = true
	failed := q.terminated
	reason := q.failReason
	q.mu.Unlock()

	if failed {
		q.setStatus(StatusFailed)
		m.notify(q, StatusFailed, reason)
	} else {
		q.setStatus(StatusStopped)
		m.notify(q, StatusStopped, "")
	}

	m.mu.Lock()
	delete(m.queries, q.key())
	m.mu.Unlock()
}

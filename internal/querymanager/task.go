package querymanager

import (
	"github.com/nebulastream/worker-core/internal/buffer"
	"github.com/nebulastream/worker-core/internal/eventloop"
	"github.com/nebulastream/worker-core/internal/sink"
)

type taskKind int

const (
	taskData taskKind = iota
	taskSink
	taskReconfig
	taskSourceOpen
)

// task is a unit of scheduler work: a data task
// (stage, buffer), a sink task (sink, buffer), or a reconfiguration
// task (target, message).
type task struct {
	kind taskKind
	q    *iqp
	n    *node
	rb   buffer.RecordBuffer
	msg  *reconfigMessage

	// admissionHeld marks this task as the one carrying the single
	// admission token acquired when its originating source emitted the
	// buffer (§6 perQueryBufferQuota); the token is returned to the
	// IQP's admission channel when this task finishes, bounding producer
	// concurrency at the first hop rather than across the full DAG depth
	// (a documented simplification, see DESIGN.md).
	admissionHeld bool

	retries int
}

type reconfigKind int

const (
	reconfigInitialize reconfigKind = iota
	reconfigSoftEoS
	reconfigHardEoS
	reconfigFailEoS
	reconfigUpdateVersion
	reconfigMarker
)

// reconfigMessage mirrors spec §2's Initialize/SoftEoS/HardEoS/
// FailEoS/UpdateVersion reconfiguration messages, injected into the
// same queue as data tasks to guarantee ordered processing relative to
// data.
type reconfigMessage struct {
	kind       reconfigKind
	descriptor any
	cause      error
	epoch      uint64

	// done is not set or resolved by the scheduler; Reconfigure tracks
	// its returned future through the iqp's markerResolve instead.
	done *eventloop.Future[struct{}]
}

func (m *reconfigMessage) eosKind() sink.EoSKind {
	switch m.kind {
	case reconfigSoftEoS:
		return sink.SoftEoS
	case reconfigFailEoS:
		return sink.FailEoS
	default:
		return sink.HardEoS
	}
}

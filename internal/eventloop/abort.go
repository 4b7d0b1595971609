package eventloop

import "sync"

// AbortSignal communicates cancellation to in-flight work, adapted from
// the teacher's eventloop.AbortSignal (itself modeled on the W3C
// AbortController/AbortSignal DOM interface). The Query Manager attaches
// one per IQP: stop(Hard) and shutdown() call Abort on the controller,
// and stage/source/sink execution code polls Signal().Aborted() at
// task-boundary granularity per §5.
type AbortSignal struct {
	mu       sync.RWMutex
	handlers []func(reason any)
	reason   any
	aborted  bool
}

func newAbortSignal() *AbortSignal {
	return &AbortSignal{}
}

// Aborted reports whether the signal has fired.
func (s *AbortSignal) Aborted() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.aborted
}

// Reason returns the abort reason, or nil if not aborted.
func (s *AbortSignal) Reason() any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reason
}

// OnAbort registers a callback invoked when the signal fires. If already
// aborted, the callback runs immediately (synchronously, after unlock).
func (s *AbortSignal) OnAbort(handler func(reason any)) {
	if handler == nil {
		return
	}
	s.mu.Lock()
	if s.aborted {
		reason := s.reason
		s.mu.Unlock()
		handler(reason)
		return
	}
	s.handlers = append(s.handlers, handler)
	s.mu.Unlock()
}

func (s *AbortSignal) abort(reason any) {
	s.mu.Lock()
	if s.aborted {
		s.mu.Unlock()
		return
	}
	s.aborted = true
	s.reason = reason
	handlers := s.handlers
	s.handlers = nil
	s.mu.Unlock()
	for _, h := range handlers {
		h(reason)
	}
}

// AbortController owns an AbortSignal and can fire it exactly once.
type AbortController struct {
	signal *AbortSignal
}

// NewAbortController returns a fresh controller with a pending signal.
func NewAbortController() *AbortController {
	return &AbortController{signal: newAbortSignal()}
}

// Signal returns the controller's AbortSignal.
func (c *AbortController) Signal() *AbortSignal { return c.signal }

// Abort fires the signal with the given reason. Idempotent: only the
// first call has any effect.
func (c *AbortController) Abort(reason any) { c.signal.abort(reason) }

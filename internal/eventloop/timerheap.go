package eventloop

import (
	"container/heap"
	"sync"
	"time"
)

// TimerHeap is a min-heap of deadline-ordered callbacks, adapted from the
// timerHeap type embedded in the teacher's Loop. The Query Manager runs
// one instance to drive sink retry-delay re-enqueues (§4.5: "the Query
// Manager re-enqueues the sink task after a bounded delay") without
// spinning a goroutine per pending retry.
type TimerHeap struct {
	mu  sync.Mutex
	h   timerItems
	wake chan struct{}
}

type timerItem struct {
	when time.Time
	fn   func()
}

type timerItems []timerItem

func (h timerItems) Len() int            { return len(h) }
func (h timerItems) Less(i, j int) bool  { return h[i].when.Before(h[j].when) }
func (h timerItems) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *timerItems) Push(x any)         { *h = append(*h, x.(timerItem)) }
func (h *timerItems) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// NewTimerHeap constructs an empty heap. It starts no goroutine: the
// owner drives it by running Run, which returns once its stop channel
// is closed.
func NewTimerHeap() *TimerHeap {
	t := &TimerHeap{wake: make(chan struct{}, 1)}
	return t
}

// Schedule arranges for fn to run (on the heap's own driver goroutine)
// no earlier than d from now.
func (t *TimerHeap) Schedule(d time.Duration, fn func()) {
	t.mu.Lock()
	heap.Push(&t.h, timerItem{when: time.Now().Add(d), fn: fn})
	t.mu.Unlock()
	select {
	case t.wake <- struct{}{}:
	default:
	}
}

// Run drives the heap until stop is closed. Intended to be launched as
// one of the Query Manager's own goroutines, not a per-query thread
// (there is exactly one TimerHeap per manager instance).
func (t *TimerHeap) Run(stop <-chan struct{}) {
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()
	for {
		t.mu.Lock()
		var wait time.Duration
		if t.h.Len() == 0 {
			wait = time.Hour
		} else {
			wait = time.Until(t.h[0].when)
			if wait < 0 {
				wait = 0
			}
		}
		t.mu.Unlock()

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(wait)

		select {
		case <-stop:
			return
		case <-t.wake:
			continue
		case <-timer.C:
		}

		t.mu.Lock()
		now := time.Now()
		var due []func()
		for t.h.Len() > 0 && !t.h[0].when.After(now) {
			item := heap.Pop(&t.h).(timerItem)
			due = append(due, item.fn)
		}
		t.mu.Unlock()

		for _, fn := range due {
			fn()
		}
	}
}

// Package ratelimit wraps github.com/joeycumines/go-catrate's sliding
// window Limiter for rate-bounded open/connect retries: FileSource.Open
// and NetworkSink's Open and UpdateVersion (§9 supplement, grounded on
// NetworkSource.cpp's backoff-before-fail handshake retry). The Query
// Manager's sink backpressure re-enqueue does not use a Gate; it is
// delayed by the timer heap only.
package ratelimit

import (
	"context"
	"time"

	"github.com/joeycumines/go-catrate"
)

// Gate limits how often a given category (a sink or source identity) may
// attempt a retry.
type Gate struct {
	limiter *catrate.Limiter
}

// NewGate builds a Gate allowing up to maxAttempts retries per window.
func NewGate(window time.Duration, maxAttempts int) *Gate {
	return &Gate{
		limiter: catrate.NewLimiter(map[time.Duration]int{
			window: maxAttempts,
		}),
	}
}

// Allow reports whether category may retry now, and if not, the earliest
// time at which it next may.
func (g *Gate) Allow(category string) (time.Time, bool) {
	if g == nil || g.limiter == nil {
		return time.Time{}, true
	}
	return g.limiter.Allow(category)
}

// Retry drives attempt up to maxAttempts times, consulting Allow before
// each one and sleeping until the window's next opening when the gate
// currently refuses category. It returns the last error attempt
// produced, or nil on the first success. Honors ctx cancellation while
// waiting on the gate.
func (g *Gate) Retry(ctx context.Context, category string, maxAttempts int, attempt func() error) error {
	var err error
	for i := 0; i < maxAttempts; {
		until, ok := g.Allow(category)
		if !ok {
			select {
			case <-time.After(time.Until(until)):
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}
		i++
		if err = attempt(); err == nil {
			return nil
		}
	}
	return err
}

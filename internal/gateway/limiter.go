// limiter.go implements the permit pool that throttles one upstream.
//
// A permit grants the right to make one outbound call. At most
// callsPerSecond permits exist, and consecutive grants are spaced at least
// 1/callsPerSecond apart, so the pool admits no more than callsPerSecond
// calls in any rolling second. A permit is returned to the pool once the
// spacing interval has elapsed since it was granted, not when the call
// completes: a slow or panicking call body can never leak a permit.
package gateway

import (
	"context"
	"sync"
	"time"
)

// Limiter is the single point of admission control for one upstream.
// Callers block in Acquire until a permit is granted or the context is
// cancelled.
type Limiter struct {
	sem     chan struct{} // counting permits, capacity = callsPerSecond
	spacing time.Duration // minimum time between two grants

	mu        sync.Mutex
	lastGrant time.Time // when the most recent permit was granted
}

// NewLimiter creates a permit pool admitting at most callsPerSecond calls
// per rolling second.
func NewLimiter(callsPerSecond int) *Limiter {
	if callsPerSecond < 1 {
		callsPerSecond = 1
	}
	return &Limiter{
		sem:     make(chan struct{}, callsPerSecond),
		spacing: time.Second / time.Duration(callsPerSecond),
	}
}

// Acquire blocks until a permit is granted or ctx is cancelled. The permit
// self-releases spacing after the grant; the caller holds nothing.
func (l *Limiter) Acquire(ctx context.Context) error {
	select {
	case l.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}

	// Claim the next grant slot. Serializing through lastGrant keeps
	// concurrent acquirers spaced even when all permits are free.
	l.mu.Lock()
	now := time.Now()
	grant := l.lastGrant.Add(l.spacing)
	if grant.Before(now) {
		grant = now
	}
	l.lastGrant = grant
	l.mu.Unlock()

	if wait := time.Until(grant); wait > 0 {
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			<-l.sem
			return ctx.Err()
		}
	}

	time.AfterFunc(l.spacing, func() { <-l.sem })
	return nil
}

// InFlight returns how many permits are currently granted. Used by tests.
func (l *Limiter) InFlight() int {
	return len(l.sem)
}

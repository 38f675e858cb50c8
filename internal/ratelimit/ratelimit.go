// Package ratelimit provides the global per-host fetch throttle. One limiter
// is shared by every concurrent product run so that a host is never hit more
// often than the configured minimum delay allows, regardless of which product
// is fetching.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// HostLimiter enforces a minimum delay between requests to the same host.
type HostLimiter struct {
	mu       sync.Mutex
	minDelay time.Duration
	next     map[string]time.Time // earliest allowed request per host
	now      func() time.Time
}

// NewHostLimiter creates a limiter with the given per-host minimum delay.
// A non-positive delay disables throttling.
func NewHostLimiter(minDelay time.Duration) *HostLimiter {
	return &HostLimiter{
		minDelay: minDelay,
		next:     make(map[string]time.Time),
		now:      time.Now,
	}
}

// Wait blocks until the host's slot is available or the context is done.
// The slot is reserved before sleeping, so concurrent callers for the same
// host serialize without thundering on wakeup.
func (l *HostLimiter) Wait(ctx context.Context, host string) error {
	if l.minDelay <= 0 || host == "" {
		return ctx.Err()
	}

	l.mu.Lock()
	now := l.now()
	at := l.next[host]
	if at.Before(now) {
		at = now
	}
	l.next[host] = at.Add(l.minDelay)
	l.mu.Unlock()

	wait := at.Sub(now)
	if wait <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Delay reports the configured per-host delay.
func (l *HostLimiter) Delay() time.Duration { return l.minDelay }

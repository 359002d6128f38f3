// Package ratelimit implements per-client sliding-window rate limiting.
//
// The window is continuous, not a fixed bucket: a request is admitted when
// fewer than Max requests were admitted in the Window ending now. Rejected
// requests are not recorded, so a client that keeps retrying is admitted the
// instant the oldest counted request ages out.
package ratelimit

import (
	"context"
	"time"

	"certiscan.io/internal/obs"
)

// Rule binds a window and ceiling to a route class.
type Rule struct {
	Name   string
	Window time.Duration
	Max    int
}

// Decision is the outcome of one admission check. Reset is the instant the
// oldest counted request leaves the window; RetryAfter is zero when allowed.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	Reset      time.Time
	RetryAfter time.Duration
}

// Store records admissions per key. Take atomically counts hits inside the
// window ending at now and records a new hit only if the count is below max.
// It returns whether the hit was admitted, the count including this hit when
// admitted, and the oldest hit still inside the window.
type Store interface {
	Take(ctx context.Context, key string, now time.Time, window time.Duration, max int) (allowed bool, count int, oldest time.Time, err error)
}

// Limiter evaluates rules against a Store.
type Limiter struct {
	store Store
	now   func() time.Time
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock overrides the time source. Only intended for test use.
func WithClock(fn func() time.Time) Option {
	return func(l *Limiter) {
		if fn != nil {
			l.now = fn
		}
	}
}

// New creates a Limiter backed by store.
func New(store Store, opts ...Option) *Limiter {
	l := &Limiter{store: store, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Allow checks one request for key under rule. Store failures fail open: an
// unreachable counter store must not take the API down, so the request is
// admitted and the failure logged.
func (l *Limiter) Allow(ctx context.Context, key string, rule Rule) Decision {
	now := l.now()
	if rule.Max <= 0 || rule.Window <= 0 {
		return Decision{Allowed: true, Limit: rule.Max, Remaining: rule.Max, Reset: now}
	}

	allowed, count, oldest, err := l.store.Take(ctx, rule.Name+":"+key, now, rule.Window, rule.Max)
	if err != nil {
		obs.LogError("ratelimit_store_failed", map[string]any{
			"rule":  rule.Name,
			"error": err.Error(),
		})
		return Decision{Allowed: true, Limit: rule.Max, Remaining: rule.Max, Reset: now}
	}

	d := Decision{Allowed: allowed, Limit: rule.Max}
	if oldest.IsZero() {
		oldest = now
	}
	d.Reset = oldest.Add(rule.Window)
	if remaining := rule.Max - count; remaining > 0 {
		d.Remaining = remaining
	}
	if !allowed {
		d.RetryAfter = d.Reset.Sub(now)
		if d.RetryAfter < time.Second {
			d.RetryAfter = time.Second
		}
		obs.RateLimitRejected(rule.Name)
	}
	return d
}

package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Memory is an in-process Store. Admission timestamps are kept per key and
// pruned on access; idle keys are swept once the map grows past a threshold.
// Suitable for single-instance deployments and tests; multi-instance
// deployments should share a Redis store instead.
type Memory struct {
	mu      sync.Mutex
	hits    map[string][]time.Time
	touched map[string]time.Time
}

var _ Store = (*Memory)(nil)

const sweepThreshold = 4096

// NewMemory creates an empty in-process store.
func NewMemory() *Memory {
	return &Memory{
		hits:    make(map[string][]time.Time),
		touched: make(map[string]time.Time),
	}
}

func (m *Memory) Take(ctx context.Context, key string, now time.Time, window time.Duration, max int) (bool, int, time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := now.Add(-window)
	kept := m.hits[key][:0]
	for _, t := range m.hits[key] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}

	allowed := len(kept) < max
	if allowed {
		kept = append(kept, now)
	}
	m.hits[key] = kept
	m.touched[key] = now

	if len(m.hits) > sweepThreshold {
		m.sweep(now, window)
	}

	var oldest time.Time
	if len(kept) > 0 {
		oldest = kept[0]
	}
	return allowed, len(kept), oldest, nil
}

// sweep drops keys idle for more than twice their last window. Caller holds mu.
func (m *Memory) sweep(now time.Time, window time.Duration) {
	idle := 2 * window
	if idle < time.Minute {
		idle = time.Minute
	}
	for key, last := range m.touched {
		if now.Sub(last) > idle {
			delete(m.hits, key)
			delete(m.touched, key)
		}
	}
}

package ratelimit

import (
	"context"
	"sync"
	"time"
)

const (
	sweepEvery = time.Minute
	idleTTL    = 10 * time.Minute
)

// entry tracks the token balance for one key.
type entry struct {
	avail float64
	seen  time.Time
}

// MemoryLimiter is a per-key token bucket held entirely in process memory.
// Keys refill at a fixed rate up to a burst ceiling, and keys idle longer
// than idleTTL are swept by a background goroutine so the map stays bounded.
type MemoryLimiter struct {
	rate  float64
	burst float64
	now   func() time.Time

	mu      sync.Mutex
	entries map[string]*entry

	stopOnce sync.Once
	done     chan struct{}
}

// NewMemoryLimiter creates a limiter refilling rate tokens per second per
// key with capacity burst. Call Close to stop the sweeper goroutine.
func NewMemoryLimiter(rate float64, burst int) *MemoryLimiter {
	m := &MemoryLimiter{
		rate:    rate,
		burst:   float64(burst),
		now:     time.Now,
		entries: make(map[string]*entry),
		done:    make(chan struct{}),
	}
	go m.sweep()
	return m
}

// Allow takes one token for key, reporting whether one was available.
func (m *MemoryLimiter) Allow(_ context.Context, key string) (bool, error) {
	at := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok {
		// New key starts full; this request takes the first token.
		m.entries[key] = &entry{avail: m.burst - 1, seen: at}
		return true, nil
	}
	return e.take(m.rate, m.burst, at), nil
}

// take refills the entry for the time elapsed since it was last seen, then
// attempts to consume a token.
func (e *entry) take(rate, burst float64, at time.Time) bool {
	e.avail += at.Sub(e.seen).Seconds() * rate
	if e.avail > burst {
		e.avail = burst
	}
	e.seen = at

	if e.avail < 1 {
		return false
	}
	e.avail--
	return true
}

// Close stops the sweeper. Safe to call more than once.
func (m *MemoryLimiter) Close() error {
	m.stopOnce.Do(func() { close(m.done) })
	return nil
}

func (m *MemoryLimiter) sweep() {
	ticker := time.NewTicker(sweepEvery)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.dropIdle()
		}
	}
}

func (m *MemoryLimiter) dropIdle() {
	cutoff := m.now().Add(-idleTTL)

	m.mu.Lock()
	defer m.mu.Unlock()
	for key, e := range m.entries {
		if e.seen.Before(cutoff) {
			delete(m.entries, key)
		}
	}
}

// Package ratelimit provides a pluggable rate limiting interface.
//
// The default is an in-memory token bucket (MemoryLimiter). Multi-instance
// deployments can substitute a shared-store implementation; the Limiter
// interface is the contract.
package ratelimit

import "context"

// Limiter answers whether the request identified by key may proceed.
// Implementations must be safe for concurrent use. An error from Allow means
// the limiter itself broke; callers fail open on it so a limiter outage never
// takes request traffic down with it.
type Limiter interface {
	// Allow reports whether the request should proceed. Keys are opaque to
	// the limiter; callers build them ("ip:<addr>", "actor:<name>").
	Allow(ctx context.Context, key string) (bool, error)

	// Close releases limiter resources such as background goroutines.
	Close() error
}

// NoopLimiter is the Limiter used when limiting is disabled: every request
// passes.
type NoopLimiter struct{}

func (NoopLimiter) Allow(context.Context, string) (bool, error) { return true, nil }

func (NoopLimiter) Close() error { return nil }

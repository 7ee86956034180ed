package domain

import (
	"context"
	"time"
)

// DecisionCache provides fast access to the latest decision per pool. The
// cached entry carries the decision's own TTL so stale protections age out
// of the cache at the same moment they stop being valid downstream.
type DecisionCache interface {
	SetLatest(ctx context.Context, d Decision) error
	GetLatest(ctx context.Context, key PoolKey) (Decision, error)
	Invalidate(ctx context.Context, key PoolKey) error
}

// StreamMessage represents a single entry from a durable stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub and durable streams for inter-process delivery
// of decisions and status updates.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}

// RateLimiter provides distributed rate limiting for the inbound API. The
// outbound RPC budget is managed in-process by the budget package.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	Wait(ctx context.Context, key string) error
}

// LockManager provides distributed locks so that exactly one instance runs a
// singleton job, for example the archive sweep.
type LockManager interface {
	// Acquire obtains the lock or returns ErrLockHeld. The returned unlock
	// function is safe to call multiple times.
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

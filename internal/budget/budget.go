// Package budget implements an in-process token bucket shared by the
// detectors that consult chain RPC endpoints. Consumption is non-blocking:
// callers probe for a token and degrade their polling rate when the bucket
// runs dry instead of queueing.
package budget

import (
	"log/slog"
	"sync"
	"time"
)

// Event describes a bucket state change delivered to listeners.
type Event string

const (
	// EventQuiet fires when usage drops back under the warning fraction
	// after having been above it.
	EventQuiet Event = "quiet"
	// EventExhausted fires when a consume attempt finds the bucket empty.
	EventExhausted Event = "exhausted"
	// EventRefill fires when refill makes tokens available again after
	// exhaustion.
	EventRefill Event = "refill"
)

// Listener observes bucket state changes. Callbacks run synchronously on the
// caller's goroutine and must not block.
type Listener func(ev Event, remaining int)

// Config sizes the bucket.
type Config struct {
	// Capacity is the maximum token count and the initial fill.
	Capacity int
	// RefillInterval is how often one token is returned to the bucket.
	RefillInterval time.Duration
	// WarnFraction is the used fraction above which the bucket is
	// considered contended. Zero defaults to 0.8.
	WarnFraction float64
	// Now overrides the clock in tests.
	Now func() time.Time
}

// Bucket is a refilling token bucket. All methods are safe for concurrent
// use.
type Bucket struct {
	capacity int
	interval time.Duration
	warnAt   int
	logger   *slog.Logger
	now      func() time.Time

	mu         sync.Mutex
	tokens     int
	lastRefill time.Time
	contended  bool
	exhausted  bool
	listeners  []Listener
}

// New creates a full bucket. Capacity must be positive and the refill
// interval non-negative; zero interval disables refill.
func New(cfg Config, logger *slog.Logger) *Bucket {
	if cfg.Capacity <= 0 {
		cfg.Capacity = 1
	}
	warn := cfg.WarnFraction
	if warn <= 0 || warn > 1 {
		warn = 0.8
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Bucket{
		capacity:   cfg.Capacity,
		interval:   cfg.RefillInterval,
		warnAt:     int(float64(cfg.Capacity) * (1 - warn)),
		logger:     logger.With(slog.String("component", "rpc_budget")),
		now:        now,
		tokens:     cfg.Capacity,
		lastRefill: now(),
	}
}

// AddListener registers a state-change listener. Listeners added after
// events fired only see subsequent events.
func (b *Bucket) AddListener(l Listener) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners = append(b.listeners, l)
}

// TryConsume takes one token if available and reports success. It never
// blocks; an empty bucket fires EventExhausted (once per exhaustion episode)
// and returns false.
func (b *Bucket) TryConsume() bool {
	b.mu.Lock()
	b.refillLocked(b.now())

	if b.tokens == 0 {
		first := !b.exhausted
		b.exhausted = true
		listeners := b.listenersLocked()
		b.mu.Unlock()
		if first {
			b.logger.Warn("rpc budget exhausted")
			notify(listeners, EventExhausted, 0)
		}
		return false
	}

	b.tokens--
	remaining := b.tokens
	wasContended := b.contended
	b.contended = remaining <= b.warnAt
	b.mu.Unlock()

	if !wasContended && remaining <= b.warnAt {
		b.logger.Debug("rpc budget contended", slog.Int("remaining", remaining))
	}
	return true
}

// Remaining returns the current token count after applying pending refill.
func (b *Bucket) Remaining() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refillLocked(b.now())
	return b.tokens
}

// RecommendedInterval suggests a polling interval for callers: the base
// interval while the bucket is comfortable, stretched as it drains, and the
// full refill horizon when empty.
func (b *Bucket) RecommendedInterval(base time.Duration) time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refillLocked(b.now())

	switch {
	case b.tokens == 0:
		if b.interval > 0 {
			return b.interval * time.Duration(b.capacity)
		}
		return base * 10
	case b.tokens <= b.warnAt:
		return base * 4
	default:
		return base
	}
}

// refillLocked credits tokens owed since the last refill. Caller holds mu.
func (b *Bucket) refillLocked(now time.Time) {
	if b.interval <= 0 || b.tokens >= b.capacity {
		b.lastRefill = now
		return
	}
	elapsed := now.Sub(b.lastRefill)
	owed := int(elapsed / b.interval)
	if owed == 0 {
		return
	}
	wasEmpty := b.tokens == 0

	b.tokens += owed
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
	b.lastRefill = b.lastRefill.Add(time.Duration(owed) * b.interval)

	if wasEmpty && b.exhausted {
		b.exhausted = false
		remaining := b.tokens
		listeners := b.listenersLocked()
		// Deliver outside the lock would race with further refills; the
		// listener contract is non-blocking, so holding mu here is fine.
		notify(listeners, EventRefill, remaining)
		b.logger.Info("rpc budget refilled", slog.Int("remaining", remaining))
	}
	if b.contended && b.tokens > b.warnAt {
		b.contended = false
		notify(b.listenersLocked(), EventQuiet, b.tokens)
	}
}

func (b *Bucket) listenersLocked() []Listener {
	out := make([]Listener, len(b.listeners))
	copy(out, b.listeners)
	return out
}

func notify(listeners []Listener, ev Event, remaining int) {
	for _, l := range listeners {
		l(ev, remaining)
	}
}

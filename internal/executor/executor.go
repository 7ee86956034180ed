// Package executor applies protective decisions to pools. It consumes
// decisions from a channel, suppresses duplicates, drops expired ones, and
// hands the rest to an ActionApplier.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/dexguard/internal/domain"
)

// ActionApplier is the interface through which the executor applies a
// decision's action to the pool. Implementations talk to pool manager
// contracts, router allowlists, or fee controllers.
type ActionApplier interface {
	Apply(ctx context.Context, d domain.Decision) (domain.ApplyResult, error)
}

// Reverter is optional. When implemented, the executor calls Revert for
// NO_ACTION decisions so a previously applied protection is lifted instead
// of silently left in place.
type Reverter interface {
	Revert(ctx context.Context, poolKey domain.PoolKey) error
}

// Executor reads decisions from a channel, applies deduplication and expiry
// checks, then applies actions through the ActionApplier interface.
type Executor struct {
	decisionCh <-chan domain.Decision
	applier    ActionApplier
	dedup      *Dedup
	logger     *slog.Logger

	cleanupInterval time.Duration
}

// NewExecutor creates an Executor that reads decisions from decisionCh and
// applies them via applier.
func NewExecutor(decisionCh <-chan domain.Decision, applier ActionApplier, logger *slog.Logger) *Executor {
	return &Executor{
		decisionCh:      decisionCh,
		applier:         applier,
		dedup:           NewDedup(2 * time.Minute),
		logger:          logger.With(slog.String("component", "executor")),
		cleanupInterval: 30 * time.Second,
	}
}

// Run starts the executor's main loop. It processes decisions until the
// context is cancelled, at which point it drains any remaining decisions in
// the channel and returns.
func (e *Executor) Run(ctx context.Context) error {
	e.logger.Info("executor started")
	defer e.logger.Info("executor stopped")

	cleanupTicker := time.NewTicker(e.cleanupInterval)
	defer cleanupTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.drain()
			return ctx.Err()

		case d, ok := <-e.decisionCh:
			if !ok {
				// Channel closed; shut down.
				return nil
			}
			e.process(ctx, d)

		case <-cleanupTicker.C:
			e.dedup.Cleanup()
		}
	}
}

// process handles a single decision through the full validation and
// application pipeline.
func (e *Executor) process(ctx context.Context, d domain.Decision) {
	log := e.logger.With(
		slog.String("decision_id", d.ID),
		slog.String("pool", string(d.PoolKey)),
		slog.String("tier", d.Tier.String()),
		slog.String("action", string(d.Action)),
	)

	// 1. Stand-down decisions revert instead of applying.
	if d.Action == domain.ActionNone {
		if rev, ok := e.applier.(Reverter); ok {
			if err := rev.Revert(ctx, d.PoolKey); err != nil {
				log.Warn("revert failed", slog.String("error", err.Error()))
				return
			}
			log.Info("protection reverted")
		}
		return
	}

	// 2. Suppression: the same action on the same pool within the dedup TTL
	// is a no-op. Refresh decisions bypass this, that is their point.
	if d.Trigger != domain.TriggerRefresh && e.dedup.IsDuplicate(string(d.PoolKey)+"|"+string(d.Action)) {
		log.Debug("decision deduplicated, skipping")
		return
	}

	// 3. Expiry check.
	now := time.Now().UTC()
	if d.Expired(now) {
		log.Warn("decision expired, skipping",
			slog.Time("expires_at", d.ExpiresAt()),
		)
		return
	}

	// 4. Apply.
	result, err := e.applier.Apply(ctx, d)
	if err != nil {
		log.Error("action application failed",
			slog.String("error", err.Error()),
		)
		return
	}

	if !result.Success {
		log.Warn("action rejected",
			slog.String("ref", result.Ref),
			slog.String("message", result.Message),
			slog.Bool("should_retry", result.ShouldRetry),
		)
		if result.ShouldRetry {
			e.retry(ctx, d, log)
		}
		return
	}

	log.Info("action applied",
		slog.String("ref", result.Ref),
	)
}

// retry makes a single retry attempt for a rejected application. A
// production system would use exponential back-off and a bounded retry
// count; this implementation performs one retry after a short pause.
func (e *Executor) retry(ctx context.Context, d domain.Decision, log *slog.Logger) {
	// Respect expiry even for retries.
	if d.Expired(time.Now().UTC()) {
		log.Warn("decision expired during retry, giving up")
		return
	}

	select {
	case <-ctx.Done():
		return
	case <-time.After(500 * time.Millisecond):
	}

	result, err := e.applier.Apply(ctx, d)
	if err != nil {
		log.Error("retry application failed",
			slog.String("error", err.Error()),
		)
		return
	}

	if result.Success {
		log.Info("retry applied successfully",
			slog.String("ref", result.Ref),
		)
	} else {
		log.Warn("retry also rejected",
			slog.String("message", result.Message),
		)
	}
}

// drain processes any decisions already buffered in the channel after
// context cancellation, so in-flight decisions are not silently dropped.
func (e *Executor) drain() {
	for {
		select {
		case d, ok := <-e.decisionCh:
			if !ok {
				return
			}
			e.logger.Warn("draining decision after shutdown",
				slog.String("decision_id", d.ID),
			)
			// Short-lived context so shutdown does not hang on external
			// calls.
			drainCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			e.process(drainCtx, d)
			cancel()
		default:
			return
		}
	}
}

// SetDedupTTL replaces the dedup instance with a new one using the given TTL.
// This is useful for testing or runtime reconfiguration.
func (e *Executor) SetDedupTTL(ttl time.Duration) {
	e.dedup = NewDedup(ttl)
}

// SetCleanupInterval changes how often the dedup map is garbage-collected.
// Must be called before Run.
func (e *Executor) SetCleanupInterval(d time.Duration) {
	e.cleanupInterval = d
}

var _ fmt.Stringer = (*Executor)(nil)

// String returns a human-readable description of the executor.
func (e *Executor) String() string {
	return fmt.Sprintf("Executor(applier=%T)", e.applier)
}

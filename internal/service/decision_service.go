// Package service coordinates the fan-out of engine decisions to the
// persistence, cache, messaging, execution, and notification layers, and
// serves decision queries for the API.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/dexguard/internal/domain"
	"github.com/alanyoungcy/dexguard/internal/observability"
)

const (
	decisionChannel = "decisions"
	decisionStream  = "decisions:log"
)

// DecisionService receives every decision the engine publishes and fans it
// out: Postgres for history, Redis for the latest-decision cache, the signal
// bus for other processes, the executor channel for local application, and
// the notifier for operator alerts.
//
// Persistence is the only hard dependency. A failure in any other sink is
// logged and counted but does not fail the publish, so one slow or broken
// sink cannot stall the engine's pipeline.
type DecisionService struct {
	store    domain.DecisionStore
	cache    domain.DecisionCache
	bus      domain.SignalBus
	audit    domain.AuditStore
	notifier Notifier
	metrics  *observability.Metrics
	logger   *slog.Logger

	actionCh chan domain.Decision
}

// Notifier is the notification surface the service needs. Satisfied by
// notify.Notifier.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// NewDecisionService creates a DecisionService. The store is required; cache,
// bus, audit, notifier, and metrics may be nil when the deployment mode does
// not wire them.
func NewDecisionService(
	store domain.DecisionStore,
	cache domain.DecisionCache,
	bus domain.SignalBus,
	audit domain.AuditStore,
	notifier Notifier,
	metrics *observability.Metrics,
	logger *slog.Logger,
) *DecisionService {
	return &DecisionService{
		store:    store,
		cache:    cache,
		bus:      bus,
		audit:    audit,
		notifier: notifier,
		metrics:  metrics,
		logger:   logger.With(slog.String("component", "decision_service")),
		actionCh: make(chan domain.Decision, 256),
	}
}

// Name identifies the service in engine subscriber diagnostics.
func (s *DecisionService) Name() string { return "decision_service" }

// Actions returns the channel the executor consumes. Decisions are dropped
// with a warning when the channel is full rather than blocking the engine.
func (s *DecisionService) Actions() <-chan domain.Decision {
	return s.actionCh
}

// OnDecision persists the decision and fans it out to every configured sink.
// Only a persistence failure is returned to the engine; sink failures are
// logged and counted.
func (s *DecisionService) OnDecision(ctx context.Context, d domain.Decision) error {
	start := time.Now()
	if err := s.store.Insert(ctx, d); err != nil {
		return fmt.Errorf("decision_service: insert %s: %w", d.ID, err)
	}
	s.metrics.ObservePersist(time.Since(start).Seconds())
	s.metrics.DecisionMade(d.Tier.String(), string(d.Action))

	s.updateCache(ctx, d)
	s.publish(ctx, d)
	s.forward(ctx, d)
	s.notify(ctx, d)

	if s.audit != nil {
		if err := s.audit.Log(ctx, "decision.published", map[string]any{
			"decision_id": d.ID,
			"pool_key":    string(d.PoolKey),
			"tier":        d.Tier.String(),
			"action":      string(d.Action),
			"trigger":     string(d.Trigger),
			"score":       d.Score,
		}); err != nil {
			s.logger.WarnContext(ctx, "audit log failed",
				slog.String("decision_id", d.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	s.logger.InfoContext(ctx, "decision published",
		slog.String("decision_id", d.ID),
		slog.String("pool", string(d.PoolKey)),
		slog.String("tier", d.Tier.String()),
		slog.String("action", string(d.Action)),
		slog.String("trigger", string(d.Trigger)),
		slog.Float64("score", d.Score),
	)

	return nil
}

// updateCache keeps the latest-decision cache current. A stand-down decision
// invalidates the entry instead of caching a NO_ACTION record.
func (s *DecisionService) updateCache(ctx context.Context, d domain.Decision) {
	if s.cache == nil {
		return
	}

	var err error
	if d.Action == domain.ActionNone {
		err = s.cache.Invalidate(ctx, d.PoolKey)
	} else {
		err = s.cache.SetLatest(ctx, d)
	}
	if err != nil {
		s.metrics.PublishError("cache")
		s.logger.WarnContext(ctx, "decision cache update failed",
			slog.String("pool", string(d.PoolKey)),
			slog.String("error", err.Error()),
		)
	}
}

// publish sends the decision over the bus channel for live subscribers and
// appends it to the durable stream for consumers that replay.
func (s *DecisionService) publish(ctx context.Context, d domain.Decision) {
	if s.bus == nil {
		return
	}

	payload, err := json.Marshal(d)
	if err != nil {
		s.logger.ErrorContext(ctx, "decision marshal failed",
			slog.String("decision_id", d.ID),
			slog.String("error", err.Error()),
		)
		return
	}

	if err := s.bus.Publish(ctx, decisionChannel, payload); err != nil {
		s.metrics.PublishError("bus")
		s.logger.WarnContext(ctx, "bus publish failed",
			slog.String("decision_id", d.ID),
			slog.String("error", err.Error()),
		)
	}
	if err := s.bus.StreamAppend(ctx, decisionStream, payload); err != nil {
		s.metrics.PublishError("stream")
		s.logger.WarnContext(ctx, "stream append failed",
			slog.String("decision_id", d.ID),
			slog.String("error", err.Error()),
		)
	}
}

// forward hands the decision to the local executor channel without blocking.
func (s *DecisionService) forward(ctx context.Context, d domain.Decision) {
	select {
	case s.actionCh <- d:
	default:
		s.metrics.PublishError("executor")
		s.logger.WarnContext(ctx, "executor channel full, decision dropped",
			slog.String("decision_id", d.ID),
			slog.String("pool", string(d.PoolKey)),
		)
	}
}

// notify raises operator notifications for tier transitions. Refreshes are
// deliberately quiet: the operator already knows the pool is hot.
func (s *DecisionService) notify(ctx context.Context, d domain.Decision) {
	if s.notifier == nil || d.Trigger == domain.TriggerRefresh {
		return
	}

	var event, title string
	switch {
	case d.Tier == domain.TierCritical:
		event = "critical"
		title = fmt.Sprintf("CRITICAL: %s", d.Pair)
	case d.Trigger == domain.TriggerPromotion:
		event = "promotion"
		title = fmt.Sprintf("Elevated risk: %s", d.Pair)
	default:
		event = "demotion"
		title = fmt.Sprintf("Risk easing: %s", d.Pair)
	}

	message := fmt.Sprintf("%s on %s\nScore %.1f, tier %s\nAction: %s\n%s",
		d.Pair, d.Chain, d.Score, d.Tier, d.Action, d.Rationale)

	if err := s.notifier.Notify(ctx, event, title, message); err != nil {
		s.metrics.PublishError("notifier")
		s.logger.WarnContext(ctx, "notification failed",
			slog.String("decision_id", d.ID),
			slog.String("error", err.Error()),
		)
	}
}

// ---------------------------------------------------------------------------
// queries
// ---------------------------------------------------------------------------

// Latest returns the newest decision for a pool, preferring the cache and
// falling back to the store when the cache misses or is not configured.
func (s *DecisionService) Latest(ctx context.Context, key domain.PoolKey) (domain.Decision, error) {
	if s.cache != nil {
		d, err := s.cache.GetLatest(ctx, key)
		if err == nil {
			return d, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			s.logger.WarnContext(ctx, "cache lookup failed, falling back to store",
				slog.String("pool", string(key)),
				slog.String("error", err.Error()),
			)
		}
	}

	decisions, err := s.store.ListByPool(ctx, key, domain.ListOpts{Limit: 1})
	if err != nil {
		return domain.Decision{}, fmt.Errorf("decision_service: latest for %q: %w", key, err)
	}
	if len(decisions) == 0 {
		return domain.Decision{}, domain.ErrNotFound
	}
	return decisions[0], nil
}

// GetByID returns a single decision from the store.
func (s *DecisionService) GetByID(ctx context.Context, id string) (domain.Decision, error) {
	d, err := s.store.GetByID(ctx, id)
	if err != nil {
		return domain.Decision{}, fmt.Errorf("decision_service: get %q: %w", id, err)
	}
	return d, nil
}

// ListRecent returns the newest decisions across all pools.
func (s *DecisionService) ListRecent(ctx context.Context, limit int) ([]domain.Decision, error) {
	decisions, err := s.store.ListRecent(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("decision_service: list recent: %w", err)
	}
	return decisions, nil
}

// ListByPool returns a pool's decision history with pagination.
func (s *DecisionService) ListByPool(ctx context.Context, key domain.PoolKey, opts domain.ListOpts) ([]domain.Decision, error) {
	decisions, err := s.store.ListByPool(ctx, key, opts)
	if err != nil {
		return nil, fmt.Errorf("decision_service: list by pool %q: %w", key, err)
	}
	return decisions, nil
}

// Count returns the total number of stored decisions.
func (s *DecisionService) Count(ctx context.Context) (int64, error) {
	n, err := s.store.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("decision_service: count: %w", err)
	}
	return n, nil
}

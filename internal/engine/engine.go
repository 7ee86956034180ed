package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alanyoungcy/dexguard/internal/domain"
)

// Subscriber receives every published decision. Implementations must not call
// back into the engine's ingestion path synchronously.
type Subscriber interface {
	// Name returns a stable identifier used in logs when delivery fails.
	Name() string
	// OnDecision handles one published decision. An error (or panic) from
	// one subscriber never interrupts delivery to the others.
	OnDecision(ctx context.Context, d domain.Decision) error
}

// poolState is the mutable per-pool risk state. All read-modify-write access
// goes through mu; pools are causally independent so there is no cross-pool
// coordination.
type poolState struct {
	mu sync.Mutex

	chain string
	pair  string

	contributions []contribution // ordered by expiry
	ema           float64
	tier          domain.Tier

	lastTierChangeAt time.Time
	lastSeen         time.Time

	lastDecisionID  string
	lastDecisionAt  time.Time
	lastDecisionTTL time.Duration

	// evicted is set by the idle sweep, under mu, when the state is removed
	// from the registry. A caller that resolved the pointer before the sweep
	// must not mutate it.
	evicted bool
}

// Engine is the risk correlation and decision engine. Each ingestion call
// runs the full pipeline synchronously before returning: normalise, append,
// prune, rescore, evaluate the tier machine, and publish any resulting
// decision. There is no I/O anywhere on this path, so a fixed sequence of
// ingestion calls always reproduces the same sequence of decisions.
type Engine struct {
	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	mu    sync.RWMutex
	pools map[domain.PoolKey]*poolState

	subMu sync.RWMutex
	subs  []Subscriber

	running atomic.Bool
}

// New creates an Engine from a validated configuration. It returns an error
// if the configuration violates any invariant.
func New(cfg Config, logger *slog.Logger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	return &Engine{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "risk_engine")),
		now:    cfg.clock(),
		pools:  make(map[domain.PoolKey]*poolState),
	}, nil
}

// Subscribe registers a decision subscriber. Subscribers registered after
// decisions have already been published only see subsequent decisions.
func (e *Engine) Subscribe(sub Subscriber) {
	e.subMu.Lock()
	defer e.subMu.Unlock()
	e.subs = append(e.subs, sub)
}

// Start marks the engine as running. Ingestion calls received while stopped
// are dropped with a warning.
func (e *Engine) Start() {
	if e.running.CompareAndSwap(false, true) {
		e.logger.Info("risk engine started")
	}
}

// Stop marks the engine as stopped. In-flight ingestion calls run to
// completion; subsequent calls are dropped without mutating state.
func (e *Engine) Stop() {
	if e.running.CompareAndSwap(true, false) {
		e.logger.Info("risk engine stopped")
	}
}

// Running reports whether the engine currently accepts ingestion.
func (e *Engine) Running() bool {
	return e.running.Load()
}

// IngestSignal ingests a weak signal. Signals with a missing pool key or
// chain are dropped with a logged warning; the call never returns an error
// and never partially mutates state.
func (e *Engine) IngestSignal(ctx context.Context, sig domain.WeakSignal) {
	if !e.running.Load() {
		e.logger.Warn("signal dropped, engine not running",
			slog.String("kind", string(sig.Kind)),
			slog.String("pool", string(sig.PoolKey)),
		)
		return
	}
	if sig.PoolKey == "" || sig.Chain == "" {
		e.logger.Warn("signal dropped, missing pool identity",
			slog.String("kind", string(sig.Kind)),
			slog.String("pool", string(sig.PoolKey)),
			slog.String("chain", sig.Chain),
		)
		return
	}

	now := e.now()
	c := e.normalizeSignal(sig, now)
	e.apply(ctx, sig.PoolKey, sig.Chain, sig.Pair, c, now)
}

// IngestAlert ingests a strong alert. The same missing-field guard applies;
// the alert's deviation is normalised against the kind's base threshold.
func (e *Engine) IngestAlert(ctx context.Context, alert domain.StrongAlert) {
	if !e.running.Load() {
		e.logger.Warn("alert dropped, engine not running",
			slog.String("kind", string(alert.Kind)),
			slog.String("pool", string(alert.PoolKey)),
		)
		return
	}
	if alert.PoolKey == "" || alert.Chain == "" {
		e.logger.Warn("alert dropped, missing pool identity",
			slog.String("kind", string(alert.Kind)),
			slog.String("pool", string(alert.PoolKey)),
			slog.String("chain", alert.Chain),
		)
		return
	}

	now := e.now()
	c := e.normalizeAlert(alert, now)
	e.apply(ctx, alert.PoolKey, alert.Chain, alert.Pair, c, now)
}

// apply appends a contribution to the pool's state and runs the synchronous
// recomputation pipeline. The idle sweep can evict the pool between
// resolution and locking; tryApply detects that and the loop re-resolves
// against a fresh state so the contribution is never lost. Any resulting
// decision is published after the pool lock is released.
func (e *Engine) apply(ctx context.Context, key domain.PoolKey, chain, pair string, c contribution, now time.Time) {
	for {
		ps := e.pool(key, chain, pair)
		decision, ok := e.tryApply(ps, key, c, now)
		if !ok {
			continue
		}
		if decision != nil {
			e.publish(ctx, *decision)
		}
		return
	}
}

// tryApply takes the pool lock and applies the contribution. It reports false
// without mutating anything when the state was evicted after resolution.
func (e *Engine) tryApply(ps *poolState, key domain.PoolKey, c contribution, now time.Time) (*domain.Decision, bool) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	if ps.evicted {
		return nil, false
	}
	ps.contributions = append(ps.contributions, c)
	ps.lastSeen = now
	return e.recomputeLocked(ps, key, now), true
}

// pool returns the state for key, creating it lazily on first contribution.
func (e *Engine) pool(key domain.PoolKey, chain, pair string) *poolState {
	e.mu.RLock()
	ps, ok := e.pools[key]
	e.mu.RUnlock()
	if ok {
		return ps
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if ps, ok = e.pools[key]; ok {
		return ps
	}
	ps = &poolState{
		chain: chain,
		pair:  pair,
		tier:  domain.TierWatch,
	}
	e.pools[key] = ps
	e.logger.Debug("pool state created", slog.String("pool", string(key)))
	return ps
}

// recomputeLocked runs prune -> score -> tier evaluation for one pool and
// returns the decision to publish, if any. Caller holds ps.mu.
func (e *Engine) recomputeLocked(ps *poolState, key domain.PoolKey, now time.Time) *domain.Decision {
	pruneExpired(ps, now)

	raw := rawScore(ps.contributions)
	ps.ema = clamp(e.cfg.Alpha*raw+(1-e.cfg.Alpha)*ps.ema, 0, 100)

	transition, next := evaluateTier(ps.tier, ps.ema, e.cfg.Elevated, e.cfg.Critical)
	if transition != tierUnchanged {
		prev := ps.tier
		ps.tier = next
		ps.lastTierChangeAt = now
		e.logger.Info("tier transition",
			slog.String("pool", string(key)),
			slog.String("from", prev.String()),
			slog.String("to", next.String()),
			slog.Float64("score", ps.ema),
		)
		trigger := domain.TriggerPromotion
		if transition == tierDemoted {
			trigger = domain.TriggerDemotion
		}
		return e.synthesizeLocked(ps, key, trigger, now)
	}

	// Sustained-threat refresh: while a pool holds at ELEVATED or CRITICAL,
	// re-issue a decision once the previous one has aged past its TTL.
	if e.cfg.RefreshSustained &&
		ps.tier > domain.TierWatch &&
		ps.lastDecisionID != "" &&
		now.After(ps.lastDecisionAt.Add(ps.lastDecisionTTL)) {
		return e.synthesizeLocked(ps, key, domain.TriggerRefresh, now)
	}

	return nil
}

// publish delivers a decision to every registered subscriber. A failing or
// panicking subscriber is logged and isolated; it never interrupts delivery
// to the others and never mutates engine state.
func (e *Engine) publish(ctx context.Context, d domain.Decision) {
	e.subMu.RLock()
	subs := make([]Subscriber, len(e.subs))
	copy(subs, e.subs)
	e.subMu.RUnlock()

	for _, sub := range subs {
		e.deliver(ctx, sub, d)
	}
}

func (e *Engine) deliver(ctx context.Context, sub Subscriber, d domain.Decision) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("subscriber panicked",
				slog.String("subscriber", sub.Name()),
				slog.String("decision_id", d.ID),
				slog.Any("panic", r),
			)
		}
	}()
	if err := sub.OnDecision(ctx, d); err != nil {
		e.logger.Warn("subscriber failed",
			slog.String("subscriber", sub.Name()),
			slog.String("decision_id", d.ID),
			slog.String("error", err.Error()),
		)
	}
}

// Snapshot returns a read-only view of one pool's state, or ErrNotFound for
// an unknown key. The pruning pass runs first so the snapshot never reports
// expired contributions.
func (e *Engine) Snapshot(key domain.PoolKey) (domain.PoolSnapshot, error) {
	e.mu.RLock()
	ps, ok := e.pools[key]
	e.mu.RUnlock()
	if !ok {
		return domain.PoolSnapshot{}, domain.ErrNotFound
	}

	now := e.now()
	ps.mu.Lock()
	defer ps.mu.Unlock()
	if ps.evicted {
		return domain.PoolSnapshot{}, domain.ErrNotFound
	}
	pruneExpired(ps, now)
	return snapshotLocked(ps, key, now), nil
}

// Snapshots returns views of every tracked pool, sorted by key for stable
// API output.
func (e *Engine) Snapshots() []domain.PoolSnapshot {
	e.mu.RLock()
	keys := make([]domain.PoolKey, 0, len(e.pools))
	for k := range e.pools {
		keys = append(keys, k)
	}
	e.mu.RUnlock()

	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	now := e.now()
	out := make([]domain.PoolSnapshot, 0, len(keys))
	for _, k := range keys {
		e.mu.RLock()
		ps, ok := e.pools[k]
		e.mu.RUnlock()
		if !ok {
			continue
		}
		ps.mu.Lock()
		if !ps.evicted {
			pruneExpired(ps, now)
			out = append(out, snapshotLocked(ps, k, now))
		}
		ps.mu.Unlock()
	}
	return out
}

func snapshotLocked(ps *poolState, key domain.PoolKey, now time.Time) domain.PoolSnapshot {
	return domain.PoolSnapshot{
		Key:                 key,
		Chain:               ps.chain,
		Pair:                ps.pair,
		Score:               ps.ema,
		Tier:                ps.tier,
		ActiveContributions: len(ps.contributions),
		LastTierChangeAt:    ps.lastTierChangeAt,
		LastDecisionID:      ps.lastDecisionID,
		UpdatedAt:           now,
	}
}

// Run starts the idle sweep loop and blocks until ctx is cancelled. The
// sweep evicts pools that have settled back to WATCH with no active
// contributions and no ingestion for IdleTTL, bounding registry growth in a
// long-running process. With IdleTTL zero Run just waits for cancellation.
func (e *Engine) Run(ctx context.Context) error {
	if e.cfg.IdleTTL <= 0 {
		<-ctx.Done()
		return ctx.Err()
	}

	interval := e.cfg.IdleTTL / 4
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			e.sweepIdle(e.now())
		}
	}
}

// sweepIdle removes quiet WATCH pools whose last ingestion is older than
// IdleTTL.
func (e *Engine) sweepIdle(now time.Time) {
	cutoff := now.Add(-e.cfg.IdleTTL)

	e.mu.Lock()
	defer e.mu.Unlock()
	for key, ps := range e.pools {
		ps.mu.Lock()
		pruneExpired(ps, now)
		idle := ps.tier == domain.TierWatch &&
			len(ps.contributions) == 0 &&
			ps.lastSeen.Before(cutoff)
		if idle {
			// Flagged under ps.mu so an ingest that resolved this state
			// before the sweep refuses to mutate the orphan.
			ps.evicted = true
			delete(e.pools, key)
			e.logger.Debug("idle pool evicted", slog.String("pool", string(key)))
		}
		ps.mu.Unlock()
	}
}

// PoolCount returns the number of pools currently tracked.
func (e *Engine) PoolCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.pools)
}

package executor

import (
	"context"
	"log/slog"
	"sync"

	"github.com/alanyoungcy/dexguard/internal/domain"
)

// DryRunApplier logs what would be applied without touching anything
// on-chain. Monitor mode runs with it; it also keeps the currently "active"
// action per pool so operators can inspect what live mode would have done.
type DryRunApplier struct {
	logger *slog.Logger

	mu     sync.Mutex
	active map[domain.PoolKey]domain.Action
}

// NewDryRunApplier creates a DryRunApplier.
func NewDryRunApplier(logger *slog.Logger) *DryRunApplier {
	return &DryRunApplier{
		logger: logger.With(slog.String("component", "dry_run_applier")),
		active: make(map[domain.PoolKey]domain.Action),
	}
}

// Apply records the action and logs it.
func (a *DryRunApplier) Apply(_ context.Context, d domain.Decision) (domain.ApplyResult, error) {
	a.mu.Lock()
	a.active[d.PoolKey] = d.Action
	a.mu.Unlock()

	a.logger.Info("dry run: would apply action",
		slog.String("pool", string(d.PoolKey)),
		slog.String("action", string(d.Action)),
		slog.String("rationale", d.Rationale),
	)
	return domain.ApplyResult{Success: true, Ref: "dry-run:" + d.ID}, nil
}

// Revert clears the recorded action for the pool.
func (a *DryRunApplier) Revert(_ context.Context, poolKey domain.PoolKey) error {
	a.mu.Lock()
	delete(a.active, poolKey)
	a.mu.Unlock()

	a.logger.Info("dry run: would revert protection",
		slog.String("pool", string(poolKey)),
	)
	return nil
}

// Active returns the recorded action for a pool and whether one is set.
func (a *DryRunApplier) Active(poolKey domain.PoolKey) (domain.Action, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	act, ok := a.active[poolKey]
	return act, ok
}

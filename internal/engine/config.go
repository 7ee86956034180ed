// Package engine implements the risk correlation and decision engine: it
// ingests weak signals and strong alerts about liquidity pools, maintains a
// smoothed per-pool risk score over a sliding correlation window, runs a
// hysteresis tier state machine, and synthesises time-bounded protective
// decisions published to registered subscribers.
package engine

import (
	"fmt"
	"time"

	"github.com/alanyoungcy/dexguard/internal/domain"
)

// EdgeThresholds holds the promotion and demotion thresholds for one tier
// edge. Down must be strictly less than Up: the gap between them is the
// hysteresis dead-zone that prevents single-sample flapping.
type EdgeThresholds struct {
	Up   float64
	Down float64
}

// Config is the engine's full construction-time configuration. Build it once,
// validate it, and treat it as immutable afterwards.
type Config struct {
	// CorrelationWindow is how long a contribution participates in scoring
	// after arrival.
	CorrelationWindow time.Duration

	// Alpha is the EMA smoothing factor in (0,1]. Small values give the
	// slow-moving production behaviour; values near 1 converge fast, which
	// is what the deterministic tests use.
	Alpha float64

	// SignalWeights and AlertWeights map each known kind to its scoring
	// weight. Unknown kinds fall back to weight 1 so the taxonomy can grow
	// without breaking ingestion.
	SignalWeights map[domain.SignalKind]float64
	AlertWeights  map[domain.AlertKind]float64

	// BaseThresholds normalise a strong alert's percentage deviation into a
	// [0,1] magnitude: magnitude = clamp(deviation/base, 0, 1). Kinds absent
	// from the map use DefaultBaseThreshold.
	BaseThresholds       map[domain.AlertKind]float64
	DefaultBaseThreshold float64

	// Elevated is the WATCH<->ELEVATED edge, Critical the ELEVATED<->CRITICAL
	// edge.
	Elevated EdgeThresholds
	Critical EdgeThresholds

	// ActionTTLs gives each action's decision time-to-live; actions absent
	// from the table use DefaultTTL.
	ActionTTLs map[domain.Action]time.Duration
	DefaultTTL time.Duration

	// RefreshSustained re-issues a decision for a pool holding at ELEVATED
	// or CRITICAL once the previously published decision's TTL has elapsed
	// and ingestion continues. With it disabled decisions are strictly
	// edge-triggered.
	RefreshSustained bool

	// IdleTTL controls the background sweep: pools back at WATCH with no
	// active contributions and no ingestion for IdleTTL are evicted from the
	// registry. Zero disables eviction.
	IdleTTL time.Duration

	// Now is the clock used for arrival, expiry, and decision timestamps.
	// Production leaves it nil (time.Now); tests inject a fake.
	Now func() time.Time
}

// DefaultConfig returns the production defaults. Tests typically raise Alpha
// and shrink the window for fast, deterministic convergence.
func DefaultConfig() Config {
	return Config{
		CorrelationWindow: 2 * time.Minute,
		Alpha:             0.35,
		SignalWeights: map[domain.SignalKind]float64{
			domain.SignalLargeSwap:      15,
			domain.SignalGasSpike:       10,
			domain.SignalFlashLoan:      20,
			domain.SignalMempoolCluster: 12,
			domain.SignalSandwich:       18,
		},
		AlertWeights: map[domain.AlertKind]float64{
			domain.AlertOracleManipulation: 60,
			domain.AlertCrossChainArb:      50,
			domain.AlertPriceDivergence:    45,
		},
		BaseThresholds: map[domain.AlertKind]float64{
			domain.AlertOracleManipulation: 8,
			domain.AlertCrossChainArb:      5,
			domain.AlertPriceDivergence:    5,
		},
		DefaultBaseThreshold: 10,
		Elevated:             EdgeThresholds{Up: 40, Down: 25},
		Critical:             EdgeThresholds{Up: 75, Down: 55},
		ActionTTLs: map[domain.Action]time.Duration{
			domain.ActionMEVProtection:    5 * time.Minute,
			domain.ActionFeeAdjustment:    10 * time.Minute,
			domain.ActionOracleValidation: 10 * time.Minute,
			domain.ActionCrossChainBlock:  15 * time.Minute,
			domain.ActionLiquidityReroute: 15 * time.Minute,
			domain.ActionCircuitBreaker:   30 * time.Minute,
		},
		DefaultTTL:       5 * time.Minute,
		RefreshSustained: true,
		IdleTTL:          30 * time.Minute,
	}
}

// Validate checks the configuration invariants and returns a combined error
// describing every problem found. The engine constructor fails fast on any
// violation rather than misbehaving later.
func (c *Config) Validate() error {
	var problems []string

	if c.CorrelationWindow <= 0 {
		problems = append(problems, "correlation window must be positive")
	}
	if c.Alpha <= 0 || c.Alpha > 1 {
		problems = append(problems, fmt.Sprintf("alpha must be in (0,1], got %g", c.Alpha))
	}
	if c.DefaultBaseThreshold <= 0 {
		problems = append(problems, "default base threshold must be positive")
	}
	for kind, base := range c.BaseThresholds {
		if base <= 0 {
			problems = append(problems, fmt.Sprintf("base threshold for %s must be positive", kind))
		}
	}
	if c.Elevated.Down >= c.Elevated.Up {
		problems = append(problems, fmt.Sprintf(
			"elevated edge: down threshold %g must be strictly less than up threshold %g",
			c.Elevated.Down, c.Elevated.Up))
	}
	if c.Critical.Down >= c.Critical.Up {
		problems = append(problems, fmt.Sprintf(
			"critical edge: down threshold %g must be strictly less than up threshold %g",
			c.Critical.Down, c.Critical.Up))
	}
	if c.Elevated.Up > c.Critical.Up {
		problems = append(problems, "elevated up threshold must not exceed critical up threshold")
	}
	if c.DefaultTTL <= 0 {
		problems = append(problems, "default decision TTL must be positive")
	}
	for action, ttl := range c.ActionTTLs {
		if ttl <= 0 {
			problems = append(problems, fmt.Sprintf("TTL for action %s must be positive", action))
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("engine config: %d problem(s): %v", len(problems), problems)
	}
	return nil
}

// clock returns the configured time source.
func (c *Config) clock() func() time.Time {
	if c.Now != nil {
		return c.Now
	}
	return time.Now
}

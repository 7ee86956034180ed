package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/dexguard/internal/domain"
)

const (
	poolWETH = domain.PoolKey("ethereum:WETH/USDC:0x88e6A0c2dDD26FEEb64F039a2c41296FcB3f5640")
	poolWBTC = domain.PoolKey("ethereum:WBTC/USDC:0x99ac8cA7087fA4A2A1FB6357269965A2014ABc35")
)

// fakeClock is a manually advanced time source shared by the engine and the
// test body.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// recorder collects every decision it receives.
type recorder struct {
	mu        sync.Mutex
	decisions []domain.Decision
}

func (r *recorder) Name() string { return "recorder" }

func (r *recorder) OnDecision(_ context.Context, d domain.Decision) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.decisions = append(r.decisions, d)
	return nil
}

func (r *recorder) All() []domain.Decision {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Decision, len(r.decisions))
	copy(out, r.decisions)
	return out
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestEngine builds a started engine on a fake clock with alpha 1, so the
// smoothed score tracks the raw score exactly and assertions stay exact.
func newTestEngine(t *testing.T, mutate func(*Config)) (*Engine, *fakeClock, *recorder) {
	t.Helper()
	clock := newFakeClock()
	cfg := DefaultConfig()
	cfg.Alpha = 1
	cfg.Now = clock.Now
	if mutate != nil {
		mutate(&cfg)
	}
	eng, err := New(cfg, testLogger())
	require.NoError(t, err)
	rec := &recorder{}
	eng.Subscribe(rec)
	eng.Start()
	return eng, clock, rec
}

func signal(kind domain.SignalKind, pool domain.PoolKey, magnitude float64) domain.WeakSignal {
	return domain.WeakSignal{
		Kind:      kind,
		Chain:     pool.Chain(),
		Pair:      pool.Pair(),
		PoolKey:   pool,
		Magnitude: magnitude,
	}
}

func alert(kind domain.AlertKind, pool domain.PoolKey, deviation float64) domain.StrongAlert {
	return domain.StrongAlert{
		Kind:      kind,
		Chain:     pool.Chain(),
		Pair:      pool.Pair(),
		PoolKey:   pool,
		Deviation: deviation,
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero window", func(c *Config) { c.CorrelationWindow = 0 }},
		{"alpha zero", func(c *Config) { c.Alpha = 0 }},
		{"alpha above one", func(c *Config) { c.Alpha = 1.2 }},
		{"inverted elevated edge", func(c *Config) { c.Elevated = EdgeThresholds{Up: 30, Down: 30} }},
		{"inverted critical edge", func(c *Config) { c.Critical = EdgeThresholds{Up: 50, Down: 60} }},
		{"zero default ttl", func(c *Config) { c.DefaultTTL = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			_, err := New(cfg, testLogger())
			require.Error(t, err)
		})
	}
}

func TestSubThresholdSignalsProduceNoDecision(t *testing.T) {
	eng, _, rec := newTestEngine(t, nil)
	ctx := context.Background()

	eng.IngestSignal(ctx, signal(domain.SignalLargeSwap, poolWETH, 0.5))
	eng.IngestSignal(ctx, signal(domain.SignalGasSpike, poolWETH, 0.3))

	assert.Empty(t, rec.All())

	snap, err := eng.Snapshot(poolWETH)
	require.NoError(t, err)
	assert.Equal(t, domain.TierWatch, snap.Tier)
	assert.Equal(t, 2, snap.ActiveContributions)
	assert.InDelta(t, 10.5, snap.Score, 1e-9) // 15*0.5 + 10*0.3
}

func TestMEVBurstEscalatesToCircuitBreaker(t *testing.T) {
	eng, _, rec := newTestEngine(t, nil)
	ctx := context.Background()

	// Five distinct saturated MEV signals inside one window. With alpha 1
	// the score walks 15, 35, 53, 65, 75.
	kinds := []domain.SignalKind{
		domain.SignalLargeSwap,
		domain.SignalFlashLoan,
		domain.SignalSandwich,
		domain.SignalMempoolCluster,
		domain.SignalGasSpike,
	}
	for _, k := range kinds {
		eng.IngestSignal(ctx, signal(k, poolWETH, 1))
	}

	decisions := rec.All()
	require.Len(t, decisions, 2)

	first := decisions[0]
	assert.Equal(t, domain.TierElevated, first.Tier)
	assert.Equal(t, domain.TriggerPromotion, first.Trigger)
	assert.Equal(t, domain.ActionMEVProtection, first.Action)
	assert.Len(t, first.Sources, 3)

	second := decisions[1]
	assert.Equal(t, domain.TierCritical, second.Tier)
	assert.Equal(t, domain.TriggerPromotion, second.Trigger)
	assert.Equal(t, domain.ActionCircuitBreaker, second.Action)
	assert.Equal(t, poolWETH, second.PoolKey)
	assert.InDelta(t, 75, second.Score, 1e-9)
	assert.NotEqual(t, first.ID, second.ID)
}

func TestOracleAlertTriggersOracleValidation(t *testing.T) {
	eng, _, rec := newTestEngine(t, nil)
	ctx := context.Background()

	// 12% deviation against an 8% base saturates magnitude; weight 60 puts
	// the score straight past the elevated edge.
	eng.IngestAlert(ctx, alert(domain.AlertOracleManipulation, poolWETH, 12))

	decisions := rec.All()
	require.Len(t, decisions, 1)
	d := decisions[0]
	assert.Equal(t, domain.TierElevated, d.Tier)
	assert.Equal(t, domain.ActionOracleValidation, d.Action)
	assert.InDelta(t, 60, d.Score, 1e-9)
	require.Len(t, d.Sources, 1)
	assert.Equal(t, string(domain.AlertOracleManipulation), d.Sources[0].Kind)
	assert.InDelta(t, 1, d.Sources[0].Magnitude, 1e-9)
}

func TestGasSpikeDominantSelectsFeeAdjustment(t *testing.T) {
	eng, _, rec := newTestEngine(t, nil)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		eng.IngestSignal(ctx, signal(domain.SignalGasSpike, poolWETH, 1))
	}

	decisions := rec.All()
	require.Len(t, decisions, 1)
	assert.Equal(t, domain.TierElevated, decisions[0].Tier)
	assert.Equal(t, domain.ActionFeeAdjustment, decisions[0].Action)
}

func TestCrossChainAlertsSelectBlockingActions(t *testing.T) {
	tests := []struct {
		name string
		kind domain.AlertKind
		want domain.Action
	}{
		{"arbitrage blocks cross-chain flow", domain.AlertCrossChainArb, domain.ActionCrossChainBlock},
		{"divergence reroutes liquidity", domain.AlertPriceDivergence, domain.ActionLiquidityReroute},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eng, _, rec := newTestEngine(t, nil)
			eng.IngestAlert(context.Background(), alert(tt.kind, poolWETH, 20))

			decisions := rec.All()
			require.Len(t, decisions, 1)
			assert.Equal(t, tt.want, decisions[0].Action)
		})
	}
}

func TestHysteresisHoldsInsideBandAndDemotesOnDecay(t *testing.T) {
	eng, clock, rec := newTestEngine(t, func(c *Config) {
		c.CorrelationWindow = time.Minute
		c.RefreshSustained = false
	})
	ctx := context.Background()

	// t0: two large swaps, score 30, still WATCH.
	eng.IngestSignal(ctx, signal(domain.SignalLargeSwap, poolWETH, 1))
	eng.IngestSignal(ctx, signal(domain.SignalLargeSwap, poolWETH, 1))
	assert.Empty(t, rec.All())

	// t0+30s: sandwich pattern lifts the score to 48, promoting.
	clock.Advance(30 * time.Second)
	eng.IngestSignal(ctx, signal(domain.SignalSandwich, poolWETH, 1))
	require.Len(t, rec.All(), 1)
	assert.Equal(t, domain.TierElevated, rec.All()[0].Tier)

	// t0+70s: the swaps from t0 have expired. A fresh swap leaves the score
	// at 33, inside the 25..40 band, so the tier holds with no chatter.
	clock.Advance(40 * time.Second)
	eng.IngestSignal(ctx, signal(domain.SignalLargeSwap, poolWETH, 1))
	require.Len(t, rec.All(), 1)
	snap, err := eng.Snapshot(poolWETH)
	require.NoError(t, err)
	assert.Equal(t, domain.TierElevated, snap.Tier)
	assert.InDelta(t, 33, snap.Score, 1e-9)

	// t0+100s: only the last swap survives; a near-zero gas blip recomputes
	// the score to ~15, below the demotion threshold.
	clock.Advance(30 * time.Second)
	eng.IngestSignal(ctx, signal(domain.SignalGasSpike, poolWETH, 0.01))
	decisions := rec.All()
	require.Len(t, decisions, 2)
	demotion := decisions[1]
	assert.Equal(t, domain.TierWatch, demotion.Tier)
	assert.Equal(t, domain.TriggerDemotion, demotion.Trigger)
	assert.Equal(t, domain.ActionNone, demotion.Action)
}

func TestCriticalDemotesOneTierAtATime(t *testing.T) {
	eng, clock, rec := newTestEngine(t, func(c *Config) {
		c.CorrelationWindow = time.Minute
		c.RefreshSustained = false
	})
	ctx := context.Background()

	for _, k := range []domain.SignalKind{
		domain.SignalLargeSwap, domain.SignalFlashLoan, domain.SignalSandwich,
		domain.SignalMempoolCluster, domain.SignalGasSpike,
	} {
		eng.IngestSignal(ctx, signal(k, poolWETH, 1))
	}
	require.Len(t, rec.All(), 2)
	require.Equal(t, domain.TierCritical, rec.All()[1].Tier)

	// Everything expires; the next blip drops the score to ~0 but the
	// machine only steps down one tier per evaluation.
	clock.Advance(2 * time.Minute)
	eng.IngestSignal(ctx, signal(domain.SignalGasSpike, poolWETH, 0.01))
	decisions := rec.All()
	require.Len(t, decisions, 3)
	assert.Equal(t, domain.TierElevated, decisions[2].Tier)
	assert.Equal(t, domain.TriggerDemotion, decisions[2].Trigger)

	eng.IngestSignal(ctx, signal(domain.SignalGasSpike, poolWETH, 0.01))
	decisions = rec.All()
	require.Len(t, decisions, 4)
	assert.Equal(t, domain.TierWatch, decisions[3].Tier)
	assert.Equal(t, domain.ActionNone, decisions[3].Action)
}

func TestPoolsAreIndependent(t *testing.T) {
	eng, _, rec := newTestEngine(t, nil)
	ctx := context.Background()

	eng.IngestAlert(ctx, alert(domain.AlertOracleManipulation, poolWETH, 12))
	eng.IngestSignal(ctx, signal(domain.SignalLargeSwap, poolWBTC, 0.2))

	decisions := rec.All()
	require.Len(t, decisions, 1)
	assert.Equal(t, poolWETH, decisions[0].PoolKey)

	wbtc, err := eng.Snapshot(poolWBTC)
	require.NoError(t, err)
	assert.Equal(t, domain.TierWatch, wbtc.Tier)
	assert.InDelta(t, 3, wbtc.Score, 1e-9)

	weth, err := eng.Snapshot(poolWETH)
	require.NoError(t, err)
	assert.Equal(t, domain.TierElevated, weth.Tier)
}

func TestIngestionDroppedWhileStopped(t *testing.T) {
	clock := newFakeClock()
	cfg := DefaultConfig()
	cfg.Alpha = 1
	cfg.Now = clock.Now
	eng, err := New(cfg, testLogger())
	require.NoError(t, err)
	rec := &recorder{}
	eng.Subscribe(rec)
	ctx := context.Background()

	// Before Start: dropped, no state created.
	eng.IngestAlert(ctx, alert(domain.AlertOracleManipulation, poolWETH, 12))
	assert.Zero(t, eng.PoolCount())
	assert.Empty(t, rec.All())

	eng.Start()
	eng.IngestSignal(ctx, signal(domain.SignalLargeSwap, poolWETH, 1))
	require.Equal(t, 1, eng.PoolCount())

	eng.Stop()
	eng.IngestSignal(ctx, signal(domain.SignalFlashLoan, poolWETH, 1))
	snap, err := eng.Snapshot(poolWETH)
	require.NoError(t, err)
	assert.Equal(t, 1, snap.ActiveContributions)
}

func TestMalformedInputsDropped(t *testing.T) {
	eng, _, rec := newTestEngine(t, nil)
	ctx := context.Background()

	eng.IngestSignal(ctx, domain.WeakSignal{Kind: domain.SignalLargeSwap, Magnitude: 1})
	eng.IngestAlert(ctx, domain.StrongAlert{Kind: domain.AlertOracleManipulation, Deviation: 50})

	assert.Zero(t, eng.PoolCount())
	assert.Empty(t, rec.All())
}

type failingSub struct{ calls int }

func (s *failingSub) Name() string { return "failing" }
func (s *failingSub) OnDecision(context.Context, domain.Decision) error {
	s.calls++
	return errors.New("sink unavailable")
}

type panickingSub struct{ calls int }

func (s *panickingSub) Name() string { return "panicking" }
func (s *panickingSub) OnDecision(context.Context, domain.Decision) error {
	s.calls++
	panic("sink exploded")
}

func TestSubscriberFailuresAreIsolated(t *testing.T) {
	clock := newFakeClock()
	cfg := DefaultConfig()
	cfg.Alpha = 1
	cfg.Now = clock.Now
	eng, err := New(cfg, testLogger())
	require.NoError(t, err)

	failing := &failingSub{}
	panicking := &panickingSub{}
	rec := &recorder{}
	eng.Subscribe(failing)
	eng.Subscribe(panicking)
	eng.Subscribe(rec)
	eng.Start()

	eng.IngestAlert(context.Background(), alert(domain.AlertOracleManipulation, poolWETH, 12))

	assert.Equal(t, 1, failing.calls)
	assert.Equal(t, 1, panicking.calls)
	require.Len(t, rec.All(), 1)

	// Engine state survived both failures.
	snap, err := eng.Snapshot(poolWETH)
	require.NoError(t, err)
	assert.Equal(t, domain.TierElevated, snap.Tier)
}

func TestSustainedThreatRefreshesDecision(t *testing.T) {
	eng, clock, rec := newTestEngine(t, func(c *Config) {
		c.CorrelationWindow = time.Hour
		// Repeated saturated alerts clamp the score at 100; keep that below
		// the critical edge so the pool holds at ELEVATED.
		c.Critical = EdgeThresholds{Up: 500, Down: 55}
		c.ActionTTLs = map[domain.Action]time.Duration{
			domain.ActionOracleValidation: time.Minute,
		}
		c.DefaultTTL = time.Minute
	})
	ctx := context.Background()

	eng.IngestAlert(ctx, alert(domain.AlertOracleManipulation, poolWETH, 12))
	require.Len(t, rec.All(), 1)

	// Within the TTL a repeat alert changes nothing.
	clock.Advance(30 * time.Second)
	eng.IngestAlert(ctx, alert(domain.AlertOracleManipulation, poolWETH, 12))
	require.Len(t, rec.All(), 1)

	// Past the TTL the sustained threat is re-announced.
	clock.Advance(2 * time.Minute)
	eng.IngestAlert(ctx, alert(domain.AlertOracleManipulation, poolWETH, 12))
	decisions := rec.All()
	require.Len(t, decisions, 2)
	refresh := decisions[1]
	assert.Equal(t, domain.TriggerRefresh, refresh.Trigger)
	assert.Equal(t, domain.TierElevated, refresh.Tier)
	assert.Equal(t, domain.ActionOracleValidation, refresh.Action)
	assert.NotEqual(t, decisions[0].ID, refresh.ID)
}

func TestIdleSweepEvictsQuietWatchPools(t *testing.T) {
	eng, clock, _ := newTestEngine(t, func(c *Config) {
		c.IdleTTL = 10 * time.Minute
	})
	ctx := context.Background()

	eng.IngestSignal(ctx, signal(domain.SignalLargeSwap, poolWETH, 0.2))
	eng.IngestAlert(ctx, alert(domain.AlertOracleManipulation, poolWBTC, 12))
	require.Equal(t, 2, eng.PoolCount())

	clock.Advance(15 * time.Minute)
	eng.sweepIdle(clock.Now())

	// The quiet WATCH pool is gone; the elevated pool is retained.
	_, err := eng.Snapshot(poolWETH)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	elevated, err := eng.Snapshot(poolWBTC)
	require.NoError(t, err)
	assert.Equal(t, domain.TierElevated, elevated.Tier)
	assert.Equal(t, 1, eng.PoolCount())
}

func TestIngestionRacingIdleEvictionIsNotLost(t *testing.T) {
	eng, clock, _ := newTestEngine(t, func(c *Config) {
		c.IdleTTL = 10 * time.Minute
	})
	ctx := context.Background()

	eng.IngestSignal(ctx, signal(domain.SignalLargeSwap, poolWETH, 0.2))

	// An in-flight ingest resolves its pool pointer, then the sweep evicts
	// the pool before the ingest takes the pool lock.
	stale := eng.pool(poolWETH, poolWETH.Chain(), poolWETH.Pair())
	clock.Advance(15 * time.Minute)
	eng.sweepIdle(clock.Now())
	_, err := eng.Snapshot(poolWETH)
	require.ErrorIs(t, err, domain.ErrNotFound)

	// Continuing against the stale pointer refuses to mutate the orphan.
	now := eng.now()
	c := eng.normalizeSignal(signal(domain.SignalLargeSwap, poolWETH, 1), now)
	_, ok := eng.tryApply(stale, poolWETH, c, now)
	assert.False(t, ok)
	stale.mu.Lock()
	assert.Empty(t, stale.contributions)
	stale.mu.Unlock()

	// The full ingest path retries onto a fresh live state, so the
	// contribution lands and the pool is tracked again.
	eng.IngestSignal(ctx, signal(domain.SignalLargeSwap, poolWETH, 1))
	snap, err := eng.Snapshot(poolWETH)
	require.NoError(t, err)
	assert.Equal(t, 1, snap.ActiveContributions)
	assert.Equal(t, 1, eng.PoolCount())
}

func TestSnapshotUnknownPool(t *testing.T) {
	eng, _, _ := newTestEngine(t, nil)
	_, err := eng.Snapshot(poolWETH)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSnapshotsSortedByKey(t *testing.T) {
	eng, _, _ := newTestEngine(t, nil)
	ctx := context.Background()

	eng.IngestSignal(ctx, signal(domain.SignalLargeSwap, poolWBTC, 0.5))
	eng.IngestSignal(ctx, signal(domain.SignalLargeSwap, poolWETH, 0.5))

	snaps := eng.Snapshots()
	require.Len(t, snaps, 2)
	assert.Equal(t, poolWBTC, snaps[0].Key)
	assert.Equal(t, poolWETH, snaps[1].Key)
}

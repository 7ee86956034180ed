package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/dexguard/internal/domain"
)

func TestNormalizeSignal(t *testing.T) {
	cfg := DefaultConfig()
	eng, err := New(cfg, testLogger())
	require.NoError(t, err)
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name          string
		kind          domain.SignalKind
		magnitude     float64
		wantWeight    float64
		wantMagnitude float64
	}{
		{"known kind", domain.SignalFlashLoan, 0.6, 20, 0.6},
		{"unknown kind gets weight one", domain.SignalKind("DUST_ATTACK"), 0.5, 1, 0.5},
		{"magnitude clamped high", domain.SignalLargeSwap, 3.5, 15, 1},
		{"magnitude clamped low", domain.SignalGasSpike, -0.2, 10, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := eng.normalizeSignal(domain.WeakSignal{Kind: tt.kind, Magnitude: tt.magnitude}, now)
			assert.Equal(t, string(tt.kind), c.sourceKind)
			assert.Equal(t, tt.wantWeight, c.weight)
			assert.InDelta(t, tt.wantMagnitude, c.magnitude, 1e-9)
			assert.Equal(t, now, c.arrivedAt)
			assert.Equal(t, now.Add(cfg.CorrelationWindow), c.expiresAt)
			assert.False(t, c.fromAlert)
		})
	}
}

func TestNormalizeAlert(t *testing.T) {
	cfg := DefaultConfig()
	eng, err := New(cfg, testLogger())
	require.NoError(t, err)
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name          string
		kind          domain.AlertKind
		deviation     float64
		wantWeight    float64
		wantMagnitude float64
	}{
		{"below base scales linearly", domain.AlertOracleManipulation, 4, 60, 0.5},
		{"at base saturates", domain.AlertPriceDivergence, 5, 45, 1},
		{"above base stays saturated", domain.AlertCrossChainArb, 40, 50, 1},
		{"unknown kind uses default base", domain.AlertKind("GOVERNANCE_ATTACK"), 5, 1, 0.5},
		{"negative deviation clamps to zero", domain.AlertPriceDivergence, -3, 45, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := eng.normalizeAlert(domain.StrongAlert{Kind: tt.kind, Deviation: tt.deviation}, now)
			assert.Equal(t, tt.wantWeight, c.weight)
			assert.InDelta(t, tt.wantMagnitude, c.magnitude, 1e-9)
			assert.True(t, c.fromAlert)
		})
	}
}

func TestPruneExpiredStopsAtFirstLiveEntry(t *testing.T) {
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	ps := &poolState{
		contributions: []contribution{
			{sourceKind: "a", expiresAt: now.Add(-time.Minute)},
			{sourceKind: "b", expiresAt: now}, // expiry is exclusive
			{sourceKind: "c", expiresAt: now.Add(time.Second)},
			{sourceKind: "d", expiresAt: now.Add(time.Minute)},
		},
	}

	pruneExpired(ps, now)

	require.Len(t, ps.contributions, 2)
	assert.Equal(t, "c", ps.contributions[0].sourceKind)
	assert.Equal(t, "d", ps.contributions[1].sourceKind)

	// Nothing expired: no-op.
	pruneExpired(ps, now)
	assert.Len(t, ps.contributions, 2)

	// Everything expired: empty but non-nil backing handling.
	pruneExpired(ps, now.Add(time.Hour))
	assert.Empty(t, ps.contributions)
}

func TestRawScoreClampedToHundred(t *testing.T) {
	contributions := []contribution{
		{weight: 60, magnitude: 1},
		{weight: 60, magnitude: 1},
		{weight: 50, magnitude: 1},
	}
	assert.Equal(t, 100.0, rawScore(contributions))
	assert.Equal(t, 0.0, rawScore(nil))
	assert.InDelta(t, 7.5, rawScore([]contribution{{weight: 15, magnitude: 0.5}}), 1e-9)
}

package detector

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/dexguard/internal/domain"
)

const testPool = domain.PoolKey("ethereum:WETH/USDC:0x88e6A0c2dDD26FEEb64F039a2c41296FcB3f5640")

var t0 = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestLargeSwapThresholdAndMagnitude(t *testing.T) {
	d := NewLargeSwap(Config{Name: "large_swap"}, discard())
	ctx := context.Background()

	small, err := d.OnSwap(ctx, domain.SwapEvent{PoolKey: testPool, AmountUSD: 100_000, Timestamp: t0})
	require.NoError(t, err)
	assert.True(t, small.Empty())

	big, err := d.OnSwap(ctx, domain.SwapEvent{
		Chain: "ethereum", Pair: "WETH/USDC", PoolKey: testPool,
		AmountUSD: 5_000_000, Timestamp: t0,
	})
	require.NoError(t, err)
	require.Len(t, big.Signals, 1)
	sig := big.Signals[0]
	assert.Equal(t, domain.SignalLargeSwap, sig.Kind)
	assert.Equal(t, testPool, sig.PoolKey)
	assert.InDelta(t, 1, sig.Magnitude, 1e-9)

	mid, err := d.OnSwap(ctx, domain.SwapEvent{PoolKey: testPool, AmountUSD: 2_625_000, Timestamp: t0})
	require.NoError(t, err)
	require.Len(t, mid.Signals, 1)
	assert.InDelta(t, 0.5, mid.Signals[0].Magnitude, 1e-9)
}

func TestFlashLoanScoresWithFloor(t *testing.T) {
	d := NewFlashLoan(Config{Name: "flash_loan"}, discard())
	ctx := context.Background()

	below, err := d.OnFlashLoan(ctx, domain.FlashLoanEvent{PoolKey: testPool, AmountUSD: 50_000})
	require.NoError(t, err)
	assert.True(t, below.Empty())

	at, err := d.OnFlashLoan(ctx, domain.FlashLoanEvent{PoolKey: testPool, AmountUSD: 100_000, Timestamp: t0})
	require.NoError(t, err)
	require.Len(t, at.Signals, 1)
	assert.InDelta(t, 0.3, at.Signals[0].Magnitude, 1e-9)
	assert.Equal(t, domain.SignalFlashLoan, at.Signals[0].Kind)
}

func TestMempoolClusterNeedsCrowd(t *testing.T) {
	d := NewMempoolCluster(Config{Name: "mempool_cluster"}, discard())
	ctx := context.Background()

	// One sender spamming five transactions is not a cluster.
	for i := 0; i < 5; i++ {
		em, err := d.OnPendingTx(ctx, domain.PendingTx{
			PoolKey: testPool, Hash: fmt.Sprintf("0xaa%02d", i), From: "0xbot",
			Timestamp: t0.Add(time.Duration(i) * time.Second),
		})
		require.NoError(t, err)
		assert.True(t, em.Empty())
	}

	// A second sender completes the crowd.
	em, err := d.OnPendingTx(ctx, domain.PendingTx{
		Chain: "ethereum", Pair: "WETH/USDC", PoolKey: testPool,
		Hash: "0xbb01", From: "0xother", Timestamp: t0.Add(5 * time.Second),
	})
	require.NoError(t, err)
	require.Len(t, em.Signals, 1)
	assert.Equal(t, domain.SignalMempoolCluster, em.Signals[0].Kind)
	assert.Greater(t, em.Signals[0].Magnitude, 0.0)
}

func TestMempoolClusterWindowSlides(t *testing.T) {
	d := NewMempoolCluster(Config{Name: "mempool_cluster", Params: map[string]any{"window_seconds": int64(10)}}, discard())
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		from := "0xa"
		if i%2 == 0 {
			from = "0xb"
		}
		_, err := d.OnPendingTx(ctx, domain.PendingTx{
			PoolKey: testPool, Hash: fmt.Sprintf("0x%02d", i), From: from, Timestamp: t0,
		})
		require.NoError(t, err)
	}

	// Thirty seconds later the old burst has aged out.
	em, err := d.OnPendingTx(ctx, domain.PendingTx{
		PoolKey: testPool, Hash: "0xff", From: "0xc", Timestamp: t0.Add(30 * time.Second),
	})
	require.NoError(t, err)
	assert.True(t, em.Empty())
}

func TestSandwichDetectsBracket(t *testing.T) {
	d := NewSandwich(Config{Name: "sandwich"}, discard())
	ctx := context.Background()

	front, err := d.OnPendingTx(ctx, domain.PendingTx{
		PoolKey: testPool, Hash: "0xf1", From: "0xattacker", Timestamp: t0,
	})
	require.NoError(t, err)
	assert.True(t, front.Empty())

	_, err = d.OnSwap(ctx, domain.SwapEvent{
		PoolKey: testPool, Trader: "0xvictim", AmountUSD: 500_000, Timestamp: t0.Add(2 * time.Second),
	})
	require.NoError(t, err)

	back, err := d.OnPendingTx(ctx, domain.PendingTx{
		Chain: "ethereum", Pair: "WETH/USDC", PoolKey: testPool,
		Hash: "0xf2", From: "0xattacker", Timestamp: t0.Add(4 * time.Second),
	})
	require.NoError(t, err)
	require.Len(t, back.Signals, 1)
	sig := back.Signals[0]
	assert.Equal(t, domain.SignalSandwich, sig.Kind)
	assert.GreaterOrEqual(t, sig.Magnitude, 0.5)
}

func TestSandwichIgnoresSmallVictims(t *testing.T) {
	d := NewSandwich(Config{Name: "sandwich"}, discard())
	ctx := context.Background()

	_, err := d.OnPendingTx(ctx, domain.PendingTx{PoolKey: testPool, Hash: "0xf1", From: "0xattacker", Timestamp: t0})
	require.NoError(t, err)
	_, err = d.OnSwap(ctx, domain.SwapEvent{PoolKey: testPool, Trader: "0xvictim", AmountUSD: 1_000, Timestamp: t0.Add(time.Second)})
	require.NoError(t, err)

	back, err := d.OnPendingTx(ctx, domain.PendingTx{PoolKey: testPool, Hash: "0xf2", From: "0xattacker", Timestamp: t0.Add(2 * time.Second)})
	require.NoError(t, err)
	assert.True(t, back.Empty())
}

func TestGasTrackerSpikesOverBaseline(t *testing.T) {
	d := NewGasTracker(Config{Name: "gas_tracker", Params: map[string]any{"min_samples": int64(5)}}, nil, nil, "ethereum", discard())
	ctx := context.Background()

	// Build the baseline at ~20 gwei.
	for i := 0; i < 5; i++ {
		em, err := d.OnPendingTx(ctx, domain.PendingTx{
			Chain: "ethereum", PoolKey: testPool, GasPriceGwei: 20,
			Timestamp: t0.Add(time.Duration(i) * time.Second),
		})
		require.NoError(t, err)
		assert.True(t, em.Empty())
	}

	// 100 gwei is a 5x outlier: saturated spike.
	em, err := d.OnPendingTx(ctx, domain.PendingTx{
		Chain: "ethereum", Pair: "WETH/USDC", PoolKey: testPool,
		GasPriceGwei: 100, Timestamp: t0.Add(10 * time.Second),
	})
	require.NoError(t, err)
	require.Len(t, em.Signals, 1)
	assert.Equal(t, domain.SignalGasSpike, em.Signals[0].Kind)
	assert.InDelta(t, 1, em.Signals[0].Magnitude, 1e-9)

	// A mild bid right after still compares against the clean baseline.
	mild, err := d.OnPendingTx(ctx, domain.PendingTx{
		Chain: "ethereum", PoolKey: testPool, GasPriceGwei: 22,
		Timestamp: t0.Add(11 * time.Second),
	})
	require.NoError(t, err)
	assert.True(t, mild.Empty())
}

func TestOracleCheckerFlagsDeviation(t *testing.T) {
	d := NewOracleChecker(Config{Name: "oracle_checker"}, discard())
	ctx := context.Background()

	_, err := d.OnPriceTick(ctx, domain.PriceTick{
		Chain: "ethereum", Pair: "WETH/USDC", Source: domain.PriceSourceOracle,
		Venue: "chainlink", Price: "2000", Timestamp: t0,
	})
	require.NoError(t, err)

	// 1% off: under the default 2% bar.
	quiet, err := d.OnPriceTick(ctx, domain.PriceTick{
		Chain: "ethereum", Pair: "WETH/USDC", PoolKey: testPool,
		Source: domain.PriceSourceDEX, Venue: "uniswap", Price: "2020", Timestamp: t0.Add(5 * time.Second),
	})
	require.NoError(t, err)
	assert.True(t, quiet.Empty())

	// 10% off: alert with exact decimal deviation and evidence attached.
	em, err := d.OnPriceTick(ctx, domain.PriceTick{
		Chain: "ethereum", Pair: "WETH/USDC", PoolKey: testPool,
		Source: domain.PriceSourceDEX, Venue: "uniswap", Price: "2200", Timestamp: t0.Add(6 * time.Second),
	})
	require.NoError(t, err)
	require.Len(t, em.Alerts, 1)
	alert := em.Alerts[0]
	assert.Equal(t, domain.AlertOracleManipulation, alert.Kind)
	assert.InDelta(t, 10, alert.Deviation, 1e-9)
	assert.Equal(t, "2200", alert.Evidence["dex_price"])
	assert.Equal(t, "chainlink", alert.Evidence["oracle_venue"])
}

func TestOracleCheckerIgnoresStaleOracle(t *testing.T) {
	d := NewOracleChecker(Config{Name: "oracle_checker"}, discard())
	ctx := context.Background()

	_, err := d.OnPriceTick(ctx, domain.PriceTick{
		Chain: "ethereum", Pair: "WETH/USDC", Source: domain.PriceSourceOracle,
		Price: "2000", Timestamp: t0,
	})
	require.NoError(t, err)

	em, err := d.OnPriceTick(ctx, domain.PriceTick{
		Chain: "ethereum", Pair: "WETH/USDC", PoolKey: testPool,
		Source: domain.PriceSourceDEX, Price: "2500", Timestamp: t0.Add(5 * time.Minute),
	})
	require.NoError(t, err)
	assert.True(t, em.Empty())
}

func TestCrossChainSelectsKindBySpread(t *testing.T) {
	tests := []struct {
		name        string
		remotePrice string
		localPrice  string
		wantKind    domain.AlertKind
		wantEmpty   bool
	}{
		{"tight spread stays quiet", "2000", "2010", "", true},
		{"moderate spread diverges", "2000", "2040", domain.AlertPriceDivergence, false},
		{"wide spread is arbitrage", "2000", "2100", domain.AlertCrossChainArb, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewCrossChain(Config{Name: "cross_chain"}, discard())
			ctx := context.Background()

			_, err := d.OnPriceTick(ctx, domain.PriceTick{
				Chain: "arbitrum", Pair: "WETH/USDC", Source: domain.PriceSourceDEX,
				Price: tt.remotePrice, Timestamp: t0,
			})
			require.NoError(t, err)

			em, err := d.OnPriceTick(ctx, domain.PriceTick{
				Chain: "ethereum", Pair: "WETH/USDC", PoolKey: testPool,
				Source: domain.PriceSourceDEX, Price: tt.localPrice, Timestamp: t0.Add(5 * time.Second),
			})
			require.NoError(t, err)
			if tt.wantEmpty {
				assert.True(t, em.Empty())
				return
			}
			require.Len(t, em.Alerts, 1)
			assert.Equal(t, tt.wantKind, em.Alerts[0].Kind)
			assert.Equal(t, "arbitrum", em.Alerts[0].Evidence["remote_chain"])
		})
	}
}

func TestRegistryTracksInfo(t *testing.T) {
	r := NewRegistry()
	r.Register("large_swap", NewLargeSwap(Config{}, discard()))
	r.Register("sandwich", NewSandwich(Config{}, discard()))

	assert.Equal(t, []string{"large_swap", "sandwich"}, r.List())

	_, err := r.Get("missing")
	require.Error(t, err)

	r.RecordEmission("sandwich", 1, 0)
	r.RecordError("sandwich")
	infos := r.ListInfo()
	require.Len(t, infos, 2)
	assert.Equal(t, "pending", infos[0].Status)
	assert.Equal(t, "running", infos[1].Status)
	assert.Equal(t, int64(1), infos[1].SignalsSent)
	assert.Equal(t, int64(1), infos[1].ErrorCount)
}

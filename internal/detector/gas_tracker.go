package detector

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/alanyoungcy/dexguard/internal/budget"
	"github.com/alanyoungcy/dexguard/internal/domain"
)

const (
	defaultSpikeMultiplier      = 2.0
	defaultSaturationMultiplier = 5.0
	defaultBaselineAlpha        = 0.1
	defaultBaselineMinSamples   = 10
	defaultGasPollInterval      = 15 * time.Second
)

// GasPriceSource supplies a chain's current suggested gas price.
// *ethclient.Client satisfies it.
type GasPriceSource interface {
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
}

// DialGasSource connects an RPC endpoint for use as a GasPriceSource.
func DialGasSource(ctx context.Context, rpcURL string) (*ethclient.Client, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("detector: dial gas source: %w", err)
	}
	return client, nil
}

// gasBaseline is a per-chain EMA of observed gas prices in gwei.
type gasBaseline struct {
	ema     float64
	samples int
}

// GasTracker maintains a per-chain gas price baseline and emits a GAS_SPIKE
// signal when a pending transaction bids far above it. Mempool observations
// feed the baseline for free; an optional polling loop tops it up from RPC
// through the shared request budget when the mempool is quiet.
type GasTracker struct {
	cfg    Config
	logger *slog.Logger
	source GasPriceSource
	bucket *budget.Bucket
	chain  string

	mu        sync.Mutex
	baselines map[string]*gasBaseline
}

// NewGasTracker creates a GasTracker. source and bucket may be nil, in which
// case the polling loop is disabled and only mempool observations feed the
// baseline. Params:
//
//   - "spike_multiplier" (float64): ratio over baseline that starts
//     signalling. Defaults to 2.
//   - "saturation_multiplier" (float64): ratio at which magnitude saturates.
//     Defaults to 5.
//   - "baseline_alpha" (float64): baseline EMA smoothing. Defaults to 0.1.
//   - "min_samples" (int): observations required before spikes are judged.
//     Defaults to 10.
//   - "poll_interval_seconds" (int): base RPC polling interval. Defaults to 15.
func NewGasTracker(cfg Config, source GasPriceSource, bucket *budget.Bucket, chain string, logger *slog.Logger) *GasTracker {
	return &GasTracker{
		cfg:       cfg,
		logger:    logger.With(slog.String("detector", "gas_tracker")),
		source:    source,
		bucket:    bucket,
		chain:     chain,
		baselines: make(map[string]*gasBaseline),
	}
}

// Name returns the detector identifier.
func (d *GasTracker) Name() string { return "gas_tracker" }

// Init is a no-op; the polling loop is started separately via Run.
func (d *GasTracker) Init(_ context.Context) error { return nil }

// OnSwap is a no-op for GasTracker.
func (d *GasTracker) OnSwap(_ context.Context, _ domain.SwapEvent) (Emissions, error) {
	return Emissions{}, nil
}

// OnPendingTx folds the transaction's gas bid into the chain baseline and
// emits a GAS_SPIKE signal when the bid is a clear outlier.
func (d *GasTracker) OnPendingTx(_ context.Context, tx domain.PendingTx) (Emissions, error) {
	if tx.GasPriceGwei <= 0 {
		return Emissions{}, nil
	}

	spikeAt := d.cfg.paramFloat("spike_multiplier", defaultSpikeMultiplier)
	saturateAt := d.cfg.paramFloat("saturation_multiplier", defaultSaturationMultiplier)
	if saturateAt <= spikeAt {
		saturateAt = spikeAt * 2
	}
	minSamples := d.cfg.paramInt("min_samples", defaultBaselineMinSamples)

	d.mu.Lock()
	b := d.baselines[tx.Chain]
	if b == nil {
		b = &gasBaseline{}
		d.baselines[tx.Chain] = b
	}
	ready := b.samples >= minSamples
	baseline := b.ema
	ratio := 0.0
	if ready && baseline > 0 {
		ratio = tx.GasPriceGwei / baseline
	}
	// Outlier bids are excluded from the baseline so an attack cannot raise
	// its own bar.
	if !ready || ratio < spikeAt {
		d.observeLocked(b, tx.GasPriceGwei)
	}
	d.mu.Unlock()

	if !ready || ratio < spikeAt {
		return Emissions{}, nil
	}

	magnitude := (ratio - spikeAt) / (saturateAt - spikeAt)
	if magnitude > 1 {
		magnitude = 1
	}
	if magnitude < 0.1 {
		magnitude = 0.1
	}

	d.logger.Debug("gas spike observed",
		slog.String("pool", string(tx.PoolKey)),
		slog.Float64("gas_gwei", tx.GasPriceGwei),
		slog.Float64("baseline_gwei", baseline),
	)

	return Emissions{Signals: []domain.WeakSignal{{
		Kind:       domain.SignalGasSpike,
		Chain:      tx.Chain,
		Pair:       tx.Pair,
		PoolKey:    tx.PoolKey,
		ObservedAt: tx.Timestamp,
		Magnitude:  magnitude,
	}}}, nil
}

// OnFlashLoan is a no-op for GasTracker.
func (d *GasTracker) OnFlashLoan(_ context.Context, _ domain.FlashLoanEvent) (Emissions, error) {
	return Emissions{}, nil
}

// OnPriceTick is a no-op for GasTracker.
func (d *GasTracker) OnPriceTick(_ context.Context, _ domain.PriceTick) (Emissions, error) {
	return Emissions{}, nil
}

// Close is a no-op; the RPC client is owned by the caller.
func (d *GasTracker) Close() error { return nil }

// Run polls the RPC source to keep the baseline warm while the mempool feed
// is quiet. Every request goes through the shared budget; when the budget
// runs dry the loop stretches its interval instead of queueing. Run returns
// when ctx is cancelled, or immediately when no source is configured.
func (d *GasTracker) Run(ctx context.Context) error {
	if d.source == nil || d.bucket == nil {
		return nil
	}
	base := time.Duration(d.cfg.paramInt("poll_interval_seconds", int(defaultGasPollInterval/time.Second))) * time.Second

	timer := time.NewTimer(base)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}

		if d.bucket.TryConsume() {
			d.poll(ctx)
		}
		timer.Reset(d.bucket.RecommendedInterval(base))
	}
}

func (d *GasTracker) poll(ctx context.Context) {
	pollCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	price, err := d.source.SuggestGasPrice(pollCtx)
	if err != nil {
		d.logger.Warn("gas price poll failed", slog.String("error", err.Error()))
		return
	}
	gwei, _ := new(big.Float).Quo(new(big.Float).SetInt(price), big.NewFloat(1e9)).Float64()
	if gwei <= 0 {
		return
	}

	d.mu.Lock()
	b := d.baselines[d.chain]
	if b == nil {
		b = &gasBaseline{}
		d.baselines[d.chain] = b
	}
	d.observeLocked(b, gwei)
	d.mu.Unlock()
}

// observeLocked folds one gas observation into the baseline EMA.
func (d *GasTracker) observeLocked(b *gasBaseline, gwei float64) {
	alpha := d.cfg.paramFloat("baseline_alpha", defaultBaselineAlpha)
	if b.samples == 0 {
		b.ema = gwei
	} else {
		b.ema = alpha*gwei + (1-alpha)*b.ema
	}
	b.samples++
}

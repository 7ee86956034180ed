package detector

import (
	"context"
	"log/slog"

	"github.com/alanyoungcy/dexguard/internal/domain"
)

const (
	defaultMinSwapUSD        = 250_000
	defaultSwapSaturationUSD = 5_000_000
)

// LargeSwap emits a LARGE_SWAP signal for swaps big enough to move the pool.
// Magnitude scales linearly from the minimum notional up to the saturation
// notional.
type LargeSwap struct {
	cfg    Config
	logger *slog.Logger
}

// NewLargeSwap creates a LargeSwap detector. The following keys are read
// from cfg.Params:
//
//   - "min_amount_usd" (float64): notional below which swaps are ignored.
//     Defaults to 250000.
//   - "saturation_usd" (float64): notional at which the signal magnitude
//     saturates at 1. Defaults to 5000000.
func NewLargeSwap(cfg Config, logger *slog.Logger) *LargeSwap {
	return &LargeSwap{
		cfg:    cfg,
		logger: logger.With(slog.String("detector", "large_swap")),
	}
}

// Name returns the detector identifier.
func (d *LargeSwap) Name() string { return "large_swap" }

// Init performs any one-time setup. For LargeSwap this is a no-op.
func (d *LargeSwap) Init(_ context.Context) error { return nil }

// OnSwap checks the swap's notional against the minimum and emits a
// LARGE_SWAP signal when it qualifies.
func (d *LargeSwap) OnSwap(_ context.Context, ev domain.SwapEvent) (Emissions, error) {
	min := d.cfg.paramFloat("min_amount_usd", defaultMinSwapUSD)
	if ev.AmountUSD < min {
		return Emissions{}, nil
	}

	saturation := d.cfg.paramFloat("saturation_usd", defaultSwapSaturationUSD)
	if saturation <= min {
		saturation = min * 2
	}
	magnitude := (ev.AmountUSD - min) / (saturation - min)
	if magnitude > 1 {
		magnitude = 1
	}
	if magnitude < 0.05 {
		magnitude = 0.05
	}

	d.logger.Debug("large swap observed",
		slog.String("pool", string(ev.PoolKey)),
		slog.Float64("amount_usd", ev.AmountUSD),
		slog.Float64("magnitude", magnitude),
	)

	return Emissions{Signals: []domain.WeakSignal{{
		Kind:       domain.SignalLargeSwap,
		Chain:      ev.Chain,
		Pair:       ev.Pair,
		PoolKey:    ev.PoolKey,
		ObservedAt: ev.Timestamp,
		Magnitude:  magnitude,
	}}}, nil
}

// OnPendingTx is a no-op for LargeSwap.
func (d *LargeSwap) OnPendingTx(_ context.Context, _ domain.PendingTx) (Emissions, error) {
	return Emissions{}, nil
}

// OnFlashLoan is a no-op for LargeSwap.
func (d *LargeSwap) OnFlashLoan(_ context.Context, _ domain.FlashLoanEvent) (Emissions, error) {
	return Emissions{}, nil
}

// OnPriceTick is a no-op for LargeSwap.
func (d *LargeSwap) OnPriceTick(_ context.Context, _ domain.PriceTick) (Emissions, error) {
	return Emissions{}, nil
}

// Close releases resources. LargeSwap has nothing to release.
func (d *LargeSwap) Close() error { return nil }

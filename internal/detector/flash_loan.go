package detector

import (
	"context"
	"log/slog"

	"github.com/alanyoungcy/dexguard/internal/domain"
)

const (
	defaultMinLoanUSD        = 100_000
	defaultLoanSaturationUSD = 10_000_000
)

// FlashLoan emits a FLASH_LOAN signal whenever a flash loan above the
// minimum notional touches a watched pool. Flash loans are the standard
// funding leg for oracle manipulation and large sandwich attacks, so even a
// modest loan scores.
type FlashLoan struct {
	cfg    Config
	logger *slog.Logger
}

// NewFlashLoan creates a FlashLoan detector. Params: "min_amount_usd"
// (default 100000) and "saturation_usd" (default 10000000).
func NewFlashLoan(cfg Config, logger *slog.Logger) *FlashLoan {
	return &FlashLoan{
		cfg:    cfg,
		logger: logger.With(slog.String("detector", "flash_loan")),
	}
}

// Name returns the detector identifier.
func (d *FlashLoan) Name() string { return "flash_loan" }

// Init is a no-op.
func (d *FlashLoan) Init(_ context.Context) error { return nil }

// OnSwap is a no-op for FlashLoan.
func (d *FlashLoan) OnSwap(_ context.Context, _ domain.SwapEvent) (Emissions, error) {
	return Emissions{}, nil
}

// OnPendingTx is a no-op for FlashLoan.
func (d *FlashLoan) OnPendingTx(_ context.Context, _ domain.PendingTx) (Emissions, error) {
	return Emissions{}, nil
}

// OnFlashLoan scores the loan. A qualifying loan never scores below 0.3:
// the fact of flash funding matters more than its exact size.
func (d *FlashLoan) OnFlashLoan(_ context.Context, ev domain.FlashLoanEvent) (Emissions, error) {
	min := d.cfg.paramFloat("min_amount_usd", defaultMinLoanUSD)
	if ev.AmountUSD < min {
		return Emissions{}, nil
	}

	saturation := d.cfg.paramFloat("saturation_usd", defaultLoanSaturationUSD)
	if saturation <= min {
		saturation = min * 2
	}
	magnitude := 0.3 + 0.7*(ev.AmountUSD-min)/(saturation-min)
	if magnitude > 1 {
		magnitude = 1
	}

	d.logger.Info("flash loan observed",
		slog.String("pool", string(ev.PoolKey)),
		slog.String("provider", ev.Provider),
		slog.Float64("amount_usd", ev.AmountUSD),
	)

	return Emissions{Signals: []domain.WeakSignal{{
		Kind:       domain.SignalFlashLoan,
		Chain:      ev.Chain,
		Pair:       ev.Pair,
		PoolKey:    ev.PoolKey,
		ObservedAt: ev.Timestamp,
		Magnitude:  magnitude,
	}}}, nil
}

// OnPriceTick is a no-op for FlashLoan.
func (d *FlashLoan) OnPriceTick(_ context.Context, _ domain.PriceTick) (Emissions, error) {
	return Emissions{}, nil
}

// Close is a no-op.
func (d *FlashLoan) Close() error { return nil }

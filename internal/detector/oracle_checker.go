package detector

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/dexguard/internal/domain"
)

const (
	defaultOracleMinDeviationPct = 2.0
	defaultOracleFreshness       = 30 * time.Second
)

// OracleChecker cross-checks DEX pool prices against oracle feeds and raises
// an ORACLE_MANIPULATION alert when they disagree beyond the minimum
// deviation. Prices are compared as decimals; the feed delivers them as
// strings precisely so this comparison does not inherit float error.
type OracleChecker struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	oracles map[string]priceObservation // keyed by chain|pair
}

type priceObservation struct {
	price decimal.Decimal
	venue string
	at    time.Time
}

// NewOracleChecker creates an OracleChecker. Params: "min_deviation_pct"
// (default 2) and "freshness_seconds" (default 30) bounding how stale an
// oracle observation may be and still count.
func NewOracleChecker(cfg Config, logger *slog.Logger) *OracleChecker {
	return &OracleChecker{
		cfg:     cfg,
		logger:  logger.With(slog.String("detector", "oracle_checker")),
		oracles: make(map[string]priceObservation),
	}
}

// Name returns the detector identifier.
func (d *OracleChecker) Name() string { return "oracle_checker" }

// Init is a no-op.
func (d *OracleChecker) Init(_ context.Context) error { return nil }

// OnSwap is a no-op for OracleChecker.
func (d *OracleChecker) OnSwap(_ context.Context, _ domain.SwapEvent) (Emissions, error) {
	return Emissions{}, nil
}

// OnPendingTx is a no-op for OracleChecker.
func (d *OracleChecker) OnPendingTx(_ context.Context, _ domain.PendingTx) (Emissions, error) {
	return Emissions{}, nil
}

// OnFlashLoan is a no-op for OracleChecker.
func (d *OracleChecker) OnFlashLoan(_ context.Context, _ domain.FlashLoanEvent) (Emissions, error) {
	return Emissions{}, nil
}

// OnPriceTick stores oracle ticks and evaluates DEX ticks against the latest
// fresh oracle observation for the same chain and pair.
func (d *OracleChecker) OnPriceTick(_ context.Context, tick domain.PriceTick) (Emissions, error) {
	price, err := decimal.NewFromString(tick.Price)
	if err != nil || price.Sign() <= 0 {
		d.logger.Debug("unparseable price tick dropped",
			slog.String("pair", tick.Pair),
			slog.String("price", tick.Price),
		)
		return Emissions{}, nil
	}
	key := tick.Chain + "|" + tick.Pair

	if tick.Source == domain.PriceSourceOracle {
		d.mu.Lock()
		d.oracles[key] = priceObservation{price: price, venue: tick.Venue, at: tick.Timestamp}
		d.mu.Unlock()
		return Emissions{}, nil
	}

	freshness := time.Duration(d.cfg.paramInt("freshness_seconds", int(defaultOracleFreshness/time.Second))) * time.Second

	d.mu.Lock()
	oracle, ok := d.oracles[key]
	d.mu.Unlock()
	if !ok || tick.Timestamp.Sub(oracle.at) > freshness || oracle.at.Sub(tick.Timestamp) > freshness {
		return Emissions{}, nil
	}

	// deviation% = |dex - oracle| / oracle * 100
	deviation, _ := price.Sub(oracle.price).Abs().
		Div(oracle.price).Mul(decimal.NewFromInt(100)).Float64()
	if deviation < d.cfg.paramFloat("min_deviation_pct", defaultOracleMinDeviationPct) {
		return Emissions{}, nil
	}

	d.logger.Warn("oracle deviation detected",
		slog.String("pool", string(tick.PoolKey)),
		slog.String("dex_price", price.String()),
		slog.String("oracle_price", oracle.price.String()),
		slog.Float64("deviation_pct", deviation),
	)

	return Emissions{Alerts: []domain.StrongAlert{{
		Kind:       domain.AlertOracleManipulation,
		Chain:      tick.Chain,
		Pair:       tick.Pair,
		PoolKey:    tick.PoolKey,
		ObservedAt: tick.Timestamp,
		Deviation:  deviation,
		Evidence: map[string]string{
			"dex_price":    price.String(),
			"dex_venue":    tick.Venue,
			"oracle_price": oracle.price.String(),
			"oracle_venue": oracle.venue,
		},
	}}}, nil
}

// Close drops the stored observations.
func (d *OracleChecker) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.oracles = make(map[string]priceObservation)
	return nil
}

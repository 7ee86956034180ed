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
	defaultDivergenceMinPct = 1.5
	defaultArbitrageMinPct  = 3.0
	defaultCrossChainFresh  = 45 * time.Second
)

// CrossChain compares a pair's DEX price across chains. A moderate spread
// raises a PRICE_DIVERGENCE alert against the local pool; a spread wide
// enough to fund bridged arbitrage raises CROSS_CHAIN_ARBITRAGE instead.
type CrossChain struct {
	cfg    Config
	logger *slog.Logger

	mu     sync.Mutex
	prices map[string]map[string]priceObservation // pair -> chain -> latest
}

// NewCrossChain creates a CrossChain detector. Params: "divergence_min_pct"
// (default 1.5), "arbitrage_min_pct" (default 3), "freshness_seconds"
// (default 45).
func NewCrossChain(cfg Config, logger *slog.Logger) *CrossChain {
	return &CrossChain{
		cfg:    cfg,
		logger: logger.With(slog.String("detector", "cross_chain")),
		prices: make(map[string]map[string]priceObservation),
	}
}

// Name returns the detector identifier.
func (d *CrossChain) Name() string { return "cross_chain" }

// Init is a no-op.
func (d *CrossChain) Init(_ context.Context) error { return nil }

// OnSwap is a no-op for CrossChain.
func (d *CrossChain) OnSwap(_ context.Context, _ domain.SwapEvent) (Emissions, error) {
	return Emissions{}, nil
}

// OnPendingTx is a no-op for CrossChain.
func (d *CrossChain) OnPendingTx(_ context.Context, _ domain.PendingTx) (Emissions, error) {
	return Emissions{}, nil
}

// OnFlashLoan is a no-op for CrossChain.
func (d *CrossChain) OnFlashLoan(_ context.Context, _ domain.FlashLoanEvent) (Emissions, error) {
	return Emissions{}, nil
}

// OnPriceTick records DEX ticks per chain and compares the local price to
// the freshest price on every other chain carrying the same pair. The
// widest spread wins.
func (d *CrossChain) OnPriceTick(_ context.Context, tick domain.PriceTick) (Emissions, error) {
	if tick.Source != domain.PriceSourceDEX {
		return Emissions{}, nil
	}
	price, err := decimal.NewFromString(tick.Price)
	if err != nil || price.Sign() <= 0 {
		return Emissions{}, nil
	}

	freshness := time.Duration(d.cfg.paramInt("freshness_seconds", int(defaultCrossChainFresh/time.Second))) * time.Second

	d.mu.Lock()
	chains := d.prices[tick.Pair]
	if chains == nil {
		chains = make(map[string]priceObservation)
		d.prices[tick.Pair] = chains
	}
	chains[tick.Chain] = priceObservation{price: price, venue: tick.Venue, at: tick.Timestamp}

	var worst float64
	var against string
	var againstPrice decimal.Decimal
	for chain, obs := range chains {
		if chain == tick.Chain {
			continue
		}
		age := tick.Timestamp.Sub(obs.at)
		if age > freshness || age < -freshness {
			continue
		}
		dev, _ := price.Sub(obs.price).Abs().
			Div(obs.price).Mul(decimal.NewFromInt(100)).Float64()
		if dev > worst {
			worst = dev
			against = chain
			againstPrice = obs.price
		}
	}
	d.mu.Unlock()

	if worst < d.cfg.paramFloat("divergence_min_pct", defaultDivergenceMinPct) {
		return Emissions{}, nil
	}

	kind := domain.AlertPriceDivergence
	if worst >= d.cfg.paramFloat("arbitrage_min_pct", defaultArbitrageMinPct) {
		kind = domain.AlertCrossChainArb
	}

	d.logger.Warn("cross-chain spread detected",
		slog.String("pair", tick.Pair),
		slog.String("chain", tick.Chain),
		slog.String("against", against),
		slog.Float64("deviation_pct", worst),
		slog.String("kind", string(kind)),
	)

	return Emissions{Alerts: []domain.StrongAlert{{
		Kind:       kind,
		Chain:      tick.Chain,
		Pair:       tick.Pair,
		PoolKey:    tick.PoolKey,
		ObservedAt: tick.Timestamp,
		Deviation:  worst,
		Evidence: map[string]string{
			"local_price":  price.String(),
			"local_venue":  tick.Venue,
			"remote_chain": against,
			"remote_price": againstPrice.String(),
		},
	}}}, nil
}

// Close drops the stored observations.
func (d *CrossChain) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.prices = make(map[string]map[string]priceObservation)
	return nil
}

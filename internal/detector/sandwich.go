package detector

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/dexguard/internal/domain"
)

const (
	defaultSandwichWindow = 12 * time.Second
	defaultVictimMinUSD   = 50_000
)

// Sandwich looks for the classic bracket shape in the mempool: two pending
// transactions from the same sender arriving around a sizeable victim swap
// on the same pool. It emits a SANDWICH_PATTERN signal against the pool.
type Sandwich struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	pending map[domain.PoolKey][]domain.PendingTx
	victims map[domain.PoolKey][]domain.SwapEvent
}

// NewSandwich creates a Sandwich detector. Params: "window_seconds" (default
// 12) bounds how far apart the bracket legs may be, "victim_min_usd"
// (default 50000) is the smallest swap worth sandwiching.
func NewSandwich(cfg Config, logger *slog.Logger) *Sandwich {
	return &Sandwich{
		cfg:     cfg,
		logger:  logger.With(slog.String("detector", "sandwich")),
		pending: make(map[domain.PoolKey][]domain.PendingTx),
		victims: make(map[domain.PoolKey][]domain.SwapEvent),
	}
}

// Name returns the detector identifier.
func (d *Sandwich) Name() string { return "sandwich" }

// Init is a no-op.
func (d *Sandwich) Init(_ context.Context) error { return nil }

// OnSwap records potential victims. Swaps below the victim minimum are not
// worth bracketing and are ignored.
func (d *Sandwich) OnSwap(_ context.Context, ev domain.SwapEvent) (Emissions, error) {
	if ev.AmountUSD < d.cfg.paramFloat("victim_min_usd", defaultVictimMinUSD) {
		return Emissions{}, nil
	}
	window := d.window()

	d.mu.Lock()
	d.victims[ev.PoolKey] = pruneSwaps(append(d.victims[ev.PoolKey], ev), ev.Timestamp.Add(-window))
	d.mu.Unlock()
	return Emissions{}, nil
}

// OnPendingTx records the transaction and checks for a completed bracket:
// an earlier pending tx from the same sender, with a qualifying victim swap
// in between.
func (d *Sandwich) OnPendingTx(_ context.Context, tx domain.PendingTx) (Emissions, error) {
	window := d.window()
	cutoff := tx.Timestamp.Add(-window)

	d.mu.Lock()
	txs := prunePending(append(d.pending[tx.PoolKey], tx), cutoff)
	d.pending[tx.PoolKey] = txs
	victims := pruneSwaps(d.victims[tx.PoolKey], cutoff)
	d.victims[tx.PoolKey] = victims

	var bracket *domain.PendingTx
	for i := range txs[:len(txs)-1] {
		if txs[i].From == tx.From && txs[i].Hash != tx.Hash {
			bracket = &txs[i]
			break
		}
	}
	victimBetween := false
	var victimUSD float64
	if bracket != nil {
		for _, v := range victims {
			if v.Timestamp.After(bracket.Timestamp) && v.Timestamp.Before(tx.Timestamp) && v.Trader != tx.From {
				victimBetween = true
				victimUSD = v.AmountUSD
				break
			}
		}
	}
	d.mu.Unlock()

	if !victimBetween {
		return Emissions{}, nil
	}

	// The bracket is the strong part of the evidence; magnitude grows with
	// the victim's exposure.
	magnitude := 0.5 + 0.5*victimUSD/defaultSwapSaturationUSD
	if magnitude > 1 {
		magnitude = 1
	}

	d.logger.Info("sandwich pattern detected",
		slog.String("pool", string(tx.PoolKey)),
		slog.String("attacker", tx.From),
		slog.Float64("victim_usd", victimUSD),
	)

	return Emissions{Signals: []domain.WeakSignal{{
		Kind:       domain.SignalSandwich,
		Chain:      tx.Chain,
		Pair:       tx.Pair,
		PoolKey:    tx.PoolKey,
		ObservedAt: tx.Timestamp,
		Magnitude:  magnitude,
	}}}, nil
}

// OnFlashLoan is a no-op for Sandwich.
func (d *Sandwich) OnFlashLoan(_ context.Context, _ domain.FlashLoanEvent) (Emissions, error) {
	return Emissions{}, nil
}

// OnPriceTick is a no-op for Sandwich.
func (d *Sandwich) OnPriceTick(_ context.Context, _ domain.PriceTick) (Emissions, error) {
	return Emissions{}, nil
}

// Close drops the tracked windows.
func (d *Sandwich) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pending = make(map[domain.PoolKey][]domain.PendingTx)
	d.victims = make(map[domain.PoolKey][]domain.SwapEvent)
	return nil
}

func (d *Sandwich) window() time.Duration {
	return time.Duration(d.cfg.paramInt("window_seconds", int(defaultSandwichWindow/time.Second))) * time.Second
}

func prunePending(txs []domain.PendingTx, cutoff time.Time) []domain.PendingTx {
	keep := txs[:0]
	for _, t := range txs {
		if t.Timestamp.After(cutoff) {
			keep = append(keep, t)
		}
	}
	return keep
}

func pruneSwaps(swaps []domain.SwapEvent, cutoff time.Time) []domain.SwapEvent {
	keep := swaps[:0]
	for _, s := range swaps {
		if s.Timestamp.After(cutoff) {
			keep = append(keep, s)
		}
	}
	return keep
}

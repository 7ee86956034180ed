package detector

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/dexguard/internal/domain"
)

const (
	defaultClusterWindow    = 20 * time.Second
	defaultClusterMinTxs    = 5
	defaultClusterSaturated = 20
)

// MempoolCluster watches pending transactions per pool and emits a
// MEMPOOL_CLUSTER signal when an unusual number of distinct senders pile
// onto the same pool inside a short window. Coordinated mempool pressure
// precedes most multi-bot extraction attempts.
type MempoolCluster struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	pending map[domain.PoolKey][]domain.PendingTx
}

// NewMempoolCluster creates a MempoolCluster detector. Params:
//
//   - "window_seconds" (int): cluster window length. Defaults to 20.
//   - "min_txs" (int): pending-tx count that starts signalling. Defaults to 5.
//   - "saturated_txs" (int): count at which magnitude saturates. Defaults to 20.
func NewMempoolCluster(cfg Config, logger *slog.Logger) *MempoolCluster {
	return &MempoolCluster{
		cfg:     cfg,
		logger:  logger.With(slog.String("detector", "mempool_cluster")),
		pending: make(map[domain.PoolKey][]domain.PendingTx),
	}
}

// Name returns the detector identifier.
func (d *MempoolCluster) Name() string { return "mempool_cluster" }

// Init is a no-op.
func (d *MempoolCluster) Init(_ context.Context) error { return nil }

// OnSwap is a no-op for MempoolCluster.
func (d *MempoolCluster) OnSwap(_ context.Context, _ domain.SwapEvent) (Emissions, error) {
	return Emissions{}, nil
}

// OnPendingTx records the transaction and evaluates the pool's window.
// Window math runs on event timestamps, not wall time, so replayed traffic
// evaluates identically.
func (d *MempoolCluster) OnPendingTx(_ context.Context, tx domain.PendingTx) (Emissions, error) {
	window := time.Duration(d.cfg.paramInt("window_seconds", int(defaultClusterWindow/time.Second))) * time.Second
	minTxs := d.cfg.paramInt("min_txs", defaultClusterMinTxs)
	saturated := d.cfg.paramInt("saturated_txs", defaultClusterSaturated)
	if saturated <= minTxs {
		saturated = minTxs * 2
	}

	d.mu.Lock()
	txs := append(d.pending[tx.PoolKey], tx)
	cutoff := tx.Timestamp.Add(-window)
	keep := txs[:0]
	for _, t := range txs {
		if t.Timestamp.After(cutoff) {
			keep = append(keep, t)
		}
	}
	d.pending[tx.PoolKey] = keep

	senders := make(map[string]struct{}, len(keep))
	for _, t := range keep {
		senders[t.From] = struct{}{}
	}
	count := len(keep)
	distinct := len(senders)
	d.mu.Unlock()

	// A single bot spamming is noise; a crowd is a cluster.
	if count < minTxs || distinct < 2 {
		return Emissions{}, nil
	}

	magnitude := float64(count-minTxs+1) / float64(saturated-minTxs+1)
	if magnitude > 1 {
		magnitude = 1
	}

	d.logger.Debug("mempool cluster detected",
		slog.String("pool", string(tx.PoolKey)),
		slog.Int("pending", count),
		slog.Int("senders", distinct),
	)

	return Emissions{Signals: []domain.WeakSignal{{
		Kind:       domain.SignalMempoolCluster,
		Chain:      tx.Chain,
		Pair:       tx.Pair,
		PoolKey:    tx.PoolKey,
		ObservedAt: tx.Timestamp,
		Magnitude:  magnitude,
	}}}, nil
}

// OnFlashLoan is a no-op for MempoolCluster.
func (d *MempoolCluster) OnFlashLoan(_ context.Context, _ domain.FlashLoanEvent) (Emissions, error) {
	return Emissions{}, nil
}

// OnPriceTick is a no-op for MempoolCluster.
func (d *MempoolCluster) OnPriceTick(_ context.Context, _ domain.PriceTick) (Emissions, error) {
	return Emissions{}, nil
}

// Close drops the tracked windows.
func (d *MempoolCluster) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pending = make(map[domain.PoolKey][]domain.PendingTx)
	return nil
}

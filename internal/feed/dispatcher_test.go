package feed

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/dexguard/internal/detector"
	"github.com/alanyoungcy/dexguard/internal/domain"
)

const testPool = domain.PoolKey("ethereum:WETH/USDC:0x88e6A0c2dDD26FEEb64F039a2c41296FcB3f5640")

type captureSink struct {
	signals []domain.WeakSignal
	alerts  []domain.StrongAlert
}

func (s *captureSink) IngestSignal(_ context.Context, sig domain.WeakSignal) {
	s.signals = append(s.signals, sig)
}

func (s *captureSink) IngestAlert(_ context.Context, alert domain.StrongAlert) {
	s.alerts = append(s.alerts, alert)
}

// stubDetector emits a fixed signal on swaps and an error on flash loans.
type stubDetector struct{ name string }

func (d *stubDetector) Name() string                 { return d.name }
func (d *stubDetector) Init(_ context.Context) error { return nil }
func (d *stubDetector) Close() error                 { return nil }

func (d *stubDetector) OnSwap(_ context.Context, ev domain.SwapEvent) (detector.Emissions, error) {
	return detector.Emissions{Signals: []domain.WeakSignal{{
		Kind: domain.SignalLargeSwap, Chain: ev.Chain, PoolKey: ev.PoolKey, Magnitude: 0.4,
	}}}, nil
}

func (d *stubDetector) OnPendingTx(_ context.Context, _ domain.PendingTx) (detector.Emissions, error) {
	return detector.Emissions{}, nil
}

func (d *stubDetector) OnFlashLoan(_ context.Context, _ domain.FlashLoanEvent) (detector.Emissions, error) {
	return detector.Emissions{}, errors.New("detector broke")
}

func (d *stubDetector) OnPriceTick(_ context.Context, tick domain.PriceTick) (detector.Emissions, error) {
	return detector.Emissions{Alerts: []domain.StrongAlert{{
		Kind: domain.AlertPriceDivergence, Chain: tick.Chain, PoolKey: tick.PoolKey, Deviation: 4,
	}}}, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDispatcherForwardsEmissions(t *testing.T) {
	registry := detector.NewRegistry()
	registry.Register("stub", &stubDetector{name: "stub"})
	sink := &captureSink{}
	d := NewDispatcher(registry, sink, nil, testLogger())
	ctx := context.Background()

	d.HandleSwap(ctx, domain.SwapEvent{
		Chain: "ethereum", PoolKey: testPool, AmountUSD: 1_000_000, Timestamp: time.Now(),
	})
	require.Len(t, sink.signals, 1)
	assert.Equal(t, domain.SignalLargeSwap, sink.signals[0].Kind)

	d.HandlePriceTick(ctx, domain.PriceTick{Chain: "ethereum", PoolKey: testPool, Price: "2000"})
	require.Len(t, sink.alerts, 1)
	assert.Equal(t, domain.AlertPriceDivergence, sink.alerts[0].Kind)
}

func TestDispatcherIsolatesDetectorErrors(t *testing.T) {
	registry := detector.NewRegistry()
	registry.Register("stub", &stubDetector{name: "stub"})
	sink := &captureSink{}
	d := NewDispatcher(registry, sink, nil, testLogger())

	// The flash-loan handler errors; the dispatcher records it and moves on.
	d.HandleFlashLoan(context.Background(), domain.FlashLoanEvent{PoolKey: testPool})
	assert.Empty(t, sink.signals)
	assert.Empty(t, sink.alerts)

	infos := registry.ListInfo()
	require.Len(t, infos, 1)
	assert.Equal(t, int64(1), infos[0].ErrorCount)
}

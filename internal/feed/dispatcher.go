// Package feed connects event sources to the detectors: a WebSocket feed
// from the chain-event aggregator and an optional Redis channel for replayed
// or out-of-band events. Both route through the Dispatcher.
package feed

import (
	"context"
	"log/slog"

	"github.com/alanyoungcy/dexguard/internal/detector"
	"github.com/alanyoungcy/dexguard/internal/domain"
	"github.com/alanyoungcy/dexguard/internal/observability"
)

// Dispatcher fans each chain event out to every registered detector and
// forwards their emissions to the sink. Detector errors are counted and
// logged, never propagated: one broken detector must not mute the rest.
type Dispatcher struct {
	registry *detector.Registry
	sink     detector.Sink
	metrics  *observability.Metrics
	logger   *slog.Logger
}

// NewDispatcher creates a Dispatcher. metrics may be nil.
func NewDispatcher(registry *detector.Registry, sink detector.Sink, metrics *observability.Metrics, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		registry: registry,
		sink:     sink,
		metrics:  metrics,
		logger:   logger.With(slog.String("component", "dispatcher")),
	}
}

// HandleSwap routes a confirmed swap through the detectors.
func (d *Dispatcher) HandleSwap(ctx context.Context, ev domain.SwapEvent) {
	d.metrics.FeedEvent("swap")
	d.each(ctx, func(det detector.Detector) (detector.Emissions, error) {
		return det.OnSwap(ctx, ev)
	})
}

// HandlePendingTx routes a mempool transaction through the detectors.
func (d *Dispatcher) HandlePendingTx(ctx context.Context, tx domain.PendingTx) {
	d.metrics.FeedEvent("pending_tx")
	d.each(ctx, func(det detector.Detector) (detector.Emissions, error) {
		return det.OnPendingTx(ctx, tx)
	})
}

// HandleFlashLoan routes a flash loan through the detectors.
func (d *Dispatcher) HandleFlashLoan(ctx context.Context, ev domain.FlashLoanEvent) {
	d.metrics.FeedEvent("flash_loan")
	d.each(ctx, func(det detector.Detector) (detector.Emissions, error) {
		return det.OnFlashLoan(ctx, ev)
	})
}

// HandlePriceTick routes a price tick through the detectors.
func (d *Dispatcher) HandlePriceTick(ctx context.Context, tick domain.PriceTick) {
	d.metrics.FeedEvent("price_tick")
	d.each(ctx, func(det detector.Detector) (detector.Emissions, error) {
		return det.OnPriceTick(ctx, tick)
	})
}

func (d *Dispatcher) each(ctx context.Context, call func(detector.Detector) (detector.Emissions, error)) {
	for _, det := range d.registry.All() {
		em, err := call(det)
		if err != nil {
			d.registry.RecordError(det.Name())
			d.metrics.DetectorError(det.Name())
			d.logger.Warn("detector failed",
				slog.String("detector", det.Name()),
				slog.String("error", err.Error()),
			)
			continue
		}
		if em.Empty() {
			continue
		}
		d.registry.RecordEmission(det.Name(), len(em.Signals), len(em.Alerts))
		d.forward(ctx, em)
	}
}

func (d *Dispatcher) forward(ctx context.Context, em detector.Emissions) {
	for _, sig := range em.Signals {
		d.metrics.SignalEmitted(string(sig.Kind))
		d.sink.IngestSignal(ctx, sig)
	}
	for _, alert := range em.Alerts {
		d.metrics.AlertEmitted(string(alert.Kind))
		d.sink.IngestAlert(ctx, alert)
	}
}

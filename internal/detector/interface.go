// Package detector holds the threat detectors that watch raw chain activity
// and emit weak signals and strong alerts for the risk engine. Detectors are
// event-driven: the feeder routes swaps, pending transactions, flash loans,
// and price ticks to every registered detector and forwards whatever they
// emit.
package detector

import (
	"context"

	"github.com/alanyoungcy/dexguard/internal/domain"
)

// Emissions is what one detector produced for one event.
type Emissions struct {
	Signals []domain.WeakSignal
	Alerts  []domain.StrongAlert
}

// Empty reports whether the detector produced nothing.
func (e Emissions) Empty() bool {
	return len(e.Signals) == 0 && len(e.Alerts) == 0
}

// Detector defines the contract for threat detectors. A detector that does
// not care about an event type returns an empty Emissions and nil error.
type Detector interface {
	Name() string
	Init(ctx context.Context) error
	OnSwap(ctx context.Context, ev domain.SwapEvent) (Emissions, error)
	OnPendingTx(ctx context.Context, tx domain.PendingTx) (Emissions, error)
	OnFlashLoan(ctx context.Context, ev domain.FlashLoanEvent) (Emissions, error)
	OnPriceTick(ctx context.Context, tick domain.PriceTick) (Emissions, error)
	Close() error
}

// Sink receives detector emissions. The risk engine satisfies it.
type Sink interface {
	IngestSignal(ctx context.Context, sig domain.WeakSignal)
	IngestAlert(ctx context.Context, alert domain.StrongAlert)
}

// Config holds detector configuration.
type Config struct {
	Name   string
	Params map[string]any
}

// paramFloat reads a float64 parameter with a default.
func (c Config) paramFloat(key string, def float64) float64 {
	if v, ok := c.Params[key]; ok {
		if f, ok := v.(float64); ok {
			return f
		}
	}
	return def
}

// paramInt reads an integer parameter with a default. TOML decodes integers
// as int64, so both int and int64 are accepted.
func (c Config) paramInt(key string, def int) int {
	switch v := c.Params[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	default:
		return def
	}
}

package engine

import (
	"time"

	"github.com/alanyoungcy/dexguard/internal/domain"
)

// contribution is the uniform internal record built from either input type.
// Contributions live in a pool's state until expiresAt, ordered by expiry
// (which, with a constant correlation window, is arrival order).
type contribution struct {
	sourceKind string
	weight     float64
	magnitude  float64
	arrivedAt  time.Time
	expiresAt  time.Time
	fromAlert  bool
}

// normalizeSignal converts a weak signal into a contribution. The signal's
// magnitude is trusted as-is, only clamped into [0,1]; unknown kinds get
// weight 1.
func (e *Engine) normalizeSignal(sig domain.WeakSignal, now time.Time) contribution {
	weight, ok := e.cfg.SignalWeights[sig.Kind]
	if !ok {
		weight = 1
	}
	return contribution{
		sourceKind: string(sig.Kind),
		weight:     weight,
		magnitude:  clamp(sig.Magnitude, 0, 1),
		arrivedAt:  now,
		expiresAt:  now.Add(e.cfg.CorrelationWindow),
	}
}

// normalizeAlert converts a strong alert into a contribution. The percentage
// deviation is normalised against the kind's base threshold, so a deviation
// at or above the base saturates the magnitude at 1.
func (e *Engine) normalizeAlert(alert domain.StrongAlert, now time.Time) contribution {
	weight, ok := e.cfg.AlertWeights[alert.Kind]
	if !ok {
		weight = 1
	}
	base, ok := e.cfg.BaseThresholds[alert.Kind]
	if !ok || base <= 0 {
		base = e.cfg.DefaultBaseThreshold
	}
	return contribution{
		sourceKind: string(alert.Kind),
		weight:     weight,
		magnitude:  clamp(alert.Deviation/base, 0, 1),
		arrivedAt:  now,
		expiresAt:  now.Add(e.cfg.CorrelationWindow),
		fromAlert:  true,
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

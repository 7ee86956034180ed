package engine

import "github.com/alanyoungcy/dexguard/internal/domain"

type tierTransition int

const (
	tierUnchanged tierTransition = iota
	tierPromoted
	tierDemoted
)

// evaluateTier advances the hysteresis machine by at most one step per
// evaluation. Promotion uses the edge's Up threshold, demotion its Down
// threshold; since Down < Up on every edge a score oscillating inside the
// band between them never flips the tier. A score that jumps past both up
// edges in a single ingestion still climbs one tier per re-evaluation, so
// subsequent contributions carry it the rest of the way.
func evaluateTier(current domain.Tier, score float64, elevated, critical EdgeThresholds) (tierTransition, domain.Tier) {
	switch current {
	case domain.TierWatch:
		if score >= elevated.Up {
			return tierPromoted, domain.TierElevated
		}
	case domain.TierElevated:
		if score >= critical.Up {
			return tierPromoted, domain.TierCritical
		}
		if score <= elevated.Down {
			return tierDemoted, domain.TierWatch
		}
	case domain.TierCritical:
		if score <= critical.Down {
			return tierDemoted, domain.TierElevated
		}
	}
	return tierUnchanged, current
}

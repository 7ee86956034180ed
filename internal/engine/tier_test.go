package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/alanyoungcy/dexguard/internal/domain"
)

func TestEvaluateTier(t *testing.T) {
	elevated := EdgeThresholds{Up: 40, Down: 25}
	critical := EdgeThresholds{Up: 75, Down: 55}

	tests := []struct {
		name           string
		current        domain.Tier
		score          float64
		wantTransition tierTransition
		wantTier       domain.Tier
	}{
		{"watch holds below edge", domain.TierWatch, 39.9, tierUnchanged, domain.TierWatch},
		{"watch promotes at edge", domain.TierWatch, 40, tierPromoted, domain.TierElevated},
		{"watch promotes one step even at extreme score", domain.TierWatch, 100, tierPromoted, domain.TierElevated},
		{"elevated holds inside band", domain.TierElevated, 30, tierUnchanged, domain.TierElevated},
		{"elevated holds just below critical edge", domain.TierElevated, 74.9, tierUnchanged, domain.TierElevated},
		{"elevated promotes at critical edge", domain.TierElevated, 75, tierPromoted, domain.TierCritical},
		{"elevated demotes below down threshold", domain.TierElevated, 24.9, tierDemoted, domain.TierWatch},
		{"elevated demotes exactly at down threshold", domain.TierElevated, 25, tierDemoted, domain.TierWatch},
		{"elevated holds just above down threshold", domain.TierElevated, 25.1, tierUnchanged, domain.TierElevated},
		{"critical holds inside band", domain.TierCritical, 60, tierUnchanged, domain.TierCritical},
		{"critical demotes at down threshold", domain.TierCritical, 55, tierDemoted, domain.TierElevated},
		{"critical holds just above down threshold", domain.TierCritical, 55.1, tierUnchanged, domain.TierCritical},
		{"critical demotes one step only", domain.TierCritical, 0, tierDemoted, domain.TierElevated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			transition, next := evaluateTier(tt.current, tt.score, elevated, critical)
			assert.Equal(t, tt.wantTransition, transition)
			assert.Equal(t, tt.wantTier, next)
		})
	}
}

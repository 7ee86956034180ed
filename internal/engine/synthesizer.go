package engine

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/dexguard/internal/domain"
)

// kindClass groups contribution kinds by the defensive response they call
// for. MEV kinds point at extraction attempts against the pool itself,
// oracle kinds at price-feed integrity, cross-chain kinds at divergence
// across venues.
type kindClass int

const (
	classMEV kindClass = iota
	classOracle
	classCrossChain
)

func classOf(kind string) kindClass {
	switch kind {
	case string(domain.AlertOracleManipulation):
		return classOracle
	case string(domain.AlertCrossChainArb), string(domain.AlertPriceDivergence):
		return classCrossChain
	default:
		return classMEV
	}
}

// synthesizeLocked builds and records a decision for the pool's current
// state. Caller holds ps.mu. The decision itself is returned for
// publication after the lock is released.
func (e *Engine) synthesizeLocked(ps *poolState, key domain.PoolKey, trigger domain.DecisionTrigger, now time.Time) *domain.Decision {
	action, rationale := e.selectAction(ps, trigger)
	ttl := e.cfg.DefaultTTL
	if t, ok := e.cfg.ActionTTLs[action]; ok {
		ttl = t
	}

	sources := make([]domain.SourceRef, 0, len(ps.contributions))
	for _, c := range ps.contributions {
		sources = append(sources, domain.SourceRef{
			Kind:      c.sourceKind,
			Weight:    c.weight,
			Magnitude: c.magnitude,
			ArrivedAt: c.arrivedAt,
		})
	}

	d := &domain.Decision{
		ID:        uuid.NewString(),
		CreatedAt: now,
		Chain:     ps.chain,
		PoolKey:   key,
		Pair:      ps.pair,
		Tier:      ps.tier,
		Score:     ps.ema,
		Action:    action,
		Trigger:   trigger,
		Rationale: rationale,
		Sources:   sources,
		TTL:       ttl,
	}

	ps.lastDecisionID = d.ID
	ps.lastDecisionAt = now
	ps.lastDecisionTTL = ttl
	return d
}

// selectAction maps the pool's tier and dominant contribution class to a
// defensive action.
func (e *Engine) selectAction(ps *poolState, trigger domain.DecisionTrigger) (domain.Action, string) {
	if ps.tier == domain.TierWatch {
		return domain.ActionNone, fmt.Sprintf("score %.1f back below watch band, standing down", ps.ema)
	}

	dominant, classes := dominantContribution(ps.contributions)

	// A pool at CRITICAL with threats from more than one class, or one that
	// just escalated into CRITICAL, gets the blunt instrument.
	if ps.tier == domain.TierCritical && (len(classes) > 1 || trigger == domain.TriggerPromotion) {
		return domain.ActionCircuitBreaker, fmt.Sprintf(
			"critical tier at score %.1f with %d threat classes, halting pool", ps.ema, len(classes))
	}

	if dominant == nil {
		// All contributions expired between the tier change and synthesis;
		// the EMA is still carrying the threat.
		return domain.ActionMEVProtection, fmt.Sprintf(
			"%s tier at score %.1f on residual pressure", ps.tier, ps.ema)
	}

	switch classOf(dominant.sourceKind) {
	case classOracle:
		return domain.ActionOracleValidation, fmt.Sprintf(
			"%s tier at score %.1f, dominant %s, verifying price feeds", ps.tier, ps.ema, dominant.sourceKind)
	case classCrossChain:
		if dominant.sourceKind == string(domain.AlertCrossChainArb) {
			return domain.ActionCrossChainBlock, fmt.Sprintf(
				"%s tier at score %.1f, dominant %s, blocking cross-chain flow", ps.tier, ps.ema, dominant.sourceKind)
		}
		return domain.ActionLiquidityReroute, fmt.Sprintf(
			"%s tier at score %.1f, dominant %s, rerouting liquidity", ps.tier, ps.ema, dominant.sourceKind)
	default:
		if dominant.sourceKind == string(domain.SignalGasSpike) {
			return domain.ActionFeeAdjustment, fmt.Sprintf(
				"%s tier at score %.1f, dominant %s, raising pool fees", ps.tier, ps.ema, dominant.sourceKind)
		}
		return domain.ActionMEVProtection, fmt.Sprintf(
			"%s tier at score %.1f, dominant %s, enabling mev protection", ps.tier, ps.ema, dominant.sourceKind)
	}
}

// dominantContribution returns the active contribution with the largest
// weight*magnitude product (most recent arrival wins ties) together with the
// set of threat classes present.
func dominantContribution(contributions []contribution) (*contribution, map[kindClass]struct{}) {
	classes := make(map[kindClass]struct{})
	var best *contribution
	var bestImpact float64
	for i := range contributions {
		c := &contributions[i]
		classes[classOf(c.sourceKind)] = struct{}{}
		impact := c.weight * c.magnitude
		if best == nil || impact > bestImpact || (impact == bestImpact && c.arrivedAt.After(best.arrivedAt)) {
			best = c
			bestImpact = impact
		}
	}
	return best, classes
}

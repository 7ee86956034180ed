package domain

import "time"

// Action is the protective measure a decision instructs downstream executors
// to take.
type Action string

const (
	ActionNone             Action = "NO_ACTION"
	ActionMEVProtection    Action = "MEV_PROTECTION"
	ActionFeeAdjustment    Action = "FEE_ADJUSTMENT"
	ActionOracleValidation Action = "ORACLE_VALIDATION"
	ActionCrossChainBlock  Action = "CROSS_CHAIN_BLOCK"
	ActionLiquidityReroute Action = "LIQUIDITY_REROUTE"
	ActionCircuitBreaker   Action = "CIRCUIT_BREAKER"
)

// DecisionTrigger records why a decision was synthesised.
type DecisionTrigger string

const (
	TriggerPromotion DecisionTrigger = "promotion"
	TriggerDemotion  DecisionTrigger = "demotion"
	// TriggerRefresh marks a re-issued decision for a pool that is holding
	// at an elevated tier past the previous decision's TTL.
	TriggerRefresh DecisionTrigger = "refresh"
)

// SourceRef names one contribution that was active when a decision was made.
// The full list is carried on the decision for audit.
type SourceRef struct {
	Kind      string    `json:"kind"`
	Weight    float64   `json:"weight"`
	Magnitude float64   `json:"magnitude"`
	ArrivedAt time.Time `json:"arrived_at"`
}

// Decision is a complete, self-describing protective decision for one pool.
// It is not a diff against a previous decision.
type Decision struct {
	ID        string          `json:"id"`
	CreatedAt time.Time       `json:"created_at"`
	Chain     string          `json:"chain"`
	PoolKey   PoolKey         `json:"pool_key"`
	Pair      string          `json:"pair"`
	Tier      Tier            `json:"tier"`
	Score     float64         `json:"score"`
	Action    Action          `json:"action"`
	Trigger   DecisionTrigger `json:"trigger"`
	Rationale string          `json:"rationale"`
	Sources   []SourceRef     `json:"sources"`
	TTL       time.Duration   `json:"ttl"`
}

// ApplyResult is the outcome of applying one decision's action.
type ApplyResult struct {
	Success bool
	// Ref is the applier's reference for the application, for example a
	// transaction hash.
	Ref         string
	Message     string
	ShouldRetry bool
}

// ExpiresAt returns the instant after which the decision's action should no
// longer be applied.
func (d Decision) ExpiresAt() time.Time {
	return d.CreatedAt.Add(d.TTL)
}

// Expired reports whether the decision is past its TTL at the given time.
func (d Decision) Expired(now time.Time) bool {
	return now.After(d.ExpiresAt())
}

// Package domain defines the core types shared across the dexguard
// components: pool identities, threat signals, protective decisions, and the
// port interfaces implemented by the cache, store, and blob layers.
package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// PoolKey uniquely identifies a liquidity pool as "chain:pair:address".
// The address component is checksummed so two differently-cased inputs for
// the same pool map to one key.
type PoolKey string

// NewPoolKey builds a PoolKey from its components. The address must be a
// valid hex address; it is normalised to its EIP-55 checksum form.
func NewPoolKey(chain, pair, address string) (PoolKey, error) {
	chain = strings.TrimSpace(chain)
	pair = strings.TrimSpace(pair)
	if chain == "" {
		return "", fmt.Errorf("domain: pool key: chain is required")
	}
	if pair == "" {
		return "", fmt.Errorf("domain: pool key: pair is required")
	}
	if !common.IsHexAddress(address) {
		return "", fmt.Errorf("domain: pool key: invalid pool address %q", address)
	}
	addr := common.HexToAddress(address).Hex()
	return PoolKey(chain + ":" + pair + ":" + addr), nil
}

// Chain returns the chain component of the key, or "" if the key is malformed.
func (k PoolKey) Chain() string {
	parts := strings.SplitN(string(k), ":", 3)
	if len(parts) < 3 {
		return ""
	}
	return parts[0]
}

// Pair returns the trading pair component of the key.
func (k PoolKey) Pair() string {
	parts := strings.SplitN(string(k), ":", 3)
	if len(parts) < 3 {
		return ""
	}
	return parts[1]
}

// Address returns the pool address component of the key.
func (k PoolKey) Address() string {
	parts := strings.SplitN(string(k), ":", 3)
	if len(parts) < 3 {
		return ""
	}
	return parts[2]
}

// Tier is the discrete risk level of a pool. Tiers are strictly ordered:
// TierWatch < TierElevated < TierCritical.
type Tier int

const (
	TierWatch    Tier = iota
	TierElevated
	TierCritical
)

// String returns the canonical uppercase tier name.
func (t Tier) String() string {
	switch t {
	case TierWatch:
		return "WATCH"
	case TierElevated:
		return "ELEVATED"
	case TierCritical:
		return "CRITICAL"
	default:
		return fmt.Sprintf("TIER(%d)", int(t))
	}
}

// MarshalText implements encoding.TextMarshaler so tiers serialise as their
// names in JSON payloads and API responses.
func (t Tier) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *Tier) UnmarshalText(text []byte) error {
	switch string(text) {
	case "WATCH":
		*t = TierWatch
	case "ELEVATED":
		*t = TierElevated
	case "CRITICAL":
		*t = TierCritical
	default:
		return fmt.Errorf("domain: unknown tier %q", string(text))
	}
	return nil
}

// PoolSnapshot is a read-only view of a pool's current risk state, exposed to
// the API layer. It is a copy; mutating it has no effect on the engine.
type PoolSnapshot struct {
	Key                 PoolKey   `json:"key"`
	Chain               string    `json:"chain"`
	Pair                string    `json:"pair"`
	Score               float64   `json:"score"`
	Tier                Tier      `json:"tier"`
	ActiveContributions int       `json:"active_contributions"`
	LastTierChangeAt    time.Time `json:"last_tier_change_at"`
	LastDecisionID      string    `json:"last_decision_id,omitempty"`
	UpdatedAt           time.Time `json:"updated_at"`
}

package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/dexguard/internal/domain"
)

// minDecisionTTL keeps very short-lived decisions readable for a moment even
// after their action TTL has lapsed.
const minDecisionTTL = 30 * time.Second

// DecisionCache implements domain.DecisionCache using Redis string keys.
// The latest decision for each pool is stored as JSON at
// "decision:latest:{poolKey}" and expires with the decision's own TTL, so a
// cache hit is always a decision that is still in force.
type DecisionCache struct {
	rdb *redis.Client
}

// NewDecisionCache creates a DecisionCache backed by the given Client.
func NewDecisionCache(c *Client) *DecisionCache {
	return &DecisionCache{rdb: c.Underlying()}
}

func decisionKey(key domain.PoolKey) string {
	return "decision:latest:" + string(key)
}

// SetLatest stores the decision as the pool's current one. The Redis key
// expires when the decision does.
func (dc *DecisionCache) SetLatest(ctx context.Context, d domain.Decision) error {
	payload, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("redis: marshal decision %s: %w", d.ID, err)
	}

	ttl := d.TTL
	if ttl < minDecisionTTL {
		ttl = minDecisionTTL
	}
	if err := dc.rdb.Set(ctx, decisionKey(d.PoolKey), payload, ttl).Err(); err != nil {
		return fmt.Errorf("redis: set decision %s: %w", d.PoolKey, err)
	}
	return nil
}

// GetLatest retrieves the pool's current decision. It returns
// domain.ErrNotFound when no decision is cached or the last one has expired.
func (dc *DecisionCache) GetLatest(ctx context.Context, key domain.PoolKey) (domain.Decision, error) {
	payload, err := dc.rdb.Get(ctx, decisionKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.Decision{}, domain.ErrNotFound
		}
		return domain.Decision{}, fmt.Errorf("redis: get decision %s: %w", key, err)
	}

	var d domain.Decision
	if err := json.Unmarshal(payload, &d); err != nil {
		return domain.Decision{}, fmt.Errorf("redis: unmarshal decision %s: %w", key, err)
	}
	return d, nil
}

// Invalidate drops the pool's cached decision, used when a pool stands down.
func (dc *DecisionCache) Invalidate(ctx context.Context, key domain.PoolKey) error {
	if err := dc.rdb.Del(ctx, decisionKey(key)).Err(); err != nil {
		return fmt.Errorf("redis: invalidate decision %s: %w", key, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.DecisionCache = (*DecisionCache)(nil)

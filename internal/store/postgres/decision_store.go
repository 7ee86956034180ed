package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/dexguard/internal/domain"
)

// DecisionStore implements domain.DecisionStore using PostgreSQL.
type DecisionStore struct {
	pool *pgxpool.Pool
}

// NewDecisionStore creates a new DecisionStore backed by the given
// connection pool.
func NewDecisionStore(pool *pgxpool.Pool) *DecisionStore {
	return &DecisionStore{pool: pool}
}

const decisionColumns = `id, created_at, chain, pool_key, pair, tier, score, action, trigger_type, rationale, sources, ttl_seconds`

// Insert persists one decision. Sources are stored as JSONB.
func (s *DecisionStore) Insert(ctx context.Context, d domain.Decision) error {
	sourcesJSON, err := json.Marshal(d.Sources)
	if err != nil {
		return fmt.Errorf("postgres: marshal decision sources: %w", err)
	}

	const query = `
		INSERT INTO decisions (` + decisionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`
	_, err = s.pool.Exec(ctx, query,
		d.ID, d.CreatedAt, d.Chain, string(d.PoolKey), d.Pair,
		d.Tier.String(), d.Score, string(d.Action), string(d.Trigger),
		d.Rationale, sourcesJSON, int64(d.TTL/time.Second),
	)
	if err != nil {
		return fmt.Errorf("postgres: insert decision %s: %w", d.ID, err)
	}
	return nil
}

// GetByID fetches one decision, returning domain.ErrNotFound for unknown IDs.
func (s *DecisionStore) GetByID(ctx context.Context, id string) (domain.Decision, error) {
	const query = `SELECT ` + decisionColumns + ` FROM decisions WHERE id = $1`
	d, err := scanDecision(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Decision{}, domain.ErrNotFound
		}
		return domain.Decision{}, fmt.Errorf("postgres: get decision %s: %w", id, err)
	}
	return d, nil
}

// ListRecent returns the most recent decisions across all pools.
func (s *DecisionStore) ListRecent(ctx context.Context, limit int) ([]domain.Decision, error) {
	if limit <= 0 {
		limit = 50
	}
	const query = `SELECT ` + decisionColumns + ` FROM decisions ORDER BY created_at DESC LIMIT $1`
	return s.list(ctx, query, limit)
}

// ListByPool returns decisions for one pool with pagination and optional
// time filtering.
func (s *DecisionStore) ListByPool(ctx context.Context, key domain.PoolKey, opts domain.ListOpts) ([]domain.Decision, error) {
	query := `SELECT ` + decisionColumns + ` FROM decisions WHERE pool_key = $1`
	args := []any{string(key)}
	argIdx := 2

	if opts.Since != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY created_at DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	return s.list(ctx, query, args...)
}

// ListBefore returns every decision created before the cutoff, oldest first.
// The archiver uses it to page cold history out to object storage.
func (s *DecisionStore) ListBefore(ctx context.Context, before time.Time) ([]domain.Decision, error) {
	const query = `SELECT ` + decisionColumns + ` FROM decisions WHERE created_at < $1 ORDER BY created_at ASC`
	return s.list(ctx, query, before)
}

// Count returns the total number of stored decisions.
func (s *DecisionStore) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM decisions`).Scan(&count); err != nil {
		return 0, fmt.Errorf("postgres: count decisions: %w", err)
	}
	return count, nil
}

// DeleteBefore removes decisions older than the cutoff after they have been
// archived. It returns the number of rows removed.
func (s *DecisionStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM decisions WHERE created_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete decisions before %s: %w", before, err)
	}
	return tag.RowsAffected(), nil
}

func (s *DecisionStore) list(ctx context.Context, query string, args ...any) ([]domain.Decision, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list decisions: %w", err)
	}
	defer rows.Close()

	var decisions []domain.Decision
	for rows.Next() {
		d, err := scanDecision(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan decision: %w", err)
		}
		decisions = append(decisions, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list decisions rows: %w", err)
	}
	return decisions, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDecision(row rowScanner) (domain.Decision, error) {
	var (
		d           domain.Decision
		poolKey     string
		tier        string
		action      string
		trigger     string
		sourcesJSON []byte
		ttlSeconds  int64
	)
	err := row.Scan(&d.ID, &d.CreatedAt, &d.Chain, &poolKey, &d.Pair,
		&tier, &d.Score, &action, &trigger, &d.Rationale, &sourcesJSON, &ttlSeconds)
	if err != nil {
		return domain.Decision{}, err
	}

	d.PoolKey = domain.PoolKey(poolKey)
	if err := d.Tier.UnmarshalText([]byte(tier)); err != nil {
		return domain.Decision{}, err
	}
	d.Action = domain.Action(action)
	d.Trigger = domain.DecisionTrigger(trigger)
	d.TTL = time.Duration(ttlSeconds) * time.Second
	if sourcesJSON != nil {
		if err := json.Unmarshal(sourcesJSON, &d.Sources); err != nil {
			return domain.Decision{}, err
		}
	}
	return d, nil
}

// Compile-time interface check.
var _ domain.DecisionStore = (*DecisionStore)(nil)

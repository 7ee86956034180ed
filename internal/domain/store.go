package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// DecisionStore persists the decision history for audit and the API layer.
type DecisionStore interface {
	Insert(ctx context.Context, d Decision) error
	GetByID(ctx context.Context, id string) (Decision, error)
	ListRecent(ctx context.Context, limit int) ([]Decision, error)
	ListByPool(ctx context.Context, key PoolKey, opts ListOpts) ([]Decision, error)
	ListBefore(ctx context.Context, before time.Time) ([]Decision, error)
	Count(ctx context.Context) (int64, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
	ListBefore(ctx context.Context, before time.Time) ([]AuditEntry, error)
}

package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/dexguard/internal/domain"
)

// PoolDirectory exposes the engine's in-memory pool state to the API. The
// engine satisfies this directly; no context is needed because snapshots are
// served from memory.
type PoolDirectory interface {
	Snapshot(key domain.PoolKey) (domain.PoolSnapshot, error)
	Snapshots() []domain.PoolSnapshot
}

// PoolHandler serves pool risk-state HTTP endpoints.
type PoolHandler struct {
	pools  PoolDirectory
	logger *slog.Logger
}

// NewPoolHandler creates a PoolHandler backed by the given pool directory.
func NewPoolHandler(pools PoolDirectory, logger *slog.Logger) *PoolHandler {
	return &PoolHandler{
		pools:  pools,
		logger: logger,
	}
}

// listPoolsResponse wraps the list endpoint output with metadata.
type listPoolsResponse struct {
	Pools []domain.PoolSnapshot `json:"pools"`
	Total int                   `json:"total"`
}

// ListPools returns the current risk state of every tracked pool, sorted by
// pool key.
// GET /api/pools
func (h *PoolHandler) ListPools(w http.ResponseWriter, r *http.Request) {
	snapshots := h.pools.Snapshots()
	writeJSON(w, http.StatusOK, listPoolsResponse{
		Pools: snapshots,
		Total: len(snapshots),
	})
}

// GetPool returns the current risk state of a single pool.
// GET /api/pools/{key}
func (h *PoolHandler) GetPool(w http.ResponseWriter, r *http.Request) {
	key := pathParam(r, "key")
	if key == "" {
		writeError(w, http.StatusBadRequest, "missing pool key")
		return
	}

	snap, err := h.pools.Snapshot(domain.PoolKey(key))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "pool not tracked")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: get pool failed",
			slog.String("pool_key", key),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get pool")
		return
	}

	writeJSON(w, http.StatusOK, snap)
}

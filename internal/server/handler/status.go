package handler

import (
	"net/http"
	"time"
)

// StatusHandler serves the backend status (mode, pool count, RPC budget) for
// the dashboard.
type StatusHandler struct {
	Mode            string
	StartedAt       time.Time
	PoolCount       func() int
	BudgetRemaining func() int
}

// NewStatusHandler creates a StatusHandler. The counter funcs may be nil when
// the corresponding component is not wired in the current mode.
func NewStatusHandler(mode string, startedAt time.Time, poolCount, budgetRemaining func() int) *StatusHandler {
	return &StatusHandler{
		Mode:            mode,
		StartedAt:       startedAt,
		PoolCount:       poolCount,
		BudgetRemaining: budgetRemaining,
	}
}

// GetStatus responds with the current backend mode and runtime counters.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"mode":           h.Mode,
		"uptime_seconds": int64(time.Since(h.StartedAt).Seconds()),
	}
	if h.PoolCount != nil {
		resp["tracked_pools"] = h.PoolCount()
	}
	if h.BudgetRemaining != nil {
		resp["rpc_budget_remaining"] = h.BudgetRemaining()
	}
	writeJSON(w, http.StatusOK, resp)
}

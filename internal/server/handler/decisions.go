package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/dexguard/internal/domain"
)

// DecisionService defines the methods the decision handler requires from the
// service layer. It is declared locally so the handler package does not depend
// on the concrete service implementation.
type DecisionService interface {
	GetByID(ctx context.Context, id string) (domain.Decision, error)
	ListRecent(ctx context.Context, limit int) ([]domain.Decision, error)
	ListByPool(ctx context.Context, key domain.PoolKey, opts domain.ListOpts) ([]domain.Decision, error)
	Latest(ctx context.Context, key domain.PoolKey) (domain.Decision, error)
	Count(ctx context.Context) (int64, error)
}

// DecisionHandler serves decision-history HTTP endpoints.
type DecisionHandler struct {
	decisions DecisionService
	logger    *slog.Logger
}

// NewDecisionHandler creates a DecisionHandler with the given service and logger.
func NewDecisionHandler(decisions DecisionService, logger *slog.Logger) *DecisionHandler {
	return &DecisionHandler{
		decisions: decisions,
		logger:    logger,
	}
}

// listDecisionsResponse wraps the list endpoint output with metadata.
type listDecisionsResponse struct {
	Decisions []domain.Decision `json:"decisions"`
	Total     int64             `json:"total"`
	Limit     int               `json:"limit"`
	Offset    int               `json:"offset"`
}

// ListDecisions returns the newest decisions across all pools, or a single
// pool's history when the pool query parameter is present.
// GET /api/decisions?limit=50&offset=0&pool=<pool_key>
func (h *DecisionHandler) ListDecisions(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)

	var (
		decisions []domain.Decision
		err       error
	)
	if pool := r.URL.Query().Get("pool"); pool != "" {
		decisions, err = h.decisions.ListByPool(r.Context(), domain.PoolKey(pool), opts)
	} else {
		decisions, err = h.decisions.ListRecent(r.Context(), opts.Limit)
	}
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list decisions failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list decisions")
		return
	}

	total, err := h.decisions.Count(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: count decisions failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to count decisions")
		return
	}

	writeJSON(w, http.StatusOK, listDecisionsResponse{
		Decisions: decisions,
		Total:     total,
		Limit:     opts.Limit,
		Offset:    opts.Offset,
	})
}

// GetDecision returns a single decision by its ID.
// GET /api/decisions/{id}
func (h *DecisionHandler) GetDecision(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing decision id")
		return
	}

	d, err := h.decisions.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "decision not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: get decision failed",
			slog.String("decision_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get decision")
		return
	}

	writeJSON(w, http.StatusOK, d)
}

package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/dexguard/internal/domain"
)

const testPoolKey = domain.PoolKey("ethereum:WETH/USDC:0xB4e16d0168e52d35CaCD2c6185b44281Ec28C9Dc")

type stubDecisionService struct {
	decisions map[string]domain.Decision
	recent    []domain.Decision
}

func (s *stubDecisionService) GetByID(_ context.Context, id string) (domain.Decision, error) {
	d, ok := s.decisions[id]
	if !ok {
		return domain.Decision{}, domain.ErrNotFound
	}
	return d, nil
}

func (s *stubDecisionService) ListRecent(_ context.Context, limit int) ([]domain.Decision, error) {
	if limit > len(s.recent) {
		limit = len(s.recent)
	}
	return s.recent[:limit], nil
}

func (s *stubDecisionService) ListByPool(_ context.Context, key domain.PoolKey, _ domain.ListOpts) ([]domain.Decision, error) {
	var out []domain.Decision
	for _, d := range s.recent {
		if d.PoolKey == key {
			out = append(out, d)
		}
	}
	return out, nil
}

func (s *stubDecisionService) Latest(_ context.Context, key domain.PoolKey) (domain.Decision, error) {
	decisions, _ := s.ListByPool(context.Background(), key, domain.ListOpts{})
	if len(decisions) == 0 {
		return domain.Decision{}, domain.ErrNotFound
	}
	return decisions[0], nil
}

func (s *stubDecisionService) Count(_ context.Context) (int64, error) {
	return int64(len(s.recent)), nil
}

type stubPoolDirectory struct {
	snapshots []domain.PoolSnapshot
}

func (s *stubPoolDirectory) Snapshot(key domain.PoolKey) (domain.PoolSnapshot, error) {
	for _, snap := range s.snapshots {
		if snap.Key == key {
			return snap, nil
		}
	}
	return domain.PoolSnapshot{}, domain.ErrNotFound
}

func (s *stubPoolDirectory) Snapshots() []domain.PoolSnapshot {
	return s.snapshots
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testDecision(id string) domain.Decision {
	return domain.Decision{
		ID:      id,
		Chain:   "ethereum",
		PoolKey: testPoolKey,
		Pair:    "WETH/USDC",
		Tier:    domain.TierElevated,
		Score:   47.3,
		Action:  domain.ActionMEVProtection,
		Trigger: domain.TriggerPromotion,
		TTL:     5 * time.Minute,
	}
}

func TestListDecisions(t *testing.T) {
	svc := &stubDecisionService{
		recent: []domain.Decision{testDecision("d-1"), testDecision("d-2")},
	}
	h := NewDecisionHandler(svc, testLogger())

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/decisions", h.ListDecisions)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/decisions", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var resp listDecisionsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.Decisions, 2)
	assert.Equal(t, int64(2), resp.Total)
	assert.Equal(t, 50, resp.Limit)
}

func TestListDecisionsFiltersByPool(t *testing.T) {
	other := testDecision("d-other")
	other.PoolKey = "polygon:WMATIC/USDC:0x6e7a5FAFcec6BB1e78bAE2A1F0B612012BF14827"
	svc := &stubDecisionService{
		recent: []domain.Decision{testDecision("d-1"), other},
	}
	h := NewDecisionHandler(svc, testLogger())

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/decisions", h.ListDecisions)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/decisions?pool="+string(testPoolKey), nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var resp listDecisionsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Decisions, 1)
	assert.Equal(t, "d-1", resp.Decisions[0].ID)
}

func TestGetDecisionByID(t *testing.T) {
	svc := &stubDecisionService{
		decisions: map[string]domain.Decision{"d-1": testDecision("d-1")},
	}
	h := NewDecisionHandler(svc, testLogger())

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/decisions/{id}", h.GetDecision)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/decisions/d-1", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var d domain.Decision
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &d))
	assert.Equal(t, "d-1", d.ID)
	assert.Equal(t, domain.ActionMEVProtection, d.Action)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/decisions/missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListPools(t *testing.T) {
	dir := &stubPoolDirectory{snapshots: []domain.PoolSnapshot{
		{Key: testPoolKey, Chain: "ethereum", Pair: "WETH/USDC", Score: 47.3, Tier: domain.TierElevated},
	}}
	h := NewPoolHandler(dir, testLogger())

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/pools", h.ListPools)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/pools", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp listPoolsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 1, resp.Total)
	assert.Equal(t, testPoolKey, resp.Pools[0].Key)
}

func TestGetPool(t *testing.T) {
	dir := &stubPoolDirectory{snapshots: []domain.PoolSnapshot{
		{Key: testPoolKey, Chain: "ethereum", Pair: "WETH/USDC", Tier: domain.TierCritical},
	}}
	h := NewPoolHandler(dir, testLogger())

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/pools/{key...}", h.GetPool)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/pools/"+string(testPoolKey), nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var snap domain.PoolSnapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, domain.TierCritical, snap.Tier)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/pools/unknown", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestParseListOptsDefaultsAndCaps(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/api/decisions", nil)
	opts := parseListOpts(r)
	assert.Equal(t, 50, opts.Limit)
	assert.Zero(t, opts.Offset)

	r = httptest.NewRequest(http.MethodGet, "/api/decisions?limit=9999&offset=20", nil)
	opts = parseListOpts(r)
	assert.Equal(t, 500, opts.Limit)
	assert.Equal(t, 20, opts.Offset)
}

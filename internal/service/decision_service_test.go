package service

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/dexguard/internal/domain"
)

type fakeStore struct {
	inserted  []domain.Decision
	insertErr error
	byPool    map[domain.PoolKey][]domain.Decision
}

func (s *fakeStore) Insert(_ context.Context, d domain.Decision) error {
	if s.insertErr != nil {
		return s.insertErr
	}
	s.inserted = append(s.inserted, d)
	return nil
}

func (s *fakeStore) GetByID(_ context.Context, id string) (domain.Decision, error) {
	for _, d := range s.inserted {
		if d.ID == id {
			return d, nil
		}
	}
	return domain.Decision{}, domain.ErrNotFound
}

func (s *fakeStore) ListRecent(_ context.Context, limit int) ([]domain.Decision, error) {
	if limit > len(s.inserted) {
		limit = len(s.inserted)
	}
	return s.inserted[:limit], nil
}

func (s *fakeStore) ListByPool(_ context.Context, key domain.PoolKey, opts domain.ListOpts) ([]domain.Decision, error) {
	decisions := s.byPool[key]
	if opts.Limit > 0 && opts.Limit < len(decisions) {
		decisions = decisions[:opts.Limit]
	}
	return decisions, nil
}

func (s *fakeStore) ListBefore(_ context.Context, _ time.Time) ([]domain.Decision, error) {
	return nil, nil
}

func (s *fakeStore) Count(_ context.Context) (int64, error) {
	return int64(len(s.inserted)), nil
}

type fakeCache struct {
	latest      map[domain.PoolKey]domain.Decision
	invalidated []domain.PoolKey
	err         error
}

func newFakeCache() *fakeCache {
	return &fakeCache{latest: make(map[domain.PoolKey]domain.Decision)}
}

func (c *fakeCache) SetLatest(_ context.Context, d domain.Decision) error {
	if c.err != nil {
		return c.err
	}
	c.latest[d.PoolKey] = d
	return nil
}

func (c *fakeCache) GetLatest(_ context.Context, key domain.PoolKey) (domain.Decision, error) {
	if c.err != nil {
		return domain.Decision{}, c.err
	}
	d, ok := c.latest[key]
	if !ok {
		return domain.Decision{}, domain.ErrNotFound
	}
	return d, nil
}

func (c *fakeCache) Invalidate(_ context.Context, key domain.PoolKey) error {
	c.invalidated = append(c.invalidated, key)
	delete(c.latest, key)
	return nil
}

type fakeBus struct {
	published map[string][][]byte
	appended  map[string][][]byte
	err       error
}

func newFakeBus() *fakeBus {
	return &fakeBus{
		published: make(map[string][][]byte),
		appended:  make(map[string][][]byte),
	}
}

func (b *fakeBus) Publish(_ context.Context, channel string, payload []byte) error {
	if b.err != nil {
		return b.err
	}
	b.published[channel] = append(b.published[channel], payload)
	return nil
}

func (b *fakeBus) Subscribe(_ context.Context, _ string) (<-chan []byte, error) {
	return nil, errors.New("not implemented")
}

func (b *fakeBus) StreamAppend(_ context.Context, stream string, payload []byte) error {
	if b.err != nil {
		return b.err
	}
	b.appended[stream] = append(b.appended[stream], payload)
	return nil
}

func (b *fakeBus) StreamRead(_ context.Context, _ string, _ string, _ int) ([]domain.StreamMessage, error) {
	return nil, nil
}

type fakeNotifier struct {
	events []string
	titles []string
}

func (n *fakeNotifier) Notify(_ context.Context, event, title, _ string) error {
	n.events = append(n.events, event)
	n.titles = append(n.titles, title)
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func sampleDecision() domain.Decision {
	return domain.Decision{
		ID:        "dec-1",
		CreatedAt: time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC),
		Chain:     "ethereum",
		PoolKey:   "ethereum:WETH/USDC:0xB4e16d0168e52d35CaCD2c6185b44281Ec28C9Dc",
		Pair:      "WETH/USDC",
		Tier:      domain.TierElevated,
		Score:     48.2,
		Action:    domain.ActionMEVProtection,
		Trigger:   domain.TriggerPromotion,
		Rationale: "sustained MEV pressure",
		TTL:       5 * time.Minute,
	}
}

func TestOnDecisionFansOutToAllSinks(t *testing.T) {
	store := &fakeStore{}
	cache := newFakeCache()
	bus := newFakeBus()
	notifier := &fakeNotifier{}

	svc := NewDecisionService(store, cache, bus, nil, notifier, nil, discardLogger())

	d := sampleDecision()
	require.NoError(t, svc.OnDecision(context.Background(), d))

	require.Len(t, store.inserted, 1)
	assert.Equal(t, d.ID, store.inserted[0].ID)

	cached, ok := cache.latest[d.PoolKey]
	require.True(t, ok)
	assert.Equal(t, d.ID, cached.ID)

	require.Len(t, bus.published["decisions"], 1)
	require.Len(t, bus.appended["decisions:log"], 1)
	var wire domain.Decision
	require.NoError(t, json.Unmarshal(bus.published["decisions"][0], &wire))
	assert.Equal(t, d.Action, wire.Action)

	select {
	case got := <-svc.Actions():
		assert.Equal(t, d.ID, got.ID)
	default:
		t.Fatal("expected decision on the executor channel")
	}

	assert.Equal(t, []string{"promotion"}, notifier.events)
}

func TestOnDecisionInsertFailureIsReturned(t *testing.T) {
	store := &fakeStore{insertErr: errors.New("pg down")}
	bus := newFakeBus()

	svc := NewDecisionService(store, nil, bus, nil, nil, nil, discardLogger())

	err := svc.OnDecision(context.Background(), sampleDecision())
	require.Error(t, err)
	assert.Empty(t, bus.published, "sinks must not run when persistence fails")
}

func TestOnDecisionSinkFailuresDoNotFailPublish(t *testing.T) {
	store := &fakeStore{}
	cache := newFakeCache()
	cache.err = errors.New("redis down")
	bus := newFakeBus()
	bus.err = errors.New("redis down")

	svc := NewDecisionService(store, cache, bus, nil, nil, nil, discardLogger())

	require.NoError(t, svc.OnDecision(context.Background(), sampleDecision()))
	require.Len(t, store.inserted, 1)
}

func TestStandDownInvalidatesCacheAndStaysQuiet(t *testing.T) {
	store := &fakeStore{}
	cache := newFakeCache()
	notifier := &fakeNotifier{}

	svc := NewDecisionService(store, cache, nil, nil, notifier, nil, discardLogger())

	active := sampleDecision()
	require.NoError(t, svc.OnDecision(context.Background(), active))
	require.Contains(t, cache.latest, active.PoolKey)

	standDown := active
	standDown.ID = "dec-2"
	standDown.Tier = domain.TierWatch
	standDown.Action = domain.ActionNone
	standDown.Trigger = domain.TriggerDemotion
	require.NoError(t, svc.OnDecision(context.Background(), standDown))

	assert.NotContains(t, cache.latest, active.PoolKey)
	assert.Equal(t, []domain.PoolKey{active.PoolKey}, cache.invalidated)
	assert.Equal(t, []string{"promotion", "demotion"}, notifier.events)
}

func TestRefreshDecisionsDoNotNotify(t *testing.T) {
	store := &fakeStore{}
	notifier := &fakeNotifier{}

	svc := NewDecisionService(store, nil, nil, nil, notifier, nil, discardLogger())

	refresh := sampleDecision()
	refresh.Trigger = domain.TriggerRefresh
	require.NoError(t, svc.OnDecision(context.Background(), refresh))

	assert.Empty(t, notifier.events)
}

func TestCriticalDecisionNotifiesAsCritical(t *testing.T) {
	store := &fakeStore{}
	notifier := &fakeNotifier{}

	svc := NewDecisionService(store, nil, nil, nil, notifier, nil, discardLogger())

	d := sampleDecision()
	d.Tier = domain.TierCritical
	d.Action = domain.ActionCircuitBreaker
	require.NoError(t, svc.OnDecision(context.Background(), d))

	require.Equal(t, []string{"critical"}, notifier.events)
	assert.Contains(t, notifier.titles[0], "CRITICAL")
}

func TestLatestPrefersCacheThenStore(t *testing.T) {
	d := sampleDecision()
	store := &fakeStore{byPool: map[domain.PoolKey][]domain.Decision{
		d.PoolKey: {d},
	}}
	cache := newFakeCache()

	svc := NewDecisionService(store, cache, nil, nil, nil, nil, discardLogger())

	// Cache miss falls back to the store.
	got, err := svc.Latest(context.Background(), d.PoolKey)
	require.NoError(t, err)
	assert.Equal(t, d.ID, got.ID)

	// Cache hit short-circuits.
	hit := d
	hit.ID = "dec-cached"
	cache.latest[d.PoolKey] = hit
	got, err = svc.Latest(context.Background(), d.PoolKey)
	require.NoError(t, err)
	assert.Equal(t, "dec-cached", got.ID)
}

func TestLatestUnknownPoolReturnsNotFound(t *testing.T) {
	store := &fakeStore{}
	svc := NewDecisionService(store, nil, nil, nil, nil, nil, discardLogger())

	_, err := svc.Latest(context.Background(), "ethereum:WETH/USDC:0xB4e16d0168e52d35CaCD2c6185b44281Ec28C9Dc")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

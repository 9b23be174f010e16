package repository

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"testing"
	"time"

	"MarketCascade/internal/domain/models"
	"MarketCascade/internal/repository/memory"
	"MarketCascade/pkg/cache"
	pkgch "MarketCascade/pkg/clickhouse"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	ctx = context.Background()
	t0  = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
)

func newCHStore(t *testing.T) (*CHSnapshotStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewCHSnapshotStore(pkgch.NewClientFromDB(db, "cascade")), mock
}

func TestCHAppendRegimeMonotonic(t *testing.T) {
	s, mock := newCHStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT max(as_of) FROM cascade.regime_snapshots")).
		WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(t0))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO cascade.regime_snapshots")).
		WithArgs(sqlmock.AnyArg(), "bull", 0.7, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, s.AppendRegime(ctx, models.RegimeSnapshot{AsOf: t0.Add(time.Hour), Regime: models.RegimeBull, Confidence: 0.7}))

	mock.ExpectQuery(regexp.QuoteMeta("SELECT max(as_of)")).
		WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(t0))
	err := s.AppendRegime(ctx, models.RegimeSnapshot{AsOf: t0, Regime: models.RegimeBear})
	assert.ErrorIs(t, err, models.ErrNonMonotonic)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCHLatestRegimeDecodesPayload(t *testing.T) {
	s, mock := newCHStore(t)
	payload, _ := json.Marshal(models.RegimeSnapshot{AsOf: t0, Regime: models.RegimeNeutral, Drivers: []string{"sentiment"}})

	mock.ExpectQuery(regexp.QuoteMeta("SELECT payload FROM cascade.regime_snapshots ORDER BY as_of DESC LIMIT ?")).
		WithArgs(1).
		WillReturnRows(sqlmock.NewRows([]string{"payload"}).AddRow(string(payload)))
	r, err := s.LatestRegime(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.RegimeNeutral, r.Regime)
	assert.Equal(t, []string{"sentiment"}, r.Drivers)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT payload")).WillReturnRows(sqlmock.NewRows([]string{"payload"}))
	_, err = s.LatestRegime(ctx)
	assert.ErrorIs(t, err, models.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCHAppendSectorsBatches(t *testing.T) {
	s, mock := newCHStore(t)
	ss := []models.SectorSnapshot{
		{AsOf: t0, SectorID: "defi", MomentumRank: 1, Leadership: models.LeadershipLeading},
		{AsOf: t0, SectorID: "l1", MomentumRank: 2, Leadership: models.LeadershipNeutral},
	}
	mock.ExpectQuery(regexp.QuoteMeta("SELECT max(as_of) FROM cascade.sector_snapshots")).
		WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(time.Unix(0, 0).UTC()))
	mock.ExpectExec(regexp.QuoteMeta("VALUES (?, ?, ?, ?, ?),(?, ?, ?, ?, ?)")).
		WillReturnResult(sqlmock.NewResult(0, 2))
	require.NoError(t, s.AppendSectors(ctx, ss))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCHLatestAssetsEmptyIsNotFound(t *testing.T) {
	s, mock := newCHStore(t)
	mock.ExpectQuery(regexp.QuoteMeta("FROM cascade.asset_snapshots")).
		WithArgs("global", "global").
		WillReturnRows(sqlmock.NewRows([]string{"payload"}))
	_, err := s.LatestAssets(ctx, models.DefaultListContext)
	assert.ErrorIs(t, err, models.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

type countingStore struct {
	*memory.SnapshotStore
	regimeReads int
}

func (c *countingStore) LatestRegime(ctx context.Context) (*models.RegimeSnapshot, error) {
	c.regimeReads++
	return c.SnapshotStore.LatestRegime(ctx)
}

func TestCachedSnapshotStoreInvalidatesOnAppend(t *testing.T) {
	inner := &countingStore{SnapshotStore: memory.NewSnapshotStore()}
	mc := cache.NewMemoryCache()
	defer mc.Close()
	s := NewCachedSnapshotStore(inner, mc, time.Minute)

	_, err := s.LatestRegime(ctx)
	assert.ErrorIs(t, err, models.ErrNotFound)

	require.NoError(t, s.AppendRegime(ctx, models.RegimeSnapshot{AsOf: t0, Regime: models.RegimeBull}))
	r, err := s.LatestRegime(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.RegimeBull, r.Regime)
	_, err = s.LatestRegime(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, inner.regimeReads)

	require.NoError(t, s.AppendRegime(ctx, models.RegimeSnapshot{AsOf: t0.Add(time.Hour), Regime: models.RegimeBear}))
	r, err = s.LatestRegime(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.RegimeBear, r.Regime)
	assert.Equal(t, 3, inner.regimeReads)
}

func TestCachedSnapshotStoreAssetsPerContext(t *testing.T) {
	mc := cache.NewMemoryCache()
	defer mc.Close()
	s := NewCachedSnapshotStore(memory.NewSnapshotStore(), mc, time.Minute)

	require.NoError(t, s.AppendAssets(ctx, []models.AssetSnapshot{{AsOf: t0, ListContext: "global", AssetID: "sol"}}))
	got, err := s.LatestAssets(ctx, "global")
	require.NoError(t, err)
	require.Len(t, got, 1)

	require.NoError(t, s.AppendAssets(ctx, []models.AssetSnapshot{{AsOf: t0.Add(time.Hour), ListContext: "global", AssetID: "eth"}}))
	got, err = s.LatestAssets(ctx, "global")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "eth", got[0].AssetID)

	_, err = s.LatestAssets(ctx, "alt")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

type fakeWriter struct {
	calls int
	err   error
	last  interface{}
	key   []byte
}

func (f *fakeWriter) Publish(_ context.Context, _ string, key []byte, value interface{}) error {
	f.calls++
	f.key, f.last = key, value
	return f.err
}

func (f *fakeWriter) Close() error { return nil }

func TestKafkaPublisherEnvelope(t *testing.T) {
	w := &fakeWriter{}
	p := NewKafkaPublisher(w, "cascade.signals", BreakerSettings{MinRequests: 5, FailureRatio: 0.5, Timeout: time.Minute}, nil)

	require.NoError(t, p.PublishSignal(ctx, models.TradingSignal{ID: "sig", AssetID: "sol"}))
	assert.Equal(t, []byte("sol"), w.key)
	ev, ok := w.last.(SignalEvent)
	require.True(t, ok)
	assert.Equal(t, EventSignalActivated, ev.Type)
	assert.Equal(t, "sig", ev.Signal.ID)
}

func TestKafkaPublisherBreakerOpens(t *testing.T) {
	w := &fakeWriter{err: errors.New("broker down")}
	p := NewKafkaPublisher(w, "cascade.signals", BreakerSettings{MinRequests: 2, FailureRatio: 0.5, Timeout: time.Minute}, nil)

	for i := 0; i < 2; i++ {
		assert.Error(t, p.PublishSignal(ctx, models.TradingSignal{ID: "sig", AssetID: "sol"}))
	}
	err := p.PublishSignal(ctx, models.TradingSignal{ID: "sig", AssetID: "sol"})
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, 2, w.calls)
}

type stubPublisher struct {
	got    []string
	err    error
	closed bool
}

func (p *stubPublisher) PublishSignal(_ context.Context, s models.TradingSignal) error {
	p.got = append(p.got, s.ID)
	return p.err
}

func (p *stubPublisher) Close() error { p.closed = true; return nil }

func TestFanoutPublisherDeliversToAll(t *testing.T) {
	failing := &stubPublisher{err: errors.New("down")}
	ok := &stubPublisher{}
	f := NewFanoutPublisher(failing, nil, ok)

	err := f.PublishSignal(ctx, models.TradingSignal{ID: "s1"})
	require.Error(t, err)
	assert.Equal(t, []string{"s1"}, failing.got)
	assert.Equal(t, []string{"s1"}, ok.got)

	require.NoError(t, f.Close())
	assert.True(t, failing.closed)
	assert.True(t, ok.closed)
}

func TestCachedSnapshotStoreInvalidate(t *testing.T) {
	inner := &countingStore{SnapshotStore: memory.NewSnapshotStore()}
	mc := cache.NewMemoryCache()
	defer mc.Close()
	s := NewCachedSnapshotStore(inner, mc, time.Minute)
	require.NoError(t, mc.Set(ctx, "other:key", 1, time.Minute))

	require.NoError(t, s.AppendRegime(ctx, models.RegimeSnapshot{AsOf: t0, Regime: models.RegimeBull}))
	_, err := s.LatestRegime(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, inner.regimeReads)

	require.NoError(t, s.Invalidate(ctx))
	_, err = s.LatestRegime(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, inner.regimeReads)

	ok, err := mc.Exists(ctx, "other:key")
	require.NoError(t, err)
	assert.True(t, ok, "keys outside the snapshot prefix survive")
}

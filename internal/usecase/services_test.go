package usecase

import (
	"context"
	"sync"
	"testing"
	"time"

	"MarketCascade/internal/domain/models"
	"MarketCascade/internal/middleware"
	"MarketCascade/internal/repository/memory"
	"MarketCascade/pkg/cache"
	pkgkafka "MarketCascade/pkg/kafka"
	"MarketCascade/pkg/queue"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func activeSignal(id string, generated, expires time.Time) models.TradingSignal {
	return models.TradingSignal{
		ID: id, AssetID: "sol", SectorID: "l1", Direction: models.Long,
		EntryPrice: 100, StopPrice: 94, TargetPrice: 112, RiskRewardRatio: 2,
		Status: models.SignalActive, GeneratedAt: generated, ExpiresAt: expires,
	}
}

func TestExecuteExpiredSignal(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.signals.Save(ctx, activeSignal("s1", t0.Add(-time.Hour), t0.Add(-time.Second))))

	_, err := h.execution().Execute(ctx, "s1", models.RiskProfile{}, decimal.NewFromInt(10000))
	require.ErrorIs(t, err, models.ErrSignalExpired)

	stored, err := h.signals.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, models.SignalExpired, stored.Status)

	// expires_at == now is already expired
	require.NoError(t, h.signals.Save(ctx, activeSignal("s2", t0.Add(-time.Hour), t0)))
	_, err = h.execution().Execute(ctx, "s2", models.RiskProfile{}, decimal.NewFromInt(10000))
	assert.ErrorIs(t, err, models.ErrSignalExpired)
}

func TestExecuteErrors(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.execution().Execute(ctx, "missing", models.RiskProfile{}, decimal.NewFromInt(1000))
	assert.ErrorIs(t, err, models.ErrNotFound)

	require.NoError(t, h.signals.Save(ctx, activeSignal("s1", t0, t0.Add(time.Hour))))
	_, err = h.execution().Execute(ctx, "s1", models.RiskProfile{}, decimal.Zero)
	assert.ErrorIs(t, err, models.ErrInvalidArgument)

	stored, err := h.signals.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, models.SignalActive, stored.Status, "a rejected sizing leaves the signal active")

	_, err = h.signals.Transition(ctx, "s1", models.SignalActive, models.SignalCancelled, t0)
	require.NoError(t, err)
	_, err = h.execution().Execute(ctx, "s1", models.RiskProfile{}, decimal.NewFromInt(1000))
	assert.ErrorIs(t, err, models.ErrConflict)
}

func TestReviewDecide(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	rec, _, err := h.watchlist.UpsertPending(ctx, models.SuggestionRecord{
		ListContext: models.DefaultListContext, AssetID: "sol", SuggestionType: models.SuggestPromote,
	})
	require.NoError(t, err)

	_, err = h.review().Decide(ctx, models.DefaultListContext, rec.ID, "maybe", "alice")
	assert.ErrorIs(t, err, models.ErrInvalidArgument)
	_, err = h.review().Decide(ctx, models.DefaultListContext, rec.ID, models.VerdictApprove, "  ")
	assert.ErrorIs(t, err, models.ErrInvalidArgument)

	// sol is not in tier2, so the promotion no longer applies
	got, err := h.review().Decide(ctx, models.DefaultListContext, rec.ID, models.VerdictApprove, "alice")
	assert.ErrorIs(t, err, models.ErrNotApplicable)
	assert.Equal(t, models.StatusExpired, got.Status)

	_, err = h.review().Decide(ctx, models.DefaultListContext, rec.ID, models.VerdictReject, "alice")
	assert.ErrorIs(t, err, models.ErrConflict)

	_, err = h.review().Decide(ctx, models.DefaultListContext, "nope", models.VerdictReject, "alice")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestReconciliationRecordTrade(t *testing.T) {
	ledger := memory.NewLedger()
	svc := NewReconciliationService(ledger, nil, nil, nil)
	svc.now = func() time.Time { return t0 }
	ctx := context.Background()

	trade := func(side models.TradeSide, qty, price string) models.Trade {
		return models.Trade{
			UserID: "u1", AssetID: "btc", Direction: side,
			Quantity: decimal.RequireFromString(qty), Price: decimal.RequireFromString(price),
			Fees: decimal.RequireFromString("1"),
		}
	}
	_, err := svc.RecordTrade(ctx, trade(models.Buy, "10", "100"))
	require.NoError(t, err)
	_, err = svc.RecordTrade(ctx, trade(models.Buy, "10", "120"))
	require.NoError(t, err)
	pos, err := svc.RecordTrade(ctx, trade(models.Sell, "15", "150"))
	require.NoError(t, err)

	assert.True(t, pos.NetQuantity.Equal(decimal.NewFromInt(5)), "net %s", pos.NetQuantity)
	assert.True(t, pos.AverageEntryPrice.Equal(decimal.NewFromInt(110)), "avg %s", pos.AverageEntryPrice)
	assert.True(t, pos.RealizedPnL.Equal(decimal.NewFromInt(600)), "pnl %s", pos.RealizedPnL)
	assert.Equal(t, 3, pos.TradeCount)

	saved, err := ledger.Position(ctx, "u1", "btc")
	require.NoError(t, err)
	assert.True(t, saved.NetQuantity.Equal(pos.NetQuantity))

	rebuilt, err := svc.Rebuild(ctx, "u1", "btc")
	require.NoError(t, err)
	assert.True(t, rebuilt.RealizedPnL.Equal(pos.RealizedPnL))
}

func TestReconciliationRejectsBadTrades(t *testing.T) {
	svc := NewReconciliationService(memory.NewLedger(), nil, nil, nil)
	ctx := context.Background()
	good := models.Trade{
		UserID: "u1", AssetID: "btc", Direction: models.Buy,
		Quantity: decimal.NewFromInt(1), Price: decimal.NewFromInt(100),
	}
	for name, mutate := range map[string]func(*models.Trade){
		"no user":       func(tr *models.Trade) { tr.UserID = "" },
		"bad direction": func(tr *models.Trade) { tr.Direction = "hold" },
		"zero quantity": func(tr *models.Trade) { tr.Quantity = decimal.Zero },
		"zero price":    func(tr *models.Trade) { tr.Price = decimal.Zero },
		"negative fees": func(tr *models.Trade) { tr.Fees = decimal.NewFromInt(-1) },
	} {
		t.Run(name, func(t *testing.T) {
			tr := good
			mutate(&tr)
			_, err := svc.RecordTrade(ctx, tr)
			assert.ErrorIs(t, err, models.ErrInvalidArgument)
		})
	}
}

func TestReconciliationConcurrentTradesOnOnePair(t *testing.T) {
	ledger := memory.NewLedger()
	svc := NewReconciliationService(ledger, NewKeyedMutex(), nil, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.RecordTrade(ctx, models.Trade{
				UserID: "u1", AssetID: "eth", Direction: models.Buy,
				Quantity: decimal.NewFromInt(1), Price: decimal.NewFromInt(10),
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	pos, err := ledger.Position(ctx, "u1", "eth")
	require.NoError(t, err)
	assert.Equal(t, 20, pos.TradeCount)
	assert.True(t, pos.NetQuantity.Equal(decimal.NewFromInt(20)))
}

func TestKeyedMutex(t *testing.T) {
	k := NewKeyedMutex()
	unlock, err := k.Lock(context.Background(), "a")
	require.NoError(t, err)

	// other keys are independent
	unlockB, err := k.Lock(context.Background(), "b")
	require.NoError(t, err)
	unlockB()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = k.Lock(ctx, "a")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	unlock()
	unlock, err = k.Lock(context.Background(), "a")
	require.NoError(t, err)
	unlock()

	k.mu.Lock()
	assert.Empty(t, k.slots)
	k.mu.Unlock()
}

func TestCacheLocker(t *testing.T) {
	c := cache.NewMemoryCache()
	defer c.Close()
	l := NewCacheLocker(c, time.Second)

	unlock, err := l.Lock(context.Background(), pairKey("u1", "btc"))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	_, err = l.Lock(ctx, pairKey("u1", "btc"))
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	unlock()
	unlock, err = l.Lock(context.Background(), pairKey("u1", "btc"))
	require.NoError(t, err)
	unlock()
}

func TestIngestHandlers(t *testing.T) {
	store := memory.NewInputStore(16)
	handlers := IngestHandlers(middleware.NewIngestGate(store), DefaultIngestTopics(), nil)
	byTopic := make(map[string]pkgkafka.MessageHandler)
	for _, h := range handlers {
		byTopic[h.Topic()] = h
	}
	require.Len(t, byTopic, 4)
	ctx := context.Background()

	bars := byTopic[TopicBars]
	err := bars.Handle(ctx, []byte(`{not json`))
	assert.True(t, pkgkafka.IsPermanent(err))

	err = bars.Handle(ctx, []byte(`{"as_of":"2026-03-01T12:00:00Z","asset_id":"sol","bars":[]}`))
	assert.True(t, pkgkafka.IsPermanent(err), "invalid bundle is not retried: %v", err)

	payload := []byte(`{"as_of":"2026-03-01T12:00:00Z","asset_id":"sol","bars":[
		{"open_time":"2026-03-01T11:59:00Z","open":100,"high":101,"low":99,"close":100.5,"volume":10}]}`)
	require.NoError(t, bars.Handle(ctx, payload))
	// the replay is dropped, not failed
	require.NoError(t, bars.Handle(ctx, payload))

	got, err := store.RecentBars(ctx, "sol")
	require.NoError(t, err)
	assert.Len(t, got.Bars, 1)

	macro := byTopic[TopicMacro]
	require.NoError(t, macro.Handle(ctx, []byte(`{"as_of":"2026-03-01T12:00:00Z","source":"feed","indicators":{"sentiment":55}}`)))
	window, err := store.MacroWindow(ctx, 5)
	require.NoError(t, err)
	require.Len(t, window, 1)
	assert.Equal(t, 55.0, window[0].Indicators["sentiment"])
}

func TestQueryLatestRegimeAge(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	q := NewQueryService(h.snapshots, h.watchlist, h.signals, memory.NewLedger(), CascadeConfig{RegimeFreshness: 15 * time.Minute})
	q.now = func() time.Time { return t0.Add(20 * time.Minute) }

	_, err := q.LatestRegime(ctx)
	assert.ErrorIs(t, err, models.ErrNotFound)

	require.NoError(t, h.snapshots.AppendRegime(ctx, models.RegimeSnapshot{AsOf: t0, Regime: models.RegimeBear, Confidence: 0.7}))
	v, err := q.LatestRegime(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.RegimeBear, v.Regime)
	assert.InDelta(t, 1200.0, v.AgeSeconds, 1e-9)
	assert.True(t, v.Stale)

	_, err = q.LatestSectors(ctx)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

type recordingEnqueuer struct {
	types    []string
	payloads []interface{}
}

func (e *recordingEnqueuer) Enqueue(_ context.Context, msgType string, payload interface{}) error {
	e.types = append(e.types, msgType)
	e.payloads = append(e.payloads, payload)
	return nil
}

func TestRequestRebuild(t *testing.T) {
	ledger := memory.NewLedger()
	svc := NewReconciliationService(ledger, nil, nil, nil)
	ctx := context.Background()
	_, err := ledger.Append(ctx, models.Trade{
		UserID: "u1", AssetID: "btc", Direction: models.Buy,
		Quantity: decimal.NewFromInt(3), Price: decimal.NewFromInt(100), ExecutedAt: t0,
	})
	require.NoError(t, err)

	pos, err := svc.RequestRebuild(ctx, "u1", "btc")
	require.NoError(t, err)
	require.NotNil(t, pos)
	assert.True(t, pos.NetQuantity.Equal(decimal.NewFromInt(3)))

	q := &recordingEnqueuer{}
	svc.SetRebuildQueue(q)
	pos, err = svc.RequestRebuild(ctx, "u1", "btc")
	require.NoError(t, err)
	assert.Nil(t, pos)
	assert.Equal(t, []string{JobRebuildPosition}, q.types)
	assert.Equal(t, RebuildRequest{UserID: "u1", AssetID: "btc"}, q.payloads[0])

	_, err = svc.RequestRebuild(ctx, "", "btc")
	assert.ErrorIs(t, err, models.ErrInvalidArgument)
}

func TestRebuildJob(t *testing.T) {
	ledger := memory.NewLedger()
	ctx := context.Background()
	_, err := ledger.Append(ctx, models.Trade{
		UserID: "u1", AssetID: "eth", Direction: models.Buy,
		Quantity: decimal.NewFromInt(2), Price: decimal.NewFromInt(50), ExecutedAt: t0,
	})
	require.NoError(t, err)
	job := NewRebuildJob(NewReconciliationService(ledger, nil, nil, nil), nil)
	assert.Equal(t, JobRebuildPosition, job.Type())

	require.NoError(t, job.Handle(ctx, []byte(`{"user_id":"u1","asset_id":"eth"}`)))
	pos, err := ledger.Position(ctx, "u1", "eth")
	require.NoError(t, err)
	assert.Equal(t, 1, pos.TradeCount)

	assert.True(t, queue.IsPermanent(job.Handle(ctx, []byte(`{"user_id":"u1"}`))))
	assert.True(t, queue.IsPermanent(job.Handle(ctx, []byte(`[1,2]`))))

	// a zero-quantity row written around the service breaks the replay invariant
	_, err = ledger.Append(ctx, models.Trade{
		UserID: "u1", AssetID: "eth", Direction: models.Sell,
		Quantity: decimal.Zero, Price: decimal.NewFromInt(60), ExecutedAt: t0.Add(time.Minute),
	})
	require.NoError(t, err)
	err = job.Handle(ctx, []byte(`{"user_id":"u1","asset_id":"eth"}`))
	assert.True(t, queue.IsPermanent(err), "%v", err)
}

package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"MarketCascade/internal/domain/models"
	"MarketCascade/internal/repository/memory"
	"MarketCascade/internal/scheduler"
	"MarketCascade/internal/service/ratelimit"
	"MarketCascade/internal/services/sizing"
	"MarketCascade/internal/services/watchlist"
	"MarketCascade/internal/usecase"
	xhttp "MarketCascade/pkg/http"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	e         *echo.Echo
	snapshots *memory.SnapshotStore
	watchlist *memory.WatchlistStore
	signals   *memory.SignalStore
	ledger    *memory.Ledger
}

func newFixture(t *testing.T, rl *ratelimit.Limiter) *fixture {
	t.Helper()
	f := &fixture{
		e:         echo.New(),
		snapshots: memory.NewSnapshotStore(),
		watchlist: memory.NewWatchlistStore(),
		signals:   memory.NewSignalStore(),
		ledger:    memory.NewLedger(),
	}
	cfg := usecase.CascadeConfig{RegimeFreshness: 15 * time.Minute, SectorFreshness: 2 * time.Hour}
	q := usecase.NewQueryService(f.snapshots, f.watchlist, f.signals, f.ledger, cfg)
	engine := watchlist.NewEngine(watchlist.DefaultConfig())
	handlers := []xhttp.Handler{
		NewSnapshotHandler(q, nil),
		NewWatchlistHandler(q, usecase.NewReviewService(f.watchlist, engine, nil, nil), rl, nil),
		NewSignalsHandler(q, usecase.NewExecutionService(f.signals, sizing.NewSizer(), nil, nil), rl, nil),
		NewPortfolioHandler(q, usecase.NewReconciliationService(f.ledger, nil, nil, nil), rl, nil),
		NewHealthHandler(map[string]Check{"store": func(context.Context) error { return nil }}),
	}
	for _, h := range handlers {
		h.RegisterRoutes(f.e)
	}
	return f
}

type envelope struct {
	Status  int             `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (f *fixture) do(t *testing.T, method, path, body string) (int, envelope) {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	f.e.ServeHTTP(rec, req)
	var env envelope
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	}
	return rec.Code, env
}

func TestLatestRegime(t *testing.T) {
	f := newFixture(t, nil)
	code, _ := f.do(t, http.MethodGet, "/api/v1/regime/latest", "")
	assert.Equal(t, http.StatusNotFound, code)

	asOf := time.Now().UTC().Add(-time.Minute).Truncate(time.Second)
	require.NoError(t, f.snapshots.AppendRegime(context.Background(), models.RegimeSnapshot{
		AsOf: asOf, Regime: models.RegimeBull, Confidence: 0.8,
	}))
	code, env := f.do(t, http.MethodGet, "/api/v1/regime/latest", "")
	require.Equal(t, http.StatusOK, code)

	var v struct {
		Regime     models.Regime `json:"regime"`
		AgeSeconds float64       `json:"age_seconds"`
		Stale      bool          `json:"stale"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &v))
	assert.Equal(t, models.RegimeBull, v.Regime)
	assert.False(t, v.Stale)
	assert.Greater(t, v.AgeSeconds, 0.0)
}

func TestRegimeHistoryValidatesLimit(t *testing.T) {
	f := newFixture(t, nil)
	code, _ := f.do(t, http.MethodGet, "/api/v1/regime/history?limit=5000", "")
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestExecuteExpiredSignalIsConflict(t *testing.T) {
	f := newFixture(t, nil)
	now := time.Now().UTC()
	require.NoError(t, f.signals.Save(context.Background(), models.TradingSignal{
		ID: "s1", AssetID: "sol", Direction: models.Long, EntryPrice: 100, StopPrice: 94, TargetPrice: 112,
		Status: models.SignalActive, GeneratedAt: now.Add(-time.Hour), ExpiresAt: now.Add(-time.Minute),
	}))

	code, env := f.do(t, http.MethodPost, "/api/v1/signals/s1/execute",
		`{"risk_profile":{"tolerance":"moderate"},"account_equity":"10000"}`)
	assert.Equal(t, http.StatusConflict, code)
	assert.Contains(t, string(env.Data), "ERR_SIGNAL_EXPIRED")

	code, _ = f.do(t, http.MethodGet, "/api/v1/signals/s1", "")
	assert.Equal(t, http.StatusOK, code)
	stored, err := f.signals.Get(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, models.SignalExpired, stored.Status)
}

func TestExecuteSizesOrder(t *testing.T) {
	f := newFixture(t, nil)
	now := time.Now().UTC()
	require.NoError(t, f.signals.Save(context.Background(), models.TradingSignal{
		ID: "s1", AssetID: "sol", Direction: models.Long, EntryPrice: 100, StopPrice: 95, TargetPrice: 110,
		Status: models.SignalActive, GeneratedAt: now, ExpiresAt: now.Add(time.Hour),
	}))

	code, env := f.do(t, http.MethodPost, "/api/v1/signals/s1/execute",
		`{"risk_profile":{"max_risk_per_trade_percent":1,"max_position_percent":50},"account_equity":"10000"}`)
	require.Equal(t, http.StatusOK, code, string(env.Data))
	var order models.SizedOrder
	require.NoError(t, json.Unmarshal(env.Data, &order))
	assert.Equal(t, "20", order.Quantity.String())
	assert.False(t, order.Clamped)

	code, _ = f.do(t, http.MethodPost, "/api/v1/signals/s1/execute",
		`{"risk_profile":{},"account_equity":"10000"}`)
	assert.Equal(t, http.StatusConflict, code)

	code, _ = f.do(t, http.MethodPost, "/api/v1/signals/nope/execute", `{"account_equity":"10000"}`)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestListSignalsRejectsUnknownStatus(t *testing.T) {
	f := newFixture(t, nil)
	code, _ := f.do(t, http.MethodGet, "/api/v1/signals?status=pending", "")
	assert.Equal(t, http.StatusBadRequest, code)

	code, env := f.do(t, http.MethodGet, "/api/v1/signals?status=active", "")
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(env.Data), `"total":0`)
}

func TestDecisionFlow(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	require.NoError(t, f.watchlist.Discover(ctx, models.DefaultListContext,
		models.WatchlistTier{Tier: models.Tier2, AssetID: "sol", SectorID: "l1", EnteredAt: time.Now()}, 10))
	rec, _, err := f.watchlist.UpsertPending(ctx, models.SuggestionRecord{
		ListContext: models.DefaultListContext, AssetID: "sol", SuggestionType: models.SuggestPromote,
	})
	require.NoError(t, err)

	path := fmt.Sprintf("/api/v1/watchlists/global/suggestions/%s/decision", rec.ID)
	code, _ := f.do(t, http.MethodPost, path, `{"verdict":"approve"}`)
	assert.Equal(t, http.StatusBadRequest, code, "decided_by is required")

	code, env := f.do(t, http.MethodPost, path, `{"verdict":"approve","decided_by":"alice"}`)
	require.Equal(t, http.StatusOK, code, string(env.Data))
	var got models.SuggestionRecord
	require.NoError(t, json.Unmarshal(env.Data, &got))
	assert.Equal(t, models.StatusApproved, got.Status)

	code, _ = f.do(t, http.MethodPost, path, `{"verdict":"reject","decided_by":"bob"}`)
	assert.Equal(t, http.StatusConflict, code)

	code, env = f.do(t, http.MethodGet, "/api/v1/watchlists/global/tiers", "")
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(env.Data), `"tier":"tier1"`)

	code, _ = f.do(t, http.MethodGet, "/api/v1/watchlists/Bad%20Name/tiers", "")
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestRecordTradeAndPositions(t *testing.T) {
	f := newFixture(t, nil)
	code, env := f.do(t, http.MethodPost, "/api/v1/trades",
		`{"user_id":"u1","asset_id":"btc","direction":"buy","quantity":"2","price":"100","fees":"1"}`)
	require.Equal(t, http.StatusCreated, code, string(env.Data))

	code, _ = f.do(t, http.MethodPost, "/api/v1/trades",
		`{"user_id":"u1","asset_id":"btc","direction":"buy","quantity":"0","price":"100"}`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, env = f.do(t, http.MethodGet, "/api/v1/portfolio/u1/positions/btc", "")
	require.Equal(t, http.StatusOK, code)
	var pos models.PortfolioPosition
	require.NoError(t, json.Unmarshal(env.Data, &pos))
	assert.Equal(t, "2", pos.NetQuantity.String())
	assert.Equal(t, 1, pos.TradeCount)

	code, _ = f.do(t, http.MethodGet, "/api/v1/portfolio/u1/positions/eth", "")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestWriteEndpointsRateLimited(t *testing.T) {
	f := newFixture(t, ratelimit.New(0.001, 1))
	body := `{"user_id":"u1","asset_id":"btc","direction":"buy","quantity":"1","price":"100"}`
	code, _ := f.do(t, http.MethodPost, "/api/v1/trades", body)
	assert.Equal(t, http.StatusCreated, code)
	code, _ = f.do(t, http.MethodPost, "/api/v1/trades", body)
	assert.Equal(t, http.StatusTooManyRequests, code)
	// reads are not limited
	code, _ = f.do(t, http.MethodGet, "/api/v1/portfolio/u1/positions", "")
	assert.Equal(t, http.StatusOK, code)
}

func TestHealth(t *testing.T) {
	e := echo.New()
	NewHealthHandler(map[string]Check{
		"ok":   func(context.Context) error { return nil },
		"down": func(context.Context) error { return errors.New("unreachable") },
	}).RegisterRoutes(e)

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "unreachable")
}

func TestToAppError(t *testing.T) {
	cases := map[error]int{
		models.ErrNotFound:                           http.StatusNotFound,
		fmt.Errorf("x: %w", models.ErrConflict):      http.StatusConflict,
		models.ErrCapacityExceeded:                   http.StatusConflict,
		models.ErrNotApplicable:                      http.StatusConflict,
		models.NewInvariantError("op", "bad"):        http.StatusUnprocessableEntity,
		&models.IncompleteInputError{Source: "s"}:    http.StatusServiceUnavailable,
		models.InvalidArgument("nope"):               http.StatusBadRequest,
		errors.New("boom"):                           http.StatusInternalServerError,
		xhttp.TooManyRequestsError("slow down"):      http.StatusTooManyRequests,
		fmt.Errorf("y: %w", models.ErrSignalExpired): http.StatusConflict,
	}
	for err, want := range cases {
		assert.Equal(t, want, toAppError(err).Status, err.Error())
	}
}

type fakePasses struct {
	runs []string
	err  error
}

func (f *fakePasses) Trigger(_ context.Context, name string) error {
	if name != "macro" && name != "sector" {
		return fmt.Errorf("pass %q: %w", name, models.ErrNotFound)
	}
	f.runs = append(f.runs, name)
	return f.err
}

func (f *fakePasses) Passes() []string { return []string{"macro", "sector"} }

func TestAdminPasses(t *testing.T) {
	e := echo.New()
	passes := &fakePasses{}
	NewAdminHandler(passes, nil, nil).RegisterRoutes(e)

	call := func(method, path string) (int, string) {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
		return rec.Code, rec.Body.String()
	}

	code, body := call(http.MethodGet, "/api/v1/admin/passes")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, `"macro"`)

	code, body = call(http.MethodPost, "/api/v1/admin/passes/macro")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, `"status":"done"`)
	assert.Equal(t, []string{"macro"}, passes.runs)

	code, _ = call(http.MethodPost, "/api/v1/admin/passes/nope")
	assert.Equal(t, http.StatusNotFound, code)

	passes.err = fmt.Errorf("run: %w", scheduler.ErrSkipped)
	code, body = call(http.MethodPost, "/api/v1/admin/passes/sector")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, `"status":"skipped"`)
}

func TestRebuildPosition(t *testing.T) {
	f := newFixture(t, nil)
	code, _ := f.do(t, http.MethodPost, "/api/v1/trades",
		`{"user_id":"u1","asset_id":"btc","direction":"buy","quantity":"4","price":"100"}`)
	require.Equal(t, http.StatusCreated, code)

	code, env := f.do(t, http.MethodPost, "/api/v1/portfolio/u1/positions/btc/rebuild", "")
	require.Equal(t, http.StatusOK, code, string(env.Data))
	var pos models.PortfolioPosition
	require.NoError(t, json.Unmarshal(env.Data, &pos))
	assert.Equal(t, "4", pos.NetQuantity.String())
}

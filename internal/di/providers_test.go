package di

import (
	"context"
	"testing"

	"MarketCascade/internal/domain/models"
	"MarketCascade/internal/repository/memory"
	"MarketCascade/pkg/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Default()
	require.NoError(t, err)
	cfg.Metrics.Enabled = false
	cfg.Log.Output = "stderr"
	cfg.Log.Level = "error"
	return cfg
}

func TestInitializeAppInMemory(t *testing.T) {
	cfg := testConfig(t)
	cfg.Cascade.Passes.Expiry.Enabled = false

	app, cleanup, err := InitializeApp(cfg)
	require.NoError(t, err)
	defer cleanup()

	assert.Equal(t, []string{"expiry", "macro", "sector", "signals", "watchlist"}, app.Scheduler().Passes())
	// a disabled pass still runs on demand
	require.NoError(t, app.Scheduler().Trigger(context.Background(), "expiry"))

	pos, err := app.Reconciliation().RequestRebuild(context.Background(), "u1", "btc")
	require.NoError(t, err)
	require.NotNil(t, pos, "without redis rebuilds run inline")
	assert.True(t, pos.NetQuantity.IsZero())
}

func TestProvideCascadeConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Cascade.Watchlist.Contexts = []string{"global", "sector-l1"}
	cc, err := ProvideCascadeConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, []models.ListContext{"global", "sector-l1"}, cc.ListContexts)
	assert.Equal(t, cfg.Cascade.Regime.Window+1, cc.MacroWindow)

	cfg.Cascade.Watchlist.Contexts = []string{"has space"}
	_, err = ProvideCascadeConfig(cfg)
	assert.Error(t, err)
}

func TestProvideStoresDefaultToMemory(t *testing.T) {
	cfg := testConfig(t)
	assert.IsType(t, &memory.WatchlistStore{}, ProvideWatchlistStore(cfg, nil))
	assert.IsType(t, &memory.SignalStore{}, ProvideSignalStore(cfg, nil))
	assert.IsType(t, &memory.Ledger{}, ProvideTradeLedger(cfg, nil))
	assert.IsType(t, &memory.SnapshotStore{}, ProvideSnapshotStore(cfg, nil, nil, nil))

	checks := ProvideHealthChecks(nil, nil, nil)
	assert.Empty(t, checks)
}

package middleware

import (
	"context"
	"testing"
	"time"

	"MarketCascade/internal/domain/models"
	"MarketCascade/internal/repository/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func macro(asOf time.Time) models.MacroBundle {
	return models.MacroBundle{AsOf: asOf, Source: "test", Indicators: map[string]float64{"sentiment": 50}}
}

func TestGateRejectsNonMonotonicMacro(t *testing.T) {
	store := memory.NewInputStore(16)
	g := NewIngestGate(store)
	ctx := context.Background()

	require.NoError(t, g.AcceptMacro(ctx, macro(t0)))
	assert.ErrorIs(t, g.AcceptMacro(ctx, macro(t0)), models.ErrNonMonotonic)
	assert.ErrorIs(t, g.AcceptMacro(ctx, macro(t0.Add(-time.Minute))), models.ErrNonMonotonic)
	require.NoError(t, g.AcceptMacro(ctx, macro(t0.Add(time.Minute))))

	window, err := store.MacroWindow(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, window, 2)
}

func TestGateValidatesBundles(t *testing.T) {
	g := NewIngestGate(memory.NewInputStore(16))
	ctx := context.Background()

	err := g.AcceptMacro(ctx, models.MacroBundle{Indicators: map[string]float64{"sentiment": 1}})
	assert.ErrorIs(t, err, models.ErrInvalidArgument)

	err = g.AcceptSectors(ctx, models.SectorBundle{AsOf: t0, Sectors: []models.SectorFlow{{SectorID: "", InflowVolume: 1}}})
	assert.ErrorIs(t, err, models.ErrInvalidArgument)

	err = g.AcceptAssets(ctx, models.AssetBundle{AsOf: t0, Assets: []models.AssetObservation{{AssetID: "sol", Volume24h: -1}}})
	assert.ErrorIs(t, err, models.ErrInvalidArgument)
}

func TestGateKeysBarsByAsset(t *testing.T) {
	store := memory.NewInputStore(16)
	g := NewIngestGate(store)
	ctx := context.Background()
	bars := []models.Bar{
		{OpenTime: t0, Open: 10, High: 11, Low: 9, Close: 10.5, Volume: 1},
		{OpenTime: t0.Add(time.Minute), Open: 10.5, High: 12, Low: 10, Close: 11, Volume: 2},
	}

	require.NoError(t, g.AcceptBars(ctx, models.BarBatch{AsOf: t0, AssetID: "sol", Bars: bars}))
	require.NoError(t, g.AcceptBars(ctx, models.BarBatch{AsOf: t0, AssetID: "eth", Bars: bars}))
	assert.ErrorIs(t, g.AcceptBars(ctx, models.BarBatch{AsOf: t0, AssetID: "sol", Bars: bars}), models.ErrNonMonotonic)

	got, err := store.RecentBars(ctx, "eth")
	require.NoError(t, err)
	assert.Len(t, got.Bars, 2)
}

func TestGateRejectsMalformedBars(t *testing.T) {
	g := NewIngestGate(memory.NewInputStore(16))
	ctx := context.Background()

	outOfOrder := []models.Bar{
		{OpenTime: t0.Add(time.Minute), High: 11, Low: 9, Close: 10},
		{OpenTime: t0, High: 11, Low: 9, Close: 10},
	}
	assert.ErrorIs(t, g.AcceptBars(ctx, models.BarBatch{AsOf: t0, AssetID: "sol", Bars: outOfOrder}), models.ErrInvalidArgument)

	inverted := []models.Bar{{OpenTime: t0, High: 9, Low: 11, Close: 10}}
	assert.ErrorIs(t, g.AcceptBars(ctx, models.BarBatch{AsOf: t0, AssetID: "sol", Bars: inverted}), models.ErrInvalidArgument)
}

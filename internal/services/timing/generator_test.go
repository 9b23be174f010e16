package timing

import (
	"errors"
	"testing"
	"time"

	"MarketCascade/internal/domain/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// trend builds n bars whose closes move by step per bar and end at last,
// with a fixed 4-point high-low range.
func trend(n int, last, step float64) models.BarBatch {
	bars := make([]models.Bar, n)
	for i := range bars {
		c := last - float64(n-1-i)*step
		bars[i] = models.Bar{
			OpenTime: now.Add(time.Duration(i-n) * time.Minute),
			Open:     c - step,
			High:     c + 2,
			Low:      c - 2,
			Close:    c,
			Volume:   1000,
		}
	}
	return models.BarBatch{AsOf: now, AssetID: "sol", Bars: bars}
}

func bullInput() models.SignalInput {
	return models.SignalInput{
		Tier:   models.WatchlistTier{AssetID: "sol", Tier: models.Tier1},
		Regime: models.RegimeSnapshot{AsOf: now, Regime: models.RegimeBull, Confidence: 0.8},
		Sector: &models.SectorSnapshot{AsOf: now, SectorID: "l1", FlowScore: 0.1, Leadership: models.LeadershipLeading},
		Bars:   trend(30, 100, 0.5),
		Now:    now,
	}
}

func TestGenerateBullLong(t *testing.T) {
	g := NewGenerator(DefaultConfig())
	out, err := g.Generate(bullInput())
	require.NoError(t, err)
	require.NotNil(t, out.Signal, "reason: %s", out.Reason)

	s := out.Signal
	assert.Equal(t, models.Long, s.Direction)
	assert.InDelta(t, 4.0, out.ATR, 1e-9)
	assert.InDelta(t, 100.0, s.EntryPrice, 1e-9)
	assert.InDelta(t, 94.0, s.StopPrice, 1e-9)
	assert.InDelta(t, 112.0, s.TargetPrice, 1e-9)
	assert.InDelta(t, 2.0, s.RiskRewardRatio, 1e-9)
	assert.True(t, s.StopPrice < s.EntryPrice && s.EntryPrice < s.TargetPrice)
	assert.Equal(t, models.SignalActive, s.Status)
	assert.Equal(t, now.Add(30*time.Minute), s.ExpiresAt)
	assert.Equal(t, "l1", s.SectorID)
	assert.Len(t, s.Consumed, 3)
	// 0.5*0.8 + 0.25*1 + 0.25*1
	assert.InDelta(t, 0.9, s.Confidence, 1e-6)
}

func TestGenerateBearShort(t *testing.T) {
	g := NewGenerator(DefaultConfig())
	in := bullInput()
	in.Regime.Regime = models.RegimeBear
	in.Sector.FlowScore = -0.1
	in.Bars = trend(30, 100, -0.5)

	out, err := g.Generate(in)
	require.NoError(t, err)
	require.NotNil(t, out.Signal)
	s := out.Signal
	assert.Equal(t, models.Short, s.Direction)
	assert.True(t, s.TargetPrice < s.EntryPrice && s.EntryPrice < s.StopPrice)
	assert.InDelta(t, 106.0, s.StopPrice, 1e-9)
	assert.InDelta(t, 88.0, s.TargetPrice, 1e-9)
}

func TestGenerateDiscards(t *testing.T) {
	g := NewGenerator(DefaultConfig())

	cases := []struct {
		name   string
		mutate func(*models.SignalInput)
		reason string
	}{
		{"neutral regime", func(in *models.SignalInput) { in.Regime.Regime = models.RegimeNeutral }, models.ReasonNoRegimeDirection},
		{"volatile regime", func(in *models.SignalInput) { in.Regime.Regime = models.RegimeVolatile }, models.ReasonNoRegimeDirection},
		{"no sector", func(in *models.SignalInput) { in.Sector = nil }, models.ReasonNoSector},
		{"few bars", func(in *models.SignalInput) { in.Bars = trend(10, 100, 0.5) }, models.ReasonInsufficientBars},
		{"flat", func(in *models.SignalInput) { in.Bars = trend(30, 100, 0.001) }, models.ReasonWeakMomentum},
		{"sector outflow", func(in *models.SignalInput) { in.Sector.FlowScore = -0.2 }, models.ReasonSectorMismatch},
		{"falling in bull", func(in *models.SignalInput) {
			in.Bars = trend(30, 100, -0.5)
			in.Sector.FlowScore = -0.2
		}, models.ReasonRegimeMismatch},
		{"long stop below zero", func(in *models.SignalInput) { in.Bars = trend(30, 3, 0.1) }, models.ReasonNonPositiveStop},
		{"short target below zero", func(in *models.SignalInput) {
			in.Regime.Regime = models.RegimeBear
			in.Sector.FlowScore = -0.2
			in.Bars = trend(30, 5, -0.1)
		}, models.ReasonNonPositiveTarget},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := bullInput()
			sector := *in.Sector
			in.Sector = &sector
			tc.mutate(&in)
			out, err := g.Generate(in)
			require.NoError(t, err)
			assert.Nil(t, out.Signal)
			assert.Equal(t, tc.reason, out.Reason)
		})
	}
}

func TestGenerateDiscardsLowRiskReward(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TargetRR = 1.2
	out, err := NewGenerator(cfg).Generate(bullInput())
	require.NoError(t, err)
	assert.Nil(t, out.Signal)
	assert.Equal(t, models.ReasonLowRiskReward, out.Reason)
}

func TestGenerateZeroATR(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ATRPeriod = 5
	in := bullInput()
	n := len(in.Bars.Bars)
	for i := n - 6; i < n; i++ {
		in.Bars.Bars[i] = models.Bar{Open: 100, High: 100, Low: 100, Close: 100}
	}

	out, err := NewGenerator(cfg).Generate(in)
	require.NoError(t, err)
	assert.Nil(t, out.Signal)
	assert.Equal(t, models.ReasonZeroATR, out.Reason)
}

func TestValidateRejectsBadOrdering(t *testing.T) {
	s := models.TradingSignal{
		AssetID: "sol", Direction: models.Long,
		EntryPrice: 100, StopPrice: 101, TargetPrice: 110,
		GeneratedAt: now, ExpiresAt: now.Add(time.Minute),
	}
	err := s.Validate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrInvariantViolation))

	var ie *models.InvariantError
	require.True(t, errors.As(err, &ie))
	assert.Equal(t, 100.0, ie.Context["entry"])

	short := models.TradingSignal{
		AssetID: "sol", Direction: models.Short,
		EntryPrice: 5, StopPrice: 11, TargetPrice: -7,
		GeneratedAt: now, ExpiresAt: now.Add(time.Minute),
	}
	assert.True(t, errors.Is(short.Validate(), models.ErrInvariantViolation))
}

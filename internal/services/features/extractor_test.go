package features

import (
	"math"
	"testing"

	"MarketCascade/internal/domain/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func risingBars(n int, last, step float64) []models.Bar {
	bars := make([]models.Bar, n)
	for i := range bars {
		c := last - float64(n-1-i)*step
		bars[i] = models.Bar{Open: c - step, High: c + 2, Low: c - 2, Close: c, Volume: 1000}
	}
	return bars
}

func TestLogReturns(t *testing.T) {
	assert.Nil(t, LogReturns(nil))
	bars := []models.Bar{{Close: 100}, {Close: 110}, {Close: 0}}
	r := LogReturns(bars)
	require.Len(t, r, 2)
	assert.InDelta(t, math.Log(1.1), r[0], 1e-12)
	assert.Equal(t, 0.0, r[1])
}

func TestRealizedVolatility(t *testing.T) {
	assert.Equal(t, 0.0, RealizedVolatility([]float64{0.1}, 5, 1))
	assert.InDelta(t, 0.0, RealizedVolatility([]float64{0.01, 0.01, 0.01}, 3, 1), 1e-12)
	assert.InDelta(t, math.Sqrt(0.02), RealizedVolatility([]float64{0.1, -0.1, 0.1, -0.1}, 2, 1), 1e-9)
}

func TestAverageTrueRange(t *testing.T) {
	bars := risingBars(30, 100, 0.5)
	assert.InDelta(t, 4.0, AverageTrueRange(bars, 14), 1e-12)
	assert.Equal(t, 0.0, AverageTrueRange(bars[:5], 14))

	gap := []models.Bar{{High: 10, Low: 9, Close: 9.5}, {High: 12, Low: 11.5, Close: 12}}
	assert.InDelta(t, 2.5, TrueRange(gap, 1), 1e-12)
}

func TestMomentum(t *testing.T) {
	bars := risingBars(30, 100, 0.5)
	m, ok := Momentum(bars, 12)
	require.True(t, ok)
	assert.InDelta(t, 100/94.0-1, m, 1e-12)

	_, ok = Momentum(bars[:12], 12)
	assert.False(t, ok)
}

func TestVolumeSpike(t *testing.T) {
	assert.Equal(t, 0.0, VolumeSpike(100, 0, 5))
	assert.Equal(t, 0.0, VolumeSpike(50, 100, 5))
	assert.InDelta(t, 0.5, VolumeSpike(300, 100, 5), 1e-12)
	assert.Equal(t, 1.0, VolumeSpike(900, 100, 5))
}

func TestClampMeanFinite(t *testing.T) {
	assert.Equal(t, 1.0, Clamp(3, -1, 1))
	assert.Equal(t, -1.0, Clamp(-3, -1, 1))
	assert.Equal(t, 2.0, Mean([]float64{1, 2, 3}))
	assert.Equal(t, 0.0, Mean(nil))
	assert.False(t, Finite(math.NaN()))
	assert.False(t, Finite(math.Inf(-1)))
	assert.True(t, Finite(0))
}

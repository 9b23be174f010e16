package regime

import (
	"errors"
	"math"
	"testing"
	"time"

	"MarketCascade/internal/domain/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

func bundle(at time.Time, sentiment, vol float64) models.MacroBundle {
	return models.MacroBundle{
		AsOf:   at,
		Source: "test",
		Indicators: map[string]float64{
			models.IndicatorBTCDominance:        52,
			models.IndicatorStablecoinDominance: 7,
			models.IndicatorSentiment:           sentiment,
			models.IndicatorVolatility:          vol,
			models.IndicatorEquityCorrelation:   0.3,
		},
	}
}

// flat history at sentiment 50 and volatility 0.3
func flatHistory(n int) []models.MacroBundle {
	out := make([]models.MacroBundle, n)
	for i := range out {
		out[i] = bundle(t0.Add(time.Duration(i)*5*time.Minute), 50, 0.3)
	}
	return out
}

func now(n int) time.Time { return t0.Add(time.Duration(n) * 5 * time.Minute) }

func TestClassifyBull(t *testing.T) {
	c := NewClassifier(DefaultConfig())
	snap, err := c.Classify(nil, bundle(now(12), 70, 0.3), flatHistory(12))
	require.NoError(t, err)

	assert.Equal(t, models.RegimeBull, snap.Regime)
	assert.InDelta(t, 0.35, snap.CompositeScore, 1e-9)
	assert.InDelta(t, 0.1875, snap.Confidence, 1e-9)
	assert.InDelta(t, 3.5, snap.TrendStrength, 1e-9)
	assert.Equal(t, models.RiskLow, snap.RiskLevel)
	assert.Equal(t, models.IndicatorSentiment, snap.Drivers[0])
	require.Len(t, snap.Consumed, 1)
	assert.Equal(t, models.LayerMacroInput, snap.Consumed[0].Layer)
	assert.Equal(t, now(12), snap.AsOf)
}

func TestTransitionProbabilities(t *testing.T) {
	c := NewClassifier(DefaultConfig())
	snap, err := c.Classify(nil, bundle(now(12), 70, 0.3), flatHistory(12))
	require.NoError(t, err)

	require.Len(t, snap.TransitionProbabilities, 4)
	sum := 0.0
	for _, r := range models.AllRegimes {
		p, ok := snap.TransitionProbabilities[r]
		require.True(t, ok, "missing %s", r)
		assert.GreaterOrEqual(t, p, 0.0)
		sum += p
	}
	assert.InDelta(t, 1.0, sum, 1e-9)

	// stay 0.80 * (1 + 0.5*3.5/10) = 0.94, renormalized over 1.14
	assert.InDelta(t, 0.94/1.14, snap.TransitionProbabilities[models.RegimeBull], 1e-9)
	assert.InDelta(t, 0.12/1.14, snap.TransitionProbabilities[models.RegimeNeutral], 1e-9)
}

func TestTransitionProbabilitiesEveryRegime(t *testing.T) {
	c := NewClassifier(DefaultConfig())
	for _, r := range models.AllRegimes {
		for _, trend := range []float64{0, 5, 10} {
			probs := c.transitions(r, trend)
			sum := 0.0
			for _, p := range probs {
				sum += p
			}
			assert.Len(t, probs, 4)
			assert.InDelta(t, 1.0, sum, 1e-9, "%s trend %v", r, trend)
		}
	}
}

func TestHysteresisHoldsWithinMargin(t *testing.T) {
	c := NewClassifier(DefaultConfig())
	prev := &models.RegimeSnapshot{Regime: models.RegimeBull}

	// 0.175 is below the bull boundary but inside the margin
	held, err := c.Classify(prev, bundle(now(12), 60, 0.3), flatHistory(12))
	require.NoError(t, err)
	assert.InDelta(t, 0.175, held.CompositeScore, 1e-9)
	assert.Equal(t, models.RegimeBull, held.Regime)
	assert.InDelta(t, 0.0, held.Confidence, 1e-9)

	// cold start at the same score is neutral
	cold, err := c.Classify(nil, bundle(now(12), 60, 0.3), flatHistory(12))
	require.NoError(t, err)
	assert.Equal(t, models.RegimeNeutral, cold.Regime)

	// 0.14 leaves the widened band
	dropped, err := c.Classify(prev, bundle(now(12), 58, 0.3), flatHistory(12))
	require.NoError(t, err)
	assert.Equal(t, models.RegimeNeutral, dropped.Regime)
}

func TestZeroMarginUsesDefault(t *testing.T) {
	prev := &models.RegimeSnapshot{Regime: models.RegimeBull}

	held, err := NewClassifier(Config{}).Classify(prev, bundle(now(12), 60, 0.3), flatHistory(12))
	require.NoError(t, err)
	assert.Equal(t, models.RegimeBull, held.Regime)

	off, err := NewClassifier(Config{HysteresisMargin: -1}).Classify(prev, bundle(now(12), 60, 0.3), flatHistory(12))
	require.NoError(t, err)
	assert.Equal(t, models.RegimeNeutral, off.Regime)
}

func TestCompositeIsReproducible(t *testing.T) {
	c := NewClassifier(DefaultConfig())
	first, err := c.Classify(nil, bundle(now(12), 63, 0.37), flatHistory(12))
	require.NoError(t, err)
	for i := 0; i < 50; i++ {
		again, err := c.Classify(nil, bundle(now(12), 63, 0.37), flatHistory(12))
		require.NoError(t, err)
		require.Equal(t, first.CompositeScore, again.CompositeScore)
		require.Equal(t, first.Drivers, again.Drivers)
	}
}

func TestVolatileGateHysteresis(t *testing.T) {
	c := NewClassifier(DefaultConfig())
	hist := flatHistory(12)

	entered, err := c.Classify(nil, bundle(now(12), 50, 1.2), hist)
	require.NoError(t, err)
	assert.Equal(t, models.RegimeVolatile, entered.Regime)
	assert.InDelta(t, 0.2, entered.Confidence, 1e-9)
	assert.Equal(t, models.RiskExtreme, entered.RiskLevel)
	assert.Equal(t, models.IndicatorVolatility, entered.Drivers[0])

	held, err := c.Classify(&entered, bundle(now(13), 50, 0.95), hist)
	require.NoError(t, err)
	assert.Equal(t, models.RegimeVolatile, held.Regime)

	exited, err := c.Classify(&held, bundle(now(14), 50, 0.85), hist)
	require.NoError(t, err)
	assert.NotEqual(t, models.RegimeVolatile, exited.Regime)

	cold, err := c.Classify(nil, bundle(now(13), 50, 0.95), hist)
	require.NoError(t, err)
	assert.NotEqual(t, models.RegimeVolatile, cold.Regime)
}

func TestClassifyBearRaisesRisk(t *testing.T) {
	c := NewClassifier(DefaultConfig())
	snap, err := c.Classify(nil, bundle(now(12), 30, 0.3), flatHistory(12))
	require.NoError(t, err)
	assert.Equal(t, models.RegimeBear, snap.Regime)
	assert.InDelta(t, (-0.2+0.35)/0.8, snap.Confidence, 1e-9)
	assert.Equal(t, models.RiskMedium, snap.RiskLevel)
}

func TestNeutralConfidenceUsesHalfWidth(t *testing.T) {
	c := NewClassifier(DefaultConfig())
	snap, err := c.Classify(nil, bundle(now(12), 50, 0.3), flatHistory(12))
	require.NoError(t, err)
	assert.Equal(t, models.RegimeNeutral, snap.Regime)
	assert.InDelta(t, 1.0, snap.Confidence, 1e-9)
	assert.InDelta(t, 0.0, snap.TrendStrength, 1e-9)
}

func TestClassifyIncompleteInput(t *testing.T) {
	c := NewClassifier(DefaultConfig())
	b := bundle(now(12), 50, 0.3)
	delete(b.Indicators, models.IndicatorSentiment)
	b.Indicators[models.IndicatorVolatility] = math.NaN()

	_, err := c.Classify(nil, b, flatHistory(12))
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrIncompleteInput))

	var ie *models.IncompleteInputError
	require.True(t, errors.As(err, &ie))
	assert.Equal(t, []string{models.IndicatorSentiment, models.IndicatorVolatility}, ie.Missing)
}

func TestTrailingIgnoresCurrentAndFuture(t *testing.T) {
	hist := flatHistory(20)
	cur := hist[15]
	w := trailing(hist, cur, 12)
	require.Len(t, w, 12)
	assert.True(t, w[len(w)-1].AsOf.Before(cur.AsOf))
	assert.Equal(t, hist[3].AsOf, w[0].AsOf)
}

func TestDriversTieBreakByName(t *testing.T) {
	got := drivers(map[string]float64{"b": 0.1, "a": -0.1, "c": 0.3}, false)
	assert.Equal(t, []string{"c", "a", "b"}, got)
}

package sizing

import (
	"errors"
	"testing"

	"MarketCascade/internal/domain/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func longSignal() models.TradingSignal {
	return models.TradingSignal{ID: "sig-1", AssetID: "sol", Direction: models.Long, EntryPrice: 100, StopPrice: 94, TargetPrice: 112}
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestSizeClampsToMaxPosition(t *testing.T) {
	order, err := NewSizer().Size(models.RiskProfile{Tolerance: models.Moderate}, dec("10000"), longSignal())
	require.NoError(t, err)

	assert.True(t, order.Clamped)
	assert.True(t, order.Quantity.Equal(dec("10")), order.Quantity.String())
	assert.True(t, order.Notional.Equal(dec("1000")))
	assert.True(t, order.RiskAmount.Equal(dec("60")))
	assert.Equal(t, "sig-1", order.SignalID)
}

func TestSizeUnclamped(t *testing.T) {
	p := models.RiskProfile{MaxRiskPerTradePercent: 1, MaxPositionPercent: 50, Tolerance: models.Moderate}
	order, err := NewSizer().Size(p, dec("10000"), longSignal())
	require.NoError(t, err)

	assert.False(t, order.Clamped)
	assert.True(t, order.Quantity.Equal(dec("16.66666666")), order.Quantity.String())
	assert.True(t, order.RiskAmount.LessThanOrEqual(dec("100")))
	assert.True(t, order.Notional.LessThanOrEqual(dec("5000")))
}

func TestSizeToleranceDefaults(t *testing.T) {
	order, err := NewSizer().Size(models.RiskProfile{Tolerance: models.Conservative}, dec("10000"), longSignal())
	require.NoError(t, err)
	assert.True(t, order.Quantity.Equal(dec("5")), order.Quantity.String())

	order, err = NewSizer().Size(models.RiskProfile{Tolerance: models.Aggressive}, dec("10000"), longSignal())
	require.NoError(t, err)
	assert.True(t, order.Quantity.Equal(dec("20")), order.Quantity.String())
}

func TestSizeShort(t *testing.T) {
	s := models.TradingSignal{ID: "s", Direction: models.Short, EntryPrice: 100, StopPrice: 106, TargetPrice: 88}
	order, err := NewSizer().Size(models.RiskProfile{MaxRiskPerTradePercent: 1, MaxPositionPercent: 100}, dec("10000"), s)
	require.NoError(t, err)
	assert.True(t, order.RiskAmount.LessThanOrEqual(dec("100")))
	assert.Equal(t, models.Short, order.Direction)
}

func TestSizeErrors(t *testing.T) {
	z := NewSizer()

	_, err := z.Size(models.RiskProfile{}, decimal.Zero, longSignal())
	assert.True(t, errors.Is(err, models.ErrInvalidArgument))

	_, err = z.Size(models.RiskProfile{MaxRiskPerTradePercent: 150}, dec("1000"), longSignal())
	assert.True(t, errors.Is(err, models.ErrInvalidArgument))

	_, err = z.Size(models.RiskProfile{MaxRiskPerTradePercent: -1}, dec("1000"), longSignal())
	assert.True(t, errors.Is(err, models.ErrInvalidArgument))

	flat := longSignal()
	flat.StopPrice = flat.EntryPrice
	_, err = z.Size(models.RiskProfile{}, dec("1000"), flat)
	assert.True(t, errors.Is(err, models.ErrInvariantViolation))

	_, err = z.Size(models.RiskProfile{}, dec("0.000000001"), longSignal())
	assert.True(t, errors.Is(err, models.ErrInvariantViolation))
}

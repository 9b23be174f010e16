package sizing

import (
	"MarketCascade/internal/domain/models"
	domsvc "MarketCascade/internal/domain/service"

	"github.com/shopspring/decimal"
)

// QuantityPlaces is the precision quantities are truncated to.
const QuantityPlaces = 8

var hundred = decimal.NewFromInt(100)

// Sizer computes fixed-fractional position sizes in decimal arithmetic.
type Sizer struct{}

func NewSizer() *Sizer { return &Sizer{} }

var _ domsvc.PositionSizer = (*Sizer)(nil)

// Size risks max_risk_per_trade_percent of equity on the entry-stop distance, then
// clamps the notional to max_position_percent of equity.
func (z *Sizer) Size(profile models.RiskProfile, equity decimal.Decimal, s models.TradingSignal) (models.SizedOrder, error) {
	if !equity.IsPositive() {
		return models.SizedOrder{}, models.InvalidArgument("account equity must be positive, got %s", equity)
	}
	p := profile.WithDefaults()
	if err := checkPercent("max_risk_per_trade_percent", p.MaxRiskPerTradePercent); err != nil {
		return models.SizedOrder{}, err
	}
	if err := checkPercent("max_position_percent", p.MaxPositionPercent); err != nil {
		return models.SizedOrder{}, err
	}

	entry := decimal.NewFromFloat(s.EntryPrice)
	stop := decimal.NewFromFloat(s.StopPrice)
	target := decimal.NewFromFloat(s.TargetPrice)
	dist := entry.Sub(stop).Abs()
	if dist.IsZero() {
		return models.SizedOrder{}, models.NewInvariantError("sizing.size", "zero stop distance",
			"signal_id", s.ID, "entry", s.EntryPrice, "stop", s.StopPrice)
	}

	riskBudget := equity.Mul(decimal.NewFromFloat(p.MaxRiskPerTradePercent)).Div(hundred)
	qty := riskBudget.Div(dist).Truncate(QuantityPlaces)
	maxNotional := equity.Mul(decimal.NewFromFloat(p.MaxPositionPercent)).Div(hundred)

	clamped := false
	if qty.Mul(entry).GreaterThan(maxNotional) {
		qty = maxNotional.Div(entry).Truncate(QuantityPlaces)
		clamped = true
	}
	if !qty.IsPositive() {
		return models.SizedOrder{}, models.NewInvariantError("sizing.size", "non-positive size",
			"signal_id", s.ID, "equity", equity.String(), "entry", s.EntryPrice, "stop", s.StopPrice)
	}

	return models.SizedOrder{
		SignalID:    s.ID,
		AssetID:     s.AssetID,
		Direction:   s.Direction,
		EntryPrice:  entry,
		StopPrice:   stop,
		TargetPrice: target,
		Quantity:    qty,
		Notional:    qty.Mul(entry),
		RiskAmount:  qty.Mul(dist),
		Clamped:     clamped,
	}, nil
}

func checkPercent(name string, v float64) error {
	if v <= 0 || v > 100 {
		return models.InvalidArgument("%s must be in (0, 100], got %v", name, v)
	}
	return nil
}

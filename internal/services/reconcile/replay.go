package reconcile

import (
	"sort"
	"time"

	"MarketCascade/internal/domain/models"

	"github.com/shopspring/decimal"
)

// Replay derives a position from the full trade history of one (user, asset) pair.
// Trades are applied in ledger order. The average entry price is the VWAP of the
// open side; it resets when the position goes flat and a flip reopens at the flip price.
func Replay(userID, assetID string, trades []models.Trade, now time.Time) (models.PortfolioPosition, error) {
	ordered := make([]models.Trade, len(trades))
	copy(ordered, trades)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Seq < ordered[j].Seq })

	pos := models.PortfolioPosition{
		UserID:            userID,
		AssetID:           assetID,
		NetQuantity:       decimal.Zero,
		AverageEntryPrice: decimal.Zero,
		TotalInvested:     decimal.Zero,
		RealizedPnL:       decimal.Zero,
		FeesPaid:          decimal.Zero,
		UpdatedAt:         now,
	}

	for _, t := range ordered {
		if t.UserID != userID || t.AssetID != assetID {
			return models.PortfolioPosition{}, models.NewInvariantError("reconcile.replay", "trade belongs to another pair",
				"trade_id", t.ID, "user_id", t.UserID, "asset_id", t.AssetID)
		}
		if !t.Quantity.IsPositive() || !t.Price.IsPositive() {
			return models.PortfolioPosition{}, models.NewInvariantError("reconcile.replay", "non-positive quantity or price",
				"trade_id", t.ID, "quantity", t.Quantity.String(), "price", t.Price.String())
		}
		apply(&pos, t)
	}

	pos.TotalInvested = pos.NetQuantity.Abs().Mul(pos.AverageEntryPrice)
	return pos, nil
}

func apply(pos *models.PortfolioPosition, t models.Trade) {
	q := t.Signed()
	net := pos.NetQuantity

	switch {
	case net.IsZero() || net.Sign() == q.Sign():
		size := net.Abs()
		add := q.Abs()
		pos.AverageEntryPrice = size.Mul(pos.AverageEntryPrice).Add(add.Mul(t.Price)).Div(size.Add(add))
		pos.NetQuantity = net.Add(q)
	default:
		closing := decimal.Min(q.Abs(), net.Abs())
		pnl := closing.Mul(t.Price.Sub(pos.AverageEntryPrice))
		if net.IsNegative() {
			pnl = pnl.Neg()
		}
		pos.RealizedPnL = pos.RealizedPnL.Add(pnl)
		pos.NetQuantity = net.Add(q)
		switch {
		case pos.NetQuantity.IsZero():
			pos.AverageEntryPrice = decimal.Zero
		case pos.NetQuantity.Sign() != net.Sign():
			pos.AverageEntryPrice = t.Price
		}
	}

	pos.FeesPaid = pos.FeesPaid.Add(t.Fees)
	pos.TradeCount++
	at := t.ExecutedAt
	if pos.LastTradeAt == nil || at.After(*pos.LastTradeAt) {
		pos.LastTradeAt = &at
	}
}

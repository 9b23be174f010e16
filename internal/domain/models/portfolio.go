package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type TradeSide string

const (
	Buy  TradeSide = "buy"
	Sell TradeSide = "sell"
)

// Trade is one ledger entry. Seq is assigned by the ledger on append.
type Trade struct {
	ID         string          `json:"id" db:"id"`
	Seq        int64           `json:"seq" db:"seq"`
	UserID     string          `json:"user_id" db:"user_id"`
	AssetID    string          `json:"asset_id" db:"asset_id"`
	Direction  TradeSide       `json:"direction" db:"direction"`
	Quantity   decimal.Decimal `json:"quantity" db:"quantity"`
	Price      decimal.Decimal `json:"price" db:"price"`
	Fees       decimal.Decimal `json:"fees" db:"fees"`
	SignalID   *string         `json:"signal_id,omitempty" db:"signal_id"`
	ExecutedAt time.Time       `json:"executed_at" db:"executed_at"`
}

// Signed returns the quantity with buy positive and sell negative.
func (t Trade) Signed() decimal.Decimal {
	if t.Direction == Sell {
		return t.Quantity.Neg()
	}
	return t.Quantity
}

// PortfolioPosition is derived from the trade ledger only.
type PortfolioPosition struct {
	UserID            string          `json:"user_id" db:"user_id"`
	AssetID           string          `json:"asset_id" db:"asset_id"`
	NetQuantity       decimal.Decimal `json:"net_quantity" db:"net_quantity"`
	AverageEntryPrice decimal.Decimal `json:"average_entry_price" db:"average_entry_price"`
	TotalInvested     decimal.Decimal `json:"total_invested" db:"total_invested"`
	RealizedPnL       decimal.Decimal `json:"realized_pnl" db:"realized_pnl"`
	FeesPaid          decimal.Decimal `json:"fees_paid" db:"fees_paid"`
	TradeCount        int             `json:"trade_count" db:"trade_count"`
	LastTradeAt       *time.Time      `json:"last_trade_at,omitempty" db:"last_trade_at"`
	UpdatedAt         time.Time       `json:"updated_at" db:"updated_at"`
}

type Tolerance string

const (
	Conservative Tolerance = "conservative"
	Moderate     Tolerance = "moderate"
	Aggressive   Tolerance = "aggressive"
)

// RiskProfile percents are percentages: 1.0 means 1%.
type RiskProfile struct {
	MaxRiskPerTradePercent float64   `json:"max_risk_per_trade_percent"`
	MaxPositionPercent     float64   `json:"max_position_percent"`
	Tolerance              Tolerance `json:"tolerance"`
}

// WithDefaults fills zero percents from the tolerance defaults.
func (p RiskProfile) WithDefaults() RiskProfile {
	risk, pos := 1.0, 10.0
	switch p.Tolerance {
	case Conservative:
		risk, pos = 0.5, 5
	case Aggressive:
		risk, pos = 2, 20
	}
	if p.MaxRiskPerTradePercent == 0 {
		p.MaxRiskPerTradePercent = risk
	}
	if p.MaxPositionPercent == 0 {
		p.MaxPositionPercent = pos
	}
	if p.Tolerance == "" {
		p.Tolerance = Moderate
	}
	return p
}

// SizedOrder is the output of position sizing for one signal.
type SizedOrder struct {
	SignalID    string          `json:"signal_id"`
	AssetID     string          `json:"asset_id"`
	Direction   Direction       `json:"direction"`
	EntryPrice  decimal.Decimal `json:"entry_price"`
	StopPrice   decimal.Decimal `json:"stop_price"`
	TargetPrice decimal.Decimal `json:"target_price"`
	Quantity    decimal.Decimal `json:"quantity"`
	Notional    decimal.Decimal `json:"notional"`
	RiskAmount  decimal.Decimal `json:"risk_amount"`
	Clamped     bool            `json:"clamped"`
}

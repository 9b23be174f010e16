package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Requests for the HTTP endpoints. Defined in domain for reuse by handlers and tests.

type HistoryRequest struct {
	Limit int `query:"limit" json:"limit" default:"100" validate:"gte=1,lte=1000"`
	// RFC3339 or unix seconds
	Since string `query:"since" json:"since"`
}

type SuggestionsRequest struct {
	Status string `query:"status" json:"status" validate:"omitempty,oneof=pending approved rejected expired"`
}

type DecisionRequest struct {
	Verdict   string `json:"verdict" validate:"required,oneof=approve reject"`
	DecidedBy string `json:"decided_by" validate:"required,max=128"`
}

type SignalsRequest struct {
	Status  string `query:"status" json:"status" validate:"omitempty,oneof=active executed expired cancelled"`
	AssetID string `query:"asset_id" json:"asset_id"`
	Limit   int    `query:"limit" json:"limit" default:"100" validate:"gte=1,lte=1000"`
}

type ExecuteRequest struct {
	RiskProfile   RiskProfileRequest `json:"risk_profile"`
	AccountEquity decimal.Decimal    `json:"account_equity" validate:"gt=0"`
}

type RiskProfileRequest struct {
	MaxRiskPerTradePercent float64 `json:"max_risk_per_trade_percent" validate:"gte=0,lte=100"`
	MaxPositionPercent     float64 `json:"max_position_percent" validate:"gte=0,lte=100"`
	Tolerance              string  `json:"tolerance" default:"moderate" validate:"oneof=conservative moderate aggressive"`
}

func (r RiskProfileRequest) Profile() RiskProfile {
	return RiskProfile{
		MaxRiskPerTradePercent: r.MaxRiskPerTradePercent,
		MaxPositionPercent:     r.MaxPositionPercent,
		Tolerance:              Tolerance(r.Tolerance),
	}
}

type TradeRequest struct {
	UserID     string          `json:"user_id" validate:"required,max=64"`
	AssetID    string          `json:"asset_id" validate:"required,max=64"`
	Direction  string          `json:"direction" validate:"required,oneof=buy sell"`
	Quantity   decimal.Decimal `json:"quantity" validate:"gt=0"`
	Price      decimal.Decimal `json:"price" validate:"gt=0"`
	Fees       decimal.Decimal `json:"fees" validate:"gte=0"`
	SignalID   *string         `json:"signal_id,omitempty"`
	ExecutedAt time.Time       `json:"executed_at"`
}

func (r TradeRequest) Trade() Trade {
	return Trade{
		UserID:     r.UserID,
		AssetID:    r.AssetID,
		Direction:  TradeSide(r.Direction),
		Quantity:   r.Quantity,
		Price:      r.Price,
		Fees:       r.Fees,
		SignalID:   r.SignalID,
		ExecutedAt: r.ExecutedAt,
	}
}

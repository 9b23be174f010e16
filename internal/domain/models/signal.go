package models

import (
	"math"
	"time"
)

type Direction string

const (
	Long  Direction = "long"
	Short Direction = "short"
)

// Sign returns +1 for long and -1 for short.
func (d Direction) Sign() int {
	if d == Short {
		return -1
	}
	return 1
}

type SignalStatus string

const (
	SignalActive    SignalStatus = "active"
	SignalExecuted  SignalStatus = "executed"
	SignalExpired   SignalStatus = "expired"
	SignalCancelled SignalStatus = "cancelled"
)

// TradingSignal is a Layer 4 output. Price fields are immutable after creation.
type TradingSignal struct {
	ID              string       `json:"id" db:"id"`
	AssetID         string       `json:"asset_id" db:"asset_id"`
	SectorID        string       `json:"sector_id" db:"sector_id"`
	Direction       Direction    `json:"direction" db:"direction"`
	EntryPrice      float64      `json:"entry_price" db:"entry_price"`
	TargetPrice     float64      `json:"target_price" db:"target_price"`
	StopPrice       float64      `json:"stop_price" db:"stop_price"`
	Confidence      float64      `json:"confidence" db:"confidence"`
	RiskRewardRatio float64      `json:"risk_reward_ratio" db:"risk_reward_ratio"`
	Status          SignalStatus `json:"status" db:"status"`
	GeneratedAt     time.Time    `json:"generated_at" db:"generated_at"`
	ExpiresAt       time.Time    `json:"expires_at" db:"expires_at"`
	ExecutedAt      *time.Time   `json:"executed_at,omitempty" db:"executed_at"`
	Consumed        []ContextRef `json:"consumed" db:"-"`
	Stale           bool         `json:"stale" db:"stale"`
}

// RiskReward computes |target-entry| / |entry-stop|. Zero stop distance yields +Inf.
func RiskReward(entry, target, stop float64) float64 {
	risk := math.Abs(entry - stop)
	if risk == 0 {
		return math.Inf(1)
	}
	return math.Abs(target-entry) / risk
}

// Validate enforces price ordering: long stop < entry < target, short target < entry < stop.
func (s *TradingSignal) Validate() error {
	switch s.Direction {
	case Long:
		if !(s.StopPrice < s.EntryPrice && s.EntryPrice < s.TargetPrice) {
			return NewInvariantError("signal.validate", "long requires stop < entry < target",
				"asset_id", s.AssetID, "entry", s.EntryPrice, "stop", s.StopPrice, "target", s.TargetPrice)
		}
		if s.StopPrice <= 0 {
			return NewInvariantError("signal.validate", "long stop must be positive",
				"asset_id", s.AssetID, "stop", s.StopPrice)
		}
	case Short:
		if !(s.TargetPrice < s.EntryPrice && s.EntryPrice < s.StopPrice) {
			return NewInvariantError("signal.validate", "short requires target < entry < stop",
				"asset_id", s.AssetID, "entry", s.EntryPrice, "stop", s.StopPrice, "target", s.TargetPrice)
		}
		if s.TargetPrice <= 0 {
			return NewInvariantError("signal.validate", "short target must be positive",
				"asset_id", s.AssetID, "target", s.TargetPrice)
		}
	default:
		return NewInvariantError("signal.validate", "unknown direction", "direction", string(s.Direction))
	}
	if !s.ExpiresAt.After(s.GeneratedAt) {
		return NewInvariantError("signal.validate", "expires_at must be after generated_at",
			"generated_at", s.GeneratedAt, "expires_at", s.ExpiresAt)
	}
	return nil
}

// ExpiredAt reports whether the signal is past its expiry at now, whatever its stored status.
func (s *TradingSignal) ExpiredAt(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// SignalFilter narrows signal listings. Zero values match everything.
type SignalFilter struct {
	Status  SignalStatus
	AssetID string
	Limit   int
}

// SignalInput is everything the timing generator consumes for one asset.
type SignalInput struct {
	Tier   WatchlistTier
	Regime RegimeSnapshot
	Sector *SectorSnapshot
	Bars   BarBatch
	Now    time.Time
	// Stale is set by the caller when any consumed snapshot is past its freshness bound.
	Stale bool
}

// Discard reasons reported in SignalOutcome.Reason.
const (
	ReasonNoRegimeDirection = "regime_not_directional"
	ReasonNoSector          = "sector_unavailable"
	ReasonInsufficientBars  = "insufficient_bars"
	ReasonWeakMomentum      = "weak_momentum"
	ReasonSectorMismatch    = "sector_direction_mismatch"
	ReasonRegimeMismatch    = "regime_direction_mismatch"
	ReasonZeroATR           = "zero_atr"
	ReasonNonPositiveStop   = "non_positive_stop"
	ReasonNonPositiveTarget = "non_positive_target"
	ReasonLowRiskReward     = "risk_reward_below_min"
)

// SignalOutcome is either a signal or the reason none was produced.
type SignalOutcome struct {
	Signal   *TradingSignal
	Reason   string
	Momentum float64
	ATR      float64
}

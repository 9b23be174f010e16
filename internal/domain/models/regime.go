package models

import "time"

type Regime string

const (
	RegimeBull     Regime = "bull"
	RegimeBear     Regime = "bear"
	RegimeNeutral  Regime = "neutral"
	RegimeVolatile Regime = "volatile"
)

// AllRegimes lists every regime in a fixed order.
var AllRegimes = []Regime{RegimeBull, RegimeBear, RegimeNeutral, RegimeVolatile}

// Sign maps a regime onto market direction: bull +1, bear -1, otherwise 0.
func (r Regime) Sign() int {
	switch r {
	case RegimeBull:
		return 1
	case RegimeBear:
		return -1
	default:
		return 0
	}
}

func (r Regime) Valid() bool {
	switch r {
	case RegimeBull, RegimeBear, RegimeNeutral, RegimeVolatile:
		return true
	}
	return false
}

type RiskLevel string

const (
	RiskLow     RiskLevel = "low"
	RiskMedium  RiskLevel = "medium"
	RiskHigh    RiskLevel = "high"
	RiskExtreme RiskLevel = "extreme"
)

var riskOrder = []RiskLevel{RiskLow, RiskMedium, RiskHigh, RiskExtreme}

// Raise returns the next higher risk level, saturating at extreme.
func (r RiskLevel) Raise() RiskLevel {
	for i, lvl := range riskOrder {
		if lvl == r && i+1 < len(riskOrder) {
			return riskOrder[i+1]
		}
	}
	return RiskExtreme
}

// RegimeSnapshot is the Layer 1 output. Immutable once appended.
type RegimeSnapshot struct {
	AsOf                    time.Time          `json:"as_of"`
	Regime                  Regime             `json:"regime"`
	Confidence              float64            `json:"confidence"`
	RiskLevel               RiskLevel          `json:"risk_level"`
	TrendStrength           float64            `json:"trend_strength"`
	TransitionProbabilities map[Regime]float64 `json:"transition_probabilities"`
	Drivers                 []string           `json:"drivers"`
	CompositeScore          float64            `json:"composite_score"`
	Consumed                []ContextRef       `json:"consumed"`
	Stale                   bool               `json:"stale"`
}

// ConsumedAsOf returns the as_of of the consumed reference for layer, if any.
func ConsumedAsOf(refs []ContextRef, layer string) (time.Time, bool) {
	for _, r := range refs {
		if r.Layer == layer {
			return r.AsOf, true
		}
	}
	return time.Time{}, false
}

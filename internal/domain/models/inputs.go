package models

import (
	"math"
	"sort"
	"time"
)

// Required macro indicator keys.
const (
	IndicatorBTCDominance        = "btc_dominance"
	IndicatorStablecoinDominance = "stablecoin_dominance"
	IndicatorSentiment           = "sentiment"
	IndicatorVolatility          = "volatility"
	IndicatorEquityCorrelation   = "equity_correlation"
)

var RequiredMacroIndicators = []string{
	IndicatorBTCDominance,
	IndicatorStablecoinDominance,
	IndicatorSentiment,
	IndicatorVolatility,
	IndicatorEquityCorrelation,
}

// MacroBundle is one macro observation.
type MacroBundle struct {
	AsOf       time.Time          `json:"as_of" validate:"required"`
	Source     string             `json:"source"`
	Indicators map[string]float64 `json:"indicators" validate:"required"`
}

// MissingIndicators lists required keys that are absent or non-finite, sorted.
func (b MacroBundle) MissingIndicators() []string {
	var missing []string
	for _, k := range RequiredMacroIndicators {
		v, ok := b.Indicators[k]
		if !ok || math.IsNaN(v) || math.IsInf(v, 0) {
			missing = append(missing, k)
		}
	}
	sort.Strings(missing)
	return missing
}

type SectorFlow struct {
	SectorID       string  `json:"sector_id" validate:"required"`
	InflowVolume   float64 `json:"inflow_volume" validate:"gte=0"`
	OutflowVolume  float64 `json:"outflow_volume" validate:"gte=0"`
	AvgVolume30d   float64 `json:"avg_volume_30d"`
	Performance24h float64 `json:"performance_24h"`
	Performance7d  float64 `json:"performance_7d"`
}

type SectorBundle struct {
	AsOf    time.Time    `json:"as_of" validate:"required"`
	Source  string       `json:"source"`
	Sectors []SectorFlow `json:"sectors" validate:"dive"`
}

type AssetObservation struct {
	AssetID          string   `json:"asset_id" validate:"required"`
	SectorID         string   `json:"sector_id"`
	Volume24h        float64  `json:"volume_24h" validate:"gte=0"`
	AvgVolume30d     float64  `json:"avg_volume_30d" validate:"gte=0"`
	DevActivityDelta *float64 `json:"dev_activity_delta,omitempty"`
	Price            float64  `json:"price" validate:"gte=0"`
}

type AssetBundle struct {
	AsOf   time.Time          `json:"as_of" validate:"required"`
	Source string             `json:"source"`
	Assets []AssetObservation `json:"assets" validate:"dive"`
}

// Bar is one OHLCV candle.
type Bar struct {
	OpenTime time.Time `json:"open_time"`
	Open     float64   `json:"open"`
	High     float64   `json:"high"`
	Low      float64   `json:"low"`
	Close    float64   `json:"close"`
	Volume   float64   `json:"volume"`
}

// BarBatch carries recent bars for one asset, oldest first.
type BarBatch struct {
	AsOf    time.Time `json:"as_of" validate:"required"`
	Source  string    `json:"source"`
	AssetID string    `json:"asset_id" validate:"required"`
	Bars    []Bar     `json:"bars" validate:"required,min=1"`
}

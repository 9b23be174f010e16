package models

import "time"

type Leadership string

const (
	LeadershipLeading Leadership = "leading"
	LeadershipNeutral Leadership = "neutral"
	LeadershipLagging Leadership = "lagging"
)

// SectorSnapshot is the Layer 2 output; one row per (sector_id, as_of).
type SectorSnapshot struct {
	AsOf           time.Time    `json:"as_of"`
	SectorID       string       `json:"sector_id"`
	Performance24h float64      `json:"performance_24h"`
	Performance7d  float64      `json:"performance_7d"`
	FlowScore      float64      `json:"flow_score"`
	MomentumRank   int          `json:"momentum_rank"`
	Leadership     Leadership   `json:"leadership"`
	ThresholdScale float64      `json:"threshold_scale"`
	Consumed       []ContextRef `json:"consumed"`
	Stale          bool         `json:"stale"`
}

// FlowSign returns the sign of the flow score.
func (s SectorSnapshot) FlowSign() int {
	switch {
	case s.FlowScore > 0:
		return 1
	case s.FlowScore < 0:
		return -1
	}
	return 0
}

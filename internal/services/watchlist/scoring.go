package watchlist

import (
	"MarketCascade/internal/domain/models"
	"MarketCascade/internal/services/features"
)

// Factor names recorded in rationales.
const (
	FactorVolumeSpike = "volume_spike"
	FactorLeadership  = "sector_leadership"
	FactorDevActivity = "dev_activity"
)

type Weights struct {
	VolumeSpike float64
	Leadership  float64
	DevActivity float64
}

// Scored is one asset's composite score with its rationale.
type Scored struct {
	AssetID  string
	SectorID string
	Score    float64
	Factors  []models.RationaleItem
}

func leadershipValue(s *models.SectorSnapshot) float64 {
	if s == nil {
		return 0.5
	}
	switch s.Leadership {
	case models.LeadershipLeading:
		return 1
	case models.LeadershipLagging:
		return 0
	default:
		return 0.5
	}
}

// Score combines volume spike, sector leadership and (optionally) developer activity.
// When dev activity is absent the remaining weights are renormalized; rationale
// weights are always the configured ones.
func (e *Engine) Score(obs models.AssetObservation, sector *models.SectorSnapshot) Scored {
	w := e.cfg.Weights
	items := []models.RationaleItem{
		{Factor: FactorVolumeSpike, Weight: w.VolumeSpike, Value: features.VolumeSpike(obs.Volume24h, obs.AvgVolume30d, e.cfg.SpikeCap)},
		{Factor: FactorLeadership, Weight: w.Leadership, Value: leadershipValue(sector)},
	}
	if obs.DevActivityDelta != nil && features.Finite(*obs.DevActivityDelta) {
		v := features.Clamp((*obs.DevActivityDelta/e.cfg.DevActivityCap+1)/2, 0, 1)
		items = append(items, models.RationaleItem{Factor: FactorDevActivity, Weight: w.DevActivity, Value: v})
	}

	sum, total := 0.0, 0.0
	for _, it := range items {
		sum += it.Weight * it.Value
		total += it.Weight
	}
	score := 0.0
	if total > 0 {
		score = features.Clamp(sum/total, 0, 1)
	}
	return Scored{AssetID: obs.AssetID, SectorID: obs.SectorID, Score: score, Factors: items}
}

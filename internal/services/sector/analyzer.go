package sector

import (
	"math"
	"sort"

	"MarketCascade/internal/domain/models"
	domsvc "MarketCascade/internal/domain/service"
	"MarketCascade/internal/services/features"
)

type Config struct {
	// LeadThreshold is the flow score a top-quartile sector needs to lead, before regime scaling.
	LeadThreshold float64
	// BullConfirmConfidence is the regime confidence at which a bull regime loosens the threshold.
	BullConfirmConfidence float64
}

func DefaultConfig() Config {
	return Config{LeadThreshold: 0.05, BullConfirmConfidence: 0.6}
}

// Analyzer is the pure Layer 2 sector rotation analyzer.
type Analyzer struct {
	cfg Config
}

func NewAnalyzer(cfg Config) *Analyzer {
	d := DefaultConfig()
	if cfg.LeadThreshold <= 0 {
		cfg.LeadThreshold = d.LeadThreshold
	}
	if cfg.BullConfirmConfidence <= 0 {
		cfg.BullConfirmConfidence = d.BullConfirmConfidence
	}
	return &Analyzer{cfg: cfg}
}

var _ domsvc.SectorAnalyzer = (*Analyzer)(nil)

// ThresholdScale maps a regime onto the leadership threshold multiplier.
// Risk-on regimes lower the bar, risk-off regimes raise it.
func (a *Analyzer) ThresholdScale(r *models.RegimeSnapshot) float64 {
	if r == nil {
		return 1.0
	}
	switch r.Regime {
	case models.RegimeBull:
		if r.Confidence >= a.cfg.BullConfirmConfidence {
			return 0.75
		}
		return 1.0
	case models.RegimeBear:
		return 1.25
	case models.RegimeVolatile:
		return 1.5
	default:
		return 1.0
	}
}

// Analyze scores, ranks and classifies every sector in bundle. All snapshots share
// bundle.AsOf. A nil regime is tolerated: the scale falls back to 1 and the output is stale.
func (a *Analyzer) Analyze(bundle models.SectorBundle, regime *models.RegimeSnapshot) ([]models.SectorSnapshot, error) {
	if len(bundle.Sectors) == 0 {
		return nil, &models.IncompleteInputError{Source: "sectors", Missing: []string{"sectors"}}
	}
	var bad []string
	for _, s := range bundle.Sectors {
		if s.AvgVolume30d <= 0 || !features.Finite(s.AvgVolume30d) {
			bad = append(bad, s.SectorID+".avg_volume_30d")
		}
	}
	if len(bad) > 0 {
		sort.Strings(bad)
		return nil, &models.IncompleteInputError{Source: "sectors", Missing: bad}
	}

	scale := a.ThresholdScale(regime)
	threshold := a.cfg.LeadThreshold * scale

	consumed := []models.ContextRef{{Layer: models.LayerSectorInput, Key: bundle.Source, AsOf: bundle.AsOf}}
	if regime != nil {
		consumed = append(consumed, models.ContextRef{Layer: models.LayerRegime, Key: string(regime.Regime), AsOf: regime.AsOf})
	}

	out := make([]models.SectorSnapshot, 0, len(bundle.Sectors))
	for _, s := range bundle.Sectors {
		out = append(out, models.SectorSnapshot{
			AsOf:           bundle.AsOf,
			SectorID:       s.SectorID,
			Performance24h: s.Performance24h,
			Performance7d:  s.Performance7d,
			FlowScore:      (s.InflowVolume - s.OutflowVolume) / s.AvgVolume30d,
			ThresholdScale: scale,
			Consumed:       consumed,
			Stale:          regime == nil || regime.Stale,
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].FlowScore != out[j].FlowScore {
			return out[i].FlowScore > out[j].FlowScore
		}
		if out[i].Performance7d != out[j].Performance7d {
			return out[i].Performance7d > out[j].Performance7d
		}
		return out[i].SectorID < out[j].SectorID
	})

	n := len(out)
	q := int(math.Ceil(float64(n) / 4))
	for i := range out {
		rank := i + 1
		out[i].MomentumRank = rank
		switch {
		case rank <= q && out[i].FlowScore >= threshold:
			out[i].Leadership = models.LeadershipLeading
		case rank > n-q || out[i].FlowScore <= -threshold:
			out[i].Leadership = models.LeadershipLagging
		default:
			out[i].Leadership = models.LeadershipNeutral
		}
	}
	return out, nil
}

// ByID indexes snapshots by sector id.
func ByID(ss []models.SectorSnapshot) map[string]models.SectorSnapshot {
	m := make(map[string]models.SectorSnapshot, len(ss))
	for _, s := range ss {
		m[s.SectorID] = s
	}
	return m
}

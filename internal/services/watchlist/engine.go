package watchlist

import (
	"fmt"
	"sort"
	"time"

	"MarketCascade/internal/domain/models"
	"MarketCascade/internal/services/features"

	"github.com/google/uuid"
)

type Config struct {
	Tier1Capacity      int
	Tier2Capacity      int
	AutoDiscovery      bool
	DiscoveryThreshold float64
	PromoteThreshold   float64
	DemoteThreshold    float64
	RemoveThreshold    float64
	SpikeCap           float64
	DevActivityCap     float64
	Weights            Weights
}

func DefaultConfig() Config {
	return Config{
		Tier1Capacity:      15,
		Tier2Capacity:      150,
		AutoDiscovery:      true,
		DiscoveryThreshold: 0.6,
		PromoteThreshold:   0.7,
		DemoteThreshold:    0.4,
		RemoveThreshold:    0.2,
		SpikeCap:           5,
		DevActivityCap:     1,
		Weights:            Weights{VolumeSpike: 0.5, Leadership: 0.35, DevActivity: 0.15},
	}
}

// Engine holds the pure parts of the tiered watchlist: scoring, nomination planning
// and approval transitions.
type Engine struct {
	cfg   Config
	newID func() string
}

func NewEngine(cfg Config) *Engine {
	d := DefaultConfig()
	if cfg.Tier1Capacity <= 0 {
		cfg.Tier1Capacity = d.Tier1Capacity
	}
	if cfg.Tier2Capacity <= 0 {
		cfg.Tier2Capacity = d.Tier2Capacity
	}
	if cfg.SpikeCap <= 1 {
		cfg.SpikeCap = d.SpikeCap
	}
	if cfg.DevActivityCap <= 0 {
		cfg.DevActivityCap = d.DevActivityCap
	}
	if cfg.Weights == (Weights{}) {
		cfg.Weights = d.Weights
	}
	return &Engine{cfg: cfg, newID: uuid.NewString}
}

func (e *Engine) Config() Config { return e.cfg }

// PlanInput is a snapshot of one list context at pass time.
type PlanInput struct {
	ListContext models.ListContext
	Now         time.Time
	Tiers       []models.WatchlistTier
	Scores      map[string]Scored
	Pending     []models.SuggestionRecord
}

// Plan is what a watchlist pass should apply: automatic tier2 discoveries and
// suggestions to upsert. Paired suggestions reference each other by planned id.
type Plan struct {
	Discoveries []models.WatchlistTier
	Suggestions []models.SuggestionRecord
}

// Plan nominates promotions, demotions, removals and additions. Promotions are never
// dropped for capacity: when tier1 would exceed K, the lowest-scoring tier1 member not
// already leaving is nominated for a paired demotion.
func (e *Engine) Plan(in PlanInput) Plan {
	var out Plan
	byAsset := make(map[string]models.WatchlistTier, len(in.Tiers))
	for _, t := range in.Tiers {
		byAsset[t.AssetID] = t
	}

	pendingPromote := make(map[string]models.SuggestionRecord)
	leaving := make(map[string]bool)
	// ids of pending demote/remove records taking a tier1 member out
	leavingBy := make(map[string]bool)
	for _, p := range in.Pending {
		if p.Status != models.StatusPending {
			continue
		}
		switch p.SuggestionType {
		case models.SuggestDemote, models.SuggestRemove:
			if byAsset[p.AssetID].Tier == models.Tier1 {
				leaving[p.AssetID] = true
				leavingBy[p.ID] = true
			}
		case models.SuggestPromote:
			pendingPromote[p.AssetID] = p
		}
	}

	scored := make([]Scored, 0, len(in.Scores))
	for _, s := range in.Scores {
		scored = append(scored, s)
	}
	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].AssetID < scored[j].AssetID
	})

	var promotions []Scored
	tier2 := models.TierCount(in.Tiers, models.Tier2)
	for _, s := range scored {
		member, listed := byAsset[s.AssetID]
		switch {
		case !listed:
			if s.Score < e.cfg.DiscoveryThreshold {
				continue
			}
			if e.cfg.AutoDiscovery {
				if tier2 >= e.cfg.Tier2Capacity {
					continue
				}
				tier2++
				out.Discoveries = append(out.Discoveries, models.WatchlistTier{
					ListContext: in.ListContext,
					Tier:        models.Tier2,
					AssetID:     s.AssetID,
					SectorID:    s.SectorID,
					EnteredAt:   in.Now,
					LastScore:   s.Score,
				})
				continue
			}
			out.Suggestions = append(out.Suggestions, e.suggestion(in, s, models.SuggestAdd,
				aboveConfidence(s.Score, e.cfg.DiscoveryThreshold), ""))
		case member.Tier == models.Tier2 && s.Score >= e.cfg.PromoteThreshold:
			promotions = append(promotions, s)
		case member.Tier == models.Tier2 && s.Score < e.cfg.RemoveThreshold:
			out.Suggestions = append(out.Suggestions, e.suggestion(in, s, models.SuggestRemove,
				belowConfidence(s.Score, e.cfg.RemoveThreshold), ""))
		case member.Tier == models.Tier1 && s.Score < e.cfg.DemoteThreshold:
			leaving[s.AssetID] = true
			out.Suggestions = append(out.Suggestions, e.suggestion(in, s, models.SuggestDemote,
				belowConfidence(s.Score, e.cfg.DemoteThreshold), ""))
		}
	}

	projected := models.TierCount(in.Tiers, models.Tier1) - len(leaving)
	for _, p := range promotions {
		promo := e.suggestion(in, p, models.SuggestPromote, aboveConfidence(p.Score, e.cfg.PromoteThreshold), "")
		// a partner that was rejected or expired no longer frees a slot
		if prior, ok := pendingPromote[p.AssetID]; ok && leavingBy[prior.PairedWith] {
			promo.PairedWith = prior.PairedWith
		}
		projected++
		if projected > e.cfg.Tier1Capacity && promo.PairedWith == "" {
			if victim, ok := e.weakestStaying(in, leaving); ok {
				leaving[victim.AssetID] = true
				projected--
				demote := e.suggestion(in, victim, models.SuggestDemote, promo.Confidence,
					fmt.Sprintf("capacity: displaced by %s", p.AssetID))
				demote.PairedWith = promo.ID
				promo.PairedWith = demote.ID
				out.Suggestions = append(out.Suggestions, demote)
			}
		}
		out.Suggestions = append(out.Suggestions, promo)
	}
	return out
}

// weakestStaying returns the lowest-scoring tier1 member that is not already leaving.
func (e *Engine) weakestStaying(in PlanInput, leaving map[string]bool) (Scored, bool) {
	var (
		best  Scored
		found bool
	)
	for _, t := range in.Tiers {
		if t.Tier != models.Tier1 || leaving[t.AssetID] {
			continue
		}
		s, ok := in.Scores[t.AssetID]
		if !ok {
			s = Scored{AssetID: t.AssetID, SectorID: t.SectorID, Score: t.LastScore}
		}
		if !found || s.Score < best.Score || (s.Score == best.Score && s.AssetID < best.AssetID) {
			best, found = s, true
		}
	}
	return best, found
}

func (e *Engine) suggestion(in PlanInput, s Scored, kind models.SuggestionType, confidence float64, reason string) models.SuggestionRecord {
	return models.SuggestionRecord{
		ID:             e.newID(),
		ListContext:    in.ListContext,
		AssetID:        s.AssetID,
		SectorID:       s.SectorID,
		SuggestionType: kind,
		Score:          s.Score,
		Confidence:     confidence,
		Rationale:      s.Factors,
		Reason:         reason,
		Status:         models.StatusPending,
		CreatedAt:      in.Now,
		UpdatedAt:      in.Now,
	}
}

func aboveConfidence(score, threshold float64) float64 {
	if threshold >= 1 {
		return 1
	}
	return 0.5 + 0.5*features.Clamp((score-threshold)/(1-threshold), 0, 1)
}

func belowConfidence(score, threshold float64) float64 {
	if threshold <= 0 {
		return 1
	}
	return 0.5 + 0.5*features.Clamp((threshold-score)/threshold, 0, 1)
}

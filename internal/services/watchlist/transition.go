package watchlist

import (
	"fmt"

	"MarketCascade/internal/domain/models"
)

// PlanTransition is the TierPlanner applied when a suggestion is approved. It is
// evaluated against the tiers inside the store's critical section, so tier1 never
// exceeds its capacity whatever the approval order.
func (e *Engine) PlanTransition(s models.SuggestionRecord, tiers []models.WatchlistTier) (models.TierChange, error) {
	cur := models.TierOf(tiers, s.AssetID)
	change := models.TierChange{AssetID: s.AssetID, SectorID: s.SectorID, From: cur}

	switch s.SuggestionType {
	case models.SuggestPromote:
		if cur != models.Tier2 {
			return change, notApplicable(s, cur)
		}
		if n := models.TierCount(tiers, models.Tier1); n >= e.cfg.Tier1Capacity {
			return change, fmt.Errorf("%w: tier1 has %d of %d", models.ErrCapacityExceeded, n, e.cfg.Tier1Capacity)
		}
		change.To = models.Tier1
	case models.SuggestDemote:
		if cur != models.Tier1 {
			return change, notApplicable(s, cur)
		}
		change.To = models.Tier2
	case models.SuggestAdd:
		if cur != models.Unlisted {
			return change, notApplicable(s, cur)
		}
		if n := models.TierCount(tiers, models.Tier2); n >= e.cfg.Tier2Capacity {
			return change, fmt.Errorf("%w: tier2 has %d of %d", models.ErrCapacityExceeded, n, e.cfg.Tier2Capacity)
		}
		change.To = models.Tier2
	case models.SuggestRemove:
		if cur == models.Unlisted {
			return change, notApplicable(s, cur)
		}
		change.To = models.Unlisted
	default:
		return change, models.InvalidArgument("unknown suggestion type %q", s.SuggestionType)
	}
	return change, nil
}

func notApplicable(s models.SuggestionRecord, cur models.Tier) error {
	tier := string(cur)
	if cur == models.Unlisted {
		tier = "unlisted"
	}
	return fmt.Errorf("%w: %s %s while %s", models.ErrNotApplicable, s.SuggestionType, s.AssetID, tier)
}

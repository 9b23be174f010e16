package watchlist

import (
	"errors"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"MarketCascade/internal/domain/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func testEngine(cfg Config) *Engine {
	e := NewEngine(cfg)
	n := 0
	e.newID = func() string {
		n++
		return fmt.Sprintf("s%d", n)
	}
	return e
}

func member(asset string, tier models.Tier, score float64) models.WatchlistTier {
	return models.WatchlistTier{ListContext: models.DefaultListContext, Tier: tier, AssetID: asset, LastScore: score}
}

func scores(kv ...interface{}) map[string]Scored {
	m := make(map[string]Scored)
	for i := 0; i+1 < len(kv); i += 2 {
		id := kv[i].(string)
		m[id] = Scored{AssetID: id, Score: kv[i+1].(float64)}
	}
	return m
}

func find(ss []models.SuggestionRecord, asset string, kind models.SuggestionType) *models.SuggestionRecord {
	for i := range ss {
		if ss[i].AssetID == asset && ss[i].SuggestionType == kind {
			return &ss[i]
		}
	}
	return nil
}

func TestScoreRenormalizesWithoutDevActivity(t *testing.T) {
	e := NewEngine(DefaultConfig())
	leading := &models.SectorSnapshot{Leadership: models.LeadershipLeading}

	s := e.Score(models.AssetObservation{AssetID: "sol", Volume24h: 300, AvgVolume30d: 100}, leading)
	assert.InDelta(t, 0.6/0.85, s.Score, 1e-9)
	require.Len(t, s.Factors, 2)
	assert.Equal(t, models.RationaleItem{Factor: FactorVolumeSpike, Weight: 0.5, Value: 0.5}, s.Factors[0])
	assert.Equal(t, 0.35, s.Factors[1].Weight)

	zero := 0.0
	s = e.Score(models.AssetObservation{AssetID: "sol", Volume24h: 300, AvgVolume30d: 100, DevActivityDelta: &zero}, leading)
	assert.InDelta(t, 0.675, s.Score, 1e-9)
	require.Len(t, s.Factors, 3)
	assert.Equal(t, FactorDevActivity, s.Factors[2].Factor)
}

func TestScoreWithoutSectorIsNeutral(t *testing.T) {
	e := NewEngine(DefaultConfig())
	s := e.Score(models.AssetObservation{AssetID: "x", Volume24h: 100, AvgVolume30d: 100}, nil)
	assert.InDelta(t, 0.35*0.5/0.85, s.Score, 1e-9)
}

func TestPlanPairsDemotionAtCapacity(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Tier1Capacity = 2
	e := testEngine(cfg)

	plan := e.Plan(PlanInput{
		ListContext: models.DefaultListContext,
		Now:         now,
		Tiers:       []models.WatchlistTier{member("a", models.Tier1, 0.8), member("b", models.Tier1, 0.5), member("c", models.Tier2, 0.6)},
		Scores:      scores("a", 0.8, "b", 0.5, "c", 0.9),
	})

	require.Len(t, plan.Suggestions, 2)
	promo := find(plan.Suggestions, "c", models.SuggestPromote)
	demote := find(plan.Suggestions, "b", models.SuggestDemote)
	require.NotNil(t, promo)
	require.NotNil(t, demote)
	assert.Equal(t, demote.ID, promo.PairedWith)
	assert.Equal(t, promo.ID, demote.PairedWith)
	assert.Contains(t, demote.Reason, "displaced by c")
	assert.Equal(t, models.StatusPending, promo.Status)
	assert.Equal(t, now, promo.CreatedAt)
}

func TestPlanNoPairWhenMemberAlreadyLeaving(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Tier1Capacity = 2
	e := testEngine(cfg)

	plan := e.Plan(PlanInput{
		ListContext: models.DefaultListContext,
		Now:         now,
		Tiers:       []models.WatchlistTier{member("a", models.Tier1, 0.8), member("b", models.Tier1, 0.3), member("c", models.Tier2, 0.6)},
		Scores:      scores("a", 0.8, "b", 0.3, "c", 0.9),
	})

	// b is demoted on score, which frees the slot for c
	require.Len(t, plan.Suggestions, 2)
	assert.Empty(t, find(plan.Suggestions, "c", models.SuggestPromote).PairedWith)
	assert.Empty(t, find(plan.Suggestions, "b", models.SuggestDemote).Reason)

	plan = e.Plan(PlanInput{
		ListContext: models.DefaultListContext,
		Now:         now,
		Tiers:       []models.WatchlistTier{member("a", models.Tier1, 0.8), member("b", models.Tier1, 0.5), member("c", models.Tier2, 0.6)},
		Scores:      scores("a", 0.8, "b", 0.5, "c", 0.9),
		Pending: []models.SuggestionRecord{
			{ID: "old", AssetID: "a", SuggestionType: models.SuggestRemove, Status: models.StatusPending},
		},
	})
	require.Len(t, plan.Suggestions, 1)
	assert.Empty(t, plan.Suggestions[0].PairedWith)
}

func TestPlanKeepsExistingPairOnRefresh(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Tier1Capacity = 2
	e := testEngine(cfg)

	plan := e.Plan(PlanInput{
		ListContext: models.DefaultListContext,
		Now:         now,
		Tiers:       []models.WatchlistTier{member("a", models.Tier1, 0.8), member("b", models.Tier1, 0.5), member("c", models.Tier2, 0.6)},
		Scores:      scores("a", 0.8, "b", 0.5, "c", 0.9),
		Pending: []models.SuggestionRecord{
			{ID: "p1", AssetID: "c", SuggestionType: models.SuggestPromote, Status: models.StatusPending, PairedWith: "d1"},
			{ID: "d1", AssetID: "b", SuggestionType: models.SuggestDemote, Status: models.StatusPending, PairedWith: "p1"},
		},
	})
	require.Len(t, plan.Suggestions, 1)
	assert.Equal(t, "d1", plan.Suggestions[0].PairedWith)
}

func TestPlanRepairsPairAfterPartnerRejected(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Tier1Capacity = 2
	e := testEngine(cfg)

	tiers := []models.WatchlistTier{member("a", models.Tier1, 0.5), member("b", models.Tier1, 0.6), member("c", models.Tier2, 0.9)}
	first := e.Plan(PlanInput{
		ListContext: models.DefaultListContext,
		Now:         now,
		Tiers:       tiers,
		Scores:      scores("a", 0.5, "b", 0.6, "c", 0.9),
	})
	promo := find(first.Suggestions, "c", models.SuggestPromote)
	demote := find(first.Suggestions, "a", models.SuggestDemote)
	require.NotNil(t, promo)
	require.NotNil(t, demote)
	require.Equal(t, demote.ID, promo.PairedWith)

	// the reviewer rejects the demotion; only the promotion is still pending
	second := e.Plan(PlanInput{
		ListContext: models.DefaultListContext,
		Now:         now.Add(time.Minute),
		Tiers:       tiers,
		Scores:      scores("a", 0.5, "b", 0.6, "c", 0.9),
		Pending:     []models.SuggestionRecord{*promo},
	})
	require.Len(t, second.Suggestions, 2)
	repromo := find(second.Suggestions, "c", models.SuggestPromote)
	redemote := find(second.Suggestions, "a", models.SuggestDemote)
	require.NotNil(t, repromo)
	require.NotNil(t, redemote)
	assert.NotEqual(t, demote.ID, repromo.PairedWith)
	assert.Equal(t, redemote.ID, repromo.PairedWith)
	assert.Equal(t, repromo.ID, redemote.PairedWith)
}

func TestPlanDiscoveryAndRemoval(t *testing.T) {
	e := testEngine(DefaultConfig())
	in := PlanInput{
		ListContext: models.DefaultListContext,
		Now:         now,
		Tiers:       []models.WatchlistTier{member("old", models.Tier2, 0.3)},
		Scores:      scores("new", 0.65, "meh", 0.5, "old", 0.1),
	}

	plan := e.Plan(in)
	require.Len(t, plan.Discoveries, 1)
	assert.Equal(t, "new", plan.Discoveries[0].AssetID)
	assert.Equal(t, models.Tier2, plan.Discoveries[0].Tier)
	require.Len(t, plan.Suggestions, 1)
	assert.Equal(t, models.SuggestRemove, plan.Suggestions[0].SuggestionType)

	cfg := DefaultConfig()
	cfg.AutoDiscovery = false
	plan = testEngine(cfg).Plan(in)
	assert.Empty(t, plan.Discoveries)
	require.NotNil(t, find(plan.Suggestions, "new", models.SuggestAdd))
}

func TestPlanTransition(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Tier1Capacity = 1
	cfg.Tier2Capacity = 2
	e := NewEngine(cfg)
	tiers := []models.WatchlistTier{member("a", models.Tier1, 0.8), member("b", models.Tier2, 0.9)}

	_, err := e.PlanTransition(models.SuggestionRecord{AssetID: "b", SuggestionType: models.SuggestPromote}, tiers)
	assert.True(t, errors.Is(err, models.ErrCapacityExceeded))

	_, err = e.PlanTransition(models.SuggestionRecord{AssetID: "a", SuggestionType: models.SuggestPromote}, tiers)
	assert.True(t, errors.Is(err, models.ErrNotApplicable))

	ch, err := e.PlanTransition(models.SuggestionRecord{AssetID: "a", SuggestionType: models.SuggestDemote}, tiers)
	require.NoError(t, err)
	assert.Equal(t, models.TierChange{AssetID: "a", From: models.Tier1, To: models.Tier2}, ch)

	ch, err = e.PlanTransition(models.SuggestionRecord{AssetID: "z", SuggestionType: models.SuggestAdd}, tiers)
	require.NoError(t, err)
	assert.Equal(t, models.Tier2, ch.To)

	full := append(tiers, member("c", models.Tier2, 0.5))
	_, err = e.PlanTransition(models.SuggestionRecord{AssetID: "z", SuggestionType: models.SuggestAdd}, full)
	assert.True(t, errors.Is(err, models.ErrCapacityExceeded))

	ch, err = e.PlanTransition(models.SuggestionRecord{AssetID: "b", SuggestionType: models.SuggestRemove}, tiers)
	require.NoError(t, err)
	assert.Equal(t, models.Unlisted, ch.To)

	_, err = e.PlanTransition(models.SuggestionRecord{AssetID: "z", SuggestionType: models.SuggestRemove}, tiers)
	assert.True(t, errors.Is(err, models.ErrNotApplicable))
}

// Approving any subset of suggestions in any order never pushes tier1 past capacity.
func TestApprovalsNeverExceedTier1Capacity(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Tier1Capacity = 3
	e := NewEngine(cfg)
	rng := rand.New(rand.NewSource(7))

	for round := 0; round < 200; round++ {
		var tiers []models.WatchlistTier
		for i := 0; i < 3; i++ {
			tiers = append(tiers, member(fmt.Sprintf("t1-%d", i), models.Tier1, 0.5))
		}
		for i := 0; i < 6; i++ {
			tiers = append(tiers, member(fmt.Sprintf("t2-%d", i), models.Tier2, 0.5))
		}
		var queue []models.SuggestionRecord
		for _, m := range tiers {
			kind := models.SuggestPromote
			if m.Tier == models.Tier1 {
				kind = models.SuggestDemote
			}
			queue = append(queue, models.SuggestionRecord{AssetID: m.AssetID, SuggestionType: kind})
		}
		rng.Shuffle(len(queue), func(i, j int) { queue[i], queue[j] = queue[j], queue[i] })

		for _, s := range queue {
			ch, err := e.PlanTransition(s, tiers)
			if err != nil {
				continue
			}
			for i := range tiers {
				if tiers[i].AssetID == ch.AssetID {
					tiers[i].Tier = ch.To
				}
			}
			require.LessOrEqual(t, models.TierCount(tiers, models.Tier1), cfg.Tier1Capacity)
		}
	}
}

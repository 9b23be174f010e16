package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"MarketCascade/internal/domain/models"
	"MarketCascade/internal/domain/repository"

	"github.com/google/uuid"
)

type listState struct {
	tiers       map[string]models.WatchlistTier
	suggestions map[string]*models.SuggestionRecord
}

// WatchlistStore serializes every mutation behind one mutex, which makes Decide a
// compare-and-set on the pending status.
type WatchlistStore struct {
	mu    sync.Mutex
	lists map[models.ListContext]*listState
	now   func() time.Time
}

func NewWatchlistStore() *WatchlistStore {
	return &WatchlistStore{lists: make(map[models.ListContext]*listState), now: time.Now}
}

var _ repository.WatchlistStore = (*WatchlistStore)(nil)

func (s *WatchlistStore) list(wl models.ListContext) *listState {
	st, ok := s.lists[wl]
	if !ok {
		st = &listState{tiers: make(map[string]models.WatchlistTier), suggestions: make(map[string]*models.SuggestionRecord)}
		s.lists[wl] = st
	}
	return st
}

func (st *listState) tierSlice() []models.WatchlistTier {
	out := make([]models.WatchlistTier, 0, len(st.tiers))
	for _, t := range st.tiers {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Tier != out[j].Tier {
			return out[i].Tier < out[j].Tier
		}
		if out[i].CurrentRank != out[j].CurrentRank {
			return out[i].CurrentRank < out[j].CurrentRank
		}
		return out[i].AssetID < out[j].AssetID
	})
	return out
}

func (s *WatchlistStore) Tiers(_ context.Context, wl models.ListContext) ([]models.WatchlistTier, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.list(wl).tierSlice(), nil
}

func (s *WatchlistStore) Tier(_ context.Context, wl models.ListContext, tier models.Tier) ([]models.WatchlistTier, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.WatchlistTier
	for _, t := range s.list(wl).tierSlice() {
		if t.Tier == tier {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *WatchlistStore) Discover(_ context.Context, wl models.ListContext, t models.WatchlistTier, tier2Capacity int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.list(wl)
	if _, ok := st.tiers[t.AssetID]; ok {
		return fmt.Errorf("discover %s: %w", t.AssetID, models.ErrConflict)
	}
	if models.TierCount(st.tierSlice(), models.Tier2) >= tier2Capacity {
		return fmt.Errorf("discover %s: %w", t.AssetID, models.ErrCapacityExceeded)
	}
	t.ListContext = wl
	t.Tier = models.Tier2
	st.tiers[t.AssetID] = t
	rerank(st, models.Tier2)
	return nil
}

func (s *WatchlistStore) UpdateScores(_ context.Context, wl models.ListContext, scores map[string]float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.list(wl)
	for id, score := range scores {
		if t, ok := st.tiers[id]; ok {
			t.LastScore = score
			st.tiers[id] = t
		}
	}
	rerank(st, models.Tier1)
	rerank(st, models.Tier2)
	return nil
}

// rerank assigns 1-based ranks by last score within one tier.
func rerank(st *listState, tier models.Tier) {
	var members []models.WatchlistTier
	for _, t := range st.tiers {
		if t.Tier == tier {
			members = append(members, t)
		}
	}
	sort.Slice(members, func(i, j int) bool {
		if members[i].LastScore != members[j].LastScore {
			return members[i].LastScore > members[j].LastScore
		}
		return members[i].AssetID < members[j].AssetID
	})
	for i, m := range members {
		m.CurrentRank = i + 1
		st.tiers[m.AssetID] = m
	}
}

func (s *WatchlistStore) UpsertPending(_ context.Context, rec models.SuggestionRecord) (models.SuggestionRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.list(rec.ListContext)
	now := s.now()
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = now
	}
	for _, cur := range st.suggestions {
		if cur.Status == models.StatusPending && cur.AssetID == rec.AssetID && cur.SuggestionType == rec.SuggestionType {
			cur.Score = rec.Score
			cur.Confidence = rec.Confidence
			cur.Rationale = append([]models.RationaleItem(nil), rec.Rationale...)
			cur.Reason = rec.Reason
			if rec.SectorID != "" {
				cur.SectorID = rec.SectorID
			}
			if rec.PairedWith != "" {
				cur.PairedWith = rec.PairedWith
			}
			cur.Consumed = append([]models.ContextRef(nil), rec.Consumed...)
			cur.UpdatedAt = rec.UpdatedAt
			return cloneSuggestion(cur), false, nil
		}
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if _, dup := st.suggestions[rec.ID]; dup {
		return models.SuggestionRecord{}, false, fmt.Errorf("upsert suggestion %s: %w", rec.ID, models.ErrConflict)
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.Status = models.StatusPending
	rec.DecidedAt, rec.DecidedBy = nil, nil
	stored := cloneSuggestion(&rec)
	st.suggestions[rec.ID] = &stored
	return cloneSuggestion(&stored), true, nil
}

func (s *WatchlistStore) Suggestions(_ context.Context, wl models.ListContext, status models.SuggestionStatus) ([]models.SuggestionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.SuggestionRecord
	for _, rec := range s.list(wl).suggestions {
		if status == "" || rec.Status == status {
			out = append(out, cloneSuggestion(rec))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *WatchlistStore) Suggestion(_ context.Context, wl models.ListContext, id string) (*models.SuggestionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.list(wl).suggestions[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	c := cloneSuggestion(rec)
	return &c, nil
}

func (s *WatchlistStore) Decide(_ context.Context, wl models.ListContext, id string, verdict models.Verdict, decidedBy string, at time.Time, plan models.TierPlanner) (models.SuggestionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.list(wl)
	rec, ok := st.suggestions[id]
	if !ok {
		return models.SuggestionRecord{}, models.ErrNotFound
	}
	if rec.Status.Terminal() {
		return cloneSuggestion(rec), fmt.Errorf("suggestion %s is %s: %w", id, rec.Status, models.ErrConflict)
	}

	switch verdict {
	case models.VerdictReject:
		finish(rec, models.StatusRejected, decidedBy, at)
		return cloneSuggestion(rec), nil
	case models.VerdictApprove:
	default:
		return models.SuggestionRecord{}, models.InvalidArgument("unknown verdict %q", verdict)
	}

	change, err := plan(cloneSuggestion(rec), st.tierSlice())
	switch {
	case errors.Is(err, models.ErrNotApplicable):
		finish(rec, models.StatusExpired, decidedBy, at)
		return cloneSuggestion(rec), err
	case err != nil:
		return cloneSuggestion(rec), err
	}

	applyChange(st, wl, change, at)
	finish(rec, models.StatusApproved, decidedBy, at)
	return cloneSuggestion(rec), nil
}

func applyChange(st *listState, wl models.ListContext, ch models.TierChange, at time.Time) {
	if ch.To == models.Unlisted {
		delete(st.tiers, ch.AssetID)
	} else {
		t, ok := st.tiers[ch.AssetID]
		if !ok {
			t = models.WatchlistTier{ListContext: wl, AssetID: ch.AssetID}
		}
		t.Tier = ch.To
		t.EnteredAt = at
		if ch.SectorID != "" {
			t.SectorID = ch.SectorID
		}
		st.tiers[ch.AssetID] = t
	}
	rerank(st, models.Tier1)
	rerank(st, models.Tier2)
}

func finish(rec *models.SuggestionRecord, status models.SuggestionStatus, by string, at time.Time) {
	rec.Status = status
	rec.UpdatedAt = at
	rec.DecidedAt = &at
	if by != "" {
		b := by
		rec.DecidedBy = &b
	}
}

func (s *WatchlistStore) ExpirePending(_ context.Context, wl models.ListContext, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	now := s.now()
	for _, rec := range s.list(wl).suggestions {
		if rec.Status == models.StatusPending && rec.CreatedAt.Before(cutoff) {
			rec.Status = models.StatusExpired
			rec.UpdatedAt = now
			n++
		}
	}
	return n, nil
}

func cloneSuggestion(r *models.SuggestionRecord) models.SuggestionRecord {
	c := *r
	c.Rationale = append([]models.RationaleItem(nil), r.Rationale...)
	c.Consumed = append([]models.ContextRef(nil), r.Consumed...)
	if r.DecidedAt != nil {
		at := *r.DecidedAt
		c.DecidedAt = &at
	}
	if r.DecidedBy != nil {
		by := *r.DecidedBy
		c.DecidedBy = &by
	}
	return c
}

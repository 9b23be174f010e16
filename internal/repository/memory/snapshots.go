package memory

import (
	"context"
	"sync"

	"MarketCascade/internal/domain/models"
	"MarketCascade/internal/domain/repository"
)

// SnapshotStore is an append-only, in-process layer history.
type SnapshotStore struct {
	mu      sync.RWMutex
	regimes []models.RegimeSnapshot
	sectors [][]models.SectorSnapshot
	assets  map[models.ListContext][]models.AssetSnapshot
}

func NewSnapshotStore() *SnapshotStore {
	return &SnapshotStore{assets: make(map[models.ListContext][]models.AssetSnapshot)}
}

var _ repository.SnapshotStore = (*SnapshotStore)(nil)

func (s *SnapshotStore) AppendRegime(_ context.Context, snap models.RegimeSnapshot) error {
	if !snap.Regime.Valid() {
		return models.InvalidArgument("unknown regime %q", snap.Regime)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if n := len(s.regimes); n > 0 && !snap.AsOf.After(s.regimes[n-1].AsOf) {
		return models.ErrNonMonotonic
	}
	s.regimes = append(s.regimes, cloneRegime(snap))
	return nil
}

func (s *SnapshotStore) LatestRegime(_ context.Context) (*models.RegimeSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.regimes) == 0 {
		return nil, models.ErrNotFound
	}
	r := cloneRegime(s.regimes[len(s.regimes)-1])
	return &r, nil
}

// RegimeHistory returns up to limit snapshots, newest first.
func (s *SnapshotStore) RegimeHistory(_ context.Context, limit int) ([]models.RegimeSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 || limit > len(s.regimes) {
		limit = len(s.regimes)
	}
	out := make([]models.RegimeSnapshot, 0, limit)
	for i := len(s.regimes) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, cloneRegime(s.regimes[i]))
	}
	return out, nil
}

func (s *SnapshotStore) AppendSectors(_ context.Context, ss []models.SectorSnapshot) error {
	if len(ss) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if n := len(s.sectors); n > 0 && !ss[0].AsOf.After(s.sectors[n-1][0].AsOf) {
		return models.ErrNonMonotonic
	}
	s.sectors = append(s.sectors, append([]models.SectorSnapshot(nil), ss...))
	return nil
}

func (s *SnapshotStore) LatestSectors(_ context.Context) ([]models.SectorSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.sectors) == 0 {
		return nil, models.ErrNotFound
	}
	return append([]models.SectorSnapshot(nil), s.sectors[len(s.sectors)-1]...), nil
}

// AppendAssets replaces the latest asset batch of each list context present in ss.
func (s *SnapshotStore) AppendAssets(_ context.Context, ss []models.AssetSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byCtx := make(map[models.ListContext][]models.AssetSnapshot)
	for _, a := range ss {
		byCtx[a.ListContext] = append(byCtx[a.ListContext], a)
	}
	for wl, batch := range byCtx {
		s.assets[wl] = batch
	}
	return nil
}

func (s *SnapshotStore) LatestAssets(_ context.Context, wl models.ListContext) ([]models.AssetSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	batch, ok := s.assets[wl]
	if !ok {
		return nil, models.ErrNotFound
	}
	return append([]models.AssetSnapshot(nil), batch...), nil
}

func cloneRegime(r models.RegimeSnapshot) models.RegimeSnapshot {
	probs := make(map[models.Regime]float64, len(r.TransitionProbabilities))
	for k, v := range r.TransitionProbabilities {
		probs[k] = v
	}
	r.TransitionProbabilities = probs
	r.Drivers = append([]string(nil), r.Drivers...)
	r.Consumed = append([]models.ContextRef(nil), r.Consumed...)
	return r
}

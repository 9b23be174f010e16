package memory

import (
	"context"
	"sync"

	"MarketCascade/internal/domain/models"
	"MarketCascade/internal/domain/repository"
)

// DefaultMacroHistory bounds the retained macro bundles.
const DefaultMacroHistory = 256

// InputStore keeps the latest ingested bundles in process.
type InputStore struct {
	mu       sync.RWMutex
	maxMacro int
	macro    []models.MacroBundle
	sectors  *models.SectorBundle
	assets   *models.AssetBundle
	bars     map[string]models.BarBatch
}

func NewInputStore(maxMacro int) *InputStore {
	if maxMacro <= 0 {
		maxMacro = DefaultMacroHistory
	}
	return &InputStore{maxMacro: maxMacro, bars: make(map[string]models.BarBatch)}
}

var _ repository.InputStore = (*InputStore)(nil)

func (s *InputStore) PutMacro(_ context.Context, b models.MacroBundle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ind := make(map[string]float64, len(b.Indicators))
	for k, v := range b.Indicators {
		ind[k] = v
	}
	b.Indicators = ind
	s.macro = append(s.macro, b)
	if over := len(s.macro) - s.maxMacro; over > 0 {
		s.macro = append([]models.MacroBundle(nil), s.macro[over:]...)
	}
	return nil
}

func (s *InputStore) MacroWindow(_ context.Context, n int) ([]models.MacroBundle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if n <= 0 || n > len(s.macro) {
		n = len(s.macro)
	}
	out := make([]models.MacroBundle, n)
	copy(out, s.macro[len(s.macro)-n:])
	return out, nil
}

func (s *InputStore) PutSectorFlows(_ context.Context, b models.SectorBundle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b.Sectors = append([]models.SectorFlow(nil), b.Sectors...)
	s.sectors = &b
	return nil
}

func (s *InputStore) LatestSectorFlows(_ context.Context) (*models.SectorBundle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.sectors == nil {
		return nil, models.ErrNotFound
	}
	b := *s.sectors
	b.Sectors = append([]models.SectorFlow(nil), b.Sectors...)
	return &b, nil
}

func (s *InputStore) PutAssets(_ context.Context, b models.AssetBundle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b.Assets = append([]models.AssetObservation(nil), b.Assets...)
	s.assets = &b
	return nil
}

func (s *InputStore) LatestAssets(_ context.Context) (*models.AssetBundle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.assets == nil {
		return nil, models.ErrNotFound
	}
	b := *s.assets
	b.Assets = append([]models.AssetObservation(nil), b.Assets...)
	return &b, nil
}

func (s *InputStore) PutBars(_ context.Context, b models.BarBatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b.Bars = append([]models.Bar(nil), b.Bars...)
	s.bars[b.AssetID] = b
	return nil
}

func (s *InputStore) RecentBars(_ context.Context, assetID string) (*models.BarBatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.bars[assetID]
	if !ok {
		return nil, models.ErrNotFound
	}
	b.Bars = append([]models.Bar(nil), b.Bars...)
	return &b, nil
}

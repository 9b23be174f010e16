package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"MarketCascade/internal/domain/models"
	"MarketCascade/internal/domain/repository"
)

type SignalStore struct {
	mu      sync.Mutex
	signals map[string]models.TradingSignal
}

func NewSignalStore() *SignalStore {
	return &SignalStore{signals: make(map[string]models.TradingSignal)}
}

var _ repository.SignalStore = (*SignalStore)(nil)

func (s *SignalStore) Save(_ context.Context, sig models.TradingSignal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.signals[sig.ID]; ok {
		return fmt.Errorf("save signal %s: %w", sig.ID, models.ErrConflict)
	}
	s.signals[sig.ID] = cloneSignal(sig)
	return nil
}

func (s *SignalStore) Get(_ context.Context, id string) (*models.TradingSignal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sig, ok := s.signals[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	c := cloneSignal(sig)
	return &c, nil
}

func (s *SignalStore) Active(ctx context.Context) ([]models.TradingSignal, error) {
	return s.List(ctx, models.SignalFilter{Status: models.SignalActive})
}

// List returns matching signals, newest first.
func (s *SignalStore) List(_ context.Context, f models.SignalFilter) ([]models.TradingSignal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.TradingSignal
	for _, sig := range s.signals {
		if f.Status != "" && sig.Status != f.Status {
			continue
		}
		if f.AssetID != "" && sig.AssetID != f.AssetID {
			continue
		}
		out = append(out, cloneSignal(sig))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].GeneratedAt.Equal(out[j].GeneratedAt) {
			return out[i].GeneratedAt.After(out[j].GeneratedAt)
		}
		return out[i].ID < out[j].ID
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *SignalStore) Transition(_ context.Context, id string, from, to models.SignalStatus, at time.Time) (*models.TradingSignal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sig, ok := s.signals[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	if sig.Status != from {
		return nil, fmt.Errorf("signal %s is %s, want %s: %w", id, sig.Status, from, models.ErrConflict)
	}
	sig.Status = to
	if to == models.SignalExecuted {
		t := at
		sig.ExecutedAt = &t
	}
	s.signals[id] = sig
	c := cloneSignal(sig)
	return &c, nil
}

func (s *SignalStore) ExpireDue(_ context.Context, now time.Time) ([]models.TradingSignal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.TradingSignal
	for id, sig := range s.signals {
		if sig.Status == models.SignalActive && sig.ExpiredAt(now) {
			sig.Status = models.SignalExpired
			s.signals[id] = sig
			out = append(out, cloneSignal(sig))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func cloneSignal(s models.TradingSignal) models.TradingSignal {
	s.Consumed = append([]models.ContextRef(nil), s.Consumed...)
	if s.ExecutedAt != nil {
		t := *s.ExecutedAt
		s.ExecutedAt = &t
	}
	return s
}

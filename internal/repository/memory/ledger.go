package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"MarketCascade/internal/domain/models"
	"MarketCascade/internal/domain/repository"

	"github.com/google/uuid"
)

type pairKey struct{ user, asset string }

// Ledger is an append-only trade log with derived positions.
type Ledger struct {
	mu        sync.RWMutex
	seq       int64
	ids       map[string]struct{}
	trades    map[pairKey][]models.Trade
	positions map[pairKey]models.PortfolioPosition
}

func NewLedger() *Ledger {
	return &Ledger{
		ids:       make(map[string]struct{}),
		trades:    make(map[pairKey][]models.Trade),
		positions: make(map[pairKey]models.PortfolioPosition),
	}
}

var _ repository.TradeLedger = (*Ledger)(nil)

// Append assigns the next sequence number. A repeated trade id is a conflict.
func (l *Ledger) Append(_ context.Context, t models.Trade) (models.Trade, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if _, dup := l.ids[t.ID]; dup {
		return models.Trade{}, fmt.Errorf("append trade %s: %w", t.ID, models.ErrConflict)
	}
	l.seq++
	t.Seq = l.seq
	l.ids[t.ID] = struct{}{}
	k := pairKey{t.UserID, t.AssetID}
	l.trades[k] = append(l.trades[k], t)
	return t, nil
}

func (l *Ledger) History(_ context.Context, userID, assetID string) ([]models.Trade, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]models.Trade(nil), l.trades[pairKey{userID, assetID}]...), nil
}

func (l *Ledger) SavePosition(_ context.Context, p models.PortfolioPosition) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.positions[pairKey{p.UserID, p.AssetID}] = p
	return nil
}

func (l *Ledger) Position(_ context.Context, userID, assetID string) (*models.PortfolioPosition, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	p, ok := l.positions[pairKey{userID, assetID}]
	if !ok {
		return nil, models.ErrNotFound
	}
	return &p, nil
}

func (l *Ledger) Positions(_ context.Context, userID string) ([]models.PortfolioPosition, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []models.PortfolioPosition
	for k, p := range l.positions {
		if k.user == userID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AssetID < out[j].AssetID })
	return out, nil
}

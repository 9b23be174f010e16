package usecase

import (
	"context"
	"fmt"
	"time"

	"MarketCascade/internal/domain/models"
	domrepo "MarketCascade/internal/domain/repository"
	"MarketCascade/internal/services/reconcile"
	applogger "MarketCascade/pkg/logger"
	"MarketCascade/pkg/queue"
)

// ReconciliationService owns PortfolioPosition. Every write replays the full
// ledger of the (user, asset) pair under that pair's lock.
type ReconciliationService struct {
	ledger  domrepo.TradeLedger
	locker  PairLocker
	metrics domrepo.Metrics
	l       *applogger.Logger
	now     func() time.Time

	rebuilds queue.Enqueuer
}

func NewReconciliationService(ledger domrepo.TradeLedger, locker PairLocker, m domrepo.Metrics, l *applogger.Logger) *ReconciliationService {
	if locker == nil {
		locker = NewKeyedMutex()
	}
	return &ReconciliationService{ledger: ledger, locker: locker, metrics: m, l: l, now: func() time.Time { return time.Now().UTC() }}
}

// SetRebuildQueue makes RequestRebuild asynchronous.
func (s *ReconciliationService) SetRebuildQueue(q queue.Enqueuer) { s.rebuilds = q }

// RequestRebuild enqueues a rebuild when a queue is set and returns a nil position;
// otherwise it rebuilds inline.
func (s *ReconciliationService) RequestRebuild(ctx context.Context, userID, assetID string) (*models.PortfolioPosition, error) {
	if userID == "" || assetID == "" {
		return nil, models.InvalidArgument("user_id and asset_id are required")
	}
	if s.rebuilds != nil {
		if err := s.rebuilds.Enqueue(ctx, JobRebuildPosition, RebuildRequest{UserID: userID, AssetID: assetID}); err != nil {
			return nil, fmt.Errorf("enqueue rebuild: %w", err)
		}
		return nil, nil
	}
	pos, err := s.Rebuild(ctx, userID, assetID)
	if err != nil {
		return nil, err
	}
	return &pos, nil
}

// RecordTrade appends t to the ledger and returns the reconciled position.
func (s *ReconciliationService) RecordTrade(ctx context.Context, t models.Trade) (models.PortfolioPosition, error) {
	if err := validateTrade(t); err != nil {
		return models.PortfolioPosition{}, err
	}
	if t.ExecutedAt.IsZero() {
		t.ExecutedAt = s.now()
	}
	start := time.Now()
	unlock, err := s.locker.Lock(ctx, pairKey(t.UserID, t.AssetID))
	if err != nil {
		return models.PortfolioPosition{}, fmt.Errorf("lock pair: %w", err)
	}
	defer unlock()

	if _, err := s.ledger.Append(ctx, t); err != nil {
		return models.PortfolioPosition{}, fmt.Errorf("append trade: %w", err)
	}
	pos, err := s.rebuild(ctx, t.UserID, t.AssetID)
	if s.metrics != nil {
		s.metrics.RecordLatency("reconcile_record_trade", time.Since(start).Seconds())
	}
	return pos, err
}

// Rebuild replays the ledger without appending.
func (s *ReconciliationService) Rebuild(ctx context.Context, userID, assetID string) (models.PortfolioPosition, error) {
	unlock, err := s.locker.Lock(ctx, pairKey(userID, assetID))
	if err != nil {
		return models.PortfolioPosition{}, fmt.Errorf("lock pair: %w", err)
	}
	defer unlock()
	return s.rebuild(ctx, userID, assetID)
}

func (s *ReconciliationService) rebuild(ctx context.Context, userID, assetID string) (models.PortfolioPosition, error) {
	history, err := s.ledger.History(ctx, userID, assetID)
	if err != nil {
		return models.PortfolioPosition{}, fmt.Errorf("trade history: %w", err)
	}
	pos, err := reconcile.Replay(userID, assetID, history, s.now())
	if err != nil {
		if s.l != nil {
			s.l.Error("ledger replay failed",
				applogger.String("user_id", userID),
				applogger.String("asset_id", assetID),
				applogger.Int("trades", len(history)),
				applogger.Error(err),
			)
		}
		if s.metrics != nil {
			s.metrics.RecordError("invariant")
		}
		return pos, err
	}
	if err := s.ledger.SavePosition(ctx, pos); err != nil {
		return pos, fmt.Errorf("save position: %w", err)
	}
	return pos, nil
}

func validateTrade(t models.Trade) error {
	switch {
	case t.UserID == "" || t.AssetID == "":
		return models.InvalidArgument("user_id and asset_id are required")
	case t.Direction != models.Buy && t.Direction != models.Sell:
		return models.InvalidArgument("direction must be buy or sell, got %q", t.Direction)
	case !t.Quantity.IsPositive():
		return models.InvalidArgument("quantity must be positive")
	case !t.Price.IsPositive():
		return models.InvalidArgument("price must be positive")
	case t.Fees.IsNegative():
		return models.InvalidArgument("fees must not be negative")
	}
	return nil
}

package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"MarketCascade/internal/domain/models"
	domrepo "MarketCascade/internal/domain/repository"
	domsvc "MarketCascade/internal/domain/service"
	applogger "MarketCascade/pkg/logger"

	"github.com/shopspring/decimal"
)

// ExecutionService sizes and executes active signals.
type ExecutionService struct {
	signals domrepo.SignalStore
	sizer   domsvc.PositionSizer
	metrics domrepo.Metrics
	l       *applogger.Logger
	now     func() time.Time
}

func NewExecutionService(signals domrepo.SignalStore, sizer domsvc.PositionSizer, m domrepo.Metrics, l *applogger.Logger) *ExecutionService {
	return &ExecutionService{signals: signals, sizer: sizer, metrics: m, l: l, now: func() time.Time { return time.Now().UTC() }}
}

// Execute sizes the order and moves the signal to executed. A signal past its
// expiry is expired here even if the sweep has not reached it yet.
func (s *ExecutionService) Execute(ctx context.Context, id string, profile models.RiskProfile, equity decimal.Decimal) (models.SizedOrder, error) {
	sig, err := s.signals.Get(ctx, id)
	if err != nil {
		return models.SizedOrder{}, fmt.Errorf("signal %s: %w", id, err)
	}
	if sig.Status != models.SignalActive {
		return models.SizedOrder{}, fmt.Errorf("signal %s is %s: %w", id, sig.Status, models.ErrConflict)
	}

	now := s.now()
	if sig.ExpiredAt(now) {
		if _, err := s.signals.Transition(ctx, id, models.SignalActive, models.SignalExpired, now); err != nil && !errors.Is(err, models.ErrConflict) {
			return models.SizedOrder{}, fmt.Errorf("expire signal %s: %w", id, err)
		}
		s.record(string(models.SignalExpired))
		return models.SizedOrder{}, fmt.Errorf("signal %s expired at %s: %w", id, sig.ExpiresAt.Format(time.RFC3339), models.ErrSignalExpired)
	}

	order, err := s.sizer.Size(profile.WithDefaults(), equity, *sig)
	if err != nil {
		if errors.Is(err, models.ErrInvariantViolation) && s.l != nil {
			s.l.Error("sizing invariant violation", applogger.String("signal_id", id), applogger.Error(err))
		}
		return models.SizedOrder{}, err
	}
	if _, err := s.signals.Transition(ctx, id, models.SignalActive, models.SignalExecuted, now); err != nil {
		return models.SizedOrder{}, fmt.Errorf("execute signal %s: %w", id, err)
	}
	s.record(string(models.SignalExecuted))
	if s.l != nil {
		s.l.Info("signal executed",
			applogger.String("signal_id", id),
			applogger.String("quantity", order.Quantity.String()),
			applogger.Bool("clamped", order.Clamped),
		)
	}
	return order, nil
}

func (s *ExecutionService) record(outcome string) {
	if s.metrics != nil {
		s.metrics.RecordSignal(outcome)
	}
}

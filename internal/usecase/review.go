package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"MarketCascade/internal/domain/models"
	domrepo "MarketCascade/internal/domain/repository"
	"MarketCascade/internal/services/watchlist"
	applogger "MarketCascade/pkg/logger"
)

// ReviewService applies human decisions to pending suggestions. It writes
// suggestion status only; tier changes come from the engine's transition rules
// inside the store's critical section.
type ReviewService struct {
	store   domrepo.WatchlistStore
	engine  *watchlist.Engine
	metrics domrepo.Metrics
	l       *applogger.Logger
	now     func() time.Time
}

func NewReviewService(store domrepo.WatchlistStore, engine *watchlist.Engine, m domrepo.Metrics, l *applogger.Logger) *ReviewService {
	return &ReviewService{store: store, engine: engine, metrics: m, l: l, now: func() time.Time { return time.Now().UTC() }}
}

func (s *ReviewService) Decide(ctx context.Context, wl models.ListContext, id string, verdict models.Verdict, decidedBy string) (models.SuggestionRecord, error) {
	if verdict != models.VerdictApprove && verdict != models.VerdictReject {
		return models.SuggestionRecord{}, models.InvalidArgument("verdict must be approve or reject, got %q", verdict)
	}
	decidedBy = strings.TrimSpace(decidedBy)
	if decidedBy == "" {
		return models.SuggestionRecord{}, models.InvalidArgument("decided_by is required")
	}

	rec, err := s.store.Decide(ctx, wl, id, verdict, decidedBy, s.now(), s.engine.PlanTransition)
	outcome := string(rec.Status)
	switch {
	case errors.Is(err, models.ErrNotApplicable):
		outcome = string(models.StatusExpired)
	case errors.Is(err, models.ErrCapacityExceeded):
		outcome = "capacity"
	case errors.Is(err, models.ErrConflict):
		outcome = "conflict"
	case errors.Is(err, models.ErrNotFound):
		return rec, fmt.Errorf("suggestion %s: %w", id, err)
	case err != nil:
		return rec, fmt.Errorf("decide suggestion %s: %w", id, err)
	}
	if s.metrics != nil {
		s.metrics.RecordSuggestion(string(rec.SuggestionType), outcome)
	}
	if s.l != nil {
		s.l.Info("suggestion decided",
			applogger.String("list_context", string(wl)),
			applogger.String("suggestion_id", id),
			applogger.String("verdict", string(verdict)),
			applogger.String("decided_by", decidedBy),
			applogger.String("outcome", outcome),
		)
	}
	return rec, err
}

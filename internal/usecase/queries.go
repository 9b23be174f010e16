package usecase

import (
	"context"
	"fmt"
	"time"

	"MarketCascade/internal/domain/models"
	domrepo "MarketCascade/internal/domain/repository"
	"MarketCascade/pkg/util"
)

// RegimeView is the latest regime with its age at read time.
type RegimeView struct {
	models.RegimeSnapshot
	AgeSeconds float64 `json:"age_seconds"`
}

// SectorsView is the latest sector ranking with its age at read time.
type SectorsView struct {
	AsOf       time.Time               `json:"as_of"`
	AgeSeconds float64                 `json:"age_seconds"`
	Stale      bool                    `json:"stale"`
	Sectors    []models.SectorSnapshot `json:"sectors"`
}

// QueryService backs the read-only dashboard endpoints.
type QueryService struct {
	snapshots domrepo.SnapshotStore
	watchlist domrepo.WatchlistStore
	signals   domrepo.SignalStore
	ledger    domrepo.TradeLedger

	regimeFreshness time.Duration
	sectorFreshness time.Duration
	now             func() time.Time
}

func NewQueryService(snapshots domrepo.SnapshotStore, wl domrepo.WatchlistStore, signals domrepo.SignalStore, ledger domrepo.TradeLedger, cfg CascadeConfig) *QueryService {
	return &QueryService{
		snapshots:       snapshots,
		watchlist:       wl,
		signals:         signals,
		ledger:          ledger,
		regimeFreshness: cfg.RegimeFreshness,
		sectorFreshness: cfg.SectorFreshness,
		now:             func() time.Time { return time.Now().UTC() },
	}
}

func (q *QueryService) LatestRegime(ctx context.Context) (RegimeView, error) {
	r, err := q.snapshots.LatestRegime(ctx)
	if err != nil {
		return RegimeView{}, fmt.Errorf("latest regime: %w", err)
	}
	now := q.now()
	v := RegimeView{RegimeSnapshot: *r, AgeSeconds: util.AgeSeconds(r.AsOf, now)}
	v.Stale = r.Stale || models.Freshness{Bound: q.regimeFreshness}.Stale(r.AsOf, now)
	return v, nil
}

// RegimeHistory returns up to limit snapshots, newest first. A non-zero since
// drops snapshots taken before it.
func (q *QueryService) RegimeHistory(ctx context.Context, limit int, since time.Time) ([]models.RegimeSnapshot, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := q.snapshots.RegimeHistory(ctx, limit)
	if err != nil || since.IsZero() {
		return rows, err
	}
	out := rows[:0]
	for _, r := range rows {
		if !r.AsOf.Before(since) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (q *QueryService) LatestSectors(ctx context.Context) (SectorsView, error) {
	ss, err := q.snapshots.LatestSectors(ctx)
	if err != nil {
		return SectorsView{}, fmt.Errorf("latest sectors: %w", err)
	}
	if len(ss) == 0 {
		return SectorsView{}, fmt.Errorf("latest sectors: %w", models.ErrNotFound)
	}
	now := q.now()
	asOf := ss[0].AsOf
	return SectorsView{
		AsOf:       asOf,
		AgeSeconds: util.AgeSeconds(asOf, now),
		Stale:      models.Freshness{Bound: q.sectorFreshness}.Stale(asOf, now),
		Sectors:    ss,
	}, nil
}

func (q *QueryService) LatestAssets(ctx context.Context, wl models.ListContext) ([]models.AssetSnapshot, error) {
	return q.snapshots.LatestAssets(ctx, wl)
}

func (q *QueryService) Tiers(ctx context.Context, wl models.ListContext) ([]models.WatchlistTier, error) {
	return q.watchlist.Tiers(ctx, wl)
}

func (q *QueryService) Suggestions(ctx context.Context, wl models.ListContext, status models.SuggestionStatus) ([]models.SuggestionRecord, error) {
	return q.watchlist.Suggestions(ctx, wl, status)
}

func (q *QueryService) Suggestion(ctx context.Context, wl models.ListContext, id string) (*models.SuggestionRecord, error) {
	return q.watchlist.Suggestion(ctx, wl, id)
}

func (q *QueryService) Signals(ctx context.Context, f models.SignalFilter) ([]models.TradingSignal, error) {
	return q.signals.List(ctx, f)
}

func (q *QueryService) Signal(ctx context.Context, id string) (*models.TradingSignal, error) {
	return q.signals.Get(ctx, id)
}

func (q *QueryService) Positions(ctx context.Context, userID string) ([]models.PortfolioPosition, error) {
	return q.ledger.Positions(ctx, userID)
}

func (q *QueryService) Position(ctx context.Context, userID, assetID string) (*models.PortfolioPosition, error) {
	return q.ledger.Position(ctx, userID, assetID)
}

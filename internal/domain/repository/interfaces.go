package repository

import (
	"context"
	"time"

	"MarketCascade/internal/domain/models"
)

// InputStore keeps bounded windows of ingested bundles for the passes to read.
type InputStore interface {
	PutMacro(ctx context.Context, b models.MacroBundle) error
	// MacroWindow returns up to n bundles, oldest first, ending with the latest.
	MacroWindow(ctx context.Context, n int) ([]models.MacroBundle, error)
	PutSectorFlows(ctx context.Context, b models.SectorBundle) error
	LatestSectorFlows(ctx context.Context) (*models.SectorBundle, error)
	PutAssets(ctx context.Context, b models.AssetBundle) error
	LatestAssets(ctx context.Context) (*models.AssetBundle, error)
	PutBars(ctx context.Context, b models.BarBatch) error
	RecentBars(ctx context.Context, assetID string) (*models.BarBatch, error)
}

// SnapshotStore is the append-only history of layer outputs. Latest* return
// models.ErrNotFound when nothing was appended yet.
type SnapshotStore interface {
	AppendRegime(ctx context.Context, s models.RegimeSnapshot) error
	LatestRegime(ctx context.Context) (*models.RegimeSnapshot, error)
	RegimeHistory(ctx context.Context, limit int) ([]models.RegimeSnapshot, error)
	AppendSectors(ctx context.Context, ss []models.SectorSnapshot) error
	LatestSectors(ctx context.Context) ([]models.SectorSnapshot, error)
	AppendAssets(ctx context.Context, ss []models.AssetSnapshot) error
	LatestAssets(ctx context.Context, wl models.ListContext) ([]models.AssetSnapshot, error)
}

// WatchlistStore owns tier membership and the suggestion queue per list context.
type WatchlistStore interface {
	Tiers(ctx context.Context, wl models.ListContext) ([]models.WatchlistTier, error)
	Tier(ctx context.Context, wl models.ListContext, tier models.Tier) ([]models.WatchlistTier, error)
	// Discover adds an unlisted asset to tier2. Fails with ErrConflict when already listed
	// and ErrCapacityExceeded when tier2 is full.
	Discover(ctx context.Context, wl models.ListContext, t models.WatchlistTier, tier2Capacity int) error
	// UpdateScores refreshes last_score and current_rank of existing members.
	UpdateScores(ctx context.Context, wl models.ListContext, scores map[string]float64) error
	// UpsertPending inserts s or refreshes the pending suggestion with the same
	// (list_context, asset_id, suggestion_type). Returns the stored record and whether it was created.
	UpsertPending(ctx context.Context, s models.SuggestionRecord) (models.SuggestionRecord, bool, error)
	Suggestions(ctx context.Context, wl models.ListContext, status models.SuggestionStatus) ([]models.SuggestionRecord, error)
	Suggestion(ctx context.Context, wl models.ListContext, id string) (*models.SuggestionRecord, error)
	// Decide transitions a pending suggestion atomically. On approve, plan is evaluated
	// against the tiers inside the same critical section and its change applied.
	Decide(ctx context.Context, wl models.ListContext, id string, verdict models.Verdict, decidedBy string, at time.Time, plan models.TierPlanner) (models.SuggestionRecord, error)
	// ExpirePending expires pending suggestions created before cutoff.
	ExpirePending(ctx context.Context, wl models.ListContext, cutoff time.Time) (int, error)
}

// SignalStore persists trading signals. Transition is compare-and-set on status.
type SignalStore interface {
	Save(ctx context.Context, s models.TradingSignal) error
	Get(ctx context.Context, id string) (*models.TradingSignal, error)
	Active(ctx context.Context) ([]models.TradingSignal, error)
	List(ctx context.Context, f models.SignalFilter) ([]models.TradingSignal, error)
	Transition(ctx context.Context, id string, from, to models.SignalStatus, at time.Time) (*models.TradingSignal, error)
	// ExpireDue moves active signals with expires_at <= now to expired.
	ExpireDue(ctx context.Context, now time.Time) ([]models.TradingSignal, error)
}

// TradeLedger is the append-only trade log plus derived positions.
type TradeLedger interface {
	Append(ctx context.Context, t models.Trade) (models.Trade, error)
	History(ctx context.Context, userID, assetID string) ([]models.Trade, error)
	SavePosition(ctx context.Context, p models.PortfolioPosition) error
	Position(ctx context.Context, userID, assetID string) (*models.PortfolioPosition, error)
	Positions(ctx context.Context, userID string) ([]models.PortfolioPosition, error)
}

// SignalPublisher notifies downstream collaborators of new signals. Failures are non-fatal.
type SignalPublisher interface {
	PublishSignal(ctx context.Context, s models.TradingSignal) error
	Close() error
}

type Metrics interface {
	RecordPass(layer, result string, seconds float64)
	RecordSkip(layer, reason string)
	RecordSnapshotAge(layer string, seconds float64)
	RecordSignal(outcome string)
	RecordSuggestion(kind, outcome string)
	RecordError(kind string)
	RecordLatency(op string, seconds float64)
}

package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"MarketCascade/internal/domain/models"
	"MarketCascade/internal/domain/repository"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

const tierColumns = `list_ctx, tier, asset_id, sector_id, entered_at, current_rank, last_score`

const suggestionColumns = `id, list_ctx, asset_id, sector_id, suggestion_type, score, confidence, rationale, reason,
	paired_with, status, created_at, updated_at, decided_at, decided_by, consumed`

type suggestionRow struct {
	ID             string     `db:"id"`
	ListContext    string     `db:"list_ctx"`
	AssetID        string     `db:"asset_id"`
	SectorID       string     `db:"sector_id"`
	SuggestionType string     `db:"suggestion_type"`
	Score          float64    `db:"score"`
	Confidence     float64    `db:"confidence"`
	Rationale      []byte     `db:"rationale"`
	Reason         string     `db:"reason"`
	PairedWith     string     `db:"paired_with"`
	Status         string     `db:"status"`
	CreatedAt      time.Time  `db:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at"`
	DecidedAt      *time.Time `db:"decided_at"`
	DecidedBy      *string    `db:"decided_by"`
	Consumed       []byte     `db:"consumed"`
}

func (r suggestionRow) model() (models.SuggestionRecord, error) {
	rec := models.SuggestionRecord{
		ID:             r.ID,
		ListContext:    models.ListContext(r.ListContext),
		AssetID:        r.AssetID,
		SectorID:       r.SectorID,
		SuggestionType: models.SuggestionType(r.SuggestionType),
		Score:          r.Score,
		Confidence:     r.Confidence,
		Reason:         r.Reason,
		PairedWith:     r.PairedWith,
		Status:         models.SuggestionStatus(r.Status),
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
		DecidedAt:      r.DecidedAt,
		DecidedBy:      r.DecidedBy,
	}
	if len(r.Rationale) > 0 {
		if err := json.Unmarshal(r.Rationale, &rec.Rationale); err != nil {
			return rec, fmt.Errorf("decode rationale of %s: %w", r.ID, err)
		}
	}
	if len(r.Consumed) > 0 {
		if err := json.Unmarshal(r.Consumed, &rec.Consumed); err != nil {
			return rec, fmt.Errorf("decode consumed of %s: %w", r.ID, err)
		}
	}
	return rec, nil
}

func jsonOrEmpty(v interface{}) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	if string(b) == "null" {
		return []byte("[]"), nil
	}
	return b, nil
}

// WatchlistRepo stores tiers and suggestions. Mutations that check capacity take a
// transaction-scoped advisory lock per list context.
type WatchlistRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

func NewWatchlistRepo(db *sqlx.DB, timeout time.Duration) *WatchlistRepo {
	return &WatchlistRepo{db: db, timeout: timeout}
}

var _ repository.WatchlistStore = (*WatchlistRepo)(nil)

func lockList(ctx context.Context, tx *sqlx.Tx, wl models.ListContext) error {
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, string(wl)); err != nil {
		return fmt.Errorf("lock list %s: %w", wl, err)
	}
	return nil
}

func (r *WatchlistRepo) Tiers(ctx context.Context, wl models.ListContext) ([]models.WatchlistTier, error) {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()
	var out []models.WatchlistTier
	q := `SELECT ` + tierColumns + ` FROM watchlist_tiers WHERE list_ctx = $1 ORDER BY tier, current_rank, asset_id`
	if err := r.db.SelectContext(ctx, &out, q, string(wl)); err != nil {
		return nil, fmt.Errorf("select tiers: %w", err)
	}
	return out, nil
}

func (r *WatchlistRepo) Tier(ctx context.Context, wl models.ListContext, tier models.Tier) ([]models.WatchlistTier, error) {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()
	var out []models.WatchlistTier
	q := `SELECT ` + tierColumns + ` FROM watchlist_tiers WHERE list_ctx = $1 AND tier = $2 ORDER BY current_rank, asset_id`
	if err := r.db.SelectContext(ctx, &out, q, string(wl), string(tier)); err != nil {
		return nil, fmt.Errorf("select tier %s: %w", tier, err)
	}
	return out, nil
}

func (r *WatchlistRepo) Discover(ctx context.Context, wl models.ListContext, t models.WatchlistTier, tier2Capacity int) error {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin discover: %w", err)
	}
	defer tx.Rollback()

	if err := lockList(ctx, tx, wl); err != nil {
		return err
	}
	var n int
	if err := tx.GetContext(ctx, &n, `SELECT count(*) FROM watchlist_tiers WHERE list_ctx = $1 AND tier = 'tier2'`, string(wl)); err != nil {
		return fmt.Errorf("count tier2: %w", err)
	}
	if n >= tier2Capacity {
		return fmt.Errorf("discover %s: %w", t.AssetID, models.ErrCapacityExceeded)
	}
	res, err := tx.ExecContext(ctx, `
		INSERT INTO watchlist_tiers (list_ctx, tier, asset_id, sector_id, entered_at, current_rank, last_score)
		VALUES ($1, 'tier2', $2, $3, $4, $5, $6)
		ON CONFLICT (list_ctx, asset_id) DO NOTHING`,
		string(wl), t.AssetID, t.SectorID, t.EnteredAt, n+1, t.LastScore)
	if err != nil {
		return fmt.Errorf("insert tier: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return fmt.Errorf("discover %s: %w", t.AssetID, models.ErrConflict)
	}
	return tx.Commit()
}

func (r *WatchlistRepo) UpdateScores(ctx context.Context, wl models.ListContext, scores map[string]float64) error {
	if len(scores) == 0 {
		return nil
	}
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin update scores: %w", err)
	}
	defer tx.Rollback()

	for asset, score := range scores {
		if _, err := tx.ExecContext(ctx,
			`UPDATE watchlist_tiers SET last_score = $3 WHERE list_ctx = $1 AND asset_id = $2`,
			string(wl), asset, score); err != nil {
			return fmt.Errorf("update score %s: %w", asset, err)
		}
	}
	if err := rerank(ctx, tx, wl); err != nil {
		return err
	}
	return tx.Commit()
}

func rerank(ctx context.Context, tx *sqlx.Tx, wl models.ListContext) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE watchlist_tiers w SET current_rank = r.rnk
		FROM (
			SELECT asset_id, ROW_NUMBER() OVER (PARTITION BY tier ORDER BY last_score DESC, asset_id) AS rnk
			FROM watchlist_tiers WHERE list_ctx = $1
		) r
		WHERE w.list_ctx = $1 AND w.asset_id = r.asset_id`, string(wl))
	if err != nil {
		return fmt.Errorf("rerank %s: %w", wl, err)
	}
	return nil
}

// UpsertPending relies on the partial unique index over pending rows: a refresh
// keeps id and created_at. xmax = 0 only for freshly inserted tuples.
func (r *WatchlistRepo) UpsertPending(ctx context.Context, s models.SuggestionRecord) (models.SuggestionRecord, bool, error) {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	if s.UpdatedAt.IsZero() {
		s.UpdatedAt = now
	}
	rationale, err := jsonOrEmpty(s.Rationale)
	if err != nil {
		return s, false, fmt.Errorf("encode rationale: %w", err)
	}
	consumed, err := jsonOrEmpty(s.Consumed)
	if err != nil {
		return s, false, fmt.Errorf("encode consumed: %w", err)
	}

	var inserted bool
	err = r.db.QueryRowxContext(ctx, `
		INSERT INTO suggestions (id, list_ctx, asset_id, sector_id, suggestion_type, score, confidence, rationale, reason,
			paired_with, status, created_at, updated_at, consumed)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 'pending', $11, $12, $13)
		ON CONFLICT (list_ctx, asset_id, suggestion_type) WHERE status = 'pending'
		DO UPDATE SET score = EXCLUDED.score, confidence = EXCLUDED.confidence, rationale = EXCLUDED.rationale,
			reason = EXCLUDED.reason, paired_with = COALESCE(NULLIF(EXCLUDED.paired_with, ''), suggestions.paired_with),
			sector_id = COALESCE(NULLIF(EXCLUDED.sector_id, ''), suggestions.sector_id),
			updated_at = EXCLUDED.updated_at, consumed = EXCLUDED.consumed
		RETURNING id, created_at, paired_with, (xmax = 0) AS inserted`,
		s.ID, string(s.ListContext), s.AssetID, s.SectorID, string(s.SuggestionType), s.Score, s.Confidence, rationale, s.Reason,
		s.PairedWith, s.CreatedAt, s.UpdatedAt, consumed,
	).Scan(&s.ID, &s.CreatedAt, &s.PairedWith, &inserted)
	if err != nil {
		if isUniqueViolation(err) {
			return s, false, conflict("upsert suggestion", err)
		}
		return s, false, fmt.Errorf("upsert suggestion: %w", err)
	}
	s.Status = models.StatusPending
	s.DecidedAt, s.DecidedBy = nil, nil
	return s, inserted, nil
}

func (r *WatchlistRepo) Suggestions(ctx context.Context, wl models.ListContext, status models.SuggestionStatus) ([]models.SuggestionRecord, error) {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()
	q := `SELECT ` + suggestionColumns + ` FROM suggestions WHERE list_ctx = $1`
	args := []interface{}{string(wl)}
	if status != "" {
		q += ` AND status = $2`
		args = append(args, string(status))
	}
	q += ` ORDER BY created_at, id`

	var rows []suggestionRow
	if err := r.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, fmt.Errorf("select suggestions: %w", err)
	}
	out := make([]models.SuggestionRecord, 0, len(rows))
	for _, row := range rows {
		rec, err := row.model()
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (r *WatchlistRepo) Suggestion(ctx context.Context, wl models.ListContext, id string) (*models.SuggestionRecord, error) {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()
	var row suggestionRow
	err := r.db.GetContext(ctx, &row, `SELECT `+suggestionColumns+` FROM suggestions WHERE list_ctx = $1 AND id = $2`, string(wl), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get suggestion: %w", err)
	}
	rec, err := row.model()
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// Decide locks the list and the suggestion row, evaluates plan against the tiers
// read inside the transaction and applies the change with the status update.
func (r *WatchlistRepo) Decide(ctx context.Context, wl models.ListContext, id string, verdict models.Verdict, decidedBy string, at time.Time, plan models.TierPlanner) (models.SuggestionRecord, error) {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.SuggestionRecord{}, fmt.Errorf("begin decide: %w", err)
	}
	defer tx.Rollback()

	if err := lockList(ctx, tx, wl); err != nil {
		return models.SuggestionRecord{}, err
	}
	var row suggestionRow
	err = tx.GetContext(ctx, &row, `SELECT `+suggestionColumns+` FROM suggestions WHERE list_ctx = $1 AND id = $2 FOR UPDATE`, string(wl), id)
	if errors.Is(err, sql.ErrNoRows) {
		return models.SuggestionRecord{}, models.ErrNotFound
	}
	if err != nil {
		return models.SuggestionRecord{}, fmt.Errorf("lock suggestion: %w", err)
	}
	rec, err := row.model()
	if err != nil {
		return rec, err
	}
	if rec.Status != models.StatusPending {
		return rec, fmt.Errorf("suggestion %s is %s: %w", id, rec.Status, models.ErrConflict)
	}

	var status models.SuggestionStatus
	var planErr error
	switch verdict {
	case models.VerdictReject:
		status = models.StatusRejected
	case models.VerdictApprove:
		var tiers []models.WatchlistTier
		if err := tx.SelectContext(ctx, &tiers, `SELECT `+tierColumns+` FROM watchlist_tiers WHERE list_ctx = $1`, string(wl)); err != nil {
			return rec, fmt.Errorf("select tiers: %w", err)
		}
		change, err := plan(rec, tiers)
		switch {
		case errors.Is(err, models.ErrNotApplicable):
			status, planErr = models.StatusExpired, err
		case err != nil:
			return rec, err
		default:
			if err := applyChange(ctx, tx, wl, change, at); err != nil {
				return rec, err
			}
			status = models.StatusApproved
		}
	default:
		return rec, models.InvalidArgument("unknown verdict %q", verdict)
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE suggestions SET status = $3, decided_at = $4, decided_by = $5, updated_at = $4
		WHERE list_ctx = $1 AND id = $2 AND status = 'pending'`,
		string(wl), id, string(status), at, decidedBy)
	if err != nil {
		return rec, fmt.Errorf("update suggestion: %w", err)
	}
	if n, _ := res.RowsAffected(); n != 1 {
		return rec, fmt.Errorf("suggestion %s: %w", id, models.ErrConflict)
	}
	if err := tx.Commit(); err != nil {
		return rec, fmt.Errorf("commit decide: %w", err)
	}

	rec.Status = status
	rec.UpdatedAt = at
	rec.DecidedAt = &at
	rec.DecidedBy = &decidedBy
	return rec, planErr
}

func applyChange(ctx context.Context, tx *sqlx.Tx, wl models.ListContext, ch models.TierChange, at time.Time) error {
	var err error
	if ch.To == models.Unlisted {
		_, err = tx.ExecContext(ctx, `DELETE FROM watchlist_tiers WHERE list_ctx = $1 AND asset_id = $2`, string(wl), ch.AssetID)
	} else {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO watchlist_tiers (list_ctx, tier, asset_id, sector_id, entered_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (list_ctx, asset_id) DO UPDATE SET tier = EXCLUDED.tier, entered_at = EXCLUDED.entered_at,
				sector_id = COALESCE(NULLIF(EXCLUDED.sector_id, ''), watchlist_tiers.sector_id)`,
			string(wl), string(ch.To), ch.AssetID, ch.SectorID, at)
	}
	if err != nil {
		return fmt.Errorf("apply %s -> %s for %s: %w", ch.From, ch.To, ch.AssetID, err)
	}
	return rerank(ctx, tx, wl)
}

func (r *WatchlistRepo) ExpirePending(ctx context.Context, wl models.ListContext, cutoff time.Time) (int, error) {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()
	res, err := r.db.ExecContext(ctx, `
		UPDATE suggestions SET status = 'expired', updated_at = now()
		WHERE list_ctx = $1 AND status = 'pending' AND created_at < $2`, string(wl), cutoff)
	if err != nil {
		return 0, fmt.Errorf("expire suggestions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("expire suggestions: %w", err)
	}
	return int(n), nil
}

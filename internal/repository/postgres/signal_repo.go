package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"MarketCascade/internal/domain/models"
	"MarketCascade/internal/domain/repository"

	"github.com/jmoiron/sqlx"
)

const signalColumns = `id, asset_id, sector_id, direction, entry_price, target_price, stop_price, confidence,
	risk_reward_ratio, status, generated_at, expires_at, executed_at, stale, consumed`

type signalRow struct {
	models.TradingSignal
	ConsumedJSON []byte `db:"consumed"`
}

func (r signalRow) model() (models.TradingSignal, error) {
	s := r.TradingSignal
	if len(r.ConsumedJSON) > 0 {
		if err := json.Unmarshal(r.ConsumedJSON, &s.Consumed); err != nil {
			return s, fmt.Errorf("decode consumed of signal %s: %w", s.ID, err)
		}
	}
	return s, nil
}

func signalModels(rows []signalRow) ([]models.TradingSignal, error) {
	out := make([]models.TradingSignal, 0, len(rows))
	for _, row := range rows {
		s, err := row.model()
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

type SignalRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

func NewSignalRepo(db *sqlx.DB, timeout time.Duration) *SignalRepo {
	return &SignalRepo{db: db, timeout: timeout}
}

var _ repository.SignalStore = (*SignalRepo)(nil)

func (r *SignalRepo) Save(ctx context.Context, s models.TradingSignal) error {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()
	consumed, err := jsonOrEmpty(s.Consumed)
	if err != nil {
		return fmt.Errorf("encode consumed: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO signals (`+signalColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		s.ID, s.AssetID, s.SectorID, string(s.Direction), s.EntryPrice, s.TargetPrice, s.StopPrice, s.Confidence,
		s.RiskRewardRatio, string(s.Status), s.GeneratedAt, s.ExpiresAt, s.ExecutedAt, s.Stale, consumed)
	if err != nil {
		if isUniqueViolation(err) {
			return conflict("save signal", err)
		}
		return fmt.Errorf("save signal: %w", err)
	}
	return nil
}

func (r *SignalRepo) Get(ctx context.Context, id string) (*models.TradingSignal, error) {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()
	var row signalRow
	err := r.db.GetContext(ctx, &row, `SELECT `+signalColumns+` FROM signals WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get signal: %w", err)
	}
	s, err := row.model()
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *SignalRepo) Active(ctx context.Context) ([]models.TradingSignal, error) {
	return r.List(ctx, models.SignalFilter{Status: models.SignalActive})
}

func (r *SignalRepo) List(ctx context.Context, f models.SignalFilter) ([]models.TradingSignal, error) {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()
	var (
		where []string
		args  []interface{}
	)
	if f.Status != "" {
		args = append(args, string(f.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if f.AssetID != "" {
		args = append(args, f.AssetID)
		where = append(where, fmt.Sprintf("asset_id = $%d", len(args)))
	}
	q := `SELECT ` + signalColumns + ` FROM signals`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY generated_at DESC, id`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		q += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	var rows []signalRow
	if err := r.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, fmt.Errorf("list signals: %w", err)
	}
	return signalModels(rows)
}

// Transition is a conditional update on status. A missed update is resolved into
// not-found or conflict by a follow-up read.
func (r *SignalRepo) Transition(ctx context.Context, id string, from, to models.SignalStatus, at time.Time) (*models.TradingSignal, error) {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()
	var row signalRow
	err := r.db.GetContext(ctx, &row, `
		UPDATE signals
		SET status = $3, executed_at = CASE WHEN $3 = 'executed' THEN $4 ELSE executed_at END
		WHERE id = $1 AND status = $2
		RETURNING `+signalColumns,
		id, string(from), string(to), at)
	if errors.Is(err, sql.ErrNoRows) {
		var exists bool
		if err := r.db.GetContext(ctx, &exists, `SELECT EXISTS (SELECT 1 FROM signals WHERE id = $1)`, id); err != nil {
			return nil, fmt.Errorf("transition signal: %w", err)
		}
		if !exists {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("signal %s not %s: %w", id, from, models.ErrConflict)
	}
	if err != nil {
		return nil, fmt.Errorf("transition signal: %w", err)
	}
	s, err := row.model()
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *SignalRepo) ExpireDue(ctx context.Context, now time.Time) ([]models.TradingSignal, error) {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()
	var rows []signalRow
	err := r.db.SelectContext(ctx, &rows, `
		UPDATE signals SET status = 'expired'
		WHERE status = 'active' AND expires_at <= $1
		RETURNING `+signalColumns, now)
	if err != nil {
		return nil, fmt.Errorf("expire signals: %w", err)
	}
	return signalModels(rows)
}

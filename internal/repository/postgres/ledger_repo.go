package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"MarketCascade/internal/domain/models"
	"MarketCascade/internal/domain/repository"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

const tradeColumns = `seq, id, user_id, asset_id, direction, quantity, price, fees, signal_id, executed_at`

const positionColumns = `user_id, asset_id, net_quantity, average_entry_price, total_invested, realized_pnl,
	fees_paid, trade_count, last_trade_at, updated_at`

// LedgerRepo is the append-only trade log. seq comes from a BIGSERIAL so ledger
// order is the insert order.
type LedgerRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

func NewLedgerRepo(db *sqlx.DB, timeout time.Duration) *LedgerRepo {
	return &LedgerRepo{db: db, timeout: timeout}
}

var _ repository.TradeLedger = (*LedgerRepo)(nil)

func (r *LedgerRepo) Append(ctx context.Context, t models.Trade) (models.Trade, error) {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	err := r.db.QueryRowxContext(ctx, `
		INSERT INTO trades (id, user_id, asset_id, direction, quantity, price, fees, signal_id, executed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING seq`,
		t.ID, t.UserID, t.AssetID, string(t.Direction), t.Quantity, t.Price, t.Fees, t.SignalID, t.ExecutedAt,
	).Scan(&t.Seq)
	if err != nil {
		if isUniqueViolation(err) {
			return t, conflict("append trade", err)
		}
		return t, fmt.Errorf("append trade: %w", err)
	}
	return t, nil
}

func (r *LedgerRepo) History(ctx context.Context, userID, assetID string) ([]models.Trade, error) {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()
	var out []models.Trade
	err := r.db.SelectContext(ctx, &out,
		`SELECT `+tradeColumns+` FROM trades WHERE user_id = $1 AND asset_id = $2 ORDER BY seq`, userID, assetID)
	if err != nil {
		return nil, fmt.Errorf("trade history: %w", err)
	}
	return out, nil
}

func (r *LedgerRepo) SavePosition(ctx context.Context, p models.PortfolioPosition) error {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO positions (`+positionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (user_id, asset_id) DO UPDATE SET
			net_quantity = EXCLUDED.net_quantity,
			average_entry_price = EXCLUDED.average_entry_price,
			total_invested = EXCLUDED.total_invested,
			realized_pnl = EXCLUDED.realized_pnl,
			fees_paid = EXCLUDED.fees_paid,
			trade_count = EXCLUDED.trade_count,
			last_trade_at = EXCLUDED.last_trade_at,
			updated_at = EXCLUDED.updated_at`,
		p.UserID, p.AssetID, p.NetQuantity, p.AverageEntryPrice, p.TotalInvested, p.RealizedPnL,
		p.FeesPaid, p.TradeCount, p.LastTradeAt, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save position: %w", err)
	}
	return nil
}

func (r *LedgerRepo) Position(ctx context.Context, userID, assetID string) (*models.PortfolioPosition, error) {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()
	var p models.PortfolioPosition
	err := r.db.GetContext(ctx, &p, `SELECT `+positionColumns+` FROM positions WHERE user_id = $1 AND asset_id = $2`, userID, assetID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get position: %w", err)
	}
	return &p, nil
}

func (r *LedgerRepo) Positions(ctx context.Context, userID string) ([]models.PortfolioPosition, error) {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()
	var out []models.PortfolioPosition
	if err := r.db.SelectContext(ctx, &out, `SELECT `+positionColumns+` FROM positions WHERE user_id = $1 ORDER BY asset_id`, userID); err != nil {
		return nil, fmt.Errorf("list positions: %w", err)
	}
	return out, nil
}

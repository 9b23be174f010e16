package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// Schema holds the relational state: watchlist tiers, the suggestion queue,
// trading signals, the trade ledger and derived positions.
var Schema = []string{
	`CREATE TABLE IF NOT EXISTS watchlist_tiers (
		list_ctx     TEXT NOT NULL,
		asset_id     TEXT NOT NULL,
		tier         TEXT NOT NULL CHECK (tier IN ('tier1', 'tier2')),
		sector_id    TEXT NOT NULL DEFAULT '',
		entered_at   TIMESTAMPTZ NOT NULL,
		current_rank INTEGER NOT NULL DEFAULT 0,
		last_score   DOUBLE PRECISION NOT NULL DEFAULT 0,
		PRIMARY KEY (list_ctx, asset_id)
	)`,
	`CREATE TABLE IF NOT EXISTS suggestions (
		id              TEXT PRIMARY KEY,
		list_ctx        TEXT NOT NULL,
		asset_id        TEXT NOT NULL,
		sector_id       TEXT NOT NULL DEFAULT '',
		suggestion_type TEXT NOT NULL,
		score           DOUBLE PRECISION NOT NULL,
		confidence      DOUBLE PRECISION NOT NULL,
		rationale       JSONB NOT NULL DEFAULT '[]',
		reason          TEXT NOT NULL DEFAULT '',
		paired_with     TEXT NOT NULL DEFAULT '',
		status          TEXT NOT NULL,
		created_at      TIMESTAMPTZ NOT NULL,
		updated_at      TIMESTAMPTZ NOT NULL,
		decided_at      TIMESTAMPTZ,
		decided_by      TEXT,
		consumed        JSONB NOT NULL DEFAULT '[]'
	)`,
	`ALTER TABLE suggestions ADD COLUMN IF NOT EXISTS sector_id TEXT NOT NULL DEFAULT ''`,
	`CREATE UNIQUE INDEX IF NOT EXISTS suggestions_one_pending
		ON suggestions (list_ctx, asset_id, suggestion_type) WHERE status = 'pending'`,
	`CREATE INDEX IF NOT EXISTS suggestions_by_status ON suggestions (list_ctx, status, created_at)`,
	`CREATE TABLE IF NOT EXISTS signals (
		id                TEXT PRIMARY KEY,
		asset_id          TEXT NOT NULL,
		sector_id         TEXT NOT NULL DEFAULT '',
		direction         TEXT NOT NULL,
		entry_price       DOUBLE PRECISION NOT NULL,
		target_price      DOUBLE PRECISION NOT NULL,
		stop_price        DOUBLE PRECISION NOT NULL,
		confidence        DOUBLE PRECISION NOT NULL,
		risk_reward_ratio DOUBLE PRECISION NOT NULL,
		status            TEXT NOT NULL,
		generated_at      TIMESTAMPTZ NOT NULL,
		expires_at        TIMESTAMPTZ NOT NULL,
		executed_at       TIMESTAMPTZ,
		stale             BOOLEAN NOT NULL DEFAULT FALSE,
		consumed          JSONB NOT NULL DEFAULT '[]'
	)`,
	`CREATE INDEX IF NOT EXISTS signals_active ON signals (status, expires_at)`,
	`CREATE TABLE IF NOT EXISTS trades (
		seq         BIGSERIAL PRIMARY KEY,
		id          TEXT NOT NULL UNIQUE,
		user_id     TEXT NOT NULL,
		asset_id    TEXT NOT NULL,
		direction   TEXT NOT NULL CHECK (direction IN ('buy', 'sell')),
		quantity    NUMERIC NOT NULL CHECK (quantity > 0),
		price       NUMERIC NOT NULL CHECK (price > 0),
		fees        NUMERIC NOT NULL DEFAULT 0,
		signal_id   TEXT,
		executed_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS trades_by_pair ON trades (user_id, asset_id, seq)`,
	`CREATE TABLE IF NOT EXISTS positions (
		user_id             TEXT NOT NULL,
		asset_id            TEXT NOT NULL,
		net_quantity        NUMERIC NOT NULL,
		average_entry_price NUMERIC NOT NULL,
		total_invested      NUMERIC NOT NULL,
		realized_pnl        NUMERIC NOT NULL,
		fees_paid           NUMERIC NOT NULL,
		trade_count         INTEGER NOT NULL,
		last_trade_at       TIMESTAMPTZ,
		updated_at          TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (user_id, asset_id)
	)`,
}

// Migrate applies Schema. Every statement is idempotent.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	for i, stmt := range Schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate statement %d: %w", i, err)
		}
	}
	return nil
}

package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"MarketCascade/internal/domain/models"
	domrepo "MarketCascade/internal/domain/repository"
	pkgch "MarketCascade/pkg/clickhouse"
	applogger "MarketCascade/pkg/logger"
)

// SnapshotSchema returns the DDL for the snapshot tables in database.
// Full records are kept as JSON in payload; the typed columns serve ordering and ad-hoc queries.
func SnapshotSchema(database string) []string {
	return []string{
		fmt.Sprintf(`CREATE DATABASE IF NOT EXISTS %s`, database),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.regime_snapshots (
			as_of DateTime64(3, 'UTC'),
			regime LowCardinality(String),
			confidence Float64,
			payload String
		) ENGINE = MergeTree ORDER BY as_of`, database),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.sector_snapshots (
			as_of DateTime64(3, 'UTC'),
			sector_id String,
			momentum_rank UInt32,
			leadership LowCardinality(String),
			payload String
		) ENGINE = MergeTree ORDER BY (as_of, sector_id)`, database),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.asset_snapshots (
			as_of DateTime64(3, 'UTC'),
			list_ctx LowCardinality(String),
			asset_id String,
			pos UInt32,
			score Float64,
			payload String
		) ENGINE = MergeTree ORDER BY (list_ctx, as_of, asset_id)`, database),
	}
}

// CHSnapshotStore implements SnapshotStore backed by ClickHouse. Monotonicity is
// checked against max(as_of); concurrent writers are serialized by the pass scheduler.
type CHSnapshotStore struct {
	db       *sql.DB
	database string
	l        *applogger.Logger
}

func NewCHSnapshotStore(ch *pkgch.Client) *CHSnapshotStore {
	return &CHSnapshotStore{db: ch.DB(), database: ch.Database()}
}

var _ domrepo.SnapshotStore = (*CHSnapshotStore)(nil)

// SetLogger injects a structured logger.
func (s *CHSnapshotStore) SetLogger(l *applogger.Logger) { s.l = l }

func (s *CHSnapshotStore) table(name string) string { return s.database + "." + name }

func (s *CHSnapshotStore) maxAsOf(ctx context.Context, table, where string, args ...interface{}) (time.Time, error) {
	var ts time.Time
	q := fmt.Sprintf(`SELECT max(as_of) FROM %s%s`, s.table(table), where)
	if err := s.db.QueryRowContext(ctx, q, args...).Scan(&ts); err != nil {
		return ts, fmt.Errorf("max as_of %s: %w", table, err)
	}
	return ts, nil
}

func (s *CHSnapshotStore) AppendRegime(ctx context.Context, snap models.RegimeSnapshot) error {
	last, err := s.maxAsOf(ctx, "regime_snapshots", "")
	if err != nil {
		return err
	}
	if !snap.AsOf.After(last) {
		return models.ErrNonMonotonic
	}
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode regime: %w", err)
	}
	q := fmt.Sprintf(`INSERT INTO %s (as_of, regime, confidence, payload) VALUES (?, ?, ?, ?)`, s.table("regime_snapshots"))
	if _, err := s.db.ExecContext(ctx, q, snap.AsOf.UTC(), string(snap.Regime), snap.Confidence, string(payload)); err != nil {
		s.logErr("append_regime", err)
		return fmt.Errorf("append regime: %w", err)
	}
	return nil
}

func (s *CHSnapshotStore) LatestRegime(ctx context.Context) (*models.RegimeSnapshot, error) {
	out, err := s.regimes(ctx, 1)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, models.ErrNotFound
	}
	return &out[0], nil
}

// RegimeHistory returns up to limit snapshots, newest first.
func (s *CHSnapshotStore) RegimeHistory(ctx context.Context, limit int) ([]models.RegimeSnapshot, error) {
	return s.regimes(ctx, limit)
}

func (s *CHSnapshotStore) regimes(ctx context.Context, limit int) ([]models.RegimeSnapshot, error) {
	q := fmt.Sprintf(`SELECT payload FROM %s ORDER BY as_of DESC`, s.table("regime_snapshots"))
	var args []interface{}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	var out []models.RegimeSnapshot
	err := s.scanPayloads(ctx, q, args, func(p []byte) error {
		var r models.RegimeSnapshot
		if err := json.Unmarshal(p, &r); err != nil {
			return err
		}
		out = append(out, r)
		return nil
	})
	if err != nil {
		s.logErr("regime_history", err)
		return nil, fmt.Errorf("regime history: %w", err)
	}
	return out, nil
}

func (s *CHSnapshotStore) AppendSectors(ctx context.Context, ss []models.SectorSnapshot) error {
	if len(ss) == 0 {
		return nil
	}
	last, err := s.maxAsOf(ctx, "sector_snapshots", "")
	if err != nil {
		return err
	}
	if !ss[0].AsOf.After(last) {
		return models.ErrNonMonotonic
	}
	values := make([]string, 0, len(ss))
	args := make([]interface{}, 0, len(ss)*5)
	for _, snap := range ss {
		payload, err := json.Marshal(snap)
		if err != nil {
			return fmt.Errorf("encode sector %s: %w", snap.SectorID, err)
		}
		values = append(values, "(?, ?, ?, ?, ?)")
		args = append(args, snap.AsOf.UTC(), snap.SectorID, uint32(snap.MomentumRank), string(snap.Leadership), string(payload))
	}
	q := fmt.Sprintf(`INSERT INTO %s (as_of, sector_id, momentum_rank, leadership, payload) VALUES %s`,
		s.table("sector_snapshots"), strings.Join(values, ","))
	if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
		s.logErr("append_sectors", err)
		return fmt.Errorf("append sectors: %w", err)
	}
	return nil
}

func (s *CHSnapshotStore) LatestSectors(ctx context.Context) ([]models.SectorSnapshot, error) {
	t := s.table("sector_snapshots")
	q := fmt.Sprintf(`SELECT payload FROM %s WHERE as_of = (SELECT max(as_of) FROM %s) ORDER BY momentum_rank, sector_id`, t, t)
	var out []models.SectorSnapshot
	err := s.scanPayloads(ctx, q, nil, func(p []byte) error {
		var snap models.SectorSnapshot
		if err := json.Unmarshal(p, &snap); err != nil {
			return err
		}
		out = append(out, snap)
		return nil
	})
	if err != nil {
		s.logErr("latest_sectors", err)
		return nil, fmt.Errorf("latest sectors: %w", err)
	}
	if len(out) == 0 {
		return nil, models.ErrNotFound
	}
	return out, nil
}

// AppendAssets writes one batch per list context; the latest as_of of a context wins on read.
func (s *CHSnapshotStore) AppendAssets(ctx context.Context, ss []models.AssetSnapshot) error {
	if len(ss) == 0 {
		return nil
	}
	values := make([]string, 0, len(ss))
	args := make([]interface{}, 0, len(ss)*6)
	for i, a := range ss {
		payload, err := json.Marshal(a)
		if err != nil {
			return fmt.Errorf("encode asset %s: %w", a.AssetID, err)
		}
		values = append(values, "(?, ?, ?, ?, ?, ?)")
		args = append(args, a.AsOf.UTC(), string(a.ListContext), a.AssetID, uint32(i), a.Score, string(payload))
	}
	q := fmt.Sprintf(`INSERT INTO %s (as_of, list_ctx, asset_id, pos, score, payload) VALUES %s`,
		s.table("asset_snapshots"), strings.Join(values, ","))
	if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
		s.logErr("append_assets", err)
		return fmt.Errorf("append assets: %w", err)
	}
	return nil
}

func (s *CHSnapshotStore) LatestAssets(ctx context.Context, wl models.ListContext) ([]models.AssetSnapshot, error) {
	t := s.table("asset_snapshots")
	q := fmt.Sprintf(`SELECT payload FROM %s
		WHERE list_ctx = ? AND as_of = (SELECT max(as_of) FROM %s WHERE list_ctx = ?)
		ORDER BY pos`, t, t)
	var out []models.AssetSnapshot
	err := s.scanPayloads(ctx, q, []interface{}{string(wl), string(wl)}, func(p []byte) error {
		var a models.AssetSnapshot
		if err := json.Unmarshal(p, &a); err != nil {
			return err
		}
		out = append(out, a)
		return nil
	})
	if err != nil {
		s.logErr("latest_assets", err)
		return nil, fmt.Errorf("latest assets: %w", err)
	}
	if len(out) == 0 {
		return nil, models.ErrNotFound
	}
	return out, nil
}

func (s *CHSnapshotStore) scanPayloads(ctx context.Context, q string, args []interface{}, fn func([]byte) error) error {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return fmt.Errorf("scan payload: %w", err)
		}
		if err := fn([]byte(payload)); err != nil {
			return fmt.Errorf("decode payload: %w", err)
		}
	}
	if err := rows.Err(); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return err
	}
	return nil
}

func (s *CHSnapshotStore) logErr(op string, err error) {
	if s.l != nil {
		s.l.Error("clickhouse snapshot store error", applogger.String("op", op), applogger.Error(err))
	}
}

package usecase

import (
	"context"
	"errors"
	"fmt"

	"MarketCascade/internal/domain/models"
	"MarketCascade/internal/services/sector"
	"MarketCascade/internal/services/watchlist"
	applogger "MarketCascade/pkg/logger"
)

// WatchlistPass scores the latest asset observations and plans tier changes for
// every configured list context. Contexts are independent: one failing does not
// stop the others.
func (c *Cascade) WatchlistPass(ctx context.Context) error {
	var errs []error
	for _, wl := range c.cfg.ListContexts {
		if err := c.watchlistPass(ctx, wl); err != nil {
			errs = append(errs, fmt.Errorf("list %s: %w", wl, err))
		}
		if ctx.Err() != nil {
			break
		}
	}
	return errors.Join(errs...)
}

func (c *Cascade) watchlistPass(ctx context.Context, wl models.ListContext) error {
	now := c.now()
	if c.cfg.SuggestionTTL > 0 {
		n, err := c.watchlist.ExpirePending(ctx, wl, now.Add(-c.cfg.SuggestionTTL))
		if err != nil {
			return fmt.Errorf("expire suggestions: %w", err)
		}
		for i := 0; i < n; i++ {
			c.metrics.RecordSuggestion("any", string(models.StatusExpired))
		}
	}

	bundle, err := c.inputs.LatestAssets(ctx)
	if errors.Is(err, models.ErrNotFound) {
		c.metrics.RecordSkip(models.LayerAsset, "no_input")
		return nil
	}
	if err != nil {
		return fmt.Errorf("latest assets: %w", err)
	}
	last, err := c.snapshots.LatestAssets(ctx, wl)
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		return fmt.Errorf("latest asset snapshots: %w", err)
	}
	if len(last) > 0 && !bundle.AsOf.After(last[0].AsOf) {
		c.metrics.RecordSkip(models.LayerAsset, "no_new_input")
		return nil
	}

	sectors, err := c.latestSectors(ctx)
	if err != nil {
		return fmt.Errorf("latest sectors: %w", err)
	}
	byID := sector.ByID(sectors)
	consumedBase := []models.ContextRef{{Layer: models.LayerAssetInput, Key: bundle.Source, AsOf: bundle.AsOf}}
	if len(sectors) > 0 {
		consumedBase = append(consumedBase, models.ContextRef{Layer: models.LayerSector, AsOf: sectors[0].AsOf})
		c.observeAge(models.LayerSector, sectors[0].AsOf, now, c.cfg.SectorFreshness)
	}

	scores := make(map[string]watchlist.Scored, len(bundle.Assets))
	for _, obs := range bundle.Assets {
		var sp *models.SectorSnapshot
		if s, ok := byID[obs.SectorID]; ok {
			sp = &s
		}
		scores[obs.AssetID] = c.engine.Score(obs, sp)
	}

	tiers, err := c.watchlist.Tiers(ctx, wl)
	if err != nil {
		return fmt.Errorf("tiers: %w", err)
	}
	pending, err := c.watchlist.Suggestions(ctx, wl, models.StatusPending)
	if err != nil {
		return fmt.Errorf("pending suggestions: %w", err)
	}
	plan := c.engine.Plan(watchlist.PlanInput{
		ListContext: wl,
		Now:         now,
		Tiers:       tiers,
		Scores:      scores,
		Pending:     pending,
	})

	if err := ctx.Err(); err != nil {
		return err
	}

	listed := make(map[string]models.Tier, len(tiers))
	for _, t := range tiers {
		listed[t.AssetID] = t.Tier
	}
	for _, d := range plan.Discoveries {
		err := c.watchlist.Discover(ctx, wl, d, c.engine.Config().Tier2Capacity)
		switch {
		case errors.Is(err, models.ErrConflict), errors.Is(err, models.ErrCapacityExceeded):
			c.metrics.RecordSuggestion("discovery", "skipped")
			continue
		case err != nil:
			return fmt.Errorf("discover %s: %w", d.AssetID, err)
		}
		listed[d.AssetID] = models.Tier2
		c.metrics.RecordSuggestion("discovery", "applied")
	}

	if err := c.upsertSuggestions(ctx, plan.Suggestions); err != nil {
		return err
	}

	memberScores := make(map[string]float64)
	for id, s := range scores {
		if listed[id] != models.Unlisted {
			memberScores[id] = s.Score
		}
	}
	if err := c.watchlist.UpdateScores(ctx, wl, memberScores); err != nil {
		return fmt.Errorf("update scores: %w", err)
	}

	snaps := make([]models.AssetSnapshot, 0, len(bundle.Assets))
	for _, obs := range bundle.Assets {
		s := scores[obs.AssetID]
		consumed := append([]models.ContextRef(nil), consumedBase...)
		snaps = append(snaps, models.AssetSnapshot{
			AsOf:        bundle.AsOf,
			ListContext: wl,
			AssetID:     obs.AssetID,
			SectorID:    obs.SectorID,
			Score:       s.Score,
			Factors:     s.Factors,
			Tier:        listed[obs.AssetID],
			Consumed:    consumed,
		})
	}
	if err := c.snapshots.AppendAssets(ctx, snaps); err != nil {
		return fmt.Errorf("append assets: %w", err)
	}
	if c.l != nil {
		c.l.Info("watchlist pass done",
			applogger.String("list_context", string(wl)),
			applogger.Int("scored", len(scores)),
			applogger.Int("discoveries", len(plan.Discoveries)),
			applogger.Int("suggestions", len(plan.Suggestions)),
		)
	}
	return nil
}

// upsertSuggestions stores planned suggestions. A refresh keeps the stored id, so
// paired_with links written with planned ids are rewritten to stored ids afterwards.
func (c *Cascade) upsertSuggestions(ctx context.Context, planned []models.SuggestionRecord) error {
	storedID := make(map[string]string, len(planned))
	stored := make([]models.SuggestionRecord, len(planned))
	for i, s := range planned {
		rec, created, err := c.watchlist.UpsertPending(ctx, s)
		if err != nil {
			return fmt.Errorf("upsert %s %s: %w", s.SuggestionType, s.AssetID, err)
		}
		storedID[s.ID] = rec.ID
		stored[i] = rec
		outcome := "refreshed"
		if created {
			outcome = "created"
		}
		c.metrics.RecordSuggestion(string(s.SuggestionType), outcome)
	}
	for i, s := range planned {
		if s.PairedWith == "" {
			continue
		}
		want, ok := storedID[s.PairedWith]
		if !ok {
			want = s.PairedWith
		}
		if stored[i].PairedWith == want {
			continue
		}
		s.PairedWith = want
		if _, _, err := c.watchlist.UpsertPending(ctx, s); err != nil {
			return fmt.Errorf("link %s %s: %w", s.SuggestionType, s.AssetID, err)
		}
	}
	return nil
}

package usecase

import (
	"context"
	"errors"
	"fmt"

	"MarketCascade/internal/domain/models"
	applogger "MarketCascade/pkg/logger"
)

// SectorPass ranks the newest sector flow bundle against the latest regime.
func (c *Cascade) SectorPass(ctx context.Context) error {
	bundle, err := c.inputs.LatestSectorFlows(ctx)
	if errors.Is(err, models.ErrNotFound) {
		c.metrics.RecordSkip(models.LayerSector, "no_input")
		return nil
	}
	if err != nil {
		return fmt.Errorf("latest sector flows: %w", err)
	}
	prev, err := c.latestSectors(ctx)
	if err != nil {
		return fmt.Errorf("latest sectors: %w", err)
	}
	if len(prev) > 0 && !bundle.AsOf.After(prev[0].AsOf) {
		c.metrics.RecordSkip(models.LayerSector, "no_new_input")
		return nil
	}

	now := c.now()
	regime, err := c.latestRegime(ctx)
	if err != nil {
		return fmt.Errorf("latest regime: %w", err)
	}
	if regime != nil && c.observeAge(models.LayerRegime, regime.AsOf, now, c.cfg.RegimeFreshness) {
		r := *regime
		r.Stale = true
		regime = &r
	}

	ss, err := c.analyzer.Analyze(*bundle, regime)
	if err != nil {
		return fmt.Errorf("analyze sectors: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := c.snapshots.AppendSectors(ctx, ss); err != nil {
		return fmt.Errorf("append sectors: %w", err)
	}
	if c.l != nil {
		leading := 0
		for _, s := range ss {
			if s.Leadership == models.LeadershipLeading {
				leading++
			}
		}
		c.l.Info("sectors published",
			applogger.Int("sectors", len(ss)),
			applogger.Int("leading", leading),
			applogger.Bool("stale", len(ss) > 0 && ss[0].Stale),
			applogger.Time("as_of", bundle.AsOf),
		)
	}
	return nil
}

package usecase

import (
	"context"
	"errors"
	"fmt"

	"MarketCascade/internal/domain/models"
	applogger "MarketCascade/pkg/logger"
	"MarketCascade/pkg/util"
)

// MacroPass classifies the newest macro bundle. When the bundle is incomplete the
// previous regime stays authoritative and its age is logged.
func (c *Cascade) MacroPass(ctx context.Context) error {
	window, err := c.inputs.MacroWindow(ctx, c.cfg.MacroWindow)
	if errors.Is(err, models.ErrNotFound) || len(window) == 0 {
		c.metrics.RecordSkip(models.LayerRegime, "no_input")
		return nil
	}
	if err != nil {
		return fmt.Errorf("macro window: %w", err)
	}
	current := window[len(window)-1]
	history := window[:len(window)-1]

	prev, err := c.latestRegime(ctx)
	if err != nil {
		return fmt.Errorf("latest regime: %w", err)
	}
	if prev != nil && !current.AsOf.After(prev.AsOf) {
		c.metrics.RecordSkip(models.LayerRegime, "no_new_input")
		return nil
	}

	snap, err := c.classifier.Classify(prev, current, history)
	if err != nil {
		if errors.Is(err, models.ErrIncompleteInput) && c.l != nil {
			fields := []applogger.Field{applogger.Error(err), applogger.Time("bundle_as_of", current.AsOf)}
			if prev != nil {
				fields = append(fields, applogger.Duration("previous_age", c.now().Sub(prev.AsOf)))
			}
			c.l.Warn("macro bundle incomplete, keeping previous regime", fields...)
		}
		return fmt.Errorf("classify regime: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := c.snapshots.AppendRegime(ctx, snap); err != nil {
		return fmt.Errorf("append regime: %w", err)
	}
	c.metrics.RecordSnapshotAge(models.LayerRegime, util.AgeSeconds(snap.AsOf, c.now()))
	if c.l != nil {
		c.l.Info("regime published",
			applogger.String("regime", string(snap.Regime)),
			applogger.Float64("confidence", snap.Confidence),
			applogger.Float64("composite", snap.CompositeScore),
			applogger.Time("as_of", snap.AsOf),
		)
	}
	return nil
}

package usecase

import (
	"context"
	"errors"
	"fmt"

	"MarketCascade/internal/domain/models"
	"MarketCascade/internal/services/sector"
	applogger "MarketCascade/pkg/logger"
)

func activeKey(assetID string, d models.Direction) string { return assetID + "|" + string(d) }

// SignalPass evaluates every tier1 member of the signal list context. At most one
// active signal exists per asset and direction.
func (c *Cascade) SignalPass(ctx context.Context) error {
	now := c.now()
	regime, err := c.latestRegime(ctx)
	if err != nil {
		return fmt.Errorf("latest regime: %w", err)
	}
	if regime == nil {
		c.metrics.RecordSkip(models.LayerSignal, "no_regime")
		return nil
	}
	regimeStale := regime.Stale || c.observeAge(models.LayerRegime, regime.AsOf, now, c.cfg.RegimeFreshness)

	sectors, err := c.latestSectors(ctx)
	if err != nil {
		return fmt.Errorf("latest sectors: %w", err)
	}
	byID := sector.ByID(sectors)

	members, err := c.watchlist.Tier(ctx, c.cfg.SignalListContext, models.Tier1)
	if err != nil {
		return fmt.Errorf("tier1: %w", err)
	}
	active, err := c.signals.Active(ctx)
	if err != nil {
		return fmt.Errorf("active signals: %w", err)
	}
	open := make(map[string]bool, len(active))
	for _, s := range active {
		if !s.ExpiredAt(now) {
			open[activeKey(s.AssetID, s.Direction)] = true
		}
	}

	generated := 0
	for _, m := range members {
		bars, err := c.inputs.RecentBars(ctx, m.AssetID)
		if errors.Is(err, models.ErrNotFound) {
			c.metrics.RecordSignal(models.ReasonInsufficientBars)
			continue
		}
		if err != nil {
			return fmt.Errorf("bars %s: %w", m.AssetID, err)
		}

		stale := regimeStale || c.observeAge(models.LayerBars, bars.AsOf, now, c.cfg.BarsFreshness)
		var sp *models.SectorSnapshot
		if s, ok := byID[m.SectorID]; ok {
			sp = &s
			stale = stale || s.Stale || models.Freshness{Bound: c.cfg.SectorFreshness}.Stale(s.AsOf, now)
		}

		out, err := c.generator.Generate(models.SignalInput{
			Tier:   m,
			Regime: *regime,
			Sector: sp,
			Bars:   *bars,
			Now:    now,
			Stale:  stale,
		})
		if err != nil {
			c.logInvariant(err)
			continue
		}
		if out.Signal == nil {
			c.metrics.RecordSignal(out.Reason)
			continue
		}
		sig := *out.Signal
		key := activeKey(sig.AssetID, sig.Direction)
		if open[key] {
			c.metrics.RecordSignal("duplicate")
			continue
		}

		if err := ctx.Err(); err != nil {
			return err
		}
		if err := c.signals.Save(ctx, sig); err != nil {
			return fmt.Errorf("save signal %s: %w", sig.AssetID, err)
		}
		open[key] = true
		generated++
		c.metrics.RecordSignal("generated")
		if c.publisher != nil {
			if err := c.publisher.PublishSignal(ctx, sig); err != nil {
				c.metrics.RecordError("publish_signal")
				if c.l != nil {
					c.l.Warn("signal publish failed", applogger.String("signal_id", sig.ID), applogger.Error(err))
				}
			}
		}
		if c.l != nil {
			c.l.Info("signal generated",
				applogger.String("signal_id", sig.ID),
				applogger.String("asset_id", sig.AssetID),
				applogger.String("direction", string(sig.Direction)),
				applogger.Float64("entry", sig.EntryPrice),
				applogger.Float64("confidence", sig.Confidence),
				applogger.Bool("stale", sig.Stale),
			)
		}
	}
	if c.l != nil {
		c.l.Debug("signal pass done", applogger.Int("members", len(members)), applogger.Int("generated", generated))
	}
	return nil
}

// ExpirySweep moves due active signals to expired.
func (c *Cascade) ExpirySweep(ctx context.Context) error {
	expired, err := c.signals.ExpireDue(ctx, c.now())
	if err != nil {
		return fmt.Errorf("expire signals: %w", err)
	}
	for range expired {
		c.metrics.RecordSignal(string(models.SignalExpired))
	}
	if len(expired) > 0 && c.l != nil {
		c.l.Info("signals expired", applogger.Int("count", len(expired)))
	}
	return nil
}

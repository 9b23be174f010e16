package timing

import (
	"math"
	"time"

	"MarketCascade/internal/domain/models"
	domsvc "MarketCascade/internal/domain/service"
	"MarketCascade/internal/services/features"

	"github.com/google/uuid"
)

type Config struct {
	MomentumLookback int
	MinMomentum      float64
	ATRPeriod        int
	ATRMultiple      float64
	TargetRR         float64
	MinRR            float64
	TTL              time.Duration
	// SectorFlowScale is the |flow_score| at which sector strength saturates.
	SectorFlowScale float64
}

func DefaultConfig() Config {
	return Config{
		MomentumLookback: 12,
		MinMomentum:      0.005,
		ATRPeriod:        14,
		ATRMultiple:      1.5,
		TargetRR:         2.0,
		MinRR:            1.5,
		TTL:              30 * time.Minute,
		SectorFlowScale:  0.1,
	}
}

// Generator is the pure Layer 4 timing signal generator.
type Generator struct {
	cfg   Config
	newID func() string
}

func NewGenerator(cfg Config) *Generator {
	d := DefaultConfig()
	if cfg.MomentumLookback <= 0 {
		cfg.MomentumLookback = d.MomentumLookback
	}
	if cfg.ATRPeriod <= 0 {
		cfg.ATRPeriod = d.ATRPeriod
	}
	if cfg.ATRMultiple <= 0 {
		cfg.ATRMultiple = d.ATRMultiple
	}
	if cfg.TargetRR <= 0 {
		cfg.TargetRR = d.TargetRR
	}
	if cfg.MinRR <= 0 {
		cfg.MinRR = d.MinRR
	}
	if cfg.TTL <= 0 {
		cfg.TTL = d.TTL
	}
	if cfg.SectorFlowScale <= 0 {
		cfg.SectorFlowScale = d.SectorFlowScale
	}
	return &Generator{cfg: cfg, newID: uuid.NewString}
}

var _ domsvc.SignalGenerator = (*Generator)(nil)

// Generate emits at most one signal. A discarded candidate returns an Outcome with a
// Reason and no error; only a price-ordering violation is an error.
func (g *Generator) Generate(in models.SignalInput) (models.SignalOutcome, error) {
	regimeSign := in.Regime.Regime.Sign()
	if regimeSign == 0 {
		return discard(models.ReasonNoRegimeDirection), nil
	}
	if in.Sector == nil {
		return discard(models.ReasonNoSector), nil
	}
	bars := in.Bars.Bars
	if len(bars) <= g.cfg.MomentumLookback || len(bars) < g.cfg.ATRPeriod {
		return discard(models.ReasonInsufficientBars), nil
	}

	mom, ok := features.Momentum(bars, g.cfg.MomentumLookback)
	if !ok || math.Abs(mom) < g.cfg.MinMomentum {
		out := discard(models.ReasonWeakMomentum)
		out.Momentum = mom
		return out, nil
	}
	dir := models.Long
	if mom < 0 {
		dir = models.Short
	}
	if in.Sector.FlowSign() != dir.Sign() {
		return withMomentum(discard(models.ReasonSectorMismatch), mom), nil
	}
	if regimeSign != dir.Sign() {
		return withMomentum(discard(models.ReasonRegimeMismatch), mom), nil
	}

	atr := features.AverageTrueRange(bars, g.cfg.ATRPeriod)
	if atr <= 0 {
		return withMomentum(discard(models.ReasonZeroATR), mom), nil
	}

	entry := bars[len(bars)-1].Close
	dist := g.cfg.ATRMultiple * atr
	side := float64(dir.Sign())
	stop := entry - side*dist
	target := entry + side*g.cfg.TargetRR*dist
	if dir == models.Long && stop <= 0 {
		out := withMomentum(discard(models.ReasonNonPositiveStop), mom)
		out.ATR = atr
		return out, nil
	}
	if dir == models.Short && target <= 0 {
		out := withMomentum(discard(models.ReasonNonPositiveTarget), mom)
		out.ATR = atr
		return out, nil
	}
	rr := models.RiskReward(entry, target, stop)
	if rr < g.cfg.MinRR {
		out := withMomentum(discard(models.ReasonLowRiskReward), mom)
		out.ATR = atr
		return out, nil
	}

	sig := models.TradingSignal{
		ID:              g.newID(),
		AssetID:         in.Tier.AssetID,
		SectorID:        in.Sector.SectorID,
		Direction:       dir,
		EntryPrice:      entry,
		TargetPrice:     target,
		StopPrice:       stop,
		Confidence:      g.confidence(in, mom, bars),
		RiskRewardRatio: rr,
		Status:          models.SignalActive,
		GeneratedAt:     in.Now,
		ExpiresAt:       in.Now.Add(g.cfg.TTL),
		Consumed: []models.ContextRef{
			{Layer: models.LayerRegime, Key: string(in.Regime.Regime), AsOf: in.Regime.AsOf},
			{Layer: models.LayerSector, Key: in.Sector.SectorID, AsOf: in.Sector.AsOf},
			{Layer: models.LayerBars, Key: in.Bars.AssetID, AsOf: in.Bars.AsOf},
		},
		Stale: in.Stale,
	}
	if err := sig.Validate(); err != nil {
		return models.SignalOutcome{Momentum: mom, ATR: atr}, err
	}
	return models.SignalOutcome{Signal: &sig, Momentum: mom, ATR: atr}, nil
}

// confidence = 0.5*regime + 0.25*sector strength + 0.25*momentum strength.
func (g *Generator) confidence(in models.SignalInput, mom float64, bars []models.Bar) float64 {
	sectorStrength := features.Clamp(math.Abs(in.Sector.FlowScore)/g.cfg.SectorFlowScale, 0, 1)
	return features.Clamp(0.5*in.Regime.Confidence+0.25*sectorStrength+0.25*g.momentumStrength(mom, bars), 0, 1)
}

// momentumStrength compares the move to two standard deviations of a random walk
// over the lookback. A perfectly smooth series saturates at 1.
func (g *Generator) momentumStrength(mom float64, bars []models.Bar) float64 {
	sigma := features.RealizedVolatility(features.LogReturns(bars), g.cfg.MomentumLookback, 1)
	if sigma == 0 {
		return 1
	}
	return features.Clamp(math.Abs(mom)/(2*sigma*math.Sqrt(float64(g.cfg.MomentumLookback))), 0, 1)
}

func discard(reason string) models.SignalOutcome {
	return models.SignalOutcome{Reason: reason}
}

func withMomentum(o models.SignalOutcome, mom float64) models.SignalOutcome {
	o.Momentum = mom
	return o
}

package regime

import (
	"math"
	"sort"

	"MarketCascade/internal/domain/models"
	domsvc "MarketCascade/internal/domain/service"
	"MarketCascade/internal/services/features"
)

// Config tunes the classifier. Zero values fall back to DefaultConfig.
type Config struct {
	// Window is the number of trailing bundles the deltas are measured against.
	Window int
	// HysteresisMargin widens the previous band; a negative margin turns hysteresis off.
	HysteresisMargin float64
	// PersistenceBoost scales the stay probability by (1 + boost*trend/10).
	PersistenceBoost float64
	VolatileEnter    float64
	VolatileMargin   float64
	// BearUpper and BullLower split the composite into bear | neutral | bull.
	BearUpper float64
	BullLower float64
	Weights   map[string]float64
	Scales    map[string]float64
}

// Signed weights: a rise in sentiment is bullish, a rise in the others is not.
var defaultWeights = map[string]float64{
	models.IndicatorSentiment:           0.35,
	models.IndicatorStablecoinDominance: -0.25,
	models.IndicatorBTCDominance:        -0.15,
	models.IndicatorVolatility:          -0.15,
	models.IndicatorEquityCorrelation:   -0.10,
}

// Delta magnitude that saturates each indicator's contribution.
var defaultScales = map[string]float64{
	models.IndicatorSentiment:           20,
	models.IndicatorStablecoinDominance: 1,
	models.IndicatorBTCDominance:        2,
	models.IndicatorVolatility:          0.3,
	models.IndicatorEquityCorrelation:   0.3,
}

func DefaultConfig() Config {
	return Config{
		Window:           12,
		HysteresisMargin: 0.05,
		PersistenceBoost: 0.5,
		VolatileEnter:    1.0,
		VolatileMargin:   0.1,
		BearUpper:        -0.2,
		BullLower:        0.2,
		Weights:          defaultWeights,
		Scales:           defaultScales,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Window <= 0 {
		c.Window = d.Window
	}
	switch {
	case c.HysteresisMargin == 0:
		c.HysteresisMargin = d.HysteresisMargin
	case c.HysteresisMargin < 0:
		c.HysteresisMargin = 0
	}
	if c.PersistenceBoost <= 0 {
		c.PersistenceBoost = d.PersistenceBoost
	}
	if c.VolatileEnter <= 0 {
		c.VolatileEnter = d.VolatileEnter
	}
	if c.VolatileMargin <= 0 {
		c.VolatileMargin = d.VolatileMargin
	}
	if c.BearUpper == 0 && c.BullLower == 0 {
		c.BearUpper, c.BullLower = d.BearUpper, d.BullLower
	}
	if len(c.Weights) == 0 {
		c.Weights = d.Weights
	}
	if len(c.Scales) == 0 {
		c.Scales = d.Scales
	}
	return c
}

// Rows of the base transition matrix. The stay entry is boosted by trend strength.
var baseTransitions = map[models.Regime]map[models.Regime]float64{
	models.RegimeBull:     {models.RegimeBull: 0.80, models.RegimeNeutral: 0.12, models.RegimeBear: 0.03, models.RegimeVolatile: 0.05},
	models.RegimeBear:     {models.RegimeBull: 0.04, models.RegimeNeutral: 0.15, models.RegimeBear: 0.75, models.RegimeVolatile: 0.06},
	models.RegimeNeutral:  {models.RegimeBull: 0.12, models.RegimeNeutral: 0.70, models.RegimeBear: 0.10, models.RegimeVolatile: 0.08},
	models.RegimeVolatile: {models.RegimeBull: 0.10, models.RegimeNeutral: 0.20, models.RegimeBear: 0.15, models.RegimeVolatile: 0.55},
}

// Classifier is a pure Layer 1 regime classifier.
type Classifier struct {
	cfg Config
}

func NewClassifier(cfg Config) *Classifier {
	return &Classifier{cfg: cfg.withDefaults()}
}

var _ domsvc.RegimeClassifier = (*Classifier)(nil)

// Classify computes the regime for current. prev is the last published snapshot (nil on
// cold start) and drives hysteresis. A bundle with missing or non-finite required
// indicators yields *models.IncompleteInputError and no snapshot.
func (c *Classifier) Classify(prev *models.RegimeSnapshot, current models.MacroBundle, history []models.MacroBundle) (models.RegimeSnapshot, error) {
	if missing := current.MissingIndicators(); len(missing) > 0 {
		return models.RegimeSnapshot{}, &models.IncompleteInputError{Source: sourceOf(current), Missing: missing}
	}

	window := trailing(history, current, c.cfg.Window)
	contrib, score := c.composite(current, window)
	vol := current.Indicators[models.IndicatorVolatility]

	var (
		regime     models.Regime
		confidence float64
		gated      bool
	)
	if c.volatileGate(prev, vol) {
		regime, gated = models.RegimeVolatile, true
		confidence = features.Clamp((vol-c.cfg.VolatileEnter)/c.cfg.VolatileEnter, 0, 1)
	} else {
		regime = c.band(prev, score)
		confidence = c.bandConfidence(regime, score)
	}

	trend := features.Clamp(math.Abs(score)*10, 0, 10)
	snap := models.RegimeSnapshot{
		AsOf:                    current.AsOf,
		Regime:                  regime,
		Confidence:              confidence,
		RiskLevel:               riskLevel(vol, regime),
		TrendStrength:           trend,
		TransitionProbabilities: c.transitions(regime, trend),
		Drivers:                 drivers(contrib, gated),
		CompositeScore:          score,
		Consumed: []models.ContextRef{
			{Layer: models.LayerMacroInput, Key: current.Source, AsOf: current.AsOf},
		},
	}
	return snap, nil
}

func sourceOf(b models.MacroBundle) string {
	if b.Source == "" {
		return "macro"
	}
	return b.Source
}

// trailing returns up to n bundles strictly older than current, oldest first.
func trailing(history []models.MacroBundle, current models.MacroBundle, n int) []models.MacroBundle {
	out := make([]models.MacroBundle, 0, len(history))
	for _, h := range history {
		if h.AsOf.Before(current.AsOf) {
			out = append(out, h)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].AsOf.Before(out[j].AsOf) })
	if len(out) > n {
		out = out[len(out)-n:]
	}
	return out
}

// composite returns per-indicator contributions and their normalized sum in [-1, 1].
func (c *Classifier) composite(current models.MacroBundle, window []models.MacroBundle) (map[string]float64, float64) {
	// summed in key order so the score is reproducible
	keys := make([]string, 0, len(c.cfg.Weights))
	totalW := 0.0
	for key := range c.cfg.Weights {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		totalW += math.Abs(c.cfg.Weights[key])
	}
	contrib := make(map[string]float64, len(keys))
	if totalW == 0 {
		return contrib, 0
	}
	score := 0.0
	for _, key := range keys {
		w := c.cfg.Weights[key]
		cur, ok := current.Indicators[key]
		if !ok || !features.Finite(cur) {
			continue
		}
		delta := cur - trailingMean(window, key, cur)
		scale := c.cfg.Scales[key]
		if scale <= 0 {
			scale = 1
		}
		v := w * features.Clamp(delta/scale, -1, 1) / totalW
		contrib[key] = v
		score += v
	}
	return contrib, features.Clamp(score, -1, 1)
}

// trailingMean averages key over window. With no usable history the delta is zero.
func trailingMean(window []models.MacroBundle, key string, fallback float64) float64 {
	xs := make([]float64, 0, len(window))
	for _, b := range window {
		if v, ok := b.Indicators[key]; ok && features.Finite(v) {
			xs = append(xs, v)
		}
	}
	if len(xs) == 0 {
		return fallback
	}
	return features.Mean(xs)
}

// volatileGate enters at VolatileEnter and only exits once volatility drops below
// VolatileEnter - VolatileMargin.
func (c *Classifier) volatileGate(prev *models.RegimeSnapshot, vol float64) bool {
	if vol >= c.cfg.VolatileEnter {
		return true
	}
	return prev != nil && prev.Regime == models.RegimeVolatile && vol >= c.cfg.VolatileEnter-c.cfg.VolatileMargin
}

func (c *Classifier) rawBand(score float64) models.Regime {
	switch {
	case score < c.cfg.BearUpper:
		return models.RegimeBear
	case score < c.cfg.BullLower:
		return models.RegimeNeutral
	default:
		return models.RegimeBull
	}
}

// bounds returns [lower, upper) of a band regime.
func (c *Classifier) bounds(r models.Regime) (float64, float64) {
	switch r {
	case models.RegimeBear:
		return -1, c.cfg.BearUpper
	case models.RegimeBull:
		return c.cfg.BullLower, 1
	default:
		return c.cfg.BearUpper, c.cfg.BullLower
	}
}

// band applies hysteresis: the previous band regime holds while the score stays
// within its bounds widened by the margin.
func (c *Classifier) band(prev *models.RegimeSnapshot, score float64) models.Regime {
	raw := c.rawBand(score)
	if prev == nil || prev.Regime == models.RegimeVolatile || prev.Regime == raw {
		return raw
	}
	lo, hi := c.bounds(prev.Regime)
	m := c.cfg.HysteresisMargin
	if score >= lo-m && score < hi+m {
		return prev.Regime
	}
	return raw
}

// bandConfidence is the distance to the nearest interior boundary, normalized by
// the band width (outer bands) or half-width (inner band).
func (c *Classifier) bandConfidence(r models.Regime, score float64) float64 {
	switch r {
	case models.RegimeBull:
		return features.Clamp((score-c.cfg.BullLower)/(1-c.cfg.BullLower), 0, 1)
	case models.RegimeBear:
		return features.Clamp((c.cfg.BearUpper-score)/(c.cfg.BearUpper+1), 0, 1)
	default:
		half := (c.cfg.BullLower - c.cfg.BearUpper) / 2
		if half <= 0 {
			return 0
		}
		d := math.Min(score-c.cfg.BearUpper, c.cfg.BullLower-score)
		return features.Clamp(d/half, 0, 1)
	}
}

func riskLevel(vol float64, r models.Regime) models.RiskLevel {
	var lvl models.RiskLevel
	switch {
	case vol < 0.4:
		lvl = models.RiskLow
	case vol < 0.7:
		lvl = models.RiskMedium
	case vol < 1.0:
		lvl = models.RiskHigh
	default:
		lvl = models.RiskExtreme
	}
	if r == models.RegimeBear || r == models.RegimeVolatile {
		lvl = lvl.Raise()
	}
	return lvl
}

// transitions returns all four probabilities, summing to 1.
func (c *Classifier) transitions(r models.Regime, trend float64) map[models.Regime]float64 {
	row := baseTransitions[r]
	out := make(map[models.Regime]float64, len(models.AllRegimes))
	sum := 0.0
	for _, to := range models.AllRegimes {
		p := row[to]
		if to == r {
			p *= 1 + c.cfg.PersistenceBoost*trend/10
		}
		out[to] = p
		sum += p
	}
	for k := range out {
		out[k] /= sum
	}
	return out
}

// drivers orders indicators by |contribution| desc then name; volatility leads when the gate decided.
func drivers(contrib map[string]float64, gated bool) []string {
	keys := make([]string, 0, len(contrib))
	for k := range contrib {
		if gated && k == models.IndicatorVolatility {
			continue
		}
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		ai, aj := math.Abs(contrib[keys[i]]), math.Abs(contrib[keys[j]])
		if ai != aj {
			return ai > aj
		}
		return keys[i] < keys[j]
	})
	if gated {
		keys = append([]string{models.IndicatorVolatility}, keys...)
	}
	return keys
}

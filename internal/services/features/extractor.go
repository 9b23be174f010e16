package features

import (
	"math"

	"MarketCascade/internal/domain/models"
)

// LogReturns computes r_t = ln(C_t / C_{t-1}).
// It returns a slice of length len(bars)-1, or nil if insufficient data.
func LogReturns(bars []models.Bar) []float64 {
	if len(bars) < 2 {
		return nil
	}
	out := make([]float64, 0, len(bars)-1)
	for i := 1; i < len(bars); i++ {
		prev := bars[i-1].Close
		cur := bars[i].Close
		if prev <= 0 || cur <= 0 {
			out = append(out, 0)
			continue
		}
		out = append(out, math.Log(cur/prev))
	}
	return out
}

// RealizedVolatility computes the sample standard deviation of the last window
// returns, scaled by sqrt(periodsPerUnit). Pass 1 for per-bar sigma.
func RealizedVolatility(logReturns []float64, window int, periodsPerUnit float64) float64 {
	if window <= 1 || len(logReturns) < window {
		return 0
	}
	tail := logReturns[len(logReturns)-window:]
	mean := Mean(tail)
	// two passes: sum2 - n*mean^2 cancels badly for near-constant returns
	ss := 0.0
	for _, r := range tail {
		d := r - mean
		ss += d * d
	}
	variance := ss / float64(window-1)
	return math.Sqrt(variance * periodsPerUnit)
}

// TrueRange of bar i given the previous close. The first bar uses high-low.
func TrueRange(bars []models.Bar, i int) float64 {
	b := bars[i]
	hl := b.High - b.Low
	if i == 0 {
		return hl
	}
	pc := bars[i-1].Close
	return math.Max(hl, math.Max(math.Abs(b.High-pc), math.Abs(b.Low-pc)))
}

// AverageTrueRange is the simple mean of the last period true ranges.
// It returns 0 when fewer than period bars are available.
func AverageTrueRange(bars []models.Bar, period int) float64 {
	if period <= 0 || len(bars) < period {
		return 0
	}
	sum := 0.0
	for i := len(bars) - period; i < len(bars); i++ {
		sum += TrueRange(bars, i)
	}
	return sum / float64(period)
}

// Momentum is the simple return over lookback bars ending at the last close.
// ok is false when there are not enough bars or the base close is non-positive.
func Momentum(bars []models.Bar, lookback int) (float64, bool) {
	if lookback <= 0 || len(bars) <= lookback {
		return 0, false
	}
	base := bars[len(bars)-1-lookback].Close
	if base <= 0 {
		return 0, false
	}
	return bars[len(bars)-1].Close/base - 1, true
}

// VolumeSpike maps volume/avg onto [0,1]: 1x or less is 0, cap-x or more is 1.
func VolumeSpike(volume, avg, cap float64) float64 {
	if avg <= 0 || cap <= 1 {
		return 0
	}
	return Clamp((volume/avg-1)/(cap-1), 0, 1)
}

// Clamp bounds v to [lo, hi].
func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Mean of xs; 0 for an empty slice.
func Mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	s := 0.0
	for _, x := range xs {
		s += x
	}
	return s / float64(len(xs))
}

// Finite reports whether v is neither NaN nor infinite.
func Finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

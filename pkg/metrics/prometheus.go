package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	passesTotal   *prometheus.CounterVec
	passDuration  *prometheus.HistogramVec
	skipsTotal    *prometheus.CounterVec
	snapshotAge   *prometheus.GaugeVec
	signalsTotal  *prometheus.CounterVec
	suggestsTotal *prometheus.CounterVec
	errorsTotal   *prometheus.CounterVec
	latency       *prometheus.HistogramVec
}

// New creates a recorder registered on the default Prometheus registry.
func New() *Recorder {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry registers the collectors on reg. Tests pass a fresh prometheus.NewRegistry().
func NewWithRegistry(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		passesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cascade_pass_runs_total",
				Help: "Total number of layer pass runs by result",
			},
			[]string{"layer", "result"},
		),
		passDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cascade_pass_duration_seconds",
				Help:    "Duration of layer passes in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60},
			},
			[]string{"layer"},
		),
		skipsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cascade_pass_skips_total",
				Help: "Total number of skipped pass triggers",
			},
			[]string{"layer", "reason"},
		),
		snapshotAge: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "cascade_snapshot_age_seconds",
				Help: "Age of the latest consumed snapshot per layer",
			},
			[]string{"layer"},
		),
		signalsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cascade_signal_outcomes_total",
				Help: "Timing signal outcomes (emitted, discarded reasons, lifecycle)",
			},
			[]string{"outcome"},
		),
		suggestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cascade_suggestions_total",
				Help: "Watchlist suggestion outcomes by type",
			},
			[]string{"type", "outcome"},
		),
		errorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cascade_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		latency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cascade_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}
}

// RecordPass records one completed pass run.
func (r *Recorder) RecordPass(layer, result string, seconds float64) {
	r.passesTotal.WithLabelValues(layer, result).Inc()
	r.passDuration.WithLabelValues(layer).Observe(seconds)
}

// RecordSkip records a trigger that did not start a run.
func (r *Recorder) RecordSkip(layer, reason string) {
	r.skipsTotal.WithLabelValues(layer, reason).Inc()
}

func (r *Recorder) RecordSnapshotAge(layer string, seconds float64) {
	r.snapshotAge.WithLabelValues(layer).Set(seconds)
}

func (r *Recorder) RecordSignal(outcome string) {
	r.signalsTotal.WithLabelValues(outcome).Inc()
}

func (r *Recorder) RecordSuggestion(kind, outcome string) {
	r.suggestsTotal.WithLabelValues(kind, outcome).Inc()
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}

// Nop discards everything.
type Nop struct{}

func (Nop) RecordPass(string, string, float64) {}
func (Nop) RecordSkip(string, string)          {}
func (Nop) RecordSnapshotAge(string, float64)  {}
func (Nop) RecordSignal(string)                {}
func (Nop) RecordSuggestion(string, string)    {}
func (Nop) RecordError(string)                 {}
func (Nop) RecordLatency(string, float64)      {}

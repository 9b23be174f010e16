package middleware

import (
	"context"
	"fmt"
	"sync"
	"time"

	"MarketCascade/internal/domain/models"
	domrepo "MarketCascade/internal/domain/repository"
	applogger "MarketCascade/pkg/logger"
	"MarketCascade/pkg/metrics"

	"github.com/go-playground/validator/v10"
)

// Stream names used for the monotonic as_of check and metrics labels.
const (
	StreamMacro   = "macro"
	StreamSectors = "sectors"
	StreamAssets  = "assets"
	StreamBars    = "bars"
)

// IngestGate sits between the ingestion topics and the input store. It validates
// bundles and drops any whose as_of does not advance on its stream.
type IngestGate struct {
	store    domrepo.InputStore
	metrics  domrepo.Metrics
	validate *validator.Validate
	l        *applogger.Logger

	mu       sync.Mutex
	lastSeen map[string]time.Time // per-stream last accepted as_of
}

type GateOption func(*IngestGate)

func WithGateMetrics(m domrepo.Metrics) GateOption {
	return func(g *IngestGate) {
		if m != nil {
			g.metrics = m
		}
	}
}

func WithGateLogger(l *applogger.Logger) GateOption {
	return func(g *IngestGate) { g.l = l }
}

func NewIngestGate(store domrepo.InputStore, opts ...GateOption) *IngestGate {
	g := &IngestGate{
		store:    store,
		metrics:  metrics.Nop{},
		validate: validator.New(),
		lastSeen: make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *IngestGate) AcceptMacro(ctx context.Context, b models.MacroBundle) error {
	return g.accept(ctx, StreamMacro, StreamMacro, b.AsOf, &b, func(ctx context.Context) error {
		return g.store.PutMacro(ctx, b)
	})
}

func (g *IngestGate) AcceptSectors(ctx context.Context, b models.SectorBundle) error {
	return g.accept(ctx, StreamSectors, StreamSectors, b.AsOf, &b, func(ctx context.Context) error {
		return g.store.PutSectorFlows(ctx, b)
	})
}

func (g *IngestGate) AcceptAssets(ctx context.Context, b models.AssetBundle) error {
	return g.accept(ctx, StreamAssets, StreamAssets, b.AsOf, &b, func(ctx context.Context) error {
		return g.store.PutAssets(ctx, b)
	})
}

// AcceptBars keys the monotonic check by asset.
func (g *IngestGate) AcceptBars(ctx context.Context, b models.BarBatch) error {
	if err := validateBars(b.Bars); err != nil {
		g.metrics.RecordError("ingest_validate_" + StreamBars)
		return fmt.Errorf("bars %s: %w", b.AssetID, err)
	}
	return g.accept(ctx, StreamBars, StreamBars+":"+b.AssetID, b.AsOf, &b, func(ctx context.Context) error {
		return g.store.PutBars(ctx, b)
	})
}

func (g *IngestGate) accept(ctx context.Context, stream, key string, asOf time.Time, v interface{}, put func(context.Context) error) error {
	start := time.Now()
	if err := g.validate.StructCtx(ctx, v); err != nil {
		g.metrics.RecordError("ingest_validate_" + stream)
		return models.InvalidArgument("%s bundle: %v", stream, err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if last, ok := g.lastSeen[key]; ok && !asOf.After(last) {
		g.metrics.RecordSkip(stream, "non_monotonic")
		if g.l != nil {
			g.l.Warn("ingest dropped non-monotonic bundle",
				applogger.String("stream", key),
				applogger.Time("as_of", asOf),
				applogger.Time("last_as_of", last),
			)
		}
		return fmt.Errorf("%s as_of %s not after %s: %w", key, asOf.Format(time.RFC3339), last.Format(time.RFC3339), models.ErrNonMonotonic)
	}
	if err := put(ctx); err != nil {
		g.metrics.RecordError("ingest_store_" + stream)
		return fmt.Errorf("store %s bundle: %w", stream, err)
	}
	g.lastSeen[key] = asOf
	g.metrics.RecordLatency("ingest_"+stream, time.Since(start).Seconds())
	return nil
}

func validateBars(bars []models.Bar) error {
	for i, b := range bars {
		if b.Low <= 0 || b.High < b.Low || b.Close < b.Low || b.Close > b.High || b.Volume < 0 {
			return models.InvalidArgument("bar %d malformed", i)
		}
		if i > 0 && !b.OpenTime.After(bars[i-1].OpenTime) {
			return models.InvalidArgument("bar %d not after bar %d", i, i-1)
		}
	}
	return nil
}

package usecase

import (
	"context"
	"errors"
	"time"

	"MarketCascade/internal/domain/models"
	domrepo "MarketCascade/internal/domain/repository"
	domsvc "MarketCascade/internal/domain/service"
	"MarketCascade/internal/services/watchlist"
	applogger "MarketCascade/pkg/logger"
	"MarketCascade/pkg/metrics"
	"MarketCascade/pkg/util"
)

// CascadeConfig carries the pass-level settings that are not owned by a layer's
// pure service.
type CascadeConfig struct {
	// MacroWindow is how many bundles (including the current one) the macro pass reads.
	MacroWindow       int
	RegimeFreshness   time.Duration
	SectorFreshness   time.Duration
	BarsFreshness     time.Duration
	ListContexts      []models.ListContext
	SignalListContext models.ListContext
	SuggestionTTL     time.Duration
}

// Cascade runs the four layer passes plus the signal expiry sweep. Each pass reads
// the latest upstream snapshots by value and appends its own output.
type Cascade struct {
	inputs    domrepo.InputStore
	snapshots domrepo.SnapshotStore
	watchlist domrepo.WatchlistStore
	signals   domrepo.SignalStore
	publisher domrepo.SignalPublisher

	classifier domsvc.RegimeClassifier
	analyzer   domsvc.SectorAnalyzer
	engine     *watchlist.Engine
	generator  domsvc.SignalGenerator

	cfg     CascadeConfig
	metrics domrepo.Metrics
	l       *applogger.Logger
	now     func() time.Time
}

type CascadeOption func(*Cascade)

func WithCascadeLogger(l *applogger.Logger) CascadeOption { return func(c *Cascade) { c.l = l } }

func WithCascadeMetrics(m domrepo.Metrics) CascadeOption {
	return func(c *Cascade) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithClock overrides time.Now; tests use it to pin freshness checks.
func WithClock(now func() time.Time) CascadeOption { return func(c *Cascade) { c.now = now } }

func NewCascade(
	inputs domrepo.InputStore,
	snapshots domrepo.SnapshotStore,
	wl domrepo.WatchlistStore,
	signals domrepo.SignalStore,
	publisher domrepo.SignalPublisher,
	classifier domsvc.RegimeClassifier,
	analyzer domsvc.SectorAnalyzer,
	engine *watchlist.Engine,
	generator domsvc.SignalGenerator,
	cfg CascadeConfig,
	opts ...CascadeOption,
) *Cascade {
	if cfg.MacroWindow <= 1 {
		cfg.MacroWindow = 13
	}
	if len(cfg.ListContexts) == 0 {
		cfg.ListContexts = []models.ListContext{models.DefaultListContext}
	}
	if cfg.SignalListContext == "" {
		cfg.SignalListContext = models.DefaultListContext
	}
	c := &Cascade{
		inputs:     inputs,
		snapshots:  snapshots,
		watchlist:  wl,
		signals:    signals,
		publisher:  publisher,
		classifier: classifier,
		analyzer:   analyzer,
		engine:     engine,
		generator:  generator,
		cfg:        cfg,
		metrics:    metrics.Nop{},
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// latestRegime returns nil without error when no regime was published yet.
func (c *Cascade) latestRegime(ctx context.Context) (*models.RegimeSnapshot, error) {
	r, err := c.snapshots.LatestRegime(ctx)
	if errors.Is(err, models.ErrNotFound) {
		return nil, nil
	}
	return r, err
}

func (c *Cascade) latestSectors(ctx context.Context) ([]models.SectorSnapshot, error) {
	ss, err := c.snapshots.LatestSectors(ctx)
	if errors.Is(err, models.ErrNotFound) {
		return nil, nil
	}
	return ss, err
}

// observeAge records the snapshot age and reports whether it is past bound.
func (c *Cascade) observeAge(layer string, asOf, now time.Time, bound time.Duration) bool {
	c.metrics.RecordSnapshotAge(layer, util.AgeSeconds(asOf, now))
	return models.Freshness{Bound: bound}.Stale(asOf, now)
}

func (c *Cascade) logInvariant(err error) {
	c.metrics.RecordError("invariant")
	if c.l == nil {
		return
	}
	var inv *models.InvariantError
	if errors.As(err, &inv) {
		c.l.Error("invariant violation",
			applogger.String("op", inv.Op),
			applogger.String("reason", inv.Reason),
			applogger.Any("context", inv.Context),
		)
		return
	}
	c.l.Error("invariant violation", applogger.Error(err))
}

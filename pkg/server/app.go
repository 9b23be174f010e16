package server

import (
	"context"
	"errors"
	"fmt"
	"time"

	domrepo "MarketCascade/internal/domain/repository"
	"MarketCascade/internal/scheduler"
	"MarketCascade/internal/usecase"
	"MarketCascade/pkg/config"
	xhttp "MarketCascade/pkg/http"
	pkgkafka "MarketCascade/pkg/kafka"
	applogger "MarketCascade/pkg/logger"
	"MarketCascade/pkg/queue"
)

// App encapsulates the entire application lifecycle.
type App struct {
	cfg        *config.Config
	l          *applogger.Logger
	httpServer *xhttp.Server
	scheduler  *scheduler.Scheduler
	consumer   *pkgkafka.Consumer
	jobs       *queue.RedisQueue
	publisher  domrepo.SignalPublisher
	recon      *usecase.ReconciliationService
}

// Option attaches optional components. Kafka and the job queue only exist when
// brokers and redis are configured.
type Option func(*App)

func WithConsumer(c *pkgkafka.Consumer) Option { return func(a *App) { a.consumer = c } }

func WithJobQueue(q *queue.RedisQueue) Option { return func(a *App) { a.jobs = q } }

// New creates a new App instance with all dependencies.
func New(
	cfg *config.Config,
	l *applogger.Logger,
	httpServer *xhttp.Server,
	sched *scheduler.Scheduler,
	publisher domrepo.SignalPublisher,
	recon *usecase.ReconciliationService,
	opts ...Option,
) *App {
	if l == nil {
		l = applogger.Nop()
	}
	a := &App{
		cfg:        cfg,
		l:          l,
		httpServer: httpServer,
		scheduler:  sched,
		publisher:  publisher,
		recon:      recon,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Scheduler exposes the pass scheduler for one-shot runs from the CLI.
func (a *App) Scheduler() *scheduler.Scheduler { return a.scheduler }

func (a *App) Reconciliation() *usecase.ReconciliationService { return a.recon }

func (a *App) Logger() *applogger.Logger { return a.l }

// Run starts every component and blocks until ctx is cancelled, then shuts down.
func (a *App) Run(ctx context.Context) error {
	if a.jobs != nil {
		if err := a.jobs.Start(); err != nil {
			return fmt.Errorf("start job queue: %w", err)
		}
		a.l.Info("job queue started")
	}

	if a.consumer != nil {
		if err := a.consumer.Start(); err != nil {
			_ = a.shutdown()
			return fmt.Errorf("start kafka consumer: %w", err)
		}
	}

	a.scheduler.Start()
	a.l.Info("scheduler started", applogger.Strings("passes", a.scheduler.Passes()))

	if err := a.httpServer.Start(); err != nil {
		a.l.Error("http server start error", applogger.Error(err))
		_ = a.shutdown()
		return err
	}

	<-ctx.Done()
	a.l.Info("shutdown signal received")
	return a.shutdown()
}

// Close releases the sinks of an App that was never Run, as in one-shot CLI
// commands. Run already does this on shutdown.
func (a *App) Close() error {
	a.l.RemoveCollector()
	if a.publisher == nil {
		return nil
	}
	return a.publisher.Close()
}

// shutdown stops intake first (HTTP, Kafka), then in-flight work, then sinks.
func (a *App) shutdown() error {
	timeout := a.cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var errs []error
	step := func(name string, fn func() error) {
		if err := fn(); err != nil {
			a.l.Warn(name+" stop error", applogger.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}

	step("http", func() error { return a.httpServer.Stop(ctx) })
	if a.consumer != nil {
		step("kafka consumer", func() error { return a.consumer.Stop(ctx) })
	}
	step("scheduler", func() error { return a.scheduler.Stop(ctx) })
	if a.jobs != nil {
		step("job queue", func() error { return a.jobs.Stop(ctx) })
	}

	// flush audit logs while the producer is still open
	a.l.RemoveCollector()
	if a.publisher != nil {
		step("signal publisher", a.publisher.Close)
	}

	a.l.Info("shutdown complete")
	return errors.Join(errs...)
}

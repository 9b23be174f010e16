package di

import (
	"context"
	"fmt"
	"time"

	"MarketCascade/internal/domain/models"
	domrepo "MarketCascade/internal/domain/repository"
	domsvc "MarketCascade/internal/domain/service"
	"MarketCascade/internal/handler/api"
	"MarketCascade/internal/handler/ws"
	"MarketCascade/internal/middleware"
	internalrepo "MarketCascade/internal/repository"
	"MarketCascade/internal/repository/memory"
	"MarketCascade/internal/repository/postgres"
	"MarketCascade/internal/scheduler"
	"MarketCascade/internal/service/ratelimit"
	"MarketCascade/internal/services/regime"
	"MarketCascade/internal/services/sector"
	"MarketCascade/internal/services/sizing"
	"MarketCascade/internal/services/timing"
	"MarketCascade/internal/services/watchlist"
	"MarketCascade/internal/usecase"
	"MarketCascade/pkg/cache"
	pkgch "MarketCascade/pkg/clickhouse"
	"MarketCascade/pkg/config"
	xhttp "MarketCascade/pkg/http"
	pkgkafka "MarketCascade/pkg/kafka"
	applogger "MarketCascade/pkg/logger"
	"MarketCascade/pkg/metrics"
	"MarketCascade/pkg/queue"
	"MarketCascade/pkg/server"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
)

// ProvideKafkaProducer creates a Kafka producer, or nil when no brokers are set.
// The signal publisher owns and closes it.
func ProvideKafkaProducer(cfg *config.Config) (*pkgkafka.Producer, error) {
	if len(cfg.Kafka.Brokers) == 0 {
		return nil, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithBatching(cfg.Kafka.Producer.BatchSize, cfg.Kafka.Producer.BatchBytes, cfg.Kafka.Producer.Linger),
		pkgkafka.WithTimeouts(cfg.Kafka.Producer.WriteTimeout, cfg.Kafka.Producer.ReadTimeout),
		pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithHashByKey(true),
		pkgkafka.WithAutoCreateTopics(cfg.Environment == "development"),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, nil
}

// ProvideLogger builds the app logger. Error logs are aggregated and shipped to the
// audit topic when Kafka is available.
func ProvideLogger(cfg *config.Config, producer *pkgkafka.Producer) (*applogger.Logger, error) {
	l, err := applogger.New(&applogger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	if cfg.Log.Audit.Enabled && producer != nil {
		l.AddCollector(&applogger.CollectionConfig{
			TimeInterval:   cfg.Log.Audit.FlushInterval,
			CountThreshold: cfg.Log.Audit.CountThreshold,
			Topic:          cfg.Kafka.Topics.Audit,
			Publisher:      producer,
		})
	}
	return l, nil
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics(cfg *config.Config) domrepo.Metrics {
	if !cfg.Metrics.Enabled {
		return metrics.Nop{}
	}
	return metrics.New()
}

// ProvideRedisClient connects to redis when enabled; nil otherwise.
func ProvideRedisClient(cfg *config.Config) (*redis.Client, func(), error) {
	if !cfg.Redis.Enabled {
		return nil, func() {}, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client, err := cache.NewRedisClient(ctx,
		cache.WithRedisAddr(cfg.RedisAddr()),
		cache.WithRedisAuth(cfg.Redis.Password, cfg.Redis.DB),
		cache.WithRedisPool(cfg.Redis.PoolSize, 0, 0),
	)
	if err != nil {
		return nil, nil, err
	}
	return client, func() { _ = client.Close() }, nil
}

// ProvideCache layers a local cache over redis, or falls back to memory only.
// Locks taken through a memory cache hold within this process only.
func ProvideCache(cfg *config.Config, rc *redis.Client) (cache.Service, func()) {
	if rc == nil {
		mc := cache.NewMemoryCache(
			cache.WithMemoryMaxSize(cfg.Storage.LocalCacheSize),
			cache.WithMemoryCleanup(time.Minute),
		)
		return mc, func() { _ = mc.Close() }
	}
	lc := cache.NewLayeredCache(cache.NewRedisCacheFromClient(rc, cfg.Redis.Prefix),
		cache.WithLayeredMemorySize(cfg.Storage.LocalCacheSize),
		cache.WithLayeredL1TTL(cfg.Storage.LocalCacheTTL),
	)
	// the redis client is closed by its own cleanup
	return lc, func() {}
}

// ProvidePostgres opens the relational pool for the postgres backend; nil for memory.
func ProvidePostgres(cfg *config.Config) (*sqlx.DB, func(), error) {
	if cfg.Storage.Backend != "postgres" {
		return nil, func() {}, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	db, err := postgres.Open(ctx, postgres.Config{
		DSN:             cfg.Postgres.DSN,
		MaxOpenConns:    cfg.Postgres.MaxOpenConns,
		MaxIdleConns:    cfg.Postgres.MaxIdleConns,
		ConnMaxLifetime: cfg.Postgres.ConnMaxLifetime,
	})
	if err != nil {
		return nil, nil, err
	}
	if cfg.Postgres.AutoMigrate {
		if err := postgres.Migrate(ctx, db); err != nil {
			_ = db.Close()
			return nil, nil, err
		}
	}
	return db, func() { _ = db.Close() }, nil
}

// ProvideClickHouseClient creates a ClickHouse client for the snapshot history; nil
// for the memory backend.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, func(), error) {
	if cfg.Storage.Snapshots != "clickhouse" {
		return nil, func() {}, nil
	}
	client, err := pkgch.NewClient(
		pkgch.WithAddr(cfg.ClickHouse.Host, cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithPool(cfg.ClickHouse.MaxOpenConns, cfg.ClickHouse.MaxIdleConns, 0),
		pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
		pkgch.WithAsyncInsert(cfg.ClickHouse.AsyncInsert, cfg.ClickHouse.WaitForAsync),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout),
		pkgch.WithMaxExecutionTime(cfg.ClickHouse.MaxExecutionTime),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("clickhouse client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := client.InitSchema(ctx, internalrepo.SnapshotSchema(cfg.ClickHouse.Database)); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("clickhouse schema: %w", err)
	}
	return client, func() { _ = client.Close() }, nil
}

func ProvideInputStore(cfg *config.Config) domrepo.InputStore {
	return memory.NewInputStore(cfg.Cascade.Regime.Window + 1)
}

// ProvideSnapshotStore picks the snapshot history backend. Reads of the latest
// records go through the cache.
func ProvideSnapshotStore(cfg *config.Config, ch *pkgch.Client, c cache.Service, l *applogger.Logger) domrepo.SnapshotStore {
	if ch == nil {
		return memory.NewSnapshotStore()
	}
	store := internalrepo.NewCHSnapshotStore(ch)
	store.SetLogger(l)
	cached := internalrepo.NewCachedSnapshotStore(store, c, cfg.Storage.CacheTTL)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := cached.Invalidate(ctx); err != nil && l != nil {
		l.Warn("snapshot cache invalidation failed", applogger.Error(err))
	}
	return cached
}

func ProvideWatchlistStore(cfg *config.Config, db *sqlx.DB) domrepo.WatchlistStore {
	if db == nil {
		return memory.NewWatchlistStore()
	}
	return postgres.NewWatchlistRepo(db, cfg.Postgres.QueryTimeout)
}

func ProvideSignalStore(cfg *config.Config, db *sqlx.DB) domrepo.SignalStore {
	if db == nil {
		return memory.NewSignalStore()
	}
	return postgres.NewSignalRepo(db, cfg.Postgres.QueryTimeout)
}

func ProvideTradeLedger(cfg *config.Config, db *sqlx.DB) domrepo.TradeLedger {
	if db == nil {
		return memory.NewLedger()
	}
	return postgres.NewLedgerRepo(db, cfg.Postgres.QueryTimeout)
}

func ProvideSignalStream(l *applogger.Logger) *ws.SignalStream {
	return ws.NewSignalStream(l.Named("ws"))
}

// ProvideSignalPublisher fans activated signals out to the dashboard stream and,
// with brokers configured, the signals topic.
func ProvideSignalPublisher(cfg *config.Config, producer *pkgkafka.Producer, stream *ws.SignalStream, l *applogger.Logger) domrepo.SignalPublisher {
	targets := []domrepo.SignalPublisher{stream}
	if producer != nil {
		b := cfg.Kafka.Breaker
		targets = append(targets, internalrepo.NewKafkaPublisher(producer, cfg.Kafka.Topics.Signals, internalrepo.BreakerSettings{
			MaxRequests:  b.MaxRequests,
			Interval:     b.Interval,
			Timeout:      b.Timeout,
			FailureRatio: b.FailureRatio,
			MinRequests:  b.MinRequests,
		}, l))
	}
	return internalrepo.NewFanoutPublisher(targets...)
}

func ProvideClassifier(cfg *config.Config) domsvc.RegimeClassifier {
	rc := regime.DefaultConfig()
	c := cfg.Cascade.Regime
	rc.Window = c.Window
	rc.HysteresisMargin = c.HysteresisMargin
	rc.PersistenceBoost = c.PersistenceBoost
	rc.VolatileEnter = c.VolatileEnter
	rc.VolatileMargin = c.VolatileMargin
	if len(c.Weights) > 0 {
		rc.Weights = c.Weights
	}
	if len(c.Scales) > 0 {
		rc.Scales = c.Scales
	}
	return regime.NewClassifier(rc)
}

func ProvideAnalyzer(cfg *config.Config) domsvc.SectorAnalyzer {
	sc := sector.DefaultConfig()
	sc.LeadThreshold = cfg.Cascade.Sector.LeadThreshold
	sc.BullConfirmConfidence = cfg.Cascade.Sector.BullConfirmConfidence
	return sector.NewAnalyzer(sc)
}

func ProvideWatchlistEngine(cfg *config.Config) *watchlist.Engine {
	w := cfg.Cascade.Watchlist
	wc := watchlist.DefaultConfig()
	wc.Tier1Capacity = w.Tier1Capacity
	wc.Tier2Capacity = w.Tier2Capacity
	wc.AutoDiscovery = w.AutoDiscovery
	wc.DiscoveryThreshold = w.DiscoveryThreshold
	wc.PromoteThreshold = w.PromoteThreshold
	wc.DemoteThreshold = w.DemoteThreshold
	wc.RemoveThreshold = w.RemoveThreshold
	wc.SpikeCap = w.SpikeCap
	wc.DevActivityCap = w.DevActivityCap
	wc.Weights = watchlist.Weights{
		VolumeSpike: w.VolumeSpikeWeight,
		Leadership:  w.LeadershipWeight,
		DevActivity: w.DevActivityWeight,
	}
	return watchlist.NewEngine(wc)
}

func ProvideGenerator(cfg *config.Config) domsvc.SignalGenerator {
	s := cfg.Cascade.Signals
	tc := timing.DefaultConfig()
	tc.MomentumLookback = s.MomentumLookback
	tc.MinMomentum = s.MinMomentum
	tc.ATRPeriod = s.ATRPeriod
	tc.ATRMultiple = s.ATRMultiple
	tc.TargetRR = s.TargetRR
	tc.MinRR = s.MinRR
	tc.TTL = s.TTL
	return timing.NewGenerator(tc)
}

func ProvideSizer() domsvc.PositionSizer {
	return sizing.NewSizer()
}

// ProvideCascadeConfig resolves list contexts; an invalid name fails startup.
func ProvideCascadeConfig(cfg *config.Config) (usecase.CascadeConfig, error) {
	contexts := make([]models.ListContext, 0, len(cfg.Cascade.Watchlist.Contexts))
	for _, raw := range cfg.Cascade.Watchlist.Contexts {
		wl, ok := domrepo.NormalizeListContext(raw)
		if !ok {
			return usecase.CascadeConfig{}, fmt.Errorf("invalid watchlist context %q", raw)
		}
		contexts = append(contexts, wl)
	}
	signalCtx, ok := domrepo.NormalizeListContext(cfg.Cascade.Signals.ListContext)
	if !ok {
		return usecase.CascadeConfig{}, fmt.Errorf("invalid signals list context %q", cfg.Cascade.Signals.ListContext)
	}
	return usecase.CascadeConfig{
		MacroWindow:       cfg.Cascade.Regime.Window + 1,
		RegimeFreshness:   cfg.Cascade.Freshness.Regime,
		SectorFreshness:   cfg.Cascade.Freshness.Sector,
		BarsFreshness:     cfg.Cascade.Freshness.Bars,
		ListContexts:      contexts,
		SignalListContext: signalCtx,
		SuggestionTTL:     cfg.Cascade.Watchlist.SuggestionTTL,
	}, nil
}

func ProvideCascade(
	inputs domrepo.InputStore,
	snapshots domrepo.SnapshotStore,
	wl domrepo.WatchlistStore,
	signals domrepo.SignalStore,
	publisher domrepo.SignalPublisher,
	classifier domsvc.RegimeClassifier,
	analyzer domsvc.SectorAnalyzer,
	engine *watchlist.Engine,
	generator domsvc.SignalGenerator,
	cc usecase.CascadeConfig,
	m domrepo.Metrics,
	l *applogger.Logger,
) *usecase.Cascade {
	return usecase.NewCascade(inputs, snapshots, wl, signals, publisher, classifier, analyzer, engine, generator, cc,
		usecase.WithCascadeMetrics(m),
		usecase.WithCascadeLogger(l.Named("cascade")),
	)
}

func ProvideIngestGate(inputs domrepo.InputStore, m domrepo.Metrics, l *applogger.Logger) *middleware.IngestGate {
	return middleware.NewIngestGate(inputs, middleware.WithGateMetrics(m), middleware.WithGateLogger(l.Named("ingest")))
}

func ProvideQueryService(snapshots domrepo.SnapshotStore, wl domrepo.WatchlistStore, signals domrepo.SignalStore, ledger domrepo.TradeLedger, cc usecase.CascadeConfig) *usecase.QueryService {
	return usecase.NewQueryService(snapshots, wl, signals, ledger, cc)
}

func ProvideReviewService(wl domrepo.WatchlistStore, engine *watchlist.Engine, m domrepo.Metrics, l *applogger.Logger) *usecase.ReviewService {
	return usecase.NewReviewService(wl, engine, m, l)
}

func ProvideExecutionService(signals domrepo.SignalStore, sizer domsvc.PositionSizer, m domrepo.Metrics, l *applogger.Logger) *usecase.ExecutionService {
	return usecase.NewExecutionService(signals, sizer, m, l)
}

// ProvideRebuildQueue creates the position rebuild queue; nil without redis.
func ProvideRebuildQueue(cfg *config.Config, rc *redis.Client, l *applogger.Logger) *queue.RedisQueue {
	if rc == nil || !cfg.Redis.Queue.Enabled {
		return nil
	}
	q := cfg.Redis.Queue
	return queue.NewRedisQueue(rc, queue.Config{
		Workers:    q.Workers,
		RetryLimit: q.RetryLimit,
		RetryDelay: q.RetryDelay,
	},
		queue.WithKeyPrefix(cfg.Redis.Prefix+":queue:rebuild"),
		queue.WithLogger(l.Named("queue")),
	)
}

// ProvideReconciliationService serializes pair writes through redis when enabled,
// so replicas never interleave a replay.
func ProvideReconciliationService(cfg *config.Config, ledger domrepo.TradeLedger, c cache.Service, q *queue.RedisQueue, m domrepo.Metrics, l *applogger.Logger) *usecase.ReconciliationService {
	var locker usecase.PairLocker
	if cfg.Redis.Enabled {
		locker = usecase.NewCacheLocker(c, 30*time.Second)
	}
	svc := usecase.NewReconciliationService(ledger, locker, m, l.Named("reconcile"))
	if q != nil {
		q.Register(usecase.NewRebuildJob(svc, l.Named("reconcile")))
		svc.SetRebuildQueue(q)
	}
	return svc
}

// ProvideScheduler registers the five passes. A disabled pass can still be run on demand.
func ProvideScheduler(cfg *config.Config, cascade *usecase.Cascade, c cache.Service, m domrepo.Metrics, l *applogger.Logger) (*scheduler.Scheduler, error) {
	sl := l.Named("scheduler")
	s := scheduler.New(sl)
	p := cfg.Cascade.Passes
	passes := []struct {
		name string
		pass config.Pass
		task scheduler.Task
	}{
		{"macro", p.Macro, cascade.MacroPass},
		{"sector", p.Sector, cascade.SectorPass},
		{"watchlist", p.Watchlist, cascade.WatchlistPass},
		{"signals", p.Signals, cascade.SignalPass},
		{"expiry", p.Expiry, cascade.ExpirySweep},
	}
	for _, ps := range passes {
		opts := []scheduler.Option{scheduler.WithMetrics(m), scheduler.WithLogger(sl)}
		if cfg.Cascade.DistributedLock {
			opts = append(opts, scheduler.WithLock(c))
		}
		schedule := ps.pass.Schedule
		if !ps.pass.Enabled {
			schedule = ""
		}
		if err := s.Register(schedule, scheduler.NewRunner(ps.name, ps.pass.Timeout, ps.task, opts...)); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func ProvideRateLimiter(cfg *config.Config) *ratelimit.Limiter {
	return ratelimit.New(cfg.Server.RateLimit.RPS, cfg.Server.RateLimit.Burst)
}

// ProvideHealthChecks probes only the backends that are configured.
func ProvideHealthChecks(db *sqlx.DB, ch *pkgch.Client, rc *redis.Client) map[string]api.Check {
	checks := make(map[string]api.Check)
	if db != nil {
		checks["postgres"] = db.PingContext
	}
	if ch != nil {
		checks["clickhouse"] = ch.Health
	}
	if rc != nil {
		checks["redis"] = func(ctx context.Context) error { return rc.Ping(ctx).Err() }
	}
	return checks
}

func ProvideHandlers(
	q *usecase.QueryService,
	review *usecase.ReviewService,
	exec *usecase.ExecutionService,
	recon *usecase.ReconciliationService,
	sched *scheduler.Scheduler,
	stream *ws.SignalStream,
	rl *ratelimit.Limiter,
	checks map[string]api.Check,
	l *applogger.Logger,
) []xhttp.Handler {
	hl := l.Named("api")
	return []xhttp.Handler{
		api.NewSnapshotHandler(q, hl),
		api.NewWatchlistHandler(q, review, rl, hl),
		api.NewSignalsHandler(q, exec, rl, hl),
		api.NewPortfolioHandler(q, recon, rl, hl),
		api.NewAdminHandler(sched, rl, hl),
		api.NewHealthHandler(checks),
		stream,
	}
}

func ProvideHTTPServer(cfg *config.Config, handlers []xhttp.Handler, l *applogger.Logger) *xhttp.Server {
	metricsPath := ""
	if cfg.Metrics.Enabled {
		metricsPath = cfg.Metrics.Path
	}
	return xhttp.NewServer(handlers,
		xhttp.WithPort(cfg.Server.Port),
		xhttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
		xhttp.WithMetricsPath(metricsPath),
		xhttp.WithCORS(cfg.Server.CORSOrigins...),
		xhttp.WithLogger(l.Named("http")),
	)
}

// ProvideKafkaConsumer subscribes the ingest handlers; nil without brokers.
func ProvideKafkaConsumer(cfg *config.Config, gate *middleware.IngestGate, l *applogger.Logger) (*pkgkafka.Consumer, error) {
	if len(cfg.Kafka.Brokers) == 0 {
		return nil, nil
	}
	kl := l.Named("kafka")
	c := cfg.Kafka.Consumer
	consumer, err := pkgkafka.NewConsumer(
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(c.GroupID),
		pkgkafka.WithConsumerWorkers(c.Workers),
		pkgkafka.WithConsumerBufferSize(c.BufferSize),
		pkgkafka.WithConsumerRetry(c.RetryMax, c.BackoffMin, c.BackoffMax),
		pkgkafka.WithConsumerDLQ(c.DLQTopic),
		pkgkafka.WithConsumerFetch(c.MinBytes, c.MaxBytes),
		pkgkafka.WithConsumerLogger(kl),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	consumer.WithConsumerHook(pkgkafka.NewHookChain(pkgkafka.TraceHook{}, pkgkafka.LoggingHook{L: kl, Slow: time.Second}))

	topics := usecase.IngestTopics{
		Macro:   cfg.Kafka.Topics.Macro,
		Sectors: cfg.Kafka.Topics.Sectors,
		Assets:  cfg.Kafka.Topics.Assets,
		Bars:    cfg.Kafka.Topics.Bars,
	}
	for _, h := range usecase.IngestHandlers(gate, topics, kl) {
		consumer.RegisterHandler(h)
	}
	return consumer, nil
}

// ProvideApp creates the application server.
func ProvideApp(
	cfg *config.Config,
	l *applogger.Logger,
	srv *xhttp.Server,
	sched *scheduler.Scheduler,
	publisher domrepo.SignalPublisher,
	recon *usecase.ReconciliationService,
	consumer *pkgkafka.Consumer,
	jobs *queue.RedisQueue,
) *server.App {
	var opts []server.Option
	if consumer != nil {
		opts = append(opts, server.WithConsumer(consumer))
	}
	if jobs != nil {
		opts = append(opts, server.WithJobQueue(jobs))
	}
	return server.New(cfg, l, srv, sched, publisher, recon, opts...)
}

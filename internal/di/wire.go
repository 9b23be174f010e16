//go:build wireinject
// +build wireinject

package di

import (
	"MarketCascade/pkg/config"
	"MarketCascade/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, func(), error) {
	wire.Build(
		// Infrastructure clients
		ProvideKafkaProducer,
		ProvideLogger,
		ProvideMetrics,
		ProvideRedisClient,
		ProvideCache,
		ProvidePostgres,
		ProvideClickHouseClient,

		// Repositories
		ProvideInputStore,
		ProvideSnapshotStore,
		ProvideWatchlistStore,
		ProvideSignalStore,
		ProvideTradeLedger,
		ProvideSignalStream,
		ProvideSignalPublisher,

		// Layer services
		ProvideClassifier,
		ProvideAnalyzer,
		ProvideWatchlistEngine,
		ProvideGenerator,
		ProvideSizer,

		// Use cases
		ProvideCascadeConfig,
		ProvideCascade,
		ProvideIngestGate,
		ProvideQueryService,
		ProvideReviewService,
		ProvideExecutionService,
		ProvideRebuildQueue,
		ProvideReconciliationService,
		ProvideScheduler,

		// Transport
		ProvideRateLimiter,
		ProvideHealthChecks,
		ProvideHandlers,
		ProvideHTTPServer,
		ProvideKafkaConsumer,

		// Application server
		ProvideApp,
	)
	return nil, nil, nil
}

//go:build wireinject
// +build wireinject

package di

import (
	"github.com/google/wire"

	domrepo "BetPull/internal/domain/repository"
	"BetPull/pkg/config"
	"BetPull/pkg/metrics"
	"BetPull/pkg/server"
)

var infraSet = wire.NewSet(
	ProvideKafkaProducer,
	ProvideLogger,
	ProvideMetrics,
	wire.Bind(new(domrepo.Metrics), new(*metrics.Recorder)),
	ProvideClickHouseClient,
	ProvideRedisCache,
	ProvideCache,
	ProvideRetryQueue,
)

var engineSet = wire.NewSet(
	ProvideResultStore,
	ProvideOrderLog,
	ProvideLimiter,
	ProvideStatusBook,
	ProvideExecution,
	ProvideMarketConfig,
	ProvideRouter,
	ProvidePipeline,
)

var ingressSet = wire.NewSet(
	ProvideKafkaHandlers,
	ProvideKafkaConsumer,
	ProvideSnapshotCollector,
	ProvideMarketsHandler,
	ProvideHTTPServer,
)

// InitializeApp wires up all dependencies and returns the application.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(infraSet, engineSet, ingressSet, ProvideApp)
	return &server.App{}, nil
}

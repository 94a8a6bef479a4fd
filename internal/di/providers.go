package di

import (
	"context"
	"fmt"
	"io"
	"time"

	"BetPull/internal/domain/models"
	domrepo "BetPull/internal/domain/repository"
	"BetPull/internal/feature"
	"BetPull/internal/gate"
	"BetPull/internal/handler/api"
	"BetPull/internal/market"
	mid "BetPull/internal/middleware"
	internalrepo "BetPull/internal/repository"
	"BetPull/internal/service/ratelimit"
	"BetPull/internal/service/stream"
	"BetPull/internal/trade"
	"BetPull/internal/usecase"
	"BetPull/pkg/cache"
	pkgch "BetPull/pkg/clickhouse"
	"BetPull/pkg/config"
	xhttp "BetPull/pkg/http"
	pkgkafka "BetPull/pkg/kafka"
	applogger "BetPull/pkg/logger"
	"BetPull/pkg/metrics"
	"BetPull/pkg/queue"
	"BetPull/pkg/server"
)

// Execution bundles the order collaborators chosen by configuration. Both are nil when trading is off.
type Execution struct {
	Executor domrepo.OrderExecutor
	Feedback domrepo.OrderFeedback
	closer   io.Closer
}

// ProvideLogger creates the application logger. With a producer and the collector enabled,
// aggregated error logs are shipped to Kafka.
func ProvideLogger(cfg *config.Config, producer *pkgkafka.Producer) (*applogger.Logger, error) {
	l, err := applogger.New(&applogger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	if cfg.Log.Collector.Enabled && producer != nil {
		l.AddCollector(&applogger.CollectionConfig{
			TimeInterval:   cfg.Log.Collector.Interval,
			CountThreshold: cfg.Log.Collector.Threshold,
			Topic:          cfg.Log.Collector.Topic,
			Publisher:      producer,
		})
	}
	return l.With(applogger.String("env", cfg.Environment)), nil
}

type collectorCloser struct{ l *applogger.Logger }

func (c collectorCloser) Close() error {
	c.l.RemoveCollector()
	return nil
}

// ProvideMetrics creates a Prometheus metrics recorder on the default registry.
func ProvideMetrics() *metrics.Recorder {
	return metrics.New()
}

// ProvideKafkaProducer creates a producer when brokers are configured; otherwise it returns nil.
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
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, nil
}

// ProvideClickHouseClient connects to ClickHouse when enabled; otherwise it returns nil.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, error) {
	if !cfg.ClickHouse.Enabled {
		return nil, nil
	}
	client, err := pkgch.NewClient(
		pkgch.WithAddr(cfg.ClickHouse.Host, cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithPool(cfg.ClickHouse.MaxOpenConns, cfg.ClickHouse.MaxIdleConns, 0),
		pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
		pkgch.WithCompression(cfg.ClickHouse.Compression),
		pkgch.WithAsyncInsert(cfg.ClickHouse.AsyncInsert, cfg.ClickHouse.WaitForAsync),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout),
		pkgch.WithMaxExecutionTime(cfg.ClickHouse.MaxExecutionTime),
	)
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}
	return client, nil
}

// ProvideRedisCache connects to Redis when enabled; otherwise it returns nil.
func ProvideRedisCache(cfg *config.Config) (*cache.RedisCache, error) {
	if !cfg.Redis.Enabled {
		return nil, nil
	}
	rc, err := cache.NewRedisCache(
		cache.WithRedisAddr(cfg.Redis.Host, cfg.Redis.Port),
		cache.WithRedisAuth(cfg.Redis.Password, cfg.Redis.DB),
		cache.WithRedisPrefix(cfg.Redis.Prefix),
		cache.WithRedisPool(cfg.Redis.PoolSize, cfg.Redis.MinIdleConns, 0),
	)
	if err != nil {
		return nil, fmt.Errorf("redis cache: %w", err)
	}
	return rc, nil
}

// ProvideCache prefers Redis and falls back to an in-process cache.
func ProvideCache(cfg *config.Config, rc *cache.RedisCache) cache.Service {
	if rc != nil {
		return rc
	}
	return cache.NewMemoryCache(
		cache.WithMemoryMaxSize(cfg.MemoryCache.MaxKeys),
		cache.WithMemoryCleanup(cfg.MemoryCache.CleanupInterval),
	)
}

func ProvideOrderLog(c cache.Service, cfg *config.Config) domrepo.OrderLog {
	return internalrepo.NewCacheOrderLog(c, cfg.Redis.OrderTTL)
}

// ProvideRetryQueue creates the deferred-save queue. It needs both Redis and ClickHouse.
func ProvideRetryQueue(cfg *config.Config, rc *cache.RedisCache, l *applogger.Logger) *queue.RedisQueue {
	if rc == nil || !cfg.ClickHouse.Enabled || !cfg.Redis.RetryQueue.Enabled {
		return nil
	}
	return queue.NewRedisQueue(l.With(applogger.String("component", "retry_queue")), queue.Config{
		Workers:    cfg.Redis.RetryQueue.Workers,
		RetryLimit: cfg.Redis.RetryQueue.RetryLimit,
		RetryDelay: cfg.Redis.RetryQueue.RetryDelay,
	}, rc.Client(), queue.WithKeyPrefix(cfg.Redis.Prefix+":queue"))
}

// ProvideResultStore picks ClickHouse when configured, wrapped with the retry queue when present.
func ProvideResultStore(ch *pkgch.Client, q *queue.RedisQueue, l *applogger.Logger, m domrepo.Metrics) (domrepo.ResultStore, error) {
	if ch == nil {
		l.Warn("clickhouse disabled, runner results are kept in memory")
		return internalrepo.NewMemoryResultStore(), nil
	}
	store := internalrepo.NewCHResultStore(ch, l)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := store.Init(ctx); err != nil {
		return nil, fmt.Errorf("clickhouse schema: %w", err)
	}
	if q == nil {
		return store, nil
	}
	q.RegisterJob(internalrepo.NewSaveRunnerJob(store))
	return internalrepo.NewRetryingResultStore(store, q, l, m), nil
}

func ProvideLimiter(cfg *config.Config) *ratelimit.Limiter {
	return ratelimit.New(cfg.Trading.OrdersPerSecond, cfg.Trading.Burst)
}

func ProvideStatusBook() *usecase.StatusBook {
	return usecase.NewStatusBook()
}

// ProvideExecution selects paper fills or Kafka order routing.
func ProvideExecution(
	cfg *config.Config,
	producer *pkgkafka.Producer,
	limiter *ratelimit.Limiter,
	book *usecase.StatusBook,
	l *applogger.Logger,
	m domrepo.Metrics,
) (*Execution, error) {
	switch {
	case !cfg.Trading.Enabled:
		return &Execution{}, nil
	case cfg.Trading.Paper:
		ex := internalrepo.NewPaperExchange(cfg.Trading.PaperFillRate)
		return &Execution{Executor: ex, Feedback: ex}, nil
	case producer == nil:
		return nil, fmt.Errorf("live trading requires a kafka producer")
	}
	ex := internalrepo.NewKafkaOrderExecutor(producer, cfg.Kafka.OrderTopic, limiter,
		internalrepo.WithExecutorLogger(l.With(applogger.String("component", "executor"))),
		internalrepo.WithExecutorMetrics(m),
		internalrepo.WithPublishTimeout(cfg.Kafka.Producer.WriteTimeout),
	)
	return &Execution{Executor: ex, Feedback: book, closer: ex}, nil
}

// ProvideMarketConfig loads the feature configuration and checks it builds before any market arrives.
func ProvideMarketConfig(cfg *config.Config) (market.Config, error) {
	features, err := feature.LoadConfig(cfg.Engine.FeatureConfig)
	if err != nil {
		return market.Config{}, err
	}
	registry := feature.DefaultRegistry()
	if _, err := feature.Generate(features, registry); err != nil {
		return market.Config{}, fmt.Errorf("feature config %s: %w", cfg.Engine.FeatureConfig, err)
	}

	mcfg := market.Config{
		Gates: gate.Offsets{
			FeatureStart: cfg.Engine.FeatureStart,
			TradeAllowed: cfg.Engine.TradeAllowed,
			Cutoff:       cfg.Engine.Cutoff,
		},
		Features: features,
		Registry: registry,
		Trade: trade.Config{
			Hold:           cfg.Trading.Hold,
			OpenTimeout:    cfg.Trading.OpenTimeout,
			HedgeTimeout:   cfg.Trading.HedgeTimeout,
			PendingTimeout: cfg.Trading.PendingTimeout,
			MinHedgeSize:   cfg.Trading.MinHedgeSize,
		},
		PersistTimeout: cfg.Engine.PersistTimeout,
	}
	if cfg.Trading.Enabled {
		s := cfg.Trading.Strategy
		mcfg.Strategy = &trade.StrategyConfig{
			Type:         s.Type,
			FeatureID:    s.FeatureID,
			Operator:     s.Operator,
			Threshold:    s.Threshold,
			Side:         models.Side(s.Side),
			Stake:        s.Stake,
			ExitOnRevert: s.ExitOnRevert,
		}
		if _, err := trade.FromConfig(*mcfg.Strategy); err != nil {
			return market.Config{}, fmt.Errorf("trading strategy: %w", err)
		}
	}
	return mcfg, nil
}

func ProvideRouter(
	cfg *config.Config,
	mcfg market.Config,
	exec *Execution,
	results domrepo.ResultStore,
	orders domrepo.OrderLog,
	limiter *ratelimit.Limiter,
	book *usecase.StatusBook,
	l *applogger.Logger,
	m domrepo.Metrics,
) *usecase.Router {
	return usecase.NewRouter(usecase.RouterConfig{
		Shards:          cfg.Engine.Shards,
		QueueSize:       cfg.Engine.QueueSize,
		ClosedRetention: cfg.Engine.ClosedRetention,
		SweepInterval:   cfg.Engine.SweepInterval,
	}, mcfg, market.Deps{
		Executor: exec.Executor,
		Feedback: exec.Feedback,
		Results:  results,
		Orders:   orders,
		Metrics:  m,
		Log:      l,
	}, limiter, book)
}

func ProvidePipeline(cfg *config.Config, router *usecase.Router, m domrepo.Metrics) *mid.SnapshotPipeline {
	return mid.NewSnapshotPipeline(router, m,
		mid.WithMaxRate(cfg.Engine.MaxRate),
		mid.WithSource(cfg.Source.Type),
	)
}

// ProvideKafkaHandlers lists the topics this process consumes.
func ProvideKafkaHandlers(cfg *config.Config, pipe *mid.SnapshotPipeline, book *usecase.StatusBook, m domrepo.Metrics) []pkgkafka.MessageHandler {
	var hs []pkgkafka.MessageHandler
	if cfg.Source.Type == "kafka" {
		hs = append(hs, usecase.NewKafkaSnapshotHandler(cfg.Kafka.SnapshotTopic, pipe, m))
	}
	if cfg.Trading.Enabled && !cfg.Trading.Paper {
		hs = append(hs, usecase.NewKafkaOrderUpdateHandler(cfg.Kafka.OrderUpdateTopic, book, m))
	}
	return hs
}

// ProvideKafkaConsumer creates a consumer only when there is something to consume.
func ProvideKafkaConsumer(cfg *config.Config, handlers []pkgkafka.MessageHandler, l *applogger.Logger) (*pkgkafka.Consumer, error) {
	if len(handlers) == 0 {
		return nil, nil
	}
	consumer, err := pkgkafka.NewConsumer(
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(cfg.Kafka.Consumer.GroupID),
		pkgkafka.WithConsumerWorkers(cfg.Kafka.Consumer.Workers),
		pkgkafka.WithConsumerBufferSize(cfg.Kafka.Consumer.BufferSize),
		pkgkafka.WithConsumerRetry(cfg.Kafka.Consumer.RetryMax, cfg.Kafka.Consumer.BackoffMin, cfg.Kafka.Consumer.BackoffMax),
		pkgkafka.WithConsumerDLQ(cfg.Kafka.Consumer.DLQTopic),
		pkgkafka.WithConsumerFetch(cfg.Kafka.Consumer.MinBytes, cfg.Kafka.Consumer.MaxBytes),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	log := l.With(applogger.String("component", "kafka_consumer"))
	consumer.WithLogger(log)
	consumer.WithConsumerHook(pkgkafka.NewHookChain(pkgkafka.LagHook(), pkgkafka.RetryLogHook(log)))
	return consumer, nil
}

// ProvideSnapshotCollector creates the websocket source when selected.
func ProvideSnapshotCollector(cfg *config.Config, pipe *mid.SnapshotPipeline, m domrepo.Metrics, l *applogger.Logger) *usecase.SnapshotCollector {
	if cfg.Source.Type != "websocket" {
		return nil
	}
	sl := l.With(applogger.String("component", "stream"))
	client := stream.New(stream.Config{
		URL:            cfg.Stream.URL,
		Token:          cfg.Stream.Token,
		MarketIDs:      cfg.Stream.MarketIDs,
		ReconnectDelay: cfg.Stream.ReconnectDelay,
		PingInterval:   cfg.Stream.PingInterval,
	}, sl)
	return usecase.NewSnapshotCollector(client, pipe, m, sl)
}

func ProvideMarketsHandler(l *applogger.Logger, router *usecase.Router, orders domrepo.OrderLog) *api.MarketsHandler {
	return api.NewMarketsHandler(l, router, orders)
}

func ProvideHTTPServer(cfg *config.Config, h *api.MarketsHandler, l *applogger.Logger) *xhttp.Server {
	metricsPath := ""
	if cfg.Metrics.Enabled {
		metricsPath = cfg.Metrics.Path
	}
	return xhttp.NewServer(h,
		xhttp.WithHost(cfg.Server.Host),
		xhttp.WithPort(cfg.Server.Port),
		xhttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
		xhttp.WithMetrics(metricsPath, nil),
		xhttp.WithLogger(l.With(applogger.String("component", "http"))),
	)
}

// ProvideApp assembles the lifecycle. Closers run after the router has persisted open markets.
func ProvideApp(
	cfg *config.Config,
	l *applogger.Logger,
	router *usecase.Router,
	consumer *pkgkafka.Consumer,
	handlers []pkgkafka.MessageHandler,
	collector *usecase.SnapshotCollector,
	httpServer *xhttp.Server,
	rq *queue.RedisQueue,
	exec *Execution,
	producer *pkgkafka.Producer,
	results domrepo.ResultStore,
	ch *pkgch.Client,
	c cache.Service,
) *server.App {
	var closers []io.Closer
	if exec.closer != nil {
		closers = append(closers, exec.closer)
	}
	if producer != nil {
		// flush aggregated error logs while the producer is still open
		closers = append(closers, collectorCloser{l}, producer)
	}
	closers = append(closers, results)
	if ch != nil {
		closers = append(closers, ch)
	}
	closers = append(closers, c)

	return server.New(l, server.Components{
		Router:     router,
		Consumer:   consumer,
		Handlers:   handlers,
		Collector:  collector,
		HTTP:       httpServer,
		RetryQueue: rq,
		Closers:    closers,
	}, cfg.Server.ShutdownTimeout)
}

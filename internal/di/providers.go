package di

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"SwingPulse/internal/domain/models"
	"SwingPulse/internal/domain/repository"
	"SwingPulse/internal/handler/api"
	internalrepo "SwingPulse/internal/repository"
	icache "SwingPulse/internal/service/cache"
	"SwingPulse/internal/service/ratelimit"
	"SwingPulse/internal/usecase"
	pkgch "SwingPulse/pkg/clickhouse"
	"SwingPulse/pkg/config"
	pkgkafka "SwingPulse/pkg/kafka"
	applogger "SwingPulse/pkg/logger"
	"SwingPulse/pkg/metrics"
	"SwingPulse/pkg/server"
)

// Disabled infrastructure is provided as nil; consumers check for nil.

// ProvideLogger builds the root logger from the log section.
func ProvideLogger(cfg *config.Config) (*applogger.Logger, error) {
	return applogger.New(&applogger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
}

// ProvideRegistry creates the Prometheus registry shared by every component.
func ProvideRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg
}

// ProvideMetrics creates the engine metrics recorder.
func ProvideMetrics(reg *prometheus.Registry) repository.Metrics {
	return metrics.NewWithRegistry(reg)
}

// ProvideClickHouseClient connects to ClickHouse and creates the database.
func ProvideClickHouseClient(cfg *config.Config, l *applogger.Logger) (*pkgch.Client, func(), error) {
	if !cfg.ClickHouse.Enabled {
		return nil, func() {}, nil
	}
	ch := cfg.ClickHouse
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	client, err := pkgch.NewClient(ctx,
		pkgch.WithAddress(ch.Host, ch.Port),
		pkgch.WithDatabase(ch.Database),
		pkgch.WithCredentials(ch.User, ch.Password),
		pkgch.WithPool(10, 5, time.Hour),
		pkgch.WithHTTP(ch.UseHTTP),
		pkgch.WithAsyncInsert(ch.AsyncInsert, ch.WaitForAsync),
		pkgch.WithTimeouts(ch.DialTimeout, ch.ReadTimeout),
		pkgch.WithMaxExecutionTime(ch.MaxExecutionTime),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("clickhouse client: %w", err)
	}
	if err := client.InitSchema(ctx, []string{"CREATE DATABASE IF NOT EXISTS " + ch.Database}); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("clickhouse schema: %w", err)
	}
	l.Info("clickhouse connected", applogger.String("database", ch.Database))
	return client, func() {
		if err := client.Close(); err != nil {
			l.Warn("clickhouse close", applogger.Error(err))
		}
	}, nil
}

// ProvideBarStore creates the bars table and its store.
func ProvideBarStore(client *pkgch.Client, cfg *config.Config, l *applogger.Logger) (*internalrepo.CHBarStore, error) {
	if client == nil {
		return nil, nil
	}
	store, err := internalrepo.NewCHBarStore(client.DB(), cfg.ClickHouse.Database+"."+cfg.ClickHouse.BarsTable)
	if err != nil {
		return nil, err
	}
	store.SetLogger(l)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := client.InitSchema(ctx, store.Schema()); err != nil {
		return nil, fmt.Errorf("bars schema: %w", err)
	}
	return store, nil
}

// ProvideOutcomeStore creates the outcomes table and its store.
func ProvideOutcomeStore(client *pkgch.Client, cfg *config.Config, l *applogger.Logger) (repository.OutcomeStore, error) {
	if client == nil {
		return nil, nil
	}
	store, err := internalrepo.NewCHOutcomeStore(client.DB(), cfg.ClickHouse.Database+"."+cfg.ClickHouse.OutcomesTable)
	if err != nil {
		return nil, err
	}
	store.SetLogger(l)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := client.InitSchema(ctx, store.Schema()); err != nil {
		return nil, fmt.Errorf("outcomes schema: %w", err)
	}
	return store, nil
}

// ProvideBinStats serves bin tables from Redis behind a local TTL cache, or
// from memory alone when Redis is disabled.
func ProvideBinStats(cfg *config.Config, l *applogger.Logger) (*internalrepo.RedisBinStats, func(), error) {
	local := icache.NewTTLCache()
	if !cfg.Redis.Enabled {
		l.Warn("redis disabled, bin statistics are kept in memory")
		return internalrepo.NewRedisBinStats(local, cfg.Redis.KeyPrefix, 0), func() {}, nil
	}
	rc := icache.NewRedisCache(icache.RedisConfig{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rc.Ping(ctx); err != nil {
		_ = rc.Close()
		return nil, nil, fmt.Errorf("redis ping: %w", err)
	}
	layered := icache.NewLayered(local, rc, cfg.Redis.CacheTTL)
	return internalrepo.NewRedisBinStats(layered, cfg.Redis.KeyPrefix, 0), func() { _ = rc.Close() }, nil
}

// ProvideKafkaProducer creates the producer used by the event sink.
func ProvideKafkaProducer(cfg *config.Config, reg *prometheus.Registry, l *applogger.Logger) (*pkgkafka.Producer, func(), error) {
	if !cfg.Kafka.Enabled {
		return nil, func() {}, nil
	}
	p := cfg.Kafka.Producer
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithBatching(p.BatchSize, p.BatchBytes, p.Linger),
		pkgkafka.WithTimeouts(p.WriteTimeout, p.ReadTimeout),
		pkgkafka.WithMaxAttempts(p.MaxAttempts),
		pkgkafka.WithAsync(p.Async),
		pkgkafka.WithHashByKey(true),
		pkgkafka.WithProducerRegisterer(reg),
		pkgkafka.WithProducerLogger(l),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, func() {
		if err := producer.Close(); err != nil {
			l.Warn("kafka producer close", applogger.Error(err))
		}
	}, nil
}

// ProvideKafkaConsumer creates the bars consumer.
func ProvideKafkaConsumer(cfg *config.Config, reg *prometheus.Registry, l *applogger.Logger) (*pkgkafka.Consumer, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	c := cfg.Kafka.Consumer
	consumer, err := pkgkafka.NewConsumer(
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(c.GroupID),
		pkgkafka.WithConsumerWorkers(c.Workers),
		pkgkafka.WithConsumerBufferSize(c.BufferSize),
		pkgkafka.WithConsumerRetry(c.RetryMax, c.BackoffMin, c.BackoffMax),
		pkgkafka.WithConsumerDLQ(c.DLQTopic),
		pkgkafka.WithConsumerFetch(c.MinBytes, c.MaxBytes),
		pkgkafka.WithConsumerRegisterer(reg),
		pkgkafka.WithConsumerLogger(l),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	return consumer, nil
}

// ProvideController builds the framework controller from the engine section.
func ProvideController(cfg *config.Config, bins *internalrepo.RedisBinStats, m repository.Metrics, l *applogger.Logger) (*usecase.FrameworkController, error) {
	return usecase.NewFrameworkController(cfg.Engine,
		usecase.WithBinStats(bins),
		usecase.WithMetrics(m),
		usecase.WithLogger(l),
	)
}

// ProvideBarsHandler feeds the bars topic into the controller and archives
// the bars when ClickHouse is enabled.
func ProvideBarsHandler(cfg *config.Config, ctrl *usecase.FrameworkController, bars *internalrepo.CHBarStore, m repository.Metrics) *usecase.KafkaBarsHandler {
	var archive usecase.BarArchive
	if bars != nil {
		archive = bars
	}
	primary := func() models.Timeframe { return ctrl.GetConfig().PrimaryTimeframe }
	return usecase.NewKafkaBarsHandler(cfg.Kafka.BarsTopic, ctrl, archive, primary, m)
}

// ProvideLoader seeds the controller from ClickHouse. It is nil when
// ClickHouse is disabled.
func ProvideLoader(cfg *config.Config, ctrl *usecase.FrameworkController, bars *internalrepo.CHBarStore, outcomes repository.OutcomeStore, l *applogger.Logger) *usecase.MarketDataLoader {
	if bars == nil {
		return nil
	}
	return usecase.NewMarketDataLoader(ctrl, bars, outcomes, cfg.Instruments,
		usecase.WithOutcomeLookback(cfg.ClickHouse.OutcomeLookback),
		usecase.WithRefreshInterval(cfg.ClickHouse.BarRefresh),
		usecase.WithLoaderLogger(l),
	)
}

// ProvideEventForwarder ships bus events to Kafka. It is nil when Kafka is disabled.
func ProvideEventForwarder(cfg *config.Config, producer *pkgkafka.Producer, m repository.Metrics, l *applogger.Logger) *usecase.EventForwarder {
	if producer == nil {
		return nil
	}
	sink := internalrepo.NewKafkaEventSink(producer, cfg.Kafka.EventsTopic)
	return usecase.NewEventForwarder(sink, 4096, cfg.Kafka.Producer.BatchSize, cfg.Kafka.Producer.Linger, l, m)
}

// ProvideHTTPHandler builds the control API.
func ProvideHTTPHandler(cfg *config.Config, ctrl *usecase.FrameworkController, outcomes repository.OutcomeStore, bins *internalrepo.RedisBinStats, m repository.Metrics, l *applogger.Logger) *api.FrameworkEchoHandler {
	limiter := ratelimit.New(cfg.Server.IngestBurst, cfg.Server.IngestPerSecond)
	return api.NewFrameworkEchoHandler(l, ctrl, outcomes, bins, m).WithIngestLimit(limiter)
}

// ProvideApp assembles the application.
func ProvideApp(
	cfg *config.Config,
	l *applogger.Logger,
	reg *prometheus.Registry,
	ctrl *usecase.FrameworkController,
	handler *api.FrameworkEchoHandler,
	consumer *pkgkafka.Consumer,
	barsHandler *usecase.KafkaBarsHandler,
	loader *usecase.MarketDataLoader,
	forwarder *usecase.EventForwarder,
	client *pkgch.Client,
) *server.App {
	return server.New(cfg, l, reg, ctrl, handler,
		server.WithConsumer(consumer, barsHandler),
		server.WithLoader(loader),
		server.WithForwarder(forwarder),
		server.WithHealthCheck("clickhouse", clickhouseHealth(client)),
	)
}

func clickhouseHealth(client *pkgch.Client) func(context.Context) error {
	if client == nil {
		return nil
	}
	return client.Health
}

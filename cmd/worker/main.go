// Command worker consumes ingest jobs from Kafka, loads the referenced
// exports and publishes outbox events.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/DK-com2/PATHFINDER-WEB/internal/cache"
	"github.com/DK-com2/PATHFINDER-WEB/internal/config"
	"github.com/DK-com2/PATHFINDER-WEB/internal/consumer"
	"github.com/DK-com2/PATHFINDER-WEB/internal/domain"
	"github.com/DK-com2/PATHFINDER-WEB/internal/logging"
	"github.com/DK-com2/PATHFINDER-WEB/internal/outbox"
	"github.com/DK-com2/PATHFINDER-WEB/internal/persistence/postgres"
	"github.com/DK-com2/PATHFINDER-WEB/internal/store"
	httptransport "github.com/DK-com2/PATHFINDER-WEB/internal/transport/http"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("load config")
	}
	logging.Init(cfg.Logging())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.Postgres.URL)
	if err != nil {
		logging.Fatal().Err(err).Msg("connect to postgres")
	}
	defer pool.Close()

	redisStore, err := store.NewRedisStore(ctx, cfg.Redis)
	if err != nil {
		logging.Fatal().Err(err).Str("addr", cfg.Redis.Addr).Msg("connect to redis")
	}
	defer redisStore.Close()

	opts, err := cfg.ServiceOptions()
	if err != nil {
		logging.Fatal().Err(err).Msg("build ingest service")
	}
	opts = append(opts, domain.WithPositions(redisStore), domain.WithInvalidator(newInvalidator(cfg.Cache)))
	svc := domain.NewService(postgres.NewRepository(pool), opts...)

	var registry outbox.SchemaRegistrar = outbox.NoRegistry{}
	if cfg.SchemaRegistry.URL != "" {
		registry = outbox.NewSchemaRegistryClient(cfg.SchemaRegistry.URL)
	}
	producer := outbox.NewKafkaProducer(cfg.Kafka.Brokers)
	defer producer.Close()
	dispatcher := outbox.NewDispatcher(pool, producer, registry, cfg.Outbox.PollInterval, cfg.Outbox.BatchSize)

	reader := consumer.NewKafkaReader(cfg.Kafka.Brokers, cfg.Kafka.IngestTopic, cfg.Kafka.ConsumerGroup)
	processor := consumer.NewProcessor(reader, consumer.NewIngestHandler(svc, redisStore, cfg.Timeline.DataDir))

	ops := httptransport.NewServer(httptransport.ServerConfig{Address: cfg.HTTP.Address}, httptransport.NewOpsMux(map[string]httptransport.HealthFunc{
		"postgres": func(r *http.Request) error { return pool.Ping(r.Context()) },
		"redis":    func(r *http.Request) error { return redisStore.Ping(r.Context()) },
	}))
	go func() {
		logging.Info().Str("addr", cfg.HTTP.Address).Msg("ops server listening")
		if err := ops.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Error().Err(err).Msg("ops server error")
		}
	}()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		dispatcher.Start(ctx)
	}()
	go func() {
		defer wg.Done()
		defer reader.Close()
		logging.Info().Str("topic", cfg.Kafka.IngestTopic).Str("group", cfg.Kafka.ConsumerGroup).Msg("consumer started")
		if err := processor.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("consumer stopped")
		}
	}()

	<-ctx.Done()
	logging.Info().Msg("worker shutdown requested")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := ops.Shutdown(shutdownCtx); err != nil {
		logging.Error().Err(err).Msg("ops server shutdown")
	}
	wg.Wait()
}

func newInvalidator(cfg config.CacheConfig) domain.CacheInvalidator {
	if cfg.InvalidateURL == "" {
		return cache.NoopInvalidator{}
	}
	return cache.NewHTTPInvalidator(cfg.InvalidateURL, cfg.Token, cfg.Timeout)
}

// Command dlqmanager replays dead-lettered outbox events.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/DK-com2/PATHFINDER-WEB/internal/config"
	"github.com/DK-com2/PATHFINDER-WEB/internal/logging"
	"github.com/DK-com2/PATHFINDER-WEB/internal/outbox"
	httptransport "github.com/DK-com2/PATHFINDER-WEB/internal/transport/http"
)

const dlqBatchSize = 50

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

	manager := outbox.NewDLQManager(pool, cfg.DLQ.MaxRetries, cfg.DLQ.BaseDelay)

	ops := httptransport.NewServer(httptransport.ServerConfig{Address: cfg.HTTP.Address}, httptransport.NewOpsMux(map[string]httptransport.HealthFunc{
		"postgres": func(r *http.Request) error { return pool.Ping(r.Context()) },
	}))
	go func() {
		if err := ops.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Error().Err(err).Msg("ops server error")
		}
	}()

	logging.Info().Dur("interval", cfg.DLQ.PollInterval).Int("max_retries", cfg.DLQ.MaxRetries).Msg("dlq manager started")
	manager.Run(ctx, cfg.DLQ.PollInterval, dlqBatchSize)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := ops.Shutdown(shutdownCtx); err != nil {
		logging.Error().Err(err).Msg("ops server shutdown")
	}
}

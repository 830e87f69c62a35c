// Command sweeper periodically defaults active loans that are past their due date and grace period.
package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"agrifin-backend/bootstrap"
	"agrifin-backend/internal/config"
	"agrifin-backend/internal/interfaces/router"

	"github.com/rs/zerolog/log"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load")
	}
	bootstrap.Logger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	_, svc, err := router.NewServices(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("services")
	}

	log.Info().Dur("interval", cfg.SweepInterval).Int("batch", cfg.SweepBatchSize).Msg("overdue sweeper started")
	ticker := time.NewTicker(cfg.SweepInterval)
	defer ticker.Stop()
	for {
		sweep(ctx, svc, cfg.SweepBatchSize)
		select {
		case <-ctx.Done():
			log.Info().Msg("overdue sweeper stopped")
			return
		case <-ticker.C:
		}
	}
}

func sweep(ctx context.Context, svc *router.Services, batch int) {
	start := time.Now()
	n, err := svc.Loans.SweepOverdue(ctx, batch)
	if err != nil {
		log.Error().Err(err).Int("marked", n).Msg("overdue sweep failed")
		return
	}
	log.Info().Int("marked", n).Dur("took", time.Since(start)).Msg("overdue sweep")
}

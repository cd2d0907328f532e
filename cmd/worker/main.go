package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"photoenhance/internal/bootstrap"
	"photoenhance/internal/infra"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv, "worker")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, err := bootstrap.Build(ctx, cfg, "worker", logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: failed to assemble pipeline")
	}
	defer c.Close()

	g, gctx := errgroup.WithContext(ctx)
	if c.Queue != nil {
		g.Go(func() error {
			logger.Info().Int("concurrency", cfg.ScanConcurrency).Msg("worker: consuming dispatch queue")
			return c.Dispatcher.Consume(gctx, c.Queue, cfg.ScanConcurrency)
		})
	} else {
		logger.Warn().Msg("worker: REDIS_URL not set; running sweeps only")
	}
	g.Go(func() error {
		logger.Info().Dur("interval", cfg.ScanInterval).Msg("worker: scanner started")
		return c.Scanner.Run(gctx, cfg.ScanInterval)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("worker: stopped with error")
		os.Exit(1)
	}
	logger.Info().Msg("worker: stopped")
}

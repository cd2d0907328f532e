package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"photoenhance/internal/bootstrap"
	"photoenhance/internal/http/handlers"
	httpapi "photoenhance/internal/http/httpapi"
	"photoenhance/internal/infra"
	"photoenhance/internal/infra/geoip"
	"photoenhance/internal/middleware"
)

func main() {
	// .env is optional
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv, "api")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, err := bootstrap.Build(ctx, cfg, "api", logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to assemble pipeline")
	}
	defer c.Close()

	geo, err := geoip.Open(cfg.GeoIPDBPath)
	if err != nil {
		logger.Warn().Err(err).Msg("geoip disabled")
	}
	defer geo.Close()

	app := &handlers.App{
		Logger:         logger,
		Admission:      c.Admission,
		Enhancer:       c.Orchestrator,
		Dispatcher:     c.Dispatcher,
		Scanner:        c.Scanner,
		Status:         c.Status,
		Details:        c.Details,
		Ledger:         c.Stores.Ledger,
		PurchaseURL:    cfg.PurchaseURL,
		MaxUploadBytes: cfg.UploadMaxBytes,
		Ready:          c.Stores.Ping,
		Backend:        c.Stores.Backend,
	}

	limiter := middleware.NewLimiter(cfg.RateLimitPerMin, time.Minute)
	go limiter.RunPruner(ctx)

	var lookup middleware.CountryLookup
	if geo != nil {
		lookup = geo.CountryCode
	}
	router := httpapi.NewRouter(app, httpapi.Options{
		JWTSecret:             cfg.JWTSecret,
		InternalServiceSecret: cfg.InternalServiceSecret,
		AllowedOrigins:        cfg.CORSAllowedOrigins,
		DefaultLocale:         "en",
		CountryLookup:         lookup,
		Limiter:               limiter,
		Logger:                logger,
	})

	if cfg.EmbeddedScanner {
		go func() {
			if err := c.Scanner.Run(ctx, cfg.ScanInterval); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error().Err(err).Msg("embedded scanner stopped")
			}
		}()
	}

	server := infra.NewHTTPServer(cfg, router)
	logger.Info().Str("backend", c.Stores.Backend).Msgf("API listening on :%s", cfg.Port)
	if err := server.Run(ctx); err != nil {
		logger.Error().Err(err).Msg("http server stopped")
	}
	// in-process dispatches hold claims; let them reach a terminal state
	c.Dispatcher.Wait()
	logger.Info().Msg("server stopped")
}

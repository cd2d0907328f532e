// Package bootstrap assembles the enhancement pipeline from configuration.
// The API and the worker share it so both run identical components.
package bootstrap

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"photoenhance/internal/adapter"
	"photoenhance/internal/cache"
	"photoenhance/internal/domain"
	"photoenhance/internal/imaging"
	"photoenhance/internal/infra"
	"photoenhance/internal/pipeline"
	"photoenhance/internal/providers/enhance"
	"photoenhance/internal/queue"
	"photoenhance/internal/storage"
)

// Components is the assembled pipeline.
type Components struct {
	Stores       *adapter.Stores
	Objects      *storage.FileStore
	Redis        *redis.Client
	Queue        *queue.RedisQueue
	Enhancer     enhance.Enhancer
	Orchestrator *pipeline.Orchestrator
	Dispatcher   *pipeline.Dispatcher
	Scanner      *pipeline.Scanner
	Status       *pipeline.StatusService
	Admission    *pipeline.Admission
	Details      *pipeline.Details
}

// Close releases Redis and the store.
func (c *Components) Close() {
	if c == nil {
		return
	}
	if c.Redis != nil {
		_ = c.Redis.Close()
	}
	c.Stores.Close()
}

// Build connects every backend named in cfg. service names the process in
// internal caller identities ("api", "worker").
func Build(ctx context.Context, cfg *infra.Config, service string, logger infra.Logger) (*Components, error) {
	stores, err := adapter.Open(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	c := &Components{Stores: stores}
	ok := false
	defer func() {
		if !ok {
			c.Close()
		}
	}()

	if c.Objects, err = storage.NewFileStore(cfg.StoragePath); err != nil {
		return nil, err
	}

	var statusCache cache.StatusCache = cache.Noop{}
	var triggerQueue pipeline.TriggerQueue
	if c.Redis, err = infra.NewRedisClient(ctx, cfg.RedisURL); err != nil {
		return nil, err
	}
	if c.Redis != nil {
		statusCache = cache.NewRedisStatusCache(c.Redis, cfg.StatusCacheTTL)
		c.Queue = queue.NewRedisQueue(c.Redis, queue.DefaultKey)
		triggerQueue = c.Queue
	}

	if c.Enhancer, err = NewEnhancer(ctx, cfg, stores, logger); err != nil {
		return nil, err
	}
	logger.Info().Str("backend", stores.Backend).Str("model", c.Enhancer.Model()).Bool("redis", c.Redis != nil).Msg("pipeline assembled")

	c.Orchestrator = pipeline.NewOrchestrator(stores.Photos, stores.Attempts, c.Objects, c.Enhancer, statusCache,
		pipeline.OrchestratorConfig{Budget: cfg.ProcessingBudget}, logger)
	c.Dispatcher = pipeline.NewDispatcher(c.Orchestrator, triggerQueue, pipeline.DispatcherConfig{
		Attempts: cfg.DispatchAttempts,
		Backoff:  cfg.DispatchBackoff,
		Service:  service,
	}, logger)
	c.Scanner = pipeline.NewScanner(stores.Photos, c.Orchestrator, statusCache, pipeline.ScannerConfig{
		StaleAfter:   cfg.StaleAfter,
		StalledAfter: cfg.StalledAfter(),
		Lookback:     cfg.CompletedLookback,
		BatchSize:    cfg.ScanBatchSize,
		Concurrency:  cfg.ScanConcurrency,
		Check:        domain.DefaultInconsistencyCheck,
		Service:      service + "-scanner",
	}, logger)
	c.Status = pipeline.NewStatusService(stores.Photos, statusCache, pipeline.StatusConfig{
		PollInterval:       cfg.PollInterval,
		PollTimeout:        cfg.PollTimeout,
		ExpectedProcessing: cfg.ExpectedProcessing,
		DispatchSlack:      cfg.DispatchBackoff * time.Duration(cfg.DispatchAttempts),
	}, logger)
	c.Admission = pipeline.NewAdmission(stores.Admission, stores.Ledger, c.Objects,
		imaging.Limits{MinBytes: cfg.UploadMinBytes, MaxBytes: cfg.UploadMaxBytes}, logger)
	c.Details = pipeline.NewDetails(stores.Photos, statusCache)

	ok = true
	return c, nil
}

// NewEnhancer picks the external model when a key is available from the
// environment or the credential store, and the synthetic enhancer otherwise.
func NewEnhancer(ctx context.Context, cfg *infra.Config, stores *adapter.Stores, logger infra.Logger) (enhance.Enhancer, error) {
	if strings.EqualFold(cfg.EnhancerProvider, "synthetic") {
		return enhance.NewSynthetic(0), nil
	}

	key, model := strings.TrimSpace(cfg.EnhancerAPIKey), cfg.EnhancerModel
	if key == "" && stores != nil && stores.Credentials != nil {
		lctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		cred, err := stores.Credentials.EnhancerCredential(lctx)
		cancel()
		if err != nil {
			return nil, fmt.Errorf("load enhancer credential: %w", err)
		}
		key = cred.Token
		if cred.Model != "" {
			model = cred.Model
		}
	}
	if key == "" {
		logger.Warn().Msg("no enhancer credential configured; using synthetic enhancer")
		return enhance.NewSynthetic(0), nil
	}

	client, err := enhance.NewGeminiClient(enhance.Options{
		APIKey:  key,
		BaseURL: cfg.EnhancerBaseURL,
		Model:   model,
		Logger:  &logger,
	})
	if err != nil {
		return nil, err
	}
	return client, nil
}

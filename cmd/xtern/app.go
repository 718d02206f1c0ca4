package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Sahmey2004/xtern/internal/audit"
	"github.com/Sahmey2004/xtern/internal/config"
	"github.com/Sahmey2004/xtern/internal/db"
	"github.com/Sahmey2004/xtern/internal/llm"
	"github.com/Sahmey2004/xtern/internal/logging"
	"github.com/Sahmey2004/xtern/internal/mcp"
	"github.com/Sahmey2004/xtern/internal/metrics"
	"github.com/Sahmey2004/xtern/internal/pipeline"
	"github.com/Sahmey2004/xtern/internal/rationale"
	"github.com/Sahmey2004/xtern/internal/review"
	"github.com/Sahmey2004/xtern/internal/stages"
	"github.com/Sahmey2004/xtern/internal/telemetry"
)

// app is the wired process: tool client, stages, runner and review service.
type app struct {
	cfg           *config.Config
	logger        *zap.Logger
	registry      *prometheus.Registry
	invoker       mcp.Invoker
	runner        *pipeline.Runner
	review        *review.Service
	db            *db.DB
	llmConfigured bool
	closers       []func()
}

// loadConfig reads and validates configuration from --config and the environment.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newApp wires every collaborator from cfg. The database and Redis are
// optional and only connected when their URLs are set.
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	logger := logging.New(cfg.Logging)
	a := &app{cfg: cfg, logger: logger}
	a.closers = append(a.closers, func() { _ = logger.Sync() })

	shutdownTracer, err := telemetry.InitTracer(cfg.Tracing, os.Stderr, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to init tracing: %w", err)
	}
	a.closers = append(a.closers, func() {
		if err := shutdownTracer(context.Background()); err != nil {
			logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	})

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewCollector("xtern", a.registry, logger)

	client := mcp.NewStdioClient(
		cfg.MCP.Registry(),
		mcp.WithTimeout(cfg.MCP.Timeout),
		mcp.WithClientName(cfg.MCP.ClientName),
		mcp.WithLogger(logger),
		mcp.WithMetrics(collector),
	)
	a.invoker = client

	if cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		rdb := redis.NewClient(opts)
		a.closers = append(a.closers, func() { _ = rdb.Close() })
		a.invoker = mcp.NewCachingInvoker(client, rdb, mcp.CacheConfig{
			TTL:        cfg.Redis.TTL,
			Operations: cfg.Redis.Operations,
		}, logger)
		logger.Info("tool result cache enabled", zap.Strings("operations", cfg.Redis.Operations))
	}

	llmClient, err := newLLMClient(ctx, cfg)
	if err != nil {
		var cfgErr *llm.ConfigError
		if !errors.As(err, &cfgErr) {
			a.Close()
			return nil, fmt.Errorf("failed to create LLM client: %w", err)
		}
		logger.Warn("LLM client not configured; stages will fail at their rationale step", zap.Error(err))
		llmClient = llm.NewUnconfiguredClient(err)
	} else {
		a.llmConfigured = true
	}
	a.closers = append(a.closers, func() { _ = llmClient.Close() })

	generator := rationale.New(llmClient,
		rationale.WithLogger(logger),
		rationale.WithFallbackRecorder(collector),
		rationale.WithProviderName(rationale.ProviderDisplayName(llm.Provider(cfg.LLM.Provider))),
	)

	p, err := pipeline.New(stages.All(stages.Deps{
		Invoker:   a.invoker,
		Explainer: generator,
		Audit:     audit.NewMCPSink(a.invoker, logger),
		Logger:    logger,
	})...)
	if err != nil {
		a.Close()
		return nil, err
	}

	runnerOpts := []pipeline.RunnerOption{
		pipeline.WithMetrics(collector),
		pipeline.WithRunLogger(logger),
		pipeline.WithRecordValidation(),
	}
	if cfg.Database.URL != "" {
		database, err := db.Connect(ctx, cfg.Database.URL)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		a.db = database
		a.closers = append(a.closers, database.Close)
		runnerOpts = append(runnerOpts, pipeline.WithStore(database))
	}
	a.runner = pipeline.NewRunner(p, runnerOpts...)
	a.review = review.NewService(a.invoker, logger)
	return a, nil
}

func newLLMClient(ctx context.Context, cfg *config.Config) (llm.Client, error) {
	key := cfg.LLMKey()
	if llm.Provider(cfg.LLM.Provider) == llm.ProviderGemini {
		return llm.NewClient(ctx, llmConfig(cfg), key)
	}
	return llm.NewOpenRouterClient(llmConfig(cfg), key, llm.OpenRouterOptions{
		BaseURL: cfg.LLM.BaseURL,
	})
}

// llmConfig picks the model table for the configured provider. llm.model
// replaces the standard tier, which every rationale call uses.
func llmConfig(cfg *config.Config) *llm.Config {
	if llm.Provider(cfg.LLM.Provider) == llm.ProviderGemini {
		c := llm.DefaultGeminiConfig()
		if cfg.LLM.Model != "" {
			c = c.WithModel(llm.TierStandard, cfg.LLM.Model)
		}
		return c
	}
	return llm.DefaultOpenRouterConfig(cfg.LLM.Model)
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

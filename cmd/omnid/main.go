// Package main provides the entry point for the omnid worker daemon.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gozhiyuan/omnimemory-sub000/internal/artifact"
	"github.com/gozhiyuan/omnimemory-sub000/internal/blob"
	"github.com/gozhiyuan/omnimemory-sub000/internal/config"
	"github.com/gozhiyuan/omnimemory-sub000/internal/db"
	"github.com/gozhiyuan/omnimemory-sub000/internal/embedding"
	"github.com/gozhiyuan/omnimemory-sub000/internal/enrich"
	"github.com/gozhiyuan/omnimemory-sub000/internal/episode"
	"github.com/gozhiyuan/omnimemory-sub000/internal/job"
	"github.com/gozhiyuan/omnimemory-sub000/internal/metrics"
	"github.com/gozhiyuan/omnimemory-sub000/internal/pipeline"
	"github.com/gozhiyuan/omnimemory-sub000/internal/rollup"
	"github.com/gozhiyuan/omnimemory-sub000/internal/service"
	"github.com/gozhiyuan/omnimemory-sub000/internal/vector"
)

const version = "0.1.0"

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Setup logger (dual output: stderr text + file JSON)
	logger, cleanup := config.SetupLogger(cfg.LogFile, cfg.LogLevel)
	defer cleanup()

	// Log startup info
	logger.Info("omnid starting",
		"version", version,
		"surrealdb_url", cfg.SurrealDBURL,
		"llm_model", cfg.LLMModel,
		"embedding_model", cfg.EmbedModel,
		"workers", cfg.Workers,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Connect to database
	dbCfg := db.Config{
		URL:       cfg.SurrealDBURL,
		Namespace: cfg.SurrealDBNamespace,
		Database:  cfg.SurrealDBDatabase,
		Username:  cfg.SurrealDBUser,
		Password:  cfg.SurrealDBPass,
		AuthLevel: cfg.SurrealDBAuthLevel,
	}

	dbClient, err := db.NewClient(ctx, dbCfg, logger)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		logger.Info("closing database connection")
		_ = dbClient.Close(context.Background())
	}()

	// Initialize database schema
	if err := dbClient.InitSchema(ctx, cfg.EmbedDimension); err != nil {
		logger.Error("failed to initialize database schema", "error", err)
		os.Exit(1)
	}

	// Blob store
	blobs, err := blob.NewFS(cfg.BlobDir)
	if err != nil {
		logger.Error("failed to open blob store", "error", err, "dir", cfg.BlobDir)
		os.Exit(1)
	}

	collector := metrics.NewCollector()

	// Embedder and vector index
	embedder, err := embedding.NewEmbedder(cfg, collector)
	if err != nil {
		logger.Error("failed to create embedder", "error", err)
		os.Exit(1)
	}
	logger.Info("embedder initialized", "model", embedder.Model(), "dimension", embedder.Dimension())
	index := vector.NewSurrealIndex(dbClient, embedder, logger)

	// Enrichment providers; a configuration problem degrades to disabled
	// providers instead of refusing to start.
	providers := enrich.New(cfg, collector, logger)

	cache := artifact.NewCache(dbClient, logger)

	// Engines
	runner := pipeline.NewRunner(pipeline.Deps{
		Store:     dbClient,
		Blobs:     blobs,
		Cache:     cache,
		Index:     index,
		Providers: providers,
		Config:    cfg,
		Log:       logger,
	})
	engine := episode.NewEngine(episode.Deps{
		Store:      dbClient,
		Index:      index,
		Cache:      cache,
		Summarizer: providers.Summary,
		Config:     cfg,
		Log:        logger,
	})
	aggregator := rollup.NewAggregator(dbClient, index, cfg, logger)

	// Task queue and orchestration
	queue := job.NewQueue(dbClient, cfg.TaskMaxAttempts)
	orchestrator := service.NewOrchestrator(service.OrchestratorDeps{
		Store:     dbClient,
		Blobs:     blobs,
		Pipeline:  runner,
		Episodes:  engine,
		Rollups:   aggregator,
		Queue:     queue,
		Index:     index,
		Collector: collector,
		Log:       logger,
	})

	dispatcher := job.NewDispatcher(dbClient, cfg, collector, logger)
	orchestrator.RegisterHandlers(dispatcher)

	// Scheduled work: weekly rollups, optional reconcile sweeps, and
	// periodic metrics snapshots.
	go scheduleWeekly(ctx, orchestrator, cfg.WeeklyInterval, logger)
	if cfg.ReconcileInterval > 0 {
		go scheduleReconcile(ctx, orchestrator, cfg.ReconcileInterval, logger)
	}
	go logMetrics(ctx, collector, cfg.MetricsInterval, logger)

	// Run dispatcher (blocks until context cancelled, then drains)
	if err := dispatcher.Run(ctx); err != nil && ctx.Err() == nil {
		logger.Error("dispatcher error", "error", err)
		os.Exit(1)
	}

	logSnapshot(collector, logger)
	logger.Info("shutdown complete")
}

// scheduleWeekly enqueues weekly rollups for every recently active user on
// a fixed interval.
func scheduleWeekly(ctx context.Context, orch *service.Orchestrator, interval time.Duration, logger *slog.Logger) {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := orch.ScheduleWeeklyRollups(ctx, time.Now()); err != nil && ctx.Err() == nil {
				logger.Error("schedule weekly rollups", "error", err)
			}
		}
	}
}

// scheduleReconcile periodically enqueues reconcile sweeps over the last
// day per active user.
func scheduleReconcile(ctx context.Context, orch *service.Orchestrator, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now()
			if _, err := orch.TriggerReconcile(ctx, now.AddDate(0, 0, -1), now); err != nil && ctx.Err() == nil {
				logger.Error("trigger reconcile", "error", err)
			}
		}
	}
}

// logMetrics emits an operations snapshot at a fixed interval.
func logMetrics(ctx context.Context, collector *metrics.Collector, interval time.Duration, logger *slog.Logger) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			logSnapshot(collector, logger)
		}
	}
}

func logSnapshot(collector *metrics.Collector, logger *slog.Logger) {
	snapshot := collector.Snapshot()
	for _, name := range snapshot.Names() {
		op := snapshot.Operations[name]
		attrs := []any{
			"op", name,
			"count", op.Count,
			"avg_ms", op.AvgTimeMs,
			"min_ms", op.MinTimeMs,
			"max_ms", op.MaxTimeMs,
		}
		if op.TotalInputTokens != nil {
			attrs = append(attrs,
				"in_tokens", *op.TotalInputTokens,
				"out_tokens", *op.TotalOutputTokens,
			)
		}
		logger.Info("op metrics", attrs...)
	}
}

package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/freelance-manager/freelance-api/internal/app"
	"github.com/freelance-manager/freelance-api/internal/archive"
	"github.com/freelance-manager/freelance-api/internal/finance"
	jobmetrics "github.com/freelance-manager/freelance-api/internal/jobs"
	"github.com/freelance-manager/freelance-api/internal/platform/cache"
	"github.com/freelance-manager/freelance-api/internal/platform/db"
	"github.com/freelance-manager/freelance-api/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)
	if err := run(ctx, cfg, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *app.Config, logger *slog.Logger) error {
	calc, err := cfg.TaxYearCalculator()
	if err != nil {
		return err
	}

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		return err
	}
	defer pool.Close()

	files, closeFiles, err := app.OpenFileStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeFiles(); err != nil {
			logger.Warn("file store close", slog.Any("error", err))
		}
	}()

	// Archive builds read the data store directly; the summary cache is not
	// needed here.
	financeService := finance.NewService(finance.NewRepository(pool), nil, calc, logger)

	metrics := jobmetrics.NewMetrics(nil)
	builder := archive.NewBuilder(financeService, files, cfg.ArchiveScratchDir, logger)
	builder.WithMetrics(metrics)
	archiveJob := archive.NewJob(archive.JobConfig{
		Builder:    builder,
		Calculator: calc,
		Metrics:    metrics,
		Logger:     logger,
	})

	redisOpt, err := cache.AsynqOpt(cfg.RedisAddr)
	if err != nil {
		return err
	}
	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   redisOpt,
		Logger:      logger,
		Concurrency: cfg.WorkerConcurrency,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskArchiveBuild, Handler: archiveJob.Handle},
		},
	})
	if err != nil {
		return err
	}

	logger.Info("worker started", slog.Int("concurrency", cfg.WorkerConcurrency))
	return worker.Run(ctx)
}

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/freelance-manager/freelance-api/cmd/freelance/cli"
	"github.com/freelance-manager/freelance-api/internal/app"
	"github.com/freelance-manager/freelance-api/internal/archive"
	"github.com/freelance-manager/freelance-api/internal/finance"
	financehttp "github.com/freelance-manager/freelance-api/internal/finance/http"
	jobmetrics "github.com/freelance-manager/freelance-api/internal/jobs"
	"github.com/freelance-manager/freelance-api/internal/observability"
	"github.com/freelance-manager/freelance-api/internal/platform/cache"
	"github.com/freelance-manager/freelance-api/internal/platform/db"
	"github.com/freelance-manager/freelance-api/internal/query"
	"github.com/freelance-manager/freelance-api/jobs"
)

const usage = `usage: freelance [serve | migrate | jobs archive <owner-id> <year> | jobs stats | jobs failed | cache bump <owner-id>]`

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
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

	args := os.Args[1:]
	if len(args) == 0 {
		args = []string{"serve"}
	}
	switch {
	case args[0] == "serve":
		err = serve(ctx, cfg, logger)
	case args[0] == "migrate":
		err = db.Migrate(cfg.PGDSN)
		if err == nil {
			logger.Info("migrations applied")
		}
	case args[0] == "jobs" && len(args) > 1:
		err = runJobs(ctx, cfg, logger, args[1], args[2:])
	case args[0] == "cache" && len(args) == 3 && args[1] == "bump":
		err = bumpCache(ctx, cfg, args[2])
	default:
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		logger.Error("command failed", slog.String("command", args[0]), slog.Any("error", err))
		os.Exit(1)
	}
}

func serve(ctx context.Context, cfg *app.Config, logger *slog.Logger) error {
	if cfg.MigrateOnStart {
		if err := db.Migrate(cfg.PGDSN); err != nil {
			return err
		}
		logger.Info("migrations applied")
	}

	calc, err := cfg.TaxYearCalculator()
	if err != nil {
		return err
	}

	dbpool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer dbpool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		if redisClient == nil {
			return err
		}
		logger.Warn("redis ping", slog.Any("error", err))
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	files, closeFiles, err := app.OpenFileStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeFiles(); err != nil {
			logger.Warn("file store close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	archiveMetrics := jobmetrics.NewMetrics(metrics.Registerer())

	financeCache := finance.NewCache(redisClient, cfg.FinanceCacheTTL)
	if err := financeCache.ListenForInvalidation(ctx, finance.BumpChannel); err != nil {
		logger.Warn("finance cache invalidation listener", slog.Any("error", err))
	}
	financeService := finance.NewService(finance.NewRepository(dbpool), financeCache, calc, logger)

	builder := archive.NewBuilder(financeService, files, cfg.ArchiveScratchDir, logger)
	builder.WithMetrics(archiveMetrics)

	redisOpt, err := cache.AsynqOpt(cfg.RedisAddr)
	if err != nil {
		return err
	}
	queue, err := jobs.NewClient(redisOpt)
	if err != nil {
		return fmt.Errorf("queue client: %w", err)
	}
	defer func() {
		if err := queue.Close(); err != nil {
			logger.Warn("queue close", slog.Any("error", err))
		}
	}()
	inspector := asynq.NewInspector(redisOpt)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	financeHandler := financehttp.NewHandler(financehttp.Config{
		Logger:     logger,
		Aggregator: financeService,
		Finder:     financeService.Store(),
		Translator: query.NewTranslator(query.FinancialKinds(calc)),
		Calculator: calc,
		Builder:    builder,
		Queue:      queue,
		Files:      files,
	})

	router := app.NewRouter(app.RouterParams{
		Logger:         logger,
		Config:         cfg,
		FinanceHandler: financeHandler,
		JobHandler:     jobs.NewHandler(inspector, logger),
		Metrics:        metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr), slog.String("tax_year", calc.Current(time.Now()).Label()))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	return nil
}

func runJobs(ctx context.Context, cfg *app.Config, logger *slog.Logger, sub string, args []string) error {
	redisOpt, err := cache.AsynqOpt(cfg.RedisAddr)
	if err != nil {
		return err
	}
	jobsCLI := cli.NewJobsCLI(redisOpt)
	defer jobsCLI.Close()

	switch sub {
	case "archive":
		payload, err := cli.ParseArchiveArgs(args)
		if err != nil {
			return err
		}
		info, err := jobsCLI.TriggerArchive(ctx, payload)
		if err != nil {
			return err
		}
		logger.Info("archive build enqueued", slog.String("task_id", info.ID), slog.String("owner_id", payload.OwnerID.String()), slog.Int("year", payload.Year))
	case "stats":
		stats, err := jobsCLI.InspectQueue(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("queue=%s pending=%d active=%d scheduled=%d retry=%d archived=%d\n",
			stats.Queue, stats.Pending, stats.Active, stats.Scheduled, stats.Retry, stats.Archived)
	case "failed":
		tasks, err := jobsCLI.ListFailed(ctx, 20)
		if err != nil {
			return err
		}
		for _, t := range tasks {
			fmt.Printf("%s %s %s\n", t.ID, t.LastFailedAt.Format(time.RFC3339), t.LastErr)
		}
	default:
		return errors.New(usage)
	}
	return nil
}

func bumpCache(ctx context.Context, cfg *app.Config, rawOwner string) error {
	owner, err := uuid.Parse(rawOwner)
	if err != nil {
		return fmt.Errorf("owner id: %w", err)
	}
	opts, err := cache.Options(cfg.RedisAddr)
	if err != nil {
		return err
	}
	client := redis.NewClient(opts)
	defer client.Close()
	return finance.NewCache(client, cfg.FinanceCacheTTL).Bump(ctx, owner)
}

package archive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/freelance-manager/freelance-api/internal/jobs"
	"github.com/freelance-manager/freelance-api/internal/shared"
	"github.com/freelance-manager/freelance-api/internal/taxyear"
	"github.com/freelance-manager/freelance-api/jobs"
)

// JobConfig wires dependencies required by the worker job.
type JobConfig struct {
	Builder    *Builder
	Calculator *taxyear.Calculator
	Metrics    *jobmetrics.Metrics
	Logger     *slog.Logger
}

// Job processes archive build requests coming from the queue.
type Job struct {
	builder *Builder
	calc    *taxyear.Calculator
	metrics *jobmetrics.Metrics
	logger  *slog.Logger
}

// NewJob constructs a Job handler.
func NewJob(cfg JobConfig) *Job {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Job{builder: cfg.Builder, calc: cfg.Calculator, metrics: cfg.Metrics, logger: logger}
}

// Handle fulfils the asynq.HandlerFunc contract. Requests that can never
// succeed are not retried; storage faults are returned for one retry.
func (j *Job) Handle(ctx context.Context, task *asynq.Task) (err error) {
	if j == nil || j.builder == nil || j.calc == nil {
		return errors.New("archive job not configured")
	}
	payload, err := jobs.DecodeArchiveBuild(task)
	if err != nil {
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}
	tracker := j.metrics.Track(jobs.TaskArchiveBuild)
	defer func() {
		err = tracker.End(err)
	}()

	logger := j.logger.With(slog.String("owner_id", payload.OwnerID.String()), slog.Int("year", payload.Year))
	req := Request{
		OwnerID: payload.OwnerID,
		Window:  j.calc.Specified(payload.Year),
		Names:   NamesFor(YearScope(payload.Year)),
	}
	built, err := j.builder.Build(ctx, req)
	switch {
	case err == nil:
		logger.Info("archive stored", slog.String("path", built.Path), slog.Int64("size", built.Size))
		return nil
	case errors.Is(err, shared.ErrNotFound), errors.Is(err, shared.ErrValidation), errors.Is(err, shared.ErrUnauthorized):
		logger.Info("archive skipped", slog.Any("error", err))
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	default:
		logger.Error("archive build failed", slog.Bool("retryable", shared.IsRetryable(err)), slog.Any("error", err))
		return err
	}
}

package cli

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/freelance-manager/freelance-api/jobs"
)

// JobsCLI wraps manual management helpers for the archive queue.
type JobsCLI struct {
	client    *asynq.Client
	inspector *asynq.Inspector
}

// NewJobsCLI initialises the helpers against the queue Redis.
func NewJobsCLI(opt asynq.RedisClientOpt) *JobsCLI {
	return &JobsCLI{client: asynq.NewClient(opt), inspector: asynq.NewInspector(opt)}
}

// Close releases underlying resources.
func (c *JobsCLI) Close() error {
	var err error
	if c.inspector != nil {
		if closeErr := c.inspector.Close(); closeErr != nil {
			err = closeErr
		}
	}
	if c.client != nil {
		if closeErr := c.client.Close(); closeErr != nil {
			err = closeErr
		}
	}
	return err
}

// ParseArchiveArgs converts "<owner-id> <year>" into a payload.
func ParseArchiveArgs(args []string) (jobs.ArchiveBuildPayload, error) {
	if len(args) != 2 {
		return jobs.ArchiveBuildPayload{}, errors.New("usage: jobs archive <owner-id> <year>")
	}
	owner, err := uuid.Parse(args[0])
	if err != nil {
		return jobs.ArchiveBuildPayload{}, fmt.Errorf("owner id: %w", err)
	}
	year, err := strconv.Atoi(args[1])
	if err != nil {
		return jobs.ArchiveBuildPayload{}, fmt.Errorf("year: %w", err)
	}
	payload := jobs.ArchiveBuildPayload{OwnerID: owner, Year: year}
	if err := payload.Validate(); err != nil {
		return jobs.ArchiveBuildPayload{}, err
	}
	return payload, nil
}

// TriggerArchive enqueues an archive build for one owner and tax year.
func (c *JobsCLI) TriggerArchive(ctx context.Context, payload jobs.ArchiveBuildPayload) (*asynq.TaskInfo, error) {
	if c == nil || c.client == nil {
		return nil, errors.New("jobs cli: client not configured")
	}
	task, err := jobs.NewArchiveBuildTask(payload)
	if err != nil {
		return nil, err
	}
	return c.client.EnqueueContext(ctx, task, asynq.Queue(jobs.QueueDefault))
}

// QueueStats summarises the current queue state.
type QueueStats struct {
	Queue     string
	Pending   int
	Active    int
	Scheduled int
	Retry     int
	Archived  int
}

// InspectQueue reports the metrics for the default queue.
func (c *JobsCLI) InspectQueue(ctx context.Context) (QueueStats, error) {
	if c == nil || c.inspector == nil {
		return QueueStats{}, errors.New("jobs cli: inspector not configured")
	}
	info, err := c.inspector.GetQueueInfo(jobs.QueueDefault)
	if err != nil {
		return QueueStats{}, err
	}
	stats := QueueStats{Queue: jobs.QueueDefault}
	if info != nil {
		stats.Pending = info.Pending
		stats.Active = info.Active
		stats.Scheduled = info.Scheduled
		stats.Retry = info.Retry
		stats.Archived = info.Archived
	}
	return stats, nil
}

// ListFailed returns archived (dead) archive builds, newest page first.
func (c *JobsCLI) ListFailed(ctx context.Context, size int) ([]*asynq.TaskInfo, error) {
	if c == nil || c.inspector == nil {
		return nil, errors.New("jobs cli: inspector not configured")
	}
	if size <= 0 {
		size = 10
	}
	return c.inspector.ListArchivedTasks(jobs.QueueDefault, asynq.PageSize(size), asynq.Page(1))
}

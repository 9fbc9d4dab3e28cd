package jobs

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskArchiveBuild builds and stores a tax year archive.
	TaskArchiveBuild = "finance:archive:build"
)

var payloadValidator = validator.New()

// ArchiveBuildPayload identifies the owner and tax year to archive.
type ArchiveBuildPayload struct {
	OwnerID uuid.UUID `json:"owner_id" validate:"required"`
	Year    int       `json:"year" validate:"gte=1900,lte=9999"`
}

// Validate checks the payload fields.
func (p ArchiveBuildPayload) Validate() error {
	return payloadValidator.Struct(p)
}

// NewArchiveBuildTask constructs an Asynq task.
func NewArchiveBuildTask(payload ArchiveBuildPayload) (*asynq.Task, error) {
	if err := payload.Validate(); err != nil {
		return nil, fmt.Errorf("archive build payload: %w", err)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskArchiveBuild, data, asynq.MaxRetry(1)), nil
}

// DecodeArchiveBuild parses and validates a task payload.
func DecodeArchiveBuild(t *asynq.Task) (ArchiveBuildPayload, error) {
	var payload ArchiveBuildPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return ArchiveBuildPayload{}, err
	}
	if err := payload.Validate(); err != nil {
		return ArchiveBuildPayload{}, err
	}
	return payload, nil
}

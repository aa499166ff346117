package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
)

// DefaultIdempotencyRetention applies when neither the task nor the job sets one.
const DefaultIdempotencyRetention = 7 * 24 * time.Hour

// KeyCleaner deletes idempotency keys created before now minus olderThan.
type KeyCleaner interface {
	Cleanup(ctx context.Context, olderThan time.Duration) (int64, error)
}

// IdempotencyCleanupJob purges expired keys so retried batches eventually become new batches.
type IdempotencyCleanupJob struct {
	Cleaner   KeyCleaner
	Retention time.Duration
	Logger    *slog.Logger
	Metrics   JobObserver
}

// NewIdempotencyCleanupJob constructs the job handler.
func NewIdempotencyCleanupJob(cleaner KeyCleaner, retention time.Duration, logger *slog.Logger, metrics JobObserver) *IdempotencyCleanupJob {
	return &IdempotencyCleanupJob{Cleaner: cleaner, Retention: retention, Logger: logger, Metrics: metrics}
}

// Handle executes the cleanup.
func (j *IdempotencyCleanupJob) Handle(ctx context.Context, task *asynq.Task) error {
	if j == nil || j.Cleaner == nil {
		return errors.New("idempotency cleanup: cleaner not configured")
	}
	var payload IdempotencyCleanupPayload
	if len(task.Payload()) > 0 {
		if err := json.Unmarshal(task.Payload(), &payload); err != nil {
			j.observe("invalid")
			return asynq.SkipRetry
		}
	}
	retention := payload.OlderThan
	if retention <= 0 {
		retention = j.Retention
	}
	if retention <= 0 {
		retention = DefaultIdempotencyRetention
	}

	start := time.Now()
	removed, err := j.Cleaner.Cleanup(ctx, retention)
	if err != nil {
		j.observe("error")
		j.log().Error("purge idempotency keys", slog.Duration("retention", retention), slog.Any("error", err))
		return err
	}
	j.observe("success")
	j.log().Info("purged idempotency keys",
		slog.Int64("removed", removed),
		slog.Duration("retention", retention),
		slog.Duration("duration", time.Since(start)))
	return nil
}

func (j *IdempotencyCleanupJob) observe(outcome string) {
	if j.Metrics != nil {
		j.Metrics.ObserveJob(TaskIdempotencyCleanup, outcome)
	}
}

func (j *IdempotencyCleanupJob) log() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}

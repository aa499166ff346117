package jobs

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hibiken/asynq"
)

// JobObserver records job outcomes.
type JobObserver interface {
	ObserveJob(taskType, outcome string)
}

// WorkflowNotifyJob writes transitions to the approver inbox log.
type WorkflowNotifyJob struct {
	Logger  *slog.Logger
	Metrics JobObserver
}

// NewWorkflowNotifyJob constructs the job handler.
func NewWorkflowNotifyJob(logger *slog.Logger, metrics JobObserver) *WorkflowNotifyJob {
	return &WorkflowNotifyJob{Logger: logger, Metrics: metrics}
}

// Handle processes TaskWorkflowNotify tasks.
func (j *WorkflowNotifyJob) Handle(ctx context.Context, task *asynq.Task) error {
	var payload WorkflowNotifyPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		j.observe("invalid")
		j.log().Warn("drop malformed workflow notification", slog.Any("error", err))
		return asynq.SkipRetry
	}
	j.log().InfoContext(ctx, "workflow notification",
		slog.String("kind", payload.Kind),
		slog.Int64("document_id", payload.DocumentID),
		slog.String("number", payload.Number),
		slog.String("action", payload.Action),
		slog.Int64("actor_id", payload.ActorID),
		slog.String("status", payload.Status),
		slog.String("approval_status", payload.Approval),
		slog.Time("at", payload.At))
	j.observe("success")
	return nil
}

func (j *WorkflowNotifyJob) observe(outcome string) {
	if j.Metrics != nil {
		j.Metrics.ObserveJob(TaskWorkflowNotify, outcome)
	}
}

func (j *WorkflowNotifyJob) log() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}

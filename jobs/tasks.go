package jobs

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/docflow/internal/workflow"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskWorkflowNotify delivers a committed transition to the approver inbox.
	TaskWorkflowNotify = "workflow:notify"
	// TaskIdempotencyCleanup purges expired allocation idempotency keys.
	TaskIdempotencyCleanup = "idempotency:cleanup"
)

// WorkflowNotifyPayload describes a committed document transition.
type WorkflowNotifyPayload struct {
	Kind       string    `json:"kind"`
	DocumentID int64     `json:"document_id"`
	Number     string    `json:"number"`
	Action     string    `json:"action"`
	ActorID    int64     `json:"actor_id"`
	Status     string    `json:"status"`
	Approval   string    `json:"approval_status"`
	At         time.Time `json:"at"`
}

// PayloadFromNotification maps a workflow notification onto the task payload.
func PayloadFromNotification(n workflow.Notification) WorkflowNotifyPayload {
	return WorkflowNotifyPayload{
		Kind:       string(n.Kind),
		DocumentID: n.DocumentID,
		Number:     n.Number,
		Action:     string(n.Action),
		ActorID:    n.ActorID,
		Status:     string(n.Status),
		Approval:   string(n.Approval),
		At:         n.At,
	}
}

// NewWorkflowNotifyTask constructs a notification task. Retries stop after a
// few attempts since a missed inbox entry is not critical.
func NewWorkflowNotifyTask(payload WorkflowNotifyPayload) (*asynq.Task, error) {
	if payload.Kind == "" || payload.DocumentID <= 0 {
		return nil, fmt.Errorf("workflow notify: kind and document id are required")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskWorkflowNotify, data, asynq.Queue(QueueDefault), asynq.MaxRetry(3)), nil
}

// IdempotencyCleanupPayload configures the key retention window.
type IdempotencyCleanupPayload struct {
	OlderThan time.Duration `json:"older_than"`
}

// NewIdempotencyCleanupTask creates the periodic purge task.
func NewIdempotencyCleanupTask(olderThan time.Duration) (*asynq.Task, error) {
	data, err := json.Marshal(IdempotencyCleanupPayload{OlderThan: olderThan})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, data, asynq.Queue(QueueDefault)), nil
}

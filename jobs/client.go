package jobs

import (
	"context"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/docflow/internal/workflow"
)

type enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
	Close() error
}

// Client enqueues tasks. The API server uses it as the workflow notifier.
type Client struct {
	client enqueuer
}

var _ workflow.Notifier = (*Client)(nil)

// NewClient constructs an asynq backed client.
func NewClient(redisOpts asynq.RedisClientOpt) *Client {
	return &Client{client: asynq.NewClient(redisOpts)}
}

// EnqueueWorkflowNotification enqueues a workflow:notify task.
func (c *Client) EnqueueWorkflowNotification(ctx context.Context, payload WorkflowNotifyPayload) (*asynq.TaskInfo, error) {
	task, err := NewWorkflowNotifyTask(payload)
	if err != nil {
		return nil, err
	}
	return c.client.EnqueueContext(ctx, task)
}

// NotifyTransition implements workflow.Notifier.
func (c *Client) NotifyTransition(ctx context.Context, n workflow.Notification) error {
	_, err := c.EnqueueWorkflowNotification(ctx, PayloadFromNotification(n))
	return err
}

// Close releases the redis connection.
func (c *Client) Close() error {
	return c.client.Close()
}

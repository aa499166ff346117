package cli

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/docflow/jobs"
)

type stubClient struct {
	tasks []*asynq.Task
}

func (s *stubClient) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	s.tasks = append(s.tasks, task)
	return &asynq.TaskInfo{ID: "1", Type: task.Type()}, nil
}

func (s *stubClient) Close() error { return nil }

type stubInspector struct{}

func (stubInspector) GetQueueInfo(string) (*asynq.QueueInfo, error) {
	return &asynq.QueueInfo{Queue: jobs.QueueDefault, Pending: 2, Scheduled: 1}, nil
}

func (stubInspector) Close() error { return nil }

func TestTriggerCleanup(t *testing.T) {
	client := &stubClient{}
	c := &JobsCLI{client: client, inspector: stubInspector{}, retention: 24 * time.Hour}

	info, err := c.Trigger(context.Background(), jobs.TaskIdempotencyCleanup)
	require.NoError(t, err)
	require.Equal(t, jobs.TaskIdempotencyCleanup, info.Type)

	var payload jobs.IdempotencyCleanupPayload
	require.NoError(t, json.Unmarshal(client.tasks[0].Payload(), &payload))
	require.Equal(t, 24*time.Hour, payload.OlderThan)

	_, err = c.Trigger(context.Background(), "gl:integrity")
	require.Error(t, err)
}

func TestInspectQueue(t *testing.T) {
	c := &JobsCLI{client: &stubClient{}, inspector: stubInspector{}}
	stats, err := c.InspectQueue()
	require.NoError(t, err)
	require.Equal(t, QueueStats{Queue: jobs.QueueDefault, Pending: 2, Scheduled: 1}, stats)

	var empty *JobsCLI
	_, err = empty.InspectQueue()
	require.Error(t, err)
}

package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"

	"github.com/IstiakDeveloper/gosto-khor/jobs"
)

type recordingEnqueuer struct {
	tasks []*asynq.Task
}

func (r *recordingEnqueuer) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	r.tasks = append(r.tasks, task)
	return &asynq.TaskInfo{ID: "t1", Type: task.Type(), Queue: jobs.QueueDefault}, nil
}

type stubInspector struct{}

func (stubInspector) GetQueueInfo(string) (*asynq.QueueInfo, error) {
	return &asynq.QueueInfo{Queue: jobs.QueueDefault, Pending: 2, Retry: 1}, nil
}

func (stubInspector) ListScheduledTasks(string, ...asynq.ListOption) ([]*asynq.TaskInfo, error) {
	return nil, nil
}

func TestTriggerAccrueDue(t *testing.T) {
	enq := &recordingEnqueuer{}
	c := &JobsCLI{client: enq, inspector: stubInspector{}}
	var out bytes.Buffer

	require.NoError(t, c.run(context.Background(), []string{"trigger", jobs.TaskAccrueDue, "2024-02-05"}, &out))
	require.Len(t, enq.tasks, 1)
	var payload jobs.AccrueDuePayload
	require.NoError(t, json.Unmarshal(enq.tasks[0].Payload(), &payload))
	require.Equal(t, "2024-02-05", payload.Date)
	require.Equal(t, "enqueued somiti:accrue-due id=t1 queue=default\n", out.String())

	require.Error(t, c.run(context.Background(), []string{"trigger", jobs.TaskAccrueDue, "05-02-2024"}, &out))
	require.Len(t, enq.tasks, 1)
}

func TestTriggerCleanupAndWarmup(t *testing.T) {
	enq := &recordingEnqueuer{}
	c := &JobsCLI{client: enq}

	_, err := c.Trigger(context.Background(), jobs.TaskIdempotencyCleanup, "48")
	require.NoError(t, err)
	var payload jobs.IdempotencyCleanupPayload
	require.NoError(t, json.Unmarshal(enq.tasks[0].Payload(), &payload))
	require.Equal(t, 48, payload.RetentionHours)

	_, err = c.Trigger(context.Background(), jobs.TaskIdempotencyCleanup, "-1")
	require.Error(t, err)

	_, err = c.Trigger(context.Background(), jobs.TaskReportsWarmup, "")
	require.NoError(t, err)
	require.Equal(t, jobs.TaskReportsWarmup, enq.tasks[1].Type())

	_, err = c.Trigger(context.Background(), "mail:send", "")
	require.EqualError(t, err, "jobs cli: unsupported job mail:send")
}

func TestStatsAndUsage(t *testing.T) {
	c := &JobsCLI{client: &recordingEnqueuer{}, inspector: stubInspector{}}
	var out bytes.Buffer
	require.NoError(t, c.run(context.Background(), []string{"stats"}, &out))
	require.Equal(t, "queue=default pending=2 active=0 scheduled=0 retry=1\n", out.String())

	require.EqualError(t, c.run(context.Background(), nil, &out), usage)
	require.EqualError(t, c.run(context.Background(), []string{"explode"}, &out), usage)

	var unset *JobsCLI
	_, err := unset.InspectQueue(context.Background())
	require.Error(t, err)
}

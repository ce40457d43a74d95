package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgerline/invoicing/internal/app"
	"github.com/ledgerline/invoicing/jobs"
)

var triggerAt = time.Date(2024, time.March, 15, 9, 30, 0, 0, time.UTC)

type fakeClient struct {
	tasks  []*asynq.Task
	closed bool
}

func (f *fakeClient) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	f.tasks = append(f.tasks, task)
	return &asynq.TaskInfo{ID: "task-1", Queue: jobs.QueueDefault, Type: task.Type()}, nil
}

func (f *fakeClient) Close() error {
	f.closed = true
	return nil
}

type fakeInspector struct {
	info      *asynq.QueueInfo
	scheduled []*asynq.TaskInfo
	err       error
}

func (f *fakeInspector) GetQueueInfo(string) (*asynq.QueueInfo, error) {
	return f.info, f.err
}

func (f *fakeInspector) ListScheduledTasks(string, ...asynq.ListOption) ([]*asynq.TaskInfo, error) {
	return f.scheduled, f.err
}

func (f *fakeInspector) Close() error { return nil }

func newTestCLI() (*JobsCLI, *fakeClient, *fakeInspector) {
	client := &fakeClient{}
	inspector := &fakeInspector{info: &asynq.QueueInfo{Queue: jobs.QueueDefault, Pending: 3, Retry: 1}}
	return &JobsCLI{client: client, inspector: inspector, clock: func() time.Time { return triggerAt }}, client, inspector
}

func run(t *testing.T, c *JobsCLI, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand(Options{
		LoadConfig: func() (*app.Config, error) { return &app.Config{}, nil },
		OpenJobs:   func(*app.Config) *JobsCLI { return c },
	})
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestJobsTrigger(t *testing.T) {
	c, client, _ := newTestCLI()

	out, err := run(t, c, "jobs", "trigger", jobs.TaskOverdueSweep)
	require.NoError(t, err)
	assert.Equal(t, "enqueued invoice:overdue-sweep as task-1 on default\n", out)
	require.Len(t, client.tasks, 1)
	assert.True(t, client.closed)

	var payload jobs.ScheduledRunPayload
	require.NoError(t, json.Unmarshal(client.tasks[0].Payload(), &payload))
	assert.True(t, triggerAt.Equal(payload.ScheduledFor))

	_, err = run(t, c, "jobs", "trigger", "report:refresh")
	assert.Error(t, err)
	assert.Len(t, client.tasks, 1)

	_, err = c.Trigger(context.Background(), "report:refresh")
	assert.ErrorContains(t, err, "unsupported job")
}

func TestJobsStatsAndScheduled(t *testing.T) {
	c, _, inspector := newTestCLI()

	out, err := run(t, c, "jobs", "stats")
	require.NoError(t, err)
	assert.Contains(t, out, "PENDING")
	assert.Contains(t, out, "default")

	out, err = run(t, c, "jobs", "scheduled")
	require.NoError(t, err)
	assert.Equal(t, "no scheduled tasks\n", out)

	inspector.scheduled = []*asynq.TaskInfo{{ID: "abc", Type: jobs.TaskScheduleGenerate, NextProcessAt: triggerAt}}
	out, err = run(t, c, "jobs", "scheduled", "--size", "5")
	require.NoError(t, err)
	assert.Contains(t, out, "schedule:generate")
	assert.Contains(t, out, "2024-03-15T09:30:00Z")

	inspector.err = errors.New("redis down")
	_, err = run(t, c, "jobs", "stats")
	assert.EqualError(t, err, "redis down")
}

func TestMigrateRejectsUnknownStep(t *testing.T) {
	c, _, _ := newTestCLI()
	_, err := run(t, c, "migrate", "sideways")
	assert.Error(t, err)
	_, err = run(t, c, "migrate")
	assert.Error(t, err)
}

func TestInspectQueueCopiesCounters(t *testing.T) {
	c, _, _ := newTestCLI()
	stats, err := c.InspectQueue()
	require.NoError(t, err)
	assert.Equal(t, QueueStats{Queue: jobs.QueueDefault, Pending: 3, Retry: 1}, stats)

	var nilCLI *JobsCLI
	_, err = nilCLI.InspectQueue()
	assert.Error(t, err)
}

package cli

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/charterdesk/charterdesk/jobs"
)

type fakeClient struct {
	tasks []*asynq.Task
}

func (f *fakeClient) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	f.tasks = append(f.tasks, task)
	return &asynq.TaskInfo{ID: "t1", Type: task.Type(), Queue: jobs.QueueDefault}, nil
}

func (f *fakeClient) Close() error { return nil }

type fakeInspector struct {
	info *asynq.QueueInfo
	err  error
}

func (f fakeInspector) GetQueueInfo(string) (*asynq.QueueInfo, error) { return f.info, f.err }

func (f fakeInspector) ListScheduledTasks(string, ...asynq.ListOption) ([]*asynq.TaskInfo, error) {
	return nil, f.err
}

func (f fakeInspector) Close() error { return nil }

func TestTriggerReminderScan(t *testing.T) {
	client := &fakeClient{}
	c := &JobsCLI{client: client, inspector: fakeInspector{}}

	var out, errOut bytes.Buffer
	code := c.Run(context.Background(), []string{"trigger", "reminder_scan"}, &out, &errOut)
	require.Equal(t, 0, code, errOut.String())
	require.Len(t, client.tasks, 1)
	assert.Equal(t, jobs.TaskReminderScan, client.tasks[0].Type())
	assert.Contains(t, out.String(), "enqueued quotation:reminder_scan id=t1")
}

func TestTriggerRejectsUnknownJob(t *testing.T) {
	c := &JobsCLI{client: &fakeClient{}, inspector: fakeInspector{}}
	var out, errOut bytes.Buffer
	assert.Equal(t, 1, c.Run(context.Background(), []string{"trigger", "quotation:email"}, &out, &errOut))
	assert.Contains(t, errOut.String(), "unsupported job")
}

func TestStats(t *testing.T) {
	c := &JobsCLI{client: &fakeClient{}, inspector: fakeInspector{info: &asynq.QueueInfo{Queue: "default", Pending: 4, Retry: 2}}}
	var out, errOut bytes.Buffer
	require.Equal(t, 0, c.Run(context.Background(), []string{"stats"}, &out, &errOut))
	assert.Contains(t, out.String(), "PENDING")
	assert.Regexp(t, `default\s+4\s+0\s+0\s+2\s+0`, out.String())

	missing := &JobsCLI{inspector: fakeInspector{err: asynq.ErrQueueNotFound}}
	stats, err := missing.InspectQueue()
	require.NoError(t, err)
	assert.Zero(t, stats.Pending)

	broken := &JobsCLI{inspector: fakeInspector{err: errors.New("dial tcp")}}
	assert.Equal(t, 1, broken.Run(context.Background(), []string{"stats"}, &out, &errOut))
}

func TestUsage(t *testing.T) {
	c := &JobsCLI{}
	var out, errOut bytes.Buffer
	assert.Equal(t, 2, c.Run(context.Background(), nil, &out, &errOut))
	assert.Equal(t, 2, c.Run(context.Background(), []string{"purge"}, &out, &errOut))
	assert.Equal(t, 0, c.Run(context.Background(), []string{"help"}, &out, &errOut))
	assert.Contains(t, out.String(), "trigger reminder_scan")
}

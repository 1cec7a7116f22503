package notification_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	config "github.com/tigerroll/chunkbatch/pkg/batch/core/config"
	model "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
	"github.com/tigerroll/chunkbatch/pkg/batch/listener/notification"
	"github.com/tigerroll/chunkbatch/pkg/batch/support/util/exception"
)

type fakePublisher struct {
	channel  string
	messages [][]byte
	err      error
}

func (p *fakePublisher) Publish(_ context.Context, channel string, message interface{}) *redis.IntCmd {
	p.channel = channel
	p.messages = append(p.messages, message.([]byte))
	if p.err != nil {
		return redis.NewIntResult(0, p.err)
	}
	return redis.NewIntResult(1, nil)
}

type recordingNotifier struct {
	events []notification.Event
	err    error
}

func (n *recordingNotifier) Notify(_ context.Context, e notification.Event) error {
	n.events = append(n.events, e)
	return n.err
}

func failedExecution() *model.JobExecution {
	ji := model.NewJobInstance("importJob", model.NewJobParametersBuilder().AddString("file", "a.csv").Build())
	je := model.NewJobExecution(ji)
	je.MarkAsStarted()
	je.MarkAsFailed(model.ExitStatusFailed, errors.New("disk full"))
	return je
}

func TestRedisNotifier_PublishesJSONEvent(t *testing.T) {
	pub := &fakePublisher{}
	je := failedExecution()

	require.NoError(t, notification.NewRedisNotifier(pub, "jobs").Notify(context.Background(), notification.NewEvent(je)))

	assert.Equal(t, "jobs", pub.channel)
	require.Len(t, pub.messages, 1)
	var got map[string]interface{}
	require.NoError(t, json.Unmarshal(pub.messages[0], &got))
	assert.Equal(t, "importJob", got["job_name"])
	assert.Equal(t, je.ID, got["execution_id"])
	assert.Equal(t, "FAILED", got["status"])
	assert.Equal(t, model.ExitCodeFailed, got["exit_code"])
	assert.Len(t, got["failures"], 1)
}

func TestRedisNotifier_PublishFailureIsTransient(t *testing.T) {
	pub := &fakePublisher{err: errors.New("connection refused")}
	err := notification.NewRedisNotifier(pub, "jobs").Notify(context.Background(), notification.NewEvent(failedExecution()))
	assert.True(t, exception.IsKind(err, exception.KindTransient))
}

func TestJobListener_NotifiesAfterJobAndSwallowsErrors(t *testing.T) {
	n := &recordingNotifier{err: errors.New("unreachable")}
	l := notification.NewJobListener(n)
	je := failedExecution()

	l.BeforeJob(context.Background(), je)
	assert.Empty(t, n.events)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	l.AfterJob(ctx, je)
	require.Len(t, n.events, 1)
	assert.Equal(t, je.ID, n.events[0].ExecutionID)
	assert.Equal(t, model.BatchStatusFailed, n.events[0].Status)
}

func TestNewNotifierFromConfig(t *testing.T) {
	cfg := config.NewConfig()
	n, err := notification.NewNotifierFromConfig(nil, cfg)
	require.NoError(t, err)
	assert.IsType(t, notification.LogNotifier{}, n)
	assert.NoError(t, n.Notify(context.Background(), notification.NewEvent(failedExecution())))

	cfg.Chunkbatch.Notification.Type = "smtp"
	_, err = notification.NewNotifierFromConfig(nil, cfg)
	assert.True(t, exception.IsKind(err, exception.KindConfiguration))
}

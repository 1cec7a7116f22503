// Package notification reports finished job executions to external systems.
package notification

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	port "github.com/tigerroll/chunkbatch/pkg/batch/core/application/port"
	model "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
	"github.com/tigerroll/chunkbatch/pkg/batch/support/util/exception"
	"github.com/tigerroll/chunkbatch/pkg/batch/support/util/logger"
)

const module = "notification"

// Event is the payload published for a finished job execution.
type Event struct {
	JobName       string            `json:"job_name"`
	JobInstanceID string            `json:"job_instance_id"`
	ExecutionID   string            `json:"execution_id"`
	Status        model.BatchStatus `json:"status"`
	ExitCode      string            `json:"exit_code"`
	StartTime     *time.Time        `json:"start_time,omitempty"`
	EndTime       *time.Time        `json:"end_time,omitempty"`
	Failures      []string          `json:"failures,omitempty"`
}

// NewEvent summarizes je.
func NewEvent(je *model.JobExecution) Event {
	return Event{
		JobName:       je.JobName,
		JobInstanceID: je.JobInstanceID,
		ExecutionID:   je.ID,
		Status:        je.Status,
		ExitCode:      je.ExitStatus.ExitCode,
		StartTime:     je.StartTime,
		EndTime:       je.EndTime,
		Failures:      je.Failures,
	}
}

// Notifier delivers job completion events.
type Notifier interface {
	Notify(ctx context.Context, event Event) error
}

// LogNotifier writes events to the application log.
type LogNotifier struct{}

func (LogNotifier) Notify(_ context.Context, e Event) error {
	if e.Status == model.BatchStatusCompleted {
		logger.Infof("Notification: job '%s' (execution %s) completed with exit code %s.", e.JobName, e.ExecutionID, e.ExitCode)
		return nil
	}
	logger.Warnf("Notification: job '%s' (execution %s) ended %s with exit code %s (%d failures).",
		e.JobName, e.ExecutionID, e.Status, e.ExitCode, len(e.Failures))
	return nil
}

// Publisher is the part of a Redis client used by RedisNotifier.
type Publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// RedisNotifier publishes events as JSON on a Redis pub/sub channel.
type RedisNotifier struct {
	client  Publisher
	channel string
}

// NewRedisNotifier creates a notifier publishing on channel.
func NewRedisNotifier(client Publisher, channel string) *RedisNotifier {
	return &RedisNotifier{client: client, channel: channel}
}

func (n *RedisNotifier) Notify(ctx context.Context, e Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return exception.NewBatchError(exception.KindError, module, "failed to encode job event", err)
	}
	receivers, err := n.client.Publish(ctx, n.channel, payload).Result()
	if err != nil {
		return exception.NewBatchErrorf(exception.KindTransient, module, "failed to publish job event to '%s': %v", n.channel, err)
	}
	logger.Debugf("Notification: published execution %s to '%s' (%d receivers).", e.ExecutionID, n.channel, receivers)
	return nil
}

// JobListener notifies after every job execution. Delivery failures are logged
// and never change the outcome of the job.
type JobListener struct {
	notifier Notifier
	timeout  time.Duration
}

// NewJobListener creates a listener delivering through notifier.
func NewJobListener(notifier Notifier) *JobListener {
	return &JobListener{notifier: notifier, timeout: 5 * time.Second}
}

func (l *JobListener) BeforeJob(context.Context, *model.JobExecution) {}

func (l *JobListener) AfterJob(ctx context.Context, je *model.JobExecution) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.timeout)
	defer cancel()
	if err := l.notifier.Notify(ctx, NewEvent(je)); err != nil {
		logger.Warnf("Notification for job execution %s failed: %v", je.ID, err)
	}
}

var (
	_ Notifier                  = LogNotifier{}
	_ Notifier                  = (*RedisNotifier)(nil)
	_ port.JobExecutionListener = (*JobListener)(nil)
)

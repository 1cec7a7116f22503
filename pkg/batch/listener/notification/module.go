package notification

import (
	"context"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"

	port "github.com/tigerroll/chunkbatch/pkg/batch/core/application/port"
	config "github.com/tigerroll/chunkbatch/pkg/batch/core/config"
	"github.com/tigerroll/chunkbatch/pkg/batch/support/util/exception"
	"github.com/tigerroll/chunkbatch/pkg/batch/support/util/logger"
)

// NewNotifierFromConfig selects the notifier named by the notification settings.
// The Redis client is closed when the application stops.
func NewNotifierFromConfig(lc fx.Lifecycle, cfg *config.Config) (Notifier, error) {
	nc := cfg.Chunkbatch.Notification
	switch nc.Type {
	case "", config.NotifierLog:
		return LogNotifier{}, nil
	case config.NotifierRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     nc.Redis.Addr,
			Password: nc.Redis.Password,
			DB:       nc.Redis.DB,
		})
		lc.Append(fx.Hook{
			OnStop: func(context.Context) error { return client.Close() },
		})
		logger.Infof("Notification: publishing job events to Redis %s, channel '%s'.", nc.Redis.Addr, nc.Redis.Channel)
		return NewRedisNotifier(client, nc.Redis.Channel), nil
	default:
		return nil, exception.NewBatchErrorf(exception.KindConfiguration, module, "unknown notifier type '%s'", nc.Type)
	}
}

// Module installs the notification listener on every job.
var Module = fx.Options(
	fx.Provide(NewNotifierFromConfig),
	fx.Provide(fx.Annotate(
		NewJobListener,
		fx.As(new(port.JobExecutionListener)),
		fx.ResultTags(`group:"jobListeners"`),
	)),
)

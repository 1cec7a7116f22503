package logger

import (
	"context"

	"go.uber.org/fx"
)

// Module routes Fx lifecycle events through the batch logger and flushes
// buffered entries when the application stops.
var Module = fx.Options(
	fx.WithLogger(NewFxLoggerAdapter),
	fx.Invoke(registerSync),
)

func registerSync(lc fx.Lifecycle) {
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			// Sync on a console sink reports EINVAL / ENOTTY; it carries no data loss.
			_ = Sync()
			return nil
		},
	})
}

// Package listener aggregates the listener modules of the batch framework.
package listener

import (
	"go.uber.org/fx"

	"github.com/tigerroll/chunkbatch/pkg/batch/listener/logging"
	"github.com/tigerroll/chunkbatch/pkg/batch/listener/notification"
)

// Module provides the logging listener components and the job notification listener.
var Module = fx.Options(
	logging.Module,
	notification.Module,
)

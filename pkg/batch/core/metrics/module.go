package metrics

import (
	"go.uber.org/fx"
)

// Module provides no-op metric and tracing implementations.
// The infrastructure layer replaces them with fx.Decorate when a backend is configured.
var Module = fx.Options(
	fx.Provide(
		NewNoOpMetricRecorder,
		NewNoOpTracer,
	),
)

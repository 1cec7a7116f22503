package factory

import (
	"go.uber.org/fx"
)

// Module provides the step factory used by the job builder.
var Module = fx.Provide(
	NewDefaultStepFactory,
	func(f *DefaultStepFactory) StepFactory { return f },
)

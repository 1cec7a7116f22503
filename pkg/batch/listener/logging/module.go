package logging

import (
	"go.uber.org/fx"

	config "github.com/tigerroll/chunkbatch/pkg/batch/core/config"
	jsl "github.com/tigerroll/chunkbatch/pkg/batch/core/config/jsl"
)

// Component references registered by Module.
const (
	RefJobListener   = "loggingJobListener"
	RefStepListener  = "loggingStepListener"
	RefChunkListener = "loggingChunkListener"
	RefSkipListener  = "loggingSkipListener"
)

// NewJobListenerComponent registers the job listener. Setting the 'parameters'
// property to "true" logs the (masked) job parameters.
func NewJobListenerComponent() jsl.ComponentRegistration {
	return jsl.ComponentRegistration{Ref: RefJobListener, Builder: func(_ *config.Config, properties map[string]string) (interface{}, error) {
		return &JobListener{Parameters: properties["parameters"] == "true"}, nil
	}}
}

func NewStepListenerComponent() jsl.ComponentRegistration {
	return jsl.ComponentRegistration{Ref: RefStepListener, Builder: func(*config.Config, map[string]string) (interface{}, error) {
		return StepListener{}, nil
	}}
}

func NewChunkListenerComponent() jsl.ComponentRegistration {
	return jsl.ComponentRegistration{Ref: RefChunkListener, Builder: func(*config.Config, map[string]string) (interface{}, error) {
		return ChunkListener{}, nil
	}}
}

func NewSkipListenerComponent() jsl.ComponentRegistration {
	return jsl.ComponentRegistration{Ref: RefSkipListener, Builder: func(*config.Config, map[string]string) (interface{}, error) {
		return SkipListener{}, nil
	}}
}

// Module registers the logging listeners into the "components" group.
var Module = fx.Options(
	fx.Provide(
		fx.Annotate(NewJobListenerComponent, fx.ResultTags(`group:"components"`)),
		fx.Annotate(NewStepListenerComponent, fx.ResultTags(`group:"components"`)),
		fx.Annotate(NewChunkListenerComponent, fx.ResultTags(`group:"components"`)),
		fx.Annotate(NewSkipListenerComponent, fx.ResultTags(`group:"components"`)),
	),
)

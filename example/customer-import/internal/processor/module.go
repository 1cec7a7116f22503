package processor

import (
	"go.uber.org/fx"

	config "github.com/tigerroll/chunkbatch/pkg/batch/core/config"
	jsl "github.com/tigerroll/chunkbatch/pkg/batch/core/config/jsl"
)

// RefCustomerProcessor is the component reference used by the job definition.
const RefCustomerProcessor = "customerProcessor"

// NewCustomerProcessorComponent registers CustomerProcessor. The optional
// 'default-country' property fills empty country columns.
func NewCustomerProcessorComponent() jsl.ComponentRegistration {
	return jsl.ComponentRegistration{Ref: RefCustomerProcessor, Builder: func(_ *config.Config, properties map[string]string) (interface{}, error) {
		return NewCustomerProcessor(properties["default-country"]), nil
	}}
}

// Module registers the application's processor.
var Module = fx.Options(
	fx.Provide(fx.Annotate(NewCustomerProcessorComponent, fx.ResultTags(`group:"components"`))),
)

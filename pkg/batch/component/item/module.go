package item

import (
	"strings"

	"go.uber.org/fx"

	config "github.com/tigerroll/chunkbatch/pkg/batch/core/config"
	jsl "github.com/tigerroll/chunkbatch/pkg/batch/core/config/jsl"
)

// Component references registered by Module.
const (
	RefNoOpItemReader             = "noOpItemReader"
	RefListItemReader             = "listItemReader"
	RefPassThroughItemProcessor   = "passThroughItemProcessor"
	RefNoOpItemWriter             = "noOpItemWriter"
	RefExecutionContextItemWriter = "executionContextItemWriter"
)

func registration(ref string, builder jsl.ComponentBuilder) jsl.ComponentRegistration {
	return jsl.ComponentRegistration{Ref: ref, Builder: builder}
}

// NewNoOpItemReaderComponent registers the no-op reader.
func NewNoOpItemReaderComponent() jsl.ComponentRegistration {
	return registration(RefNoOpItemReader, func(*config.Config, map[string]string) (interface{}, error) {
		return NewNoOpItemReader[any](), nil
	})
}

// NewListItemReaderComponent registers the slice reader. Its 'items' property
// is a comma separated list; 'key' overrides the ExecutionContext key.
func NewListItemReaderComponent() jsl.ComponentRegistration {
	return registration(RefListItemReader, func(_ *config.Config, properties map[string]string) (interface{}, error) {
		var items []any
		if raw := properties["items"]; raw != "" {
			for _, v := range strings.Split(raw, ",") {
				items = append(items, strings.TrimSpace(v))
			}
		}
		return NewListItemReader(items, properties["key"]), nil
	})
}

// NewPassThroughItemProcessorComponent registers the pass-through processor.
func NewPassThroughItemProcessorComponent() jsl.ComponentRegistration {
	return registration(RefPassThroughItemProcessor, func(*config.Config, map[string]string) (interface{}, error) {
		return NewPassThroughItemProcessor[any](), nil
	})
}

// NewNoOpItemWriterComponent registers the no-op writer.
func NewNoOpItemWriterComponent() jsl.ComponentRegistration {
	return registration(RefNoOpItemWriter, func(*config.Config, map[string]string) (interface{}, error) {
		return NewNoOpItemWriter[any](), nil
	})
}

// NewExecutionContextItemWriterComponent registers the counting writer. Its
// 'key' property names the ExecutionContext key.
func NewExecutionContextItemWriterComponent() jsl.ComponentRegistration {
	return registration(RefExecutionContextItemWriter, func(_ *config.Config, properties map[string]string) (interface{}, error) {
		return NewExecutionContextItemWriter[any](properties["key"]), nil
	})
}

// Module registers the generic item components into the "components" group.
var Module = fx.Options(
	fx.Provide(
		fx.Annotate(NewNoOpItemReaderComponent, fx.ResultTags(`group:"components"`)),
		fx.Annotate(NewListItemReaderComponent, fx.ResultTags(`group:"components"`)),
		fx.Annotate(NewPassThroughItemProcessorComponent, fx.ResultTags(`group:"components"`)),
		fx.Annotate(NewNoOpItemWriterComponent, fx.ResultTags(`group:"components"`)),
		fx.Annotate(NewExecutionContextItemWriterComponent, fx.ResultTags(`group:"components"`)),
	),
)

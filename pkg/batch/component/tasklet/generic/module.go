package generic

import (
	"go.uber.org/fx"

	"github.com/tigerroll/chunkbatch/pkg/batch/adapter/storage"
	config "github.com/tigerroll/chunkbatch/pkg/batch/core/config"
	jsl "github.com/tigerroll/chunkbatch/pkg/batch/core/config/jsl"
	exception "github.com/tigerroll/chunkbatch/pkg/batch/support/util/exception"
)

// Component references registered by Module.
const (
	RefExecutionContextWriterTasklet = "executionContextWriterTasklet"
	RefObjectCleanupTasklet          = "objectCleanupTasklet"
)

// NewExecutionContextWriterTaskletComponent registers the ExecutionContext writer.
// Every property becomes an entry, see ParseEntries.
func NewExecutionContextWriterTaskletComponent() jsl.ComponentRegistration {
	return jsl.ComponentRegistration{Ref: RefExecutionContextWriterTasklet, Builder: func(_ *config.Config, properties map[string]string) (interface{}, error) {
		entries, err := ParseEntries(properties)
		if err != nil {
			return nil, err
		}
		return NewExecutionContextWriterTasklet(entries), nil
	}}
}

// NewObjectCleanupTaskletComponent registers the cleanup tasklet. It takes the
// 'storage', 'bucket' and 'prefix' properties; 'prefix' is required.
func NewObjectCleanupTaskletComponent(resolver storage.Resolver) jsl.ComponentRegistration {
	return jsl.ComponentRegistration{Ref: RefObjectCleanupTasklet, Builder: func(_ *config.Config, properties map[string]string) (interface{}, error) {
		name, prefix := properties["storage"], properties["prefix"]
		if name == "" || prefix == "" {
			return nil, exception.NewBatchErrorf(exception.KindConfiguration, module, "'%s' requires the 'storage' and 'prefix' properties", RefObjectCleanupTasklet)
		}
		conn, err := resolver.GetConnection(name)
		if err != nil {
			return nil, err
		}
		return NewObjectCleanupTasklet(conn, properties["bucket"], prefix), nil
	}}
}

// Module registers the generic tasklets into the "components" group.
var Module = fx.Options(
	fx.Provide(
		fx.Annotate(NewExecutionContextWriterTaskletComponent, fx.ResultTags(`group:"components"`)),
		fx.Annotate(NewObjectCleanupTaskletComponent, fx.ResultTags(`group:"components"`)),
	),
)

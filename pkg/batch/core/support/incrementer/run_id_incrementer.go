package incrementer

import (
	"fmt"

	port "github.com/tigerroll/chunkbatch/pkg/batch/core/application/port"
	model "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
	logger "github.com/tigerroll/chunkbatch/pkg/batch/support/util/logger"
)

// DefaultRunIDKey is the parameter RunIDIncrementer maintains when no key is given.
const DefaultRunIDKey = "run.id"

// RunIDIncrementer sets a LONG parameter to 1, or to its previous value plus one.
type RunIDIncrementer struct {
	key string
}

// NewRunIDIncrementer creates a RunIDIncrementer for key.
func NewRunIDIncrementer(key string) *RunIDIncrementer {
	if key == "" {
		key = DefaultRunIDKey
	}
	return &RunIDIncrementer{key: key}
}

// GetNext implements port.JobParametersIncrementer.
func (i *RunIDIncrementer) GetNext(params model.JobParameters) model.JobParameters {
	next := int64(1)
	if current, ok := params.GetLong(i.key); ok {
		next = current + 1
	}
	logger.Debugf("JobParametersIncrementer '%s': setting '%s' to %d.", i, i.key, next)
	return model.NewJobParametersBuilderFrom(params).AddLong(i.key, next).Build()
}

// String returns the string representation of RunIDIncrementer.
func (i *RunIDIncrementer) String() string {
	return fmt.Sprintf("RunIDIncrementer[key=%s]", i.key)
}

// Ensure RunIDIncrementer implements port.JobParametersIncrementer
var _ port.JobParametersIncrementer = (*RunIDIncrementer)(nil)

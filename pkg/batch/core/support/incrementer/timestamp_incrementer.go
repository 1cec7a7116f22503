package incrementer

import (
	"fmt"
	"time"

	port "github.com/tigerroll/chunkbatch/pkg/batch/core/application/port"
	model "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
	logger "github.com/tigerroll/chunkbatch/pkg/batch/support/util/logger"
)

// DefaultTimestampKey is the parameter TimestampIncrementer maintains when no key is given.
const DefaultTimestampKey = "timestamp"

// TimestampIncrementer sets a LONG parameter to the current Unix time in milliseconds.
type TimestampIncrementer struct {
	key string
	now func() time.Time
}

// NewTimestampIncrementer creates a TimestampIncrementer for key.
func NewTimestampIncrementer(key string) *TimestampIncrementer {
	if key == "" {
		key = DefaultTimestampKey
	}
	return &TimestampIncrementer{key: key, now: time.Now}
}

// GetNext implements port.JobParametersIncrementer.
func (i *TimestampIncrementer) GetNext(params model.JobParameters) model.JobParameters {
	ts := i.now().UnixMilli()
	if prev, ok := params.GetLong(i.key); ok && ts <= prev {
		// Two launches within the same millisecond still get distinct instances.
		ts = prev + 1
	}
	logger.Debugf("JobParametersIncrementer '%s': setting '%s' to %d.", i, i.key, ts)
	return model.NewJobParametersBuilderFrom(params).AddLong(i.key, ts).Build()
}

// String returns the string representation of TimestampIncrementer.
func (i *TimestampIncrementer) String() string {
	return fmt.Sprintf("TimestampIncrementer[key=%s]", i.key)
}

// Ensure TimestampIncrementer implements port.JobParametersIncrementer
var _ port.JobParametersIncrementer = (*TimestampIncrementer)(nil)

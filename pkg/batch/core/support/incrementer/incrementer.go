package incrementer

import (
	port "github.com/tigerroll/chunkbatch/pkg/batch/core/application/port"
	exception "github.com/tigerroll/chunkbatch/pkg/batch/support/util/exception"
)

// Incrementer type names accepted by New.
const (
	TypeRunID     = "runIdIncrementer"
	TypeTimestamp = "timestampIncrementer"
)

// New creates the incrementer registered as typeName, maintaining the parameter key.
// An empty key selects the incrementer's default.
func New(typeName, key string) (port.JobParametersIncrementer, error) {
	switch typeName {
	case TypeRunID:
		return NewRunIDIncrementer(key), nil
	case TypeTimestamp:
		return NewTimestampIncrementer(key), nil
	default:
		return nil, exception.NewBatchErrorf(exception.KindConfiguration, "incrementer", "unknown incrementer type '%s'", typeName)
	}
}

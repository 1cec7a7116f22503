// Package generic provides tasklets that are not tied to one kind of job:
// seeding the ExecutionContext and removing stored objects.
package generic

import (
	"context"
	"sort"
	"strconv"
	"strings"

	port "github.com/tigerroll/chunkbatch/pkg/batch/core/application/port"
	model "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
	"github.com/tigerroll/chunkbatch/pkg/batch/core/support/repeat"
	exception "github.com/tigerroll/chunkbatch/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/chunkbatch/pkg/batch/support/util/logger"
)

const module = "generic_tasklet"

// ExecutionContextWriterTasklet puts fixed entries into the step ExecutionContext.
type ExecutionContextWriterTasklet struct {
	entries map[string]interface{}
}

// ParseEntries converts properties named "key.type" into typed entries. Types
// are string, int, float and bool; a key without a type is a string.
func ParseEntries(properties map[string]string) (map[string]interface{}, error) {
	entries := make(map[string]interface{}, len(properties))
	for name, raw := range properties {
		key, typ := name, "string"
		if i := strings.LastIndex(name, "."); i > 0 {
			key, typ = name[:i], strings.ToLower(name[i+1:])
		}
		var (
			value interface{}
			err   error
		)
		switch typ {
		case "string":
			value = raw
		case "int":
			value, err = strconv.Atoi(raw)
		case "float", "float64":
			value, err = strconv.ParseFloat(raw, 64)
		case "bool":
			value, err = strconv.ParseBool(raw)
		default:
			key, value = name, raw
		}
		if err != nil {
			return nil, exception.NewBatchError(exception.KindConfiguration, module,
				"cannot convert '"+raw+"' to "+typ+" for key '"+key+"'", err)
		}
		entries[key] = value
	}
	return entries, nil
}

// NewExecutionContextWriterTasklet creates a tasklet writing entries.
func NewExecutionContextWriterTasklet(entries map[string]interface{}) *ExecutionContextWriterTasklet {
	return &ExecutionContextWriterTasklet{entries: entries}
}

func (t *ExecutionContextWriterTasklet) Execute(_ context.Context, _ *model.StepContribution, ec model.ExecutionContext) (repeat.Status, error) {
	keys := make([]string, 0, len(t.entries))
	for k, v := range t.entries {
		ec.Put(k, v)
		keys = append(keys, k)
	}
	sort.Strings(keys)
	logger.Debugf("ExecutionContextWriterTasklet: wrote %v.", keys)
	return repeat.Finished, nil
}

var _ port.Tasklet = (*ExecutionContextWriterTasklet)(nil)

package test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	model "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/repository"
)

// NewTestJobParameters builds parameters from strings, int64s, float64s and times.
func NewTestJobParameters(params map[string]interface{}) model.JobParameters {
	b := model.NewJobParametersBuilder()
	for k, v := range params {
		switch val := v.(type) {
		case int64:
			b.AddLong(k, val)
		case int:
			b.AddLong(k, int64(val))
		case float64:
			b.AddDouble(k, val)
		case time.Time:
			b.AddDate(k, val)
		default:
			b.AddString(k, fmt.Sprint(val))
		}
	}
	return b.Build()
}

// NewStepExecution saves a fresh JobInstance of jobName, with a unique run
// parameter, and one JobExecution with a step execution named stepName.
func NewStepExecution(t *testing.T, repo repository.JobRepository, jobName, stepName string) *model.StepExecution {
	t.Helper()
	ctx := context.Background()
	ji, err := repo.CreateJobInstance(ctx, jobName, model.NewJobParametersBuilder().AddString("run", model.NewID()).Build())
	require.NoError(t, err)
	je := model.NewJobExecution(ji)
	require.NoError(t, repo.SaveJobExecution(ctx, je))
	se := je.CreateStepExecution(stepName)
	require.NoError(t, repo.SaveStepExecution(ctx, se))
	return se
}

package runner

import (
	"go.uber.org/fx"

	port "github.com/tigerroll/chunkbatch/pkg/batch/core/application/port"
	repository "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/repository"
	metrics "github.com/tigerroll/chunkbatch/pkg/batch/core/metrics"
)

// JobFactoryParams defines dependencies for JobFactory.
type JobFactoryParams struct {
	fx.In
	JobRepository  repository.JobRepository
	MetricRecorder metrics.MetricRecorder
	Tracer         metrics.Tracer
	Listeners      []port.JobExecutionListener `group:"jobListeners"`
}

// JobFactory creates jobs wired to the application's repository, telemetry and job listeners.
type JobFactory struct {
	params JobFactoryParams
}

// NewJobFactory creates a JobFactory.
func NewJobFactory(p JobFactoryParams) *JobFactory {
	return &JobFactory{params: p}
}

// Create returns a new SimpleJob named name.
func (f *JobFactory) Create(name string) *SimpleJob {
	j := NewSimpleJob(name, f.params.JobRepository)
	j.SetMetricRecorder(f.params.MetricRecorder)
	j.SetTracer(f.params.Tracer)
	for _, l := range f.params.Listeners {
		j.RegisterListener(l)
	}
	return j
}

// Module provides the JobFactory.
var Module = fx.Options(
	fx.Provide(NewJobFactory),
)

package support

import (
	"go.uber.org/fx"

	port "github.com/tigerroll/chunkbatch/pkg/batch/core/application/port"
	jsl "github.com/tigerroll/chunkbatch/pkg/batch/core/config/jsl"
)

// JSLJobsParams collects the JSL documents of the "jsl" group.
type JSLJobsParams struct {
	fx.In
	Factory     *JobFactory
	Definitions []jsl.JSLDefinitionBytes `group:"jsl"`
}

// JSLJobsResult feeds the built jobs into the "jobs" group read by the job registry.
type JSLJobsResult struct {
	fx.Out
	Jobs []port.Job `group:"jobs,flatten"`
}

// NewJobsFromJSL builds one job per JSL document.
func NewJobsFromJSL(p JSLJobsParams) (JSLJobsResult, error) {
	defs, err := jsl.LoadAll(p.Definitions)
	if err != nil {
		return JSLJobsResult{}, err
	}
	jobs := make([]port.Job, 0, len(defs))
	for _, def := range defs {
		job, err := p.Factory.CreateJob(def)
		if err != nil {
			return JSLJobsResult{}, err
		}
		jobs = append(jobs, job)
	}
	return JSLJobsResult{Jobs: jobs}, nil
}

// Module defines Fx options related to JobFactory. It requires the runner and
// step factory modules and a port.TaskExecutor.
var Module = fx.Options(
	fx.Provide(NewComponentRegistry),
	fx.Provide(NewJobFactory),
	fx.Provide(NewJobsFromJSL),
)

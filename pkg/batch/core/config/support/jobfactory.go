// Package support turns JSL job definitions into executable jobs, resolving
// their component references through a ComponentRegistry.
package support

import (
	"go.uber.org/fx"

	"github.com/tigerroll/chunkbatch/pkg/batch/adapter/database"
	gormadapter "github.com/tigerroll/chunkbatch/pkg/batch/adapter/database/gorm"
	port "github.com/tigerroll/chunkbatch/pkg/batch/core/application/port"
	jsl "github.com/tigerroll/chunkbatch/pkg/batch/core/config/jsl"
	"github.com/tigerroll/chunkbatch/pkg/batch/core/job/decision"
	"github.com/tigerroll/chunkbatch/pkg/batch/core/job/runner"
	"github.com/tigerroll/chunkbatch/pkg/batch/core/job/split"
	"github.com/tigerroll/chunkbatch/pkg/batch/core/support/incrementer"
	"github.com/tigerroll/chunkbatch/pkg/batch/core/support/validator"
	step_factory "github.com/tigerroll/chunkbatch/pkg/batch/engine/step/factory"
	exception "github.com/tigerroll/chunkbatch/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/chunkbatch/pkg/batch/support/util/logger"
)

const module = "job_factory"

// JobFactory builds jobs from JSL definitions.
type JobFactory struct {
	jobs       *runner.JobFactory
	steps      step_factory.StepFactory
	components *ComponentRegistry
	executor   port.TaskExecutor
	databases  database.DBProvider
}

// JobFactoryParams defines the parameters that NewJobFactory receives via
// dependency injection (Fx).
type JobFactoryParams struct {
	fx.In
	Jobs         *runner.JobFactory
	StepFactory  step_factory.StepFactory
	Components   *ComponentRegistry
	TaskExecutor port.TaskExecutor
	// Databases resolves the step-level transaction-manager entries.
	Databases database.DBProvider `optional:"true"`
}

// NewJobFactory creates a new instance of JobFactory.
func NewJobFactory(p JobFactoryParams) *JobFactory {
	return &JobFactory{
		jobs:       p.Jobs,
		steps:      p.StepFactory,
		components: p.Components,
		executor:   p.TaskExecutor,
		databases:  p.Databases,
	}
}

// Components returns the registry references are resolved against.
func (f *JobFactory) Components() *ComponentRegistry {
	return f.components
}

// CreateJob builds the job def describes. Every element becomes one flow; steps
// keep their element ID as name.
func (f *JobFactory) CreateJob(def jsl.Job) (*runner.SimpleJob, error) {
	if err := jsl.Validate(def); err != nil {
		return nil, err
	}
	elements, err := def.Elements()
	if err != nil {
		return nil, err
	}
	b := &flowBuilder{factory: f, elements: elements, flows: map[string]port.Flow{}, steps: map[string]port.Step{}, building: map[string]bool{}}
	start, err := b.flow(def.Flow.StartElement)
	if err != nil {
		return nil, exception.NewBatchError(exception.KindConfiguration, module, "failed to convert JSL flow for job '"+def.ID+"'", err)
	}

	job := f.jobs.Create(def.JobName())
	job.SetRestartable(def.IsRestartable())
	job.SetStartLimit(def.StartLimit)
	job.AddFlow(start)

	listeners, err := buildAll[port.JobExecutionListener](f.components, def.Listeners, "JobExecutionListener")
	if err != nil {
		return nil, err
	}
	for _, l := range listeners {
		job.RegisterListener(l)
	}

	if def.Validator != nil {
		v, err := f.validator(def.Validator)
		if err != nil {
			return nil, err
		}
		job.SetValidator(v)
	}
	if def.Incrementer != nil {
		inc, err := f.incrementer(*def.Incrementer)
		if err != nil {
			return nil, err
		}
		job.SetIncrementer(inc)
	}
	logger.Infof("Built job '%s' from JSL '%s' (%d elements).", job.Name(), def.ID, len(elements))
	return job, nil
}

func (f *JobFactory) validator(def *jsl.ParametersValidator) (port.JobParametersValidator, error) {
	keys, err := validator.NewDefaultJobParametersValidator(def.Required, def.Optional)
	if err != nil {
		return nil, err
	}
	if len(def.Refs) == 0 {
		return keys, nil
	}
	custom, err := buildAll[port.JobParametersValidator](f.components, def.Refs, "JobParametersValidator")
	if err != nil {
		return nil, err
	}
	return validator.NewCompositeJobParametersValidator(append([]port.JobParametersValidator{keys}, custom...)...), nil
}

// incrementer resolves ref against the registry first, then the built-in incrementer types.
func (f *JobFactory) incrementer(ref jsl.ComponentRef) (port.JobParametersIncrementer, error) {
	if f.components.Has(ref.Ref) {
		return buildAs[port.JobParametersIncrementer](f.components, ref, "JobParametersIncrementer")
	}
	return incrementer.New(ref.Ref, ref.Properties["key"])
}

type flowBuilder struct {
	factory  *JobFactory
	elements map[string]jsl.Element
	flows    map[string]port.Flow
	steps    map[string]port.Step
	building map[string]bool
}

// flow returns the flow starting at element id, including everything that follows it.
func (b *flowBuilder) flow(id string) (port.Flow, error) {
	if fl, ok := b.flows[id]; ok {
		return fl, nil
	}
	if b.building[id] {
		return nil, exception.NewBatchErrorf(exception.KindConfiguration, module, "flow contains a cycle through element '%s'", id)
	}
	b.building[id] = true
	defer delete(b.building, id)

	e := b.elements[id]
	var base port.Flow
	if e.Split != nil {
		branches := make([]port.Flow, 0, len(e.Split.Steps))
		for _, branchID := range e.Split.Steps {
			branch, err := b.flow(branchID)
			if err != nil {
				return nil, err
			}
			branches = append(branches, branch)
		}
		base = split.NewSplit(id, b.factory.executor, branches...)
	} else {
		s, err := b.step(e.Step)
		if err != nil {
			return nil, err
		}
		base = runner.NewStepFlow(id, s)
	}

	result := base
	switch {
	case len(e.Transitions()) > 0:
		d := decision.NewFlow(id, base)
		for _, t := range e.Transitions() {
			switch {
			case t.To != "":
				next, err := b.flow(t.To)
				if err != nil {
					return nil, err
				}
				d.On(t.On, next)
			case t.End:
				d.End(t.On)
			case t.Fail:
				d.Fail(t.On)
			case t.Stop:
				d.Stop(t.On)
			}
		}
		result = d
	case e.Next() != "":
		next, err := b.flow(e.Next())
		if err != nil {
			return nil, err
		}
		result = runner.NewFlowSequence(id, base, next)
	}
	b.flows[id] = result
	return result, nil
}

func (b *flowBuilder) step(def *jsl.Step) (port.Step, error) {
	if s, ok := b.steps[def.ID]; ok {
		return s, nil
	}
	components := b.factory.components
	listeners, err := buildAll[port.StepExecutionListener](components, def.Listeners, "StepExecutionListener")
	if err != nil {
		return nil, err
	}
	opts := step_factory.StepOptions{
		StartLimit:           def.StartLimit,
		AllowStartIfComplete: def.AllowStartIfComplete,
		IsolationLevel:       def.IsolationLevel,
		Listeners:            listeners,
	}
	if name := def.TransactionManager; name != "" {
		if b.factory.databases == nil {
			return nil, exception.NewBatchErrorf(exception.KindConfiguration, module,
				"step '%s' names transaction manager '%s' but no database provider is configured", def.ID, name)
		}
		if _, err := b.factory.databases.GetConnection(name); err != nil {
			return nil, exception.NewBatchError(exception.KindConfiguration, module, "unknown transaction manager of step '"+def.ID+"'", err)
		}
		opts.TransactionManager = gormadapter.NewConnectionTransactionManager(b.factory.databases, name)
	}

	var s port.Step
	if def.IsChunk() {
		s, err = b.chunkStep(def, opts)
	} else {
		var tasklet port.Tasklet
		tasklet, err = buildAs[port.Tasklet](components, *def.Tasklet, "Tasklet")
		if err == nil {
			s, err = b.factory.steps.CreateTaskletStep(def.ID, tasklet, opts)
		}
	}
	if err != nil {
		return nil, exception.NewBatchError(exception.KindConfiguration, module, "failed to build step '"+def.ID+"'", err)
	}
	b.steps[def.ID] = s
	return s, nil
}

func (b *flowBuilder) chunkStep(def *jsl.Step, opts step_factory.StepOptions) (port.Step, error) {
	components := b.factory.components
	reader, err := buildAs[port.ItemReader[any]](components, *def.Reader, "ItemReader")
	if err != nil {
		return nil, err
	}
	var processor port.ItemProcessor[any, any]
	if def.Processor != nil {
		if processor, err = buildAs[port.ItemProcessor[any, any]](components, *def.Processor, "ItemProcessor"); err != nil {
			return nil, err
		}
	}
	writer, err := buildAs[port.ItemWriter[any]](components, *def.Writer, "ItemWriter")
	if err != nil {
		return nil, err
	}
	chunkListeners, err := buildAll[port.ChunkListener](components, def.ChunkListeners, "ChunkListener")
	if err != nil {
		return nil, err
	}
	skipListeners, err := buildAll[port.SkipListener](components, def.SkipListeners, "SkipListener")
	if err != nil {
		return nil, err
	}

	chunkOpts := step_factory.ChunkOptions{
		StepOptions:    opts,
		ChunkListeners: chunkListeners,
		SkipListeners:  skipListeners,
	}
	if c := def.Chunk; c != nil {
		chunkOpts.ChunkSize = c.ItemCount
		chunkOpts.Retry = c.Retry
		chunkOpts.Skip = c.Skip
		if c.IsolationLevel != "" {
			chunkOpts.IsolationLevel = c.IsolationLevel
		}
	}
	return b.factory.steps.CreateChunkStep(def.ID, reader, processor, writer, chunkOpts)
}

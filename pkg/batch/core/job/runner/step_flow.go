package runner

import (
	"context"

	port "github.com/tigerroll/chunkbatch/pkg/batch/core/application/port"
	model "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
	"github.com/tigerroll/chunkbatch/pkg/batch/engine/step"
)

// StepFlow runs steps in order and ends at the first step that does not complete.
type StepFlow struct {
	name  string
	steps []port.Step
}

// Verify that StepFlow implements the port.Flow interface.
var _ port.Flow = (*StepFlow)(nil)

// NewStepFlow creates a flow of steps.
func NewStepFlow(name string, steps ...port.Step) *StepFlow {
	return &StepFlow{name: name, steps: steps}
}

// Name implements port.Flow.
func (f *StepFlow) Name() string { return f.name }

// Steps returns the steps in execution order.
func (f *StepFlow) Steps() []port.Step { return f.steps }

// Execute implements port.Flow. A flow whose steps were all skipped completes.
func (f *StepFlow) Execute(ctx context.Context, je *model.JobExecution, handler port.StepHandler) (model.FlowExecution, error) {
	result := model.FlowExecution{Name: f.name, Status: model.BatchStatusCompleted, ExitStatus: model.ExitStatusCompleted}
	for _, s := range f.steps {
		se, err := handler.HandleStep(ctx, s, je)
		if se == nil {
			if err == nil {
				continue
			}
			// The step never started.
			result.Status, result.ExitStatus = step.Classify(nil, err)
			return result, err
		}
		result.Status, result.ExitStatus = se.Status, se.ExitStatus
		if err != nil || se.Status != model.BatchStatusCompleted {
			return result, err
		}
	}
	return result, nil
}

// FlowSequence runs flows in order and ends at the first flow that does not complete.
type FlowSequence struct {
	name  string
	flows []port.Flow
}

// Verify that FlowSequence implements the port.Flow interface.
var _ port.Flow = (*FlowSequence)(nil)

// NewFlowSequence creates a sequence of flows.
func NewFlowSequence(name string, flows ...port.Flow) *FlowSequence {
	return &FlowSequence{name: name, flows: flows}
}

// Name implements port.Flow.
func (f *FlowSequence) Name() string { return f.name }

// Execute implements port.Flow.
func (f *FlowSequence) Execute(ctx context.Context, je *model.JobExecution, handler port.StepHandler) (model.FlowExecution, error) {
	result := model.FlowExecution{Name: f.name, Status: model.BatchStatusCompleted, ExitStatus: model.ExitStatusCompleted}
	for _, flow := range f.flows {
		fe, err := flow.Execute(ctx, je, handler)
		result.Status, result.ExitStatus = fe.Status, fe.ExitStatus
		if err != nil || fe.Status != model.BatchStatusCompleted {
			return result, err
		}
	}
	return result, nil
}

// Package split runs flows concurrently and joins their outcomes.
package split

import (
	"context"
	"fmt"
	"sync"

	"github.com/hashicorp/go-multierror"

	port "github.com/tigerroll/chunkbatch/pkg/batch/core/application/port"
	model "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
	"github.com/tigerroll/chunkbatch/pkg/batch/engine/step"
	exception "github.com/tigerroll/chunkbatch/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/chunkbatch/pkg/batch/support/util/logger"
)

// Split is a port.Flow that dispatches its flows to a TaskExecutor and waits for
// all of them. The worst branch status becomes the status of the split.
type Split struct {
	name     string
	flows    []port.Flow
	executor port.TaskExecutor
}

// Verify that Split implements the port.Flow interface.
var _ port.Flow = (*Split)(nil)

// NewSplit creates a split. A nil executor runs the flows one after another on the caller's goroutine.
func NewSplit(name string, executor port.TaskExecutor, flows ...port.Flow) *Split {
	if executor == nil {
		executor = NewSyncTaskExecutor()
	}
	return &Split{name: name, flows: flows, executor: executor}
}

// Name implements port.Flow.
func (s *Split) Name() string { return s.name }

// Flows returns the branches of the split.
func (s *Split) Flows() []port.Flow { return s.flows }

type branchResult struct {
	execution model.FlowExecution
	err       error
}

// Execute implements port.Flow. A branch rejected by the executor fails the split,
// after the branches already dispatched have finished.
func (s *Split) Execute(ctx context.Context, je *model.JobExecution, handler port.StepHandler) (model.FlowExecution, error) {
	logger.Infof("Split '%s': Executing %d flows.", s.name, len(s.flows))

	results := make([]branchResult, len(s.flows))
	var wg sync.WaitGroup
	var rejected error

	for i, f := range s.flows {
		i, f := i, f
		wg.Add(1)
		err := s.executor.Execute(ctx, func() {
			defer wg.Done()
			results[i] = runBranch(ctx, f, je, handler)
		})
		if err != nil {
			wg.Done()
			rejected = exception.NewBatchError(exception.KindTaskRejected, s.name,
				fmt.Sprintf("flow '%s' was rejected by the task executor", f.Name()), err)
			logger.Errorf("Split '%s': %v", s.name, rejected)
			break
		}
	}
	wg.Wait()

	aggregate := model.FlowExecution{Name: s.name, Status: model.BatchStatusCompleted, ExitStatus: model.ExitStatusCompleted}
	var errs *multierror.Error
	statuses := make([]model.BatchStatus, 0, len(results))
	for _, r := range results {
		if r.execution.Status == "" {
			// Never dispatched.
			continue
		}
		statuses = append(statuses, r.execution.Status)
		aggregate.ExitStatus = aggregate.ExitStatus.And(r.execution.ExitStatus)
		if r.err != nil {
			errs = multierror.Append(errs, r.err)
		}
	}
	aggregate.Status = model.WorstStatus(statuses...)

	if rejected != nil {
		aggregate.Status = model.MaxStatus(aggregate.Status, model.BatchStatusFailed)
		aggregate.ExitStatus = aggregate.ExitStatus.And(model.ExitStatus{ExitCode: model.ExitCodeFatalException}.AddExitDescription(step.Describe(rejected)))
		errs = multierror.Append(rejected, errs.WrappedErrors()...)
	}

	logger.Infof("Split '%s' finished. Status: %s, ExitStatus: %s", s.name, aggregate.Status, aggregate.ExitStatus)
	return aggregate, errs.ErrorOrNil()
}

func runBranch(ctx context.Context, f port.Flow, je *model.JobExecution, handler port.StepHandler) (result branchResult) {
	defer func() {
		if r := recover(); r != nil {
			err := exception.NewBatchErrorf(exception.KindFlowExecution, f.Name(), "flow panicked: %v", r)
			result = branchResult{
				execution: model.FlowExecution{
					Name:       f.Name(),
					Status:     model.BatchStatusFailed,
					ExitStatus: model.ExitStatusFailed.AddExitDescription(step.Describe(err)),
				},
				err: err,
			}
		}
	}()
	fe, err := f.Execute(ctx, je, handler)
	return branchResult{execution: fe, err: err}
}

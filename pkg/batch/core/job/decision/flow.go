// Package decision implements conditional flows that pick what runs next from
// the exit code of the flow before.
package decision

import (
	"context"
	"path"

	port "github.com/tigerroll/chunkbatch/pkg/batch/core/application/port"
	model "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
	logger "github.com/tigerroll/chunkbatch/pkg/batch/support/util/logger"
)

type transition struct {
	pattern string
	next    port.Flow
	// end is the outcome when next is nil.
	end model.FlowExecution
}

// Flow is a port.Flow that runs a primary flow, then the flow registered for
// the primary's exit code. Patterns may use '*' and '?' and are tried in
// registration order. Without a matching transition the primary's outcome stands.
type Flow struct {
	name        string
	primary     port.Flow
	transitions []transition
}

// Verify that Flow implements the port.Flow interface.
var _ port.Flow = (*Flow)(nil)

// NewFlow creates a conditional flow around primary.
func NewFlow(name string, primary port.Flow) *Flow {
	return &Flow{name: name, primary: primary}
}

// On runs next when the primary's exit code matches pattern.
func (f *Flow) On(pattern string, next port.Flow) *Flow {
	f.transitions = append(f.transitions, transition{pattern: pattern, next: next})
	return f
}

func (f *Flow) terminal(pattern string, status model.BatchStatus, exit model.ExitStatus) *Flow {
	f.transitions = append(f.transitions, transition{
		pattern: pattern,
		end:     model.FlowExecution{Name: f.name, Status: status, ExitStatus: exit},
	})
	return f
}

// End completes the flow when the primary's exit code matches pattern, whatever
// the primary's status.
func (f *Flow) End(pattern string) *Flow {
	return f.terminal(pattern, model.BatchStatusCompleted, model.ExitStatusCompleted)
}

// Fail ends the flow as FAILED when the primary's exit code matches pattern.
func (f *Flow) Fail(pattern string) *Flow {
	return f.terminal(pattern, model.BatchStatusFailed, model.ExitStatusFailed)
}

// Stop ends the flow as STOPPED when the primary's exit code matches pattern.
// The JobInstance can be restarted from the next flow.
func (f *Flow) Stop(pattern string) *Flow {
	return f.terminal(pattern, model.BatchStatusStopped, model.ExitStatusStopped)
}

// Name implements port.Flow.
func (f *Flow) Name() string { return f.name }

// Execute implements port.Flow.
func (f *Flow) Execute(ctx context.Context, je *model.JobExecution, handler port.StepHandler) (model.FlowExecution, error) {
	fe, err := f.primary.Execute(ctx, je, handler)
	code := fe.ExitStatus.ExitCode

	for _, t := range f.transitions {
		if ok, _ := path.Match(t.pattern, code); !ok {
			continue
		}
		if err != nil {
			logger.Warnf("Flow '%s': '%s' ended with %s, handled by transition '%s': %v", f.name, f.primary.Name(), code, t.pattern, err)
		}
		if t.next == nil {
			logger.Infof("Flow '%s': exit code %s matched '%s'. Ending flow as %s.", f.name, code, t.pattern, t.end.Status)
			return t.end, nil
		}
		logger.Infof("Flow '%s': exit code %s matched '%s'. Continuing with '%s'.", f.name, code, t.pattern, t.next.Name())
		return t.next.Execute(ctx, je, handler)
	}
	return fe, err
}

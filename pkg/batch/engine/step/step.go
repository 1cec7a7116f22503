// Package step holds the lifecycle shared by every step implementation: status
// transitions, listener callbacks, exit status classification and the final
// save of the StepExecution.
package step

import (
	"context"
	"errors"
	"fmt"

	"github.com/hashicorp/go-multierror"

	port "github.com/tigerroll/chunkbatch/pkg/batch/core/application/port"
	model "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/repository"
	metrics "github.com/tigerroll/chunkbatch/pkg/batch/core/metrics"
	"github.com/tigerroll/chunkbatch/pkg/batch/core/support/classifier"
	exception "github.com/tigerroll/chunkbatch/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/chunkbatch/pkg/batch/support/util/logger"
)

// Body is the work of one step attempt. It returns the exit status to record
// on success, or the failure that terminated the attempt.
type Body func(ctx context.Context, se *model.StepExecution) (model.ExitStatus, error)

// DefaultExitClassifier maps interruptions to JOB_INTERRUPTED and every other failure to FATAL_EXCEPTION.
func DefaultExitClassifier() *classifier.Classifier[string] {
	return classifier.MustNew(model.ExitCodeFatalException,
		classifier.For(exception.KindInterrupted, model.ExitCodeJobInterrupted),
	)
}

// Base implements the parts of port.Step common to chunk and tasklet steps.
type Base struct {
	name                 string
	jobRepository        repository.JobRepository
	listeners            []port.StepExecutionListener
	metricRecorder       metrics.MetricRecorder
	tracer               metrics.Tracer
	exitClassifier       *classifier.Classifier[string]
	startLimit           int
	allowStartIfComplete bool
}

// NewBase creates a Base for the named step.
func NewBase(name string, jobRepository repository.JobRepository) Base {
	return Base{
		name:           name,
		jobRepository:  jobRepository,
		metricRecorder: metrics.NewNoOpMetricRecorder(),
		tracer:         metrics.NewNoOpTracer(),
		exitClassifier: DefaultExitClassifier(),
	}
}

// Name implements port.Step.
func (b *Base) Name() string { return b.name }

// StartLimit implements port.Step.
func (b *Base) StartLimit() int { return b.startLimit }

// AllowStartIfComplete implements port.Step.
func (b *Base) AllowStartIfComplete() bool { return b.allowStartIfComplete }

// SetStartLimit bounds the number of attempts per JobInstance. Zero means unlimited.
func (b *Base) SetStartLimit(limit int) { b.startLimit = limit }

// SetAllowStartIfComplete makes the step run again on restart after it completed.
func (b *Base) SetAllowStartIfComplete(allow bool) { b.allowStartIfComplete = allow }

// SetMetricRecorder replaces the metric recorder.
func (b *Base) SetMetricRecorder(recorder metrics.MetricRecorder) {
	if recorder != nil {
		b.metricRecorder = recorder
	}
}

// MetricRecorder returns the metric recorder.
func (b *Base) MetricRecorder() metrics.MetricRecorder { return b.metricRecorder }

// SetTracer replaces the tracer.
func (b *Base) SetTracer(tracer metrics.Tracer) {
	if tracer != nil {
		b.tracer = tracer
	}
}

// Tracer returns the tracer.
func (b *Base) Tracer() metrics.Tracer { return b.tracer }

// SetExitClassifier replaces the classifier deciding the exit code of a failed attempt.
func (b *Base) SetExitClassifier(c *classifier.Classifier[string]) {
	if c != nil {
		b.exitClassifier = c
	}
}

// RegisterListener adds a StepExecutionListener.
func (b *Base) RegisterListener(l port.StepExecutionListener) {
	b.listeners = append(b.listeners, l)
}

// JobRepository returns the repository the step persists to.
func (b *Base) JobRepository() repository.JobRepository { return b.jobRepository }

// Run executes body as one attempt of the step, recording the outcome on se.
func (b *Base) Run(ctx context.Context, se *model.StepExecution, body Body) error {
	logger.Infof("Step '%s' executing (StepExecution ID: %s).", b.name, se.ID)

	ctx, endSpan := b.tracer.StartStepSpan(ctx, se)
	defer endSpan()

	// 1. Update StepExecution status to STARTED
	se.MarkAsStarted()
	if err := b.jobRepository.UpdateStepExecution(ctx, se); err != nil {
		err = exception.NewBatchError(exception.KindRepository, b.name, "failed to update StepExecution status to STARTED", err)
		se.Finish(model.BatchStatusUnknown, model.ExitStatusUnknown.AddExitDescription(err.Error()))
		return err
	}
	b.metricRecorder.RecordStepStart(ctx, se)

	// 2. Listener notification (BeforeStep)
	for _, l := range b.listeners {
		l.BeforeStep(ctx, se)
	}

	// 3. Run the step body
	exit, runErr := body(ctx, se)

	// 4. Decide the terminal status
	if runErr == nil {
		se.Finish(model.BatchStatusCompleted, model.ExitStatusCompleted.And(exit))
	} else {
		status, failExit := b.Classify(runErr)
		b.tracer.RecordError(ctx, b.name, runErr)
		se.AddFailure(runErr)
		se.Finish(status, failExit)
		if status == model.BatchStatusStopped {
			logger.Warnf("Step '%s' stopped: %v", b.name, runErr)
		} else {
			logger.Errorf("Step '%s' failed: %v", b.name, runErr)
		}
	}

	// 5. Listener notification (AfterStep)
	for _, l := range b.listeners {
		l.AfterStep(ctx, se)
	}

	// 6. Persist the final state, even when ctx was cancelled by a stop request
	if err := b.jobRepository.UpdateStepExecution(context.WithoutCancel(ctx), se); err != nil {
		logger.Errorf("Step '%s': failed to save final StepExecution state: %v", b.name, err)
		se.Status = model.BatchStatusUnknown
		se.ExitStatus = model.ExitStatusUnknown.AddExitDescription("failed to save final step state")
		saveErr := exception.NewBatchError(exception.KindRepository, b.name, "failed to save final StepExecution state", err)
		if runErr == nil {
			runErr = saveErr
		} else {
			runErr = multierror.Append(runErr, saveErr)
		}
	}
	b.metricRecorder.RecordStepEnd(ctx, se)

	logger.Infof("Step '%s' finished. Status: %s, ExitStatus: %s", b.name, se.Status, se.ExitStatus)
	return runErr
}

// Classify maps a terminating failure to a batch status and an exit status
// whose description carries the failure's type name.
func (b *Base) Classify(err error) (model.BatchStatus, model.ExitStatus) {
	return Classify(b.exitClassifier, err)
}

// Classify maps err to a terminal status using exitCodes for the exit code.
// Interruptions stop. Repository failures leave the outcome UNKNOWN unless the
// chunk they hit was rolled back, which fails the step like any other error.
func Classify(exitCodes *classifier.Classifier[string], err error) (model.BatchStatus, model.ExitStatus) {
	if exitCodes == nil {
		exitCodes = DefaultExitClassifier()
	}
	exit := model.ExitStatus{ExitCode: exitCodes.Classify(err)}.AddExitDescription(Describe(err))

	switch {
	case exception.IsKind(err, exception.KindInterrupted):
		return model.BatchStatusStopped, exit
	case exception.IsKind(err, exception.KindChunkRolledBack):
		return model.BatchStatusFailed, exit
	case exception.IsKind(err, exception.KindRepository):
		// Metadata may not reflect what was committed.
		return model.BatchStatusUnknown, exit
	default:
		return model.BatchStatusFailed, exit
	}
}

// Describe renders err as "TypeName: message".
func Describe(err error) string {
	if err == nil {
		return ""
	}
	var merr *multierror.Error
	if errors.As(err, &merr) && len(merr.Errors) > 0 {
		err = merr.Errors[0]
	}
	return fmt.Sprintf("%s: %s", exception.TypeName(err), exception.ExtractErrorMessage(err))
}

// Package runner implements jobs that run their flows one after another.
package runner

import (
	"context"

	"github.com/hashicorp/go-multierror"

	port "github.com/tigerroll/chunkbatch/pkg/batch/core/application/port"
	model "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/repository"
	metrics "github.com/tigerroll/chunkbatch/pkg/batch/core/metrics"
	"github.com/tigerroll/chunkbatch/pkg/batch/engine/step"
	exception "github.com/tigerroll/chunkbatch/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/chunkbatch/pkg/batch/support/util/logger"
)

// noOpDescription is recorded as the exit description of an execution that ran no step.
const noOpDescription = "All steps already completed or no steps configured for this job."

// SimpleJob is an implementation of port.Job that runs its flows sequentially.
// A flow that does not complete ends the job with that flow's status.
type SimpleJob struct {
	name           string
	jobRepository  repository.JobRepository
	flows          []port.Flow
	listeners      []port.JobExecutionListener
	validator      port.JobParametersValidator
	incrementer    port.JobParametersIncrementer
	restartable    bool
	startLimit     int
	metricRecorder metrics.MetricRecorder
	tracer         metrics.Tracer
}

// Verify that SimpleJob implements the port.Job interface.
var _ port.Job = (*SimpleJob)(nil)

// NewSimpleJob creates a restartable job without a start limit.
func NewSimpleJob(name string, jobRepository repository.JobRepository) *SimpleJob {
	return &SimpleJob{
		name:           name,
		jobRepository:  jobRepository,
		restartable:    true,
		metricRecorder: metrics.NewNoOpMetricRecorder(),
		tracer:         metrics.NewNoOpTracer(),
	}
}

// Name implements port.Job.
func (j *SimpleJob) Name() string { return j.name }

// IsRestartable implements port.Job.
func (j *SimpleJob) IsRestartable() bool { return j.restartable }

// StartLimit implements port.Job.
func (j *SimpleJob) StartLimit() int { return j.startLimit }

// SetRestartable controls whether a JobInstance of this job may be launched again.
func (j *SimpleJob) SetRestartable(restartable bool) { j.restartable = restartable }

// SetStartLimit bounds the number of executions per JobInstance. Zero means unlimited.
func (j *SimpleJob) SetStartLimit(limit int) { j.startLimit = limit }

// AddStep appends a flow consisting of the single step s.
func (j *SimpleJob) AddStep(s port.Step) *SimpleJob {
	j.flows = append(j.flows, NewStepFlow(s.Name(), s))
	return j
}

// AddFlow appends a flow, such as a split.
func (j *SimpleJob) AddFlow(f port.Flow) *SimpleJob {
	j.flows = append(j.flows, f)
	return j
}

// Flows returns the flows in execution order.
func (j *SimpleJob) Flows() []port.Flow { return j.flows }

// RegisterListener adds a JobExecutionListener.
func (j *SimpleJob) RegisterListener(l port.JobExecutionListener) {
	j.listeners = append(j.listeners, l)
}

// SetValidator sets the validator consulted before each launch.
func (j *SimpleJob) SetValidator(v port.JobParametersValidator) { j.validator = v }

// ValidateParameters checks params with the configured validator, if any.
func (j *SimpleJob) ValidateParameters(params model.JobParameters) error {
	if j.validator == nil {
		return nil
	}
	logger.Debugf("Job '%s': Validating JobParameters: %s", j.name, params.String())
	return j.validator.Validate(params)
}

// SetIncrementer sets the incrementer used to derive the parameters of the next instance.
func (j *SimpleJob) SetIncrementer(inc port.JobParametersIncrementer) { j.incrementer = inc }

// Incrementer returns the incrementer, or nil.
func (j *SimpleJob) Incrementer() port.JobParametersIncrementer { return j.incrementer }

// SetMetricRecorder replaces the metric recorder.
func (j *SimpleJob) SetMetricRecorder(recorder metrics.MetricRecorder) {
	if recorder != nil {
		j.metricRecorder = recorder
	}
}

// SetTracer replaces the tracer.
func (j *SimpleJob) SetTracer(tracer metrics.Tracer) {
	if tracer != nil {
		j.tracer = tracer
	}
}

// Execute runs the flows of the job, recording the outcome on je and persisting it.
func (j *SimpleJob) Execute(ctx context.Context, je *model.JobExecution) error {
	logger.Infof("Starting Job '%s' (Execution ID: %s).", j.name, je.ID)

	ctx, finishSpan := j.tracer.StartJobSpan(ctx, je)
	defer finishSpan()

	instance, err := j.jobRepository.GetJobInstance(ctx, je.JobInstanceID)
	if err != nil {
		err = exception.NewBatchError(exception.KindRepository, j.name, "failed to load JobInstance "+je.JobInstanceID, err)
		return j.finish(ctx, je, model.BatchStatusFailed, model.ExitStatusFailed.AddExitDescription(step.Describe(err)), err)
	}

	// 1. Update JobExecution status to STARTED
	je.MarkAsStarted()
	if err := j.update(ctx, je); err != nil {
		err = exception.NewBatchError(exception.KindOf(err), j.name, "failed to update JobExecution status to STARTED", err)
		logger.Errorf("Job '%s': %v", j.name, err)
		je.Finish(model.BatchStatusUnknown, model.ExitStatusUnknown.AddExitDescription(step.Describe(err)))
		je.AddFailure(err)
		return err
	}
	j.metricRecorder.RecordJobStart(ctx, je)

	// 2. Listener notification (BeforeJob)
	for _, l := range j.listeners {
		l.BeforeJob(ctx, je)
	}

	// 3. Run the flows
	status, exit, runErr := j.run(ctx, je, NewSimpleStepHandler(j.jobRepository, instance))

	return j.finish(ctx, je, status, exit, runErr)
}

// update saves je. When an operator changed the stored execution meanwhile, je
// takes over its version and any stop it recorded, then is saved again.
func (j *SimpleJob) update(ctx context.Context, je *model.JobExecution) error {
	err := j.jobRepository.UpdateJobExecution(ctx, je)
	if err == nil || !exception.IsOptimisticLockingFailure(err) {
		return err
	}
	stored, gerr := j.jobRepository.GetJobExecution(context.WithoutCancel(ctx), je.ID)
	if gerr != nil || stored.Version <= je.Version {
		return err
	}
	je.Version = stored.Version
	if je.IsRunning() && (stored.Status == model.BatchStatusStopping || stored.Status == model.BatchStatusStopped) {
		logger.Infof("Job '%s': stop requested for JobExecution (ID: %s).", j.name, je.ID)
		je.Stop()
	}
	return j.jobRepository.UpdateJobExecution(ctx, je)
}

func (j *SimpleJob) run(ctx context.Context, je *model.JobExecution, handler port.StepHandler) (model.BatchStatus, model.ExitStatus, error) {
	status, exit := model.BatchStatusCompleted, model.ExitStatusCompleted
	for _, f := range j.flows {
		logger.Debugf("Job '%s': Executing flow '%s'.", j.name, f.Name())
		fe, err := f.Execute(ctx, je, handler)
		status, exit = fe.Status, fe.ExitStatus
		if err != nil || fe.Status != model.BatchStatusCompleted {
			return status, exit, err
		}
	}
	if len(je.StepExecutions) == 0 {
		return model.BatchStatusCompleted, model.ExitStatusNoOp.AddExitDescription(noOpDescription), nil
	}
	return status, exit, nil
}

// finish records the terminal state, notifies listeners and saves je even when ctx was cancelled.
func (j *SimpleJob) finish(ctx context.Context, je *model.JobExecution, status model.BatchStatus, exit model.ExitStatus, runErr error) error {
	je.Finish(status, exit)
	if runErr != nil {
		je.AddFailure(runErr)
		j.tracer.RecordError(ctx, j.name, runErr)
	}

	// 4. Listener notification (AfterJob)
	for _, l := range j.listeners {
		l.AfterJob(ctx, je)
	}

	// 5. Final persistence of JobExecution
	if err := j.update(context.WithoutCancel(ctx), je); err != nil {
		logger.Errorf("Job '%s': Failed to update final JobExecution (ID: %s) state: %v", j.name, je.ID, err)
		saveErr := exception.NewBatchError(exception.KindOf(err), j.name, "failed to save final JobExecution state", err)
		if runErr == nil {
			runErr = saveErr
		} else {
			runErr = multierror.Append(runErr, saveErr)
		}
	}
	j.metricRecorder.RecordJobEnd(ctx, je)

	logger.Infof("Job '%s' (Execution ID: %s) finished. Final Status: %s, Exit Status: %s", j.name, je.ID, je.Status, je.ExitStatus)
	for _, se := range je.StepExecutions {
		logger.Debugf("  StepExecution (Step: %s, ID: %s): status=%s, read=%d, write=%d, skip=%d, commit=%d, rollback=%d",
			se.StepName, se.ID, se.Status, se.ReadCount, se.WriteCount, se.SkipCount(), se.CommitCount, se.RollbackCount)
	}
	return runErr
}

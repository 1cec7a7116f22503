package usecase

import (
	"context"
	"errors"

	port "github.com/tigerroll/chunkbatch/pkg/batch/core/application/port"
	model "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/repository"
	exception "github.com/tigerroll/chunkbatch/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/chunkbatch/pkg/batch/support/util/logger"
)

const operatorModule = "job_operator"

// incrementing is implemented by jobs that derive the parameters of their next instance.
type incrementing interface {
	Incrementer() port.JobParametersIncrementer
}

// DefaultJobOperator is the default implementation of the JobOperator interface.
// Stop only reaches executions started by its launcher.
type DefaultJobOperator struct {
	jobRepository repository.JobRepository
	registry      JobRegistry
	launcher      *SimpleJobLauncher
	explorer      JobExplorer
}

// Verify that DefaultJobOperator implements the JobOperator interface.
var _ JobOperator = (*DefaultJobOperator)(nil)

// NewDefaultJobOperator creates a new instance of DefaultJobOperator.
func NewDefaultJobOperator(jobRepository repository.JobRepository, registry JobRegistry, launcher *SimpleJobLauncher, explorer JobExplorer) *DefaultJobOperator {
	return &DefaultJobOperator{
		jobRepository: jobRepository,
		registry:      registry,
		launcher:      launcher,
		explorer:      explorer,
	}
}

// Start implements JobOperator.
func (o *DefaultJobOperator) Start(ctx context.Context, jobName string, params model.JobParameters) (*model.JobExecution, error) {
	logger.Infof("JobOperator: Start called. Job: %s", jobName)
	return o.launcher.Launch(ctx, jobName, params)
}

// StartNextInstance implements JobOperator.
func (o *DefaultJobOperator) StartNextInstance(ctx context.Context, jobName string) (*model.JobExecution, error) {
	logger.Infof("JobOperator: StartNextInstance called. Job: %s", jobName)

	job, err := o.registry.GetJob(jobName)
	if err != nil {
		return nil, err
	}
	inc, ok := job.(incrementing)
	if !ok || inc.Incrementer() == nil {
		return nil, exception.NewBatchErrorf(exception.KindConfiguration, operatorModule,
			"job '%s' has no JobParametersIncrementer", jobName)
	}

	params := model.NewJobParameters()
	last, err := o.jobRepository.FindJobInstancesByJobName(ctx, jobName, 0, 1)
	if err != nil {
		return nil, exception.NewBatchError(exception.KindRepository, operatorModule, "failed to find last JobInstance of job '"+jobName+"'", err)
	}
	if len(last) > 0 {
		params = last[0].Parameters
	}
	next := inc.Incrementer().GetNext(params)
	logger.Infof("JobOperator: Next parameters for job '%s': %s", jobName, next.String())
	return o.launcher.Launch(ctx, jobName, next)
}

// Restart implements JobOperator.
func (o *DefaultJobOperator) Restart(ctx context.Context, executionID string) (*model.JobExecution, error) {
	logger.Infof("JobOperator: Restart called. Execution ID: %s", executionID)

	prev, err := o.explorer.GetJobExecution(ctx, executionID)
	if err != nil {
		return nil, err
	}
	switch prev.Status {
	case model.BatchStatusFailed, model.BatchStatusStopped:
	case model.BatchStatusCompleted, model.BatchStatusAbandoned:
		return nil, exception.NewBatchErrorf(exception.KindJobInstanceAlreadyComplete, operatorModule,
			"JobExecution (ID: %s) is %s and cannot be restarted", executionID, prev.Status)
	default:
		return nil, exception.NewBatchErrorf(exception.KindJobRestart, operatorModule,
			"JobExecution (ID: %s) is not in a restartable state (current status: %s)", executionID, prev.Status)
	}

	next, err := o.launcher.Launch(ctx, prev.JobName, prev.Parameters)
	if err != nil {
		return nil, err
	}
	logger.Infof("Restart of Job '%s' (Execution ID: %s) started. New execution ID: %s", prev.JobName, executionID, next.ID)
	return next, nil
}

// stopAttempts bounds the reload-and-save cycles of a stop request that races
// with the job's own updates.
const stopAttempts = 3

// Stop implements JobOperator. It records STOPPING on the stored execution, then
// cancels the running job. Steps end STOPPED at the next chunk boundary and the job
// picks up the recorded stop when it next saves itself.
func (o *DefaultJobOperator) Stop(ctx context.Context, executionID string) error {
	logger.Infof("JobOperator: Stop called. Execution ID: %s", executionID)

	for attempt := 1; ; attempt++ {
		je, err := o.explorer.GetJobExecution(ctx, executionID)
		if err != nil {
			return err
		}
		if !je.IsRunning() {
			return exception.NewBatchErrorf(exception.KindIllegalState, operatorModule,
				"JobExecution (ID: %s) is not running (current status: %s)", executionID, je.Status)
		}
		if !o.launcher.IsRunning(executionID) {
			return exception.NewBatchErrorf(exception.KindIllegalState, operatorModule,
				"JobExecution (ID: %s) is not running in this process", executionID)
		}

		je.Stop()
		err = o.jobRepository.UpdateJobExecution(ctx, je)
		if err == nil {
			break
		}
		if !exception.IsOptimisticLockingFailure(err) || attempt == stopAttempts {
			return exception.NewBatchError(exception.KindOf(err), operatorModule, "failed to record stop of JobExecution (ID: "+executionID+")", err)
		}
		logger.Debugf("JobExecution (ID: %s) changed while stopping, reloading.", executionID)
	}

	o.launcher.Interrupt(executionID)
	logger.Infof("Stop requested for JobExecution (ID: %s).", executionID)
	return nil
}

// Abandon implements JobOperator.
func (o *DefaultJobOperator) Abandon(ctx context.Context, executionID string) error {
	logger.Infof("JobOperator: Abandon called. Execution ID: %s", executionID)

	je, err := o.explorer.GetJobExecution(ctx, executionID)
	if err != nil {
		return err
	}
	if je.Status == model.BatchStatusAbandoned {
		logger.Infof("JobExecution (ID: %s) is already ABANDONED.", executionID)
		return nil
	}
	if !model.CanTransition(je.Status, model.BatchStatusAbandoned) || je.IsRunning() {
		return exception.NewBatchErrorf(exception.KindIllegalState, operatorModule,
			"JobExecution (ID: %s) cannot be abandoned (current status: %s)", executionID, je.Status)
	}

	je.MarkAsAbandoned()
	if err := o.jobRepository.UpdateJobExecution(ctx, je); err != nil {
		if errors.Is(err, exception.ErrOptimisticLockingFailure) {
			logger.Warnf("JobExecution (ID: %s) was modified concurrently while abandoning.", executionID)
		}
		return exception.NewBatchError(exception.KindOf(err), operatorModule, "failed to abandon JobExecution (ID: "+executionID+")", err)
	}
	logger.Infof("Abandoned JobExecution (ID: %s).", executionID)
	return nil
}

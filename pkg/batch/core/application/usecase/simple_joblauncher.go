package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"

	port "github.com/tigerroll/chunkbatch/pkg/batch/core/application/port"
	model "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/repository"
	"github.com/tigerroll/chunkbatch/pkg/batch/engine/step"
	exception "github.com/tigerroll/chunkbatch/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/chunkbatch/pkg/batch/support/util/logger"
)

const launcherModule = "job_launcher"

// parametersValidating is implemented by jobs that check their parameters before a launch.
type parametersValidating interface {
	ValidateParameters(params model.JobParameters) error
}

// runningExecution tracks a job execution started by this launcher.
type runningExecution struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// SimpleJobLauncher implements JobLauncher for local execution. Jobs are handed to
// a TaskExecutor: with a synchronous executor Launch returns once the job has
// finished, with an asynchronous one it returns as soon as the execution is saved.
type SimpleJobLauncher struct {
	jobRepository repository.JobRepository
	registry      JobRegistry
	executor      port.TaskExecutor

	// launchMu serializes the check-then-create sequence of launches from this process.
	launchMu sync.Mutex

	mu      sync.Mutex
	running map[string]*runningExecution
}

// Verify that SimpleJobLauncher implements the JobLauncher interface.
var _ JobLauncher = (*SimpleJobLauncher)(nil)

// NewSimpleJobLauncher creates a new SimpleJobLauncher. A nil executor runs jobs
// on the calling goroutine.
func NewSimpleJobLauncher(repo repository.JobRepository, registry JobRegistry, executor port.TaskExecutor) *SimpleJobLauncher {
	return &SimpleJobLauncher{
		jobRepository: repo,
		registry:      registry,
		executor:      executor,
		running:       make(map[string]*runningExecution),
	}
}

// Launch implements JobLauncher.
func (l *SimpleJobLauncher) Launch(ctx context.Context, jobName string, params model.JobParameters) (*model.JobExecution, error) {
	logger.Infof("Launching Job '%s'. Parameters: %s", jobName, params.String())

	job, err := l.registry.GetJob(jobName)
	if err != nil {
		return nil, err
	}
	if v, ok := job.(parametersValidating); ok {
		if err := v.ValidateParameters(params); err != nil {
			logger.Errorf("Job '%s': JobParameters validation failed: %v", jobName, err)
			return nil, err
		}
	}

	je, err := l.createJobExecution(ctx, job, params)
	if err != nil {
		logger.Errorf("Job '%s': launch refused: %v", jobName, err)
		return nil, err
	}

	jobCtx, cancel := context.WithCancel(ctx)
	run := &runningExecution{cancel: cancel, done: make(chan struct{})}
	l.mu.Lock()
	l.running[je.ID] = run
	l.mu.Unlock()

	task := func() {
		defer l.release(je.ID, run)
		if err := job.Execute(jobCtx, je); err != nil {
			logger.Warnf("Job '%s' (Execution ID: %s) ended with error: %v", jobName, je.ID, err)
		}
	}

	if l.executor == nil {
		task()
		return je, nil
	}
	if err := l.executor.Execute(jobCtx, task); err != nil {
		l.release(je.ID, run)
		rejected := exception.NewBatchError(exception.KindTaskRejected, launcherModule,
			fmt.Sprintf("job '%s' was rejected by the task executor", jobName), err)
		je.MarkAsFailed(model.ExitStatusFailed.AddExitDescription(step.Describe(rejected)), rejected)
		if uerr := l.jobRepository.UpdateJobExecution(context.WithoutCancel(ctx), je); uerr != nil {
			logger.Errorf("Failed to record rejected JobExecution (ID: %s): %v", je.ID, uerr)
		}
		return je, rejected
	}
	return je, nil
}

// createJobExecution applies the relaunch rules to the JobInstance identified by
// jobName and params and saves a fresh JobExecution for it.
func (l *SimpleJobLauncher) createJobExecution(ctx context.Context, job port.Job, params model.JobParameters) (*model.JobExecution, error) {
	l.launchMu.Lock()
	defer l.launchMu.Unlock()

	name := job.Name()
	instance, err := l.jobRepository.FindJobInstance(ctx, name, params)
	switch {
	case errors.Is(err, repository.ErrJobInstanceNotFound):
		if instance, err = l.jobRepository.CreateJobInstance(ctx, name, params); err != nil {
			return nil, exception.NewBatchError(exception.KindOf(err), launcherModule, "failed to create JobInstance", err)
		}
		logger.Infof("Created new JobInstance (ID: %s, JobName: %s).", instance.ID, name)
	case err != nil:
		return nil, exception.NewBatchError(exception.KindRepository, launcherModule, "failed to search for existing JobInstance", err)
	default:
		if err := l.checkRelaunch(ctx, job, instance); err != nil {
			return nil, err
		}
	}

	je := model.NewJobExecution(instance)
	if err := l.jobRepository.SaveJobExecution(ctx, je); err != nil {
		return nil, exception.NewBatchError(exception.KindOf(err), launcherModule, "failed to save JobExecution", err)
	}
	logger.Infof("Created JobExecution (ID: %s) for JobInstance (ID: %s).", je.ID, instance.ID)
	return je, nil
}

// checkRelaunch decides whether an existing JobInstance may get another execution.
func (l *SimpleJobLauncher) checkRelaunch(ctx context.Context, job port.Job, instance *model.JobInstance) error {
	executions, err := l.jobRepository.FindJobExecutions(ctx, instance)
	if err != nil {
		return exception.NewBatchError(exception.KindRepository, launcherModule, "failed to load JobExecutions", err)
	}
	if len(executions) == 0 {
		return nil
	}
	for _, e := range executions {
		if e.IsRunning() {
			return exception.NewBatchErrorf(exception.KindJobExecutionAlreadyRunning, launcherModule,
				"a JobExecution (ID: %s, Status: %s) is already running for JobInstance (ID: %s)", e.ID, e.Status, instance.ID)
		}
	}

	last := executions[0] // newest first
	switch {
	case last.Status == model.BatchStatusCompleted && !job.IsRestartable():
		return exception.NewBatchErrorf(exception.KindJobInstanceAlreadyComplete, launcherModule,
			"JobInstance (ID: %s) of job '%s' already completed and the job is not restartable", instance.ID, job.Name())
	case last.Status == model.BatchStatusAbandoned:
		return exception.NewBatchErrorf(exception.KindJobInstanceAlreadyComplete, launcherModule,
			"JobInstance (ID: %s) of job '%s' was abandoned", instance.ID, job.Name())
	case last.Status == model.BatchStatusUnknown:
		return exception.NewBatchErrorf(exception.KindJobRestart, launcherModule,
			"last JobExecution (ID: %s) of JobInstance (ID: %s) ended in UNKNOWN state; abandon it before restarting", last.ID, instance.ID)
	case !job.IsRestartable():
		return exception.NewBatchErrorf(exception.KindDuplicateJobInstance, launcherModule,
			"JobInstance (ID: %s) of job '%s' already exists and the job is not restartable", instance.ID, job.Name())
	}
	if limit := job.StartLimit(); limit > 0 && len(executions) >= limit {
		return exception.NewBatchErrorf(exception.KindStartLimitExceeded, launcherModule,
			"JobInstance (ID: %s) of job '%s' reached its start limit of %d", instance.ID, job.Name(), limit)
	}
	logger.Infof("Restarting JobInstance (ID: %s) after JobExecution (ID: %s, Status: %s).", instance.ID, last.ID, last.Status)
	return nil
}

func (l *SimpleJobLauncher) release(executionID string, run *runningExecution) {
	l.mu.Lock()
	if l.running[executionID] == run {
		delete(l.running, executionID)
	}
	l.mu.Unlock()
	run.cancel()
	close(run.done)
}

// Interrupt cancels the context of an execution started by this launcher. It
// reports false when the execution is not running here.
func (l *SimpleJobLauncher) Interrupt(executionID string) bool {
	l.mu.Lock()
	run, ok := l.running[executionID]
	l.mu.Unlock()
	if ok {
		run.cancel()
		logger.Infof("Sent interrupt signal to JobExecution (ID: %s).", executionID)
	}
	return ok
}

// IsRunning reports whether an execution started by this launcher has not finished.
func (l *SimpleJobLauncher) IsRunning(executionID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.running[executionID]
	return ok
}

// Wait blocks until an execution started by this launcher has finished, or ctx is done.
// It returns immediately when the execution is not running here.
func (l *SimpleJobLauncher) Wait(ctx context.Context, executionID string) error {
	l.mu.Lock()
	run, ok := l.running[executionID]
	l.mu.Unlock()
	if !ok {
		return nil
	}
	select {
	case <-run.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Running returns the number of executions started by this launcher that have not finished.
func (l *SimpleJobLauncher) Running() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.running)
}

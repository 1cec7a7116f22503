package sql

import (
	model "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
)

func toJobInstanceEntity(ji *model.JobInstance) *JobInstanceEntity {
	return &JobInstanceEntity{
		ID:         ji.ID,
		JobName:    ji.JobName,
		JobKey:     ji.JobKey,
		Parameters: ji.Parameters,
		Version:    ji.Version,
		CreateTime: ji.CreateTime,
	}
}

func toJobInstance(e *JobInstanceEntity) *model.JobInstance {
	return &model.JobInstance{
		ID:         e.ID,
		JobName:    e.JobName,
		JobKey:     e.JobKey,
		Parameters: e.Parameters,
		Version:    e.Version,
		CreateTime: e.CreateTime,
	}
}

func toJobExecutionEntity(je *model.JobExecution) *JobExecutionEntity {
	return &JobExecutionEntity{
		ID:               je.ID,
		JobInstanceID:    je.JobInstanceID,
		JobName:          je.JobName,
		Parameters:       je.Parameters,
		Status:           string(je.Status),
		ExitCode:         je.ExitStatus.ExitCode,
		ExitDescription:  je.ExitStatus.ExitDescription,
		CreateTime:       je.CreateTime,
		StartTime:        je.StartTime,
		EndTime:          je.EndTime,
		LastUpdated:      je.LastUpdated,
		Version:          je.Version,
		Failures:         je.Failures,
		ExecutionContext: je.ExecutionContext,
	}
}

func toJobExecution(e *JobExecutionEntity) *model.JobExecution {
	failures := e.Failures
	if failures == nil {
		failures = model.FailureList{}
	}
	ec := e.ExecutionContext
	if ec == nil {
		ec = model.NewExecutionContext()
	}
	return &model.JobExecution{
		ID:               e.ID,
		JobInstanceID:    e.JobInstanceID,
		JobName:          e.JobName,
		Parameters:       e.Parameters,
		Status:           model.BatchStatus(e.Status),
		ExitStatus:       model.ExitStatus{ExitCode: e.ExitCode, ExitDescription: e.ExitDescription},
		CreateTime:       e.CreateTime,
		StartTime:        e.StartTime,
		EndTime:          e.EndTime,
		LastUpdated:      e.LastUpdated,
		Version:          e.Version,
		Failures:         failures,
		ExecutionContext: ec,
		StepExecutions:   []*model.StepExecution{},
	}
}

// jobExecutionUpdates lists the mutable columns of a job execution.
func jobExecutionUpdates(je *model.JobExecution) map[string]interface{} {
	return map[string]interface{}{
		"status":            string(je.Status),
		"exit_code":         je.ExitStatus.ExitCode,
		"exit_description":  je.ExitStatus.ExitDescription,
		"start_time":        je.StartTime,
		"end_time":          je.EndTime,
		"last_updated":      je.LastUpdated,
		"failures":          je.Failures,
		"execution_context": je.ExecutionContext,
	}
}

func toStepExecutionEntity(se *model.StepExecution) *StepExecutionEntity {
	return &StepExecutionEntity{
		ID:               se.ID,
		JobExecutionID:   se.JobExecutionID,
		StepName:         se.StepName,
		Status:           string(se.Status),
		ExitCode:         se.ExitStatus.ExitCode,
		ExitDescription:  se.ExitStatus.ExitDescription,
		StartTime:        se.StartTime,
		EndTime:          se.EndTime,
		LastUpdated:      se.LastUpdated,
		Version:          se.Version,
		ReadCount:        se.ReadCount,
		WriteCount:       se.WriteCount,
		CommitCount:      se.CommitCount,
		RollbackCount:    se.RollbackCount,
		FilterCount:      se.FilterCount,
		ReadSkipCount:    se.ReadSkipCount,
		ProcessSkipCount: se.ProcessSkipCount,
		WriteSkipCount:   se.WriteSkipCount,
		Failures:         se.Failures,
		ExecutionContext: se.ExecutionContext,
	}
}

func toStepExecution(e *StepExecutionEntity) *model.StepExecution {
	failures := e.Failures
	if failures == nil {
		failures = model.FailureList{}
	}
	ec := e.ExecutionContext
	if ec == nil {
		ec = model.NewExecutionContext()
	}
	return &model.StepExecution{
		ID:               e.ID,
		StepName:         e.StepName,
		JobExecutionID:   e.JobExecutionID,
		Status:           model.BatchStatus(e.Status),
		ExitStatus:       model.ExitStatus{ExitCode: e.ExitCode, ExitDescription: e.ExitDescription},
		StartTime:        e.StartTime,
		EndTime:          e.EndTime,
		LastUpdated:      e.LastUpdated,
		Version:          e.Version,
		ReadCount:        e.ReadCount,
		WriteCount:       e.WriteCount,
		CommitCount:      e.CommitCount,
		RollbackCount:    e.RollbackCount,
		FilterCount:      e.FilterCount,
		ReadSkipCount:    e.ReadSkipCount,
		ProcessSkipCount: e.ProcessSkipCount,
		WriteSkipCount:   e.WriteSkipCount,
		Failures:         failures,
		ExecutionContext: ec,
	}
}

// stepExecutionUpdates lists the mutable columns of a step execution.
func stepExecutionUpdates(se *model.StepExecution) map[string]interface{} {
	return map[string]interface{}{
		"status":             string(se.Status),
		"exit_code":          se.ExitStatus.ExitCode,
		"exit_description":   se.ExitStatus.ExitDescription,
		"start_time":         se.StartTime,
		"end_time":           se.EndTime,
		"last_updated":       se.LastUpdated,
		"read_count":         se.ReadCount,
		"write_count":        se.WriteCount,
		"commit_count":       se.CommitCount,
		"rollback_count":     se.RollbackCount,
		"filter_count":       se.FilterCount,
		"read_skip_count":    se.ReadSkipCount,
		"process_skip_count": se.ProcessSkipCount,
		"write_skip_count":   se.WriteSkipCount,
		"failures":           se.Failures,
		"execution_context":  se.ExecutionContext,
	}
}

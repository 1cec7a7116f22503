package sql

import (
	"time"

	model "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
)

// JobInstanceEntity is the persisted form of model.JobInstance.
type JobInstanceEntity struct {
	Seq        int64               `gorm:"column:seq;primaryKey;autoIncrement"`
	ID         string              `gorm:"column:id"`
	JobName    string              `gorm:"column:job_name"`
	JobKey     string              `gorm:"column:job_key"`
	Parameters model.JobParameters `gorm:"column:parameters"`
	Version    int                 `gorm:"column:version"`
	CreateTime time.Time           `gorm:"column:create_time"`
}

// TableName implements gorm's tabler.
func (JobInstanceEntity) TableName() string {
	return "batch_job_instance"
}

// JobExecutionEntity is the persisted form of model.JobExecution.
type JobExecutionEntity struct {
	Seq              int64                  `gorm:"column:seq;primaryKey;autoIncrement"`
	ID               string                 `gorm:"column:id"`
	JobInstanceID    string                 `gorm:"column:job_instance_id"`
	JobName          string                 `gorm:"column:job_name"`
	Parameters       model.JobParameters    `gorm:"column:parameters"`
	Status           string                 `gorm:"column:status"`
	ExitCode         string                 `gorm:"column:exit_code"`
	ExitDescription  string                 `gorm:"column:exit_description"`
	CreateTime       time.Time              `gorm:"column:create_time"`
	StartTime        *time.Time             `gorm:"column:start_time"`
	EndTime          *time.Time             `gorm:"column:end_time"`
	LastUpdated      time.Time              `gorm:"column:last_updated"`
	Version          int                    `gorm:"column:version"`
	Failures         model.FailureList      `gorm:"column:failures"`
	ExecutionContext model.ExecutionContext `gorm:"column:execution_context"`
}

// TableName implements gorm's tabler.
func (JobExecutionEntity) TableName() string {
	return "batch_job_execution"
}

// StepExecutionEntity is the persisted form of model.StepExecution.
type StepExecutionEntity struct {
	Seq              int64                  `gorm:"column:seq;primaryKey;autoIncrement"`
	ID               string                 `gorm:"column:id"`
	JobExecutionID   string                 `gorm:"column:job_execution_id"`
	StepName         string                 `gorm:"column:step_name"`
	Status           string                 `gorm:"column:status"`
	ExitCode         string                 `gorm:"column:exit_code"`
	ExitDescription  string                 `gorm:"column:exit_description"`
	StartTime        *time.Time             `gorm:"column:start_time"`
	EndTime          *time.Time             `gorm:"column:end_time"`
	LastUpdated      time.Time              `gorm:"column:last_updated"`
	Version          int                    `gorm:"column:version"`
	ReadCount        int                    `gorm:"column:read_count"`
	WriteCount       int                    `gorm:"column:write_count"`
	CommitCount      int                    `gorm:"column:commit_count"`
	RollbackCount    int                    `gorm:"column:rollback_count"`
	FilterCount      int                    `gorm:"column:filter_count"`
	ReadSkipCount    int                    `gorm:"column:read_skip_count"`
	ProcessSkipCount int                    `gorm:"column:process_skip_count"`
	WriteSkipCount   int                    `gorm:"column:write_skip_count"`
	Failures         model.FailureList      `gorm:"column:failures"`
	ExecutionContext model.ExecutionContext `gorm:"column:execution_context"`
}

// TableName implements gorm's tabler.
func (StepExecutionEntity) TableName() string {
	return "batch_step_execution"
}

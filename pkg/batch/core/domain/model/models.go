// Package model defines the domain objects of the batch engine: job instances,
// job and step executions, their statuses and the restart state they carry.
package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tigerroll/chunkbatch/pkg/batch/support/util/exception"
	"github.com/tigerroll/chunkbatch/pkg/batch/support/util/logger"
)

// NewID generates a new UUID string.
func NewID() string {
	return uuid.New().String()
}

// FailureList holds failure descriptions recorded on an execution.
type FailureList []string

// Value implements driver.Valuer.
func (fl FailureList) Value() (driver.Value, error) {
	if fl == nil {
		return "[]", nil
	}
	data, err := json.Marshal([]string(fl))
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan implements sql.Scanner.
func (fl *FailureList) Scan(value interface{}) error {
	var b []byte
	switch v := value.(type) {
	case nil:
		*fl = FailureList{}
		return nil
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return fmt.Errorf("unsupported Scan type for FailureList: %T", value)
	}
	if len(b) == 0 {
		*fl = FailureList{}
		return nil
	}
	return json.Unmarshal(b, (*[]string)(fl))
}

func (fl *FailureList) add(err error) bool {
	if err == nil {
		return false
	}
	msg := exception.TypeName(err) + ": " + err.Error()
	for _, existing := range *fl {
		if existing == msg {
			return false
		}
	}
	*fl = append(*fl, msg)
	return true
}

// JobInstance is the unique (job name, job parameters) identity of a logical job run.
type JobInstance struct {
	ID         string
	JobName    string
	Parameters JobParameters
	// JobKey is the identity hash of Parameters.
	JobKey     string
	Version    int
	CreateTime time.Time
}

// NewJobInstance creates a new JobInstance.
func NewJobInstance(jobName string, params JobParameters) *JobInstance {
	return &JobInstance{
		ID:         NewID(),
		JobName:    jobName,
		Parameters: params,
		JobKey:     params.Hash(),
		CreateTime: time.Now(),
	}
}

// SameIdentity reports whether both instances denote the same job name and parameters.
func (ji *JobInstance) SameIdentity(other *JobInstance) bool {
	if ji == nil || other == nil {
		return ji == other
	}
	return ji.JobName == other.JobName && ji.Parameters.Equal(other.Parameters)
}

// JobExecution is one attempt to run a JobInstance.
type JobExecution struct {
	ID               string
	JobInstanceID    string
	JobName          string
	Parameters       JobParameters
	Status           BatchStatus
	ExitStatus       ExitStatus
	CreateTime       time.Time
	StartTime        *time.Time
	EndTime          *time.Time
	LastUpdated      time.Time
	Version          int
	Failures         FailureList
	ExecutionContext ExecutionContext
	StepExecutions   []*StepExecution
}

// NewJobExecution creates a new JobExecution in STARTING state.
func NewJobExecution(instance *JobInstance) *JobExecution {
	now := time.Now()
	return &JobExecution{
		ID:               NewID(),
		JobInstanceID:    instance.ID,
		JobName:          instance.JobName,
		Parameters:       instance.Parameters,
		Status:           BatchStatusStarting,
		ExitStatus:       ExitStatusUnknown,
		CreateTime:       now,
		LastUpdated:      now,
		Failures:         FailureList{},
		ExecutionContext: NewExecutionContext(),
		StepExecutions:   []*StepExecution{},
	}
}

// CreateStepExecution creates a StepExecution for stepName and attaches it to je.
func (je *JobExecution) CreateStepExecution(stepName string) *StepExecution {
	se := NewStepExecution(stepName, je)
	je.StepExecutions = append(je.StepExecutions, se)
	return se
}

// TransitionTo moves the execution to newStatus if the state machine allows it.
func (je *JobExecution) TransitionTo(newStatus BatchStatus) error {
	if !CanTransition(je.Status, newStatus) {
		return exception.NewBatchErrorf(exception.KindIllegalState, "JobExecution",
			"invalid state transition for JobExecution (ID: %s): %s -> %s", je.ID, je.Status, newStatus)
	}
	je.Status = newStatus
	je.LastUpdated = time.Now()
	return nil
}

func (je *JobExecution) forceStatus(s BatchStatus) {
	if err := je.TransitionTo(s); err != nil {
		logger.Warnf("Could not update JobExecution (ID: %s) status to %s: %v", je.ID, s, err)
		je.Status = s
		je.LastUpdated = time.Now()
	}
}

// Finish records the terminal status and exit status.
func (je *JobExecution) Finish(s BatchStatus, exit ExitStatus) {
	je.forceStatus(s)
	je.ExitStatus = exit
	now := time.Now()
	je.EndTime = &now
	je.LastUpdated = now
}

// MarkAsStarted updates the status to STARTED and records the start time.
func (je *JobExecution) MarkAsStarted() {
	je.forceStatus(BatchStatusStarted)
	now := time.Now()
	je.StartTime = &now
	je.ExitStatus = ExitStatusExecuting
}

// MarkAsCompleted finishes the execution as COMPLETED with exit.
func (je *JobExecution) MarkAsCompleted(exit ExitStatus) {
	je.Finish(BatchStatusCompleted, exit)
}

// MarkAsFailed finishes the execution as FAILED, recording err.
func (je *JobExecution) MarkAsFailed(exit ExitStatus, err error) {
	je.Finish(BatchStatusFailed, exit)
	je.AddFailure(err)
}

// MarkAsStopped finishes the execution as STOPPED.
func (je *JobExecution) MarkAsStopped(exit ExitStatus) {
	je.Finish(BatchStatusStopped, exit)
}

// MarkAsAbandoned marks a failed or stopped execution as never to be restarted.
func (je *JobExecution) MarkAsAbandoned() {
	je.forceStatus(BatchStatusAbandoned)
	je.LastUpdated = time.Now()
}

// Stop requests a cooperative stop. Running steps observe it at the next chunk boundary.
func (je *JobExecution) Stop() {
	for _, se := range je.StepExecutions {
		se.SetTerminateOnly()
	}
	if je.Status == BatchStatusStarted {
		je.forceStatus(BatchStatusStopping)
	} else if je.Status == BatchStatusStarting {
		je.forceStatus(BatchStatusStopped)
	}
}

// IsStopping reports whether a stop was requested.
func (je *JobExecution) IsStopping() bool {
	return je.Status == BatchStatusStopping
}

// IsRunning reports whether the execution has not finished.
func (je *JobExecution) IsRunning() bool {
	return je.EndTime == nil && je.Status.IsRunning()
}

// AddFailure records err once.
func (je *JobExecution) AddFailure(err error) {
	if je.Failures.add(err) {
		je.LastUpdated = time.Now()
	}
}

// StepExecution is one attempt to run one step within a JobExecution.
// It is owned by the goroutine executing the step for its whole lifetime.
type StepExecution struct {
	ID               string
	StepName         string
	JobExecutionID   string
	JobExecution     *JobExecution `json:"-"`
	Status           BatchStatus
	ExitStatus       ExitStatus
	StartTime        *time.Time
	EndTime          *time.Time
	LastUpdated      time.Time
	Version          int
	ReadCount        int
	WriteCount       int
	CommitCount      int
	RollbackCount    int
	FilterCount      int
	ReadSkipCount    int
	ProcessSkipCount int
	WriteSkipCount   int
	Failures         FailureList
	ExecutionContext ExecutionContext
	terminateOnly    bool
}

// NewStepExecution creates a StepExecution in STARTING state for jobExecution.
// It is not attached to jobExecution.StepExecutions; use JobExecution.CreateStepExecution for that.
func NewStepExecution(stepName string, jobExecution *JobExecution) *StepExecution {
	return &StepExecution{
		ID:               NewID(),
		StepName:         stepName,
		JobExecutionID:   jobExecution.ID,
		JobExecution:     jobExecution,
		Status:           BatchStatusStarting,
		ExitStatus:       ExitStatusExecuting,
		LastUpdated:      time.Now(),
		Failures:         FailureList{},
		ExecutionContext: NewExecutionContext(),
	}
}

// TransitionTo moves the execution to newStatus if the state machine allows it.
func (se *StepExecution) TransitionTo(newStatus BatchStatus) error {
	if !CanTransition(se.Status, newStatus) {
		return exception.NewBatchErrorf(exception.KindIllegalState, "StepExecution",
			"invalid state transition for StepExecution (ID: %s): %s -> %s", se.ID, se.Status, newStatus)
	}
	se.Status = newStatus
	se.LastUpdated = time.Now()
	return nil
}

func (se *StepExecution) forceStatus(s BatchStatus) {
	if err := se.TransitionTo(s); err != nil {
		logger.Warnf("Could not update StepExecution (ID: %s) status to %s: %v", se.ID, s, err)
		se.Status = s
		se.LastUpdated = time.Now()
	}
}

// MarkAsStarted updates the status to STARTED and records the start time.
func (se *StepExecution) MarkAsStarted() {
	se.forceStatus(BatchStatusStarted)
	now := time.Now()
	se.StartTime = &now
}

// Finish records the terminal status and exit status.
func (se *StepExecution) Finish(status BatchStatus, exit ExitStatus) {
	se.forceStatus(status)
	se.ExitStatus = exit
	now := time.Now()
	se.EndTime = &now
	se.LastUpdated = now
}

// SetTerminateOnly asks the step to stop at the next chunk boundary.
func (se *StepExecution) SetTerminateOnly() {
	se.terminateOnly = true
}

// IsTerminateOnly reports whether a stop was requested.
func (se *StepExecution) IsTerminateOnly() bool {
	return se.terminateOnly
}

// SkipCount returns the total of read, process and write skips.
func (se *StepExecution) SkipCount() int {
	return se.ReadSkipCount + se.ProcessSkipCount + se.WriteSkipCount
}

// Apply folds a committed chunk's contribution into the counters.
func (se *StepExecution) Apply(c *StepContribution) {
	se.ReadCount += c.ReadCount
	se.WriteCount += c.WriteCount
	se.FilterCount += c.FilterCount
	se.ReadSkipCount += c.ReadSkipCount
	se.ProcessSkipCount += c.ProcessSkipCount
	se.WriteSkipCount += c.WriteSkipCount
	se.LastUpdated = time.Now()
}

// AddFailure records err once.
func (se *StepExecution) AddFailure(err error) {
	if se.Failures.add(err) {
		se.LastUpdated = time.Now()
	}
}

// Copy returns a deep copy detached from its JobExecution pointer.
func (se *StepExecution) Copy() *StepExecution {
	cp := *se
	cp.JobExecution = nil
	cp.ExecutionContext = se.ExecutionContext.Copy()
	cp.Failures = append(FailureList{}, se.Failures...)
	return &cp
}

// RestoreCheckpoint puts back the counters and ExecutionContext recorded in
// snapshot, a Copy taken at the last commit. RollbackCount, status and version
// are left alone.
func (se *StepExecution) RestoreCheckpoint(snapshot *StepExecution) {
	se.ReadCount, se.WriteCount, se.FilterCount = snapshot.ReadCount, snapshot.WriteCount, snapshot.FilterCount
	se.ReadSkipCount, se.ProcessSkipCount, se.WriteSkipCount = snapshot.ReadSkipCount, snapshot.ProcessSkipCount, snapshot.WriteSkipCount
	se.CommitCount = snapshot.CommitCount
	if se.ExecutionContext == nil {
		se.ExecutionContext = NewExecutionContext()
	}
	for _, k := range se.ExecutionContext.Keys() {
		se.ExecutionContext.Remove(k)
	}
	se.ExecutionContext.Merge(snapshot.ExecutionContext)
}

// StepContribution accumulates one chunk's counters until the chunk commits.
type StepContribution struct {
	ReadCount        int
	WriteCount       int
	FilterCount      int
	ReadSkipCount    int
	ProcessSkipCount int
	WriteSkipCount   int
}

// SkipCount returns the total of skips recorded in this contribution.
func (c *StepContribution) SkipCount() int {
	return c.ReadSkipCount + c.ProcessSkipCount + c.WriteSkipCount
}

// FlowExecution is the outcome of one flow: a sequence of steps or a split.
type FlowExecution struct {
	Name       string
	Status     BatchStatus
	ExitStatus ExitStatus
}

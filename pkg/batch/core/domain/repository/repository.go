// Package repository defines the persistence boundary of the batch engine.
//
// Updates of job and step executions are compare-and-swap on Version: an update
// succeeds only if the stored version equals the caller's, and increments it.
// A mismatch fails with an optimistic locking failure, which the engine never retries.
package repository

import (
	"errors"
)

var (
	// ErrJobInstanceNotFound is returned when a JobInstance lookup finds nothing.
	ErrJobInstanceNotFound = errors.New("job instance not found")
	// ErrJobExecutionNotFound is returned when a JobExecution lookup finds nothing.
	ErrJobExecutionNotFound = errors.New("job execution not found")
	// ErrStepExecutionNotFound is returned when a StepExecution lookup finds nothing.
	ErrStepExecutionNotFound = errors.New("step execution not found")
)

// JobRepository combines every persistence operation the engine needs.
type JobRepository interface {
	JobInstanceRepository
	JobExecutionRepository
	StepExecutionRepository
	// Close releases resources held by the repository.
	Close() error
}

package model

import (
	"strings"
)

// BatchStatus represents the lifecycle state of a job or step execution.
type BatchStatus string

const (
	BatchStatusCompleted BatchStatus = "COMPLETED"
	BatchStatusStarting  BatchStatus = "STARTING"
	BatchStatusStarted   BatchStatus = "STARTED"
	BatchStatusStopping  BatchStatus = "STOPPING"
	BatchStatusStopped   BatchStatus = "STOPPED"
	BatchStatusFailed    BatchStatus = "FAILED"
	BatchStatusAbandoned BatchStatus = "ABANDONED"
	BatchStatusUnknown   BatchStatus = "UNKNOWN"
)

// statusOrder ranks statuses from best to worst. Aggregation keeps the worst.
var statusOrder = map[BatchStatus]int{
	BatchStatusCompleted: 0,
	BatchStatusStarting:  1,
	BatchStatusStarted:   2,
	BatchStatusStopping:  3,
	BatchStatusStopped:   4,
	BatchStatusFailed:    5,
	BatchStatusAbandoned: 6,
	BatchStatusUnknown:   7,
}

// String returns the string representation of the BatchStatus.
func (s BatchStatus) String() string {
	return string(s)
}

// IsRunning reports whether the status denotes an execution still in flight.
func (s BatchStatus) IsRunning() bool {
	return s == BatchStatusStarting || s == BatchStatusStarted || s == BatchStatusStopping
}

// IsFinished checks if the status is terminal.
func (s BatchStatus) IsFinished() bool {
	switch s {
	case BatchStatusCompleted, BatchStatusFailed, BatchStatusStopped, BatchStatusAbandoned:
		return true
	default:
		return false
	}
}

// IsUnsuccessful reports whether the status is worse than COMPLETED once finished.
func (s BatchStatus) IsUnsuccessful() bool {
	return s == BatchStatusFailed || s.rank() > statusOrder[BatchStatusFailed]
}

func (s BatchStatus) rank() int {
	if r, ok := statusOrder[s]; ok {
		return r
	}
	return statusOrder[BatchStatusUnknown]
}

// normalized maps values outside the known set to UNKNOWN.
func (s BatchStatus) normalized() BatchStatus {
	if _, ok := statusOrder[s]; ok {
		return s
	}
	return BatchStatusUnknown
}

// MaxStatus returns the worse of the two statuses. Unrecognized values rank,
// and are returned, as UNKNOWN.
func MaxStatus(a, b BatchStatus) BatchStatus {
	a, b = a.normalized(), b.normalized()
	if b.rank() > a.rank() {
		return b
	}
	return a
}

// WorstStatus reduces statuses with MaxStatus. The result does not depend on order.
// An empty input yields COMPLETED.
func WorstStatus(statuses ...BatchStatus) BatchStatus {
	worst := BatchStatusCompleted
	for _, s := range statuses {
		worst = MaxStatus(worst, s)
	}
	return worst
}

// ParseBatchStatus converts a persisted string to a BatchStatus.
func ParseBatchStatus(s string) BatchStatus {
	return BatchStatus(strings.ToUpper(s)).normalized()
}

// CanTransition reports whether an execution may move from one status to another.
// Job and step executions share the same state machine.
func CanTransition(from, to BatchStatus) bool {
	switch from {
	case BatchStatusStarting:
		return to == BatchStatusStarted || to == BatchStatusFailed || to == BatchStatusStopped || to == BatchStatusAbandoned
	case BatchStatusStarted:
		return to == BatchStatusStopping || to == BatchStatusCompleted || to == BatchStatusFailed || to == BatchStatusStopped || to == BatchStatusAbandoned || to == BatchStatusUnknown
	case BatchStatusStopping:
		return to == BatchStatusStopped || to == BatchStatusFailed || to == BatchStatusCompleted || to == BatchStatusAbandoned || to == BatchStatusUnknown
	case BatchStatusStopped, BatchStatusFailed, BatchStatusUnknown:
		return to == BatchStatusAbandoned
	default:
		return false
	}
}

// Exit codes.
const (
	ExitCodeUnknown   = "UNKNOWN"
	ExitCodeExecuting = "EXECUTING"
	ExitCodeCompleted = "COMPLETED"
	ExitCodeNoOp      = "NOOP"
	ExitCodeFailed    = "FAILED"
	ExitCodeStopped   = "STOPPED"

	// ExitCodeJobInterrupted marks an execution ended by an interruption signal.
	ExitCodeJobInterrupted = "JOB_INTERRUPTED"
	// ExitCodeFatalException marks an execution ended by an unrecoverable failure.
	ExitCodeFatalException = "FATAL_EXCEPTION"
)

// ExitStatus is the terminal outcome recorded against an execution: a code plus
// free-form diagnostic text.
type ExitStatus struct {
	ExitCode        string `json:"exit_code"`
	ExitDescription string `json:"exit_description,omitempty"`
}

var (
	ExitStatusUnknown   = ExitStatus{ExitCode: ExitCodeUnknown}
	ExitStatusExecuting = ExitStatus{ExitCode: ExitCodeExecuting}
	ExitStatusCompleted = ExitStatus{ExitCode: ExitCodeCompleted}
	ExitStatusNoOp      = ExitStatus{ExitCode: ExitCodeNoOp}
	ExitStatusFailed    = ExitStatus{ExitCode: ExitCodeFailed}
	ExitStatusStopped   = ExitStatus{ExitCode: ExitCodeStopped}
)

func (e ExitStatus) String() string {
	if e.ExitDescription == "" {
		return e.ExitCode
	}
	return e.ExitCode + ": " + e.ExitDescription
}

func (e ExitStatus) severity() int {
	switch e.ExitCode {
	case ExitCodeExecuting:
		return 1
	case ExitCodeCompleted:
		return 2
	case ExitCodeNoOp:
		return 3
	case ExitCodeStopped:
		return 4
	case ExitCodeFailed:
		return 5
	case ExitCodeUnknown:
		return 6
	default:
		return 7
	}
}

// And combines two exit statuses: the more severe code wins and descriptions are joined.
func (e ExitStatus) And(other ExitStatus) ExitStatus {
	out := e
	if other.severity() > e.severity() {
		out.ExitCode = other.ExitCode
	}
	return out.AddExitDescription(other.ExitDescription)
}

// AddExitDescription appends desc to the description.
func (e ExitStatus) AddExitDescription(desc string) ExitStatus {
	desc = strings.TrimSpace(desc)
	switch {
	case desc == "" || desc == e.ExitDescription:
	case e.ExitDescription == "":
		e.ExitDescription = desc
	default:
		e.ExitDescription = e.ExitDescription + "; " + desc
	}
	return e
}

// ReplaceExitCode returns a copy carrying code.
func (e ExitStatus) ReplaceExitCode(code string) ExitStatus {
	e.ExitCode = code
	return e
}

// IsRunning reports whether the code denotes ongoing or not-yet-known work.
func (e ExitStatus) IsRunning() bool {
	return e.ExitCode == ExitCodeExecuting || e.ExitCode == ExitCodeUnknown
}

// ExitStatusFor maps a finished BatchStatus to the default exit status.
func ExitStatusFor(s BatchStatus) ExitStatus {
	switch s {
	case BatchStatusCompleted:
		return ExitStatusCompleted
	case BatchStatusFailed:
		return ExitStatusFailed
	case BatchStatusStopped:
		return ExitStatusStopped
	case BatchStatusStarting, BatchStatusStarted, BatchStatusStopping:
		return ExitStatusExecuting
	default:
		return ExitStatusUnknown
	}
}

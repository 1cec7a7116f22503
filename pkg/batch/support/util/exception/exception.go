// Package exception provides the error type used across the batch engine.
// Every engine failure carries a Kind so that retry, skip and exit-status
// decisions are made against data rather than Go type assertions.
package exception

import (
	"errors"
	"fmt"
	"runtime"
)

// BatchError is a failure raised by the batch engine or by a component running inside it.
type BatchError struct {
	// Kind is the failure category used by classifiers.
	Kind Kind
	// Module indicates where the error occurred (e.g., "reader", "ChunkStep", "SQLJobRepository").
	Module string
	// Message is a concise description of the error.
	Message string
	// OriginalErr is the wrapped original error.
	OriginalErr error
	// StackTrace is the stack trace at the time of the error (for debugging).
	StackTrace string
}

// NewBatchError creates a new BatchError instance.
//
// kind: The failure category.
// module: The module where the error occurred.
// message: The error message.
// originalErr: The original error to wrap, may be nil.
func NewBatchError(kind Kind, module, message string, originalErr error) *BatchError {
	return &BatchError{
		Kind:        kind,
		Module:      module,
		Message:     message,
		OriginalErr: originalErr,
		StackTrace:  captureStack(),
	}
}

// NewBatchErrorf creates a new BatchError using a format string.
// If the last argument is an error it becomes OriginalErr and is not passed to fmt.Sprintf.
//
// Example:
//
//	NewBatchErrorf(KindItemRead, "reader", "failed to read line %d", 42, io.ErrUnexpectedEOF)
func NewBatchErrorf(kind Kind, module, format string, a ...interface{}) *BatchError {
	var originalErr error
	args := a
	if len(args) > 0 {
		if err, ok := args[len(args)-1].(error); ok {
			originalErr = err
			args = args[:len(args)-1]
		}
	}
	return &BatchError{
		Kind:        kind,
		Module:      module,
		Message:     fmt.Sprintf(format, args...),
		OriginalErr: originalErr,
		StackTrace:  captureStack(),
	}
}

func captureStack() string {
	buf := make([]byte, 2048)
	n := runtime.Stack(buf, false)
	return string(buf[:n])
}

// Error implements the error interface.
func (e *BatchError) Error() string {
	if e.OriginalErr != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Module, e.Message, e.OriginalErr)
	}
	return fmt.Sprintf("[%s] %s", e.Module, e.Message)
}

// Unwrap returns the original error for errors.Unwrap.
func (e *BatchError) Unwrap() error {
	return e.OriginalErr
}

// Is matches another *BatchError target by kind when the target has no message,
// so errors.Is(err, &BatchError{Kind: KindSkipLimitExceeded}) works as a kind test.
func (e *BatchError) Is(target error) bool {
	t, ok := target.(*BatchError)
	if !ok {
		return false
	}
	if t.Message == "" && t.Module == "" {
		return t.Kind != "" && IsA(e.Kind, t.Kind)
	}
	return e == t
}

// IsBatchError determines if err is, or wraps, a BatchError.
func IsBatchError(err error) bool {
	var be *BatchError
	return errors.As(err, &be)
}

// ErrOptimisticLockingFailure is a sentinel error indicating an optimistic locking failure.
var ErrOptimisticLockingFailure = errors.New("optimistic locking failure")

// NewOptimisticLockingFailureException creates a BatchError indicating a version mismatch
// on update. It is always fatal.
func NewOptimisticLockingFailureException(module, message string, originalErr error) *BatchError {
	errToWrap := ErrOptimisticLockingFailure
	if originalErr != nil {
		errToWrap = errors.Join(ErrOptimisticLockingFailure, originalErr)
	}
	return NewBatchError(KindOptimisticLockingFailure, module, message, errToWrap)
}

// NewRolledBackError wraps a failure that undid a chunk transaction. An optimistic
// locking failure keeps its own kind, since another writer changed the execution.
func NewRolledBackError(module, message string, originalErr error) *BatchError {
	if IsOptimisticLockingFailure(originalErr) {
		return NewBatchError(KindOptimisticLockingFailure, module, message, originalErr)
	}
	return NewBatchError(KindChunkRolledBack, module, message, originalErr)
}

// IsOptimisticLockingFailure determines if an error indicates an optimistic locking failure.
func IsOptimisticLockingFailure(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrOptimisticLockingFailure) || IsKind(err, KindOptimisticLockingFailure)
}

// TypeName returns the diagnostic type name of err: the kind of the outermost
// BatchError, or the Go type of err otherwise.
func TypeName(err error) string {
	if err == nil {
		return ""
	}
	var be *BatchError
	if errors.As(err, &be) {
		return string(be.Kind)
	}
	return fmt.Sprintf("%T", err)
}

// ExtractErrorMessage returns the Message of a BatchError, or err.Error() otherwise.
func ExtractErrorMessage(err error) string {
	if err == nil {
		return ""
	}
	var be *BatchError
	if errors.As(err, &be) {
		return be.Message
	}
	return err.Error()
}

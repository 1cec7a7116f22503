package retry

import (
	"time"

	"github.com/tigerroll/chunkbatch/pkg/batch/core/support/classifier"
	"github.com/tigerroll/chunkbatch/pkg/batch/support/util/exception"
)

// Policy decides whether another attempt may be made.
type Policy interface {
	// CanRetry is consulted before every attempt, including the first.
	CanRetry(rc *Context) bool
}

// DefaultMaxAttempts is the number of attempts SimpleRetryPolicy allows by default.
const DefaultMaxAttempts = 3

// SimpleRetryPolicy allows up to MaxAttempts attempts for failures classified as retryable.
// Interruptions are never retried.
type SimpleRetryPolicy struct {
	maxAttempts int
	retryable   *classifier.Classifier[bool]
}

// NewSimpleRetryPolicy creates a policy allowing maxAttempts attempts of failures
// whose kind is one of retryableKinds. No kinds means every failure is retryable.
func NewSimpleRetryPolicy(maxAttempts int, retryableKinds ...exception.Kind) (*SimpleRetryPolicy, error) {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	var (
		c   *classifier.Classifier[bool]
		err error
	)
	if len(retryableKinds) == 0 {
		c, err = classifier.New(true)
	} else {
		c, err = classifier.Binary(false, retryableKinds, nil)
	}
	if err != nil {
		return nil, err
	}
	return &SimpleRetryPolicy{maxAttempts: maxAttempts, retryable: c}, nil
}

// NewSimpleRetryPolicyWithClassifier uses c to decide which failures are retryable.
func NewSimpleRetryPolicyWithClassifier(maxAttempts int, c *classifier.Classifier[bool]) *SimpleRetryPolicy {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &SimpleRetryPolicy{maxAttempts: maxAttempts, retryable: c}
}

// MaxAttempts returns the attempt bound.
func (p *SimpleRetryPolicy) MaxAttempts() int {
	return p.maxAttempts
}

// IsRetryable reports whether err is classified retryable.
func (p *SimpleRetryPolicy) IsRetryable(err error) bool {
	if exception.IsKind(err, exception.KindInterrupted) {
		return false
	}
	return p.retryable.Classify(err)
}

// CanRetry implements Policy.
func (p *SimpleRetryPolicy) CanRetry(rc *Context) bool {
	err := rc.LastError()
	if err == nil {
		return rc.RetryCount() < p.maxAttempts
	}
	return p.IsRetryable(err) && rc.RetryCount() < p.maxAttempts
}

// NeverRetryPolicy allows only the first attempt.
type NeverRetryPolicy struct{}

// CanRetry implements Policy.
func (NeverRetryPolicy) CanRetry(rc *Context) bool {
	return rc.RetryCount() == 0
}

// AlwaysRetryPolicy retries every failure except interruptions until the operation succeeds.
type AlwaysRetryPolicy struct{}

// CanRetry implements Policy.
func (AlwaysRetryPolicy) CanRetry(rc *Context) bool {
	return !exception.IsKind(rc.LastError(), exception.KindInterrupted)
}

// TimeoutRetryPolicy retries until Timeout has elapsed since the context opened.
type TimeoutRetryPolicy struct {
	Timeout time.Duration
}

// CanRetry implements Policy.
func (p TimeoutRetryPolicy) CanRetry(rc *Context) bool {
	if exception.IsKind(rc.LastError(), exception.KindInterrupted) {
		return false
	}
	return time.Since(rc.StartTime()) < p.Timeout
}

// CompositeRetryPolicy combines policies. A pessimistic composite retries only
// if every policy agrees; an optimistic one if any does.
type CompositeRetryPolicy struct {
	Policies   []Policy
	Optimistic bool
}

// CanRetry implements Policy.
func (p CompositeRetryPolicy) CanRetry(rc *Context) bool {
	if len(p.Policies) == 0 {
		return false
	}
	for _, sub := range p.Policies {
		ok := sub.CanRetry(rc)
		if p.Optimistic && ok {
			return true
		}
		if !p.Optimistic && !ok {
			return false
		}
	}
	return !p.Optimistic
}

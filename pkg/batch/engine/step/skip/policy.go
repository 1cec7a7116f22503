// Package skip decides whether a failed item may be skipped instead of failing its step.
package skip

import (
	"github.com/tigerroll/chunkbatch/pkg/batch/core/support/classifier"
	"github.com/tigerroll/chunkbatch/pkg/batch/support/util/exception"
)

const module = "skip"

// SkipPolicy determines whether an error that occurred during item handling may be skipped.
// Policies are stateless; the step owns the running skip count.
type SkipPolicy interface {
	// ShouldSkip evaluates err given the number of items already skipped.
	// It returns false for failures that are not skippable, and an error of
	// kind SkipLimitExceeded when a skippable failure arrives at the limit.
	ShouldSkip(err error, skipCount int) (bool, error)
}

// NeverSkipPolicy refuses every skip.
type NeverSkipPolicy struct{}

// ShouldSkip implements SkipPolicy.
func (NeverSkipPolicy) ShouldSkip(error, int) (bool, error) { return false, nil }

// AlwaysSkipPolicy skips every failure except interruptions.
type AlwaysSkipPolicy struct{}

// ShouldSkip implements SkipPolicy.
func (AlwaysSkipPolicy) ShouldSkip(err error, _ int) (bool, error) {
	return !exception.IsKind(err, exception.KindInterrupted), nil
}

// LimitCheckingSkipPolicy skips failures classified as skippable while fewer than limit items were skipped.
type LimitCheckingSkipPolicy struct {
	limit     int
	skippable *classifier.Classifier[bool]
}

// NewLimitCheckingSkipPolicy creates a policy skipping up to limit failures that skippable classifies true.
func NewLimitCheckingSkipPolicy(limit int, skippable *classifier.Classifier[bool]) *LimitCheckingSkipPolicy {
	return &LimitCheckingSkipPolicy{limit: limit, skippable: skippable}
}

// Limit returns the configured skip limit.
func (p *LimitCheckingSkipPolicy) Limit() int {
	return p.limit
}

// ShouldSkip implements SkipPolicy.
func (p *LimitCheckingSkipPolicy) ShouldSkip(err error, skipCount int) (bool, error) {
	if err == nil || exception.IsKind(err, exception.KindInterrupted) || !p.skippable.Classify(err) {
		return false, nil
	}
	if skipCount < p.limit {
		return true, nil
	}
	return false, exception.NewBatchErrorf(exception.KindSkipLimitExceeded, module,
		"skip limit of %d exceeded", p.limit, err)
}

// DefaultSkipPolicyFactory builds skip policies from configuration values.
type DefaultSkipPolicyFactory struct{}

// NewDefaultSkipPolicyFactory creates a new DefaultSkipPolicyFactory.
func NewDefaultSkipPolicyFactory() *DefaultSkipPolicyFactory {
	return &DefaultSkipPolicyFactory{}
}

// Create builds a policy allowing skipLimit skips of the named kinds, excluding
// the fatal ones. With a zero limit the first skippable failure exceeds the limit.
// No skippable kinds means any failure is skippable.
func (f *DefaultSkipPolicyFactory) Create(skipLimit int, skippable, fatal []string) (SkipPolicy, error) {
	if skipLimit < 0 {
		skipLimit = 0
	}
	include, err := classifier.ParseKinds(skippable)
	if err != nil {
		return nil, err
	}
	exclude, err := classifier.ParseKinds(fatal)
	if err != nil {
		return nil, err
	}
	c, err := classifier.Binary(len(include) == 0, include, exclude)
	if err != nil {
		return nil, exception.NewBatchError(exception.KindConfiguration, module, "invalid skip classification", err)
	}
	return NewLimitCheckingSkipPolicy(skipLimit, c), nil
}

var _ SkipPolicy = (*LimitCheckingSkipPolicy)(nil)
var _ SkipPolicy = NeverSkipPolicy{}
var _ SkipPolicy = AlwaysSkipPolicy{}

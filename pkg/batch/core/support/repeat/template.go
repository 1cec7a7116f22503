package repeat

import (
	"context"

	"github.com/tigerroll/chunkbatch/pkg/batch/core/support/classifier"
	"github.com/tigerroll/chunkbatch/pkg/batch/support/util/exception"
)

const module = "repeat"

// Callback is one loop iteration.
type Callback func(ctx context.Context, rc *Context) (Status, error)

// ExceptionHandler receives failures from a Callback. Returning nil swallows
// the failure and lets the loop continue; returning an error ends it.
type ExceptionHandler interface {
	HandleException(ctx context.Context, rc *Context, err error) error
}

// ExceptionHandlerFunc adapts a function to ExceptionHandler.
type ExceptionHandlerFunc func(ctx context.Context, rc *Context, err error) error

// HandleException implements ExceptionHandler.
func (f ExceptionHandlerFunc) HandleException(ctx context.Context, rc *Context, err error) error {
	return f(ctx, rc, err)
}

// RethrowExceptionHandler ends the loop on every failure.
type RethrowExceptionHandler struct{}

// HandleException implements ExceptionHandler.
func (RethrowExceptionHandler) HandleException(_ context.Context, _ *Context, err error) error {
	return err
}

const failureCountKey = "repeat.failures"

// SimpleLimitExceptionHandler swallows up to Limit failures that Tolerated classifies
// true and rethrows everything else. Failures are counted on the outermost context.
type SimpleLimitExceptionHandler struct {
	Limit     int
	Tolerated *classifier.Classifier[bool]
}

// HandleException implements ExceptionHandler.
func (h SimpleLimitExceptionHandler) HandleException(_ context.Context, rc *Context, err error) error {
	if h.Tolerated != nil && !h.Tolerated.Classify(err) {
		return err
	}
	root := rc
	for root.Parent() != nil {
		root = root.Parent()
	}
	n, _ := root.Attribute(failureCountKey)
	count, _ := n.(int)
	count++
	root.SetAttribute(failureCountKey, count)
	if count > h.Limit {
		return err
	}
	return nil
}

// Template iterates a Callback until its CompletionPolicy is satisfied.
type Template struct {
	policy  CompletionPolicy
	handler ExceptionHandler
}

// NewTemplate creates a template. Nil arguments select DefaultCompletionPolicy and RethrowExceptionHandler.
func NewTemplate(policy CompletionPolicy, handler ExceptionHandler) *Template {
	if policy == nil {
		policy = DefaultCompletionPolicy{}
	}
	if handler == nil {
		handler = RethrowExceptionHandler{}
	}
	return &Template{policy: policy, handler: handler}
}

// Iterate runs cb until the loop completes, returning the last iteration's status.
// A Continuable result means the loop stopped on its policy rather than on the callback.
// Cancellation of ctx ends the loop with an interruption error.
func (t *Template) Iterate(ctx context.Context, parent *Context, cb Callback) (Status, error) {
	rc := t.policy.Start(parent)
	result := Continuable
	for {
		if rc.IsTerminateOnly() {
			return Finished, nil
		}
		if err := ctx.Err(); err != nil {
			return Finished, exception.NewBatchError(exception.KindInterrupted, module, "loop interrupted", err)
		}
		if t.policy.IsComplete(rc) {
			return result, nil
		}
		t.policy.Update(rc)

		status, err := cb(ctx, rc)
		if err != nil {
			if herr := t.handler.HandleException(ctx, rc, err); herr != nil {
				t.policy.IsCompleteResult(rc, Finished, herr)
				return Finished, herr
			}
			continue
		}
		result = status
		if t.policy.IsCompleteResult(rc, status, nil) {
			return result, nil
		}
	}
}

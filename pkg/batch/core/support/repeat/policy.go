package repeat

import "time"

// CompletionPolicy decides when a loop ends. Once IsComplete or IsCompleteResult
// returns true for a context, every later call on that context returns true.
type CompletionPolicy interface {
	// Start opens the context for a new loop.
	Start(parent *Context) *Context
	// IsComplete is consulted before each iteration.
	IsComplete(rc *Context) bool
	// IsCompleteResult is consulted after each iteration with its outcome.
	IsCompleteResult(rc *Context, result Status, err error) bool
	// Update records that an iteration is starting.
	Update(rc *Context)
}

func latch(rc *Context, complete bool) bool {
	if complete {
		rc.SetCompleteOnly()
	}
	return rc.IsCompleteOnly()
}

// DefaultCompletionPolicy completes on a failure or a non-continuable result, never on its own.
type DefaultCompletionPolicy struct{}

// Start implements CompletionPolicy.
func (DefaultCompletionPolicy) Start(parent *Context) *Context {
	return NewContext(parent)
}

// IsComplete implements CompletionPolicy.
func (DefaultCompletionPolicy) IsComplete(rc *Context) bool {
	return rc.IsCompleteOnly()
}

// IsCompleteResult implements CompletionPolicy.
func (DefaultCompletionPolicy) IsCompleteResult(rc *Context, result Status, err error) bool {
	return latch(rc, err != nil || !result.IsContinuable())
}

// Update implements CompletionPolicy.
func (DefaultCompletionPolicy) Update(rc *Context) {
	rc.Increment()
}

// DefaultChunkSize is used when a SimpleCompletionPolicy is created with a non-positive size.
const DefaultChunkSize = 5

// SimpleCompletionPolicy completes after a fixed number of iterations.
type SimpleCompletionPolicy struct {
	DefaultCompletionPolicy
	chunkSize int
}

// NewSimpleCompletionPolicy creates a policy completing after chunkSize iterations.
func NewSimpleCompletionPolicy(chunkSize int) *SimpleCompletionPolicy {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &SimpleCompletionPolicy{chunkSize: chunkSize}
}

// ChunkSize returns the iteration bound.
func (p *SimpleCompletionPolicy) ChunkSize() int {
	return p.chunkSize
}

// IsComplete implements CompletionPolicy.
func (p *SimpleCompletionPolicy) IsComplete(rc *Context) bool {
	return latch(rc, rc.StartedCount() >= p.chunkSize)
}

// IsCompleteResult implements CompletionPolicy.
func (p *SimpleCompletionPolicy) IsCompleteResult(rc *Context, result Status, err error) bool {
	return p.DefaultCompletionPolicy.IsCompleteResult(rc, result, err) || p.IsComplete(rc)
}

const startTimeKey = "repeat.start"

// TimeoutCompletionPolicy completes once Timeout has elapsed since the loop started.
type TimeoutCompletionPolicy struct {
	DefaultCompletionPolicy
	Timeout time.Duration
}

// Start implements CompletionPolicy.
func (p TimeoutCompletionPolicy) Start(parent *Context) *Context {
	rc := NewContext(parent)
	rc.SetAttribute(startTimeKey, time.Now())
	return rc
}

// IsComplete implements CompletionPolicy.
func (p TimeoutCompletionPolicy) IsComplete(rc *Context) bool {
	start, _ := rc.Attribute(startTimeKey)
	t, ok := start.(time.Time)
	return latch(rc, ok && time.Since(t) >= p.Timeout)
}

// IsCompleteResult implements CompletionPolicy.
func (p TimeoutCompletionPolicy) IsCompleteResult(rc *Context, result Status, err error) bool {
	return p.DefaultCompletionPolicy.IsCompleteResult(rc, result, err) || p.IsComplete(rc)
}

// CompositeCompletionPolicy completes as soon as any of its policies does.
type CompositeCompletionPolicy struct {
	Policies []CompletionPolicy
}

// Start implements CompletionPolicy. Every policy shares the returned context.
func (p CompositeCompletionPolicy) Start(parent *Context) *Context {
	rc := NewContext(parent)
	for _, sub := range p.Policies {
		if s := sub.Start(parent); s != nil {
			for k, v := range s.attrs {
				rc.SetAttribute(k, v)
			}
		}
	}
	return rc
}

// IsComplete implements CompletionPolicy.
func (p CompositeCompletionPolicy) IsComplete(rc *Context) bool {
	for _, sub := range p.Policies {
		if sub.IsComplete(rc) {
			return true
		}
	}
	return rc.IsCompleteOnly()
}

// IsCompleteResult implements CompletionPolicy.
func (p CompositeCompletionPolicy) IsCompleteResult(rc *Context, result Status, err error) bool {
	for _, sub := range p.Policies {
		if sub.IsCompleteResult(rc, result, err) {
			return true
		}
	}
	return latch(rc, err != nil || !result.IsContinuable())
}

// Update implements CompletionPolicy.
func (p CompositeCompletionPolicy) Update(rc *Context) {
	rc.Increment()
}

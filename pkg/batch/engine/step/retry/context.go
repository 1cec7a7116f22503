// Package retry re-invokes failed operations under a pluggable policy.
//
// Every Execute call runs inside a fresh Context, optionally linked to a parent.
// A listener may mark the parent exhausted; the loop owning the parent reads the
// flag to learn that retries beneath it have run out.
package retry

import (
	"time"
)

// Context tracks one retryable operation. It is confined to the goroutine running it.
type Context struct {
	parent        *Context
	count         int
	lastErr       error
	exhaustedOnly bool
	start         time.Time
	attrs         map[string]interface{}
}

// NewContext creates a context linked to parent, which may be nil.
func NewContext(parent *Context) *Context {
	return &Context{parent: parent, start: time.Now()}
}

// Parent returns the enclosing context, or nil.
func (c *Context) Parent() *Context {
	return c.parent
}

// RetryCount returns the number of failed attempts so far.
func (c *Context) RetryCount() int {
	return c.count
}

// LastError returns the most recent failure, or nil.
func (c *Context) LastError() error {
	return c.lastErr
}

// StartTime returns when the context was opened.
func (c *Context) StartTime() time.Time {
	return c.start
}

// SetExhaustedOnly prevents any further attempt in this context.
func (c *Context) SetExhaustedOnly() {
	c.exhaustedOnly = true
}

// IsExhaustedOnly reports whether SetExhaustedOnly was called.
func (c *Context) IsExhaustedOnly() bool {
	return c.exhaustedOnly
}

// SetAttribute stores an arbitrary value for policies and listeners.
func (c *Context) SetAttribute(key string, value interface{}) {
	if c.attrs == nil {
		c.attrs = make(map[string]interface{})
	}
	c.attrs[key] = value
}

// Attribute returns a value stored with SetAttribute.
func (c *Context) Attribute(key string) (interface{}, bool) {
	v, ok := c.attrs[key]
	return v, ok
}

func (c *Context) registerError(err error) {
	c.count++
	c.lastErr = err
}

// Package repeat drives bounded iteration loops.
//
// The same Template runs chunk assembly (read until the chunk is full or the
// source ends) and the step loop (process chunks until the source is drained).
package repeat

// Status is the outcome of one loop iteration.
type Status int

const (
	// Finished signals that no further iteration is wanted.
	Finished Status = iota
	// Continuable signals that the loop may continue.
	Continuable
)

// StatusOf converts a boolean into a Status.
func StatusOf(continuable bool) Status {
	if continuable {
		return Continuable
	}
	return Finished
}

// IsContinuable reports whether s is Continuable.
func (s Status) IsContinuable() bool {
	return s == Continuable
}

// And returns Continuable only if s is Continuable and continuable is true.
func (s Status) And(continuable bool) Status {
	return StatusOf(s.IsContinuable() && continuable)
}

func (s Status) String() string {
	if s == Continuable {
		return "CONTINUABLE"
	}
	return "FINISHED"
}

// Context holds the state of one loop. It may be linked to the context of an enclosing loop.
type Context struct {
	parent        *Context
	started       int
	completeOnly  bool
	terminateOnly bool
	attrs         map[string]interface{}
}

// NewContext creates a loop context under parent, which may be nil.
func NewContext(parent *Context) *Context {
	return &Context{parent: parent}
}

// Parent returns the enclosing loop's context, or nil.
func (c *Context) Parent() *Context {
	return c.parent
}

// StartedCount returns the number of iterations started.
func (c *Context) StartedCount() int {
	return c.started
}

// Increment records a started iteration.
func (c *Context) Increment() {
	c.started++
}

// SetCompleteOnly ends the loop after the current iteration. It cannot be undone.
func (c *Context) SetCompleteOnly() {
	c.completeOnly = true
}

// IsCompleteOnly reports whether the loop has been marked complete.
func (c *Context) IsCompleteOnly() bool {
	return c.completeOnly
}

// SetTerminateOnly ends this loop and every loop nested within it.
func (c *Context) SetTerminateOnly() {
	c.terminateOnly = true
	c.completeOnly = true
}

// IsTerminateOnly reports whether this context or any ancestor was terminated.
func (c *Context) IsTerminateOnly() bool {
	for cur := c; cur != nil; cur = cur.parent {
		if cur.terminateOnly {
			return true
		}
	}
	return false
}

// SetAttribute stores a value for policies and handlers.
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

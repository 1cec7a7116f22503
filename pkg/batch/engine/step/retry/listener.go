package retry

// Listener observes retry contexts.
type Listener interface {
	// Open is called before the first attempt. Returning false vetoes every attempt.
	Open(rc *Context) bool
	// OnError is called after each failed attempt.
	OnError(rc *Context, err error)
	// Close is called once the context ends, with the terminal failure or nil.
	Close(rc *Context, err error)
}

// ListenerSupport is a no-op Listener for embedding.
type ListenerSupport struct{}

func (ListenerSupport) Open(*Context) bool      { return true }
func (ListenerSupport) OnError(*Context, error) {}
func (ListenerSupport) Close(*Context, error)   {}

// ParentExhaustingListener marks the parent context exhausted when a child
// context closes with a failure.
type ParentExhaustingListener struct {
	ListenerSupport
}

// Close implements Listener.
func (ParentExhaustingListener) Close(rc *Context, err error) {
	if err != nil && rc.Parent() != nil {
		rc.Parent().SetExhaustedOnly()
	}
}

package retry

import (
	"context"
	"sync"

	"github.com/tigerroll/chunkbatch/pkg/batch/support/util/exception"
	"github.com/tigerroll/chunkbatch/pkg/batch/support/util/logger"
)

const module = "retry"

// Operation is a unit of work that may be attempted more than once.
type Operation func(ctx context.Context, rc *Context) error

// RecoveryCallback runs when retries are exhausted. Its result replaces the failure.
type RecoveryCallback func(ctx context.Context, rc *Context, err error) error

// Template runs operations under a Policy.
type Template struct {
	policy    Policy
	backOff   BackOffPolicy
	listeners []Listener

	mu    sync.Mutex
	cache map[interface{}]*Context
}

// Option configures a Template.
type Option func(*Template)

// WithBackOff sets the pause between attempts.
func WithBackOff(b BackOffPolicy) Option {
	return func(t *Template) { t.backOff = b }
}

// WithListeners registers listeners in call order.
func WithListeners(ls ...Listener) Option {
	return func(t *Template) { t.listeners = append(t.listeners, ls...) }
}

// NewTemplate creates a template. A nil policy never retries.
func NewTemplate(policy Policy, opts ...Option) *Template {
	if policy == nil {
		policy = NeverRetryPolicy{}
	}
	t := &Template{
		policy:  policy,
		backOff: NoBackOff{},
		cache:   make(map[interface{}]*Context),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Execute invokes op until it succeeds or the policy refuses another attempt.
// On exhaustion listeners are closed with the last failure, which is returned.
func (t *Template) Execute(ctx context.Context, parent *Context, op Operation) error {
	return t.ExecuteWithRecovery(ctx, parent, op, nil)
}

// ExecuteWithRecovery is Execute with a callback run on exhaustion.
func (t *Template) ExecuteWithRecovery(ctx context.Context, parent *Context, op Operation, recover RecoveryCallback) error {
	rc := NewContext(parent)
	if !t.open(rc) {
		err := exception.NewBatchError(exception.KindRetryExhausted, module, "retry aborted by listener", nil)
		t.close(rc, err)
		return err
	}

	var lastErr error
	for t.canRetry(rc) {
		err := op(ctx, rc)
		if err == nil {
			t.close(rc, nil)
			return nil
		}
		lastErr = err
		rc.registerError(err)
		t.onError(rc, err)
		if !t.canRetry(rc) {
			break
		}
		logger.Debugf("Retrying after attempt %d failed: %v", rc.RetryCount(), err)
		if berr := t.backOff.BackOff(ctx, rc); berr != nil {
			lastErr = exception.NewBatchError(exception.KindInterrupted, module, "back off interrupted", berr)
			break
		}
	}
	return t.exhausted(ctx, rc, lastErr, recover)
}

// ExecuteStateful makes a single attempt of op, remembering failures under key.
// A retryable failure is returned for the caller to roll back and call again
// with the same key. Once the policy refuses, recover (if any) is applied and
// the key is forgotten.
func (t *Template) ExecuteStateful(ctx context.Context, parent *Context, key interface{}, op Operation, recover RecoveryCallback) error {
	rc, resumed := t.lookup(key)
	if !resumed {
		rc = NewContext(parent)
		if !t.open(rc) {
			err := exception.NewBatchError(exception.KindRetryExhausted, module, "retry aborted by listener", nil)
			t.close(rc, err)
			return err
		}
	}

	if !t.canRetry(rc) {
		t.forget(key)
		return t.exhausted(ctx, rc, rc.LastError(), recover)
	}
	if rc.RetryCount() > 0 {
		if berr := t.backOff.BackOff(ctx, rc); berr != nil {
			t.forget(key)
			return t.exhausted(ctx, rc, exception.NewBatchError(exception.KindInterrupted, module, "back off interrupted", berr), recover)
		}
	}

	err := op(ctx, rc)
	if err == nil {
		t.forget(key)
		t.close(rc, nil)
		return nil
	}
	rc.registerError(err)
	t.onError(rc, err)
	if t.canRetry(rc) {
		t.remember(key, rc)
		return err
	}
	t.forget(key)
	return t.exhausted(ctx, rc, err, recover)
}

// IsPending reports whether a stateful attempt under key failed and may be retried.
func (t *Template) IsPending(key interface{}) bool {
	_, ok := t.lookup(key)
	return ok
}

// Forget discards the retry state kept under key. Callers use it when they give
// up on an item without attempting it again.
func (t *Template) Forget(key interface{}) {
	t.forget(key)
}

// Do runs fn through t and returns its value.
func Do[T any](ctx context.Context, t *Template, parent *Context, fn func(ctx context.Context, rc *Context) (T, error)) (T, error) {
	var out T
	err := t.Execute(ctx, parent, func(ctx context.Context, rc *Context) error {
		v, err := fn(ctx, rc)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

func (t *Template) canRetry(rc *Context) bool {
	return !rc.IsExhaustedOnly() && t.policy.CanRetry(rc)
}

func (t *Template) exhausted(ctx context.Context, rc *Context, err error, recover RecoveryCallback) error {
	if err == nil {
		err = exception.NewBatchError(exception.KindRetryExhausted, module, "retry exhausted before first attempt", nil)
	}
	t.close(rc, err)
	if recover != nil {
		return recover(ctx, rc, err)
	}
	return err
}

func (t *Template) open(rc *Context) bool {
	ok := true
	for _, l := range t.listeners {
		ok = l.Open(rc) && ok
	}
	return ok
}

func (t *Template) onError(rc *Context, err error) {
	for i := len(t.listeners) - 1; i >= 0; i-- {
		t.listeners[i].OnError(rc, err)
	}
}

func (t *Template) close(rc *Context, err error) {
	for i := len(t.listeners) - 1; i >= 0; i-- {
		t.listeners[i].Close(rc, err)
	}
}

func (t *Template) lookup(key interface{}) (*Context, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rc, ok := t.cache[key]
	return rc, ok
}

func (t *Template) remember(key interface{}, rc *Context) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cache[key] = rc
}

func (t *Template) forget(key interface{}) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.cache, key)
}

package retry

import (
	"context"
	"math"
	"time"
)

// BackOffPolicy pauses between attempts.
type BackOffPolicy interface {
	// BackOff waits before the next attempt. It returns ctx.Err() if ctx ends first.
	BackOff(ctx context.Context, rc *Context) error
}

// NoBackOff retries immediately.
type NoBackOff struct{}

// BackOff implements BackOffPolicy.
func (NoBackOff) BackOff(ctx context.Context, _ *Context) error {
	return ctx.Err()
}

// FixedBackOff waits Interval between attempts.
type FixedBackOff struct {
	Interval time.Duration
}

// BackOff implements BackOffPolicy.
func (b FixedBackOff) BackOff(ctx context.Context, _ *Context) error {
	return sleep(ctx, b.Interval)
}

// ExponentialBackOff waits Initial, then multiplies the interval by Multiplier
// after every failure, capped at Max.
type ExponentialBackOff struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
}

// Interval returns the pause after the given number of failures.
func (b ExponentialBackOff) Interval(failures int) time.Duration {
	if failures < 1 {
		failures = 1
	}
	mult := b.Multiplier
	if mult < 1 {
		mult = 2
	}
	d := time.Duration(float64(b.Initial) * math.Pow(mult, float64(failures-1)))
	if b.Max > 0 && (d > b.Max || d < 0) {
		d = b.Max
	}
	return d
}

// BackOff implements BackOffPolicy.
func (b ExponentialBackOff) BackOff(ctx context.Context, rc *Context) error {
	return sleep(ctx, b.Interval(rc.RetryCount()))
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

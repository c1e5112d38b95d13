// Package backoff provides the jittered exponential delay schedule shared
// by every retrying network caller in the coordination core.
package backoff

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"
)

// Defaults for the shared schedule.
const (
	DefaultBaseDelay  = 1000 * time.Millisecond
	DefaultMaxDelay   = 32000 * time.Millisecond
	DefaultMaxRetries = 5
	jitterFraction    = 0.10
)

// Controller computes retry delays. The only state is the attempt counter,
// advanced once per NextDelay call and cleared by Reset on success.
type Controller struct {
	mu         sync.Mutex
	baseDelay  time.Duration
	maxDelay   time.Duration
	maxRetries int
	attempt    int
	rand       *rand.Rand
}

// Option adjusts a Controller at construction time.
type Option func(*Controller)

// WithLimits overrides the base delay, max delay and retry cap.
func WithLimits(base, max time.Duration, retries int) Option {
	return func(c *Controller) {
		c.baseDelay = base
		c.maxDelay = max
		c.maxRetries = retries
	}
}

// WithRand injects a deterministic random source for tests.
func WithRand(r *rand.Rand) Option {
	return func(c *Controller) { c.rand = r }
}

// New creates a Controller with the default schedule.
func New(opts ...Option) *Controller {
	c := &Controller{
		baseDelay:  DefaultBaseDelay,
		maxDelay:   DefaultMaxDelay,
		maxRetries: DefaultMaxRetries,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.rand == nil {
		c.rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return c
}

// DelayFor computes the jittered delay for a given attempt number without
// touching the counter. The second return is false once the attempt count
// reaches the retry cap, signaling the caller to stop retrying.
func (c *Controller) DelayFor(attempt int) (time.Duration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.delayFor(attempt)
}

func (c *Controller) delayFor(attempt int) (time.Duration, bool) {
	if attempt >= c.maxRetries {
		return 0, false
	}
	d := c.baseDelay << uint(attempt)
	if d > c.maxDelay || d <= 0 {
		d = c.maxDelay
	}
	// Uniform jitter in [-10%, +10%].
	jitter := (c.rand.Float64()*2 - 1) * jitterFraction * float64(d)
	return d + time.Duration(jitter), true
}

// NextDelay returns the delay for the current attempt and advances the
// counter. Callers invoke it once per failed attempt.
func (c *Controller) NextDelay() (time.Duration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	d, ok := c.delayFor(c.attempt)
	c.attempt++
	return d, ok
}

// Reset clears the attempt counter. Call on success.
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.attempt = 0
}

// Attempt returns the number of failed attempts recorded so far.
func (c *Controller) Attempt() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempt
}

// PermanentError marks an error that must not be retried. Retry unwraps
// it and returns the inner error immediately.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err so Retry stops on it. A nil err stays nil.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// Retry runs fn until it succeeds, the schedule is exhausted, a permanent
// error is returned, or ctx is cancelled. Each failure waits out the next
// delay. The last error is returned when the schedule runs out.
//
// The attempt count is local to the invocation; concurrent Retry calls may
// share one Controller without disturbing each other's schedules.
func Retry(ctx context.Context, c *Controller, fn func(context.Context) error) error {
	attempt := 0
	for {
		err := fn(ctx)
		if err == nil {
			return nil
		}

		var pe *PermanentError
		if errors.As(err, &pe) {
			return pe.Err
		}

		delay, ok := c.DelayFor(attempt)
		if !ok {
			return err
		}
		attempt++

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

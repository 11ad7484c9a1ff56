// Package retry runs operations that can fail transiently. Between attempts
// it sleeps for a randomized exponential backoff computed by a Policy, and it
// stops on success, on a permanent failure, when the Policy refuses another
// attempt, or when the context is canceled.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	goretry "github.com/sethvargo/go-retry"
)

// Sentinel errors. A failed Run wraps exactly one of these (or returns the
// operation's own permanent error unchanged).
var (
	ErrBudgetExceeded = errors.New("retry: retry budget exceeded")
	ErrNoRetry        = errors.New("retry: transient failure with no-retry policy")
	ErrInterrupted    = errors.New("retry: interrupted while waiting to retry")
)

// Defaults match the backoff the migration tooling has always used:
// 5ms initial ceiling, 200ms maximum ceiling, 15s total budget.
const (
	DefaultStartDelay = 5 * time.Millisecond
	DefaultMaxDelay   = 200 * time.Millisecond
	DefaultMaxTotal   = 15 * time.Second
)

// transientError marks an error as eligible for retry.
type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }

func (e *transientError) Unwrap() error { return e.err }

// Transient marks err as retryable. Returns nil for a nil error.
func Transient(err error) error {
	if err == nil {
		return nil
	}

	return &transientError{err: err}
}

// IsTransient reports whether err, or any error it wraps, was marked with
// Transient.
func IsTransient(err error) bool {
	var te *transientError
	return errors.As(err, &te)
}

// exhaustedError is returned when the policy refuses another attempt. It
// unwraps to the policy error and to the last failure with its Transient
// marker removed, so callers further up never retry it again.
type exhaustedError struct {
	policy  error
	last    error
	retries int
}

func (e *exhaustedError) Error() string {
	return fmt.Sprintf("%v (%d retries): %v", e.policy, e.retries, e.last)
}

func (e *exhaustedError) Unwrap() []error {
	var te *transientError
	if errors.As(e.last, &te) {
		return []error{e.policy, te.err}
	}

	return []error{e.policy, e.last}
}

// Policy decides how long to wait before retry number attempt (0-based,
// not counting the initial try), given the time already spent. Returning an
// error escalates the transient failure to a permanent one.
type Policy interface {
	Delay(attempt int, elapsed time.Duration) (time.Duration, error)
}

// Backoff is a full-jitter exponential policy: the delay is uniform in
// [0, min(MaxDelay, StartDelay*2^attempt)], and a retry whose delay would
// push the total past MaxTotal is refused.
type Backoff struct {
	StartDelay time.Duration
	MaxDelay   time.Duration
	MaxTotal   time.Duration

	// randFloat returns a value in [0, 1). Tests override it.
	randFloat func() float64
}

// DefaultBackoff returns a Backoff with the package defaults.
func DefaultBackoff() Backoff {
	return Backoff{
		StartDelay: DefaultStartDelay,
		MaxDelay:   DefaultMaxDelay,
		MaxTotal:   DefaultMaxTotal,
	}
}

// maxShift bounds the exponent so StartDelay<<attempt cannot overflow.
const maxShift = 62

// Delay implements Policy.
func (b Backoff) Delay(attempt int, elapsed time.Duration) (time.Duration, error) {
	ceiling := b.MaxDelay

	switch {
	case b.StartDelay <= 0:
		ceiling = 0
	case attempt < maxShift:
		// grown <= 0 means the shift overflowed; MaxDelay stays the ceiling.
		if grown := b.StartDelay << attempt; grown > 0 && grown < ceiling {
			ceiling = grown
		}
	}

	rnd := b.randFloat
	if rnd == nil {
		rnd = rand.Float64 //nolint:gosec // jitter does not need crypto rand
	}

	delay := time.Duration(rnd() * float64(ceiling+1))

	if elapsed+delay >= b.MaxTotal {
		return 0, fmt.Errorf("%w: elapsed=%s next_delay=%s max_total=%s",
			ErrBudgetExceeded, elapsed, delay, b.MaxTotal)
	}

	return delay, nil
}

// noRetry escalates every transient failure immediately.
type noRetry struct{}

func (noRetry) Delay(int, time.Duration) (time.Duration, error) {
	return 0, ErrNoRetry
}

// NoRetry is the zero-retry policy.
var NoRetry Policy = noRetry{}

// Executor runs operations under a Policy. It holds no per-call state, so a
// single Executor can be shared.
type Executor struct {
	policy Policy
	logger *slog.Logger

	// nowFunc measures elapsed time for one Run. Injectable for tests.
	nowFunc func() time.Time
}

// New creates an Executor. A nil policy means NoRetry.
func New(policy Policy, logger *slog.Logger) *Executor {
	if policy == nil {
		policy = NoRetry
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Executor{
		policy:  policy,
		logger:  logger,
		nowFunc: time.Now,
	}
}

// Run executes op until it succeeds or fails permanently. Errors marked with
// Transient are retried; any other error is returned unchanged. When the
// policy refuses another attempt the result wraps both the policy error and
// the last transient failure. Cancellation while waiting yields
// ErrInterrupted wrapping the context error.
func (e *Executor) Run(ctx context.Context, op func(ctx context.Context) error) error {
	start := e.nowFunc()
	retries := 0

	var (
		escalated error
		last      error
	)

	backoff := goretry.BackoffFunc(func() (time.Duration, bool) {
		elapsed := e.nowFunc().Sub(start)

		delay, err := e.policy.Delay(retries, elapsed)
		if err != nil {
			escalated = err
			return 0, true
		}

		e.logger.Warn("retrying after transient failure",
			slog.Int("attempt", retries+1),
			slog.Duration("elapsed", elapsed),
			slog.Duration("backoff", delay),
			slog.String("error", last.Error()),
		)

		retries++

		return delay, false
	})

	err := goretry.Do(ctx, backoff, func(ctx context.Context) error {
		opErr := op(ctx)
		if opErr != nil && IsTransient(opErr) {
			last = opErr
			return goretry.RetryableError(opErr)
		}

		return opErr
	})

	switch {
	case err == nil:
		return nil
	case escalated != nil:
		return &exhaustedError{policy: escalated, last: last, retries: retries}
	case ctx.Err() != nil:
		return fmt.Errorf("%w: %d retries, %s elapsed: %w",
			ErrInterrupted, retries, e.nowFunc().Sub(start), err)
	default:
		return err
	}
}

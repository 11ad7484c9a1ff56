package retry

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errFlaky = errors.New("flaky")

func testLogger(t *testing.T) *slog.Logger {
	t.Helper()

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// fixedPolicy always allows a retry after a constant delay.
type fixedPolicy time.Duration

func (p fixedPolicy) Delay(int, time.Duration) (time.Duration, error) {
	return time.Duration(p), nil
}

// countingPolicy allows n retries, then refuses.
type countingPolicy struct {
	allowed  int
	attempts []int
}

func (p *countingPolicy) Delay(attempt int, _ time.Duration) (time.Duration, error) {
	p.attempts = append(p.attempts, attempt)
	if attempt >= p.allowed {
		return 0, ErrBudgetExceeded
	}

	return 0, nil
}

func TestBackoff_DelayWithinCeiling(t *testing.T) {
	tests := []struct {
		name    string
		attempt int
		rnd     float64
		want    time.Duration
	}{
		{"attempt 0 at max jitter", 0, 0.999999999, 5 * time.Millisecond},
		{"attempt 0 at zero jitter", 0, 0, 0},
		{"attempt 3 doubles three times", 3, 0.999999999, 40 * time.Millisecond},
		{"ceiling caps growth", 10, 0.999999999, 200 * time.Millisecond},
		{"huge attempt does not overflow", 200, 0.5, 100 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := DefaultBackoff()
			b.randFloat = func() float64 { return tt.rnd }

			got, err := b.Delay(tt.attempt, 0)
			require.NoError(t, err)
			assert.InDelta(t, float64(tt.want), float64(got), float64(time.Microsecond))
		})
	}
}

func TestBackoff_ZeroStartDelayMeansZeroCeiling(t *testing.T) {
	b := Backoff{StartDelay: 0, MaxDelay: time.Second, MaxTotal: time.Minute}
	b.randFloat = func() float64 { return 0.999999999 }

	for _, attempt := range []int{0, 1, 5, 100} {
		got, err := b.Delay(attempt, 0)
		require.NoError(t, err)
		assert.Zero(t, got, "attempt %d", attempt)
	}
}

func TestBackoff_BudgetExceeded(t *testing.T) {
	b := Backoff{StartDelay: time.Second, MaxDelay: time.Second, MaxTotal: 10 * time.Second}
	b.randFloat = func() float64 { return 0.5 }

	_, err := b.Delay(0, 9*time.Second+600*time.Millisecond)
	require.ErrorIs(t, err, ErrBudgetExceeded)

	d, err := b.Delay(0, 9*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 500*time.Millisecond, d)
}

func TestBackoff_EqualToBudgetEscalates(t *testing.T) {
	b := Backoff{StartDelay: time.Second, MaxDelay: time.Second, MaxTotal: 2 * time.Second}
	b.randFloat = func() float64 { return 0 }

	_, err := b.Delay(0, 2*time.Second)
	require.ErrorIs(t, err, ErrBudgetExceeded)
}

func TestRun_SuccessFirstTry(t *testing.T) {
	e := New(fixedPolicy(0), testLogger(t))

	calls := 0
	err := e.Run(context.Background(), func(context.Context) error {
		calls++
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestRun_RetriesTransientUntilSuccess(t *testing.T) {
	e := New(fixedPolicy(time.Millisecond), testLogger(t))

	calls := 0
	err := e.Run(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return Transient(errFlaky)
		}

		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRun_PermanentFailurePropagatesImmediately(t *testing.T) {
	e := New(fixedPolicy(0), testLogger(t))
	permanent := errors.New("bad request")

	calls := 0
	err := e.Run(context.Background(), func(context.Context) error {
		calls++
		return permanent
	})

	require.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, calls)
}

func TestRun_PolicyEscalation(t *testing.T) {
	p := &countingPolicy{allowed: 2}
	e := New(p, testLogger(t))

	calls := 0
	err := e.Run(context.Background(), func(context.Context) error {
		calls++
		return Transient(errFlaky)
	})

	require.ErrorIs(t, err, ErrBudgetExceeded)
	require.ErrorIs(t, err, errFlaky)
	assert.False(t, IsTransient(err), "escalated failure must not be retried by an outer executor")
	assert.Equal(t, 3, calls)
	assert.Equal(t, []int{0, 1, 2}, p.attempts)
}

func TestRun_NoRetryEscalatesImmediately(t *testing.T) {
	e := New(NoRetry, testLogger(t))

	calls := 0
	err := e.Run(context.Background(), func(context.Context) error {
		calls++
		return Transient(errFlaky)
	})

	require.ErrorIs(t, err, ErrNoRetry)
	require.ErrorIs(t, err, errFlaky)
	assert.Equal(t, 1, calls)
}

func TestRun_NilPolicyIsNoRetry(t *testing.T) {
	e := New(nil, nil)

	err := e.Run(context.Background(), func(context.Context) error {
		return Transient(errFlaky)
	})

	require.ErrorIs(t, err, ErrNoRetry)
}

func TestRun_InterruptedDuringSleep(t *testing.T) {
	e := New(fixedPolicy(time.Hour), testLogger(t))
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	done := make(chan error, 1)

	go func() {
		done <- e.Run(ctx, func(context.Context) error {
			calls++
			return Transient(errFlaky)
		})
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, ErrInterrupted)
		require.ErrorIs(t, err, context.Canceled)
		assert.False(t, IsTransient(err))
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}

	assert.Equal(t, 1, calls)
}

func TestRun_CanceledBeforeStart(t *testing.T) {
	e := New(fixedPolicy(0), testLogger(t))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := e.Run(ctx, func(context.Context) error {
		calls++
		return nil
	})

	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, calls)
}

func TestRun_ElapsedPassedToPolicy(t *testing.T) {
	var seen []time.Duration

	policy := policyFunc(func(_ int, elapsed time.Duration) (time.Duration, error) {
		seen = append(seen, elapsed)
		if len(seen) == 2 {
			return 0, ErrBudgetExceeded
		}

		return 0, nil
	})

	e := New(policy, testLogger(t))

	clock := time.Unix(0, 0)
	e.nowFunc = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}

	err := e.Run(context.Background(), func(context.Context) error {
		return Transient(errFlaky)
	})

	require.ErrorIs(t, err, ErrBudgetExceeded)
	require.Len(t, seen, 2)
	assert.Greater(t, seen[1], seen[0])
}

func TestTransient(t *testing.T) {
	assert.NoError(t, Transient(nil))
	assert.False(t, IsTransient(errFlaky))
	assert.True(t, IsTransient(Transient(errFlaky)))

	wrapped := errors.Join(errors.New("context"), Transient(errFlaky))
	assert.True(t, IsTransient(wrapped))
	assert.ErrorIs(t, Transient(errFlaky), errFlaky)
}

type policyFunc func(int, time.Duration) (time.Duration, error)

func (f policyFunc) Delay(attempt int, elapsed time.Duration) (time.Duration, error) {
	return f(attempt, elapsed)
}

package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/loraci/internal/config"
)

const ms = time.Millisecond

func TestDefaultPolicyNeverRetries(t *testing.T) {
	p := DefaultPolicy()
	assert.Equal(t, config.RetryBackoffLinear, p.Mode)
	assert.Equal(t, time.Second, p.Initial)
	assert.Equal(t, 30*time.Second, p.Max)
	assert.Zero(t, p.MaxRetries)
}

func TestNewPolicyClampsAndFallsBack(t *testing.T) {
	p := NewPolicy(config.RetryBackoffFixed, 5*time.Second, 2*time.Second, 5)
	assert.Equal(t, 2*time.Second, p.Initial)
	assert.Equal(t, config.RetryBackoffFixed, p.Mode)
	assert.Equal(t, 5, p.MaxRetries)

	p = NewPolicy("zigzag", 0, 0, -1)
	assert.Equal(t, DefaultPolicy(), p)
}

func TestDelay(t *testing.T) {
	cases := []struct {
		name   string
		policy Policy
		want   []time.Duration // retries 1..n
	}{
		{"fixed", NewPolicy(config.RetryBackoffFixed, 100*ms, 500*ms, 3), []time.Duration{100 * ms, 100 * ms, 100 * ms}},
		{"linear", NewPolicy(config.RetryBackoffLinear, 100*ms, 250*ms, 4), []time.Duration{100 * ms, 200 * ms, 250 * ms, 250 * ms}},
		{"exponential", NewPolicy(config.RetryBackoffExponential, 50*ms, 160*ms, 4), []time.Duration{50 * ms, 100 * ms, 160 * ms, 160 * ms}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Zero(t, tc.policy.Delay(0))
			for i, want := range tc.want {
				assert.Equal(t, want, tc.policy.Delay(i+1), "retry %d", i+1)
			}
		})
	}

	huge := NewPolicy(config.RetryBackoffExponential, time.Second, time.Minute, 100)
	assert.Equal(t, time.Minute, huge.Delay(90))
}

func TestFromConfig(t *testing.T) {
	p := FromConfig(config.RetryConfig{MaxRetries: 2, Backoff: "EXPONENTIAL", InitialDelay: "10ms", MaxDelay: "1s"})
	assert.Equal(t, config.RetryBackoffExponential, p.Mode)
	assert.Equal(t, 10*ms, p.Initial)
	assert.Equal(t, time.Second, p.Max)
	assert.Equal(t, 2, p.MaxRetries)

	assert.Zero(t, FromConfig(config.RetryConfig{}).MaxRetries)
}

func TestDoRetriesTransientThenSucceeds(t *testing.T) {
	p := NewPolicy(config.RetryBackoffFixed, ms, 5*ms, 3)
	transient := errors.New("i/o timeout")
	var retries, attempts []int

	err := p.Do(t.Context(), func(attempt int) error {
		attempts = append(attempts, attempt)
		if attempt < 3 {
			return transient
		}
		return nil
	}, Hooks{
		Retryable: func(err error) bool { return errors.Is(err, transient) },
		OnRetry:   func(n int, _ error) { retries = append(retries, n) },
	})

	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, attempts)
	assert.Equal(t, []int{1, 2}, retries)
}

func TestDoStopsOnPermanentError(t *testing.T) {
	p := NewPolicy(config.RetryBackoffFixed, ms, 5*ms, 3)
	permanent := errors.New("authentication required")

	calls := 0
	err := p.Do(t.Context(), func(int) error {
		calls++
		return permanent
	}, Hooks{Retryable: func(error) bool { return false }})

	require.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, calls)
}

func TestDoGivesUpAfterMaxRetries(t *testing.T) {
	p := NewPolicy(config.RetryBackoffFixed, ms, ms, 2)
	calls := 0
	err := p.Do(t.Context(), func(int) error {
		calls++
		return errors.New("timeout")
	}, Hooks{Retryable: func(error) bool { return true }, Scale: func(error) float64 { return 2 }})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoZeroRetriesRunsOnce(t *testing.T) {
	calls := 0
	err := DefaultPolicy().Do(t.Context(), func(int) error {
		calls++
		return errors.New("timeout")
	}, Hooks{Retryable: func(error) bool { return true }})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoHonorsCancellation(t *testing.T) {
	p := NewPolicy(config.RetryBackoffFixed, time.Hour, time.Hour, 3)
	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	err := p.Do(ctx, func(int) error { return errors.New("timeout") }, Hooks{Retryable: func(error) bool { return true }})
	require.ErrorIs(t, err, context.Canceled)
}

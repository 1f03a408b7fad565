// Package retry holds the backoff policy shared by the clone step and any
// other operation that opts into retrying transient failures.
package retry

import (
	"context"
	"time"

	"git.home.luguber.info/inful/loraci/internal/config"
)

// Policy describes how often and how patiently a failed operation is retried.
// The zero MaxRetries runs the operation exactly once.
type Policy struct {
	Mode       config.RetryBackoffMode
	Initial    time.Duration
	Max        time.Duration
	MaxRetries int
}

// Hooks customize a single Do call. Every field is optional.
type Hooks struct {
	// Retryable reports whether err is worth another attempt. Nil means
	// nothing is retried.
	Retryable func(err error) bool
	// Scale stretches the next delay for particular error classes.
	Scale func(err error) float64
	// OnRetry runs before the wait preceding retry n (1-based).
	OnRetry func(n int, err error)
}

// DefaultPolicy never retries.
func DefaultPolicy() Policy {
	return Policy{Mode: config.RetryBackoffLinear, Initial: time.Second, Max: 30 * time.Second}
}

// NewPolicy fills unset or invalid fields from DefaultPolicy and clamps
// initial to maxDelay.
func NewPolicy(mode config.RetryBackoffMode, initial, maxDelay time.Duration, maxRetries int) Policy {
	p := DefaultPolicy()
	if maxRetries > 0 {
		p.MaxRetries = maxRetries
	}
	if initial > 0 {
		p.Initial = initial
	}
	if maxDelay > 0 {
		p.Max = maxDelay
	}
	if config.IsValidRetryBackoff(mode) {
		p.Mode = mode
	}
	p.Initial = min(p.Initial, p.Max)
	return p
}

// FromConfig builds a policy from the retry section of the configuration.
// Durations have already been validated by config.Load.
func FromConfig(cfg config.RetryConfig) Policy {
	initial, _ := time.ParseDuration(cfg.InitialDelay)
	maxDelay, _ := time.ParseDuration(cfg.MaxDelay)
	return NewPolicy(config.NormalizeRetryBackoff(string(cfg.Backoff)), initial, maxDelay, cfg.MaxRetries)
}

// Delay is the wait before retry n (1-based); it never exceeds Max.
func (p Policy) Delay(n int) time.Duration {
	if n <= 0 {
		return 0
	}
	var d time.Duration
	switch p.Mode {
	case config.RetryBackoffFixed:
		d = p.Initial
	case config.RetryBackoffExponential:
		if n > 62 || p.Initial > p.Max>>(n-1) {
			return p.Max
		}
		d = p.Initial << (n - 1)
	default:
		d = p.Initial * time.Duration(n)
	}
	if d <= 0 || d > p.Max {
		return p.Max
	}
	return d
}

// Do calls fn with a 1-based attempt number until it succeeds, fails with
// an error hooks do not consider retryable, or MaxRetries retries are spent.
// The last error is returned; a canceled ctx aborts the wait between tries.
func (p Policy) Do(ctx context.Context, fn func(attempt int) error, hooks Hooks) error {
	err := fn(1)
	for n := 1; err != nil && n <= p.MaxRetries; n++ {
		if hooks.Retryable == nil || !hooks.Retryable(err) {
			return err
		}
		delay := p.Delay(n)
		if hooks.Scale != nil {
			delay = time.Duration(float64(delay) * hooks.Scale(err))
		}
		if hooks.OnRetry != nil {
			hooks.OnRetry(n, err)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		err = fn(n + 1)
	}
	return err
}

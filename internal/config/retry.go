package config

import "strings"

// RetryBackoffMode selects how the wait between clone retries grows.
type RetryBackoffMode string

const (
	RetryBackoffFixed       RetryBackoffMode = "fixed"
	RetryBackoffLinear      RetryBackoffMode = "linear"
	RetryBackoffExponential RetryBackoffMode = "exponential"
)

var retryBackoffModes = map[RetryBackoffMode]bool{
	RetryBackoffFixed:       true,
	RetryBackoffLinear:      true,
	RetryBackoffExponential: true,
}

// IsValidRetryBackoff reports whether m names a supported mode exactly.
func IsValidRetryBackoff(m RetryBackoffMode) bool { return retryBackoffModes[m] }

// NormalizeRetryBackoff lower-cases and trims raw; unknown modes become "".
func NormalizeRetryBackoff(raw string) RetryBackoffMode {
	m := RetryBackoffMode(strings.ToLower(strings.TrimSpace(raw)))
	if !IsValidRetryBackoff(m) {
		return ""
	}
	return m
}

// RetryConfig governs retries of transient clone failures. MaxRetries 0
// (the default) disables retrying.
type RetryConfig struct {
	MaxRetries   int              `yaml:"max_retries"`
	Backoff      RetryBackoffMode `yaml:"backoff"`
	InitialDelay string           `yaml:"initial_delay"`
	MaxDelay     string           `yaml:"max_delay"`
}

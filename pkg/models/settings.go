package models

import "time"

// BackoffStrategy selects the delay policy applied before retrying a failed
// step attempt.
type BackoffStrategy string

const (
	BackoffFixed       BackoffStrategy = "fixed"
	BackoffExponential BackoffStrategy = "exponential"
)

const (
	defaultRetryDelaySeconds = 30
	defaultTimeoutSeconds    = 60
	maxBackoff               = time.Hour
)

// Settings holds the retry and timeout policy of a workflow definition.
type Settings struct {
	MaxRetries        int             `json:"max_retries"         validate:"min=0"`
	RetryDelaySeconds int             `json:"retry_delay_seconds" validate:"min=0"`
	BackoffStrategy   BackoffStrategy `json:"backoff_strategy,omitempty"`
	TimeoutSeconds    int             `json:"timeout_seconds"     validate:"min=0"`
}

// DefaultSettings returns the policy applied when a definition omits settings.
func DefaultSettings() Settings {
	return Settings{
		MaxRetries:        0,
		RetryDelaySeconds: defaultRetryDelaySeconds,
		BackoffStrategy:   BackoffFixed,
		TimeoutSeconds:    defaultTimeoutSeconds,
	}
}

// Normalize fills zero-valued fields with defaults.
func (s Settings) Normalize() Settings {
	if s.RetryDelaySeconds <= 0 {
		s.RetryDelaySeconds = defaultRetryDelaySeconds
	}

	if s.TimeoutSeconds <= 0 {
		s.TimeoutSeconds = defaultTimeoutSeconds
	}

	if s.BackoffStrategy == "" {
		s.BackoffStrategy = BackoffFixed
	}

	return s
}

// RetryDelay computes the backoff delay before the given retry. retryCount is
// the number of retries already consumed, so the first retry sees the base
// delay under the exponential strategy.
func (s Settings) RetryDelay(retryCount int) time.Duration {
	base := time.Duration(s.RetryDelaySeconds) * time.Second
	if base <= 0 {
		base = defaultRetryDelaySeconds * time.Second
	}

	if s.BackoffStrategy != BackoffExponential {
		return base
	}

	delay := base
	for range retryCount {
		delay *= 2
		if delay >= maxBackoff {
			return maxBackoff
		}
	}

	return delay
}

// StepTimeout returns the per-step invocation deadline.
func (s Settings) StepTimeout() time.Duration {
	if s.TimeoutSeconds <= 0 {
		return defaultTimeoutSeconds * time.Second
	}

	return time.Duration(s.TimeoutSeconds) * time.Second
}

package queue

import (
	"math"
	"time"
)

// BackoffType selects how the retry delay grows with attempts.
type BackoffType string

const (
	BackoffFixed       BackoffType = "fixed"
	BackoffExponential BackoffType = "exponential"
)

// maxBackoff caps exponential growth so large attempt counts cannot overflow.
const maxBackoff = 24 * time.Hour

// Backoff is the retry delay policy for a job.
type Backoff struct {
	Type  BackoffType   `json:"type" validate:"omitempty,oneof=fixed exponential"`
	Delay time.Duration `json:"delay" validate:"min=0"`
}

// Duration returns the delay before the retry that follows the given
// 1-based attempt: Delay for fixed, Delay*2^(attempt-1) for exponential.
func (b Backoff) Duration(attempt int) time.Duration {
	if b.Delay <= 0 {
		return 0
	}
	if attempt < 1 {
		attempt = 1
	}
	if b.Type != BackoffExponential {
		return b.Delay
	}
	d := float64(b.Delay) * math.Pow(2, float64(attempt-1))
	if d > float64(maxBackoff) {
		return maxBackoff
	}
	return time.Duration(d)
}

// QueueOptions are the defaults a queue applies to its jobs.
type QueueOptions struct {
	DefaultAttempts int     `json:"defaultAttempts"`
	Backoff         Backoff `json:"backoff"`

	// CompletedRetention and FailedRetention are the ages after which the
	// retention sweep removes terminal jobs. Zero disables the age rule.
	CompletedRetention time.Duration `json:"completedRetention"`
	FailedRetention    time.Duration `json:"failedRetention"`

	// CompletedKeep and FailedKeep cap the number of retained terminal jobs.
	// Zero means unlimited.
	CompletedKeep int `json:"completedKeep"`
	FailedKeep    int `json:"failedKeep"`
}

// DefaultCompletedRetention is how long completed jobs are retained.
const DefaultCompletedRetention = 24 * time.Hour

// DefaultQueueOptions returns the options used for auto-registered queues.
// Failed jobs are kept seven times longer than completed ones.
func DefaultQueueOptions() QueueOptions {
	return QueueOptions{
		DefaultAttempts:    3,
		Backoff:            Backoff{Type: BackoffExponential, Delay: 2 * time.Second},
		CompletedRetention: DefaultCompletedRetention,
		FailedRetention:    7 * DefaultCompletedRetention,
	}
}

func (o QueueOptions) withDefaults(def QueueOptions) QueueOptions {
	if o.DefaultAttempts <= 0 {
		o.DefaultAttempts = def.DefaultAttempts
	}
	if o.DefaultAttempts <= 0 {
		o.DefaultAttempts = 1
	}
	if o.Backoff.Type == "" {
		o.Backoff.Type = def.Backoff.Type
	}
	if o.Backoff.Delay == 0 {
		o.Backoff.Delay = def.Backoff.Delay
	}
	if o.CompletedRetention == 0 {
		o.CompletedRetention = def.CompletedRetention
	}
	if o.FailedRetention == 0 {
		o.FailedRetention = def.FailedRetention
	}
	return o
}

// Config holds manager-wide settings.
type Config struct {
	// Defaults applies to queues registered without explicit options.
	Defaults QueueOptions

	// PollInterval is how long an idle worker waits before polling again.
	PollInterval time.Duration
	// PromoteInterval is how often due delayed jobs are moved to waiting.
	PromoteInterval time.Duration
	// SweepInterval is how often the retention sweep runs. Zero disables it.
	SweepInterval time.Duration
	// JobTimeout bounds a single processing attempt.
	JobTimeout time.Duration
	// DispatchRetries is how many extra times Enqueue retries a transient store failure.
	DispatchRetries int
}

// DefaultConfig returns the manager defaults.
func DefaultConfig() Config {
	return Config{
		Defaults:        DefaultQueueOptions(),
		PollInterval:    250 * time.Millisecond,
		PromoteInterval: time.Second,
		SweepInterval:   time.Hour,
		JobTimeout:      10 * time.Minute,
		DispatchRetries: 2,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	c.Defaults = c.Defaults.withDefaults(def.Defaults)
	if c.PollInterval <= 0 {
		c.PollInterval = def.PollInterval
	}
	if c.PromoteInterval <= 0 {
		c.PromoteInterval = def.PromoteInterval
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = def.JobTimeout
	}
	if c.DispatchRetries < 0 {
		c.DispatchRetries = 0
	}
	return c
}

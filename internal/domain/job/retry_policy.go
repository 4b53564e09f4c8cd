package job

import (
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ErrNegativeRetries indicates a retry policy was configured with a negative bound.
var ErrNegativeRetries = errors.New("max retries must be >= 0")

// RetryPolicy bounds how often a recoverable action failure is retried and how long the
// dispatcher waits between attempts.
type RetryPolicy struct {
	MaxRetries          int
	InitialInterval     time.Duration
	MaxInterval         time.Duration
	Multiplier          float64
	RandomizationFactor float64
}

// DefaultRetryPolicy matches the service defaults: three retries starting at one second.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:          3,
		InitialInterval:     time.Second,
		MaxInterval:         30 * time.Second,
		Multiplier:          2,
		RandomizationFactor: 0.2,
	}
}

// Validate reports configuration errors.
func (p RetryPolicy) Validate() error {
	if p.MaxRetries < 0 {
		return ErrNegativeRetries
	}
	return nil
}

// MaxAttempts is the total number of action executions allowed, including the first.
func (p RetryPolicy) MaxAttempts() int {
	return p.MaxRetries + 1
}

// NewBackOff returns a fresh schedule for one job. NextBackOff yields backoff.Stop once
// MaxRetries delays have been handed out.
func (p RetryPolicy) NewBackOff() backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		exp.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		exp.MaxInterval = p.MaxInterval
	}
	if p.Multiplier >= 1 {
		exp.Multiplier = p.Multiplier
	}
	if p.RandomizationFactor >= 0 && p.RandomizationFactor < 1 {
		exp.RandomizationFactor = p.RandomizationFactor
	}
	// Attempts are bounded by count, never by wall time.
	exp.MaxElapsedTime = 0
	exp.Reset()

	retries := p.MaxRetries
	if retries < 0 {
		retries = 0
	}
	return backoff.WithMaxRetries(exp, uint64(retries))
}

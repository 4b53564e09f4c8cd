package config

import (
	"strings"
	"time"

	"github.com/target/recordflow/internal/domain/job"
	"github.com/target/recordflow/internal/domain/model"
)

// DispatchConfig contains worker dispatcher configuration. Fields are read with the
// DISPATCH_ prefix.
type DispatchConfig struct {
	// ImportConcurrency is the number of import worker goroutines per process.
	ImportConcurrency int `env:"IMPORT_CONCURRENCY" envDefault:"2"`

	// TransferConcurrency is the number of transfer worker goroutines per process.
	TransferConcurrency int `env:"TRANSFER_CONCURRENCY" envDefault:"4"`

	// PollInterval is the longest a worker idles before re-checking for pending jobs.
	PollInterval time.Duration `env:"POLL_INTERVAL" envDefault:"2s"`

	// BatchSize is the number of pending candidates fetched per claim round.
	BatchSize int `env:"BATCH_SIZE" envDefault:"10"`

	// Lease is how long a claimed job stays owned without a heartbeat.
	Lease time.Duration `env:"LEASE" envDefault:"30s"`

	// MaxRetries bounds retries of recoverable action failures.
	MaxRetries int `env:"MAX_RETRIES" envDefault:"3"`

	// BackoffInitial, BackoffMax and BackoffMultiplier shape the exponential wait between attempts.
	BackoffInitial    time.Duration `env:"BACKOFF_INITIAL"    envDefault:"1s"`
	BackoffMax        time.Duration `env:"BACKOFF_MAX"        envDefault:"30s"`
	BackoffMultiplier float64       `env:"BACKOFF_MULTIPLIER" envDefault:"2"`

	// AllowSameOrg permits jobs whose source and destination organization are equal.
	AllowSameOrg bool `env:"ALLOW_SAME_ORG" envDefault:"false"`

	// AnonymizeKey keys the HMAC pseudonyms written for anonymized records. Anonymized
	// jobs fail permanently when it is unset.
	AnonymizeKey string `env:"ANONYMIZE_KEY"`

	// AnonymizeFields overrides the record_data keys replaced when anonymizing.
	AnonymizeFields []string `env:"ANONYMIZE_FIELDS" envSeparator:","`
}

// Sanitize applies guardrails to dispatcher configuration values.
func (d *DispatchConfig) Sanitize() {
	if d.ImportConcurrency < 0 {
		d.ImportConcurrency = 0
	}
	if d.TransferConcurrency < 0 {
		d.TransferConcurrency = 0
	}
	if d.PollInterval < 10*time.Millisecond {
		d.PollInterval = 10 * time.Millisecond
	}
	if d.BatchSize < 1 {
		d.BatchSize = 1
	}
	if d.Lease < 5*time.Second {
		d.Lease = 5 * time.Second
	}
	if d.MaxRetries < 0 {
		d.MaxRetries = 0
	}
	if d.BackoffMultiplier < 1 {
		d.BackoffMultiplier = 1
	}
	if d.BackoffMax > 0 && d.BackoffInitial > d.BackoffMax {
		d.BackoffInitial = d.BackoffMax
	}
	d.AnonymizeKey = strings.TrimSpace(d.AnonymizeKey)
}

// Concurrency returns the worker count for kind; zero disables the kind.
func (d DispatchConfig) Concurrency(kind model.JobKind) int {
	switch kind {
	case model.JobKindImport:
		return d.ImportConcurrency
	case model.JobKindTransfer:
		return d.TransferConcurrency
	default:
		return 0
	}
}

// RetryPolicy converts the backoff settings into the dispatcher's retry policy.
func (d DispatchConfig) RetryPolicy() job.RetryPolicy {
	p := job.DefaultRetryPolicy()
	p.MaxRetries = d.MaxRetries
	if d.BackoffInitial > 0 {
		p.InitialInterval = d.BackoffInitial
	}
	if d.BackoffMax > 0 {
		p.MaxInterval = d.BackoffMax
	}
	if d.BackoffMultiplier >= 1 {
		p.Multiplier = d.BackoffMultiplier
	}
	return p
}

// CallbackConfig controls outbound HTTP to external EHR systems: import source fetches,
// transfer pushes and job callbacks. Fields are read with the CALLBACK_ prefix.
type CallbackConfig struct {
	// Timeout bounds a single outbound request.
	Timeout time.Duration `env:"TIMEOUT" envDefault:"15s"`

	// RequestsPerSecond limits outbound calls per process; zero disables limiting.
	RequestsPerSecond float64 `env:"RATE_LIMIT" envDefault:"20"`

	// Burst is the limiter bucket size.
	Burst int `env:"BURST" envDefault:"5"`

	// MaxFetchBytes caps import source downloads.
	MaxFetchBytes int64 `env:"MAX_FETCH_BYTES" envDefault:"33554432"`
}

// Sanitize applies guardrails to callback configuration values.
func (c *CallbackConfig) Sanitize() {
	if c.Timeout <= 0 {
		c.Timeout = 15 * time.Second
	}
	if c.RequestsPerSecond < 0 {
		c.RequestsPerSecond = 0
	}
	if c.Burst < 1 {
		c.Burst = 1
	}
	if c.MaxFetchBytes <= 0 {
		c.MaxFetchBytes = 32 << 20
	}
}

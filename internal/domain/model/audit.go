package model

import "time"

// AuditEvent names the kind of entry appended to a job's audit log.
type AuditEvent string

const (
	// AuditEventTransition records an accepted status transition.
	AuditEventTransition AuditEvent = "transition"
	// AuditEventAttemptFailed records a failed action attempt that may be retried.
	AuditEventAttemptFailed AuditEvent = "attempt_failed"
)

// Well-known audit actors.
const (
	ActorAPI     = "api"
	ActorReaper  = "reaper"
	ActorUnknown = "unknown"
)

// AuditEntry is one append-only element of a job's audit log.
type AuditEntry struct {
	Timestamp  time.Time  `json:"timestamp"`
	Actor      string     `json:"actor"`
	Event      AuditEvent `json:"event"`
	Transition string     `json:"transition,omitempty"`
	FromStatus JobStatus  `json:"from_state"`
	ToStatus   JobStatus  `json:"to_state"`
	Attempt    int        `json:"attempt,omitempty"`
	Detail     string     `json:"detail,omitempty"`
}

// ErrorDetails captures structured failure context for a FAILED job.
type ErrorDetails struct {
	Code       string    `json:"code"`
	Message    string    `json:"message"`
	Class      string    `json:"class,omitempty"`
	Attempts   int       `json:"attempts"`
	Retryable  bool      `json:"retryable"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Error codes stored in ErrorDetails.Code.
const (
	ErrorCodeActionFailed     = "action_failed"
	ErrorCodeRetriesExhausted = "retries_exhausted"
	ErrorCodeLeaseExpired     = "lease_expired"
	ErrorCodeInvalidParams    = "invalid_parameters"
	ErrorCodeShutdown         = "dispatcher_shutdown"
	ErrorCodeInvalidOutcome   = "invalid_outcome"
)

// Package notify defines the failure events recordflow fans out to operator sinks.
package notify

import (
	"context"
	"time"
)

// Severity constants recognised by downstream sinks.
const (
	SeverityCritical = "critical"
	SeverityWarning  = "warning"
)

// Signal names the kind of failure being reported.
type Signal string

const (
	// SignalJobFailed is emitted when a job reaches FAILED.
	SignalJobFailed Signal = "job_failed"
	// SignalAuditWriteFailure is emitted when a transition was persisted but its audit entry was not.
	SignalAuditWriteFailure Signal = "audit_write_failure"
	// SignalCallbackFailed is emitted when a completion callback could not be delivered.
	SignalCallbackFailed Signal = "callback_failed"
)

// FailureEvent is the canonical payload handed to every sink.
type FailureEvent struct {
	Signal           Signal
	JobID            string
	JobKind          string
	SourceOrgID      string
	DestinationOrgID string
	Status           string
	Error            string
	ErrorClass       string
	Severity         string
	OccurredAt       time.Time
	Metadata         map[string]string
}

// Sink describes a destination capable of consuming failure events.
type Sink interface {
	Send(ctx context.Context, event FailureEvent) error
}

// SinkFunc adapts a function to the Sink interface (useful for tests).
type SinkFunc func(ctx context.Context, event FailureEvent) error

// Send implements the Sink interface.
func (f SinkFunc) Send(ctx context.Context, event FailureEvent) error {
	if f == nil {
		return nil
	}
	return f(ctx, event)
}

package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/target/recordflow/internal/core"
	"github.com/target/recordflow/internal/domain/model"
	"github.com/target/recordflow/internal/observability/metrics"
	"github.com/target/recordflow/internal/observability/notify"
	"github.com/target/recordflow/internal/observability/statsd"
	"github.com/target/recordflow/internal/service/failurenotifier"
)

// AuditWriteFailure reports that a job change was persisted but its audit entry was not.
// The change itself is never rolled back.
type AuditWriteFailure struct {
	JobID string
	Kind  model.JobKind
	Entry model.AuditEntry
	Err   error
}

func (e *AuditWriteFailure) Error() string {
	return fmt.Sprintf("audit write failed for %s job %s (%s %s->%s): %v",
		e.Kind, e.JobID, e.Entry.Event, e.Entry.FromStatus, e.Entry.ToStatus, e.Err)
}

func (e *AuditWriteFailure) Unwrap() error { return e.Err }

// Class implements the observability classifier.
func (e *AuditWriteFailure) Class() string { return "audit_write_failure" }

// AuditRecorderOptions groups dependencies for AuditRecorder.
type AuditRecorderOptions struct {
	Repo            core.JobRepository       // Required
	Metrics         statsd.Sink              // Optional
	FailureNotifier *failurenotifier.Service // Optional
	Logger          *slog.Logger             // Optional
	Now             func() time.Time         // Optional: defaults to time.Now
}

// AuditRecorder appends entries to a job's audit log and makes every failed append loud.
type AuditRecorder struct {
	repo     core.JobRepository
	metrics  statsd.Sink
	notifier *failurenotifier.Service
	logger   *slog.Logger
	now      func() time.Time
}

// NewAuditRecorder constructs an AuditRecorder.
func NewAuditRecorder(opts AuditRecorderOptions) *AuditRecorder {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &AuditRecorder{
		repo:     opts.Repo,
		metrics:  opts.Metrics,
		notifier: opts.FailureNotifier,
		logger:   logger.With("component", "audit_recorder"),
		now:      now,
	}
}

// Record appends entry to job's audit log. On failure it returns *AuditWriteFailure after
// counting, logging and notifying; the caller decides whether to surface it further.
func (r *AuditRecorder) Record(ctx context.Context, job *model.Job, entry model.AuditEntry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = r.now().UTC()
	}
	if entry.Actor == "" {
		entry.Actor = model.ActorUnknown
	}
	if entry.Event == "" {
		entry.Event = model.AuditEventTransition
	}

	err := r.repo.AppendAudit(ctx, job.Kind, job.ID, entry)
	if err == nil {
		return nil
	}

	failure := &AuditWriteFailure{JobID: job.ID, Kind: job.Kind, Entry: entry, Err: err}
	metrics.EmitCount(r.metrics, metrics.AuditWriteFailure, string(job.Kind), map[string]string{
		"event": string(entry.Event),
	})
	r.logger.ErrorContext(ctx, "audit entry was not persisted",
		"signal", string(notify.SignalAuditWriteFailure),
		"job_id", job.ID,
		"kind", job.Kind,
		"event", entry.Event,
		"from_state", entry.FromStatus,
		"to_state", entry.ToStatus,
		"actor", entry.Actor,
		"error", err,
	)
	r.notifier.Notify(ctx, notify.FailureEvent{
		Signal:           notify.SignalAuditWriteFailure,
		JobID:            job.ID,
		JobKind:          string(job.Kind),
		SourceOrgID:      job.SourceOrgID,
		DestinationOrgID: job.DestinationOrgID,
		Status:           string(entry.ToStatus),
		Error:            err.Error(),
		ErrorClass:       failure.Class(),
		Severity:         notify.SeverityCritical,
		OccurredAt:       entry.Timestamp,
		Metadata: map[string]string{
			"event": string(entry.Event),
			"actor": entry.Actor,
		},
	})
	return failure
}

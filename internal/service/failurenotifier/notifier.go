// Package failurenotifier fans failure events out to every configured operator sink.
package failurenotifier

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/target/recordflow/internal/observability/notify"
)

// SinkRegistration pairs a sink implementation with a human-readable name for logging.
type SinkRegistration struct {
	Name string
	Sink notify.Sink
}

// Options configures the failure notifier service.
type Options struct {
	Logger *slog.Logger
	Sinks  []SinkRegistration
	// Timeout bounds a single fan-out; zero means 10s.
	Timeout time.Duration
}

// Service dispatches failure events to all registered sinks.
type Service struct {
	logger  *slog.Logger
	sinks   []SinkRegistration
	timeout time.Duration
}

// NewService constructs a failure notifier. Nil sinks are skipped.
func NewService(opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	sinks := make([]SinkRegistration, 0, len(opts.Sinks))
	for _, entry := range opts.Sinks {
		if entry.Sink == nil {
			continue
		}
		if entry.Name == "" {
			entry.Name = "sink"
		}
		sinks = append(sinks, entry)
	}

	return &Service{
		logger:  logger.With("component", "failure_notifier"),
		sinks:   sinks,
		timeout: timeout,
	}
}

// Notify delivers event to every sink concurrently and waits for all of them.
// Delivery errors are logged, never returned.
func (s *Service) Notify(ctx context.Context, event notify.FailureEvent) {
	if s == nil || len(s.sinks) == 0 {
		return
	}
	if event.Severity == "" {
		event.Severity = notify.SeverityCritical
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}

	// Notifications often fire while the job context is being torn down.
	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()

	var wg sync.WaitGroup
	for _, entry := range s.sinks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := entry.Sink.Send(sendCtx, event); err != nil {
				s.logger.ErrorContext(ctx, "failure notifier delivery error",
					"sink", entry.Name,
					"signal", event.Signal,
					"job_id", event.JobID,
					"job_kind", event.JobKind,
					"error", err,
				)
			}
		}()
	}
	wg.Wait()
}

// Enabled reports whether the notifier has any active sinks.
func (s *Service) Enabled() bool {
	return s != nil && len(s.sinks) > 0
}

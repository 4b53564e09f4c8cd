package service

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/target/recordflow/config"
	"github.com/target/recordflow/internal/core"
	"github.com/target/recordflow/internal/domain/model"
	obserrors "github.com/target/recordflow/internal/observability/errors"
	"github.com/target/recordflow/internal/observability/metrics"
	"github.com/target/recordflow/internal/observability/statsd"
)

// ReaperServiceOptions groups dependencies for ReaperService.
type ReaperServiceOptions struct {
	Repo    core.JobRepository  // Required: job store
	Locker  core.ReaperLocker   // Required: cross-replica sweep lock
	Jobs    *JobService         // Required: applies the fail transition
	Config  config.ReaperConfig // Required: reaper configuration
	Logger  *slog.Logger        // Optional: structured logger
	Metrics statsd.Sink         // Optional: metrics sink (StatsD-compatible)
}

// ReaperService fails PROCESSING jobs whose dispatcher stopped renewing its lease, so no job
// stays in PROCESSING after its owner dies.
type ReaperService struct {
	repo    core.JobRepository
	locker  core.ReaperLocker
	jobs    *JobService
	config  config.ReaperConfig
	logger  *slog.Logger
	metrics statsd.Sink
}

// NewReaperService constructs a new ReaperService.
func NewReaperService(opts ReaperServiceOptions) (*ReaperService, error) {
	if opts.Repo == nil {
		return nil, errors.New("JobRepository is required")
	}
	if opts.Locker == nil {
		return nil, errors.New("ReaperLocker is required")
	}
	if opts.Jobs == nil {
		return nil, errors.New("JobService is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "reaper_service")
	logger.Debug("ReaperService initialized",
		"interval", opts.Config.Interval,
		"batch_size", opts.Config.BatchSize,
	)

	return &ReaperService{
		repo:    opts.Repo,
		locker:  opts.Locker,
		jobs:    opts.Jobs,
		config:  opts.Config,
		logger:  logger,
		metrics: opts.Metrics,
	}, nil
}

// Run starts the reaper loop and runs until the context is cancelled.
// Returns nil on graceful shutdown (context.Canceled), error otherwise.
func (s *ReaperService) Run(ctx context.Context) error {
	s.logger.InfoContext(ctx, "starting reaper service", "interval", s.config.Interval)

	// Add jitter to prevent thundering herd if multiple instances start together
	s.waitWithJitter(ctx)

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	if _, err := s.Sweep(ctx); err != nil {
		s.logSweepError(err, "initial sweep")
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.InfoContext(ctx, "reaper service stopping", "reason", ctx.Err())
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil {
				s.logSweepError(err, "sweep")
			}
		}
	}
}

// waitWithJitter adds a random delay up to 10% of the interval to prevent thundering herd.
func (s *ReaperService) waitWithJitter(ctx context.Context) {
	maxJitter := int64(s.config.Interval / 10)
	if maxJitter <= 0 {
		return
	}

	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		s.logger.WarnContext(ctx, "failed to generate jitter, skipping", "error", err)
		return
	}

	jitterNanos := binary.BigEndian.Uint64(buf[:]) % uint64(maxJitter)
	jitter := time.Duration(int64(jitterNanos)) // #nosec G115 - bounded by maxJitter which is int64

	select {
	case <-time.After(jitter):
	case <-ctx.Done():
	}
}

// SweepResult counts what one sweep did.
type SweepResult struct {
	Reaped  int
	Skipped int
	Locked  int // kinds whose sweep ran elsewhere
}

// Sweep reaps expired leases of every job kind once.
func (s *ReaperService) Sweep(ctx context.Context) (SweepResult, error) {
	start := time.Now()
	var (
		total SweepResult
		errs  []error
	)
	for _, kind := range model.AllJobKinds() {
		res, err := s.sweepKind(ctx, kind)
		total.Reaped += res.Reaped
		total.Skipped += res.Skipped
		total.Locked += res.Locked
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", kind, err))
		}
		s.emitBacklog(ctx, kind)
	}

	err := errors.Join(errs...)
	s.emitSweepMetrics(total, err, time.Since(start))
	if err != nil {
		if isContextCancellation(err) {
			return total, context.Canceled
		}
		return total, fmt.Errorf("reaper sweep failed: %w", err)
	}
	return total, nil
}

func (s *ReaperService) sweepKind(ctx context.Context, kind model.JobKind) (SweepResult, error) {
	var res SweepResult
	ran, err := s.locker.WithReaperLock(ctx, kind, func(ctx context.Context) error {
		expired, err := s.repo.ListExpiredLeases(ctx, kind, s.config.BatchSize)
		if err != nil {
			return fmt.Errorf("list expired leases: %w", err)
		}
		for _, job := range expired {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if s.reap(ctx, job) {
				res.Reaped++
			} else {
				res.Skipped++
			}
		}
		return nil
	})
	if !ran && err == nil {
		res.Locked++
	}
	return res, err
}

// reap fails one job whose lease expired. A job that moved on since it was listed is left alone.
func (s *ReaperService) reap(ctx context.Context, job *model.Job) bool {
	details := model.ErrorDetails{
		Code:      model.ErrorCodeLeaseExpired,
		Message:   "dispatcher lease expired before the job finished",
		Attempts:  job.Attempts,
		Retryable: true,
	}
	_, err := s.jobs.Fail(ctx, job, model.ActorReaper, details, model.JobMutation{
		Message: stringPtr("Job failed: dispatcher stopped responding"),
	})

	var auditErr *AuditWriteFailure
	switch {
	case err == nil, errors.As(err, &auditErr):
		s.logger.WarnContext(ctx, "reaped job with expired lease",
			"job_id", job.ID,
			"kind", job.Kind,
			"lease_expires_at", job.LeaseExpiresAt,
			"attempts", job.Attempts,
		)
		metrics.EmitCount(s.metrics, metrics.ReaperExpired, string(job.Kind), nil)
		return true
	case errors.Is(err, core.ErrJobConflict):
		s.logger.DebugContext(ctx, "expired job changed before reaping", "job_id", job.ID, "kind", job.Kind)
		return false
	default:
		s.logger.ErrorContext(ctx, "failed to reap job", "job_id", job.ID, "kind", job.Kind, "error", err)
		return false
	}
}

func (s *ReaperService) emitBacklog(ctx context.Context, kind model.JobKind) {
	if s.metrics == nil || ctx.Err() != nil {
		return
	}
	stats, err := s.repo.Stats(ctx, kind)
	if err != nil {
		s.logger.DebugContext(ctx, "job stats unavailable", "kind", kind, "error", err)
		return
	}
	tags := map[string]string{"kind": string(kind)}
	s.metrics.Gauge("jobs.pending", float64(stats.Pending), tags)
	s.metrics.Gauge("jobs.processing", float64(stats.Processing), metrics.CloneTags(tags))
}

func (s *ReaperService) emitSweepMetrics(res SweepResult, err error, elapsed time.Duration) {
	if s.metrics == nil {
		return
	}
	result := metrics.ResultSuccess
	switch {
	case err != nil:
		result = metrics.ResultError
	case res.Reaped == 0:
		result = metrics.ResultNoop
	}
	tags := map[string]string{"result": result}
	if err != nil {
		if class := obserrors.Classify(err); class != "" {
			tags["error_class"] = class
		}
	}
	s.metrics.Count("reaper.sweep", 1, tags)
	s.metrics.Timing("reaper.sweep_duration", elapsed, metrics.CloneTags(tags))
	if err == nil {
		s.metrics.Gauge("reaper.last_success_epoch", float64(time.Now().Unix()), nil)
	}
}

func (s *ReaperService) logSweepError(err error, label string) {
	if err == nil {
		return
	}
	if isContextCancellation(err) {
		s.logger.Debug(label+" cancelled by context", "error", err)
		return
	}
	s.logger.Error(label+" failed", "error", err)
}

func isContextCancellation(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/target/recordflow/internal/core"
	"github.com/target/recordflow/internal/domain/lifecycle"
	"github.com/target/recordflow/internal/domain/model"
	apperrors "github.com/target/recordflow/internal/errors"
	"github.com/target/recordflow/internal/observability/metrics"
	"github.com/target/recordflow/internal/observability/notify"
	"github.com/target/recordflow/internal/observability/statsd"
	"github.com/target/recordflow/internal/service/failurenotifier"
)

var (
	// ErrJobCancelled tells the owner of a job that it was cancelled and must stop.
	ErrJobCancelled = errors.New("job was cancelled")
	// ErrJobNotOwned tells a dispatcher that the job left PROCESSING without it (e.g. reaped).
	ErrJobNotOwned = errors.New("job is no longer processing")
)

// maxCancelAttempts bounds how often Cancel re-reads after losing a version race.
const maxCancelAttempts = 5

// JobServiceOptions groups dependencies for JobService.
type JobServiceOptions struct {
	Repo            core.JobRepository          // Required: job store
	Organizations   core.OrganizationRepository // Optional: validates organizations on Create
	Events          core.EventPublisher         // Optional: lifecycle event bus
	Cache           *StatusCache                // Optional: status read cache
	Metrics         statsd.Sink                 // Optional: metrics sink
	FailureNotifier *failurenotifier.Service    // Optional: failure notification fan-out
	Audit           *AuditRecorder              // Optional: defaults to a recorder over Repo
	Logger          *slog.Logger                // Optional: structured logger
	// AllowSameOrganization permits jobs whose source and destination are the same organization.
	AllowSameOrganization bool
}

// JobService owns every status change of transfer and import jobs. All transitions are
// checked against the lifecycle state table and written with a versioned update, then
// audited.
type JobService struct {
	repo          core.JobRepository
	orgs          core.OrganizationRepository
	events        core.EventPublisher
	cache         *StatusCache
	metrics       statsd.Sink
	notifier      *failurenotifier.Service
	audit         *AuditRecorder
	logger        *slog.Logger
	allowSameOrgs bool
}

// NewJobService constructs a new JobService.
func NewJobService(opts JobServiceOptions) (*JobService, error) {
	if opts.Repo == nil {
		return nil, errors.New("JobRepository is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	audit := opts.Audit
	if audit == nil {
		audit = NewAuditRecorder(AuditRecorderOptions{
			Repo:            opts.Repo,
			Metrics:         opts.Metrics,
			FailureNotifier: opts.FailureNotifier,
			Logger:          logger,
		})
	}
	return &JobService{
		repo:          opts.Repo,
		orgs:          opts.Organizations,
		events:        opts.Events,
		cache:         opts.Cache,
		metrics:       opts.Metrics,
		notifier:      opts.FailureNotifier,
		audit:         audit,
		logger:        logger.With("component", "job_service"),
		allowSameOrgs: opts.AllowSameOrganization,
	}, nil
}

// MustNewJobService constructs a new JobService and panics on error.
// Use this when you're certain the options are valid (e.g., in main.go).
func MustNewJobService(opts JobServiceOptions) *JobService {
	svc, err := NewJobService(opts)
	if err != nil {
		//nolint:forbidigo // Must constructor fails fast when dependencies are invalid during startup
		panic(fmt.Sprintf("failed to create JobService: %v", err))
	}
	return svc
}

// Create validates req and stores a new PENDING job.
func (s *JobService) Create(ctx context.Context, req *model.CreateJobRequest) (*model.Job, error) {
	if req == nil {
		return nil, apperrors.Validationf("request body is required")
	}
	if err := req.Validate(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeValidation, "invalid job request")
	}
	if req.SameOrganization() && !s.allowSameOrgs {
		return nil, apperrors.Wrap(model.ErrSameOrganization, apperrors.ErrCodeValidation, "invalid job request")
	}
	if err := s.checkOrganizations(ctx, req.SourceOrgID, req.DestinationOrgID); err != nil {
		return nil, err
	}

	job, err := s.repo.Create(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("create job: %w", apperrors.MapDBError(err))
	}

	s.logger.InfoContext(ctx, "job created",
		"job_id", job.ID,
		"kind", job.Kind,
		"source_org_id", job.SourceOrgID,
		"destination_org_id", job.DestinationOrgID,
	)
	s.cache.Put(ctx, job)
	s.publish(ctx, job, "create", "", requestActor(req))
	return job, nil
}

func requestActor(req *model.CreateJobRequest) string {
	if req.CreatedBy != nil && *req.CreatedBy != "" {
		return *req.CreatedBy
	}
	return model.ActorAPI
}

func (s *JobService) checkOrganizations(ctx context.Context, ids ...string) error {
	if s.orgs == nil {
		return nil
	}
	for _, id := range ids {
		org, err := s.orgs.GetByID(ctx, id)
		if errors.Is(err, core.ErrOrganizationNotFound) {
			return apperrors.ValidationField(fieldForOrg(ids, id), fmt.Sprintf("organization %s does not exist", id))
		}
		if err != nil {
			return fmt.Errorf("load organization %s: %w", id, err)
		}
		if !org.Active() {
			return apperrors.ValidationField(fieldForOrg(ids, id), fmt.Sprintf("organization %s is deleted", id))
		}
	}
	return nil
}

func fieldForOrg(ids []string, id string) string {
	if len(ids) > 0 && ids[0] == id {
		return "source_org_id"
	}
	return "destination_org_id"
}

// Get returns a job by kind and id.
func (s *JobService) Get(ctx context.Context, kind model.JobKind, id string) (*model.Job, error) {
	job, err := s.repo.GetByID(ctx, kind, id)
	if errors.Is(err, core.ErrJobNotFound) {
		return nil, apperrors.Wrapf(err, apperrors.ErrCodeNotFound, "%s job %s not found", kind, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// Status returns the client-facing status view, served from the cache when possible.
func (s *JobService) Status(ctx context.Context, kind model.JobKind, id string) (*model.JobStatusResponse, error) {
	if cached, ok := s.cache.Get(ctx, kind, id); ok {
		return cached, nil
	}
	job, err := s.Get(ctx, kind, id)
	if err != nil {
		return nil, err
	}
	s.cache.Put(ctx, job)
	resp := job.StatusResponse()
	return &resp, nil
}

// List returns jobs matching opts.
func (s *JobService) List(ctx context.Context, opts *model.JobListOptions) ([]*model.Job, error) {
	if opts == nil || !opts.Kind.Valid() {
		return nil, apperrors.ValidationField("kind", "kind must be transfer or import")
	}
	jobs, err := s.repo.List(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return jobs, nil
}

// ListByRecord returns the transfers of a medical record.
func (s *JobService) ListByRecord(ctx context.Context, recordID string, limit int) ([]*model.Job, error) {
	jobs, err := s.repo.ListByRecord(ctx, recordID, limit)
	if err != nil {
		return nil, fmt.Errorf("list transfers by record: %w", err)
	}
	return jobs, nil
}

// CountActive counts PENDING and PROCESSING jobs of kind involving orgID.
func (s *JobService) CountActive(ctx context.Context, kind model.JobKind, orgID string) (int, error) {
	n, err := s.repo.CountActive(ctx, kind, orgID)
	if err != nil {
		return 0, fmt.Errorf("count active jobs: %w", err)
	}
	return n, nil
}

// Stats returns per-status counts for kind.
func (s *JobService) Stats(ctx context.Context, kind model.JobKind) (*model.JobStats, error) {
	if !kind.Valid() {
		return nil, apperrors.ValidationField("kind", "kind must be transfer or import")
	}
	stats, err := s.repo.Stats(ctx, kind)
	if err != nil {
		return nil, fmt.Errorf("job stats: %w", err)
	}
	return stats, nil
}

// TransitionRequest describes one status change.
type TransitionRequest struct {
	Kind            model.JobKind
	ID              string
	ExpectedVersion int64
	Transition      lifecycle.Transition
	Actor           string
	Detail          string
	// Mutation carries the non-status fields written together with the transition.
	Mutation model.JobMutation
}

// Transition applies req atomically. The status change is decided by the lifecycle table
// from the stored status; the write only lands if the stored version still equals
// req.ExpectedVersion, otherwise core.ErrJobConflict is returned and nothing changes.
//
// When the write succeeds but its audit entry does not, the updated job is returned
// together with an *AuditWriteFailure.
func (s *JobService) Transition(ctx context.Context, req TransitionRequest) (*model.Job, error) {
	start := time.Now()
	cur, err := s.repo.GetByID(ctx, req.Kind, req.ID)
	if err != nil {
		return nil, s.transitionFailed(req, err, start)
	}
	if cur.Version != req.ExpectedVersion {
		return nil, s.transitionFailed(req, core.ErrJobConflict, start)
	}
	return s.apply(ctx, cur, req, start)
}

func (s *JobService) apply(ctx context.Context, cur *model.Job, req TransitionRequest, start time.Time) (*model.Job, error) {
	to, err := lifecycle.Next(cur.Kind, cur.Status, req.Transition)
	if err != nil {
		return nil, s.transitionFailed(req, err, start)
	}

	m := req.Mutation
	m.Status = &to
	if to.Terminal() {
		m.SetCompleted = true
		m.ClearLease = true
		m.LeaseFor = nil
	}
	if err := m.ValidateAgainst(cur); err != nil {
		return nil, s.transitionFailed(req, apperrors.Wrap(err, apperrors.ErrCodeValidation, "invalid job update"), start)
	}

	updated, err := s.repo.Update(ctx, cur.Kind, cur.ID, cur.Version, m)
	if err != nil {
		return nil, s.transitionFailed(req, err, start)
	}

	actor := req.Actor
	if actor == "" {
		actor = model.ActorUnknown
	}
	auditErr := s.audit.Record(ctx, updated, model.AuditEntry{
		Actor:      actor,
		Event:      model.AuditEventTransition,
		Transition: string(req.Transition),
		FromStatus: cur.Status,
		ToStatus:   to,
		Attempt:    updated.Attempts,
		Detail:     req.Detail,
	})

	s.logger.InfoContext(ctx, "job transitioned",
		"job_id", updated.ID,
		"kind", updated.Kind,
		"transition", req.Transition,
		"from_state", cur.Status,
		"to_state", to,
		"version", updated.Version,
		"actor", actor,
	)
	metrics.EmitJobLifecycle(s.metrics, metrics.JobMetric{
		Kind:       string(updated.Kind),
		Transition: string(req.Transition),
		Result:     metrics.ResultSuccess,
		Duration:   terminalDuration(updated),
	})
	s.cache.Put(ctx, updated)
	s.publish(ctx, updated, string(req.Transition), cur.Status, actor)
	if to == model.JobStatusFailed {
		s.notifyFailed(ctx, updated)
	}

	if auditErr != nil {
		return updated, auditErr
	}
	return updated, nil
}

func terminalDuration(job *model.Job) time.Duration {
	if job.CompletedAt == nil {
		return 0
	}
	return job.CompletedAt.Sub(job.CreatedAt)
}

func (s *JobService) transitionFailed(req TransitionRequest, err error, start time.Time) error {
	result := metrics.ResultError
	if errors.Is(err, core.ErrJobConflict) {
		result = metrics.ResultConflict
	}
	metrics.EmitJobLifecycle(s.metrics, metrics.JobMetric{
		Kind:       string(req.Kind),
		Transition: string(req.Transition),
		Result:     result,
		Err:        err,
	})
	s.logger.Debug("transition rejected",
		"job_id", req.ID,
		"kind", req.Kind,
		"transition", req.Transition,
		"elapsed", time.Since(start),
		"error", err,
	)
	return err
}

// Start claims a PENDING job for actor. Exactly one of several concurrent callers holding the
// same version succeeds; the others get core.ErrJobConflict.
func (s *JobService) Start(ctx context.Context, ref model.JobRef, actor string, lease time.Duration) (*model.Job, error) {
	m := model.JobMutation{Message: stringPtr("Job started")}
	if lease > 0 {
		m.LeaseFor = &lease
	}
	return s.Transition(ctx, TransitionRequest{
		Kind:            ref.Kind,
		ID:              ref.ID,
		ExpectedVersion: ref.Version,
		Transition:      lifecycle.Start,
		Actor:           actor,
		Mutation:        m,
	})
}

// Succeed completes a PROCESSING job owned by the caller.
func (s *JobService) Succeed(ctx context.Context, job *model.Job, actor string, m model.JobMutation) (*model.Job, error) {
	return s.Transition(ctx, TransitionRequest{
		Kind:            job.Kind,
		ID:              job.ID,
		ExpectedVersion: job.Version,
		Transition:      lifecycle.Succeed,
		Actor:           actor,
		Mutation:        m,
	})
}

// Fail moves a PROCESSING job to FAILED with details.
func (s *JobService) Fail(ctx context.Context, job *model.Job, actor string, details model.ErrorDetails, m model.JobMutation) (*model.Job, error) {
	if details.OccurredAt.IsZero() {
		details.OccurredAt = time.Now().UTC()
	}
	m.ErrorDetails = &details
	return s.Transition(ctx, TransitionRequest{
		Kind:            job.Kind,
		ID:              job.ID,
		ExpectedVersion: job.Version,
		Transition:      lifecycle.Fail,
		Actor:           actor,
		Detail:          details.Message,
		Mutation:        m,
	})
}

// Cancel moves an import job to CANCELLED from PENDING or PROCESSING. The caller holds no
// version, so lost races are retried against a fresh read.
func (s *JobService) Cancel(ctx context.Context, kind model.JobKind, id, actor string) (*model.Job, error) {
	var lastErr error
	for range maxCancelAttempts {
		start := time.Now()
		cur, err := s.repo.GetByID(ctx, kind, id)
		if errors.Is(err, core.ErrJobNotFound) {
			return nil, apperrors.Wrapf(err, apperrors.ErrCodeNotFound, "%s job %s not found", kind, id)
		}
		if err != nil {
			return nil, fmt.Errorf("load job for cancel: %w", err)
		}
		job, err := s.apply(ctx, cur, TransitionRequest{
			Kind:            kind,
			ID:              id,
			ExpectedVersion: cur.Version,
			Transition:      lifecycle.Cancel,
			Actor:           actor,
			Detail:          "cancelled by " + actor,
			Mutation:        model.JobMutation{Message: stringPtr("Job cancelled")},
		}, start)
		if !errors.Is(err, core.ErrJobConflict) {
			return job, err
		}
		lastErr = err
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
	}
	return nil, lastErr
}

// BeginAttempt records that the owner is about to run attempt n and renews the lease.
// It fails with ErrJobCancelled or ErrJobNotOwned when the job left PROCESSING.
func (s *JobService) BeginAttempt(ctx context.Context, job *model.Job, attempt int, lease time.Duration) (*model.Job, error) {
	m := model.JobMutation{Attempts: &attempt}
	if lease > 0 {
		m.LeaseFor = &lease
	}
	return s.ownerUpdate(ctx, job, m)
}

// ReportProgress stores progress counters for a PROCESSING job. Progress is advisory; it
// never changes status.
func (s *JobService) ReportProgress(ctx context.Context, job *model.Job, processed int, total *int, message string) (*model.Job, error) {
	m := model.JobMutation{RecordsProcessed: &processed, TotalRecords: total}
	if message != "" {
		m.Message = &message
	}
	updated, err := s.ownerUpdate(ctx, job, m)
	if err != nil {
		return nil, err
	}
	s.cache.Put(ctx, updated)
	return updated, nil
}

// ownerUpdate writes m on behalf of the dispatcher that owns job. Version races with
// heartbeat-free writers (cancel, reaper) resolve by re-reading: a job still PROCESSING is
// retried once at its new version.
func (s *JobService) ownerUpdate(ctx context.Context, job *model.Job, m model.JobMutation) (*model.Job, error) {
	cur := job
	for range 2 {
		if err := ownershipError(cur); err != nil {
			return nil, err
		}
		if err := m.ValidateAgainst(cur); err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeValidation, "invalid progress update")
		}
		updated, err := s.repo.Update(ctx, cur.Kind, cur.ID, cur.Version, m)
		if err == nil {
			return updated, nil
		}
		if !errors.Is(err, core.ErrJobConflict) {
			return nil, err
		}
		cur, err = s.repo.GetByID(ctx, job.Kind, job.ID)
		if err != nil {
			return nil, fmt.Errorf("reload job after conflict: %w", err)
		}
	}
	if err := ownershipError(cur); err != nil {
		return nil, err
	}
	return nil, core.ErrJobConflict
}

func ownershipError(job *model.Job) error {
	switch job.Status {
	case model.JobStatusProcessing:
		return nil
	case model.JobStatusCancelled:
		return ErrJobCancelled
	default:
		return fmt.Errorf("%w: status %s", ErrJobNotOwned, job.Status)
	}
}

// RecordAttemptFailure appends an attempt_failed entry for a retryable failure.
func (s *JobService) RecordAttemptFailure(ctx context.Context, job *model.Job, actor string, attempt int, cause error) error {
	metrics.EmitCount(s.metrics, metrics.JobAttemptFailed, string(job.Kind), map[string]string{
		"attempt": strconv.Itoa(attempt),
	})
	return s.audit.Record(ctx, job, model.AuditEntry{
		Actor:      actor,
		Event:      model.AuditEventAttemptFailed,
		FromStatus: job.Status,
		ToStatus:   job.Status,
		Attempt:    attempt,
		Detail:     cause.Error(),
	})
}

// Heartbeat extends the lease of a PROCESSING job. False means the caller lost the job.
func (s *JobService) Heartbeat(ctx context.Context, job *model.Job, lease time.Duration) (bool, error) {
	ok, err := s.repo.Heartbeat(ctx, job.Kind, job.ID, lease)
	if err != nil {
		return false, fmt.Errorf("heartbeat job %s: %w", job.ID, err)
	}
	return ok, nil
}

// ListPending returns claim candidates of kind.
func (s *JobService) ListPending(ctx context.Context, kind model.JobKind, limit int) ([]model.JobRef, error) {
	refs, err := s.repo.ListPending(ctx, kind, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending jobs: %w", err)
	}
	return refs, nil
}

// WaitForNotification blocks until a job of kind is created or ctx ends.
func (s *JobService) WaitForNotification(ctx context.Context, kind model.JobKind) error {
	return s.repo.WaitForNotification(ctx, kind)
}

// NotifyCallbackFailure reports an undeliverable completion callback. The job is unchanged.
func (s *JobService) NotifyCallbackFailure(ctx context.Context, job *model.Job, cause error) {
	metrics.EmitCount(s.metrics, metrics.CallbackDelivery, string(job.Kind), map[string]string{"result": metrics.ResultError})
	s.logger.WarnContext(ctx, "callback delivery failed",
		"signal", string(notify.SignalCallbackFailed),
		"job_id", job.ID,
		"kind", job.Kind,
		"error", cause,
	)
	s.notifier.Notify(ctx, notify.FailureEvent{
		Signal:           notify.SignalCallbackFailed,
		JobID:            job.ID,
		JobKind:          string(job.Kind),
		SourceOrgID:      job.SourceOrgID,
		DestinationOrgID: job.DestinationOrgID,
		Status:           string(job.Status),
		Error:            cause.Error(),
		Severity:         notify.SeverityWarning,
	})
}

func (s *JobService) notifyFailed(ctx context.Context, job *model.Job) {
	event := notify.FailureEvent{
		Signal:           notify.SignalJobFailed,
		JobID:            job.ID,
		JobKind:          string(job.Kind),
		SourceOrgID:      job.SourceOrgID,
		DestinationOrgID: job.DestinationOrgID,
		Status:           string(job.Status),
		Severity:         notify.SeverityCritical,
	}
	if d := job.ErrorDetails; d != nil {
		event.Error = d.Message
		event.ErrorClass = d.Code
		event.OccurredAt = d.OccurredAt
		event.Metadata = map[string]string{
			"attempts":  strconv.Itoa(d.Attempts),
			"retryable": strconv.FormatBool(d.Retryable),
		}
	}
	s.notifier.Notify(ctx, event)
}

func (s *JobService) publish(ctx context.Context, job *model.Job, transition string, from model.JobStatus, actor string) {
	if s.events == nil {
		return
	}
	event := model.JobEvent{
		JobID:            job.ID,
		Kind:             job.Kind,
		Transition:       transition,
		FromStatus:       from,
		ToStatus:         job.Status,
		SourceOrgID:      job.SourceOrgID,
		DestinationOrgID: job.DestinationOrgID,
		Version:          job.Version,
		Actor:            actor,
		OccurredAt:       job.UpdatedAt,
	}
	if err := s.events.PublishJobEvent(ctx, event); err != nil {
		s.logger.WarnContext(ctx, "publish job event failed", "job_id", job.ID, "transition", transition, "error", err)
	}
}

func stringPtr(s string) *string { return &s }

package testutil

import (
	"context"
	"errors"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/target/recordflow/internal/core"
	"github.com/target/recordflow/internal/domain/model"
)

var (
	_ core.JobRepository = (*MemJobStore)(nil)
	_ core.ReaperLocker  = (*MemJobStore)(nil)
)

// MemJobStore is an in-memory JobRepository that honours the same version contract as the
// Postgres store: Update is a single conditional write guarded by the expected version.
type MemJobStore struct {
	mu      sync.Mutex
	jobs    map[model.JobKind]map[string]*model.Job
	wake    map[model.JobKind]chan struct{}
	reaping map[model.JobKind]bool

	// Now overrides the store clock.
	Now func() time.Time
	// AuditErr, when it returns an error, fails the matching AppendAudit.
	AuditErr func(kind model.JobKind, id string, entry model.AuditEntry) error
	// BeforeUpdate runs before every Update with the lock released; an error aborts the write.
	BeforeUpdate func(kind model.JobKind, id string, m model.JobMutation) error
}

// NewMemJobStore creates an empty store.
func NewMemJobStore() *MemJobStore {
	s := &MemJobStore{
		jobs:    make(map[model.JobKind]map[string]*model.Job),
		wake:    make(map[model.JobKind]chan struct{}),
		reaping: make(map[model.JobKind]bool),
	}
	for _, k := range model.AllJobKinds() {
		s.jobs[k] = make(map[string]*model.Job)
		s.wake[k] = make(chan struct{})
	}
	return s
}

func (s *MemJobStore) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *MemJobStore) table(kind model.JobKind) (map[string]*model.Job, error) {
	t, ok := s.jobs[kind]
	if !ok {
		return nil, errors.New("invalid job kind")
	}
	return t, nil
}

// Create inserts a PENDING job at version 1.
func (s *MemJobStore) Create(_ context.Context, req *model.CreateJobRequest) (*model.Job, error) {
	if req == nil {
		return nil, errors.New("request is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.table(req.Kind)
	if err != nil {
		return nil, err
	}
	now := s.now()
	params := slices.Clone(req.Parameters)
	if len(params) == 0 {
		params = []byte(`{}`)
	}
	msg := "Job queued"
	job := &model.Job{
		ID:               uuid.NewString(),
		Kind:             req.Kind,
		SourceOrgID:      req.SourceOrgID,
		DestinationOrgID: req.DestinationOrgID,
		Status:           model.JobStatusPending,
		Parameters:       params,
		AuditLog:         []model.AuditEntry{},
		Message:          &msg,
		RecordID:         clonePtr(req.RecordID),
		CreatedBy:        clonePtr(req.CreatedBy),
		CallbackURL:      clonePtr(req.CallbackURL),
		IsAudited:        req.IsAudited || req.Kind == model.JobKindTransfer,
		Version:          1,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	t[job.ID] = job
	close(s.wake[req.Kind])
	s.wake[req.Kind] = make(chan struct{})
	return copyJob(job), nil
}

// Seed stores job verbatim, e.g. to start a test from PROCESSING.
func (s *MemJobStore) Seed(job *model.Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.Kind][job.ID] = copyJob(job)
}

// GetByID returns a copy of the job.
func (s *MemJobStore) GetByID(_ context.Context, kind model.JobKind, id string) (*model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.table(kind)
	if err != nil {
		return nil, err
	}
	job, ok := t[id]
	if !ok {
		return nil, core.ErrJobNotFound
	}
	return copyJob(job), nil
}

// MustGet returns the job or panics; for test assertions.
func (s *MemJobStore) MustGet(kind model.JobKind, id string) *model.Job {
	job, err := s.GetByID(context.Background(), kind, id)
	if err != nil {
		panic(err)
	}
	return job
}

// Update applies m when the stored version equals expectedVersion.
func (s *MemJobStore) Update(
	_ context.Context,
	kind model.JobKind,
	id string,
	expectedVersion int64,
	m model.JobMutation,
) (*model.Job, error) {
	if m.Empty() {
		return nil, errors.New("at least one field must be updated")
	}
	if m.LeaseFor != nil && m.ClearLease {
		return nil, errors.New("lease cannot be extended and cleared in one update")
	}
	if s.BeforeUpdate != nil {
		if err := s.BeforeUpdate(kind, id, m); err != nil {
			return nil, err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.table(kind)
	if err != nil {
		return nil, err
	}
	job, ok := t[id]
	if !ok {
		return nil, core.ErrJobNotFound
	}
	if job.Version != expectedVersion {
		return nil, core.ErrJobConflict
	}
	if m.Status != nil && job.Status.Terminal() && *m.Status != job.Status {
		return nil, errors.New("terminal status cannot change")
	}

	now := s.now()
	if m.Status != nil {
		job.Status = *m.Status
	}
	if m.Message != nil {
		job.Message = clonePtr(m.Message)
	}
	if m.ErrorDetails != nil {
		d := *m.ErrorDetails
		job.ErrorDetails = &d
	}
	if m.RecordsProcessed != nil {
		job.RecordsProcessed = *m.RecordsProcessed
	}
	if m.TotalRecords != nil {
		job.TotalRecords = clonePtr(m.TotalRecords)
	}
	if m.Attempts != nil {
		job.Attempts = *m.Attempts
	}
	if m.LeaseFor != nil {
		exp := now.Add(*m.LeaseFor)
		job.LeaseExpiresAt = &exp
	}
	if m.ClearLease {
		job.LeaseExpiresAt = nil
	}
	if m.SetCompleted && job.CompletedAt == nil {
		c := now
		job.CompletedAt = &c
	}
	job.Version++
	if now.After(job.UpdatedAt) {
		job.UpdatedAt = now
	}
	return copyJob(job), nil
}

// AppendAudit appends entry without bumping the version.
func (s *MemJobStore) AppendAudit(_ context.Context, kind model.JobKind, id string, entry model.AuditEntry) error {
	if s.AuditErr != nil {
		if err := s.AuditErr(kind, id, entry); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.table(kind)
	if err != nil {
		return err
	}
	job, ok := t[id]
	if !ok {
		return core.ErrJobNotFound
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = s.now()
	}
	job.AuditLog = append(job.AuditLog, entry)
	return nil
}

// Heartbeat extends the lease of a PROCESSING job.
func (s *MemJobStore) Heartbeat(_ context.Context, kind model.JobKind, id string, lease time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.table(kind)
	if err != nil {
		return false, err
	}
	job, ok := t[id]
	if !ok || job.Status != model.JobStatusProcessing {
		return false, nil
	}
	exp := s.now().Add(lease)
	job.LeaseExpiresAt = &exp
	return true, nil
}

// ListPending returns PENDING jobs oldest first.
func (s *MemJobStore) ListPending(_ context.Context, kind model.JobKind, limit int) ([]model.JobRef, error) {
	jobs, err := s.filter(kind, func(j *model.Job) bool { return j.Status == model.JobStatusPending })
	if err != nil {
		return nil, err
	}
	sort.Slice(jobs, func(i, k int) bool { return jobs[i].CreatedAt.Before(jobs[k].CreatedAt) })
	if limit > 0 && len(jobs) > limit {
		jobs = jobs[:limit]
	}
	refs := make([]model.JobRef, len(jobs))
	for i, j := range jobs {
		refs[i] = j.Ref()
	}
	return refs, nil
}

// List returns jobs matching opts, newest first.
func (s *MemJobStore) List(_ context.Context, opts *model.JobListOptions) ([]*model.Job, error) {
	if opts == nil {
		return nil, errors.New("list options are required")
	}
	jobs, err := s.filter(opts.Kind, func(j *model.Job) bool {
		if opts.OrganizationID != nil && j.SourceOrgID != *opts.OrganizationID && j.DestinationOrgID != *opts.OrganizationID {
			return false
		}
		if opts.RecordID != nil && (j.RecordID == nil || *j.RecordID != *opts.RecordID) {
			return false
		}
		return opts.Status == nil || j.Status == *opts.Status
	})
	if err != nil {
		return nil, err
	}
	sortNewestFirst(jobs)
	return page(jobs, opts.Limit, opts.Offset), nil
}

// ListByRecord returns transfers of recordID, newest first.
func (s *MemJobStore) ListByRecord(ctx context.Context, recordID string, limit int) ([]*model.Job, error) {
	return s.List(ctx, &model.JobListOptions{Kind: model.JobKindTransfer, RecordID: &recordID, Limit: limit})
}

// CountActive counts PENDING and PROCESSING jobs involving orgID.
func (s *MemJobStore) CountActive(_ context.Context, kind model.JobKind, orgID string) (int, error) {
	jobs, err := s.filter(kind, func(j *model.Job) bool {
		active := j.Status == model.JobStatusPending || j.Status == model.JobStatusProcessing
		return active && (j.SourceOrgID == orgID || j.DestinationOrgID == orgID)
	})
	return len(jobs), err
}

// Stats counts jobs per status.
func (s *MemJobStore) Stats(_ context.Context, kind model.JobKind) (*model.JobStats, error) {
	jobs, err := s.filter(kind, func(*model.Job) bool { return true })
	if err != nil {
		return nil, err
	}
	stats := &model.JobStats{Kind: kind}
	for _, j := range jobs {
		switch j.Status {
		case model.JobStatusPending:
			stats.Pending++
		case model.JobStatusProcessing:
			stats.Processing++
		case model.JobStatusCompleted:
			stats.Completed++
		case model.JobStatusFailed:
			stats.Failed++
		case model.JobStatusCancelled:
			stats.Cancelled++
		}
	}
	return stats, nil
}

// ListExpiredLeases returns PROCESSING jobs whose lease lapsed.
func (s *MemJobStore) ListExpiredLeases(_ context.Context, kind model.JobKind, limit int) ([]*model.Job, error) {
	now := s.now()
	jobs, err := s.filter(kind, func(j *model.Job) bool {
		return j.Status == model.JobStatusProcessing && (j.LeaseExpiresAt == nil || j.LeaseExpiresAt.Before(now))
	})
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs, nil
}

// WaitForNotification blocks until a job of kind is created or ctx ends.
func (s *MemJobStore) WaitForNotification(ctx context.Context, kind model.JobKind) error {
	s.mu.Lock()
	ch, ok := s.wake[kind]
	s.mu.Unlock()
	if !ok {
		return errors.New("invalid job kind")
	}
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WithReaperLock runs fn unless another sweep of kind is in progress.
func (s *MemJobStore) WithReaperLock(ctx context.Context, kind model.JobKind, fn func(ctx context.Context) error) (bool, error) {
	s.mu.Lock()
	if s.reaping[kind] {
		s.mu.Unlock()
		return false, nil
	}
	s.reaping[kind] = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.reaping[kind] = false
		s.mu.Unlock()
	}()
	return true, fn(ctx)
}

func (s *MemJobStore) filter(kind model.JobKind, keep func(*model.Job) bool) ([]*model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.table(kind)
	if err != nil {
		return nil, err
	}
	var out []*model.Job
	for _, j := range t {
		if keep(j) {
			out = append(out, copyJob(j))
		}
	}
	return out, nil
}

func sortNewestFirst(jobs []*model.Job) {
	sort.Slice(jobs, func(i, k int) bool {
		if jobs[i].CreatedAt.Equal(jobs[k].CreatedAt) {
			return strings.Compare(jobs[i].ID, jobs[k].ID) > 0
		}
		return jobs[i].CreatedAt.After(jobs[k].CreatedAt)
	})
}

func page(jobs []*model.Job, limit, offset int) []*model.Job {
	if offset >= len(jobs) {
		return []*model.Job{}
	}
	jobs = jobs[offset:]
	if limit > 0 && len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs
}

func copyJob(j *model.Job) *model.Job {
	cp := *j
	cp.Parameters = slices.Clone(j.Parameters)
	cp.AuditLog = slices.Clone(j.AuditLog)
	if j.ErrorDetails != nil {
		d := *j.ErrorDetails
		cp.ErrorDetails = &d
	}
	cp.Message = clonePtr(j.Message)
	cp.RecordID = clonePtr(j.RecordID)
	cp.CreatedBy = clonePtr(j.CreatedBy)
	cp.CallbackURL = clonePtr(j.CallbackURL)
	cp.TotalRecords = clonePtr(j.TotalRecords)
	cp.LeaseExpiresAt = clonePtr(j.LeaseExpiresAt)
	cp.CompletedAt = clonePtr(j.CompletedAt)
	return &cp
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

package core

import (
	"context"
	"time"

	"github.com/target/recordflow/internal/domain/model"
)

// This file contains repository interface definitions (ports in hexagonal architecture).
// Services depend on these interfaces; internal/data provides the Postgres implementations.

// JobRepository defines the versioned store for transfer and import jobs.
//
// Update is the only way to change a job's status and must be a single atomic conditional
// write: it succeeds only if the stored version equals expectedVersion, and it returns
// ErrJobConflict otherwise.
type JobRepository interface {
	Create(ctx context.Context, req *model.CreateJobRequest) (*model.Job, error)
	GetByID(ctx context.Context, kind model.JobKind, id string) (*model.Job, error)
	Update(ctx context.Context, kind model.JobKind, id string, expectedVersion int64, mutation model.JobMutation) (*model.Job, error)
	AppendAudit(ctx context.Context, kind model.JobKind, id string, entry model.AuditEntry) error
	Heartbeat(ctx context.Context, kind model.JobKind, id string, lease time.Duration) (bool, error)
	ListPending(ctx context.Context, kind model.JobKind, limit int) ([]model.JobRef, error)
	List(ctx context.Context, opts *model.JobListOptions) ([]*model.Job, error)
	ListByRecord(ctx context.Context, recordID string, limit int) ([]*model.Job, error)
	CountActive(ctx context.Context, kind model.JobKind, orgID string) (int, error)
	Stats(ctx context.Context, kind model.JobKind) (*model.JobStats, error)
	ListExpiredLeases(ctx context.Context, kind model.JobKind, limit int) ([]*model.Job, error)
	WaitForNotification(ctx context.Context, kind model.JobKind) error
}

// ReaperLocker serializes lease-expiry sweeps across replicas.
type ReaperLocker interface {
	WithReaperLock(ctx context.Context, kind model.JobKind, fn func(ctx context.Context) error) (bool, error)
}

// OrganizationRepository defines the interface for organization lookups.
type OrganizationRepository interface {
	Create(ctx context.Context, req *model.CreateOrganizationRequest) (*model.Organization, error)
	GetByID(ctx context.Context, id string) (*model.Organization, error)
}

// MedicalRecordRepository defines the interface for medical record storage.
type MedicalRecordRepository interface {
	GetByID(ctx context.Context, id string) (*model.MedicalRecord, error)
	Insert(ctx context.Context, rec model.NewMedicalRecord) (bool, error)
	InsertBatch(ctx context.Context, recs []model.NewMedicalRecord) (int, error)
	ListByOrganization(ctx context.Context, orgID string, limit, offset int) ([]*model.MedicalRecord, error)
}

// EventPublisher broadcasts job lifecycle events to other systems. Publishing is best-effort.
type EventPublisher interface {
	PublishJobEvent(ctx context.Context, event model.JobEvent) error
}

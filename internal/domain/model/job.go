// Package model defines the core data types shared by the recordflow job lifecycle.
package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// JobKind discriminates the two job variants stored by the service.
//
//nolint:recvcheck // UnmarshalText needs pointer receiver, Valid needs value receiver
type JobKind string

// JobStatus represents the current status of a job.
type JobStatus string

const (
	// JobKindTransfer moves a single medical record from one organization to another.
	JobKindTransfer JobKind = "transfer"
	// JobKindImport ingests a batch of records into the destination organization.
	JobKindImport JobKind = "import"

	// JobStatusPending indicates a job is waiting to be claimed by a dispatcher.
	JobStatusPending JobStatus = "PENDING"
	// JobStatusProcessing indicates a dispatcher owns the job and is executing it.
	JobStatusProcessing JobStatus = "PROCESSING"
	// JobStatusCompleted indicates the action finished successfully.
	JobStatusCompleted JobStatus = "COMPLETED"
	// JobStatusFailed indicates the action failed permanently.
	JobStatusFailed JobStatus = "FAILED"
	// JobStatusCancelled indicates an import job was cancelled by an external actor.
	JobStatusCancelled JobStatus = "CANCELLED"
)

// AllJobKinds lists every supported job kind in a stable order.
func AllJobKinds() []JobKind {
	return []JobKind{JobKindTransfer, JobKindImport}
}

// UnmarshalText implements encoding.TextUnmarshaler for JobKind to allow env parsing.
func (k *JobKind) UnmarshalText(text []byte) error {
	v := strings.ToLower(strings.TrimSpace(string(text)))
	jk := JobKind(v)
	if jk.Valid() {
		*k = jk
		return nil
	}
	return fmt.Errorf("invalid JobKind: %q", v)
}

// Valid returns true if the JobKind is valid.
func (k JobKind) Valid() bool {
	return k == JobKindTransfer || k == JobKindImport
}

// Table returns the table that stores jobs of this kind.
func (k JobKind) Table() string {
	if k == JobKindImport {
		return "import_jobs"
	}
	return "transfer_logs"
}

// Valid returns true if the JobStatus is valid.
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusPending, JobStatusProcessing, JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// Terminal reports whether no further transition may leave this status.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// ParseJobStatus normalizes user input into a JobStatus.
func ParseJobStatus(raw string) (JobStatus, error) {
	s := JobStatus(strings.ToUpper(strings.TrimSpace(raw)))
	if !s.Valid() {
		return "", fmt.Errorf("invalid job status: %q", raw)
	}
	return s, nil
}

var (
	// ErrNoJobsAvailable is returned when no pending job could be claimed.
	ErrNoJobsAvailable = errors.New("no jobs available")
	// ErrSameOrganization is returned when a job names the same source and destination.
	ErrSameOrganization = errors.New("source and destination organizations must differ")
)

// Job is a single transfer or import job row.
type Job struct {
	ID               string          `json:"id"                          db:"id"`
	Kind             JobKind         `json:"kind"                        db:"kind"`
	SourceOrgID      string          `json:"source_org_id"               db:"source_org_id"`
	DestinationOrgID string          `json:"destination_org_id"          db:"destination_org_id"`
	Status           JobStatus       `json:"status"                      db:"status"`
	Parameters       json.RawMessage `json:"parameters"                  db:"parameters"`
	AuditLog         []AuditEntry    `json:"audit_log"                   db:"audit_log"`
	ErrorDetails     *ErrorDetails   `json:"error_details,omitempty"     db:"error_details"`
	Message          *string         `json:"message,omitempty"           db:"message"`
	RecordID         *string         `json:"record_id,omitempty"         db:"record_id"`
	CreatedBy        *string         `json:"created_by,omitempty"        db:"created_by"`
	CallbackURL      *string         `json:"callback_url,omitempty"      db:"callback_url"`
	RecordsProcessed int             `json:"records_processed"           db:"records_processed"`
	TotalRecords     *int            `json:"total_records,omitempty"     db:"total_records"`
	IsAudited        bool            `json:"is_audited"                  db:"is_audited"`
	Attempts         int             `json:"attempts"                    db:"attempts"`
	Version          int64           `json:"version"                     db:"version"`
	LeaseExpiresAt   *time.Time      `json:"lease_expires_at,omitempty"  db:"lease_expires_at"`
	CreatedAt        time.Time       `json:"created_at"                  db:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"                  db:"updated_at"`
	CompletedAt      *time.Time      `json:"completed_at,omitempty"      db:"completed_at"`
}

// Ref returns the lightweight handle used when claiming a job.
func (j *Job) Ref() JobRef {
	return JobRef{ID: j.ID, Kind: j.Kind, Version: j.Version, CreatedAt: j.CreatedAt}
}

// JobRef identifies a job at a specific version.
type JobRef struct {
	ID        string    `json:"id"         db:"id"`
	Kind      JobKind   `json:"kind"       db:"kind"`
	Version   int64     `json:"version"    db:"version"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// CreateJobRequest represents a request to create a new job.
type CreateJobRequest struct {
	Kind             JobKind         `json:"kind"`
	SourceOrgID      string          `json:"source_org_id"`
	DestinationOrgID string          `json:"destination_org_id"`
	Parameters       json.RawMessage `json:"parameters"`
	RecordID         *string         `json:"record_id,omitempty"`
	CreatedBy        *string         `json:"created_by,omitempty"`
	CallbackURL      *string         `json:"callback_url,omitempty"`
	IsAudited        bool            `json:"is_audited,omitempty"`
}

// Validate validates the CreateJobRequest fields.
func (r *CreateJobRequest) Validate() error {
	if !r.Kind.Valid() {
		return errors.New("invalid job kind")
	}
	if err := validateUUIDField("source_org_id", r.SourceOrgID); err != nil {
		return err
	}
	if err := validateUUIDField("destination_org_id", r.DestinationOrgID); err != nil {
		return err
	}
	if r.Kind == JobKindTransfer {
		if r.RecordID == nil {
			return errors.New("record_id is required and cannot be empty")
		}
		if err := validateUUIDField("record_id", *r.RecordID); err != nil {
			return err
		}
	}
	if r.CallbackURL != nil {
		if err := validateCallbackURL(*r.CallbackURL); err != nil {
			return fmt.Errorf("callback_url: %w", err)
		}
	}
	if _, err := DecodeParameters(r.Kind, r.Parameters); err != nil {
		return err
	}
	return nil
}

// SameOrganization reports whether source and destination name the same organization.
func (r *CreateJobRequest) SameOrganization() bool {
	return strings.EqualFold(strings.TrimSpace(r.SourceOrgID), strings.TrimSpace(r.DestinationOrgID))
}

func validateUUIDField(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%s is required and cannot be empty", field)
	}
	if _, err := uuid.Parse(value); err != nil {
		return fmt.Errorf("%s must be a valid UUID", field)
	}
	return nil
}

// JobMutation describes the fields a single Update may change. Nil fields are left untouched.
type JobMutation struct {
	Status           *JobStatus
	Message          *string
	ErrorDetails     *ErrorDetails
	RecordsProcessed *int
	TotalRecords     *int
	Attempts         *int
	// LeaseFor extends the ownership lease to now()+LeaseFor on the database clock.
	LeaseFor   *time.Duration
	ClearLease bool
	// SetCompleted stamps completed_at with the server clock; ignored once completed_at is set.
	SetCompleted bool
}

// Empty reports whether the mutation changes nothing.
func (m JobMutation) Empty() bool {
	return m.Status == nil && m.Message == nil && m.ErrorDetails == nil &&
		m.RecordsProcessed == nil && m.TotalRecords == nil && m.Attempts == nil &&
		m.LeaseFor == nil && !m.ClearLease && !m.SetCompleted
}

// ValidateAgainst checks progress counters against the current row.
func (m JobMutation) ValidateAgainst(cur *Job) error {
	if m.Empty() {
		return errors.New("at least one field must be updated")
	}
	total := cur.TotalRecords
	if m.TotalRecords != nil {
		if *m.TotalRecords < 0 {
			return errors.New("total_records must be non-negative")
		}
		if total != nil && *m.TotalRecords < *total {
			return fmt.Errorf("total_records cannot decrease from %d to %d", *total, *m.TotalRecords)
		}
		total = m.TotalRecords
	}
	processed := cur.RecordsProcessed
	if m.RecordsProcessed != nil {
		if *m.RecordsProcessed < processed {
			return fmt.Errorf("records_processed cannot decrease from %d to %d", processed, *m.RecordsProcessed)
		}
		processed = *m.RecordsProcessed
	}
	if total != nil && processed > *total {
		return fmt.Errorf("records_processed %d cannot exceed total_records %d", processed, *total)
	}
	return nil
}

// JobStats represents counts of jobs per status.
type JobStats struct {
	Kind       JobKind `json:"kind"`
	Pending    int     `json:"pending"`
	Processing int     `json:"processing"`
	Completed  int     `json:"completed"`
	Failed     int     `json:"failed"`
	Cancelled  int     `json:"cancelled"`
}

// JobStatusResponse is the client-facing view of a job's progress.
type JobStatusResponse struct {
	ID               string        `json:"id"`
	Kind             JobKind       `json:"kind"`
	Status           JobStatus     `json:"status"`
	Message          *string       `json:"message,omitempty"`
	RecordsProcessed int           `json:"records_processed"`
	TotalRecords     *int          `json:"total_records,omitempty"`
	ErrorDetails     *ErrorDetails `json:"error_details,omitempty"`
	CreatedAt        time.Time     `json:"created_at"`
	UpdatedAt        time.Time     `json:"updated_at"`
	CompletedAt      *time.Time    `json:"completed_at,omitempty"`
}

// StatusResponse builds the client-facing status view.
func (j *Job) StatusResponse() JobStatusResponse {
	return JobStatusResponse{
		ID:               j.ID,
		Kind:             j.Kind,
		Status:           j.Status,
		Message:          j.Message,
		RecordsProcessed: j.RecordsProcessed,
		TotalRecords:     j.TotalRecords,
		ErrorDetails:     j.ErrorDetails,
		CreatedAt:        j.CreatedAt,
		UpdatedAt:        j.UpdatedAt,
		CompletedAt:      j.CompletedAt,
	}
}

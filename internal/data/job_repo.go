package data

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/target/recordflow/internal/domain/model"
)

// RepoConfig holds configuration options for the job repository.
type RepoConfig struct {
	Logger       *slog.Logger
	TimeProvider TimeProvider
}

// JobRepo stores transfer and import jobs. Each kind lives in its own table with an
// identical column layout, so one scanner serves both.
type JobRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
	logger       *slog.Logger
}

// NewJobRepo creates a new JobRepo instance with the given database connection and configuration.
func NewJobRepo(db *sql.DB, cfg RepoConfig) *JobRepo {
	tp := cfg.TimeProvider
	if tp == nil {
		tp = RealTimeProvider{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &JobRepo{
		DB:           db,
		timeProvider: tp,
		logger:       logger.With("component", "job_repo"),
	}
}

const jobColumns = `
  id,
  source_org_id,
  destination_org_id,
  status,
  parameters,
  audit_log,
  error_details,
  message,
  record_id,
  created_by,
  callback_url,
  records_processed,
  total_records,
  is_audited,
  attempts,
  version,
  lease_expires_at,
  created_at,
  updated_at,
  completed_at`

// tableFor resolves the table of a kind, rejecting unknown kinds before any SQL is built.
func tableFor(kind model.JobKind) (string, error) {
	if !kind.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidKind, kind)
	}
	return kind.Table(), nil
}

// validID reports whether id can possibly address a row; malformed ids are treated as unknown.
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

func notifyChannel(kind model.JobKind) string {
	return "job_added_" + string(kind)
}

type rowScanner interface {
	Scan(dest ...any) error
}

type jobRowData struct {
	parameters, auditLog, errorDetails     []byte
	message, recordID, createdBy, callback sql.NullString
	totalRecords                           sql.NullInt64
	leaseExpiresAt, completedAt            sql.NullTime
}

func (d *jobRowData) scanInto(scanner rowScanner, job *model.Job) error {
	return scanner.Scan(
		&job.ID,
		&job.SourceOrgID,
		&job.DestinationOrgID,
		&job.Status,
		&d.parameters,
		&d.auditLog,
		&d.errorDetails,
		&d.message,
		&d.recordID,
		&d.createdBy,
		&d.callback,
		&job.RecordsProcessed,
		&d.totalRecords,
		&job.IsAudited,
		&job.Attempts,
		&job.Version,
		&d.leaseExpiresAt,
		&job.CreatedAt,
		&job.UpdatedAt,
		&d.completedAt,
	)
}

func (d *jobRowData) apply(job *model.Job) error {
	job.Parameters = cloneJSON(d.parameters)
	job.AuditLog = []model.AuditEntry{}
	if len(d.auditLog) > 0 {
		if err := json.Unmarshal(d.auditLog, &job.AuditLog); err != nil {
			return fmt.Errorf("decode audit_log: %w", err)
		}
	}
	if len(d.errorDetails) > 0 && string(d.errorDetails) != "null" {
		var details model.ErrorDetails
		if err := json.Unmarshal(d.errorDetails, &details); err != nil {
			return fmt.Errorf("decode error_details: %w", err)
		}
		job.ErrorDetails = &details
	}
	job.Message = cloneNullableString(d.message)
	job.RecordID = cloneNullableString(d.recordID)
	job.CreatedBy = cloneNullableString(d.createdBy)
	job.CallbackURL = cloneNullableString(d.callback)
	if d.totalRecords.Valid {
		n := int(d.totalRecords.Int64)
		job.TotalRecords = &n
	}
	job.LeaseExpiresAt = cloneNullableTime(d.leaseExpiresAt)
	job.CompletedAt = cloneNullableTime(d.completedAt)
	job.CreatedAt = job.CreatedAt.UTC()
	job.UpdatedAt = job.UpdatedAt.UTC()
	return nil
}

func scanJob(scanner rowScanner, kind model.JobKind) (*model.Job, error) {
	job := &model.Job{Kind: kind}
	var data jobRowData
	if err := data.scanInto(scanner, job); err != nil {
		return nil, err
	}
	if err := data.apply(job); err != nil {
		return nil, err
	}
	return job, nil
}

func cloneJSON(raw []byte) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage(`{}`)
	}
	return append(json.RawMessage(nil), raw...)
}

func cloneNullableString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func cloneNullableTime(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}

func nullableString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

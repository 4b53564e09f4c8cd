package data

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/target/recordflow/internal/domain/model"
)

var jobColumnNames = []string{
	"id", "source_org_id", "destination_org_id", "status", "parameters", "audit_log",
	"error_details", "message", "record_id", "created_by", "callback_url",
	"records_processed", "total_records", "is_audited", "attempts", "version",
	"lease_expires_at", "created_at", "updated_at", "completed_at",
}

func newMockRepo(t *testing.T) (*JobRepo, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		_ = db.Close()
	})
	return NewJobRepo(db, RepoConfig{
		TimeProvider: NewFixedTimeProvider(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)),
	}), mock
}

func jobRows(id string, status model.JobStatus, version int64) *sqlmock.Rows {
	created := time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC)
	return sqlmock.NewRows(jobColumnNames).AddRow(
		id, uuid.NewString(), uuid.NewString(), string(status),
		[]byte(`{"format":"json"}`), []byte(`[]`), nil,
		"Job queued", nil, nil, nil,
		0, nil, true, 0, version,
		nil, created, created, nil,
	)
}

// auditArg matches the JSON-encoded audit entry argument.
type auditArg struct {
	check func(model.AuditEntry) bool
}

func (a auditArg) Match(v driver.Value) bool {
	raw, ok := v.([]byte)
	if !ok {
		return false
	}
	var entry model.AuditEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return false
	}
	return a.check(entry)
}

func TestJobRepo_Update_VersionGuard(t *testing.T) {
	id := uuid.NewString()
	status := model.JobStatusProcessing
	lease := 30 * time.Second
	mutation := model.JobMutation{Status: &status, LeaseFor: &lease}
	updateSQL := `UPDATE transfer_logs\s+SET status = \$3,\s+lease_expires_at = now\(\) \+ make_interval\(secs => \$4\)`

	t.Run("matching version returns the bumped row", func(t *testing.T) {
		repo, mock := newMockRepo(t)
		mock.ExpectQuery(updateSQL).
			WithArgs(id, int64(1), "PROCESSING", 30.0).
			WillReturnRows(jobRows(id, model.JobStatusProcessing, 2))

		job, err := repo.Update(context.Background(), model.JobKindTransfer, id, 1, mutation)
		require.NoError(t, err)
		assert.Equal(t, int64(2), job.Version)
		assert.Equal(t, model.JobStatusProcessing, job.Status)
		assert.Equal(t, model.JobKindTransfer, job.Kind)
		assert.Empty(t, job.AuditLog)
	})

	t.Run("stale version is a conflict", func(t *testing.T) {
		repo, mock := newMockRepo(t)
		mock.ExpectQuery(updateSQL).
			WithArgs(id, int64(1), "PROCESSING", 30.0).
			WillReturnRows(sqlmock.NewRows(jobColumnNames))
		mock.ExpectQuery(regexp.QuoteMeta(`SELECT EXISTS(SELECT 1 FROM transfer_logs WHERE id = $1)`)).
			WithArgs(id).
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

		_, err := repo.Update(context.Background(), model.JobKindTransfer, id, 1, mutation)
		require.ErrorIs(t, err, ErrJobConflict)
	})

	t.Run("missing row is not found", func(t *testing.T) {
		repo, mock := newMockRepo(t)
		mock.ExpectQuery(updateSQL).
			WillReturnRows(sqlmock.NewRows(jobColumnNames))
		mock.ExpectQuery(`SELECT EXISTS`).
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

		_, err := repo.Update(context.Background(), model.JobKindTransfer, id, 1, mutation)
		require.ErrorIs(t, err, ErrJobNotFound)
	})

	t.Run("malformed id never reaches the database", func(t *testing.T) {
		repo, _ := newMockRepo(t)
		_, err := repo.Update(context.Background(), model.JobKindTransfer, "not-a-uuid", 1, mutation)
		require.ErrorIs(t, err, ErrJobNotFound)
	})

	t.Run("unknown kind is rejected", func(t *testing.T) {
		repo, _ := newMockRepo(t)
		_, err := repo.Update(context.Background(), model.JobKind("export"), id, 1, mutation)
		require.ErrorIs(t, err, ErrInvalidKind)
	})
}

func TestBuildJobUpdate(t *testing.T) {
	id := uuid.NewString()
	failed := model.JobStatusFailed
	bogus := model.JobStatus("PAUSED")
	msg := "Import failed: upstream unavailable"
	processed, total := 40, 50
	lease := time.Minute
	zero := time.Duration(0)

	tests := []struct {
		name     string
		mutation model.JobMutation
		wantErr  string
		contains []string
		args     int
	}{
		{
			name: "terminal failure",
			mutation: model.JobMutation{
				Status:       &failed,
				Message:      &msg,
				ErrorDetails: &model.ErrorDetails{Code: model.ErrorCodeRetriesExhausted, Retryable: true},
				ClearLease:   true,
				SetCompleted: true,
			},
			contains: []string{
				"status = $3", "message = $4", "error_details = $5::jsonb",
				"lease_expires_at = NULL", "completed_at = COALESCE(completed_at, now())",
				"version = version + 1", "WHERE id = $1 AND version = $2",
			},
			args: 5,
		},
		{
			name:     "progress only",
			mutation: model.JobMutation{RecordsProcessed: &processed, TotalRecords: &total},
			contains: []string{"records_processed = $3", "total_records = $4"},
			args:     4,
		},
		{
			name:     "lease extension",
			mutation: model.JobMutation{LeaseFor: &lease},
			contains: []string{"lease_expires_at = now() + make_interval(secs => $3)"},
			args:     3,
		},
		{name: "empty mutation", mutation: model.JobMutation{}, wantErr: "at least one field"},
		{name: "invalid status", mutation: model.JobMutation{Status: &bogus}, wantErr: "invalid job status"},
		{name: "non-positive lease", mutation: model.JobMutation{LeaseFor: &zero}, wantErr: "lease duration must be positive"},
		{
			name:     "extend and clear",
			mutation: model.JobMutation{LeaseFor: &lease, ClearLease: true},
			wantErr:  "cannot be extended and cleared",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			query, args, err := buildJobUpdate("import_jobs", id, 7, tt.mutation)
			if tt.wantErr != "" {
				require.ErrorContains(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			for _, fragment := range tt.contains {
				assert.Contains(t, query, fragment)
			}
			require.Len(t, args, tt.args)
			assert.Equal(t, id, args[0])
			assert.Equal(t, int64(7), args[1])
		})
	}
}

func TestJobRepo_Create(t *testing.T) {
	repo, mock := newMockRepo(t)
	id := uuid.NewString()
	req := &model.CreateJobRequest{
		Kind:             model.JobKindImport,
		SourceOrgID:      uuid.NewString(),
		DestinationOrgID: uuid.NewString(),
		Parameters:       json.RawMessage(`{"records":[{"patient_id":"p1","record_data":{"a":1}}]}`),
	}

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO import_jobs`).
		WithArgs(req.SourceOrgID, req.DestinationOrgID, model.JobStatusPending, []byte(req.Parameters),
			initialJobMessage, nil, nil, nil, false).
		WillReturnRows(jobRows(id, model.JobStatusPending, 1))
	mock.ExpectExec(regexp.QuoteMeta(`SELECT pg_notify($1::text, $2::text)`)).
		WithArgs("job_added_import", id).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	job, err := repo.Create(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, id, job.ID)
	assert.Equal(t, int64(1), job.Version)
	assert.Equal(t, model.JobStatusPending, job.Status)
}

func TestJobRepo_Create_RollsBackWhenNotifyFails(t *testing.T) {
	repo, mock := newMockRepo(t)
	id := uuid.NewString()
	req := &model.CreateJobRequest{
		Kind:             model.JobKindImport,
		SourceOrgID:      uuid.NewString(),
		DestinationOrgID: uuid.NewString(),
		Parameters:       json.RawMessage(`{"source_url":"https://ehr.example.com/export"}`),
	}

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO import_jobs`).WillReturnRows(jobRows(id, model.JobStatusPending, 1))
	mock.ExpectExec(`pg_notify`).WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	_, err := repo.Create(context.Background(), req)
	require.ErrorContains(t, err, "send job notification")
}

func TestJobRepo_Create_ValidatesBeforeSQL(t *testing.T) {
	repo, _ := newMockRepo(t)
	_, err := repo.Create(context.Background(), &model.CreateJobRequest{
		Kind:             model.JobKindTransfer,
		SourceOrgID:      uuid.NewString(),
		DestinationOrgID: uuid.NewString(),
	})
	require.ErrorContains(t, err, "record_id")
}

func TestJobRepo_AppendAudit(t *testing.T) {
	id := uuid.NewString()
	appendSQL := `UPDATE import_jobs\s+SET audit_log = audit_log \|\| jsonb_build_array\(\$2::jsonb\)`

	t.Run("stamps missing timestamps and appends", func(t *testing.T) {
		repo, mock := newMockRepo(t)
		mock.ExpectExec(appendSQL).
			WithArgs(id, auditArg{check: func(e model.AuditEntry) bool {
				return e.Actor == "dispatcher:w1" && e.Timestamp.Equal(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
			}}).
			WillReturnResult(sqlmock.NewResult(0, 1))

		err := repo.AppendAudit(context.Background(), model.JobKindImport, id, model.AuditEntry{
			Actor:      "dispatcher:w1",
			Event:      model.AuditEventTransition,
			FromStatus: model.JobStatusPending,
			ToStatus:   model.JobStatusProcessing,
		})
		require.NoError(t, err)
	})

	t.Run("missing job", func(t *testing.T) {
		repo, mock := newMockRepo(t)
		mock.ExpectExec(appendSQL).WillReturnResult(sqlmock.NewResult(0, 0))

		err := repo.AppendAudit(context.Background(), model.JobKindImport, id, model.AuditEntry{Actor: "api"})
		require.ErrorIs(t, err, ErrJobNotFound)
	})
}

func TestJobRepo_Heartbeat(t *testing.T) {
	id := uuid.NewString()
	heartbeatSQL := `UPDATE transfer_logs\s+SET lease_expires_at = now\(\) \+ make_interval\(secs => \$2\)`

	tests := []struct {
		name     string
		affected int64
		want     bool
	}{
		{name: "processing job is extended", affected: 1, want: true},
		{name: "job left processing", affected: 0, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, mock := newMockRepo(t)
			mock.ExpectExec(heartbeatSQL).
				WithArgs(id, 15.0).
				WillReturnResult(sqlmock.NewResult(0, tt.affected))

			ok, err := repo.Heartbeat(context.Background(), model.JobKindTransfer, id, 15*time.Second)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ok)
		})
	}
}

func TestJobRepo_ListPending(t *testing.T) {
	repo, mock := newMockRepo(t)
	older := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	a, b := uuid.NewString(), uuid.NewString()

	mock.ExpectQuery(`SELECT id, version, created_at\s+FROM import_jobs\s+WHERE status = 'PENDING'\s+ORDER BY created_at ASC`).
		WithArgs(5).
		WillReturnRows(sqlmock.NewRows([]string{"id", "version", "created_at"}).
			AddRow(a, int64(1), older).
			AddRow(b, int64(3), older.Add(time.Minute)))

	refs, err := repo.ListPending(context.Background(), model.JobKindImport, 5)
	require.NoError(t, err)
	require.Len(t, refs, 2)
	assert.Equal(t, model.JobRef{ID: a, Kind: model.JobKindImport, Version: 1, CreatedAt: older}, refs[0])
	assert.Equal(t, int64(3), refs[1].Version)
}

func TestJobRepo_List_BuildsFilters(t *testing.T) {
	repo, mock := newMockRepo(t)
	org := uuid.NewString()
	status := model.JobStatusFailed

	mock.ExpectQuery(regexp.QuoteMeta(
		`FROM import_jobs WHERE (source_org_id = $1 OR destination_org_id = $1) AND status = $2 ORDER BY created_at DESC, id DESC LIMIT $3 OFFSET $4`,
	)).
		WithArgs(org, "FAILED", maxListLimit, 0).
		WillReturnRows(sqlmock.NewRows(jobColumnNames))

	jobs, err := repo.List(context.Background(), &model.JobListOptions{
		Kind:           model.JobKindImport,
		OrganizationID: &org,
		Status:         &status,
		Limit:          10000,
		Offset:         -3,
	})
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestJobRepo_Stats(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectQuery(`count\(\*\) FILTER \(WHERE status = 'CANCELLED'\)`).
		WillReturnRows(sqlmock.NewRows([]string{"pending", "processing", "completed", "failed", "cancelled"}).
			AddRow(3, 1, 10, 2, 1))

	stats, err := repo.Stats(context.Background(), model.JobKindImport)
	require.NoError(t, err)
	assert.Equal(t, model.JobStats{Kind: model.JobKindImport, Pending: 3, Processing: 1, Completed: 10, Failed: 2, Cancelled: 1}, *stats)
}

func TestJobRepo_WithReaperLock(t *testing.T) {
	t.Run("lock held elsewhere skips the sweep", func(t *testing.T) {
		repo, mock := newMockRepo(t)
		mock.ExpectBegin()
		mock.ExpectQuery(regexp.QuoteMeta(`SELECT pg_try_advisory_xact_lock($1)`)).
			WithArgs(reaperLockKey(model.JobKindTransfer)).
			WillReturnRows(sqlmock.NewRows([]string{"locked"}).AddRow(false))
		mock.ExpectCommit()

		called := false
		ran, err := repo.WithReaperLock(context.Background(), model.JobKindTransfer, func(context.Context) error {
			called = true
			return nil
		})
		require.NoError(t, err)
		assert.False(t, ran)
		assert.False(t, called)
	})

	t.Run("sweep error rolls back", func(t *testing.T) {
		repo, mock := newMockRepo(t)
		mock.ExpectBegin()
		mock.ExpectQuery(`pg_try_advisory_xact_lock`).
			WithArgs(reaperLockKey(model.JobKindImport)).
			WillReturnRows(sqlmock.NewRows([]string{"locked"}).AddRow(true))
		mock.ExpectRollback()

		boom := errors.New("sweep failed")
		ran, err := repo.WithReaperLock(context.Background(), model.JobKindImport, func(context.Context) error {
			return boom
		})
		require.ErrorIs(t, err, boom)
		assert.True(t, ran)
	})
}

func TestMedicalRecordRepo_InsertIsIdempotent(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewMedicalRecordRepo(db)

	jobID := uuid.NewString()
	rec := model.NewMedicalRecord{
		PatientID:      "patient-001",
		OrganizationID: uuid.NewString(),
		RecordData:     json.RawMessage(`{"diagnosis":"J45.909"}`),
		SourceJobID:    &jobID,
		SourceSeq:      0,
	}
	insertSQL := `INSERT INTO medical_records .* ON CONFLICT \(source_job_id, source_seq\) DO NOTHING`

	mock.ExpectExec(insertSQL).
		WithArgs(rec.PatientID, rec.OrganizationID, []byte(rec.RecordData), false, jobID, 0).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(insertSQL).
		WillReturnResult(sqlmock.NewResult(0, 0))

	inserted, err := repo.Insert(context.Background(), rec)
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = repo.Insert(context.Background(), rec)
	require.NoError(t, err)
	assert.False(t, inserted, "replayed copy must not create a second record")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMedicalRecordRepo_InsertBatchValidatesFirst(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	_, err = NewMedicalRecordRepo(db).InsertBatch(context.Background(), []model.NewMedicalRecord{
		{PatientID: "ok", OrganizationID: uuid.NewString(), RecordData: json.RawMessage(`{}`)},
		{PatientID: " ", OrganizationID: uuid.NewString(), RecordData: json.RawMessage(`{}`)},
	})
	require.ErrorContains(t, err, "records[1]")
	require.NoError(t, mock.ExpectationsWereMet())
}

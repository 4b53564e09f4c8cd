package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/target/recordflow/internal/data/pgxutil"
	"github.com/target/recordflow/internal/domain/model"
)

// initialJobMessage is stored on every freshly created job.
const initialJobMessage = "Job queued"

// Create inserts a PENDING job at version 1 and notifies listening dispatchers of its kind.
func (r *JobRepo) Create(ctx context.Context, req *model.CreateJobRequest) (*model.Job, error) {
	if req == nil {
		return nil, errors.New("create job request is required")
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	table, err := tableFor(req.Kind)
	if err != nil {
		return nil, err
	}

	params := req.Parameters
	if len(params) == 0 {
		params = json.RawMessage(`{}`)
	}
	// Transfers are always audited; imports opt in.
	isAudited := req.IsAudited || req.Kind == model.JobKindTransfer

	query := `
		INSERT INTO ` + table + ` (
			source_org_id, destination_org_id, status, parameters, message,
			record_id, created_by, callback_url, is_audited
		) VALUES ($1, $2, $3, $4::jsonb, $5, $6, $7, $8, $9)
		RETURNING ` + jobColumns

	var job *model.Job
	txErr := pgxutil.WithSQLTx(ctx, r.DB, pgxutil.SQLTxConfig{
		Fn: func(tx *sql.Tx) error {
			row := tx.QueryRowContext(ctx, query,
				req.SourceOrgID,
				req.DestinationOrgID,
				model.JobStatusPending,
				[]byte(params),
				initialJobMessage,
				nullableString(req.RecordID),
				nullableString(req.CreatedBy),
				nullableString(req.CallbackURL),
				isAudited,
			)
			created, scanErr := scanJob(row, req.Kind)
			if scanErr != nil {
				return fmt.Errorf("insert job: %w", scanErr)
			}
			if _, notifyErr := tx.ExecContext(ctx, `SELECT pg_notify($1::text, $2::text)`,
				notifyChannel(req.Kind), created.ID); notifyErr != nil {
				return fmt.Errorf("send job notification: %w", notifyErr)
			}
			job = created
			return nil
		},
	})
	if txErr != nil {
		return nil, txErr
	}
	return job, nil
}

// GetByID retrieves a job of the given kind by its ID.
func (r *JobRepo) GetByID(ctx context.Context, kind model.JobKind, id string) (*model.Job, error) {
	table, err := tableFor(kind)
	if err != nil {
		return nil, err
	}
	if !validID(id) {
		return nil, ErrJobNotFound
	}

	row := r.DB.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM `+table+` WHERE id = $1`, id)
	job, err := scanJob(row, kind)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// Update applies mutation to the job only if its version still equals expectedVersion.
// The version is bumped and updated_at is stamped from the database clock in the same
// statement. ErrJobConflict means another writer got there first; ErrJobNotFound means
// the id does not exist.
func (r *JobRepo) Update(
	ctx context.Context,
	kind model.JobKind,
	id string,
	expectedVersion int64,
	mutation model.JobMutation,
) (*model.Job, error) {
	table, err := tableFor(kind)
	if err != nil {
		return nil, err
	}
	if !validID(id) {
		return nil, ErrJobNotFound
	}

	query, args, err := buildJobUpdate(table, id, expectedVersion, mutation)
	if err != nil {
		return nil, err
	}

	job, err := scanJob(r.DB.QueryRowContext(ctx, query, args...), kind)
	if err == nil {
		return job, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("update job: %w", err)
	}

	exists, err := r.exists(ctx, table, id)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrJobNotFound
	}
	return nil, ErrJobConflict
}

// buildJobUpdate renders the conditional UPDATE for a mutation. Placeholders $1 and $2
// are always the id and the expected version.
func buildJobUpdate(table, id string, expectedVersion int64, m model.JobMutation) (string, []any, error) {
	if m.Empty() {
		return "", nil, errors.New("at least one field must be updated")
	}
	if m.LeaseFor != nil && m.ClearLease {
		return "", nil, errors.New("lease cannot be extended and cleared in one update")
	}

	args := []any{id, expectedVersion}
	sets := make([]string, 0, 10)
	add := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if m.Status != nil {
		if !m.Status.Valid() {
			return "", nil, fmt.Errorf("invalid job status: %q", *m.Status)
		}
		add("status", string(*m.Status))
	}
	if m.Message != nil {
		add("message", *m.Message)
	}
	if m.ErrorDetails != nil {
		raw, err := json.Marshal(m.ErrorDetails)
		if err != nil {
			return "", nil, fmt.Errorf("marshal error_details: %w", err)
		}
		args = append(args, raw)
		sets = append(sets, fmt.Sprintf("error_details = $%d::jsonb", len(args)))
	}
	if m.RecordsProcessed != nil {
		add("records_processed", *m.RecordsProcessed)
	}
	if m.TotalRecords != nil {
		add("total_records", *m.TotalRecords)
	}
	if m.Attempts != nil {
		add("attempts", *m.Attempts)
	}
	if m.LeaseFor != nil {
		if *m.LeaseFor <= 0 {
			return "", nil, errors.New("lease duration must be positive")
		}
		args = append(args, m.LeaseFor.Seconds())
		sets = append(sets, fmt.Sprintf("lease_expires_at = now() + make_interval(secs => $%d)", len(args)))
	}
	if m.ClearLease {
		sets = append(sets, "lease_expires_at = NULL")
	}
	if m.SetCompleted {
		sets = append(sets, "completed_at = COALESCE(completed_at, now())")
	}
	sets = append(sets, "version = version + 1", "updated_at = GREATEST(now(), created_at)")

	query := `UPDATE ` + table + `
		SET ` + strings.Join(sets, ",\n\t\t    ") + `
		WHERE id = $1 AND version = $2
		RETURNING ` + jobColumns
	return query, args, nil
}

func (r *JobRepo) exists(ctx context.Context, table, id string) (bool, error) {
	var found bool
	if err := r.DB.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM `+table+` WHERE id = $1)`, id,
	).Scan(&found); err != nil {
		return false, fmt.Errorf("check job exists: %w", err)
	}
	return found, nil
}

// AppendAudit adds entry to the end of the job's audit log. Existing entries are never
// rewritten and the job version is left untouched, so appends never race transitions.
func (r *JobRepo) AppendAudit(ctx context.Context, kind model.JobKind, id string, entry model.AuditEntry) error {
	table, err := tableFor(kind)
	if err != nil {
		return err
	}
	if !validID(id) {
		return ErrJobNotFound
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = r.timeProvider.Now()
	}
	entry.Timestamp = entry.Timestamp.UTC()

	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal audit entry: %w", err)
	}

	res, err := r.DB.ExecContext(ctx, `
		UPDATE `+table+`
		SET audit_log = audit_log || jsonb_build_array($2::jsonb),
		    updated_at = GREATEST(now(), created_at)
		WHERE id = $1
	`, id, raw)
	if err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("append audit rows affected: %w", err)
	}
	if n == 0 {
		return ErrJobNotFound
	}
	return nil
}

// Heartbeat extends the lease on a PROCESSING job. It returns false when the job is no
// longer PROCESSING, which tells the owner to stop.
func (r *JobRepo) Heartbeat(ctx context.Context, kind model.JobKind, id string, lease time.Duration) (bool, error) {
	table, err := tableFor(kind)
	if err != nil {
		return false, err
	}
	if lease <= 0 {
		return false, errors.New("lease must be positive")
	}
	if !validID(id) {
		return false, ErrJobNotFound
	}

	res, err := r.DB.ExecContext(ctx, `
		UPDATE `+table+`
		SET lease_expires_at = now() + make_interval(secs => $2),
		    updated_at = GREATEST(now(), created_at)
		WHERE id = $1 AND status = 'PROCESSING'
	`, id, lease.Seconds())
	if err != nil {
		return false, fmt.Errorf("heartbeat job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("heartbeat rows affected: %w", err)
	}
	return n > 0, nil
}

// WaitForNotification blocks until a job of the given kind is created or ctx is done.
func (r *JobRepo) WaitForNotification(ctx context.Context, kind model.JobKind) error {
	if !kind.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidKind, kind)
	}
	channel := notifyChannel(kind)
	quoted := pgx.Identifier{channel}.Sanitize()

	return pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		if _, err := conn.Exec(ctx, "LISTEN "+quoted); err != nil {
			return fmt.Errorf("listen %s: %w", channel, err)
		}
		defer func() {
			if _, err := conn.Exec(context.WithoutCancel(ctx), "UNLISTEN "+quoted); err != nil {
				r.logger.DebugContext(ctx, "unlisten failed", "channel", channel, "error", err)
			}
		}()
		_, err := conn.WaitForNotification(ctx)
		return err
	})
}

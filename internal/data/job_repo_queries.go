package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/target/recordflow/internal/domain/model"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// ListPending returns up to limit PENDING jobs of kind, oldest first. Candidates are
// only hints: the caller must still win the versioned start transition to own one.
func (r *JobRepo) ListPending(ctx context.Context, kind model.JobKind, limit int) ([]model.JobRef, error) {
	table, err := tableFor(kind)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultListLimit
	}

	rows, err := r.DB.QueryContext(ctx, `
		SELECT id, version, created_at
		FROM `+table+`
		WHERE status = 'PENDING'
		ORDER BY created_at ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending jobs: %w", err)
	}
	defer rows.Close()

	refs := make([]model.JobRef, 0, limit)
	for rows.Next() {
		ref := model.JobRef{Kind: kind}
		if scanErr := rows.Scan(&ref.ID, &ref.Version, &ref.CreatedAt); scanErr != nil {
			return nil, fmt.Errorf("scan pending job: %w", scanErr)
		}
		ref.CreatedAt = ref.CreatedAt.UTC()
		refs = append(refs, ref)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending jobs: %w", err)
	}
	return refs, nil
}

// ListExpiredLeases returns PROCESSING jobs whose lease has lapsed on the database clock.
func (r *JobRepo) ListExpiredLeases(ctx context.Context, kind model.JobKind, limit int) ([]*model.Job, error) {
	table, err := tableFor(kind)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultListLimit
	}
	return r.queryJobs(ctx, kind, `
		SELECT `+jobColumns+`
		FROM `+table+`
		WHERE status = 'PROCESSING'
		  AND (lease_expires_at IS NULL OR lease_expires_at < now())
		ORDER BY lease_expires_at ASC NULLS FIRST
		LIMIT $1
	`, limit)
}

// jobFilterQueryBuilder accumulates WHERE conditions with positional arguments.
type jobFilterQueryBuilder struct {
	conditions []string
	args       []any
}

func (b *jobFilterQueryBuilder) addFilter(condition string, value any) {
	b.args = append(b.args, value)
	b.conditions = append(b.conditions, strings.ReplaceAll(condition, "?", fmt.Sprintf("$%d", len(b.args))))
}

func (b *jobFilterQueryBuilder) where() string {
	if len(b.conditions) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(b.conditions, " AND ")
}

func buildJobListQuery(table string, opts *model.JobListOptions) (string, []any) {
	b := &jobFilterQueryBuilder{}
	if opts.OrganizationID != nil {
		b.addFilter("(source_org_id = ? OR destination_org_id = ?)", *opts.OrganizationID)
	}
	if opts.RecordID != nil {
		b.addFilter("record_id = ?", *opts.RecordID)
	}
	if opts.Status != nil {
		b.addFilter("status = ?", string(*opts.Status))
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	offset := max(opts.Offset, 0)

	b.args = append(b.args, limit, offset)
	query := `SELECT ` + jobColumns + ` FROM ` + table + b.where() +
		fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d", len(b.args)-1, len(b.args))
	return query, b.args
}

// List returns jobs of opts.Kind matching the optional filters, newest first.
func (r *JobRepo) List(ctx context.Context, opts *model.JobListOptions) ([]*model.Job, error) {
	if opts == nil {
		return nil, errors.New("list options are required")
	}
	table, err := tableFor(opts.Kind)
	if err != nil {
		return nil, err
	}
	if opts.OrganizationID != nil && !validID(*opts.OrganizationID) {
		return []*model.Job{}, nil
	}
	if opts.RecordID != nil && !validID(*opts.RecordID) {
		return []*model.Job{}, nil
	}
	query, args := buildJobListQuery(table, opts)
	return r.queryJobs(ctx, opts.Kind, query, args...)
}

// ListByRecord returns every transfer of a medical record, newest first.
func (r *JobRepo) ListByRecord(ctx context.Context, recordID string, limit int) ([]*model.Job, error) {
	return r.List(ctx, &model.JobListOptions{
		Kind:     model.JobKindTransfer,
		RecordID: &recordID,
		Limit:    limit,
	})
}

// CountActive counts PENDING and PROCESSING jobs of kind where orgID is either party.
func (r *JobRepo) CountActive(ctx context.Context, kind model.JobKind, orgID string) (int, error) {
	table, err := tableFor(kind)
	if err != nil {
		return 0, err
	}
	if !validID(orgID) {
		return 0, nil
	}
	var n int
	if err := r.DB.QueryRowContext(ctx, `
		SELECT count(*)
		FROM `+table+`
		WHERE (source_org_id = $1 OR destination_org_id = $1)
		  AND status IN ('PENDING', 'PROCESSING')
	`, orgID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count active jobs: %w", err)
	}
	return n, nil
}

// Stats returns job counts per status for kind.
func (r *JobRepo) Stats(ctx context.Context, kind model.JobKind) (*model.JobStats, error) {
	table, err := tableFor(kind)
	if err != nil {
		return nil, err
	}
	s := model.JobStats{Kind: kind}
	err = r.DB.QueryRowContext(ctx, `
  SELECT
    count(*) FILTER (WHERE status = 'PENDING')    AS pending,
    count(*) FILTER (WHERE status = 'PROCESSING') AS processing,
    count(*) FILTER (WHERE status = 'COMPLETED')  AS completed,
    count(*) FILTER (WHERE status = 'FAILED')     AS failed,
    count(*) FILTER (WHERE status = 'CANCELLED')  AS cancelled
  FROM `+table).Scan(
		&s.Pending,
		&s.Processing,
		&s.Completed,
		&s.Failed,
		&s.Cancelled,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get job stats: %w", err)
	}
	return &s, nil
}

func (r *JobRepo) queryJobs(ctx context.Context, kind model.JobKind, query string, args ...any) ([]*model.Job, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}
	defer func(rows *sql.Rows) { _ = rows.Close() }(rows)

	jobs := make([]*model.Job, 0)
	for rows.Next() {
		job, scanErr := scanJob(rows, kind)
		if scanErr != nil {
			return nil, fmt.Errorf("scan job: %w", scanErr)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return jobs, nil
}

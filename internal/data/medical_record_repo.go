package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/target/recordflow/internal/data/pgxutil"
	"github.com/target/recordflow/internal/domain/model"
)

// MedicalRecordRepo stores medical records written by transfer and import jobs.
type MedicalRecordRepo struct {
	DB *sql.DB
}

// NewMedicalRecordRepo creates a new MedicalRecordRepo.
func NewMedicalRecordRepo(db *sql.DB) *MedicalRecordRepo {
	return &MedicalRecordRepo{DB: db}
}

const medicalRecordColumns = `id, patient_id, organization_id, record_data, is_anonymous, created_at, updated_at`

func scanMedicalRecord(scanner rowScanner) (*model.MedicalRecord, error) {
	var (
		rec  model.MedicalRecord
		data []byte
	)
	if err := scanner.Scan(
		&rec.ID, &rec.PatientID, &rec.OrganizationID, &data,
		&rec.IsAnonymous, &rec.CreatedAt, &rec.UpdatedAt,
	); err != nil {
		return nil, err
	}
	rec.RecordData = cloneJSON(data)
	rec.CreatedAt = rec.CreatedAt.UTC()
	rec.UpdatedAt = rec.UpdatedAt.UTC()
	return &rec, nil
}

// GetByID returns a medical record by id.
func (r *MedicalRecordRepo) GetByID(ctx context.Context, id string) (*model.MedicalRecord, error) {
	if !validID(id) {
		return nil, ErrRecordNotFound
	}
	row := r.DB.QueryRowContext(ctx, `SELECT `+medicalRecordColumns+` FROM medical_records WHERE id = $1`, id)
	rec, err := scanMedicalRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get medical record: %w", err)
	}
	return rec, nil
}

const insertMedicalRecordSQL = `
	INSERT INTO medical_records (patient_id, organization_id, record_data, is_anonymous, source_job_id, source_seq)
	VALUES ($1, $2, $3::jsonb, $4, $5, $6)
	ON CONFLICT (source_job_id, source_seq) DO NOTHING`

func validateNewRecord(rec model.NewMedicalRecord) error {
	if strings.TrimSpace(rec.PatientID) == "" {
		return errors.New("patient_id is required and cannot be empty")
	}
	if !validID(rec.OrganizationID) {
		return errors.New("organization_id must be a valid UUID")
	}
	if len(rec.RecordData) == 0 {
		return errors.New("record_data is required")
	}
	return nil
}

func insertArgs(rec model.NewMedicalRecord) []any {
	var seq any
	if rec.SourceJobID != nil {
		seq = rec.SourceSeq
	}
	return []any{rec.PatientID, rec.OrganizationID, []byte(rec.RecordData), rec.IsAnonymous, nullableString(rec.SourceJobID), seq}
}

// Insert writes one record. It returns false when a record with the same source job and
// sequence already exists.
func (r *MedicalRecordRepo) Insert(ctx context.Context, rec model.NewMedicalRecord) (bool, error) {
	if err := validateNewRecord(rec); err != nil {
		return false, err
	}
	res, err := r.DB.ExecContext(ctx, insertMedicalRecordSQL, insertArgs(rec)...)
	if err != nil {
		return false, fmt.Errorf("insert medical record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert medical record rows affected: %w", err)
	}
	return n > 0, nil
}

// InsertBatch writes recs in a single transaction and returns how many were new.
// Either every row of the batch is durable or none is.
func (r *MedicalRecordRepo) InsertBatch(ctx context.Context, recs []model.NewMedicalRecord) (int, error) {
	if len(recs) == 0 {
		return 0, nil
	}
	for i, rec := range recs {
		if err := validateNewRecord(rec); err != nil {
			return 0, fmt.Errorf("records[%d]: %w", i, err)
		}
	}

	inserted := 0
	err := pgxutil.WithSQLTx(ctx, r.DB, pgxutil.SQLTxConfig{
		Fn: func(tx *sql.Tx) error {
			stmt, err := tx.PrepareContext(ctx, insertMedicalRecordSQL)
			if err != nil {
				return fmt.Errorf("prepare insert: %w", err)
			}
			defer func() { _ = stmt.Close() }()

			for i, rec := range recs {
				res, execErr := stmt.ExecContext(ctx, insertArgs(rec)...)
				if execErr != nil {
					return fmt.Errorf("insert records[%d]: %w", i, execErr)
				}
				n, raErr := res.RowsAffected()
				if raErr != nil {
					return fmt.Errorf("rows affected records[%d]: %w", i, raErr)
				}
				inserted += int(n)
			}
			return nil
		},
	})
	if err != nil {
		return 0, err
	}
	return inserted, nil
}

// ListByOrganization returns records owned by orgID, newest first.
func (r *MedicalRecordRepo) ListByOrganization(ctx context.Context, orgID string, limit, offset int) ([]*model.MedicalRecord, error) {
	if !validID(orgID) {
		return []*model.MedicalRecord{}, nil
	}
	if limit <= 0 {
		limit = defaultListLimit
	}
	limit = min(limit, maxListLimit)
	offset = max(offset, 0)

	rows, err := r.DB.QueryContext(ctx, `
		SELECT `+medicalRecordColumns+`
		FROM medical_records
		WHERE organization_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3
	`, orgID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list medical records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make([]*model.MedicalRecord, 0)
	for rows.Next() {
		rec, scanErr := scanMedicalRecord(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scan medical record: %w", scanErr)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate medical records: %w", err)
	}
	return out, nil
}

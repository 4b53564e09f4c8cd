package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/target/recordflow/internal/domain/model"
)

// OrganizationRepo reads and creates organizations.
type OrganizationRepo struct {
	DB *sql.DB
}

// NewOrganizationRepo creates a new OrganizationRepo.
func NewOrganizationRepo(db *sql.DB) *OrganizationRepo {
	return &OrganizationRepo{DB: db}
}

const organizationColumns = `id, name, address, cmj, cin, created_at, updated_at, deleted_at`

func scanOrganization(scanner rowScanner) (*model.Organization, error) {
	var (
		org          model.Organization
		address, cin sql.NullString
		deletedAt    sql.NullTime
	)
	if err := scanner.Scan(
		&org.ID, &org.Name, &address, &org.CMJ, &cin,
		&org.CreatedAt, &org.UpdatedAt, &deletedAt,
	); err != nil {
		return nil, err
	}
	org.Address = cloneNullableString(address)
	org.CIN = cloneNullableString(cin)
	org.DeletedAt = cloneNullableTime(deletedAt)
	org.CreatedAt = org.CreatedAt.UTC()
	org.UpdatedAt = org.UpdatedAt.UTC()
	return &org, nil
}

// Create inserts a new organization.
func (r *OrganizationRepo) Create(ctx context.Context, req *model.CreateOrganizationRequest) (*model.Organization, error) {
	if req == nil {
		return nil, errors.New("create organization request is required")
	}
	name := strings.TrimSpace(req.Name)
	cmj := strings.TrimSpace(req.CMJ)
	if name == "" {
		return nil, errors.New("name is required and cannot be empty")
	}
	if cmj == "" {
		return nil, errors.New("cmj is required and cannot be empty")
	}

	row := r.DB.QueryRowContext(ctx, `
		INSERT INTO organizations (name, address, cmj, cin)
		VALUES ($1, $2, $3, $4)
		RETURNING `+organizationColumns,
		name, nullableString(req.Address), cmj, nullableString(req.CIN))
	org, err := scanOrganization(row)
	if err != nil {
		return nil, fmt.Errorf("insert organization: %w", err)
	}
	return org, nil
}

// GetByID returns the organization with id, including soft-deleted ones.
func (r *OrganizationRepo) GetByID(ctx context.Context, id string) (*model.Organization, error) {
	if !validID(id) {
		return nil, ErrOrganizationNotFound
	}
	row := r.DB.QueryRowContext(ctx, `SELECT `+organizationColumns+` FROM organizations WHERE id = $1`, id)
	org, err := scanOrganization(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOrganizationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get organization: %w", err)
	}
	return org, nil
}

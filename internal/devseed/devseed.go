// Package devseed loads a small set of organizations and medical records for local development.
package devseed

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/target/recordflow/internal/data"
	"github.com/target/recordflow/internal/domain/model"
)

// Services bundles the dependencies needed for development seeding.
type Services struct {
	DB      *sql.DB
	orgs    *data.OrganizationRepo
	records *data.MedicalRecordRepo
}

// NewServices constructs all required repositories for seeding using the provided DB.
func NewServices(db *sql.DB) Services {
	return Services{
		DB:      db,
		orgs:    data.NewOrganizationRepo(db),
		records: data.NewMedicalRecordRepo(db),
	}
}

// SeedOrganization is one organization and the records it starts with.
type SeedOrganization struct {
	Request model.CreateOrganizationRequest
	Records []SeedRecord
}

// SeedRecord is a patient record owned by a seeded organization.
type SeedRecord struct {
	PatientID string
	Data      map[string]any
}

// Run seeds the default organizations. Existing organizations (matched by CMJ) are reused and
// only receive records when they have none, so Run can be repeated safely.
func Run(ctx context.Context, svcs Services, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	failures := 0
	for _, seed := range DefaultOrganizations() {
		org, created, err := ensureOrganization(ctx, svcs, seed.Request)
		if err != nil {
			logger.ErrorContext(ctx, "failed to seed organization", "cmj", seed.Request.CMJ, "error", err)
			failures++
			continue
		}
		msg := "organization already exists"
		if created {
			msg = "created organization"
		}
		logger.InfoContext(ctx, msg, "name", org.Name, "id", org.ID)

		n, err := seedRecords(ctx, svcs, org.ID, seed.Records)
		if err != nil {
			logger.ErrorContext(ctx, "failed to seed records", "organization_id", org.ID, "error", err)
			failures++
			continue
		}
		if n > 0 {
			logger.InfoContext(ctx, "created medical records", "organization_id", org.ID, "count", n)
		}
	}
	if failures > 0 {
		return fmt.Errorf("%d seed errors; check logs", failures)
	}
	return nil
}

func ensureOrganization(ctx context.Context, svcs Services, req model.CreateOrganizationRequest) (*model.Organization, bool, error) {
	var id string
	err := svcs.DB.QueryRowContext(ctx, `SELECT id FROM organizations WHERE cmj = $1`, req.CMJ).Scan(&id)
	switch {
	case err == nil:
		org, getErr := svcs.orgs.GetByID(ctx, id)
		return org, false, getErr
	case !errors.Is(err, sql.ErrNoRows):
		return nil, false, fmt.Errorf("lookup organization %s: %w", req.CMJ, err)
	}

	org, err := svcs.orgs.Create(ctx, &req)
	if err != nil {
		return nil, false, err
	}
	return org, true, nil
}

func seedRecords(ctx context.Context, svcs Services, orgID string, seeds []SeedRecord) (int, error) {
	existing, err := svcs.records.ListByOrganization(ctx, orgID, 1, 0)
	if err != nil {
		return 0, err
	}
	if len(existing) > 0 || len(seeds) == 0 {
		return 0, nil
	}

	recs := make([]model.NewMedicalRecord, 0, len(seeds))
	for _, s := range seeds {
		raw, marshalErr := json.Marshal(s.Data)
		if marshalErr != nil {
			return 0, fmt.Errorf("encode record for %s: %w", s.PatientID, marshalErr)
		}
		recs = append(recs, model.NewMedicalRecord{
			PatientID:      s.PatientID,
			OrganizationID: orgID,
			RecordData:     raw,
		})
	}
	return svcs.records.InsertBatch(ctx, recs)
}

func strPtr(s string) *string { return &s }

// DefaultOrganizations returns the organizations created by Run.
func DefaultOrganizations() []SeedOrganization {
	return []SeedOrganization{
		{
			Request: model.CreateOrganizationRequest{
				Name:    "Riverside General Hospital",
				Address: strPtr("12 River Road"),
				CMJ:     "DEV-CMJ-0001",
				CIN:     strPtr("DEV-CIN-0001"),
			},
			Records: []SeedRecord{
				{
					PatientID: "patient-1001",
					Data: map[string]any{
						"name":       "Ana Popescu",
						"birth_date": "1984-02-11",
						"allergies":  []string{"penicillin"},
						"diagnoses":  []string{"hypertension"},
					},
				},
				{
					PatientID: "patient-1002",
					Data: map[string]any{
						"name":       "Mihai Ionescu",
						"birth_date": "1990-07-30",
						"diagnoses":  []string{"type 2 diabetes"},
					},
				},
			},
		},
		{
			Request: model.CreateOrganizationRequest{
				Name: "Hillcrest Family Clinic",
				CMJ:  "DEV-CMJ-0002",
			},
		},
		{
			Request: model.CreateOrganizationRequest{
				Name:    "Northside Diagnostics",
				Address: strPtr("4 Lab Street"),
				CMJ:     "DEV-CMJ-0003",
			},
			Records: []SeedRecord{
				{
					PatientID: "patient-2001",
					Data: map[string]any{
						"name":    "Elena Dumitru",
						"results": map[string]any{"hba1c": 6.1, "ldl": 118},
					},
				},
			},
		},
	}
}

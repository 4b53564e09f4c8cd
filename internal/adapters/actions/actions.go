// Package actions implements the side effects of transfer and import jobs.
package actions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/target/recordflow/internal/core"
	"github.com/target/recordflow/internal/data/cryptoutil"
	"github.com/target/recordflow/internal/domain/action"
	"github.com/target/recordflow/internal/domain/model"
)

// RecordFetcher downloads import payloads.
type RecordFetcher interface {
	FetchRecords(ctx context.Context, sourceURL string) ([]model.ImportRecord, error)
}

// RecordPusher delivers transferred records to an external EHR endpoint.
type RecordPusher interface {
	PushRecord(ctx context.Context, targetURL string, record *model.MedicalRecord) error
}

var errAnonymizerMissing = errors.New("anonymization requested but no pseudonymization key is configured")

// prepare builds the insert shape for one record, pseudonymizing when asked.
func prepare(
	p cryptoutil.Pseudonymizer,
	anonymize bool,
	patientID string,
	data json.RawMessage,
	orgID string,
	jobID string,
	seq int,
) (model.NewMedicalRecord, error) {
	rec := model.NewMedicalRecord{
		PatientID:      patientID,
		OrganizationID: orgID,
		RecordData:     data,
		SourceJobID:    &jobID,
		SourceSeq:      seq,
	}
	if !anonymize {
		return rec, nil
	}
	if p == nil {
		return rec, action.Unrecoverable(errAnonymizerMissing)
	}
	scrubbed, err := p.ScrubRecord(data)
	if err != nil {
		return rec, action.Unrecoverable(fmt.Errorf("anonymize record %d: %w", seq, err))
	}
	rec.PatientID = p.Pseudonymize(patientID)
	rec.RecordData = scrubbed
	rec.IsAnonymous = true
	return rec, nil
}

// storeError classifies a medical record store failure. Cancellation passes through
// untouched so the dispatcher can tell shutdown from failure.
func storeError(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if errors.Is(err, core.ErrOrganizationNotFound) {
		return action.Unrecoverable(fmt.Errorf("%s: %w", op, err))
	}
	return action.Recoverable(fmt.Errorf("%s: %w", op, err))
}

package actions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/target/recordflow/internal/core"
	"github.com/target/recordflow/internal/data/cryptoutil"
	"github.com/target/recordflow/internal/domain/action"
	"github.com/target/recordflow/internal/domain/model"
)

// TransferOptions groups dependencies for Transfer.
type TransferOptions struct {
	Records       core.MedicalRecordRepository // Required
	Pusher        RecordPusher                 // Optional: required only for jobs with a callback_url
	Pseudonymizer cryptoutil.Pseudonymizer     // Optional: required only for anonymized jobs
	Logger        *slog.Logger
}

// Transfer copies one medical record from the source organization to the destination.
type Transfer struct {
	records core.MedicalRecordRepository
	pusher  RecordPusher
	pseudo  cryptoutil.Pseudonymizer
	logger  *slog.Logger
}

var _ action.Action = (*Transfer)(nil)

// NewTransfer constructs a Transfer action.
func NewTransfer(opts TransferOptions) (*Transfer, error) {
	if opts.Records == nil {
		return nil, errors.New("MedicalRecordRepository is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Transfer{
		records: opts.Records,
		pusher:  opts.Pusher,
		pseudo:  opts.Pseudonymizer,
		logger:  logger.With("component", "transfer_action"),
	}, nil
}

// Execute implements action.Action. Re-running a transfer for the same job writes the
// destination copy at most once.
func (t *Transfer) Execute(ctx context.Context, job *model.Job, progress action.Progress) (action.Outcome, error) {
	params, err := model.DecodeParameters(job.Kind, job.Parameters)
	if err != nil {
		return action.Outcome{}, action.Unrecoverable(fmt.Errorf("%w: %w", action.ErrInvalidParameters, err))
	}
	if params.Transfer == nil {
		return action.Outcome{}, action.Unrecoverable(fmt.Errorf("%w: job %s is not a transfer job", action.ErrInvalidParameters, job.ID))
	}
	p := params.Transfer
	if job.RecordID == nil || *job.RecordID == "" {
		return action.Outcome{}, action.Unrecoverablef("transfer job %s has no record_id", job.ID)
	}

	src, err := t.records.GetByID(ctx, *job.RecordID)
	if errors.Is(err, core.ErrRecordNotFound) {
		return action.Outcome{}, action.Unrecoverable(fmt.Errorf("medical record %s: %w", *job.RecordID, err))
	}
	if err != nil {
		return action.Outcome{}, storeError(ctx, "load medical record", err)
	}
	if src.OrganizationID != job.SourceOrgID {
		return action.Outcome{}, action.Unrecoverablef(
			"medical record %s does not belong to source organization %s", src.ID, job.SourceOrgID)
	}

	total := 1
	if err := progress.Report(ctx, 0, &total, "Transfer in progress"); err != nil {
		return action.Outcome{}, err
	}

	rec, err := prepare(t.pseudo, p.Anonymize, src.PatientID, src.RecordData, job.DestinationOrgID, job.ID, 0)
	if err != nil {
		return action.Outcome{}, err
	}
	inserted, err := t.records.Insert(ctx, rec)
	if err != nil {
		return action.Outcome{}, storeError(ctx, "write destination record", err)
	}
	if !inserted {
		t.logger.InfoContext(ctx, "destination record already written", "job_id", job.ID, "record_id", src.ID)
	}

	if p.CallbackURL != "" {
		if t.pusher == nil {
			return action.Outcome{}, action.Unrecoverablef("no EHR client configured for %s", p.CallbackURL)
		}
		out := &model.MedicalRecord{
			ID:             src.ID,
			PatientID:      rec.PatientID,
			OrganizationID: job.DestinationOrgID,
			RecordData:     rec.RecordData,
			IsAnonymous:    rec.IsAnonymous,
			CreatedAt:      src.CreatedAt,
			UpdatedAt:      src.UpdatedAt,
		}
		if err := t.pusher.PushRecord(ctx, p.CallbackURL, out); err != nil {
			return action.Outcome{}, fmt.Errorf("push record to external EHR: %w", err)
		}
	}

	done := 1
	return action.Outcome{
		Message:          fmt.Sprintf("Successfully transferred record %s", src.ID),
		RecordsProcessed: &done,
		TotalRecords:     &total,
	}, nil
}

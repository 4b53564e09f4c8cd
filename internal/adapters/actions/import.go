package actions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/target/recordflow/internal/core"
	"github.com/target/recordflow/internal/data/cryptoutil"
	"github.com/target/recordflow/internal/domain/action"
	"github.com/target/recordflow/internal/domain/model"
)

// ImportProgressMessage is stored on the job after every persisted batch.
const ImportProgressMessage = "Import in progress"

// ImportOptions groups dependencies for Import.
type ImportOptions struct {
	Records       core.MedicalRecordRepository // Required
	Fetcher       RecordFetcher                // Optional: required only for source_url imports
	Pseudonymizer cryptoutil.Pseudonymizer     // Optional: required only for anonymized jobs
	Logger        *slog.Logger
}

// Import persists a batch of inbound records for the destination organization.
type Import struct {
	records core.MedicalRecordRepository
	fetcher RecordFetcher
	pseudo  cryptoutil.Pseudonymizer
	logger  *slog.Logger
}

var _ action.Action = (*Import)(nil)

// NewImport constructs an Import action.
func NewImport(opts ImportOptions) (*Import, error) {
	if opts.Records == nil {
		return nil, errors.New("MedicalRecordRepository is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Import{
		records: opts.Records,
		fetcher: opts.Fetcher,
		pseudo:  opts.Pseudonymizer,
		logger:  logger.With("component", "import_action"),
	}, nil
}

// Execute implements action.Action.
//
// Records are written in batches keyed by their position in the payload, so a retried
// attempt resumes from the job's records_processed and never duplicates rows.
func (im *Import) Execute(ctx context.Context, job *model.Job, progress action.Progress) (action.Outcome, error) {
	params, err := model.DecodeParameters(job.Kind, job.Parameters)
	if err != nil {
		return action.Outcome{}, action.Unrecoverable(fmt.Errorf("%w: %w", action.ErrInvalidParameters, err))
	}
	if params.Import == nil {
		return action.Outcome{}, action.Unrecoverable(fmt.Errorf("%w: job %s is not an import job", action.ErrInvalidParameters, job.ID))
	}
	p := params.Import

	records, err := im.load(ctx, p)
	if err != nil {
		return action.Outcome{}, err
	}
	total := len(records)
	if err := checkResume(job, total); err != nil {
		return action.Outcome{}, err
	}
	done := job.RecordsProcessed
	if err := progress.Report(ctx, done, &total, ImportProgressMessage); err != nil {
		return action.Outcome{}, err
	}

	batchSize := p.EffectiveBatchSize()
	for done < total {
		if err := ctx.Err(); err != nil {
			return action.Outcome{}, err
		}
		end := min(done+batchSize, total)
		batch := make([]model.NewMedicalRecord, 0, end-done)
		for i := done; i < end; i++ {
			rec, err := prepare(im.pseudo, p.Anonymize, records[i].PatientID, records[i].RecordData,
				job.DestinationOrgID, job.ID, i)
			if err != nil {
				return action.Outcome{}, err
			}
			batch = append(batch, rec)
		}
		written, err := im.records.InsertBatch(ctx, batch)
		if err != nil {
			return action.Outcome{}, storeError(ctx, fmt.Sprintf("write records %d-%d", done, end-1), err)
		}
		im.logger.DebugContext(ctx, "import batch persisted",
			"job_id", job.ID,
			"from", done,
			"to", end,
			"written", written,
		)
		done = end
		if err := progress.Report(ctx, done, &total, ImportProgressMessage); err != nil {
			return action.Outcome{}, err
		}
	}

	return action.Outcome{
		Message:          fmt.Sprintf("Successfully imported %d records", total),
		RecordsProcessed: &total,
		TotalRecords:     &total,
	}, nil
}

// checkResume rejects a source that now holds fewer records than an earlier attempt saw,
// since the persisted progress counters can never shrink.
func checkResume(job *model.Job, total int) error {
	if job.TotalRecords != nil && total < *job.TotalRecords {
		return action.Unrecoverablef("import source shrank from %d to %d records between attempts", *job.TotalRecords, total)
	}
	if total < job.RecordsProcessed {
		return action.Unrecoverablef("import source has %d records but %d were already imported", total, job.RecordsProcessed)
	}
	return nil
}

func (im *Import) load(ctx context.Context, p *model.ImportParameters) ([]model.ImportRecord, error) {
	if strings.TrimSpace(p.SourceURL) == "" {
		return p.Records, nil
	}
	if im.fetcher == nil {
		return nil, action.Unrecoverablef("no EHR client configured for %s", p.SourceURL)
	}
	records, err := im.fetcher.FetchRecords(ctx, p.SourceURL)
	if err != nil {
		return nil, fmt.Errorf("fetch import source: %w", err)
	}
	for i := range records {
		if strings.TrimSpace(records[i].PatientID) == "" {
			return nil, action.Unrecoverablef("source record %d has no patient_id", i)
		}
		if !json.Valid(records[i].RecordData) {
			return nil, action.Unrecoverablef("source record %d has invalid record_data", i)
		}
	}
	return records, nil
}

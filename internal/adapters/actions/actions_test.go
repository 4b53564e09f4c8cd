package actions

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/target/recordflow/internal/data/cryptoutil"
	"github.com/target/recordflow/internal/domain/action"
	"github.com/target/recordflow/internal/domain/model"
	"github.com/target/recordflow/internal/mocks/memory"
	"github.com/target/recordflow/internal/testutil"
)

type progressCall struct {
	processed int
	total     int
	message   string
}

type recordingProgress struct {
	mu    sync.Mutex
	calls []progressCall
	// failAfter returns err from the n-th call onwards when > 0.
	failAfter int
	err       error
}

func (p *recordingProgress) Report(_ context.Context, processed int, total *int, message string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	c := progressCall{processed: processed, message: message}
	if total != nil {
		c.total = *total
	}
	p.calls = append(p.calls, c)
	if p.failAfter > 0 && len(p.calls) >= p.failAfter {
		return p.err
	}
	return nil
}

func (p *recordingProgress) processed() []int {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]int, 0, len(p.calls))
	for _, c := range p.calls {
		out = append(out, c.processed)
	}
	return out
}

type stubFetcher struct {
	records []model.ImportRecord
	err     error
	calls   int
}

func (f *stubFetcher) FetchRecords(context.Context, string) ([]model.ImportRecord, error) {
	f.calls++
	return f.records, f.err
}

type stubPusher struct {
	pushed []*model.MedicalRecord
	err    error
}

func (p *stubPusher) PushRecord(_ context.Context, _ string, rec *model.MedicalRecord) error {
	if p.err != nil {
		return p.err
	}
	p.pushed = append(p.pushed, rec)
	return nil
}

func newPseudonymizer(t *testing.T) *cryptoutil.HMACPseudonymizer {
	t.Helper()
	p, err := cryptoutil.NewHMACPseudonymizer([]byte("0123456789abcdef0123456789abcdef"), nil)
	require.NoError(t, err)
	return p
}

func importJob(t *testing.T, params json.RawMessage) *model.Job {
	t.Helper()
	return &model.Job{
		ID:               uuid.NewString(),
		Kind:             model.JobKindImport,
		SourceOrgID:      uuid.NewString(),
		DestinationOrgID: uuid.NewString(),
		Status:           model.JobStatusProcessing,
		Parameters:       params,
	}
}

func TestNewConstructorsRequireRecords(t *testing.T) {
	_, err := NewImport(ImportOptions{})
	require.Error(t, err)
	_, err = NewTransfer(TransferOptions{})
	require.Error(t, err)
}

func TestImport_Execute(t *testing.T) {
	t.Run("inline records in batches", func(t *testing.T) {
		records := memory.NewRecords()
		im, err := NewImport(ImportOptions{Records: records})
		require.NoError(t, err)

		job := importJob(t, testutil.InlineImportParameters(7, 3))
		prog := &recordingProgress{}
		out, err := im.Execute(context.Background(), job, prog)
		require.NoError(t, err)

		assert.Equal(t, "Successfully imported 7 records", out.Message)
		assert.Equal(t, 7, *out.RecordsProcessed)
		assert.Equal(t, 7, *out.TotalRecords)
		assert.Equal(t, []int{0, 3, 6, 7}, prog.processed())
		for _, c := range prog.calls {
			assert.Equal(t, ImportProgressMessage, c.message)
			assert.Equal(t, 7, c.total)
		}
		assert.Equal(t, 7, records.Count(job.DestinationOrgID))
	})

	t.Run("retry resumes without duplicates", func(t *testing.T) {
		records := memory.NewRecords()
		im, err := NewImport(ImportOptions{Records: records})
		require.NoError(t, err)

		job := importJob(t, testutil.InlineImportParameters(5, 2))
		_, err = im.Execute(context.Background(), job, &recordingProgress{})
		require.NoError(t, err)

		job.RecordsProcessed = 2
		prog := &recordingProgress{}
		_, err = im.Execute(context.Background(), job, prog)
		require.NoError(t, err)
		assert.Equal(t, []int{2, 4, 5}, prog.processed())
		assert.Equal(t, 5, records.Count(job.DestinationOrgID))
	})

	t.Run("source url", func(t *testing.T) {
		records := memory.NewRecords()
		fetcher := &stubFetcher{records: []model.ImportRecord{
			{PatientID: "p1", RecordData: json.RawMessage(`{"name":"Jane Roe","code":"E11"}`)},
			{PatientID: "p2", RecordData: json.RawMessage(`{"name":"John Roe"}`)},
		}}
		im, err := NewImport(ImportOptions{Records: records, Fetcher: fetcher, Pseudonymizer: newPseudonymizer(t)})
		require.NoError(t, err)

		job := importJob(t, json.RawMessage(`{"source_url":"https://ehr.example.com/export","anonymize":true}`))
		out, err := im.Execute(context.Background(), job, &recordingProgress{})
		require.NoError(t, err)
		assert.Equal(t, "Successfully imported 2 records", out.Message)
		assert.Equal(t, 1, fetcher.calls)

		stored, err := records.ListByOrganization(context.Background(), job.DestinationOrgID, 0, 0)
		require.NoError(t, err)
		require.Len(t, stored, 2)
		for _, rec := range stored {
			assert.True(t, rec.IsAnonymous)
			assert.True(t, strings.HasPrefix(rec.PatientID, "v1:"))
			assert.NotContains(t, string(rec.RecordData), "Roe")
		}
	})

	t.Run("empty source succeeds", func(t *testing.T) {
		im, err := NewImport(ImportOptions{Records: memory.NewRecords(), Fetcher: &stubFetcher{}})
		require.NoError(t, err)
		job := importJob(t, json.RawMessage(`{"source_url":"https://ehr.example.com/export"}`))
		out, err := im.Execute(context.Background(), job, &recordingProgress{})
		require.NoError(t, err)
		assert.Equal(t, "Successfully imported 0 records", out.Message)
	})

	t.Run("progress error stops the import", func(t *testing.T) {
		records := memory.NewRecords()
		im, err := NewImport(ImportOptions{Records: records})
		require.NoError(t, err)

		stop := errors.New("job was cancelled")
		job := importJob(t, testutil.InlineImportParameters(10, 2))
		prog := &recordingProgress{failAfter: 3, err: stop}
		_, err = im.Execute(context.Background(), job, prog)
		require.ErrorIs(t, err, stop)
		assert.Equal(t, 4, records.Count(job.DestinationOrgID), "two batches written before the stop")
	})
}

func TestImport_ExecuteFailures(t *testing.T) {
	tests := []struct {
		name        string
		params      string
		fetcher     RecordFetcher
		insertErr   error
		pseudo      bool
		recoverable bool
	}{
		{
			name:        "fetch failure keeps its class",
			params:      `{"source_url":"https://ehr.example.com/x"}`,
			fetcher:     &stubFetcher{err: action.Recoverablef("status 503")},
			recoverable: true,
		},
		{
			name:    "no fetcher configured",
			params:  `{"source_url":"https://ehr.example.com/x"}`,
			fetcher: nil,
		},
		{
			name:    "invalid fetched record",
			params:  `{"source_url":"https://ehr.example.com/x"}`,
			fetcher: &stubFetcher{records: []model.ImportRecord{{PatientID: "", RecordData: json.RawMessage(`{}`)}}},
		},
		{
			name:        "store failure is recoverable",
			params:      `{"records":[{"patient_id":"p1","record_data":{}}]}`,
			insertErr:   errors.New("connection refused"),
			recoverable: true,
		},
		{
			name:   "anonymize without key",
			params: `{"records":[{"patient_id":"p1","record_data":{}}],"anonymize":true}`,
		},
		{
			name:   "anonymize non-object data",
			params: `{"records":[{"patient_id":"p1","record_data":[1,2]}],"anonymize":true}`,
			pseudo: true,
		},
		{
			name:   "bad parameters",
			params: `{"records":[],"unknown":1}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			records := memory.NewRecords()
			records.InsertErr = tt.insertErr
			opts := ImportOptions{Records: records, Fetcher: tt.fetcher}
			if tt.pseudo {
				opts.Pseudonymizer = newPseudonymizer(t)
			}
			im, err := NewImport(opts)
			require.NoError(t, err)

			_, err = im.Execute(context.Background(), importJob(t, json.RawMessage(tt.params)), &recordingProgress{})
			require.Error(t, err)
			assert.Equal(t, tt.recoverable, action.IsRecoverable(err), "error: %v", err)
		})
	}
}

func TestImport_ExecuteRejectsShrunkSource(t *testing.T) {
	tests := []struct {
		name      string
		total     *int
		processed int
		wantErr   string
	}{
		{name: "fewer than the recorded total", total: testutil.IntPtr(4), processed: 2, wantErr: "shrank from 4 to 1"},
		{name: "fewer than already imported", processed: 3, wantErr: "3 were already imported"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			records := memory.NewRecords()
			fetcher := &stubFetcher{records: []model.ImportRecord{{PatientID: "p1", RecordData: json.RawMessage(`{}`)}}}
			im, err := NewImport(ImportOptions{Records: records, Fetcher: fetcher})
			require.NoError(t, err)

			job := importJob(t, json.RawMessage(`{"source_url":"https://ehr.example.com/export"}`))
			job.TotalRecords = tt.total
			job.RecordsProcessed = tt.processed
			prog := &recordingProgress{}
			_, err = im.Execute(context.Background(), job, prog)
			require.Error(t, err)
			assert.False(t, action.IsRecoverable(err))
			assert.Contains(t, err.Error(), tt.wantErr)
			assert.Empty(t, prog.processed())
			assert.Zero(t, records.Count(job.DestinationOrgID))
		})
	}
}

func TestImport_ExecuteCancelledContext(t *testing.T) {
	im, err := NewImport(ImportOptions{Records: memory.NewRecords()})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = im.Execute(ctx, importJob(t, testutil.InlineImportParameters(3, 1)), &recordingProgress{})
	require.ErrorIs(t, err, context.Canceled)
}

func transferFixture(t *testing.T, params string) (*memory.Records, *model.MedicalRecord, *model.Job) {
	t.Helper()
	records := memory.NewRecords()
	srcOrg := uuid.NewString()
	src := records.Put(&model.MedicalRecord{
		PatientID:      "patient-42",
		OrganizationID: srcOrg,
		RecordData:     json.RawMessage(`{"name":"Jane Roe","allergies":["penicillin"]}`),
	})
	job := &model.Job{
		ID:               uuid.NewString(),
		Kind:             model.JobKindTransfer,
		SourceOrgID:      srcOrg,
		DestinationOrgID: uuid.NewString(),
		Status:           model.JobStatusProcessing,
		RecordID:         &src.ID,
		Parameters:       json.RawMessage(params),
	}
	return records, src, job
}

func TestTransfer_Execute(t *testing.T) {
	t.Run("copies record to destination once", func(t *testing.T) {
		records, src, job := transferFixture(t, `{}`)
		tr, err := NewTransfer(TransferOptions{Records: records})
		require.NoError(t, err)

		out, err := tr.Execute(context.Background(), job, &recordingProgress{})
		require.NoError(t, err)
		assert.Equal(t, "Successfully transferred record "+src.ID, out.Message)
		assert.Equal(t, 1, *out.RecordsProcessed)

		_, err = tr.Execute(context.Background(), job, &recordingProgress{})
		require.NoError(t, err)

		copies, err := records.ListByOrganization(context.Background(), job.DestinationOrgID, 0, 0)
		require.NoError(t, err)
		require.Len(t, copies, 1)
		assert.Equal(t, "patient-42", copies[0].PatientID)
		assert.JSONEq(t, string(src.RecordData), string(copies[0].RecordData))
		assert.Equal(t, 1, records.Count(job.SourceOrgID), "source record is kept")
	})

	t.Run("anonymized push to external EHR", func(t *testing.T) {
		records, _, job := transferFixture(t, `{"anonymize":true,"callback_url":"https://ehr.example.com/in"}`)
		pusher := &stubPusher{}
		tr, err := NewTransfer(TransferOptions{Records: records, Pusher: pusher, Pseudonymizer: newPseudonymizer(t)})
		require.NoError(t, err)

		_, err = tr.Execute(context.Background(), job, &recordingProgress{})
		require.NoError(t, err)
		require.Len(t, pusher.pushed, 1)
		pushed := pusher.pushed[0]
		assert.True(t, pushed.IsAnonymous)
		assert.Equal(t, job.DestinationOrgID, pushed.OrganizationID)
		assert.NotEqual(t, "patient-42", pushed.PatientID)
		assert.NotContains(t, string(pushed.RecordData), "Jane")
		assert.Contains(t, string(pushed.RecordData), "penicillin")
	})

	t.Run("push failure keeps its class", func(t *testing.T) {
		records, _, job := transferFixture(t, `{"callback_url":"https://ehr.example.com/in"}`)
		tr, err := NewTransfer(TransferOptions{Records: records, Pusher: &stubPusher{err: action.Recoverablef("status 502")}})
		require.NoError(t, err)

		_, err = tr.Execute(context.Background(), job, &recordingProgress{})
		require.Error(t, err)
		assert.True(t, action.IsRecoverable(err))
	})
}

func TestTransfer_ExecuteUnrecoverable(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(job *model.Job)
	}{
		{"record missing", func(job *model.Job) { job.RecordID = testutil.StringPtr(uuid.NewString()) }},
		{"record owned by another organization", func(job *model.Job) { job.SourceOrgID = uuid.NewString() }},
		{"no record id", func(job *model.Job) { job.RecordID = nil }},
		{"wrong kind parameters", func(job *model.Job) { job.Parameters = json.RawMessage(`{"batch_size":5}`) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			records, _, job := transferFixture(t, `{}`)
			tt.mutate(job)
			tr, err := NewTransfer(TransferOptions{Records: records})
			require.NoError(t, err)

			_, err = tr.Execute(context.Background(), job, &recordingProgress{})
			require.Error(t, err)
			assert.Equal(t, action.ClassUnrecoverable, action.ClassOf(err))
			assert.Zero(t, records.Count(job.DestinationOrgID))
		})
	}
}

func TestInvalidParametersAreTagged(t *testing.T) {
	im, err := NewImport(ImportOptions{Records: memory.NewRecords()})
	require.NoError(t, err)
	_, err = im.Execute(context.Background(), importJob(t, json.RawMessage(`{"batch_size":-1}`)), &recordingProgress{})
	require.ErrorIs(t, err, action.ErrInvalidParameters)

	records, _, job := transferFixture(t, `{"format":"xml"}`)
	tr, err := NewTransfer(TransferOptions{Records: records})
	require.NoError(t, err)
	_, err = tr.Execute(context.Background(), job, &recordingProgress{})
	require.ErrorIs(t, err, action.ErrInvalidParameters)
}

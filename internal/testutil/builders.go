// Package testutil provides testing utilities and helpers for recordflow.
package testutil

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/target/recordflow/internal/domain/model"
)

// JobRequestBuilder provides a fluent interface for building CreateJobRequest objects for testing.
type JobRequestBuilder struct {
	req *model.CreateJobRequest
}

// NewImportRequest creates an import request with two inline records between two fresh organizations.
func NewImportRequest() *JobRequestBuilder {
	return &JobRequestBuilder{
		req: &model.CreateJobRequest{
			Kind:             model.JobKindImport,
			SourceOrgID:      uuid.NewString(),
			DestinationOrgID: uuid.NewString(),
			Parameters:       InlineImportParameters(2, 0),
		},
	}
}

// NewTransferRequest creates a transfer request for a fresh record between two fresh organizations.
func NewTransferRequest() *JobRequestBuilder {
	recordID := uuid.NewString()
	return &JobRequestBuilder{
		req: &model.CreateJobRequest{
			Kind:             model.JobKindTransfer,
			SourceOrgID:      uuid.NewString(),
			DestinationOrgID: uuid.NewString(),
			Parameters:       json.RawMessage(`{"format":"json"}`),
			RecordID:         &recordID,
		},
	}
}

// WithOrganizations sets source and destination.
func (b *JobRequestBuilder) WithOrganizations(source, destination string) *JobRequestBuilder {
	b.req.SourceOrgID = source
	b.req.DestinationOrgID = destination
	return b
}

// WithRecordID sets the transferred record.
func (b *JobRequestBuilder) WithRecordID(id string) *JobRequestBuilder {
	b.req.RecordID = &id
	return b
}

// WithParameters sets the raw parameter payload.
func (b *JobRequestBuilder) WithParameters(raw json.RawMessage) *JobRequestBuilder {
	b.req.Parameters = raw
	return b
}

// WithParametersString sets the raw parameter payload from a string.
func (b *JobRequestBuilder) WithParametersString(raw string) *JobRequestBuilder {
	b.req.Parameters = json.RawMessage(raw)
	return b
}

// WithCallbackURL sets the import completion callback.
func (b *JobRequestBuilder) WithCallbackURL(u string) *JobRequestBuilder {
	b.req.CallbackURL = &u
	return b
}

// WithCreatedBy sets the requesting user.
func (b *JobRequestBuilder) WithCreatedBy(user string) *JobRequestBuilder {
	b.req.CreatedBy = &user
	return b
}

// Build returns the constructed CreateJobRequest.
func (b *JobRequestBuilder) Build() *model.CreateJobRequest {
	return b.req
}

// InlineImportParameters returns import parameters carrying n inline records. A zero
// batchSize leaves the default in place.
func InlineImportParameters(n, batchSize int) json.RawMessage {
	params := model.ImportParameters{BatchSize: batchSize, Records: make([]model.ImportRecord, n)}
	for i := range params.Records {
		params.Records[i] = model.ImportRecord{
			PatientID:  fmt.Sprintf("patient-%03d", i+1),
			RecordData: json.RawMessage(fmt.Sprintf(`{"seq":%d,"diagnosis":"J45.909"}`, i+1)),
		}
	}
	raw, err := json.Marshal(params)
	if err != nil {
		panic(err)
	}
	return raw
}

// SampleOrganization returns an organization insert request with a unique CMJ.
func SampleOrganization(name string) *model.CreateOrganizationRequest {
	return &model.CreateOrganizationRequest{
		Name: name,
		CMJ:  "CMJ-" + uuid.NewString()[:8],
	}
}

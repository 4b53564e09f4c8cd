package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// DefaultImportBatchSize is used when an import does not specify a batch size.
const DefaultImportBatchSize = 50

// MaxImportBatchSize bounds the number of records written per progress step.
const MaxImportBatchSize = 1000

// RecordFormat names the serialization of transferred record data.
type RecordFormat string

const (
	// RecordFormatJSON is the service's native record representation.
	RecordFormatJSON RecordFormat = "json"
	// RecordFormatFHIR marks records already shaped as FHIR resources.
	RecordFormatFHIR RecordFormat = "fhir"
	// RecordFormatHL7 marks records carrying HL7 v2 payloads.
	RecordFormatHL7 RecordFormat = "hl7"
)

// Valid returns true if the format is known. The empty format means JSON.
func (f RecordFormat) Valid() bool {
	switch f {
	case "", RecordFormatJSON, RecordFormatFHIR, RecordFormatHL7:
		return true
	default:
		return false
	}
}

// TransferParameters configures a transfer job.
type TransferParameters struct {
	Format         RecordFormat `json:"format,omitempty"`
	Anonymize      bool         `json:"anonymize,omitempty"`
	IncludeHistory bool         `json:"include_history,omitempty"`
	Reason         string       `json:"reason,omitempty"`
	// CallbackURL, when set, receives the transferred record as an HTTP POST.
	CallbackURL string `json:"callback_url,omitempty"`
}

// ImportRecord is a single inbound record in an import payload.
type ImportRecord struct {
	PatientID  string          `json:"patient_id"`
	RecordData json.RawMessage `json:"record_data"`
}

// ImportParameters configures an import job. Exactly one of Records or SourceURL is set.
type ImportParameters struct {
	Format    RecordFormat   `json:"format,omitempty"`
	BatchSize int            `json:"batch_size,omitempty"`
	SourceURL string         `json:"source_url,omitempty"`
	Records   []ImportRecord `json:"records,omitempty"`
	Anonymize bool           `json:"anonymize,omitempty"`
}

// EffectiveBatchSize returns the configured batch size or the default.
func (p *ImportParameters) EffectiveBatchSize() int {
	if p.BatchSize <= 0 {
		return DefaultImportBatchSize
	}
	return p.BatchSize
}

// JobParameters is the decoded, kind-specific parameter payload.
type JobParameters struct {
	Transfer *TransferParameters
	Import   *ImportParameters
}

// DecodeParameters strictly decodes a raw payload for the given kind and validates it.
func DecodeParameters(kind JobKind, raw json.RawMessage) (JobParameters, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		raw = json.RawMessage(`{}`)
	}
	switch kind {
	case JobKindTransfer:
		var p TransferParameters
		if err := decodeStrict(raw, &p); err != nil {
			return JobParameters{}, fmt.Errorf("invalid transfer parameters: %w", err)
		}
		if err := p.validate(); err != nil {
			return JobParameters{}, err
		}
		return JobParameters{Transfer: &p}, nil
	case JobKindImport:
		var p ImportParameters
		if err := decodeStrict(raw, &p); err != nil {
			return JobParameters{}, fmt.Errorf("invalid import parameters: %w", err)
		}
		if err := p.validate(); err != nil {
			return JobParameters{}, err
		}
		return JobParameters{Import: &p}, nil
	default:
		return JobParameters{}, fmt.Errorf("invalid job kind: %q", kind)
	}
}

func decodeStrict(raw json.RawMessage, dst any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func (p *TransferParameters) validate() error {
	if !p.Format.Valid() {
		return fmt.Errorf("format must be one of: json, fhir, hl7 (got %q)", p.Format)
	}
	if len(p.Reason) > 500 {
		return errors.New("reason cannot exceed 500 characters")
	}
	if p.CallbackURL != "" {
		return validateCallbackURL(p.CallbackURL)
	}
	return nil
}

func (p *ImportParameters) validate() error {
	if !p.Format.Valid() {
		return fmt.Errorf("format must be one of: json, fhir, hl7 (got %q)", p.Format)
	}
	if p.BatchSize < 0 || p.BatchSize > MaxImportBatchSize {
		return fmt.Errorf("batch_size must be between 0 and %d", MaxImportBatchSize)
	}
	hasURL := strings.TrimSpace(p.SourceURL) != ""
	if hasURL == (len(p.Records) > 0) {
		return errors.New("exactly one of records or source_url is required")
	}
	if hasURL {
		if err := validateCallbackURL(p.SourceURL); err != nil {
			return fmt.Errorf("source_url: %w", err)
		}
	}
	for i := range p.Records {
		if strings.TrimSpace(p.Records[i].PatientID) == "" {
			return fmt.Errorf("records[%d].patient_id is required and cannot be empty", i)
		}
		if len(p.Records[i].RecordData) == 0 || !json.Valid(p.Records[i].RecordData) {
			return fmt.Errorf("records[%d].record_data must be valid JSON", i)
		}
	}
	return nil
}

func validateCallbackURL(raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return errors.New("must be a valid URL")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.New("must use http or https scheme")
	}
	if u.Host == "" {
		return errors.New("must have a valid host")
	}
	return nil
}

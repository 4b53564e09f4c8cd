package model

import (
	"encoding/json"
	"time"
)

// Organization is a healthcare organization that owns medical records.
type Organization struct {
	ID        string     `json:"id"                   db:"id"`
	Name      string     `json:"name"                 db:"name"`
	Address   *string    `json:"address,omitempty"    db:"address"`
	CMJ       string     `json:"cmj"                  db:"cmj"`
	CIN       *string    `json:"cin,omitempty"        db:"cin"`
	CreatedAt time.Time  `json:"created_at"           db:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"           db:"updated_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty" db:"deleted_at"`
}

// Active reports whether the organization has not been soft-deleted.
func (o *Organization) Active() bool {
	return o.DeletedAt == nil
}

// MedicalRecord is a patient record owned by one organization.
type MedicalRecord struct {
	ID             string          `json:"id"              db:"id"`
	PatientID      string          `json:"patient_id"      db:"patient_id"`
	OrganizationID string          `json:"organization_id" db:"organization_id"`
	RecordData     json.RawMessage `json:"record_data"     db:"record_data"`
	IsAnonymous    bool            `json:"is_anonymous"    db:"is_anonymous"`
	CreatedAt      time.Time       `json:"created_at"      db:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"      db:"updated_at"`
}

// NewMedicalRecord is the insert shape for a medical record. SourceJobID and SourceSeq
// identify the job write that produced it; a repeated (SourceJobID, SourceSeq) pair is
// skipped on insert.
type NewMedicalRecord struct {
	PatientID      string
	OrganizationID string
	RecordData     json.RawMessage
	IsAnonymous    bool
	SourceJobID    *string
	SourceSeq      int
}

// CreateOrganizationRequest is the insert shape for an organization.
type CreateOrganizationRequest struct {
	Name    string  `json:"name"`
	Address *string `json:"address,omitempty"`
	CMJ     string  `json:"cmj"`
	CIN     *string `json:"cin,omitempty"`
}

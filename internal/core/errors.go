package core

import "errors"

// Sentinel errors shared by every JobRepository implementation.
var (
	// ErrJobNotFound is returned when no job row has the requested id.
	ErrJobNotFound = errors.New("job not found")
	// ErrJobConflict is returned when a versioned update lost a race with another writer.
	ErrJobConflict = errors.New("job was modified concurrently")
	// ErrOrganizationNotFound is returned when no organization has the requested id.
	ErrOrganizationNotFound = errors.New("organization not found")
	// ErrRecordNotFound is returned when no medical record has the requested id.
	ErrRecordNotFound = errors.New("medical record not found")
)

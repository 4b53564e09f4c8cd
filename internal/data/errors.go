package data

import (
	"errors"

	"github.com/target/recordflow/internal/core"
)

// Sentinel errors for data-layer repositories. The job and lookup errors alias the core
// ports so callers can match either name.
var (
	ErrJobNotFound          = core.ErrJobNotFound
	ErrJobConflict          = core.ErrJobConflict
	ErrOrganizationNotFound = core.ErrOrganizationNotFound
	ErrRecordNotFound       = core.ErrRecordNotFound
	// ErrInvalidKind is returned when a repository call names an unknown job kind.
	ErrInvalidKind = errors.New("invalid job kind")
)

var (
	_ core.JobRepository           = (*JobRepo)(nil)
	_ core.ReaperLocker            = (*JobRepo)(nil)
	_ core.OrganizationRepository  = (*OrganizationRepo)(nil)
	_ core.MedicalRecordRepository = (*MedicalRecordRepo)(nil)
	_ core.CacheRepository         = (*RedisCacheRepo)(nil)
)

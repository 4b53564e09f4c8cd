//revive:disable-next-line:var-naming // legacy package name widely used across the project
package model

// JobListOptions groups parameters for listing jobs with optional filters.
type JobListOptions struct {
	Kind           JobKind    // Required: selects the table
	OrganizationID *string    // Optional: matches source or destination organization
	RecordID       *string    // Optional: transfers of a specific medical record
	Status         *JobStatus // Optional filter by status
	Limit          int        // Pagination limit
	Offset         int        // Pagination offset
}

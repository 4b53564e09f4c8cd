package errors

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// reKeyField extracts field name from unique violation detail: "Key (field)=(value) already exists.".
	reKeyField = regexp.MustCompile(`Key \(([^)]+)\)=`)
	// reNotPresent detects missing parent: "... is not present in table ...".
	reNotPresent = regexp.MustCompile(`is not present in table "?([^"]+)"?`)
)

// MapDBError maps database errors to AppError instances:
//   - pgx.ErrNoRows → NotFound
//   - unique violations, serialization failures, deadlocks → Conflict
//   - foreign key violations → ForeignKey
//   - check / NOT NULL / invalid text representation → Validation
//   - context deadline / cancellation → Timeout / Canceled
//
// Unrecognized errors are returned unchanged.
func MapDBError(err error) error {
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &AppError{Code: ErrCodeTimeout, Message: "Request timed out. Please try again.", Cause: err}
	case errors.Is(err, context.Canceled):
		return &AppError{Code: ErrCodeCanceled, Message: "Request was canceled.", Cause: err}
	case errors.Is(err, pgx.ErrNoRows):
		return &AppError{Code: ErrCodeNotFound, Message: "Resource not found", Cause: err}
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return mapPgError(pgErr)
	}
	return err
}

func mapPgError(pgErr *pgconn.PgError) error {
	switch pgErr.Code {
	case pgerrcode.UniqueViolation:
		return &AppError{
			Code:    ErrCodeConflict,
			Message: "This value already exists. Please choose a different one.",
			Field:   uniqueField(pgErr),
			Cause:   pgErr,
		}
	case pgerrcode.SerializationFailure, pgerrcode.DeadlockDetected, pgerrcode.LockNotAvailable:
		return &AppError{Code: ErrCodeConflict, Message: "Concurrent update detected. Please retry.", Cause: pgErr}
	case pgerrcode.ForeignKeyViolation:
		return &AppError{Code: ErrCodeForeignKey, Message: foreignKeyMessage(pgErr), Cause: pgErr}
	case pgerrcode.CheckViolation:
		return &AppError{
			Code:    ErrCodeValidation,
			Message: checkMessage(pgErr.ConstraintName),
			Field:   pgErr.ColumnName,
			Cause:   pgErr,
		}
	case pgerrcode.NotNullViolation:
		return &AppError{Code: ErrCodeValidation, Message: "This field is required.", Field: pgErr.ColumnName, Cause: pgErr}
	case pgerrcode.InvalidTextRepresentation:
		return &AppError{Code: ErrCodeValidation, Message: "Malformed identifier or value.", Cause: pgErr}
	default:
		return &AppError{Code: ErrCodeInternal, Message: "A database error occurred. Please try again.", Cause: pgErr}
	}
}

func uniqueField(pgErr *pgconn.PgError) string {
	if pgErr.ColumnName != "" {
		return pgErr.ColumnName
	}
	if m := reKeyField.FindStringSubmatch(pgErr.Detail); len(m) == 2 {
		return m[1]
	}
	return ""
}

func foreignKeyMessage(pgErr *pgconn.PgError) string {
	table := pgErr.TableName
	if m := reNotPresent.FindStringSubmatch(pgErr.Detail); len(m) == 2 {
		table = m[1]
	}
	if table == "" {
		return "Cannot complete operation because a referenced item does not exist."
	}
	return "Cannot complete operation because the referenced " + tableDomain(table) + " does not exist."
}

func checkMessage(constraint string) string {
	switch {
	case strings.Contains(constraint, "records_processed"):
		return "records_processed cannot exceed total_records."
	case strings.Contains(constraint, "status"):
		return "Status is not allowed for this job kind."
	default:
		return "Invalid data. Please check your input."
	}
}

func tableDomain(table string) string {
	switch strings.ToLower(strings.TrimSpace(table)) {
	case "organizations":
		return "organization"
	case "medical_records":
		return "medical record"
	case "transfer_logs":
		return "transfer job"
	case "import_jobs":
		return "import job"
	default:
		return strings.ReplaceAll(table, "_", " ")
	}
}

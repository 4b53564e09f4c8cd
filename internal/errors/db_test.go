package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

func TestMapDBError_NilError(t *testing.T) {
	if err := MapDBError(nil); err != nil {
		t.Errorf("MapDBError(nil) = %v, want nil", err)
	}
}

func TestMapDBError_Codes(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantCode  ErrorCode
		wantField string
	}{
		{name: "deadline exceeded", err: context.DeadlineExceeded, wantCode: ErrCodeTimeout},
		{name: "canceled", err: fmt.Errorf("query: %w", context.Canceled), wantCode: ErrCodeCanceled},
		{name: "no rows", err: pgx.ErrNoRows, wantCode: ErrCodeNotFound},
		{
			name:      "unique with column",
			err:       &pgconn.PgError{Code: pgerrcode.UniqueViolation, ColumnName: "cmj"},
			wantCode:  ErrCodeConflict,
			wantField: "cmj",
		},
		{
			name: "unique with detail",
			err: &pgconn.PgError{
				Code:   pgerrcode.UniqueViolation,
				Detail: `Key (cmj)=(CMJ-001) already exists.`,
			},
			wantCode:  ErrCodeConflict,
			wantField: "cmj",
		},
		{name: "serialization", err: &pgconn.PgError{Code: pgerrcode.SerializationFailure}, wantCode: ErrCodeConflict},
		{name: "deadlock", err: &pgconn.PgError{Code: pgerrcode.DeadlockDetected}, wantCode: ErrCodeConflict},
		{name: "foreign key", err: &pgconn.PgError{Code: pgerrcode.ForeignKeyViolation}, wantCode: ErrCodeForeignKey},
		{
			name:      "not null",
			err:       &pgconn.PgError{Code: pgerrcode.NotNullViolation, ColumnName: "source_org_id"},
			wantCode:  ErrCodeValidation,
			wantField: "source_org_id",
		},
		{name: "check", err: &pgconn.PgError{Code: pgerrcode.CheckViolation}, wantCode: ErrCodeValidation},
		{name: "bad uuid text", err: &pgconn.PgError{Code: pgerrcode.InvalidTextRepresentation}, wantCode: ErrCodeValidation},
		{name: "other pg error", err: &pgconn.PgError{Code: pgerrcode.DiskFull}, wantCode: ErrCodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := MapDBError(tt.err)
			if got := GetCode(err); got != tt.wantCode {
				t.Fatalf("MapDBError() code = %q, want %q", got, tt.wantCode)
			}
			if got := GetField(err); got != tt.wantField {
				t.Errorf("MapDBError() field = %q, want %q", got, tt.wantField)
			}
			if !errors.Is(err, tt.err) {
				var pgErr *pgconn.PgError
				if !errors.As(err, &pgErr) {
					t.Errorf("MapDBError() lost the cause chain: %v", err)
				}
			}
		})
	}
}

func TestMapDBError_ForeignKeyMessage(t *testing.T) {
	err := MapDBError(&pgconn.PgError{
		Code:   pgerrcode.ForeignKeyViolation,
		Detail: `Key (source_org_id)=(x) is not present in table "organizations".`,
	})
	want := "Cannot complete operation because the referenced organization does not exist."
	var appErr *AppError
	if !errors.As(err, &appErr) || appErr.Message != want {
		t.Errorf("message = %q, want %q", appErr.Message, want)
	}
}

func TestMapDBError_CheckMessage(t *testing.T) {
	err := MapDBError(&pgconn.PgError{
		Code:           pgerrcode.CheckViolation,
		ConstraintName: "import_jobs_records_processed_check",
	})
	var appErr *AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("expected AppError, got %T", err)
	}
	if appErr.Message != "records_processed cannot exceed total_records." {
		t.Errorf("unexpected message %q", appErr.Message)
	}
}

func TestMapDBError_StandardError(t *testing.T) {
	orig := errors.New("plain")
	if err := MapDBError(orig); !errors.Is(err, orig) || GetCode(err) != "" {
		t.Errorf("MapDBError(plain) = %v, want the original error", err)
	}
}

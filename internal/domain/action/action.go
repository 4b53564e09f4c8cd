// Package action defines the work a dispatcher performs for a claimed job and how action
// failures are classified for retry.
package action

import (
	"context"
	"errors"
	"fmt"

	"github.com/target/recordflow/internal/domain/model"
)

// Progress receives advisory progress from a running action. A non-nil error means the
// job was taken away from the caller (cancelled or reaped) and the action must stop.
type Progress interface {
	Report(ctx context.Context, processed int, total *int, message string) error
}

// Outcome is what a successful action reports back for the final transition.
type Outcome struct {
	Message          string
	RecordsProcessed *int
	TotalRecords     *int
}

// Action executes the side effects of one job attempt. Returned errors should be wrapped
// with Recoverable or Unrecoverable; unclassified errors are treated as unrecoverable.
type Action interface {
	Execute(ctx context.Context, job *model.Job, progress Progress) (Outcome, error)
}

// Func adapts a function to the Action interface.
type Func func(ctx context.Context, job *model.Job, progress Progress) (Outcome, error)

// Execute implements Action.
func (f Func) Execute(ctx context.Context, job *model.Job, progress Progress) (Outcome, error) {
	return f(ctx, job, progress)
}

// ErrInvalidParameters marks a job whose stored parameters the action cannot use.
var ErrInvalidParameters = errors.New("invalid job parameters")

// Class tags an action failure.
type Class string

const (
	// ClassRecoverable marks transient failures worth retrying.
	ClassRecoverable Class = "recoverable"
	// ClassUnrecoverable marks failures that retrying cannot fix.
	ClassUnrecoverable Class = "unrecoverable"
)

// Error is a classified action failure.
type Error struct {
	class Class
	err   error
}

func (e *Error) Error() string { return e.err.Error() }

func (e *Error) Unwrap() error { return e.err }

// Class implements the observability classifier.
func (e *Error) Class() string { return "action_" + string(e.class) }

// Recoverable marks err as transient. A nil err stays nil.
func Recoverable(err error) error {
	if err == nil {
		return nil
	}
	return &Error{class: ClassRecoverable, err: err}
}

// Unrecoverable marks err as permanent. A nil err stays nil.
func Unrecoverable(err error) error {
	if err == nil {
		return nil
	}
	return &Error{class: ClassUnrecoverable, err: err}
}

// Recoverablef formats a transient failure.
func Recoverablef(format string, args ...any) error {
	return Recoverable(fmt.Errorf(format, args...))
}

// Unrecoverablef formats a permanent failure.
func Unrecoverablef(format string, args ...any) error {
	return Unrecoverable(fmt.Errorf(format, args...))
}

// ClassOf returns the outermost classification in err's chain. Unclassified errors are
// unrecoverable.
func ClassOf(err error) Class {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.class
	}
	return ClassUnrecoverable
}

// IsRecoverable reports whether err was classified as transient.
func IsRecoverable(err error) bool {
	return err != nil && ClassOf(err) == ClassRecoverable
}

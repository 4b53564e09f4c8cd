// Package lifecycle holds the job status state machine.
//
// The machine is a pure table: it decides whether an edge is legal and what status it
// leads to. Exclusivity of the PENDING to PROCESSING edge is not decided here; the store
// enforces it with a versioned conditional update.
package lifecycle

import (
	"errors"
	"fmt"

	"github.com/target/recordflow/internal/domain/model"
)

// Transition names an edge of the state machine.
type Transition string

const (
	// Start claims a pending job for execution.
	Start Transition = "start"
	// Succeed finishes a processing job successfully.
	Succeed Transition = "succeed"
	// Fail finishes a processing job unsuccessfully.
	Fail Transition = "fail"
	// Cancel stops an import job before it finishes.
	Cancel Transition = "cancel"
)

var (
	// ErrInvalidTransition is returned for any edge missing from the state table.
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrTerminalState is returned when a transition is attempted from a terminal status.
	ErrTerminalState = errors.New("terminal state violation")
)

type edge struct {
	from model.JobStatus
	via  Transition
}

//nolint:gochecknoglobals // immutable transition tables
var (
	commonEdges = map[edge]model.JobStatus{
		{model.JobStatusPending, Start}:      model.JobStatusProcessing,
		{model.JobStatusProcessing, Succeed}: model.JobStatusCompleted,
		{model.JobStatusProcessing, Fail}:    model.JobStatusFailed,
	}
	importEdges = map[edge]model.JobStatus{
		{model.JobStatusPending, Cancel}:    model.JobStatusCancelled,
		{model.JobStatusProcessing, Cancel}: model.JobStatusCancelled,
	}
)

// TransitionError carries the rejected edge. It matches ErrInvalidTransition or
// ErrTerminalState via errors.Is.
type TransitionError struct {
	Kind       model.JobKind
	From       model.JobStatus
	Transition Transition
	cause      error
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: %s job cannot %s from %s", e.cause, e.Kind, e.Transition, e.From)
}

func (e *TransitionError) Unwrap() error { return e.cause }

// Next returns the status reached by applying t to a job of the given kind in status from.
func Next(kind model.JobKind, from model.JobStatus, t Transition) (model.JobStatus, error) {
	if from.Terminal() {
		return "", &TransitionError{Kind: kind, From: from, Transition: t, cause: ErrTerminalState}
	}
	if to, ok := commonEdges[edge{from, t}]; ok {
		return to, nil
	}
	if kind == model.JobKindImport {
		if to, ok := importEdges[edge{from, t}]; ok {
			return to, nil
		}
	}
	return "", &TransitionError{Kind: kind, From: from, Transition: t, cause: ErrInvalidTransition}
}

// Allowed lists the transitions legal from the given status, in a stable order.
func Allowed(kind model.JobKind, from model.JobStatus) []Transition {
	var out []Transition
	for _, t := range []Transition{Start, Succeed, Fail, Cancel} {
		if _, err := Next(kind, from, t); err == nil {
			out = append(out, t)
		}
	}
	return out
}

// Valid returns true if t names a known transition.
func (t Transition) Valid() bool {
	return t == Start || t == Succeed || t == Fail || t == Cancel
}

package core

import (
	"errors"
	"fmt"
)

// Sentinel errors for comparison via errors.Is(). These correspond to the
// error kinds in spec §7 and are wrapped by FrameworkError for context.
var (
	// ErrInvalidInput covers malformed requests and strategy/payload mismatches.
	ErrInvalidInput = errors.New("invalid input")

	// ErrMalformedRequest is returned by the request parser on an empty blob
	// or a request line missing its method or target.
	ErrMalformedRequest = errors.New("malformed request")

	// ErrInvalidExpansion covers payload-set/strategy cardinality mismatches.
	ErrInvalidExpansion = errors.New("invalid expansion")

	// ErrNotFound covers a missing CorpusRun, Job, or JobResult.
	ErrNotFound = errors.New("not found")

	// ErrForbiddenTransition covers illegal Job status transitions, including
	// resume from a non-terminal state and delete of a CorpusRun with active jobs.
	ErrForbiddenTransition = errors.New("forbidden state transition")

	// ErrStorageFailure covers persistent-store access failures.
	ErrStorageFailure = errors.New("storage error")

	// ErrInterrupted is the synthetic terminal error assigned to jobs found
	// RUNNING at process restart.
	ErrInterrupted = errors.New("interrupted")
)

// FrameworkError provides structured error information with context,
// wrapping one of the sentinels above. It implements error and Unwrap so
// callers can use errors.Is/As against the sentinel values.
type FrameworkError struct {
	Op      string // operation that failed, e.g. "jobs.Resume"
	Kind    string // error kind label, e.g. "forbidden_transition"
	ID      string // optional id of the entity involved (job id, run id)
	Message string // human-readable detail
	Err     error  // wrapped sentinel
}

func (e *FrameworkError) Error() string {
	if e.Op != "" && e.Err != nil {
		if e.ID != "" {
			return fmt.Sprintf("%s [%s]: %s: %v", e.Op, e.ID, e.Message, e.Err)
		}
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Err)
	}
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s error", e.Kind)
}

func (e *FrameworkError) Unwrap() error {
	return e.Err
}

// NewError builds a FrameworkError wrapping one of the package sentinels.
func NewError(op, kind string, err error, message string) *FrameworkError {
	return &FrameworkError{Op: op, Kind: kind, Err: err, Message: message}
}

// NewErrorWithID is NewError plus the id of the entity involved.
func NewErrorWithID(op, kind, id string, err error, message string) *FrameworkError {
	return &FrameworkError{Op: op, Kind: kind, ID: id, Err: err, Message: message}
}

// IsNotFound reports whether err (or anything it wraps) is ErrNotFound.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsInvalidInput reports whether err is ErrInvalidInput or ErrInvalidExpansion.
func IsInvalidInput(err error) bool {
	return errors.Is(err, ErrInvalidInput) || errors.Is(err, ErrInvalidExpansion)
}

// IsForbiddenTransition reports whether err is ErrForbiddenTransition.
func IsForbiddenTransition(err error) bool { return errors.Is(err, ErrForbiddenTransition) }

// IsStorageFailure reports whether err is ErrStorageFailure.
func IsStorageFailure(err error) bool { return errors.Is(err, ErrStorageFailure) }

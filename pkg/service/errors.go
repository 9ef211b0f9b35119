package service

import (
	"fmt"

	"github.com/pkg/errors"
)

// ValidationKind identifies the rule a ValidationError violated.
type ValidationKind string

const (
	SelfReferenceValidation      ValidationKind = "self_reference"
	DependencyCycleValidation    ValidationKind = "dependency_cycle"
	AlreadyArchivedValidation    ValidationKind = "already_archived"
	HasChildrenValidation        ValidationKind = "has_children"
	ProjectMismatchValidation    ValidationKind = "project_mismatch"
	IndexOutOfRangeValidation    ValidationKind = "index_out_of_range"
	EmptyInputValidation         ValidationKind = "empty_input"
	NegativeHoursValidation      ValidationKind = "negative_hours"
	UnparsableResponseValidation ValidationKind = "unparsable_response"
)

// NotFoundError indicates a referenced row does not exist.
type NotFoundError struct {
	Resource string
	ID       int64
}

func (e *NotFoundError) Error() string {
	if e.ID == 0 {
		return fmt.Sprintf("%s not found", e.Resource)
	}
	return fmt.Sprintf("%s with id %d not found", e.Resource, e.ID)
}

// ValidationError indicates invalid input or a violated structural rule. The
// enclosing transaction is always rolled back.
type ValidationError struct {
	Kind    ValidationKind
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// TimerConflictError indicates an operation on the running timer that cannot
// proceed, e.g. stopping when nothing is running.
type TimerConflictError struct {
	Message string
}

func (e *TimerConflictError) Error() string {
	return e.Message
}

// ServiceUnavailableError means the external reasoning service cannot be used
// at all (missing credential or client). Never retried.
type ServiceUnavailableError struct {
	Service string
	Reason  string
}

func (e *ServiceUnavailableError) Error() string {
	return fmt.Sprintf("%s unavailable: %s", e.Service, e.Reason)
}

// UpstreamError is a non-transient failure reported by the external service.
type UpstreamError struct {
	Service    string
	StatusCode int
	Message    string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s error (status %d): %s", e.Service, e.StatusCode, e.Message)
}

// RetriesExhaustedError is returned after transient upstream failures
// (rate limits, connectivity) survived every backoff attempt.
type RetriesExhaustedError struct {
	Service  string
	Attempts int
	Last     error
}

func (e *RetriesExhaustedError) Error() string {
	return fmt.Sprintf("%s call failed after %d attempts: %v", e.Service, e.Attempts, e.Last)
}

func (e *RetriesExhaustedError) Unwrap() error {
	return e.Last
}

// IsNotFound reports whether err is (or wraps) a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsValidation reports whether err is (or wraps) a ValidationError,
// optionally filtered by kind.
func IsValidation(err error, kinds ...ValidationKind) bool {
	var ve *ValidationError
	if !errors.As(err, &ve) {
		return false
	}
	if len(kinds) == 0 {
		return true
	}
	for _, k := range kinds {
		if ve.Kind == k {
			return true
		}
	}
	return false
}

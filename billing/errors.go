/*
errors.go - Centralized error types for the billing core

ERROR CATEGORIES:
  1. Validation - bad percentage, missing staff, malformed input. Nothing written.
  2. NotFound   - referenced assignment/session/component/staff does not exist.
  3. Exhausted  - no sessions remaining on a plain treatment. Checked before any write.
  4. Storage    - persistence failure mid-transaction. The transaction is rolled back.

USAGE:
  if errors.Is(err, billing.ErrValidation) { ... }

  var nf *billing.NotFoundError
  if errors.As(err, &nf) {
      fmt.Println(nf.Entity, nf.ID)
  }
*/
package billing

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation matches every *ValidationError.
	ErrValidation = errors.New("validation failed")

	// ErrInvalidPercentage is returned when a commission percentage is outside [0, 100].
	ErrInvalidPercentage = errors.New("percentage must be between 0 and 100")

	// ErrNoStaffSelected is returned when no staff member could be resolved.
	ErrNoStaffSelected = errors.New("no staff member selected")

	// ErrInvalidInput is returned for malformed or non-numeric input.
	ErrInvalidInput = errors.New("invalid input")

	// ErrNotFound matches every *NotFoundError.
	ErrNotFound = errors.New("not found")

	// ErrNoSessionsRemaining is returned when a plain treatment has no sessions left.
	ErrNoSessionsRemaining = errors.New("no sessions remaining")

	// ErrStorage matches every *StorageError.
	ErrStorage = errors.New("storage failure")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError reports rejected input.
type ValidationError struct {
	Field string
	Err   error
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation failed: %v", e.Err)
	}
	return fmt.Sprintf("validation failed on %s: %v", e.Field, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

func invalid(field string, err error) error {
	return &ValidationError{Field: field, Err: err}
}

func invalidf(field, format string, args ...any) error {
	return &ValidationError{Field: field, Err: fmt.Errorf("%w: "+format, append([]any{ErrInvalidInput}, args...)...)}
}

// NotFoundError reports a missing entity.
type NotFoundError struct {
	Entity string // "assignment", "session", "component", "staff", "treatment"
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Entity, e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// ExhaustedError is returned when registering a session on a finalized
// assignment, or on a scope whose remaining-session counter is already zero.
// Component is empty for plain treatments.
type ExhaustedError struct {
	AssignmentID string
	Component    string
}

func (e *ExhaustedError) Error() string {
	if e.Component != "" {
		return fmt.Sprintf("assignment %s: no sessions remaining for component %s", e.AssignmentID, e.Component)
	}
	return fmt.Sprintf("assignment %s: all sessions have been completed", e.AssignmentID)
}

func (e *ExhaustedError) Unwrap() error { return ErrNoSessionsRemaining }

// StorageError wraps an unclassified persistence failure.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func (e *StorageError) Is(target error) bool { return target == ErrStorage }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) || errors.Is(err, ErrNoSessionsRemaining)
}

// IsNotFound returns true if the error indicates a missing entity.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// classify leaves domain errors untouched and wraps everything else as a
// StorageError so callers see one generic failure kind.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrValidation) || errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrNoSessionsRemaining) || errors.Is(err, ErrStorage) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

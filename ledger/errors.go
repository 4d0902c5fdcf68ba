/*
errors.go - Centralized error types for the ledger engine

ERROR CATEGORIES:
  1. Validation errors - rejected before any mutation (bad month, bad amount,
     unknown participant)
  2. Persistence errors - the document store failed; propagated, never retried
  3. Not found - a lookup missed
  4. Conflict - a create reused the ID of an existing participant

NOT ERRORS:
  - Insufficient credit is a bool result from UseCredit. Running out of credit
    mid-reconciliation is an expected outcome callers branch on.
  - Integrity findings are returned as data in a Report.

USAGE:
  if errors.Is(err, ledger.ErrInvalidMonth) { ... }

  var verr *ledger.ValidationError
  if errors.As(err, &verr) { ... verr.Field ... }
*/
package ledger

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidMonth is returned when a month is malformed or not in the schedule.
	ErrInvalidMonth = errors.New("invalid month")

	// ErrInvalidAmount is returned for non-positive amounts where a positive one is required.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrUnknownParticipant is returned when a command references a missing participant.
	ErrUnknownParticipant = errors.New("unknown participant")

	// ErrUnknownGroup is returned when a participant references a missing group.
	ErrUnknownGroup = errors.New("unknown group")

	// ErrUnknownSacrificeType is returned when no tariff exists for a sacrifice type.
	ErrUnknownSacrificeType = errors.New("unknown sacrifice type")

	// ErrDuplicateParticipant is returned when a create reuses an existing participant ID.
	ErrDuplicateParticipant = errors.New("participant already exists")

	// ErrDuplicateMonth is returned when a lump sum targets the same month twice.
	ErrDuplicateMonth = errors.New("duplicate target month")

	// ErrMissingField is returned when a required field is empty.
	ErrMissingField = errors.New("required field missing")

	// ErrNotFound is returned by stores when a document does not exist.
	ErrNotFound = errors.New("not found")

	// ErrPersistence wraps failures of the underlying document store.
	ErrPersistence = errors.New("persistence failure")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError describes input rejected before any mutation.
type ValidationError struct {
	Field string
	Value string
	Err   error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%v: %s=%q", e.Err, e.Field, e.Value)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// PersistenceError wraps a store failure with the operation that failed.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

// Unwrap exposes both ErrPersistence and the underlying cause.
func (e *PersistenceError) Unwrap() []error { return []error{ErrPersistence, e.Err} }

// CreditDriftError reports a credit account whose balance disagrees with its log.
type CreditDriftError struct {
	ParticipantID ParticipantID
	Balance       Money
	LogSum        Money
}

func (e *CreditDriftError) Error() string {
	return fmt.Sprintf("credit drift for %s: balance %s, transactions sum %s",
		e.ParticipantID, e.Balance, e.LogSum)
}

func persistErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var pe *PersistenceError
	if errors.As(err, &pe) || errors.Is(err, ErrNotFound) {
		return err
	}
	return &PersistenceError{Op: op, Err: err}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	var verr *ValidationError
	return errors.As(err, &verr) ||
		errors.Is(err, ErrInvalidMonth) ||
		errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrDuplicateMonth) ||
		errors.Is(err, ErrMissingField) ||
		errors.Is(err, ErrUnknownGroup) ||
		errors.Is(err, ErrUnknownSacrificeType)
}

// IsConflict returns true if the request collides with an existing document.
func IsConflict(err error) bool {
	return errors.Is(err, ErrDuplicateParticipant)
}

// IsNotFound returns true if the error indicates a missing document.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrUnknownParticipant)
}

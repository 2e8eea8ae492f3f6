/*
errors.go - Centralized error types for the reconciliation engine

PURPOSE:
  All Go error values in one place. Note that data problems found while
  validating billing periods are NOT errors: they are reported as
  billing.ValidationIssue values so a whole batch can be inspected at once.
  The errors here cover misuse of the engine API and storage lookups.

ERROR CATEGORIES:
  1. Input errors - malformed dates, amounts, rates, overlapping input,
     incomplete import records
  2. Lookup errors - rentals, periods or bonds that do not exist

USAGE:
  if errors.Is(err, generic.ErrRentalNotFound) {
      // 404
  }

SEE ALSO:
  - billing/validate.go: issue taxonomy for period sets
  - api/handlers.go: maps these errors onto HTTP statuses
*/
package generic

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidDate is returned when a date is missing or cannot be parsed.
	ErrInvalidDate = errors.New("invalid date")

	// ErrInvalidPeriod is returned when a period is malformed (end before start).
	ErrInvalidPeriod = errors.New("invalid period: end before start")

	// ErrInvalidAmount is returned when an amount cannot be parsed as a number.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrNegativeAmount is returned when an amount that must be >= 0 is negative.
	ErrNegativeAmount = errors.New("negative amount")

	// ErrNegativeRate is returned when gap detection is asked to use a negative daily rate.
	ErrNegativeRate = errors.New("negative daily rate")

	// ErrOverlappingPeriods is returned when gap detection receives periods that
	// share days. Callers must validate and partition first.
	ErrOverlappingPeriods = errors.New("overlapping billing periods")

	// ErrRentalNotFound is returned when a referenced rental doesn't exist.
	ErrRentalNotFound = errors.New("rental not found")

	// ErrPeriodNotFound is returned when a referenced billing period doesn't exist.
	ErrPeriodNotFound = errors.New("billing period not found")

	// ErrBondNotFound is returned when a referenced coverage bond doesn't exist.
	ErrBondNotFound = errors.New("coverage bond not found")

	// ErrMissingField is returned when an imported record lacks a required field.
	ErrMissingField = errors.New("missing required field")

	// ErrDuplicateID is returned when a record with the same ID already exists.
	ErrDuplicateID = errors.New("duplicate id")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// OverlapError names the first overlapping pair seen by the gap detector.
type OverlapError struct {
	FirstID  string
	SecondID string
	Days     int
}

func (e *OverlapError) Error() string {
	return fmt.Sprintf("periods %s and %s overlap by %d day(s)", e.FirstID, e.SecondID, e.Days)
}

func (e *OverlapError) Unwrap() error {
	return ErrOverlappingPeriods
}

// RecordError ties an input problem to a source record, e.g. a row of an
// imported spreadsheet.
type RecordError struct {
	RecordID string
	Field    string
	Err      error
}

func (e *RecordError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("record %s: %v", e.RecordID, e.Err)
	}
	return fmt.Sprintf("record %s: %s: %v", e.RecordID, e.Field, e.Err)
}

func (e *RecordError) Unwrap() error {
	return e.Err
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidDate) ||
		errors.Is(err, ErrInvalidPeriod) ||
		errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrNegativeAmount) ||
		errors.Is(err, ErrNegativeRate) ||
		errors.Is(err, ErrMissingField) ||
		errors.Is(err, ErrOverlappingPeriods)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrRentalNotFound) ||
		errors.Is(err, ErrPeriodNotFound) ||
		errors.Is(err, ErrBondNotFound)
}

// IsConflict returns true if the error indicates a write that clashes with existing data.
func IsConflict(err error) bool {
	return errors.Is(err, ErrDuplicateID)
}

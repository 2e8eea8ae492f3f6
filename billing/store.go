/*
store.go - Persistence interface for rentals and their billing data

PURPOSE:
  Defines the boundary between the reconciliation engine and the database.
  The engine itself is pure; the store hands it a consistent snapshot of a
  rental (span, periods, bonds) and records the outcome of each pass.

KEY INTERFACES:
  Store: rentals, billing periods, coverage bonds, reconciliation runs

CONSISTENCY:
  ListPeriods returns the periods of one rental as they are at call time.
  Callers reconcile that slice and never mutate it in place. AddPeriods is
  all-or-nothing so an import batch never lands half-written; UpdatePeriods
  is too, so a set of amount corrections applies together or not at all.

IMPLEMENTATIONS:
  - store/sqlite: SQLite via database/sql
  - store/memory: in-memory for tests and demos

SEE ALSO:
  - reconcile.go: the pipeline a snapshot flows through
  - importer/run.go: batch writer on top of Store
*/
package billing

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/taha-yassine-romdhane/espace-iris-sub012/generic"
)

// =============================================================================
// STORE
// =============================================================================

type Store interface {
	CreateRental(ctx context.Context, r Rental) error
	GetRental(ctx context.Context, id string) (Rental, error)
	ListRentals(ctx context.Context) ([]Rental, error)

	// AddPeriods persists periods atomically. Fails with ErrRentalNotFound
	// when a period names an unknown rental, ErrDuplicateID on an ID clash.
	AddPeriods(ctx context.Context, periods []BillingPeriod) error
	// ListPeriods returns a rental's periods ordered by start date.
	ListPeriods(ctx context.Context, rentalID string) ([]BillingPeriod, error)
	// HasPeriod reports whether any rental holds a period with this ID.
	HasPeriod(ctx context.Context, periodID string) (bool, error)
	// UpdatePeriods rewrites stored periods matched by rental and ID, all or
	// none. Fails with ErrPeriodNotFound when one of them is not stored.
	UpdatePeriods(ctx context.Context, periods []BillingPeriod) error
	DeletePeriod(ctx context.Context, rentalID, periodID string) error

	AddBond(ctx context.Context, b CoverageBond) error
	// ListBonds returns one rental's bonds, or every bond when rentalID is empty.
	ListBonds(ctx context.Context, rentalID string) ([]CoverageBond, error)

	SaveRun(ctx context.Context, run ReconciliationRun) error
	// ListRuns returns the most recent runs first, at most limit of them.
	ListRuns(ctx context.Context, limit int) ([]ReconciliationRun, error)
	HasRun(ctx context.Context, rentalID string, asOf generic.Date) (bool, error)

	// Reset deletes everything. Used when loading demo scenarios.
	Reset(ctx context.Context) error
}

// =============================================================================
// RECONCILIATION RUN
// =============================================================================

type RunStatus string

const (
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// ReconciliationRun records one pass of the pipeline over a stored rental.
type ReconciliationRun struct {
	ID         string          `json:"id"`
	RentalID   string          `json:"rental_id"`
	AsOf       generic.Date    `json:"as_of"`
	Status     RunStatus       `json:"status"`
	IssueCount int             `json:"issue_count"`
	ErrorCount int             `json:"error_count"`
	GapCount   int             `json:"gap_count"`
	GapDays    int             `json:"gap_days"`
	GapAmount  decimal.Decimal `json:"gap_amount"`
	Error      string          `json:"error,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// RunFromReport summarizes a report into a run record.
func RunFromReport(id, rentalID string, rep Report, at time.Time) ReconciliationRun {
	return ReconciliationRun{
		ID:         id,
		RentalID:   rentalID,
		AsOf:       rep.AsOf,
		Status:     RunCompleted,
		IssueCount: len(rep.Issues),
		ErrorCount: len(rep.Issues.Errors()),
		GapCount:   rep.Summary.Detected.Count,
		GapDays:    rep.Summary.Detected.Days,
		GapAmount:  rep.Summary.Detected.EstimatedAmount,
		CreatedAt:  at,
	}
}

// FailedRun records a pass that could not complete.
func FailedRun(id, rentalID string, asOf generic.Date, err error, at time.Time) ReconciliationRun {
	return ReconciliationRun{
		ID:        id,
		RentalID:  rentalID,
		AsOf:      asOf,
		Status:    RunFailed,
		GapAmount: decimal.Zero,
		Error:     err.Error(),
		CreatedAt: at,
	}
}

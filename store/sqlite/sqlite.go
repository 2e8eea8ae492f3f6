/*
Package sqlite provides a SQLite-backed implementation of billing.Store.

PURPOSE:
  Persists rentals, their billing periods, CNAM coverage bonds and the
  outcome of every reconciliation pass. The same schema ports to PostgreSQL
  with only minor dialect changes.

KEY TABLES:
  rentals:             Contract envelope, device rate, accessories (JSON)
  billing_periods:     Payer-attributed intervals, one row per period
  coverage_bonds:      CNAM bonds, referenced by insurer periods
  reconciliation_runs: One row per rental per as-of day

STORAGE FORMATS:
  - Dates are TEXT "YYYY-MM-DD", so lexical order is chronological order
  - Amounts are TEXT decimal strings, never REAL, so no rounding drift
  - Timestamps are TEXT RFC 3339 in UTC

CONCURRENCY:
  Uses sync.RWMutex for thread-safety on top of SQLite's own locking.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging):
  - Multiple readers don't block
  - Single writer at a time

USAGE:
  store, err := sqlite.New("./rentals.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool with versioned migrations.

SEE ALSO:
  - billing/store.go: Interface definition
  - store/memory: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/taha-yassine-romdhane/espace-iris-sub012/billing"
	"github.com/taha-yassine-romdhane/espace-iris-sub012/generic"
)

// Store implements billing.Store using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

var _ billing.Store = (*Store)(nil)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// Each connection to ":memory:" is a separate database.
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS rentals (
		id TEXT PRIMARY KEY,
		code TEXT NOT NULL DEFAULT '',
		patient_id TEXT,
		device_name TEXT NOT NULL DEFAULT '',
		device_daily_rate TEXT NOT NULL,
		accessories_json TEXT,
		start_date TEXT NOT NULL,
		end_date TEXT,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS billing_periods (
		id TEXT PRIMARY KEY,
		rental_id TEXT NOT NULL REFERENCES rentals(id) ON DELETE CASCADE,
		start_date TEXT NOT NULL,
		end_date TEXT NOT NULL,
		amount TEXT NOT NULL,
		payer TEXT NOT NULL,
		payment_method TEXT,
		is_gap_period BOOLEAN NOT NULL DEFAULT FALSE,
		gap_reason TEXT,
		cnam_bond_id TEXT,
		notes TEXT,
		created_at TEXT NOT NULL
	);

	-- Hot path: one rental's periods in start order
	CREATE INDEX IF NOT EXISTS idx_billing_periods_rental_start
		ON billing_periods(rental_id, start_date, end_date, id);

	CREATE TABLE IF NOT EXISTS coverage_bonds (
		id TEXT PRIMARY KEY,
		rental_id TEXT NOT NULL REFERENCES rentals(id) ON DELETE CASCADE,
		bond_number TEXT NOT NULL DEFAULT '',
		bond_type TEXT,
		start_date TEXT NOT NULL,
		end_date TEXT,
		total_amount TEXT NOT NULL,
		covered_months INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_coverage_bonds_rental
		ON coverage_bonds(rental_id, start_date);
	CREATE INDEX IF NOT EXISTS idx_coverage_bonds_end
		ON coverage_bonds(end_date) WHERE end_date IS NOT NULL;

	CREATE TABLE IF NOT EXISTS reconciliation_runs (
		id TEXT PRIMARY KEY,
		rental_id TEXT NOT NULL,
		as_of TEXT NOT NULL,
		status TEXT NOT NULL,
		issue_count INTEGER NOT NULL DEFAULT 0,
		error_count INTEGER NOT NULL DEFAULT 0,
		gap_count INTEGER NOT NULL DEFAULT 0,
		gap_days INTEGER NOT NULL DEFAULT 0,
		gap_amount TEXT NOT NULL DEFAULT '0',
		error TEXT,
		created_at TEXT NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_reconciliation_runs_unique
		ON reconciliation_runs(rental_id, as_of);
	CREATE INDEX IF NOT EXISTS idx_reconciliation_runs_created
		ON reconciliation_runs(created_at DESC);
	`

	_, err := s.db.Exec(schema)
	return err
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// RENTALS
// =============================================================================

// CreateRental inserts a rental. Fails with ErrDuplicateID if the ID exists.
func (s *Store) CreateRental(ctx context.Context, r billing.Rental) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	accessories, err := json.Marshal(r.Accessories)
	if err != nil {
		return fmt.Errorf("failed to encode accessories: %w", err)
	}
	createdAt := r.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO rentals (id, code, patient_id, device_name, device_daily_rate,
			accessories_json, start_date, end_date, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Code, nullString(r.PatientID), r.DeviceName, r.DeviceDailyRate.String(),
		string(accessories), r.Span.Start.String(), nullDate(r.Span.End),
		createdAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("rental %s: %w", r.ID, generic.ErrDuplicateID)
		}
		return fmt.Errorf("failed to insert rental: %w", err)
	}
	return nil
}

const rentalColumns = `id, code, patient_id, device_name, device_daily_rate,
	accessories_json, start_date, end_date, created_at`

// GetRental returns one rental or ErrRentalNotFound.
func (s *Store) GetRental(ctx context.Context, id string) (billing.Rental, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `SELECT `+rentalColumns+` FROM rentals WHERE id = ?`, id)
	r, err := scanRental(row)
	if errors.Is(err, sql.ErrNoRows) {
		return billing.Rental{}, fmt.Errorf("rental %s: %w", id, generic.ErrRentalNotFound)
	}
	return r, err
}

// ListRentals returns every rental ordered by start date.
func (s *Store) ListRentals(ctx context.Context) ([]billing.Rental, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT `+rentalColumns+` FROM rentals ORDER BY start_date, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query rentals: %w", err)
	}
	defer rows.Close()

	rentals := []billing.Rental{}
	for rows.Next() {
		r, err := scanRental(rows)
		if err != nil {
			return nil, err
		}
		rentals = append(rentals, r)
	}
	return rentals, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRental(row scanner) (billing.Rental, error) {
	var r billing.Rental
	var patientID, accessories, end sql.NullString
	var rate, start, createdAt string
	if err := row.Scan(&r.ID, &r.Code, &patientID, &r.DeviceName, &rate,
		&accessories, &start, &end, &createdAt); err != nil {
		return billing.Rental{}, err
	}

	r.PatientID = patientID.String
	r.DeviceDailyRate = generic.MustParseDecimal(rate)
	if accessories.Valid && accessories.String != "" && accessories.String != "null" {
		if err := json.Unmarshal([]byte(accessories.String), &r.Accessories); err != nil {
			return billing.Rental{}, fmt.Errorf("rental %s: accessories: %w", r.ID, err)
		}
	}
	r.Span.Start = parseDate(start)
	r.Span.End = parseNullDate(end)
	r.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return r, nil
}

// =============================================================================
// BILLING PERIODS
// =============================================================================

// AddPeriods inserts periods in one transaction: all of them or none.
func (s *Store) AddPeriods(ctx context.Context, periods []billing.BillingPeriod) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make(map[string]bool, len(periods))
	for _, p := range periods {
		if ids[p.ID] {
			return fmt.Errorf("period %s: %w", p.ID, generic.ErrDuplicateID)
		}
		ids[p.ID] = true
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC().Format(time.RFC3339)
	for _, p := range periods {
		if err := ensureRental(ctx, tx, p.RentalID); err != nil {
			return err
		}
		if err := insertPeriod(ctx, tx, p, now); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func ensureRental(ctx context.Context, db execer, rentalID string) error {
	var n int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM rentals WHERE id = ?`, rentalID).Scan(&n); err != nil {
		return fmt.Errorf("failed to look up rental: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("rental %s: %w", rentalID, generic.ErrRentalNotFound)
	}
	return nil
}

func insertPeriod(ctx context.Context, db execer, p billing.BillingPeriod, createdAt string) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO billing_periods (id, rental_id, start_date, end_date, amount, payer,
			payment_method, is_gap_period, gap_reason, cnam_bond_id, notes, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.RentalID, p.Start.String(), p.End.String(), p.Amount.String(), string(p.Payer),
		nullString(p.PaymentMethod), p.IsGapGenerated, nullString(p.GapReason),
		nullString(p.InsurerLinkID), nullString(p.Notes), createdAt,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("period %s: %w", p.ID, generic.ErrDuplicateID)
		}
		return fmt.Errorf("failed to insert period: %w", err)
	}
	return nil
}

// ListPeriods returns a rental's periods ordered by start, end, then ID.
func (s *Store) ListPeriods(ctx context.Context, rentalID string) ([]billing.BillingPeriod, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, rental_id, start_date, end_date, amount, payer, payment_method,
			is_gap_period, gap_reason, cnam_bond_id, notes
		FROM billing_periods
		WHERE rental_id = ?
		ORDER BY start_date ASC, end_date ASC, id ASC`, rentalID)
	if err != nil {
		return nil, fmt.Errorf("failed to query periods: %w", err)
	}
	defer rows.Close()

	periods := []billing.BillingPeriod{}
	for rows.Next() {
		var p billing.BillingPeriod
		var start, end, amount, payer string
		var method, reason, bondID, notes sql.NullString
		if err := rows.Scan(&p.ID, &p.RentalID, &start, &end, &amount, &payer, &method,
			&p.IsGapGenerated, &reason, &bondID, &notes); err != nil {
			return nil, err
		}
		p.Start = parseDate(start)
		p.End = parseDate(end)
		p.Amount = generic.MustParseDecimal(amount)
		p.Payer = billing.PayerClassification(payer)
		p.PaymentMethod = method.String
		p.GapReason = reason.String
		p.InsurerLinkID = bondID.String
		p.Notes = notes.String
		periods = append(periods, p)
	}
	return periods, rows.Err()
}

// HasPeriod looks the ID up across every rental.
func (s *Store) HasPeriod(ctx context.Context, periodID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM billing_periods WHERE id = ?`, periodID).Scan(&n); err != nil {
		return false, fmt.Errorf("failed to look up period: %w", err)
	}
	return n > 0, nil
}

// UpdatePeriods rewrites periods in one transaction: all of them or none.
func (s *Store) UpdatePeriods(ctx context.Context, periods []billing.BillingPeriod) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, p := range periods {
		res, err := tx.ExecContext(ctx, `
			UPDATE billing_periods
			SET start_date = ?, end_date = ?, amount = ?, payer = ?, payment_method = ?,
				is_gap_period = ?, gap_reason = ?, cnam_bond_id = ?, notes = ?
			WHERE id = ? AND rental_id = ?`,
			p.Start.String(), p.End.String(), p.Amount.String(), string(p.Payer),
			nullString(p.PaymentMethod), p.IsGapGenerated, nullString(p.GapReason),
			nullString(p.InsurerLinkID), nullString(p.Notes), p.ID, p.RentalID,
		)
		if err != nil {
			return fmt.Errorf("failed to update period: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("period %s: %w", p.ID, generic.ErrPeriodNotFound)
		}
	}

	return tx.Commit()
}

// DeletePeriod removes one period of a rental.
func (s *Store) DeletePeriod(ctx context.Context, rentalID, periodID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM billing_periods WHERE id = ? AND rental_id = ?`, periodID, rentalID)
	if err != nil {
		return fmt.Errorf("failed to delete period: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("period %s: %w", periodID, generic.ErrPeriodNotFound)
	}
	return nil
}

// =============================================================================
// COVERAGE BONDS
// =============================================================================

// AddBond inserts a CNAM bond for an existing rental.
func (s *Store) AddBond(ctx context.Context, b billing.CoverageBond) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ensureRental(ctx, s.db, b.RentalID); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO coverage_bonds (id, rental_id, bond_number, bond_type, start_date, end_date,
			total_amount, covered_months, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.RentalID, b.BondNumber, nullString(b.BondType), b.Start.String(), nullDate(b.End),
		b.TotalAmount.String(), b.CoveredMonths, string(b.Status),
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("bond %s: %w", b.ID, generic.ErrDuplicateID)
		}
		return fmt.Errorf("failed to insert bond: %w", err)
	}
	return nil
}

// ListBonds returns bonds in the order they were created, so "the first bond
// of a rental" is stable.
func (s *Store) ListBonds(ctx context.Context, rentalID string) ([]billing.CoverageBond, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, rental_id, bond_number, bond_type, start_date, end_date,
			total_amount, covered_months, status
		FROM coverage_bonds`
	var args []any
	if rentalID != "" {
		query += ` WHERE rental_id = ?`
		args = append(args, rentalID)
	}
	query += ` ORDER BY created_at ASC, rowid ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query bonds: %w", err)
	}
	defer rows.Close()

	bonds := []billing.CoverageBond{}
	for rows.Next() {
		var b billing.CoverageBond
		var bondType, end sql.NullString
		var start, total, status string
		if err := rows.Scan(&b.ID, &b.RentalID, &b.BondNumber, &bondType, &start, &end,
			&total, &b.CoveredMonths, &status); err != nil {
			return nil, err
		}
		b.BondType = bondType.String
		b.Start = parseDate(start)
		b.End = parseNullDate(end)
		b.TotalAmount = generic.MustParseDecimal(total)
		b.Status = billing.BondStatus(status)
		bonds = append(bonds, b)
	}
	return bonds, rows.Err()
}

// =============================================================================
// RECONCILIATION RUNS
// =============================================================================

// SaveRun records a run. A second run for the same rental and as-of day
// replaces the first.
func (s *Store) SaveRun(ctx context.Context, r billing.ReconciliationRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO reconciliation_runs (id, rental_id, as_of, status, issue_count, error_count,
			gap_count, gap_days, gap_amount, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(rental_id, as_of) DO UPDATE SET
			id = excluded.id,
			status = excluded.status,
			issue_count = excluded.issue_count,
			error_count = excluded.error_count,
			gap_count = excluded.gap_count,
			gap_days = excluded.gap_days,
			gap_amount = excluded.gap_amount,
			error = excluded.error,
			created_at = excluded.created_at`,
		r.ID, r.RentalID, r.AsOf.String(), string(r.Status), r.IssueCount, r.ErrorCount,
		r.GapCount, r.GapDays, r.GapAmount.String(), nullString(r.Error),
		r.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to save reconciliation run: %w", err)
	}
	return nil
}

// ListRuns returns the most recent runs first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]billing.ReconciliationRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, rental_id, as_of, status, issue_count, error_count, gap_count, gap_days,
			gap_amount, error, created_at
		FROM reconciliation_runs
		ORDER BY created_at DESC, rental_id ASC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query reconciliation runs: %w", err)
	}
	defer rows.Close()

	runs := []billing.ReconciliationRun{}
	for rows.Next() {
		var r billing.ReconciliationRun
		var asOf, status, amount, at string
		var runErr sql.NullString
		if err := rows.Scan(&r.ID, &r.RentalID, &asOf, &status, &r.IssueCount, &r.ErrorCount,
			&r.GapCount, &r.GapDays, &amount, &runErr, &at); err != nil {
			return nil, err
		}
		r.AsOf = parseDate(asOf)
		r.Status = billing.RunStatus(status)
		r.GapAmount = generic.MustParseDecimal(amount)
		r.Error = runErr.String
		r.CreatedAt, _ = time.Parse(time.RFC3339, at)
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// HasRun reports whether a completed run exists for the rental and day.
func (s *Store) HasRun(ctx context.Context, rentalID string, asOf generic.Date) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM reconciliation_runs
		WHERE rental_id = ? AND as_of = ? AND status = 'completed'`,
		rentalID, asOf.String(),
	).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{"reconciliation_runs", "billing_periods", "coverage_bonds", "rentals"}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullDate(d *generic.Date) sql.NullString {
	if d == nil || d.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: d.String(), Valid: true}
}

// Rows are written by this package, so a malformed date means a corrupt row
// and comes back as the zero Date, which the validator reports.
func parseDate(s string) generic.Date {
	d, err := generic.ParseDate(s)
	if err != nil {
		return generic.Date{}
	}
	return d
}

func parseNullDate(s sql.NullString) *generic.Date {
	if !s.Valid || s.String == "" {
		return nil
	}
	d := parseDate(s.String)
	return &d
}

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "duplicate key"))
}

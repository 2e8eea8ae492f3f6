// Package memory provides an in-memory billing.Store.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/taha-yassine-romdhane/espace-iris-sub012/billing"
	"github.com/taha-yassine-romdhane/espace-iris-sub012/generic"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Store struct {
	mu      sync.RWMutex
	rentals map[string]billing.Rental
	periods map[string][]billing.BillingPeriod // by rental, kept sorted
	bonds   []billing.CoverageBond             // insertion order
	runs    map[runKey]billing.ReconciliationRun
	ids     map[string]bool // every period ID in use
}

type runKey struct {
	RentalID string
	AsOf     string
}

var _ billing.Store = (*Store)(nil)

func New() *Store {
	s := &Store{}
	s.init()
	return s
}

func (s *Store) init() {
	s.rentals = make(map[string]billing.Rental)
	s.periods = make(map[string][]billing.BillingPeriod)
	s.bonds = nil
	s.runs = make(map[runKey]billing.ReconciliationRun)
	s.ids = make(map[string]bool)
}

// =============================================================================
// RENTALS
// =============================================================================

func (s *Store) CreateRental(_ context.Context, r billing.Rental) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rentals[r.ID]; ok {
		return fmt.Errorf("rental %s: %w", r.ID, generic.ErrDuplicateID)
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	r.Accessories = append([]billing.AccessoryLine(nil), r.Accessories...)
	s.rentals[r.ID] = r
	return nil
}

func (s *Store) GetRental(_ context.Context, id string) (billing.Rental, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.rentals[id]
	if !ok {
		return billing.Rental{}, fmt.Errorf("rental %s: %w", id, generic.ErrRentalNotFound)
	}
	return r, nil
}

func (s *Store) ListRentals(_ context.Context) ([]billing.Rental, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]billing.Rental, 0, len(s.rentals))
	for _, r := range s.rentals {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Span.Start.Equal(out[j].Span.Start) {
			return out[i].Span.Start.Before(out[j].Span.Start)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// =============================================================================
// BILLING PERIODS
// =============================================================================

// AddPeriods checks the whole batch before writing any of it.
func (s *Store) AddPeriods(_ context.Context, periods []billing.BillingPeriod) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	batch := make(map[string]bool, len(periods))
	for _, p := range periods {
		if _, ok := s.rentals[p.RentalID]; !ok {
			return fmt.Errorf("rental %s: %w", p.RentalID, generic.ErrRentalNotFound)
		}
		if s.ids[p.ID] || batch[p.ID] {
			return fmt.Errorf("period %s: %w", p.ID, generic.ErrDuplicateID)
		}
		batch[p.ID] = true
	}

	touched := make(map[string]bool)
	for _, p := range periods {
		s.periods[p.RentalID] = append(s.periods[p.RentalID], p)
		s.ids[p.ID] = true
		touched[p.RentalID] = true
	}
	for rentalID := range touched {
		s.periods[rentalID] = billing.SortedCopy(s.periods[rentalID])
	}
	return nil
}

// ListPeriods returns a copy; callers may not mutate the stored slice.
func (s *Store) ListPeriods(_ context.Context, rentalID string) ([]billing.BillingPeriod, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]billing.BillingPeriod, len(s.periods[rentalID]))
	copy(out, s.periods[rentalID])
	return out, nil
}

func (s *Store) HasPeriod(_ context.Context, periodID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.ids[periodID], nil
}

// UpdatePeriods finds every target before replacing any of them.
func (s *Store) UpdatePeriods(_ context.Context, periods []billing.BillingPeriod) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	index := make([]int, len(periods))
	for i, p := range periods {
		index[i] = -1
		for j, stored := range s.periods[p.RentalID] {
			if stored.ID == p.ID {
				index[i] = j
				break
			}
		}
		if index[i] < 0 {
			return fmt.Errorf("period %s: %w", p.ID, generic.ErrPeriodNotFound)
		}
	}

	touched := make(map[string]bool)
	for i, p := range periods {
		s.periods[p.RentalID][index[i]] = p
		touched[p.RentalID] = true
	}
	for rentalID := range touched {
		s.periods[rentalID] = billing.SortedCopy(s.periods[rentalID])
	}
	return nil
}

func (s *Store) DeletePeriod(_ context.Context, rentalID, periodID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	periods := s.periods[rentalID]
	for i, p := range periods {
		if p.ID != periodID {
			continue
		}
		kept := make([]billing.BillingPeriod, 0, len(periods)-1)
		kept = append(kept, periods[:i]...)
		kept = append(kept, periods[i+1:]...)
		s.periods[rentalID] = kept
		delete(s.ids, periodID)
		return nil
	}
	return fmt.Errorf("period %s: %w", periodID, generic.ErrPeriodNotFound)
}

// =============================================================================
// COVERAGE BONDS
// =============================================================================

func (s *Store) AddBond(_ context.Context, b billing.CoverageBond) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rentals[b.RentalID]; !ok {
		return fmt.Errorf("rental %s: %w", b.RentalID, generic.ErrRentalNotFound)
	}
	for _, existing := range s.bonds {
		if existing.ID == b.ID {
			return fmt.Errorf("bond %s: %w", b.ID, generic.ErrDuplicateID)
		}
	}
	s.bonds = append(s.bonds, b)
	return nil
}

func (s *Store) ListBonds(_ context.Context, rentalID string) ([]billing.CoverageBond, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []billing.CoverageBond{}
	for _, b := range s.bonds {
		if rentalID == "" || b.RentalID == rentalID {
			out = append(out, b)
		}
	}
	return out, nil
}

// =============================================================================
// RECONCILIATION RUNS
// =============================================================================

func (s *Store) SaveRun(_ context.Context, run billing.ReconciliationRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.runs[runKey{RentalID: run.RentalID, AsOf: run.AsOf.String()}] = run
	return nil
}

func (s *Store) ListRuns(_ context.Context, limit int) ([]billing.ReconciliationRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]billing.ReconciliationRun, 0, len(s.runs))
	for _, r := range s.runs {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].RentalID < out[j].RentalID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) HasRun(_ context.Context, rentalID string, asOf generic.Date) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[runKey{RentalID: rentalID, AsOf: asOf.String()}]
	return ok && run.Status == billing.RunCompleted, nil
}

func (s *Store) Reset(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.init()
	return nil
}

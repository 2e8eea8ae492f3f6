/*
scheduler.go - Automated coverage reconciliation

PURPOSE:
  Periodically reconciles every rental, records one ReconciliationRun per
  rental per day and logs CNAM bonds about to expire, so gaps surface before
  anyone opens the rental.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Skips rentals already reconciled today, and rentals not started yet
  - Takes a cache.Locker lease so only one instance sweeps at a time
  - A rental that fails to reconcile is recorded as a failed run; the sweep
    carries on with the next one

CONFIGURATION:
  - CheckInterval: How often to check (SCHEDULER_INTERVAL_MINUTES)
  - Enabled: Whether scheduler is active (SCHEDULER_ENABLED)

USAGE:
  scheduler := NewCoverageScheduler(handler, locker)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: TriggerReconciliation endpoint (manual sweep)
  - billing/reconcile.go: the pipeline each rental goes through
*/
package api

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/taha-yassine-romdhane/espace-iris-sub012/billing"
	"github.com/taha-yassine-romdhane/espace-iris-sub012/generic"
	"github.com/taha-yassine-romdhane/espace-iris-sub012/store/cache"
)

const sweepLockKey = "reconciliation-sweep"

// SweepResult summarizes one pass over every rental.
type SweepResult struct {
	AsOf      generic.Date                `json:"as_of"`
	Processed int                         `json:"processed"`
	Skipped   int                         `json:"skipped"`
	Failed    int                         `json:"failed"`
	Runs      []billing.ReconciliationRun `json:"runs"`
	Alerts    []billing.BondAlert         `json:"alerts"`
}

// ReconcileAll reconciles every rental as of asOf and records a run for each.
// Unless force is set, rentals with a completed run for asOf are skipped.
func (h *Handler) ReconcileAll(ctx context.Context, asOf generic.Date, force bool) (SweepResult, error) {
	result := SweepResult{AsOf: asOf, Runs: []billing.ReconciliationRun{}, Alerts: []billing.BondAlert{}}

	rentals, err := h.Store.ListRentals(ctx)
	if err != nil {
		return result, fmt.Errorf("list rentals: %w", err)
	}

	for _, rental := range rentals {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		log := h.Logger.With().Str("rental_id", rental.ID).Str("as_of", asOf.String()).Logger()

		if rental.Span.Start.After(asOf) {
			result.Skipped++
			continue
		}
		if !force {
			done, err := h.Store.HasRun(ctx, rental.ID, asOf)
			if err != nil {
				return result, fmt.Errorf("check run of %s: %w", rental.ID, err)
			}
			if done {
				result.Skipped++
				continue
			}
		}

		var run billing.ReconciliationRun
		resp, err := h.Reconcile(ctx, rental.ID, asOf)
		if err != nil {
			run = billing.FailedRun(uuid.NewString(), rental.ID, asOf, err, h.now())
			result.Failed++
			log.Error().Err(err).Msg("reconciliation failed")
		} else {
			run = billing.RunFromReport(uuid.NewString(), rental.ID, resp.Report, h.now())
			result.Processed++
			evt := log.Info()
			if resp.Blocking() {
				evt = log.Warn().Strs("rejected", resp.RejectedIDs)
			}
			evt.Int("gaps", run.GapCount).
				Int("gap_days", run.GapDays).
				Str("gap_amount", money(run.GapAmount)).
				Int("errors", run.ErrorCount).
				Msg("rental reconciled")
		}

		if err := h.Store.SaveRun(ctx, run); err != nil {
			return result, fmt.Errorf("save run of %s: %w", rental.ID, err)
		}
		result.Runs = append(result.Runs, run)
	}

	bonds, err := h.Store.ListBonds(ctx, "")
	if err != nil {
		return result, fmt.Errorf("list bonds: %w", err)
	}
	result.Alerts = billing.BondAlerts(bonds, asOf, h.BondWindowDays)
	for _, a := range result.Alerts {
		h.Logger.Warn().
			Str("bond_id", a.BondID).
			Str("rental_id", a.RentalID).
			Int("days_remaining", a.DaysRemaining).
			Str("severity", string(a.Severity)).
			Msg(a.Message)
	}

	return result, nil
}

// =============================================================================
// SCHEDULER
// =============================================================================

// CoverageScheduler runs ReconcileAll in the background.
type CoverageScheduler struct {
	Handler       *Handler
	Locker        cache.Locker
	CheckInterval time.Duration
	Enabled       bool

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewCoverageScheduler creates a scheduler. A nil locker means a
// single-instance deployment.
func NewCoverageScheduler(handler *Handler, locker cache.Locker) *CoverageScheduler {
	if locker == nil {
		locker = cache.NewMemory()
	}
	return &CoverageScheduler{
		Handler:       handler,
		Locker:        locker,
		CheckInterval: 1 * time.Hour,
		Enabled:       true,
		stop:          make(chan struct{}),
	}
}

// Start begins the scheduler.
func (s *CoverageScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	log := s.Handler.Logger
	if !s.Enabled {
		log.Info().Msg("scheduler disabled, not starting")
		return
	}
	if s.ticker != nil {
		return
	}

	s.stop = make(chan struct{})
	s.ticker = time.NewTicker(s.CheckInterval)
	s.wg.Add(1)
	go s.run()

	log.Info().Dur("interval", s.CheckInterval).Msg("scheduler started")
}

// Stop stops the scheduler and waits for a sweep in progress.
func (s *CoverageScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker != nil {
		s.ticker.Stop()
		close(s.stop)
		s.wg.Wait()
		s.ticker = nil
		s.Handler.Logger.Info().Msg("scheduler stopped")
	}
}

func (s *CoverageScheduler) run() {
	defer s.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-s.stop
		cancel()
	}()

	// Run immediately on start
	s.tick(ctx)

	for {
		select {
		case <-s.ticker.C:
			s.tick(ctx)
		case <-s.stop:
			return
		}
	}
}

func (s *CoverageScheduler) tick(ctx context.Context) {
	log := s.Handler.Logger
	result, err := s.RunOnce(ctx)
	switch {
	case errors.Is(err, cache.ErrLockHeld):
		log.Debug().Msg("another instance is sweeping, skipping")
	case err != nil && ctx.Err() == nil:
		log.Error().Err(err).Msg("reconciliation sweep failed")
	case err == nil:
		log.Info().
			Str("as_of", result.AsOf.String()).
			Int("processed", result.Processed).
			Int("skipped", result.Skipped).
			Int("failed", result.Failed).
			Int("bond_alerts", len(result.Alerts)).
			Msg("reconciliation sweep finished")
	}
}

// RunOnce performs one sweep as of today under the sweep lock. It returns
// cache.ErrLockHeld when another instance holds the lock.
func (s *CoverageScheduler) RunOnce(ctx context.Context) (SweepResult, error) {
	release, err := s.Locker.Lock(ctx, sweepLockKey, s.CheckInterval)
	if err != nil {
		return SweepResult{}, err
	}
	defer func() {
		if err := release(context.Background()); err != nil {
			s.Handler.Logger.Warn().Err(err).Msg("release sweep lock")
		}
	}()

	return s.Handler.ReconcileAll(ctx, s.Handler.today(), false)
}

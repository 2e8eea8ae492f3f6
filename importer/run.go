package importer

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/taha-yassine-romdhane/espace-iris-sub012/billing"
)

// =============================================================================
// BATCH RUNNER
// =============================================================================

// Stats reports one import run. Errors name skipped records, Warnings the
// inferences made on imported ones. Validation holds what the validator found
// once the imported periods were merged with the periods already stored.
type Stats struct {
	RunID      string         `json:"run_id"`
	Imported   int            `json:"imported"`
	Skipped    int            `json:"skipped"`
	Errors     []string       `json:"errors"`
	Warnings   []string       `json:"warnings"`
	Validation billing.Issues `json:"validation"`
	DryRun     bool           `json:"dry_run"`
}

// Runner imports legacy records into a store.
type Runner struct {
	store  billing.Store
	logger zerolog.Logger
	now    func() time.Time

	// DryRun constructs and validates without writing.
	DryRun bool
}

func NewRunner(store billing.Store, logger zerolog.Logger) *Runner {
	return &Runner{store: store, logger: logger, now: time.Now}
}

// Run constructs a period from every record and writes the survivors in one
// atomic batch. A record is skipped when its rental is unknown, its ID was
// already imported, or Construct rejects it. A failed write imports nothing
// and is returned as an error.
func (r *Runner) Run(ctx context.Context, records []LegacyRecord) (Stats, error) {
	stats := Stats{RunID: uuid.NewString(), DryRun: r.DryRun, Errors: []string{}, Warnings: []string{}, Validation: billing.Issues{}}
	log := r.logger.With().Str("run_id", stats.RunID).Logger()
	started := r.now()

	rentals, err := r.store.ListRentals(ctx)
	if err != nil {
		return stats, fmt.Errorf("list rentals: %w", err)
	}
	byID := make(map[string]billing.Rental, len(rentals))
	for _, rental := range rentals {
		byID[rental.ID] = rental
	}

	bonds, err := r.store.ListBonds(ctx, "")
	if err != nil {
		return stats, fmt.Errorf("list bonds: %w", err)
	}
	bondsByRental := make(map[string][]string)
	for _, b := range bonds {
		bondsByRental[b.RentalID] = append(bondsByRental[b.RentalID], b.ID)
	}

	existing := make(map[string][]billing.BillingPeriod)
	seen := make(map[string]bool)
	var batch []billing.BillingPeriod

	for _, rec := range records {
		rental, ok := byID[rec.RentalID]
		if !ok {
			r.skip(&stats, log, rec.ID, fmt.Sprintf("Period %s: Rental not found - %s", rec.ID, rec.RentalID))
			continue
		}

		if _, loaded := existing[rental.ID]; !loaded {
			periods, err := r.store.ListPeriods(ctx, rental.ID)
			if err != nil {
				return stats, fmt.Errorf("list periods of %s: %w", rental.ID, err)
			}
			existing[rental.ID] = periods
			for _, p := range periods {
				seen[p.ID] = true
			}
		}
		if !seen[rec.ID] {
			// The ID may already belong to a period of a rental outside this batch.
			stored, err := r.store.HasPeriod(ctx, rec.ID)
			if err != nil {
				return stats, fmt.Errorf("look up period %s: %w", rec.ID, err)
			}
			seen[rec.ID] = stored
		}
		if seen[rec.ID] {
			r.skip(&stats, log, rec.ID, fmt.Sprintf("Period %s: already imported", rec.ID))
			continue
		}

		c, err := Construct(rec, bondsByRental[rental.ID])
		if err != nil {
			r.skip(&stats, log, rec.ID, fmt.Sprintf("Period %s: %v", rec.ID, err))
			continue
		}
		for _, w := range c.Warnings {
			stats.Warnings = append(stats.Warnings, w.Message)
			log.Warn().Str("period_id", rec.ID).Str("kind", string(w.Kind)).Msg(w.Message)
		}

		seen[rec.ID] = true
		batch = append(batch, c.Period)
		existing[rental.ID] = append(existing[rental.ID], c.Period)
	}

	rentalIDs := make([]string, 0, len(existing))
	for id := range existing {
		rentalIDs = append(rentalIDs, id)
	}
	sort.Strings(rentalIDs)
	for _, rentalID := range rentalIDs {
		issues := billing.Validate(existing[rentalID], byID[rentalID].Span)
		stats.Validation = append(stats.Validation, issues...)
		if issues.HasErrors() {
			log.Warn().Str("rental_id", rentalID).Int("errors", len(issues.Errors())).
				Msg("imported periods fail validation")
		}
	}

	if !r.DryRun && len(batch) > 0 {
		if err := r.store.AddPeriods(ctx, batch); err != nil {
			return stats, fmt.Errorf("write %d periods: %w", len(batch), err)
		}
	}
	stats.Imported = len(batch)

	log.Info().
		Int("imported", stats.Imported).
		Int("skipped", stats.Skipped).
		Int("warnings", len(stats.Warnings)).
		Int("validation_issues", len(stats.Validation)).
		Bool("dry_run", r.DryRun).
		Dur("elapsed", r.now().Sub(started)).
		Msg("import finished")

	return stats, nil
}

func (r *Runner) skip(stats *Stats, log zerolog.Logger, recordID, msg string) {
	stats.Skipped++
	stats.Errors = append(stats.Errors, msg)
	log.Error().Str("period_id", recordID).Msg(msg)
}

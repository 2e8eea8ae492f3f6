/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the store with realistic
	rentals for demos. Each scenario creates rentals, CNAM bonds and billing
	periods that exercise one reconciliation outcome.

AVAILABLE SCENARIOS:

	fully-covered:  Three CNAM periods tiling a closed rental, no gaps
	cnam-gap:       Insurer periods with an uncovered month and an expiring bond
	overlap:        Two periods sharing days, both rejected
	open-ended:     Ongoing rental whose billing stopped, END gap up to today
	legacy-import:  Legacy records run through the importer, with warnings

HOW SCENARIOS WORK:
 1. Reset store (clear all data)
 2. Create rentals
 3. Add CNAM bonds
 4. Add billing periods (directly or through the importer)

Dates in open-ended and bond scenarios are relative to today so alerts and
END gaps always show up.

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "cnam-gap"}

NOTE:

	Scenarios reset the store. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: ResetDatabase
  - importer/run.go: used by legacy-import
*/
package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"
	"github.com/taha-yassine-romdhane/espace-iris-sub012/billing"
	"github.com/taha-yassine-romdhane/espace-iris-sub012/generic"
	"github.com/taha-yassine-romdhane/espace-iris-sub012/importer"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "fully-covered",
		Name:        "Fully Covered",
		Description: "Closed CPAP rental billed to CNAM for every day",
	},
	{
		ID:          "cnam-gap",
		Name:        "CNAM Gap",
		Description: "Insurer coverage with a missing month and a bond about to expire",
	},
	{
		ID:          "overlap",
		Name:        "Overlapping Periods",
		Description: "Two periods share days; both are rejected and excluded from totals",
	},
	{
		ID:          "open-ended",
		Name:        "Open-Ended Rental",
		Description: "Ongoing rental with no billing for the last weeks",
	},
	{
		ID:          "legacy-import",
		Name:        "Legacy Import",
		Description: "Spreadsheet-era records with inconsistent gap flags",
	},
}

var scenarioLoaders = map[string]func(*Handler, context.Context) error{
	"fully-covered": (*Handler).loadFullyCoveredScenario,
	"cnam-gap":      (*Handler).loadCNAMGapScenario,
	"overlap":       (*Handler).loadOverlapScenario,
	"open-ended":    (*Handler).loadOpenEndedScenario,
	"legacy-import": (*Handler).loadLegacyImportScenario,
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, nil)
}

// LoadScenario loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !h.decode(w, r, &req) {
		return
	}
	load, ok := scenarioLoaders[req.ScenarioID]
	if !ok {
		writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
		return
	}

	if err := h.LoadScenarioByID(r.Context(), req.ScenarioID, load); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to load scenario: %v", err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

// LoadScenarioByID resets the store and runs one loader.
func (h *Handler) LoadScenarioByID(ctx context.Context, id string, load func(*Handler, context.Context) error) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.Store.Reset(ctx); err != nil {
		return fmt.Errorf("reset store: %w", err)
	}
	h.currentScenario = ""
	if err := load(h, ctx); err != nil {
		return err
	}
	h.currentScenario = id
	return nil
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func date(s string) generic.Date { return generic.MustParseDate(s) }

func amount(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func cpapRental(id, code string, span billing.RentalSpan) billing.Rental {
	return billing.Rental{
		ID:              id,
		Code:            code,
		PatientID:       "patient-" + id,
		DeviceName:      "CPAP ResMed AirSense 10",
		DeviceDailyRate: amount("6.5"),
		Accessories: []billing.AccessoryLine{
			{Name: "Nasal mask", UnitPrice: amount("1"), Quantity: 1},
		},
		Span: span,
	}
}

func insurerPeriod(id, rentalID string, start, end generic.Date, amt, bondID string) billing.BillingPeriod {
	return billing.BillingPeriod{
		ID: id, RentalID: rentalID, Start: start, End: end, Amount: amount(amt),
		Payer: billing.PayerInsurer, PaymentMethod: billing.MethodCNAM, InsurerLinkID: bondID,
	}
}

func (h *Handler) seed(ctx context.Context, rental billing.Rental, bonds []billing.CoverageBond, periods []billing.BillingPeriod) error {
	if err := h.Store.CreateRental(ctx, rental); err != nil {
		return err
	}
	for _, b := range bonds {
		if err := h.Store.AddBond(ctx, b); err != nil {
			return err
		}
	}
	if len(periods) == 0 {
		return nil
	}
	return h.Store.AddPeriods(ctx, periods)
}

func (h *Handler) loadFullyCoveredScenario(ctx context.Context) error {
	rental := cpapRental("rental-covered", "LOC-1001", billing.NewSpan(date("2024-01-01"), date("2024-03-31")))
	end := date("2024-03-31")
	bond := billing.CoverageBond{
		ID: "bond-covered", RentalID: rental.ID, BondNumber: "CNAM-2024-0001", BondType: "CPAP",
		Start: date("2024-01-01"), End: &end, TotalAmount: amount("682.5"), CoveredMonths: 3,
		Status: billing.BondActive,
	}
	return h.seed(ctx, rental, []billing.CoverageBond{bond}, []billing.BillingPeriod{
		insurerPeriod("covered-1", rental.ID, date("2024-01-01"), date("2024-01-31"), "232.5", bond.ID),
		insurerPeriod("covered-2", rental.ID, date("2024-02-01"), date("2024-02-29"), "217.5", bond.ID),
		insurerPeriod("covered-3", rental.ID, date("2024-03-01"), date("2024-03-31"), "232.5", bond.ID),
	})
}

func (h *Handler) loadCNAMGapScenario(ctx context.Context) error {
	today := h.today()
	start := today.AddMonths(-4)
	rental := cpapRental("rental-gap", "LOC-1002", billing.OpenSpan(start))

	firstEnd := start.AddMonths(2).AddDays(-1)
	renewedStart := start.AddMonths(3)
	renewedEnd := today.AddDays(6)
	bonds := []billing.CoverageBond{
		{
			ID: "bond-gap-1", RentalID: rental.ID, BondNumber: "CNAM-2024-0101", BondType: "CPAP",
			Start: start, End: &firstEnd, TotalAmount: amount("450"), CoveredMonths: 2, Status: billing.BondExpired,
		},
		{
			ID: "bond-gap-2", RentalID: rental.ID, BondNumber: "CNAM-2024-0102", BondType: "CPAP",
			Start: renewedStart, End: &renewedEnd, TotalAmount: amount("225"), CoveredMonths: 1, Status: billing.BondActive,
		},
	}

	// The third month has no period: the renewal was approved late.
	return h.seed(ctx, rental, bonds, []billing.BillingPeriod{
		insurerPeriod("gap-1", rental.ID, start, firstEnd, "450", "bond-gap-1"),
		insurerPeriod("gap-2", rental.ID, renewedStart, today, "225", "bond-gap-2"),
	})
}

func (h *Handler) loadOverlapScenario(ctx context.Context) error {
	rental := cpapRental("rental-overlap", "LOC-1003", billing.NewSpan(date("2024-01-01"), date("2024-02-29")))
	cash := billing.BillingPeriod{
		ID: "overlap-2", RentalID: rental.ID, Start: date("2024-01-25"), End: date("2024-02-29"),
		Amount: amount("270"), Payer: billing.PayerPatientCash, PaymentMethod: billing.MethodCash,
	}
	return h.seed(ctx, rental, nil, []billing.BillingPeriod{
		insurerPeriod("overlap-1", rental.ID, date("2024-01-01"), date("2024-01-31"), "232.5", ""),
		cash,
	})
}

func (h *Handler) loadOpenEndedScenario(ctx context.Context) error {
	today := h.today()
	start := today.AddMonths(-2)
	rental := cpapRental("rental-open", "LOC-1004", billing.OpenSpan(start))
	return h.seed(ctx, rental, nil, []billing.BillingPeriod{{
		ID: "open-1", RentalID: rental.ID, Start: start, End: start.AddMonths(1).AddDays(-1),
		Amount: amount("225"), Payer: billing.PayerPatientCash, PaymentMethod: billing.MethodCash,
	}})
}

func (h *Handler) loadLegacyImportScenario(ctx context.Context) error {
	rental := cpapRental("rental-legacy", "LOC-1005", billing.NewSpan(date("2023-10-01"), date("2023-12-31")))
	if err := h.seed(ctx, rental, nil, nil); err != nil {
		return err
	}

	paid, pending := "PAID", "PENDING"
	yes, no := true, false
	one, two, three := 1, 2, 3
	records := []importer.LegacyRecord{
		{ID: "legacy-1", RentalID: rental.ID, StartDate: "2023-10-01", EndDate: "2023-10-31",
			Amount: "232,5", PaymentStatus: &paid, PeriodNumber: &one},
		// Gap amount on an unflagged record.
		{ID: "legacy-2", RentalID: rental.ID, StartDate: "2023-11-01", EndDate: "2023-11-30",
			Amount: 50, IsGapPeriod: &no, GapAmount: 50, PaymentStatus: &paid, PeriodNumber: &two},
		{ID: "legacy-3", RentalID: rental.ID, StartDate: "2023-12-05", EndDate: "2023-12-31",
			Amount: "202.5 TND", IsGapPeriod: &yes, PaymentStatus: &pending, PeriodNumber: &three},
		// Unknown rental, skipped.
		{ID: "legacy-4", RentalID: "rental-unknown", StartDate: "2023-10-01", EndDate: "2023-10-31", Amount: 1},
	}

	_, err := importer.NewRunner(h.Store, h.Logger).Run(ctx, records)
	return err
}

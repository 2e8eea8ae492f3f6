/*
handlers.go - HTTP API handlers for rental billing reconciliation

PURPOSE:
  Exposes the reconciliation engine via REST API. Handles HTTP
  request/response, JSON serialization, and delegates to the billing package.

ENDPOINTS:
  Rentals:
    GET    /api/rentals                          List rentals
    POST   /api/rentals                          Create rental
    GET    /api/rentals/{id}                     Get rental

  Periods:
    GET    /api/rentals/{id}/periods             List billing periods
    POST   /api/rentals/{id}/periods             Add periods (atomic batch)
    DELETE /api/rentals/{id}/periods/{periodID}  Delete a period
    POST   /api/rentals/{id}/gap-corrections     Fix drifted gap amounts (dry run by default)

  Bonds:
    GET    /api/rentals/{id}/bonds               List CNAM bonds
    POST   /api/rentals/{id}/bonds               Add a bond
    GET    /api/alerts/bonds                     Bonds expiring soon

  Reconciliation:
    GET    /api/rentals/{id}/reconciliation      Report for a stored rental
    GET    /api/rentals/{id}/gaps.xlsx           Gap report workbook
    POST   /api/reconcile                        Report for a posted snapshot
    GET    /api/reconciliation/runs              Run history
    POST   /api/reconciliation/process           Reconcile every rental now

  Import:
    POST   /api/import                           Legacy period records

ARCHITECTURE:
  Handler struct holds all dependencies:
  - Store: rentals, periods, bonds, runs
  - Cache: computed reports, keyed by input fingerprint
  - Logger: zerolog, shared with the scheduler and import runner

REQUEST FLOW:
  1. Decode JSON and check validator tags
  2. Convert to billing types
  3. Call the store and the billing pipeline
  4. Serialize response
  5. Map errors to status codes

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 404: Rental or period not found
  - 409: Duplicate ID
  - 500: Internal errors
  Reconciliation issues are never HTTP errors; they are part of the report.

SEE ALSO:
  - dto.go: Request/response data structures
  - export.go: gaps.xlsx
  - scheduler.go: Background reconciliation
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/taha-yassine-romdhane/espace-iris-sub012/billing"
	"github.com/taha-yassine-romdhane/espace-iris-sub012/generic"
	"github.com/taha-yassine-romdhane/espace-iris-sub012/importer"
	"github.com/taha-yassine-romdhane/espace-iris-sub012/store/cache"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store  billing.Store
	Cache  cache.Cache
	Logger zerolog.Logger

	// CacheTTL bounds how long a computed report is reused.
	CacheTTL time.Duration
	// BondWindowDays is the default look-ahead for bond expiry alerts.
	BondWindowDays int

	validate *validator.Validate
	now      func() time.Time

	mu              sync.Mutex
	currentScenario string
}

// NewHandler creates a handler. A nil cache falls back to an in-memory one.
func NewHandler(store billing.Store, c cache.Cache, logger zerolog.Logger) *Handler {
	if c == nil {
		c = cache.NewMemory()
	}
	return &Handler{
		Store:          store,
		Cache:          c,
		Logger:         logger,
		CacheTTL:       5 * time.Minute,
		BondWindowDays: billing.DefaultBondAlertWindowDays,
		validate:       validator.New(),
		now:            time.Now,
	}
}

func (h *Handler) today() generic.Date { return generic.DateOf(h.now()) }

// =============================================================================
// RENTAL HANDLERS
// =============================================================================

// ListRentals returns all rentals.
func (h *Handler) ListRentals(w http.ResponseWriter, r *http.Request) {
	rentals, err := h.Store.ListRentals(r.Context())
	if err != nil {
		writeDomainError(w, "Failed to list rentals", err)
		return
	}
	writeJSON(w, http.StatusOK, rentals)
}

// CreateRental creates a rental.
func (h *Handler) CreateRental(w http.ResponseWriter, r *http.Request) {
	var req CreateRentalRequest
	if !h.decode(w, r, &req) {
		return
	}
	rental, err := req.toRental()
	if err != nil {
		writeDomainError(w, "Invalid rental", err)
		return
	}
	if err := h.Store.CreateRental(r.Context(), rental); err != nil {
		writeDomainError(w, "Failed to create rental", err)
		return
	}

	created, err := h.Store.GetRental(r.Context(), rental.ID)
	if err != nil {
		writeDomainError(w, "Failed to load rental", err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// GetRental returns a single rental.
func (h *Handler) GetRental(w http.ResponseWriter, r *http.Request) {
	rental, err := h.Store.GetRental(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, "Failed to get rental", err)
		return
	}
	writeJSON(w, http.StatusOK, rental)
}

// =============================================================================
// BILLING PERIOD HANDLERS
// =============================================================================

// ListPeriods returns a rental's periods ordered by start date.
func (h *Handler) ListPeriods(w http.ResponseWriter, r *http.Request) {
	rentalID := chi.URLParam(r, "id")
	if _, err := h.Store.GetRental(r.Context(), rentalID); err != nil {
		writeDomainError(w, "Failed to get rental", err)
		return
	}
	periods, err := h.Store.ListPeriods(r.Context(), rentalID)
	if err != nil {
		writeDomainError(w, "Failed to list periods", err)
		return
	}
	writeJSON(w, http.StatusOK, periods)
}

// AddPeriods stores a batch of periods. The batch is written as-is: overlaps
// and other data problems show up in the next reconciliation, not here.
func (h *Handler) AddPeriods(w http.ResponseWriter, r *http.Request) {
	rentalID := chi.URLParam(r, "id")
	var req AddPeriodsRequest
	if !h.decode(w, r, &req) {
		return
	}

	periods := make([]billing.BillingPeriod, 0, len(req.Periods))
	for _, pr := range req.Periods {
		p, err := pr.toPeriod(rentalID)
		if err != nil {
			writeDomainError(w, "Invalid period", err)
			return
		}
		periods = append(periods, p)
	}

	if err := h.Store.AddPeriods(r.Context(), periods); err != nil {
		writeDomainError(w, "Failed to add periods", err)
		return
	}
	writeJSON(w, http.StatusCreated, billing.SortedCopy(periods))
}

// DeletePeriod removes one period.
func (h *Handler) DeletePeriod(w http.ResponseWriter, r *http.Request) {
	err := h.Store.DeletePeriod(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "periodID"))
	if err != nil {
		writeDomainError(w, "Failed to delete period", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CorrectGapAmounts proposes new amounts for gap periods that drift from the
// proper gap rate and, unless dry_run is true, writes them in one batch. An
// empty body is a dry run.
// POST /api/rentals/{id}/gap-corrections
func (h *Handler) CorrectGapAmounts(w http.ResponseWriter, r *http.Request) {
	var req GapCorrectionRequest
	if r.ContentLength != 0 && !h.decode(w, r, &req) {
		return
	}
	dryRun := req.dryRun()

	ctx := r.Context()
	rentalID := chi.URLParam(r, "id")
	rental, err := h.Store.GetRental(ctx, rentalID)
	if err != nil {
		writeDomainError(w, "Failed to get rental", err)
		return
	}
	periods, err := h.Store.ListPeriods(ctx, rentalID)
	if err != nil {
		writeDomainError(w, "Failed to list periods", err)
		return
	}
	bonds, err := h.Store.ListBonds(ctx, rentalID)
	if err != nil {
		writeDomainError(w, "Failed to list bonds", err)
		return
	}

	rep := billing.ProposeGapCorrections(periods, rental.DeviceDailyRate, bonds)
	resp := GapCorrectionResponse{RentalID: rentalID, DryRun: dryRun, GapCorrectionReport: rep}
	if dryRun || len(rep.Corrections) == 0 {
		writeJSON(w, http.StatusOK, resp)
		return
	}

	byID := make(map[string]billing.BillingPeriod, len(periods))
	for _, p := range periods {
		byID[p.ID] = p
	}
	fixed := make([]billing.BillingPeriod, 0, len(rep.Corrections))
	for _, c := range rep.Corrections {
		fixed = append(fixed, c.Apply(byID[c.PeriodID], h.today()))
	}
	if err := h.Store.UpdatePeriods(ctx, fixed); err != nil {
		writeDomainError(w, "Failed to apply gap corrections", err)
		return
	}
	resp.Applied = len(fixed)

	h.Logger.Info().
		Str("rental_id", rentalID).
		Int("corrected", resp.Applied).
		Str("difference", money(rep.TotalDifference)).
		Msg("gap amounts corrected")
	writeJSON(w, http.StatusOK, resp)
}

// =============================================================================
// COVERAGE BOND HANDLERS
// =============================================================================

func (h *Handler) ListBonds(w http.ResponseWriter, r *http.Request) {
	rentalID := chi.URLParam(r, "id")
	if _, err := h.Store.GetRental(r.Context(), rentalID); err != nil {
		writeDomainError(w, "Failed to get rental", err)
		return
	}
	bonds, err := h.Store.ListBonds(r.Context(), rentalID)
	if err != nil {
		writeDomainError(w, "Failed to list bonds", err)
		return
	}
	writeJSON(w, http.StatusOK, bonds)
}

func (h *Handler) CreateBond(w http.ResponseWriter, r *http.Request) {
	var req CreateBondRequest
	if !h.decode(w, r, &req) {
		return
	}
	bond, err := req.toBond(chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, "Invalid bond", err)
		return
	}
	if err := h.Store.AddBond(r.Context(), bond); err != nil {
		writeDomainError(w, "Failed to add bond", err)
		return
	}
	writeJSON(w, http.StatusCreated, bond)
}

// ListBondAlerts returns bonds ending within window_days (default from
// config) of today, most urgent first.
// GET /api/alerts/bonds
func (h *Handler) ListBondAlerts(w http.ResponseWriter, r *http.Request) {
	window := h.BondWindowDays
	if v := r.URL.Query().Get("window_days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "window_days must be a non-negative integer", err)
			return
		}
		window = n
	}

	bonds, err := h.Store.ListBonds(r.Context(), "")
	if err != nil {
		writeDomainError(w, "Failed to list bonds", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"as_of":       h.today(),
		"window_days": window,
		"alerts":      billing.BondAlerts(bonds, h.today(), window),
	})
}

// =============================================================================
// RECONCILIATION HANDLERS
// =============================================================================

// GetReconciliation reconciles a stored rental as of ?as_of (default today).
func (h *Handler) GetReconciliation(w http.ResponseWriter, r *http.Request) {
	asOf, ok := h.asOfParam(w, r)
	if !ok {
		return
	}
	resp, err := h.Reconcile(r.Context(), chi.URLParam(r, "id"), asOf)
	if err != nil {
		writeDomainError(w, "Failed to reconcile rental", err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// ReconcileSnapshot reconciles a posted snapshot. Nothing is stored.
// POST /api/reconcile
func (h *Handler) ReconcileSnapshot(w http.ResponseWriter, r *http.Request) {
	var req ReconcileRequest
	if !h.decode(w, r, &req) {
		return
	}

	span, err := spanOf(req.StartDate, req.EndDate)
	if err != nil {
		writeDomainError(w, "Invalid rental span", err)
		return
	}
	rate, err := generic.ParseAmount(req.DailyRate)
	if err != nil {
		writeDomainError(w, "Invalid daily rate", err)
		return
	}
	asOf := h.today()
	if req.AsOf != "" {
		if asOf, err = generic.ParseDate(req.AsOf); err != nil {
			writeDomainError(w, "Invalid as_of", err)
			return
		}
	}

	in := billing.Input{Span: span, DailyRate: rate, Now: asOf, Periods: []billing.BillingPeriod{}}
	for _, pr := range req.Periods {
		p, err := pr.toPeriod("")
		if err != nil {
			writeDomainError(w, "Invalid period", err)
			return
		}
		in.Periods = append(in.Periods, p)
	}

	rep, err := billing.Reconcile(in)
	if err != nil {
		writeDomainError(w, "Failed to reconcile", err)
		return
	}
	writeJSON(w, http.StatusOK, newReconciliationResponse("", billing.Fingerprint(in), rep, false))
}

// Reconcile loads a rental snapshot and reconciles it as of asOf, reusing a cached
// report when the snapshot is unchanged.
func (h *Handler) Reconcile(ctx context.Context, rentalID string, asOf generic.Date) (ReconciliationResponse, error) {
	rental, err := h.Store.GetRental(ctx, rentalID)
	if err != nil {
		return ReconciliationResponse{}, err
	}
	periods, err := h.Store.ListPeriods(ctx, rentalID)
	if err != nil {
		return ReconciliationResponse{}, fmt.Errorf("list periods: %w", err)
	}

	in := rental.Input(periods, asOf)
	fingerprint := billing.Fingerprint(in)
	key := cache.ReportKey(rentalID, fingerprint)

	var cached billing.Report
	hit, err := cache.GetJSON(ctx, h.Cache, key, &cached)
	if err != nil {
		h.Logger.Warn().Err(err).Str("rental_id", rentalID).Msg("report cache read failed")
	}
	if hit {
		return newReconciliationResponse(rentalID, fingerprint, cached, true), nil
	}

	rep, err := billing.Reconcile(in)
	if err != nil {
		return ReconciliationResponse{}, err
	}
	if err := cache.SetJSON(ctx, h.Cache, key, rep, h.CacheTTL); err != nil {
		h.Logger.Warn().Err(err).Str("rental_id", rentalID).Msg("report cache write failed")
	}
	return newReconciliationResponse(rentalID, fingerprint, rep, false), nil
}

// ListReconciliationRuns returns reconciliation run history.
// GET /api/reconciliation/runs
func (h *Handler) ListReconciliationRuns(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer", err)
			return
		}
		limit = n
	}

	runs, err := h.Store.ListRuns(r.Context(), limit)
	if err != nil {
		writeDomainError(w, "Failed to get reconciliation runs", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

// TriggerReconciliation reconciles every rental now, including ones already
// processed today.
// POST /api/reconciliation/process
func (h *Handler) TriggerReconciliation(w http.ResponseWriter, r *http.Request) {
	asOf, ok := h.asOfParam(w, r)
	if !ok {
		return
	}
	result, err := h.ReconcileAll(r.Context(), asOf, true)
	if err != nil {
		writeDomainError(w, "Failed to process reconciliation", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// =============================================================================
// IMPORT HANDLER
// =============================================================================

// ImportRecords runs legacy records through the import runner.
// POST /api/import
func (h *Handler) ImportRecords(w http.ResponseWriter, r *http.Request) {
	var req ImportRequest
	if !h.decode(w, r, &req) {
		return
	}

	runner := importer.NewRunner(h.Store, h.Logger)
	runner.DryRun = req.DryRun
	stats, err := runner.Run(r.Context(), req.Records)
	if err != nil {
		writeDomainError(w, "Import failed", err)
		return
	}

	status := http.StatusCreated
	if req.DryRun {
		status = http.StatusOK
	}
	writeJSON(w, status, stats)
}

// ResetDatabase clears all data.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}

	h.mu.Lock()
	h.currentScenario = ""
	h.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Health reports liveness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

// decode reads a JSON body into dst and checks its validator tags. On failure
// it writes the 400 response and returns false.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}

	if err := h.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make(map[string]string, len(verrs))
			for _, fe := range verrs {
				fields[fe.Namespace()] = fe.Tag()
			}
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "Validation failed", Fields: fields})
			return false
		}
		writeError(w, http.StatusBadRequest, "Validation failed", err)
		return false
	}
	return true
}

func (h *Handler) asOfParam(w http.ResponseWriter, r *http.Request) (generic.Date, bool) {
	v := r.URL.Query().Get("as_of")
	if v == "" {
		return h.today(), true
	}
	d, err := generic.ParseDate(v)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid as_of (use YYYY-MM-DD)", err)
		return generic.Date{}, false
	}
	return d, true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError picks the status from the error's class.
func writeDomainError(w http.ResponseWriter, message string, err error) {
	status := http.StatusInternalServerError
	switch {
	case generic.IsNotFound(err):
		status = http.StatusNotFound
	case generic.IsConflict(err):
		status = http.StatusConflict
	case generic.IsClientError(err):
		status = http.StatusBadRequest
	}
	writeError(w, status, message, err)
}

// money renders an amount the way reports show it.
func money(d decimal.Decimal) string { return generic.Money(d) }

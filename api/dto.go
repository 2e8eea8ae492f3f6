/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. Request types carry
  validator tags and convert themselves into billing types; response types
  wrap billing types where the API adds fields of its own.

NAMING CONVENTION:
  - *Request: Request body types from clients
  - *Response: Response wrappers
  - billing types are returned as-is when nothing is added

TYPES:
  Rentals:       CreateRentalRequest, AccessoryRequest
  Periods:       AddPeriodsRequest, PeriodRequest
  Corrections:   GapCorrectionRequest, GapCorrectionResponse
  Bonds:         CreateBondRequest
  Reconciliation: ReconcileRequest, ReconciliationResponse
  Import:        ImportRequest
  Scenarios:     ScenarioDTO, LoadScenarioRequest

VALIDATION:
  Struct tags are checked with go-playground/validator before conversion.
  Amounts are json.Number so clients may send 120.5 or "120.5" and nothing
  passes through float64. A negative period amount passes: it is a data
  problem the reconciliation reports, not a malformed request.

SEE ALSO:
  - handlers.go: Uses these types
  - billing/types.go: Domain types
*/
package api

import (
	"encoding/json"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/taha-yassine-romdhane/espace-iris-sub012/billing"
	"github.com/taha-yassine-romdhane/espace-iris-sub012/generic"
	"github.com/taha-yassine-romdhane/espace-iris-sub012/importer"
)

// =============================================================================
// RENTALS
// =============================================================================

type AccessoryRequest struct {
	Name      string      `json:"name" validate:"required"`
	UnitPrice json.Number `json:"unit_price" validate:"required,numeric"`
	Quantity  int         `json:"quantity" validate:"gte=0"`
}

type CreateRentalRequest struct {
	ID              string             `json:"id" validate:"omitempty,max=64"`
	Code            string             `json:"code" validate:"required,max=64"`
	PatientID       string             `json:"patient_id"`
	DeviceName      string             `json:"device_name" validate:"required"`
	DeviceDailyRate json.Number        `json:"device_daily_rate" validate:"required,numeric"`
	Accessories     []AccessoryRequest `json:"accessories" validate:"dive"`
	StartDate       string             `json:"start_date" validate:"required,datetime=2006-01-02"`
	EndDate         string             `json:"end_date" validate:"omitempty,datetime=2006-01-02"`
}

func (r CreateRentalRequest) toRental() (billing.Rental, error) {
	rate, err := nonNegative(r.DeviceDailyRate)
	if err != nil {
		return billing.Rental{}, err
	}
	span, err := spanOf(r.StartDate, r.EndDate)
	if err != nil {
		return billing.Rental{}, err
	}

	rental := billing.Rental{
		ID:              orNewID(r.ID),
		Code:            r.Code,
		PatientID:       r.PatientID,
		DeviceName:      r.DeviceName,
		DeviceDailyRate: rate,
		Span:            span,
	}
	for _, a := range r.Accessories {
		price, err := nonNegative(a.UnitPrice)
		if err != nil {
			return billing.Rental{}, err
		}
		rental.Accessories = append(rental.Accessories, billing.AccessoryLine{
			Name: a.Name, UnitPrice: price, Quantity: a.Quantity,
		})
	}
	return rental, nil
}

// =============================================================================
// BILLING PERIODS
// =============================================================================

type PeriodRequest struct {
	ID            string      `json:"id" validate:"omitempty,max=64"`
	StartDate     string      `json:"start_date" validate:"required,datetime=2006-01-02"`
	EndDate       string      `json:"end_date" validate:"required,datetime=2006-01-02"`
	Amount        json.Number `json:"amount" validate:"required,numeric"`
	PaymentMethod string      `json:"payment_method" validate:"required"`
	IsGapPeriod   bool        `json:"is_gap_period"`
	GapReason     string      `json:"gap_reason" validate:"omitempty,max=255"`
	CNAMBondID    string      `json:"cnam_bond_id"`
	Notes         string      `json:"notes"`
}

type AddPeriodsRequest struct {
	Periods []PeriodRequest `json:"periods" validate:"required,min=1,dive"`
}

func (r PeriodRequest) toPeriod(rentalID string) (billing.BillingPeriod, error) {
	amount, err := generic.ParseAmount(r.Amount)
	if err != nil {
		return billing.BillingPeriod{}, err
	}
	start, err := generic.ParseDate(r.StartDate)
	if err != nil {
		return billing.BillingPeriod{}, err
	}
	end, err := generic.ParseDate(r.EndDate)
	if err != nil {
		return billing.BillingPeriod{}, err
	}
	p := billing.BillingPeriod{
		ID:             orNewID(r.ID),
		RentalID:       rentalID,
		Start:          start,
		End:            end,
		Amount:         amount,
		Payer:          billing.ClassifyPaymentMethod(r.PaymentMethod),
		PaymentMethod:  r.PaymentMethod,
		IsGapGenerated: r.IsGapPeriod,
		GapReason:      r.GapReason,
		InsurerLinkID:  r.CNAMBondID,
		Notes:          r.Notes,
	}
	if p.IsGapGenerated && p.GapReason == "" {
		p.GapReason = billing.GapReasonOther
	}
	return p, nil
}

// GapCorrectionRequest applies corrections only when dry_run is sent as false.
type GapCorrectionRequest struct {
	DryRun *bool `json:"dry_run"`
}

func (r GapCorrectionRequest) dryRun() bool { return r.DryRun == nil || *r.DryRun }

type GapCorrectionResponse struct {
	RentalID string `json:"rental_id"`
	DryRun   bool   `json:"dry_run"`
	Applied  int    `json:"applied"`
	billing.GapCorrectionReport
}

// =============================================================================
// COVERAGE BONDS
// =============================================================================

type CreateBondRequest struct {
	ID            string      `json:"id" validate:"omitempty,max=64"`
	BondNumber    string      `json:"bond_number" validate:"required"`
	BondType      string      `json:"bond_type"`
	StartDate     string      `json:"start_date" validate:"required,datetime=2006-01-02"`
	EndDate       string      `json:"end_date" validate:"omitempty,datetime=2006-01-02"`
	TotalAmount   json.Number `json:"total_amount" validate:"omitempty,numeric"`
	CoveredMonths int         `json:"covered_months" validate:"gte=0"`
	Status        string      `json:"status" validate:"omitempty,oneof=PENDING APPROVED ACTIVE EXPIRED REJECTED"`
}

func (r CreateBondRequest) toBond(rentalID string) (billing.CoverageBond, error) {
	total := decimal.Zero
	if r.TotalAmount != "" {
		var err error
		if total, err = nonNegative(r.TotalAmount); err != nil {
			return billing.CoverageBond{}, err
		}
	}
	span, err := spanOf(r.StartDate, r.EndDate)
	if err != nil {
		return billing.CoverageBond{}, err
	}
	status := billing.BondStatus(r.Status)
	if status == "" {
		status = billing.BondPending
	}
	return billing.CoverageBond{
		ID:            orNewID(r.ID),
		RentalID:      rentalID,
		BondNumber:    r.BondNumber,
		BondType:      r.BondType,
		Start:         span.Start,
		End:           span.End,
		TotalAmount:   total,
		CoveredMonths: r.CoveredMonths,
		Status:        status,
	}, nil
}

// =============================================================================
// RECONCILIATION
// =============================================================================

// ReconcileRequest is a self-contained snapshot reconciled without touching
// the store.
type ReconcileRequest struct {
	StartDate string          `json:"start_date" validate:"required,datetime=2006-01-02"`
	EndDate   string          `json:"end_date" validate:"omitempty,datetime=2006-01-02"`
	DailyRate json.Number     `json:"daily_rate" validate:"required,numeric"`
	AsOf      string          `json:"as_of" validate:"omitempty,datetime=2006-01-02"`
	Periods   []PeriodRequest `json:"periods" validate:"dive"`
}

// ReconciliationResponse is a report plus what the API knows about it.
type ReconciliationResponse struct {
	RentalID      string          `json:"rental_id,omitempty"`
	Fingerprint   string          `json:"fingerprint"`
	Cached        bool            `json:"cached"`
	CoverageRatio decimal.Decimal `json:"coverage_ratio"`
	billing.Report
}

func newReconciliationResponse(rentalID, fingerprint string, rep billing.Report, cached bool) ReconciliationResponse {
	return ReconciliationResponse{
		RentalID:      rentalID,
		Fingerprint:   fingerprint,
		Cached:        cached,
		CoverageRatio: rep.Summary.CoverageRatio(),
		Report:        rep,
	}
}

// =============================================================================
// IMPORT
// =============================================================================

type ImportRequest struct {
	Records []importer.LegacyRecord `json:"records" validate:"required,min=1"`
	DryRun  bool                    `json:"dry_run"`
}

// =============================================================================
// SCENARIOS
// =============================================================================

type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id" validate:"required"`
}

// =============================================================================
// ERRORS
// =============================================================================

type ErrorResponse struct {
	Error   string            `json:"error"`
	Details string            `json:"details,omitempty"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func orNewID(id string) string {
	if id == "" {
		return uuid.NewString()
	}
	return id
}

func nonNegative(n json.Number) (decimal.Decimal, error) {
	d, err := generic.ParseAmount(n)
	if err != nil {
		return decimal.Zero, err
	}
	if d.IsNegative() {
		return decimal.Zero, generic.ErrNegativeAmount
	}
	return d, nil
}

func spanOf(start, end string) (billing.RentalSpan, error) {
	s, err := generic.ParseDate(start)
	if err != nil {
		return billing.RentalSpan{}, err
	}
	if end == "" {
		return billing.OpenSpan(s), nil
	}
	e, err := generic.ParseDate(end)
	if err != nil {
		return billing.RentalSpan{}, err
	}
	if e.Before(s) {
		return billing.RentalSpan{}, generic.ErrInvalidPeriod
	}
	return billing.NewSpan(s, e), nil
}

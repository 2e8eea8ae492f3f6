/*
Package importer turns legacy rental-period records into billing periods.

PURPOSE:
  The back office exported billing periods from several generations of
  spreadsheets. Fields are loosely typed and sometimes contradict each other
  (a gap amount on a period not flagged as a gap, a CNAM payment with no bond).
  This package derives a well-formed billing.BillingPeriod from such a record
  and reports every inference it had to make as a warning.

DERIVATION RULES (first match wins for the payment method):
  1. explicit payment method        → used verbatim
  2. record flagged as a gap        → CASH
  3. status PAID or PENDING         → CNAM
  4. otherwise                      → CASH

  gap flag    = explicit flag OR gap amount > 0
  bond link   = explicit bond id, else the rental's first bond (CNAM only)

  A gap amount promoting an unflagged record, and a CNAM period left without a
  bond, are both reported as dataInconsistency warnings.

DETERMINISM:
  Construct is pure. The same record and bond list always produce the same
  period and the same warnings.

SEE ALSO:
  - reader.go: JSON and XLSX decoding into LegacyRecord
  - run.go: batch import into a billing.Store
  - billing/validate.go: where constructed periods go next
*/
package importer

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/taha-yassine-romdhane/espace-iris-sub012/billing"
	"github.com/taha-yassine-romdhane/espace-iris-sub012/generic"
)

// =============================================================================
// LEGACY RECORD
// =============================================================================

// LegacyRecord is one exported period. Optional fields are pointers so an
// absent value is never confused with false, zero or "".
//
// Amount and GapAmount are left untyped: exports carry them as numbers or
// as strings such as "90,5" or "120 TND".
type LegacyRecord struct {
	ID            string  `json:"id"`
	RentalID      string  `json:"rentalId"`
	StartDate     string  `json:"startDate"`
	EndDate       string  `json:"endDate"`
	Amount        any     `json:"amount"`
	PaymentMethod *string `json:"paymentMethod,omitempty"`
	IsGapPeriod   *bool   `json:"isGapPeriod,omitempty"`
	GapAmount     any     `json:"gapAmount,omitempty"`
	PaymentStatus *string `json:"paymentStatus,omitempty"`
	GapReason     *string `json:"gapReason,omitempty"`
	Notes         *string `json:"notes,omitempty"`
	PeriodNumber  *int    `json:"periodNumber,omitempty"`
	CNAMBondID    *string `json:"cnamBondId,omitempty"`
}

// Construction is a derived period plus the inferences worth surfacing.
type Construction struct {
	Period   billing.BillingPeriod `json:"period"`
	Warnings billing.Issues        `json:"warnings"`
}

// =============================================================================
// CONSTRUCT
// =============================================================================

// Construct derives a billing period from a legacy record. bondIDs are the
// coverage bonds of the record's rental, in the order the store returns them.
//
// An error means the record cannot become a period at all (missing ID,
// unparseable amount or date) and is a *generic.RecordError. A negative
// amount or reversed dates are NOT errors here; the validator reports them.
func Construct(rec LegacyRecord, bondIDs []string) (Construction, error) {
	if strings.TrimSpace(rec.ID) == "" {
		return Construction{}, &generic.RecordError{RecordID: "?", Field: "id", Err: generic.ErrMissingField}
	}
	if strings.TrimSpace(rec.RentalID) == "" {
		return Construction{}, &generic.RecordError{RecordID: rec.ID, Field: "rentalId", Err: generic.ErrMissingField}
	}

	amount, err := generic.ParseAmount(rec.Amount)
	if err != nil {
		return Construction{}, &generic.RecordError{RecordID: rec.ID, Field: "amount", Err: err}
	}
	start, err := generic.ParseDate(rec.StartDate)
	if err != nil {
		return Construction{}, &generic.RecordError{RecordID: rec.ID, Field: "startDate", Err: err}
	}
	end, err := generic.ParseDate(rec.EndDate)
	if err != nil {
		return Construction{}, &generic.RecordError{RecordID: rec.ID, Field: "endDate", Err: err}
	}
	gapAmount := decimal.Zero
	if rec.GapAmount != nil {
		if gapAmount, err = generic.ParseAmount(rec.GapAmount); err != nil {
			return Construction{}, &generic.RecordError{RecordID: rec.ID, Field: "gapAmount", Err: err}
		}
	}

	var warnings billing.Issues

	flagged := rec.IsGapPeriod != nil && *rec.IsGapPeriod
	isGap := flagged || gapAmount.IsPositive()
	if isGap && !flagged {
		warnings = append(warnings, billing.ValidationIssue{
			Kind:     billing.IssueDataInconsistency,
			Severity: billing.SeverityWarning,
			Message: fmt.Sprintf("period %s has a gap amount (%s) but is not flagged as a gap period; treated as a gap period",
				rec.ID, generic.Money(gapAmount)),
			PeriodIDs: []string{rec.ID},
		})
	}

	method := paymentMethod(rec, flagged)
	payer := billing.ClassifyPaymentMethod(method)

	link := stringOr(rec.CNAMBondID, "")
	if link == "" && payer == billing.PayerInsurer && len(bondIDs) > 0 {
		link = bondIDs[0]
	}
	if payer == billing.PayerInsurer && link == "" {
		warnings = append(warnings, billing.ValidationIssue{
			Kind:      billing.IssueDataInconsistency,
			Severity:  billing.SeverityWarning,
			Message:   fmt.Sprintf("period %s is an insurer payment without linked coverage", rec.ID),
			PeriodIDs: []string{rec.ID},
		})
	}

	period := billing.BillingPeriod{
		ID:             rec.ID,
		RentalID:       rec.RentalID,
		Start:          start,
		End:            end,
		Amount:         amount,
		Payer:          payer,
		PaymentMethod:  method,
		IsGapGenerated: isGap,
		InsurerLinkID:  link,
		GapReason:      stringOr(rec.GapReason, ""),
		Notes:          stringOr(rec.Notes, ""),
	}
	if isGap && period.GapReason == "" {
		period.GapReason = fmt.Sprintf("Gap period - Amount: %s", gapAmount)
	}
	if period.Notes == "" && rec.PeriodNumber != nil {
		period.Notes = fmt.Sprintf("Period %d. Status: %s", *rec.PeriodNumber, stringOr(rec.PaymentStatus, "Unknown"))
	}

	return Construction{Period: period, Warnings: warnings}, nil
}

// Only the explicit flag steers the method; a gap inferred from the amount
// does not.
func paymentMethod(rec LegacyRecord, flagged bool) string {
	if explicit := stringOr(rec.PaymentMethod, ""); explicit != "" {
		return explicit
	}
	if flagged {
		return billing.MethodCash
	}
	switch strings.ToUpper(stringOr(rec.PaymentStatus, "")) {
	case "PAID", "PENDING":
		return billing.MethodCNAM
	}
	return billing.MethodCash
}

func stringOr(s *string, fallback string) string {
	if s == nil {
		return fallback
	}
	if v := strings.TrimSpace(*s); v != "" {
		return v
	}
	return fallback
}

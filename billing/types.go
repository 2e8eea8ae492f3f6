/*
Package billing implements rental billing-period reconciliation.

PURPOSE:
  A rental is billed as a sequence of billing periods, each attributed to a
  payer (the CNAM insurer, the patient, or another method). This package
  checks a period set for consistency, finds the days no period covers, prices
  those gaps and aggregates amounts for reporting.

DATA FLOW:
  raw periods ──▶ Validate ──▶ Partition ──▶ DetectGaps ──▶ Summarize
                     │                          (accepted periods only)
                     ▼
                  Issues (errors + warnings, always complete)

INVARIANTS (on any set passed to DetectGaps / Summarize):
  1. Periods are pairwise non-overlapping once sorted by start
  2. Every period has End >= Start
  3. Every amount is >= 0

  Violations are reported as issues and never corrected here. Correction is
  always the caller's decision.

PURITY:
  Nothing in this package performs I/O or keeps state between calls. The
  current date is always a parameter, never read from the clock.

SEE ALSO:
  - validate.go: issue taxonomy and validation order
  - gaps.go: gap detection and pricing
  - summary.go: financial aggregation
  - reconcile.go: the full pipeline
*/
package billing

import (
	"sort"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/taha-yassine-romdhane/espace-iris-sub012/generic"
)

// =============================================================================
// RENTAL SPAN
// =============================================================================

// RentalSpan is the contract envelope. End is nil for an ongoing rental.
type RentalSpan struct {
	Start generic.Date  `json:"start_date"`
	End   *generic.Date `json:"end_date,omitempty"`
}

// NewSpan returns a closed span.
func NewSpan(start, end generic.Date) RentalSpan {
	return RentalSpan{Start: start, End: &end}
}

// OpenSpan returns a span with no end date.
func OpenSpan(start generic.Date) RentalSpan {
	return RentalSpan{Start: start}
}

// IsOpen reports whether the rental has no end date.
func (s RentalSpan) IsOpen() bool { return s.End == nil || s.End.IsZero() }

// EffectiveEnd bounds the span for analysis: the rental end when known,
// otherwise now. Future coverage of an ongoing rental is unknown, not a gap.
func (s RentalSpan) EffectiveEnd(now generic.Date) generic.Date {
	if s.IsOpen() {
		return now
	}
	return *s.End
}

// Bounds returns the analysed interval [Start, EffectiveEnd(now)].
func (s RentalSpan) Bounds(now generic.Date) generic.Period {
	return generic.Period{Start: s.Start, End: s.EffectiveEnd(now)}
}

// =============================================================================
// PAYER CLASSIFICATION
// =============================================================================

type PayerClassification string

const (
	PayerInsurer     PayerClassification = "INSURER"
	PayerPatientCash PayerClassification = "PATIENT_CASH"
	PayerOther       PayerClassification = "OTHER"
)

// Payment method labels as recorded by the back office.
const (
	MethodCNAM = "CNAM"
	MethodCash = "CASH"
)

// ClassifyPaymentMethod maps a recorded payment method onto a payer
// classification. Matching ignores case and surrounding spaces.
func ClassifyPaymentMethod(method string) PayerClassification {
	switch strings.ToUpper(strings.TrimSpace(method)) {
	case "CNAM", "INSURER", "INSURANCE", "ASSURANCE":
		return PayerInsurer
	case "CASH", "PATIENT", "PATIENT_CASH", "ESPECES", "ESPÈCES":
		return PayerPatientCash
	default:
		return PayerOther
	}
}

// =============================================================================
// GAP REASONS
// =============================================================================

// Gap reasons recorded on gap-generated periods.
const (
	GapReasonCNAMPending  = "CNAM_PENDING"
	GapReasonCNAMGap      = "CNAM_GAP"
	GapReasonCNAMExpired  = "CNAM_EXPIRED"
	GapReasonPatientPause = "PATIENT_PAUSE"
	GapReasonMaintenance  = "MAINTENANCE"
	GapReasonOther        = "OTHER"
)

// =============================================================================
// BILLING PERIOD
// =============================================================================

// BillingPeriod is a contiguous, payer-attributed interval of a rental.
// The engine only ever reads periods; it never mutates them.
type BillingPeriod struct {
	ID             string              `json:"id"`
	RentalID       string              `json:"rental_id,omitempty"`
	Start          generic.Date        `json:"start_date"`
	End            generic.Date        `json:"end_date"`
	Amount         decimal.Decimal     `json:"amount"`
	Payer          PayerClassification `json:"payer"`
	PaymentMethod  string              `json:"payment_method,omitempty"`
	IsGapGenerated bool                `json:"is_gap_period"`
	GapReason      string              `json:"gap_reason,omitempty"`
	InsurerLinkID  string              `json:"cnam_bond_id,omitempty"`
	Notes          string              `json:"notes,omitempty"`
}

// Period returns the interval covered by the billing period.
func (p BillingPeriod) Period() generic.Period {
	return generic.Period{Start: p.Start, End: p.End}
}

// DayCount is the inclusive number of days the period covers.
func (p BillingPeriod) DayCount() int { return generic.SpanDays(p.Start, p.End) }

// IsInsurer reports whether the insurer pays for this period.
func (p BillingPeriod) IsInsurer() bool { return p.Payer == PayerInsurer }

// sortPeriods orders by start, then end, then ID so results never depend on
// input order.
func sortPeriods(periods []BillingPeriod) {
	sort.SliceStable(periods, func(i, j int) bool {
		a, b := periods[i], periods[j]
		if !a.Start.Equal(b.Start) {
			return a.Start.Before(b.Start)
		}
		if !a.End.Equal(b.End) {
			return a.End.Before(b.End)
		}
		return a.ID < b.ID
	})
}

// SortedCopy returns the periods ordered by start date without touching the input.
func SortedCopy(periods []BillingPeriod) []BillingPeriod {
	out := make([]BillingPeriod, len(periods))
	copy(out, periods)
	sortPeriods(out)
	return out
}

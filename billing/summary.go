package billing

import (
	"github.com/shopspring/decimal"
)

// =============================================================================
// FINANCIAL SUMMARY
// =============================================================================

// FinancialSummary aggregates a period set by payer and by gap status.
//
// The top-level buckets describe persisted periods only. Detected describes
// gaps freshly computed by DetectGaps and is never folded into GapAmount or
// GapDays: a persisted gap period is already billed, a detected gap is not.
type FinancialSummary struct {
	TotalAmount        decimal.Decimal `json:"total_amount"`
	InsurerAmount      decimal.Decimal `json:"insurer_amount"`
	PatientAmount      decimal.Decimal `json:"patient_amount"`
	GapAmount          decimal.Decimal `json:"gap_amount"`
	TotalDays          int             `json:"total_days"`
	BillableDays       int             `json:"billable_days"`
	GapDays            int             `json:"gap_days"`
	PeriodCount        int             `json:"period_count"`
	InsurerPeriodCount int             `json:"insurer_period_count"`
	GapPeriodCount     int             `json:"gap_period_count"`

	Detected DetectedGaps `json:"detected_gaps"`
}

// DetectedGaps totals computed, not yet persisted, gaps.
type DetectedGaps struct {
	Count           int             `json:"count"`
	Days            int             `json:"days"`
	EstimatedAmount decimal.Decimal `json:"estimated_amount"`
}

// Summarize walks the period set once. Periods should come from Partition's
// accepted side; the aggregator itself never checks invariants.
//
//   - every period: TotalAmount, TotalDays, PeriodCount
//   - gap-generated: GapAmount, GapDays, GapPeriodCount
//   - otherwise: BillableDays, then InsurerAmount/InsurerPeriodCount for
//     INSURER and PatientAmount for everything else
func Summarize(periods []BillingPeriod, gaps []Gap) FinancialSummary {
	s := FinancialSummary{
		TotalAmount:   decimal.Zero,
		InsurerAmount: decimal.Zero,
		PatientAmount: decimal.Zero,
		GapAmount:     decimal.Zero,
		Detected:      DetectedGaps{EstimatedAmount: decimal.Zero},
	}

	for _, p := range periods {
		days := p.DayCount()
		s.TotalAmount = s.TotalAmount.Add(p.Amount)
		s.TotalDays += days
		s.PeriodCount++

		if p.IsGapGenerated {
			s.GapAmount = s.GapAmount.Add(p.Amount)
			s.GapDays += days
			s.GapPeriodCount++
			continue
		}

		s.BillableDays += days
		if p.IsInsurer() {
			s.InsurerAmount = s.InsurerAmount.Add(p.Amount)
			s.InsurerPeriodCount++
		} else {
			s.PatientAmount = s.PatientAmount.Add(p.Amount)
		}
	}

	for _, g := range gaps {
		s.Detected.Count++
		s.Detected.Days += g.DurationDays
		s.Detected.EstimatedAmount = s.Detected.EstimatedAmount.Add(g.EstimatedAmount)
	}
	return s
}

// PromoteGap turns a detected gap into a patient-paid, gap-generated period
// priced at its estimate. The caller decides whether to persist it.
func PromoteGap(g Gap, id, rentalID string) BillingPeriod {
	reason := g.SuggestedReason
	if reason == "" {
		reason = GapReasonOther
	}
	return BillingPeriod{
		ID:             id,
		RentalID:       rentalID,
		Start:          g.Start,
		End:            g.End,
		Amount:         g.EstimatedAmount,
		Payer:          PayerPatientCash,
		PaymentMethod:  MethodCash,
		IsGapGenerated: true,
		GapReason:      reason,
		Notes:          g.Description,
	}
}

// CoverageRatio is the share of analysed days covered by billable periods,
// in [0, 1]. It is zero when nothing was analysed.
func (s FinancialSummary) CoverageRatio() decimal.Decimal {
	analysed := s.TotalDays + s.Detected.Days
	if analysed == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(int64(s.BillableDays)).
		DivRound(decimal.NewFromInt(int64(analysed)), 4)
}

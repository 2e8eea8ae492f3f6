package billing

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/taha-yassine-romdhane/espace-iris-sub012/generic"
)

// =============================================================================
// GAP AMOUNT CORRECTIONS
// =============================================================================

const (
	// GapPatientSharePercent of the device daily rate is what a gap day costs
	// the patient when no bond caps it lower.
	GapPatientSharePercent = 20
	// GapCorrectionThresholdPercent is the drift from the proper amount above
	// which a gap period is proposed for correction.
	GapCorrectionThresholdPercent = 10

	daysPerMonth = 30
)

// GapCorrection is a proposed rewrite of one gap period's amount.
type GapCorrection struct {
	PeriodID    string          `json:"period_id"`
	Start       generic.Date    `json:"start_date"`
	End         generic.Date    `json:"end_date"`
	Days        int             `json:"days"`
	DailyRate   decimal.Decimal `json:"daily_rate"`
	OldAmount   decimal.Decimal `json:"old_amount"`
	NewAmount   decimal.Decimal `json:"new_amount"`
	Difference  decimal.Decimal `json:"difference"` // old - new
	PercentDiff decimal.Decimal `json:"percentage_diff"`
	Calculation string          `json:"calculation"`
}

// GapCorrectionReport lists the corrections proposed for one rental.
type GapCorrectionReport struct {
	GapPeriods      int             `json:"gap_periods"`
	Corrections     []GapCorrection `json:"corrections"`
	TotalOld        decimal.Decimal `json:"total_old"`
	TotalNew        decimal.Decimal `json:"total_new"`
	TotalDifference decimal.Decimal `json:"total_difference"`
}

// MonthlyAmount spreads the bond total over its covered months. A bond with no
// month count is taken as a monthly amount already.
func (b CoverageBond) MonthlyAmount() decimal.Decimal {
	if b.CoveredMonths <= 0 {
		return b.TotalAmount
	}
	return b.TotalAmount.Div(decimal.NewFromInt(int64(b.CoveredMonths)))
}

// ProperGapRate is the daily amount a gap day should cost: the patient share
// of the device rate, capped by the first bond's daily amount. A bond without
// an amount does not cap anything.
func ProperGapRate(deviceDailyRate decimal.Decimal, bonds []CoverageBond) (decimal.Decimal, string) {
	share := deviceDailyRate.Mul(decimal.NewFromInt(GapPatientSharePercent)).Div(decimal.NewFromInt(100))
	if len(bonds) == 0 || !bonds[0].MonthlyAmount().IsPositive() {
		return share, fmt.Sprintf("%d%% x %s", GapPatientSharePercent, generic.Money(deviceDailyRate))
	}

	monthly := bonds[0].MonthlyAmount()
	bondDaily := monthly.Div(decimal.NewFromInt(daysPerMonth))
	return decimal.Min(share, bondDaily), fmt.Sprintf("min(%d%% x %s, %s/%d)",
		GapPatientSharePercent, generic.Money(deviceDailyRate), generic.Money(monthly), daysPerMonth)
}

// ProposeGapCorrections checks every gap-generated period against the proper
// gap rate and proposes a correction where the stored amount drifts more than
// GapCorrectionThresholdPercent. Nothing is mutated.
func ProposeGapCorrections(periods []BillingPeriod, deviceDailyRate decimal.Decimal, bonds []CoverageBond) GapCorrectionReport {
	rate, formula := ProperGapRate(deviceDailyRate, bonds)
	rep := GapCorrectionReport{
		Corrections:     []GapCorrection{},
		TotalOld:        decimal.Zero,
		TotalNew:        decimal.Zero,
		TotalDifference: decimal.Zero,
	}

	for _, p := range SortedCopy(periods) {
		if !p.IsGapGenerated {
			continue
		}
		rep.GapPeriods++

		days := generic.SpanDays(p.Start, p.End)
		proper := rate.Mul(decimal.NewFromInt(int64(days))).Round(2)
		drift, ok := driftPercent(p.Amount, proper)
		if !ok || drift.LessThanOrEqual(decimal.NewFromInt(GapCorrectionThresholdPercent)) {
			continue
		}

		c := GapCorrection{
			PeriodID:    p.ID,
			Start:       p.Start,
			End:         p.End,
			Days:        days,
			DailyRate:   rate.Round(2),
			OldAmount:   p.Amount,
			NewAmount:   proper,
			Difference:  p.Amount.Sub(proper),
			PercentDiff: drift.Round(2),
			Calculation: fmt.Sprintf("%s = %s/day x %d days = %s",
				formula, generic.Money(rate), days, generic.Money(proper)),
		}
		rep.Corrections = append(rep.Corrections, c)
		rep.TotalOld = rep.TotalOld.Add(c.OldAmount)
		rep.TotalNew = rep.TotalNew.Add(c.NewAmount)
		rep.TotalDifference = rep.TotalDifference.Add(c.Difference)
	}
	return rep
}

// driftPercent is |current - proper| / current in percent. A zero current
// amount drifts fully from any non-zero proper amount and not at all from zero.
func driftPercent(current, proper decimal.Decimal) (decimal.Decimal, bool) {
	if current.IsZero() {
		if proper.IsZero() {
			return decimal.Zero, false
		}
		return decimal.NewFromInt(100), true
	}
	return current.Sub(proper).Abs().Div(current.Abs()).Mul(decimal.NewFromInt(100)), true
}

// Apply returns p with the corrected amount and a note recording the old one.
func (c GapCorrection) Apply(p BillingPeriod, on generic.Date) BillingPeriod {
	p.Amount = c.NewAmount
	p.Notes = fmt.Sprintf("Amount corrected on %s - previous: %s TND", on, generic.Money(c.OldAmount))
	return p
}

package billing

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/taha-yassine-romdhane/espace-iris-sub012/generic"
)

// =============================================================================
// GAP - Uncovered days of a rental, priced at the daily rate
// =============================================================================

type GapPosition string

const (
	GapAtStart  GapPosition = "START"
	GapInMiddle GapPosition = "MIDDLE"
	GapAtEnd    GapPosition = "END"
)

type GapSeverity string

const (
	GapSeverityHigh   GapSeverity = "HIGH"
	GapSeverityMedium GapSeverity = "MEDIUM"
)

// Gaps longer than this are flagged HIGH.
const highSeverityGapDays = 7

// Gap is a computed, never persisted, uncovered interval of a rental.
type Gap struct {
	ID              string          `json:"id"`
	Start           generic.Date    `json:"start_date"`
	End             generic.Date    `json:"end_date"`
	DurationDays    int             `json:"duration_days"`
	EstimatedAmount decimal.Decimal `json:"estimated_amount"`
	Position        GapPosition     `json:"position"`
	Severity        GapSeverity     `json:"severity"`
	SuggestedReason string          `json:"suggested_reason"`
	Description     string          `json:"description"`
}

func (g Gap) Period() generic.Period {
	return generic.Period{Start: g.Start, End: g.End}
}

// =============================================================================
// DETECTOR
// =============================================================================

// DetectGaps returns the uncovered sub-intervals of the rental.
//
// periods must already be free of overlaps (run Validate and Partition first);
// they are sorted internally so input order is irrelevant. For an ongoing
// rental the analysis stops at now. Every gap is clipped to
// [span.Start, span.EffectiveEnd(now)], and gaps shorter than one day are
// dropped rather than reported at zero cost.
//
// Together with the periods, the gaps tile the analysed span exactly.
func DetectGaps(periods []BillingPeriod, span RentalSpan, dailyRate decimal.Decimal, now generic.Date) ([]Gap, error) {
	if dailyRate.IsNegative() {
		return nil, fmt.Errorf("%w: %s", generic.ErrNegativeRate, dailyRate)
	}
	if span.Start.IsZero() {
		return nil, fmt.Errorf("rental start: %w", generic.ErrInvalidDate)
	}
	if span.IsOpen() && now.IsZero() {
		return nil, fmt.Errorf("open-ended rental needs a processing date: %w", generic.ErrInvalidDate)
	}

	sorted := SortedCopy(periods)
	for i, p := range sorted {
		if !p.Period().Valid() {
			return nil, fmt.Errorf("period %s: %w", p.ID, generic.ErrInvalidPeriod)
		}
		if i > 0 && p.Start.BeforeOrEqual(sorted[i-1].End) {
			prev := sorted[i-1]
			return nil, &generic.OverlapError{
				FirstID:  prev.ID,
				SecondID: p.ID,
				Days:     prev.Period().OverlapDays(p.Period()),
			}
		}
	}

	bounds := span.Bounds(now)
	var candidates []Gap

	if len(sorted) == 0 {
		candidates = append(candidates, Gap{
			ID:       "gap-start",
			Start:    bounds.Start,
			End:      bounds.End,
			Position: GapAtStart,
		})
	} else {
		first := sorted[0]
		if span.Start.Before(first.Start) {
			candidates = append(candidates, Gap{
				ID:       "gap-start",
				Start:    span.Start,
				End:      first.Start.AddDays(-1),
				Position: GapAtStart,
			})
		}

		for i := 1; i < len(sorted); i++ {
			prevEnd, nextStart := sorted[i-1].End, sorted[i].Start
			// Back-to-back periods are one day apart and leave nothing uncovered.
			if generic.DaysBetween(prevEnd, nextStart) > 1 {
				candidates = append(candidates, Gap{
					ID:       fmt.Sprintf("gap-between-%d", i),
					Start:    prevEnd.AddDays(1),
					End:      nextStart.AddDays(-1),
					Position: GapInMiddle,
				})
			}
		}

		lastEnd := sorted[len(sorted)-1].End
		if lastEnd.Before(bounds.End) {
			candidates = append(candidates, Gap{
				ID:       "gap-end",
				Start:    lastEnd.AddDays(1),
				End:      bounds.End,
				Position: GapAtEnd,
			})
		}
	}

	gaps := make([]Gap, 0, len(candidates))
	for _, c := range candidates {
		clipped, ok := c.Period().Clip(bounds)
		if !ok {
			continue
		}
		days := clipped.DayCount()
		if days < 1 {
			continue
		}
		c.Start, c.End = clipped.Start, clipped.End
		c.DurationDays = days
		c.EstimatedAmount = dailyRate.Mul(decimal.NewFromInt(int64(days)))
		c.Severity = gapSeverity(days)
		c.SuggestedReason = suggestedReason(c.Position)
		c.Description = describeGap(c.Position, days)
		gaps = append(gaps, c)
	}
	return gaps, nil
}

func gapSeverity(days int) GapSeverity {
	if days > highSeverityGapDays {
		return GapSeverityHigh
	}
	return GapSeverityMedium
}

// A gap before coverage usually means the CNAM bond was still pending, one
// between periods means a missing bond, one at the end means it expired.
func suggestedReason(pos GapPosition) string {
	switch pos {
	case GapAtStart:
		return GapReasonCNAMPending
	case GapInMiddle:
		return GapReasonCNAMGap
	default:
		return GapReasonCNAMExpired
	}
}

func describeGap(pos GapPosition, days int) string {
	switch pos {
	case GapAtStart:
		return fmt.Sprintf("Uncovered period at the start of the rental (%d day(s))", days)
	case GapInMiddle:
		return fmt.Sprintf("Uncovered period between two billing periods (%d day(s))", days)
	default:
		return fmt.Sprintf("Uncovered period at the end of the rental (%d day(s))", days)
	}
}

// =============================================================================
// DAILY RATE
// =============================================================================

// AccessoryLine is an accessory rented alongside the device.
type AccessoryLine struct {
	Name      string          `json:"name"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Quantity  int             `json:"quantity"`
}

// DailyRate is the device rate plus every accessory's unit price times its
// quantity. Lines with a non-positive quantity contribute nothing.
func DailyRate(deviceRate decimal.Decimal, accessories []AccessoryLine) decimal.Decimal {
	total := deviceRate
	for _, a := range accessories {
		if a.Quantity <= 0 {
			continue
		}
		total = total.Add(a.UnitPrice.Mul(decimal.NewFromInt(int64(a.Quantity))))
	}
	return total
}

package generic

// =============================================================================
// PERIOD - Inclusive day interval, the unit of interval algebra
// =============================================================================

// Period is the closed interval [Start, End]. Both ends are covered days:
// [Jan 1, Jan 1] covers one day, [Jan 1, Jan 31] covers 31.
type Period struct {
	Start Date
	End   Date
}

// NewPeriod builds a period and rejects reversed or missing bounds.
func NewPeriod(start, end Date) (Period, error) {
	if start.IsZero() || end.IsZero() {
		return Period{}, ErrInvalidDate
	}
	if end.Before(start) {
		return Period{}, ErrInvalidPeriod
	}
	return Period{Start: start, End: end}, nil
}

// Valid reports whether both bounds are set and End is not before Start.
func (p Period) Valid() bool {
	return !p.Start.IsZero() && !p.End.IsZero() && p.End.AfterOrEqual(p.Start)
}

// Contains returns true if the day is within [Start, End].
func (p Period) Contains(d Date) bool {
	return d.AfterOrEqual(p.Start) && d.BeforeOrEqual(p.End)
}

// Covers returns true if other lies entirely inside p.
func (p Period) Covers(other Period) bool {
	return p.Contains(other.Start) && p.Contains(other.End)
}

// Overlaps returns true when the two periods share at least one day.
// Sharing a boundary day counts: [1, 10] and [10, 15] overlap.
func (p Period) Overlaps(other Period) bool {
	return p.Start.BeforeOrEqual(other.End) && other.Start.BeforeOrEqual(p.End)
}

// OverlapDays is the number of days covered by both periods, 0 when disjoint.
func (p Period) OverlapDays(other Period) int {
	if !p.Overlaps(other) {
		return 0
	}
	return SpanDays(MaxDate(p.Start, other.Start), MinDate(p.End, other.End))
}

// Clip restricts p to bounds. ok is false when nothing remains.
func (p Period) Clip(bounds Period) (Period, bool) {
	clipped := Period{Start: MaxDate(p.Start, bounds.Start), End: MinDate(p.End, bounds.End)}
	if clipped.End.Before(clipped.Start) {
		return Period{}, false
	}
	return clipped, true
}

// DayCount is the inclusive length in days.
func (p Period) DayCount() int { return SpanDays(p.Start, p.End) }

// Days returns every day in the period.
func (p Period) Days() []Date {
	var days []Date
	for current := p.Start; current.BeforeOrEqual(p.End); current = current.AddDays(1) {
		days = append(days, current)
	}
	return days
}

func (p Period) String() string {
	return "[" + p.Start.String() + ", " + p.End.String() + "]"
}

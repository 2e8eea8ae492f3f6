package generic

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// =============================================================================
// DATE - Day-granular calendar date (billing never looks below a day)
// =============================================================================

// Date is a calendar day in UTC. Any time-of-day carried by the source value is
// dropped on construction, so two Dates compare equal iff they name the same day.
// The zero value means "missing".
type Date struct {
	t time.Time
}

const dateLayout = "2006-01-02"

// Accepted input layouts, tried in order by ParseDate.
var parseLayouts = []string{
	dateLayout,
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"02/01/2006",
}

// Constructors
func NewDate(year int, month time.Month, day int) Date {
	return Date{t: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// DateOf keeps the calendar day of t as seen in t's own location.
func DateOf(t time.Time) Date {
	if t.IsZero() {
		return Date{}
	}
	return NewDate(t.Year(), t.Month(), t.Day())
}

func Today() Date { return DateOf(time.Now()) }

// ParseDate accepts ISO dates, RFC 3339 timestamps and day-first dd/mm/yyyy.
func ParseDate(s string) (Date, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Date{}, fmt.Errorf("%w: empty value", ErrInvalidDate)
	}
	for _, layout := range parseLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return DateOf(t), nil
		}
	}
	return Date{}, fmt.Errorf("%w: %q", ErrInvalidDate, s)
}

// MustParseDate panics on malformed input. Intended for fixtures and tests.
func MustParseDate(s string) Date {
	d, err := ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

// Comparison
func (d Date) Before(other Date) bool { return d.t.Before(other.t) }
func (d Date) After(other Date) bool { return d.t.After(other.t) }
func (d Date) Equal(other Date) bool { return d.t.Equal(other.t) }
func (d Date) BeforeOrEqual(other Date) bool { return !d.After(other) }
func (d Date) AfterOrEqual(other Date) bool { return !d.Before(other) }

// Arithmetic
func (d Date) AddDays(n int) Date { return Date{t: d.t.AddDate(0, 0, n)} }
func (d Date) AddMonths(n int) Date { return Date{t: d.t.AddDate(0, n, 0)} }

// Properties
func (d Date) Year() int { return d.t.Year() }
func (d Date) Month() time.Month { return d.t.Month() }
func (d Date) Day() int { return d.t.Day() }
func (d Date) IsZero() bool { return d.t.IsZero() }
func (d Date) Time() time.Time { return d.t }
func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.t.Format(dateLayout)
}

func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(d.String())
}

func (d *Date) UnmarshalJSON(data []byte) error {
	var s *string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == nil || *s == "" {
		*d = Date{}
		return nil
	}
	parsed, err := ParseDate(*s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// =============================================================================
// ORDERING AND DAY COUNTS
// =============================================================================

type Ordering int

const (
	OrderBefore Ordering = -1
	OrderEqual  Ordering = 0
	OrderAfter  Ordering = 1
)

func (o Ordering) String() string {
	switch o {
	case OrderBefore:
		return "before"
	case OrderAfter:
		return "after"
	default:
		return "equal"
	}
}

// Compare reports where a falls relative to b.
func Compare(a, b Date) Ordering {
	switch {
	case a.Before(b):
		return OrderBefore
	case a.After(b):
		return OrderAfter
	default:
		return OrderEqual
	}
}

// DaysBetween returns to - from in whole days. Negative when to precedes from.
// Counted on Unix seconds: time.Duration saturates past about 292 years.
func DaysBetween(from, to Date) int {
	return int((to.t.Unix() - from.t.Unix()) / 86400)
}

// SpanDays is the inclusive day count of [from, to]; a single day is 1.
func SpanDays(from, to Date) int { return DaysBetween(from, to) + 1 }

func MinDate(a, b Date) Date {
	if a.Before(b) {
		return a
	}
	return b
}

func MaxDate(a, b Date) Date {
	if a.After(b) {
		return a
	}
	return b
}

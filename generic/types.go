/*
Package generic provides the domain-agnostic primitives of the rental billing engine.

PURPOSE:
  Day-granular dates, inclusive day intervals and money parsing. Nothing in
  this package knows about rentals, payers or insurers; the billing package
  builds the reconciliation rules on top of these types.

KEY CONCEPTS:
  - Date:    a calendar day, time-of-day is never significant
  - Period:  an inclusive [Start, End] interval of days
  - Amounts: decimal.Decimal in a single local currency unit

DESIGN PRINCIPLES:
  1. Purity: every function is deterministic and free of side effects
  2. Precision: money uses decimal.Decimal, never float64 arithmetic
  3. Day granularity: comparisons happen on normalized days only

SEE ALSO:
  - time.go: Date, ordering, day counts
  - period.go: Period interval algebra
  - billing/: validator, gap detector, aggregator
*/
package generic

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// =============================================================================
// AMOUNTS
// =============================================================================

// ParseAmount converts loosely typed input (JSON numbers, numeric strings,
// spreadsheet cells) into a decimal. A comma decimal separator is accepted.
func ParseAmount(v any) (decimal.Decimal, error) {
	switch x := v.(type) {
	case nil:
		return decimal.Zero, fmt.Errorf("%w: missing value", ErrInvalidAmount)
	case decimal.Decimal:
		return x, nil
	case float64:
		return decimal.NewFromFloat(x), nil
	case float32:
		return decimal.NewFromFloat32(x), nil
	case int:
		return decimal.NewFromInt(int64(x)), nil
	case int64:
		return decimal.NewFromInt(x), nil
	case json.Number:
		return parseAmountString(x.String())
	case string:
		return parseAmountString(x)
	default:
		return decimal.Zero, fmt.Errorf("%w: unsupported type %T", ErrInvalidAmount, v)
	}
}

func parseAmountString(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(strings.TrimSuffix(s, "TND"), "DT")
	s = strings.ReplaceAll(strings.TrimSpace(s), " ", "")
	if strings.Count(s, ",") == 1 && !strings.Contains(s, ".") {
		s = strings.Replace(s, ",", ".", 1)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	return d, nil
}

// MustParseDecimal returns zero for malformed input.
func MustParseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// Money formats an amount with two decimals, the way amounts are shown to operators.
func Money(d decimal.Decimal) string { return d.StringFixed(2) }

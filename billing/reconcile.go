package billing

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/taha-yassine-romdhane/espace-iris-sub012/generic"
)

// =============================================================================
// RECONCILIATION PIPELINE
// =============================================================================

// Input is one consistent snapshot of a rental's billing data.
type Input struct {
	Span      RentalSpan      `json:"span"`
	Periods   []BillingPeriod `json:"periods"`
	DailyRate decimal.Decimal `json:"daily_rate"`
	Now       generic.Date    `json:"now"`
}

// Report is everything one reconciliation pass produces. Rejected periods are
// listed by ID so the caller can still show them next to their issues.
type Report struct {
	Span        RentalSpan       `json:"span"`
	AsOf        generic.Date     `json:"as_of"`
	DailyRate   decimal.Decimal  `json:"daily_rate"`
	Issues      Issues           `json:"issues"`
	AcceptedIDs []string         `json:"accepted_ids"`
	RejectedIDs []string         `json:"rejected_ids"`
	Gaps        []Gap            `json:"gaps"`
	Summary     FinancialSummary `json:"summary"`
}

// Blocking reports whether any period was rejected by an error-severity issue.
func (r Report) Blocking() bool { return len(r.RejectedIDs) > 0 }

// Reconcile runs Validate, Partition, DetectGaps and Summarize in that order.
// Gap detection and aggregation only ever see the accepted periods.
//
// The only errors are caller errors (negative rate, missing rental start,
// open-ended rental without a processing date); data problems in the periods
// come back as issues.
func Reconcile(in Input) (Report, error) {
	issues := Validate(in.Periods, in.Span)
	accepted, rejected := Partition(in.Periods, issues)

	gaps, err := DetectGaps(accepted, in.Span, in.DailyRate, in.Now)
	if err != nil {
		return Report{}, fmt.Errorf("detect gaps: %w", err)
	}

	return Report{
		Span:        in.Span,
		AsOf:        in.Now,
		DailyRate:   in.DailyRate,
		Issues:      issues,
		AcceptedIDs: periodIDs(SortedCopy(accepted)),
		RejectedIDs: periodIDs(SortedCopy(rejected)),
		Gaps:        gaps,
		Summary:     Summarize(accepted, gaps),
	}, nil
}

func periodIDs(periods []BillingPeriod) []string {
	ids := make([]string, 0, len(periods))
	for _, p := range periods {
		ids = append(ids, p.ID)
	}
	return ids
}

// Fingerprint hashes an input snapshot independently of period order. Two
// inputs with the same fingerprint reconcile to the same report.
func Fingerprint(in Input) string {
	canonical := in
	// Decimals marshal exactly, so amounts differing in any digit hash apart.
	canonical.Periods = SortedCopy(in.Periods)
	raw, err := json.Marshal(canonical)
	if err != nil {
		// Every field marshals; this only trips on a programming error.
		panic(fmt.Sprintf("fingerprint: %v", err))
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

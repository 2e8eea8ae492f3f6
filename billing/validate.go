package billing

import (
	"fmt"
	"strings"

	"github.com/taha-yassine-romdhane/espace-iris-sub012/generic"
)

// =============================================================================
// ISSUE TAXONOMY
// =============================================================================

type IssueKind string

const (
	IssueInvalidDate       IssueKind = "invalidDate"
	IssueInvalidAmount     IssueKind = "invalidAmount"
	IssueContainment       IssueKind = "containment"
	IssueOverlap           IssueKind = "overlap"
	IssueDataInconsistency IssueKind = "dataInconsistency"
)

type Severity string

const (
	// SeverityError keeps the implicated periods out of gap detection and aggregation.
	SeverityError Severity = "error"
	// SeverityWarning is surfaced to the operator but blocks nothing.
	SeverityWarning Severity = "warning"
)

// ValidationIssue is one problem found in a period set.
type ValidationIssue struct {
	Kind        IssueKind `json:"kind"`
	Severity    Severity  `json:"severity"`
	Message     string    `json:"message"`
	PeriodIDs   []string  `json:"period_ids"`
	OverlapDays int       `json:"overlap_days,omitempty"`
}

func (i ValidationIssue) IsError() bool { return i.Severity == SeverityError }

func (i ValidationIssue) String() string {
	return fmt.Sprintf("%s %s [%s]: %s", i.Severity, i.Kind, strings.Join(i.PeriodIDs, ", "), i.Message)
}

// Issues is an ordered issue list.
type Issues []ValidationIssue

// Errors returns the error-severity issues, in order.
func (is Issues) Errors() Issues {
	return is.filter(func(i ValidationIssue) bool { return i.IsError() })
}

// Warnings returns the warning-severity issues, in order.
func (is Issues) Warnings() Issues {
	return is.filter(func(i ValidationIssue) bool { return !i.IsError() })
}

// OfKind returns the issues of one kind, in order.
func (is Issues) OfKind(kind IssueKind) Issues {
	return is.filter(func(i ValidationIssue) bool { return i.Kind == kind })
}

// HasErrors reports whether any issue blocks downstream processing.
func (is Issues) HasErrors() bool {
	for _, i := range is {
		if i.IsError() {
			return true
		}
	}
	return false
}

// Blocked returns the IDs of every period named by an error-severity issue.
func (is Issues) Blocked() map[string]bool {
	blocked := make(map[string]bool)
	for _, i := range is {
		if !i.IsError() {
			continue
		}
		for _, id := range i.PeriodIDs {
			blocked[id] = true
		}
	}
	return blocked
}

func (is Issues) filter(keep func(ValidationIssue) bool) Issues {
	out := Issues{}
	for _, i := range is {
		if keep(i) {
			out = append(out, i)
		}
	}
	return out
}

// =============================================================================
// VALIDATOR
// =============================================================================

// Validate checks a period set against itself and the rental span.
//
// Checks run in passes, and issues come back in pass order then input order:
//  1. dates present (fatal invalidDate, period leaves cross-period checks)
//  2. amount >= 0 (fatal invalidAmount) and end >= start (fatal invalidDate)
//  3. containment inside the rental span (warning)
//  4. overlap between every pair of remaining periods (fatal)
//
// Period IDs are assumed unique within the set. The input slice is not modified.
func Validate(periods []BillingPeriod, span RentalSpan) Issues {
	issues := Issues{}
	excluded := make([]bool, len(periods))
	reversed := make([]bool, len(periods))

	// Pass 1: dates present
	for i, p := range periods {
		if p.Start.IsZero() || p.End.IsZero() {
			issues = append(issues, ValidationIssue{
				Kind:      IssueInvalidDate,
				Severity:  SeverityError,
				Message:   fmt.Sprintf("period %s has a missing or unparseable %s", p.ID, missingBound(p)),
				PeriodIDs: []string{p.ID},
			})
			excluded[i] = true
		}
	}

	// Pass 2: per-period amount and ordering
	for i, p := range periods {
		if excluded[i] {
			continue
		}
		if p.Amount.IsNegative() {
			issues = append(issues, ValidationIssue{
				Kind:      IssueInvalidAmount,
				Severity:  SeverityError,
				Message:   fmt.Sprintf("period %s has a negative amount (%s)", p.ID, generic.Money(p.Amount)),
				PeriodIDs: []string{p.ID},
			})
			excluded[i] = true
		}
		if p.End.Before(p.Start) {
			issues = append(issues, ValidationIssue{
				Kind:      IssueInvalidDate,
				Severity:  SeverityError,
				Message:   fmt.Sprintf("period %s ends (%s) before it starts (%s)", p.ID, p.End, p.Start),
				PeriodIDs: []string{p.ID},
			})
			excluded[i] = true
			reversed[i] = true
		}
	}

	// Pass 3: containment. Runs on every period with a usable date range,
	// including ones already rejected for their amount.
	for i, p := range periods {
		if p.Start.IsZero() || p.End.IsZero() || reversed[i] {
			continue
		}
		if msg := containmentProblem(p, span); msg != "" {
			issues = append(issues, ValidationIssue{
				Kind:      IssueContainment,
				Severity:  SeverityWarning,
				Message:   msg,
				PeriodIDs: []string{p.ID},
			})
		}
	}

	// Pass 4: overlaps among the periods still standing
	var remaining []BillingPeriod
	for i, p := range periods {
		if !excluded[i] {
			remaining = append(remaining, p)
		}
	}
	issues = append(issues, findOverlaps(remaining)...)

	return issues
}

func missingBound(p BillingPeriod) string {
	switch {
	case p.Start.IsZero() && p.End.IsZero():
		return "start and end date"
	case p.Start.IsZero():
		return "start date"
	default:
		return "end date"
	}
}

func containmentProblem(p BillingPeriod, span RentalSpan) string {
	var problems []string
	if p.Start.Before(span.Start) {
		problems = append(problems, fmt.Sprintf("starts %s, before the rental start %s", p.Start, span.Start))
	}
	if !span.IsOpen() && p.End.After(*span.End) {
		problems = append(problems, fmt.Sprintf("ends %s, after the rental end %s", p.End, *span.End))
	}
	if len(problems) == 0 {
		return ""
	}
	return fmt.Sprintf("period %s %s", p.ID, strings.Join(problems, " and "))
}

// findOverlaps reports every ordered pair (A, B), A sorted before B, with
// B.Start <= A.End. Sharing a single boundary day is an overlap.
func findOverlaps(periods []BillingPeriod) Issues {
	sorted := SortedCopy(periods)
	issues := Issues{}
	for i := 0; i < len(sorted); i++ {
		a := sorted[i]
		for j := i + 1; j < len(sorted) && sorted[j].Start.BeforeOrEqual(a.End); j++ {
			b := sorted[j]
			days := a.Period().OverlapDays(b.Period())
			issues = append(issues, ValidationIssue{
				Kind:     IssueOverlap,
				Severity: SeverityError,
				Message: fmt.Sprintf("periods %s %s and %s %s overlap by %d day(s)",
					a.ID, a.Period(), b.ID, b.Period(), days),
				PeriodIDs:   []string{a.ID, b.ID},
				OverlapDays: days,
			})
		}
	}
	return issues
}

// Partition splits periods into those free of error-severity issues and the
// rest. Input order is preserved in both results.
func Partition(periods []BillingPeriod, issues Issues) (accepted, rejected []BillingPeriod) {
	blocked := issues.Blocked()
	for _, p := range periods {
		if blocked[p.ID] {
			rejected = append(rejected, p)
		} else {
			accepted = append(accepted, p)
		}
	}
	return accepted, rejected
}

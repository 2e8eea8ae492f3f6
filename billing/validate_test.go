package billing_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/taha-yassine-romdhane/espace-iris-sub012/billing"
	"github.com/taha-yassine-romdhane/espace-iris-sub012/generic"
)

// =============================================================================
// PER-PERIOD CHECKS
// =============================================================================

func TestValidate_CleanSet_NoIssues(t *testing.T) {
	periods := []billing.BillingPeriod{
		insurer("p1", "2024-01-01", "2024-01-15", "150"),
		cash("p2", "2024-01-16", "2024-01-31", "160"),
	}

	issues := billing.Validate(periods, span("2024-01-01", "2024-01-31"))

	assert.Empty(t, issues)
	assert.False(t, issues.HasErrors())
}

func TestValidate_MissingDate_FatalAndExcludedFromOverlapScan(t *testing.T) {
	// GIVEN: a period with no start date next to one that would overlap it
	broken := cash("broken", "2024-01-01", "2024-01-10", "10")
	broken.Start = generic.Date{}
	periods := []billing.BillingPeriod{
		broken,
		cash("ok", "2024-01-05", "2024-01-20", "10"),
	}

	// WHEN: validating
	issues := billing.Validate(periods, span("2024-01-01", "2024-01-31"))

	// THEN: one invalidDate error, no overlap involving the broken period
	require.Len(t, issues, 1)
	assert.Equal(t, billing.IssueInvalidDate, issues[0].Kind)
	assert.Equal(t, billing.SeverityError, issues[0].Severity)
	assert.Equal(t, []string{"broken"}, issues[0].PeriodIDs)
	assert.Contains(t, issues[0].Message, "start date")
}

func TestValidate_NegativeAmount_FatalNeverClamped(t *testing.T) {
	periods := []billing.BillingPeriod{cash("neg", "2024-01-01", "2024-01-10", "-5")}

	issues := billing.Validate(periods, span("2024-01-01", "2024-01-31"))

	require.Len(t, issues, 1)
	assert.Equal(t, billing.IssueInvalidAmount, issues[0].Kind)
	assert.True(t, issues[0].IsError())
	assert.True(t, periods[0].Amount.Equal(dec("-5")), "input must not be modified")
}

func TestValidate_EndBeforeStart_Fatal(t *testing.T) {
	periods := []billing.BillingPeriod{cash("rev", "2024-01-10", "2024-01-01", "5")}

	issues := billing.Validate(periods, span("2024-01-01", "2024-01-31"))

	require.Len(t, issues, 1)
	assert.Equal(t, billing.IssueInvalidDate, issues[0].Kind)
	assert.True(t, issues[0].IsError())
}

// =============================================================================
// CONTAINMENT
// =============================================================================

func TestValidate_Containment_WarningOnly(t *testing.T) {
	// GIVEN: one period starting before the rental, one ending after it
	periods := []billing.BillingPeriod{
		cash("early", "2023-12-25", "2024-01-05", "10"),
		cash("late", "2024-01-20", "2024-02-05", "10"),
	}

	issues := billing.Validate(periods, span("2024-01-01", "2024-01-31"))

	// THEN: two warnings and nothing blocked
	require.Len(t, issues, 2)
	for _, i := range issues {
		assert.Equal(t, billing.IssueContainment, i.Kind)
		assert.Equal(t, billing.SeverityWarning, i.Severity)
	}
	assert.False(t, issues.HasErrors())
	assert.Empty(t, issues.Blocked())
}

func TestValidate_Containment_OpenEndedRentalHasNoUpperBound(t *testing.T) {
	periods := []billing.BillingPeriod{cash("p1", "2024-01-01", "2030-01-01", "10")}

	issues := billing.Validate(periods, billing.OpenSpan(d("2024-01-01")))

	assert.Empty(t, issues)
}

// =============================================================================
// OVERLAPS
// =============================================================================

func TestValidate_Overlap_SharedBoundaryDay(t *testing.T) {
	// GIVEN: [02-01, 02-10] and [02-10, 02-15] share 02-10
	periods := []billing.BillingPeriod{
		cash("b", "2024-02-10", "2024-02-15", "10"),
		cash("a", "2024-02-01", "2024-02-10", "10"),
	}

	// WHEN: validating
	issues := billing.Validate(periods, span("2024-02-01", "2024-02-29"))

	// THEN: one fatal overlap naming both, in start order
	require.Len(t, issues, 1)
	assert.Equal(t, billing.IssueOverlap, issues[0].Kind)
	assert.True(t, issues[0].IsError())
	assert.Equal(t, []string{"a", "b"}, issues[0].PeriodIDs)
	assert.Equal(t, 1, issues[0].OverlapDays)

	accepted, rejected := billing.Partition(periods, issues)
	assert.Empty(t, accepted)
	assert.Len(t, rejected, 2)
}

func TestValidate_Overlap_EveryPairReportedOnce(t *testing.T) {
	// GIVEN: one long period that swallows two short disjoint ones
	periods := []billing.BillingPeriod{
		cash("long", "2024-01-01", "2024-01-31", "10"),
		cash("s1", "2024-01-05", "2024-01-06", "10"),
		cash("s2", "2024-01-20", "2024-01-22", "10"),
	}

	issues := billing.Validate(periods, span("2024-01-01", "2024-01-31")).OfKind(billing.IssueOverlap)

	// THEN: long/s1 and long/s2, but not s1/s2
	require.Len(t, issues, 2)
	assert.Equal(t, []string{"long", "s1"}, issues[0].PeriodIDs)
	assert.Equal(t, 2, issues[0].OverlapDays)
	assert.Equal(t, []string{"long", "s2"}, issues[1].PeriodIDs)
	assert.Equal(t, 3, issues[1].OverlapDays)
}

func TestValidate_BackToBack_NotAnOverlap(t *testing.T) {
	periods := []billing.BillingPeriod{
		cash("a", "2024-02-01", "2024-02-10", "10"),
		cash("b", "2024-02-11", "2024-02-15", "10"),
	}

	assert.Empty(t, billing.Validate(periods, span("2024-02-01", "2024-02-15")))
}

func TestValidate_RejectedAmountStillExcludedFromOverlapScan(t *testing.T) {
	periods := []billing.BillingPeriod{
		cash("neg", "2024-01-01", "2024-01-10", "-1"),
		cash("ok", "2024-01-05", "2024-01-15", "10"),
	}

	issues := billing.Validate(periods, span("2024-01-01", "2024-01-31"))

	assert.Empty(t, issues.OfKind(billing.IssueOverlap))
	accepted, rejected := billing.Partition(periods, issues)
	require.Len(t, accepted, 1)
	assert.Equal(t, "ok", accepted[0].ID)
	require.Len(t, rejected, 1)
	assert.Equal(t, "neg", rejected[0].ID)
}

// =============================================================================
// ORDERING
// =============================================================================

func TestValidate_IssuesComeInPassOrder(t *testing.T) {
	noEnd := cash("no-end", "2024-01-01", "2024-01-02", "1")
	noEnd.End = generic.Date{}
	periods := []billing.BillingPeriod{
		cash("x", "2024-01-10", "2024-01-12", "1"),
		cash("y", "2024-01-12", "2024-02-10", "1"),
		cash("neg", "2024-01-20", "2024-01-21", "-1"),
		noEnd,
	}

	issues := billing.Validate(periods, span("2024-01-01", "2024-01-31"))

	var kinds []billing.IssueKind
	for _, i := range issues {
		kinds = append(kinds, i.Kind)
	}
	assert.Equal(t, []billing.IssueKind{
		billing.IssueInvalidDate,
		billing.IssueInvalidAmount,
		billing.IssueContainment,
		billing.IssueOverlap,
	}, kinds)
	assert.Len(t, issues.Errors(), 3)
	assert.Len(t, issues.Warnings(), 1)
}

package importer

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/taha-yassine-romdhane/espace-iris-sub012/billing"
	"github.com/taha-yassine-romdhane/espace-iris-sub012/generic"
)

func strPtr(s string) *string { return &s }
func boolPtr(b bool) *bool    { return &b }
func intPtr(n int) *int       { return &n }

func record(id string) LegacyRecord {
	return LegacyRecord{
		ID:        id,
		RentalID:  "rental-1",
		StartDate: "2024-01-01",
		EndDate:   "2024-01-31",
		Amount:    "250",
	}
}

func TestConstruct_PaymentMethodRules(t *testing.T) {
	tests := []struct {
		name      string
		method    *string
		flagged   *bool
		status    *string
		wantMeth  string
		wantPayer billing.PayerClassification
	}{
		{"explicit method wins", strPtr("Virement"), boolPtr(true), strPtr("PAID"), "Virement", billing.PayerOther},
		{"flagged gap is cash", nil, boolPtr(true), strPtr("PAID"), billing.MethodCash, billing.PayerPatientCash},
		{"paid is CNAM", nil, nil, strPtr("PAID"), billing.MethodCNAM, billing.PayerInsurer},
		{"pending is CNAM, any case", nil, boolPtr(false), strPtr("pending"), billing.MethodCNAM, billing.PayerInsurer},
		{"other status is cash", nil, nil, strPtr("CANCELLED"), billing.MethodCash, billing.PayerPatientCash},
		{"no status is cash", nil, nil, nil, billing.MethodCash, billing.PayerPatientCash},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := record("p1")
			rec.PaymentMethod = tt.method
			rec.IsGapPeriod = tt.flagged
			rec.PaymentStatus = tt.status

			c, err := Construct(rec, []string{"bond-1"})
			require.NoError(t, err)
			assert.Equal(t, tt.wantMeth, c.Period.PaymentMethod)
			assert.Equal(t, tt.wantPayer, c.Period.Payer)
		})
	}
}

func TestConstruct_CopiesFields(t *testing.T) {
	rec := record("p1")
	rec.Amount = json.Number("1250.50")
	rec.PaymentStatus = strPtr("PAID")
	rec.Notes = strPtr("  renewed bond  ")

	c, err := Construct(rec, []string{"bond-1", "bond-2"})

	require.NoError(t, err)
	p := c.Period
	assert.Equal(t, "p1", p.ID)
	assert.Equal(t, "rental-1", p.RentalID)
	assert.True(t, p.Start.Equal(generic.MustParseDate("2024-01-01")))
	assert.True(t, p.End.Equal(generic.MustParseDate("2024-01-31")))
	assert.True(t, p.Amount.Equal(decimal.RequireFromString("1250.5")))
	assert.False(t, p.IsGapGenerated)
	assert.Equal(t, "bond-1", p.InsurerLinkID, "first bond of the rental")
	assert.Equal(t, "renewed bond", p.Notes)
	assert.Empty(t, c.Warnings)
}

func TestConstruct_ExplicitBondLink(t *testing.T) {
	rec := record("p1")
	rec.PaymentStatus = strPtr("PAID")
	rec.CNAMBondID = strPtr("bond-9")

	c, err := Construct(rec, []string{"bond-1"})

	require.NoError(t, err)
	assert.Equal(t, "bond-9", c.Period.InsurerLinkID)
}

func TestConstruct_CashPeriodIsNeverLinked(t *testing.T) {
	rec := record("p1")
	rec.PaymentMethod = strPtr("CASH")

	c, err := Construct(rec, []string{"bond-1"})

	require.NoError(t, err)
	assert.Empty(t, c.Period.InsurerLinkID)
	assert.Empty(t, c.Warnings)
}

func TestConstruct_InsurerWithoutBondWarns(t *testing.T) {
	rec := record("p1")
	rec.PaymentStatus = strPtr("PAID")

	c, err := Construct(rec, nil)

	require.NoError(t, err)
	assert.Equal(t, billing.PayerInsurer, c.Period.Payer)
	require.Len(t, c.Warnings, 1)
	assert.Equal(t, billing.IssueDataInconsistency, c.Warnings[0].Kind)
	assert.Equal(t, billing.SeverityWarning, c.Warnings[0].Severity)
	assert.Equal(t, []string{"p1"}, c.Warnings[0].PeriodIDs)
}

func TestConstruct_GapAmountPromotesUnflaggedRecord(t *testing.T) {
	// GIVEN: a PAID record not flagged as a gap but carrying a gap amount
	rec := record("p1")
	rec.Amount = 50
	rec.IsGapPeriod = boolPtr(false)
	rec.GapAmount = 50
	rec.PaymentStatus = strPtr("PAID")

	// WHEN: constructing with no bond on the rental
	c, err := Construct(rec, nil)

	// THEN: it becomes a gap period, the method still follows the status,
	// and both inconsistencies are reported
	require.NoError(t, err)
	assert.True(t, c.Period.IsGapGenerated)
	assert.Equal(t, billing.MethodCNAM, c.Period.PaymentMethod)
	assert.Equal(t, billing.PayerInsurer, c.Period.Payer)
	assert.Equal(t, "Gap period - Amount: 50", c.Period.GapReason)

	require.Len(t, c.Warnings, 2)
	assert.Contains(t, c.Warnings[0].Message, "not flagged as a gap period")
	assert.Contains(t, c.Warnings[1].Message, "without linked coverage")
	for _, w := range c.Warnings {
		assert.Equal(t, billing.IssueDataInconsistency, w.Kind)
	}
}

func TestConstruct_FlaggedGapKeepsExplicitReason(t *testing.T) {
	rec := record("p1")
	rec.IsGapPeriod = boolPtr(true)
	rec.GapReason = strPtr(billing.GapReasonCNAMPending)

	c, err := Construct(rec, nil)

	require.NoError(t, err)
	assert.True(t, c.Period.IsGapGenerated)
	assert.Equal(t, billing.GapReasonCNAMPending, c.Period.GapReason)
	assert.Empty(t, c.Warnings, "a flagged cash gap is consistent")
}

func TestConstruct_DefaultNotes(t *testing.T) {
	rec := record("p1")
	rec.PeriodNumber = intPtr(3)

	c, err := Construct(rec, nil)
	require.NoError(t, err)
	assert.Equal(t, "Period 3. Status: Unknown", c.Period.Notes)

	rec.PaymentStatus = strPtr("PENDING")
	rec.CNAMBondID = strPtr("bond-1")
	c, err = Construct(rec, nil)
	require.NoError(t, err)
	assert.Equal(t, "Period 3. Status: PENDING", c.Period.Notes)
}

func TestConstruct_LeavesSemanticErrorsToValidator(t *testing.T) {
	// Reversed dates and a negative amount still construct.
	rec := record("p1")
	rec.StartDate, rec.EndDate = "2024-02-01", "2024-01-01"
	rec.Amount = "-10"

	c, err := Construct(rec, nil)

	require.NoError(t, err)
	issues := billing.Validate([]billing.BillingPeriod{c.Period}, billing.OpenSpan(generic.MustParseDate("2023-01-01")))
	assert.Len(t, issues.OfKind(billing.IssueInvalidDate), 1)
	assert.Len(t, issues.OfKind(billing.IssueInvalidAmount), 1)
}

func TestConstruct_RejectsUnusableRecords(t *testing.T) {
	tests := []struct {
		name  string
		edit  func(*LegacyRecord)
		field string
	}{
		{"missing id", func(r *LegacyRecord) { r.ID = " " }, "id"},
		{"missing rental", func(r *LegacyRecord) { r.RentalID = "" }, "rentalId"},
		{"missing amount", func(r *LegacyRecord) { r.Amount = nil }, "amount"},
		{"bad amount", func(r *LegacyRecord) { r.Amount = "n/a" }, "amount"},
		{"bad start", func(r *LegacyRecord) { r.StartDate = "soon" }, "startDate"},
		{"empty end", func(r *LegacyRecord) { r.EndDate = "" }, "endDate"},
		{"bad gap amount", func(r *LegacyRecord) { r.GapAmount = "lots" }, "gapAmount"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := record("p1")
			tt.edit(&rec)

			_, err := Construct(rec, nil)

			var recErr *generic.RecordError
			require.ErrorAs(t, err, &recErr)
			assert.Equal(t, tt.field, recErr.Field)
			assert.True(t, generic.IsClientError(err))
		})
	}
}

func TestConstruct_IsDeterministic(t *testing.T) {
	rec := record("p1")
	rec.GapAmount = "12,5"
	rec.PaymentStatus = strPtr("PAID")

	first, err := Construct(rec, []string{"bond-1"})
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := Construct(rec, []string{"bond-1"})
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

// Package storetest is the behavioural suite every billing.Store must pass.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/taha-yassine-romdhane/espace-iris-sub012/billing"
	"github.com/taha-yassine-romdhane/espace-iris-sub012/generic"
)

// Run exercises a fresh store from newStore in every subtest.
func Run(t *testing.T, newStore func(t *testing.T) billing.Store) {
	t.Run("RentalRoundTrip", func(t *testing.T) { testRentalRoundTrip(t, newStore(t)) })
	t.Run("RentalNotFound", func(t *testing.T) { testRentalNotFound(t, newStore(t)) })
	t.Run("DuplicateRental", func(t *testing.T) { testDuplicateRental(t, newStore(t)) })
	t.Run("PeriodsSortedAndExact", func(t *testing.T) { testPeriodsSortedAndExact(t, newStore(t)) })
	t.Run("AddPeriodsIsAtomic", func(t *testing.T) { testAddPeriodsIsAtomic(t, newStore(t)) })
	t.Run("DeletePeriod", func(t *testing.T) { testDeletePeriod(t, newStore(t)) })
	t.Run("HasPeriodAcrossRentals", func(t *testing.T) { testHasPeriodAcrossRentals(t, newStore(t)) })
	t.Run("UpdatePeriods", func(t *testing.T) { testUpdatePeriods(t, newStore(t)) })
	t.Run("UpdatePeriodsIsAtomic", func(t *testing.T) { testUpdatePeriodsIsAtomic(t, newStore(t)) })
	t.Run("BondsInInsertionOrder", func(t *testing.T) { testBondsInInsertionOrder(t, newStore(t)) })
	t.Run("RunsUpsertPerDay", func(t *testing.T) { testRunsUpsertPerDay(t, newStore(t)) })
	t.Run("Reset", func(t *testing.T) { testReset(t, newStore(t)) })
}

func date(s string) generic.Date { return generic.MustParseDate(s) }

func rental(id string) billing.Rental {
	return billing.Rental{
		ID:              id,
		Code:            "LOC-" + id,
		PatientID:       "pat-1",
		DeviceName:      "CPAP",
		DeviceDailyRate: decimal.RequireFromString("8.5"),
		Accessories:     []billing.AccessoryLine{{Name: "mask", UnitPrice: decimal.RequireFromString("1.25"), Quantity: 2}},
		Span:            billing.NewSpan(date("2024-01-01"), date("2024-03-31")),
	}
}

func period(id, rentalID, start, end, amount string) billing.BillingPeriod {
	return billing.BillingPeriod{
		ID:            id,
		RentalID:      rentalID,
		Start:         date(start),
		End:           date(end),
		Amount:        decimal.RequireFromString(amount),
		Payer:         billing.PayerInsurer,
		PaymentMethod: billing.MethodCNAM,
		InsurerLinkID: "bond-1",
		Notes:         "Period 1. Status: PAID",
	}
}

func testRentalRoundTrip(t *testing.T, s billing.Store) {
	ctx := context.Background()
	want := rental("r1")
	require.NoError(t, s.CreateRental(ctx, want))

	open := rental("r2")
	open.Span = billing.OpenSpan(date("2024-02-01"))
	require.NoError(t, s.CreateRental(ctx, open))

	got, err := s.GetRental(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, want.Code, got.Code)
	assert.True(t, got.DailyRate().Equal(decimal.RequireFromString("11")))
	assert.True(t, got.Span.Start.Equal(want.Span.Start))
	require.NotNil(t, got.Span.End)
	assert.True(t, got.Span.End.Equal(*want.Span.End))
	assert.False(t, got.CreatedAt.IsZero())

	got, err = s.GetRental(ctx, "r2")
	require.NoError(t, err)
	assert.True(t, got.Span.IsOpen())

	all, err := s.ListRentals(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "r1", all[0].ID)
}

func testRentalNotFound(t *testing.T, s billing.Store) {
	_, err := s.GetRental(context.Background(), "missing")
	assert.ErrorIs(t, err, generic.ErrRentalNotFound)
}

func testDuplicateRental(t *testing.T, s billing.Store) {
	ctx := context.Background()
	require.NoError(t, s.CreateRental(ctx, rental("r1")))
	assert.ErrorIs(t, s.CreateRental(ctx, rental("r1")), generic.ErrDuplicateID)
}

func testPeriodsSortedAndExact(t *testing.T, s billing.Store) {
	// GIVEN: periods added out of order with a non-trivial decimal amount
	ctx := context.Background()
	require.NoError(t, s.CreateRental(ctx, rental("r1")))
	gap := period("p3", "r1", "2024-01-21", "2024-01-31", "12.345")
	gap.IsGapGenerated = true
	gap.Payer = billing.PayerPatientCash
	gap.GapReason = billing.GapReasonCNAMPending
	gap.InsurerLinkID = ""

	require.NoError(t, s.AddPeriods(ctx, []billing.BillingPeriod{
		gap,
		period("p1", "r1", "2024-01-01", "2024-01-10", "100"),
		period("p2", "r1", "2024-01-11", "2024-01-20", "0.10"),
	}))

	// WHEN: listing
	got, err := s.ListPeriods(ctx, "r1")
	require.NoError(t, err)

	// THEN: start order, every field preserved
	require.Len(t, got, 3)
	assert.Equal(t, []string{"p1", "p2", "p3"}, []string{got[0].ID, got[1].ID, got[2].ID})
	assert.True(t, got[1].Amount.Equal(decimal.RequireFromString("0.10")))
	assert.True(t, got[2].Amount.Equal(decimal.RequireFromString("12.345")))
	assert.True(t, got[2].IsGapGenerated)
	assert.Equal(t, billing.GapReasonCNAMPending, got[2].GapReason)
	assert.Equal(t, billing.PayerPatientCash, got[2].Payer)
	assert.Equal(t, "bond-1", got[0].InsurerLinkID)
	assert.Equal(t, "Period 1. Status: PAID", got[0].Notes)
	assert.True(t, got[0].End.Equal(date("2024-01-10")))

	none, err := s.ListPeriods(ctx, "other")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func testAddPeriodsIsAtomic(t *testing.T, s billing.Store) {
	ctx := context.Background()
	require.NoError(t, s.CreateRental(ctx, rental("r1")))
	require.NoError(t, s.AddPeriods(ctx, []billing.BillingPeriod{period("p1", "r1", "2024-01-01", "2024-01-10", "1")}))

	// A batch with a clash writes nothing.
	err := s.AddPeriods(ctx, []billing.BillingPeriod{
		period("p2", "r1", "2024-01-11", "2024-01-20", "1"),
		period("p1", "r1", "2024-01-21", "2024-01-30", "1"),
	})
	assert.ErrorIs(t, err, generic.ErrDuplicateID)

	// A batch naming an unknown rental writes nothing.
	err = s.AddPeriods(ctx, []billing.BillingPeriod{
		period("p3", "r1", "2024-01-11", "2024-01-20", "1"),
		period("p4", "nope", "2024-01-21", "2024-01-30", "1"),
	})
	assert.ErrorIs(t, err, generic.ErrRentalNotFound)

	got, err := s.ListPeriods(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "p1", got[0].ID)
}

func testDeletePeriod(t *testing.T, s billing.Store) {
	ctx := context.Background()
	require.NoError(t, s.CreateRental(ctx, rental("r1")))
	require.NoError(t, s.AddPeriods(ctx, []billing.BillingPeriod{period("p1", "r1", "2024-01-01", "2024-01-10", "1")}))

	require.NoError(t, s.DeletePeriod(ctx, "r1", "p1"))
	assert.ErrorIs(t, s.DeletePeriod(ctx, "r1", "p1"), generic.ErrPeriodNotFound)

	// The ID is free again.
	assert.NoError(t, s.AddPeriods(ctx, []billing.BillingPeriod{period("p1", "r1", "2024-01-01", "2024-01-10", "1")}))
}

func testHasPeriodAcrossRentals(t *testing.T, s billing.Store) {
	ctx := context.Background()
	require.NoError(t, s.CreateRental(ctx, rental("r1")))
	require.NoError(t, s.CreateRental(ctx, rental("r2")))
	require.NoError(t, s.AddPeriods(ctx, []billing.BillingPeriod{period("p1", "r2", "2024-01-01", "2024-01-10", "1")}))

	found, err := s.HasPeriod(ctx, "p1")
	require.NoError(t, err)
	assert.True(t, found)

	found, err = s.HasPeriod(ctx, "p2")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, s.DeletePeriod(ctx, "r2", "p1"))
	found, err = s.HasPeriod(ctx, "p1")
	require.NoError(t, err)
	assert.False(t, found)
}

func testUpdatePeriods(t *testing.T, s billing.Store) {
	// GIVEN: two stored periods
	ctx := context.Background()
	require.NoError(t, s.CreateRental(ctx, rental("r1")))
	require.NoError(t, s.AddPeriods(ctx, []billing.BillingPeriod{
		period("p1", "r1", "2024-01-01", "2024-01-10", "100"),
		period("p2", "r1", "2024-01-11", "2024-01-20", "100"),
	}))

	// WHEN: rewriting the amount and notes of one
	updated := period("p2", "r1", "2024-01-11", "2024-01-20", "15.25")
	updated.Notes = "corrected"
	require.NoError(t, s.UpdatePeriods(ctx, []billing.BillingPeriod{updated}))

	// THEN: only that period changes
	got, err := s.ListPeriods(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.True(t, got[0].Amount.Equal(decimal.NewFromInt(100)))
	assert.True(t, got[1].Amount.Equal(decimal.RequireFromString("15.25")))
	assert.Equal(t, "corrected", got[1].Notes)
}

func testUpdatePeriodsIsAtomic(t *testing.T, s billing.Store) {
	ctx := context.Background()
	require.NoError(t, s.CreateRental(ctx, rental("r1")))
	require.NoError(t, s.CreateRental(ctx, rental("r2")))
	require.NoError(t, s.AddPeriods(ctx, []billing.BillingPeriod{period("p1", "r1", "2024-01-01", "2024-01-10", "100")}))

	// p1 under the wrong rental is not found, and the valid update is dropped too.
	err := s.UpdatePeriods(ctx, []billing.BillingPeriod{
		period("p1", "r1", "2024-01-01", "2024-01-10", "5"),
		period("p1", "r2", "2024-01-01", "2024-01-10", "5"),
	})
	assert.ErrorIs(t, err, generic.ErrPeriodNotFound)

	got, err := s.ListPeriods(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, got[0].Amount.Equal(decimal.NewFromInt(100)))
}

func testBondsInInsertionOrder(t *testing.T, s billing.Store) {
	ctx := context.Background()
	require.NoError(t, s.CreateRental(ctx, rental("r1")))
	require.NoError(t, s.CreateRental(ctx, rental("r2")))

	end := date("2024-06-30")
	for _, b := range []billing.CoverageBond{
		{ID: "b-z", RentalID: "r1", BondNumber: "100", Start: date("2024-01-01"), End: &end, TotalAmount: decimal.NewFromInt(600), CoveredMonths: 6, Status: billing.BondActive},
		{ID: "b-a", RentalID: "r1", BondNumber: "101", Start: date("2024-07-01"), TotalAmount: decimal.NewFromInt(600), Status: billing.BondPending},
		{ID: "b-m", RentalID: "r2", BondNumber: "200", Start: date("2024-01-01"), TotalAmount: decimal.Zero, Status: billing.BondActive},
	} {
		require.NoError(t, s.AddBond(ctx, b))
	}

	bonds, err := s.ListBonds(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, bonds, 2)
	assert.Equal(t, "b-z", bonds[0].ID, "first created bond comes first")
	require.NotNil(t, bonds[0].End)
	assert.True(t, bonds[0].End.Equal(end))
	assert.Nil(t, bonds[1].End)
	assert.Equal(t, 6, bonds[0].CoveredMonths)

	all, err := s.ListBonds(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	err = s.AddBond(ctx, billing.CoverageBond{ID: "b-x", RentalID: "missing", Start: date("2024-01-01")})
	assert.ErrorIs(t, err, generic.ErrRentalNotFound)
}

func testRunsUpsertPerDay(t *testing.T, s billing.Store) {
	ctx := context.Background()
	day := date("2024-05-01")
	at := time.Date(2024, 5, 1, 6, 0, 0, 0, time.UTC)

	failed := billing.FailedRun("run-1", "r1", day, generic.ErrNegativeRate, at)
	require.NoError(t, s.SaveRun(ctx, failed))
	done, err := s.HasRun(ctx, "r1", day)
	require.NoError(t, err)
	assert.False(t, done, "a failed run does not count")

	completed := billing.ReconciliationRun{
		ID: "run-2", RentalID: "r1", AsOf: day, Status: billing.RunCompleted,
		GapCount: 2, GapDays: 9, GapAmount: decimal.RequireFromString("76.5"), CreatedAt: at.Add(time.Hour),
	}
	require.NoError(t, s.SaveRun(ctx, completed))
	require.NoError(t, s.SaveRun(ctx, billing.ReconciliationRun{
		ID: "run-3", RentalID: "r2", AsOf: day, Status: billing.RunCompleted,
		GapAmount: decimal.Zero, CreatedAt: at.Add(2 * time.Hour),
	}))

	done, err = s.HasRun(ctx, "r1", day)
	require.NoError(t, err)
	assert.True(t, done)

	runs, err := s.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2, "one run per rental per day")
	assert.Equal(t, "r2", runs[0].RentalID, "most recent first")
	assert.Equal(t, 9, runs[1].GapDays)
	assert.True(t, runs[1].GapAmount.Equal(decimal.RequireFromString("76.5")))

	limited, err := s.ListRuns(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func testReset(t *testing.T, s billing.Store) {
	ctx := context.Background()
	require.NoError(t, s.CreateRental(ctx, rental("r1")))
	require.NoError(t, s.AddPeriods(ctx, []billing.BillingPeriod{period("p1", "r1", "2024-01-01", "2024-01-10", "1")}))

	require.NoError(t, s.Reset(ctx))

	all, err := s.ListRentals(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
	periods, err := s.ListPeriods(ctx, "r1")
	require.NoError(t, err)
	assert.Empty(t, periods)
}

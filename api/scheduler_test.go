package api

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/taha-yassine-romdhane/espace-iris-sub012/generic"
	"github.com/taha-yassine-romdhane/espace-iris-sub012/store/cache"
)

func TestRunOnce_SkipsRentalsAlreadyReconciledToday(t *testing.T) {
	// GIVEN: Two rentals, one starting after today
	h, srv := setupTestHandler(t)
	createRental(t, srv, "r1")
	future := rentalBody("r2")
	future["start_date"] = "2024-06-01"
	future["end_date"] = "2024-06-30"
	require.Equal(t, http.StatusCreated, do(t, srv, http.MethodPost, "/api/rentals", future).Code)
	scheduler := NewCoverageScheduler(h, nil)

	// WHEN: Sweeping twice on the same day
	first, err := scheduler.RunOnce(context.Background())
	require.NoError(t, err)
	second, err := scheduler.RunOnce(context.Background())
	require.NoError(t, err)

	// THEN: r1 is processed once; the future rental is always skipped
	assert.Equal(t, "2024-05-01", first.AsOf.String())
	assert.Equal(t, 1, first.Processed)
	assert.Equal(t, 1, first.Skipped)
	require.Len(t, first.Runs, 1)
	assert.Equal(t, "r1", first.Runs[0].RentalID)

	assert.Equal(t, 0, second.Processed)
	assert.Equal(t, 2, second.Skipped)

	done, err := h.Store.HasRun(context.Background(), "r1", generic.MustParseDate("2024-05-01"))
	require.NoError(t, err)
	assert.True(t, done)
}

func TestRunOnce_LockHeldElsewhere(t *testing.T) {
	// GIVEN: Another instance holds the sweep lock
	h, _ := setupTestHandler(t)
	locker := cache.NewMemory()
	release, err := locker.Lock(context.Background(), sweepLockKey, time.Minute)
	require.NoError(t, err)
	scheduler := NewCoverageScheduler(h, locker)

	// WHEN: Sweeping
	_, err = scheduler.RunOnce(context.Background())

	// THEN: The sweep is refused until the lock is released
	assert.ErrorIs(t, err, cache.ErrLockHeld)

	require.NoError(t, release(context.Background()))
	_, err = scheduler.RunOnce(context.Background())
	assert.NoError(t, err)
}

func TestReconcileAll_ReportsBondAlerts(t *testing.T) {
	h, srv := setupTestHandler(t)
	createRental(t, srv, "r1")
	rec := do(t, srv, http.MethodPost, "/api/rentals/r1/bonds", map[string]any{
		"id": "b1", "bond_number": "CNAM-1", "start_date": "2024-01-01", "end_date": "2024-05-11", "status": "ACTIVE",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	result, err := h.ReconcileAll(context.Background(), generic.MustParseDate("2024-05-01"), false)

	require.NoError(t, err)
	require.Len(t, result.Alerts, 1)
	assert.Equal(t, 10, result.Alerts[0].DaysRemaining)
}

func TestReconcileAll_CanceledContext(t *testing.T) {
	h, srv := setupTestHandler(t)
	createRental(t, srv, "r1")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := h.ReconcileAll(ctx, generic.MustParseDate("2024-05-01"), true)

	assert.ErrorIs(t, err, context.Canceled)
}

func TestScheduler_StartStop(t *testing.T) {
	// GIVEN: A scheduler with a long interval
	h, srv := setupTestHandler(t)
	createRental(t, srv, "r1")
	scheduler := NewCoverageScheduler(h, nil)
	scheduler.CheckInterval = time.Hour

	// WHEN: Starting it
	scheduler.Start()
	scheduler.Start()

	// THEN: The first sweep runs right away and Stop waits for it
	assert.Eventually(t, func() bool {
		done, err := h.Store.HasRun(context.Background(), "r1", generic.DateOf(testNow))
		return err == nil && done
	}, 2*time.Second, 10*time.Millisecond)
	scheduler.Stop()
	scheduler.Stop()
}

func TestScheduler_DisabledDoesNotStart(t *testing.T) {
	h, srv := setupTestHandler(t)
	createRental(t, srv, "r1")
	scheduler := NewCoverageScheduler(h, nil)
	scheduler.Enabled = false

	scheduler.Start()
	scheduler.Stop()

	runs, err := h.Store.ListRuns(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

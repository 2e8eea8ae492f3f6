/*
scenarios_test.go - Tests for demo scenario loading

Every scenario must load into a fresh store and reconcile to the outcome its
description promises.
*/
package api

import (
	"net/http"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/taha-yassine-romdhane/espace-iris-sub012/billing"
)

func loadScenario(t *testing.T, srv http.Handler, id string) {
	t.Helper()
	rec := do(t, srv, http.MethodPost, "/api/scenarios/load", map[string]any{"scenario_id": id})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func reconcile(t *testing.T, srv http.Handler, rentalID string) ReconciliationResponse {
	t.Helper()
	rec := do(t, srv, http.MethodGet, "/api/rentals/"+rentalID+"/reconciliation", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return decodeBody[ReconciliationResponse](t, rec)
}

func TestScenario_AllScenariosLoadWithoutError(t *testing.T) {
	_, srv := setupTestHandler(t)

	rec := do(t, srv, http.MethodGet, "/api/scenarios", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decodeBody[[]ScenarioDTO](t, rec)
	require.Len(t, list, len(scenarioLoaders))

	for _, s := range list {
		t.Run(s.ID, func(t *testing.T) {
			loadScenario(t, srv, s.ID)

			rec := do(t, srv, http.MethodGet, "/api/scenarios/current", nil)
			require.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, s.ID, decodeBody[ScenarioDTO](t, rec).ID)

			rec = do(t, srv, http.MethodGet, "/api/rentals", nil)
			assert.Len(t, decodeBody[[]billing.Rental](t, rec), 1, "scenario replaces previous data")
		})
	}
}

func TestScenario_FullyCovered(t *testing.T) {
	_, srv := setupTestHandler(t)
	loadScenario(t, srv, "fully-covered")

	resp := reconcile(t, srv, "rental-covered")

	assert.Empty(t, resp.Gaps)
	assert.Empty(t, resp.Issues)
	assert.Equal(t, 3, resp.Summary.InsurerPeriodCount)
	assert.Equal(t, 91, resp.Summary.BillableDays)
	assert.True(t, resp.CoverageRatio.Equal(decimal.NewFromInt(1)), resp.CoverageRatio.String())
}

func TestScenario_CNAMGap(t *testing.T) {
	// GIVEN: The CNAM gap scenario, relative to 2024-05-01
	_, srv := setupTestHandler(t)
	loadScenario(t, srv, "cnam-gap")

	// WHEN: Reconciling
	resp := reconcile(t, srv, "rental-gap")

	// THEN: The unbilled third month is a MIDDLE gap
	require.Len(t, resp.Gaps, 1)
	assert.Equal(t, billing.GapInMiddle, resp.Gaps[0].Position)
	assert.Equal(t, "2024-03-01", resp.Gaps[0].Start.String())
	assert.Equal(t, "2024-03-31", resp.Gaps[0].End.String())

	// AND: The renewed bond shows up as a critical alert
	rec := do(t, srv, http.MethodGet, "/api/alerts/bonds", nil)
	alerts := decodeBody[struct {
		Alerts []billing.BondAlert `json:"alerts"`
	}](t, rec)
	require.Len(t, alerts.Alerts, 1)
	assert.Equal(t, "bond-gap-2", alerts.Alerts[0].BondID)
	assert.Equal(t, billing.AlertCritical, alerts.Alerts[0].Severity)
}

func TestScenario_Overlap(t *testing.T) {
	_, srv := setupTestHandler(t)
	loadScenario(t, srv, "overlap")

	resp := reconcile(t, srv, "rental-overlap")

	assert.True(t, resp.Blocking())
	assert.Equal(t, []string{"overlap-1", "overlap-2"}, resp.RejectedIDs)
	assert.Equal(t, 0, resp.Summary.PeriodCount)
	require.Len(t, resp.Gaps, 1)
	assert.Equal(t, 60, resp.Gaps[0].DurationDays)
}

func TestScenario_OpenEnded(t *testing.T) {
	_, srv := setupTestHandler(t)
	loadScenario(t, srv, "open-ended")

	resp := reconcile(t, srv, "rental-open")

	require.Len(t, resp.Gaps, 1)
	assert.Equal(t, billing.GapAtEnd, resp.Gaps[0].Position)
	assert.Equal(t, "2024-04-01", resp.Gaps[0].Start.String())
	assert.Equal(t, "2024-05-01", resp.Gaps[0].End.String())
}

func TestScenario_LegacyImport(t *testing.T) {
	_, srv := setupTestHandler(t)
	loadScenario(t, srv, "legacy-import")

	rec := do(t, srv, http.MethodGet, "/api/rentals/rental-legacy/periods", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	periods := decodeBody[[]billing.BillingPeriod](t, rec)
	require.Len(t, periods, 3)
	assert.True(t, periods[1].IsGapGenerated, "gap amount promotes the unflagged record")
	assert.True(t, periods[2].IsGapGenerated)

	resp := reconcile(t, srv, "rental-legacy")
	require.Len(t, resp.Gaps, 1)
	assert.Equal(t, 4, resp.Gaps[0].DurationDays)
}

func TestScenario_Unknown(t *testing.T) {
	_, srv := setupTestHandler(t)

	rec := do(t, srv, http.MethodPost, "/api/scenarios/load", map[string]any{"scenario_id": "nope"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, srv, http.MethodPost, "/api/scenarios/load", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

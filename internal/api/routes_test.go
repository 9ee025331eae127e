package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codyseavey/tcg-pricesync/internal/config"
	"github.com/codyseavey/tcg-pricesync/internal/database"
	"github.com/codyseavey/tcg-pricesync/internal/models"
	"github.com/codyseavey/tcg-pricesync/internal/services"
)

func setupTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := database.Open(database.Options{Path: ":memory:"}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close(db) })
	store := services.NewPriceStore(db, nil)

	require.NoError(t, db.Create(&models.Card{ID: "base1-4", Name: "Charizard", SetID: "base1", Number: "004/102"}).Error)
	ctx := context.Background()
	for _, row := range []models.PriceHistory{
		{ProductID: "base1-4", Date: "2025-10-16", Variant: models.VariantHolofoil, Price: decimal.RequireFromString("325")},
		{ProductID: "base1-4", Date: "2025-10-21", Variant: models.VariantHolofoil, Price: decimal.RequireFromString("328")},
		{ProductID: "base1-4", Date: "2025-10-21", Variant: models.VariantNormal, Price: decimal.RequireFromString("40")},
	} {
		_, err := store.UpsertAndRecompute(ctx, &row)
		require.NoError(t, err)
	}

	finished := time.Date(2025, 10, 21, 12, 0, 1, 0, time.UTC)
	require.NoError(t, store.SaveRun(ctx, &models.ImportRun{
		ID:         "run-1",
		Kind:       models.RunKindPrices,
		Source:     "prices.csv",
		State:      models.RunStateClosed,
		Processed:  4,
		Updated:    3,
		NotFound:   1,
		StartedAt:  finished.Add(-time.Second),
		FinishedAt: &finished,
	}, []models.RejectedRecord{{Line: 5, CardRef: "nope-1", Reason: models.RejectNotFound}}))

	return SetupRouter(store, config.New(), nil)
}

func get(t *testing.T, router *gin.Engine, path string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	router.ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	router := setupTestRouter(t)
	w := get(t, router, "/health")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestGetCard(t *testing.T) {
	router := setupTestRouter(t)

	w := get(t, router, "/api/cards/base1-4")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Card    models.Card           `json:"card"`
		History []models.PriceHistory `json:"history"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "Charizard", body.Card.Name)
	assert.True(t, body.Card.CurrentValue.Valid)
	assert.Len(t, body.History, 3)
	assert.Equal(t, "2025-10-21", body.History[0].Date)

	w = get(t, router, "/api/cards/nope-1")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetHistoryByVariant(t *testing.T) {
	router := setupTestRouter(t)

	w := get(t, router, "/api/cards/base1-4/history?variant=Holofoil")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		CardID  string                `json:"card_id"`
		Variant string                `json:"variant"`
		History []models.PriceHistory `json:"history"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "holofoil", body.Variant)
	require.Len(t, body.History, 2)
	assert.True(t, body.History[0].Price.Equal(decimal.RequireFromString("328")))

	w = get(t, router, "/api/cards/base1-4/history?limit=1")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Len(t, body.History, 1)

	assert.Equal(t, http.StatusBadRequest, get(t, router, "/api/cards/base1-4/history?limit=abc").Code)
	assert.Equal(t, http.StatusNotFound, get(t, router, "/api/cards/nope-1/history").Code)
}

func TestImportRuns(t *testing.T) {
	router := setupTestRouter(t)

	w := get(t, router, "/api/import-runs")
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Runs []models.ImportRun `json:"runs"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list.Runs, 1)
	assert.Equal(t, "run-1", list.Runs[0].ID)
	assert.Empty(t, list.Runs[0].Rejected)

	w = get(t, router, "/api/import-runs/run-1")
	require.Equal(t, http.StatusOK, w.Code)
	var run models.ImportRun
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &run))
	assert.Equal(t, models.RunStateClosed, run.State)
	require.Len(t, run.Rejected, 1)
	assert.Equal(t, "nope-1", run.Rejected[0].CardRef)

	assert.Equal(t, http.StatusNotFound, get(t, router, "/api/import-runs/missing").Code)
	assert.Equal(t, http.StatusBadRequest, get(t, router, "/api/import-runs?limit=0").Code)
}

func TestMetricsEndpoint(t *testing.T) {
	router := setupTestRouter(t)
	get(t, router, "/health")

	w := get(t, router, "/metrics")
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), `pricesync_http_requests_total{method="GET",path="/health",status="200"}`))
}

func TestUnknownRoute(t *testing.T) {
	router := setupTestRouter(t)
	assert.Equal(t, http.StatusNotFound, get(t, router, "/api/collection").Code)
}

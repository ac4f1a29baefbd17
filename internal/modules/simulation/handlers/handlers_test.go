package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kevinw99/DCA-Backtest-Tool-sub010/internal/domain"
	"github.com/kevinw99/DCA-Backtest-Tool-sub010/internal/modules/results"
	"github.com/kevinw99/DCA-Backtest-Tool-sub010/internal/modules/simulation"
	testingpkg "github.com/kevinw99/DCA-Backtest-Tool-sub010/internal/testing"
)

func newTestHandler(t *testing.T, defaults *domain.ParamsOverride) (*Handler, *testingpkg.MockPriceProvider, *results.Repository) {
	t.Helper()

	db, cleanup := testingpkg.NewTestDB(t, "results")
	t.Cleanup(cleanup)

	provider := testingpkg.NewMockPriceProvider()
	repo := results.NewRepository(db.Conn(), zerolog.Nop())
	h := NewHandler(provider, simulation.NewEngine(zerolog.Nop()), repo, defaults, zerolog.Nop())
	return h, provider, repo
}

func newTestRouter(h *Handler) *chi.Mux {
	router := chi.NewRouter()
	router.Route("/api", func(r chi.Router) {
		h.RegisterRoutes(r)
	})
	return router
}

func postSimulate(t *testing.T, router *chi.Mux, body map[string]any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest("POST", "/api/simulate", bytes.NewReader(raw))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

type simulateResponse struct {
	RunID  string                     `json:"runId"`
	Result simulation.SingleRunResult `json:"result"`
}

func TestHandleSimulate(t *testing.T) {
	h, provider, repo := newTestHandler(t, nil)
	provider.SetSeries("AAPL", testingpkg.DailySeries("2024-01-02", 100, 94, 99, 103, 98))
	router := newTestRouter(h)

	rec := postSimulate(t, router, map[string]any{
		"symbol":    "AAPL",
		"startDate": "2024-01-02",
		"endDate":   "2024-01-08",
		"params":    map[string]any{"lotSizeUsd": 1000.0},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp simulateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.RunID)
	assert.Equal(t, "AAPL", resp.Result.Symbol)
	assert.Equal(t, 1000.0, resp.Result.Params.LotSizeUSD)
	assert.Equal(t, "2024-01-02", resp.Result.StartDate.Key())
	assert.Equal(t, "2024-01-08", resp.Result.EndDate.Key())

	saved, err := repo.GetRun(context.Background(), resp.RunID)
	require.NoError(t, err)
	require.NotNil(t, saved)
	assert.Equal(t, "single", saved.Kind)
	assert.Equal(t, "AAPL", saved.Symbol)
}

func TestHandleSimulateMergesLayers(t *testing.T) {
	fp := func(v float64) *float64 { return &v }

	t.Run("request overrides beat request params", func(t *testing.T) {
		h, provider, _ := newTestHandler(t, nil)
		provider.SetSeries("AAPL", testingpkg.DailySeries("2024-01-02", 100, 101, 102))
		router := newTestRouter(h)

		rec := postSimulate(t, router, map[string]any{
			"symbol":         "AAPL",
			"startDate":      "2024-01-02",
			"endDate":        "2024-01-04",
			"params":         map[string]any{"lotSizeUsd": 1000.0},
			"paramOverrides": map[string]any{"lotSizeUsd": 2500.0},
		})
		require.Equal(t, http.StatusOK, rec.Code)

		var resp simulateResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, 2500.0, resp.Result.Params.LotSizeUSD)
	})

	t.Run("config defaults sit under the request", func(t *testing.T) {
		h, provider, _ := newTestHandler(t, &domain.ParamsOverride{LotSizeUSD: fp(500)})
		provider.SetSeries("AAPL", testingpkg.DailySeries("2024-01-02", 100, 101, 102))
		router := newTestRouter(h)

		rec := postSimulate(t, router, map[string]any{
			"symbol":    "AAPL",
			"startDate": "2024-01-02",
			"endDate":   "2024-01-04",
		})
		require.Equal(t, http.StatusOK, rec.Code)

		var resp simulateResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, 500.0, resp.Result.Params.LotSizeUSD)
	})
}

func TestHandleSimulateRejectsBadRequests(t *testing.T) {
	h, provider, _ := newTestHandler(t, nil)
	provider.SetSeries("AAPL", testingpkg.DailySeries("2024-01-02", 100, 101, 102))
	router := newTestRouter(h)

	tests := []struct {
		name string
		body map[string]any
	}{
		{"missing symbol", map[string]any{
			"startDate": "2024-01-02", "endDate": "2024-01-04",
		}},
		{"missing dates", map[string]any{
			"symbol": "AAPL",
		}},
		{"inverted dates", map[string]any{
			"symbol": "AAPL", "startDate": "2024-01-04", "endDate": "2024-01-02",
		}},
		{"invalid params", map[string]any{
			"symbol": "AAPL", "startDate": "2024-01-02", "endDate": "2024-01-04",
			"params": map[string]any{"maxLots": 0},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := postSimulate(t, router, tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}

	t.Run("malformed body", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/api/simulate", strings.NewReader("{"))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestHandleSimulateUnknownSymbol(t *testing.T) {
	h, _, _ := newTestHandler(t, nil)
	router := newTestRouter(h)

	rec := postSimulate(t, router, map[string]any{
		"symbol":    "ZZZZ",
		"startDate": "2024-01-02",
		"endDate":   "2024-01-04",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleSimulatePartialRangeProceeds(t *testing.T) {
	h, provider, _ := newTestHandler(t, nil)
	bars := testingpkg.DailySeries("2024-03-04", 100, 101, 102)
	provider.SetError(&domain.PartialRangeError{
		Symbol:         "AAPL",
		RequestedStart: domain.MustParseDate("2024-01-01"),
		RequestedEnd:   domain.MustParseDate("2024-12-31"),
		AvailableStart: bars[0].Date,
		AvailableEnd:   bars[len(bars)-1].Date,
		Bars:           bars,
	})
	router := newTestRouter(h)

	rec := postSimulate(t, router, map[string]any{
		"symbol":    "AAPL",
		"startDate": "2024-01-01",
		"endDate":   "2024-12-31",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp simulateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "2024-03-04", resp.Result.StartDate.Key())
	assert.Equal(t, "2024-03-06", resp.Result.EndDate.Key())
}

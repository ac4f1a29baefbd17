package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kevinw99/DCA-Backtest-Tool-sub010/internal/modules/portfolio"
	"github.com/kevinw99/DCA-Backtest-Tool-sub010/internal/modules/results"
	testingpkg "github.com/kevinw99/DCA-Backtest-Tool-sub010/internal/testing"
)

func newTestHandler(t *testing.T) (*Handler, *testingpkg.MockPriceProvider, *testingpkg.MockBetaProvider, *results.Repository) {
	t.Helper()

	db, cleanup := testingpkg.NewTestDB(t, "results")
	t.Cleanup(cleanup)

	provider := testingpkg.NewMockPriceProvider()
	betas := testingpkg.NewMockBetaProvider()
	repo := results.NewRepository(db.Conn(), zerolog.Nop())
	h := NewHandler(provider, portfolio.NewCoordinator(zerolog.Nop()), betas, repo, nil, zerolog.Nop())
	return h, provider, betas, repo
}

func newTestRouter(h *Handler) *chi.Mux {
	router := chi.NewRouter()
	router.Route("/api", func(r chi.Router) {
		h.RegisterRoutes(r)
	})
	return router
}

func postPortfolio(t *testing.T, router *chi.Mux, body map[string]any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest("POST", "/api/portfolio", bytes.NewReader(raw))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

type portfolioResponse struct {
	RunID  string                    `json:"runId"`
	Result portfolio.PortfolioResult `json:"result"`
}

func TestHandlePortfolio(t *testing.T) {
	h, provider, _, repo := newTestHandler(t)
	provider.SetSeries("AAA", testingpkg.DailySeries("2024-01-02", 100, 94, 99, 103, 98))
	provider.SetSeries("BBB", testingpkg.DailySeries("2024-01-02", 50, 51, 49, 52, 50))
	router := newTestRouter(h)

	rec := postPortfolio(t, router, map[string]any{
		"symbols":      []string{"AAA", "BBB"},
		"startDate":    "2024-01-02",
		"endDate":      "2024-01-08",
		"totalCapital": 50000.0,
		"params":       map[string]any{"lotSizeUsd": 5000.0},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp portfolioResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.RunID)
	require.Len(t, resp.Result.Symbols, 2)
	assert.Equal(t, "AAA", resp.Result.Symbols[0].Symbol)
	assert.Equal(t, "BBB", resp.Result.Symbols[1].Symbol)
	assert.Equal(t, 50000.0, resp.Result.Summary.TotalCapital)
	assert.Len(t, resp.Result.CapitalSeries, 5)

	saved, err := repo.GetRun(context.Background(), resp.RunID)
	require.NoError(t, err)
	require.NotNil(t, saved)
	assert.Equal(t, "portfolio", saved.Kind)
	assert.Equal(t, "AAA,BBB", saved.Symbol)
}

func TestHandlePortfolioSkipsMissingSymbols(t *testing.T) {
	h, provider, _, _ := newTestHandler(t)
	provider.SetSeries("AAA", testingpkg.DailySeries("2024-01-02", 100, 101, 102))
	router := newTestRouter(h)

	rec := postPortfolio(t, router, map[string]any{
		"symbols":      []string{"AAA", "GONE"},
		"startDate":    "2024-01-02",
		"endDate":      "2024-01-04",
		"totalCapital": 50000.0,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp portfolioResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, []string{"GONE"}, resp.Result.SkippedSymbols)
	require.Len(t, resp.Result.Symbols, 1)
	assert.Equal(t, "AAA", resp.Result.Symbols[0].Symbol)
}

func TestHandlePortfolioMembershipAddFetchesSeries(t *testing.T) {
	h, provider, _, _ := newTestHandler(t)
	provider.SetSeries("AAA", testingpkg.DailySeries("2024-01-02", 100, 101, 102, 103))
	provider.SetSeries("BBB", testingpkg.DailySeries("2024-01-02", 50, 51, 52, 53))
	router := newTestRouter(h)

	rec := postPortfolio(t, router, map[string]any{
		"symbols":      []string{"AAA"},
		"startDate":    "2024-01-02",
		"endDate":      "2024-01-05",
		"totalCapital": 50000.0,
		"membershipEvents": []map[string]any{
			{"date": "2024-01-04", "symbol": "BBB", "action": "add"},
		},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp portfolioResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Empty(t, resp.Result.SkippedSymbols)

	symbols := make([]string, 0, len(resp.Result.Symbols))
	for _, sr := range resp.Result.Symbols {
		symbols = append(symbols, sr.Symbol)
	}
	assert.Contains(t, symbols, "BBB")
}

func TestHandlePortfolioBetaScaledOverrides(t *testing.T) {
	h, provider, betas, _ := newTestHandler(t)
	provider.SetSeries("HOT", testingpkg.DailySeries("2024-01-02", 100, 101, 102))
	provider.SetSeries("CALM", testingpkg.DailySeries("2024-01-02", 50, 51, 52))
	betas.SetBeta("HOT", 2.0)
	router := newTestRouter(h)

	body := map[string]any{
		"symbols":             []string{"HOT", "CALM"},
		"startDate":           "2024-01-02",
		"endDate":             "2024-01-04",
		"totalCapital":        50000.0,
		"betaScaledOverrides": true,
		"params": map[string]any{
			"gridIntervalPercent": 0.05,
			"profitRequirement":   0.04,
		},
	}

	rec := postPortfolio(t, router, body)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp portfolioResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	bySymbol := make(map[string]portfolio.SymbolResult)
	for _, sr := range resp.Result.Symbols {
		bySymbol[sr.Symbol] = sr
	}
	assert.InDelta(t, 0.10, bySymbol["HOT"].Params.GridIntervalPercent, 1e-9)
	assert.InDelta(t, 0.08, bySymbol["HOT"].Params.ProfitRequirement, 1e-9)
	assert.InDelta(t, 0.05, bySymbol["CALM"].Params.GridIntervalPercent, 1e-9)
	assert.InDelta(t, 0.04, bySymbol["CALM"].Params.ProfitRequirement, 1e-9)

	t.Run("explicit override wins", func(t *testing.T) {
		body["tickerOverrides"] = map[string]any{
			"HOT": map[string]any{"gridIntervalPercent": 0.07},
		}
		rec := postPortfolio(t, router, body)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp portfolioResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		for _, sr := range resp.Result.Symbols {
			if sr.Symbol == "HOT" {
				assert.InDelta(t, 0.07, sr.Params.GridIntervalPercent, 1e-9)
				assert.InDelta(t, 0.08, sr.Params.ProfitRequirement, 1e-9)
			}
		}
	})
}

func TestHandlePortfolioRejectsBadRequests(t *testing.T) {
	h, provider, _, _ := newTestHandler(t)
	provider.SetSeries("AAA", testingpkg.DailySeries("2024-01-02", 100, 101, 102))
	router := newTestRouter(h)

	tests := []struct {
		name string
		body map[string]any
	}{
		{"no symbols", map[string]any{
			"startDate": "2024-01-02", "endDate": "2024-01-04", "totalCapital": 50000.0,
		}},
		{"inverted dates", map[string]any{
			"symbols": []string{"AAA"}, "startDate": "2024-01-04", "endDate": "2024-01-02",
			"totalCapital": 50000.0,
		}},
		{"zero capital", map[string]any{
			"symbols": []string{"AAA"}, "startDate": "2024-01-02", "endDate": "2024-01-04",
			"totalCapital": 0.0,
		}},
		{"invalid params", map[string]any{
			"symbols": []string{"AAA"}, "startDate": "2024-01-02", "endDate": "2024-01-04",
			"totalCapital": 50000.0,
			"params":       map[string]any{"profitRequirement": 2.0},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := postPortfolio(t, router, tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
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

func newTestHandler(t *testing.T) (*Handler, *results.Repository) {
	t.Helper()

	db, cleanup := testingpkg.NewTestDB(t, "results")
	t.Cleanup(cleanup)

	repo := results.NewRepository(db.Conn(), zerolog.Nop())
	return NewHandler(repo, zerolog.Nop()), repo
}

func newTestRouter(h *Handler) *chi.Mux {
	router := chi.NewRouter()
	router.Route("/api", func(r chi.Router) {
		h.RegisterRoutes(r)
	})
	return router
}

func seedRun(t *testing.T, repo *results.Repository, symbol string) string {
	t.Helper()

	pnl := 60.0
	res := &simulation.SingleRunResult{
		Symbol:    symbol,
		Params:    domain.DefaultParams(),
		StartDate: domain.MustParseDate("2024-01-02"),
		EndDate:   domain.MustParseDate("2024-01-08"),
		Transactions: []domain.Transaction{
			{
				Date:   domain.MustParseDate("2024-01-03"),
				Symbol: symbol,
				Kind:   domain.TxnBuy,
				Price:  94,
				Shares: 10,
				Value:  940,
			},
			{
				Date:        domain.MustParseDate("2024-01-08"),
				Symbol:      symbol,
				Kind:        domain.TxnSell,
				Price:       100,
				Shares:      10,
				Value:       1000,
				RealizedPnL: &pnl,
			},
		},
		Summary: simulation.Summary{
			TotalReturn: 0.006,
			RealizedPnL: pnl,
			Counters:    simulation.Counters{BuyCount: 1, SellCount: 1},
		},
	}
	id, err := repo.SaveSingleRun(context.Background(), res)
	require.NoError(t, err)
	return id
}

func doRequest(t *testing.T, router *chi.Mux, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHandleListRuns(t *testing.T) {
	h, repo := newTestHandler(t)
	router := newTestRouter(h)
	seedRun(t, repo, "AAA")
	seedRun(t, repo, "BBB")

	rec := doRequest(t, router, "GET", "/api/results")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Runs  []results.RunRecord `json:"runs"`
		Count int                 `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Count)
	require.Len(t, resp.Runs, 2)
	for _, run := range resp.Runs {
		assert.Equal(t, "single", run.Kind)
		assert.Equal(t, 1, run.BuyCount)
	}
}

func TestHandleListRunsLimit(t *testing.T) {
	h, repo := newTestHandler(t)
	router := newTestRouter(h)
	seedRun(t, repo, "AAA")
	seedRun(t, repo, "BBB")
	seedRun(t, repo, "CCC")

	rec := doRequest(t, router, "GET", "/api/results?limit=2")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Runs []results.RunRecord `json:"runs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.Runs, 2)

	rec = doRequest(t, router, "GET", "/api/results?limit=bogus")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleGetRun(t *testing.T) {
	h, repo := newTestHandler(t)
	router := newTestRouter(h)
	id := seedRun(t, repo, "AAA")

	rec := doRequest(t, router, "GET", "/api/results/"+id)
	require.Equal(t, http.StatusOK, rec.Code)

	var run results.RunRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &run))
	assert.Equal(t, id, run.ID)
	assert.Equal(t, "AAA", run.Symbol)
	assert.Equal(t, "2024-01-02", run.StartDate.Key())
	assert.Equal(t, "2024-01-08", run.EndDate.Key())

	rec = doRequest(t, router, "GET", "/api/results/no-such-run")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleGetRunTransactions(t *testing.T) {
	h, repo := newTestHandler(t)
	router := newTestRouter(h)
	id := seedRun(t, repo, "AAA")

	rec := doRequest(t, router, "GET", "/api/results/"+id+"/transactions")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		RunID        string               `json:"runId"`
		Transactions []domain.Transaction `json:"transactions"`
		Count        int                  `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, id, resp.RunID)
	assert.Equal(t, 2, resp.Count)
	require.Len(t, resp.Transactions, 2)
	assert.Equal(t, domain.TxnBuy, resp.Transactions[0].Kind)
	assert.Equal(t, domain.TxnSell, resp.Transactions[1].Kind)
	require.NotNil(t, resp.Transactions[1].RealizedPnL)
	assert.Equal(t, 60.0, *resp.Transactions[1].RealizedPnL)

	rec = doRequest(t, router, "GET", "/api/results/no-such-run/transactions")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleDeleteRun(t *testing.T) {
	h, repo := newTestHandler(t)
	router := newTestRouter(h)
	id := seedRun(t, repo, "AAA")

	rec := doRequest(t, router, "DELETE", "/api/results/"+id)
	require.Equal(t, http.StatusOK, rec.Code)

	saved, err := repo.GetRun(context.Background(), id)
	require.NoError(t, err)
	assert.Nil(t, saved)

	rec = doRequest(t, router, "DELETE", "/api/results/"+id)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

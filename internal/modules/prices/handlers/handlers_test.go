package handlers

import (
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
	"github.com/kevinw99/DCA-Backtest-Tool-sub010/internal/modules/prices"
	testingpkg "github.com/kevinw99/DCA-Backtest-Tool-sub010/internal/testing"
)

// stubSeriesClient serves a fixed bar series for every symbol.
type stubSeriesClient struct {
	bars []domain.DailyBar
	err  error
}

func (s *stubSeriesClient) GetDailyTimeSeries(_ context.Context, _ string, _ bool) ([]domain.DailyBar, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.bars, nil
}

func newTestHandler(t *testing.T, client prices.DailySeriesClient) (*Handler, *prices.Repository, func()) {
	t.Helper()

	db, cleanup := testingpkg.NewTestDB(t, "prices")
	repo := prices.NewRepository(db.Conn(), zerolog.Nop())
	sync := prices.NewSyncService(repo, client, zerolog.Nop())
	return NewHandler(repo, sync, zerolog.Nop()), repo, cleanup
}

func newTestRouter(h *Handler) *chi.Mux {
	router := chi.NewRouter()
	router.Route("/api", func(r chi.Router) {
		h.RegisterRoutes(r)
	})
	return router
}

func TestHandleListSymbols(t *testing.T) {
	h, repo, cleanup := newTestHandler(t, &stubSeriesClient{})
	defer cleanup()

	_, err := repo.UpsertBars(context.Background(), "AAPL", testingpkg.DailySeries("2024-01-02", 100, 101, 102))
	require.NoError(t, err)

	router := newTestRouter(h)
	req := httptest.NewRequest("GET", "/api/prices/", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Symbols []prices.Coverage `json:"symbols"`
		Count   int               `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 1, resp.Count)
	assert.Equal(t, "AAPL", resp.Symbols[0].Symbol)
	assert.Equal(t, 3, resp.Symbols[0].Bars)
}

func TestHandleGetBars(t *testing.T) {
	h, repo, cleanup := newTestHandler(t, &stubSeriesClient{})
	defer cleanup()

	_, err := repo.UpsertBars(context.Background(), "AAPL", testingpkg.DailySeries("2024-01-02", 100, 101, 102, 103))
	require.NoError(t, err)

	router := newTestRouter(h)

	t.Run("full range", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/api/prices/AAPL", nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)

		var resp struct {
			Bars  []domain.DailyBar `json:"bars"`
			Count int               `json:"count"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, 4, resp.Count)
	})

	t.Run("clamped range", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/api/prices/AAPL?start=2024-01-03&end=2024-01-04", nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)

		var resp struct {
			Bars []domain.DailyBar `json:"bars"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Len(t, resp.Bars, 2)
	})

	t.Run("bad date", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/api/prices/AAPL?start=not-a-date", nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unknown symbol", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/api/prices/ZZZZ", nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestHandleSync(t *testing.T) {
	client := &stubSeriesClient{bars: testingpkg.DailySeries("2024-01-02", 100, 101, 102)}
	h, repo, cleanup := newTestHandler(t, client)
	defer cleanup()

	router := newTestRouter(h)
	req := httptest.NewRequest("POST", "/api/prices/AAPL/sync", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var report prices.SyncReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, "full", report.Mode)
	assert.Equal(t, 3, report.Upserted)

	n, err := repo.CountBars(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestHandleImportCSV(t *testing.T) {
	h, repo, cleanup := newTestHandler(t, &stubSeriesClient{})
	defer cleanup()

	router := newTestRouter(h)
	csv := strings.Join([]string{
		"date,open,high,low,close,adj_close,volume",
		"2024-01-02,99.5,101.0,99.0,100.0,100.0,1000",
		"2024-01-03,100.0,102.0,99.5,101.0,101.0,1100",
	}, "\n")

	t.Run("valid body", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/api/prices/import?symbol=MSFT", strings.NewReader(csv))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)

		n, err := repo.CountBars(context.Background(), "MSFT")
		require.NoError(t, err)
		assert.Equal(t, 2, n)
	})

	t.Run("missing symbol", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/api/prices/import", strings.NewReader(csv))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("malformed body", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/api/prices/import?symbol=MSFT", strings.NewReader("not,a,csv\nrow"))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestHandleDeleteSymbol(t *testing.T) {
	h, repo, cleanup := newTestHandler(t, &stubSeriesClient{})
	defer cleanup()

	_, err := repo.UpsertBars(context.Background(), "AAPL", testingpkg.DailySeries("2024-01-02", 100, 101))
	require.NoError(t, err)

	router := newTestRouter(h)

	req := httptest.NewRequest("DELETE", "/api/prices/AAPL", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	n, err := repo.CountBars(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	// Second delete finds nothing
	req = httptest.NewRequest("DELETE", "/api/prices/AAPL", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

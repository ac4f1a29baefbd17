package prices

import (
	"context"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kevinw99/DCA-Backtest-Tool-sub010/internal/domain"
	testfx "github.com/kevinw99/DCA-Backtest-Tool-sub010/internal/testing"
)

func newTestProvider(t *testing.T) (*Provider, *Repository) {
	t.Helper()
	repo := newTestRepo(t)
	return NewProvider(repo, zerolog.Nop()), repo
}

func TestProviderFullRange(t *testing.T) {
	provider, repo := newTestProvider(t)
	ctx := context.Background()

	_, err := repo.UpsertBars(ctx, "AAPL", testfx.DailySeries("2024-01-02", 100, 101, 102))
	require.NoError(t, err)

	bars, err := provider.GetDailyBars(ctx, "AAPL",
		domain.MustParseDate("2024-01-02"), domain.MustParseDate("2024-01-04"))
	require.NoError(t, err)
	require.Len(t, bars, 3)
	assert.Equal(t, 100.0, bars[0].Close)
}

func TestProviderNotFound(t *testing.T) {
	provider, _ := newTestProvider(t)

	_, err := provider.GetDailyBars(context.Background(), "NOPE",
		domain.MustParseDate("2024-01-01"), domain.MustParseDate("2024-12-31"))
	var nf *domain.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "NOPE", nf.Symbol)
}

func TestProviderPartialRange(t *testing.T) {
	provider, repo := newTestProvider(t)
	ctx := context.Background()

	_, err := repo.UpsertBars(ctx, "AAPL", testfx.DailySeries("2024-01-02", 100, 101, 102))
	require.NoError(t, err)

	_, err = provider.GetDailyBars(ctx, "AAPL",
		domain.MustParseDate("2023-12-01"), domain.MustParseDate("2024-12-31"))
	var pr *domain.PartialRangeError
	require.ErrorAs(t, err, &pr)
	assert.Equal(t, "2024-01-02", pr.AvailableStart.Key())
	assert.Equal(t, "2024-01-04", pr.AvailableEnd.Key())
	assert.Equal(t, "2023-12-01", pr.RequestedStart.Key())
	require.Len(t, pr.Bars, 3)
}

func TestProviderValidation(t *testing.T) {
	provider, _ := newTestProvider(t)
	ctx := context.Background()

	_, err := provider.GetDailyBars(ctx, "",
		domain.MustParseDate("2024-01-01"), domain.MustParseDate("2024-12-31"))
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "symbol", verr.Field)

	_, err = provider.GetDailyBars(ctx, "AAPL",
		domain.MustParseDate("2024-12-31"), domain.MustParseDate("2024-01-01"))
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "endDate", verr.Field)
}

func TestProviderConcurrentReads(t *testing.T) {
	provider, repo := newTestProvider(t)
	ctx := context.Background()

	_, err := repo.UpsertBars(ctx, "AAPL", testfx.DailySeries("2024-01-02", 100, 101, 102))
	require.NoError(t, err)

	const callers = 8
	results := make(chan int, callers)
	errs := make(chan error, callers)

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			bars, err := provider.GetDailyBars(ctx, "AAPL",
				domain.MustParseDate("2024-01-02"), domain.MustParseDate("2024-01-04"))
			results <- len(bars)
			errs <- err
		}()
	}
	wg.Wait()
	close(results)
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	for n := range results {
		assert.Equal(t, 3, n)
	}
}

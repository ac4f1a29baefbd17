package reliability

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	testfx "github.com/kevinw99/DCA-Backtest-Tool-sub010/internal/testing"
)

func TestMaintenanceRun(t *testing.T) {
	prices, cleanupPrices := testfx.NewTestDB(t, "prices")
	t.Cleanup(cleanupPrices)
	results, cleanupResults := testfx.NewTestDB(t, "results")
	t.Cleanup(cleanupResults)

	// Generate some WAL traffic so the checkpoint has work to do.
	for i := 0; i < 50; i++ {
		_, err := prices.Exec(
			`INSERT OR REPLACE INTO daily_prices (symbol, date, open, high, low, close, adjusted_close, volume)
			 VALUES (?, ?, 100, 101, 99, 100, 100, 1000)`,
			"TEST", "2024-01-02",
		)
		require.NoError(t, err)
	}

	m := NewMaintenance(zerolog.Nop(), prices, results)
	require.NoError(t, m.Run(context.Background()))

	// A TRUNCATE checkpoint resets the WAL to zero bytes.
	stats, err := prices.GetStats()
	require.NoError(t, err)
	assert.Zero(t, stats.WALSizeBytes)
}

func TestMaintenanceContinuesPastClosedDatabase(t *testing.T) {
	broken, cleanupBroken := testfx.NewTestDB(t, "prices")
	cleanupBroken() // close immediately so maintenance fails on it
	healthy, cleanupHealthy := testfx.NewTestDB(t, "results")
	t.Cleanup(cleanupHealthy)

	m := NewMaintenance(zerolog.Nop(), broken, healthy)
	err := m.Run(context.Background())
	require.Error(t, err)

	// The healthy database was still maintained.
	require.NoError(t, healthy.QuickCheck(context.Background()))
}

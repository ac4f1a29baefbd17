package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLot(day string, price, shares float64) Lot {
	return Lot{
		EntryDate:  MustParseDate(day),
		EntryPrice: price,
		Shares:     shares,
		CostBasis:  price * shares,
	}
}

func TestLotLedgerAccounting(t *testing.T) {
	var ledger LotLedger
	assert.Equal(t, 0, ledger.Len())
	assert.Nil(t, ledger.Last())
	assert.Equal(t, 0.0, ledger.AvgCost())

	ledger.Append(testLot("2024-01-02", 100, 10)) // 1000
	ledger.Append(testLot("2024-01-09", 90, 10))  // 900
	ledger.Append(testLot("2024-01-16", 80, 10))  // 800

	assert.Equal(t, 3, ledger.Len())
	assert.Equal(t, 30.0, ledger.OpenShares())
	assert.Equal(t, 2700.0, ledger.OpenCostBasis())
	assert.InDelta(t, 90.0, ledger.AvgCost(), 1e-9)
	assert.InDelta(t, 2850.0, ledger.MarkToMarket(95), 1e-9)
	assert.InDelta(t, 150.0, ledger.UnrealizedPnL(95), 1e-9)

	require.NotNil(t, ledger.Last())
	assert.Equal(t, 80.0, ledger.Last().EntryPrice)
}

func TestLotLedgerCloseFIFO(t *testing.T) {
	var ledger LotLedger
	ledger.Append(testLot("2024-01-02", 100, 10))
	ledger.Append(testLot("2024-01-09", 90, 10))
	ledger.Append(testLot("2024-01-16", 80, 10))

	// Closing 2 lots at 95 removes the oldest two.
	closed, realized := ledger.CloseFIFO(2, 95)
	require.Len(t, closed, 2)
	assert.Equal(t, 100.0, closed[0].EntryPrice)
	assert.Equal(t, 90.0, closed[1].EntryPrice)
	// (95-100)*10 + (95-90)*10 = 0
	assert.InDelta(t, 0.0, realized, 1e-9)

	assert.Equal(t, 1, ledger.Len())
	assert.Equal(t, 80.0, ledger.Last().EntryPrice)

	// Closing more than available caps at the ledger size.
	closed, realized = ledger.CloseFIFO(5, 100)
	require.Len(t, closed, 1)
	assert.InDelta(t, 200.0, realized, 1e-9)
	assert.Equal(t, 0, ledger.Len())

	// Closing an empty ledger is a no-op.
	closed, realized = ledger.CloseFIFO(1, 100)
	assert.Nil(t, closed)
	assert.Equal(t, 0.0, realized)
}

func TestLotLedgerCloseAll(t *testing.T) {
	var ledger LotLedger
	ledger.Append(testLot("2024-01-02", 100, 100))
	ledger.Append(testLot("2024-02-02", 100, 100))
	ledger.Append(testLot("2024-03-02", 100, 100))

	closed, realized := ledger.CloseAll(120)
	assert.Len(t, closed, 3)
	assert.InDelta(t, 6000.0, realized, 1e-9)
	assert.Equal(t, 0, ledger.Len())
}

func TestLotLedgerSnapshotIsCopy(t *testing.T) {
	var ledger LotLedger
	ledger.Append(testLot("2024-01-02", 100, 10))

	snap := ledger.Snapshot()
	snap[0].Shares = 999

	assert.Equal(t, 10.0, ledger.Last().Shares)
}

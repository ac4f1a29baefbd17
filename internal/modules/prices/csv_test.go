package prices

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kevinw99/DCA-Backtest-Tool-sub010/internal/domain"
)

func TestImportCSVWithHeader(t *testing.T) {
	input := strings.Join([]string{
		"Date,Open,High,Low,Close,Adj_Close,Volume",
		"2024-01-03,101,102,100,101.5,101.0,2000000",
		"2024-01-02,100,101,99,100.5,100.0,1500000",
	}, "\n")

	bars, err := ImportCSV(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, bars, 2)

	// Rows are sorted ascending regardless of input order.
	assert.Equal(t, "2024-01-02", bars[0].Date.Key())
	assert.Equal(t, 100.5, bars[0].Close)
	assert.Equal(t, 100.0, bars[0].AdjustedClose)
	assert.Equal(t, int64(1_500_000), bars[0].Volume)
	assert.Equal(t, "2024-01-03", bars[1].Date.Key())
}

func TestImportCSVReorderedHeader(t *testing.T) {
	input := strings.Join([]string{
		"close,date,low,high,open,adjusted_close",
		"100.5,2024-01-02,99,101,100,100.2",
	}, "\n")

	bars, err := ImportCSV(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, bars, 1)
	assert.Equal(t, 100.5, bars[0].Close)
	assert.Equal(t, 100.2, bars[0].AdjustedClose)
	assert.Equal(t, int64(0), bars[0].Volume)
}

func TestImportCSVPositional(t *testing.T) {
	input := strings.Join([]string{
		"2024-01-02,100,101,99,100.5,100.0,1500000",
		"2024-01-03,101,102,100,101.5,101.0",
	}, "\n")

	bars, err := ImportCSV(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, bars, 2)
	assert.Equal(t, int64(1_500_000), bars[0].Volume)
	assert.Equal(t, int64(0), bars[1].Volume)
}

func TestImportCSVAdjCloseDefaultsToClose(t *testing.T) {
	input := strings.Join([]string{
		"date,open,high,low,close",
		"2024-01-02,100,101,99,100.5",
	}, "\n")

	bars, err := ImportCSV(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, bars, 1)
	assert.Equal(t, 100.5, bars[0].AdjustedClose)
}

func TestImportCSVErrors(t *testing.T) {
	cases := []struct {
		name  string
		input string
	}{
		{name: "empty input", input: ""},
		{name: "header only", input: "date,open,high,low,close,adj_close"},
		{name: "header missing close", input: "date,open,high,low,adj_close\n2024-01-02,100,101,99,100"},
		{name: "bad float", input: "2024-01-02,100,101,99,oops,100"},
		{name: "bad date", input: "date,open,high,low,close\nnot-a-date,100,101,99,100.5"},
		{name: "duplicate date", input: "2024-01-02,100,101,99,100.5,100\n2024-01-02,100,101,99,100.5,100"},
		{name: "inconsistent ohlc", input: "2024-01-02,100,99,99,100.5,100"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ImportCSV(strings.NewReader(tc.input))
			var verr *domain.ValidationError
			require.ErrorAs(t, err, &verr)
		})
	}
}

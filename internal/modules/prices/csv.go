package prices

import (
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/kevinw99/DCA-Backtest-Tool-sub010/internal/domain"
)

// csvColumns maps field positions in one CSV layout. -1 means the column is
// absent.
type csvColumns struct {
	date, open, high, low, close, adjClose, volume int
}

// defaultCSVColumns is the positional layout used when the file has no
// header: date,open,high,low,close,adj_close[,volume].
var defaultCSVColumns = csvColumns{date: 0, open: 1, high: 2, low: 3, close: 4, adjClose: 5, volume: 6}

// ImportCSV parses a daily bar series from CSV. The first row may be a
// header (any column order, names matched case-insensitively); without one
// the positional layout date,open,high,low,close,adj_close[,volume] applies.
// A missing adj_close column falls back to the close; a missing volume
// column reads as zero. Bars are validated, sorted ascending, and must not
// repeat a date.
func ImportCSV(r io.Reader) ([]domain.DailyBar, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse csv: %w", err)
	}
	if len(records) == 0 {
		return nil, &domain.ValidationError{Field: "csv", Message: "no rows"}
	}

	cols := defaultCSVColumns
	start := 0
	if _, err := domain.ParseDate(strings.TrimSpace(records[0][0])); err != nil {
		cols, err = headerColumns(records[0])
		if err != nil {
			return nil, err
		}
		start = 1
	}

	var bars []domain.DailyBar
	for i, rec := range records[start:] {
		bar, err := parseBarRecord(rec, cols)
		if err != nil {
			return nil, &domain.ValidationError{
				Field:   "csv",
				Message: fmt.Sprintf("row %d: %v", start+i+1, err),
			}
		}
		bars = append(bars, bar)
	}
	if len(bars) == 0 {
		return nil, &domain.ValidationError{Field: "csv", Message: "no data rows"}
	}

	sort.Slice(bars, func(i, j int) bool { return bars[i].Date.Before(bars[j].Date) })
	for i := 1; i < len(bars); i++ {
		if bars[i].Date.Equal(bars[i-1].Date) {
			return nil, &domain.ValidationError{
				Field:   "csv",
				Message: fmt.Sprintf("duplicate date %s", bars[i].Date),
			}
		}
	}
	return bars, nil
}

// headerColumns resolves a header row into column positions. date, open,
// high, low and close are required; adj_close and volume are optional.
func headerColumns(header []string) (csvColumns, error) {
	cols := csvColumns{date: -1, open: -1, high: -1, low: -1, close: -1, adjClose: -1, volume: -1}
	for i, name := range header {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "date":
			cols.date = i
		case "open":
			cols.open = i
		case "high":
			cols.high = i
		case "low":
			cols.low = i
		case "close":
			cols.close = i
		case "adj_close", "adjusted_close", "adjclose", "adj close":
			cols.adjClose = i
		case "volume":
			cols.volume = i
		}
	}
	if cols.date < 0 || cols.open < 0 || cols.high < 0 || cols.low < 0 || cols.close < 0 {
		return cols, &domain.ValidationError{
			Field:   "csv",
			Message: fmt.Sprintf("header missing required columns (got %s)", strings.Join(header, ",")),
		}
	}
	return cols, nil
}

func parseBarRecord(rec []string, cols csvColumns) (domain.DailyBar, error) {
	var bar domain.DailyBar

	get := func(idx int) (string, bool) {
		if idx < 0 || idx >= len(rec) {
			return "", false
		}
		return strings.TrimSpace(rec[idx]), true
	}

	dateStr, ok := get(cols.date)
	if !ok {
		return bar, fmt.Errorf("missing date column")
	}
	date, err := domain.ParseDate(dateStr)
	if err != nil {
		return bar, fmt.Errorf("bad date %q", dateStr)
	}
	bar.Date = date

	fields := []struct {
		idx      int
		dst      *float64
		name     string
		required bool
	}{
		{cols.open, &bar.Open, "open", true},
		{cols.high, &bar.High, "high", true},
		{cols.low, &bar.Low, "low", true},
		{cols.close, &bar.Close, "close", true},
		{cols.adjClose, &bar.AdjustedClose, "adj_close", false},
	}
	for _, f := range fields {
		raw, ok := get(f.idx)
		if !ok || raw == "" {
			if f.required {
				return bar, fmt.Errorf("missing %s", f.name)
			}
			continue
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return bar, fmt.Errorf("bad %s %q", f.name, raw)
		}
		*f.dst = v
	}
	if bar.AdjustedClose == 0 {
		bar.AdjustedClose = bar.Close
	}

	if raw, ok := get(cols.volume); ok && raw != "" {
		// Some exports write volume as a float.
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return bar, fmt.Errorf("bad volume %q", raw)
		}
		bar.Volume = int64(v)
	}

	if err := bar.Validate(); err != nil {
		return bar, err
	}
	return bar, nil
}

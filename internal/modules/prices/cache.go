package prices

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/kevinw99/DCA-Backtest-Tool-sub010/internal/domain"
)

// cachedBar is the on-disk shape of one bar. Dates are stored as YYYY-MM-DD
// strings so snapshots stay readable across Date representation changes.
type cachedBar struct {
	Date          string  `msgpack:"date"`
	Open          float64 `msgpack:"open"`
	High          float64 `msgpack:"high"`
	Low           float64 `msgpack:"low"`
	Close         float64 `msgpack:"close"`
	AdjustedClose float64 `msgpack:"adjustedClose"`
	Volume        int64   `msgpack:"volume"`
}

// SeriesCache snapshots bar series to msgpack files, one file per symbol.
// Snapshots feed offline CLI runs and warm batch starts without touching the
// database.
type SeriesCache struct {
	log zerolog.Logger
}

// NewSeriesCache creates a series snapshot cache.
func NewSeriesCache(log zerolog.Logger) *SeriesCache {
	return &SeriesCache{log: log.With().Str("component", "series_cache").Logger()}
}

// Path returns the snapshot file for a symbol under dir.
func (c *SeriesCache) Path(dir, symbol string) string {
	return filepath.Join(dir, symbol+".msgpack")
}

// Save writes a snapshot atomically (temp file + rename) so a crashed write
// never leaves a torn snapshot behind.
func (c *SeriesCache) Save(dir, symbol string, bars []domain.DailyBar) error {
	if symbol == "" {
		return &domain.ValidationError{Field: "symbol", Message: "must not be empty"}
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create cache directory %s: %w", dir, err)
	}

	cached := make([]cachedBar, len(bars))
	for i, b := range bars {
		cached[i] = cachedBar{
			Date:          b.Date.Key(),
			Open:          b.Open,
			High:          b.High,
			Low:           b.Low,
			Close:         b.Close,
			AdjustedClose: b.AdjustedClose,
			Volume:        b.Volume,
		}
	}

	data, err := msgpack.Marshal(cached)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot for %s: %w", symbol, err)
	}

	final := c.Path(dir, symbol)
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write snapshot for %s: %w", symbol, err)
	}
	if err := os.Rename(tmp, final); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to finalize snapshot for %s: %w", symbol, err)
	}

	c.log.Debug().Str("symbol", symbol).Int("bars", len(bars)).Str("path", final).Msg("snapshot saved")
	return nil
}

// Load reads a symbol's snapshot. A missing file maps to NotFoundError so
// callers can fall through to the database.
func (c *SeriesCache) Load(dir, symbol string) ([]domain.DailyBar, error) {
	return c.LoadFile(c.Path(dir, symbol))
}

// LoadFile reads a snapshot from an explicit path; the symbol is the file's
// base name. This is the entry point for runs fed a snapshot file directly.
func (c *SeriesCache) LoadFile(path string) ([]domain.DailyBar, error) {
	symbol := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, &domain.NotFoundError{Symbol: symbol}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot for %s: %w", symbol, err)
	}

	var cached []cachedBar
	if err := msgpack.Unmarshal(data, &cached); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot for %s: %w", symbol, err)
	}

	bars := make([]domain.DailyBar, len(cached))
	for i, cb := range cached {
		date, err := domain.ParseDate(cb.Date)
		if err != nil {
			return nil, fmt.Errorf("corrupt snapshot date %q for %s: %w", cb.Date, symbol, err)
		}
		bars[i] = domain.DailyBar{
			Date:          date,
			Open:          cb.Open,
			High:          cb.High,
			Low:           cb.Low,
			Close:         cb.Close,
			AdjustedClose: cb.AdjustedClose,
			Volume:        cb.Volume,
		}
	}
	return bars, nil
}

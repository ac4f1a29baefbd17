// Package prices stores daily OHLC history in SQLite and serves it to the
// engines through the domain.PriceProvider interface. The table is keyed
// (symbol, date) with dates as YYYY-MM-DD text, so lexicographic range scans
// are chronological.
package prices

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/kevinw99/DCA-Backtest-Tool-sub010/internal/database"
	"github.com/kevinw99/DCA-Backtest-Tool-sub010/internal/domain"
)

// Coverage summarizes what the store holds for one symbol.
type Coverage struct {
	Symbol    string      `json:"symbol"`
	FirstDate domain.Date `json:"firstDate"`
	LastDate  domain.Date `json:"lastDate"`
	Bars      int         `json:"bars"`
}

// Repository handles price history database operations (prices DB,
// daily_prices and sync_state tables).
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new price history repository.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repository", "prices").Logger(),
	}
}

const upsertBarSQL = `
	INSERT INTO daily_prices (symbol, date, open, high, low, close, adjusted_close, volume)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(symbol, date) DO UPDATE SET
		open = excluded.open,
		high = excluded.high,
		low = excluded.low,
		close = excluded.close,
		adjusted_close = excluded.adjusted_close,
		volume = excluded.volume`

// UpsertBars writes a bar series for a symbol, replacing rows that already
// exist for the same date. All bars go in one transaction; the count of
// written bars is returned.
func (r *Repository) UpsertBars(ctx context.Context, symbol string, bars []domain.DailyBar) (int, error) {
	if symbol == "" {
		return 0, &domain.ValidationError{Field: "symbol", Message: "must not be empty"}
	}
	if len(bars) == 0 {
		return 0, nil
	}

	err := database.WithTransaction(r.db, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, upsertBarSQL)
		if err != nil {
			return fmt.Errorf("failed to prepare bar upsert: %w", err)
		}
		defer stmt.Close()

		for _, b := range bars {
			if _, err := stmt.ExecContext(ctx, symbol, b.Date.Key(),
				b.Open, b.High, b.Low, b.Close, b.AdjustedClose, b.Volume); err != nil {
				return fmt.Errorf("failed to upsert bar %s/%s: %w", symbol, b.Date, err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	r.log.Debug().Str("symbol", symbol).Int("bars", len(bars)).Msg("bars upserted")
	return len(bars), nil
}

// GetBars returns the stored bars for symbol within [start, end], ascending
// by date. An empty slice means the range holds nothing; callers decide
// whether that is an error.
func (r *Repository) GetBars(ctx context.Context, symbol string, start, end domain.Date) ([]domain.DailyBar, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT date, open, high, low, close, adjusted_close, volume
		FROM daily_prices
		WHERE symbol = ? AND date >= ? AND date <= ?
		ORDER BY date`,
		symbol, start.Key(), end.Key())
	if err != nil {
		return nil, fmt.Errorf("failed to query bars for %s: %w", symbol, err)
	}
	defer rows.Close()

	var bars []domain.DailyBar
	for rows.Next() {
		var (
			b       domain.DailyBar
			dateStr string
		)
		if err := rows.Scan(&dateStr, &b.Open, &b.High, &b.Low, &b.Close, &b.AdjustedClose, &b.Volume); err != nil {
			return nil, fmt.Errorf("failed to scan bar row for %s: %w", symbol, err)
		}
		if b.Date, err = domain.ParseDate(dateStr); err != nil {
			return nil, fmt.Errorf("corrupt date %q for %s: %w", dateStr, symbol, err)
		}
		bars = append(bars, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate bars for %s: %w", symbol, err)
	}
	return bars, nil
}

// GetRange returns the coverage of one symbol. A symbol with no rows yields
// a NotFoundError.
func (r *Repository) GetRange(ctx context.Context, symbol string) (*Coverage, error) {
	var (
		first, last sql.NullString
		count       int
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT MIN(date), MAX(date), COUNT(*)
		FROM daily_prices
		WHERE symbol = ?`, symbol).Scan(&first, &last, &count)
	if err != nil {
		return nil, fmt.Errorf("failed to query range for %s: %w", symbol, err)
	}
	if count == 0 {
		return nil, &domain.NotFoundError{Symbol: symbol}
	}

	cov := &Coverage{Symbol: symbol, Bars: count}
	if cov.FirstDate, err = domain.ParseDate(first.String); err != nil {
		return nil, fmt.Errorf("corrupt first date %q for %s: %w", first.String, symbol, err)
	}
	if cov.LastDate, err = domain.ParseDate(last.String); err != nil {
		return nil, fmt.Errorf("corrupt last date %q for %s: %w", last.String, symbol, err)
	}
	return cov, nil
}

// ListSymbols returns coverage for every stored symbol, sorted by symbol.
func (r *Repository) ListSymbols(ctx context.Context) ([]Coverage, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT symbol, MIN(date), MAX(date), COUNT(*)
		FROM daily_prices
		GROUP BY symbol
		ORDER BY symbol`)
	if err != nil {
		return nil, fmt.Errorf("failed to list symbols: %w", err)
	}
	defer rows.Close()

	var out []Coverage
	for rows.Next() {
		var (
			cov         Coverage
			first, last string
		)
		if err := rows.Scan(&cov.Symbol, &first, &last, &cov.Bars); err != nil {
			return nil, fmt.Errorf("failed to scan symbol row: %w", err)
		}
		if cov.FirstDate, err = domain.ParseDate(first); err != nil {
			return nil, fmt.Errorf("corrupt first date %q for %s: %w", first, cov.Symbol, err)
		}
		if cov.LastDate, err = domain.ParseDate(last); err != nil {
			return nil, fmt.Errorf("corrupt last date %q for %s: %w", last, cov.Symbol, err)
		}
		out = append(out, cov)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate symbols: %w", err)
	}
	return out, nil
}

// CountBars returns how many bars are stored for a symbol.
func (r *Repository) CountBars(ctx context.Context, symbol string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM daily_prices WHERE symbol = ?`, symbol).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count bars for %s: %w", symbol, err)
	}
	return count, nil
}

// DeleteSymbol removes a symbol's bars and sync state. Returns the number of
// bars removed; deleting an unknown symbol is not an error.
func (r *Repository) DeleteSymbol(ctx context.Context, symbol string) (int64, error) {
	var removed int64
	err := database.WithTransaction(r.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM daily_prices WHERE symbol = ?`, symbol)
		if err != nil {
			return fmt.Errorf("failed to delete bars for %s: %w", symbol, err)
		}
		if removed, err = res.RowsAffected(); err != nil {
			return fmt.Errorf("failed to read delete count for %s: %w", symbol, err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM sync_state WHERE symbol = ?`, symbol); err != nil {
			return fmt.Errorf("failed to delete sync state for %s: %w", symbol, err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	r.log.Info().Str("symbol", symbol).Int64("bars", removed).Msg("symbol deleted")
	return removed, nil
}

// LastSynced returns the date of the newest bar written by the last sync for
// a symbol, or nil when the symbol has never been synced.
func (r *Repository) LastSynced(ctx context.Context, symbol string) (*domain.Date, error) {
	var dateStr string
	err := r.db.QueryRowContext(ctx,
		`SELECT last_date FROM sync_state WHERE symbol = ?`, symbol).Scan(&dateStr)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query sync state for %s: %w", symbol, err)
	}

	d, err := domain.ParseDate(dateStr)
	if err != nil {
		return nil, fmt.Errorf("corrupt sync date %q for %s: %w", dateStr, symbol, err)
	}
	return &d, nil
}

// SetLastSynced records the newest synced bar date for a symbol.
func (r *Repository) SetLastSynced(ctx context.Context, symbol string, last domain.Date) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sync_state (symbol, last_date, last_sync_at)
		VALUES (?, ?, datetime('now'))
		ON CONFLICT(symbol) DO UPDATE SET
			last_date = excluded.last_date,
			last_sync_at = excluded.last_sync_at`,
		symbol, last.Key())
	if err != nil {
		return fmt.Errorf("failed to record sync state for %s: %w", symbol, err)
	}
	return nil
}

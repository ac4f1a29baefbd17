package prices

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/kevinw99/DCA-Backtest-Tool-sub010/internal/domain"
)

// BetaRepository serves per-symbol beta scalars from the symbol_betas table.
// Symbols without a stored beta read as 1.0 (market beta), so beta-scaled
// overrides are a no-op until a symbol is seeded.
type BetaRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

var _ domain.BetaProvider = (*BetaRepository)(nil)

// NewBetaRepository creates a beta repository.
func NewBetaRepository(db *sql.DB, log zerolog.Logger) *BetaRepository {
	return &BetaRepository{
		db:  db,
		log: log.With().Str("repository", "betas").Logger(),
	}
}

// GetBeta implements domain.BetaProvider.
func (r *BetaRepository) GetBeta(ctx context.Context, symbol string) (float64, error) {
	var beta float64
	err := r.db.QueryRowContext(ctx,
		`SELECT beta FROM symbol_betas WHERE symbol = ?`, symbol).Scan(&beta)
	if err == sql.ErrNoRows {
		r.log.Debug().Str("symbol", symbol).Msg("no stored beta, defaulting to 1.0")
		return 1.0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to query beta for %s: %w", symbol, err)
	}
	return beta, nil
}

// SetBeta stores or replaces a symbol's beta.
func (r *BetaRepository) SetBeta(ctx context.Context, symbol string, beta float64) error {
	if symbol == "" {
		return &domain.ValidationError{Field: "symbol", Message: "must not be empty"}
	}
	if beta <= 0 {
		return &domain.ValidationError{Field: "beta", Message: fmt.Sprintf("must be positive, got %v", beta)}
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO symbol_betas (symbol, beta, updated_at)
		VALUES (?, ?, datetime('now'))
		ON CONFLICT(symbol) DO UPDATE SET
			beta = excluded.beta,
			updated_at = excluded.updated_at`,
		symbol, beta)
	if err != nil {
		return fmt.Errorf("failed to store beta for %s: %w", symbol, err)
	}
	return nil
}

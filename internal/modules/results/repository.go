// Package results persists completed runs in the append-only results
// database (ledger profile). Every save is one transaction: the run row plus
// its full trade log, so a crash never leaves a summary without its
// transactions.
package results

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/kevinw99/DCA-Backtest-Tool-sub010/internal/database"
	"github.com/kevinw99/DCA-Backtest-Tool-sub010/internal/domain"
	"github.com/kevinw99/DCA-Backtest-Tool-sub010/internal/modules/batch"
	"github.com/kevinw99/DCA-Backtest-Tool-sub010/internal/modules/portfolio"
	"github.com/kevinw99/DCA-Backtest-Tool-sub010/internal/modules/simulation"
)

// RunRecord is one persisted run, detailed enough for list views without
// re-parsing the full summary.
type RunRecord struct {
	ID            string          `json:"id"`
	Kind          string          `json:"kind"`
	Symbol        string          `json:"symbol"`
	CreatedAt     string          `json:"createdAt"`
	StartDate     domain.Date     `json:"startDate"`
	EndDate       domain.Date     `json:"endDate"`
	Params        json.RawMessage `json:"params"`
	TotalReturn   float64         `json:"totalReturn"`
	RealizedPnL   float64         `json:"realizedPnl"`
	UnrealizedPnL float64         `json:"unrealizedPnl"`
	MaxDrawdown   *float64        `json:"maxDrawdown,omitempty"`
	BuyCount      int             `json:"buyCount"`
	SellCount     int             `json:"sellCount"`
	Cancelled     bool            `json:"cancelled"`
	Summary       json.RawMessage `json:"summary"`
}

// BatchRecord is one persisted batch sweep (counts and config; combination
// details stay with the live batch store).
type BatchRecord struct {
	ID        string          `json:"id"`
	CreatedAt string          `json:"createdAt"`
	Total     int             `json:"total"`
	Completed int             `json:"completed"`
	Cancelled bool            `json:"cancelled"`
	Config    json.RawMessage `json:"config"`
}

// Repository handles results database operations (runs, run_transactions and
// batches tables).
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new results repository.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repository", "results").Logger(),
	}
}

const insertRunSQL = `
	INSERT INTO runs (id, kind, symbol, start_date, end_date, params_json,
		total_return, realized_pnl, unrealized_pnl, max_drawdown,
		buy_count, sell_count, cancelled, summary_json)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

const insertTxnSQL = `
	INSERT INTO run_transactions (run_id, seq, date, symbol, kind, price,
		shares, value, lots_affected, realized_pnl, reason)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

// SaveSingleRun persists a single-symbol run and returns its new run ID.
func (r *Repository) SaveSingleRun(ctx context.Context, res *simulation.SingleRunResult) (string, error) {
	id := uuid.NewString()

	paramsJSON, err := json.Marshal(res.Params)
	if err != nil {
		return "", fmt.Errorf("failed to encode params: %w", err)
	}
	summaryJSON, err := json.Marshal(res.Summary)
	if err != nil {
		return "", fmt.Errorf("failed to encode summary: %w", err)
	}

	err = database.WithTransaction(r.db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, insertRunSQL,
			id, "single", res.Symbol,
			res.StartDate.Key(), res.EndDate.Key(), string(paramsJSON),
			res.Summary.TotalReturn, res.Summary.RealizedPnL, res.Summary.UnrealizedPnL,
			res.Summary.MaxDrawdown,
			res.Summary.Counters.BuyCount, res.Summary.Counters.SellCount,
			boolToInt(res.Cancelled || res.DeadlineExceeded), string(summaryJSON))
		if err != nil {
			return fmt.Errorf("failed to insert run: %w", err)
		}
		return insertTransactions(ctx, tx, id, res.Transactions)
	})
	if err != nil {
		return "", err
	}

	r.log.Info().Str("runId", id).Str("symbol", res.Symbol).Msg("single run saved")
	return id, nil
}

// SavePortfolioRun persists a portfolio run: the config as its parameter
// set, the portfolio summary, and every symbol's trade log merged into one
// chronological sequence.
func (r *Repository) SavePortfolioRun(ctx context.Context, cfg portfolio.Config, res *portfolio.PortfolioResult) (string, error) {
	id := uuid.NewString()

	cfgJSON, err := json.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("failed to encode config: %w", err)
	}
	summaryJSON, err := json.Marshal(res.Summary)
	if err != nil {
		return "", fmt.Errorf("failed to encode summary: %w", err)
	}

	symbols := make([]string, len(res.Symbols))
	for i, sr := range res.Symbols {
		symbols[i] = sr.Symbol
	}

	err = database.WithTransaction(r.db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, insertRunSQL,
			id, "portfolio", strings.Join(symbols, ","),
			res.StartDate.Key(), res.EndDate.Key(), string(cfgJSON),
			res.Summary.TotalReturn, res.Summary.RealizedPnL, res.Summary.UnrealizedPnL,
			res.Summary.MaxDrawdown,
			res.Summary.BuyCount, res.Summary.SellCount,
			boolToInt(res.Cancelled || res.DeadlineExceeded), string(summaryJSON))
		if err != nil {
			return fmt.Errorf("failed to insert run: %w", err)
		}
		return insertTransactions(ctx, tx, id, mergeTransactions(res))
	})
	if err != nil {
		return "", err
	}

	r.log.Info().Str("runId", id).Strs("symbols", symbols).Msg("portfolio run saved")
	return id, nil
}

// SaveBatch records a finished batch sweep under the ID the async handler
// assigned when the batch started.
func (r *Repository) SaveBatch(ctx context.Context, batchID string, cfg batch.Config, res *batch.BatchResult) error {
	cfgJSON, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode batch config: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO batches (id, total, completed, cancelled, config_json)
		VALUES (?, ?, ?, ?, ?)`,
		batchID, res.Total, res.Completed,
		boolToInt(res.Cancelled || res.DeadlineExceeded), string(cfgJSON))
	if err != nil {
		return fmt.Errorf("failed to insert batch: %w", err)
	}

	r.log.Info().Str("batchId", batchID).Int("completed", res.Completed).Msg("batch saved")
	return nil
}

// GetRun returns one run, or nil when the ID is unknown.
func (r *Repository) GetRun(ctx context.Context, id string) (*RunRecord, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, kind, symbol, created_at, start_date, end_date, params_json,
			total_return, realized_pnl, unrealized_pnl, max_drawdown,
			buy_count, sell_count, cancelled, summary_json
		FROM runs WHERE id = ?`, id)

	rec, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run %s: %w", id, err)
	}
	return rec, nil
}

// GetRunTransactions returns a run's trade log in stored order.
func (r *Repository) GetRunTransactions(ctx context.Context, id string) ([]domain.Transaction, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT date, symbol, kind, price, shares, value, lots_affected, realized_pnl, reason
		FROM run_transactions WHERE run_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions for %s: %w", id, err)
	}
	defer rows.Close()

	var txns []domain.Transaction
	for rows.Next() {
		var (
			txn     domain.Transaction
			dateStr string
			kind    string
			pnl     sql.NullFloat64
			reason  sql.NullString
		)
		if err := rows.Scan(&dateStr, &txn.Symbol, &kind, &txn.Price, &txn.Shares,
			&txn.Value, &txn.LotsAffected, &pnl, &reason); err != nil {
			return nil, fmt.Errorf("failed to scan transaction for %s: %w", id, err)
		}
		if txn.Date, err = domain.ParseDate(dateStr); err != nil {
			return nil, fmt.Errorf("corrupt transaction date %q for %s: %w", dateStr, id, err)
		}
		txn.Kind = domain.TransactionKind(kind)
		if pnl.Valid {
			v := pnl.Float64
			txn.RealizedPnL = &v
		}
		txn.Reason = reason.String
		txns = append(txns, txn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate transactions for %s: %w", id, err)
	}
	return txns, nil
}

// ListRuns returns the newest runs first. limit <= 0 selects the default 50.
func (r *Repository) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, kind, symbol, created_at, start_date, end_date, params_json,
			total_return, realized_pnl, unrealized_pnl, max_drawdown,
			buy_count, sell_count, cancelled, summary_json
		FROM runs ORDER BY created_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		rec, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run row: %w", err)
		}
		out = append(out, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate runs: %w", err)
	}
	return out, nil
}

// DeleteRun removes a run and its transactions (foreign key cascade).
// Returns false when the ID was unknown.
func (r *Repository) DeleteRun(ctx context.Context, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete run %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read delete count for %s: %w", id, err)
	}
	if n > 0 {
		r.log.Info().Str("runId", id).Msg("run deleted")
	}
	return n > 0, nil
}

// GetBatch returns one batch record, or nil when the ID is unknown.
func (r *Repository) GetBatch(ctx context.Context, id string) (*BatchRecord, error) {
	var (
		rec       BatchRecord
		cancelled int
		cfgJSON   string
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT id, created_at, total, completed, cancelled, config_json
		FROM batches WHERE id = ?`, id).
		Scan(&rec.ID, &rec.CreatedAt, &rec.Total, &rec.Completed, &cancelled, &cfgJSON)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get batch %s: %w", id, err)
	}
	rec.Cancelled = cancelled != 0
	rec.Config = json.RawMessage(cfgJSON)
	return &rec, nil
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (*RunRecord, error) {
	var (
		startStr, endStr string
		params, summary  string
		drawdown         sql.NullFloat64
		cancelled        int
	)

	out := &RunRecord{}
	err := s.Scan(&out.ID, &out.Kind, &out.Symbol, &out.CreatedAt,
		&startStr, &endStr, &params,
		&out.TotalReturn, &out.RealizedPnL, &out.UnrealizedPnL, &drawdown,
		&out.BuyCount, &out.SellCount, &cancelled, &summary)
	if err != nil {
		return nil, err
	}

	if out.StartDate, err = domain.ParseDate(startStr); err != nil {
		return nil, fmt.Errorf("corrupt start date %q: %w", startStr, err)
	}
	if out.EndDate, err = domain.ParseDate(endStr); err != nil {
		return nil, fmt.Errorf("corrupt end date %q: %w", endStr, err)
	}
	if drawdown.Valid {
		v := drawdown.Float64
		out.MaxDrawdown = &v
	}
	out.Cancelled = cancelled != 0
	out.Params = json.RawMessage(params)
	out.Summary = json.RawMessage(summary)
	return out, nil
}

// insertTransactions writes a trade log under a run within the caller's
// transaction.
func insertTransactions(ctx context.Context, tx *sql.Tx, runID string, txns []domain.Transaction) error {
	if len(txns) == 0 {
		return nil
	}

	stmt, err := tx.PrepareContext(ctx, insertTxnSQL)
	if err != nil {
		return fmt.Errorf("failed to prepare transaction insert: %w", err)
	}
	defer stmt.Close()

	for seq, txn := range txns {
		var reason any
		if txn.Reason != "" {
			reason = txn.Reason
		}
		if _, err := stmt.ExecContext(ctx, runID, seq,
			txn.Date.Key(), txn.Symbol, string(txn.Kind),
			txn.Price, txn.Shares, txn.Value, txn.LotsAffected,
			txn.RealizedPnL, reason); err != nil {
			return fmt.Errorf("failed to insert transaction %d: %w", seq, err)
		}
	}
	return nil
}

// mergeTransactions flattens the per-symbol logs into one sequence ordered
// by date; records on the same day keep symbol order. Rejections and
// liquidations already live in their symbol's log.
func mergeTransactions(res *portfolio.PortfolioResult) []domain.Transaction {
	var all []domain.Transaction
	for _, sr := range res.Symbols {
		all = append(all, sr.Transactions...)
	}
	sort.SliceStable(all, func(i, j int) bool {
		return all[i].Date.Before(all[j].Date)
	})
	return all
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

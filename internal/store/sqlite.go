package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"stratlab/internal/domain"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface check.
var _ RunStore = (*SQLiteStore)(nil)

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS runs (
		id            TEXT PRIMARY KEY,
		strategy_id   TEXT NOT NULL,
		symbol        TEXT NOT NULL,
		status        TEXT NOT NULL,
		error_kind    TEXT NOT NULL DEFAULT '',
		message       TEXT NOT NULL DEFAULT '',
		backtest_days INTEGER NOT NULL,
		total_return  REAL NOT NULL DEFAULT 0,
		sharpe_ratio  REAL NOT NULL DEFAULT 0,
		max_drawdown  REAL NOT NULL DEFAULT 0,
		total_trades  INTEGER NOT NULL DEFAULT 0,
		report        TEXT NOT NULL,
		created_at    INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS runs_strategy_created ON runs (strategy_id, created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS trades (
		run_id      TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
		seq         INTEGER NOT NULL,
		symbol      TEXT NOT NULL,
		entry_time  INTEGER NOT NULL,
		exit_time   INTEGER NOT NULL,
		entry_index INTEGER NOT NULL,
		exit_index  INTEGER NOT NULL,
		qty         INTEGER NOT NULL,
		entry_price REAL NOT NULL,
		exit_price  REAL NOT NULL,
		pnl         REAL NOT NULL,
		pnl_pct     REAL NOT NULL,
		exit_reason TEXT NOT NULL,
		PRIMARY KEY (run_id, seq)
	)`,
}

// SQLiteStore implements RunStore backed by a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath, creates the
// schema and returns a ready-to-use SQLiteStore.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dbPath != ":memory:" && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// One connection serialises writers and keeps per-connection pragmas.
	db.SetMaxOpenConns(1)

	for _, stmt := range append([]string{"PRAGMA foreign_keys = ON", "PRAGMA busy_timeout = 5000"}, migrations...) {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrating %s: %w", dbPath, err)
		}
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ---------------------------------------------------------------------------
// RunStore implementation
// ---------------------------------------------------------------------------

// SaveRun inserts the run and its trades in one transaction.
func (s *SQLiteStore) SaveRun(ctx context.Context, run *RunRecord) error {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `INSERT INTO runs
		(id, strategy_id, symbol, status, error_kind, message, backtest_days,
		 total_return, sharpe_ratio, max_drawdown, total_trades, report, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.StrategyID, run.Symbol, run.Status, run.ErrorKind, run.Message, run.BacktestDays,
		run.TotalReturn, run.SharpeRatio, run.MaxDrawdown, run.TotalTrades, string(run.Report),
		run.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("inserting run %s: %w", run.ID, err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO trades
		(run_id, seq, symbol, entry_time, exit_time, entry_index, exit_index,
		 qty, entry_price, exit_price, pnl, pnl_pct, exit_reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing trade insert: %w", err)
	}
	defer stmt.Close()

	for i, t := range run.Trades {
		_, err := stmt.ExecContext(ctx, run.ID, i, t.Symbol, t.EntryTime.UnixMilli(), t.ExitTime.UnixMilli(),
			t.EntryIndex, t.ExitIndex, t.Qty, t.EntryPrice, t.ExitPrice, t.PnL, t.PnLPct, string(t.ExitReason))
		if err != nil {
			return fmt.Errorf("inserting trade %d of run %s: %w", i, run.ID, err)
		}
	}
	return tx.Commit()
}

const runColumns = `id, strategy_id, symbol, status, error_kind, message, backtest_days,
	total_return, sharpe_ratio, max_drawdown, total_trades, report, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*RunRecord, error) {
	var (
		r         RunRecord
		report    string
		createdMs int64
	)
	err := row.Scan(&r.ID, &r.StrategyID, &r.Symbol, &r.Status, &r.ErrorKind, &r.Message, &r.BacktestDays,
		&r.TotalReturn, &r.SharpeRatio, &r.MaxDrawdown, &r.TotalTrades, &report, &createdMs)
	if err != nil {
		return nil, err
	}
	r.Report = []byte(report)
	r.CreatedAt = time.UnixMilli(createdMs).UTC()
	return &r, nil
}

// GetRun retrieves a run and its trades by ID.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*RunRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("reading run %s: %w", id, err)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT symbol, entry_time, exit_time, entry_index, exit_index,
		qty, entry_price, exit_price, pnl, pnl_pct, exit_reason
		FROM trades WHERE run_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, fmt.Errorf("reading trades of run %s: %w", id, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			t               domain.Trade
			entryMs, exitMs int64
			reason         string
		)
		if err := rows.Scan(&t.Symbol, &entryMs, &exitMs, &t.EntryIndex, &t.ExitIndex,
			&t.Qty, &t.EntryPrice, &t.ExitPrice, &t.PnL, &t.PnLPct, &reason); err != nil {
			return nil, fmt.Errorf("scanning trade of run %s: %w", id, err)
		}
		t.EntryTime = time.UnixMilli(entryMs).UTC()
		t.ExitTime = time.UnixMilli(exitMs).UTC()
		t.ExitReason = domain.ExitReason(reason)
		run.Trades = append(run.Trades, t)
	}
	return run, rows.Err()
}

// ListRuns returns the most recent runs, newest first. An empty strategyID
// lists every strategy; limit <= 0 means 50.
func (s *SQLiteStore) ListRuns(ctx context.Context, strategyID string, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + runColumns + ` FROM runs`
	args := []any{}
	if strategyID != "" {
		query += ` WHERE strategy_id = ?`
		args = append(args, strategyID)
	}
	query += ` ORDER BY created_at DESC, id LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var runs []RunRecord
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

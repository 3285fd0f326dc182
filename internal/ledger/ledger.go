// Package ledger persists per-step spend history to SQLite so usage
// survives process restarts and can be aggregated for reporting.
package ledger

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/loadout-ai/loadout/internal/budget"
)

const createTableSQL = `
CREATE TABLE IF NOT EXISTS steps (
    id                 INTEGER PRIMARY KEY AUTOINCREMENT,
    ts                 TEXT NOT NULL,
    model              TEXT NOT NULL DEFAULT '',
    input_tokens       INTEGER DEFAULT 0,
    output_tokens      INTEGER DEFAULT 0,
    cache_read_tokens  INTEGER DEFAULT 0,
    cache_write_tokens INTEGER DEFAULT 0,
    cost_usd           REAL DEFAULT 0,
    unpriced           INTEGER DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_steps_ts ON steps(ts);
CREATE INDEX IF NOT EXISTS idx_steps_model ON steps(model);
`

// Ledger is an append-only step history backed by a SQLite database.
type Ledger struct {
	db *sql.DB
}

// DefaultPath returns the default database path
// (~/.local/share/loadout/ledger.db).
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".local", "share", "loadout", "ledger.db"), nil
}

// Open opens (or creates) the ledger database at dbPath and ensures the
// schema exists.
func Open(dbPath string) (*Ledger, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if _, err := db.Exec(createTableSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}

	return &Ledger{db: db}, nil
}

// Record appends one accounted step.
func (l *Ledger) Record(rec budget.StepRecord) error {
	ts := rec.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	unpriced := 0
	if rec.Unpriced {
		unpriced = 1
	}
	u := rec.Usage
	_, err := l.db.Exec(`
		INSERT INTO steps
			(ts, model, input_tokens, output_tokens, cache_read_tokens, cache_write_tokens, cost_usd, unpriced)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ts.UTC().Format(time.RFC3339Nano),
		rec.ModelID,
		u.InputTokens,
		u.OutputTokens,
		u.CacheReadTokens,
		u.CacheWriteTokens,
		rec.CostUSD,
		unpriced,
	)
	if err != nil {
		return fmt.Errorf("record step: %w", err)
	}
	return nil
}

// Observer adapts the ledger to budget.WithObserver. Write failures are
// reported to stderr rather than aborting the run: accounting must not
// take the agent down.
func (l *Ledger) Observer() func(budget.StepRecord) {
	return func(rec budget.StepRecord) {
		if err := l.Record(rec); err != nil {
			fmt.Fprintf(os.Stderr, "ledger: %v\n", err)
		}
	}
}

// ModelTotal aggregates recorded steps for one model.
type ModelTotal struct {
	Model            string
	Steps            int
	UnpricedSteps    int
	InputTokens      int
	OutputTokens     int
	CacheReadTokens  int
	CacheWriteTokens int
	CostUSD          float64
}

// TotalsByModel aggregates the whole history per model, highest spend
// first.
func (l *Ledger) TotalsByModel() ([]ModelTotal, error) {
	rows, err := l.db.Query(`
		SELECT model, COUNT(*), SUM(unpriced),
		       SUM(input_tokens), SUM(output_tokens),
		       SUM(cache_read_tokens), SUM(cache_write_tokens),
		       SUM(cost_usd)
		FROM steps
		GROUP BY model
		ORDER BY SUM(cost_usd) DESC, model`)
	if err != nil {
		return nil, fmt.Errorf("totals by model: %w", err)
	}
	defer rows.Close()

	var totals []ModelTotal
	for rows.Next() {
		var t ModelTotal
		if err := rows.Scan(&t.Model, &t.Steps, &t.UnpricedSteps,
			&t.InputTokens, &t.OutputTokens,
			&t.CacheReadTokens, &t.CacheWriteTokens,
			&t.CostUSD); err != nil {
			return nil, fmt.Errorf("scan model total: %w", err)
		}
		totals = append(totals, t)
	}
	return totals, rows.Err()
}

// DayTotal aggregates recorded steps for one UTC calendar day.
type DayTotal struct {
	Day     string // YYYY-MM-DD
	Steps   int
	CostUSD float64
}

// TotalsByDay aggregates the most recent days, newest first.
func (l *Ledger) TotalsByDay(days int) ([]DayTotal, error) {
	if days <= 0 {
		days = 30
	}
	rows, err := l.db.Query(`
		SELECT substr(ts, 1, 10) AS day, COUNT(*), SUM(cost_usd)
		FROM steps
		GROUP BY day
		ORDER BY day DESC
		LIMIT ?`, days)
	if err != nil {
		return nil, fmt.Errorf("totals by day: %w", err)
	}
	defer rows.Close()

	var totals []DayTotal
	for rows.Next() {
		var t DayTotal
		if err := rows.Scan(&t.Day, &t.Steps, &t.CostUSD); err != nil {
			return nil, fmt.Errorf("scan day total: %w", err)
		}
		totals = append(totals, t)
	}
	return totals, rows.Err()
}

// StepRow is one recorded step as read back from the ledger.
type StepRow struct {
	ID               int64
	Timestamp        time.Time
	Model            string
	InputTokens      int
	OutputTokens     int
	CacheReadTokens  int
	CacheWriteTokens int
	CostUSD          float64
	Unpriced         bool
}

// Recent returns the latest n steps, newest first.
func (l *Ledger) Recent(n int) ([]StepRow, error) {
	if n <= 0 {
		n = 20
	}
	rows, err := l.db.Query(`
		SELECT id, ts, model, input_tokens, output_tokens,
		       cache_read_tokens, cache_write_tokens, cost_usd, unpriced
		FROM steps
		ORDER BY id DESC
		LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("recent steps: %w", err)
	}
	defer rows.Close()

	var steps []StepRow
	for rows.Next() {
		var (
			row      StepRow
			ts       string
			unpriced int
		)
		if err := rows.Scan(&row.ID, &ts, &row.Model,
			&row.InputTokens, &row.OutputTokens,
			&row.CacheReadTokens, &row.CacheWriteTokens,
			&row.CostUSD, &unpriced); err != nil {
			return nil, fmt.Errorf("scan step: %w", err)
		}
		row.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		row.Unpriced = unpriced != 0
		steps = append(steps, row)
	}
	return steps, rows.Err()
}

// Close closes the underlying database.
func (l *Ledger) Close() error {
	return l.db.Close()
}

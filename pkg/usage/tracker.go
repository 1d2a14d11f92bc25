package usage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/canvass-ai/canvass/pkg/models"
)

// Tracker records and queries the token cost of external LLM calls.
type Tracker interface {
	// Record stores one usage record.
	Record(ctx context.Context, rec models.UsageRecord) error
	// TotalByRun returns total tokens spent by one run.
	TotalByRun(ctx context.Context, runID string) (int64, error)
	// Summary returns aggregated usage per model, optionally filtered by run.
	Summary(ctx context.Context, runID string) ([]models.UsageSummary, error)
	// Close releases resources.
	Close() error
}

// SQLiteTracker implements Tracker with a SQLite database.
type SQLiteTracker struct {
	db *sql.DB
}

const createTable = `
CREATE TABLE IF NOT EXISTS usage_records (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	cache_key TEXT NOT NULL,
	run_id TEXT NOT NULL,
	model TEXT NOT NULL,
	prompt_tokens INTEGER NOT NULL,
	completion_tokens INTEGER NOT NULL,
	total_tokens INTEGER NOT NULL,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_usage_run ON usage_records(run_id);
`

// New creates a SQLiteTracker and runs auto-migration.
func New(dbPath string) (*SQLiteTracker, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open usage db: %w", err)
	}

	if _, err := db.Exec(createTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate usage db: %w", err)
	}

	return &SQLiteTracker{db: db}, nil
}

// Record stores one usage record.
func (t *SQLiteTracker) Record(ctx context.Context, rec models.UsageRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	_, err := t.db.ExecContext(ctx,
		`INSERT INTO usage_records
		(cache_key, run_id, model, prompt_tokens, completion_tokens, total_tokens, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.CacheKey, rec.RunID, rec.Model,
		rec.PromptTokens, rec.CompletionTokens, rec.TotalTokens, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("record usage: %w", err)
	}
	return nil
}

// TotalByRun returns total tokens spent by one run.
func (t *SQLiteTracker) TotalByRun(ctx context.Context, runID string) (int64, error) {
	var total sql.NullInt64
	err := t.db.QueryRowContext(ctx,
		`SELECT SUM(total_tokens) FROM usage_records WHERE run_id = ?`, runID,
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("usage total: %w", err)
	}
	return total.Int64, nil
}

// Summary returns aggregated usage per model, optionally filtered by run.
func (t *SQLiteTracker) Summary(ctx context.Context, runID string) ([]models.UsageSummary, error) {
	q := `SELECT model, COUNT(*),
		SUM(prompt_tokens), SUM(completion_tokens), SUM(total_tokens)
		FROM usage_records`
	var args []any
	if runID != "" {
		q += ` WHERE run_id = ?`
		args = append(args, runID)
	}
	q += ` GROUP BY model ORDER BY model`

	rows, err := t.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("usage summary: %w", err)
	}
	defer rows.Close()

	var sums []models.UsageSummary
	for rows.Next() {
		var s models.UsageSummary
		if err := rows.Scan(&s.Model, &s.CallCount, &s.TotalPrompt, &s.TotalCompletion, &s.TotalTokens); err != nil {
			return nil, fmt.Errorf("scan usage summary: %w", err)
		}
		sums = append(sums, s)
	}
	return sums, rows.Err()
}

// Close releases the database connection.
func (t *SQLiteTracker) Close() error {
	return t.db.Close()
}

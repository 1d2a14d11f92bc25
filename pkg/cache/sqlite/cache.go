package sqlite

import (
	"bytes"
	"crypto/sha256"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"github.com/canvass-ai/canvass/pkg/models"
)

// Cache is a content-addressable store of LLM input→output pairs backed
// by SQLite. Entries are addressed by the digest of their input and are
// append-only: nothing is mutated or evicted automatically, so a re-run
// over an unchanged corpus pays for zero external calls.
type Cache struct {
	db     *sql.DB
	hits   atomic.Int64
	misses atomic.Int64
}

const createCacheTable = `
CREATE TABLE IF NOT EXISTS cache_entries (
	key TEXT PRIMARY KEY,
	prompt_template_id TEXT NOT NULL,
	model TEXT NOT NULL,
	output BLOB NOT NULL,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

// ConflictError reports a store for an existing key with different
// output bytes. Identical keys must be input-identical, so divergent
// outputs signal non-determinism in the key function or a logic bug;
// the run must halt rather than silently pick one output.
type ConflictError struct {
	Key string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("cache conflict: divergent output for key %s", e.Key)
}

// New opens the cache database and creates the schema.
func New(dbPath string) (*Cache, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open cache db: %w", err)
	}

	if _, err := db.Exec(createCacheTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate cache db: %w", err)
	}

	return &Cache{db: db}, nil
}

// keyInput is the canonical form hashed into a cache key. Field order is
// fixed by the struct, so identical inputs always marshal identically.
//
// The key deliberately excludes the response id: identical text for the
// same question and model deduplicates across respondents.
type keyInput struct {
	PromptTemplateID string `json:"prompt_template_id"`
	QuestionContext  string `json:"question_context"`
	ResponseText     string `json:"response_text"`
	Model            string `json:"model"`
}

// Key computes the deterministic digest for one LLM input.
func Key(promptTemplateID, questionContext, responseText, model string) string {
	data, _ := json.Marshal(keyInput{
		PromptTemplateID: promptTemplateID,
		QuestionContext:  questionContext,
		ResponseText:     responseText,
		Model:            model,
	})
	h := sha256.Sum256(data)
	return fmt.Sprintf("%x", h)
}

// Lookup retrieves the entry for a key. The second return value reports
// whether the key was present.
func (c *Cache) Lookup(key string) (*models.CacheEntry, bool, error) {
	var e models.CacheEntry
	err := c.db.QueryRow(
		`SELECT key, prompt_template_id, model, output, created_at FROM cache_entries WHERE key = ?`,
		key,
	).Scan(&e.Key, &e.PromptTemplateID, &e.Model, &e.Output, &e.CreatedAt)

	if err == sql.ErrNoRows {
		c.misses.Add(1)
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache lookup: %w", err)
	}

	c.hits.Add(1)
	return &e, true, nil
}

// Store persists one entry. It is idempotent when the key already holds
// byte-identical output and returns *ConflictError when it does not.
// The insert-then-compare runs in a transaction so concurrent stores for
// the same key are safe.
func (c *Cache) Store(key, promptTemplateID, model string, output []byte) error {
	tx, err := c.db.Begin()
	if err != nil {
		return fmt.Errorf("cache store: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(
		`INSERT OR IGNORE INTO cache_entries (key, prompt_template_id, model, output, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		key, promptTemplateID, model, output, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("cache store: %w", err)
	}

	if n, _ := res.RowsAffected(); n == 0 {
		var existing []byte
		if err := tx.QueryRow(`SELECT output FROM cache_entries WHERE key = ?`, key).Scan(&existing); err != nil {
			return fmt.Errorf("cache store compare: %w", err)
		}
		if !bytes.Equal(existing, output) {
			return &ConflictError{Key: key}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("cache store commit: %w", err)
	}
	return nil
}

// Stats returns cache size and hit/miss counters for this process.
func (c *Cache) Stats() (models.CacheStats, error) {
	var count int64
	err := c.db.QueryRow(`SELECT COUNT(*) FROM cache_entries`).Scan(&count)
	if err != nil {
		return models.CacheStats{}, fmt.Errorf("cache stats: %w", err)
	}
	return models.CacheStats{
		Entries: count,
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
	}, nil
}

// Clear removes every entry. Eviction is never automatic; this exists
// only for the operator-facing CLI.
func (c *Cache) Clear() error {
	if _, err := c.db.Exec(`DELETE FROM cache_entries`); err != nil {
		return fmt.Errorf("cache clear: %w", err)
	}
	return nil
}

// Close releases the database connection.
func (c *Cache) Close() error {
	return c.db.Close()
}

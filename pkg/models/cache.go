package models

import "time"

// CacheEntry stores one LLM input→output pair, addressed by the content
// digest of its input. Entries are append-only: a changed input produces
// a new key, never a mutated entry.
type CacheEntry struct {
	Key              string    `json:"key"`
	PromptTemplateID string    `json:"prompt_template_id"`
	Model            string    `json:"model"`
	Output           []byte    `json:"output"`
	CreatedAt        time.Time `json:"created_at"`
}

// CacheStats reports cache size and performance counters.
type CacheStats struct {
	Entries int64 `json:"entries"`
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
}

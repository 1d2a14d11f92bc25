package models

import "time"

// Usage holds token counts reported by the model for one call.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// UsageRecord tracks the token cost of one external LLM call. Cache hits
// never create usage records.
type UsageRecord struct {
	ID               int64     `json:"id"`
	CacheKey         string    `json:"cache_key"`
	RunID            string    `json:"run_id"`
	Model            string    `json:"model"`
	PromptTokens     int       `json:"prompt_tokens"`
	CompletionTokens int       `json:"completion_tokens"`
	TotalTokens      int       `json:"total_tokens"`
	CreatedAt        time.Time `json:"created_at"`
}

// UsageSummary aggregates usage across calls for one model.
type UsageSummary struct {
	Model            string `json:"model"`
	CallCount        int    `json:"call_count"`
	TotalPrompt      int64  `json:"total_prompt"`
	TotalCompletion  int64  `json:"total_completion"`
	TotalTokens      int64  `json:"total_tokens"`
}

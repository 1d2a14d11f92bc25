package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/canvass-ai/canvass/pkg/models"
)

// RefusalPolicy decides what a refused extraction does to the batch.
type RefusalPolicy string

const (
	RefusalSkip  RefusalPolicy = "skip"
	RefusalAbort RefusalPolicy = "abort"
)

// MatchStrategy selects how program aliases are matched against text.
type MatchStrategy string

const (
	// MatchSubstring is a case-insensitive substring match. It can
	// over-attribute on common words; MatchWord is stricter.
	MatchSubstring MatchStrategy = "substring"
	// MatchWord requires word boundaries around the alias.
	MatchWord MatchStrategy = "word"
)

// Config holds all canvass configuration.
type Config struct {
	Model         string           `yaml:"model"`
	API           APIConfig        `yaml:"api"`
	LLM           LLMConfig        `yaml:"llm"`
	Pipeline      PipelineConfig   `yaml:"pipeline"`
	Budget        models.RunBudget `yaml:"budget"`
	CacheDBPath   string           `yaml:"cache_db_path"`
	AuditDBPath   string           `yaml:"audit_db_path"`
	UsageDBPath   string           `yaml:"usage_db_path"`
	OutputDir     string           `yaml:"output_dir"`
	ResponsesFile string           `yaml:"responses_file"`
	QuestionsFile string           `yaml:"questions_file"`
	Programs      []models.Program `yaml:"programs"`
	Matching      MatchStrategy    `yaml:"matching"`
}

// APIConfig points at the upstream chat completions endpoint.
type APIConfig struct {
	BaseURL string        `yaml:"base_url"`
	APIKey  string        `yaml:"api_key"`
	Timeout time.Duration `yaml:"timeout"`
}

// LLMConfig controls call parameters and retry behavior.
type LLMConfig struct {
	Temperature      float64       `yaml:"temperature"`
	MaxTokens        int           `yaml:"max_tokens"`
	RetryAttempts    int           `yaml:"retry_attempts"`
	RetryBaseDelay   time.Duration `yaml:"retry_base_delay"`
	RefusalSentinels []string      `yaml:"refusal_sentinels"`
}

// PipelineConfig controls stage fan-out and evidence selection.
type PipelineConfig struct {
	Workers        int           `yaml:"workers"`
	TopThemes      int           `yaml:"top_themes"`
	QuotesPerTheme int           `yaml:"quotes_per_theme"`
	OnRefusal      RefusalPolicy `yaml:"on_refusal"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Model: "gpt-4.1",
		API: APIConfig{
			BaseURL: "https://api.openai.com",
			Timeout: 60 * time.Second,
		},
		LLM: LLMConfig{
			Temperature:    0.3,
			MaxTokens:      2000,
			RetryAttempts:  3,
			RetryBaseDelay: time.Second,
		},
		Pipeline: PipelineConfig{
			Workers:        4,
			TopThemes:      10,
			QuotesPerTheme: 3,
			OnRefusal:      RefusalSkip,
		},
		CacheDBPath:   "canvass_cache.db",
		AuditDBPath:   "canvass_audit.db",
		UsageDBPath:   "canvass_usage.db",
		OutputDir:     "results",
		ResponsesFile: "responses.json",
		QuestionsFile: "questions.yaml",
		Matching:      MatchSubstring,
	}
}

// Load reads a YAML config file and expands environment variables.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Model == "" {
		return fmt.Errorf("config: model is required")
	}
	if c.Pipeline.Workers < 1 {
		return fmt.Errorf("config: pipeline.workers must be >= 1")
	}
	switch c.Pipeline.OnRefusal {
	case RefusalSkip, RefusalAbort:
	default:
		return fmt.Errorf("config: on_refusal must be %q or %q", RefusalSkip, RefusalAbort)
	}
	switch c.Matching {
	case MatchSubstring, MatchWord:
	default:
		return fmt.Errorf("config: matching must be %q or %q", MatchSubstring, MatchWord)
	}
	return nil
}

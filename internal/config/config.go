// Package config loads zoomchat settings from a YAML file and the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment variables
const (
	EnvConfigPath     = "ZOOMCHAT_CONFIG"
	EnvLogLevel       = "ZOOMCHAT_LOG_LEVEL"
	EnvDBPath         = "ZOOMCHAT_DB_PATH"
	EnvDatabaseURL    = "DATABASE_URL"
	EnvGeminiAPIKey   = "GEMINI_API_KEY"
	EnvOpenAIAPIKey   = "OPENAI_API_KEY"
	EnvTelegramToken  = "TELEGRAM_BOT_TOKEN"
	EnvTelegramChatID = "TELEGRAM_ADMIN_CHAT_ID"
	EnvNATSURL        = "NATS_URL"
	EnvRelevance      = "ZOOMCHAT_RELEVANCE_FILTER"
)

// Storage drivers
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config holds every setting of the application.
type Config struct {
	Log        LogConfig        `yaml:"log"`
	Storage    StorageConfig    `yaml:"storage"`
	PDF        PDFConfig        `yaml:"pdf"`
	LLM        LLMConfig        `yaml:"llm"`
	Extraction ExtractionConfig `yaml:"extraction"`
	Embedding  EmbeddingConfig  `yaml:"embedding"`
	Search     SearchConfig     `yaml:"search"`
	Relevance  RelevanceConfig  `yaml:"relevance"`
	Notify     NotifyConfig     `yaml:"notify"`
}

// LogConfig controls slog output.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text or json
}

// StorageConfig selects the listing store backend.
type StorageConfig struct {
	Driver      string `yaml:"driver"`       // sqlite or postgres
	Path        string `yaml:"path"`         // SQLite file
	DatabaseURL string `yaml:"database_url"` // Postgres DSN
	MaxConns    int32  `yaml:"max_conns"`
}

// PDFConfig drives the page splitter.
type PDFConfig struct {
	Pages           []int         `yaml:"pages"`
	DownloadTimeout time.Duration `yaml:"download_timeout"`
	MaxBytes        int64         `yaml:"max_bytes"`
}

// LLMConfig configures the generative model used for extraction and classification.
type LLMConfig struct {
	Provider string `yaml:"provider"` // googleai or openai
	Model    string `yaml:"model"`
	APIKey   string `yaml:"api_key"`
	BaseURL  string `yaml:"base_url"` // openai-compatible host
}

// ExtractionConfig tunes the worker pool.
type ExtractionConfig struct {
	Concurrency      int             `yaml:"concurrency"`
	MaxAttempts      int             `yaml:"max_attempts"`
	OverloadSchedule []time.Duration `yaml:"overload_schedule"`
	RetryDelay       time.Duration   `yaml:"retry_delay"`
	RateLimitDelay   time.Duration   `yaml:"rate_limit_delay"`
	CallTimeout      time.Duration   `yaml:"call_timeout"`
}

// EmbeddingConfig selects the embedding provider and post-processing.
type EmbeddingConfig struct {
	Provider    string        `yaml:"provider"` // gemini or openai
	Model       string        `yaml:"model"`
	APIKey      string        `yaml:"api_key"`
	BaseURL     string        `yaml:"base_url"`
	Dimension   int           `yaml:"dimension"` // Target length after truncation
	BatchDelay  time.Duration `yaml:"batch_delay"`
	CallTimeout time.Duration `yaml:"call_timeout"`
	CacheSize   int           `yaml:"cache_size"`
	CacheDir    string        `yaml:"cache_dir"` // Optional badger directory
}

// SearchConfig holds hybrid search defaults.
type SearchConfig struct {
	Limit          int           `yaml:"limit"`
	MinScore       float64       `yaml:"min_score"` // 0 keeps every hit
	VectorWeight   float64       `yaml:"vector_weight"`
	FTSWeight      float64       `yaml:"fts_weight"`
	CandidateLimit int           `yaml:"candidate_limit"`
	MaxQueryLength int           `yaml:"max_query_length"`
	CacheTTL       time.Duration `yaml:"cache_ttl"`
}

// RelevanceConfig drives the optional LLM post-filter.
type RelevanceConfig struct {
	Enabled       bool          `yaml:"enabled"`
	MinResults    int           `yaml:"min_results"`
	ScoreOverride float64       `yaml:"score_override"` // Must be > 0
	CallTimeout   time.Duration `yaml:"call_timeout"`
}

// NotifyConfig wires the reporting collaborators.
type NotifyConfig struct {
	Telegram TelegramConfig `yaml:"telegram"`
	NATS     NATSConfig     `yaml:"nats"`
}

// TelegramConfig is the admin chat receiving run reports.
type TelegramConfig struct {
	BotToken string        `yaml:"bot_token"`
	ChatID   string        `yaml:"chat_id"`
	Timeout  time.Duration `yaml:"timeout"`
}

// NATSConfig is the JetStream target for publication events.
type NATSConfig struct {
	URL     string `yaml:"url"`
	Stream  string `yaml:"stream"`
	Subject string `yaml:"subject"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Log: LogConfig{Level: "info", Format: "text"},
		Storage: StorageConfig{
			Driver:   DriverSQLite,
			Path:     "zoomchat.db",
			MaxConns: 4,
		},
		PDF: PDFConfig{
			Pages:           []int{1, 3, 5, 6, 7},
			DownloadTimeout: 60 * time.Second,
			MaxBytes:        50 << 20,
		},
		LLM: LLMConfig{
			Provider: "googleai",
			Model:    "gemini-2.0-flash-exp",
		},
		Extraction: ExtractionConfig{
			Concurrency:      3,
			MaxAttempts:      3,
			OverloadSchedule: []time.Duration{1 * time.Second, 3 * time.Second, 10 * time.Second},
			RetryDelay:       2 * time.Second,
			RateLimitDelay:   500 * time.Millisecond,
			CallTimeout:      120 * time.Second,
		},
		Embedding: EmbeddingConfig{
			Provider:    "gemini",
			Model:       "gemini-embedding-001",
			Dimension:   1536,
			BatchDelay:  50 * time.Millisecond,
			CallTimeout: 30 * time.Second,
			CacheSize:   1000,
		},
		Search: SearchConfig{
			Limit:          10,
			MinScore:       0.3,
			VectorWeight:   0.6,
			FTSWeight:      0.4,
			CandidateLimit: 20,
			MaxQueryLength: 500,
			CacheTTL:       10 * time.Minute,
		},
		Relevance: RelevanceConfig{
			Enabled:       false,
			MinResults:    3,
			ScoreOverride: 0.7,
			CallTimeout:   20 * time.Second,
		},
		Notify: NotifyConfig{
			Telegram: TelegramConfig{Timeout: 5 * time.Second},
			NATS: NATSConfig{
				Stream:  "ZOOMCHAT",
				Subject: "zoomchat.publication.extracted",
			},
		},
	}
}

// Load reads path (or $ZOOMCHAT_CONFIG when path is empty) over the defaults
// and applies environment overrides. A missing file is not an error when the
// path came from nowhere.
func Load(path string) (Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = os.Getenv(EnvConfigPath)
		explicit = path != ""
	}

	if path != "" {
		raw, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(raw, &cfg); err != nil {
				return cfg, fmt.Errorf("config: parse %s: %w", path, err)
			}
		case explicit:
			return cfg, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv(EnvDBPath); v != "" {
		c.Storage.Path = v
	}
	if v := os.Getenv(EnvDatabaseURL); v != "" {
		c.Storage.DatabaseURL = v
		c.Storage.Driver = DriverPostgres
	}
	if v := os.Getenv(EnvGeminiAPIKey); v != "" {
		if c.LLM.APIKey == "" && c.LLM.Provider == "googleai" {
			c.LLM.APIKey = v
		}
		if c.Embedding.APIKey == "" && c.Embedding.Provider == "gemini" {
			c.Embedding.APIKey = v
		}
	}
	if v := os.Getenv(EnvOpenAIAPIKey); v != "" {
		if c.LLM.APIKey == "" && c.LLM.Provider == "openai" {
			c.LLM.APIKey = v
		}
		if c.Embedding.APIKey == "" && c.Embedding.Provider == "openai" {
			c.Embedding.APIKey = v
		}
	}
	if v := os.Getenv(EnvTelegramToken); v != "" {
		c.Notify.Telegram.BotToken = v
	}
	if v := os.Getenv(EnvTelegramChatID); v != "" {
		c.Notify.Telegram.ChatID = v
	}
	if v := os.Getenv(EnvNATSURL); v != "" {
		c.Notify.NATS.URL = v
	}
	if v := os.Getenv(EnvRelevance); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			c.Relevance.Enabled = enabled
		}
	}
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error

	switch c.Storage.Driver {
	case DriverSQLite:
		if strings.TrimSpace(c.Storage.Path) == "" {
			errs = append(errs, errors.New("storage.path is required for sqlite"))
		}
	case DriverPostgres:
		if strings.TrimSpace(c.Storage.DatabaseURL) == "" {
			errs = append(errs, errors.New("storage.database_url is required for postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.driver %q is not supported", c.Storage.Driver))
	}

	if len(c.PDF.Pages) == 0 {
		errs = append(errs, errors.New("pdf.pages must list at least one page"))
	}
	for _, p := range c.PDF.Pages {
		if p < 1 {
			errs = append(errs, fmt.Errorf("pdf.pages: page %d is not 1-based", p))
		}
	}

	if c.Extraction.Concurrency < 1 {
		errs = append(errs, errors.New("extraction.concurrency must be >= 1"))
	}
	if c.Extraction.MaxAttempts < 1 {
		errs = append(errs, errors.New("extraction.max_attempts must be >= 1"))
	}

	if c.Embedding.Dimension < 1 {
		errs = append(errs, errors.New("embedding.dimension must be >= 1"))
	}

	if c.Search.VectorWeight < 0 || c.Search.FTSWeight < 0 {
		errs = append(errs, errors.New("search weights must be >= 0"))
	}
	if c.Search.MaxQueryLength < 1 {
		errs = append(errs, errors.New("search.max_query_length must be >= 1"))
	}
	if c.Search.MinScore < 0 || c.Search.MinScore > 1 {
		errs = append(errs, errors.New("search.min_score must be within [0,1]"))
	}
	if c.Relevance.ScoreOverride <= 0 || c.Relevance.ScoreOverride > 1 {
		errs = append(errs, errors.New("relevance.score_override must be within (0,1]"))
	}

	return errors.Join(errs...)
}

// RequireAPIKeys checks the keys needed by commands that call external models.
func (c *Config) RequireAPIKeys() error {
	var errs []error
	if c.LLM.APIKey == "" && c.LLM.BaseURL == "" {
		errs = append(errs, fmt.Errorf("llm.api_key is not set (env %s or %s)", EnvGeminiAPIKey, EnvOpenAIAPIKey))
	}
	if c.Embedding.APIKey == "" && c.Embedding.BaseURL == "" {
		errs = append(errs, fmt.Errorf("embedding.api_key is not set (env %s or %s)", EnvGeminiAPIKey, EnvOpenAIAPIKey))
	}
	return errors.Join(errs...)
}

package embedder

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/mendoc/zoomchat/internal/config"
)

// NewProvider builds the provider named by cfg.Provider
func NewProvider(cfg config.EmbeddingConfig) (Provider, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case ProviderGemini, "":
		return NewGeminiProvider(cfg.APIKey, cfg.Model, cfg.BaseURL, cfg.CallTimeout)
	case ProviderOpenAI:
		return NewOpenAIProvider(cfg.APIKey, cfg.Model, cfg.BaseURL)
	case ProviderLocal:
		return NewLocalProvider(), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedProvider, cfg.Provider)
	}
}

// New creates a Generator with its provider and caches from configuration
func New(cfg config.EmbeddingConfig, logger *slog.Logger) (*Generator, error) {
	if cfg.Dimension <= 0 {
		return nil, fmt.Errorf("embedding dimension must be positive, got %d", cfg.Dimension)
	}
	provider, err := NewProvider(cfg)
	if err != nil {
		return nil, err
	}

	opts := []Option{
		WithBatchDelay(cfg.BatchDelay),
		WithLogger(logger),
	}
	if cfg.CallTimeout > 0 {
		opts = append(opts, WithCallTimeout(cfg.CallTimeout))
	}
	if cfg.CacheSize > 0 {
		opts = append(opts, WithCache(NewCache(cfg.CacheSize)))
	}
	if cfg.CacheDir != "" {
		persistent, err := OpenBadgerCache(cfg.CacheDir, 0, logger)
		if err != nil {
			_ = provider.Close()
			return nil, err
		}
		opts = append(opts, WithPersistentCache(persistent))
	}

	g, err := NewGenerator(provider, cfg.Dimension, opts...)
	if err != nil {
		_ = provider.Close()
		return nil, err
	}
	return g, nil
}

package app

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mendoc/zoomchat/internal/config"
	"github.com/mendoc/zoomchat/internal/logging"
	"github.com/mendoc/zoomchat/internal/notify"
	"github.com/mendoc/zoomchat/internal/searcher"
	"github.com/mendoc/zoomchat/pkg/types"
)

// offlineConfig needs no network: local embeddings and an OpenAI-compatible
// model that is never called during construction
func offlineConfig() config.Config {
	cfg := config.Default()
	cfg.Storage.Path = ":memory:"
	cfg.Embedding.Provider = "local"
	cfg.Embedding.Dimension = 16
	cfg.Embedding.BatchDelay = 0
	cfg.LLM.Provider = "openai"
	cfg.LLM.Model = "test-model"
	cfg.LLM.BaseURL = "http://127.0.0.1:1/v1"
	return cfg
}

func TestNew(t *testing.T) {
	a, err := New(context.Background(), offlineConfig(), logging.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, a.Close()) })

	assert.Equal(t, "sqlite", a.Store.Backend())
	assert.Equal(t, "local", a.Embedder.Provider())
	assert.NotNil(t, a.Searcher)
	assert.NotNil(t, a.Orchestrator)
	assert.False(t, a.Orchestrator.Running())
}

func TestNew_SearchEndToEnd(t *testing.T) {
	ctx := context.Background()
	a, err := New(ctx, offlineConfig(), logging.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	_, err = a.Searcher.Search(ctx, searcher.SearchRequest{Query: "   "})
	assert.ErrorIs(t, err, types.ErrValidation)

	resp, err := a.Searcher.Search(ctx, searcher.SearchRequest{Query: "villa"})
	require.NoError(t, err)
	assert.Empty(t, resp.Results)
}

func TestNew_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"invalid config", func(c *config.Config) { c.Extraction.Concurrency = 0 }},
		{"unknown driver", func(c *config.Config) { c.Storage.Driver = "mysql" }},
		{"unknown llm", func(c *config.Config) { c.LLM.Provider = "mistral" }},
		{"unknown embedding provider", func(c *config.Config) { c.Embedding.Provider = "cohere" }},
		{"googleai without key", func(c *config.Config) { c.LLM.Provider = "googleai"; c.LLM.APIKey = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := offlineConfig()
			tt.mutate(&cfg)
			a, err := New(context.Background(), cfg, logging.Discard())
			assert.Error(t, err)
			assert.Nil(t, a)
		})
	}
}

func TestOpenStorage(t *testing.T) {
	s, err := OpenStorage(context.Background(), config.StorageConfig{Driver: config.DriverSQLite, Path: ":memory:"})
	require.NoError(t, err)
	assert.Equal(t, "sqlite", s.Backend())
	require.NoError(t, s.Close())

	_, err = OpenStorage(context.Background(), config.StorageConfig{Driver: "oracle"})
	assert.ErrorContains(t, err, "unsupported storage driver")
}

func TestBuildReporter(t *testing.T) {
	r, err := buildReporter(config.TelegramConfig{}, logging.Discard())
	require.NoError(t, err)
	require.IsType(t, notify.MultiReporter{}, r)
	assert.Len(t, r.(notify.MultiReporter), 1)

	r, err = buildReporter(config.TelegramConfig{BotToken: "t", ChatID: "42"}, logging.Discard())
	require.NoError(t, err)
	assert.Len(t, r.(notify.MultiReporter), 2)
}

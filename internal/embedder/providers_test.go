package embedder

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mendoc/zoomchat/internal/config"
	"github.com/mendoc/zoomchat/internal/logging"
	"github.com/mendoc/zoomchat/internal/retry"
)

func TestGeminiProvider(t *testing.T) {
	t.Run("successful embedding", func(t *testing.T) {
		var gotBody map[string]interface{}
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "/v1beta/models/gemini-embedding-001:embedContent", r.URL.Path)
			assert.Equal(t, "test-key", r.Header.Get("x-goog-api-key"))
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))

			values := make([]float32, 3072)
			values[0] = 0.5
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"embedding": map[string]interface{}{"values": values},
			})
		}))
		defer server.Close()

		provider, err := NewGeminiProvider("test-key", "", server.URL, 5*time.Second)
		require.NoError(t, err)
		defer provider.Close()

		vec, err := provider.Embed(context.Background(), "villa à louer", TaskQuery)
		require.NoError(t, err)
		assert.Len(t, vec, 3072)
		assert.Equal(t, float32(0.5), vec[0])

		assert.Equal(t, "RETRIEVAL_QUERY", gotBody["taskType"])
		assert.Equal(t, "models/gemini-embedding-001", gotBody["model"])
		content := gotBody["content"].(map[string]interface{})
		parts := content["parts"].([]interface{})
		assert.Equal(t, "villa à louer", parts[0].(map[string]interface{})["text"])
	})

	t.Run("overload status is retryable", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, `{"error":{"status":"RESOURCE_EXHAUSTED"}}`, http.StatusTooManyRequests)
		}))
		defer server.Close()

		provider, err := NewGeminiProvider("k", "m", server.URL, time.Second)
		require.NoError(t, err)

		_, err = provider.Embed(context.Background(), "x", TaskDocument)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "429")
		assert.True(t, retry.IsOverloaded(err))
	})

	t.Run("empty embedding", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"embedding":{"values":[]}}`))
		}))
		defer server.Close()

		provider, err := NewGeminiProvider("k", "m", server.URL, time.Second)
		require.NoError(t, err)

		_, err = provider.Embed(context.Background(), "x", TaskDocument)
		assert.Error(t, err)
	})

	t.Run("missing key", func(t *testing.T) {
		_, err := NewGeminiProvider("", "", "", 0)
		assert.ErrorIs(t, err, ErrNoAPIKey)
	})

	t.Run("metadata", func(t *testing.T) {
		provider, err := NewGeminiProvider("k", "", "", 0)
		require.NoError(t, err)
		assert.Equal(t, ProviderGemini, provider.Name())
		assert.Equal(t, DefaultGeminiModel, provider.Model())
	})
}

func TestOpenAIProvider(t *testing.T) {
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		assert.True(t, strings.HasSuffix(r.URL.Path, "/embeddings"))
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"object": "list",
			"data": [{"object": "embedding", "index": 0, "embedding": [0.1, 0.2, 0.3]}],
			"model": "text-embedding-3-small",
			"usage": {"prompt_tokens": 3, "total_tokens": 3}
		}`))
	}))
	defer server.Close()

	provider, err := NewOpenAIProvider("sk-test", "", server.URL)
	require.NoError(t, err)
	assert.Equal(t, ProviderOpenAI, provider.Name())
	assert.Equal(t, DefaultOpenAIModel, provider.Model())

	vec, err := provider.Embed(context.Background(), "moto", TaskDocument)
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, vec)

	vec, err = provider.Embed(context.Background(), "moto", TaskQuery)
	require.NoError(t, err)
	assert.Len(t, vec, 3)
	assert.Equal(t, int32(2), requests.Load())

	_, err = NewOpenAIProvider("", "", "")
	assert.ErrorIs(t, err, ErrNoAPIKey)
}

func TestLocalProvider(t *testing.T) {
	p := NewLocalProvider()
	ctx := context.Background()

	a, err := p.Embed(ctx, "villa", TaskDocument)
	require.NoError(t, err)
	b, err := p.Embed(ctx, "villa", TaskDocument)
	require.NoError(t, err)
	c, err := p.Embed(ctx, "moto", TaskDocument)
	require.NoError(t, err)

	assert.Len(t, a, LocalDimension)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	for _, v := range a[:64] {
		assert.GreaterOrEqual(t, v, float32(-1))
		assert.LessOrEqual(t, v, float32(1))
	}
}

func TestBadgerCache(t *testing.T) {
	cache, err := OpenBadgerCache("", 0, logging.Discard())
	require.NoError(t, err)
	defer cache.Close()

	_, ok, err := cache.Get("missing")
	require.NoError(t, err)
	assert.False(t, ok)

	vec := []float32{0.25, -0.5, 1}
	require.NoError(t, cache.Put("k", vec))

	got, ok, err := cache.Get("k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, vec, got)
}

func TestBadgerCache_PersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()

	cache, err := OpenBadgerCache(dir, time.Hour, logging.Discard())
	require.NoError(t, err)
	require.NoError(t, cache.Put("k", []float32{1, 2}))
	require.NoError(t, cache.Close())

	cache, err = OpenBadgerCache(dir, time.Hour, logging.Discard())
	require.NoError(t, err)
	defer cache.Close()

	got, ok, err := cache.Get("k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []float32{1, 2}, got)
}

func TestGenerator_PersistentCacheServesRestart(t *testing.T) {
	cache, err := OpenBadgerCache("", 0, logging.Discard())
	require.NoError(t, err)

	provider := newFakeProvider(4)
	gen, err := NewGenerator(provider, 4, WithPersistentCache(cache))
	require.NoError(t, err)
	defer gen.Close()

	ctx := context.Background()
	first, err := gen.GenerateEmbedding(ctx, "villa")
	require.NoError(t, err)

	// A fresh generator without the LRU still hits badger
	gen2, err := NewGenerator(provider, 4, WithPersistentCache(cache))
	require.NoError(t, err)
	second, err := gen2.GenerateEmbedding(ctx, "villa")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, provider.callCount())
}

func TestNewProvider(t *testing.T) {
	tests := []struct {
		name     string
		cfg      config.EmbeddingConfig
		wantName string
		wantErr  error
	}{
		{"gemini", config.EmbeddingConfig{Provider: "gemini", APIKey: "k"}, ProviderGemini, nil},
		{"default is gemini", config.EmbeddingConfig{APIKey: "k"}, ProviderGemini, nil},
		{"openai", config.EmbeddingConfig{Provider: "OpenAI", APIKey: "k"}, ProviderOpenAI, nil},
		{"local", config.EmbeddingConfig{Provider: "local"}, ProviderLocal, nil},
		{"gemini without key", config.EmbeddingConfig{Provider: "gemini"}, "", ErrNoAPIKey},
		{"unknown", config.EmbeddingConfig{Provider: "word2vec"}, "", ErrUnsupportedProvider},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NewProvider(tt.cfg)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantName, p.Name())
		})
	}
}

func TestNew_FromConfig(t *testing.T) {
	cfg := config.Default().Embedding
	cfg.Provider = ProviderLocal
	cfg.CacheDir = t.TempDir()

	gen, err := New(cfg, logging.Discard())
	require.NoError(t, err)
	defer gen.Close()

	assert.Equal(t, 1536, gen.Dimension())
	assert.Equal(t, ProviderLocal, gen.Provider())

	vec, err := gen.GenerateEmbedding(context.Background(), "villa")
	require.NoError(t, err)
	assert.Len(t, vec, 1536)

	cfg.Dimension = 0
	_, err = New(cfg, logging.Discard())
	assert.Error(t, err)
}

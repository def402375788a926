package embedder

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/mendoc/zoomchat/pkg/types"
)

// Common errors
var (
	ErrUnsupportedProvider = errors.New("unsupported embedding provider")
	ErrNoAPIKey            = errors.New("embedding API key not configured")
)

// TaskType tells the provider what the vector will be used for.
// Providers without task-aware models ignore it.
type TaskType string

const (
	TaskDocument TaskType = "RETRIEVAL_DOCUMENT"
	TaskQuery    TaskType = "RETRIEVAL_QUERY"
)

// Provider is an external embedding capability.
type Provider interface {
	// Embed returns the full-length vector for text
	Embed(ctx context.Context, text string, task TaskType) ([]float32, error)

	// Name returns the provider name
	Name() string

	// Model returns the model name
	Model() string

	// Close releases any resources held by the provider
	Close() error
}

// Truncate keeps the first dim components of vec.
//
// This is a deliberate lossy reduction: models trained with Matryoshka
// representation learning order components by decreasing information, so a
// prefix is a usable lower-dimensional embedding. A vector shorter than dim
// cannot be reduced and is an ErrEmbedding.
func Truncate(vec []float32, dim int) ([]float32, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("%w: target dimension %d", types.ErrEmbedding, dim)
	}
	if len(vec) < dim {
		return nil, fmt.Errorf("%w: provider returned %d components, need %d", types.ErrEmbedding, len(vec), dim)
	}
	out := make([]float32, dim)
	copy(out, vec[:dim])
	return out, nil
}

// Cache provides in-memory LRU caching of vectors by key
type Cache struct {
	cache *lru.Cache[string, []float32]
}

// NewCache creates a new vector cache with LRU eviction
func NewCache(maxLen int) *Cache {
	if maxLen <= 0 {
		maxLen = 1000
	}
	cache, err := lru.New[string, []float32](maxLen)
	if err != nil {
		cache, _ = lru.New[string, []float32](1000)
	}
	return &Cache{cache: cache}
}

// Get returns a copy so callers cannot mutate the cached value
func (c *Cache) Get(key string) ([]float32, bool) {
	vec, ok := c.cache.Get(key)
	if !ok {
		return nil, false
	}
	out := make([]float32, len(vec))
	copy(out, vec)
	return out, true
}

// Set stores a copy of vec
func (c *Cache) Set(key string, vec []float32) {
	stored := make([]float32, len(vec))
	copy(stored, vec)
	c.cache.Add(key, stored)
}

// Size returns the current cache size
func (c *Cache) Size() int {
	return c.cache.Len()
}

// Clear empties the cache
func (c *Cache) Clear() {
	c.cache.Purge()
}

// ComputeHash computes SHA-256 hash of text for caching
func ComputeHash(text string) string {
	h := sha256.Sum256([]byte(text))
	return hex.EncodeToString(h[:])
}

// cacheKey scopes a text to everything that changes its vector
func cacheKey(model string, task TaskType, dim int, text string) string {
	return ComputeHash(fmt.Sprintf("%s|%s|%d|%s", model, task, dim, text))
}

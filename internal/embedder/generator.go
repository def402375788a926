package embedder

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/mendoc/zoomchat/internal/logging"
	"github.com/mendoc/zoomchat/internal/retry"
	"github.com/mendoc/zoomchat/pkg/types"
)

// Generator defaults
const (
	DefaultBatchDelay        = 50 * time.Millisecond
	DefaultCallTimeout       = 30 * time.Second
	DescriptionBudget        = 500
	DefaultEmbedMaxAttempts  = 2
	defaultEmbedRetryBackoff = time.Second
)

// Generator turns listings and queries into fixed-dimension vectors.
// Calls are strictly sequential: the embedding quota is tighter than extraction's.
type Generator struct {
	provider    Provider
	dimension   int
	delay       time.Duration
	callTimeout time.Duration
	cache       *Cache
	persistent  PersistentCache
	policy      retry.Policy
	sleep       func(ctx context.Context, d time.Duration) error
	logger      *slog.Logger
}

// Option configures a Generator
type Option func(*Generator)

// WithBatchDelay sets the pause between two calls of a batch
func WithBatchDelay(d time.Duration) Option {
	return func(g *Generator) { g.delay = d }
}

// WithCallTimeout bounds each provider call
func WithCallTimeout(d time.Duration) Option {
	return func(g *Generator) { g.callTimeout = d }
}

// WithCache puts an in-memory LRU in front of the provider
func WithCache(c *Cache) Option {
	return func(g *Generator) { g.cache = c }
}

// WithPersistentCache adds a cache that survives restarts
func WithPersistentCache(p PersistentCache) Option {
	return func(g *Generator) { g.persistent = p }
}

// WithRetryPolicy replaces the per-call retry policy
func WithRetryPolicy(p retry.Policy) Option {
	return func(g *Generator) { g.policy = p }
}

// WithSleep replaces the wait between batch items (tests)
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(g *Generator) { g.sleep = fn }
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(g *Generator) { g.logger = l }
}

// NewGenerator wraps provider and truncates every vector to dimension
func NewGenerator(provider Provider, dimension int, opts ...Option) (*Generator, error) {
	if provider == nil {
		return nil, fmt.Errorf("%w: nil provider", ErrUnsupportedProvider)
	}
	if dimension <= 0 {
		return nil, fmt.Errorf("embedding dimension must be positive, got %d", dimension)
	}

	g := &Generator{
		provider:    provider,
		dimension:   dimension,
		delay:       DefaultBatchDelay,
		callTimeout: DefaultCallTimeout,
		policy: retry.Policy{
			MaxAttempts: DefaultEmbedMaxAttempts,
			Delay:       func(int, error) time.Duration { return defaultEmbedRetryBackoff },
			Retryable:   retry.IsOverloaded,
		},
		sleep:  sleepCtx,
		logger: logging.Discard(),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.logger = logging.Component(g.logger, "embedder")
	return g, nil
}

// Dimension returns the length of every produced vector
func (g *Generator) Dimension() int {
	return g.dimension
}

// Provider returns the provider name
func (g *Generator) Provider() string {
	return g.provider.Name()
}

// Close releases the provider and the persistent cache
func (g *Generator) Close() error {
	err := g.provider.Close()
	if g.persistent != nil {
		if cerr := g.persistent.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// CreateCompositeText builds the text embedded for a listing: category,
// subcategory, title, "à {location}", "prix {price}", then the description
// cut to DescriptionBudget runes. Empty fields are omitted.
func CreateCompositeText(l *types.Listing) string {
	parts := make([]string, 0, 6)
	add := func(s string) {
		if s = strings.TrimSpace(s); s != "" {
			parts = append(parts, s)
		}
	}

	add(l.Category)
	add(l.Subcategory)
	add(l.Title)
	if loc := strings.TrimSpace(l.Location); loc != "" {
		parts = append(parts, "à "+loc)
	}
	if price := strings.TrimSpace(l.Price); price != "" {
		parts = append(parts, "prix "+price)
	}
	add(truncateRunes(strings.TrimSpace(l.Description), DescriptionBudget))

	return strings.Join(parts, " ")
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n]) + "..."
}

// GenerateEmbedding embeds a document text
func (g *Generator) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	return g.embed(ctx, text, TaskDocument)
}

// GenerateQueryEmbedding embeds a search query
func (g *Generator) GenerateQueryEmbedding(ctx context.Context, text string) ([]float32, error) {
	return g.embed(ctx, text, TaskQuery)
}

func (g *Generator) embed(ctx context.Context, text string, task TaskType) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, types.Validationf("text to embed is empty")
	}

	key := cacheKey(g.provider.Model(), task, g.dimension, text)
	if g.cache != nil {
		if vec, ok := g.cache.Get(key); ok {
			return vec, nil
		}
	}
	if g.persistent != nil {
		vec, ok, err := g.persistent.Get(key)
		if err != nil {
			g.logger.Warn("persistent cache read failed", "error", err)
		} else if ok && len(vec) == g.dimension {
			if g.cache != nil {
				g.cache.Set(key, vec)
			}
			return vec, nil
		}
	}

	full, attempts, err := retry.Do(ctx, g.policy, func(ctx context.Context, attempt int) ([]float32, error) {
		callCtx, cancel := context.WithTimeout(ctx, g.callTimeout)
		defer cancel()
		return g.provider.Embed(callCtx, text, task)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %s after %d attempt(s): %v", types.ErrEmbedding, g.provider.Name(), attempts, err)
	}

	vec, err := Truncate(full, g.dimension)
	if err != nil {
		return nil, err
	}

	if g.cache != nil {
		g.cache.Set(key, vec)
	}
	if g.persistent != nil {
		if err := g.persistent.Put(key, vec); err != nil {
			g.logger.Warn("persistent cache write failed", "error", err)
		}
	}
	return vec, nil
}

// BatchItem is the outcome for one listing. Vector is nil when Err is set.
type BatchItem struct {
	ListingID int64
	Reference string
	Vector    []float32
	Err       error
}

// ProgressFunc is called after each item, successful or not
type ProgressFunc func(done, total int, item BatchItem)

// GenerateBatch embeds listings one after the other with the batch delay between
// calls. A failing item is recorded and the batch continues. Items left when ctx
// is cancelled carry the context error.
func (g *Generator) GenerateBatch(ctx context.Context, listings []*types.Listing, onProgress ProgressFunc) []BatchItem {
	items := make([]BatchItem, 0, len(listings))
	total := len(listings)

	for i, l := range listings {
		item := BatchItem{ListingID: l.ID, Reference: l.Reference}

		if i > 0 && g.delay > 0 {
			if err := g.sleep(ctx, g.delay); err != nil {
				item.Err = err
			}
		}
		if item.Err == nil {
			if err := ctx.Err(); err != nil {
				item.Err = err
			} else {
				item.Vector, item.Err = g.GenerateEmbedding(ctx, CreateCompositeText(l))
			}
		}

		if item.Err != nil {
			item.Vector = nil
			g.logger.Warn("listing embedding failed",
				"listing_id", l.ID,
				"reference", l.Reference,
				"error", item.Err)
		}

		items = append(items, item)
		if onProgress != nil {
			onProgress(i+1, total, item)
		}
	}

	return items
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

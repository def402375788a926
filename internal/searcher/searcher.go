package searcher

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/mendoc/zoomchat/internal/logging"
	"github.com/mendoc/zoomchat/internal/storage"
	"github.com/mendoc/zoomchat/pkg/types"
)

// Search defaults
const (
	DefaultLimit          = 10
	MaxLimit              = 50
	DefaultMinScore       = 0.3
	DefaultVectorWeight   = 0.6
	DefaultFTSWeight      = 0.4
	DefaultCandidateLimit = 20
	DefaultMaxQueryLength = 500
	DefaultCacheTTL       = 10 * time.Minute
	DefaultCacheSize      = 1000
)

var ErrNoEmbedder = errors.New("query embedder not initialized")

// QueryEmbedder turns a query into a vector
type QueryEmbedder interface {
	GenerateQueryEmbedding(ctx context.Context, text string) ([]float32, error)
}

// Store answers hybrid queries
type Store interface {
	HybridSearch(ctx context.Context, vector []float32, text string, opts storage.HybridOptions) ([]storage.ScoredListing, error)
}

// Config holds the searcher defaults. MinScore is used as given, including 0;
// a negative value means DefaultMinScore.
type Config struct {
	Limit          int
	MinScore       float64
	VectorWeight   float64
	FTSWeight      float64
	CandidateLimit int
	MaxQueryLength int
	CacheTTL       time.Duration
	CacheSize      int
}

// DefaultConfig returns the built-in search settings
func DefaultConfig() Config {
	return Config{
		Limit:          DefaultLimit,
		MinScore:       DefaultMinScore,
		VectorWeight:   DefaultVectorWeight,
		FTSWeight:      DefaultFTSWeight,
		CandidateLimit: DefaultCandidateLimit,
		MaxQueryLength: DefaultMaxQueryLength,
		CacheTTL:       DefaultCacheTTL,
		CacheSize:      DefaultCacheSize,
	}
}

// SearchRequest contains parameters for a search operation.
// Zero values fall back to the searcher configuration; weights are only
// taken from the request when at least one of them is set. A nil MinScore
// takes the configured minimum, an explicit 0 keeps every hit.
type SearchRequest struct {
	Query        string
	Limit        int
	MinScore     *float64
	VectorWeight float64
	FTSWeight    float64
	UseCache     bool
}

// SearchResponse contains search results and metadata
type SearchResponse struct {
	Query        string
	Results      []types.SearchResult
	TotalResults int
	Candidates   int // Hits before the relevance filter
	Duration     time.Duration
	CacheHit     bool
}

// cacheEntry represents a cached search response with expiration time
type cacheEntry struct {
	response  *SearchResponse
	expiresAt time.Time
}

// Searcher runs hybrid search over the listing corpus
type Searcher struct {
	store     Store
	embedder  QueryEmbedder
	relevance *RelevanceFilter
	cfg       Config
	cache     *lru.Cache[[32]byte, *cacheEntry]
	cacheMu   sync.RWMutex
	cacheGen  uint64 // Bumped by InvalidateCache, guarded by cacheMu
	now       func() time.Time
	logger    *slog.Logger
}

// Option configures a Searcher
type Option func(*Searcher)

// WithRelevanceFilter enables the post-filter
func WithRelevanceFilter(f *RelevanceFilter) Option {
	return func(s *Searcher) { s.relevance = f }
}

// WithConfig replaces the defaults
func WithConfig(cfg Config) Option {
	return func(s *Searcher) { s.cfg = cfg }
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(s *Searcher) { s.logger = l }
}

// withClock is used by tests to expire cache entries
func withClock(now func() time.Time) Option {
	return func(s *Searcher) { s.now = now }
}

// NewSearcher creates a new Searcher instance
func NewSearcher(store Store, embedder QueryEmbedder, opts ...Option) *Searcher {
	s := &Searcher{
		store:    store,
		embedder: embedder,
		cfg:      DefaultConfig(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.cfg = s.cfg.withDefaults()
	s.logger = logging.Component(s.logger, "searcher")

	cache, err := lru.New[[32]byte, *cacheEntry](s.cfg.CacheSize)
	if err != nil {
		// Only fails on a non-positive size, which withDefaults rules out
		panic(fmt.Sprintf("failed to create LRU cache: %v", err))
	}
	s.cache = cache
	return s
}

func (c Config) withDefaults() Config {
	if c.Limit <= 0 {
		c.Limit = DefaultLimit
	}
	if c.MinScore < 0 {
		c.MinScore = DefaultMinScore
	}
	if c.VectorWeight == 0 && c.FTSWeight == 0 {
		c.VectorWeight, c.FTSWeight = DefaultVectorWeight, DefaultFTSWeight
	}
	if c.CandidateLimit <= 0 {
		c.CandidateLimit = DefaultCandidateLimit
	}
	if c.MaxQueryLength <= 0 {
		c.MaxQueryLength = DefaultMaxQueryLength
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = DefaultCacheTTL
	}
	if c.CacheSize <= 0 {
		c.CacheSize = DefaultCacheSize
	}
	return c
}

// Search validates the query, then embeds it, runs the hybrid query, applies
// the relevance filter and formats the hits. Validation happens before any
// external call.
func (s *Searcher) Search(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	start := s.now()

	if err := s.validateRequest(&req); err != nil {
		return nil, err
	}
	if s.embedder == nil {
		return nil, ErrNoEmbedder
	}

	var gen uint64
	if req.UseCache {
		gen = s.cacheGeneration()
		if cached := s.checkCache(req); cached != nil {
			cached.CacheHit = true
			cached.Duration = s.now().Sub(start)
			return cached, nil
		}
	}

	vector, err := s.embedder.GenerateQueryEmbedding(ctx, req.Query)
	if err != nil {
		return nil, fmt.Errorf("failed to generate query embedding: %w", err)
	}

	hits, err := s.store.HybridSearch(ctx, vector, req.Query, storage.HybridOptions{
		VectorWeight:   req.VectorWeight,
		FTSWeight:      req.FTSWeight,
		MinScore:       *req.MinScore,
		Limit:          req.Limit,
		CandidateLimit: s.cfg.CandidateLimit,
	})
	if err != nil {
		return nil, fmt.Errorf("hybrid search: %w", err)
	}
	candidates := len(hits)

	hits = s.relevance.Filter(ctx, req.Query, hits)

	results := FormatResults(hits)
	response := &SearchResponse{
		Query:        req.Query,
		Results:      results,
		TotalResults: len(results),
		Candidates:   candidates,
		Duration:     s.now().Sub(start),
	}

	s.logger.Debug("search completed",
		"query", req.Query,
		"candidates", candidates,
		"results", len(results),
		"duration", response.Duration)

	if req.UseCache && len(results) > 0 {
		s.storeInCache(req, response, gen)
	}
	return response, nil
}

// validateRequest trims the query and fills defaults
func (s *Searcher) validateRequest(req *SearchRequest) error {
	req.Query = strings.TrimSpace(req.Query)
	if req.Query == "" {
		return types.Validationf("query cannot be empty")
	}
	if n := utf8.RuneCountInString(req.Query); n > s.cfg.MaxQueryLength {
		return types.Validationf("query is %d characters long, limit is %d", n, s.cfg.MaxQueryLength)
	}

	if req.Limit <= 0 {
		req.Limit = s.cfg.Limit
	}
	if req.Limit > MaxLimit {
		req.Limit = MaxLimit
	}
	if req.MinScore == nil {
		minScore := s.cfg.MinScore
		req.MinScore = &minScore
	}
	if *req.MinScore < 0 || *req.MinScore > 1 {
		return types.Validationf("min score must be within [0,1], got %g", *req.MinScore)
	}
	if req.VectorWeight < 0 || req.FTSWeight < 0 {
		return types.Validationf("weights must be >= 0")
	}
	if req.VectorWeight == 0 && req.FTSWeight == 0 {
		req.VectorWeight, req.FTSWeight = s.cfg.VectorWeight, s.cfg.FTSWeight
	}
	return nil
}

// checkCache returns a copy of a live cached response, or nil
func (s *Searcher) checkCache(req SearchRequest) *SearchResponse {
	key := computeQueryHash(req)

	s.cacheMu.RLock()
	entry, found := s.cache.Get(key)
	if !found {
		s.cacheMu.RUnlock()
		return nil
	}
	if s.now().After(entry.expiresAt) {
		s.cacheMu.RUnlock()

		s.cacheMu.Lock()
		s.cache.Remove(key)
		s.cacheMu.Unlock()
		return nil
	}
	response := copySearchResponse(entry.response)
	s.cacheMu.RUnlock()

	return response
}

func (s *Searcher) cacheGeneration() uint64 {
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()
	return s.cacheGen
}

// storeInCache skips responses computed before the last invalidation
func (s *Searcher) storeInCache(req SearchRequest, response *SearchResponse, gen uint64) {
	entry := &cacheEntry{
		response:  copySearchResponse(response),
		expiresAt: s.now().Add(s.cfg.CacheTTL),
	}

	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	if s.cacheGen != gen {
		return
	}
	s.cache.Add(computeQueryHash(req), entry)
}

// InvalidateCache drops every cached response. Called after extraction runs.
// Searches still in flight will not cache their results.
func (s *Searcher) InvalidateCache() {
	s.cacheMu.Lock()
	s.cacheGen++
	s.cache.Purge()
	s.cacheMu.Unlock()
}

// CacheLen reports the number of cached responses
func (s *Searcher) CacheLen() int {
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()
	return s.cache.Len()
}

// copySearchResponse creates a deep copy of a SearchResponse.
// SearchResult only holds values, so copying the slice is enough.
func copySearchResponse(src *SearchResponse) *SearchResponse {
	if src == nil {
		return nil
	}
	dst := *src
	dst.Results = append([]types.SearchResult(nil), src.Results...)
	return &dst
}

// computeQueryHash keys the cache on the normalized request
func computeQueryHash(req SearchRequest) [32]byte {
	var data strings.Builder
	data.WriteString(req.Query)
	fmt.Fprintf(&data, "|%d|%.4f|%.4f|%.4f", req.Limit, *req.MinScore, req.VectorWeight, req.FTSWeight)
	return sha256.Sum256([]byte(data.String()))
}

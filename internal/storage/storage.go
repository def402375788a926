package storage

import (
	"context"

	"github.com/mendoc/zoomchat/pkg/types"
)

// ErrNotFound is returned when a requested entity doesn't exist.
// It is the shared taxonomy sentinel so errors.Is works across layers.
var ErrNotFound = types.ErrNotFound

// Storage is the full persistence surface: publications plus listings.
type Storage interface {
	PublicationRepository
	ListingStore

	// Backend names the driver in use ("sqlite" or "postgres")
	Backend() string
	Close() error
}

// PublicationRepository reads and registers publications.
type PublicationRepository interface {
	GetPublicationByNumber(ctx context.Context, number string) (*types.Publication, error)
	GetLatestPublication(ctx context.Context) (*types.Publication, error)
	// UpsertPublication inserts or updates by Number and sets ID/CreatedAt on p
	UpsertPublication(ctx context.Context, p *types.Publication) error
	AttachDeliveredFile(ctx context.Context, number, fileRef string) error
	DeletePublication(ctx context.Context, id int64) error
	CountListings(ctx context.Context, publicationID int64) (int, error)
}

// ListingStore persists listings and answers vector, lexical and hybrid queries.
type ListingStore interface {
	// BulkInsertListings inserts each listing inside one transaction. A conflict on
	// Reference is skipped, not failed. Persisted listings get their ID set.
	BulkInsertListings(ctx context.Context, listings []*types.Listing) (*BatchResult, error)
	FindMissingEmbedding(ctx context.Context, publicationID int64) ([]*types.Listing, error)
	// BulkUpdateEmbeddings writes vectors inside one transaction. Nil vectors are skipped.
	BulkUpdateEmbeddings(ctx context.Context, updates []EmbeddingUpdate) (*BatchResult, error)
	GetListing(ctx context.Context, id int64) (*types.Listing, error)

	SearchVector(ctx context.Context, vector []float32, minScore float64, limit int) ([]ScoredListing, error)
	HybridSearch(ctx context.Context, vector []float32, text string, opts HybridOptions) ([]ScoredListing, error)
}

// BatchResult is the outcome of a bulk operation with per-item isolation.
// The enclosing transaction is a scoping convenience, not an all-or-nothing guarantee.
type BatchResult struct {
	Succeeded []int64 // IDs written
	Skipped   []string
	Failed    []ItemFailure
}

// ItemFailure is one item that could not be written.
type ItemFailure struct {
	Key string // Reference code or listing ID
	Err error
}

// Total returns the number of items seen.
func (r *BatchResult) Total() int {
	return len(r.Succeeded) + len(r.Skipped) + len(r.Failed)
}

// EmbeddingUpdate attaches a vector to a listing. Vector nil means "nothing to write".
type EmbeddingUpdate struct {
	ListingID int64
	Vector    []float32
}

// ScoredListing is a listing with the scores that ranked it.
type ScoredListing struct {
	types.Listing
	VectorScore   float64
	FTSScore      float64
	CombinedScore float64
}

// VectorResult is a candidate ranked by cosine similarity.
type VectorResult struct {
	ListingID       int64
	SimilarityScore float64
}

// TextResult is a candidate ranked by the lexical index, normalized to [0,1).
type TextResult struct {
	ListingID int64
	Score     float64
}

// HybridOptions tunes HybridSearch.
type HybridOptions struct {
	VectorWeight   float64
	FTSWeight      float64
	MinScore       float64
	Limit          int
	CandidateLimit int // Size of each candidate set before the join
}

// Store-level hybrid defaults
const (
	DefaultVectorWeight   = 0.6
	DefaultFTSWeight      = 0.4
	DefaultMinScore       = 0.1
	DefaultLimit          = 10
	DefaultCandidateLimit = 20
)

// DefaultHybridOptions returns the store defaults.
func DefaultHybridOptions() HybridOptions {
	return HybridOptions{
		VectorWeight:   DefaultVectorWeight,
		FTSWeight:      DefaultFTSWeight,
		MinScore:       DefaultMinScore,
		Limit:          DefaultLimit,
		CandidateLimit: DefaultCandidateLimit,
	}
}

// withDefaults fills unset limits. Weights and MinScore are taken as given.
func (o HybridOptions) withDefaults() HybridOptions {
	if o.Limit <= 0 {
		o.Limit = DefaultLimit
	}
	if o.CandidateLimit <= 0 {
		o.CandidateLimit = DefaultCandidateLimit
	}
	return o
}

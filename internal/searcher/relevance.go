package searcher

import (
	"context"
	"log/slog"
	"time"

	"github.com/mendoc/zoomchat/internal/llm"
	"github.com/mendoc/zoomchat/internal/logging"
	"github.com/mendoc/zoomchat/internal/storage"
)

// Relevance defaults
const (
	DefaultMinResults    = 3
	DefaultScoreOverride = 0.7
)

// Classifier judges each candidate against the query, in order
type Classifier interface {
	Classify(ctx context.Context, query string, candidates []llm.Candidate) ([]bool, error)
}

// RelevanceConfig tunes the filter
type RelevanceConfig struct {
	Enabled       bool
	MinResults    int     // Below this many hits the filter is skipped
	ScoreOverride float64 // Hits at or above this vector score are always kept; 0 means DefaultScoreOverride
	CallTimeout   time.Duration
}

// RelevanceFilter drops hits the classifier rejects. It fails open: any
// classifier problem returns the hits unchanged.
type RelevanceFilter struct {
	classifier Classifier
	cfg        RelevanceConfig
	logger     *slog.Logger
}

// NewRelevanceFilter creates a RelevanceFilter
func NewRelevanceFilter(classifier Classifier, cfg RelevanceConfig, logger *slog.Logger) *RelevanceFilter {
	if cfg.MinResults <= 0 {
		cfg.MinResults = DefaultMinResults
	}
	if cfg.ScoreOverride <= 0 {
		cfg.ScoreOverride = DefaultScoreOverride
	}
	return &RelevanceFilter{
		classifier: classifier,
		cfg:        cfg,
		logger:     logging.Component(logger, "relevance"),
	}
}

// Filter keeps hits the classifier accepts or whose vector score reaches the override
func (f *RelevanceFilter) Filter(ctx context.Context, query string, hits []storage.ScoredListing) []storage.ScoredListing {
	if f == nil || !f.cfg.Enabled || f.classifier == nil {
		return hits
	}
	if len(hits) < f.cfg.MinResults {
		f.logger.Debug("too few results to filter", "results", len(hits), "min", f.cfg.MinResults)
		return hits
	}

	candidates := make([]llm.Candidate, len(hits))
	for i, h := range hits {
		candidates[i] = llm.Candidate{
			Title:       h.Title,
			Category:    h.Category,
			Subcategory: h.Subcategory,
			Description: h.Description,
			Location:    h.Location,
			VectorScore: h.VectorScore,
		}
	}

	if f.cfg.CallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.cfg.CallTimeout)
		defer cancel()
	}

	verdicts, err := f.classifier.Classify(ctx, query, candidates)
	if err != nil {
		f.logger.Warn("relevance classification failed, keeping all results", "error", err)
		return hits
	}
	if len(verdicts) != len(hits) {
		f.logger.Warn("relevance verdict count mismatch, keeping all results",
			"expected", len(hits),
			"got", len(verdicts))
		return hits
	}

	kept := make([]storage.ScoredListing, 0, len(hits))
	for i, h := range hits {
		if verdicts[i] || h.VectorScore >= f.cfg.ScoreOverride {
			kept = append(kept, h)
		}
	}

	f.logger.Info("results filtered",
		"query", query,
		"kept", len(kept),
		"removed", len(hits)-len(kept))
	return kept
}

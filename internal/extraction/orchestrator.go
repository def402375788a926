package extraction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/mendoc/zoomchat/internal/embedder"
	"github.com/mendoc/zoomchat/internal/logging"
	"github.com/mendoc/zoomchat/internal/notify"
	"github.com/mendoc/zoomchat/internal/storage"
	"github.com/mendoc/zoomchat/pkg/types"
)

// ErrRunInProgress is returned when another run holds the orchestrator
var ErrRunInProgress = errors.New("an extraction run is already in progress")

// DefaultPages are the pages of an issue that carry classified ads
var DefaultPages = []int{1, 3, 5, 6, 7}

// Store is the persistence the orchestrator needs
type Store interface {
	storage.PublicationRepository
	storage.ListingStore
}

// Splitter produces the page buffers of a publication
type Splitter interface {
	DownloadAndSplit(ctx context.Context, url string, pageNumbers []int) ([]types.Page, error)
}

// Embedder backfills vectors, one listing at a time
type Embedder interface {
	GenerateBatch(ctx context.Context, listings []*types.Listing, onProgress embedder.ProgressFunc) []embedder.BatchItem
}

// CacheInvalidator drops cached search responses once the corpus changes
type CacheInvalidator interface {
	InvalidateCache()
}

// Options tune a single run
type Options struct {
	ForceExtract bool
}

// Orchestrator runs the extract, persist and backfill pipeline for a publication
type Orchestrator struct {
	store       Store
	splitter    Splitter
	pool        *Pool
	embedder    Embedder
	reporter    notify.Reporter
	events      notify.Events
	invalidator CacheInvalidator
	pages       []int
	concurrency int
	lock        RunLock
	logger      *slog.Logger
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithPages sets which pages are extracted
func WithPages(pages []int) Option {
	return func(o *Orchestrator) {
		if len(pages) > 0 {
			o.pages = pages
		}
	}
}

// WithConcurrency sets the worker count
func WithConcurrency(n int) Option {
	return func(o *Orchestrator) { o.concurrency = n }
}

// WithReporter sets the admin reporter
func WithReporter(r notify.Reporter) Option {
	return func(o *Orchestrator) { o.reporter = r }
}

// WithEvents sets the event publisher
func WithEvents(e notify.Events) Option {
	return func(o *Orchestrator) { o.events = e }
}

// WithCacheInvalidator registers a cache to purge after runs that changed data
func WithCacheInvalidator(c CacheInvalidator) Option {
	return func(o *Orchestrator) { o.invalidator = c }
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// NewOrchestrator creates an Orchestrator
func NewOrchestrator(store Store, splitter Splitter, pool *Pool, emb Embedder, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:       store,
		splitter:    splitter,
		pool:        pool,
		embedder:    emb,
		events:      notify.NopEvents{},
		pages:       DefaultPages,
		concurrency: DefaultConcurrency,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = logging.Component(o.logger, "orchestrator")
	if o.reporter == nil {
		o.reporter = notify.NewLogReporter(o.logger)
	}
	return o
}

// Running reports whether a run is in progress
func (o *Orchestrator) Running() bool {
	return o.lock.Held()
}

// ExtractLatest runs ExtractPublication on the most recent publication
func (o *Orchestrator) ExtractLatest(ctx context.Context, opts Options) (*types.ExtractionRunStats, error) {
	pub, err := o.store.GetLatestPublication(ctx)
	if err != nil {
		return nil, err
	}
	return o.ExtractPublication(ctx, pub.Number, opts)
}

// ExtractPublication extracts, persists and embeds the listings of publication number.
// Listings are only extracted once per publication unless opts.ForceExtract is set;
// the embedding backfill runs every time so that earlier partial failures heal.
// Errors returned are fatal for the run; per-page and per-item failures are in the stats.
func (o *Orchestrator) ExtractPublication(ctx context.Context, number string, opts Options) (*types.ExtractionRunStats, error) {
	if !o.lock.TryAcquire() {
		return nil, ErrRunInProgress
	}
	defer o.lock.Release()

	start := time.Now()
	stats := &types.ExtractionRunStats{
		RunID:        uuid.NewString(),
		ForceExtract: opts.ForceExtract,
		Extraction: types.ExtractionStats{
			Errors:      []types.PageFailure{},
			PageDetails: []types.PageDetail{},
		},
	}
	logger := o.logger.With("run_id", stats.RunID, "publication", number)
	logger.Info("extraction run started", "force", opts.ForceExtract)

	if err := o.run(ctx, logger, number, opts, stats); err != nil {
		logger.Error("extraction run failed", "error", err, "duration", time.Since(start))
		if rerr := o.reporter.ReportFailure(ctx, number, err); rerr != nil {
			logger.Warn("failure report not delivered", "error", rerr)
		}
		return nil, err
	}
	stats.Duration = time.Since(start)

	if o.invalidator != nil && (stats.Listings.Inserted > 0 || stats.Listings.EmbeddingsGenerated > 0) {
		o.invalidator.InvalidateCache()
	}

	logger.Info("extraction run finished",
		"skipped", stats.Skipped,
		"inserted", stats.Listings.Inserted,
		"embeddings", stats.Listings.EmbeddingsGenerated,
		"total", stats.Listings.TotalInPublication,
		"duration", stats.Duration)

	if err := o.reporter.ReportRun(ctx, stats); err != nil {
		logger.Warn("run report not delivered", "error", err)
	}
	if stats.Listings.Inserted > 0 || opts.ForceExtract {
		if err := o.events.PublicationExtracted(ctx, stats); err != nil {
			logger.Warn("publication event not published", "error", err)
		}
	}

	return stats, nil
}

func (o *Orchestrator) run(ctx context.Context, logger *slog.Logger, number string, opts Options, stats *types.ExtractionRunStats) error {
	pub, err := o.store.GetPublicationByNumber(ctx, number)
	if err != nil {
		return err
	}
	stats.Publication = types.PublicationInfo{Number: pub.Number, Period: pub.Period, PDFURL: pub.PDFURL}

	existing, err := o.store.CountListings(ctx, pub.ID)
	if err != nil {
		return fmt.Errorf("count listings: %w", err)
	}

	if existing > 0 && !opts.ForceExtract {
		stats.Skipped = true
		logger.Info("listings already extracted, skipping extraction", "existing", existing)
	} else {
		if err := o.extract(ctx, logger, pub, stats); err != nil {
			return err
		}
	}

	if err := o.backfill(ctx, logger, pub, stats); err != nil {
		return err
	}

	total, err := o.store.CountListings(ctx, pub.ID)
	if err != nil {
		return fmt.Errorf("count listings: %w", err)
	}
	stats.Listings.TotalInPublication = total
	return nil
}

// extract splits the document, runs the pool and persists listings that carry a reference
func (o *Orchestrator) extract(ctx context.Context, logger *slog.Logger, pub *types.Publication, stats *types.ExtractionRunStats) error {
	pages, err := o.splitter.DownloadAndSplit(ctx, pub.PDFURL, o.pages)
	if err != nil {
		return err
	}
	logger.Info("document split", "pages", len(pages))

	listings, exStats := o.pool.ExtractAll(ctx, pages, o.concurrency)
	stats.Extraction = exStats
	stats.Listings.TotalExtracted = len(listings)

	keep := make([]*types.Listing, 0, len(listings))
	for i := range listings {
		l := &listings[i]
		if !l.HasReference() {
			stats.Listings.WithoutReference++
			continue
		}
		l.PublicationID = pub.ID
		keep = append(keep, l)
	}
	if stats.Listings.WithoutReference > 0 {
		logger.Info("listings without reference discarded", "count", stats.Listings.WithoutReference)
	}

	result, err := o.store.BulkInsertListings(ctx, keep)
	if err != nil {
		return fmt.Errorf("persist listings: %w", err)
	}
	stats.Listings.Inserted = len(result.Succeeded)
	stats.Listings.Duplicates = len(result.Skipped)
	stats.Listings.InsertFailures = len(result.Failed)
	for _, f := range result.Failed {
		logger.Warn("listing not persisted", "reference", f.Key, "error", f.Err)
	}
	return nil
}

// backfill embeds every listing of the publication that still lacks a vector
func (o *Orchestrator) backfill(ctx context.Context, logger *slog.Logger, pub *types.Publication, stats *types.ExtractionRunStats) error {
	missing, err := o.store.FindMissingEmbedding(ctx, pub.ID)
	if err != nil {
		return fmt.Errorf("find missing embeddings: %w", err)
	}
	if len(missing) == 0 {
		return nil
	}
	logger.Info("embedding backfill started", "listings", len(missing))

	items := o.embedder.GenerateBatch(ctx, missing, func(done, total int, item embedder.BatchItem) {
		if item.Err != nil {
			logger.Warn("embedding failed", "reference", item.Reference, "error", item.Err)
		}
		if done%10 == 0 || done == total {
			logger.Debug("embedding progress", "done", done, "total", total)
		}
	})

	updates := make([]storage.EmbeddingUpdate, 0, len(items))
	for _, item := range items {
		if item.Err != nil || item.Vector == nil {
			stats.Listings.EmbeddingFailures++
			continue
		}
		updates = append(updates, storage.EmbeddingUpdate{ListingID: item.ListingID, Vector: item.Vector})
	}

	result, err := o.store.BulkUpdateEmbeddings(ctx, updates)
	if err != nil {
		return fmt.Errorf("persist embeddings: %w", err)
	}
	stats.Listings.EmbeddingsGenerated = len(result.Succeeded)
	stats.Listings.EmbeddingFailures += len(result.Failed)
	for _, f := range result.Failed {
		logger.Warn("embedding not persisted", "listing", f.Key, "error", f.Err)
	}
	return nil
}

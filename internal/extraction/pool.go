package extraction

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/mendoc/zoomchat/internal/logging"
	"github.com/mendoc/zoomchat/internal/retry"
	"github.com/mendoc/zoomchat/pkg/types"
)

// Pool defaults
const (
	DefaultConcurrency    = 3
	DefaultRateLimitDelay = 500 * time.Millisecond
	DefaultCallTimeout    = 120 * time.Second
)

// PageExtractor reads the listings printed on one page
type PageExtractor interface {
	ExtractPage(ctx context.Context, pdf []byte, pageNumber int) ([]types.RawListing, error)
}

// Pool drains a page queue with a fixed number of workers.
// A page that exhausts its attempts is recorded and never aborts the run.
type Pool struct {
	extractor   PageExtractor
	policy      retry.Policy
	rateDelay   time.Duration
	callTimeout time.Duration
	sleep       func(ctx context.Context, d time.Duration) error
	logger      *slog.Logger
}

// PoolOption configures a Pool
type PoolOption func(*Pool)

// WithPolicy sets the per-page retry policy
func WithPolicy(p retry.Policy) PoolOption {
	return func(pool *Pool) { pool.policy = p }
}

// WithRateLimitDelay sets the pause a worker takes after each page while work remains
func WithRateLimitDelay(d time.Duration) PoolOption {
	return func(pool *Pool) { pool.rateDelay = d }
}

// WithCallTimeout bounds each extraction call
func WithCallTimeout(d time.Duration) PoolOption {
	return func(pool *Pool) {
		if d > 0 {
			pool.callTimeout = d
		}
	}
}

// WithSleep replaces the waiting function, for retries and rate limiting alike
func WithSleep(fn func(ctx context.Context, d time.Duration) error) PoolOption {
	return func(pool *Pool) { pool.sleep = fn }
}

// WithPoolLogger sets the logger
func WithPoolLogger(l *slog.Logger) PoolOption {
	return func(pool *Pool) { pool.logger = l }
}

// NewPool creates a Pool around extractor
func NewPool(extractor PageExtractor, opts ...PoolOption) *Pool {
	p := &Pool{
		extractor:   extractor,
		policy:      retry.DefaultPolicy(),
		rateDelay:   DefaultRateLimitDelay,
		callTimeout: DefaultCallTimeout,
		sleep:       sleepCtx,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = logging.Component(p.logger, "extraction-pool")
	if p.policy.Sleep == nil {
		p.policy.Sleep = p.sleep
	}
	return p
}

// collector accumulates worker output
type collector struct {
	mu       sync.Mutex
	listings [][]types.Listing // Indexed like the input pages
	details  []types.PageDetail
	failures []types.PageFailure
}

func (c *collector) success(idx int, listings []types.Listing, detail types.PageDetail) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listings[idx] = listings
	c.details = append(c.details, detail)
}

func (c *collector) failure(pageNumber int, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures = append(c.failures, types.PageFailure{PageNumber: pageNumber, Error: err.Error()})
}

// ExtractAll runs every page through the extractor. Each page is claimed by
// exactly one worker; once ctx is done the remaining pages are recorded as
// failures, so len(PageDetails)+len(Errors) always equals len(pages).
func (p *Pool) ExtractAll(ctx context.Context, pages []types.Page, concurrency int) ([]types.Listing, types.ExtractionStats) {
	stats := types.ExtractionStats{
		TotalPages:  len(pages),
		Errors:      []types.PageFailure{},
		PageDetails: []types.PageDetail{},
	}
	if len(pages) == 0 {
		return []types.Listing{}, stats
	}

	if concurrency <= 0 {
		concurrency = 1
	}
	if concurrency > len(pages) {
		concurrency = len(pages)
	}

	p.logger.Info("extraction started", "pages", len(pages), "workers", concurrency)

	col := &collector{listings: make([][]types.Listing, len(pages))}
	var cursor atomic.Int64
	var wg sync.WaitGroup

	worker := func(workerID int) func() {
		return func() {
			defer wg.Done()
			for {
				idx := int(cursor.Add(1) - 1)
				if idx >= len(pages) {
					return
				}
				page := pages[idx]

				if err := ctx.Err(); err != nil {
					col.failure(page.Number, err)
					continue
				}

				p.processPage(ctx, idx, page, workerID, col)

				if cursor.Load() < int64(len(pages)) && p.rateDelay > 0 {
					_ = p.sleep(ctx, p.rateDelay)
				}
			}
		}
	}

	workers, err := ants.NewPool(concurrency, ants.WithPanicHandler(func(v interface{}) {
		p.logger.Error("extraction worker panicked", "panic", v)
	}))
	if err != nil {
		p.logger.Warn("worker pool unavailable, using goroutines", "error", err)
	}

	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		run := worker(w)
		if workers == nil || workers.Submit(run) != nil {
			go run()
		}
	}
	wg.Wait()
	if workers != nil {
		workers.Release()
	}

	sort.Slice(col.details, func(i, j int) bool { return col.details[i].PageNumber < col.details[j].PageNumber })
	sort.Slice(col.failures, func(i, j int) bool { return col.failures[i].PageNumber < col.failures[j].PageNumber })

	all := make([]types.Listing, 0)
	for _, pageListings := range col.listings {
		all = append(all, pageListings...)
	}

	stats.PageDetails = col.details
	stats.Errors = col.failures
	stats.PagesSuccess = len(col.details)
	stats.PagesErrors = len(col.failures)
	stats.TotalListings = len(all)

	p.logger.Info("extraction finished",
		"pages_success", stats.PagesSuccess,
		"pages_errors", stats.PagesErrors,
		"listings", stats.TotalListings)

	return all, stats
}

func (p *Pool) processPage(ctx context.Context, idx int, page types.Page, workerID int, col *collector) {
	start := time.Now()
	tried := 0

	// A panicking extractor fails its page; the worker keeps draining the queue.
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("page extraction panicked",
				"page", page.Number,
				"worker", workerID,
				"panic", r)
			col.failure(page.Number, &types.PageError{
				PageNumber: page.Number,
				Attempts:   tried,
				Err:        fmt.Errorf("panic: %v", r),
			})
		}
	}()

	policy := p.policy
	policy.OnRetry = func(attempt int, delay time.Duration, err error) {
		p.logger.Warn("page extraction failed, retrying",
			"page", page.Number,
			"worker", workerID,
			"attempt", attempt,
			"overloaded", retry.IsOverloaded(err),
			"wait", delay,
			"error", err)
	}

	raw, attempts, err := retry.Do(ctx, policy, func(ctx context.Context, attempt int) ([]types.RawListing, error) {
		tried = attempt
		callCtx, cancel := context.WithTimeout(ctx, p.callTimeout)
		defer cancel()
		return p.extractor.ExtractPage(callCtx, page.Data, page.Number)
	})
	if err != nil {
		pageErr := &types.PageError{PageNumber: page.Number, Attempts: attempts, Err: err}
		p.logger.Error("page extraction abandoned",
			"page", page.Number,
			"worker", workerID,
			"attempts", attempts,
			"error", err)
		col.failure(page.Number, pageErr)
		return
	}

	listings := make([]types.Listing, 0, len(raw))
	for _, r := range raw {
		listings = append(listings, r.Clean())
	}

	duration := time.Since(start)
	col.success(idx, listings, types.PageDetail{
		PageNumber: page.Number,
		Count:      len(listings),
		Duration:   duration,
		WorkerID:   workerID,
	})

	p.logger.Info("page extracted",
		"page", page.Number,
		"worker", workerID,
		"listings", len(listings),
		"attempts", attempts,
		"duration", duration)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

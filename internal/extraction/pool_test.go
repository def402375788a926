package extraction

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mendoc/zoomchat/internal/retry"
	"github.com/mendoc/zoomchat/pkg/types"
)

// fakeExtractor serves scripted listings per page and can fail a page a given number of times
type fakeExtractor struct {
	mu        sync.Mutex
	listings  map[int][]types.RawListing
	failTimes map[int]int
	failWith  error
	attempts  map[int]int
	panicOn   map[int]bool
}

func newFakeExtractor() *fakeExtractor {
	return &fakeExtractor{
		listings:  map[int][]types.RawListing{},
		failTimes: map[int]int{},
		attempts:  map[int]int{},
		failWith:  errors.New("503 model is overloaded"),
	}
}

func (f *fakeExtractor) ExtractPage(ctx context.Context, _ []byte, pageNumber int) ([]types.RawListing, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts[pageNumber]++
	if f.panicOn[pageNumber] {
		var broken map[string]int
		broken["x"]++
	}
	if f.failTimes[pageNumber] < 0 || f.attempts[pageNumber] <= f.failTimes[pageNumber] {
		return nil, f.failWith
	}
	return f.listings[pageNumber], nil
}

func (f *fakeExtractor) attemptsFor(page int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts[page]
}

func (f *fakeExtractor) totalAttempts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, a := range f.attempts {
		n += a
	}
	return n
}

type recordingSleep struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *recordingSleep) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.delays = append(r.delays, d)
	r.mu.Unlock()
	return ctx.Err()
}

func (r *recordingSleep) recorded() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.delays...)
}

func makePages(numbers ...int) []types.Page {
	pages := make([]types.Page, len(numbers))
	for i, n := range numbers {
		pages[i] = types.Page{Number: n, Data: []byte(fmt.Sprintf("page-%d", n))}
	}
	return pages
}

func raw(ref, title string) types.RawListing {
	return types.RawListing{Reference: types.FlexString(ref), Title: types.FlexString(title)}
}

func TestExtractAll_Coverage(t *testing.T) {
	for m := 1; m <= 6; m++ {
		for _, concurrency := range []int{0, 1, m / 2, m, m + 3} {
			t.Run(fmt.Sprintf("pages=%d/workers=%d", m, concurrency), func(t *testing.T) {
				numbers := make([]int, m)
				for i := range numbers {
					numbers[i] = i + 1
				}
				extractor := newFakeExtractor()
				extractor.failTimes[1] = -1 // page 1 always fails

				pool := NewPool(extractor,
					WithPolicy(retry.Policy{MaxAttempts: 1}),
					WithSleep((&recordingSleep{}).sleep),
				)
				_, stats := pool.ExtractAll(context.Background(), makePages(numbers...), concurrency)

				assert.Equal(t, m, stats.TotalPages)
				assert.Equal(t, m, len(stats.PageDetails)+len(stats.Errors))
				assert.Equal(t, m, stats.PagesSuccess+stats.PagesErrors)
				for _, n := range numbers {
					assert.Equal(t, 1, extractor.attemptsFor(n), "page %d attempted once", n)
				}
			})
		}
	}
}

func TestExtractAll_BackoffSchedule(t *testing.T) {
	extractor := newFakeExtractor()
	extractor.failTimes[5] = -1
	sleeper := &recordingSleep{}

	pool := NewPool(extractor,
		WithPolicy(retry.DefaultPolicy()),
		WithRateLimitDelay(0),
		WithSleep(sleeper.sleep),
	)
	_, stats := pool.ExtractAll(context.Background(), makePages(5), 1)

	assert.Equal(t, retry.DefaultMaxAttempts, extractor.attemptsFor(5))
	assert.Equal(t, []time.Duration{1 * time.Second, 3 * time.Second}, sleeper.recorded())

	require.Len(t, stats.Errors, 1)
	assert.Equal(t, 5, stats.Errors[0].PageNumber)
	assert.Contains(t, stats.Errors[0].Error, "3 attempt(s)")
	assert.Contains(t, stats.Errors[0].Error, "overloaded")
	assert.Equal(t, 0, stats.PagesSuccess)
}

func TestExtractAll_NonOverloadUsesFallbackDelay(t *testing.T) {
	extractor := newFakeExtractor()
	extractor.failWith = errors.New("invalid JSON")
	extractor.failTimes[1] = 1
	extractor.listings[1] = []types.RawListing{raw("R1", "Villa")}
	sleeper := &recordingSleep{}

	pool := NewPool(extractor, WithRateLimitDelay(0), WithSleep(sleeper.sleep))
	listings, stats := pool.ExtractAll(context.Background(), makePages(1), 1)

	assert.Len(t, listings, 1)
	assert.Equal(t, 1, stats.PagesSuccess)
	assert.Equal(t, []time.Duration{retry.DefaultFallbackDelay}, sleeper.recorded())
}

func TestExtractAll_PageRecoversOnThirdAttempt(t *testing.T) {
	extractor := newFakeExtractor()
	for _, n := range []int{1, 3, 5, 6, 7} {
		extractor.listings[n] = []types.RawListing{raw(fmt.Sprintf("R%d", n), "Annonce")}
	}
	extractor.failTimes[3] = 2

	pool := NewPool(extractor, WithSleep((&recordingSleep{}).sleep))
	listings, stats := pool.ExtractAll(context.Background(), makePages(1, 3, 5, 6, 7), 3)

	assert.Equal(t, 0, stats.PagesErrors)
	assert.Equal(t, 5, stats.PagesSuccess)
	assert.Equal(t, 5, stats.TotalListings)
	assert.Len(t, listings, 5)
	assert.Equal(t, 3, extractor.attemptsFor(3))
	assert.Empty(t, stats.Errors)
}

func TestExtractAll_DetailsSortedAndListingsInPageOrder(t *testing.T) {
	extractor := newFakeExtractor()
	extractor.listings[7] = []types.RawListing{raw("C", "seven")}
	extractor.listings[1] = []types.RawListing{raw("A", "one"), raw("B", "one-bis")}
	extractor.listings[3] = nil

	pool := NewPool(extractor, WithSleep((&recordingSleep{}).sleep))
	listings, stats := pool.ExtractAll(context.Background(), makePages(7, 1, 3), 3)

	var detailPages []int
	for _, d := range stats.PageDetails {
		detailPages = append(detailPages, d.PageNumber)
		assert.GreaterOrEqual(t, d.WorkerID, 0)
		assert.Less(t, d.WorkerID, 3)
	}
	assert.Equal(t, []int{1, 3, 7}, detailPages)
	assert.Equal(t, 0, stats.PageDetails[1].Count)

	var refs []string
	for _, l := range listings {
		refs = append(refs, l.Reference)
	}
	assert.Equal(t, []string{"C", "A", "B"}, refs, "listings follow the input page order")
}

func TestExtractAll_CleansListings(t *testing.T) {
	extractor := newFakeExtractor()
	extractor.listings[1] = []types.RawListing{{
		Reference: "  GA001 E0008 ",
		Title:     " VILLA ",
		Price:     "   ",
		Location:  "\tAkanda\n",
	}}

	listings, _ := NewPool(extractor).ExtractAll(context.Background(), makePages(1), 1)
	require.Len(t, listings, 1)
	assert.Equal(t, "GA001 E0008", listings[0].Reference)
	assert.Equal(t, "VILLA", listings[0].Title)
	assert.Equal(t, "", listings[0].Price)
	assert.Equal(t, "Akanda", listings[0].Location)
}

func TestExtractAll_RateLimitBetweenPages(t *testing.T) {
	extractor := newFakeExtractor()
	sleeper := &recordingSleep{}

	pool := NewPool(extractor, WithRateLimitDelay(500*time.Millisecond), WithSleep(sleeper.sleep))
	_, stats := pool.ExtractAll(context.Background(), makePages(1, 2, 3), 1)

	assert.Equal(t, 3, stats.PagesSuccess)
	// No pause after the last page
	assert.Equal(t, []time.Duration{500 * time.Millisecond, 500 * time.Millisecond}, sleeper.recorded())
}

func TestExtractAll_Cancelled(t *testing.T) {
	extractor := newFakeExtractor()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	listings, stats := NewPool(extractor).ExtractAll(ctx, makePages(1, 3, 5), 2)

	assert.Empty(t, listings)
	assert.Equal(t, 3, stats.PagesErrors)
	assert.Equal(t, 3, len(stats.Errors)+len(stats.PageDetails))
	for _, e := range stats.Errors {
		assert.Contains(t, e.Error, "context canceled")
	}
	assert.Equal(t, 0, extractor.totalAttempts())
}

func TestExtractAll_Empty(t *testing.T) {
	listings, stats := NewPool(newFakeExtractor()).ExtractAll(context.Background(), nil, 3)
	assert.Empty(t, listings)
	assert.Equal(t, 0, stats.TotalPages)
	assert.NotNil(t, stats.Errors)
	assert.NotNil(t, stats.PageDetails)
}

func TestExtractAll_CallTimeout(t *testing.T) {
	blocking := extractorFunc(func(ctx context.Context, _ []byte, _ int) ([]types.RawListing, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})

	pool := NewPool(blocking,
		WithCallTimeout(20*time.Millisecond),
		WithPolicy(retry.Policy{MaxAttempts: 2}),
		WithSleep((&recordingSleep{}).sleep),
	)
	_, stats := pool.ExtractAll(context.Background(), makePages(1), 1)

	require.Len(t, stats.Errors, 1)
	assert.Contains(t, stats.Errors[0].Error, "deadline exceeded")
	assert.Contains(t, stats.Errors[0].Error, "2 attempt(s)")
}

type extractorFunc func(ctx context.Context, pdf []byte, pageNumber int) ([]types.RawListing, error)

func (f extractorFunc) ExtractPage(ctx context.Context, pdf []byte, pageNumber int) ([]types.RawListing, error) {
	return f(ctx, pdf, pageNumber)
}

func TestRunLock(t *testing.T) {
	var l RunLock
	assert.False(t, l.Held())
	assert.True(t, l.TryAcquire())
	assert.True(t, l.Held())
	assert.False(t, l.TryAcquire())
	l.Release()
	assert.True(t, l.TryAcquire())
}

func TestExtractAll_PanicFailsOnlyThatPage(t *testing.T) {
	extractor := newFakeExtractor()
	extractor.panicOn = map[int]bool{3: true}
	for n := 1; n <= 5; n++ {
		extractor.listings[n] = []types.RawListing{raw(fmt.Sprintf("R%d", n), "Annonce")}
	}

	pool := NewPool(extractor,
		WithPolicy(retry.Policy{MaxAttempts: 3}),
		WithSleep((&recordingSleep{}).sleep),
	)
	listings, stats := pool.ExtractAll(context.Background(), makePages(1, 2, 3, 4, 5), 1)

	assert.Equal(t, 5, stats.TotalPages)
	assert.Equal(t, 4, stats.PagesSuccess)
	assert.Equal(t, 1, stats.PagesErrors)
	require.Len(t, stats.Errors, 1)
	assert.Equal(t, 3, stats.Errors[0].PageNumber)
	assert.Contains(t, stats.Errors[0].Error, "panic")
	assert.Len(t, listings, 4)
	assert.Equal(t, 1, extractor.attemptsFor(3))
	for _, n := range []int{4, 5} {
		assert.Equal(t, 1, extractor.attemptsFor(n), "page %d attempted after the panic", n)
	}
}

// Package pdf downloads a publication and cuts the requested pages into
// standalone single-page documents.
package pdf

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/mendoc/zoomchat/internal/logging"
	"github.com/mendoc/zoomchat/pkg/types"
)

const (
	DefaultDownloadTimeout = 60 * time.Second
	DefaultMaxBytes        = 50 << 20
)

// DefaultPages are the pages of an issue that carry classified ads.
var DefaultPages = []int{1, 3, 5, 6, 7}

func init() {
	// pdfcpu would otherwise create a config dir in the user's home
	api.DisableConfigDir()
}

// Splitter fetches a PDF and produces one buffer per requested page.
// It never retries: page-level retries belong to the extraction pool.
type Splitter struct {
	client   *http.Client
	maxBytes int64
	logger   *slog.Logger
}

// Option configures a Splitter
type Option func(*Splitter)

// WithHTTPClient replaces the download client
func WithHTTPClient(c *http.Client) Option {
	return func(s *Splitter) { s.client = c }
}

// WithTimeout sets the download timeout
func WithTimeout(d time.Duration) Option {
	return func(s *Splitter) {
		if d > 0 {
			s.client.Timeout = d
		}
	}
}

// WithMaxBytes bounds the downloaded document size
func WithMaxBytes(n int64) Option {
	return func(s *Splitter) {
		if n > 0 {
			s.maxBytes = n
		}
	}
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(s *Splitter) { s.logger = l }
}

// NewSplitter creates a Splitter
func NewSplitter(opts ...Option) *Splitter {
	s := &Splitter{
		client:   &http.Client{Timeout: DefaultDownloadTimeout},
		maxBytes: DefaultMaxBytes,
		logger:   logging.Discard(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logging.Component(s.logger, "pdf")
	return s
}

// DownloadAndSplit fetches url and returns the requested pages in request order
func (s *Splitter) DownloadAndSplit(ctx context.Context, url string, pageNumbers []int) ([]types.Page, error) {
	data, err := s.Download(ctx, url)
	if err != nil {
		return nil, err
	}
	return s.SplitBytes(ctx, data, pageNumbers)
}

// Download fetches the whole document. Any transport error or non-2xx status is an ErrDownload.
// file:// URLs are read from the local disk under the same size limit.
func (s *Splitter) Download(ctx context.Context, url string) ([]byte, error) {
	if path, ok := strings.CutPrefix(url, "file://"); ok {
		return s.readFile(path)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrDownload, err)
	}

	start := time.Now()
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrDownload, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: %s returned %d", types.ErrDownload, url, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, s.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", types.ErrDownload, err)
	}
	if int64(len(data)) > s.maxBytes {
		return nil, fmt.Errorf("%w: document exceeds %d bytes", types.ErrDownload, s.maxBytes)
	}

	s.logger.Debug("document downloaded",
		"url", url,
		"bytes", len(data),
		"duration", time.Since(start))
	return data, nil
}

func (s *Splitter) readFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrDownload, err)
	}
	defer func() { _ = f.Close() }()

	data, err := io.ReadAll(io.LimitReader(f, s.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", types.ErrDownload, path, err)
	}
	if int64(len(data)) > s.maxBytes {
		return nil, fmt.Errorf("%w: document exceeds %d bytes", types.ErrDownload, s.maxBytes)
	}
	return data, nil
}

// SplitBytes cuts data into single-page documents. Pages beyond the document
// are skipped with a warning; a document that cannot be read, or that yields
// no requested page at all, is an ErrSplit.
func (s *Splitter) SplitBytes(ctx context.Context, data []byte, pageNumbers []int) ([]types.Page, error) {
	conf := model.NewDefaultConfiguration()

	count, err := api.PageCount(bytes.NewReader(data), conf)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrSplit, err)
	}

	pages := make([]types.Page, 0, len(pageNumbers))
	for _, n := range pageNumbers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if n < 1 || n > count {
			s.logger.Warn("requested page out of range, skipping",
				"page", n,
				"page_count", count)
			continue
		}

		var buf bytes.Buffer
		if err := api.Trim(bytes.NewReader(data), &buf, []string{strconv.Itoa(n)}, conf); err != nil {
			return nil, fmt.Errorf("%w: page %d: %v", types.ErrSplit, n, err)
		}
		pages = append(pages, types.Page{Number: n, Data: buf.Bytes()})
	}

	if len(pages) == 0 && len(pageNumbers) > 0 {
		return nil, fmt.Errorf("%w: none of pages %v exist in a %d-page document", types.ErrSplit, pageNumbers, count)
	}
	return pages, nil
}

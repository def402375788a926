package pdf

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mendoc/zoomchat/pkg/types"
)

// buildPDF writes a minimal document with n empty pages and a valid xref table
func buildPDF(n int) []byte {
	var buf bytes.Buffer
	offsets := make([]int, 0, n+2)

	buf.WriteString("%PDF-1.4\n")

	offsets = append(offsets, buf.Len())
	buf.WriteString("1 0 obj\n<< /Type /Catalog /Pages 2 0 R >>\nendobj\n")

	kids := make([]string, n)
	for i := range kids {
		kids[i] = fmt.Sprintf("%d 0 R", i+3)
	}
	offsets = append(offsets, buf.Len())
	fmt.Fprintf(&buf, "2 0 obj\n<< /Type /Pages /Kids [%s] /Count %d >>\nendobj\n", strings.Join(kids, " "), n)

	for i := 0; i < n; i++ {
		offsets = append(offsets, buf.Len())
		fmt.Fprintf(&buf, "%d 0 obj\n<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Resources << >> >>\nendobj\n", i+3)
	}

	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", len(offsets)+1)
	buf.WriteString("0000000000 65535 f \n")
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(offsets)+1, xref)
	return buf.Bytes()
}

func pageCount(t *testing.T, data []byte) int {
	t.Helper()
	n, err := api.PageCount(bytes.NewReader(data), model.NewDefaultConfiguration())
	require.NoError(t, err)
	return n
}

func TestSplitBytes(t *testing.T) {
	s := NewSplitter()
	doc := buildPDF(7)
	require.Equal(t, 7, pageCount(t, doc))

	pages, err := s.SplitBytes(context.Background(), doc, DefaultPages)
	require.NoError(t, err)
	require.Len(t, pages, 5)

	for i, p := range pages {
		assert.Equal(t, DefaultPages[i], p.Number)
		assert.True(t, bytes.HasPrefix(p.Data, []byte("%PDF")))
		assert.Equal(t, 1, pageCount(t, p.Data), "page %d is a standalone one-page document", p.Number)
	}
}

func TestSplitBytes_RequestOrder(t *testing.T) {
	pages, err := NewSplitter().SplitBytes(context.Background(), buildPDF(4), []int{4, 1, 2})
	require.NoError(t, err)

	var got []int
	for _, p := range pages {
		got = append(got, p.Number)
	}
	assert.Equal(t, []int{4, 1, 2}, got)
}

func TestSplitBytes_OutOfRangeSkipped(t *testing.T) {
	pages, err := NewSplitter().SplitBytes(context.Background(), buildPDF(3), []int{1, 3, 5, 6, 7})
	require.NoError(t, err)
	require.Len(t, pages, 2)
	assert.Equal(t, 1, pages[0].Number)
	assert.Equal(t, 3, pages[1].Number)
}

func TestSplitBytes_NoPageInRange(t *testing.T) {
	_, err := NewSplitter().SplitBytes(context.Background(), buildPDF(2), []int{5, 6})
	assert.ErrorIs(t, err, types.ErrSplit)
}

func TestSplitBytes_Garbage(t *testing.T) {
	_, err := NewSplitter().SplitBytes(context.Background(), []byte("this is not a pdf"), DefaultPages)
	assert.ErrorIs(t, err, types.ErrSplit)
}

func TestSplitBytes_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewSplitter().SplitBytes(ctx, buildPDF(3), []int{1})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDownloadAndSplit(t *testing.T) {
	doc := buildPDF(7)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/zoom-1234.pdf":
			w.Header().Set("Content-Type", "application/pdf")
			_, _ = w.Write(doc)
		case "/slow.pdf":
			time.Sleep(200 * time.Millisecond)
			_, _ = w.Write(doc)
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	t.Run("success", func(t *testing.T) {
		s := NewSplitter(WithHTTPClient(server.Client()))
		pages, err := s.DownloadAndSplit(context.Background(), server.URL+"/zoom-1234.pdf", []int{1, 3})
		require.NoError(t, err)
		require.Len(t, pages, 2)
		assert.Equal(t, 3, pages[1].Number)
	})

	t.Run("not found", func(t *testing.T) {
		s := NewSplitter()
		_, err := s.DownloadAndSplit(context.Background(), server.URL+"/missing.pdf", DefaultPages)
		assert.ErrorIs(t, err, types.ErrDownload)
		assert.Contains(t, err.Error(), "404")
	})

	t.Run("timeout", func(t *testing.T) {
		s := NewSplitter(WithTimeout(50 * time.Millisecond))
		_, err := s.DownloadAndSplit(context.Background(), server.URL+"/slow.pdf", DefaultPages)
		assert.ErrorIs(t, err, types.ErrDownload)
	})

	t.Run("too large", func(t *testing.T) {
		s := NewSplitter(WithMaxBytes(16))
		_, err := s.DownloadAndSplit(context.Background(), server.URL+"/zoom-1234.pdf", DefaultPages)
		assert.ErrorIs(t, err, types.ErrDownload)
	})

	t.Run("unreachable", func(t *testing.T) {
		s := NewSplitter()
		_, err := s.DownloadAndSplit(context.Background(), "http://127.0.0.1:1/x.pdf", DefaultPages)
		assert.ErrorIs(t, err, types.ErrDownload)
	})
}

func TestDownloadAndSplit_LocalFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "1234.pdf")
	require.NoError(t, os.WriteFile(path, buildPDF(3), 0o600))

	pages, err := NewSplitter().DownloadAndSplit(context.Background(), "file://"+path, []int{1, 3})
	require.NoError(t, err)
	require.Len(t, pages, 2)
	assert.Equal(t, 3, pages[1].Number)

	_, err = NewSplitter().Download(context.Background(), "file://"+filepath.Join(t.TempDir(), "missing.pdf"))
	assert.ErrorIs(t, err, types.ErrDownload)

	_, err = NewSplitter(WithMaxBytes(10)).Download(context.Background(), "file://"+path)
	assert.ErrorIs(t, err, types.ErrDownload)
}

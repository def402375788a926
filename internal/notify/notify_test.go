package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mendoc/zoomchat/internal/logging"
	"github.com/mendoc/zoomchat/pkg/types"
)

func sampleStats() *types.ExtractionRunStats {
	return &types.ExtractionRunStats{
		RunID:       "run-1",
		Publication: types.PublicationInfo{Number: "1234", Period: "du 10 au 16 mars", PDFURL: "https://example.com/1234.pdf"},
		Extraction: types.ExtractionStats{
			TotalPages:    5,
			PagesSuccess:  4,
			PagesErrors:   1,
			TotalListings: 40,
			Errors:        []types.PageFailure{{PageNumber: 6, Error: "model overloaded"}},
		},
		Listings: types.ListingStats{
			TotalExtracted:      40,
			WithoutReference:    2,
			Inserted:            35,
			Duplicates:          3,
			EmbeddingsGenerated: 35,
			TotalInPublication:  35,
		},
		Duration: 42 * time.Second,
	}
}

func TestRunStatus(t *testing.T) {
	tests := []struct {
		name string
		ex   types.ExtractionStats
		skip bool
		want Status
	}{
		{"all pages ok", types.ExtractionStats{TotalPages: 5, PagesSuccess: 5, TotalListings: 10}, false, StatusSuccess},
		{"some pages failed", types.ExtractionStats{TotalPages: 5, PagesSuccess: 4, PagesErrors: 1, TotalListings: 10}, false, StatusPartialSuccess},
		{"every page failed", types.ExtractionStats{TotalPages: 5, PagesErrors: 5}, false, StatusCompleteFailure},
		{"nothing extracted", types.ExtractionStats{TotalPages: 5, PagesSuccess: 5}, false, StatusCompleteFailure},
		{"skipped", types.ExtractionStats{}, true, StatusSkipped},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, RunStatus(&types.ExtractionRunStats{Extraction: tt.ex, Skipped: tt.skip}))
		})
	}
}

func TestFormatRun(t *testing.T) {
	msg := FormatRun(sampleStats())

	assert.Contains(t, msg, "Extraction partielle")
	assert.Contains(t, msg, "Parution n°1234 (du 10 au 16 mars)")
	assert.Contains(t, msg, "Pages : 4/5 réussies, 1 en échec")
	assert.Contains(t, msg, "page 6 : model overloaded")
	assert.Contains(t, msg, "Enregistrées : 35, doublons : 3, sans référence : 2")
	assert.Contains(t, msg, "Embeddings générés : 35")
	assert.Contains(t, msg, "Durée : 42s")

	skipped := sampleStats()
	skipped.Skipped = true
	msg = FormatRun(skipped)
	assert.Contains(t, msg, "déjà effectuée")
	assert.NotContains(t, msg, "Pages :")
}

type countingReporter struct {
	runs, failures int
	err            error
}

func (c *countingReporter) ReportRun(context.Context, *types.ExtractionRunStats) error {
	c.runs++
	return c.err
}

func (c *countingReporter) ReportFailure(context.Context, string, error) error {
	c.failures++
	return c.err
}

func TestMultiReporter(t *testing.T) {
	ok := &countingReporter{}
	broken := &countingReporter{err: errors.New("down")}
	multi := MultiReporter{ok, broken, NewLogReporter(logging.Discard())}

	err := multi.ReportRun(context.Background(), sampleStats())
	assert.EqualError(t, err, "down")
	assert.Equal(t, 1, ok.runs)
	assert.Equal(t, 1, broken.runs)

	err = multi.ReportFailure(context.Background(), "1234", errors.New("download failed"))
	assert.Error(t, err)
	assert.Equal(t, 1, ok.failures)
}

func TestTelegramReporter(t *testing.T) {
	var got sendMessageRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/botTOKEN/sendMessage", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"ok":true,"result":{}}`))
	}))
	defer server.Close()

	reporter, err := NewTelegramReporter("TOKEN", "42", time.Second, logging.Discard(), WithTelegramAPI(server.URL))
	require.NoError(t, err)

	require.NoError(t, reporter.ReportRun(context.Background(), sampleStats()))
	assert.Equal(t, "42", got.ChatID)
	assert.Contains(t, got.Text, "Parution n°1234")
	assert.True(t, got.DisableWebPagePreview)

	require.NoError(t, reporter.ReportFailure(context.Background(), "1235", types.ErrDownload))
	assert.Contains(t, got.Text, "1235")
	assert.Contains(t, got.Text, "download failed")
}

func TestTelegramReporter_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"ok":false,"description":"Bad Request: chat not found"}`))
	}))
	defer server.Close()

	reporter, err := NewTelegramReporter("T", "1", time.Second, nil, WithTelegramAPI(server.URL))
	require.NoError(t, err)

	err = reporter.ReportRun(context.Background(), sampleStats())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chat not found")
	assert.Contains(t, err.Error(), "400")
}

func TestNewTelegramReporter_NotConfigured(t *testing.T) {
	_, err := NewTelegramReporter("", "1", 0, nil)
	assert.ErrorIs(t, err, ErrTelegramNotConfigured)
	_, err = NewTelegramReporter("t", "", 0, nil)
	assert.ErrorIs(t, err, ErrTelegramNotConfigured)
}

func TestPublicationExtractedEvent(t *testing.T) {
	now := time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)
	stats := sampleStats()
	stats.ForceExtract = true

	raw, err := json.Marshal(NewPublicationExtractedEvent(stats, now))
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, "run-1", decoded["run_id"])
	assert.Equal(t, float64(35), decoded["inserted"])
	assert.Equal(t, true, decoded["force_extract"])
	assert.Equal(t, "1234", decoded["publication"].(map[string]interface{})["number"])
}

func TestNopEvents(t *testing.T) {
	var events Events = NopEvents{}
	assert.NoError(t, events.PublicationExtracted(context.Background(), sampleStats()))
	assert.NoError(t, events.Close())
}

func TestNATSEvents_Integration(t *testing.T) {
	url := os.Getenv("ZOOMCHAT_TEST_NATS_URL")
	if url == "" {
		t.Skip("ZOOMCHAT_TEST_NATS_URL not set")
	}

	ctx := context.Background()
	events, err := NewNATSEvents(ctx, url, "ZOOMCHAT_TEST", "zoomchat.test.extracted", logging.Discard())
	require.NoError(t, err)
	defer events.Close()

	require.NoError(t, events.PublicationExtracted(ctx, sampleStats()))
}

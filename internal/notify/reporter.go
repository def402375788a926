// Package notify delivers extraction run reports to administrators and
// publishes run events for downstream delivery.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mendoc/zoomchat/internal/logging"
	"github.com/mendoc/zoomchat/pkg/types"
)

// Reporter receives the outcome of extraction runs
type Reporter interface {
	ReportRun(ctx context.Context, stats *types.ExtractionRunStats) error
	ReportFailure(ctx context.Context, number string, err error) error
}

// Status summarizes a run for display
type Status string

const (
	StatusSuccess         Status = "success"
	StatusPartialSuccess  Status = "partial_success"
	StatusCompleteFailure Status = "complete_failure"
	StatusSkipped         Status = "skipped"
)

// RunStatus classifies a run. A run where every page failed, or where pages
// were read but nothing came out, is a complete failure.
func RunStatus(stats *types.ExtractionRunStats) Status {
	ex := stats.Extraction
	switch {
	case stats.Skipped:
		return StatusSkipped
	case ex.TotalPages > 0 && (ex.PagesErrors == ex.TotalPages || ex.TotalListings == 0):
		return StatusCompleteFailure
	case ex.PagesErrors > 0:
		return StatusPartialSuccess
	default:
		return StatusSuccess
	}
}

var statusTitles = map[Status]string{
	StatusSuccess:         "✅ Extraction terminée",
	StatusPartialSuccess:  "⚠️ Extraction partielle",
	StatusCompleteFailure: "❌ Échec de l'extraction",
	StatusSkipped:         "ℹ️ Extraction déjà effectuée",
}

// FormatRun renders the plain-text admin summary of a run
func FormatRun(stats *types.ExtractionRunStats) string {
	var b strings.Builder
	ex := stats.Extraction
	ls := stats.Listings

	fmt.Fprintf(&b, "%s\n\n", statusTitles[RunStatus(stats)])
	fmt.Fprintf(&b, "Parution n°%s", stats.Publication.Number)
	if stats.Publication.Period != "" {
		fmt.Fprintf(&b, " (%s)", stats.Publication.Period)
	}
	b.WriteString("\n")
	if stats.Publication.PDFURL != "" {
		fmt.Fprintf(&b, "%s\n", stats.Publication.PDFURL)
	}

	if !stats.Skipped {
		fmt.Fprintf(&b, "\nPages : %d/%d réussies", ex.PagesSuccess, ex.TotalPages)
		if ex.PagesErrors > 0 {
			fmt.Fprintf(&b, ", %d en échec", ex.PagesErrors)
		}
		b.WriteString("\n")
		for _, f := range ex.Errors {
			fmt.Fprintf(&b, "  • page %d : %s\n", f.PageNumber, f.Error)
		}
		fmt.Fprintf(&b, "Annonces extraites : %d\n", ls.TotalExtracted)
		fmt.Fprintf(&b, "Enregistrées : %d, doublons : %d, sans référence : %d", ls.Inserted, ls.Duplicates, ls.WithoutReference)
		if ls.InsertFailures > 0 {
			fmt.Fprintf(&b, ", échecs : %d", ls.InsertFailures)
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "Embeddings générés : %d", ls.EmbeddingsGenerated)
	if ls.EmbeddingFailures > 0 {
		fmt.Fprintf(&b, " (%d échecs)", ls.EmbeddingFailures)
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, "Total dans la parution : %d\n", ls.TotalInPublication)
	fmt.Fprintf(&b, "Durée : %s", stats.Duration.Round(100*time.Millisecond))
	return b.String()
}

// FormatFailure renders the admin message for a failed run
func FormatFailure(number string, err error) string {
	return fmt.Sprintf("%s\n\nParution n°%s\nErreur : %v", statusTitles[StatusCompleteFailure], number, err)
}

// LogReporter writes run reports to the log
type LogReporter struct {
	logger *slog.Logger
}

// NewLogReporter creates a LogReporter
func NewLogReporter(logger *slog.Logger) *LogReporter {
	return &LogReporter{logger: logging.Component(logger, "report")}
}

func (r *LogReporter) ReportRun(_ context.Context, stats *types.ExtractionRunStats) error {
	r.logger.Info("extraction run report",
		"run_id", stats.RunID,
		"publication", stats.Publication.Number,
		"status", RunStatus(stats),
		"skipped", stats.Skipped,
		"pages_success", stats.Extraction.PagesSuccess,
		"pages_errors", stats.Extraction.PagesErrors,
		"extracted", stats.Listings.TotalExtracted,
		"inserted", stats.Listings.Inserted,
		"duplicates", stats.Listings.Duplicates,
		"without_reference", stats.Listings.WithoutReference,
		"insert_failures", stats.Listings.InsertFailures,
		"embeddings", stats.Listings.EmbeddingsGenerated,
		"embedding_failures", stats.Listings.EmbeddingFailures,
		"total", stats.Listings.TotalInPublication,
		"duration", stats.Duration)
	return nil
}

func (r *LogReporter) ReportFailure(_ context.Context, number string, err error) error {
	r.logger.Error("extraction run failed", "publication", number, "error", err)
	return nil
}

// MultiReporter fans a report out to several reporters and joins their errors
type MultiReporter []Reporter

func (m MultiReporter) ReportRun(ctx context.Context, stats *types.ExtractionRunStats) error {
	var errs []error
	for _, r := range m {
		if err := r.ReportRun(ctx, stats); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m MultiReporter) ReportFailure(ctx context.Context, number string, err error) error {
	var errs []error
	for _, r := range m {
		if rerr := r.ReportFailure(ctx, number, err); rerr != nil {
			errs = append(errs, rerr)
		}
	}
	return errors.Join(errs...)
}

package types

import "time"

// PageFailure is a page that exhausted its extraction attempts.
type PageFailure struct {
	PageNumber int    `json:"page_number"`
	Error      string `json:"error"`
}

// PageDetail describes one successfully extracted page.
type PageDetail struct {
	PageNumber int           `json:"page_number"`
	Count      int           `json:"count"`
	Duration   time.Duration `json:"duration"`
	WorkerID   int           `json:"worker_id"`
}

// ExtractionStats is produced by the worker pool.
type ExtractionStats struct {
	TotalPages    int           `json:"total_pages"`
	PagesSuccess  int           `json:"pages_success"`
	PagesErrors   int           `json:"pages_errors"`
	TotalListings int           `json:"total_listings"`
	Errors        []PageFailure `json:"errors"`
	PageDetails   []PageDetail  `json:"page_details"` // Sorted by page number
}

// ListingStats counts what happened to the extracted listings.
type ListingStats struct {
	TotalExtracted      int `json:"total_extracted"`
	WithoutReference    int `json:"without_reference"`
	Inserted            int `json:"inserted"`
	Duplicates          int `json:"duplicates"`
	InsertFailures      int `json:"insert_failures"`
	EmbeddingsGenerated int `json:"embeddings_generated"`
	EmbeddingFailures   int `json:"embedding_failures"`
	TotalInPublication  int `json:"total_in_publication"`
}

// PublicationInfo identifies the publication a run worked on.
type PublicationInfo struct {
	Number string `json:"number"`
	Period string `json:"period"`
	PDFURL string `json:"pdf_url"`
}

// ExtractionRunStats is the report of one orchestrator invocation. It is never persisted.
type ExtractionRunStats struct {
	RunID        string          `json:"run_id"`
	Publication  PublicationInfo `json:"publication"`
	ForceExtract bool            `json:"force_extract"`
	Skipped      bool            `json:"skipped"` // Extraction short-circuited, backfill still ran
	Extraction   ExtractionStats `json:"extraction"`
	Listings     ListingStats    `json:"listings"`
	Duration     time.Duration   `json:"duration"`
}

// HasFailures reports whether any page or item failed during the run.
func (s *ExtractionRunStats) HasFailures() bool {
	return s.Extraction.PagesErrors > 0 || s.Listings.InsertFailures > 0 || s.Listings.EmbeddingFailures > 0
}

package types

import (
	"errors"
	"fmt"
)

// Error taxonomy shared by the extraction and search pipelines.
// Callers match with errors.Is; producers wrap with fmt.Errorf("%w: ...").
var (
	// Fatal for an extraction run
	ErrDownload = errors.New("download failed")
	ErrSplit    = errors.New("split failed")
	ErrNotFound = errors.New("not found")

	// Isolated per page or per item
	ErrPageExtraction = errors.New("page extraction failed")
	ErrValidation     = errors.New("validation failed")
	ErrPersistence    = errors.New("persistence failed")
	ErrEmbedding      = errors.New("embedding failed")

	// Search result errors
	ErrInvalidListingID      = errors.New("invalid listing ID")
	ErrInvalidRank           = errors.New("rank must be >= 1")
	ErrInvalidRelevanceScore = errors.New("relevance score must be >= 0")
	ErrEmptyMessage          = errors.New("message cannot be empty")
)

// PageError records a page whose extraction failed after every attempt.
type PageError struct {
	PageNumber int
	Attempts   int
	Err        error
}

func (e *PageError) Error() string {
	return fmt.Sprintf("page %d: %v after %d attempt(s): %v", e.PageNumber, ErrPageExtraction, e.Attempts, e.Err)
}

// Unwrap exposes both the sentinel and the underlying cause.
func (e *PageError) Unwrap() []error {
	return []error{ErrPageExtraction, e.Err}
}

// Validationf builds an ErrValidation with a formatted reason.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

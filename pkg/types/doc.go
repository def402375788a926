// Package types provides the domain types shared across zoomchat.
//
// A Publication is one periodic issue of the classifieds document. Its
// Listings are extracted page by page from the PDF; each carries a global
// Reference used for deduplication, and an Embedding once backfilled.
//
//	pub := &types.Publication{Number: "1234", PDFURL: url}
//	if err := pub.Validate(); err != nil {
//	    return err // wraps ErrValidation
//	}
//
// RawListing is what the extraction model returns. Fields are FlexString so a
// number or null in the model output still decodes; Clean trims them into a
// Listing.
//
// # Errors
//
// Every layer wraps one of the sentinels in errors.go so callers can branch
// with errors.Is: ErrDownload and ErrSplit for document problems,
// ErrPageExtraction for a page that exhausted its retries, ErrValidation for
// bad input, ErrNotFound, ErrPersistence and ErrEmbedding.
//
// # Run Statistics
//
// ExtractionRunStats reports one orchestrator run. It is sent to the
// reporters and published as an event, never stored.
package types

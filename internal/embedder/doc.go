// Package embedder turns listings and search queries into fixed-dimension vectors.
//
// A Provider is the external embedding capability (Gemini REST, any
// OpenAI-compatible host through langchaingo, or a local hash stub). The
// Generator sits in front of it and adds:
//
//   - input validation (blank text is an ErrValidation)
//   - a per-call timeout and a short retry on overload
//   - Truncate, the explicit reduction to the configured dimension
//   - an LRU cache and an optional BadgerDB cache that survives restarts
//
// # Composite text
//
// Listings are embedded through CreateCompositeText, which concatenates the
// structured fields before a bounded slice of the description:
//
//	Immobilier Location Villa 4 chambres à Libreville prix 500 000 FCFA Belle villa...
//
// # Batches
//
// GenerateBatch is sequential on purpose and waits the batch delay between
// calls. Failures are recorded per item:
//
//	items := gen.GenerateBatch(ctx, listings, func(done, total int, item embedder.BatchItem) {
//	    log.Printf("%d/%d %s err=%v", done, total, item.Reference, item.Err)
//	})
package embedder

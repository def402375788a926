// Package searcher answers free-text queries over the listing corpus.
//
// A search embeds the query, asks the store for a hybrid ranking
// (vector similarity fused with the lexical index), optionally lets an LLM
// drop off-topic hits, and renders each hit for the delivery channel.
//
//	s := searcher.NewSearcher(store, generator,
//	    searcher.WithRelevanceFilter(filter))
//
//	resp, err := s.Search(ctx, searcher.SearchRequest{
//	    Query:    "villa à louer Akanda",
//	    UseCache: true,
//	})
//	if errors.Is(err, types.ErrValidation) {
//	    // empty or too long, nothing was called
//	}
//	for _, r := range resp.Results {
//	    fmt.Println(r.Message)
//	}
//
// # Scoring
//
// combined = vector*VectorWeight + fts*FTSWeight, with 0.6 and 0.4 by
// default. A listing found by only one side scores 0 on the other. Hits
// under MinScore (0.3 unless the request sets one, 0 keeps everything) are
// dropped.
//
// # Relevance Filter
//
// The filter is skipped when disabled or when fewer than MinResults hits come
// back. A hit survives when the classifier accepts it or when its vector score
// is at least ScoreOverride. Classifier errors and verdict count mismatches
// keep every hit.
//
// # Caching
//
// Responses are kept in an LRU with a TTL. InvalidateCache purges it; the
// extraction orchestrator calls it after every run that changed the corpus.
// A search that was in flight during an invalidation does not cache its
// response.
package searcher

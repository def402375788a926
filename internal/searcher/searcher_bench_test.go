package searcher

import (
	"context"
	"fmt"
	"testing"

	"github.com/mendoc/zoomchat/internal/embedder"
	"github.com/mendoc/zoomchat/internal/storage"
	"github.com/mendoc/zoomchat/pkg/types"
)

var benchCategories = []string{"Immobilier", "Automobile", "Emploi", "Services", "Divers"}

// setupBenchSearcher loads n embedded listings into an in-memory store
func setupBenchSearcher(b *testing.B, n int) *Searcher {
	b.Helper()
	ctx := context.Background()

	store, err := storage.NewSQLiteStorage(":memory:")
	if err != nil {
		b.Fatalf("open storage: %v", err)
	}
	b.Cleanup(func() { _ = store.Close() })

	pub := &types.Publication{Number: "9000", PDFURL: "https://example.com/9000.pdf"}
	if err := store.UpsertPublication(ctx, pub); err != nil {
		b.Fatalf("upsert publication: %v", err)
	}

	gen, err := embedder.NewGenerator(embedder.NewLocalProvider(), 64, embedder.WithBatchDelay(0))
	if err != nil {
		b.Fatalf("generator: %v", err)
	}

	listings := make([]*types.Listing, n)
	for i := range listings {
		listings[i] = &types.Listing{
			PublicationID: pub.ID,
			Reference:     fmt.Sprintf("B%05d", i),
			Category:      benchCategories[i%len(benchCategories)],
			Title:         fmt.Sprintf("Annonce %d villa voiture chauffeur", i),
			Description:   fmt.Sprintf("Description numéro %d, très bon état, prix à débattre", i),
			Location:      "Libreville",
		}
	}
	if _, err := store.BulkInsertListings(ctx, listings); err != nil {
		b.Fatalf("insert: %v", err)
	}

	updates := make([]storage.EmbeddingUpdate, 0, n)
	for _, item := range gen.GenerateBatch(ctx, listings, nil) {
		updates = append(updates, storage.EmbeddingUpdate{ListingID: item.ListingID, Vector: item.Vector})
	}
	if _, err := store.BulkUpdateEmbeddings(ctx, updates); err != nil {
		b.Fatalf("update embeddings: %v", err)
	}

	return NewSearcher(store, gen)
}

func BenchmarkSearch(b *testing.B) {
	for _, n := range []int{100, 1000} {
		b.Run(fmt.Sprintf("listings=%d", n), func(b *testing.B) {
			s := setupBenchSearcher(b, n)
			ctx := context.Background()
			req := SearchRequest{Query: "villa Libreville", MinScore: minScore(0.01)}

			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				if _, err := s.Search(ctx, req); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

func BenchmarkSearch_Cached(b *testing.B) {
	s := setupBenchSearcher(b, 100)
	ctx := context.Background()
	req := SearchRequest{Query: "villa Libreville", MinScore: minScore(0.01), UseCache: true}
	if _, err := s.Search(ctx, req); err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := s.Search(ctx, req); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkFormatResults(b *testing.B) {
	hits := make([]storage.ScoredListing, 10)
	for i := range hits {
		hits[i] = hit(int64(i+1), "Villa", "Immobilier", 0.8, 0.4)
		hits[i].Description = "Belle villa avec piscine, jardin et garage, quartier calme"
		hits[i].Contact = "Tél. 077 00 00 00"
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = FormatResults(hits)
	}
}

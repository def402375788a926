package embedder

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/mendoc/zoomchat/pkg/types"
)

func BenchmarkComputeHash(b *testing.B) {
	texts := []string{
		"short",
		"Immobilier Location Villa 4 chambres à Libreville",
		strings.Repeat("annonce ", 80),
	}

	for _, text := range texts {
		b.Run(fmt.Sprintf("len=%d", len(text)), func(b *testing.B) {
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				_ = ComputeHash(text)
			}
		})
	}
}

func BenchmarkCreateCompositeText(b *testing.B) {
	l := &types.Listing{
		Category:    "Immobilier",
		Subcategory: "Vente",
		Title:       "Terrain titré 1000 m²",
		Location:    "Akanda",
		Price:       "25 000 000 FCFA",
		Description: strings.Repeat("Terrain plat, accès facile. ", 40),
	}

	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_ = CreateCompositeText(l)
	}
}

func BenchmarkGenerateEmbedding_Cached(b *testing.B) {
	gen, err := NewGenerator(NewLocalProvider(), 1536, WithCache(NewCache(100)))
	if err != nil {
		b.Fatal(err)
	}
	ctx := context.Background()
	if _, err := gen.GenerateEmbedding(ctx, "villa"); err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		if _, err := gen.GenerateEmbedding(ctx, "villa"); err != nil {
			b.Fatal(err)
		}
	}
}

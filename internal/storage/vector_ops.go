package storage

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

// ftsTitleWeight boosts title matches in bm25; the other columns keep weight 1
const ftsTitleWeight = 2.0

// searchVector ranks listings that carry an embedding by cosine similarity
func searchVector(ctx context.Context, db *sql.DB, queryVector []float32, minScore float64, limit int) ([]VectorResult, error) {
	if limit <= 0 {
		return []VectorResult{}, nil
	}
	if VectorExtensionAvailable {
		return searchVectorOptimized(ctx, db, queryVector, minScore, limit)
	}
	return searchVectorFallback(ctx, db, queryVector, minScore, limit)
}

// searchVectorOptimized lets sqlite-vec compute distances in SQL
func searchVectorOptimized(ctx context.Context, db *sql.DB, queryVector []float32, minScore float64, limit int) ([]VectorResult, error) {
	blob := serializeVector(queryVector)

	// vec_distance_cosine returns a distance, lower is better
	query := `
		SELECT id, 1.0 - vec_distance_cosine(embedding, ?) AS similarity
		FROM listings
		WHERE embedding IS NOT NULL
		  AND (1.0 - vec_distance_cosine(embedding, ?)) >= ?
		ORDER BY similarity DESC, id ASC
		LIMIT ?
	`
	rows, err := db.QueryContext(ctx, query, blob, blob, minScore, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to execute vector search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	results := make([]VectorResult, 0, limit)
	for rows.Next() {
		var r VectorResult
		if err := rows.Scan(&r.ListingID, &r.SimilarityScore); err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// searchVectorFallback scores every stored vector in Go (purego builds)
func searchVectorFallback(ctx context.Context, db *sql.DB, queryVector []float32, minScore float64, limit int) ([]VectorResult, error) {
	rows, err := db.QueryContext(ctx, `SELECT id, embedding FROM listings WHERE embedding IS NOT NULL`)
	if err != nil {
		return nil, fmt.Errorf("failed to query embeddings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	results := make([]VectorResult, 0, limit)
	for rows.Next() {
		var (
			id   int64
			blob []byte
		)
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, err
		}
		vector := deserializeVector(blob)
		if len(vector) != len(queryVector) {
			continue // dimension mismatch
		}
		score := cosineSimilarity(queryVector, vector)
		if score < minScore {
			continue
		}
		results = append(results, VectorResult{ListingID: id, SimilarityScore: score})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].SimilarityScore == results[j].SimilarityScore {
			return results[i].ListingID < results[j].ListingID
		}
		return results[i].SimilarityScore > results[j].SimilarityScore
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// searchText ranks listings by bm25 over the FTS5 index.
// A query with no usable term yields no candidates rather than an error.
func searchText(ctx context.Context, db *sql.DB, text string, limit int) ([]TextResult, error) {
	match := buildFTSQuery(text)
	if match == "" || limit <= 0 {
		return []TextResult{}, nil
	}

	query := fmt.Sprintf(`
		SELECT rowid, bm25(listings_fts, %.1f, 1.0, 1.0, 1.0) AS score
		FROM listings_fts
		WHERE listings_fts MATCH ?
		ORDER BY score ASC, rowid ASC
		LIMIT ?
	`, ftsTitleWeight)

	rows, err := db.QueryContext(ctx, query, match, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to execute FTS search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	results := make([]TextResult, 0, limit)
	for rows.Next() {
		var (
			id   int64
			bm25 float64
		)
		if err := rows.Scan(&id, &bm25); err != nil {
			return nil, err
		}
		results = append(results, TextResult{ListingID: id, Score: normalizeBM25(bm25)})
	}
	return results, rows.Err()
}

// normalizeBM25 maps FTS5's bm25 (negative, lower is better) onto [0,1), higher is better
func normalizeBM25(bm25 float64) float64 {
	s := -bm25
	if s <= 0 {
		return 0
	}
	return s / (1 + s)
}

// frenchStopwords are dropped from lexical queries
var frenchStopwords = map[string]struct{}{
	"le": {}, "la": {}, "les": {}, "un": {}, "une": {}, "des": {}, "de": {}, "du": {},
	"et": {}, "ou": {}, "en": {}, "au": {}, "aux": {}, "pour": {}, "par": {}, "sur": {},
	"avec": {}, "sans": {}, "dans": {}, "qui": {}, "que": {}, "je": {}, "cherche": {},
	"veux": {}, "est": {}, "sont": {}, "à": {}, "mon": {}, "ma": {}, "mes": {},
}

// buildFTSQuery turns free text into a safe FTS5 MATCH expression.
// Each surviving term is quoted and prefix-matched; terms are ANDed.
func buildFTSQuery(text string) string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-' && r != '\''
	})

	terms := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.Trim(f, "-'")
		if utf8.RuneCountInString(f) < 2 {
			continue
		}
		if _, stop := frenchStopwords[f]; stop {
			continue
		}
		terms = append(terms, `"`+strings.ReplaceAll(f, `"`, `""`)+`"*`)
	}
	return strings.Join(terms, " AND ")
}

// serializeVector converts a float32 slice to a byte blob (little-endian)
func serializeVector(vector []float32) []byte {
	blob := make([]byte, len(vector)*4)
	for i, v := range vector {
		binary.LittleEndian.PutUint32(blob[i*4:], math.Float32bits(v))
	}
	return blob
}

// deserializeVector converts a byte blob back to a float32 slice
func deserializeVector(blob []byte) []float32 {
	vector := make([]float32, len(blob)/4)
	for i := range vector {
		vector[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return vector
}

// cosineSimilarity returns 0 for mismatched lengths or a zero vector
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// CosineSimilarity is exported for the Postgres parity tests and tooling
func CosineSimilarity(a, b []float32) float64 {
	return cosineSimilarity(a, b)
}

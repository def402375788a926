package storage

import (
	"context"
	"os"
	"testing"

	sq "github.com/Masterminds/squirrel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mendoc/zoomchat/pkg/types"
)

func TestVectorLiteral(t *testing.T) {
	v := []float32{0.5, -1, 0.125}
	lit := formatVectorLiteral(v)
	assert.Equal(t, "[0.5,-1,0.125]", lit)

	back, err := parseVectorLiteral(lit)
	require.NoError(t, err)
	assert.Equal(t, v, back)

	empty, err := parseVectorLiteral("[]")
	require.NoError(t, err)
	assert.Empty(t, empty)

	_, err = parseVectorLiteral("0.5,1")
	assert.Error(t, err)
	_, err = parseVectorLiteral("[a,b]")
	assert.Error(t, err)
}

func TestPostgresStatements(t *testing.T) {
	sb := sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

	query, args, err := sb.Update("listings").
		Set("embedding", sq.Expr("?::vector", "[1,2]")).
		Where(sq.Eq{"id": int64(5)}).
		ToSql()
	require.NoError(t, err)
	assert.Contains(t, query, "$1::vector")
	assert.Contains(t, query, "WHERE id = $2")
	assert.Equal(t, []interface{}{"[1,2]", int64(5)}, args)

	query, _, err = sb.Select("id").From("listings").
		Where(sq.Eq{"publication_id": int64(1), "embedding": nil}).ToSql()
	require.NoError(t, err)
	assert.Contains(t, query, "embedding IS NULL")
	assert.Contains(t, query, "publication_id = $1")
}

// Postgres integration tests need a database with the pgvector extension
func setupPostgres(t *testing.T) *PostgresStorage {
	t.Helper()
	dsn := os.Getenv("ZOOMCHAT_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("ZOOMCHAT_TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	s, err := NewPostgresStorage(ctx, dsn, PostgresOptions{MaxConns: 4})
	require.NoError(t, err)
	t.Cleanup(func() {
		_, _ = s.pool.Exec(ctx, "TRUNCATE publications RESTART IDENTITY CASCADE")
		_ = s.Close()
	})
	_, err = s.pool.Exec(ctx, "TRUNCATE publications RESTART IDENTITY CASCADE")
	require.NoError(t, err)
	return s
}

func pgVector(hot int) []float32 {
	v := make([]float32, 1536)
	v[hot] = 1
	return v
}

func TestPostgres_Lifecycle(t *testing.T) {
	s := setupPostgres(t)
	ctx := context.Background()
	assert.Equal(t, "postgres", s.Backend())

	pub := seedPublication(t, s, "PG1")

	res, err := s.BulkInsertListings(ctx, []*types.Listing{
		{PublicationID: pub.ID, Reference: "PG-1", Title: "Voiture Toyota", Embedding: pgVector(0)},
		{PublicationID: pub.ID, Reference: "PG-2", Title: "Appartement"},
		{PublicationID: pub.ID, Reference: "PG-1", Title: "doublon"},
	})
	require.NoError(t, err)
	assert.Len(t, res.Succeeded, 2)
	assert.Equal(t, []string{"PG-1"}, res.Skipped)

	missing, err := s.FindMissingEmbedding(ctx, pub.ID)
	require.NoError(t, err)
	require.Len(t, missing, 1)

	upd, err := s.BulkUpdateEmbeddings(ctx, []EmbeddingUpdate{
		{ListingID: missing[0].ID, Vector: pgVector(1)},
		{ListingID: 999999, Vector: pgVector(2)},
	})
	require.NoError(t, err)
	assert.Len(t, upd.Succeeded, 1)
	assert.Len(t, upd.Failed, 1, "one failing row does not abort the batch")

	got, err := s.GetListing(ctx, missing[0].ID)
	require.NoError(t, err)
	assert.Equal(t, pgVector(1), got.Embedding)

	results, err := s.HybridSearch(ctx, pgVector(0), "voiture", DefaultHybridOptions())
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "PG-1", results[0].Reference)
	assert.Greater(t, results[0].FTSScore, 0.0)

	require.NoError(t, s.DeletePublication(ctx, pub.ID))
	n, err := s.CountListings(ctx, pub.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

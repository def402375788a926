package storage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mendoc/zoomchat/pkg/types"
)

// PostgresStorage implements Storage on PostgreSQL with pgvector and a french tsvector
type PostgresStorage struct {
	pool *pgxpool.Pool
	sb   sq.StatementBuilderType
}

var _ Storage = (*PostgresStorage)(nil)

// PostgresOptions configures the connection pool
type PostgresOptions struct {
	MaxConns int32
	// SimpleProtocol is needed behind transaction-mode poolers such as pgbouncer
	SimpleProtocol bool
}

// NewPostgresStorage connects, pings and applies migrations
func NewPostgresStorage(ctx context.Context, dsn string, opts PostgresOptions) (*PostgresStorage, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database url: %w", err)
	}
	if opts.MaxConns > 0 {
		cfg.MaxConns = opts.MaxConns
	}
	if opts.SimpleProtocol {
		cfg.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := ApplyPostgresMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	return &PostgresStorage{
		pool: pool,
		sb:   sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}, nil
}

// Pool exposes the connection pool for migration tooling
func (s *PostgresStorage) Pool() *pgxpool.Pool {
	return s.pool
}

// Backend implements Storage
func (s *PostgresStorage) Backend() string {
	return "postgres"
}

// Close releases the pool
func (s *PostgresStorage) Close() error {
	s.pool.Close()
	return nil
}

// Publication operations

var pgPublicationColumns = []string{
	"id", "number", "period", "pdf_url", "delivered_file_ref", "published_at", "created_at",
}

func (s *PostgresStorage) getPublication(ctx context.Context, builder sq.SelectBuilder, what string) (*types.Publication, error) {
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}

	var p types.Publication
	err = s.pool.QueryRow(ctx, query, args...).Scan(
		&p.ID, &p.Number, &p.Period, &p.PDFURL, &p.DeliveredFileRef, &p.PublishedAt, &p.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get publication: %w", err)
	}
	return &p, nil
}

func (s *PostgresStorage) GetPublicationByNumber(ctx context.Context, number string) (*types.Publication, error) {
	return s.getPublication(ctx,
		s.sb.Select(pgPublicationColumns...).From("publications").Where(sq.Eq{"number": number}),
		"publication "+number)
}

func (s *PostgresStorage) GetLatestPublication(ctx context.Context) (*types.Publication, error) {
	return s.getPublication(ctx,
		s.sb.Select(pgPublicationColumns...).From("publications").
			OrderBy("COALESCE(published_at, created_at) DESC", "id DESC").Limit(1),
		"latest publication")
}

func (s *PostgresStorage) UpsertPublication(ctx context.Context, p *types.Publication) error {
	if err := p.Validate(); err != nil {
		return err
	}
	query, args, err := s.sb.Insert("publications").
		Columns("number", "period", "pdf_url", "delivered_file_ref", "published_at").
		Values(p.Number, p.Period, p.PDFURL, p.DeliveredFileRef, p.PublishedAt).
		Suffix(`ON CONFLICT (number) DO UPDATE SET
			period = EXCLUDED.period,
			pdf_url = EXCLUDED.pdf_url,
			delivered_file_ref = COALESCE(EXCLUDED.delivered_file_ref, publications.delivered_file_ref),
			published_at = COALESCE(EXCLUDED.published_at, publications.published_at)
			RETURNING id, created_at`).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build upsert: %w", err)
	}

	if err := s.pool.QueryRow(ctx, query, args...).Scan(&p.ID, &p.CreatedAt); err != nil {
		return fmt.Errorf("%w: upsert publication %s: %v", types.ErrPersistence, p.Number, err)
	}
	return nil
}

func (s *PostgresStorage) AttachDeliveredFile(ctx context.Context, number, fileRef string) error {
	query, args, err := s.sb.Update("publications").
		Set("delivered_file_ref", fileRef).
		Where(sq.Eq{"number": number}).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build update: %w", err)
	}
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%w: attach file to %s: %v", types.ErrPersistence, number, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("publication %s: %w", number, ErrNotFound)
	}
	return nil
}

func (s *PostgresStorage) DeletePublication(ctx context.Context, id int64) error {
	query, args, err := s.sb.Delete("publications").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return fmt.Errorf("failed to build delete: %w", err)
	}
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%w: delete publication %d: %v", types.ErrPersistence, id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("publication %d: %w", id, ErrNotFound)
	}
	return nil
}

func (s *PostgresStorage) CountListings(ctx context.Context, publicationID int64) (int, error) {
	query, args, err := s.sb.Select("COUNT(*)").From("listings").
		Where(sq.Eq{"publication_id": publicationID}).ToSql()
	if err != nil {
		return 0, fmt.Errorf("failed to build count: %w", err)
	}
	var n int
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count listings: %w", err)
	}
	return n, nil
}

// Listing operations

var pgListingColumns = []string{
	"id", "publication_id",
	"COALESCE(category, '')", "COALESCE(subcategory, '')", "COALESCE(title, '')",
	"reference", "description",
	"COALESCE(contact, '')", "COALESCE(price, '')", "COALESCE(location, '')",
	"embedding::text", "created_at",
}

func scanPgListing(row pgx.Row) (*types.Listing, error) {
	var (
		l         types.Listing
		embedding *string
	)
	err := row.Scan(&l.ID, &l.PublicationID, &l.Category, &l.Subcategory, &l.Title,
		&l.Reference, &l.Description, &l.Contact, &l.Price, &l.Location, &embedding, &l.CreatedAt)
	if err != nil {
		return nil, err
	}
	if embedding != nil {
		vec, err := parseVectorLiteral(*embedding)
		if err != nil {
			return nil, err
		}
		l.Embedding = vec
	}
	return &l, nil
}

// insertListing returns inserted=false when the reference already exists
func (s *PostgresStorage) insertListing(ctx context.Context, tx pgx.Tx, l *types.Listing) (bool, error) {
	var embedding interface{}
	if l.Embedding != nil {
		embedding = sq.Expr("?::vector", formatVectorLiteral(l.Embedding))
	}

	query, args, err := s.sb.Insert("listings").
		Columns("publication_id", "category", "subcategory", "title", "reference",
			"description", "contact", "price", "location", "embedding").
		Values(l.PublicationID, nullIfEmpty(l.Category), nullIfEmpty(l.Subcategory), nullIfEmpty(l.Title),
			l.Reference, l.Description, nullIfEmpty(l.Contact), nullIfEmpty(l.Price), nullIfEmpty(l.Location),
			embedding).
		Suffix("ON CONFLICT (reference) DO NOTHING RETURNING id, created_at").
		ToSql()
	if err != nil {
		return false, err
	}

	err = tx.QueryRow(ctx, query, args...).Scan(&l.ID, &l.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// withSavepoint runs fn in a nested transaction so one failing item does not abort the batch
func withSavepoint(ctx context.Context, tx pgx.Tx, fn func(sp pgx.Tx) error) error {
	sp, err := tx.Begin(ctx)
	if err != nil {
		return err
	}
	if err := fn(sp); err != nil {
		_ = sp.Rollback(ctx)
		return err
	}
	return sp.Commit(ctx)
}

func (s *PostgresStorage) withTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: begin transaction: %v", types.ErrPersistence, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: commit: %v", types.ErrPersistence, err)
	}
	return nil
}

func (s *PostgresStorage) BulkInsertListings(ctx context.Context, listings []*types.Listing) (*BatchResult, error) {
	result := &BatchResult{}
	if len(listings) == 0 {
		return result, nil
	}

	err := s.withTx(ctx, func(tx pgx.Tx) error {
		for _, l := range listings {
			if !l.HasReference() {
				result.Failed = append(result.Failed, ItemFailure{Key: "", Err: types.Validationf("listing without reference")})
				continue
			}
			var inserted bool
			err := withSavepoint(ctx, tx, func(sp pgx.Tx) error {
				var err error
				inserted, err = s.insertListing(ctx, sp, l)
				return err
			})
			switch {
			case err != nil:
				result.Failed = append(result.Failed, ItemFailure{
					Key: l.Reference,
					Err: fmt.Errorf("%w: insert %s: %v", types.ErrPersistence, l.Reference, err),
				})
			case inserted:
				result.Succeeded = append(result.Succeeded, l.ID)
			default:
				result.Skipped = append(result.Skipped, l.Reference)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *PostgresStorage) FindMissingEmbedding(ctx context.Context, publicationID int64) ([]*types.Listing, error) {
	query, args, err := s.sb.Select(pgListingColumns...).From("listings").
		Where(sq.Eq{"publication_id": publicationID, "embedding": nil}).
		OrderBy("id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}
	return s.queryListings(ctx, query, args...)
}

func (s *PostgresStorage) queryListings(ctx context.Context, query string, args ...interface{}) ([]*types.Listing, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query listings: %w", err)
	}
	defer rows.Close()

	listings := make([]*types.Listing, 0)
	for rows.Next() {
		l, err := scanPgListing(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan listing: %w", err)
		}
		listings = append(listings, l)
	}
	return listings, rows.Err()
}

func (s *PostgresStorage) BulkUpdateEmbeddings(ctx context.Context, updates []EmbeddingUpdate) (*BatchResult, error) {
	result := &BatchResult{}
	if len(updates) == 0 {
		return result, nil
	}

	err := s.withTx(ctx, func(tx pgx.Tx) error {
		for _, u := range updates {
			key := strconv.FormatInt(u.ListingID, 10)
			if u.Vector == nil {
				result.Skipped = append(result.Skipped, key)
				continue
			}
			err := withSavepoint(ctx, tx, func(sp pgx.Tx) error {
				query, args, err := s.sb.Update("listings").
					Set("embedding", sq.Expr("?::vector", formatVectorLiteral(u.Vector))).
					Where(sq.Eq{"id": u.ListingID}).
					ToSql()
				if err != nil {
					return err
				}
				tag, err := sp.Exec(ctx, query, args...)
				if err != nil {
					return err
				}
				if tag.RowsAffected() == 0 {
					return ErrNotFound
				}
				return nil
			})
			if err != nil {
				result.Failed = append(result.Failed, ItemFailure{
					Key: key,
					Err: fmt.Errorf("%w: update embedding %d: %v", types.ErrPersistence, u.ListingID, err),
				})
				continue
			}
			result.Succeeded = append(result.Succeeded, u.ListingID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *PostgresStorage) GetListing(ctx context.Context, id int64) (*types.Listing, error) {
	query, args, err := s.sb.Select(pgListingColumns...).From("listings").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}
	l, err := scanPgListing(s.pool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("listing %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get listing: %w", err)
	}
	return l, nil
}

// Search operations

func (s *PostgresStorage) SearchVector(ctx context.Context, vector []float32, minScore float64, limit int) ([]ScoredListing, error) {
	if len(vector) == 0 {
		return nil, types.Validationf("query vector is empty")
	}
	if limit <= 0 {
		limit = DefaultLimit
	}

	literal := formatVectorLiteral(vector)
	query, args, err := s.sb.Select(pgListingColumns...).
		Column(sq.Expr("1 - (embedding <=> ?::vector) AS vector_score", literal)).
		From("listings").
		Where("embedding IS NOT NULL").
		Where(sq.Expr("1 - (embedding <=> ?::vector) >= ?", literal, minScore)).
		OrderBy("vector_score DESC", "id ASC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute vector search: %w", err)
	}
	defer rows.Close()

	results := make([]ScoredListing, 0, limit)
	for rows.Next() {
		var (
			sl        ScoredListing
			embedding *string
		)
		err := rows.Scan(&sl.ID, &sl.PublicationID, &sl.Category, &sl.Subcategory, &sl.Title,
			&sl.Reference, &sl.Description, &sl.Contact, &sl.Price, &sl.Location, &embedding, &sl.CreatedAt,
			&sl.VectorScore)
		if err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		if embedding != nil {
			if sl.Embedding, err = parseVectorLiteral(*embedding); err != nil {
				return nil, err
			}
		}
		sl.CombinedScore = sl.VectorScore
		results = append(results, sl)
	}
	return results, rows.Err()
}

// hybridSearchSQL runs both candidate searches and the full outer join in one statement
const hybridSearchSQL = `
WITH vector_search AS (
	SELECT id, (1 - (embedding <=> $1::vector)) AS vector_score
	FROM listings
	WHERE embedding IS NOT NULL
	ORDER BY embedding <=> $1::vector
	LIMIT $7
),
fts_search AS (
	SELECT id, ts_rank(search_vector, plainto_tsquery('french', $2)) AS fts_score
	FROM listings
	WHERE search_vector @@ plainto_tsquery('french', $2)
	ORDER BY fts_score DESC
	LIMIT $7
),
combined AS (
	SELECT
		COALESCE(v.id, f.id) AS id,
		COALESCE(v.vector_score, 0) AS vector_score,
		COALESCE(f.fts_score, 0) AS fts_score,
		(COALESCE(v.vector_score, 0) * $3 + COALESCE(f.fts_score, 0) * $4) AS combined_score
	FROM vector_search v
	FULL OUTER JOIN fts_search f ON v.id = f.id
)
SELECT l.id, l.publication_id,
	COALESCE(l.category, ''), COALESCE(l.subcategory, ''), COALESCE(l.title, ''),
	l.reference, l.description,
	COALESCE(l.contact, ''), COALESCE(l.price, ''), COALESCE(l.location, ''),
	l.created_at, c.vector_score, c.fts_score, c.combined_score
FROM combined c
JOIN listings l ON l.id = c.id
WHERE c.combined_score >= $5
ORDER BY c.combined_score DESC, l.id ASC
LIMIT $6
`

func (s *PostgresStorage) HybridSearch(ctx context.Context, vector []float32, text string, opts HybridOptions) ([]ScoredListing, error) {
	if len(vector) == 0 {
		return nil, types.Validationf("query vector is empty")
	}
	opts = opts.withDefaults()

	rows, err := s.pool.Query(ctx, hybridSearchSQL,
		formatVectorLiteral(vector), strings.TrimSpace(text),
		opts.VectorWeight, opts.FTSWeight, opts.MinScore, opts.Limit, opts.CandidateLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to execute hybrid search: %w", err)
	}
	defer rows.Close()

	results := make([]ScoredListing, 0, opts.Limit)
	for rows.Next() {
		var sl ScoredListing
		err := rows.Scan(&sl.ID, &sl.PublicationID, &sl.Category, &sl.Subcategory, &sl.Title,
			&sl.Reference, &sl.Description, &sl.Contact, &sl.Price, &sl.Location, &sl.CreatedAt,
			&sl.VectorScore, &sl.FTSScore, &sl.CombinedScore)
		if err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		results = append(results, sl)
	}
	return results, rows.Err()
}

// Helpers

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// formatVectorLiteral renders pgvector's text form: [0.1,0.2,...]
func formatVectorLiteral(v []float32) string {
	var b strings.Builder
	b.Grow(len(v) * 10)
	b.WriteByte('[')
	for i, x := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(x), 'f', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}

// parseVectorLiteral is the inverse of formatVectorLiteral
func parseVectorLiteral(s string) ([]float32, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "[") || !strings.HasSuffix(s, "]") {
		return nil, fmt.Errorf("invalid vector literal %q", s)
	}
	body := strings.TrimSpace(s[1 : len(s)-1])
	if body == "" {
		return []float32{}, nil
	}
	parts := strings.Split(body, ",")
	out := make([]float32, len(parts))
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return nil, fmt.Errorf("invalid vector component %q: %w", p, err)
		}
		out[i] = float32(f)
	}
	return out, nil
}

package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mendoc/zoomchat/pkg/types"
)

// SQLiteStorage implements Storage using SQLite with FTS5
type SQLiteStorage struct {
	db *sql.DB
}

var _ Storage = (*SQLiteStorage)(nil)

// openDatabase opens a SQLite database with appropriate settings
func openDatabase(dbPath string) (*sql.DB, error) {
	db, err := sql.Open(DriverName, dbPath)
	if err != nil {
		return nil, err
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	db.SetMaxOpenConns(1) // single writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	// Required for ON DELETE CASCADE
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return db, nil
}

// NewSQLiteStorage opens dbPath (":memory:" for tests) and applies migrations
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	db, err := openDatabase(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := ApplyMigrations(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

// DB exposes the handle for migration tooling
func (s *SQLiteStorage) DB() *sql.DB {
	return s.db
}

// Backend implements Storage
func (s *SQLiteStorage) Backend() string {
	return "sqlite"
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// querier is an interface that both *sql.DB and *sql.Tx implement
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// withTx runs fn in a transaction and commits when fn returns nil
func (s *SQLiteStorage) withTx(ctx context.Context, fn func(q querier) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin transaction: %v", types.ErrPersistence, err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", types.ErrPersistence, err)
	}
	return nil
}

// Publication operations

const publicationColumns = `id, number, period, pdf_url, delivered_file_ref, published_at, created_at`

func scanPublication(row interface{ Scan(...any) error }) (*types.Publication, error) {
	var (
		p           types.Publication
		delivered   sql.NullString
		publishedAt sql.NullTime
		createdAt   sql.NullTime
	)
	if err := row.Scan(&p.ID, &p.Number, &p.Period, &p.PDFURL, &delivered, &publishedAt, &createdAt); err != nil {
		return nil, err
	}
	if delivered.Valid {
		ref := delivered.String
		p.DeliveredFileRef = &ref
	}
	if publishedAt.Valid {
		t := publishedAt.Time
		p.PublishedAt = &t
	}
	p.CreatedAt = createdAt.Time
	return &p, nil
}

func (s *SQLiteStorage) GetPublicationByNumber(ctx context.Context, number string) (*types.Publication, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+publicationColumns+` FROM publications WHERE number = ?`, number)
	p, err := scanPublication(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("publication %s: %w", number, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get publication: %w", err)
	}
	return p, nil
}

func (s *SQLiteStorage) GetLatestPublication(ctx context.Context) (*types.Publication, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+publicationColumns+` FROM publications
		 ORDER BY COALESCE(published_at, created_at) DESC, id DESC LIMIT 1`)
	p, err := scanPublication(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("latest publication: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest publication: %w", err)
	}
	return p, nil
}

func (s *SQLiteStorage) UpsertPublication(ctx context.Context, p *types.Publication) error {
	if err := p.Validate(); err != nil {
		return err
	}
	query := `
		INSERT INTO publications (number, period, pdf_url, delivered_file_ref, published_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(number) DO UPDATE SET
			period = excluded.period,
			pdf_url = excluded.pdf_url,
			delivered_file_ref = COALESCE(excluded.delivered_file_ref, publications.delivered_file_ref),
			published_at = COALESCE(excluded.published_at, publications.published_at)
		RETURNING id, created_at
	`
	var createdAt sql.NullTime
	err := s.db.QueryRowContext(ctx, query,
		p.Number, p.Period, p.PDFURL, nullStringPtr(p.DeliveredFileRef), nullTimePtr(p.PublishedAt), time.Now().UTC(),
	).Scan(&p.ID, &createdAt)
	if err != nil {
		return fmt.Errorf("%w: upsert publication %s: %v", types.ErrPersistence, p.Number, err)
	}
	p.CreatedAt = createdAt.Time
	return nil
}

func (s *SQLiteStorage) AttachDeliveredFile(ctx context.Context, number, fileRef string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE publications SET delivered_file_ref = ? WHERE number = ?`, fileRef, number)
	if err != nil {
		return fmt.Errorf("%w: attach file to %s: %v", types.ErrPersistence, number, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("publication %s: %w", number, ErrNotFound)
	}
	return nil
}

func (s *SQLiteStorage) DeletePublication(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM publications WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("%w: delete publication %d: %v", types.ErrPersistence, id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("publication %d: %w", id, ErrNotFound)
	}
	return nil
}

func (s *SQLiteStorage) CountListings(ctx context.Context, publicationID int64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM listings WHERE publication_id = ?`, publicationID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count listings: %w", err)
	}
	return n, nil
}

// Listing operations

const listingColumns = `id, publication_id, category, subcategory, title, reference,
	description, contact, price, location, embedding, created_at`

func scanListing(row interface{ Scan(...any) error }) (*types.Listing, error) {
	var (
		l                                                      types.Listing
		category, subcategory, title, contact, price, location sql.NullString
		embedding                                              []byte
		createdAt                                              sql.NullTime
	)
	err := row.Scan(&l.ID, &l.PublicationID, &category, &subcategory, &title, &l.Reference,
		&l.Description, &contact, &price, &location, &embedding, &createdAt)
	if err != nil {
		return nil, err
	}
	l.Category = category.String
	l.Subcategory = subcategory.String
	l.Title = title.String
	l.Contact = contact.String
	l.Price = price.String
	l.Location = location.String
	if len(embedding) > 0 {
		l.Embedding = deserializeVector(embedding)
	}
	l.CreatedAt = createdAt.Time
	return &l, nil
}

// insertListingWithQuerier returns inserted=false when the reference already exists
func (s *SQLiteStorage) insertListingWithQuerier(ctx context.Context, q querier, l *types.Listing) (bool, error) {
	query := `
		INSERT INTO listings (publication_id, category, subcategory, title, reference,
			description, contact, price, location, embedding, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(reference) DO NOTHING
		RETURNING id
	`
	var embedding interface{}
	if l.Embedding != nil {
		embedding = serializeVector(l.Embedding)
	}
	now := time.Now().UTC()
	err := q.QueryRowContext(ctx, query,
		l.PublicationID, nullString(l.Category), nullString(l.Subcategory), nullString(l.Title), l.Reference,
		l.Description, nullString(l.Contact), nullString(l.Price), nullString(l.Location), embedding, now,
	).Scan(&l.ID)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	l.CreatedAt = now
	return true, nil
}

func (s *SQLiteStorage) BulkInsertListings(ctx context.Context, listings []*types.Listing) (*BatchResult, error) {
	result := &BatchResult{}
	if len(listings) == 0 {
		return result, nil
	}

	err := s.withTx(ctx, func(q querier) error {
		for _, l := range listings {
			if !l.HasReference() {
				result.Failed = append(result.Failed, ItemFailure{Key: "", Err: types.Validationf("listing without reference")})
				continue
			}
			inserted, err := s.insertListingWithQuerier(ctx, q, l)
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

func (s *SQLiteStorage) FindMissingEmbedding(ctx context.Context, publicationID int64) ([]*types.Listing, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+listingColumns+` FROM listings
		 WHERE publication_id = ? AND embedding IS NULL ORDER BY id`, publicationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query listings without embedding: %w", err)
	}
	defer func() { _ = rows.Close() }()

	listings := make([]*types.Listing, 0)
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan listing: %w", err)
		}
		listings = append(listings, l)
	}
	return listings, rows.Err()
}

func (s *SQLiteStorage) BulkUpdateEmbeddings(ctx context.Context, updates []EmbeddingUpdate) (*BatchResult, error) {
	result := &BatchResult{}
	if len(updates) == 0 {
		return result, nil
	}

	err := s.withTx(ctx, func(q querier) error {
		for _, u := range updates {
			key := fmt.Sprintf("%d", u.ListingID)
			if u.Vector == nil {
				result.Skipped = append(result.Skipped, key)
				continue
			}
			res, err := q.ExecContext(ctx,
				`UPDATE listings SET embedding = ? WHERE id = ?`, serializeVector(u.Vector), u.ListingID)
			if err == nil {
				if n, _ := res.RowsAffected(); n == 0 {
					err = ErrNotFound
				}
			}
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

func (s *SQLiteStorage) GetListing(ctx context.Context, id int64) (*types.Listing, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+listingColumns+` FROM listings WHERE id = ?`, id)
	l, err := scanListing(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("listing %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get listing: %w", err)
	}
	return l, nil
}

// getListingsByIDs loads listings keyed by ID
func (s *SQLiteStorage) getListingsByIDs(ctx context.Context, ids []int64) (map[int64]*types.Listing, error) {
	out := make(map[int64]*types.Listing, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+listingColumns+` FROM listings WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to load listings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan listing: %w", err)
		}
		out[l.ID] = l
	}
	return out, rows.Err()
}

// Search operations

func (s *SQLiteStorage) SearchVector(ctx context.Context, vector []float32, minScore float64, limit int) ([]ScoredListing, error) {
	if len(vector) == 0 {
		return nil, types.Validationf("query vector is empty")
	}
	if limit <= 0 {
		limit = DefaultLimit
	}

	candidates, err := searchVector(ctx, s.db, vector, minScore, limit)
	if err != nil {
		return nil, err
	}

	ids := make([]int64, len(candidates))
	for i, c := range candidates {
		ids[i] = c.ListingID
	}
	byID, err := s.getListingsByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	results := make([]ScoredListing, 0, len(candidates))
	for _, c := range candidates {
		l, ok := byID[c.ListingID]
		if !ok {
			continue
		}
		results = append(results, ScoredListing{
			Listing:       *l,
			VectorScore:   c.SimilarityScore,
			CombinedScore: c.SimilarityScore,
		})
	}
	return results, nil
}

// HybridSearch fetches both candidate sets concurrently and fuses them in Go
func (s *SQLiteStorage) HybridSearch(ctx context.Context, vector []float32, text string, opts HybridOptions) ([]ScoredListing, error) {
	if len(vector) == 0 {
		return nil, types.Validationf("query vector is empty")
	}
	opts = opts.withDefaults()

	var (
		vectorResults []VectorResult
		textResults   []TextResult
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		vectorResults, err = searchVector(gctx, s.db, vector, 0, opts.CandidateLimit)
		return err
	})
	g.Go(func() error {
		var err error
		textResults, err = searchText(gctx, s.db, text, opts.CandidateLimit)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("hybrid search: %w", err)
	}

	fused := FuseCandidates(vectorResults, textResults, opts)

	ids := make([]int64, len(fused))
	for i, f := range fused {
		ids[i] = f.ListingID
	}
	byID, err := s.getListingsByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	results := make([]ScoredListing, 0, len(fused))
	for _, f := range fused {
		l, ok := byID[f.ListingID]
		if !ok {
			continue // deleted between the candidate query and the load
		}
		results = append(results, ScoredListing{
			Listing:       *l,
			VectorScore:   f.VectorScore,
			FTSScore:      f.FTSScore,
			CombinedScore: f.CombinedScore,
		})
	}
	return results, nil
}

// Helpers

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullStringPtr(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return nullString(*s)
}

func nullTimePtr(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

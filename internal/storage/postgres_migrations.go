package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/Masterminds/semver/v3"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresMigrations mirrors AllMigrations for the Postgres backend
var PostgresMigrations = []Migration{
	{
		Version: "1.0.0",
		Up:      pgMigrationV1Up,
		Down:    pgMigrationV1Down,
	},
	{
		Version: "1.1.0",
		Up:      pgMigrationV11Up,
		Down:    pgMigrationV11Down,
	},
}

const pgMigrationV1Up = `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS schema_version (
    version TEXT PRIMARY KEY,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS publications (
    id BIGSERIAL PRIMARY KEY,
    number TEXT NOT NULL UNIQUE,
    period TEXT NOT NULL DEFAULT '',
    pdf_url TEXT NOT NULL,
    delivered_file_ref TEXT,
    published_at TIMESTAMPTZ,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS listings (
    id BIGSERIAL PRIMARY KEY,
    publication_id BIGINT NOT NULL REFERENCES publications(id) ON DELETE CASCADE,
    category TEXT,
    subcategory TEXT,
    title TEXT,
    reference TEXT NOT NULL UNIQUE,
    description TEXT NOT NULL DEFAULT '',
    contact TEXT,
    price TEXT,
    location TEXT,
    embedding vector(1536),
    search_vector tsvector GENERATED ALWAYS AS (
        setweight(to_tsvector('french', COALESCE(title, '')), 'A') ||
        setweight(to_tsvector('french', COALESCE(description, '')), 'B') ||
        setweight(to_tsvector('french', COALESCE(category, '') || ' ' || COALESCE(location, '')), 'C')
    ) STORED,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_listings_publication ON listings(publication_id);
CREATE INDEX IF NOT EXISTS idx_listings_search_vector ON listings USING GIN(search_vector);
CREATE INDEX IF NOT EXISTS idx_listings_embedding ON listings USING hnsw (embedding vector_cosine_ops);
`

const pgMigrationV1Down = `
DROP TABLE IF EXISTS listings;
DROP TABLE IF EXISTS publications;
DROP TABLE IF EXISTS schema_version;
`

const pgMigrationV11Up = `
CREATE INDEX IF NOT EXISTS idx_listings_missing_embedding
    ON listings(publication_id) WHERE embedding IS NULL;
`

const pgMigrationV11Down = `
DROP INDEX IF EXISTS idx_listings_missing_embedding;
`

// ApplyPostgresMigrations runs pending migrations, each in its own transaction
func ApplyPostgresMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	current, err := pgSchemaVersion(ctx, pool)
	if err != nil {
		return err
	}

	for _, migration := range PostgresMigrations {
		v, err := semver.NewVersion(migration.Version)
		if err != nil {
			return fmt.Errorf("invalid migration version %s: %w", migration.Version, err)
		}
		if !current.LessThan(v) {
			continue
		}

		err = pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, migration.Up); err != nil {
				return err
			}
			_, err := tx.Exec(ctx, "INSERT INTO schema_version (version) VALUES ($1)", migration.Version)
			return err
		})
		if err != nil {
			return fmt.Errorf("failed to apply migration %s: %w", migration.Version, err)
		}
		current = v
	}
	return nil
}

// RollbackPostgresMigration undoes the most recent migration
func RollbackPostgresMigration(ctx context.Context, pool *pgxpool.Pool) error {
	current, err := pgSchemaVersion(ctx, pool)
	if err != nil {
		return err
	}
	if current.Equal(semver.MustParse("0.0.0")) {
		return fmt.Errorf("no migrations to rollback")
	}

	var migration *Migration
	for i := range PostgresMigrations {
		v, err := semver.NewVersion(PostgresMigrations[i].Version)
		if err == nil && v.Equal(current) {
			migration = &PostgresMigrations[i]
			break
		}
	}
	if migration == nil {
		return fmt.Errorf("migration %s not found", current.Original())
	}

	return pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, migration.Down); err != nil {
			return fmt.Errorf("failed to rollback migration %s: %w", migration.Version, err)
		}
		if migration.Version == PostgresMigrations[0].Version {
			return nil
		}
		_, err := tx.Exec(ctx, "DELETE FROM schema_version WHERE version = $1", migration.Version)
		return err
	})
}

// PostgresSchemaVersion reports the applied schema version
func PostgresSchemaVersion(ctx context.Context, pool *pgxpool.Pool) (string, error) {
	v, err := pgSchemaVersion(ctx, pool)
	if err != nil {
		return "", err
	}
	return v.String(), nil
}

func pgSchemaVersion(ctx context.Context, pool *pgxpool.Pool) (*semver.Version, error) {
	var exists bool
	err := pool.QueryRow(ctx, `SELECT to_regclass('schema_version') IS NOT NULL`).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("failed to check schema_version table: %w", err)
	}
	if !exists {
		return semver.MustParse("0.0.0"), nil
	}

	rows, err := pool.Query(ctx, "SELECT version FROM schema_version")
	if err != nil {
		return nil, fmt.Errorf("failed to read schema_version: %w", err)
	}
	versions, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}

	latest := semver.MustParse("0.0.0")
	for _, raw := range versions {
		v, err := semver.NewVersion(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid current schema version %s: %w", raw, err)
		}
		if v.GreaterThan(latest) {
			latest = v
		}
	}
	return latest, nil
}

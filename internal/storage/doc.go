// Package storage persists publications and their listings and answers
// vector, lexical and hybrid queries over them.
//
// Two backends implement Storage:
//
//   - SQLiteStorage: embeddings as little-endian float32 BLOBs, an FTS5
//     external-content index kept in sync by triggers, and hybrid fusion
//     done in Go by FuseCandidates.
//   - PostgresStorage: pgvector embeddings, a generated french tsvector,
//     and the hybrid full outer join done in one SQL statement.
//
// # Schema
//
//   - publications: one row per issue, unique by number
//   - listings: unique by reference, deleted with their publication
//   - schema_version: applied semver migrations
//
// # Batches
//
// BulkInsertListings and BulkUpdateEmbeddings run inside one transaction but
// isolate items: a duplicate reference is Skipped, a failing row is reported
// in Failed and the rest of the batch still commits.
//
//	res, err := store.BulkInsertListings(ctx, listings)
//	if err != nil {
//	    return err // transaction-level failure
//	}
//	log.Printf("inserted=%d duplicates=%d failed=%d",
//	    len(res.Succeeded), len(res.Skipped), len(res.Failed))
//
// # Build Tags
//
// CGO build (sqlite_vec tag) uses github.com/mattn/go-sqlite3 and computes
// distances with sqlite-vec. The default pure Go build uses modernc.org/sqlite.
package storage

//go:build purego || !sqlite_vec
// +build purego !sqlite_vec

package storage

// Default build: pure Go SQLite, no C toolchain. Cosine similarity over
// stored embeddings is computed in Go.
//
//   CGO_ENABLED=0 go build -tags "purego" ./...

import (
	_ "modernc.org/sqlite"
)

const (
	// DriverName is the database/sql driver registered by this build
	DriverName = "sqlite"

	// VectorExtensionAvailable selects the SQL vector search path
	VectorExtensionAvailable = false

	// BuildMode is reported by `zoomchat version`
	BuildMode = "purego"
)

//go:build sqlite_vec
// +build sqlite_vec

package storage

// Compiled with CGO and the sqlite_vec tag. Vector distances are computed
// in SQL by the sqlite-vec extension (vec_distance_cosine).
//
//   CGO_ENABLED=1 go build -tags "sqlite_vec,fts5" ./...

import (
	_ "github.com/mattn/go-sqlite3"
)

const (
	// DriverName is the database/sql driver registered by this build
	DriverName = "sqlite3"

	// VectorExtensionAvailable selects the SQL vector search path
	VectorExtensionAvailable = true

	// BuildMode is reported by `zoomchat version`
	BuildMode = "cgo"
)

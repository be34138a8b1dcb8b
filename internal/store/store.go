// Package store defines the vector store abstraction and its veclite
// implementation. Collections are scoped per project; upserting the same
// chunk id overwrites rather than duplicates.
package store

import (
	"context"
	"fmt"
)

// Metadata is carried alongside each vector entry.
type Metadata struct {
	FilePath string
	Ordinal  int
	Start    int
	End      int
	Content  string
}

// Entry is one embedded chunk keyed by its stable chunk id.
type Entry struct {
	ChunkID string
	Vector  []float32
	Meta    Metadata
}

// Filter restricts query results by metadata. Zero value means no filter.
type Filter struct {
	FilePath string
}

// Result is one ranked query hit.
type Result struct {
	ChunkID string
	Score   float32
	Meta    Metadata
}

// Store is the per-project vector collection interface.
type Store interface {
	// Upsert writes entries into the project's collection, overwriting any
	// existing entries with the same chunk ids.
	Upsert(ctx context.Context, projectID string, entries []Entry) error

	// Delete removes entries by chunk id. Absent ids are a no-op.
	Delete(ctx context.Context, projectID string, chunkIDs []string) error

	// Query returns the k nearest entries of the project's collection,
	// optionally restricted by filter. Results never cross projects.
	Query(ctx context.Context, projectID string, vector []float32, k int, filter Filter) ([]Result, error)

	// ChunkIDs lists every chunk id present in the project's collection.
	ChunkIDs(projectID string) ([]string, error)

	// Count returns the number of entries in the project's collection.
	Count(projectID string) (int64, error)

	// DropProject removes the project's collection entirely.
	DropProject(projectID string) error

	// Sync flushes pending writes to disk.
	Sync() error

	// Close releases the store.
	Close() error
}

// StoreError wraps a vector store operation failure for a specific project.
type StoreError struct {
	ProjectID string
	Op        string
	Err       error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store: %s %s: %v", e.Op, e.ProjectID, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// Package meta is the durable metadata store: per project, the mapping from
// relative file path to fingerprint, chunk ids, and sync times. It is the
// source of truth for which chunk ids should exist in the vector store.
package meta

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// FileRecord is the recorded state of one indexed file.
type FileRecord struct {
	Path        string    `json:"path"`
	Fingerprint string    `json:"fingerprint"`
	ModTime     time.Time `json:"mtime"`
	ChunkIDs    []string  `json:"chunk_ids"`
	LastSync    time.Time `json:"last_sync"`
}

// Store persists one JSON document per project under dir. Writes go through
// a temp file and rename so a crash mid-write never leaves a torn document.
type Store struct {
	mu  sync.Mutex
	dir string
}

// NewStore creates the metadata directory if needed and returns a Store.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create metadata dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) path(projectID string) string {
	return filepath.Join(s.dir, projectID+".json")
}

// Load reads the file records for a project. A project with no metadata yet
// yields an empty map.
func (s *Store) Load(projectID string) (map[string]*FileRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path(projectID))
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[string]*FileRecord), nil
		}
		return nil, fmt.Errorf("read metadata for %s: %w", projectID, err)
	}

	records := make(map[string]*FileRecord)
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("decode metadata for %s: %w", projectID, err)
	}
	return records, nil
}

// Save durably replaces the file records for a project: write to a temp file
// in the same directory, fsync, then rename over the previous document.
func (s *Store) Save(projectID string, records map[string]*FileRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("encode metadata for %s: %w", projectID, err)
	}

	tmp, err := os.CreateTemp(s.dir, projectID+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp metadata file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write metadata for %s: %w", projectID, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync metadata for %s: %w", projectID, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close metadata for %s: %w", projectID, err)
	}
	if err := os.Rename(tmpName, s.path(projectID)); err != nil {
		return fmt.Errorf("commit metadata for %s: %w", projectID, err)
	}
	return nil
}

// Drop removes a project's metadata document. Missing documents are fine.
func (s *Store) Drop(projectID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path(projectID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("drop metadata for %s: %w", projectID, err)
	}
	return nil
}

// Fingerprints returns the path→fingerprint mapping for change detection.
func Fingerprints(records map[string]*FileRecord) map[string]string {
	out := make(map[string]string, len(records))
	for path, rec := range records {
		out[path] = rec.Fingerprint
	}
	return out
}

package store

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/abdul-hamid-achik/veclite"
)

// VecLiteStore implements Store on a single veclite database file with one
// collection per project id.
type VecLiteStore struct {
	mu         sync.Mutex
	db         *veclite.DB
	colls      map[string]*veclite.Collection
	dimensions int
}

// Path returns the veclite database file under the data dir.
func Path(dataDir string) string {
	return filepath.Join(dataDir, "vectors.veclite")
}

// OpenVecLite opens (or creates) the veclite database.
func OpenVecLite(dbPath string, dimensions int) (*VecLiteStore, error) {
	db, err := veclite.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open veclite database: %w", err)
	}
	return &VecLiteStore{
		db:         db,
		colls:      make(map[string]*veclite.Collection),
		dimensions: dimensions,
	}, nil
}

// collection returns the project's collection, creating it on first use.
func (s *VecLiteStore) collection(projectID string) (*veclite.Collection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if coll, ok := s.colls[projectID]; ok {
		return coll, nil
	}

	coll, err := s.db.CreateCollection(projectID,
		veclite.WithDimension(s.dimensions),
		veclite.WithDistanceType(veclite.DistanceCosine),
		veclite.WithHNSW(16, 200), // M=16, efConstruction=200
	)
	if err != nil {
		// Collection may already exist from a previous run.
		coll, err = s.db.GetCollection(projectID)
		if err != nil {
			return nil, fmt.Errorf("create/get collection %s: %w", projectID, err)
		}
	}
	s.colls[projectID] = coll
	return coll, nil
}

// Upsert deletes any entries with matching chunk ids, then inserts the new
// vectors with their metadata payload.
func (s *VecLiteStore) Upsert(ctx context.Context, projectID string, entries []Entry) error {
	coll, err := s.collection(projectID)
	if err != nil {
		return &StoreError{ProjectID: projectID, Op: "upsert", Err: err}
	}

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if len(entry.Vector) != s.dimensions {
			return &StoreError{ProjectID: projectID, Op: "upsert",
				Err: fmt.Errorf("vector dimension mismatch: got %d, expected %d", len(entry.Vector), s.dimensions)}
		}

		if _, err := coll.DeleteWhere(veclite.Equal("chunk_id", entry.ChunkID)); err != nil {
			return &StoreError{ProjectID: projectID, Op: "upsert", Err: err}
		}

		payload := map[string]any{
			"chunk_id":  entry.ChunkID,
			"file_path": entry.Meta.FilePath,
			"ordinal":   entry.Meta.Ordinal,
			"start":     entry.Meta.Start,
			"end":       entry.Meta.End,
			"content":   entry.Meta.Content,
		}
		if _, err := coll.Insert(entry.Vector, payload); err != nil {
			return &StoreError{ProjectID: projectID, Op: "upsert", Err: err}
		}
	}
	return nil
}

// Delete removes entries by chunk id; ids not present are ignored.
func (s *VecLiteStore) Delete(ctx context.Context, projectID string, chunkIDs []string) error {
	coll, err := s.collection(projectID)
	if err != nil {
		return &StoreError{ProjectID: projectID, Op: "delete", Err: err}
	}
	for _, id := range chunkIDs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := coll.DeleteWhere(veclite.Equal("chunk_id", id)); err != nil {
			return &StoreError{ProjectID: projectID, Op: "delete", Err: err}
		}
	}
	return nil
}

// Query performs a nearest-neighbor search within the project's collection.
func (s *VecLiteStore) Query(ctx context.Context, projectID string, vector []float32, k int, filter Filter) ([]Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	coll, err := s.collection(projectID)
	if err != nil {
		return nil, &StoreError{ProjectID: projectID, Op: "query", Err: err}
	}
	if len(vector) != s.dimensions {
		return nil, &StoreError{ProjectID: projectID, Op: "query",
			Err: fmt.Errorf("query dimension mismatch: got %d, expected %d", len(vector), s.dimensions)}
	}

	opts := []veclite.SearchOption{veclite.TopK(k)}
	if filter.FilePath != "" {
		opts = append(opts, veclite.WithFilters(veclite.Equal("file_path", filter.FilePath)))
	}

	hits, err := coll.Search(vector, opts...)
	if err != nil {
		return nil, &StoreError{ProjectID: projectID, Op: "query", Err: err}
	}

	results := make([]Result, 0, len(hits))
	for _, h := range hits {
		results = append(results, Result{
			ChunkID: payloadString(h.Record.Payload, "chunk_id"),
			Score:   h.Score,
			Meta:    payloadMeta(h.Record.Payload),
		})
	}
	return results, nil
}

// ChunkIDs lists every chunk id in the project's collection.
func (s *VecLiteStore) ChunkIDs(projectID string) ([]string, error) {
	coll, err := s.collection(projectID)
	if err != nil {
		return nil, &StoreError{ProjectID: projectID, Op: "list", Err: err}
	}
	records := coll.All()
	ids := make([]string, 0, len(records))
	for _, r := range records {
		if id := payloadString(r.Payload, "chunk_id"); id != "" {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// Count returns the number of entries in the project's collection.
func (s *VecLiteStore) Count(projectID string) (int64, error) {
	coll, err := s.collection(projectID)
	if err != nil {
		return 0, &StoreError{ProjectID: projectID, Op: "count", Err: err}
	}
	return int64(coll.Count()), nil
}

// DropProject removes the project's collection entirely.
func (s *VecLiteStore) DropProject(projectID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.colls, projectID)
	if err := s.db.DropCollection(projectID); err != nil {
		// Dropping a collection that never existed is fine.
		_ = err
	}
	return nil
}

// Sync flushes pending writes to disk.
func (s *VecLiteStore) Sync() error {
	return s.db.Sync()
}

// Close syncs and closes the database.
func (s *VecLiteStore) Close() error {
	if err := s.db.Sync(); err != nil {
		_ = err
	}
	return s.db.Close()
}

func payloadString(payload map[string]any, key string) string {
	if v, ok := payload[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func payloadInt(payload map[string]any, key string) int {
	if v, ok := payload[key]; ok {
		switch n := v.(type) {
		case int:
			return n
		case int64:
			return int(n)
		case float64:
			return int(n)
		}
	}
	return 0
}

func payloadMeta(payload map[string]any) Metadata {
	return Metadata{
		FilePath: payloadString(payload, "file_path"),
		Ordinal:  payloadInt(payload, "ordinal"),
		Start:    payloadInt(payload, "start"),
		End:      payloadInt(payload, "end"),
		Content:  payloadString(payload, "content"),
	}
}

var _ Store = (*VecLiteStore)(nil)

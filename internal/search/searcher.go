// Package search performs semantic queries against indexed projects.
package search

import (
	"context"
	"fmt"

	"github.com/semsync/semsync/internal/embed"
	"github.com/semsync/semsync/internal/store"
)

// Options restrict a query.
type Options struct {
	// Limit is the maximum number of hits returned. Defaults to 10.
	Limit int
	// FilePath restricts hits to chunks of one file (project-relative path).
	FilePath string
}

// Hit is one ranked search result.
type Hit struct {
	ChunkID  string  `json:"chunk_id"`
	FilePath string  `json:"file_path"`
	Ordinal  int     `json:"ordinal"`
	Start    int     `json:"start"`
	End      int     `json:"end"`
	Content  string  `json:"content"`
	Score    float32 `json:"score"`
}

// Searcher embeds query text and runs nearest-neighbor lookups against a
// project's collection.
type Searcher struct {
	provider embed.Provider
	vectors  store.Store
}

// New builds a Searcher over the given provider and vector store.
func New(provider embed.Provider, vectors store.Store) *Searcher {
	return &Searcher{provider: provider, vectors: vectors}
}

// Search embeds the query and returns the nearest chunks of the project.
func (s *Searcher) Search(ctx context.Context, projectID, query string, opts Options) ([]Hit, error) {
	if query == "" {
		return nil, fmt.Errorf("query must not be empty")
	}
	if opts.Limit <= 0 {
		opts.Limit = 10
	}

	vector, err := s.provider.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	results, err := s.vectors.Query(ctx, projectID, vector, opts.Limit, store.Filter{FilePath: opts.FilePath})
	if err != nil {
		return nil, fmt.Errorf("query vectors: %w", err)
	}

	hits := make([]Hit, 0, len(results))
	for _, r := range results {
		hits = append(hits, Hit{
			ChunkID:  r.ChunkID,
			FilePath: r.Meta.FilePath,
			Ordinal:  r.Meta.Ordinal,
			Start:    r.Meta.Start,
			End:      r.Meta.End,
			Content:  r.Meta.Content,
			Score:    r.Score,
		})
	}
	return hits, nil
}

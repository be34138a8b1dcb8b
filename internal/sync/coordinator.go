package sync

import (
	"context"
	"fmt"
	"os"
	stdsync "sync"
	"time"

	"go.uber.org/zap"

	"github.com/semsync/semsync/internal/chunk"
	"github.com/semsync/semsync/internal/embed"
	"github.com/semsync/semsync/internal/meta"
	"github.com/semsync/semsync/internal/project"
	"github.com/semsync/semsync/internal/scan"
	"github.com/semsync/semsync/internal/store"
)

// State is the coordinator's position in the pass cycle.
type State string

const (
	StateIdle       State = "idle"
	StateScanning   State = "scanning"
	StateDiffing    State = "diffing"
	StateEmbedding  State = "embedding"
	StateCommitting State = "committing"
	StateFailed     State = "failed"
)

// Options tune one coordinator's pass behavior.
type Options struct {
	// BatchSize is the number of chunks per embedding batch.
	BatchSize int
	// Workers bounds concurrent file processing within a pass.
	Workers int
	// BatchTimeout bounds a single embedding batch call.
	BatchTimeout time.Duration
	// Retry is the backoff applied to transient embedding failures.
	Retry embed.RetryConfig
}

// DefaultOptions returns the defaults used when fields are zero.
func DefaultOptions() Options {
	return Options{
		BatchSize:    32,
		Workers:      4,
		BatchTimeout: 60 * time.Second,
		Retry:        embed.DefaultRetryConfig(),
	}
}

// Result summarizes one completed pass. Counts reflect files whose commit
// succeeded; deferred files are excluded and retried next pass.
type Result struct {
	Added    int           `json:"added"`
	Modified int           `json:"modified"`
	Deleted  int           `json:"deleted"`
	Deferred int           `json:"deferred"`
	Chunks   int           `json:"chunks"`
	Duration time.Duration `json:"duration"`
}

// Status is the externally visible coordinator state.
type Status struct {
	State        State     `json:"state"`
	LastSyncTime time.Time `json:"last_sync_time"`
	FileCount    int       `json:"file_count"`
	PendingCount int       `json:"pending_count"`
	RootMissing  bool      `json:"root_missing"`
	LastError    string    `json:"last_error,omitempty"`
}

// Coordinator runs reconciliation passes for one project. All mutations of
// the project's metadata and vector collection happen here, serialized by
// the pass gate.
type Coordinator struct {
	proj      *project.Project
	metaStore *meta.Store
	vectors   store.Store
	provider  embed.Provider
	chunker   *chunk.Chunker
	opts      Options
	logger    *zap.Logger

	gate gate

	mu          stdsync.Mutex
	state       State
	lastSync    time.Time
	fileCount   int
	pending     int
	rootMissing bool
	lastErr     error
}

// NewCoordinator builds a coordinator for the project. The project's chunk
// parameters were validated at registration, so chunker construction cannot
// fail here for a well-formed project.
func NewCoordinator(proj *project.Project, metaStore *meta.Store, vectors store.Store, provider embed.Provider, opts Options, logger *zap.Logger) (*Coordinator, error) {
	chunker, err := chunk.New(proj.ChunkSize, proj.ChunkOverlap)
	if err != nil {
		return nil, err
	}
	def := DefaultOptions()
	if opts.BatchSize <= 0 {
		opts.BatchSize = def.BatchSize
	}
	if opts.Workers <= 0 {
		opts.Workers = def.Workers
	}
	if opts.BatchTimeout <= 0 {
		opts.BatchTimeout = def.BatchTimeout
	}
	if opts.Retry.MaxAttempts <= 0 {
		opts.Retry = def.Retry
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		proj:      proj,
		metaStore: metaStore,
		vectors:   vectors,
		provider:  provider,
		chunker:   chunker,
		opts:      opts,
		logger:    logger.With(zap.String("project", proj.ID)),
		gate:      newGate(),
		state:     StateIdle,
	}, nil
}

// Project returns the coordinator's project.
func (c *Coordinator) Project() *project.Project {
	return c.proj
}

// Status reports the current state and bookkeeping counters.
func (c *Coordinator) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := Status{
		State:        c.state,
		LastSyncTime: c.lastSync,
		FileCount:    c.fileCount,
		PendingCount: c.pending,
		RootMissing:  c.rootMissing,
	}
	if c.lastErr != nil {
		st.LastError = c.lastErr.Error()
	}
	return st
}

func (c *Coordinator) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// SyncNow runs one full reconciliation pass. At most one pass per project
// runs at a time; a concurrent call returns ErrSyncRunning with no side
// effects.
func (c *Coordinator) SyncNow(ctx context.Context) (*Result, error) {
	if !c.gate.TryAcquire() {
		return nil, ErrSyncRunning
	}
	defer c.gate.Release()

	result, err := c.runPass(ctx)
	if err != nil {
		// Failed persists until the next pass starts Scanning.
		c.mu.Lock()
		c.state = StateFailed
		c.lastErr = err
		c.mu.Unlock()
		c.logger.Error("sync pass failed", zap.Error(err))
		return nil, err
	}

	c.mu.Lock()
	c.lastErr = nil
	c.state = StateIdle
	c.lastSync = time.Now()
	c.pending = result.Deferred
	c.mu.Unlock()

	c.logger.Info("sync pass complete",
		zap.Int("added", result.Added),
		zap.Int("modified", result.Modified),
		zap.Int("deleted", result.Deleted),
		zap.Int("deferred", result.Deferred),
		zap.Int("chunks", result.Chunks),
		zap.Duration("duration", result.Duration))
	return result, nil
}

// runPass walks the Scanning→Diffing→Embedding→Committing cycle once.
func (c *Coordinator) runPass(ctx context.Context) (*Result, error) {
	start := time.Now()
	result := &Result{}

	// Scanning.
	c.setState(StateScanning)
	var entries []scan.FileEntry
	rootMissing := false
	if _, err := os.Stat(c.proj.Root); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("stat project root: %w", err)
		}
		rootMissing = true
		c.logger.Warn("project root missing, treating all files as deleted", zap.String("root", c.proj.Root))
	} else {
		var pathErrs []scan.PathError
		var err error
		entries, pathErrs, err = scan.NewEnumerator(c.proj).Enumerate(ctx)
		if err != nil {
			return nil, fmt.Errorf("enumerate: %w", err)
		}
		for _, pe := range pathErrs {
			c.logger.Warn("enumeration error", zap.String("path", pe.Path), zap.Error(pe.Err))
		}
	}
	c.mu.Lock()
	c.rootMissing = rootMissing
	c.mu.Unlock()

	// Diffing.
	c.setState(StateDiffing)
	records, err := c.metaStore.Load(c.proj.ID)
	if err != nil {
		return nil, fmt.Errorf("load metadata: %w", err)
	}
	changes := scan.Classify(entries, meta.Fingerprints(records))
	for _, w := range changes.Warnings {
		c.logger.Warn("fingerprint failed, treating file as deleted", zap.String("path", w.Path), zap.Error(w.Err))
	}

	// Embedding: added and modified files flow through the worker pool;
	// each worker commits its own file (vector delete, upsert) and reports
	// the new record back.
	c.setState(StateEmbedding)
	outcomes := c.processFiles(ctx, append(changes.Added, changes.Modified...), records)

	added := make(map[string]bool, len(changes.Added))
	for _, cand := range changes.Added {
		added[cand.RelPath] = true
	}
	for _, out := range outcomes {
		switch {
		case out.err != nil:
			result.Deferred++
			c.logger.Warn("file deferred to next pass", zap.String("path", out.relPath), zap.Error(out.err))
		case out.record != nil:
			records[out.relPath] = out.record
			result.Chunks += len(out.record.ChunkIDs)
			if added[out.relPath] {
				result.Added++
			} else {
				result.Modified++
			}
		default:
			// Binary or empty file: nothing to index. Remove any stale
			// record it may have had.
			if rec, ok := records[out.relPath]; ok {
				if err := c.removeFile(ctx, out.relPath, rec, records); err == nil {
					result.Deleted++
				} else {
					result.Deferred++
				}
			}
		}
	}

	// Committing: deleted files, then the durable metadata flush.
	c.setState(StateCommitting)
	for _, relPath := range changes.Deleted {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rec, ok := records[relPath]
		if !ok {
			continue
		}
		if err := c.removeFile(ctx, relPath, rec, records); err != nil {
			result.Deferred++
			c.logger.Warn("delete deferred to next pass", zap.String("path", relPath), zap.Error(err))
			continue
		}
		result.Deleted++
	}

	if err := c.vectors.Sync(); err != nil {
		return nil, fmt.Errorf("sync vector store: %w", err)
	}
	// The metadata write is the recovery point: it must land durably before
	// the pass returns to Idle.
	if err := c.metaStore.Save(c.proj.ID, records); err != nil {
		return nil, fmt.Errorf("persist metadata: %w", err)
	}

	c.mu.Lock()
	c.fileCount = len(records)
	c.mu.Unlock()

	result.Duration = time.Since(start)
	return result, nil
}

// removeFile deletes a file's vectors and then drops its record.
func (c *Coordinator) removeFile(ctx context.Context, relPath string, rec *meta.FileRecord, records map[string]*meta.FileRecord) error {
	if err := c.vectors.Delete(ctx, c.proj.ID, rec.ChunkIDs); err != nil {
		return err
	}
	delete(records, relPath)
	return nil
}

// fileOutcome is one worker's report for one file. record==nil with err==nil
// means the file produced no chunks (binary or empty).
type fileOutcome struct {
	relPath string
	record  *meta.FileRecord
	err     error
}

// processFiles runs candidates through a bounded worker pool. Ordering across
// files is unconstrained; each file's metadata record is produced only after
// its own vector store operations completed.
func (c *Coordinator) processFiles(ctx context.Context, candidates []scan.Candidate, records map[string]*meta.FileRecord) []fileOutcome {
	if len(candidates) == 0 {
		return nil
	}

	jobs := make(chan scan.Candidate, len(candidates))
	results := make(chan fileOutcome, len(candidates))

	var wg stdsync.WaitGroup
	for i := 0; i < c.opts.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for cand := range jobs {
				if ctx.Err() != nil {
					results <- fileOutcome{relPath: cand.RelPath, err: ctx.Err()}
					continue
				}
				var old []string
				if rec, ok := records[cand.RelPath]; ok {
					old = rec.ChunkIDs
				}
				rec, err := c.syncFile(ctx, cand, old)
				results <- fileOutcome{relPath: cand.RelPath, record: rec, err: err}
			}
		}()
	}

	for _, cand := range candidates {
		jobs <- cand
	}
	close(jobs)
	wg.Wait()
	close(results)

	outcomes := make([]fileOutcome, 0, len(candidates))
	for out := range results {
		outcomes = append(outcomes, out)
	}
	return outcomes
}

// syncFile re-chunks and re-embeds one file, then commits it: delete the old
// chunk ids, upsert the new entries, and only then build the new record. A
// crash mid-commit leaves at worst duplicate-but-valid vectors for the file,
// never a file with bookkeeping and no vectors.
func (c *Coordinator) syncFile(ctx context.Context, cand scan.Candidate, oldChunkIDs []string) (*meta.FileRecord, error) {
	content, err := os.ReadFile(cand.AbsPath)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	if len(content) == 0 || !scan.IsText(content) {
		return nil, nil
	}

	chunks := c.chunker.Split(cand.RelPath, string(content))
	if len(chunks) == 0 {
		return nil, nil
	}

	entries := make([]store.Entry, 0, len(chunks))
	for batchStart := 0; batchStart < len(chunks); batchStart += c.opts.BatchSize {
		batchEnd := min(batchStart+c.opts.BatchSize, len(chunks))
		batch := chunks[batchStart:batchEnd]

		texts := make([]string, len(batch))
		for i, ch := range batch {
			texts[i] = ch.Text
		}

		vectors, err := embed.Retry(ctx, c.opts.Retry, func() ([][]float32, error) {
			batchCtx, cancel := context.WithTimeout(ctx, c.opts.BatchTimeout)
			defer cancel()
			return c.provider.EmbedBatch(batchCtx, texts)
		})
		if err != nil {
			return nil, fmt.Errorf("embed batch: %w", err)
		}
		if len(vectors) != len(batch) {
			return nil, fmt.Errorf("embed batch: got %d vectors for %d chunks", len(vectors), len(batch))
		}

		for i, ch := range batch {
			entries = append(entries, store.Entry{
				ChunkID: ch.ID,
				Vector:  vectors[i],
				Meta: store.Metadata{
					FilePath: cand.RelPath,
					Ordinal:  ch.Ordinal,
					Start:    ch.Start,
					End:      ch.End,
					Content:  ch.Text,
				},
			})
		}
	}

	if err := c.vectors.Delete(ctx, c.proj.ID, oldChunkIDs); err != nil {
		return nil, fmt.Errorf("delete old vectors: %w", err)
	}
	if err := c.vectors.Upsert(ctx, c.proj.ID, entries); err != nil {
		return nil, fmt.Errorf("upsert vectors: %w", err)
	}

	chunkIDs := make([]string, len(entries))
	for i, e := range entries {
		chunkIDs[i] = e.ChunkID
	}
	return &meta.FileRecord{
		Path:        cand.RelPath,
		Fingerprint: cand.Fingerprint,
		ModTime:     cand.ModTime,
		ChunkIDs:    chunkIDs,
		LastSync:    time.Now(),
	}, nil
}

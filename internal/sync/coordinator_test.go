package sync

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	stdsync "sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/semsync/semsync/internal/embed"
	"github.com/semsync/semsync/internal/meta"
	"github.com/semsync/semsync/internal/project"
	"github.com/semsync/semsync/internal/store"
)

// fakeStore is an in-memory Store for exercising the coordinator.
type fakeStore struct {
	mu       stdsync.Mutex
	entries  map[string]map[string]store.Entry // project → chunk id → entry
	dropped  []string
	synced   int
	failSync error
}

func newFakeStore() *fakeStore {
	return &fakeStore{entries: make(map[string]map[string]store.Entry)}
}

func (f *fakeStore) coll(projectID string) map[string]store.Entry {
	if f.entries[projectID] == nil {
		f.entries[projectID] = make(map[string]store.Entry)
	}
	return f.entries[projectID]
}

func (f *fakeStore) Upsert(ctx context.Context, projectID string, entries []store.Entry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	coll := f.coll(projectID)
	for _, e := range entries {
		coll[e.ChunkID] = e
	}
	return nil
}

func (f *fakeStore) Delete(ctx context.Context, projectID string, chunkIDs []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	coll := f.coll(projectID)
	for _, id := range chunkIDs {
		delete(coll, id)
	}
	return nil
}

func (f *fakeStore) Query(ctx context.Context, projectID string, vector []float32, k int, filter store.Filter) ([]store.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var results []store.Result
	for _, e := range f.coll(projectID) {
		if filter.FilePath != "" && e.Meta.FilePath != filter.FilePath {
			continue
		}
		results = append(results, store.Result{ChunkID: e.ChunkID, Score: 1, Meta: e.Meta})
	}
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

func (f *fakeStore) ChunkIDs(projectID string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []string
	for id := range f.coll(projectID) {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (f *fakeStore) Count(projectID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(len(f.coll(projectID))), nil
}

func (f *fakeStore) DropProject(projectID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.entries, projectID)
	f.dropped = append(f.dropped, projectID)
	return nil
}

func (f *fakeStore) Sync() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSync != nil {
		return f.failSync
	}
	f.synced++
	return nil
}

func (f *fakeStore) Close() error { return nil }

// mockProvider fails any batch containing failSubstring, otherwise returns
// fixed-size vectors.
type mockProvider struct {
	mu            stdsync.Mutex
	dims          int
	failSubstring string
	batchCalls    int
}

func (p *mockProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := p.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (p *mockProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.batchCalls++
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if p.failSubstring != "" && strings.Contains(text, p.failSubstring) {
			return nil, embed.ErrProviderUnavailable
		}
		out[i] = make([]float32, p.dims)
	}
	return out, nil
}

func (p *mockProvider) Model() string                  { return "mock" }
func (p *mockProvider) Dimensions() int                { return p.dims }
func (p *mockProvider) Ping(ctx context.Context) error { return nil }

func (p *mockProvider) setFailSubstring(s string) {
	p.mu.Lock()
	p.failSubstring = s
	p.mu.Unlock()
}

type harness struct {
	root      string
	proj      *project.Project
	metaStore *meta.Store
	vectors   *fakeStore
	provider  *mockProvider
	coord     *Coordinator
}

func testOptions() Options {
	return Options{
		BatchSize:    8,
		Workers:      2,
		BatchTimeout: time.Second,
		Retry:        embed.RetryConfig{MaxAttempts: 1, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1},
	}
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	root := t.TempDir()
	proj, err := project.New(root, project.Rules{
		Extensions:  []string{".txt", ".go"},
		ExcludeDirs: []string{".git"},
		MaxFileSize: 1024 * 1024,
	}, 100, 20)
	if err != nil {
		t.Fatal(err)
	}

	metaStore, err := meta.NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	vectors := newFakeStore()
	provider := &mockProvider{dims: 8}

	coord, err := NewCoordinator(proj, metaStore, vectors, provider, testOptions(), zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	return &harness{
		root:      root,
		proj:      proj,
		metaStore: metaStore,
		vectors:   vectors,
		provider:  provider,
		coord:     coord,
	}
}

func (h *harness) write(t *testing.T, rel, content string) {
	t.Helper()
	path := filepath.Join(h.root, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

// checkNoOrphans verifies the vector store holds exactly the chunk ids the
// metadata records claim.
func (h *harness) checkNoOrphans(t *testing.T) {
	t.Helper()
	records, err := h.metaStore.Load(h.proj.ID)
	if err != nil {
		t.Fatal(err)
	}
	want := make(map[string]bool)
	for _, rec := range records {
		for _, id := range rec.ChunkIDs {
			want[id] = true
		}
	}
	got, err := h.vectors.ChunkIDs(h.proj.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != len(want) {
		t.Errorf("store has %d chunks, metadata claims %d", len(got), len(want))
	}
	for _, id := range got {
		if !want[id] {
			t.Errorf("orphan chunk in store: %s", id)
		}
	}
}

func TestSyncNow_InitialPass(t *testing.T) {
	h := newHarness(t)
	h.write(t, "a.txt", strings.Repeat("alpha ", 40)) // multiple chunks
	h.write(t, "b.txt", "short file")

	result, err := h.coord.SyncNow(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if result.Added != 2 {
		t.Errorf("added: got %d, want 2", result.Added)
	}
	if result.Modified != 0 || result.Deleted != 0 || result.Deferred != 0 {
		t.Errorf("unexpected counts: %+v", result)
	}
	if result.Chunks < 3 {
		t.Errorf("expected at least 3 chunks, got %d", result.Chunks)
	}

	status := h.coord.Status()
	if status.State != StateIdle {
		t.Errorf("state: got %s", status.State)
	}
	if status.FileCount != 2 {
		t.Errorf("file count: got %d", status.FileCount)
	}
	if status.LastSyncTime.IsZero() {
		t.Error("last sync time not set")
	}
	h.checkNoOrphans(t)
}

func TestSyncNow_Idempotent(t *testing.T) {
	h := newHarness(t)
	h.write(t, "a.txt", "stable content")

	if _, err := h.coord.SyncNow(context.Background()); err != nil {
		t.Fatal(err)
	}
	result, err := h.coord.SyncNow(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if result.Added != 0 || result.Modified != 0 || result.Deleted != 0 || result.Chunks != 0 {
		t.Errorf("second pass should change nothing, got %+v", result)
	}
}

func TestSyncNow_ModifiedFile(t *testing.T) {
	h := newHarness(t)
	h.write(t, "a.txt", strings.Repeat("before ", 40))

	if _, err := h.coord.SyncNow(context.Background()); err != nil {
		t.Fatal(err)
	}
	before, _ := h.vectors.ChunkIDs(h.proj.ID)

	h.write(t, "a.txt", "after")
	result, err := h.coord.SyncNow(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if result.Modified != 1 || result.Added != 0 {
		t.Errorf("got %+v", result)
	}

	after, _ := h.vectors.ChunkIDs(h.proj.ID)
	if len(after) >= len(before) {
		t.Errorf("shrunk file should have fewer chunks: before=%d after=%d", len(before), len(after))
	}
	h.checkNoOrphans(t)
}

func TestSyncNow_DeletedFile(t *testing.T) {
	h := newHarness(t)
	h.write(t, "a.txt", "content a")
	h.write(t, "b.txt", "content b")

	if _, err := h.coord.SyncNow(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := os.Remove(filepath.Join(h.root, "a.txt")); err != nil {
		t.Fatal(err)
	}

	result, err := h.coord.SyncNow(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if result.Deleted != 1 {
		t.Errorf("deleted: got %d", result.Deleted)
	}

	ids, _ := h.vectors.ChunkIDs(h.proj.ID)
	for _, id := range ids {
		if strings.HasPrefix(id, "a.txt#") {
			t.Errorf("residual chunk for deleted file: %s", id)
		}
	}
	h.checkNoOrphans(t)
}

func TestSyncNow_ConcurrentPassRejected(t *testing.T) {
	h := newHarness(t)
	if !h.coord.gate.TryAcquire() {
		t.Fatal("gate should be free")
	}
	defer h.coord.gate.Release()

	_, err := h.coord.SyncNow(context.Background())
	if !errors.Is(err, ErrSyncRunning) {
		t.Errorf("expected ErrSyncRunning, got %v", err)
	}
}

func TestSyncNow_DeferredFileRetriedNextPass(t *testing.T) {
	h := newHarness(t)
	h.write(t, "good.txt", "plain content")
	h.write(t, "bad.txt", "POISON content")
	h.provider.setFailSubstring("POISON")

	result, err := h.coord.SyncNow(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if result.Added != 1 || result.Deferred != 1 {
		t.Errorf("got %+v", result)
	}
	if h.coord.Status().PendingCount != 1 {
		t.Errorf("pending: got %d", h.coord.Status().PendingCount)
	}
	h.checkNoOrphans(t)

	// Provider recovers; the deferred file is picked up as added.
	h.provider.setFailSubstring("")
	result, err = h.coord.SyncNow(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if result.Added != 1 || result.Deferred != 0 {
		t.Errorf("got %+v", result)
	}
	if h.coord.Status().PendingCount != 0 {
		t.Errorf("pending after recovery: got %d", h.coord.Status().PendingCount)
	}
	h.checkNoOrphans(t)
}

func TestSyncNow_RootMissing(t *testing.T) {
	h := newHarness(t)
	h.write(t, "a.txt", "content")
	if _, err := h.coord.SyncNow(context.Background()); err != nil {
		t.Fatal(err)
	}

	if err := os.RemoveAll(h.root); err != nil {
		t.Fatal(err)
	}
	result, err := h.coord.SyncNow(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if result.Deleted != 1 {
		t.Errorf("deleted: got %d", result.Deleted)
	}
	if !h.coord.Status().RootMissing {
		t.Error("root-missing flag not set")
	}

	count, _ := h.vectors.Count(h.proj.ID)
	if count != 0 {
		t.Errorf("expected empty collection, got %d entries", count)
	}
}

func TestSyncNow_BinaryFileProducesNoRecord(t *testing.T) {
	h := newHarness(t)
	path := filepath.Join(h.root, "blob.txt")
	if err := os.WriteFile(path, []byte{0x00, 0x01, 0x02, 0xff}, 0o644); err != nil {
		t.Fatal(err)
	}

	result, err := h.coord.SyncNow(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if result.Added != 0 || result.Chunks != 0 {
		t.Errorf("binary file should not be indexed: %+v", result)
	}
	records, err := h.metaStore.Load(h.proj.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 0 {
		t.Errorf("expected no records, got %d", len(records))
	}
}

func TestSyncNow_ChunkIDsArePositional(t *testing.T) {
	h := newHarness(t)
	h.write(t, "a.txt", strings.Repeat("word ", 60))

	if _, err := h.coord.SyncNow(context.Background()); err != nil {
		t.Fatal(err)
	}
	records, err := h.metaStore.Load(h.proj.ID)
	if err != nil {
		t.Fatal(err)
	}
	rec := records["a.txt"]
	if rec == nil {
		t.Fatal("record missing")
	}
	for i, id := range rec.ChunkIDs {
		want := fmt.Sprintf("a.txt#%d", i)
		if id != want {
			t.Errorf("chunk id %d: got %s, want %s", i, id, want)
		}
	}
}

func TestSyncNow_FailedStatePersists(t *testing.T) {
	h := newHarness(t)
	h.write(t, "a.txt", "content")
	h.vectors.failSync = errors.New("disk full")

	if _, err := h.coord.SyncNow(context.Background()); err == nil {
		t.Fatal("expected pass failure")
	}
	status := h.coord.Status()
	if status.State != StateFailed {
		t.Errorf("state: got %s, want %s", status.State, StateFailed)
	}
	if status.LastError == "" {
		t.Error("last error not reported")
	}

	// The next pass clears the failure.
	h.vectors.failSync = nil
	if _, err := h.coord.SyncNow(context.Background()); err != nil {
		t.Fatal(err)
	}
	status = h.coord.Status()
	if status.State != StateIdle || status.LastError != "" {
		t.Errorf("status after recovery: %+v", status)
	}
}

var _ store.Store = (*fakeStore)(nil)
var _ embed.Provider = (*mockProvider)(nil)

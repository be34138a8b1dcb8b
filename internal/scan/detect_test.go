package scan

import (
	"os"
	"path/filepath"
	"testing"
)

func entryFor(t *testing.T, root, rel, content string) FileEntry {
	t.Helper()
	abs := filepath.Join(root, rel)
	writeFile(t, abs, content)
	info, err := os.Stat(abs)
	if err != nil {
		t.Fatal(err)
	}
	return FileEntry{AbsPath: abs, RelPath: rel, Size: info.Size(), ModTime: info.ModTime()}
}

func TestClassify_Buckets(t *testing.T) {
	root := t.TempDir()
	added := entryFor(t, root, "added.txt", "new file")
	same := entryFor(t, root, "same.txt", "unchanged")
	changed := entryFor(t, root, "changed.txt", "after")

	sameFP, err := Fingerprint(same.AbsPath)
	if err != nil {
		t.Fatal(err)
	}
	recorded := map[string]string{
		"same.txt":    sameFP,
		"changed.txt": "0000000000000000",
		"gone.txt":    "1111111111111111",
	}

	ch := Classify([]FileEntry{added, same, changed}, recorded)

	if len(ch.Added) != 1 || ch.Added[0].RelPath != "added.txt" {
		t.Errorf("added: %v", ch.Added)
	}
	if len(ch.Unchanged) != 1 || ch.Unchanged[0].RelPath != "same.txt" {
		t.Errorf("unchanged: %v", ch.Unchanged)
	}
	if len(ch.Modified) != 1 || ch.Modified[0].RelPath != "changed.txt" {
		t.Errorf("modified: %v", ch.Modified)
	}
	if len(ch.Deleted) != 1 || ch.Deleted[0] != "gone.txt" {
		t.Errorf("deleted: %v", ch.Deleted)
	}
	if len(ch.Warnings) != 0 {
		t.Errorf("unexpected warnings: %v", ch.Warnings)
	}
}

func TestClassify_FingerprintFailure(t *testing.T) {
	root := t.TempDir()
	missing := FileEntry{
		AbsPath: filepath.Join(root, "vanished.txt"),
		RelPath: "vanished.txt",
	}
	recorded := map[string]string{"vanished.txt": "2222222222222222"}

	ch := Classify([]FileEntry{missing}, recorded)

	// An unreadable recorded file is classified deleted with a warning so its
	// stale vectors get removed.
	if len(ch.Deleted) != 1 || ch.Deleted[0] != "vanished.txt" {
		t.Errorf("deleted: %v", ch.Deleted)
	}
	if len(ch.Warnings) != 1 {
		t.Fatalf("expected 1 warning, got %d", len(ch.Warnings))
	}
}

func TestClassify_FingerprintFailureUnrecorded(t *testing.T) {
	root := t.TempDir()
	missing := FileEntry{
		AbsPath: filepath.Join(root, "never-indexed.txt"),
		RelPath: "never-indexed.txt",
	}

	ch := Classify([]FileEntry{missing}, map[string]string{})

	// Never-recorded unreadable files produce only a warning.
	if len(ch.Deleted) != 0 {
		t.Errorf("deleted: %v", ch.Deleted)
	}
	if len(ch.Warnings) != 1 {
		t.Errorf("expected 1 warning, got %d", len(ch.Warnings))
	}
}

func TestClassify_EmptyState(t *testing.T) {
	ch := Classify(nil, nil)
	if len(ch.Added)+len(ch.Modified)+len(ch.Unchanged)+len(ch.Deleted) != 0 {
		t.Error("expected empty classification")
	}
}

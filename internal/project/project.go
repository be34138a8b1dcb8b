// Package project defines watched projects and the registry that owns them.
package project

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Rules control which files of a project are indexed.
type Rules struct {
	// Extensions is the allow-list of file extensions (with leading dot).
	Extensions []string
	// ExcludeDirs are directory base-name patterns skipped during walks.
	ExcludeDirs []string
	// MaxFileSize excludes files larger than this many bytes.
	MaxFileSize int64
}

// Excluded reports whether a directory base name matches the exclude list.
func (r Rules) Excluded(name string) bool {
	for _, d := range r.ExcludeDirs {
		if name == d {
			return true
		}
	}
	return false
}

// Project is one watched root directory.
type Project struct {
	// Root is the absolute path of the watched directory.
	Root string
	// ID is the collection identifier, derived deterministically from Root.
	ID string
	// Rules filter the candidate file set.
	Rules Rules
	// ChunkSize and ChunkOverlap are the chunking parameters in characters.
	ChunkSize    int
	ChunkOverlap int
}

// New validates the parameters and builds a Project. Chunking parameters are
// checked here so a bad configuration is rejected at registration, never
// during a running pass.
func New(root string, rules Rules, chunkSize, chunkOverlap int) (*Project, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve root: %w", err)
	}
	if chunkSize <= 0 {
		return nil, fmt.Errorf("project %s: chunk size must be positive, got %d", abs, chunkSize)
	}
	if chunkOverlap < 0 || chunkOverlap >= chunkSize {
		return nil, fmt.Errorf("project %s: chunk overlap must satisfy 0 <= overlap < size, got overlap=%d size=%d",
			abs, chunkOverlap, chunkSize)
	}
	return &Project{
		Root:         abs,
		ID:           CollectionID(abs),
		Rules:        rules,
		ChunkSize:    chunkSize,
		ChunkOverlap: chunkOverlap,
	}, nil
}

var collectionNameRe = regexp.MustCompile(`[^a-zA-Z0-9_-]`)

// CollectionID derives the vector collection identifier from an absolute path.
// The base name keeps collections human-recognizable, the hash suffix keeps
// them unique across same-named directories.
func CollectionID(absRoot string) string {
	base := collectionNameRe.ReplaceAllString(filepath.Base(absRoot), "_")
	if base == "" || base == "_" {
		base = "project"
	}
	sum := sha256.Sum256([]byte(absRoot))
	return base + "-" + hex.EncodeToString(sum[:])[:12]
}

// markerFiles identify a directory as a project root during discovery.
var markerFiles = []string{
	".git", "go.mod", "package.json", "pyproject.toml", "Cargo.toml",
}

// IsProjectRoot reports whether dir contains a project marker.
func IsProjectRoot(dir string) bool {
	for _, marker := range markerFiles {
		if _, err := os.Stat(filepath.Join(dir, marker)); err == nil {
			return true
		}
	}
	return false
}

// Discover walks the given paths one level deep and returns directories that
// look like project roots. A path that is itself a root is returned as-is.
func Discover(paths []string) ([]string, error) {
	var roots []string
	seen := make(map[string]bool)

	add := func(dir string) {
		abs, err := filepath.Abs(dir)
		if err != nil {
			return
		}
		if !seen[abs] {
			seen[abs] = true
			roots = append(roots, abs)
		}
	}

	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", p, err)
		}
		if !info.IsDir() {
			continue
		}
		if IsProjectRoot(p) {
			add(p)
			continue
		}
		entries, err := os.ReadDir(p)
		if err != nil {
			return nil, fmt.Errorf("read dir %s: %w", p, err)
		}
		for _, e := range entries {
			if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
				continue
			}
			child := filepath.Join(p, e.Name())
			if IsProjectRoot(child) {
				add(child)
			}
		}
	}
	return roots, nil
}

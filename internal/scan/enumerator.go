// Package scan enumerates candidate files of a project and classifies them
// against recorded metadata.
package scan

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	gitignore "github.com/sabhiram/go-gitignore"

	"github.com/semsync/semsync/internal/config"
	"github.com/semsync/semsync/internal/project"
)

// FileEntry is one candidate file produced by enumeration.
type FileEntry struct {
	AbsPath string
	RelPath string
	Size    int64
	ModTime time.Time
}

// PathError records a subtree or file that could not be read during
// enumeration. Enumeration is partial-failure tolerant: these are reported,
// not fatal.
type PathError struct {
	Path string
	Err  error
}

func (e PathError) Error() string {
	return fmt.Sprintf("enumerate %s: %v", e.Path, e.Err)
}

// Enumerator walks a project root applying its rule set.
type Enumerator struct {
	proj    *project.Project
	matcher *gitignore.GitIgnore
	exts    map[string]bool
}

// NewEnumerator builds an enumerator for the project, compiling the exclude
// rules together with the patterns of the project's ignore file.
func NewEnumerator(proj *project.Project) *Enumerator {
	patterns := make([]string, 0, len(proj.Rules.ExcludeDirs))
	for _, dir := range proj.Rules.ExcludeDirs {
		patterns = append(patterns, dir+"/")
	}
	patterns = append(patterns, readIgnoreFile(filepath.Join(proj.Root, config.IgnoreFileName))...)

	exts := make(map[string]bool, len(proj.Rules.Extensions))
	for _, ext := range proj.Rules.Extensions {
		exts[strings.ToLower(ext)] = true
	}

	return &Enumerator{
		proj:    proj,
		matcher: gitignore.CompileIgnoreLines(patterns...),
		exts:    exts,
	}
}

// readIgnoreFile loads gitignore-style patterns, skipping blanks and comments.
func readIgnoreFile(path string) []string {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var patterns []string
	for _, line := range strings.Split(string(content), "\n") {
		line = strings.TrimSpace(line)
		if line != "" && !strings.HasPrefix(line, "#") {
			patterns = append(patterns, line)
		}
	}
	return patterns
}

// Enumerate walks the project root and returns the candidate file set ordered
// by relative path, plus per-path errors for unreadable subtrees. Directory
// symlink cycles are broken by tracking each directory's canonical path.
func (e *Enumerator) Enumerate(ctx context.Context) ([]FileEntry, []PathError, error) {
	var (
		files    []FileEntry
		pathErrs []PathError
		visited  = make(map[string]bool)
	)

	err := filepath.WalkDir(e.proj.Root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			pathErrs = append(pathErrs, PathError{Path: p, Err: err})
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		relPath, relErr := filepath.Rel(e.proj.Root, p)
		if relErr != nil {
			relPath = p
		}

		if d.IsDir() {
			if relPath != "." && e.matcher.MatchesPath(relPath+"/") {
				return filepath.SkipDir
			}
			canonical, evalErr := filepath.EvalSymlinks(p)
			if evalErr != nil {
				pathErrs = append(pathErrs, PathError{Path: p, Err: evalErr})
				return filepath.SkipDir
			}
			if visited[canonical] {
				return filepath.SkipDir
			}
			visited[canonical] = true
			return nil
		}

		if e.matcher.MatchesPath(relPath) {
			return nil
		}
		if len(e.exts) > 0 && !e.exts[strings.ToLower(filepath.Ext(p))] {
			return nil
		}

		info, infoErr := d.Info()
		if infoErr != nil {
			pathErrs = append(pathErrs, PathError{Path: p, Err: infoErr})
			return nil
		}
		if e.proj.Rules.MaxFileSize > 0 && info.Size() > e.proj.Rules.MaxFileSize {
			return nil
		}

		files = append(files, FileEntry{
			AbsPath: p,
			RelPath: filepath.ToSlash(relPath),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
		return nil
	})
	if err != nil {
		return nil, pathErrs, err
	}

	sort.Slice(files, func(i, j int) bool { return files[i].RelPath < files[j].RelPath })
	return files, pathErrs, nil
}

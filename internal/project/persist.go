package project

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// RootsFileName is the file under the data dir recording registered roots.
const RootsFileName = "projects.json"

type persistedRoots struct {
	Roots []string `json:"roots"`
}

// SaveRoots writes the registered root paths to the data dir. The write goes
// through a temp file and rename so a crash never truncates the list.
func SaveRoots(dataDir string, roots []string) error {
	sorted := append([]string(nil), roots...)
	sort.Strings(sorted)

	data, err := json.MarshalIndent(persistedRoots{Roots: sorted}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal project roots: %w", err)
	}

	path := filepath.Join(dataDir, RootsFileName)
	tmp, err := os.CreateTemp(dataDir, RootsFileName+".tmp*")
	if err != nil {
		return fmt.Errorf("create temp roots file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write roots file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync roots file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close roots file: %w", err)
	}
	return os.Rename(tmp.Name(), path)
}

// LoadRoots reads the registered root paths from the data dir. A missing file
// means no projects are registered.
func LoadRoots(dataDir string) ([]string, error) {
	data, err := os.ReadFile(filepath.Join(dataDir, RootsFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read roots file: %w", err)
	}
	var pr persistedRoots
	if err := json.Unmarshal(data, &pr); err != nil {
		return nil, fmt.Errorf("parse roots file: %w", err)
	}
	return pr.Roots, nil
}

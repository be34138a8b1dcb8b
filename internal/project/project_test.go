package project

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNew_ValidatesChunkParams(t *testing.T) {
	root := t.TempDir()
	rules := Rules{Extensions: []string{".go"}}

	if _, err := New(root, rules, 0, 0); err == nil {
		t.Error("expected error for zero chunk size")
	}
	if _, err := New(root, rules, 100, 100); err == nil {
		t.Error("expected error for overlap == size")
	}
	if _, err := New(root, rules, 100, -1); err == nil {
		t.Error("expected error for negative overlap")
	}
	if _, err := New(root, rules, 100, 0); err != nil {
		t.Errorf("zero overlap should be valid: %v", err)
	}
}

func TestNew_ResolvesAbsoluteRoot(t *testing.T) {
	proj, err := New(".", Rules{}, 1000, 200)
	if err != nil {
		t.Fatal(err)
	}
	if !filepath.IsAbs(proj.Root) {
		t.Errorf("root not absolute: %s", proj.Root)
	}
}

func TestCollectionID_Deterministic(t *testing.T) {
	a := CollectionID("/home/user/myproject")
	b := CollectionID("/home/user/myproject")
	if a != b {
		t.Errorf("ids differ for same path: %s vs %s", a, b)
	}
	if !strings.HasPrefix(a, "myproject-") {
		t.Errorf("expected base-name prefix, got %s", a)
	}
}

func TestCollectionID_DistinguishesSameBaseName(t *testing.T) {
	a := CollectionID("/home/alice/app")
	b := CollectionID("/home/bob/app")
	if a == b {
		t.Error("same-named roots must get distinct collection ids")
	}
}

func TestCollectionID_SanitizesName(t *testing.T) {
	id := CollectionID("/tmp/my project (v2)")
	for _, r := range id {
		if !(r == '_' || r == '-' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')) {
			t.Errorf("invalid character %q in collection id %s", r, id)
		}
	}
}

func TestRules_Excluded(t *testing.T) {
	r := Rules{ExcludeDirs: []string{".git", "node_modules"}}
	if !r.Excluded(".git") {
		t.Error(".git should be excluded")
	}
	if r.Excluded("src") {
		t.Error("src should not be excluded")
	}
}

func TestRegistry_RegisterUnregister(t *testing.T) {
	reg := NewRegistry()
	proj, err := New(t.TempDir(), Rules{}, 1000, 200)
	if err != nil {
		t.Fatal(err)
	}

	if err := reg.Register(proj); err != nil {
		t.Fatal(err)
	}
	if err := reg.Register(proj); err != ErrAlreadyRegistered {
		t.Errorf("expected ErrAlreadyRegistered, got %v", err)
	}

	got, err := reg.Get(proj.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Root != proj.Root {
		t.Errorf("got root %s", got.Root)
	}

	byRoot, ok := reg.ByRoot(proj.Root)
	if !ok || byRoot.ID != proj.ID {
		t.Error("ByRoot lookup failed")
	}

	if _, err := reg.Unregister(proj.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := reg.Get(proj.ID); err != ErrNotRegistered {
		t.Errorf("expected ErrNotRegistered after unregister, got %v", err)
	}
	if _, err := reg.Unregister(proj.ID); err != ErrNotRegistered {
		t.Errorf("expected ErrNotRegistered for double unregister, got %v", err)
	}
}

func TestRegistry_ListSorted(t *testing.T) {
	reg := NewRegistry()
	base := t.TempDir()
	for _, name := range []string{"zulu", "alpha", "mike"} {
		dir := filepath.Join(base, name)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatal(err)
		}
		proj, err := New(dir, Rules{}, 1000, 200)
		if err != nil {
			t.Fatal(err)
		}
		if err := reg.Register(proj); err != nil {
			t.Fatal(err)
		}
	}

	list := reg.List()
	if len(list) != 3 {
		t.Fatalf("expected 3 projects, got %d", len(list))
	}
	for i := 1; i < len(list); i++ {
		if list[i-1].Root > list[i].Root {
			t.Errorf("list not sorted: %s before %s", list[i-1].Root, list[i].Root)
		}
	}
}

func TestIsProjectRoot(t *testing.T) {
	dir := t.TempDir()
	if IsProjectRoot(dir) {
		t.Error("empty dir misdetected as project root")
	}
	if err := os.WriteFile(filepath.Join(dir, "go.mod"), []byte("module x\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if !IsProjectRoot(dir) {
		t.Error("dir with go.mod not detected as project root")
	}
}

func TestDiscover(t *testing.T) {
	base := t.TempDir()
	mk := func(name, marker string) string {
		dir := filepath.Join(base, name)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatal(err)
		}
		if marker != "" {
			if err := os.WriteFile(filepath.Join(dir, marker), []byte("x"), 0o644); err != nil {
				t.Fatal(err)
			}
		}
		return dir
	}
	withGit := mk("repo", ".git")
	mk("plain", "")
	mk(".hidden", "go.mod")

	roots, err := Discover([]string{base})
	if err != nil {
		t.Fatal(err)
	}
	if len(roots) != 1 || roots[0] != withGit {
		t.Errorf("got %v, want [%s]", roots, withGit)
	}
}

func TestSaveLoadRoots(t *testing.T) {
	dir := t.TempDir()

	// Missing file means no registered roots.
	roots, err := LoadRoots(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(roots) != 0 {
		t.Errorf("expected empty, got %v", roots)
	}

	if err := SaveRoots(dir, []string{"/b", "/a"}); err != nil {
		t.Fatal(err)
	}
	roots, err = LoadRoots(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(roots) != 2 || roots[0] != "/a" || roots[1] != "/b" {
		t.Errorf("got %v", roots)
	}
}

package guard

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/claudeck/claudeck/pkg/models"
)

func newTestGuard(t *testing.T, projectRoots, fileRoots []string) *PathGuard {
	t.Helper()
	g, err := NewPathGuard(projectRoots, fileRoots)
	if err != nil {
		t.Fatalf("NewPathGuard: %v", err)
	}
	return g
}

func TestResolveProject_Containment(t *testing.T) {
	root := t.TempDir()
	sub := filepath.Join(root, "workspace")
	if err := os.MkdirAll(sub, 0o755); err != nil {
		t.Fatal(err)
	}

	// Sibling whose name shares the root as a string prefix.
	evil := root + "-evil"
	if err := os.MkdirAll(evil, 0o755); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.RemoveAll(evil) })

	g := newTestGuard(t, []string{root}, nil)

	tests := []struct {
		name    string
		path    string
		wantErr error
	}{
		{"root itself", root, nil},
		{"subdirectory", sub, nil},
		{"traversal escapes root", filepath.Join(root, "..", "etc"), models.ErrPathDenied},
		{"sibling with root prefix", evil, models.ErrPathDenied},
		{"outside entirely", "/etc", models.ErrPathDenied},
		{"empty path", "", models.ErrPathDenied},
		{"dot basename", root + "/.", models.ErrPathDenied},
		{"dotdot basename", filepath.Join(sub, ".."), models.ErrPathDenied},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := g.ResolveProject(tt.path)
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("ResolveProject(%q) = %v, want nil", tt.path, err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("ResolveProject(%q) = %v, want %v", tt.path, err, tt.wantErr)
			}
		})
	}
}

func TestResolveFile_SymlinkEscape(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()

	link := filepath.Join(root, "escape")
	if err := os.Symlink(outside, link); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	g := newTestGuard(t, nil, []string{root})

	// The symlink target lies outside the root; the canonical form must be
	// checked, not the lexical one.
	if _, err := g.ResolveFile(filepath.Join(link, "secret.txt")); !errors.Is(err, models.ErrPathDenied) {
		t.Fatalf("symlink escape resolved: %v", err)
	}

	// A symlink pointing back inside the root is fine.
	inner := filepath.Join(root, "real")
	if err := os.MkdirAll(inner, 0o755); err != nil {
		t.Fatal(err)
	}
	alias := filepath.Join(root, "alias")
	if err := os.Symlink(inner, alias); err != nil {
		t.Fatal(err)
	}
	got, err := g.ResolveFile(alias)
	if err != nil {
		t.Fatalf("internal symlink rejected: %v", err)
	}
	canonInner, _ := filepath.EvalSymlinks(inner)
	if got != canonInner {
		t.Fatalf("ResolveFile(alias) = %q, want %q", got, canonInner)
	}
}

func TestResolveFile_NonexistentTarget(t *testing.T) {
	root := t.TempDir()
	g := newTestGuard(t, nil, []string{root})

	// Create target: the file does not exist, but its parent does and sits
	// inside the root.
	got, err := g.ResolveFile(filepath.Join(root, "new.txt"))
	if err != nil {
		t.Fatalf("ResolveFile new file: %v", err)
	}
	canonRoot, _ := filepath.EvalSymlinks(root)
	if got != filepath.Join(canonRoot, "new.txt") {
		t.Fatalf("ResolveFile new file = %q", got)
	}

	// Parent missing too: not found, not denied.
	_, err = g.ResolveFile(filepath.Join(root, "missing", "deep.txt"))
	if !errors.Is(err, models.ErrPathNotFound) {
		t.Fatalf("missing parent: got %v, want ErrPathNotFound", err)
	}

	// Nonexistent name that would land outside the root.
	_, err = g.ResolveFile(filepath.Join(root, "..", "new.txt"))
	if !errors.Is(err, models.ErrPathDenied) {
		t.Fatalf("escaping create path: got %v, want ErrPathDenied", err)
	}
}

func TestRelativeToFileRoot(t *testing.T) {
	root := t.TempDir()
	canonRoot, _ := filepath.EvalSymlinks(root)
	g := newTestGuard(t, nil, []string{root})

	rel, err := g.RelativeToFileRoot(filepath.Join(canonRoot, "a", "b.txt"))
	if err != nil {
		t.Fatalf("RelativeToFileRoot: %v", err)
	}
	if rel != filepath.Join("a", "b.txt") {
		t.Fatalf("rel = %q", rel)
	}

	if got, err := g.RelativeToFileRoot(canonRoot); err != nil || got != "." {
		t.Fatalf("root itself: %q, %v", got, err)
	}

	if _, err := g.RelativeToFileRoot("/etc/passwd"); !errors.Is(err, models.ErrPathDenied) {
		t.Fatalf("outside path: %v", err)
	}
}

func TestNewPathGuard_MissingRoot(t *testing.T) {
	if _, err := NewPathGuard([]string{"/does/not/exist-xyzzy"}, nil); err == nil {
		t.Fatal("expected error for nonexistent root")
	}
}

func TestResolve_DisjointRoots(t *testing.T) {
	projects := t.TempDir()
	files := t.TempDir()
	g := newTestGuard(t, []string{projects}, []string{files})

	if _, err := g.ResolveProject(files); !errors.Is(err, models.ErrPathDenied) {
		t.Fatalf("file root accepted as project: %v", err)
	}
	if _, err := g.ResolveFile(projects); !errors.Is(err, models.ErrPathDenied) {
		t.Fatalf("project root accepted as file: %v", err)
	}
}

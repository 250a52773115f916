package guard

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/claudeck/claudeck/pkg/models"
)

// PathGuard canonicalizes paths and enforces the two disjoint allow-lists:
// project roots (session creation) and file roots (the editor surface).
type PathGuard struct {
	projectRoots []string
	fileRoots    []string
}

// NewPathGuard builds a guard from the configured root lists. Each root is
// resolved to its canonical form at construction; roots that do not exist
// are dropped with an error.
func NewPathGuard(projectRoots, fileRoots []string) (*PathGuard, error) {
	canonProjects, err := canonicalizeRoots(projectRoots)
	if err != nil {
		return nil, fmt.Errorf("project roots: %w", err)
	}
	canonFiles, err := canonicalizeRoots(fileRoots)
	if err != nil {
		return nil, fmt.Errorf("file roots: %w", err)
	}
	return &PathGuard{projectRoots: canonProjects, fileRoots: canonFiles}, nil
}

func canonicalizeRoots(roots []string) ([]string, error) {
	out := make([]string, 0, len(roots))
	for _, r := range roots {
		if r == "" {
			continue
		}
		canon, err := filepath.EvalSymlinks(r)
		if err != nil {
			return nil, fmt.Errorf("root %q: %w", r, err)
		}
		out = append(out, canon)
	}
	return out, nil
}

// ProjectRoots returns the canonical project roots.
func (g *PathGuard) ProjectRoots() []string {
	return append([]string(nil), g.projectRoots...)
}

// FileRoots returns the canonical file roots.
func (g *PathGuard) FileRoots() []string {
	return append([]string(nil), g.fileRoots...)
}

// ResolveProject canonicalizes p and checks it against the project roots.
func (g *PathGuard) ResolveProject(p string) (string, error) {
	return resolve(p, g.projectRoots)
}

// ResolveFile canonicalizes p and checks it against the file roots. The
// path itself need not exist (create operations resolve the parent).
func (g *PathGuard) ResolveFile(p string) (string, error) {
	return resolve(p, g.fileRoots)
}

// RelativeToFileRoot returns p relative to the file root containing it.
// Outbound listings use this so host layout never leaks to clients.
func (g *PathGuard) RelativeToFileRoot(p string) (string, error) {
	for _, root := range g.fileRoots {
		if p == root {
			return ".", nil
		}
		if strings.HasPrefix(p, root+string(filepath.Separator)) {
			return filepath.Rel(root, p)
		}
	}
	return "", models.ErrPathDenied
}

// resolve canonicalizes p and accepts it iff the canonical form equals a
// whitelisted root or begins with root + separator. The trailing-separator
// check is mandatory: bare prefix equality would admit a sibling named
// like "<root>-evil".
func resolve(p string, roots []string) (string, error) {
	if p == "" {
		return "", models.ErrPathDenied
	}

	base := filepath.Base(filepath.Clean(p))
	if base == "." || base == ".." || base == string(filepath.Separator) {
		return "", fmt.Errorf("%w: bad basename %q", models.ErrPathDenied, base)
	}

	canon, err := filepath.EvalSymlinks(p)
	if err != nil {
		if !os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %v", models.ErrPathDenied, err)
		}
		// The entry does not exist yet: canonicalize the parent and rejoin
		// the basename so create operations are still containment-checked.
		parent, err := filepath.EvalSymlinks(filepath.Dir(filepath.Clean(p)))
		if err != nil {
			if os.IsNotExist(err) {
				return "", fmt.Errorf("%w: %s", models.ErrPathNotFound, p)
			}
			return "", fmt.Errorf("%w: %v", models.ErrPathDenied, err)
		}
		canon = filepath.Join(parent, base)
	}

	for _, root := range roots {
		if canon == root || strings.HasPrefix(canon, root+string(filepath.Separator)) {
			return canon, nil
		}
	}
	return "", fmt.Errorf("%w: %s", models.ErrPathDenied, p)
}

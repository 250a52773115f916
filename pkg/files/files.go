// Package files is the editor surface: whitelist-rooted CRUD over the
// configured file roots. Every path passes through the path guard before
// any file-system call, and size caps are enforced before I/O.
package files

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/claudeck/claudeck/pkg/guard"
	"github.com/claudeck/claudeck/pkg/models"
)

// MaxFileSize caps reads and writes. Oversized requests are rejected
// before the file system is touched (a stat is still needed on reads).
const MaxFileSize = 10 * 1024 * 1024

// Entry kinds.
const (
	KindFile      = "file"
	KindDirectory = "directory"
	KindOther     = "other"
)

// Entry is one directory listing row. Path is relative to the containing
// file root so host layout never leaks to clients.
type Entry struct {
	Name      string    `json:"name"`
	Path      string    `json:"path"`
	Kind      string    `json:"kind"`
	IsSymlink bool      `json:"is_symlink"`
	Size      int64     `json:"size"`
	ModTime   time.Time `json:"mod_time"`
}

// Info describes a single file or directory.
type Info struct {
	Name      string    `json:"name"`
	Path      string    `json:"path"`
	Kind      string    `json:"kind"`
	Size      int64     `json:"size"`
	ModTime   time.Time `json:"mod_time"`
	CreatedAt time.Time `json:"created_at"`
	IsSymlink bool      `json:"is_symlink"`
}

// Service performs guarded file operations.
type Service struct {
	guard *guard.PathGuard
}

func NewService(g *guard.PathGuard) *Service {
	return &Service{guard: g}
}

// List returns the entries of a directory inside a file root.
func (s *Service) List(path string) ([]Entry, error) {
	canon, err := s.guard.ResolveFile(path)
	if err != nil {
		return nil, err
	}

	dirents, err := os.ReadDir(canon)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", models.ErrPathNotFound, path)
		}
		return nil, fmt.Errorf("failed to list directory: %w", err)
	}

	entries := make([]Entry, 0, len(dirents))
	for _, d := range dirents {
		full := filepath.Join(canon, d.Name())
		rel, err := s.guard.RelativeToFileRoot(full)
		if err != nil {
			continue
		}

		entry := Entry{
			Name:      d.Name(),
			Path:      rel,
			Kind:      kindOf(d.Type()),
			IsSymlink: d.Type()&os.ModeSymlink != 0,
		}
		// Lstat failure (entry vanished mid-listing) degrades to zero
		// size, not a failed listing.
		if fi, err := d.Info(); err == nil {
			entry.Size = fi.Size()
			entry.ModTime = fi.ModTime()
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// Read returns a file's contents. The size is checked via stat before the
// contents are read.
func (s *Service) Read(path string) ([]byte, error) {
	canon, err := s.guard.ResolveFile(path)
	if err != nil {
		return nil, err
	}

	fi, err := os.Stat(canon)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", models.ErrPathNotFound, path)
		}
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}
	if fi.IsDir() {
		return nil, fmt.Errorf("%w: is a directory", models.ErrPathDenied)
	}
	if fi.Size() > MaxFileSize {
		return nil, fmt.Errorf("%w: %d bytes", models.ErrPayloadTooLarge, fi.Size())
	}

	data, err := os.ReadFile(canon)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return data, nil
}

// Write creates or replaces a file. The parent directory must already
// exist inside a file root.
func (s *Service) Write(path string, data []byte) error {
	if len(data) > MaxFileSize {
		return fmt.Errorf("%w: %d bytes", models.ErrPayloadTooLarge, len(data))
	}

	canon, err := s.guard.ResolveFile(path)
	if err != nil {
		return err
	}
	if fi, err := os.Stat(canon); err == nil && fi.IsDir() {
		return fmt.Errorf("%w: is a directory", models.ErrPathDenied)
	}

	if err := os.WriteFile(canon, data, 0644); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	return nil
}

// Delete removes a file, or a directory recursively.
func (s *Service) Delete(path string) error {
	canon, err := s.guard.ResolveFile(path)
	if err != nil {
		return err
	}
	if _, err := os.Lstat(canon); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", models.ErrPathNotFound, path)
		}
		return fmt.Errorf("failed to stat path: %w", err)
	}

	if err := os.RemoveAll(canon); err != nil {
		return fmt.Errorf("failed to delete: %w", err)
	}
	return nil
}

// Mkdir creates a single directory. The parent must exist.
func (s *Service) Mkdir(path string) error {
	canon, err := s.guard.ResolveFile(path)
	if err != nil {
		return err
	}
	if err := os.Mkdir(canon, 0755); err != nil {
		if os.IsExist(err) {
			return fmt.Errorf("%w: already exists", models.ErrPathDenied)
		}
		return fmt.Errorf("failed to create directory: %w", err)
	}
	return nil
}

// Info returns metadata for one path.
func (s *Service) Info(path string) (*Info, error) {
	canon, err := s.guard.ResolveFile(path)
	if err != nil {
		return nil, err
	}

	fi, err := os.Lstat(canon)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", models.ErrPathNotFound, path)
		}
		return nil, fmt.Errorf("failed to stat path: %w", err)
	}

	rel, err := s.guard.RelativeToFileRoot(canon)
	if err != nil {
		return nil, err
	}

	return &Info{
		Name:      fi.Name(),
		Path:      rel,
		Kind:      kindOf(fi.Mode()),
		Size:      fi.Size(),
		ModTime:   fi.ModTime(),
		CreatedAt: changeTime(fi),
		IsSymlink: fi.Mode()&os.ModeSymlink != 0,
	}, nil
}

// Rename moves a file or directory. Both ends must resolve inside the
// file roots.
func (s *Service) Rename(oldPath, newPath string) error {
	oldCanon, err := s.guard.ResolveFile(oldPath)
	if err != nil {
		return err
	}
	newCanon, err := s.guard.ResolveFile(newPath)
	if err != nil {
		return err
	}
	if _, err := os.Lstat(oldCanon); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", models.ErrPathNotFound, oldPath)
		}
		return fmt.Errorf("failed to stat path: %w", err)
	}

	if err := os.Rename(oldCanon, newCanon); err != nil {
		return fmt.Errorf("failed to rename: %w", err)
	}
	return nil
}

// Copy duplicates a regular file. The source size cap applies.
func (s *Service) Copy(srcPath, dstPath string) error {
	srcCanon, err := s.guard.ResolveFile(srcPath)
	if err != nil {
		return err
	}
	dstCanon, err := s.guard.ResolveFile(dstPath)
	if err != nil {
		return err
	}

	fi, err := os.Stat(srcCanon)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", models.ErrPathNotFound, srcPath)
		}
		return fmt.Errorf("failed to stat file: %w", err)
	}
	if !fi.Mode().IsRegular() {
		return fmt.Errorf("%w: not a regular file", models.ErrPathDenied)
	}
	if fi.Size() > MaxFileSize {
		return fmt.Errorf("%w: %d bytes", models.ErrPayloadTooLarge, fi.Size())
	}

	src, err := os.Open(srcCanon)
	if err != nil {
		return fmt.Errorf("failed to open source: %w", err)
	}
	defer src.Close()

	dst, err := os.OpenFile(dstCanon, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, fi.Mode().Perm())
	if err != nil {
		return fmt.Errorf("failed to open destination: %w", err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("failed to copy: %w", err)
	}
	return dst.Close()
}

func kindOf(mode os.FileMode) string {
	switch {
	case mode.IsDir():
		return KindDirectory
	case mode.IsRegular():
		return KindFile
	default:
		return KindOther
	}
}

package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/claudeck/claudeck/pkg/audit"
	"github.com/claudeck/claudeck/pkg/files"
	"github.com/claudeck/claudeck/pkg/guard"
)

type fileFixture struct {
	router chi.Router
	root   string
}

func setupFiles(t *testing.T) *fileFixture {
	t.Helper()

	root, err := filepath.EvalSymlinks(t.TempDir())
	if err != nil {
		t.Fatalf("failed to canonicalize temp dir: %v", err)
	}
	g, err := guard.NewPathGuard(nil, []string{root})
	if err != nil {
		t.Fatalf("failed to create path guard: %v", err)
	}

	h := NewFileHandler(files.NewService(g), audit.NewRecorder(newTestStore(t)))

	r := chi.NewRouter()
	r.Get("/api/files", h.List)
	r.Delete("/api/files", h.Delete)
	r.Get("/api/files/content", h.Content)
	r.Get("/api/files/info", h.Info)
	r.Post("/api/files/save", h.Save)
	r.Post("/api/files/mkdir", h.Mkdir)
	r.Post("/api/files/rename", h.Rename)
	r.Post("/api/files/copy", h.Copy)

	return &fileFixture{router: r, root: root}
}

func (f *fileFixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.RemoteAddr = "10.1.2.3:44444"
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func TestSaveAndReadBack(t *testing.T) {
	f := setupFiles(t)
	target := filepath.Join(f.root, "notes.txt")

	rec := f.do(t, http.MethodPost, "/api/files/save", SaveRequest{
		Path:    target,
		Content: "hello dashboard\n",
	})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("save status = %d, want 204; body: %s", rec.Code, rec.Body.String())
	}

	rec = f.do(t, http.MethodGet, "/api/files/content?path="+target, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("content status = %d, want 200", rec.Code)
	}
	var resp ContentResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Content != "hello dashboard\n" {
		t.Errorf("content = %q", resp.Content)
	}
}

func TestSaveOversizedPayload(t *testing.T) {
	f := setupFiles(t)
	rec := f.do(t, http.MethodPost, "/api/files/save", SaveRequest{
		Path:    filepath.Join(f.root, "big.bin"),
		Content: strings.Repeat("x", files.MaxFileSize+1),
	})
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want 413", rec.Code)
	}
	if _, err := os.Stat(filepath.Join(f.root, "big.bin")); !os.IsNotExist(err) {
		t.Error("oversized file reached the disk")
	}
}

func TestSaveOutsideRoots(t *testing.T) {
	f := setupFiles(t)
	rec := f.do(t, http.MethodPost, "/api/files/save", SaveRequest{
		Path:    "/etc/claudeck-test-escape",
		Content: "nope",
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
}

func TestContentMissingFile(t *testing.T) {
	f := setupFiles(t)
	rec := f.do(t, http.MethodGet, "/api/files/content?path="+filepath.Join(f.root, "absent.txt"), nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestListDirectory(t *testing.T) {
	f := setupFiles(t)
	if err := os.WriteFile(filepath.Join(f.root, "a.txt"), []byte("a"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Mkdir(filepath.Join(f.root, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}

	rec := f.do(t, http.MethodGet, "/api/files?path="+f.root, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var entries []files.Entry
	if err := json.NewDecoder(rec.Body).Decode(&entries); err != nil {
		t.Fatalf("failed to decode entries: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("listed %d entries, want 2", len(entries))
	}
	for _, e := range entries {
		if filepath.IsAbs(e.Path) {
			t.Errorf("entry path %q leaks the host layout", e.Path)
		}
	}
}

func TestMissingPathParameter(t *testing.T) {
	f := setupFiles(t)
	for _, path := range []string{"/api/files", "/api/files/content", "/api/files/info"} {
		rec := f.do(t, http.MethodGet, path, nil)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("GET %s status = %d, want 400", path, rec.Code)
		}
	}
}

func TestDeleteFile(t *testing.T) {
	f := setupFiles(t)
	target := filepath.Join(f.root, "doomed.txt")
	if err := os.WriteFile(target, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	rec := f.do(t, http.MethodDelete, "/api/files?path="+target, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
	if _, err := os.Stat(target); !os.IsNotExist(err) {
		t.Error("file survived the delete")
	}

	rec = f.do(t, http.MethodDelete, "/api/files?path="+target, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("second delete status = %d, want 400", rec.Code)
	}
}

func TestRenameAndCopy(t *testing.T) {
	f := setupFiles(t)
	src := filepath.Join(f.root, "src.txt")
	if err := os.WriteFile(src, []byte("payload"), 0o644); err != nil {
		t.Fatal(err)
	}

	rec := f.do(t, http.MethodPost, "/api/files/copy", PathPairRequest{
		From: src,
		To:   filepath.Join(f.root, "copy.txt"),
	})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("copy status = %d, want 204; body: %s", rec.Code, rec.Body.String())
	}

	rec = f.do(t, http.MethodPost, "/api/files/rename", PathPairRequest{
		From: src,
		To:   filepath.Join(f.root, "moved.txt"),
	})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("rename status = %d, want 204; body: %s", rec.Code, rec.Body.String())
	}

	if _, err := os.Stat(filepath.Join(f.root, "moved.txt")); err != nil {
		t.Error("rename target missing")
	}
	if _, err := os.Stat(src); !os.IsNotExist(err) {
		t.Error("rename source still present")
	}
	data, err := os.ReadFile(filepath.Join(f.root, "copy.txt"))
	if err != nil || string(data) != "payload" {
		t.Errorf("copy content = %q, err = %v", data, err)
	}
}

func TestMkdir(t *testing.T) {
	f := setupFiles(t)
	target := filepath.Join(f.root, "newdir")

	rec := f.do(t, http.MethodPost, "/api/files/mkdir", MkdirRequest{Path: target})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204; body: %s", rec.Code, rec.Body.String())
	}
	info, err := os.Stat(target)
	if err != nil || !info.IsDir() {
		t.Errorf("directory not created: %v", err)
	}
}

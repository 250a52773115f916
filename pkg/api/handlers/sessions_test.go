package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/claudeck/claudeck/pkg/audit"
	"github.com/claudeck/claudeck/pkg/auth"
	"github.com/claudeck/claudeck/pkg/guard"
	"github.com/claudeck/claudeck/pkg/probe"
	"github.com/claudeck/claudeck/pkg/registry"
	"github.com/claudeck/claudeck/pkg/store"
	"github.com/claudeck/claudeck/pkg/tmux"
)

// fakeMux simulates the multiplexer: live windows keyed by name.
type fakeMux struct {
	windows map[string]bool
}

func newFakeMux() *fakeMux {
	return &fakeMux{windows: make(map[string]bool)}
}

func (f *fakeMux) Run(_ context.Context, _ []byte, args ...string) ([]byte, error) {
	var verb, target string
	for i, a := range args {
		switch a {
		case "new-session", "has-session", "list-sessions", "send-keys",
			"load-buffer", "paste-buffer", "capture-pane", "kill-session":
			verb = a
		case "-s", "-t":
			if i+1 < len(args) {
				target = args[i+1]
			}
		}
	}

	switch verb {
	case "new-session":
		f.windows[target] = true
		return nil, nil
	case "has-session", "kill-session":
		if !f.windows[target] {
			return nil, fmt.Errorf("exit status 1: can't find session: %s", target)
		}
		if verb == "kill-session" {
			delete(f.windows, target)
		}
		return nil, nil
	case "list-sessions":
		var out strings.Builder
		for name := range f.windows {
			fmt.Fprintf(&out, "%s:1700000000:0\n", name)
		}
		return []byte(out.String()), nil
	case "capture-pane":
		return []byte("42% left until auto-compact\n"), nil
	default:
		return nil, nil
	}
}

// errCLIRunner fails every CLI invocation, forcing the probe down its
// fallback chain.
type errCLIRunner struct{}

func (errCLIRunner) Run(context.Context, string, string, ...string) ([]byte, error) {
	return nil, errors.New("exit status 1")
}

type fakeHubCloser struct {
	closed []string
}

func (f *fakeHubCloser) CloseSession(sessionID string) {
	f.closed = append(f.closed, sessionID)
}

type sessionFixture struct {
	router      chi.Router
	mux         *fakeMux
	hubs        *fakeHubCloser
	store       *store.GORMStore
	projectRoot string
}

func setupSessions(t *testing.T) *sessionFixture {
	t.Helper()

	s := newTestStore(t)
	mux := newFakeMux()
	client := tmux.NewClient("test-sock", tmux.WithRunner(mux))
	reg := registry.New(client, s, "claude")

	root, err := filepath.EvalSymlinks(t.TempDir())
	if err != nil {
		t.Fatalf("failed to canonicalize temp dir: %v", err)
	}
	if err := os.Mkdir(filepath.Join(root, "demo"), 0o755); err != nil {
		t.Fatalf("failed to create project dir: %v", err)
	}
	g, err := guard.NewPathGuard([]string{root}, nil)
	if err != nil {
		t.Fatalf("failed to create path guard: %v", err)
	}

	p := probe.New(probe.Config{CLIPath: "claude", CLIHome: t.TempDir()},
		reg, s, probe.WithRunner(errCLIRunner{}))
	t.Cleanup(p.StopAll)

	creds := newCredentialService(t, s)
	hubs := &fakeHubCloser{}
	h := NewSessionHandler(reg, g, p, creds, audit.NewRecorder(s), hubs)

	r := chi.NewRouter()
	r.Get("/api/sessions", h.List)
	r.Post("/api/sessions", h.Create)
	r.Get("/api/sessions/{id}", h.Get)
	r.Delete("/api/sessions/{id}", h.Kill)
	r.Get("/api/sessions/{id}/metadata", h.Metadata)
	r.Get("/api/sessions/{id}/metadata/history", h.MetadataHistory)
	r.Post("/api/sessions/{id}/share", h.Share)

	return &sessionFixture{router: r, mux: mux, hubs: hubs, store: s, projectRoot: root}
}

func (f *sessionFixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
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
	req = req.WithContext(auth.WithClaims(req.Context(),
		&auth.Claims{UserID: "u-1", Username: "alice", Role: "user"}))
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func (f *sessionFixture) createSession(t *testing.T) string {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/api/sessions", CreateSessionRequest{
		ProjectPath: filepath.Join(f.projectRoot, "demo"),
		ProjectName: "demo",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d, want 201; body: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		SessionID string `json:"session_id"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode create response: %v", err)
	}
	return resp.SessionID
}

func TestCreateSession(t *testing.T) {
	f := setupSessions(t)
	id := f.createSession(t)

	if !guard.ValidSessionID(id) {
		t.Fatalf("session id %q is not a valid identifier", id)
	}
	if !f.mux.windows[id] {
		t.Error("no multiplexer window for the new session")
	}

	// Owner attribution lands in the record and the audit trail.
	session, err := f.store.GetSession(context.Background(), id)
	if err != nil {
		t.Fatalf("session not persisted: %v", err)
	}
	if session.OwnerID == nil || *session.OwnerID != "u-1" {
		t.Error("session owner not recorded")
	}
}

func TestCreateSessionOutsideRoots(t *testing.T) {
	f := setupSessions(t)
	rec := f.do(t, http.MethodPost, "/api/sessions", CreateSessionRequest{
		ProjectPath: "/etc",
		ProjectName: "evil",
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
	if len(f.mux.windows) != 0 {
		t.Error("window created for denied path")
	}
}

func TestCreateSessionMissingFields(t *testing.T) {
	f := setupSessions(t)
	rec := f.do(t, http.MethodPost, "/api/sessions", CreateSessionRequest{})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestGetSession(t *testing.T) {
	f := setupSessions(t)
	id := f.createSession(t)

	rec := f.do(t, http.MethodGet, "/api/sessions/"+id, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	// Malformed identifiers fail closed before any lookup.
	rec = f.do(t, http.MethodGet, "/api/sessions/not-a-uuid", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("malformed id status = %d, want 400", rec.Code)
	}

	rec = f.do(t, http.MethodGet, "/api/sessions/0d9bd7c8-8e0f-4b33-b5d9-3cbce31f7a70", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown id status = %d, want 404", rec.Code)
	}
}

func TestListSessions(t *testing.T) {
	f := setupSessions(t)
	f.createSession(t)
	f.createSession(t)

	rec := f.do(t, http.MethodGet, "/api/sessions", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var list []registry.Snapshot
	if err := json.NewDecoder(rec.Body).Decode(&list); err != nil {
		t.Fatalf("failed to decode list: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("listed %d sessions, want 2", len(list))
	}
}

func TestKillSession(t *testing.T) {
	f := setupSessions(t)
	id := f.createSession(t)

	rec := f.do(t, http.MethodDelete, "/api/sessions/"+id, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204; body: %s", rec.Code, rec.Body.String())
	}
	if f.mux.windows[id] {
		t.Error("window survived the kill")
	}
	if len(f.hubs.closed) != 1 || f.hubs.closed[0] != id {
		t.Error("streaming hub was not torn down")
	}
}

func TestSessionMetadata(t *testing.T) {
	f := setupSessions(t)
	id := f.createSession(t)

	rec := f.do(t, http.MethodGet, "/api/sessions/"+id+"/metadata", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body: %s", rec.Code, rec.Body.String())
	}

	var snap struct {
		SessionID      string  `json:"session_id"`
		Source         string  `json:"source"`
		ContextPercent float64 `json:"context_percent"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&snap); err != nil {
		t.Fatalf("failed to decode snapshot: %v", err)
	}
	if snap.SessionID != id {
		t.Errorf("session_id = %q, want %q", snap.SessionID, id)
	}
	// With no CLI and no log files the chain bottoms out at the pane scrape.
	if snap.Source != "screen-scrape" {
		t.Errorf("source = %q, want screen-scrape", snap.Source)
	}
	if snap.ContextPercent != 42 {
		t.Errorf("context_percent = %v, want 42", snap.ContextPercent)
	}
}

func TestMetadataHistory(t *testing.T) {
	f := setupSessions(t)
	id := f.createSession(t)

	// A metadata read persists one snapshot into the history table.
	f.do(t, http.MethodGet, "/api/sessions/"+id+"/metadata", nil)

	rec := f.do(t, http.MethodGet, "/api/sessions/"+id+"/metadata/history", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var logs []json.RawMessage
	if err := json.NewDecoder(rec.Body).Decode(&logs); err != nil {
		t.Fatalf("failed to decode history: %v", err)
	}
	if len(logs) == 0 {
		t.Fatal("history is empty after a snapshot was taken")
	}
}

func TestShareSession(t *testing.T) {
	f := setupSessions(t)
	id := f.createSession(t)

	rec := f.do(t, http.MethodPost, "/api/sessions/"+id+"/share", ShareRequest{TTLSeconds: 600})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201; body: %s", rec.Code, rec.Body.String())
	}

	var resp ShareResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode share response: %v", err)
	}
	if resp.Token == "" {
		t.Error("missing share token")
	}
	if resp.SessionID != id {
		t.Errorf("session_id = %q, want %q", resp.SessionID, id)
	}
	if until := time.Until(resp.ExpiresAt); until < 9*time.Minute || until > 11*time.Minute {
		t.Errorf("expires_at %v not within the requested TTL", resp.ExpiresAt)
	}
}

func TestShareUnknownSession(t *testing.T) {
	f := setupSessions(t)
	rec := f.do(t, http.MethodPost, "/api/sessions/0d9bd7c8-8e0f-4b33-b5d9-3cbce31f7a70/share", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

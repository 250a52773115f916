package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/claudeck/claudeck/pkg/guard"
	"github.com/claudeck/claudeck/pkg/models"
	"github.com/claudeck/claudeck/pkg/store"
	"github.com/claudeck/claudeck/pkg/tmux"
)

// fakeMux simulates the multiplexer server: a set of live windows plus a
// recorded call log.
type fakeMux struct {
	windows map[string]bool
	calls   []string
	failNew bool
	dead    bool
}

func newFakeMux() *fakeMux {
	return &fakeMux{windows: make(map[string]bool)}
}

func (f *fakeMux) Run(_ context.Context, stdin []byte, args ...string) ([]byte, error) {
	verb, target := parseArgs(args)
	f.calls = append(f.calls, verb+" "+target)

	if f.dead {
		return nil, fmt.Errorf("exit status 1: no server running")
	}

	switch verb {
	case "new-session":
		if f.failNew {
			return nil, errors.New("exit status 1: create failed")
		}
		f.windows[target] = true
		return nil, nil
	case "has-session":
		if !f.windows[target] {
			return nil, fmt.Errorf("exit status 1: can't find session: %s", target)
		}
		return nil, nil
	case "list-sessions":
		var out strings.Builder
		for name := range f.windows {
			fmt.Fprintf(&out, "%s:1700000000:1\n", name)
		}
		return []byte(out.String()), nil
	case "kill-session":
		if !f.windows[target] {
			return nil, fmt.Errorf("exit status 1: can't find session: %s", target)
		}
		delete(f.windows, target)
		return nil, nil
	case "capture-pane":
		return []byte("pane contents\n"), nil
	default:
		return nil, nil
	}
}

// parseArgs pulls the verb and -s/-t target out of the argv.
func parseArgs(args []string) (verb, target string) {
	for i, a := range args {
		switch a {
		case "-L":
			// skip socket value
		case "new-session", "has-session", "list-sessions", "send-keys",
			"load-buffer", "paste-buffer", "capture-pane", "kill-session":
			verb = a
		case "-s", "-t":
			if i+1 < len(args) {
				target = args[i+1]
			}
		}
	}
	return verb, target
}

func setupRegistry(t *testing.T) (*Registry, *fakeMux, *store.GORMStore) {
	t.Helper()

	s, err := store.New(&store.Config{
		Type:   store.DatabaseTypeSQLite,
		SQLite: store.SQLiteConfig{Path: ":memory:"},
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	mux := newFakeMux()
	client := tmux.NewClient("test-sock", tmux.WithRunner(mux))
	return New(client, s, "claude"), mux, s
}

func TestCreateAndKill(t *testing.T) {
	r, mux, s := setupRegistry(t)
	ctx := context.Background()

	session, err := r.Create(ctx, "/projects/demo", "demo", nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if !guard.ValidSessionID(session.SessionID) {
		t.Fatalf("non-conforming session id %q", session.SessionID)
	}
	if !mux.windows[session.SessionID] {
		t.Fatal("window not created")
	}
	if _, err := s.GetSession(ctx, session.SessionID); err != nil {
		t.Fatalf("record not persisted: %v", err)
	}

	ok, err := r.Exists(ctx, session.SessionID)
	if err != nil || !ok {
		t.Fatalf("Exists = %v, %v", ok, err)
	}

	if err := r.Kill(ctx, session.SessionID); err != nil {
		t.Fatalf("Kill: %v", err)
	}
	if mux.windows[session.SessionID] {
		t.Fatal("window survived Kill")
	}
	record, err := s.GetSession(ctx, session.SessionID)
	if err != nil {
		t.Fatalf("record gone after Kill: %v", err)
	}
	if record.Status != string(models.SessionTerminated) || record.EndedAt == nil {
		t.Fatalf("record not closed: %+v", record)
	}
}

func TestCreate_StoreFailureRollsBackWindow(t *testing.T) {
	r, mux, s := setupRegistry(t)
	ctx := context.Background()

	first, err := r.Create(ctx, "/projects/demo", "demo", nil)
	if err != nil {
		t.Fatal(err)
	}

	// Force a unique-constraint collision on the next insert.
	r2 := New(tmux.NewClient("test-sock", tmux.WithRunner(mux)), collidingStore{s, first.SessionID}, "claude")
	_, err = r2.Create(ctx, "/projects/demo", "demo", nil)
	if err == nil {
		t.Fatal("expected store failure")
	}

	// Only the first window may remain.
	if len(mux.windows) != 1 {
		t.Fatalf("window not rolled back: %v", mux.windows)
	}
}

// collidingStore rewrites every created session to a fixed id so the second
// insert collides.
type collidingStore struct {
	store.SessionStore
	fixedID string
}

func (c collidingStore) CreateSession(ctx context.Context, s *models.Session) error {
	clone := *s
	clone.SessionID = c.fixedID
	return c.SessionStore.CreateSession(ctx, &clone)
}

func TestInvalidIdentifiersNeverReachMultiplexer(t *testing.T) {
	r, mux, _ := setupRegistry(t)
	ctx := context.Background()

	bad := []string{"abc;rm -rf /", "../../../etc", "ABC", "", "abc def"}
	for _, id := range bad {
		if _, err := r.Exists(ctx, id); !errors.Is(err, models.ErrInvalidSessionID) {
			t.Errorf("Exists(%q) = %v", id, err)
		}
		if err := r.Kill(ctx, id); !errors.Is(err, models.ErrInvalidSessionID) {
			t.Errorf("Kill(%q) = %v", id, err)
		}
		if err := r.SendInput(ctx, id, "c1", []byte("x")); !errors.Is(err, models.ErrInvalidSessionID) {
			t.Errorf("SendInput(%q) = %v", id, err)
		}
		if _, err := r.Capture(ctx, id); !errors.Is(err, models.ErrInvalidSessionID) {
			t.Errorf("Capture(%q) = %v", id, err)
		}
	}
	if len(mux.calls) != 0 {
		t.Fatalf("multiplexer invoked for invalid ids: %v", mux.calls)
	}
}

func TestSendInput_Regimes(t *testing.T) {
	r, mux, _ := setupRegistry(t)
	ctx := context.Background()

	session, err := r.Create(ctx, "/projects/demo", "demo", nil)
	if err != nil {
		t.Fatal(err)
	}
	id := session.SessionID

	if !r.SetMaster(id, "c1") {
		t.Fatal("SetMaster refused on vacant slot")
	}

	// Short payload: literal send-keys.
	mux.calls = nil
	if err := r.SendInput(ctx, id, "c1", []byte("echo hi\n")); err != nil {
		t.Fatalf("short input: %v", err)
	}
	if mux.calls[0] != "send-keys "+id {
		t.Fatalf("calls = %v", mux.calls)
	}

	// Large payload: load-buffer + paste-buffer.
	mux.calls = nil
	big := make([]byte, LiteralInputLimit+1)
	if err := r.SendInput(ctx, id, "c1", big); err != nil {
		t.Fatalf("large input: %v", err)
	}
	if len(mux.calls) != 2 || !strings.HasPrefix(mux.calls[0], "load-buffer") ||
		!strings.HasPrefix(mux.calls[1], "paste-buffer") {
		t.Fatalf("calls = %v", mux.calls)
	}

	// Over the cap: rejected before any multiplexer call.
	mux.calls = nil
	huge := make([]byte, MaxInputSize+1)
	if err := r.SendInput(ctx, id, "c1", huge); !errors.Is(err, models.ErrPayloadTooLarge) {
		t.Fatalf("oversized input: %v", err)
	}
	if len(mux.calls) != 0 {
		t.Fatalf("multiplexer invoked for oversized input: %v", mux.calls)
	}

	// Non-writer: rejected.
	if err := r.SendInput(ctx, id, "c2", []byte("x")); !errors.Is(err, models.ErrNotMaster) {
		t.Fatalf("reader input admitted: %v", err)
	}
}

func TestMastership(t *testing.T) {
	r, _, _ := setupRegistry(t)
	id := guard.NewSessionID()

	if r.HasMaster(id) {
		t.Fatal("fresh session has master")
	}
	if !r.SetMaster(id, "c1") {
		t.Fatal("claim on vacant slot refused")
	}
	if !r.SetMaster(id, "c1") {
		t.Fatal("claim not idempotent for holder")
	}
	if r.SetMaster(id, "c2") {
		t.Fatal("second writer admitted")
	}
	if !r.IsMaster(id, "c1") || r.IsMaster(id, "c2") {
		t.Fatal("IsMaster wrong")
	}

	// Release by a non-holder is a no-op.
	r.ReleaseMaster(id, "c2")
	if !r.HasMaster(id) {
		t.Fatal("non-holder release vacated slot")
	}

	r.ReleaseMaster(id, "c1")
	if r.HasMaster(id) {
		t.Fatal("slot still taken after release")
	}
	if !r.SetMaster(id, "c2") {
		t.Fatal("slot not claimable after release")
	}
}

func TestRecover(t *testing.T) {
	r, mux, s := setupRegistry(t)
	ctx := context.Background()

	// A known session, an orphan window, a foreign window, and a stale
	// record with no window.
	known, err := r.Create(ctx, "/projects/demo", "demo", nil)
	if err != nil {
		t.Fatal(err)
	}
	orphanID := guard.NewSessionID()
	mux.windows[orphanID] = true
	mux.windows["operator-window"] = true

	staleID := guard.NewSessionID()
	if err := s.CreateSession(ctx, &models.Session{
		SessionID:   staleID,
		ProjectName: "stale",
		ProjectPath: "/projects/stale",
		Status:      string(models.SessionActive),
	}); err != nil {
		t.Fatal(err)
	}

	// Fresh registry simulating a restart.
	r2 := New(tmux.NewClient("test-sock", tmux.WithRunner(mux)), s, "claude")
	if err := r2.Recover(ctx); err != nil {
		t.Fatalf("Recover: %v", err)
	}

	rec, err := s.GetSession(ctx, known.SessionID)
	if err != nil || rec.Status != string(models.SessionRecovered) {
		t.Fatalf("known session: %+v, %v", rec, err)
	}

	orphan, err := s.GetSession(ctx, orphanID)
	if err != nil {
		t.Fatalf("orphan not adopted: %v", err)
	}
	if orphan.ProjectName != OrphanProjectName || orphan.OwnerID != nil {
		t.Fatalf("orphan record: %+v", orphan)
	}

	if _, err := s.GetSession(ctx, "operator-window"); !errors.Is(err, models.ErrSessionNotFound) {
		t.Fatalf("foreign window adopted: %v", err)
	}

	stale, err := s.GetSession(ctx, staleID)
	if err != nil || stale.Status != string(models.SessionTerminated) {
		t.Fatalf("stale record not closed: %+v, %v", stale, err)
	}
}

func TestRecover_DeadMultiplexer(t *testing.T) {
	r, mux, _ := setupRegistry(t)
	mux.dead = true

	if err := r.Recover(context.Background()); err != nil {
		t.Fatalf("dead multiplexer must not fail recovery: %v", err)
	}
}

func TestList(t *testing.T) {
	r, mux, _ := setupRegistry(t)
	ctx := context.Background()

	session, err := r.Create(ctx, "/projects/demo", "demo", nil)
	if err != nil {
		t.Fatal(err)
	}
	mux.windows["operator-window"] = true
	r.SetMaster(session.SessionID, "c1")

	snaps, err := r.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(snaps) != 1 {
		t.Fatalf("got %d snapshots, foreign windows must be excluded", len(snaps))
	}
	snap := snaps[0]
	if snap.SessionID != session.SessionID || snap.ProjectName != "demo" {
		t.Fatalf("snapshot = %+v", snap)
	}
	if !snap.HasMaster || snap.AttachedClients != 1 {
		t.Fatalf("join fields wrong: %+v", snap)
	}
}

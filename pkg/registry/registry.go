// Package registry supervises terminal sessions: it owns the in-memory
// session map and the mastership map, drives the multiplexer through
// pkg/tmux, and mirrors state durably into the Store. The multiplexer is
// the authoritative source of truth for window liveness; the Store and the
// in-memory map are subordinate views reconciled on boot.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/claudeck/claudeck/internal/logger"
	"github.com/claudeck/claudeck/pkg/guard"
	"github.com/claudeck/claudeck/pkg/models"
	"github.com/claudeck/claudeck/pkg/store"
	"github.com/claudeck/claudeck/pkg/tmux"
)

const (
	// LiteralInputLimit is the largest payload delivered as literal
	// keystrokes. Larger payloads go through the multiplexer's buffer.
	LiteralInputLimit = 4 * 1024

	// MaxInputSize is the hard admission cap on one input payload.
	MaxInputSize = 1024 * 1024

	// OrphanProjectName labels windows adopted at recovery that the Store
	// has no record of.
	OrphanProjectName = "recovered-session"
)

// Snapshot is one row of List output: the durable record joined with live
// multiplexer and mastership state.
type Snapshot struct {
	models.Session
	AttachedClients int  `json:"attached_clients"`
	HasMaster       bool `json:"has_master"`
}

// Registry owns session lifecycle and the writer slot per session.
type Registry struct {
	tmux    *tmux.Client
	store   store.SessionStore
	command string
	ops     *prometheus.CounterVec

	mu       sync.Mutex
	sessions map[string]*models.Session
	masters  map[string]string // session id -> writer client id
}

// Option configures a Registry.
type Option func(*Registry)

// WithOperationCounter wires a counter labeled (operation, outcome) for
// lifecycle operations.
func WithOperationCounter(c *prometheus.CounterVec) Option {
	return func(r *Registry) { r.ops = c }
}

// New creates a Registry. command is the CLI started inside each new
// window.
func New(client *tmux.Client, s store.SessionStore, command string, opts ...Option) *Registry {
	r := &Registry{
		tmux:     client,
		store:    s,
		command:  command,
		sessions: make(map[string]*models.Session),
		masters:  make(map[string]string),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Registry) countOp(operation string, err error) {
	if r.ops == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	r.ops.WithLabelValues(operation, outcome).Inc()
}

// Count returns the number of sessions the registry currently tracks.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Recover reconciles state with the multiplexer at startup. Windows whose
// names pass the identifier guard are adopted: known ones flip to status
// recovered, unknown ones get a minimal orphan record. Foreign windows are
// left alone, and a dead multiplexer is not an error.
func (r *Registry) Recover(ctx context.Context) error {
	windows, err := r.tmux.ListSessions(ctx)
	if err != nil {
		return fmt.Errorf("failed to enumerate windows: %w", err)
	}

	live := make(map[string]bool, len(windows))
	adopted := 0
	for _, w := range windows {
		if !guard.ValidSessionID(w.Name) {
			continue
		}
		live[w.Name] = true

		record, err := r.store.GetSession(ctx, w.Name)
		switch {
		case err == nil:
			if err := r.store.UpdateSessionStatus(ctx, w.Name, models.SessionRecovered); err != nil {
				logger.WarnCtx(ctx, "failed to mark session recovered",
					logger.KeySessionID, w.Name, logger.KeyError, err)
				continue
			}
			record.Status = string(models.SessionRecovered)
			r.adopt(record)
			adopted++

		case errors.Is(err, models.ErrSessionNotFound):
			orphan := &models.Session{
				SessionID:   w.Name,
				ProjectName: OrphanProjectName,
				ProjectPath: "",
				Status:      string(models.SessionActive),
			}
			if err := r.store.CreateSession(ctx, orphan); err != nil {
				logger.WarnCtx(ctx, "failed to record orphan window",
					logger.KeySessionID, w.Name, logger.KeyError, err)
				continue
			}
			r.adopt(orphan)
			adopted++

		default:
			logger.WarnCtx(ctx, "failed to look up window during recovery",
				logger.KeySessionID, w.Name, logger.KeyError, err)
		}
	}

	// Records claiming a live window that no longer exists are closed out.
	records, err := r.store.ListSessions(ctx)
	if err != nil {
		logger.WarnCtx(ctx, "failed to list stored sessions during recovery", logger.KeyError, err)
	} else {
		now := time.Now()
		for _, rec := range records {
			if rec.Alive() && !live[rec.SessionID] {
				if err := r.store.EndSession(ctx, rec.SessionID, now); err != nil {
					logger.WarnCtx(ctx, "failed to close stale session record",
						logger.KeySessionID, rec.SessionID, logger.KeyError, err)
				}
			}
		}
	}

	logger.InfoCtx(ctx, "session recovery complete",
		"windows", len(windows), "adopted", adopted)
	return nil
}

func (r *Registry) adopt(s *models.Session) {
	r.mu.Lock()
	r.sessions[s.SessionID] = s
	r.mu.Unlock()
}

// Create spins up a detached window running the CLI in projectPath and
// records the session. The multiplexer call comes first: a dangling record
// without a window is worse than an orphan window, which recovery adopts.
func (r *Registry) Create(ctx context.Context, projectPath, projectName string, ownerID *string) (*models.Session, error) {
	id := guard.NewSessionID()

	if err := r.tmux.NewSession(ctx, id, projectPath, r.command); err != nil {
		r.countOp("create", err)
		return nil, err
	}

	session := &models.Session{
		SessionID:   id,
		ProjectName: projectName,
		ProjectPath: projectPath,
		Status:      string(models.SessionActive),
		OwnerID:     ownerID,
	}
	if err := r.store.CreateSession(ctx, session); err != nil {
		// Roll the window back; an orphan window would be adopted with no
		// owner on next boot, which misattributes the session.
		if killErr := r.tmux.KillSession(ctx, id); killErr != nil {
			logger.ErrorCtx(ctx, "failed to roll back window after store error",
				logger.KeySessionID, id, logger.KeyError, killErr)
		}
		r.countOp("create", err)
		return nil, fmt.Errorf("failed to persist session: %w", err)
	}

	r.countOp("create", nil)
	r.adopt(session)
	logger.InfoCtx(ctx, "session created",
		logger.KeySessionID, id, logger.KeyProject, projectName)
	return session, nil
}

// Get returns the session record for id.
func (r *Registry) Get(ctx context.Context, sessionID string) (*models.Session, error) {
	if err := guard.CheckSessionID(sessionID); err != nil {
		return nil, err
	}
	r.mu.Lock()
	s, ok := r.sessions[sessionID]
	r.mu.Unlock()
	if ok {
		return s, nil
	}
	return r.store.GetSession(ctx, sessionID)
}

// Exists asks the multiplexer whether the window is live. The Store alone
// is insufficient: windows die outside the server's knowledge.
func (r *Registry) Exists(ctx context.Context, sessionID string) (bool, error) {
	if err := guard.CheckSessionID(sessionID); err != nil {
		return false, err
	}
	return r.tmux.HasSession(ctx, sessionID)
}

// List enumerates live windows and joins them with registry and mastership
// state. A dead multiplexer yields an empty list.
func (r *Registry) List(ctx context.Context) ([]Snapshot, error) {
	windows, err := r.tmux.ListSessions(ctx)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	snapshots := make([]Snapshot, 0, len(windows))
	for _, w := range windows {
		if !guard.ValidSessionID(w.Name) {
			continue
		}
		snap := Snapshot{
			AttachedClients: w.Attached,
			HasMaster:       r.masters[w.Name] != "",
		}
		if s, ok := r.sessions[w.Name]; ok {
			snap.Session = *s
		} else {
			snap.Session = models.Session{
				SessionID: w.Name,
				Status:    string(models.SessionActive),
			}
		}
		if !w.Activity.IsZero() {
			act := w.Activity
			snap.LastActive = &act
		}
		snapshots = append(snapshots, snap)
	}
	return snapshots, nil
}

// SendInput delivers input to the session's window, admitted only for the
// current writer. Payloads up to LiteralInputLimit go as literal
// keystrokes; larger ones up to MaxInputSize through the paste buffer.
func (r *Registry) SendInput(ctx context.Context, sessionID, clientID string, data []byte) error {
	if err := guard.CheckSessionID(sessionID); err != nil {
		return err
	}
	if len(data) > MaxInputSize {
		return fmt.Errorf("%w: %d bytes", models.ErrPayloadTooLarge, len(data))
	}
	if !r.IsMaster(sessionID, clientID) {
		return models.ErrNotMaster
	}

	var err error
	if len(data) <= LiteralInputLimit {
		err = r.tmux.SendKeys(ctx, sessionID, string(data))
	} else {
		err = r.tmux.PasteInput(ctx, sessionID, data)
	}
	if err != nil {
		return err
	}

	if err := r.store.TouchSession(ctx, sessionID, time.Now()); err != nil {
		logger.WarnCtx(ctx, "failed to update session activity",
			logger.KeySessionID, sessionID, logger.KeyError, err)
	}
	return nil
}

// Kill destroys the window, closes the record, and evicts the session from
// both maps.
func (r *Registry) Kill(ctx context.Context, sessionID string) error {
	if err := guard.CheckSessionID(sessionID); err != nil {
		return err
	}

	if err := r.tmux.KillSession(ctx, sessionID); err != nil {
		r.countOp("kill", err)
		return err
	}
	r.countOp("kill", nil)
	if err := r.store.EndSession(ctx, sessionID, time.Now()); err != nil &&
		!errors.Is(err, models.ErrSessionNotFound) {
		logger.WarnCtx(ctx, "failed to close session record",
			logger.KeySessionID, sessionID, logger.KeyError, err)
	}

	r.mu.Lock()
	delete(r.sessions, sessionID)
	delete(r.masters, sessionID)
	r.mu.Unlock()

	logger.InfoCtx(ctx, "session killed", logger.KeySessionID, sessionID)
	return nil
}

// Capture returns the current visible pane contents.
func (r *Registry) Capture(ctx context.Context, sessionID string) (string, error) {
	if err := guard.CheckSessionID(sessionID); err != nil {
		return "", err
	}
	return r.tmux.CapturePane(ctx, sessionID)
}

// SetMaster claims the writer slot for clientID. Granting is idempotent
// for the current holder; a taken slot reports false.
func (r *Registry) SetMaster(sessionID, clientID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	holder, taken := r.masters[sessionID]
	if taken && holder != clientID {
		return false
	}
	r.masters[sessionID] = clientID
	return true
}

// ReleaseMaster vacates the writer slot. No-op unless clientID is the
// current holder.
func (r *Registry) ReleaseMaster(sessionID, clientID string) {
	r.mu.Lock()
	if r.masters[sessionID] == clientID {
		delete(r.masters, sessionID)
	}
	r.mu.Unlock()
}

// IsMaster reports whether clientID holds the writer slot.
func (r *Registry) IsMaster(sessionID, clientID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return clientID != "" && r.masters[sessionID] == clientID
}

// HasMaster reports whether any client holds the writer slot.
func (r *Registry) HasMaster(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.masters[sessionID] != ""
}

package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/claudeck/claudeck/pkg/audit"
	"github.com/claudeck/claudeck/pkg/auth"
	"github.com/claudeck/claudeck/pkg/guard"
	"github.com/claudeck/claudeck/pkg/models"
	"github.com/claudeck/claudeck/pkg/probe"
	"github.com/claudeck/claudeck/pkg/registry"
)

// HubCloser force-closes a session's streaming hub. Satisfied by the
// stream broker.
type HubCloser interface {
	CloseSession(sessionID string)
}

// SessionHandler handles session lifecycle endpoints.
type SessionHandler struct {
	registry *registry.Registry
	guard    *guard.PathGuard
	probe    *probe.Probe
	creds    *auth.CredentialService
	audit    *audit.Recorder
	hubs     HubCloser
}

// NewSessionHandler creates a new SessionHandler. hubs may be nil in tests
// that do not exercise streaming.
func NewSessionHandler(reg *registry.Registry, g *guard.PathGuard, p *probe.Probe, creds *auth.CredentialService, recorder *audit.Recorder, hubs HubCloser) *SessionHandler {
	return &SessionHandler{
		registry: reg,
		guard:    g,
		probe:    p,
		creds:    creds,
		audit:    recorder,
		hubs:     hubs,
	}
}

// CreateSessionRequest is the request body for POST /api/sessions.
type CreateSessionRequest struct {
	ProjectPath string `json:"projectPath"`
	ProjectName string `json:"projectName"`
}

// ShareRequest is the request body for POST /api/sessions/{id}/share.
type ShareRequest struct {
	TTLSeconds int64 `json:"ttlSeconds,omitempty"`
}

// ShareResponse returns the minted reader grant.
type ShareResponse struct {
	Token     string    `json:"token"`
	SessionID string    `json:"session_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// List handles GET /api/sessions.
func (h *SessionHandler) List(w http.ResponseWriter, r *http.Request) {
	snapshots, err := h.registry.List(r.Context())
	if err != nil {
		InternalServerError(w, "Failed to list sessions")
		return
	}
	WriteJSONOK(w, snapshots)
}

// Create handles POST /api/sessions.
// The project path must canonicalize into a whitelisted project root
// before the multiplexer is asked for a window.
func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if req.ProjectPath == "" || req.ProjectName == "" {
		BadRequest(w, "projectPath and projectName are required")
		return
	}

	canonPath, err := h.guard.ResolveProject(req.ProjectPath)
	if err != nil {
		WriteDomainError(w, err)
		return
	}

	var ownerID *string
	if claims := auth.ClaimsFromContext(r.Context()); claims != nil {
		ownerID = &claims.UserID
	}

	session, err := h.registry.Create(r.Context(), canonPath, req.ProjectName, ownerID)
	if err != nil {
		WriteDomainError(w, err)
		return
	}

	h.audit.Record(r.Context(), audit.Event{
		Action:       models.AuditSessionCreate,
		UserID:       deref(ownerID),
		IPAddress:    remoteIP(r),
		UserAgent:    r.UserAgent(),
		ResourceType: "session",
		ResourceID:   session.SessionID,
		Details:      map[string]any{"project_name": session.ProjectName},
	})

	WriteJSONCreated(w, session)
}

// Get handles GET /api/sessions/{id}.
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	session, err := h.registry.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	WriteJSONOK(w, session)
}

// Kill handles DELETE /api/sessions/{id}.
// The hub is torn down first so attached clients observe the end before
// the window disappears underneath them.
func (h *SessionHandler) Kill(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")
	if err := guard.CheckSessionID(sessionID); err != nil {
		WriteDomainError(w, err)
		return
	}

	if h.hubs != nil {
		h.hubs.CloseSession(sessionID)
	}
	if h.probe != nil {
		h.probe.Stop(sessionID)
	}

	if err := h.registry.Kill(r.Context(), sessionID); err != nil {
		WriteDomainError(w, err)
		return
	}

	var userID string
	if claims := auth.ClaimsFromContext(r.Context()); claims != nil {
		userID = claims.UserID
	}
	h.audit.Record(r.Context(), audit.Event{
		Action:       models.AuditSessionKill,
		UserID:       userID,
		IPAddress:    remoteIP(r),
		UserAgent:    r.UserAgent(),
		ResourceType: "session",
		ResourceID:   sessionID,
	})

	WriteNoContent(w)
}

// Metadata handles GET /api/sessions/{id}/metadata.
func (h *SessionHandler) Metadata(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")

	session, err := h.registry.Get(r.Context(), sessionID)
	if err != nil {
		WriteDomainError(w, err)
		return
	}

	snapshot, err := h.probe.Snapshot(r.Context(), sessionID, session.ProjectPath)
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	WriteJSONOK(w, snapshot)
}

// MetadataHistory handles GET /api/sessions/{id}/metadata/history.
func (h *SessionHandler) MetadataHistory(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")
	if err := guard.CheckSessionID(sessionID); err != nil {
		WriteDomainError(w, err)
		return
	}

	logs, err := h.probe.History(r.Context(), sessionID, 100)
	if err != nil {
		InternalServerError(w, "Failed to load metadata history")
		return
	}
	WriteJSONOK(w, logs)
}

// Share handles POST /api/sessions/{id}/share.
// Mints a time-bounded read-only grant for the session.
func (h *SessionHandler) Share(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")

	// The session must exist before a grant is minted against it.
	if _, err := h.registry.Get(r.Context(), sessionID); err != nil {
		WriteDomainError(w, err)
		return
	}

	var req ShareRequest
	if r.ContentLength > 0 && !decodeJSONBody(w, r, &req) {
		return
	}

	var userID string
	if claims := auth.ClaimsFromContext(r.Context()); claims != nil {
		userID = claims.UserID
	}

	token, err := h.creds.IssueShareToken(r.Context(), sessionID, userID, time.Duration(req.TTLSeconds)*time.Second)
	if err != nil {
		InternalServerError(w, "Failed to issue share token")
		return
	}

	h.audit.Record(r.Context(), audit.Event{
		Action:       models.AuditSessionShare,
		UserID:       userID,
		IPAddress:    remoteIP(r),
		UserAgent:    r.UserAgent(),
		ResourceType: "session",
		ResourceID:   sessionID,
	})

	WriteJSONCreated(w, ShareResponse{
		Token:     token.Token,
		SessionID: token.SessionID,
		ExpiresAt: token.ExpiresAt,
	})
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

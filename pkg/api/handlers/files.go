package handlers

import (
	"net/http"

	"github.com/claudeck/claudeck/pkg/audit"
	"github.com/claudeck/claudeck/pkg/auth"
	"github.com/claudeck/claudeck/pkg/files"
	"github.com/claudeck/claudeck/pkg/models"
)

// FileHandler handles the editor surface endpoints. Containment and size
// caps live in the files service; this layer only shapes HTTP.
type FileHandler struct {
	files *files.Service
	audit *audit.Recorder
}

// NewFileHandler creates a new FileHandler.
func NewFileHandler(svc *files.Service, recorder *audit.Recorder) *FileHandler {
	return &FileHandler{files: svc, audit: recorder}
}

// SaveRequest is the request body for POST /api/files/save.
type SaveRequest struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// PathPairRequest is the request body for rename and copy.
type PathPairRequest struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// MkdirRequest is the request body for POST /api/files/mkdir.
type MkdirRequest struct {
	Path string `json:"path"`
}

// ContentResponse is the response body for GET /api/files/content.
type ContentResponse struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// List handles GET /api/files?path=...
func (h *FileHandler) List(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		BadRequest(w, "path query parameter is required")
		return
	}

	entries, err := h.files.List(path)
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	WriteJSONOK(w, entries)
}

// Content handles GET /api/files/content?path=...
func (h *FileHandler) Content(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		BadRequest(w, "path query parameter is required")
		return
	}

	data, err := h.files.Read(path)
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	WriteJSONOK(w, ContentResponse{Path: path, Content: string(data)})
}

// Save handles POST /api/files/save.
func (h *FileHandler) Save(w http.ResponseWriter, r *http.Request) {
	var req SaveRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if req.Path == "" {
		BadRequest(w, "path is required")
		return
	}

	if err := h.files.Write(req.Path, []byte(req.Content)); err != nil {
		WriteDomainError(w, err)
		return
	}

	h.recordFileEvent(r, models.AuditFileWrite, req.Path)
	WriteNoContent(w)
}

// Delete handles DELETE /api/files?path=...
func (h *FileHandler) Delete(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		BadRequest(w, "path query parameter is required")
		return
	}

	if err := h.files.Delete(path); err != nil {
		WriteDomainError(w, err)
		return
	}

	h.recordFileEvent(r, models.AuditFileDelete, path)
	WriteNoContent(w)
}

// Mkdir handles POST /api/files/mkdir.
func (h *FileHandler) Mkdir(w http.ResponseWriter, r *http.Request) {
	var req MkdirRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if req.Path == "" {
		BadRequest(w, "path is required")
		return
	}

	if err := h.files.Mkdir(req.Path); err != nil {
		WriteDomainError(w, err)
		return
	}
	WriteNoContent(w)
}

// Info handles GET /api/files/info?path=...
func (h *FileHandler) Info(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		BadRequest(w, "path query parameter is required")
		return
	}

	info, err := h.files.Info(path)
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	WriteJSONOK(w, info)
}

// Rename handles POST /api/files/rename.
func (h *FileHandler) Rename(w http.ResponseWriter, r *http.Request) {
	var req PathPairRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if req.From == "" || req.To == "" {
		BadRequest(w, "from and to are required")
		return
	}

	if err := h.files.Rename(req.From, req.To); err != nil {
		WriteDomainError(w, err)
		return
	}

	h.recordFileEvent(r, models.AuditFileWrite, req.To)
	WriteNoContent(w)
}

// Copy handles POST /api/files/copy.
func (h *FileHandler) Copy(w http.ResponseWriter, r *http.Request) {
	var req PathPairRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if req.From == "" || req.To == "" {
		BadRequest(w, "from and to are required")
		return
	}

	if err := h.files.Copy(req.From, req.To); err != nil {
		WriteDomainError(w, err)
		return
	}

	h.recordFileEvent(r, models.AuditFileWrite, req.To)
	WriteNoContent(w)
}

func (h *FileHandler) recordFileEvent(r *http.Request, action, path string) {
	var userID string
	if claims := auth.ClaimsFromContext(r.Context()); claims != nil {
		userID = claims.UserID
	}
	h.audit.Record(r.Context(), audit.Event{
		Action:       action,
		UserID:       userID,
		IPAddress:    remoteIP(r),
		UserAgent:    r.UserAgent(),
		ResourceType: "file",
		ResourceID:   path,
	})
}

package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/claudeck/claudeck/internal/logger"
	"github.com/claudeck/claudeck/pkg/audit"
	"github.com/claudeck/claudeck/pkg/auth"
	"github.com/claudeck/claudeck/pkg/models"
)

const (
	// RefreshCookieName carries the renewal credential. HttpOnly and
	// path-scoped so scripts and unrelated routes never see it.
	RefreshCookieName = "claudeck_refresh"

	// CSRFCookieName mirrors middleware.CSRFCookieName; declared here to
	// keep the cookie-issuing and cookie-checking sides in sync by value.
	CSRFCookieName = "claudeck_csrf"

	refreshCookiePath = "/api/auth"
)

// AuthHandler handles authentication endpoints.
type AuthHandler struct {
	creds  *auth.CredentialService
	audit  *audit.Recorder
	secure bool
}

// NewAuthHandler creates a new AuthHandler. secure marks cookies
// Secure-only; enable it when serving TLS.
func NewAuthHandler(creds *auth.CredentialService, recorder *audit.Recorder, secure bool) *AuthHandler {
	return &AuthHandler{creds: creds, audit: recorder, secure: secure}
}

// LoginRequest is the request body for POST /api/auth/login.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse is the response body for login and refresh. The renewal
// credential travels only in the cookie, never the body.
type LoginResponse struct {
	AccessToken string       `json:"accessToken"`
	TokenType   string       `json:"tokenType"`
	ExpiresIn   int64        `json:"expiresIn"`
	ExpiresAt   time.Time    `json:"expiresAt"`
	User        UserResponse `json:"user"`
}

// UserResponse is a sanitized user representation for API responses.
type UserResponse struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Role     string `json:"role"`
}

// Login handles POST /api/auth/login.
// Authenticates credentials, sets the renewal and CSRF cookies, and
// returns the bearer token.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	if req.Username == "" || req.Password == "" {
		BadRequest(w, "Username and password are required")
		return
	}

	pair, user, err := h.creds.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		h.audit.Record(r.Context(), audit.Event{
			Action:    models.AuditLoginFailed,
			IPAddress: remoteIP(r),
			UserAgent: r.UserAgent(),
			Details:   map[string]any{"username": req.Username},
		})
		if errors.Is(err, models.ErrInvalidCredentials) || errors.Is(err, models.ErrUserNotFound) {
			Unauthorized(w, "Invalid username or password")
			return
		}
		InternalServerError(w, "Authentication failed")
		return
	}

	h.setRefreshCookie(w, pair.RefreshToken)
	if err := h.setCSRFCookie(w); err != nil {
		InternalServerError(w, "Failed to issue CSRF token")
		return
	}

	h.audit.Record(r.Context(), audit.Event{
		Action:    models.AuditLogin,
		UserID:    user.ID,
		IPAddress: remoteIP(r),
		UserAgent: r.UserAgent(),
	})

	WriteJSONOK(w, LoginResponse{
		AccessToken: pair.AccessToken,
		TokenType:   pair.TokenType,
		ExpiresIn:   pair.ExpiresIn,
		ExpiresAt:   pair.ExpiresAt,
		User:        userToResponse(user),
	})
}

// Refresh handles POST /api/auth/refresh.
// Renews from the cookie only; the old renewal credential is revoked in
// the same transaction that records the new one.
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(RefreshCookieName)
	if err != nil || cookie.Value == "" {
		Unauthorized(w, "Renewal cookie required")
		return
	}

	pair, user, err := h.creds.Renew(r.Context(), cookie.Value)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrInvalidTokenType):
			// A bearer token in the renewal cookie is type confusion.
			Unauthorized(w, "Wrong credential type for renewal")
		case errors.Is(err, auth.ErrExpiredToken):
			Unauthorized(w, "Renewal credential has expired")
		case errors.Is(err, models.ErrInvalidRefreshToken), errors.Is(err, auth.ErrInvalidToken):
			Unauthorized(w, "Invalid renewal credential")
		default:
			InternalServerError(w, "Renewal failed")
		}
		return
	}

	h.setRefreshCookie(w, pair.RefreshToken)

	h.audit.Record(r.Context(), audit.Event{
		Action:    models.AuditTokenRefresh,
		UserID:    user.ID,
		IPAddress: remoteIP(r),
		UserAgent: r.UserAgent(),
	})

	WriteJSONOK(w, LoginResponse{
		AccessToken: pair.AccessToken,
		TokenType:   pair.TokenType,
		ExpiresIn:   pair.ExpiresIn,
		ExpiresAt:   pair.ExpiresAt,
		User:        userToResponse(user),
	})
}

// Logout handles POST /api/auth/logout.
// Revokes the renewal credential and clears both cookies. Idempotent.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	raw := ""
	if cookie, err := r.Cookie(RefreshCookieName); err == nil {
		raw = cookie.Value
	}

	if err := h.creds.Logout(r.Context(), raw); err != nil {
		logger.WarnCtx(r.Context(), "failed to revoke refresh token on logout",
			logger.KeyError, err)
	}

	h.clearCookies(w)

	if claims := auth.ClaimsFromContext(r.Context()); claims != nil {
		h.audit.Record(r.Context(), audit.Event{
			Action:    models.AuditLogout,
			UserID:    claims.UserID,
			IPAddress: remoteIP(r),
			UserAgent: r.UserAgent(),
		})
	}

	WriteNoContent(w)
}

// Me handles GET /api/auth/me.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	claims := auth.ClaimsFromContext(r.Context())
	if claims == nil {
		Unauthorized(w, "Authentication required")
		return
	}
	WriteJSONOK(w, UserResponse{
		ID:       claims.UserID,
		Username: claims.Username,
		Role:     claims.Role,
	})
}

func (h *AuthHandler) setRefreshCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     RefreshCookieName,
		Value:    token,
		Path:     refreshCookiePath,
		MaxAge:   int(h.creds.JWT().GetRefreshTokenDuration().Seconds()),
		HttpOnly: true,
		Secure:   h.secure,
		SameSite: http.SameSiteStrictMode,
	})
}

func (h *AuthHandler) setCSRFCookie(w http.ResponseWriter) error {
	token, err := newCSRFToken()
	if err != nil {
		return err
	}
	// Not HttpOnly: the frontend reads it to echo the header.
	http.SetCookie(w, &http.Cookie{
		Name:     CSRFCookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(h.creds.JWT().GetRefreshTokenDuration().Seconds()),
		Secure:   h.secure,
		SameSite: http.SameSiteStrictMode,
	})
	return nil
}

func (h *AuthHandler) clearCookies(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     RefreshCookieName,
		Value:    "",
		Path:     refreshCookiePath,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secure,
		SameSite: http.SameSiteStrictMode,
	})
	http.SetCookie(w, &http.Cookie{
		Name:     CSRFCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Secure:   h.secure,
		SameSite: http.SameSiteStrictMode,
	})
}

// userToResponse converts a User to a UserResponse for API output.
func userToResponse(user *models.User) UserResponse {
	return UserResponse{
		ID:       user.ID,
		Username: user.Username,
		Role:     user.Role,
	}
}

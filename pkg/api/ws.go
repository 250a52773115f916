package api

import (
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/claudeck/claudeck/internal/logger"
	"github.com/claudeck/claudeck/pkg/api/handlers"
	apiMiddleware "github.com/claudeck/claudeck/pkg/api/middleware"
	"github.com/claudeck/claudeck/pkg/auth"
	"github.com/claudeck/claudeck/pkg/broker"
)

const (
	wsReadBufferSize  = 4096
	wsWriteBufferSize = 4096

	// closeBadTokenType is sent when a refresh-type credential is offered
	// on the handshake. 4003 sits in the application close-code range.
	closeBadTokenType = 4003
)

// WSHandler upgrades authenticated connections and hands them to the
// stream broker.
type WSHandler struct {
	broker   *broker.Broker
	creds    *auth.CredentialService
	upgrader websocket.Upgrader
}

// NewWSHandler creates a WSHandler.
func NewWSHandler(b *broker.Broker, creds *auth.CredentialService) *WSHandler {
	return &WSHandler{
		broker: b,
		creds:  creds,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  wsReadBufferSize,
			WriteBufferSize: wsWriteBufferSize,
			CheckOrigin:     sameOrigin,
		},
	}
}

// sameOrigin admits requests without an Origin header (non-browser
// clients) and browser requests whose Origin host matches the request
// host. The dashboard serves same-origin only.
func sameOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	trimmed := strings.TrimPrefix(strings.TrimPrefix(origin, "https://"), "http://")
	return strings.EqualFold(trimmed, r.Host)
}

// Serve handles GET /ws.
// The handshake accepts a bearer token in the Authorization header or the
// `token` query parameter (browsers cannot set headers on WebSocket
// dials), or a share token in `shareToken` for read-only guests.
func (h *WSHandler) Serve(w http.ResponseWriter, r *http.Request) {
	// Share-token guests: validated against the store, reader role only.
	if shareToken := r.URL.Query().Get("shareToken"); shareToken != "" {
		grant, err := h.creds.ValidateShareToken(r.Context(), shareToken)
		if err != nil {
			handlers.Unauthorized(w, "Invalid or expired share token")
			return
		}
		conn, err := h.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		h.broker.ServeShareConn(r.Context(), conn, grant)
		return
	}

	token, ok := apiMiddleware.ExtractBearerToken(r)
	if !ok {
		token = r.URL.Query().Get("token")
	}
	if token == "" {
		handlers.Unauthorized(w, "Bearer token required")
		return
	}

	claims, err := h.creds.JWT().ValidateAccessToken(token)
	if err != nil {
		// A syntactically valid refresh token deserves a distinct close so
		// clients can tell type confusion from expiry. The check happens
		// after upgrade because the handshake itself must succeed to
		// deliver a close code.
		if refreshClaims, refreshErr := h.creds.JWT().ValidateRefreshToken(token); refreshErr == nil && refreshClaims != nil {
			conn, upErr := h.upgrader.Upgrade(w, r, nil)
			if upErr != nil {
				return
			}
			msg := websocket.FormatCloseMessage(closeBadTokenType, "refresh token not accepted here")
			_ = conn.WriteMessage(websocket.CloseMessage, msg)
			_ = conn.Close()
			return
		}
		handlers.Unauthorized(w, "Invalid or expired token")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.WarnCtx(r.Context(), "websocket upgrade failed", logger.KeyError, err)
		return
	}

	h.broker.ServeConn(r.Context(), conn, claims)
}

package broker

import (
	"encoding/json"
	"time"

	"github.com/claudeck/claudeck/internal/logger"
)

// Client-to-server message types.
const (
	MsgAttach         = "attach"
	MsgInput          = "input"
	MsgResize         = "resize"
	MsgRequestMaster  = "request-master"
	MsgReleaseMaster  = "release-master"
	MsgDetach         = "detach"
	MsgSendInput      = "send-input"
	MsgSendLargeInput = "send-large-input"
	MsgListSessions   = "list-sessions"
)

// Server-to-client message types.
const (
	MsgAttached       = "attached"
	MsgOutput         = "output"
	MsgModeChanged    = "mode-changed"
	MsgSessionEnded   = "session-ended"
	MsgSessionsList   = "sessions-list"
	MsgDetached       = "detached"
	MsgError          = "error"
	MsgMetadataUpdate = "metadata-update"
	MsgTokenExpiring  = "token-expiring"
	MsgTokenExpired   = "token-expired"
	MsgShuttingDown   = "server-shutting-down"
)

// Attachment modes.
const (
	ModeMaster = "master"
	ModeReader = "reader"
)

// clientMessage is the decoded client envelope. Byte payloads travel
// base64-encoded inside the JSON frame.
type clientMessage struct {
	Type       string `json:"type"`
	SessionID  string `json:"sessionId,omitempty"`
	Mode       string `json:"mode,omitempty"`
	ShareToken string `json:"shareToken,omitempty"`
	Data       []byte `json:"data,omitempty"`
	Text       string `json:"text,omitempty"`
	Cols       uint16 `json:"cols,omitempty"`
	Rows       uint16 `json:"rows,omitempty"`
}

// serverMessage is the outbound envelope. Only the fields relevant to the
// type are populated.
type serverMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId,omitempty"`
	Mode      string `json:"mode,omitempty"`
	Reason    string `json:"reason,omitempty"`
	Data      []byte `json:"data,omitempty"`
	ExitCode  *int   `json:"exitCode,omitempty"`
	Message   string `json:"message,omitempty"`
	ExpiresIn int64  `json:"expiresIn,omitempty"`
	Sessions  any    `json:"sessions,omitempty"`
	Metadata  any    `json:"metadata,omitempty"`
}

// encode marshals a server message, falling back to a minimal error frame
// on marshal failure (which indicates a programming bug, not bad input).
func encode(msg serverMessage) []byte {
	raw, err := json.Marshal(msg)
	if err != nil {
		logger.Error("failed to marshal server message", logger.KeyError, err)
		return []byte(`{"type":"error","message":"internal encoding error"}`)
	}
	return raw
}

func errorFrame(message string) []byte {
	return encode(serverMessage{Type: MsgError, Message: message})
}

func outputFrame(sessionID string, data []byte) []byte {
	return encode(serverMessage{Type: MsgOutput, SessionID: sessionID, Data: data})
}

func sessionEndedFrame(sessionID string, exitCode int) []byte {
	return encode(serverMessage{Type: MsgSessionEnded, SessionID: sessionID, ExitCode: &exitCode})
}

func tokenExpiringFrame(expiresIn time.Duration) []byte {
	return encode(serverMessage{
		Type:      MsgTokenExpiring,
		ExpiresIn: int64(expiresIn.Seconds()),
		Message:   "credential expires soon, renew to stay connected",
	})
}

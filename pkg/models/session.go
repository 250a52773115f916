package models

import "time"

// SessionStatus tracks the lifecycle of a terminal session.
type SessionStatus string

const (
	// SessionActive is a session with a live multiplexer window.
	SessionActive SessionStatus = "active"
	// SessionIdle is a live session without recent activity.
	SessionIdle SessionStatus = "idle"
	// SessionTerminated is a session whose window has been killed.
	SessionTerminated SessionStatus = "terminated"
	// SessionRecovered is a session adopted from a pre-existing window
	// after a server restart.
	SessionRecovered SessionStatus = "recovered"
)

// IsValid checks if the status is a known SessionStatus.
func (s SessionStatus) IsValid() bool {
	switch s {
	case SessionActive, SessionIdle, SessionTerminated, SessionRecovered:
		return true
	}
	return false
}

// Session represents a named terminal window on the dedicated multiplexer
// socket. The multiplexer window name is identical to SessionID.
type Session struct {
	SessionID   string     `gorm:"primaryKey;size:36;column:session_id" json:"session_id"`
	ProjectName string     `gorm:"size:255" json:"project_name"`
	ProjectPath string     `gorm:"not null" json:"project_path"`
	Status      string     `gorm:"default:active;size:20" json:"status"`
	CreatedAt   time.Time  `gorm:"autoCreateTime" json:"created_at"`
	EndedAt     *time.Time `json:"ended_at,omitempty"`
	LastActive  *time.Time `json:"last_active,omitempty"`
	OwnerID     *string    `gorm:"size:36" json:"owner_id,omitempty"`
}

// TableName returns the table name for Session.
func (Session) TableName() string {
	return "sessions"
}

// Alive reports whether the session is expected to have a live window.
func (s *Session) Alive() bool {
	return SessionStatus(s.Status) != SessionTerminated
}

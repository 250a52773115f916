package models

import (
	"encoding/json"
	"time"
)

// Audit action tags. Free-form strings are allowed; these cover the
// built-in flows.
const (
	AuditLogin         = "login"
	AuditLoginFailed   = "login_failed"
	AuditLogout        = "logout"
	AuditTokenRefresh  = "token_refresh"
	AuditSessionCreate = "session_create"
	AuditSessionKill   = "session_kill"
	AuditSessionShare  = "session_share"
	AuditSessionAttach = "session_attach"
	AuditFileWrite     = "file_write"
	AuditFileDelete    = "file_delete"
	AuditUserCreate    = "user_create"
)

// AuditLog is an append-only audit record. Rows are never mutated.
type AuditLog struct {
	ID           uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID       *string   `gorm:"size:36;index" json:"user_id,omitempty"`
	Action       string    `gorm:"size:64;not null;index" json:"action"`
	ResourceType string    `gorm:"size:64" json:"resource_type,omitempty"`
	ResourceID   string    `gorm:"size:255" json:"resource_id,omitempty"`
	Details      string    `gorm:"type:text" json:"details,omitempty"` // JSON blob
	IPAddress    string    `gorm:"size:64" json:"ip_address,omitempty"`
	UserAgent    string    `gorm:"size:255" json:"user_agent,omitempty"`
	Timestamp    time.Time `gorm:"autoCreateTime;index" json:"timestamp"`
}

// TableName returns the table name for AuditLog.
func (AuditLog) TableName() string {
	return "audit_logs"
}

// DetailsMap decodes the Details JSON blob. Returns nil on empty or
// malformed details.
func (a *AuditLog) DetailsMap() map[string]any {
	if a.Details == "" {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(a.Details), &m); err != nil {
		return nil
	}
	return m
}

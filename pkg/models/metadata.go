package models

import "time"

// MetadataSource tags where a metadata snapshot came from, in descending
// priority order.
type MetadataSource string

const (
	SourceStructuredCLI MetadataSource = "structured-cli"
	SourceLogFile       MetadataSource = "log-file"
	SourceGlobalStats   MetadataSource = "global-stats"
	SourceScreenScrape  MetadataSource = "screen-scrape"
)

// MetadataSnapshot is an ephemeral view of a session's CLI state.
type MetadataSnapshot struct {
	SessionID      string         `json:"session_id"`
	Source         MetadataSource `json:"source"`
	ContextPercent float64        `json:"context_percent,omitempty"`
	TokenUsage     int64          `json:"token_usage,omitempty"`
	CostUSD        float64        `json:"cost_usd,omitempty"`
	Status         string         `json:"status,omitempty"`
	LastMessage    string         `json:"last_message,omitempty"`
	Model          string         `json:"model,omitempty"`
	Timestamp      time.Time      `json:"timestamp"`
}

// MetadataLog is the persisted history record of a metadata snapshot.
type MetadataLog struct {
	ID             uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	SessionID      string    `gorm:"size:36;not null;index" json:"session_id"`
	Session        *Session  `gorm:"constraint:OnDelete:CASCADE" json:"-"`
	TokenUsage     int64     `json:"token_usage"`
	ContextPercent float64   `json:"context_percent"`
	CostUSD        float64   `json:"cost_usd"`
	Source         string    `gorm:"size:32" json:"source"`
	Timestamp      time.Time `gorm:"autoCreateTime;index" json:"timestamp"`
}

// TableName returns the table name for MetadataLog.
func (MetadataLog) TableName() string {
	return "metadata_logs"
}

// Record converts a snapshot into its persisted form.
func (m *MetadataSnapshot) Record() *MetadataLog {
	return &MetadataLog{
		SessionID:      m.SessionID,
		TokenUsage:     m.TokenUsage,
		ContextPercent: m.ContextPercent,
		CostUSD:        m.CostUSD,
		Source:         string(m.Source),
		Timestamp:      m.Timestamp,
	}
}

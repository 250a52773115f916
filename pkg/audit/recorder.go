// Package audit records security-relevant events to the append-only trail.
// Recording never fails the operation being audited: a broken store degrades
// to a logged warning, not a denied request.
package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/claudeck/claudeck/internal/logger"
	"github.com/claudeck/claudeck/pkg/models"
	"github.com/claudeck/claudeck/pkg/store"
)

// Recorder appends audit entries and exposes read access to the trail.
type Recorder struct {
	store store.AuditStore
}

// NewRecorder creates a Recorder backed by the given store.
func NewRecorder(s store.AuditStore) *Recorder {
	return &Recorder{store: s}
}

// Event carries the variable parts of one audit entry.
type Event struct {
	Action       string
	UserID       string
	IPAddress    string
	UserAgent    string
	ResourceType string
	ResourceID   string
	Details      map[string]any
}

// Record appends one entry. Marshal or store failures are logged and
// swallowed.
func (r *Recorder) Record(ctx context.Context, ev Event) {
	entry := &models.AuditLog{
		Timestamp:    time.Now(),
		Action:       ev.Action,
		IPAddress:    ev.IPAddress,
		UserAgent:    ev.UserAgent,
		ResourceType: ev.ResourceType,
		ResourceID:   ev.ResourceID,
	}
	if ev.UserID != "" {
		entry.UserID = &ev.UserID
	}

	if len(ev.Details) > 0 {
		raw, err := json.Marshal(ev.Details)
		if err != nil {
			logger.WarnCtx(ctx, "failed to marshal audit details",
				logger.KeyAction, ev.Action, logger.KeyError, err)
		} else {
			entry.Details = string(raw)
		}
	}

	if err := r.store.AppendAudit(ctx, entry); err != nil {
		logger.ErrorCtx(ctx, "failed to append audit entry",
			logger.KeyAction, ev.Action,
			logger.KeyResource, ev.ResourceID,
			logger.KeyError, err)
	}
}

// Recent returns the newest entries, up to limit.
func (r *Recorder) Recent(ctx context.Context, limit int) ([]*models.AuditLog, error) {
	return r.store.RecentAudit(ctx, limit)
}

// ForUser returns entries for one user since the given instant.
func (r *Recorder) ForUser(ctx context.Context, userID string, since time.Time, limit int) ([]*models.AuditLog, error) {
	return r.store.AuditForUser(ctx, userID, since, limit)
}

// ForResource returns entries touching one resource.
func (r *Recorder) ForResource(ctx context.Context, resourceType, resourceID string, limit int) ([]*models.AuditLog, error) {
	return r.store.AuditForResource(ctx, resourceType, resourceID, limit)
}

// FailedLogins counts failed login attempts from an address since the given
// instant. The login limiter consults this across restarts.
func (r *Recorder) FailedLogins(ctx context.Context, ipAddress string, since time.Time) (int64, error) {
	return r.store.FailedLogins(ctx, ipAddress, since)
}

// ActivityCounts returns per-action counters for the window.
func (r *Recorder) ActivityCounts(ctx context.Context, since time.Time) (map[string]int64, error) {
	return r.store.CountAuditByAction(ctx, since)
}

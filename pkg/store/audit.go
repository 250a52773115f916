package store

import (
	"context"
	"time"

	"github.com/claudeck/claudeck/pkg/models"
)

func (s *GORMStore) AppendAudit(ctx context.Context, entry *models.AuditLog) error {
	return s.db.WithContext(ctx).Create(entry).Error
}

func (s *GORMStore) RecentAudit(ctx context.Context, limit int) ([]*models.AuditLog, error) {
	if limit <= 0 {
		limit = 100
	}
	var entries []*models.AuditLog
	err := s.db.WithContext(ctx).
		Order("timestamp DESC").
		Limit(limit).
		Find(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *GORMStore) AuditForUser(ctx context.Context, userID string, since time.Time, limit int) ([]*models.AuditLog, error) {
	if limit <= 0 {
		limit = 100
	}
	var entries []*models.AuditLog
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND timestamp >= ?", userID, since).
		Order("timestamp DESC").
		Limit(limit).
		Find(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *GORMStore) AuditForResource(ctx context.Context, resourceType, resourceID string, limit int) ([]*models.AuditLog, error) {
	if limit <= 0 {
		limit = 100
	}
	var entries []*models.AuditLog
	err := s.db.WithContext(ctx).
		Where("resource_type = ? AND resource_id = ?", resourceType, resourceID).
		Order("timestamp DESC").
		Limit(limit).
		Find(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// FailedLogins counts failed login attempts from ipAddress since the given
// instant.
func (s *GORMStore) FailedLogins(ctx context.Context, ipAddress string, since time.Time) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&models.AuditLog{}).
		Where("action = ? AND ip_address = ? AND timestamp >= ?", models.AuditLoginFailed, ipAddress, since).
		Count(&count).Error
	return count, err
}

// CountAuditByAction returns activity counters grouped by action tag for
// the given window.
func (s *GORMStore) CountAuditByAction(ctx context.Context, since time.Time) (map[string]int64, error) {
	type row struct {
		Action string
		N      int64
	}
	var rows []row
	err := s.db.WithContext(ctx).
		Model(&models.AuditLog{}).
		Select("action, COUNT(*) as n").
		Where("timestamp >= ?", since).
		Group("action").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int64, len(rows))
	for _, r := range rows {
		counts[r.Action] = r.N
	}
	return counts, nil
}

func (s *GORMStore) AppendMetadataLog(ctx context.Context, entry *models.MetadataLog) error {
	return s.db.WithContext(ctx).Create(entry).Error
}

func (s *GORMStore) ListMetadataLogs(ctx context.Context, sessionID string, limit int) ([]*models.MetadataLog, error) {
	if limit <= 0 {
		limit = 100
	}
	var entries []*models.MetadataLog
	err := s.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("timestamp DESC").
		Limit(limit).
		Find(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}

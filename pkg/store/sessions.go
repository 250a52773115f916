package store

import (
	"context"
	"time"

	"github.com/claudeck/claudeck/pkg/models"
)

func (s *GORMStore) GetSession(ctx context.Context, sessionID string) (*models.Session, error) {
	return getByField[models.Session](s.db, ctx, "session_id", sessionID, models.ErrSessionNotFound)
}

func (s *GORMStore) ListSessions(ctx context.Context) ([]*models.Session, error) {
	return listAll[models.Session](s.db, ctx)
}

func (s *GORMStore) CreateSession(ctx context.Context, session *models.Session) error {
	if session.Status == "" {
		session.Status = string(models.SessionActive)
	}
	if err := s.db.WithContext(ctx).Create(session).Error; err != nil {
		if isUniqueConstraintError(err) {
			return models.ErrDuplicateSession
		}
		return err
	}
	return nil
}

func (s *GORMStore) UpdateSessionStatus(ctx context.Context, sessionID string, status models.SessionStatus) error {
	result := s.db.WithContext(ctx).
		Model(&models.Session{}).
		Where("session_id = ?", sessionID).
		Update("status", string(status))
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return models.ErrSessionNotFound
	}
	return nil
}

func (s *GORMStore) TouchSession(ctx context.Context, sessionID string, at time.Time) error {
	result := s.db.WithContext(ctx).
		Model(&models.Session{}).
		Where("session_id = ?", sessionID).
		Update("last_active", at)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return models.ErrSessionNotFound
	}
	return nil
}

// EndSession marks a session terminated with its end timestamp.
func (s *GORMStore) EndSession(ctx context.Context, sessionID string, at time.Time) error {
	result := s.db.WithContext(ctx).
		Model(&models.Session{}).
		Where("session_id = ?", sessionID).
		Updates(map[string]any{
			"status":   string(models.SessionTerminated),
			"ended_at": at,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return models.ErrSessionNotFound
	}
	return nil
}

func (s *GORMStore) DeleteSession(ctx context.Context, sessionID string) error {
	return deleteByField[models.Session](s.db, ctx, "session_id", sessionID, models.ErrSessionNotFound)
}

package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/claudeck/claudeck/pkg/models"
)

func (s *GORMStore) InsertRefreshToken(ctx context.Context, token *models.RefreshToken) error {
	if token.ID == "" {
		token.ID = uuid.New().String()
	}
	return s.db.WithContext(ctx).Create(token).Error
}

func (s *GORMStore) GetRefreshToken(ctx context.Context, tokenHash string) (*models.RefreshToken, error) {
	return getByField[models.RefreshToken](s.db, ctx, "token_hash", tokenHash, models.ErrInvalidRefreshToken)
}

// RotateRefreshToken revokes the old record and inserts its replacement in
// one transaction. The rotation fails entirely if the old record is already
// revoked or unknown, so two valid tokens for the same subject can never
// coexist through this path.
func (s *GORMStore) RotateRefreshToken(ctx context.Context, oldHash string, newToken *models.RefreshToken) error {
	if newToken.ID == "" {
		newToken.ID = uuid.New().String()
	}
	now := time.Now()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&models.RefreshToken{}).
			Where("token_hash = ? AND revoked_at IS NULL", oldHash).
			Update("revoked_at", now)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return models.ErrInvalidRefreshToken
		}
		return tx.Create(newToken).Error
	})
}

func (s *GORMStore) RevokeRefreshToken(ctx context.Context, tokenHash string) error {
	result := s.db.WithContext(ctx).
		Model(&models.RefreshToken{}).
		Where("token_hash = ? AND revoked_at IS NULL", tokenHash).
		Update("revoked_at", time.Now())
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return models.ErrInvalidRefreshToken
	}
	return nil
}

func (s *GORMStore) RevokeAllRefreshTokens(ctx context.Context, userID string) error {
	return s.db.WithContext(ctx).
		Model(&models.RefreshToken{}).
		Where("user_id = ? AND revoked_at IS NULL", userID).
		Update("revoked_at", time.Now()).Error
}

func (s *GORMStore) PurgeExpiredRefreshTokens(ctx context.Context, before time.Time) (int64, error) {
	result := s.db.WithContext(ctx).
		Where("expires_at < ?", before).
		Delete(&models.RefreshToken{})
	return result.RowsAffected, result.Error
}

func (s *GORMStore) CreateShareToken(ctx context.Context, token *models.ShareToken) error {
	if token.ID == "" {
		token.ID = uuid.New().String()
	}
	return s.db.WithContext(ctx).Create(token).Error
}

func (s *GORMStore) ValidateShareToken(ctx context.Context, raw string, now time.Time) (*models.ShareToken, error) {
	var token models.ShareToken
	err := s.db.WithContext(ctx).
		Where("token = ? AND expires_at > ?", raw, now).
		First(&token).Error
	if err != nil {
		return nil, convertNotFoundError(err, models.ErrShareTokenNotFound)
	}
	return &token, nil
}

func (s *GORMStore) DeleteShareTokensForSession(ctx context.Context, sessionID string) error {
	return s.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Delete(&models.ShareToken{}).Error
}

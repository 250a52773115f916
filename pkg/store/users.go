package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/claudeck/claudeck/internal/logger"
	"github.com/claudeck/claudeck/pkg/models"
)

// BcryptCost is the work factor for password hashing. Calibrated to roughly
// 100 ms per hash on current server hardware.
const BcryptCost = 12

// dummyHash is a bcrypt digest of a random string, compared against when the
// user is unknown so login cost does not reveal account existence.
var dummyHash = func() []byte {
	h, err := bcrypt.GenerateFromPassword([]byte("claudeck-dummy-credential"), BcryptCost)
	if err != nil {
		panic(fmt.Sprintf("bcrypt dummy hash: %v", err))
	}
	return h
}()

func (s *GORMStore) GetUser(ctx context.Context, username string) (*models.User, error) {
	return getByField[models.User](s.db, ctx, "username", username, models.ErrUserNotFound)
}

func (s *GORMStore) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	return getByField[models.User](s.db, ctx, "id", id, models.ErrUserNotFound)
}

func (s *GORMStore) ListUsers(ctx context.Context) ([]*models.User, error) {
	return listAll[models.User](s.db, ctx)
}

func (s *GORMStore) CreateUser(ctx context.Context, user *models.User) (string, error) {
	user.CreatedAt = time.Now()
	return createWithID(s.db, ctx, user, func(u *models.User, id string) { u.ID = id }, user.ID, models.ErrDuplicateUser)
}

func (s *GORMStore) DeleteUser(ctx context.Context, username string) error {
	return deleteByField[models.User](s.db, ctx, "username", username, models.ErrUserNotFound)
}

func (s *GORMStore) CountUsers(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.User{}).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (s *GORMStore) UpdateLastLogin(ctx context.Context, username string, timestamp time.Time) error {
	result := s.db.WithContext(ctx).
		Model(&models.User{}).
		Where("username = ?", username).
		Update("last_login", timestamp)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return models.ErrUserNotFound
	}
	return nil
}

// ValidateCredentials checks a username/password pair. Unknown users and
// wrong passwords fail with the same error; an unknown user still pays one
// bcrypt comparison against a dummy digest.
func (s *GORMStore) ValidateCredentials(ctx context.Context, username, password string) (*models.User, error) {
	user, err := s.GetUser(ctx, username)
	if err != nil {
		if errors.Is(err, models.ErrUserNotFound) {
			_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
			return nil, models.ErrInvalidCredentials
		}
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, models.ErrInvalidCredentials
	}
	return user, nil
}

// HashPassword hashes a plaintext password with the project work factor.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), BcryptCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// MinAdminPasswordLen is the minimum length for the bootstrap admin password.
const MinAdminPasswordLen = 12

// EnsureAdminUser bootstraps the initial admin account. It only acts when
// the users table is empty; with no usable configured password it logs a
// warning and leaves the table empty. Returns true when a user was created.
func (s *GORMStore) EnsureAdminUser(ctx context.Context, username, password string) (bool, error) {
	count, err := s.CountUsers(ctx)
	if err != nil {
		return false, err
	}
	if count > 0 {
		return false, nil
	}

	if username == "" || len(password) < MinAdminPasswordLen {
		logger.Warn("no users exist and no usable admin bootstrap credentials configured",
			"min_password_len", MinAdminPasswordLen)
		return false, nil
	}

	hash, err := HashPassword(password)
	if err != nil {
		return false, err
	}

	admin := &models.User{
		Username:     username,
		PasswordHash: hash,
		Role:         string(models.RoleAdmin),
	}
	if _, err := s.CreateUser(ctx, admin); err != nil {
		return false, err
	}
	logger.Info("bootstrap admin user created", "username", username)
	return true, nil
}

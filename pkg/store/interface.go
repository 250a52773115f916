package store

import (
	"context"
	"time"

	"github.com/claudeck/claudeck/pkg/models"
)

// UserStore manages user accounts and credential validation.
type UserStore interface {
	GetUser(ctx context.Context, username string) (*models.User, error)
	GetUserByID(ctx context.Context, id string) (*models.User, error)
	ListUsers(ctx context.Context) ([]*models.User, error)
	CreateUser(ctx context.Context, user *models.User) (string, error)
	DeleteUser(ctx context.Context, username string) error
	CountUsers(ctx context.Context) (int64, error)
	UpdateLastLogin(ctx context.Context, username string, timestamp time.Time) error
	ValidateCredentials(ctx context.Context, username, password string) (*models.User, error)
}

// SessionStore mirrors the registry's session records durably.
type SessionStore interface {
	GetSession(ctx context.Context, sessionID string) (*models.Session, error)
	ListSessions(ctx context.Context) ([]*models.Session, error)
	CreateSession(ctx context.Context, session *models.Session) error
	UpdateSessionStatus(ctx context.Context, sessionID string, status models.SessionStatus) error
	TouchSession(ctx context.Context, sessionID string, at time.Time) error
	EndSession(ctx context.Context, sessionID string, at time.Time) error
	DeleteSession(ctx context.Context, sessionID string) error
}

// TokenStore manages refresh-token records. The raw token is never stored;
// rows are keyed by a one-way digest.
type TokenStore interface {
	InsertRefreshToken(ctx context.Context, token *models.RefreshToken) error
	GetRefreshToken(ctx context.Context, tokenHash string) (*models.RefreshToken, error)
	// RotateRefreshToken revokes the old record and inserts the new one in a
	// single transaction.
	RotateRefreshToken(ctx context.Context, oldHash string, newToken *models.RefreshToken) error
	RevokeRefreshToken(ctx context.Context, tokenHash string) error
	RevokeAllRefreshTokens(ctx context.Context, userID string) error
	PurgeExpiredRefreshTokens(ctx context.Context, before time.Time) (int64, error)
}

// ShareTokenStore manages time-bounded reader grants.
type ShareTokenStore interface {
	CreateShareToken(ctx context.Context, token *models.ShareToken) error
	// ValidateShareToken returns the grant iff the token exists and has not
	// expired at the given instant.
	ValidateShareToken(ctx context.Context, raw string, now time.Time) (*models.ShareToken, error)
	DeleteShareTokensForSession(ctx context.Context, sessionID string) error
}

// MetadataLogStore appends and queries metadata snapshot history.
type MetadataLogStore interface {
	AppendMetadataLog(ctx context.Context, entry *models.MetadataLog) error
	ListMetadataLogs(ctx context.Context, sessionID string, limit int) ([]*models.MetadataLog, error)
}

// AuditStore appends and queries the audit trail.
type AuditStore interface {
	AppendAudit(ctx context.Context, entry *models.AuditLog) error
	RecentAudit(ctx context.Context, limit int) ([]*models.AuditLog, error)
	AuditForUser(ctx context.Context, userID string, since time.Time, limit int) ([]*models.AuditLog, error)
	AuditForResource(ctx context.Context, resourceType, resourceID string, limit int) ([]*models.AuditLog, error)
	FailedLogins(ctx context.Context, ipAddress string, since time.Time) (int64, error)
	CountAuditByAction(ctx context.Context, since time.Time) (map[string]int64, error)
}

// Store is the full control plane store contract.
type Store interface {
	UserStore
	SessionStore
	TokenStore
	ShareTokenStore
	MetadataLogStore
	AuditStore

	Healthcheck(ctx context.Context) error
	Close() error
}

// Compile-time interface check.
var _ Store = (*GORMStore)(nil)

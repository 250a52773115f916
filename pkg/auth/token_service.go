package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/claudeck/claudeck/internal/logger"
	"github.com/claudeck/claudeck/pkg/models"
	"github.com/claudeck/claudeck/pkg/store"
)

// DefaultShareTokenTTL bounds reader grants that do not specify a lifetime.
const DefaultShareTokenTTL = 24 * time.Hour

// CredentialService issues and renews bearer credentials. It couples the
// stateless JWT layer with the durable refresh-token ledger: a signed
// refresh token is only honored while its digest row is live, so revocation
// works even though the JWT itself cannot be recalled.
type CredentialService struct {
	jwt   *JWTService
	users store.UserStore
	toks  store.TokenStore
	share store.ShareTokenStore
}

// NewCredentialService wires the JWT service to the store.
func NewCredentialService(jwtService *JWTService, s store.Store) *CredentialService {
	return &CredentialService{jwt: jwtService, users: s, toks: s, share: s}
}

// JWT exposes the underlying JWT service for middleware validation.
func (c *CredentialService) JWT() *JWTService {
	return c.jwt
}

// HashToken returns the hex SHA-256 digest under which refresh tokens are
// persisted. The raw token never touches the database.
func HashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// Login validates credentials and mints a fresh token pair, recording the
// refresh digest so the pair can later be renewed or revoked.
func (c *CredentialService) Login(ctx context.Context, username, password string) (*TokenPair, *models.User, error) {
	user, err := c.users.ValidateCredentials(ctx, username, password)
	if err != nil {
		return nil, nil, err
	}

	pair, err := c.issuePair(ctx, user)
	if err != nil {
		return nil, nil, err
	}

	if err := c.users.UpdateLastLogin(ctx, user.Username, time.Now()); err != nil {
		logger.WarnCtx(ctx, "failed to update last login time",
			logger.KeyUsername, user.Username, logger.KeyError, err)
	}

	return pair, user, nil
}

// Renew exchanges a live refresh token for a new pair. The old digest row is
// revoked and the new one inserted atomically; a replayed old token fails
// with ErrInvalidRefreshToken.
func (c *CredentialService) Renew(ctx context.Context, rawRefresh string) (*TokenPair, *models.User, error) {
	claims, err := c.jwt.ValidateRefreshToken(rawRefresh)
	if err != nil {
		return nil, nil, err
	}

	oldHash := HashToken(rawRefresh)
	record, err := c.toks.GetRefreshToken(ctx, oldHash)
	if err != nil {
		return nil, nil, models.ErrInvalidRefreshToken
	}
	now := time.Now()
	if !record.Usable(now) {
		return nil, nil, models.ErrInvalidRefreshToken
	}

	user, err := c.users.GetUser(ctx, claims.Username)
	if err != nil {
		return nil, nil, models.ErrInvalidRefreshToken
	}

	pair, err := c.jwt.GenerateTokenPair(user)
	if err != nil {
		return nil, nil, err
	}

	newRecord := &models.RefreshToken{
		ID:        uuid.NewString(),
		UserID:    user.ID,
		TokenHash: HashToken(pair.RefreshToken),
		ExpiresAt: now.Add(c.jwt.GetRefreshTokenDuration()),
	}
	if err := c.toks.RotateRefreshToken(ctx, oldHash, newRecord); err != nil {
		return nil, nil, err
	}

	return pair, user, nil
}

// Logout revokes the refresh token behind the given raw value. Unknown or
// already-revoked tokens are treated as success so logout is idempotent.
func (c *CredentialService) Logout(ctx context.Context, rawRefresh string) error {
	if rawRefresh == "" {
		return nil
	}
	err := c.toks.RevokeRefreshToken(ctx, HashToken(rawRefresh))
	if err != nil && !errors.Is(err, models.ErrInvalidRefreshToken) {
		return err
	}
	return nil
}

// RevokeAll invalidates every refresh token held by the user. Used on
// password change and account deletion.
func (c *CredentialService) RevokeAll(ctx context.Context, userID string) error {
	return c.toks.RevokeAllRefreshTokens(ctx, userID)
}

// PurgeExpired removes dead refresh rows. Run periodically by the supervisor.
func (c *CredentialService) PurgeExpired(ctx context.Context) (int64, error) {
	return c.toks.PurgeExpiredRefreshTokens(ctx, time.Now())
}

// IssueShareToken mints a time-bounded reader grant for one session.
func (c *CredentialService) IssueShareToken(ctx context.Context, sessionID, createdBy string, ttl time.Duration) (*models.ShareToken, error) {
	if ttl <= 0 {
		ttl = DefaultShareTokenTTL
	}

	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return nil, fmt.Errorf("failed to generate share token: %w", err)
	}

	token := &models.ShareToken{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Token:     hex.EncodeToString(raw),
		ExpiresAt: time.Now().Add(ttl),
		CreatedBy: createdBy,
	}
	if err := c.share.CreateShareToken(ctx, token); err != nil {
		return nil, err
	}
	return token, nil
}

// ValidateShareToken resolves a reader grant, rejecting expired ones.
func (c *CredentialService) ValidateShareToken(ctx context.Context, raw string) (*models.ShareToken, error) {
	return c.share.ValidateShareToken(ctx, raw, time.Now())
}

// issuePair generates a token pair and persists the refresh digest.
func (c *CredentialService) issuePair(ctx context.Context, user *models.User) (*TokenPair, error) {
	pair, err := c.jwt.GenerateTokenPair(user)
	if err != nil {
		return nil, err
	}
	record := &models.RefreshToken{
		ID:        uuid.NewString(),
		UserID:    user.ID,
		TokenHash: HashToken(pair.RefreshToken),
		ExpiresAt: time.Now().Add(c.jwt.GetRefreshTokenDuration()),
	}
	if err := c.toks.InsertRefreshToken(ctx, record); err != nil {
		return nil, err
	}
	return pair, nil
}

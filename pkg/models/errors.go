package models

import "errors"

// Common errors for the session control plane.
var (
	// Identifier and path guards
	ErrInvalidSessionID = errors.New("invalid session identifier")
	ErrPathDenied       = errors.New("path outside allowed roots")
	ErrPathNotFound     = errors.New("path does not exist")

	// Credentials
	ErrInvalidCredentials  = errors.New("invalid username or password")
	ErrInvalidRefreshToken = errors.New("invalid refresh token")
	ErrInvalidTokenType    = errors.New("invalid token type")
	ErrTokenExpired        = errors.New("token has expired")

	// Sessions and streaming
	ErrSessionNotFound        = errors.New("session not found")
	ErrNotMaster              = errors.New("client does not hold the master slot")
	ErrNotAttached            = errors.New("client is not attached to this session")
	ErrPayloadTooLarge        = errors.New("payload exceeds size limit")
	ErrMultiplexerUnavailable = errors.New("terminal multiplexer is not available")
	ErrSlowConsumer           = errors.New("subscriber too slow, backlog exceeded")

	// Rate limiting
	ErrRateLimited = errors.New("rate limit exceeded")

	// Store
	ErrUserNotFound       = errors.New("user not found")
	ErrDuplicateUser      = errors.New("user already exists")
	ErrUserDisabled       = errors.New("user account is disabled")
	ErrDuplicateSession   = errors.New("session already exists")
	ErrShareTokenNotFound = errors.New("share token not found or expired")
)

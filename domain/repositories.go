package domain

import (
	"context"
	"time"
)

// OAuthRepository is the storage port for all entities owned by this core.
// Natural-key lookups (code, token value, user code) are expected to be
// indexed. Consume/approve/deny operations carry compare-and-set semantics:
// the mutation is conditioned on the record's current state at write time.
type OAuthRepository interface {
	// Authorization requests (consent-flow state)
	SaveAuthorizationRequest(ctx context.Context, req *AuthorizationRequest) error
	GetAuthorizationRequest(ctx context.Context, id string) (*AuthorizationRequest, error)
	GetAuthorizationRequestByToken(ctx context.Context, correlationToken string) (*AuthorizationRequest, error)
	// UpdateAuthorizationRequestStatus transitions pending -> to. Returns
	// ErrNotFound when the request is missing or no longer pending.
	UpdateAuthorizationRequestStatus(ctx context.Context, id string, to AuthorizationRequestStatus) error

	// Authorization codes
	SaveAuthCode(ctx context.Context, code *AuthCode) error
	GetAuthCode(ctx context.Context, code string) (*AuthCode, error)
	// ConsumeAuthCode atomically marks the code used, conditioned on it
	// being unused at write time. Returns ErrCodeAlreadyUsed when another
	// exchange won the race, ErrNotFound when the code does not exist.
	ConsumeAuthCode(ctx context.Context, code string) (*AuthCode, error)
	DeleteExpiredAuthCodes(ctx context.Context, now time.Time) error

	// Refresh tokens
	SaveRefreshToken(ctx context.Context, token *RefreshToken) error
	GetRefreshToken(ctx context.Context, id string) (*RefreshToken, error)
	GetRefreshTokenByValue(ctx context.Context, tokenValue string) (*RefreshToken, error)
	TouchRefreshToken(ctx context.Context, id string, usedAt time.Time) error
	RevokeRefreshToken(ctx context.Context, id, reason string) error
	CountActiveRefreshTokens(ctx context.Context, clientID, userID string) (int, error)
	// OldestActiveRefreshToken orders strictly by creation time, the FIFO
	// eviction order. Returns ErrNotFound when none are active.
	OldestActiveRefreshToken(ctx context.Context, clientID, userID string) (*RefreshToken, error)

	// Access tokens
	SaveAccessToken(ctx context.Context, token *AccessToken) error
	GetAccessToken(ctx context.Context, id string) (*AccessToken, error)
	GetAccessTokenByValue(ctx context.Context, tokenValue string) (*AccessToken, error)
	TouchAccessToken(ctx context.Context, id string, usedAt time.Time) error
	RevokeAccessToken(ctx context.Context, id string) error
	// RevokeAccessTokensByRefreshToken marks every access token whose
	// parent is the given refresh token as revoked (cascade).
	RevokeAccessTokensByRefreshToken(ctx context.Context, refreshTokenID string) error
	CountActiveAccessTokens(ctx context.Context, refreshTokenID string) (int, error)
	OldestActiveAccessToken(ctx context.Context, refreshTokenID string) (*AccessToken, error)

	// Device codes
	SaveDeviceCode(ctx context.Context, code *DeviceCode) error
	GetDeviceCodeByDeviceCode(ctx context.Context, deviceCode string) (*DeviceCode, error)
	GetDeviceCodeByUserCode(ctx context.Context, userCode string) (*DeviceCode, error)
	// ApproveDeviceCode transitions pending -> authorized and records the
	// approving user, conditioned on the code being pending and unexpired.
	ApproveDeviceCode(ctx context.Context, userCode, userID string) (*DeviceCode, error)
	// DenyDeviceCode transitions pending -> denied under the same condition.
	DenyDeviceCode(ctx context.Context, userCode string) (*DeviceCode, error)
	// UpdateDeviceCodeStatus transitions from -> to; the update is a no-op
	// returning ErrNotFound when the current status differs from from.
	UpdateDeviceCodeStatus(ctx context.Context, deviceCode string, from, to DeviceCodeStatus) error
	TouchDeviceCodePolledAt(ctx context.Context, deviceCode string, polledAt time.Time) error
	DeleteExpiredDeviceCodes(ctx context.Context, now time.Time) error
}

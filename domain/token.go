package domain

import "time"

// RefreshToken is a long-lived, revocable credential. It never expires by
// time; it leaves service only through explicit revocation, quota eviction
// or cascade.
type RefreshToken struct {
	ID            string    `bson:"_id" json:"id"`
	TokenValue    string    `bson:"token_value" json:"token_value"` // opaque random value, not a JWT
	ClientID      string    `bson:"client_id" json:"client_id"`
	UserID        string    `bson:"user_id" json:"user_id"`
	Scope         string    `bson:"scope" json:"scope"`
	CreatedAt     time.Time `bson:"created_at" json:"created_at"`
	LastUsedAt    time.Time `bson:"last_used_at" json:"last_used_at"`
	Revoked       bool      `bson:"revoked" json:"revoked"`
	RevokedReason string    `bson:"revoked_reason,omitempty" json:"revoked_reason,omitempty"`
}

// Revocation reasons recorded on refresh tokens.
const (
	RevokedByClient  = "revoked_by_client"
	RevokedByQuota   = "quota_eviction"
	RevokedByCascade = "cascade"
)

// AccessToken is a short-lived bearer credential. RefreshTokenID links it
// to the refresh token that minted it; empty for client-credentials tokens.
type AccessToken struct {
	ID             string    `bson:"_id" json:"id"`
	TokenValue     string    `bson:"token_value" json:"token_value"` // signed JWT
	ClientID       string    `bson:"client_id" json:"client_id"`
	UserID         string    `bson:"user_id,omitempty" json:"user_id,omitempty"` // empty for client_credentials
	Scope          string    `bson:"scope" json:"scope"`
	RefreshTokenID string    `bson:"refresh_token_id,omitempty" json:"refresh_token_id,omitempty"`
	ExpiresAt      time.Time `bson:"expires_at" json:"expires_at"`
	CreatedAt      time.Time `bson:"created_at" json:"created_at"`
	LastUsedAt     time.Time `bson:"last_used_at" json:"last_used_at"`
	Revoked        bool      `bson:"revoked" json:"revoked"`
}

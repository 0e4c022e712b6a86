package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Clock supplies the current time. Substitutable for deterministic tests.
type Clock interface {
	Now() time.Time
}

// SystemClock is the production Clock backed by time.Now.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

// IDGenerator supplies globally-unique identifiers for token ids and
// per-request correlation ids.
type IDGenerator interface {
	NewID() string
}

// UUIDGenerator is the production IDGenerator backed by google/uuid.
type UUIDGenerator struct{}

func (UUIDGenerator) NewID() string { return uuid.NewString() }

// ClientStore is the read-only client directory port. Client records are
// owned and populated by the external registry.
type ClientStore interface {
	GetClient(ctx context.Context, clientID string) (*Client, error)
}

// IdentityVerifier delegates resource-owner credential checks to the
// external identity store. Implementations must not disclose whether the
// user exists; any failure is ErrInvalidCredentials.
type IdentityVerifier interface {
	// VerifyPassword returns the verified user's id on success.
	VerifyPassword(ctx context.Context, username, password string) (string, error)
}

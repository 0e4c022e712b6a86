package token

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"go.pilab.hu/oauthkit/domain"
	"go.pilab.hu/oauthkit/internal/rand"
)

const refreshTokenBytes = 32

// IssuerOptions carries the server-wide issuance defaults.
type IssuerOptions struct {
	// Issuer is the iss claim stamped into access tokens.
	Issuer string
	// AccessTokenTTL bounds access-token lifetime.
	AccessTokenTTL time.Duration
}

// Issuer mints token records. Minting is pure computation over the clock,
// id generator and signer; persistence belongs to the flow postconditions
// so that no mutation happens before a flow's preconditions have passed.
type Issuer struct {
	opts   IssuerOptions
	signer Signer
	clock  domain.Clock
	ids    domain.IDGenerator
}

// NewIssuer creates an Issuer.
func NewIssuer(opts IssuerOptions, signer Signer, clock domain.Clock, ids domain.IDGenerator) *Issuer {
	if opts.AccessTokenTTL <= 0 {
		opts.AccessTokenTTL = time.Hour
	}
	return &Issuer{opts: opts, signer: signer, clock: clock, ids: ids}
}

// AccessTokenTTL returns the configured access-token lifetime.
func (i *Issuer) AccessTokenTTL() time.Duration { return i.opts.AccessTokenTTL }

// MintAccessToken builds a signed access token record. userID is empty for
// client-credentials tokens; refreshTokenID is empty when the token has no
// parent refresh token.
func (i *Issuer) MintAccessToken(clientID, userID, scope, refreshTokenID string) (*domain.AccessToken, error) {
	now := i.clock.Now()
	expiresAt := now.Add(i.opts.AccessTokenTTL)
	id := i.ids.NewID()

	claims := jwt.MapClaims{
		"iss": i.opts.Issuer,
		"sub": userID,
		"aud": jwt.ClaimStrings{clientID},
		"exp": jwt.NewNumericDate(expiresAt).Unix(),
		"iat": jwt.NewNumericDate(now).Unix(),
		"nbf": jwt.NewNumericDate(now).Unix(),
		"jti": id,
	}
	if scope != "" {
		claims["scope"] = scope
	}

	signed, err := i.signer.Sign(claims)
	if err != nil {
		return nil, fmt.Errorf("sign access token: %w", err)
	}

	return &domain.AccessToken{
		ID:             id,
		TokenValue:     signed,
		ClientID:       clientID,
		UserID:         userID,
		Scope:          scope,
		RefreshTokenID: refreshTokenID,
		ExpiresAt:      expiresAt,
		CreatedAt:      now,
		LastUsedAt:     now,
	}, nil
}

// MintRefreshToken builds a refresh token record with an opaque random
// value. Refresh tokens carry no expiry; they leave service only through
// revocation.
func (i *Issuer) MintRefreshToken(clientID, userID, scope string) (*domain.RefreshToken, error) {
	value, err := rand.String(refreshTokenBytes)
	if err != nil {
		return nil, fmt.Errorf("generate refresh token value: %w", err)
	}
	now := i.clock.Now()

	return &domain.RefreshToken{
		ID:         i.ids.NewID(),
		TokenValue: value,
		ClientID:   clientID,
		UserID:     userID,
		Scope:      scope,
		CreatedAt:  now,
		LastUsedAt: now,
	}, nil
}

package token

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// Signer signs and verifies access-token JWTs with one process-wide key.
// A single global key avoids having to extract a key id from an untrusted
// token before verification.
type Signer interface {
	Sign(claims jwt.Claims) (string, error)
	// Verify parses the token value and checks its signature. Expiry is
	// checked separately by the validator against the record of truth, so
	// jwt-level claim validation is disabled here.
	Verify(tokenValue string) (*jwt.Token, error)
}

var errUnexpectedSigningMethod = errors.New("unexpected signing method")

// HMACSigner is the reference Signer using HS256 over a shared secret.
type HMACSigner struct {
	key []byte
}

// NewHMACSigner creates a Signer from the process-wide symmetric key.
func NewHMACSigner(key []byte) *HMACSigner {
	return &HMACSigner{key: key}
}

func (s *HMACSigner) Sign(claims jwt.Claims) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
}

func (s *HMACSigner) Verify(tokenValue string) (*jwt.Token, error) {
	parsed, err := jwt.Parse(tokenValue, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("%w: %v", errUnexpectedSigningMethod, t.Header["alg"])
		}
		return s.key, nil
	}, jwt.WithoutClaimsValidation())
	if err != nil {
		return nil, err
	}
	return parsed, nil
}

// ExtractTokenID parses a token value without verifying the signature and
// returns its jti claim. Used by the validator to locate the authoritative
// record before any cryptographic trust is established.
func ExtractTokenID(tokenValue string) (string, error) {
	claims := jwt.MapClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(tokenValue, claims); err != nil {
		return "", fmt.Errorf("parse token: %w", err)
	}
	jti, _ := claims["jti"].(string)
	if jti == "" {
		return "", errors.New("token has no jti claim")
	}
	return jti, nil
}

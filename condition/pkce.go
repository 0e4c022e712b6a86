package condition

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
)

// PKCE challenge methods (RFC 7636).
const (
	PKCEMethodPlain = "plain"
	PKCEMethodS256  = "S256"
)

// VerifyPKCE recomputes the challenge from the caller-supplied verifier
// using the stored method and compares it to the stored challenge in
// constant time.
func VerifyPKCE(challenge, method, verifier string) bool {
	if challenge == "" || verifier == "" {
		return false
	}

	var computed string
	switch method {
	case PKCEMethodS256, "":
		// S256 is the default when the method was not recorded.
		h := sha256.Sum256([]byte(verifier))
		computed = base64.RawURLEncoding.EncodeToString(h[:])
	case PKCEMethodPlain:
		computed = verifier
	default:
		return false
	}

	return subtle.ConstantTimeCompare([]byte(challenge), []byte(computed)) == 1
}

// ValidPKCEMethod reports whether the method is one this server accepts.
func ValidPKCEMethod(method string) bool {
	return method == PKCEMethodPlain || method == PKCEMethodS256
}

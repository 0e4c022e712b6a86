// Package rand generates the random material used for opaque tokens,
// authorization codes and device-flow codes.
package rand

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
)

// userCodeCharset avoids ambiguous characters (no I, O, A, E, U) so codes
// survive being read aloud and retyped.
const userCodeCharset = "BCDFGHJKLMNPQRSTVWXYZ0123456789"

// String generates a secure random string of length bytes, hex encoded.
func String(length int) (string, error) {
	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// UserCode generates an uppercase, dash-free user code of the given length
// for the device flow. Lookups normalize input the same way (NormalizeUserCode)
// so comparison is effectively case-insensitive.
func UserCode(length int) (string, error) {
	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	for i := range b {
		b[i] = userCodeCharset[int(b[i])%len(userCodeCharset)]
	}
	return string(b), nil
}

// NormalizeUserCode uppercases a user-supplied code and strips the dashes
// and spaces people tend to type between groups.
func NormalizeUserCode(code string) string {
	code = strings.ToUpper(code)
	code = strings.ReplaceAll(code, "-", "")
	code = strings.ReplaceAll(code, " ", "")
	return code
}

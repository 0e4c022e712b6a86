package condition_test

import (
	"crypto/sha256"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"

	"go.pilab.hu/oauthkit/condition"
)

func TestVerifyPKCE(t *testing.T) {
	verifier := "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"
	h := sha256.Sum256([]byte(verifier))
	challenge := base64.RawURLEncoding.EncodeToString(h[:])

	tests := []struct {
		name      string
		challenge string
		method    string
		verifier  string
		want      bool
	}{
		{"s256 match", challenge, "S256", verifier, true},
		{"s256 default method", challenge, "", verifier, true},
		{"s256 wrong verifier", challenge, "S256", "other", false},
		{"plain match", "plain-value", "plain", "plain-value", true},
		{"plain mismatch", "plain-value", "plain", "other", false},
		{"plain value against s256", verifier, "S256", verifier, false},
		{"unknown method", challenge, "S512", verifier, false},
		{"empty challenge", "", "S256", verifier, false},
		{"empty verifier", challenge, "S256", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, condition.VerifyPKCE(tt.challenge, tt.method, tt.verifier))
		})
	}
}

func TestValidPKCEMethod(t *testing.T) {
	assert.True(t, condition.ValidPKCEMethod("S256"))
	assert.True(t, condition.ValidPKCEMethod("plain"))
	assert.False(t, condition.ValidPKCEMethod("s256"))
	assert.False(t, condition.ValidPKCEMethod(""))
}

// Package api holds the language-neutral request and response shapes
// exchanged with the transport adapter.
package api

// Token type constants.
const (
	TokenTypeBearer = "Bearer"
)

// TokenRequest is the input to a grant exchange. GrantType selects the
// flow; the remaining fields are grant-specific parameters.
type TokenRequest struct {
	GrantType    string `json:"grant_type" form:"grant_type"`
	ClientID     string `json:"client_id" form:"client_id"`
	ClientSecret string `json:"client_secret,omitempty" form:"client_secret"`
	Scope        string `json:"scope,omitempty" form:"scope"`

	// authorization_code
	Code         string `json:"code,omitempty" form:"code"`
	RedirectURI  string `json:"redirect_uri,omitempty" form:"redirect_uri"`
	CodeVerifier string `json:"code_verifier,omitempty" form:"code_verifier"`

	// refresh_token
	RefreshToken string `json:"refresh_token,omitempty" form:"refresh_token"`

	// password
	Username string `json:"username,omitempty" form:"username"`
	Password string `json:"password,omitempty" form:"password"`

	// device_code
	DeviceCode string `json:"device_code,omitempty" form:"device_code"`
}

// TokenResponse is the success result of a grant exchange.
//
//nolint:tagliatelle
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

// DeviceAuthResponse is the result of a device authorization request
// (RFC 8628 section 3.2).
//
//nolint:tagliatelle
type DeviceAuthResponse struct {
	DeviceCode              string `json:"device_code"`
	UserCode                string `json:"user_code"`
	VerificationURI         string `json:"verification_uri"`
	VerificationURIComplete string `json:"verification_uri_complete,omitempty"`
	ExpiresIn               int    `json:"expires_in"`
	Interval                int    `json:"interval"`
}

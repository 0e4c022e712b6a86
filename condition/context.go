package condition

import (
	"go.pilab.hu/oauthkit/domain"
)

// Context is the shared execution state a condition chain evaluates
// against. The request fields are populated by the flow engine from the
// caller's input; the loaded fields are filled in as a side effect of
// precondition evaluation and consumed by the flow's run and postcondition
// phases. One Context serves exactly one flow invocation, so no locking is
// needed.
type Context struct {
	CorrelationID string

	// Request input
	GrantType    string
	ClientID     string
	ClientSecret string
	Scope        string

	// authorization_code parameters
	Code         string
	RedirectURI  string
	CodeVerifier string

	// refresh_token parameters
	RefreshTokenValue string

	// password parameters
	Username string
	Password string

	// device_code parameters
	DeviceCodeValue string

	// Loaded during precondition evaluation
	Client       *domain.Client
	AuthCode     *domain.AuthCode
	RefreshToken *domain.RefreshToken
	DeviceCode   *domain.DeviceCode
	UserID       string
	GrantedScope string

	// Quota eviction victims selected during precondition evaluation,
	// revoked by the flow's postconditions.
	EvictAccessToken  *domain.AccessToken
	EvictRefreshToken *domain.RefreshToken

	// Prepared during the run phase, persisted by postconditions.
	NewAccessToken  *domain.AccessToken
	NewRefreshToken *domain.RefreshToken
}

package errors

import (
	"errors"
	"fmt"
)

// OAuth2Error represents a standardized OAuth 2.0 error
type OAuth2Error struct {
	Code        string `json:"error"`
	Description string `json:"error_description,omitempty"`
	URI         string `json:"error_uri,omitempty"`
	State       string `json:"state,omitempty"`
}

func (e *OAuth2Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// Is matches any OAuth2Error carrying the same code, so sentinel
// comparisons work across independently constructed errors.
func (e *OAuth2Error) Is(target error) bool {
	var other *OAuth2Error
	if errors.As(target, &other) {
		return e.Code == other.Code
	}
	return false
}

// Standard OAuth2 error codes
const (
	InvalidRequest       = "invalid_request"
	UnauthorizedClient   = "unauthorized_client"
	AccessDenied         = "access_denied"
	UnsupportedGrantType = "unsupported_grant_type"
	InvalidScope         = "invalid_scope"
	InvalidClient        = "invalid_client"
	InvalidGrant         = "invalid_grant"
	ServerError          = "server_error"

	// Device flow codes (RFC 8628)
	AuthorizationPending = "authorization_pending"
	SlowDown             = "slow_down"
	ExpiredToken         = "expired_token"

	// Resource server validation codes (RFC 6750)
	InvalidToken      = "invalid_token"
	InsufficientScope = "insufficient_scope"
)

// Common error constructors
func NewInvalidRequest(description string) *OAuth2Error {
	return &OAuth2Error{Code: InvalidRequest, Description: description}
}

func NewInvalidClient(description string) *OAuth2Error {
	return &OAuth2Error{Code: InvalidClient, Description: description}
}

func NewInvalidGrant(description string) *OAuth2Error {
	return &OAuth2Error{Code: InvalidGrant, Description: description}
}

func NewServerError(description string) *OAuth2Error {
	return &OAuth2Error{Code: ServerError, Description: description}
}

func NewInvalidScope(description string) *OAuth2Error {
	return &OAuth2Error{Code: InvalidScope, Description: description}
}

func NewUnauthorizedClient(description string) *OAuth2Error {
	return &OAuth2Error{Code: UnauthorizedClient, Description: description}
}

func NewUnsupportedGrantType() *OAuth2Error {
	return &OAuth2Error{
		Code:        UnsupportedGrantType,
		Description: "The authorization grant type is not supported",
	}
}

func NewAccessDenied(description string) *OAuth2Error {
	return &OAuth2Error{Code: AccessDenied, Description: description}
}

func NewInvalidToken(description string) *OAuth2Error {
	return &OAuth2Error{Code: InvalidToken, Description: description}
}

func NewInsufficientScope(description string) *OAuth2Error {
	return &OAuth2Error{Code: InsufficientScope, Description: description}
}

// PKCE specific errors
func NewPKCERequired() *OAuth2Error {
	return &OAuth2Error{
		Code:        InvalidRequest,
		Description: "PKCE is required for this client",
	}
}

func NewInvalidPKCE(description string) *OAuth2Error {
	return &OAuth2Error{
		Code:        InvalidGrant,
		Description: fmt.Sprintf("PKCE validation failed: %s", description),
	}
}

// Device flow errors. Sentinels so flows and transports can branch on
// retry-worthy versus terminal outcomes.
var (
	ErrAuthorizationPending   = &OAuth2Error{Code: AuthorizationPending, Description: "authorization request is still pending"}
	ErrSlowDown               = &OAuth2Error{Code: SlowDown, Description: "polling too frequently, slow down"}
	ErrDeviceFlowTokenExpired = &OAuth2Error{Code: ExpiredToken, Description: "device code expired or already used"}
	ErrDeviceFlowAccessDenied = &OAuth2Error{Code: AccessDenied, Description: "the user denied the authorization request"}
)

// Lookup sentinels used at the storage boundary.
var (
	ErrNotFound                = errors.New("record not found")
	ErrDeviceCodeNotFound      = errors.New("device code not found")
	ErrUserCodeNotFound        = errors.New("user code not found")
	ErrCannotApproveDeviceAuth = errors.New("device authorization cannot be approved")
	ErrCodeAlreadyUsed         = errors.New("authorization code already used")
	ErrTokenExpiredOrRevoked   = errors.New("token expired or revoked")
	ErrInvalidCredentials      = errors.New("invalid credentials")
)

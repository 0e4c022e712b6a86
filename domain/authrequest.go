package domain

import "time"

// AuthorizationRequestStatus is the consent-flow state of a pending
// authorization request. Transitions are one-way: pending is the only
// non-terminal status.
type AuthorizationRequestStatus string

const (
	AuthorizationRequestPending  AuthorizationRequestStatus = "pending"
	AuthorizationRequestApproved AuthorizationRequestStatus = "approved"
	AuthorizationRequestDenied   AuthorizationRequestStatus = "denied"
	AuthorizationRequestExpired  AuthorizationRequestStatus = "expired"
)

// AuthorizationRequest holds consent-flow state between the authorization
// endpoint and the consent decision.
type AuthorizationRequest struct {
	ID                  string                     `bson:"_id" json:"id"`
	CorrelationToken    string                     `bson:"correlation_token" json:"correlation_token"` // unique, links the consent UI round-trip
	ClientID            string                     `bson:"client_id" json:"client_id"`
	UserID              string                     `bson:"user_id,omitempty" json:"user_id,omitempty"`
	RedirectURI         string                     `bson:"redirect_uri" json:"redirect_uri"`
	Scope               string                     `bson:"scope" json:"scope"`
	State               string                     `bson:"state,omitempty" json:"state,omitempty"`
	CodeChallenge       string                     `bson:"code_challenge,omitempty" json:"code_challenge,omitempty"`
	CodeChallengeMethod string                     `bson:"code_challenge_method,omitempty" json:"code_challenge_method,omitempty"`
	Status              AuthorizationRequestStatus `bson:"status" json:"status"`
	CreatedAt           time.Time                  `bson:"created_at" json:"created_at"`
	ExpiresAt           time.Time                  `bson:"expires_at" json:"expires_at"`
}

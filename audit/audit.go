// Package audit defines the append-only audit trail contract. Every
// security-relevant transition in the token lifecycle emits one structured
// event carrying the request's correlation id. Events are never updated or
// deleted by this system; retention is the sink's concern.
package audit

import (
	"context"
	"time"
)

// Level classifies an event's severity.
type Level string

const (
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// EventType identifies the security-relevant transition an event records.
type EventType string

const (
	EventAccessTokenIssued   EventType = "ACCESS_TOKEN_ISSUED"
	EventRefreshTokenIssued  EventType = "REFRESH_TOKEN_ISSUED"
	EventTokenRevoked        EventType = "TOKEN_REVOKED"
	EventCascadeRevocation   EventType = "CASCADE_REVOCATION"
	EventQuotaEviction       EventType = "QUOTA_EVICTION"
	EventAuthCodeIssued      EventType = "AUTHORIZATION_CODE_ISSUED"
	EventAuthCodeExchanged   EventType = "AUTHORIZATION_CODE_EXCHANGED"
	EventAuthFailure         EventType = "AUTHENTICATION_FAILURE"
	EventValidationSuccess   EventType = "TOKEN_VALIDATION_SUCCESS"
	EventValidationFailure   EventType = "TOKEN_VALIDATION_FAILURE"
	EventScopeMismatch       EventType = "SCOPE_MISMATCH"
	EventDeviceCodeCreated   EventType = "DEVICE_CODE_CREATED"
	EventDeviceCodeApproved  EventType = "DEVICE_CODE_APPROVED"
	EventDeviceCodeDenied    EventType = "DEVICE_CODE_DENIED"
	EventDeviceCodeRedeemed  EventType = "DEVICE_CODE_REDEEMED"
	EventPasswordGrantUsed   EventType = "PASSWORD_GRANT_USED"
	EventConsentApproved     EventType = "CONSENT_APPROVED"
	EventConsentDenied       EventType = "CONSENT_DENIED"
	EventInternalError       EventType = "INTERNAL_ERROR"
)

// Event is one immutable audit record.
type Event struct {
	CorrelationID string                 `bson:"correlation_id" json:"correlation_id"`
	Timestamp     time.Time              `bson:"timestamp" json:"timestamp"`
	Level         Level                  `bson:"level" json:"level"`
	Type          EventType              `bson:"event_type" json:"event_type"`
	ClientID      string                 `bson:"client_id,omitempty" json:"client_id,omitempty"`
	UserID        string                 `bson:"user_id,omitempty" json:"user_id,omitempty"`
	TokenID       string                 `bson:"token_id,omitempty" json:"token_id,omitempty"`
	Detail        map[string]interface{} `bson:"detail,omitempty" json:"detail,omitempty"`
}

// Sink is the append-only emitter port. Append must be durable before it
// returns for the sink to be usable with critical events: flows write
// issuance, revocation and authentication-failure events synchronously and
// treat a failed append as a failure of the whole operation.
type Sink interface {
	Append(ctx context.Context, event Event) error
}

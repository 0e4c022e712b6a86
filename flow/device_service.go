package flow

import (
	"context"
	"errors"
	"fmt"

	"go.pilab.hu/oauthkit/api"
	"go.pilab.hu/oauthkit/audit"
	"go.pilab.hu/oauthkit/domain"
	serrors "go.pilab.hu/oauthkit/errors"
	"go.pilab.hu/oauthkit/internal/rand"
	"go.pilab.hu/oauthkit/scope"
)

const (
	deviceCodeBytes = 32
	userCodeLength  = 8
)

// DeviceService drives the verification half of the device authorization
// grant: a device obtains a device/user code pair, the user enters the
// user code on a second screen and approves or denies. The polling half
// lives in the device_code grant flow behind the token endpoint.
type DeviceService struct {
	deps Deps
}

// NewDeviceService creates a DeviceService.
func NewDeviceService(deps Deps) *DeviceService {
	return &DeviceService{deps: deps}
}

// Initiate creates a new device authorization: a long random device code
// for the polling device and a short human-typable user code for the
// second screen. The client may request a poll interval; the advertised
// interval never falls below the server-enforced floor.
func (s *DeviceService) Initiate(ctx context.Context, clientID, requestedScope string, requestedInterval int) (*api.DeviceAuthResponse, error) {
	cli, err := s.deps.Clients.GetClient(ctx, clientID)
	if err != nil {
		if errors.Is(err, serrors.ErrNotFound) {
			return nil, serrors.NewInvalidClient("client authentication failed")
		}
		return nil, fmt.Errorf("client lookup: %w", err)
	}
	if !cli.Enabled {
		return nil, serrors.NewInvalidClient("client authentication failed")
	}
	if !cli.AllowsGrantType(GrantDeviceCode) {
		return nil, serrors.NewUnauthorizedClient("grant type not allowed for this client")
	}
	if requestedScope == "" {
		requestedScope = cli.DefaultScope
	} else if !scope.Allowed(requestedScope, cli.AllowedScopes) {
		return nil, serrors.NewInvalidScope("requested scope not allowed for this client")
	}

	deviceCode, err := rand.String(deviceCodeBytes)
	if err != nil {
		return nil, fmt.Errorf("generate device code: %w", err)
	}
	userCode, err := rand.UserCode(userCodeLength)
	if err != nil {
		return nil, fmt.Errorf("generate user code: %w", err)
	}

	interval := requestedInterval
	if interval < s.deps.Options.DevicePollInterval {
		interval = s.deps.Options.DevicePollInterval
	}

	now := s.deps.Clock.Now()
	dc := &domain.DeviceCode{
		ID:         s.deps.IDs.NewID(),
		DeviceCode: deviceCode,
		UserCode:   userCode,
		ClientID:   clientID,
		Scope:      requestedScope,
		Status:     domain.DeviceCodeStatusPending,
		ExpiresAt:  now.Add(s.deps.Options.DeviceCodeTTL),
		Interval:   interval,
		CreatedAt:  now,
	}
	if err := s.deps.Repo.SaveDeviceCode(ctx, dc); err != nil {
		return nil, fmt.Errorf("save device code: %w", err)
	}

	if err := s.deps.Sink.Append(ctx, audit.Event{
		CorrelationID: dc.ID,
		Timestamp:     now,
		Level:         audit.LevelInfo,
		Type:          audit.EventDeviceCodeCreated,
		ClientID:      clientID,
	}); err != nil {
		s.deps.Logger.Error(ctx, "failed to append device audit event", err)
		return nil, serrors.NewServerError("audit write failed")
	}

	return &api.DeviceAuthResponse{
		DeviceCode:              deviceCode,
		UserCode:                userCode,
		VerificationURI:         s.deps.Options.VerificationURI,
		VerificationURIComplete: s.deps.Options.VerificationURI + "?user_code=" + userCode,
		ExpiresIn:               int(s.deps.Options.DeviceCodeTTL.Seconds()),
		Interval:                dc.Interval,
	}, nil
}

// VerifyUserCode resolves a user-typed code to its pending device
// authorization so the consent UI can show the requesting client and
// scope. Input is normalized, so dashes and lowercase are accepted.
func (s *DeviceService) VerifyUserCode(ctx context.Context, userCode string) (*domain.DeviceCode, error) {
	dc, err := s.deps.Repo.GetDeviceCodeByUserCode(ctx, rand.NormalizeUserCode(userCode))
	if err != nil {
		if errors.Is(err, serrors.ErrNotFound) || errors.Is(err, serrors.ErrUserCodeNotFound) {
			return nil, serrors.NewInvalidGrant("unknown user code")
		}
		return nil, fmt.Errorf("user code lookup: %w", err)
	}
	if dc.Status != domain.DeviceCodeStatusPending {
		return nil, serrors.NewInvalidGrant("device authorization is no longer pending")
	}
	if s.deps.Clock.Now().After(dc.ExpiresAt) {
		_ = s.deps.Repo.UpdateDeviceCodeStatus(ctx, dc.DeviceCode,
			domain.DeviceCodeStatusPending, domain.DeviceCodeStatusExpired)
		return nil, serrors.NewInvalidGrant("device authorization has expired")
	}
	return dc, nil
}

// Approve records the user's consent for the device authorization
// identified by the user code. The pending -> authorized transition is
// conditioned on the current status, so racing decisions resolve to
// exactly one winner.
func (s *DeviceService) Approve(ctx context.Context, userCode, userID string) error {
	dc, err := s.deps.Repo.ApproveDeviceCode(ctx, rand.NormalizeUserCode(userCode), userID)
	if err != nil {
		if errors.Is(err, serrors.ErrNotFound) || errors.Is(err, serrors.ErrUserCodeNotFound) ||
			errors.Is(err, serrors.ErrCannotApproveDeviceAuth) {
			return serrors.NewInvalidGrant("device authorization cannot be approved")
		}
		return fmt.Errorf("approve device code: %w", err)
	}

	if err := s.deps.Sink.Append(ctx, audit.Event{
		CorrelationID: dc.ID,
		Timestamp:     s.deps.Clock.Now(),
		Level:         audit.LevelInfo,
		Type:          audit.EventDeviceCodeApproved,
		ClientID:      dc.ClientID,
		UserID:        userID,
	}); err != nil {
		s.deps.Logger.Error(ctx, "failed to append device audit event", err)
		return serrors.NewServerError("audit write failed")
	}
	return nil
}

// Deny records the user's refusal. The device's next poll gets the
// terminal access_denied answer.
func (s *DeviceService) Deny(ctx context.Context, userCode string) error {
	dc, err := s.deps.Repo.DenyDeviceCode(ctx, rand.NormalizeUserCode(userCode))
	if err != nil {
		if errors.Is(err, serrors.ErrNotFound) || errors.Is(err, serrors.ErrUserCodeNotFound) ||
			errors.Is(err, serrors.ErrCannotApproveDeviceAuth) {
			return serrors.NewInvalidGrant("device authorization cannot be denied")
		}
		return fmt.Errorf("deny device code: %w", err)
	}

	if err := s.deps.Sink.Append(ctx, audit.Event{
		CorrelationID: dc.ID,
		Timestamp:     s.deps.Clock.Now(),
		Level:         audit.LevelInfo,
		Type:          audit.EventDeviceCodeDenied,
		ClientID:      dc.ClientID,
	}); err != nil {
		s.deps.Logger.Error(ctx, "failed to append device audit event", err)
		return serrors.NewServerError("audit write failed")
	}
	return nil
}

// Package directory defines the corp directory capability the
// verification engine consumes: device-code authentication plus
// profile and manager lookups. Concrete transport lives in msgraph.
package directory

import (
	"context"
	"errors"
	"time"

	identitydomain "corp-verifier/bot/internal/identity/domain"
)

// ErrCodeExpired is returned by ExchangeCode when the device code was
// not redeemed before it expired. Expected outcome, not a failure.
var ErrCodeExpired = errors.New("device code expired")

// DeviceCode is an issued device-authorization code the user redeems on
// another device.
type DeviceCode struct {
	DeviceCode      string
	UserCode        string
	VerificationURI string
	// Message is the provider's ready-to-display instruction text.
	Message   string
	Interval  time.Duration
	ExpiresAt time.Time
}

// Identity is an authenticated corp identity.
type Identity struct {
	ID string
}

// Client is the directory capability contract.
//
// Missing-data conventions follow the repositories: GetProfile returns
// (nil, nil) when the identity does not exist, GetManager returns
// ("", nil) when the management chain ends, and ExchangeCode returns
// (nil, nil) while the user has not yet completed sign-in. Errors are
// reserved for transport and provider failures, plus ErrCodeExpired.
type Client interface {
	IssueDeviceCode(ctx context.Context) (*DeviceCode, error)
	ExchangeCode(ctx context.Context, code *DeviceCode) (*Identity, error)
	GetProfile(ctx context.Context, identityID string) (*identitydomain.Profile, error)
	GetManager(ctx context.Context, identityID string) (string, error)
}

package store

import (
	"context"
	"time"

	"github.com/hashicorp/go-multierror"

	"licenseapi/pkg/contracts/domain"
)

// compositeGateway serves sessions from a dedicated backend and everything else from
// the record store
type compositeGateway struct {
	Gateway
	sessions SessionBackend
}

// WithSessions routes every SessionStore call on gw to sessions
func WithSessions(gw Gateway, sessions SessionBackend) Gateway {
	return &compositeGateway{Gateway: gw, sessions: sessions}
}

func (c *compositeGateway) CreateSession(ctx context.Context, s *domain.Session) error {
	return c.sessions.CreateSession(ctx, s)
}

func (c *compositeGateway) GetSession(ctx context.Context, token, deviceID string) (*domain.Session, error) {
	return c.sessions.GetSession(ctx, token, deviceID)
}

func (c *compositeGateway) UpdateSession(ctx context.Context, oldToken string, s *domain.Session) error {
	return c.sessions.UpdateSession(ctx, oldToken, s)
}

func (c *compositeGateway) DeleteSession(ctx context.Context, token string) error {
	return c.sessions.DeleteSession(ctx, token)
}

func (c *compositeGateway) DeleteDeviceSessions(ctx context.Context, licenseID, deviceID string) (int64, error) {
	return c.sessions.DeleteDeviceSessions(ctx, licenseID, deviceID)
}

func (c *compositeGateway) DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	return c.sessions.DeleteExpiredSessions(ctx, now)
}

// Ping checks both backends
func (c *compositeGateway) Ping(ctx context.Context) error {
	var result *multierror.Error
	if err := c.Gateway.Ping(ctx); err != nil {
		result = multierror.Append(result, err)
	}
	if err := c.sessions.Ping(ctx); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}

// Close closes both backends, reporting every failure
func (c *compositeGateway) Close() error {
	var result *multierror.Error
	if err := c.sessions.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	if err := c.Gateway.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}

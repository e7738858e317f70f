package http

import (
	"context"

	api "licenseapi/pkg/contracts/api/v1"
	"licenseapi/pkg/contracts/domain"
)

// LicenseService is the agent-facing license pipeline
type LicenseService interface {
	Validate(ctx context.Context, req *api.ValidateRequest, clientIP string) (*api.ValidateResponse, error)
	Heartbeat(ctx context.Context, req *api.HeartbeatRequest, clientIP string) (*api.HeartbeatResponse, error)
	Deactivate(ctx context.Context, req *api.DeactivateRequest) (*api.DeactivateResponse, error)
	Stats(ctx context.Context) (domain.LicenseStats, error)
}

// DeviceAdminService backs the operator endpoints
type DeviceAdminService interface {
	ListDevices(ctx context.Context, licenseKey string) (*api.DeviceListResponse, error)
	RevokeDevice(ctx context.Context, req *api.RevokeDeviceRequest) (*api.RevokeDeviceResponse, error)
}

// WebhookService verifies and applies billing lifecycle events
type WebhookService interface {
	Process(ctx context.Context, payload []byte, signature string) (*api.WebhookResponse, error)
}

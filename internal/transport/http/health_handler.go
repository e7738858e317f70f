package http

import (
	"net/http"

	"github.com/coder/quartz"
	"github.com/go-chi/render"

	"licenseapi/pkg/contracts"
	api "licenseapi/pkg/contracts/api/v1"
)

// HealthHandler answers liveness probes. It never touches the store.
type HealthHandler struct {
	clock quartz.Clock
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(clock quartz.Clock) *HealthHandler {
	return &HealthHandler{clock: clock}
}

// HealthCheck handles GET /health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	now := h.clock.Now().UTC()
	render.JSON(w, r, &api.HealthResponse{
		Status:     "healthy",
		Timestamp:  now,
		ServerTime: now.Unix(),
		Version:    contracts.Version,
	})
}

// Version handles GET /version
func (h *HealthHandler) Version(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, contracts.GetVersionInfo())
}

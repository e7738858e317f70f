package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	apierrors "licenseapi/internal/errors"
	"licenseapi/internal/middleware"
	api "licenseapi/pkg/contracts/api/v1"
	"licenseapi/pkg/contracts/domain"
)

// AdminHandler serves operator endpoints. Mount it behind middleware.AdminAuth.
type AdminHandler struct {
	devices      DeviceAdminService
	validator    *middleware.Validator
	errorHandler *apierrors.ErrorHandler
	logger       *slog.Logger
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(devices DeviceAdminService, validator *middleware.Validator, errorHandler *apierrors.ErrorHandler, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{
		devices:      devices,
		validator:    validator,
		errorHandler: errorHandler,
		logger:       logger.With(slog.String("handler", "admin")),
	}
}

// Routes returns a chi router for the admin endpoints
func (h *AdminHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/licenses/{key}/devices", h.ListDevices)
	r.Post("/devices/revoke", h.RevokeDevice)
	return r
}

// ListDevices handles GET /admin/licenses/{key}/devices
func (h *AdminHandler) ListDevices(w http.ResponseWriter, r *http.Request) {
	key := domain.NormalizeLicenseKey(chi.URLParam(r, "key"))
	if key == "" {
		h.errorHandler.HandleError(w, r, apierrors.ErrMissingKey)
		return
	}

	resp, err := h.devices.ListDevices(r.Context(), key)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	render.JSON(w, r, resp)
}

// RevokeDevice handles POST /admin/devices/revoke
func (h *AdminHandler) RevokeDevice(w http.ResponseWriter, r *http.Request) {
	var req api.RevokeDeviceRequest
	if err := h.validator.DecodeAndValidate(r, &req); err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	resp, err := h.devices.RevokeDevice(r.Context(), &req)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	render.JSON(w, r, resp)
}

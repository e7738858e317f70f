package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/quartz"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	apierrors "licenseapi/internal/errors"
	"licenseapi/internal/middleware"
	"licenseapi/pkg/contracts"
	api "licenseapi/pkg/contracts/api/v1"
)

// Status values reported by GET /license/status
const (
	StatusOnline   = "online"
	StatusDegraded = "degraded"
)

// LicenseHandler serves the endpoints trading agents call
type LicenseHandler struct {
	service      LicenseService
	validator    *middleware.Validator
	errorHandler *apierrors.ErrorHandler
	clock        quartz.Clock
	logger       *slog.Logger
}

// NewLicenseHandler creates a new license handler
func NewLicenseHandler(
	service LicenseService,
	validator *middleware.Validator,
	errorHandler *apierrors.ErrorHandler,
	clock quartz.Clock,
	logger *slog.Logger,
) *LicenseHandler {
	return &LicenseHandler{
		service:      service,
		validator:    validator,
		errorHandler: errorHandler,
		clock:        clock,
		logger:       logger.With(slog.String("handler", "license")),
	}
}

// Routes returns a chi router for the license endpoints
func (h *LicenseHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/validate", h.Validate)
	r.Post("/heartbeat", h.Heartbeat)
	r.Post("/deactivate", h.Deactivate)
	r.Get("/status", h.Status)
	return r
}

// Validate handles POST /license/validate
func (h *LicenseHandler) Validate(w http.ResponseWriter, r *http.Request) {
	var req api.ValidateRequest
	if err := h.validator.DecodeAndValidate(r, &req); err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	resp, err := h.service.Validate(r.Context(), &req, middleware.ClientIPFromContext(r.Context()))
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	render.JSON(w, r, resp)
}

// Heartbeat handles POST /license/heartbeat
func (h *LicenseHandler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	var req api.HeartbeatRequest
	if err := h.validator.DecodeAndValidate(r, &req); err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	resp, err := h.service.Heartbeat(r.Context(), &req, middleware.ClientIPFromContext(r.Context()))
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	render.JSON(w, r, resp)
}

// Deactivate handles POST /license/deactivate
func (h *LicenseHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	var req api.DeactivateRequest
	if err := h.validator.DecodeAndValidate(r, &req); err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	resp, err := h.service.Deactivate(r.Context(), &req)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	render.JSON(w, r, resp)
}

// Status handles GET /license/status. A failing store degrades the report instead
// of failing the request.
func (h *LicenseHandler) Status(w http.ResponseWriter, r *http.Request) {
	resp := &api.StatusResponse{
		Status:    StatusOnline,
		Timestamp: h.clock.Now().UTC().Truncate(time.Second),
		Version:   contracts.Version,
	}

	stats, err := h.service.Stats(r.Context())
	if err != nil {
		h.logger.WarnContext(r.Context(), "license status degraded", slog.String("error", err.Error()))
		resp.Status = StatusDegraded
	} else {
		resp.ActiveLicenses = &stats.ActiveLicenses
		resp.TotalDevices = &stats.TotalDevices
	}
	render.JSON(w, r, resp)
}

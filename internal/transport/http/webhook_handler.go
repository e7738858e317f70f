package http

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/render"

	apierrors "licenseapi/internal/errors"
	"licenseapi/internal/license"
)

// Signature headers accepted on billing webhooks, in order of preference
const (
	SignatureHeader      = "X-Creem-Signature"
	SignatureHeaderAlias = "X-Webhook-Signature"
)

// WebhookHandler receives billing lifecycle events
type WebhookHandler struct {
	processor    WebhookService
	errorHandler *apierrors.ErrorHandler
	logger       *slog.Logger
}

// NewWebhookHandler creates a new webhook handler
func NewWebhookHandler(processor WebhookService, errorHandler *apierrors.ErrorHandler, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{
		processor:    processor,
		errorHandler: errorHandler,
		logger:       logger.With(slog.String("handler", "webhook")),
	}
}

// Receive handles POST /webhooks/billing. The signature covers the raw body, so the
// body is read as-is and never re-encoded before verification.
func (h *WebhookHandler) Receive(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		h.errorHandler.HandleError(w, r, apierrors.InvalidRequestWithError(err))
		return
	}

	signature := r.Header.Get(SignatureHeader)
	if signature == "" {
		signature = r.Header.Get(SignatureHeaderAlias)
	}

	resp, err := h.processor.Process(r.Context(), payload, signature)
	if errors.Is(err, license.ErrInvalidSignature) {
		render.Status(r, http.StatusUnauthorized)
		render.JSON(w, r, map[string]string{"error": "Invalid signature"})
		return
	}
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	render.JSON(w, r, resp)
}

package errors

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime"
	"runtime/debug"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
)

// ErrorHandler provides centralized error handling
type ErrorHandler struct {
	logger       *slog.Logger
	includeStack bool
	now          func() time.Time
}

// NewErrorHandler creates a new error handler
func NewErrorHandler(logger *slog.Logger, includeStack bool) *ErrorHandler {
	return &ErrorHandler{
		logger:       logger.With(slog.String("component", "error_handler")),
		includeStack: includeStack,
		now:          time.Now,
	}
}

// HandleError converts any error to the API envelope and responds.
// Client errors (4xx) are logged at warn, everything else at error.
func (h *ErrorHandler) HandleError(w http.ResponseWriter, r *http.Request, err error) {
	if err == nil {
		return
	}

	reqID := middleware.GetReqID(r.Context())
	apiErr := h.ToAPIError(err)

	level := slog.LevelError
	if apiErr.StatusCode < http.StatusInternalServerError {
		level = slog.LevelWarn
	}
	h.logger.Log(r.Context(), level, "request failed",
		slog.String("error", err.Error()),
		slog.String("code", apiErr.Code),
		slog.Int("status", apiErr.StatusCode),
		slog.String("request_id", reqID),
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
	)

	if _, ok := apiErr.Extensions[ExtServerTime]; !ok {
		apiErr = apiErr.WithExtension(ExtServerTime, h.now().Unix())
	}
	if reqID != "" {
		apiErr = apiErr.WithExtension(ExtTraceID, reqID)
	}
	if h.includeStack && apiErr.StatusCode >= http.StatusInternalServerError {
		apiErr = apiErr.WithExtension("stack", getStackTrace())
	}

	render.Render(w, r, apiErr)
}

// ToAPIError maps an arbitrary error to the envelope. Internal causes are never exposed.
func (h *ErrorHandler) ToAPIError(err error) *APIError {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return ErrTimeout.WithCause(err)
	}

	var appErr *AppError
	if errors.As(err, &appErr) && appErr.Type == ErrTypeValidation {
		return ErrInvalidRequest.WithCause(err)
	}

	return ErrInternal.WithCause(err)
}

// HandlePanic logs a recovered panic and responds with a redacted 500
func (h *ErrorHandler) HandlePanic(w http.ResponseWriter, r *http.Request, recovered any) {
	reqID := middleware.GetReqID(r.Context())

	h.logger.ErrorContext(r.Context(), "panic recovered",
		slog.Any("panic", recovered),
		slog.String("request_id", reqID),
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("stack", string(debug.Stack())),
	)

	apiErr := ErrInternal.WithExtension(ExtTraceID, reqID)
	if h.includeStack {
		apiErr = apiErr.WithExtension("panic", fmt.Sprintf("%v", recovered))
	}
	render.Render(w, r, apiErr)
}

// NotFound returns a standard 404 error
func (h *ErrorHandler) NotFound(w http.ResponseWriter, r *http.Request) {
	render.Render(w, r, ErrNotFound.WithExtension(ExtTraceID, middleware.GetReqID(r.Context())))
}

// MethodNotAllowed returns a standard 405 error
func (h *ErrorHandler) MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	apiErr := New(http.StatusMethodNotAllowed, CodeMethodNotAllowed,
		fmt.Sprintf("Method %s is not allowed for this endpoint", r.Method))
	render.Render(w, r, apiErr.WithExtension(ExtTraceID, middleware.GetReqID(r.Context())))
}

// getStackTrace returns the current stack trace
func getStackTrace() string {
	buf := make([]byte, 1024*8)
	n := runtime.Stack(buf, false)
	return string(buf[:n])
}

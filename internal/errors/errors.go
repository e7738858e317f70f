package errors

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/render"
)

// Stable machine-readable codes. Deployed agents branch on these values.
const (
	CodeMissingKey         = "ERROR_MISSING_KEY"
	CodeMissingDevice      = "ERROR_MISSING_DEVICE"
	CodeInvalidRequest     = "ERROR_INVALID_REQUEST"
	CodeBillingRejected    = "ERROR_BILLING_REJECTED"
	CodeBillingUnavailable = "ERROR_BILLING_UNAVAILABLE"
	CodeInvalidKey         = "ERROR_INVALID_KEY"
	CodeInactive           = "ERROR_INACTIVE"
	CodeExpired            = "ERROR_EXPIRED"
	CodeDeviceLimit        = "ERROR_DEVICE_LIMIT"
	CodeInvalidSession     = "ERROR_INVALID_SESSION"
	CodeSessionExpired     = "ERROR_SESSION_EXPIRED"
	CodeDeviceNotFound     = "ERROR_DEVICE_NOT_FOUND"
	CodeDailyLimit         = "ERROR_DAILY_LIMIT"
	CodeRateLimited        = "ERROR_RATE_LIMITED"
	CodeUnauthorized       = "ERROR_UNAUTHORIZED"
	CodeNotFound           = "ERROR_NOT_FOUND"
	CodeMethodNotAllowed   = "ERROR_METHOD_NOT_ALLOWED"
	CodeTimeout            = "ERROR_TIMEOUT"
	CodeInternal           = "ERROR_INTERNAL"
)

// Well-known extension keys
const (
	ExtRetryAfter  = "retryAfter"
	ExtServerTime  = "serverTime"
	ExtExpiresAt   = "expiresAt"
	ExtDevicesUsed = "devicesUsed"
	ExtMaxDevices  = "maxDevices"
	ExtErrors      = "errors"
	ExtTraceID     = "traceId"
)

// APIError is the error envelope every agent-facing endpoint returns:
// {"valid": false, "code": ..., "message": ..., <extensions>}.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Extensions map[string]any
	Cause      error
}

// Error implements the error interface
func (e *APIError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the internal cause, which is never serialized
func (e *APIError) Unwrap() error {
	return e.Cause
}

// Render implements the render.Renderer interface for chi/render
func (e *APIError) Render(w http.ResponseWriter, r *http.Request) error {
	if secs, ok := e.RetryAfter(); ok {
		w.Header().Set("Retry-After", strconv.Itoa(secs))
	}
	render.Status(r, e.StatusCode)
	return nil
}

// MarshalJSON flattens the extensions into the envelope
func (e *APIError) MarshalJSON() ([]byte, error) {
	data := make(map[string]any, len(e.Extensions)+3)
	for k, v := range e.Extensions {
		data[k] = v
	}
	data["valid"] = false
	data["code"] = e.Code
	data["message"] = e.Message
	return json.Marshal(data)
}

// WithExtension returns a copy of the error carrying an extra envelope field.
// Predefined errors are shared, so they are never mutated in place.
func (e *APIError) WithExtension(key string, value any) *APIError {
	cp := *e
	cp.Extensions = make(map[string]any, len(e.Extensions)+1)
	for k, v := range e.Extensions {
		cp.Extensions[k] = v
	}
	cp.Extensions[key] = value
	return &cp
}

// WithCause returns a copy of the error wrapping an internal cause
func (e *APIError) WithCause(err error) *APIError {
	cp := *e
	cp.Cause = err
	return &cp
}

// RetryAfter reports the retry hint in seconds, if any
func (e *APIError) RetryAfter() (int, bool) {
	v, ok := e.Extensions[ExtRetryAfter]
	if !ok {
		return 0, false
	}
	secs, ok := v.(int)
	return secs, ok
}

// ValidationError describes one rejected request field
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// New creates a new APIError with the given parameters
func New(statusCode int, code, message string) *APIError {
	return &APIError{
		StatusCode: statusCode,
		Code:       code,
		Message:    message,
	}
}

// Predefined errors for the license endpoints
var (
	// 400 Bad Request
	ErrMissingKey     = New(http.StatusBadRequest, CodeMissingKey, "License key is required")
	ErrMissingDevice  = New(http.StatusBadRequest, CodeMissingDevice, "Device ID is required")
	ErrInvalidRequest = New(http.StatusBadRequest, CodeInvalidRequest, "Invalid request format")

	// 401 Unauthorized
	ErrInvalidKey     = New(http.StatusUnauthorized, CodeInvalidKey, "Invalid license key")
	ErrInvalidSession = New(http.StatusUnauthorized, CodeInvalidSession, "Invalid session")
	ErrSessionExpired = New(http.StatusUnauthorized, CodeSessionExpired, "Session expired, please re-validate")
	ErrUnauthorized   = New(http.StatusUnauthorized, CodeUnauthorized, "Unauthorized")

	// 403 Forbidden
	ErrBillingRejected    = New(http.StatusForbidden, CodeBillingRejected, "License not active in payment system")
	ErrBillingUnavailable = New(http.StatusForbidden, CodeBillingUnavailable, "Payment verification temporarily unavailable. Please try again.")
	ErrInactive           = New(http.StatusForbidden, CodeInactive, "License is inactive")
	ErrExpired            = New(http.StatusForbidden, CodeExpired, "License has expired")

	// 404 Not Found
	ErrDeviceNotFound = New(http.StatusNotFound, CodeDeviceNotFound, "Device not found or already deactivated")
	ErrNotFound       = New(http.StatusNotFound, CodeNotFound, "The requested resource was not found")

	// 405 Method Not Allowed
	ErrMethodNotAllowed = New(http.StatusMethodNotAllowed, CodeMethodNotAllowed, "Method not allowed")

	// 422 Unprocessable Entity
	ErrValidationFailed = New(http.StatusUnprocessableEntity, CodeInvalidRequest, "Request validation failed")

	// 429 Too Many Requests
	ErrRateLimited = New(http.StatusTooManyRequests, CodeRateLimited, "Too many requests. Please slow down.")

	// 500 Internal Server Error
	ErrInternal = New(http.StatusInternalServerError, CodeInternal, "Internal server error")

	// 503 Service Unavailable
	ErrDailyLimit = New(http.StatusServiceUnavailable, CodeDailyLimit, "Daily request limit exceeded. Service will resume at midnight UTC.")

	// 504 Gateway Timeout
	ErrTimeout = New(http.StatusGatewayTimeout, CodeTimeout, "The request took too long to process")
)

// DeviceLimitError reports the current and maximum slot counts with an actionable message
func DeviceLimitError(used, maxDevices int) *APIError {
	return New(http.StatusForbidden, CodeDeviceLimit,
		fmt.Sprintf("Device limit reached (%d/%d). Deactivate another device first.", used, maxDevices)).
		WithExtension(ExtDevicesUsed, used).
		WithExtension(ExtMaxDevices, maxDevices)
}

// BillingRejectedError carries the billing authority's reason when it gave one
func BillingRejectedError(reason string) *APIError {
	if reason == "" {
		return ErrBillingRejected
	}
	return New(http.StatusForbidden, CodeBillingRejected, reason)
}

// BillingUnavailableError is retryable after retryAfter seconds
func BillingUnavailableError(retryAfter int) *APIError {
	return ErrBillingUnavailable.WithExtension(ExtRetryAfter, retryAfter)
}

// NewValidationErrors creates a 422 error listing every rejected field
func NewValidationErrors(errs []ValidationError) *APIError {
	return ErrValidationFailed.WithExtension(ExtErrors, errs)
}

// InvalidRequestWithError wraps a decode failure
func InvalidRequestWithError(err error) *APIError {
	return ErrInvalidRequest.WithCause(err)
}

// ErrorType represents the type of an internal error
type ErrorType string

const (
	ErrTypeStorage    ErrorType = "STORAGE"
	ErrTypeBilling    ErrorType = "BILLING"
	ErrTypeValidation ErrorType = "VALIDATION"
	ErrTypeConfig     ErrorType = "CONFIG"
	ErrTypeWebhook    ErrorType = "WEBHOOK"
)

// AppError represents an internal failure that never reaches the wire verbatim
type AppError struct {
	Type    ErrorType
	Message string
	Cause   error
	Context map[string]any
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

// Unwrap allows errors.Is and errors.As to work with AppError
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithContext adds context to the error
func (e *AppError) WithContext(key string, value any) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// NewAppError creates a new application error
func NewAppError(errType ErrorType, message string, cause error) *AppError {
	return &AppError{
		Type:    errType,
		Message: message,
		Cause:   cause,
	}
}

// NewStorageError creates a storage-related error
func NewStorageError(message string, cause error) *AppError {
	return NewAppError(ErrTypeStorage, message, cause)
}

// NewBillingError creates a billing-related error
func NewBillingError(message string, cause error) *AppError {
	return NewAppError(ErrTypeBilling, message, cause)
}

// NewConfigError creates a configuration error
func NewConfigError(message string, cause error) *AppError {
	return NewAppError(ErrTypeConfig, message, cause)
}

// NewWebhookError creates a webhook processing error
func NewWebhookError(message string, cause error) *AppError {
	return NewAppError(ErrTypeWebhook, message, cause)
}

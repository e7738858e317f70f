package middleware

import (
	"crypto/subtle"
	"fmt"
	"log/slog"
	"net/http"

	apierrors "licenseapi/internal/errors"
)

// AdminTokenHeader authenticates operator calls to the admin surface
const AdminTokenHeader = "X-Admin-Token"

// SecureHeaders provides configurable security headers for a JSON-only API
type SecureHeaders struct {
	// HSTS settings
	HSTSEnabled           bool
	HSTSMaxAge            int
	HSTSIncludeSubdomains bool

	ContentSecurityPolicy string
	XFrameOptions         string
	XContentTypeOptions   string
	XSSProtection         string
	ReferrerPolicy        string
}

// DefaultSecureHeaders returns secure headers with default settings
func DefaultSecureHeaders(enableHSTS bool) *SecureHeaders {
	return &SecureHeaders{
		HSTSEnabled:           enableHSTS,
		HSTSMaxAge:            31536000, // 1 year
		HSTSIncludeSubdomains: true,
		ContentSecurityPolicy: "default-src 'none'; frame-ancestors 'none'",
		XFrameOptions:         "DENY",
		XContentTypeOptions:   "nosniff",
		XSSProtection:         "0",
		ReferrerPolicy:        "no-referrer",
	}
}

// Handler returns the middleware handler
func (sh *SecureHeaders) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()

		if sh.HSTSEnabled && sh.HSTSMaxAge > 0 {
			hsts := fmt.Sprintf("max-age=%d", sh.HSTSMaxAge)
			if sh.HSTSIncludeSubdomains {
				hsts += "; includeSubDomains"
			}
			h.Set("Strict-Transport-Security", hsts)
		}
		if sh.ContentSecurityPolicy != "" {
			h.Set("Content-Security-Policy", sh.ContentSecurityPolicy)
		}
		if sh.XFrameOptions != "" {
			h.Set("X-Frame-Options", sh.XFrameOptions)
		}
		if sh.XContentTypeOptions != "" {
			h.Set("X-Content-Type-Options", sh.XContentTypeOptions)
		}
		if sh.XSSProtection != "" {
			h.Set("X-XSS-Protection", sh.XSSProtection)
		}
		if sh.ReferrerPolicy != "" {
			h.Set("Referrer-Policy", sh.ReferrerPolicy)
		}
		h.Set("Cache-Control", "no-store")

		next.ServeHTTP(w, r)
	})
}

// AdminAuth guards operator endpoints with a shared token compared in constant time.
// With no token configured every request is refused, so the surface is effectively off.
func AdminAuth(adminToken string, errorHandler *apierrors.ErrorHandler, logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			if adminToken == "" {
				errorHandler.HandleError(w, r, apierrors.ErrNotFound)
				return
			}

			provided := r.Header.Get(AdminTokenHeader)
			if provided == "" || subtle.ConstantTimeCompare([]byte(provided), []byte(adminToken)) != 1 {
				logger.WarnContext(ctx, "admin authentication failed",
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
					slog.Bool("token_present", provided != ""))
				errorHandler.HandleError(w, r, apierrors.ErrUnauthorized)
				return
			}

			logger.InfoContext(ctx, "admin request authorized",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path))
			next.ServeHTTP(w, r)
		})
	}
}

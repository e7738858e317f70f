package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	apierrors "licenseapi/internal/errors"
	"licenseapi/internal/shared/testutil"
)

func TestSecureHeaders(t *testing.T) {
	tests := []struct {
		name     string
		hsts     bool
		wantHSTS string
	}{
		{name: "hsts enabled", hsts: true, wantHSTS: "max-age=31536000; includeSubDomains"},
		{name: "hsts disabled", hsts: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			DefaultSecureHeaders(tt.hsts).Handler(okHandler()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

			h := rec.Header()
			assert.Equal(t, tt.wantHSTS, h.Get("Strict-Transport-Security"))
			assert.Equal(t, "nosniff", h.Get("X-Content-Type-Options"))
			assert.Equal(t, "DENY", h.Get("X-Frame-Options"))
			assert.Equal(t, "0", h.Get("X-XSS-Protection"))
			assert.Equal(t, "no-referrer", h.Get("Referrer-Policy"))
			assert.Equal(t, "no-store", h.Get("Cache-Control"))
		})
	}
}

func TestAdminAuth(t *testing.T) {
	tests := []struct {
		name       string
		configured string
		provided   string
		wantStatus int
		wantCode   string
	}{
		{name: "valid token", configured: "s3cret-admin", provided: "s3cret-admin", wantStatus: http.StatusOK},
		{name: "wrong token", configured: "s3cret-admin", provided: "guess", wantStatus: http.StatusUnauthorized, wantCode: apierrors.CodeUnauthorized},
		{name: "missing token", configured: "s3cret-admin", wantStatus: http.StatusUnauthorized, wantCode: apierrors.CodeUnauthorized},
		{name: "surface disabled", configured: "", provided: "anything", wantStatus: http.StatusNotFound, wantCode: apierrors.CodeNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, _ := testutil.NewTestLogger(t)
			handler := AdminAuth(tt.configured, newErrorHandler(t), logger)(okHandler())

			req := httptest.NewRequest(http.MethodGet, "/admin/licenses/ABC/devices", nil)
			if tt.provided != "" {
				req.Header.Set(AdminTokenHeader, tt.provided)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantCode != "" {
				assert.Equal(t, tt.wantCode, decodeBody(t, rec)["code"])
			}
		})
	}
}

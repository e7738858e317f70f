package http

import (
	"context"
	"net/http"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	apierrors "licenseapi/internal/errors"
	"licenseapi/internal/middleware"
	api "licenseapi/pkg/contracts/api/v1"
	"licenseapi/pkg/contracts/domain"
)

// MockDeviceAdminService implements the DeviceAdminService interface for testing
type MockDeviceAdminService struct {
	mock.Mock
}

func (m *MockDeviceAdminService) ListDevices(ctx context.Context, licenseKey string) (*api.DeviceListResponse, error) {
	args := m.Called(ctx, licenseKey)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*api.DeviceListResponse), args.Error(1)
}

func (m *MockDeviceAdminService) RevokeDevice(ctx context.Context, req *api.RevokeDeviceRequest) (*api.RevokeDeviceResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*api.RevokeDeviceResponse), args.Error(1)
}

func newTestAdminRouter(svc DeviceAdminService, token string) http.Handler {
	errorHandler := apierrors.NewErrorHandler(testLogger(), false)
	h := NewAdminHandler(svc, middleware.NewValidator(), errorHandler, testLogger())

	r := chi.NewRouter()
	r.Route("/admin", func(r chi.Router) {
		r.Use(middleware.AdminAuth(token, errorHandler, testLogger()))
		r.Mount("/", h.Routes())
	})
	return r
}

func TestAdminHandler_ListDevices(t *testing.T) {
	svc := new(MockDeviceAdminService)
	svc.On("ListDevices", mock.Anything, "HEDGE-PRO-0001").Return(&api.DeviceListResponse{
		LicenseKey:  "HEDGE-PRO-0001",
		MaxDevices:  2,
		ActiveCount: 1,
		Devices:     []domain.Device{{DeviceID: "device-aaaa-1111", Active: true}},
	}, nil)

	router := newTestAdminRouter(svc, "s3cret")
	req := adminRequest(t, http.MethodGet, "/admin/licenses/hedge-pro-0001/devices", "", "s3cret")
	rec, body := serve(t, router, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), body["activeCount"])
	assert.Len(t, body["devices"], 1)
	svc.AssertExpectations(t)
}

func TestAdminHandler_Auth(t *testing.T) {
	tests := []struct {
		name           string
		configured     string
		provided       string
		expectedStatus int
	}{
		{name: "missing token", configured: "s3cret", provided: "", expectedStatus: http.StatusUnauthorized},
		{name: "wrong token", configured: "s3cret", provided: "guess", expectedStatus: http.StatusUnauthorized},
		{name: "surface disabled", configured: "", provided: "anything", expectedStatus: http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(MockDeviceAdminService)
			router := newTestAdminRouter(svc, tt.configured)

			req := adminRequest(t, http.MethodGet, "/admin/licenses/HEDGE-PRO-0001/devices", "", tt.provided)
			rec, _ := serve(t, router, req)
			assert.Equal(t, tt.expectedStatus, rec.Code)
			svc.AssertNotCalled(t, "ListDevices", mock.Anything, mock.Anything)
		})
	}
}

func TestAdminHandler_RevokeDevice(t *testing.T) {
	tests := []struct {
		name           string
		body           string
		setupMock      func(*MockDeviceAdminService)
		expectedStatus int
		expectedCode   string
	}{
		{
			name: "revokes device",
			body: `{"licenseKey":"hedge-pro-0001","deviceId":"device-aaaa-1111"}`,
			setupMock: func(m *MockDeviceAdminService) {
				m.On("RevokeDevice", mock.Anything, &api.RevokeDeviceRequest{LicenseKey: "HEDGE-PRO-0001", DeviceID: "device-aaaa-1111"}).
					Return(&api.RevokeDeviceResponse{Revoked: true, SessionsRemoved: 2}, nil)
			},
			expectedStatus: http.StatusOK,
		},
		{
			name:           "missing device id",
			body:           `{"licenseKey":"HEDGE-PRO-0001"}`,
			setupMock:      func(m *MockDeviceAdminService) {},
			expectedStatus: http.StatusUnprocessableEntity,
			expectedCode:   apierrors.CodeInvalidRequest,
		},
		{
			name: "unknown license",
			body: `{"licenseKey":"HEDGE-NONE-0000","deviceId":"device-aaaa-1111"}`,
			setupMock: func(m *MockDeviceAdminService) {
				m.On("RevokeDevice", mock.Anything, mock.Anything).Return(nil, apierrors.ErrInvalidKey)
			},
			expectedStatus: http.StatusUnauthorized,
			expectedCode:   apierrors.CodeInvalidKey,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(MockDeviceAdminService)
			tt.setupMock(svc)

			req := adminRequest(t, http.MethodPost, "/admin/devices/revoke", tt.body, "s3cret")
			rec, body := serve(t, newTestAdminRouter(svc, "s3cret"), req)
			assert.Equal(t, tt.expectedStatus, rec.Code, rec.Body.String())
			if tt.expectedCode != "" {
				assert.Equal(t, tt.expectedCode, body["code"])
			}
			svc.AssertExpectations(t)
		})
	}
}

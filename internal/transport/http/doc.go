// Package http implements the HTTP handlers of the license API.
// Handlers stay thin: they decode and validate the request, call the service layer
// and render either the response or the error envelope.
//
// # Request Flow
//
//	HTTP Request → Chi Router → Middleware → Handler → license.Service → store.Gateway
//	                                              ↓
//	HTTP Response ← Handler ← Service Response ←─┘
//
// # Error Handling
//
// Every agent-facing failure is rendered by errors.ErrorHandler as
//
//	{"valid": false, "code": "ERROR_...", "message": "...", "serverTime": 1767225600}
//
// with extra fields for codes that carry them (retryAfter, expiresAt, devicesUsed,
// maxDevices). The webhook endpoint is the exception: once the signature checks out it
// always answers 200 so the billing authority does not retry.
//
// # Testing
//
// Handlers are tested with httptest and testify mocks of the service interfaces in
// interfaces.go.
package http

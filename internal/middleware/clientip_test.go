package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientIPResolver_Resolve(t *testing.T) {
	resolver, err := NewClientIPResolver([]string{"10.0.0.1", "172.16.0.0/12"})
	require.NoError(t, err)

	tests := []struct {
		name       string
		remoteAddr string
		forwarded  []string
		want       string
	}{
		{
			name:       "untrusted peer ignores forwarded header",
			remoteAddr: "198.51.100.7:443",
			forwarded:  []string{"1.2.3.4"},
			want:       "198.51.100.7",
		},
		{
			name:       "trusted peer uses forwarded client",
			remoteAddr: "10.0.0.1:443",
			forwarded:  []string{"203.0.113.5"},
			want:       "203.0.113.5",
		},
		{
			name:       "rightmost untrusted hop wins over spoofed prefix",
			remoteAddr: "10.0.0.1:443",
			forwarded:  []string{"6.6.6.6, 203.0.113.5, 172.16.4.4"},
			want:       "203.0.113.5",
		},
		{
			name:       "multiple header lines are concatenated",
			remoteAddr: "10.0.0.1:443",
			forwarded:  []string{"6.6.6.6", "203.0.113.8"},
			want:       "203.0.113.8",
		},
		{
			name:       "all hops trusted falls back to first",
			remoteAddr: "10.0.0.1:443",
			forwarded:  []string{"172.16.0.9, 10.0.0.1"},
			want:       "172.16.0.9",
		},
		{
			name:       "trusted peer without header",
			remoteAddr: "172.20.1.1:80",
			want:       "172.20.1.1",
		},
		{
			name:       "remote addr without port",
			remoteAddr: "192.0.2.44",
			want:       "192.0.2.44",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			for _, v := range tt.forwarded {
				req.Header.Add("X-Forwarded-For", v)
			}
			assert.Equal(t, tt.want, resolver.Resolve(req))
		})
	}
}

func TestClientIPResolver_NoTrustedProxies(t *testing.T) {
	resolver, err := NewClientIPResolver(nil)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:1234"
	req.Header.Set("X-Forwarded-For", "1.1.1.1")

	assert.Equal(t, "10.0.0.1", resolver.Resolve(req))
}

func TestNewClientIPResolver_InvalidEntries(t *testing.T) {
	for _, raw := range []string{"not-an-ip", "10.0.0.0/99"} {
		_, err := NewClientIPResolver([]string{raw})
		assert.Error(t, err, raw)
	}
}

func TestClientIPResolver_Handler(t *testing.T) {
	resolver, err := NewClientIPResolver([]string{"::1"})
	require.NoError(t, err)

	var seen string
	handler := resolver.Handler(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen = ClientIPFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "[::1]:9000"
	req.Header.Set("X-Forwarded-For", "2001:db8::5")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, "2001:db8::5", seen)
}

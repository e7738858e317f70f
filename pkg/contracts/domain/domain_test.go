package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLicenseExpired(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	past, future := now.Add(-time.Second), now.Add(time.Hour)

	tests := []struct {
		name      string
		expiresAt *time.Time
		want      bool
	}{
		{name: "no expiry", expiresAt: nil, want: false},
		{name: "future", expiresAt: &future, want: false},
		{name: "exactly now", expiresAt: &now, want: true},
		{name: "past", expiresAt: &past, want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := License{ExpiresAt: tt.expiresAt}
			assert.Equal(t, tt.want, l.Expired(now))
		})
	}
}

func TestPlanOrDefault(t *testing.T) {
	assert.Equal(t, DefaultPlan, (&License{}).PlanOrDefault())
	assert.Equal(t, "pro", (&License{Plan: "pro"}).PlanOrDefault())
}

func TestParsePlatform(t *testing.T) {
	tests := map[string]Platform{
		"MT4":     PlatformMT4,
		" mt5 ":   PlatformMT5,
		"cTrader": PlatformCTrader,
		"desktop": PlatformDesktop,
		"":        PlatformUnknown,
		"ninja":   PlatformUnknown,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParsePlatform(in), in)
	}
}

func TestSessionRemaining(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := Session{ExpiresAt: now.Add(5 * time.Minute)}

	assert.False(t, s.Expired(now))
	assert.Equal(t, 5*time.Minute, s.Remaining(now))
	assert.True(t, s.Expired(now.Add(5*time.Minute)))
	assert.Zero(t, s.Remaining(now.Add(time.Hour)))
}

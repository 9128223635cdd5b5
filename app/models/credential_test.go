package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCredentialExpiryAndRefreshWindow(t *testing.T) {
	issued := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	c := &Credential{AccessToken: "T1", IssuedAt: issued, ExpiresAt: issued.Add(2 * time.Hour)}

	tests := []struct {
		name         string
		now          time.Time
		expired      bool
		needsRefresh bool
	}{
		{"fresh", issued, false, false},
		{"just outside window", issued.Add(59 * time.Minute), false, false},
		{"window boundary", issued.Add(time.Hour), false, true},
		{"inside window", issued.Add(90 * time.Minute), false, true},
		{"expiry boundary", issued.Add(2 * time.Hour), true, true},
		{"long expired", issued.Add(48 * time.Hour), true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expired, c.IsExpired(tt.now))
			assert.Equal(t, tt.needsRefresh, c.NeedsRefresh(tt.now))
		})
	}
}

func TestCredentialValidate(t *testing.T) {
	now := time.Now().UTC()

	ok := &Credential{AccessToken: "T1", IssuedAt: now, ExpiresAt: now.Add(time.Hour)}
	require.NoError(t, ok.Validate())

	missing := &Credential{IssuedAt: now, ExpiresAt: now.Add(time.Hour)}
	assert.Error(t, missing.Validate())

	backwards := &Credential{AccessToken: "T1", IssuedAt: now, ExpiresAt: now.Add(-time.Second)}
	assert.Error(t, backwards.Validate())
}

func TestCredentialLocationHelpers(t *testing.T) {
	c := &Credential{AccessToken: "abcdefghijklmnop"}
	assert.False(t, c.HasLocation())
	assert.Equal(t, "", c.Location())
	assert.Equal(t, "abcdefgh...", c.TokenPrefix())

	loc := "L1"
	c.LocationID = &loc
	assert.True(t, c.HasLocation())
	assert.Equal(t, "L1", c.Location())

	short := &Credential{AccessToken: "abc"}
	assert.Equal(t, "***", short.TokenPrefix())
}

func TestExpiresInDuration(t *testing.T) {
	assert.Equal(t, DefaultExpiresIn, ExpiresInDuration(0))
	assert.Equal(t, DefaultExpiresIn, ExpiresInDuration(-5))
	assert.Equal(t, 90*time.Second, ExpiresInDuration(90))
}

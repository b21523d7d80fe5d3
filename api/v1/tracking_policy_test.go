package v1

import (
	"bytes"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"

	"funneltrack/internal/settings"
)

func TestTrackingPolicy(t *testing.T) {
	current := settings.TrackingSettings{
		CookieConsentEnabled: true,
		UTMTrackingEnabled:   true,
		IPTrackingEnabled:    false,
	}

	t.Run("maps settings onto the policy", func(t *testing.T) {
		policy := trackingPolicy(current, slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))

		assert.True(t, policy.TrackingEnabled)
		assert.True(t, policy.Gate.Enabled)
		assert.False(t, policy.StoreIP)
	})

	t.Run("excluded IP lookup failure logs through the request logger", func(t *testing.T) {
		original := ipExcluded
		ipExcluded = func(string) (bool, error) { return false, errors.New("cache unavailable") }
		t.Cleanup(func() { ipExcluded = original })

		var logs bytes.Buffer
		policy := trackingPolicy(current, slog.New(slog.NewTextHandler(&logs, nil)))

		assert.False(t, policy.IsExcludedIP("203.0.113.7"))
		assert.Contains(t, logs.String(), "Failed to check excluded IPs")
		assert.Contains(t, logs.String(), "cache unavailable")
	})
}

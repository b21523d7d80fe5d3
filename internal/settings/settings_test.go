package settings_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"funneltrack/internal/settings"
	"funneltrack/internal/testsupport"
)

func TestIsIPExcluded(t *testing.T) {
	t.Run("excludes exact IP match", func(t *testing.T) {
		dbManager, _ := testsupport.SetupTestDBManager(t)
		db := dbManager.GetConnection()
		require.NoError(t, settings.SetupDefaultSettings(db))

		err := settings.UpdateSetting(db, "excluded_ips", "192.168.1.100")
		require.NoError(t, err)

		isExcluded, err := settings.IsIPExcluded("192.168.1.100")
		require.NoError(t, err)
		assert.True(t, isExcluded, "The exact IP in the exclusion list should be excluded")

		isExcluded, err = settings.IsIPExcluded("192.168.1.101")
		require.NoError(t, err)
		assert.False(t, isExcluded, "A different IP should not be excluded")
	})

	t.Run("handles IPs with whitespace", func(t *testing.T) {
		dbManager, _ := testsupport.SetupTestDBManager(t)
		db := dbManager.GetConnection()
		require.NoError(t, settings.SetupDefaultSettings(db))

		err := settings.UpdateSetting(db, "excluded_ips", " 192.168.1.100 , 10.0.0.1 ")
		require.NoError(t, err)

		isExcluded, err := settings.IsIPExcluded("192.168.1.100")
		require.NoError(t, err)
		assert.True(t, isExcluded, "IP should be excluded even with spaces in the setting")

		isExcluded, err = settings.IsIPExcluded("10.0.0.1")
		require.NoError(t, err)
		assert.True(t, isExcluded, "Second IP should be excluded even with spaces in the setting")
	})

	t.Run("handles empty exclusion value", func(t *testing.T) {
		dbManager, _ := testsupport.SetupTestDBManager(t)
		db := dbManager.GetConnection()
		require.NoError(t, settings.SetupDefaultSettings(db))

		err := settings.UpdateSetting(db, "excluded_ips", "")
		require.NoError(t, err)

		isExcluded, err := settings.IsIPExcluded("192.168.1.100")
		require.NoError(t, err)
		assert.False(t, isExcluded, "With empty exclusion value, no IPs should be excluded")
	})

	t.Run("reflects updates to exclusion list", func(t *testing.T) {
		dbManager, _ := testsupport.SetupTestDBManager(t)
		db := dbManager.GetConnection()
		require.NoError(t, settings.SetupDefaultSettings(db))

		err := settings.UpdateSetting(db, "excluded_ips", "192.168.1.100")
		require.NoError(t, err)

		isExcluded, err := settings.IsIPExcluded("192.168.1.100")
		require.NoError(t, err)
		assert.True(t, isExcluded, "Initial IP should be excluded")

		testIP := "10.0.0.5"
		isExcluded, err = settings.IsIPExcluded(testIP)
		require.NoError(t, err)
		assert.False(t, isExcluded, "Second IP should not be excluded initially")

		err = settings.UpdateSetting(db, "excluded_ips", "192.168.1.100,10.0.0.5")
		require.NoError(t, err)

		isExcluded, err = settings.IsIPExcluded(testIP)
		require.NoError(t, err)
		assert.True(t, isExcluded, "Second IP should be excluded after update")
	})
}

func TestGetSetting(t *testing.T) {
	t.Run("returns seeded default", func(t *testing.T) {
		dbManager, _ := testsupport.SetupTestDBManager(t)
		db := dbManager.GetConnection()
		require.NoError(t, settings.SetupDefaultSettings(db))

		value, err := settings.GetSetting(db, settings.KeyDataRetentionDays)
		require.NoError(t, err)
		assert.Equal(t, "90", value)
		assert.True(t, settings.GetBool(db, settings.KeyUTMTrackingEnabled))
		assert.False(t, settings.GetBool(db, settings.KeyGoogleConsentModeEnabled))
	})

	t.Run("returns error for non-existent setting", func(t *testing.T) {
		dbManager, _ := testsupport.SetupTestDBManager(t)
		db := dbManager.GetConnection()
		require.NoError(t, settings.SetupDefaultSettings(db))

		_, err := settings.GetSetting(db, "non_existent")
		assert.Error(t, err, "GetSetting should return an error for non-existent setting")
	})

	t.Run("seeding keeps existing values", func(t *testing.T) {
		dbManager, _ := testsupport.SetupTestDBManager(t)
		db := dbManager.GetConnection()
		require.NoError(t, settings.SetupDefaultSettings(db))
		require.NoError(t, settings.UpdateSetting(db, settings.KeyDataRetentionDays, "30"))

		require.NoError(t, settings.SetupDefaultSettings(db))

		value, err := settings.GetSetting(db, settings.KeyDataRetentionDays)
		require.NoError(t, err)
		assert.Equal(t, "30", value)
	})
}

func TestUpdateSetting(t *testing.T) {
	t.Run("normalizes valid values", func(t *testing.T) {
		dbManager, _ := testsupport.SetupTestDBManager(t)
		db := dbManager.GetConnection()
		require.NoError(t, settings.SetupDefaultSettings(db))

		require.NoError(t, settings.UpdateSetting(db, settings.KeyIPTrackingEnabled, " FALSE "))
		value, err := settings.GetSetting(db, settings.KeyIPTrackingEnabled)
		require.NoError(t, err)
		assert.Equal(t, "false", value)

		require.NoError(t, settings.UpdateSetting(db, settings.KeyExcludedIPs, "10.0.0.1, ,::1"))
		value, err = settings.GetSetting(db, settings.KeyExcludedIPs)
		require.NoError(t, err)
		assert.Equal(t, "10.0.0.1,::1", value)
	})

	t.Run("creates missing row", func(t *testing.T) {
		dbManager, _ := testsupport.SetupTestDBManager(t)
		db := dbManager.GetConnection()

		require.NoError(t, settings.UpdateSetting(db, settings.KeyCookieConsentEnabled, "false"))
		assert.False(t, settings.GetBool(db, settings.KeyCookieConsentEnabled))
	})

	t.Run("rejects invalid values", func(t *testing.T) {
		dbManager, _ := testsupport.SetupTestDBManager(t)
		db := dbManager.GetConnection()
		require.NoError(t, settings.SetupDefaultSettings(db))

		cases := []struct {
			key, value string
		}{
			{settings.KeyUTMTrackingEnabled, "maybe"},
			{settings.KeyDataRetentionDays, "0"},
			{settings.KeyDataRetentionDays, "ten"},
			{settings.KeyExcludedIPs, "10.0.0.1,not-an-ip"},
		}
		for _, tc := range cases {
			err := settings.UpdateSetting(db, tc.key, tc.value)
			var invalid *settings.InvalidValueError
			assert.True(t, errors.As(err, &invalid), "%s=%q", tc.key, tc.value)
		}

		err := settings.UpdateSetting(db, "license_key", "x")
		assert.True(t, errors.Is(err, settings.ErrUnknownSetting))
	})

	t.Run("batch update is all or nothing", func(t *testing.T) {
		dbManager, _ := testsupport.SetupTestDBManager(t)
		db := dbManager.GetConnection()
		require.NoError(t, settings.SetupDefaultSettings(db))

		err := settings.UpdateSettings(db, map[string]string{
			settings.KeyUTMTrackingEnabled: "false",
			settings.KeyDataRetentionDays:  "-5",
		})
		require.Error(t, err)
		assert.True(t, settings.GetBool(db, settings.KeyUTMTrackingEnabled))
	})
}

func TestLoad(t *testing.T) {
	dbManager, _ := testsupport.SetupTestDBManager(t)
	db := dbManager.GetConnection()

	loaded, err := settings.Load(db)
	require.NoError(t, err)
	assert.Equal(t, settings.TrackingSettings{
		CookieConsentEnabled: true,
		UTMTrackingEnabled:   true,
		IPTrackingEnabled:    true,
		DataRetentionDays:    settings.DefaultRetentionDays,
		ExcludedIPs:          []string{},
	}, loaded, "defaults apply without rows")

	require.NoError(t, settings.UpdateSettings(db, map[string]string{
		settings.KeyGoogleConsentModeEnabled: "true",
		settings.KeyDataRetentionDays:        "14",
		settings.KeyExcludedIPs:              "1.2.3.4",
	}))
	// Corrupt rows fall back to defaults.
	require.NoError(t, db.Exec("UPDATE settings SET value = 'yes please' WHERE key = ?", settings.KeyGoogleConsentModeEnabled).Error)

	loaded, err = settings.Load(db)
	require.NoError(t, err)
	assert.False(t, loaded.GoogleConsentModeEnabled)
	assert.Equal(t, 14, loaded.DataRetentionDays)
	assert.Equal(t, []string{"1.2.3.4"}, loaded.ExcludedIPs)

	display, err := settings.GetAllSettingsForDisplay(db)
	require.NoError(t, err)
	assert.Len(t, display, len(settings.Keys()))
}

func TestCacheConsistency(t *testing.T) {
	t.Run("cache reflects setting changes", func(t *testing.T) {
		dbManager, _ := testsupport.SetupTestDBManager(t)
		db := dbManager.GetConnection()
		require.NoError(t, settings.SetupDefaultSettings(db))

		err := settings.UpdateSetting(db, "excluded_ips", "192.168.1.1")
		require.NoError(t, err)

		isExcluded, err := settings.IsIPExcluded("192.168.1.1")
		require.NoError(t, err)
		assert.True(t, isExcluded, "Initial IP should be excluded")

		err = settings.UpdateSetting(db, "excluded_ips", "192.168.1.1,192.168.1.2")
		require.NoError(t, err)

		isExcluded, err = settings.IsIPExcluded("192.168.1.2")
		require.NoError(t, err)
		assert.True(t, isExcluded, "New IP should be excluded after cache update")

		err = settings.UpdateSetting(db, "excluded_ips", "192.168.1.2")
		require.NoError(t, err)

		isExcluded, err = settings.IsIPExcluded("192.168.1.1")
		require.NoError(t, err)
		assert.False(t, isExcluded, "First IP should no longer be excluded after removal")
	})
}

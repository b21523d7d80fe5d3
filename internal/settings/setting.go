package settings

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"sort"
	"strconv"
	"strings"
	"time"

	"log/slog"

	"github.com/karloscodes/cartridge/cache"
	"github.com/karloscodes/cartridge/sqlite"
	"gorm.io/gorm"
)

// Setting represents a configuration item in the database
type Setting struct {
	ID        uint      `gorm:"primaryKey"`
	Key       string    `gorm:"uniqueIndex;not null"`
	Value     string    `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null;autoCreateTime:milli"`
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime:milli"`
}

// Setting keys
const (
	KeyCookieConsentEnabled     = "cookie_consent_enabled"
	KeyUTMTrackingEnabled       = "utm_tracking_enabled"
	KeyIPTrackingEnabled        = "ip_tracking_enabled"
	KeyGoogleConsentModeEnabled = "google_consent_mode_enabled"
	KeyDataRetentionDays        = "data_retention_days"
	KeyExcludedIPs              = "excluded_ips"
)

// DefaultRetentionDays applies when the retention setting is missing or invalid.
const DefaultRetentionDays = 90

var defaults = map[string]string{
	KeyCookieConsentEnabled:     "true",
	KeyUTMTrackingEnabled:       "true",
	KeyIPTrackingEnabled:        "true",
	KeyGoogleConsentModeEnabled: "false",
	KeyDataRetentionDays:        strconv.Itoa(DefaultRetentionDays),
	KeyExcludedIPs:              "",
}

var boolKeys = map[string]bool{
	KeyCookieConsentEnabled:     true,
	KeyUTMTrackingEnabled:       true,
	KeyIPTrackingEnabled:        true,
	KeyGoogleConsentModeEnabled: true,
}

// ErrUnknownSetting is returned when updating a key that is not recognised.
var ErrUnknownSetting = errors.New("unknown setting")

// InvalidValueError reports a value that does not fit its setting.
type InvalidValueError struct {
	Key     string
	Message string
}

func (e *InvalidValueError) Error() string {
	return fmt.Sprintf("invalid value for %s: %s", e.Key, e.Message)
}

var excludedIPsCache *cache.Cache[string, []string]

// Keys lists every known setting key in a stable order.
func Keys() []string {
	keys := make([]string, 0, len(defaults))
	for key := range defaults {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// SetupDefaultSettings inserts missing settings with their default values.
// Existing values are left untouched.
func SetupDefaultSettings(dbConn *gorm.DB) error {
	err := sqlite.PerformWrite(slog.Default(), dbConn, func(tx *gorm.DB) error {
		now := time.Now().UTC()
		for _, key := range Keys() {
			err := tx.Exec(`
                INSERT INTO settings (key, value, created_at, updated_at)
                VALUES (?, ?, ?, ?)
                ON CONFLICT(key) DO NOTHING
            `, key, defaults[key], now, now).Error
			if err != nil {
				slog.Default().Error("Failed to upsert setting", slog.String("key", key), slog.Any("error", err))
				return fmt.Errorf("failed to upsert setting %s: %w", key, err)
			}
		}
		return nil
	})

	// Initialize the cache
	loadCache(dbConn, slog.Default())

	return err
}

// IsIPExcluded reports whether ip is on the excluded list.
func IsIPExcluded(ip string) (bool, error) {
	// If the cache isn't initialized yet, return false
	if excludedIPsCache == nil || ip == "" {
		return false, nil
	}

	excludedIPs, err := excludedIPsCache.Get(KeyExcludedIPs)
	if err != nil {
		return false, fmt.Errorf("failed to check excluded IPs: %w", err)
	}

	for _, excludedIP := range excludedIPs {
		if excludedIP == ip {
			return true, nil
		}
	}
	return false, nil
}

// GetSetting retrieves a setting value from the database
func GetSetting(dbConn *gorm.DB, key string) (string, error) {
	var setting Setting
	result := dbConn.Where("key = ?", key).First(&setting)

	if result.Error != nil {
		return "", result.Error
	}

	return setting.Value, nil
}

// GetBool reads a boolean setting, falling back to its default when the row
// is missing or unparsable.
func GetBool(dbConn *gorm.DB, key string) bool {
	fallback, _ := strconv.ParseBool(defaults[key])
	value, err := GetSetting(dbConn, key)
	if err != nil {
		return fallback
	}
	parsed, err := strconv.ParseBool(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return parsed
}

// Validate checks a value against the rules of its key and returns the
// normalized value to store.
func Validate(key, value string) (string, error) {
	if _, ok := defaults[key]; !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownSetting, key)
	}
	value = strings.TrimSpace(value)

	switch {
	case boolKeys[key]:
		parsed, err := strconv.ParseBool(value)
		if err != nil {
			return "", &InvalidValueError{Key: key, Message: "must be true or false"}
		}
		return strconv.FormatBool(parsed), nil
	case key == KeyDataRetentionDays:
		days, err := strconv.Atoi(value)
		if err != nil || days < 1 {
			return "", &InvalidValueError{Key: key, Message: "must be a positive number of days"}
		}
		return strconv.Itoa(days), nil
	case key == KeyExcludedIPs:
		ips := ParseIPList(value)
		for _, ip := range ips {
			if _, err := netip.ParseAddr(ip); err != nil {
				return "", &InvalidValueError{Key: key, Message: fmt.Sprintf("%q is not an IP address", ip)}
			}
		}
		return strings.Join(ips, ","), nil
	}
	return value, nil
}

// ParseIPList splits a comma separated list, dropping blanks.
func ParseIPList(value string) []string {
	var ips []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			ips = append(ips, part)
		}
	}
	return ips
}

// UpdateSetting validates and stores one setting.
func UpdateSetting(dbConn *gorm.DB, key string, value string) error {
	return UpdateSettings(dbConn, map[string]string{key: value})
}

// UpdateSettings validates every value first and then stores them in one
// transaction. The excluded IP cache is reloaded afterwards.
func UpdateSettings(dbConn *gorm.DB, values map[string]string) error {
	normalized := make(map[string]string, len(values))
	for key, value := range values {
		clean, err := Validate(key, value)
		if err != nil {
			return err
		}
		normalized[key] = clean
	}

	err := sqlite.PerformWrite(slog.Default(), dbConn, func(tx *gorm.DB) error {
		for key, value := range normalized {
			result := tx.Model(&Setting{}).Where("key = ?", key).Update("value", value)
			if result.Error != nil {
				return fmt.Errorf("failed to update setting: %w", result.Error)
			}
			if result.RowsAffected == 0 {
				if err := tx.Create(&Setting{Key: key, Value: value}).Error; err != nil {
					return fmt.Errorf("failed to create setting: %w", err)
				}
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	if excludedIPsCache != nil {
		excludedIPsCache.Clear()
	}
	loadCache(dbConn, slog.Default())

	return nil
}

func loadCache(dbConn *gorm.DB, logger *slog.Logger) {
	fetchFunc := func(key string) ([]string, error) {
		var value string
		err := dbConn.WithContext(context.Background()).Raw("SELECT value FROM settings WHERE key = ? LIMIT 1", key).Scan(&value).Error
		if err != nil {
			return nil, err
		}
		return ParseIPList(value), nil
	}
	excludedIPsCache = cache.NewCache[string, []string](logger, 5*time.Minute, fetchFunc)
}

// TrackingSettings is the runtime policy consulted by the tracking and
// consent endpoints.
type TrackingSettings struct {
	CookieConsentEnabled     bool     `json:"cookie_consent_enabled"`
	UTMTrackingEnabled       bool     `json:"utm_tracking_enabled"`
	IPTrackingEnabled        bool     `json:"ip_tracking_enabled"`
	GoogleConsentModeEnabled bool     `json:"google_consent_mode_enabled"`
	DataRetentionDays        int      `json:"data_retention_days"`
	ExcludedIPs              []string `json:"excluded_ips"`
}

// Load reads all settings in one query. Missing rows take their defaults.
func Load(dbConn *gorm.DB) (TrackingSettings, error) {
	values := make(map[string]string, len(defaults))
	for key, value := range defaults {
		values[key] = value
	}

	var rows []Setting
	if err := dbConn.Where("key IN ?", Keys()).Find(&rows).Error; err != nil {
		return TrackingSettings{}, fmt.Errorf("failed to load settings: %w", err)
	}
	for _, row := range rows {
		values[row.Key] = row.Value
	}

	parseBool := func(key string) bool {
		if parsed, err := strconv.ParseBool(strings.TrimSpace(values[key])); err == nil {
			return parsed
		}
		parsed, _ := strconv.ParseBool(defaults[key])
		return parsed
	}

	retention, err := strconv.Atoi(strings.TrimSpace(values[KeyDataRetentionDays]))
	if err != nil || retention < 1 {
		retention = DefaultRetentionDays
	}

	excluded := ParseIPList(values[KeyExcludedIPs])
	if excluded == nil {
		excluded = []string{}
	}

	return TrackingSettings{
		CookieConsentEnabled:     parseBool(KeyCookieConsentEnabled),
		UTMTrackingEnabled:       parseBool(KeyUTMTrackingEnabled),
		IPTrackingEnabled:        parseBool(KeyIPTrackingEnabled),
		GoogleConsentModeEnabled: parseBool(KeyGoogleConsentModeEnabled),
		DataRetentionDays:        retention,
		ExcludedIPs:              excluded,
	}, nil
}

// SettingResponse represents a setting key-value pair for API responses
type SettingResponse struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// GetAllSettingsForDisplay returns every known setting, defaults included.
func GetAllSettingsForDisplay(db *gorm.DB) ([]SettingResponse, error) {
	var rows []Setting
	if err := db.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch settings: %w", err)
	}
	stored := make(map[string]string, len(rows))
	for _, row := range rows {
		stored[row.Key] = row.Value
	}

	result := make([]SettingResponse, 0, len(defaults))
	for _, key := range Keys() {
		value, ok := stored[key]
		if !ok {
			value = defaults[key]
		}
		result = append(result, SettingResponse{Key: key, Value: value})
	}
	return result, nil
}

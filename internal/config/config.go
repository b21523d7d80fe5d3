// Package config provides configuration management using Viper
package config

import (
	"fmt"
	"log"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/viper"
)

// Environment types
const (
	Development = "development"
	Production  = "production"
	Test        = "test"
)

// LogLevel represents the logging level for the application
type LogLevel string

// Available log levels
const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// Database types
const (
	SQLiteDatabase = "sqlite"
)

const defaultPrivateKey = "88888888888888888888888888888888"

// Config holds all configuration parameters for the application
type Config struct {
	// Application settings
	AppName     string   `mapstructure:"appname"`
	AppPort     string   `mapstructure:"appport"`
	Environment string   `mapstructure:"environment"`
	LogLevel    LogLevel `mapstructure:"loglevel"`
	PrivateKey  string   `mapstructure:"privatekey"`
	Timezone    string   `mapstructure:"timezone"`

	// File paths
	DatabasePath          string `mapstructure:"storagepath"`
	DatabaseName          string `mapstructure:"-"` // Derived from other settings
	GeoDBPath             string `mapstructure:"geodbpath"`
	PublicDirectory       string `mapstructure:"publicdir"`
	PublicAssetsUrlPrefix string `mapstructure:"publicassetsurlprefix"`

	// Logging settings
	LogsDirectory    string `mapstructure:"logsdir"`
	LogsMaxSizeInMb  int    `mapstructure:"logsmaxsizeinmb"`
	LogsMaxBackups   int    `mapstructure:"logsmaxbackups"`
	LogsMaxAgeInDays int    `mapstructure:"logsmaxageindays"`

	// Database settings
	DatabaseType         string `mapstructure:"dbtype"`
	DatabaseMaxOpenConns int    `mapstructure:"dbmaxopenconns"`
	DatabaseMaxIdleConns int    `mapstructure:"dbmaxidleconns"`

	// Tracking settings
	SessionCookieDays int `mapstructure:"sessioncookiedays"`
	ConsentTTLDays    int `mapstructure:"consentttldays"`

	// Analytics limits
	UTMBreakdownLimit      int `mapstructure:"utmbreakdownlimit"`
	FilteredUTMLimit       int `mapstructure:"filteredutmlimit"`
	TopCombinationsDefault int `mapstructure:"topcombinationsdefault"`

	// Retention settings
	DataRetentionDays int    `mapstructure:"dataretentiondays"`
	CleanupSchedule   string `mapstructure:"cleanupschedule"`
}

var (
	cfg  *Config
	once sync.Once
)

// GetConfig returns the application configuration
func GetConfig() *Config {
	once.Do(func() {
		v := viper.New()

		v.SetDefault("appname", "funneltrack")
		v.SetDefault("appport", "3000")
		v.SetDefault("environment", Development)
		v.SetDefault("loglevel", string(LogLevelDebug))
		v.SetDefault("privatekey", defaultPrivateKey)
		v.SetDefault("timezone", "Local")
		v.SetDefault("storagepath", "storage")
		v.SetDefault("geodbpath", "")
		v.SetDefault("publicdir", "public")
		v.SetDefault("publicassetsurlprefix", "/")
		v.SetDefault("logsdir", "logs")
		v.SetDefault("logsmaxsizeinmb", 20)
		v.SetDefault("logsmaxbackups", 10)
		v.SetDefault("logsmaxageindays", 30)
		v.SetDefault("dbtype", SQLiteDatabase)
		v.SetDefault("dbmaxopenconns", 0)
		v.SetDefault("dbmaxidleconns", 0)
		v.SetDefault("sessioncookiedays", 30)
		v.SetDefault("consentttldays", 180)
		v.SetDefault("utmbreakdownlimit", 100)
		v.SetDefault("filteredutmlimit", 50)
		v.SetDefault("topcombinationsdefault", 10)
		v.SetDefault("dataretentiondays", 90)
		v.SetDefault("cleanupschedule", "0 3 * * 0") // Sundays at 03:00

		v.BindEnv("appname", "FUNNELTRACK_APP_NAME")
		v.BindEnv("appport", "FUNNELTRACK_APP_PORT")
		v.BindEnv("environment", "FUNNELTRACK_ENV")
		v.BindEnv("loglevel", "FUNNELTRACK_LOG_LEVEL")
		v.BindEnv("privatekey", "FUNNELTRACK_PRIVATE_KEY")
		v.BindEnv("timezone", "FUNNELTRACK_TIMEZONE")
		v.BindEnv("storagepath", "FUNNELTRACK_STORAGE_PATH")
		v.BindEnv("geodbpath", "FUNNELTRACK_GEO_DB_PATH")
		v.BindEnv("publicdir", "FUNNELTRACK_PUBLIC_DIR")
		v.BindEnv("publicassetsurlprefix", "FUNNELTRACK_PUBLIC_ASSETS_URL_PREFIX")
		v.BindEnv("logsdir", "FUNNELTRACK_LOGS_DIR")
		v.BindEnv("logsmaxsizeinmb", "FUNNELTRACK_LOGS_MAX_SIZE_IN_MB")
		v.BindEnv("logsmaxbackups", "FUNNELTRACK_LOGS_MAX_BACKUPS")
		v.BindEnv("logsmaxageindays", "FUNNELTRACK_LOGS_MAX_AGE_IN_DAYS")
		v.BindEnv("dbtype", "FUNNELTRACK_DB_TYPE")
		v.BindEnv("dbmaxopenconns", "FUNNELTRACK_DB_MAX_OPEN_CONNS")
		v.BindEnv("dbmaxidleconns", "FUNNELTRACK_DB_MAX_IDLE_CONNS")
		v.BindEnv("sessioncookiedays", "FUNNELTRACK_SESSION_COOKIE_DAYS")
		v.BindEnv("consentttldays", "FUNNELTRACK_CONSENT_TTL_DAYS")
		v.BindEnv("utmbreakdownlimit", "FUNNELTRACK_UTM_BREAKDOWN_LIMIT")
		v.BindEnv("filteredutmlimit", "FUNNELTRACK_FILTERED_UTM_LIMIT")
		v.BindEnv("topcombinationsdefault", "FUNNELTRACK_TOP_COMBINATIONS_DEFAULT")
		v.BindEnv("dataretentiondays", "FUNNELTRACK_DATA_RETENTION_DAYS")
		v.BindEnv("cleanupschedule", "FUNNELTRACK_CLEANUP_SCHEDULE")

		cfg = &Config{}
		if err := v.Unmarshal(cfg); err != nil {
			log.Fatalf("config: failed to unmarshal configuration: %v", err)
		}

		if err := cfg.validate(); err != nil {
			log.Fatalf("config: invalid configuration: %v", err)
		}

		cfg.DatabaseName = cfg.GetDatabasePath()

		if cfg.IsProduction() && cfg.PrivateKey == defaultPrivateKey {
			log.Fatal("Production requires a unique FUNNELTRACK_PRIVATE_KEY (cannot use default)")
		}
	})
	return cfg
}

// validate checks the configuration for errors
func (c *Config) validate() error {
	validEnvs := map[string]bool{
		Development: true,
		Production:  true,
		Test:        true,
	}
	if !validEnvs[c.Environment] {
		return fmt.Errorf("invalid environment: %s", c.Environment)
	}

	if c.DatabaseType != SQLiteDatabase {
		return fmt.Errorf("invalid database type: %s", c.DatabaseType)
	}

	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}

	if c.DataRetentionDays <= 0 {
		return fmt.Errorf("data retention days must be positive, got %d", c.DataRetentionDays)
	}

	return nil
}

// GetDatabasePath returns the appropriate database path based on environment
func (c *Config) GetDatabasePath() string {
	if c.DatabaseName == "" {
		c.DatabaseName = filepath.Join(c.DatabasePath,
			fmt.Sprintf("%s-%s.db", c.AppName, c.Environment))
	}
	return c.DatabaseName
}

// IsDevelopment returns true if the environment is development
func (c *Config) IsDevelopment() bool {
	return c.Environment == Development
}

// IsProduction returns true if the environment is production
func (c *Config) IsProduction() bool {
	return c.Environment == Production
}

// IsTest returns true if the environment is test
func (c *Config) IsTest() bool {
	return c.Environment == Test
}

// Location returns the server location used for date-range boundaries.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// SessionCookieTTL is how long the session cookie lives in the browser.
func (c *Config) SessionCookieTTL() time.Duration {
	return time.Duration(c.SessionCookieDays) * 24 * time.Hour
}

// ConsentTTL is the lifetime of a consent decision (cookies and stored record).
func (c *Config) ConsentTTL() time.Duration {
	return time.Duration(c.ConsentTTLDays) * 24 * time.Hour
}

// GetPort returns the HTTP server port (implements cartridge.Config interface).
func (c *Config) GetPort() string {
	return c.AppPort
}

// GetPublicDirectory returns the path to public/static assets (implements cartridge.Config interface).
func (c *Config) GetPublicDirectory() string {
	return c.PublicDirectory
}

// GetAssetsPrefix returns the URL prefix for static assets (implements cartridge.Config interface).
func (c *Config) GetAssetsPrefix() string {
	return c.PublicAssetsUrlPrefix
}

// GetAppName returns the application name (implements cartridge.FactoryConfig interface).
func (c *Config) GetAppName() string {
	return c.AppName
}

// DatabaseDSN returns the database connection string (implements cartridge.FactoryConfig interface).
func (c *Config) DatabaseDSN() string {
	return c.GetDatabasePath()
}

// GetSessionSecret returns the session encryption key (implements cartridge.FactoryConfig interface).
func (c *Config) GetSessionSecret() string {
	return c.PrivateKey
}

// GetMaxOpenConns returns the appropriate MaxOpenConns value based on environment.
// Explicit values win; otherwise 1 in test and 10 elsewhere.
func (c *Config) GetMaxOpenConns() int {
	if c.DatabaseMaxOpenConns > 0 {
		return c.DatabaseMaxOpenConns
	}
	if c.Environment == Test {
		return 1
	}
	return 10
}

// GetMaxIdleConns returns the appropriate MaxIdleConns value based on environment.
func (c *Config) GetMaxIdleConns() int {
	if c.DatabaseMaxIdleConns > 0 {
		return c.DatabaseMaxIdleConns
	}
	if c.Environment == Test {
		return 1
	}
	return 5
}

// GetLogLevel returns the log level as a string (implements cartridge.LogConfigProvider).
func (c *Config) GetLogLevel() string {
	return string(c.LogLevel)
}

// GetLogDirectory returns the logs directory (implements cartridge.LogConfigProvider).
func (c *Config) GetLogDirectory() string {
	return c.LogsDirectory
}

// GetLogMaxSizeMB returns the max log file size in MB (implements cartridge.LogConfigProvider).
func (c *Config) GetLogMaxSizeMB() int {
	return c.LogsMaxSizeInMb
}

// GetLogMaxBackups returns the max number of log backups (implements cartridge.LogConfigProvider).
func (c *Config) GetLogMaxBackups() int {
	return c.LogsMaxBackups
}

// GetLogMaxAgeDays returns the max age in days for log files (implements cartridge.LogConfigProvider).
func (c *Config) GetLogMaxAgeDays() int {
	return c.LogsMaxAgeInDays
}

// Reset clears the cached configuration; intended for tests.
func Reset() {
	once = sync.Once{}
	cfg = nil
}

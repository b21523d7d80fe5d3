// Package geoip resolves client IPs to ISO country codes using a MaxMind
// GeoLite2 Country database. The database is optional: without it every
// lookup returns "".
package geoip

import (
	"log/slog"
	"net"
	"os"
	"sync"

	"github.com/oschwald/geoip2-golang"
)

// Locator looks up countries in an open GeoLite2 database. The zero value
// and a nil *Locator are valid and resolve nothing.
type Locator struct {
	mu     sync.RWMutex
	path   string
	reader *geoip2.Reader
	logger *slog.Logger
}

// Open loads the database at path. A blank path or a missing file yields a
// disabled Locator rather than an error.
func Open(path string, logger *slog.Logger) *Locator {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Locator{path: path, logger: logger}
	l.reader = l.open()
	return l
}

func (l *Locator) open() *geoip2.Reader {
	if l.path == "" {
		l.logger.Debug("GeoIP database path not configured - country lookups disabled")
		return nil
	}

	fileInfo, err := os.Stat(l.path)
	if os.IsNotExist(err) {
		l.logger.Info("GeoLite2 database not found - country lookups disabled",
			slog.String("path", l.path),
			slog.String("hint", "Download from https://www.maxmind.com/en/geolite2/signup"))
		return nil
	} else if err != nil {
		l.logger.Warn("Error checking GeoLite2 database file",
			slog.String("path", l.path),
			slog.Any("error", err))
		return nil
	}

	reader, err := geoip2.Open(l.path)
	if err != nil {
		l.logger.Error("Failed to open GeoLite2 database",
			slog.String("path", l.path),
			slog.Any("error", err))
		return nil
	}

	l.logger.Info("GeoLite2 database initialized",
		slog.String("path", l.path),
		slog.Int64("size_bytes", fileInfo.Size()),
		slog.String("db_type", reader.Metadata().DatabaseType))
	return reader
}

// Enabled reports whether a database is loaded.
func (l *Locator) Enabled() bool {
	if l == nil {
		return false
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.reader != nil
}

// CountryCode returns the ISO 3166-1 alpha-2 code for ip, or "" when the
// address is invalid, private, or not in the database.
func (l *Locator) CountryCode(ip string) string {
	if l == nil {
		return ""
	}
	parsed := net.ParseIP(ip)
	if parsed == nil || parsed.IsPrivate() || parsed.IsLoopback() || parsed.IsUnspecified() {
		return ""
	}

	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.reader == nil {
		return ""
	}
	record, err := l.reader.Country(parsed)
	if err != nil {
		l.logger.Debug("GeoIP lookup failed", slog.String("ip", ip), slog.Any("error", err))
		return ""
	}
	return record.Country.IsoCode
}

// Reload reopens the database from disk, for use after the file has been
// replaced.
func (l *Locator) Reload() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.reader != nil {
		l.reader.Close()
	}
	l.reader = l.open()
}

// Close releases the database.
func (l *Locator) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.reader == nil {
		return nil
	}
	err := l.reader.Close()
	l.reader = nil
	return err
}

// Package useragent recognises crawler, monitor and preview user agents so
// their requests can be left out of funnel statistics.
package useragent

import (
	_ "embed"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"go.elara.ws/pcre"
	"gopkg.in/yaml.v3"
)

//go:embed bots.yml
var botsYAML []byte

// BotEntry is one pattern from the bot list.
type BotEntry struct {
	Regex    string `yaml:"regex"`
	Name     string `yaml:"name"`
	Category string `yaml:"category"`
	URL      string `yaml:"url"`
	Producer struct {
		Name string `yaml:"name"`
		URL  string `yaml:"url"`
	} `yaml:"producer"`
}

// Compiled regex cache
type regexCache struct {
	compiled map[string]*pcre.Regexp
	mutex    sync.RWMutex
}

func newRegexCache() *regexCache {
	return &regexCache{
		compiled: make(map[string]*pcre.Regexp),
	}
}

func (rc *regexCache) get(pattern string) (*pcre.Regexp, error) {
	rc.mutex.RLock()
	if regex, exists := rc.compiled[pattern]; exists {
		rc.mutex.RUnlock()
		return regex, nil
	}
	rc.mutex.RUnlock()

	rc.mutex.Lock()
	defer rc.mutex.Unlock()

	// Double-check pattern
	if regex, exists := rc.compiled[pattern]; exists {
		return regex, nil
	}

	regex, err := pcre.Compile("(?i)" + pattern)
	if err != nil {
		return nil, err
	}
	rc.compiled[pattern] = regex
	return regex, nil
}

// Detector matches user agents against a bot list. It is safe for
// concurrent use.
type Detector struct {
	bots       []BotEntry
	regexCache *regexCache
	logger     *slog.Logger
}

// NewDetector parses a bot list in YAML. Patterns compile lazily; a pattern
// that fails to compile is logged once and skipped.
func NewDetector(data []byte, logger *slog.Logger) (*Detector, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var bots []BotEntry
	if err := yaml.Unmarshal(data, &bots); err != nil {
		return nil, fmt.Errorf("failed to parse bot list: %w", err)
	}
	return &Detector{bots: bots, regexCache: newRegexCache(), logger: logger}, nil
}

var (
	defaultDetector *Detector
	once            sync.Once
)

// Default returns the detector for the embedded bot list.
func Default() *Detector {
	once.Do(func() {
		detector, err := NewDetector(botsYAML, slog.Default())
		if err != nil {
			slog.Default().Error("Failed to load embedded bot list", slog.Any("error", err))
			detector = &Detector{regexCache: newRegexCache(), logger: slog.Default()}
		}
		defaultDetector = detector
	})
	return defaultDetector
}

// Match returns the first bot entry matching the user agent, or nil.
func (d *Detector) Match(userAgent string) *BotEntry {
	userAgent = strings.TrimSpace(userAgent)
	if userAgent == "" {
		return nil
	}
	for i := range d.bots {
		bot := &d.bots[i]
		regex, err := d.regexCache.get(bot.Regex)
		if err != nil {
			d.logger.Warn("Skipping invalid bot pattern",
				slog.String("name", bot.Name),
				slog.Any("error", err))
			continue
		}
		if regex.MatchString(userAgent) {
			return bot
		}
	}
	return nil
}

// IsBot reports whether the user agent belongs to a known bot.
func (d *Detector) IsBot(userAgent string) bool {
	return d.Match(userAgent) != nil
}

// Size is the number of patterns loaded.
func (d *Detector) Size() int {
	return len(d.bots)
}

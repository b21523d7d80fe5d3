package useragent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultDetectorLoadsEmbeddedList(t *testing.T) {
	assert.Greater(t, Default().Size(), 10)
}

func TestIsBot(t *testing.T) {
	detector := Default()

	tests := []struct {
		name      string
		userAgent string
		want      bool
	}{
		{"googlebot", "Mozilla/5.0 (compatible; Googlebot/2.1; +http://www.google.com/bot.html)", true},
		{"bingbot", "Mozilla/5.0 (compatible; bingbot/2.0; +http://www.bing.com/bingbot.htm)", true},
		{"curl", "curl/8.4.0", true},
		{"headless chrome", "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) HeadlessChrome/120.0.0.0 Safari/537.36", true},
		{"generic crawler", "acme-crawler/1.0", true},
		{"desktop chrome", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36", false},
		{"iphone safari", "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Mobile/15E148 Safari/604.1", false},
		{"cubot phone", "Mozilla/5.0 (Linux; Android 10; CUBOT_X30) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/96.0 Mobile Safari/537.36", false},
		{"empty", "", false},
		{"blank", "   ", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, detector.IsBot(tt.userAgent))
		})
	}
}

func TestMatchReturnsEntry(t *testing.T) {
	bot := Default().Match("Mozilla/5.0 (compatible; Googlebot/2.1; +http://www.google.com/bot.html)")
	require.NotNil(t, bot)
	assert.Equal(t, "Googlebot", bot.Name)
	assert.NotEmpty(t, bot.Category)
}

func TestNewDetector(t *testing.T) {
	detector, err := NewDetector([]byte(`
- regex: 'broken(('
  name: Broken
- regex: 'probe'
  name: Probe
  category: Monitor
`), nil)
	require.NoError(t, err)
	assert.Equal(t, 2, detector.Size())

	bot := detector.Match("uptime PROBE v2")
	require.NotNil(t, bot)
	assert.Equal(t, "Probe", bot.Name)

	_, err = NewDetector([]byte("regex: ["), nil)
	assert.Error(t, err)
}

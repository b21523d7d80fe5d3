package tracking

import (
	"fmt"
	"net/url"
	"strings"
	"unicode"
	"unicode/utf8"
)

// MaxUTMLength caps every stored UTM value, in characters.
const MaxUTMLength = 255

// UTMParams are the five campaign parameters carried by an event. Missing
// values are the empty string.
type UTMParams struct {
	Source   string `json:"utm_source"`
	Medium   string `json:"utm_medium"`
	Campaign string `json:"utm_campaign"`
	Content  string `json:"utm_content"`
	Term     string `json:"utm_term"`
}

// Normalize trims whitespace, removes control characters and caps each value.
func (p UTMParams) Normalize() UTMParams {
	return UTMParams{
		Source:   cleanUTMValue(p.Source),
		Medium:   cleanUTMValue(p.Medium),
		Campaign: cleanUTMValue(p.Campaign),
		Content:  cleanUTMValue(p.Content),
		Term:     cleanUTMValue(p.Term),
	}
}

// IsEmpty reports whether no parameter is set.
func (p UTMParams) IsEmpty() bool {
	return p.Source == "" && p.Medium == "" && p.Campaign == "" && p.Content == "" && p.Term == ""
}

func cleanUTMValue(value string) string {
	if !utf8.ValidString(value) {
		value = strings.ToValidUTF8(value, "")
	}
	value = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, value)
	value = strings.TrimSpace(value)
	if utf8.RuneCountInString(value) > MaxUTMLength {
		value = string([]rune(value)[:MaxUTMLength])
	}
	return value
}

// UTMFromURL extracts the campaign parameters from a landing page URL.
func UTMFromURL(rawURL string) (UTMParams, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return UTMParams{}, fmt.Errorf("invalid url: %w", err)
	}
	q := u.Query()
	return UTMParams{
		Source:   q.Get("utm_source"),
		Medium:   q.Get("utm_medium"),
		Campaign: q.Get("utm_campaign"),
		Content:  q.Get("utm_content"),
		Term:     q.Get("utm_term"),
	}.Normalize(), nil
}

// BuildUTMURL appends the non-empty parameters to baseURL, replacing any UTM
// values already present.
func BuildUTMURL(baseURL string, params UTMParams) (string, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return "", fmt.Errorf("invalid base url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("invalid base url: %q must be absolute", baseURL)
	}

	params = params.Normalize()
	q := u.Query()
	for key, value := range map[string]string{
		"utm_source":   params.Source,
		"utm_medium":   params.Medium,
		"utm_campaign": params.Campaign,
		"utm_content":  params.Content,
		"utm_term":     params.Term,
	} {
		if value != "" {
			q.Set(key, value)
		}
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

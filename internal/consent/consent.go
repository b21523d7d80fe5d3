// Package consent decides whether a visitor allowed a category of cookies and
// keeps an audit trail of every decision.
package consent

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// DefaultTTL is how long a consent decision stays valid (six months).
const DefaultTTL = 180 * 24 * time.Hour

// Cookie names carrying the client-visible consent state.
const (
	StatusCookieName     = "ft_consent_status"
	CategoriesCookieName = "ft_consent_categories"
)

// Category is a class of cookies/processing a visitor can opt into.
type Category string

const (
	CategoryNecessary   Category = "necessary"
	CategoryAnalytics   Category = "analytics"
	CategoryMarketing   Category = "marketing"
	CategoryPreferences Category = "preferences"
)

// Categories returns every known category in display order.
func Categories() []Category {
	return []Category{CategoryNecessary, CategoryAnalytics, CategoryMarketing, CategoryPreferences}
}

// IsValidCategory checks if the given category is known
func IsValidCategory(c Category) bool {
	for _, known := range Categories() {
		if c == known {
			return true
		}
	}
	return false
}

// Status is the visitor's overall decision.
type Status string

const (
	StatusAccepted Status = "accepted"
	StatusDeclined Status = "declined"
	StatusPartial  Status = "partial"
	StatusPending  Status = "pending"
)

// Action is what the visitor clicked in the banner.
type Action string

const (
	ActionAccept    Action = "accept"
	ActionDecline   Action = "decline"
	ActionCustomize Action = "customize"
)

var (
	ErrInvalidAction = errors.New("invalid consent action")
	ErrInvalidStatus = errors.New("invalid consent status")
)

// State is the consent a single client currently holds. It is built from the
// request by the caller and handed to the Gate explicitly.
type State struct {
	Status     Status            `json:"status"`
	Categories map[Category]bool `json:"categories"`
}

// PendingState is the state of a client that never answered the banner, or
// whose answer expired.
func PendingState() State {
	return State{Status: StatusPending, Categories: normalizeCategories(nil)}
}

// StateFromCookies rebuilds a State from the two consent cookie values.
// Missing or unreadable values fall back to pending / all false.
func StateFromCookies(statusValue, categoriesValue string) State {
	state := PendingState()

	switch Status(statusValue) {
	case StatusAccepted, StatusDeclined, StatusPartial:
		state.Status = Status(statusValue)
	default:
		return state
	}

	if categoriesValue != "" {
		var stored map[string]bool
		if err := json.Unmarshal([]byte(categoriesValue), &stored); err == nil {
			for name, allowed := range stored {
				c := Category(name)
				if IsValidCategory(c) {
					state.Categories[c] = allowed
				}
			}
		}
	}
	state.Categories[CategoryNecessary] = true
	return state
}

// EncodeCategories serializes categories for the categories cookie.
func EncodeCategories(categories map[Category]bool) string {
	data, err := json.Marshal(normalizeCategories(categories))
	if err != nil {
		return "{}"
	}
	return string(data)
}

// normalizeCategories returns a map holding every known category, unknown
// ones dropped, necessary forced on.
func normalizeCategories(in map[Category]bool) map[Category]bool {
	out := make(map[Category]bool, len(Categories()))
	for _, c := range Categories() {
		out[c] = in[c]
	}
	out[CategoryNecessary] = true
	return out
}

// Gate answers consent questions. When Enabled is false the consent system is
// switched off and every category is allowed.
type Gate struct {
	Enabled bool
}

// HasConsent reports whether the client holding state allows category.
func (g Gate) HasConsent(state State, category Category) bool {
	if !g.Enabled {
		return true
	}
	if category == CategoryNecessary {
		return true
	}
	switch state.Status {
	case StatusAccepted:
		return true
	case StatusPartial:
		return state.Categories[category]
	default:
		return false
	}
}

// GoogleConsentMode maps the state onto Google consent mode signals.
func (g Gate) GoogleConsentMode(state State) map[string]string {
	grant := func(ok bool) string {
		if ok {
			return "granted"
		}
		return "denied"
	}
	analytics := grant(g.HasConsent(state, CategoryAnalytics))
	marketing := grant(g.HasConsent(state, CategoryMarketing))
	return map[string]string{
		"analytics_storage":  analytics,
		"ad_storage":         marketing,
		"ad_user_data":       marketing,
		"ad_personalization": marketing,
	}
}

// Decision is the outcome of a banner interaction, ready to be stored.
type Decision struct {
	Status     Status
	Categories map[Category]bool
}

// Decide turns a banner action into a decision. Unknown category names are
// ignored and necessary is always granted.
func Decide(action Action, requested map[string]bool) (Decision, error) {
	selected := make(map[Category]bool, len(requested))
	for name, allowed := range requested {
		c := Category(name)
		if IsValidCategory(c) {
			selected[c] = allowed
		}
	}

	switch action {
	case ActionAccept:
		all := make(map[Category]bool)
		for _, c := range Categories() {
			all[c] = true
		}
		return Decision{Status: StatusAccepted, Categories: all}, nil
	case ActionDecline:
		return Decision{Status: StatusDeclined, Categories: normalizeCategories(nil)}, nil
	case ActionCustomize:
		categories := normalizeCategories(selected)
		status := StatusDeclined
		for c, allowed := range categories {
			if c != CategoryNecessary && allowed {
				status = StatusPartial
				break
			}
		}
		return Decision{Status: status, Categories: categories}, nil
	default:
		return Decision{}, fmt.Errorf("%w: %q", ErrInvalidAction, action)
	}
}

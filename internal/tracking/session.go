package tracking

import (
	"strings"

	"github.com/google/uuid"
)

// SessionCookieName holds the visitor session id between requests.
const SessionCookieName = "ft_session_id"

const maxSessionIDLength = 64

// ClientContext is what the caller knows about the client's session: the
// value of the session cookie and the session id posted by the tracking
// script, either of which may be empty.
type ClientContext struct {
	CookieSessionID  string
	RequestSessionID string
}

// Session is a resolved session id. IsNew is set when no usable id came
// from the client and a fresh one was generated.
type Session struct {
	ID    string
	IsNew bool
}

// SessionResolver maps a client to a stable session id. It never decides
// whether anything is persisted.
type SessionResolver struct {
	newID func() string
}

// NewSessionResolver creates a resolver generating random UUIDs.
func NewSessionResolver() *SessionResolver {
	return &SessionResolver{newID: uuid.NewString}
}

// Resolve prefers the cookie, then the posted id, then generates one.
func (r *SessionResolver) Resolve(client ClientContext) Session {
	if id := sanitizeSessionID(client.CookieSessionID); id != "" {
		return Session{ID: id}
	}
	if id := sanitizeSessionID(client.RequestSessionID); id != "" {
		return Session{ID: id}
	}
	return Session{ID: r.newID(), IsNew: true}
}

// sanitizeSessionID accepts ids made of letters, digits, '-' and '_' only.
func sanitizeSessionID(raw string) string {
	id := strings.TrimSpace(raw)
	if id == "" || len(id) > maxSessionIDLength {
		return ""
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			return ""
		}
	}
	return id
}

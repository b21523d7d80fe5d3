package tracking

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestSessionResolver(t *testing.T) {
	resolver := NewSessionResolver()

	tests := []struct {
		name   string
		client ClientContext
		wantID string
		isNew  bool
	}{
		{"cookie wins over posted id", ClientContext{CookieSessionID: "cookie-1", RequestSessionID: "posted-1"}, "cookie-1", false},
		{"posted id used without cookie", ClientContext{RequestSessionID: " posted-2 "}, "posted-2", false},
		{"invalid cookie falls back to posted id", ClientContext{CookieSessionID: "bad value;", RequestSessionID: "posted-3"}, "posted-3", false},
		{"overlong id is rejected", ClientContext{RequestSessionID: strings.Repeat("a", 65)}, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			session := resolver.Resolve(tt.client)
			assert.Equal(t, tt.isNew, session.IsNew)
			if tt.wantID != "" {
				assert.Equal(t, tt.wantID, session.ID)
			}
		})
	}

	t.Run("generated ids are unique uuids", func(t *testing.T) {
		first := resolver.Resolve(ClientContext{})
		second := resolver.Resolve(ClientContext{})

		assert.True(t, first.IsNew)
		assert.NotEqual(t, first.ID, second.ID)
		_, err := uuid.Parse(first.ID)
		assert.NoError(t, err)
	})
}

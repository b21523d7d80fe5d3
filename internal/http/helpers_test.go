package http

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClampLimit(t *testing.T) {
	tests := []struct {
		name      string
		requested int
		max       int
		want      int
	}{
		{"within bounds", 20, 50, 20},
		{"above the cap", 1000, 50, 50},
		{"at the cap", 50, 50, 50},
		{"zero", 0, 50, 1},
		{"negative", -5, 100, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, clampLimit(tt.requested, tt.max))
		})
	}
}

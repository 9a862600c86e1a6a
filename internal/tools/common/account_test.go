package common

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/teemow/homesheet/internal/server"
)

func TestGetUserFromArgs(t *testing.T) {
	tests := []struct {
		name     string
		ctx      context.Context
		args     map[string]any
		expected string
	}{
		{
			name:     "no user specified returns default",
			ctx:      context.Background(),
			args:     map[string]any{},
			expected: "default",
		},
		{
			name:     "explicit user",
			ctx:      context.Background(),
			args:     map[string]any{"user_id": "alice"},
			expected: "alice",
		},
		{
			name:     "blank user falls back",
			ctx:      context.Background(),
			args:     map[string]any{"user_id": "  "},
			expected: "default",
		},
		{
			name:     "transport user",
			ctx:      server.WithUser(context.Background(), "bob"),
			args:     map[string]any{},
			expected: "bob",
		},
		{
			name:     "argument beats transport",
			ctx:      server.WithUser(context.Background(), "bob"),
			args:     map[string]any{"user_id": "alice"},
			expected: "alice",
		},
		{
			name:     "non-string argument ignored",
			ctx:      context.Background(),
			args:     map[string]any{"user_id": 42},
			expected: "default",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, GetUserFromArgs(tt.ctx, tt.args))
		})
	}
}

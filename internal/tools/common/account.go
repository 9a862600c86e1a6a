package common

import (
	"context"
	"strings"

	"github.com/teemow/homesheet/internal/server"
	"github.com/teemow/homesheet/internal/workflow"
)

// GetUserFromArgs resolves the user a tool call acts for.
//
// Priority order:
//  1. Explicit "user_id" argument in request
//  2. User resolved from the HTTP transport (X-User-ID or Bearer token)
//  3. "default"
func GetUserFromArgs(ctx context.Context, args map[string]any) string {
	if v, ok := args["user_id"].(string); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	if userID, ok := server.UserFromContext(ctx); ok {
		return userID
	}
	return workflow.DefaultUserID
}

// Package housing_tools provides MCP tools for searching real estate listings
// and publishing them to Google Sheets.
//
// # Available Tools
//
// Housing:
//   - housing_search: Run a new natural-language listing search
//   - housing_followup: Refine or act on the previous search of the user
//
// Google connection:
//   - google_auth: Start (or resume) the device authorization for Sheets
//   - google_auth_status: Show the connection state, optionally polling a pending attempt
//   - google_auth_revoke: Delete the stored credential (not registered in read-only mode)
//
// # Users
//
// All tools accept an optional 'user_id' parameter. Without it the user comes
// from the HTTP transport (X-User-ID header or a hash of the bearer token) and
// finally falls back to "default". Each user has one conversation session and
// one Google connection.
//
// # Responses
//
// The housing tools return JSON with the request status, a chat-ready reply,
// the sheet URL and result count. Requests that end in FAILED are returned as
// error results. Requests that need Google authorization carry the device
// prompt in auth_prompt.
package housing_tools

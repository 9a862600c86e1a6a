// Package cmd implements the command-line interface for homesheet.
//
// This package provides the following commands:
//   - serve: Start the HTTP API and MCP server (stdio or streamable-http)
//   - search: Run a single housing search from the command line
//   - followup: Send a follow-up message for a user
//   - auth: Start, poll, inspect or revoke the Google connection of a user
//   - version: Display version information
//   - generate-docs: Generate markdown documentation for all MCP tools
//
// All commands read their configuration from the environment and an optional
// .env file; see internal/config for the variables.
package cmd

// Package common provides helpers shared by the MCP tool packages: user
// resolution for tool calls and the metrics/audit wrapper every tool
// handler is registered through.
package common

// Package store persists per-user OAuth state.
//
// Both stores are durable mappings from a user identity to exactly one
// record, read and written as whole-record upserts:
//
//   - the token store holds one Credential per user (file-backed, with
//     optional AES-256-GCM encryption at rest, or the in-memory backend of
//     github.com/giantswarm/mcp-oauth for ephemeral deployments)
//   - the device flow store holds at most one DeviceFlow per user
//
// File-backed stores rewrite their file atomically and serialize writers
// with a mutex, so concurrent upserts for the same user never lose an
// update.
package store

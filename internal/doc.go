// Package internal contains helpers that are intentionally private to
// cafeauth: OTP generation, code hashing and address normalization.
//
// # Sub-packages
//
//   - audit: async event dispatch (Dispatcher + Sink implementations)
//   - config: process configuration from the environment
//   - flows: per-flow orchestrators for every Engine operation
//   - limiters: the Redis-backed failed-attempt tracker
//   - logging: structured logging interface over log/slog
//   - stores: the Redis-backed OTP ledger and signup staging area
//
// # What this package must NOT do
//
//   - Export types that appear in the public cafeauth API.
//   - Be imported by any package outside the cafeauth module.
package internal

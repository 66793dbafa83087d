// Package stores provides Redis-backed, short-lived records for the
// identity flows: the OTP ledger and the signup staging area.
//
// # Design
//
// Every record lives under a deterministic key with a Redis TTL, so records
// survive restarts, are shared by every service instance and are purged by
// Redis itself. Mutations that must not race (issuing a code over a live one,
// verifying and consuming a code, rolling back an undeliverable code) run as
// single Lua scripts, which Redis executes atomically. Codes are stored only
// as SHA-256 digests bound to (email, purpose).
//
// # Architecture boundaries
//
// This package owns persistence and concurrency control for transient
// records. It does not enforce lockouts or make authentication decisions;
// those belong to the flow functions in internal/flows.
//
// # What this package must NOT do
//
//   - Import cafeauth or internal/flows.
//   - Log or expose plaintext codes, except to the dispatch callback.
package stores

// Package limiters provides the failed-attempt tracker that backs lockout
// for every credential-consuming flow.
//
// # Model
//
// One counter exists per (email, ip, attempt type). Each failure increments
// it atomically; reaching the threshold stamps a lockout deadline. Counters
// carry an absolute TTL from their first failure and are never refreshed, so
// Redis purges them on its own; a stale deadline simply reads as unlocked.
//
// All methods are nil-safe: calling them on a nil tracker is a no-op.
//
// # What this package must NOT do
//
//   - Import cafeauth or internal/flows.
//   - Make policy decisions beyond counting and locking; flow functions decide
//     what a lock means for the caller.
package limiters

// Package cafeauth authenticates the staff and customers of a café ordering
// platform: OTP-verified customer signup, admin login with an emailed second
// factor and an optional trusted device, customer login, and password reset
// by emailed code.
//
// Engine methods are safe to call from multiple goroutines after
// [Builder.Build]. The engine keeps no per-request state: OTP records,
// staged signups and failed-attempt counters live in Redis, principals live
// in a [CredentialStore].
//
// # Architecture boundaries
//
// cafeauth is the public surface. It exposes [Engine], [Builder], [Config],
// the error taxonomy and value types. Flow orchestration, Redis records and
// audit dispatch live under internal/ and are never exported.
//
// # What this package must NOT do
//
//   - Return backend error text to callers. Store failures surface as
//     [ErrUnavailable] and are logged.
//   - Log passwords, codes or tokens.
//   - Make role decisions anywhere but the [CapabilityTable].
//
// # Lockout
//
// Every rejected guess (wrong password, wrong code, probe for an unknown
// account) feeds a per-type failure counter keyed by (email, ip). Reaching
// Lockout.Threshold locks every flow for that pair for Lockout.Duration and
// the flows return a *[LockedError] until it lifts.
package cafeauth

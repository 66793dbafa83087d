// Package jwt is the session token issuer: it signs role-bearing bearer
// tokens for authenticated principals and verifies them on the way back in.
//
// Tokens are not persisted. The claims carry only enough to look the
// principal up again; callers must reconstruct the principal from the
// credential store before trusting role or status.
//
// Supported algorithms are Ed25519 (EdDSA) and HS256. The expiry of each
// token is chosen by the caller; this package does not encode the lifetime
// policy.
package jwt

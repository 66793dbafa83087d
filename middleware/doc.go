// Package middleware adapts cafeauth.Engine to net/http.
//
// [Guard] reads the bearer token, reconstructs the principal through
// Engine.Authenticate, checks the required capabilities through
// Engine.Authorize, and stores the principal on the request context
// (cafeauth.PrincipalFromContext).
//
// # What this package must NOT do
//
//   - Parse or verify tokens itself.
//   - Decide on roles. The capability table is the only authority.
package middleware

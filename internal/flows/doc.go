// Package flows contains the authentication state machines behind the
// public Engine methods.
//
// Each Run* function sequences the lockout tracker, OTP ledger, signup
// staging and credential store for one operation. Functions take every
// collaborator through [Deps] as plain function fields, so they can be
// driven in tests without Redis or a database.
//
// Flow rules shared by every operation:
//
//   - A step that consumes a guess (password or code) checks the lockout
//     tracker first.
//   - A rejected guess is recorded against the tracker.
//   - A successful terminal step clears the tracker.
//   - Backend failures are logged and surface as Errors.Unavailable.
//
// This package must not import cafeauth.
package flows

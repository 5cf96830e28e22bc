// Package internal contains helpers that are private to ticketauth, mainly
// secure random generation for verification codes, captcha answers and
// redirect state.
//
// # Sub-packages
//
//   - audit: async event dispatch (Dispatcher + Sink implementations)
//   - flows: flow orchestrators for login, registration and logout
//   - rate: Redis-backed failed-login throttle
//   - stores: revocation, verification-code, captcha and state stores
//
// # What this package must NOT do
//
//   - Export types that appear in the public ticketauth API.
//   - Be imported by any package outside the ticketauth module.
package internal

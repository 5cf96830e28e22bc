// Package rate provides Redis-backed fixed-window limiters for the
// authentication endpoints.
//
// # Window semantics
//
// Fixed-window counters: INCR + conditional EXPIRE on first hit. Key prefixes:
//   - ta:rl:login:<email>  failed logins per email
//   - ta:rl:loginip:<ip>   failed logins per IP
//   - ta:rl:codeip:<ip>    verification-code sends per IP
//
// The per-email verification interval and retry bound are not here; they are
// enforced atomically by the verification code store.
package rate

// Package ticketauth authenticates users of a ticket-sales service with
// stateless signed tokens, email verification codes, captcha challenges and
// an optional third-party login bridge.
//
// The package is designed for concurrent server workloads: Engine methods
// are safe to call from multiple goroutines after initialization through
// [Builder.Build].
//
// # Architecture boundaries
//
// ticketauth is the public surface. It exposes [Engine], [Builder], [Config]
// and value types (LoginResult, LoginOutcome, Principal, CaptchaChallenge).
// Flow orchestration, Redis stores, the login throttle and audit dispatch
// live under internal/ and are never exported. Identity persistence is the
// caller's [CredentialStore]; credstore/memory and credstore/postgres are
// ready-made implementations.
//
// # Tokens and revocation
//
// Tokens are self-contained JWTs carrying the subject ID, username and
// role. Logout adds a token to the revocation store until its embedded
// expiry, after which the entry is dropped. Authorize checks revocation
// before verifying the signature, and any revocation backend failure is
// treated as unauthorized.
//
// # Verification codes
//
// One code is active per email. Sends are gated by a resend interval and
// a retry budget, and a failed delivery never leaves an unsent code behind.
package ticketauth

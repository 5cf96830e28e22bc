// Package credstore holds ticketauth.CredentialStore implementations.
//
// Subpackages:
//
//   - memory: process-local map store with snowflake IDs, for tests and
//     single-node demos.
//   - postgres: pgx-backed store that maps unique violations onto
//     ticketauth.ErrIdentityExists and ticketauth.ErrUsernameTaken.
package credstore

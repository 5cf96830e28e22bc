// Package jwt issues and verifies the signed, time-bounded identity tokens
// handed to ticketauth clients.
//
// Tokens carry userId, username and role plus exp/iat. Verification reports
// exactly two failure kinds, ErrTokenMalformed and ErrTokenExpired, so callers
// can collapse or distinguish them as they need.
package jwt

// Package middleware exposes net/http adapters around ticketauth.Engine.
//
// # Handlers
//
//   - [Gate] authorizes every request against the engine's routing policy.
//   - [RequestLogger] logs one zap line per request and assigns X-Request-ID.
//   - [RealIP] resolves the client IP, honouring forwarding headers only from trusted proxies.
//   - [RateLimit] throttles callers per client IP.
//
// Gate reads the token from the Authorization bearer header, then the
// "token" header, then the "token" query parameter. Rejections carry only
// "unauthorized" (401) or "forbidden" (403). On success the Principal is
// available through [PrincipalFromContext].
//
// This package translates HTTP semantics into Engine calls. It never parses
// tokens or touches Redis itself.
package middleware

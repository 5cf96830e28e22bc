// Package stores provides the short-lived, concurrently shared state behind
// ticketauth: token revocations, email verification codes, one-shot
// challenges (captcha answers, federated-login state) and pending
// registrations.
//
// # Design
//
// Redis-backed stores use single commands or Lua scripts so every gate,
// compare and consume step is atomic per key. Keys for one email share a
// hash tag. TTLs are the only timeout mechanism; validity is re-derived at
// read time. The memory revocation store guards a map with a RWMutex and
// sweeps expired entries in bounded batches.
//
// # Architecture boundaries
//
// This package owns persistence and concurrency control. It does NOT
// generate codes, deliver email or make authorization decisions; those
// belong to the engine and internal/flows.
//
// # What this package must NOT do
//
//   - Import ticketauth or any sibling internal package.
//   - Log or expose verification codes or captcha answers.
package stores

// Package limiters provides the domain rate limiters built on top of the
// internal/rate fixed-window primitive.
//
// # Limiters
//
//   - [ChallengeLimiter] - per-subject + per-IP throttle for one-time code
//     issuance and checks. The engine runs one instance for password recovery
//     (prefix "grr") and one for email verification (prefix "grv").
//
// Key layout: <prefix><kind>:<value>, where kind is q, qip, v or vip and the
// subject is an opaque hash of the normalized identifier.
//
// # What this package must NOT do
//
//   - Make recovery decisions (those belong to internal/flows).
//   - Store plaintext identifiers in keys.
package limiters

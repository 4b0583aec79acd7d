// Package stores provides the Redis-backed, short-lived records behind the
// recovery and email-verification flows: one-time code challenges and the
// single-use grants that authorize a password commit.
//
// # Design
//
// Each record is a versioned binary blob with a TTL. Consume and ConsumeGrant
// use WATCH/MULTI optimistic transactions with retry on contention. A
// challenge is single-use and dies after MaxAttempts misses. Secret
// comparisons are constant-time.
//
// # What this package must NOT do
//
//   - Generate codes, enforce rate limits, or decide outcomes (internal/flows).
//   - Store plaintext codes or identifiers.
package stores

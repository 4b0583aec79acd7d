// Package rate provides the Redis fixed-window counter that the recovery
// limiters are built on.
//
// # Window semantics
//
// INCR + conditional EXPIRE on the first hit. The key owns its window; the
// counter disappears when the window expires. Key naming is the caller's
// concern (see internal/limiters).
//
// # What this package must NOT do
//
//   - Implement domain-specific policies (those live in internal/limiters).
//   - Be imported outside the goRecover module.
package rate

// Package internal contains helpers private to goRecover: one-time code
// generation, code hashing and subject derivation.
//
// # Sub-packages
//
//   - audit - async event dispatch (Dispatcher + Sink implementations)
//   - flows - pure-function orchestrators for every Engine operation
//   - limiters - challenge request/verify throttles
//   - rate - Redis fixed-window counter
//   - stores - challenge and grant records
//
// # What this package must NOT do
//
//   - Export types that appear in the public goRecover API.
//   - Be imported by any package outside the goRecover module.
package internal

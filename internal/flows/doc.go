// Package flows contains pure-function orchestrators for the engine's
// code-based operations.
//
// Each flow function (RunRequestCode, RunVerifyCode, RunCommitPassword,
// RunConfirmVerification) accepts a ChallengeDeps value and returns results
// without side effects beyond those dependencies. Recovery and email
// verification share the same deps shape and differ only in wiring.
//
// # What this package must NOT do
//
//   - Hold mutable state between calls.
//   - Import goRecover (to avoid import cycles).
//   - Perform I/O directly. All I/O goes through the deps function fields.
//   - Log or audit plaintext codes.
package flows

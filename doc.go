// Package goRecover implements forgot-password recovery by one-time code,
// from the client-side step machine down to the server that issues and
// redeems the codes.
//
// # Client side
//
// A [Session] walks one recovery attempt through EnterIdentifier, EnterOtp,
// SetNewPassword and Complete. It validates input locally, runs the resend
// cooldown, and talks to a [Gateway] for dispatch, code checks and the final
// commit. Gateway calls run without the session lock; a result that arrives
// after the user moved on, or after Close, is discarded. [VerificationSession]
// is the smaller email-verification variant backed by a [Verifier].
//
// # Server side
//
// [Engine] implements both Gateway and Verifier on top of Redis: hashed
// challenges with an attempt budget, single-use reset grants, fixed-window
// throttles per identifier and per client IP, argon2id password hashes, an
// async audit dispatcher and lock-free counters. Build one with [New].
//
// Remote clients use httpgateway.Client against the httpapi handlers; both
// satisfy the same Gateway contract.
//
// # Boundaries
//
//   - Plain codes and passwords never leave the engine except through the
//     configured Notifier; audit events carry masked destinations only.
//   - Redis clients, stores and limiters stay under internal/.
//   - Sub-packages may import goRecover; goRecover imports none of them
//     except grant and password.
package goRecover

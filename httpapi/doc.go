// Package httpapi serves the recovery engine over HTTP with chi.
//
// Routes:
//
//	POST /v1/recovery/otp                 202 {destination, expires_in_seconds}
//	POST /v1/recovery/otp/verify          200 {accepted, grant?}
//	POST /v1/recovery/password            204
//	POST /v1/verification/email           202 {destination, expires_in_seconds}
//	POST /v1/verification/email/confirm   200 {verified}
//	GET  /healthz                         200
//	GET  /metrics                         when a metrics handler is given
//
// Failures answer {"error": code, "message": text}. The message is the
// user-facing string the client flow would show for the same error.
//
// A successful verify returns a signed grant. The password call must present
// it, either in the body or as "Authorization: Bearer <grant>".
package httpapi

// Package middleware holds the HTTP middleware shared by the recovery API.
//
//   - [ClientIP] copies the caller address into the request context with
//     goRecover.WithClientIP so the engine can throttle per IP.
//   - [WithRequestLogging] logs one zap line per request.
//   - [Grant] parses a reset grant presented as a bearer token.
//
// None of these make recovery decisions. They only translate HTTP into what
// the engine and handlers read.
package middleware

// Package grant signs the short-lived JWTs that carry a verified recovery
// session from the verify call to the commit call over HTTP.
//
// A grant only proves that a code was accepted. The server-side grant record
// named by the token's jti is still consumed on commit, so a token is single use.
package grant

package goRecover

import "errors"

// User-facing taxonomy. Session writes these to its error slot and
// UserMessage renders them.
var (
	ErrInvalidIdentifierFormat = errors.New("invalid identifier format")
	ErrOtpIncomplete           = errors.New("otp incomplete")
	ErrOtpRejected             = errors.New("otp rejected")
	ErrPasswordTooWeak         = errors.New("password too weak")
	ErrPasswordMismatch        = errors.New("password confirmation mismatch")
	ErrDispatchFailed          = errors.New("code dispatch failed")
	ErrCommitFailed            = errors.New("password commit failed")
)

// Guard errors are returned to the caller but never shown in the error slot.
var (
	ErrSessionBusy       = errors.New("session busy")
	ErrSessionClosed     = errors.New("session closed")
	ErrInvalidTransition = errors.New("operation not allowed in current step")
	ErrResendCooldown    = errors.New("resend not available yet")
)

// Engine errors.
var (
	// ErrEngineNotReady is returned when the engine was not built through Builder.
	ErrEngineNotReady          = errors.New("engine not initialized")
	ErrRecoveryDisabled        = errors.New("recovery disabled")
	ErrRecoveryRateLimited     = errors.New("recovery rate limited")
	ErrRecoveryUnavailable     = errors.New("recovery backend unavailable")
	ErrRecoveryAttempts        = errors.New("recovery attempts exceeded")
	ErrRecoveryNotVerified     = errors.New("recovery not verified")
	ErrUserNotFound            = errors.New("user not found")
	ErrInvalidCredentials      = errors.New("invalid credentials")
	ErrVerificationDisabled    = errors.New("email verification disabled")
	ErrVerificationRateLimited = errors.New("email verification rate limited")
	ErrVerificationInvalid     = errors.New("email verification code invalid")
	ErrVerificationAttempts    = errors.New("email verification attempts exceeded")
	ErrVerificationUnavailable = errors.New("email verification backend unavailable")
)

func isGuardError(err error) bool {
	return errors.Is(err, ErrSessionBusy) ||
		errors.Is(err, ErrSessionClosed) ||
		errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrResendCooldown)
}

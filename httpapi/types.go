package httpapi

// Request and response bodies. httpgateway encodes the same types.

type OTPRequest struct {
	Identifier string `json:"identifier" validate:"required,max=320"`
	Method     string `json:"method" validate:"omitempty,recoverymethod"`
}

type OTPResponse struct {
	Destination      string `json:"destination"`
	ExpiresInSeconds int64  `json:"expires_in_seconds"`
}

type VerifyRequest struct {
	Identifier string `json:"identifier" validate:"required,max=320"`
	Method     string `json:"method" validate:"omitempty,recoverymethod"`
	Code       string `json:"code" validate:"required,max=32"`
}

type VerifyResponse struct {
	Accepted       bool   `json:"accepted"`
	Grant          string `json:"grant,omitempty"`
	GrantExpiresAt int64  `json:"grant_expires_at,omitempty"`
}

type PasswordRequest struct {
	Identifier  string `json:"identifier" validate:"required,max=320"`
	Method      string `json:"method" validate:"omitempty,recoverymethod"`
	NewPassword string `json:"new_password" validate:"required,max=1024"`
	Grant       string `json:"grant,omitempty" validate:"max=4096"`
}

type EmailRequest struct {
	Email string `json:"email" validate:"required,max=320"`
}

type ConfirmRequest struct {
	Email string `json:"email" validate:"required,max=320"`
	Code  string `json:"code" validate:"required,max=32"`
}

type ConfirmResponse struct {
	Verified bool `json:"verified"`
}

// ErrorResponse is the body of every non-2xx answer.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Error codes carried in ErrorResponse.Error.
const (
	CodeInvalidRequest  = "invalid_request"
	CodeInvalidFormat   = "invalid_format"
	CodeRateLimited     = "rate_limited"
	CodeNotVerified     = "not_verified"
	CodePasswordTooWeak = "password_too_weak"
	CodeDisabled        = "disabled"
	CodeUnavailable     = "unavailable"
	CodeDispatchFailed  = "dispatch_failed"
	CodeCommitFailed    = "commit_failed"
	CodeInternal        = "internal"
)

package goRecover

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Method is the channel a code is delivered through.
type Method uint8

const (
	MethodEmail Method = iota
	MethodPhone
)

func (m Method) String() string {
	switch m {
	case MethodEmail:
		return "email"
	case MethodPhone:
		return "phone"
	default:
		return fmt.Sprintf("method(%d)", uint8(m))
	}
}

// ParseMethod accepts "email" or "phone" (any case, "sms" as an alias).
func ParseMethod(s string) (Method, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "email", "":
		return MethodEmail, nil
	case "phone", "sms":
		return MethodPhone, nil
	default:
		return 0, fmt.Errorf("%w: unknown method %q", ErrInvalidIdentifierFormat, s)
	}
}

// Identifier is what the user typed together with the method it was typed for.
type Identifier struct {
	Value  string
	Method Method
}

// Dispatch acknowledges that a code was issued. Destination is display-safe.
type Dispatch struct {
	Destination string
	ExpiresIn   time.Duration
}

// Gateway issues and checks recovery codes and commits the new password.
// *Engine implements it in process; httpgateway.Client implements it over HTTP.
//
// VerifyOTP returns (false, nil) when the code is wrong, expired or used up.
// A non-nil error means the check itself could not be made.
type Gateway interface {
	RequestOTP(ctx context.Context, id Identifier) (Dispatch, error)
	VerifyOTP(ctx context.Context, id Identifier, code string) (bool, error)
	CommitNewPassword(ctx context.Context, id Identifier, newPassword string) error
}

// Verifier backs a VerificationSession.
type Verifier interface {
	RequestEmailVerification(ctx context.Context, email string) (Dispatch, error)
	ConfirmEmailVerification(ctx context.Context, email, code string) (bool, error)
}

// CodeVerifier decides whether code is the outstanding code for id. It
// returns the user id bound to the code, ErrOtpRejected for a wrong or
// missing code, or ErrRecoveryAttempts once the challenge is burned.
type CodeVerifier interface {
	VerifyCode(ctx context.Context, purpose string, id Identifier, code string) (string, error)
}

// UserRecord is the stored profile and credential.
type UserRecord struct {
	UserID        string
	Name          string
	Email         string
	Phone         string
	PasswordHash  string
	EmailVerified bool
}

// UserProvider is the profile store. Lookups for unknown users must return an
// error wrapping ErrUserNotFound.
type UserProvider interface {
	GetUserByIdentifier(ctx context.Context, id Identifier) (UserRecord, error)
	GetUserByID(ctx context.Context, userID string) (UserRecord, error)
	UpdatePasswordHash(ctx context.Context, userID, newHash string) error
	MarkEmailVerified(ctx context.Context, userID string) error
}

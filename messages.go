package goRecover

import (
	"errors"
	"fmt"
	"time"
)

// UserMessage renders a taxonomy error for display. method selects the
// identifier hint. Errors outside the taxonomy render as "". Code length
// hints assume the default code length; see UserMessageForDigits.
func UserMessage(err error, method Method) string {
	return UserMessageForDigits(err, method, DefaultFlowConfig().CodeDigits)
}

// UserMessageForDigits is UserMessage for codes of the given length.
func UserMessageForDigits(err error, method Method, digits int) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidIdentifierFormat):
		if method == MethodPhone {
			return "Please enter a valid phone number with country code (e.g. +15550000000)."
		}
		return "Please enter a valid email address."
	case errors.Is(err, ErrOtpIncomplete):
		return fmt.Sprintf("Please enter a valid %d-digit code.", digits)
	case errors.Is(err, ErrOtpRejected):
		return "Invalid or expired code. Please try again."
	case errors.Is(err, ErrPasswordTooWeak):
		return "Password is too weak. Use at least 3 of: 8+ characters, an uppercase letter, a number, a symbol."
	case errors.Is(err, ErrPasswordMismatch):
		return "Passwords do not match."
	case errors.Is(err, ErrDispatchFailed):
		return "We couldn't send or check your code right now. Please try again."
	case errors.Is(err, ErrCommitFailed):
		return "We couldn't update your password right now. Please try again."
	default:
		return ""
	}
}

func dispatchedMessage(id Identifier, digits int, expiresIn time.Duration) string {
	to := id.Value
	if id.Method == MethodPhone {
		to = "your " + MaskPhone(id.Value)
	}
	return fmt.Sprintf("We've sent a %d-digit code to %s. It expires in %s.", digits, to, humanMinutes(expiresIn))
}

func resentMessage(id Identifier) string {
	return fmt.Sprintf("A new code has been sent to %s.", DescribeDestination(id))
}

func verificationSentMessage(email string, digits int) string {
	return fmt.Sprintf("We've sent a %d-digit verification code to %s.", digits, email)
}

func humanMinutes(d time.Duration) string {
	m := int(d / time.Minute)
	if m <= 1 {
		return "1 minute"
	}
	return fmt.Sprintf("%d minutes", m)
}

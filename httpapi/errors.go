package httpapi

import (
	"context"
	"errors"
	"net/http"

	goRecover "github.com/MrEthical07/goRecover"
)

type apiError struct {
	status int
	code   string
}

// classify maps an engine error to a status and code. Causes are checked
// before the ErrDispatchFailed and ErrCommitFailed wrappers around them.
func classify(err error) apiError {
	switch {
	case errors.Is(err, goRecover.ErrInvalidIdentifierFormat),
		errors.Is(err, goRecover.ErrOtpIncomplete):
		return apiError{http.StatusBadRequest, CodeInvalidFormat}
	case errors.Is(err, goRecover.ErrRecoveryRateLimited),
		errors.Is(err, goRecover.ErrVerificationRateLimited):
		return apiError{http.StatusTooManyRequests, CodeRateLimited}
	case errors.Is(err, goRecover.ErrRecoveryNotVerified):
		return apiError{http.StatusForbidden, CodeNotVerified}
	case errors.Is(err, goRecover.ErrPasswordTooWeak):
		return apiError{http.StatusUnprocessableEntity, CodePasswordTooWeak}
	case errors.Is(err, goRecover.ErrRecoveryDisabled),
		errors.Is(err, goRecover.ErrVerificationDisabled):
		return apiError{http.StatusNotFound, CodeDisabled}
	case errors.Is(err, goRecover.ErrRecoveryUnavailable),
		errors.Is(err, goRecover.ErrVerificationUnavailable),
		errors.Is(err, goRecover.ErrEngineNotReady),
		errors.Is(err, context.DeadlineExceeded):
		return apiError{http.StatusServiceUnavailable, CodeUnavailable}
	case errors.Is(err, goRecover.ErrDispatchFailed):
		return apiError{http.StatusBadGateway, CodeDispatchFailed}
	case errors.Is(err, goRecover.ErrCommitFailed):
		return apiError{http.StatusInternalServerError, CodeCommitFailed}
	default:
		return apiError{http.StatusInternalServerError, CodeInternal}
	}
}

func defaultMessage(code string) string {
	switch code {
	case CodeInvalidRequest:
		return "The request body is malformed."
	case CodeRateLimited:
		return "Too many attempts. Please wait and try again."
	case CodeNotVerified:
		return "Please verify your code again before setting a new password."
	case CodeDisabled:
		return "This feature is not available."
	case CodeUnavailable:
		return "The service is temporarily unavailable. Please try again."
	default:
		return "Something went wrong. Please try again."
	}
}

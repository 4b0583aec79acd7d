package goRecover

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/goRecover/internal/audit"
)

const (
	auditEventRecoveryRequest     = "recovery_code_request"
	auditEventRecoveryVerify      = "recovery_code_verify"
	auditEventRecoveryCommit      = "recovery_password_commit"
	auditEventVerificationRequest = "email_verification_request"
	auditEventVerificationConfirm = "email_verification_confirm"
	auditEventVerificationMarked  = "email_verification_mark"
	auditEventAuthenticate        = "authenticate"
	auditEventRateLimitTriggered  = "rate_limit_triggered"
)

// AuditErrorCode is the stable error label written to AuditEvent.Error.
type AuditErrorCode string

const (
	auditErrInvalidIdentifier  AuditErrorCode = "invalid_identifier"
	auditErrOtpIncomplete      AuditErrorCode = "otp_incomplete"
	auditErrOtpRejected        AuditErrorCode = "otp_rejected"
	auditErrAttemptsExceeded   AuditErrorCode = "attempts_exceeded"
	auditErrRateLimited        AuditErrorCode = "rate_limited"
	auditErrNotVerified        AuditErrorCode = "not_verified"
	auditErrPasswordTooWeak    AuditErrorCode = "password_too_weak"
	auditErrDispatchFailed     AuditErrorCode = "dispatch_failed"
	auditErrCommitFailed       AuditErrorCode = "commit_failed"
	auditErrUserNotFound       AuditErrorCode = "user_not_found"
	auditErrInvalidCredentials AuditErrorCode = "invalid_credentials"
	auditErrDisabled           AuditErrorCode = "disabled"
	auditErrUnavailable        AuditErrorCode = "backend_unavailable"
	auditErrInternal           AuditErrorCode = "internal_error"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	userID string,
	method string,
	destination string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := audit.Event{
		Timestamp:   time.Now().UTC(),
		EventType:   eventType,
		UserID:      userID,
		Method:      method,
		Destination: destination,
		IP:          ClientIPFromContext(ctx),
		Success:     success,
		Metadata:    metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}

func (e *Engine) emitRateLimit(ctx context.Context, scope, method string, metadataBuilder func() map[string]string) {
	e.metricInc(MetricRateLimitHit)
	e.emitAudit(ctx, auditEventRateLimitTriggered, false, "", method, "", nil, func() map[string]string {
		base := map[string]string{"scope": scope}
		if metadataBuilder == nil {
			return base
		}
		for k, v := range metadataBuilder() {
			base[k] = v
		}
		return base
	})
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrInvalidIdentifierFormat):
		return auditErrInvalidIdentifier
	case errors.Is(err, ErrOtpIncomplete):
		return auditErrOtpIncomplete
	case errors.Is(err, ErrOtpRejected),
		errors.Is(err, ErrVerificationInvalid):
		return auditErrOtpRejected
	case errors.Is(err, ErrRecoveryAttempts),
		errors.Is(err, ErrVerificationAttempts):
		return auditErrAttemptsExceeded
	case errors.Is(err, ErrRecoveryRateLimited),
		errors.Is(err, ErrVerificationRateLimited):
		return auditErrRateLimited
	case errors.Is(err, ErrRecoveryNotVerified):
		return auditErrNotVerified
	case errors.Is(err, ErrPasswordTooWeak):
		return auditErrPasswordTooWeak
	case errors.Is(err, ErrDispatchFailed):
		return auditErrDispatchFailed
	case errors.Is(err, ErrUserNotFound):
		return auditErrUserNotFound
	case errors.Is(err, ErrInvalidCredentials):
		return auditErrInvalidCredentials
	case errors.Is(err, ErrRecoveryDisabled),
		errors.Is(err, ErrVerificationDisabled):
		return auditErrDisabled
	case errors.Is(err, ErrCommitFailed):
		return auditErrCommitFailed
	case errors.Is(err, ErrRecoveryUnavailable),
		errors.Is(err, ErrVerificationUnavailable),
		errors.Is(err, ErrEngineNotReady):
		return auditErrUnavailable
	default:
		return auditErrInternal
	}
}

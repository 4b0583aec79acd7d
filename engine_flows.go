package goRecover

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/goRecover/internal"
	"github.com/MrEthical07/goRecover/internal/flows"
	"github.com/MrEthical07/goRecover/internal/stores"
)

func (e *Engine) buildFlowDeps() flows.Deps {
	return flows.Deps{
		Recovery:     e.recoveryDeps(),
		Verification: e.verificationDeps(),
	}
}

// sharedDeps wires the parts both flows have in common.
func (e *Engine) sharedDeps(purpose string) flows.ChallengeDeps {
	return flows.ChallengeDeps{
		Purpose:             purpose,
		ClientIPFromContext: ClientIPFromContext,
		Now:                 time.Now,
		ValidateIdentifier: func(v string, m uint8) error {
			return ValidateIdentifier(Method(m), v)
		},
		Describe: func(v string, m uint8) string {
			return DescribeDestination(Identifier{Value: v, Method: Method(m)})
		},
		MethodName: func(m uint8) string { return Method(m).String() },
		GetUserByID: func(ctx context.Context, userID string) (flows.ChallengeUser, error) {
			if userID == "" {
				return flows.ChallengeUser{}, ErrUserNotFound
			}
			u, err := e.userProvider.GetUserByID(ctx, userID)
			if err != nil {
				return flows.ChallengeUser{}, err
			}
			return flows.ChallengeUser{UserID: u.UserID, EmailVerified: u.EmailVerified}, nil
		},
		GenerateCode: internal.NewOTP,
		HashCode:     internal.HashCode,
		NewGrantID:   internal.NewGrantID,
		SaveChallenge: func(ctx context.Context, subject string, rec flows.ChallengeRecord, ttl time.Duration) error {
			return e.challenges.Save(ctx, purpose, subject, &stores.ChallengeRecord{
				UserID:    rec.UserID,
				Method:    rec.Method,
				CodeHash:  rec.CodeHash,
				ExpiresAt: rec.ExpiresAt,
			}, ttl)
		},
		DeleteChallenge: func(ctx context.Context, subject string) error {
			return e.challenges.Delete(ctx, purpose, subject)
		},
		VerifyCode: func(ctx context.Context, req flows.ChallengeRequest, code string) (string, error) {
			return e.codeVerifier.VerifyCode(ctx, purpose, Identifier{Value: req.Identifier, Method: Method(req.Method)}, code)
		},
		Send: func(ctx context.Context, d flows.ChallengeDelivery) error {
			return e.notifier.Send(ctx, Delivery{
				UserID:    d.UserID,
				Purpose:   d.Purpose,
				To:        Identifier{Value: d.Identifier, Method: Method(d.Method)},
				Code:      d.Code,
				ExpiresIn: d.ExpiresIn,
			})
		},
		SleepEnumerationDelay: sleepEnumerationDelay,
		MetricInc:             func(id int) { e.metricInc(MetricID(id)) },
		ObserveLatency:        func(id int, d time.Duration) { e.observe(MetricID(id), d) },
		EmitAudit: func(ctx context.Context, event string, success bool, userID, method, destination string, err error, meta func() map[string]string) {
			e.emitAudit(ctx, event, success, userID, method, destination, err, meta)
		},
		EmitRateLimit: e.emitRateLimit,
	}
}

func (e *Engine) recoveryDeps() flows.ChallengeDeps {
	cfg := e.config.Recovery
	deps := e.sharedDeps(PurposeRecovery)

	deps.Enabled = cfg.Enabled
	deps.OTPDigits = cfg.OTPDigits
	deps.CodeTTL = cfg.CodeTTL
	deps.GrantTTL = cfg.GrantTTL
	deps.MaxAttempts = cfg.MaxAttempts
	deps.MinStrength = cfg.MinPasswordStrength
	deps.EnumerationDelay = cfg.EnumerationDelay

	deps.CheckRequestLimiter = e.recoveryLimiter.CheckRequest
	deps.CheckVerifyLimiter = e.recoveryLimiter.CheckVerify
	deps.ResetVerifyLimiter = e.recoveryLimiter.ResetVerify
	deps.MapLimiterError = limiterErrorMapper(ErrRecoveryRateLimited, ErrRecoveryUnavailable)
	deps.MapStoreError = recoveryStoreError

	deps.GetUserByIdentifier = func(ctx context.Context, v string, m uint8) (flows.ChallengeUser, error) {
		u, err := e.userProvider.GetUserByIdentifier(ctx, Identifier{Value: v, Method: Method(m)})
		if err != nil {
			if errors.Is(err, ErrUserNotFound) {
				return flows.ChallengeUser{}, ErrUserNotFound
			}
			return flows.ChallengeUser{}, err
		}
		return flows.ChallengeUser{UserID: u.UserID, EmailVerified: u.EmailVerified}, nil
	}
	deps.HashPassword = e.passwordHash.Hash
	deps.UpdatePasswordHash = e.userProvider.UpdatePasswordHash
	deps.PasswordStrength = PasswordStrength
	deps.SaveGrant = func(ctx context.Context, subject string, g flows.ChallengeGrant, ttl time.Duration) error {
		return e.challenges.SaveGrant(ctx, PurposeRecovery, subject, &stores.GrantRecord{
			UserID:    g.UserID,
			GrantID:   g.GrantID,
			ExpiresAt: g.ExpiresAt,
		}, ttl)
	}
	deps.ConsumeGrant = func(ctx context.Context, subject, grantID string) (flows.ChallengeGrant, error) {
		g, err := e.challenges.ConsumeGrant(ctx, PurposeRecovery, subject, grantID)
		if err != nil {
			return flows.ChallengeGrant{}, err
		}
		return flows.ChallengeGrant{UserID: g.UserID, GrantID: g.GrantID, ExpiresAt: g.ExpiresAt}, nil
	}

	deps.Metrics = flows.ChallengeMetrics{
		Request:          int(MetricOTPRequest),
		DispatchFailure:  int(MetricOTPDispatchFailure),
		VerifySuccess:    int(MetricOTPVerifySuccess),
		VerifyFailure:    int(MetricOTPVerifyFailure),
		AttemptsExceeded: int(MetricOTPAttemptsExceeded),
		CommitSuccess:    int(MetricPasswordCommitSuccess),
		CommitFailure:    int(MetricPasswordCommitFailure),
		DispatchLatency:  int(MetricDispatchLatency),
	}
	deps.Events = flows.ChallengeEvents{
		Request: auditEventRecoveryRequest,
		Verify:  auditEventRecoveryVerify,
		Commit:  auditEventRecoveryCommit,
	}
	deps.Errors = flows.ChallengeErrors{
		EngineNotReady:    ErrEngineNotReady,
		Disabled:          ErrRecoveryDisabled,
		InvalidIdentifier: ErrInvalidIdentifierFormat,
		OtpIncomplete:     ErrOtpIncomplete,
		OtpRejected:       ErrOtpRejected,
		RateLimited:       ErrRecoveryRateLimited,
		Unavailable:       ErrRecoveryUnavailable,
		Attempts:          ErrRecoveryAttempts,
		DispatchFailed:    ErrDispatchFailed,
		NotVerified:       ErrRecoveryNotVerified,
		PasswordTooWeak:   ErrPasswordTooWeak,
		UserNotFound:      ErrUserNotFound,
		CommitFailed:      ErrCommitFailed,
	}
	return deps
}

func (e *Engine) verificationDeps() flows.ChallengeDeps {
	cfg := e.config.EmailVerification
	deps := e.sharedDeps(PurposeVerification)

	deps.Enabled = cfg.Enabled
	deps.OTPDigits = cfg.OTPDigits
	deps.CodeTTL = cfg.CodeTTL
	deps.MaxAttempts = cfg.MaxAttempts
	deps.EnumerationDelay = e.config.Recovery.EnumerationDelay

	deps.ValidateIdentifier = func(v string, m uint8) error {
		if Method(m) != MethodEmail {
			return ErrInvalidIdentifierFormat
		}
		return ValidateIdentifier(MethodEmail, v)
	}
	deps.CheckRequestLimiter = e.verificationLimiter.CheckRequest
	deps.CheckVerifyLimiter = e.verificationLimiter.CheckVerify
	deps.ResetVerifyLimiter = e.verificationLimiter.ResetVerify
	deps.MapLimiterError = limiterErrorMapper(ErrVerificationRateLimited, ErrVerificationUnavailable)
	deps.MapStoreError = verificationStoreError

	// Already verified addresses are treated like unknown ones: acknowledged,
	// nothing sent.
	deps.GetUserByIdentifier = func(ctx context.Context, v string, _ uint8) (flows.ChallengeUser, error) {
		u, err := e.userProvider.GetUserByIdentifier(ctx, Identifier{Value: v, Method: MethodEmail})
		if err != nil {
			if errors.Is(err, ErrUserNotFound) {
				return flows.ChallengeUser{}, ErrUserNotFound
			}
			return flows.ChallengeUser{}, err
		}
		if u.EmailVerified {
			return flows.ChallengeUser{}, ErrUserNotFound
		}
		return flows.ChallengeUser{UserID: u.UserID}, nil
	}
	deps.MarkVerified = func(ctx context.Context, userID string) error {
		if userID == "" {
			return ErrUserNotFound
		}
		if err := e.userProvider.MarkEmailVerified(ctx, userID); err != nil {
			return fmt.Errorf("mark email verified: %w", err)
		}
		e.emitAudit(ctx, auditEventVerificationMarked, true, userID, MethodEmail.String(), "", nil, nil)
		return nil
	}

	deps.Metrics = flows.ChallengeMetrics{
		Request:          int(MetricEmailVerificationRequest),
		DispatchFailure:  int(MetricOTPDispatchFailure),
		VerifySuccess:    int(MetricEmailVerificationSuccess),
		VerifyFailure:    int(MetricEmailVerificationFailure),
		AttemptsExceeded: int(MetricEmailVerificationAttemptsExceeded),
		CommitSuccess:    int(MetricEmailVerificationSuccess),
		CommitFailure:    int(MetricEmailVerificationFailure),
		DispatchLatency:  int(MetricDispatchLatency),
	}
	deps.Events = flows.ChallengeEvents{
		Request: auditEventVerificationRequest,
		Verify:  auditEventVerificationConfirm,
		Commit:  auditEventVerificationConfirm,
	}
	deps.Errors = flows.ChallengeErrors{
		EngineNotReady:    ErrEngineNotReady,
		Disabled:          ErrVerificationDisabled,
		InvalidIdentifier: ErrInvalidIdentifierFormat,
		OtpIncomplete:     ErrOtpIncomplete,
		OtpRejected:       ErrVerificationInvalid,
		RateLimited:       ErrVerificationRateLimited,
		Unavailable:       ErrVerificationUnavailable,
		Attempts:          ErrVerificationAttempts,
		DispatchFailed:    ErrDispatchFailed,
		NotVerified:       ErrVerificationInvalid,
		PasswordTooWeak:   ErrPasswordTooWeak,
		UserNotFound:      ErrUserNotFound,
		CommitFailed:      ErrCommitFailed,
	}
	return deps
}

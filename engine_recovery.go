package goRecover

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/goRecover/internal/flows"
	"go.uber.org/zap"
)

// RecoveryGrant identifies the server-side grant issued after a code was
// accepted. The HTTP API signs GrantID into a token; in-process callers can
// ignore it.
type RecoveryGrant struct {
	GrantID   string
	ExpiresAt time.Time
}

// RequestOTP issues a recovery code for id and hands it to the notifier.
// Identifiers that match no account are acknowledged the same way and
// nothing is sent. Failures wrap ErrDispatchFailed together with the cause
// (ErrRecoveryRateLimited, ErrRecoveryUnavailable, ...), except a malformed
// identifier, which returns ErrInvalidIdentifierFormat.
func (e *Engine) RequestOTP(ctx context.Context, id Identifier) (Dispatch, error) {
	if !e.ready() {
		return Dispatch{}, ErrEngineNotReady
	}
	req, err := challengeRequest(id)
	if err != nil {
		e.emitAudit(ctx, auditEventRecoveryRequest, false, "", id.Method.String(), "", err, nil)
		return Dispatch{}, err
	}

	d, err := flows.RunRequestCode(ctx, req, e.flows.Recovery)
	if err != nil {
		return Dispatch{}, wrapDispatchError(err)
	}
	return Dispatch{Destination: d.Destination, ExpiresIn: d.ExpiresIn}, nil
}

// VerifyOTP reports whether code is the outstanding recovery code for id.
// Malformed, wrong, expired and burned codes return (false, nil); everything
// else that prevents a decision is an error.
func (e *Engine) VerifyOTP(ctx context.Context, id Identifier, code string) (bool, error) {
	_, err := e.VerifyOTPWithGrant(ctx, id, code)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrOtpRejected),
		errors.Is(err, ErrOtpIncomplete),
		errors.Is(err, ErrRecoveryAttempts):
		return false, nil
	default:
		return false, err
	}
}

// VerifyOTPWithGrant is VerifyOTP returning the grant that CommitNewPassword
// will consume, and the precise rejection error.
func (e *Engine) VerifyOTPWithGrant(ctx context.Context, id Identifier, code string) (RecoveryGrant, error) {
	if !e.ready() {
		return RecoveryGrant{}, ErrEngineNotReady
	}
	req, err := challengeRequest(id)
	if err != nil {
		return RecoveryGrant{}, err
	}

	g, err := flows.RunVerifyCode(ctx, req, code, e.flows.Recovery)
	if err != nil {
		return RecoveryGrant{}, err
	}
	return RecoveryGrant{GrantID: g.GrantID, ExpiresAt: time.Unix(g.ExpiresAt, 0)}, nil
}

// CommitNewPassword consumes the grant left by a successful VerifyOTP for id
// and stores the argon2id hash of newPassword. Errors wrap ErrCommitFailed,
// except a weak password, which returns ErrPasswordTooWeak.
func (e *Engine) CommitNewPassword(ctx context.Context, id Identifier, newPassword string) error {
	return e.CommitNewPasswordWithGrant(ctx, id, "", newPassword)
}

// CommitNewPasswordWithGrant is CommitNewPassword bound to one grant id. An
// empty grantID accepts whichever grant is outstanding for id.
func (e *Engine) CommitNewPasswordWithGrant(ctx context.Context, id Identifier, grantID, newPassword string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	req, err := challengeRequest(id)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCommitFailed, err)
	}

	err = flows.RunCommitPassword(ctx, req, grantID, newPassword, e.flows.Recovery)
	switch {
	case err == nil:
		e.logger.Info("password recovered", zap.String("method", id.Method.String()))
		return nil
	case errors.Is(err, ErrPasswordTooWeak), errors.Is(err, ErrCommitFailed):
		return err
	default:
		return fmt.Errorf("%w: %w", ErrCommitFailed, err)
	}
}

func wrapDispatchError(err error) error {
	if errors.Is(err, ErrDispatchFailed) ||
		errors.Is(err, ErrInvalidIdentifierFormat) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrDispatchFailed, err)
}

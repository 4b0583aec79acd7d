package goRecover

import (
	"context"
	"errors"

	"github.com/MrEthical07/goRecover/internal/flows"
)

// RequestEmailVerification sends a verification code to email. Unknown and
// already verified addresses are acknowledged without sending.
func (e *Engine) RequestEmailVerification(ctx context.Context, email string) (Dispatch, error) {
	if !e.ready() {
		return Dispatch{}, ErrEngineNotReady
	}
	req, err := challengeRequest(Identifier{Value: email, Method: MethodEmail})
	if err != nil {
		return Dispatch{}, err
	}

	d, err := flows.RunRequestCode(ctx, req, e.flows.Verification)
	if err != nil {
		return Dispatch{}, wrapDispatchError(err)
	}
	return Dispatch{Destination: d.Destination, ExpiresIn: d.ExpiresIn}, nil
}

// ConfirmEmailVerification checks code and marks the owner of email
// verified. A wrong or burned code returns (false, nil).
func (e *Engine) ConfirmEmailVerification(ctx context.Context, email, code string) (bool, error) {
	if !e.ready() {
		return false, ErrEngineNotReady
	}
	req, err := challengeRequest(Identifier{Value: email, Method: MethodEmail})
	if err != nil {
		return false, err
	}

	_, err = flows.RunConfirmVerification(ctx, req, code, e.flows.Verification)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrVerificationInvalid), errors.Is(err, ErrVerificationAttempts):
		return false, nil
	default:
		return false, err
	}
}

package flows

import (
	"context"
	"errors"
)

// RunConfirmVerification checks an email verification code and marks the
// bound user verified. No grant is issued.
func RunConfirmVerification(ctx context.Context, req ChallengeRequest, code string, deps ChallengeDeps) (string, error) {
	normalizeChallengeDeps(&deps)

	method := deps.MethodName(req.Method)
	destination := deps.Describe(req.Identifier, req.Method)

	userID, err := checkCode(ctx, req, code, deps)
	if err != nil {
		return "", err
	}
	if deps.MarkVerified == nil {
		return "", deps.Errors.EngineNotReady
	}
	if err := deps.MarkVerified(ctx, userID); err != nil {
		deps.MetricInc(deps.Metrics.CommitFailure)
		failure := errors.Join(deps.Errors.CommitFailed, err)
		deps.EmitAudit(ctx, deps.Events.Commit, false, userID, method, destination, failure, func() map[string]string {
			return map[string]string{"reason": "mark_verified_failed"}
		})
		return "", failure
	}

	deps.MetricInc(deps.Metrics.VerifySuccess)
	deps.EmitAudit(ctx, deps.Events.Verify, true, userID, method, destination, nil, nil)
	return userID, nil
}

package goRecover

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// Authenticate checks password for the account behind id. In mock mode the
// configured AcceptPassword is also accepted for any existing account.
// Unknown accounts and wrong passwords both return ErrInvalidCredentials.
// A hash produced with weaker parameters is upgraded in place.
func (e *Engine) Authenticate(ctx context.Context, id Identifier, password string) (UserRecord, error) {
	if e == nil || e.userProvider == nil || e.passwordHash == nil {
		return UserRecord{}, ErrEngineNotReady
	}
	method := id.Method.String()

	if err := ValidateIdentifier(id.Method, id.Value); err != nil {
		return UserRecord{}, ErrInvalidCredentials
	}
	user, err := e.userProvider.GetUserByIdentifier(ctx, NormalizeIdentifier(id))
	if err != nil {
		e.metricInc(MetricAuthenticateFailure)
		if errors.Is(err, ErrUserNotFound) {
			e.emitAudit(ctx, auditEventAuthenticate, false, "", method, "", ErrInvalidCredentials, nil)
			return UserRecord{}, ErrInvalidCredentials
		}
		e.emitAudit(ctx, auditEventAuthenticate, false, "", method, "", ErrRecoveryUnavailable, nil)
		return UserRecord{}, fmt.Errorf("%w: %v", ErrRecoveryUnavailable, err)
	}

	if e.config.Mock.Enabled && password == e.config.Mock.AcceptPassword {
		e.metricInc(MetricAuthenticateSuccess)
		e.emitAudit(ctx, auditEventAuthenticate, true, user.UserID, method, "", nil, func() map[string]string {
			return map[string]string{"mock": "true"}
		})
		return user, nil
	}

	ok, err := e.passwordHash.Verify(password, user.PasswordHash)
	if err != nil || !ok {
		e.metricInc(MetricAuthenticateFailure)
		e.emitAudit(ctx, auditEventAuthenticate, false, user.UserID, method, "", ErrInvalidCredentials, nil)
		return UserRecord{}, ErrInvalidCredentials
	}

	if need, _ := e.passwordHash.NeedsRehash(user.PasswordHash); need {
		if upgraded, err := e.passwordHash.Hash(password); err == nil {
			if err := e.userProvider.UpdatePasswordHash(ctx, user.UserID, upgraded); err != nil {
				e.logger.Warn("password hash upgrade failed", zap.String("user_id", user.UserID), zap.Error(err))
			} else {
				user.PasswordHash = upgraded
			}
		}
	}

	e.metricInc(MetricAuthenticateSuccess)
	e.emitAudit(ctx, auditEventAuthenticate, true, user.UserID, method, "", nil, nil)
	return user, nil
}

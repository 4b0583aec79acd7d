package flows

import (
	"context"
	"errors"
	"time"
)

// ChallengeRequest names the identifier a code is issued to or checked for.
// Subject is the opaque store/limiter key derived from the normalized value.
type ChallengeRequest struct {
	Identifier string
	Method     uint8
	Subject    string
}

type ChallengeUser struct {
	UserID        string
	EmailVerified bool
}

type ChallengeRecord struct {
	UserID    string
	Method    uint8
	CodeHash  [32]byte
	ExpiresAt int64
	Attempts  uint16
}

type ChallengeGrant struct {
	UserID    string
	GrantID   string
	ExpiresAt int64
}

// ChallengeDelivery is what the notifier receives. Code is the plaintext and
// must never reach logs or audit.
type ChallengeDelivery struct {
	UserID     string
	Identifier string
	Method     uint8
	Purpose    string
	Code       string
	ExpiresIn  time.Duration
}

// ChallengeDispatch is the acknowledgement returned to the caller.
type ChallengeDispatch struct {
	Destination string
	ExpiresIn   time.Duration
}

type ChallengeMetrics struct {
	Request          int
	DispatchFailure  int
	VerifySuccess    int
	VerifyFailure    int
	AttemptsExceeded int
	CommitSuccess    int
	CommitFailure    int
	DispatchLatency  int
}

type ChallengeEvents struct {
	Request string
	Verify  string
	Commit  string
}

type ChallengeErrors struct {
	EngineNotReady    error
	Disabled          error
	InvalidIdentifier error
	OtpIncomplete     error
	OtpRejected       error
	RateLimited       error
	Unavailable       error
	Attempts          error
	DispatchFailed    error
	NotVerified       error
	PasswordTooWeak   error
	UserNotFound      error
	CommitFailed      error
}

// ChallengeDeps wires one code-based flow (recovery or email verification)
// to the engine's stores, limiter, notifier, audit and metrics.
type ChallengeDeps struct {
	Enabled          bool
	Purpose          string
	OTPDigits        int
	CodeTTL          time.Duration
	GrantTTL         time.Duration
	MaxAttempts      int
	MinStrength      int
	EnumerationDelay bool

	ClientIPFromContext func(context.Context) string
	Now                 func() time.Time

	ValidateIdentifier func(string, uint8) error
	Describe           func(string, uint8) string
	MethodName         func(uint8) string

	CheckRequestLimiter func(context.Context, string, string) error
	CheckVerifyLimiter  func(context.Context, string, string) error
	ResetVerifyLimiter  func(context.Context, string) error
	MapLimiterError     func(error) error
	MapStoreError       func(error) error

	GetUserByIdentifier func(context.Context, string, uint8) (ChallengeUser, error)
	GetUserByID         func(context.Context, string) (ChallengeUser, error)
	HashPassword        func(string) (string, error)
	UpdatePasswordHash  func(context.Context, string, string) error
	MarkVerified        func(context.Context, string) error
	PasswordStrength    func(string) int

	GenerateCode    func(int) (string, error)
	HashCode        func(string) [32]byte
	NewGrantID      func() string
	SaveChallenge   func(context.Context, string, ChallengeRecord, time.Duration) error
	DeleteChallenge func(context.Context, string) error
	// VerifyCode returns the user id bound to an accepted code. The engine
	// swaps the store-backed check for a fixed-code strategy in mock mode.
	VerifyCode   func(context.Context, ChallengeRequest, string) (string, error)
	SaveGrant    func(context.Context, string, ChallengeGrant, time.Duration) error
	ConsumeGrant func(context.Context, string, string) (ChallengeGrant, error)

	Send                  func(context.Context, ChallengeDelivery) error
	SleepEnumerationDelay func(context.Context) error

	MetricInc      func(int)
	ObserveLatency func(int, time.Duration)
	EmitAudit      func(context.Context, string, bool, string, string, string, error, func() map[string]string)
	EmitRateLimit  func(context.Context, string, string, func() map[string]string)

	Metrics ChallengeMetrics
	Events  ChallengeEvents
	Errors  ChallengeErrors
}

// RunRequestCode validates the identifier, throttles, issues a fresh code and
// hands it to the notifier. Unknown identifiers receive the same
// acknowledgement after a randomized delay and nothing is sent.
func RunRequestCode(ctx context.Context, req ChallengeRequest, deps ChallengeDeps) (ChallengeDispatch, error) {
	normalizeChallengeDeps(&deps)

	method := deps.MethodName(req.Method)
	destination := deps.Describe(req.Identifier, req.Method)

	if !deps.Enabled {
		deps.EmitAudit(ctx, deps.Events.Request, false, "", method, "", deps.Errors.Disabled, nil)
		return ChallengeDispatch{}, deps.Errors.Disabled
	}
	if deps.SaveChallenge == nil || deps.GetUserByIdentifier == nil || deps.CheckRequestLimiter == nil || deps.GenerateCode == nil || deps.Send == nil {
		return ChallengeDispatch{}, deps.Errors.EngineNotReady
	}
	if err := deps.ValidateIdentifier(req.Identifier, req.Method); err != nil {
		deps.EmitAudit(ctx, deps.Events.Request, false, "", method, "", deps.Errors.InvalidIdentifier, func() map[string]string {
			return map[string]string{"reason": "identifier_format"}
		})
		return ChallengeDispatch{}, deps.Errors.InvalidIdentifier
	}

	ip := deps.ClientIPFromContext(ctx)
	if err := deps.CheckRequestLimiter(ctx, req.Subject, ip); err != nil {
		mapped := deps.MapLimiterError(err)
		deps.EmitAudit(ctx, deps.Events.Request, false, "", method, destination, mapped, nil)
		if errors.Is(mapped, deps.Errors.RateLimited) {
			deps.EmitRateLimit(ctx, deps.Purpose+"_request", method, func() map[string]string {
				return map[string]string{"destination": destination}
			})
		}
		return ChallengeDispatch{}, mapped
	}

	ack := ChallengeDispatch{Destination: destination, ExpiresIn: deps.CodeTTL}

	user, err := deps.GetUserByIdentifier(ctx, req.Identifier, req.Method)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return ChallengeDispatch{}, err
		}
		if !errors.Is(err, deps.Errors.UserNotFound) {
			deps.EmitAudit(ctx, deps.Events.Request, false, "", method, destination, deps.Errors.Unavailable, func() map[string]string {
				return map[string]string{"reason": "user_lookup_failed"}
			})
			return ChallengeDispatch{}, deps.Errors.Unavailable
		}
		if deps.EnumerationDelay {
			if sleepErr := deps.SleepEnumerationDelay(ctx); sleepErr != nil {
				return ChallengeDispatch{}, sleepErr
			}
		}
		deps.EmitAudit(ctx, deps.Events.Request, true, "", method, destination, nil, func() map[string]string {
			return map[string]string{"enumeration_safe": "true"}
		})
		deps.MetricInc(deps.Metrics.Request)
		return ack, nil
	}

	code, err := deps.GenerateCode(deps.OTPDigits)
	if err != nil {
		deps.EmitAudit(ctx, deps.Events.Request, false, user.UserID, method, destination, deps.Errors.Unavailable, func() map[string]string {
			return map[string]string{"reason": "code_generation_failed"}
		})
		return ChallengeDispatch{}, deps.Errors.Unavailable
	}

	record := ChallengeRecord{
		UserID:    user.UserID,
		Method:    req.Method,
		CodeHash:  deps.HashCode(code),
		ExpiresAt: deps.Now().Add(deps.CodeTTL).Unix(),
	}
	if err := deps.SaveChallenge(ctx, req.Subject, record, deps.CodeTTL); err != nil {
		mapped := deps.MapStoreError(err)
		deps.EmitAudit(ctx, deps.Events.Request, false, user.UserID, method, destination, mapped, nil)
		return ChallengeDispatch{}, mapped
	}

	started := deps.Now()
	sendErr := deps.Send(ctx, ChallengeDelivery{
		UserID:     user.UserID,
		Identifier: req.Identifier,
		Method:     req.Method,
		Purpose:    deps.Purpose,
		Code:       code,
		ExpiresIn:  deps.CodeTTL,
	})
	deps.ObserveLatency(deps.Metrics.DispatchLatency, deps.Now().Sub(started))
	if sendErr != nil {
		// An undelivered code must not stay redeemable.
		if deps.DeleteChallenge != nil {
			_ = deps.DeleteChallenge(ctx, req.Subject)
		}
		deps.MetricInc(deps.Metrics.DispatchFailure)
		deps.EmitAudit(ctx, deps.Events.Request, false, user.UserID, method, destination, deps.Errors.DispatchFailed, func() map[string]string {
			return map[string]string{"reason": "notifier_failed"}
		})
		return ChallengeDispatch{}, errors.Join(deps.Errors.DispatchFailed, sendErr)
	}

	deps.EmitAudit(ctx, deps.Events.Request, true, user.UserID, method, destination, nil, nil)
	deps.MetricInc(deps.Metrics.Request)
	return ack, nil
}

// RunVerifyCode checks a candidate code. On acceptance a single-use grant is
// stored for the subject and returned.
func RunVerifyCode(ctx context.Context, req ChallengeRequest, code string, deps ChallengeDeps) (ChallengeGrant, error) {
	normalizeChallengeDeps(&deps)

	method := deps.MethodName(req.Method)
	destination := deps.Describe(req.Identifier, req.Method)

	userID, err := checkCode(ctx, req, code, deps)
	if err != nil {
		return ChallengeGrant{}, err
	}
	if deps.SaveGrant == nil || deps.NewGrantID == nil {
		return ChallengeGrant{}, deps.Errors.EngineNotReady
	}

	grant := ChallengeGrant{
		UserID:    userID,
		GrantID:   deps.NewGrantID(),
		ExpiresAt: deps.Now().Add(deps.GrantTTL).Unix(),
	}
	if err := deps.SaveGrant(ctx, req.Subject, grant, deps.GrantTTL); err != nil {
		mapped := deps.MapStoreError(err)
		deps.MetricInc(deps.Metrics.VerifyFailure)
		deps.EmitAudit(ctx, deps.Events.Verify, false, userID, method, destination, mapped, func() map[string]string {
			return map[string]string{"reason": "grant_store_failed"}
		})
		return ChallengeGrant{}, mapped
	}

	deps.MetricInc(deps.Metrics.VerifySuccess)
	deps.EmitAudit(ctx, deps.Events.Verify, true, userID, method, destination, nil, nil)
	return grant, nil
}

// RunCommitPassword consumes the subject's grant and stores the new password
// hash. grantID may be empty when the caller is the in-process engine.
func RunCommitPassword(ctx context.Context, req ChallengeRequest, grantID, newPassword string, deps ChallengeDeps) error {
	normalizeChallengeDeps(&deps)

	method := deps.MethodName(req.Method)
	destination := deps.Describe(req.Identifier, req.Method)

	if !deps.Enabled {
		return deps.Errors.Disabled
	}
	if deps.ConsumeGrant == nil || deps.HashPassword == nil || deps.UpdatePasswordHash == nil || deps.GetUserByID == nil {
		return deps.Errors.EngineNotReady
	}

	fail := func(userID string, err error, reason string) error {
		deps.MetricInc(deps.Metrics.CommitFailure)
		deps.EmitAudit(ctx, deps.Events.Commit, false, userID, method, destination, err, func() map[string]string {
			return map[string]string{"reason": reason}
		})
		return err
	}

	if deps.PasswordStrength(newPassword) < deps.MinStrength {
		return fail("", deps.Errors.PasswordTooWeak, "password_strength")
	}

	grant, err := deps.ConsumeGrant(ctx, req.Subject, grantID)
	if err != nil {
		mapped := deps.MapStoreError(err)
		if errors.Is(mapped, deps.Errors.NotVerified) {
			return fail("", mapped, "grant_missing")
		}
		return fail("", mapped, "grant_store_failed")
	}

	if _, err := deps.GetUserByID(ctx, grant.UserID); err != nil {
		return fail(grant.UserID, deps.Errors.UserNotFound, "user_missing")
	}

	hash, err := deps.HashPassword(newPassword)
	if err != nil {
		return fail(grant.UserID, errors.Join(deps.Errors.CommitFailed, err), "hash_failed")
	}
	if err := deps.UpdatePasswordHash(ctx, grant.UserID, hash); err != nil {
		return fail(grant.UserID, errors.Join(deps.Errors.CommitFailed, err), "update_hash_failed")
	}

	deps.MetricInc(deps.Metrics.CommitSuccess)
	deps.EmitAudit(ctx, deps.Events.Commit, true, grant.UserID, method, destination, nil, nil)
	return nil
}

func checkCode(ctx context.Context, req ChallengeRequest, code string, deps ChallengeDeps) (string, error) {
	method := deps.MethodName(req.Method)
	destination := deps.Describe(req.Identifier, req.Method)

	if !deps.Enabled {
		deps.MetricInc(deps.Metrics.VerifyFailure)
		return "", deps.Errors.Disabled
	}
	if deps.VerifyCode == nil || deps.CheckVerifyLimiter == nil {
		return "", deps.Errors.EngineNotReady
	}
	if err := deps.ValidateIdentifier(req.Identifier, req.Method); err != nil {
		deps.MetricInc(deps.Metrics.VerifyFailure)
		return "", deps.Errors.InvalidIdentifier
	}
	if len(code) != deps.OTPDigits || !isDigits(code) {
		deps.MetricInc(deps.Metrics.VerifyFailure)
		deps.EmitAudit(ctx, deps.Events.Verify, false, "", method, destination, deps.Errors.OtpIncomplete, nil)
		return "", deps.Errors.OtpIncomplete
	}

	ip := deps.ClientIPFromContext(ctx)
	if err := deps.CheckVerifyLimiter(ctx, req.Subject, ip); err != nil {
		mapped := deps.MapLimiterError(err)
		deps.MetricInc(deps.Metrics.VerifyFailure)
		deps.EmitAudit(ctx, deps.Events.Verify, false, "", method, destination, mapped, nil)
		if errors.Is(mapped, deps.Errors.RateLimited) {
			deps.EmitRateLimit(ctx, deps.Purpose+"_verify", method, func() map[string]string {
				return map[string]string{"destination": destination}
			})
		}
		return "", mapped
	}

	userID, err := deps.VerifyCode(ctx, req, code)
	if err != nil {
		mapped := deps.MapStoreError(err)
		deps.MetricInc(deps.Metrics.VerifyFailure)
		if errors.Is(mapped, deps.Errors.Attempts) {
			deps.MetricInc(deps.Metrics.AttemptsExceeded)
		}
		deps.EmitAudit(ctx, deps.Events.Verify, false, "", method, destination, mapped, nil)
		return "", mapped
	}

	if deps.ResetVerifyLimiter != nil {
		_ = deps.ResetVerifyLimiter(ctx, req.Subject)
	}
	return userID, nil
}

func isDigits(v string) bool {
	for i := 0; i < len(v); i++ {
		if v[i] < '0' || v[i] > '9' {
			return false
		}
	}
	return v != ""
}

func normalizeChallengeDeps(deps *ChallengeDeps) {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.ClientIPFromContext == nil {
		deps.ClientIPFromContext = func(context.Context) string { return "" }
	}
	if deps.ValidateIdentifier == nil {
		deps.ValidateIdentifier = func(v string, _ uint8) error {
			if v == "" {
				return deps.Errors.InvalidIdentifier
			}
			return nil
		}
	}
	if deps.Describe == nil {
		deps.Describe = func(string, uint8) string { return "" }
	}
	if deps.MethodName == nil {
		deps.MethodName = func(uint8) string { return "" }
	}
	if deps.PasswordStrength == nil {
		deps.PasswordStrength = func(string) int { return 0 }
	}
	if deps.HashCode == nil {
		deps.HashCode = func(string) [32]byte { return [32]byte{} }
	}
	if deps.SleepEnumerationDelay == nil {
		deps.SleepEnumerationDelay = func(context.Context) error { return nil }
	}
	if deps.MetricInc == nil {
		deps.MetricInc = func(int) {}
	}
	if deps.ObserveLatency == nil {
		deps.ObserveLatency = func(int, time.Duration) {}
	}
	if deps.EmitAudit == nil {
		deps.EmitAudit = func(context.Context, string, bool, string, string, string, error, func() map[string]string) {}
	}
	if deps.EmitRateLimit == nil {
		deps.EmitRateLimit = func(context.Context, string, string, func() map[string]string) {}
	}
	if deps.MapLimiterError == nil {
		deps.MapLimiterError = func(error) error { return deps.Errors.Unavailable }
	}
	if deps.MapStoreError == nil {
		deps.MapStoreError = func(error) error { return deps.Errors.Unavailable }
	}
}

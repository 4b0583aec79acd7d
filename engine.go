package goRecover

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/MrEthical07/goRecover/internal"
	"github.com/MrEthical07/goRecover/internal/audit"
	"github.com/MrEthical07/goRecover/internal/flows"
	"github.com/MrEthical07/goRecover/internal/limiters"
	"github.com/MrEthical07/goRecover/internal/stores"
	"github.com/MrEthical07/goRecover/password"
	"go.uber.org/zap"
)

// Engine is the server side of recovery: it issues, checks and redeems codes
// and commits new password hashes. It implements Gateway and Verifier and is
// safe for concurrent use. Build one with New().WithRedis(...).Build().
type Engine struct {
	config              Config
	logger              *zap.Logger
	challenges          *stores.ChallengeStore
	recoveryLimiter     *limiters.ChallengeLimiter
	verificationLimiter *limiters.ChallengeLimiter
	notifier            Notifier
	codeVerifier        CodeVerifier
	audit               *audit.Dispatcher
	metrics             *Metrics
	passwordHash        *password.Hasher
	userProvider        UserProvider
	flows               flows.Deps
}

var (
	_ Gateway  = (*Engine)(nil)
	_ Verifier = (*Engine)(nil)
)

// Close drains and stops the audit dispatcher.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// Config returns a copy of the engine configuration.
func (e *Engine) Config() Config {
	if e == nil {
		return Config{}
	}
	return cloneConfig(e.config)
}

func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

// Metrics exposes the live counters for exporters.
func (e *Engine) Metrics() *Metrics {
	if e == nil {
		return nil
	}
	return e.metrics
}

// NewSession starts a recovery Session bound to this engine.
func (e *Engine) NewSession(opts ...SessionOption) *Session {
	base := []SessionOption{WithSessionConfig(e.config.Flow), WithSessionLogger(e.logger.Named("session"))}
	return NewSession(e, append(base, opts...)...)
}

// NewVerificationSession starts an email verification session bound to this
// engine.
func (e *Engine) NewVerificationSession(email string, opts ...SessionOption) *VerificationSession {
	flow := e.config.Flow
	flow.CodeDigits = e.config.EmailVerification.OTPDigits
	base := []SessionOption{
		WithSessionConfig(flow),
		WithCooldownSeconds(e.config.EmailVerification.ResendCooldownSeconds),
		WithSessionLogger(e.logger.Named("verification")),
	}
	return NewVerificationSession(e, email, append(base, opts...)...)
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) observe(id MetricID, d time.Duration) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Observe(id, d)
}

func (e *Engine) ready() bool {
	return e != nil && e.challenges != nil && e.userProvider != nil && e.notifier != nil
}

// challengeRequest validates and normalizes id and derives its store subject.
func challengeRequest(id Identifier) (flows.ChallengeRequest, error) {
	if id.Method != MethodEmail && id.Method != MethodPhone {
		return flows.ChallengeRequest{}, ErrInvalidIdentifierFormat
	}
	if err := ValidateIdentifier(id.Method, id.Value); err != nil {
		return flows.ChallengeRequest{}, err
	}
	n := NormalizeIdentifier(id)
	return flows.ChallengeRequest{
		Identifier: n.Value,
		Method:     uint8(n.Method),
		Subject:    internal.SubjectKey(n.Method.String(), n.Value),
	}, nil
}

func sleepEnumerationDelay(ctx context.Context) error {
	d := 20*time.Millisecond + time.Duration(rand.Int64N(int64(20*time.Millisecond)+1))
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// storeCodeVerifier checks codes against the hashed challenge in Redis.
type storeCodeVerifier struct {
	store       *stores.ChallengeStore
	maxAttempts map[string]int
}

func (v *storeCodeVerifier) VerifyCode(ctx context.Context, purpose string, id Identifier, code string) (string, error) {
	req, err := challengeRequest(id)
	if err != nil {
		return "", ErrOtpRejected
	}
	rec, err := v.store.Consume(ctx, purpose, req.Subject, internal.HashCode(code), v.maxAttempts[purpose])
	switch {
	case err == nil:
		return rec.UserID, nil
	case errors.Is(err, stores.ErrChallengeNotFound), errors.Is(err, stores.ErrChallengeMismatch):
		return "", ErrOtpRejected
	case errors.Is(err, stores.ErrChallengeAttemptsExceeded):
		return "", ErrRecoveryAttempts
	default:
		return "", fmt.Errorf("%w: %v", ErrRecoveryUnavailable, err)
	}
}

// mockCodeVerifier accepts one fixed code for every identifier. Any other
// code goes to next, so a code that was really delivered still works.
// Unknown identifiers get an empty user id, so a later commit fails with
// ErrUserNotFound.
type mockCodeVerifier struct {
	accept string
	users  UserProvider
	next   CodeVerifier
}

func (v *mockCodeVerifier) VerifyCode(ctx context.Context, purpose string, id Identifier, code string) (string, error) {
	if code != v.accept {
		if v.next == nil {
			return "", ErrOtpRejected
		}
		return v.next.VerifyCode(ctx, purpose, id, code)
	}
	user, err := v.users.GetUserByIdentifier(ctx, NormalizeIdentifier(id))
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return "", nil
		}
		return "", fmt.Errorf("%w: %v", ErrRecoveryUnavailable, err)
	}
	return user.UserID, nil
}

func limiterErrorMapper(limited, unavailable error) func(error) error {
	return func(err error) error {
		switch {
		case errors.Is(err, limiters.ErrChallengeRateLimited):
			return limited
		case errors.Is(err, limiters.ErrChallengeRedisUnavailable):
			return fmt.Errorf("%w: %v", unavailable, err)
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return err
		default:
			return fmt.Errorf("%w: %v", unavailable, err)
		}
	}
}

func recoveryStoreError(err error) error {
	switch {
	case errors.Is(err, ErrOtpRejected),
		errors.Is(err, ErrRecoveryAttempts),
		errors.Is(err, ErrRecoveryUnavailable),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.Is(err, stores.ErrGrantNotFound):
		return ErrRecoveryNotVerified
	case errors.Is(err, stores.ErrChallengeNotFound), errors.Is(err, stores.ErrChallengeMismatch):
		return ErrOtpRejected
	case errors.Is(err, stores.ErrChallengeAttemptsExceeded):
		return ErrRecoveryAttempts
	default:
		return fmt.Errorf("%w: %v", ErrRecoveryUnavailable, err)
	}
}

func verificationStoreError(err error) error {
	switch {
	case errors.Is(err, ErrOtpRejected),
		errors.Is(err, stores.ErrChallengeNotFound),
		errors.Is(err, stores.ErrChallengeMismatch):
		return ErrVerificationInvalid
	case errors.Is(err, ErrRecoveryAttempts), errors.Is(err, stores.ErrChallengeAttemptsExceeded):
		return ErrVerificationAttempts
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		return fmt.Errorf("%w: %v", ErrVerificationUnavailable, err)
	}
}

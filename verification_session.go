package goRecover

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// VerificationStep is the position of a VerificationSession.
type VerificationStep uint8

const (
	AwaitingCode VerificationStep = iota
	Verified
)

func (s VerificationStep) String() string {
	if s == Verified {
		return "verified"
	}
	return "awaiting_code"
}

// VerificationSnapshot is an immutable copy of a VerificationSession.
type VerificationSnapshot struct {
	ID           string
	Step         VerificationStep
	Email        string
	Code         string
	Cooldown     int
	Err          error
	ErrorMessage string
	Info         string
	Busy         bool
	CanResend    bool
}

// VerificationSession confirms ownership of one email address with a short
// resend cooldown (30s unless overridden).
type VerificationSession struct {
	mu     sync.Mutex
	id     string
	v      Verifier
	opts   sessionOptions
	logger *zap.Logger

	email      string
	step       VerificationStep
	started    bool
	code       string
	errSlot    error
	info       string
	busy       bool
	generation uint64
	cancel     context.CancelFunc
	closed     bool
	cooldown   *cooldown
}

const defaultVerificationCooldown = 30

func NewVerificationSession(v Verifier, email string, opts ...SessionOption) *VerificationSession {
	o := buildSessionOptions(defaultVerificationCooldown, opts)
	s := &VerificationSession{
		id:    uuid.NewString(),
		v:     v,
		opts:  o,
		email: email,
	}
	s.logger = o.logger.With(zap.String("verification_id", s.id))
	s.cooldown = newCooldown(&s.mu, o.flow.TickInterval, o.tickers)
	return s
}

func (s *VerificationSession) Snapshot() VerificationSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return VerificationSnapshot{
		ID:           s.id,
		Step:         s.step,
		Email:        s.email,
		Code:         s.code,
		Cooldown:     s.cooldown.remaining,
		Err:          s.errSlot,
		ErrorMessage: UserMessageForDigits(s.errSlot, MethodEmail, s.opts.flow.CodeDigits),
		Info:         s.info,
		Busy:         s.busy,
		CanResend:    s.started && s.step == AwaitingCode && !s.closed && !s.busy && s.cooldown.remaining == 0,
	}
}

// Start sends the first code. It may only succeed once.
func (s *VerificationSession) Start(ctx context.Context) error {
	s.mu.Lock()
	if err := s.guardLocked(); err != nil {
		s.mu.Unlock()
		return err
	}
	if s.started {
		s.mu.Unlock()
		return ErrInvalidTransition
	}
	if s.busy {
		s.mu.Unlock()
		return ErrSessionBusy
	}
	if err := ValidateIdentifier(MethodEmail, s.email); err != nil {
		s.setErrorLocked(ErrInvalidIdentifierFormat)
		s.mu.Unlock()
		return ErrInvalidIdentifierFormat
	}
	return s.sendUnlocking(ctx, false)
}

// SubmitCode checks code. On success the session is Verified.
func (s *VerificationSession) SubmitCode(ctx context.Context, code string) error {
	s.mu.Lock()
	if err := s.guardLocked(); err != nil {
		s.mu.Unlock()
		return err
	}
	if s.busy {
		s.mu.Unlock()
		return ErrSessionBusy
	}
	s.code = digitsOnly(code)
	if len(s.code) != s.opts.flow.CodeDigits {
		s.setErrorLocked(ErrOtpIncomplete)
		s.mu.Unlock()
		return ErrOtpIncomplete
	}
	s.errSlot = nil

	candidate := s.code
	gen, callCtx, cancel := s.beginLocked(ctx)
	s.mu.Unlock()
	defer cancel()

	ok, err := s.v.ConfirmEmailVerification(callCtx, s.email, candidate)

	s.mu.Lock()
	defer s.mu.Unlock()
	if stale := s.finishLocked(gen); stale != nil {
		return stale
	}
	switch {
	case err != nil:
		s.setErrorLocked(ErrDispatchFailed)
		return fmt.Errorf("%w: %v", ErrDispatchFailed, err)
	case !ok:
		s.setErrorLocked(ErrOtpRejected)
		return ErrOtpRejected
	}

	s.step = Verified
	s.cooldown.halt()
	s.errSlot = nil
	s.info = ""
	s.logger.Info("email verified")
	return nil
}

// Resend clears the typed code and error and sends a new code once the
// cooldown is over.
func (s *VerificationSession) Resend(ctx context.Context) error {
	s.mu.Lock()
	if err := s.guardLocked(); err != nil {
		s.mu.Unlock()
		return err
	}
	if !s.started {
		s.mu.Unlock()
		return ErrInvalidTransition
	}
	if s.busy || s.cooldown.remaining > 0 {
		s.mu.Unlock()
		return ErrResendCooldown
	}
	s.code = ""
	s.errSlot = nil
	return s.sendUnlocking(ctx, true)
}

// Close stops the ticker and discards late results. It is idempotent.
func (s *VerificationSession) Close() {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		if s.cancel != nil {
			s.cancel()
			s.cancel = nil
		}
		s.busy = false
		s.cooldown.halt()
	}
	s.mu.Unlock()
	s.cooldown.wait()
}

// sendUnlocking is entered with the mutex held and returns with it released.
func (s *VerificationSession) sendUnlocking(ctx context.Context, resend bool) error {
	gen, callCtx, cancel := s.beginLocked(ctx)
	s.mu.Unlock()
	defer cancel()

	_, err := s.v.RequestEmailVerification(callCtx, s.email)

	s.mu.Lock()
	defer s.mu.Unlock()
	if stale := s.finishLocked(gen); stale != nil {
		return stale
	}
	if err != nil {
		s.setErrorLocked(ErrDispatchFailed)
		return fmt.Errorf("%w: %v", ErrDispatchFailed, err)
	}

	s.started = true
	s.cooldown.restart(s.opts.cooldownSeconds)
	if resend {
		s.info = resentMessage(Identifier{Value: s.email, Method: MethodEmail})
	} else {
		s.info = verificationSentMessage(s.email, s.opts.flow.CodeDigits)
	}
	s.errSlot = nil
	return nil
}

func (s *VerificationSession) guardLocked() error {
	if s.closed {
		return ErrSessionClosed
	}
	if s.step == Verified {
		return ErrInvalidTransition
	}
	return nil
}

func (s *VerificationSession) beginLocked(ctx context.Context) (uint64, context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	callCtx, cancel := context.WithCancel(ctx)
	s.generation++
	s.busy = true
	s.cancel = cancel
	return s.generation, callCtx, cancel
}

func (s *VerificationSession) finishLocked(gen uint64) error {
	if s.closed {
		return ErrSessionClosed
	}
	if gen != s.generation {
		return ErrInvalidTransition
	}
	s.busy = false
	s.cancel = nil
	return nil
}

func (s *VerificationSession) setErrorLocked(err error) {
	s.errSlot = err
	s.info = ""
}

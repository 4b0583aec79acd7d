package goRecover

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type sessionOptions struct {
	flow            FlowConfig
	cooldownSeconds int
	logger          *zap.Logger
	tickers         TickerFactory
}

// SessionOption configures NewSession and NewVerificationSession.
type SessionOption func(*sessionOptions)

// WithSessionConfig replaces the flow settings. Invalid settings are ignored.
func WithSessionConfig(cfg FlowConfig) SessionOption {
	return func(o *sessionOptions) {
		if cfg.Validate() == nil {
			o.flow = cfg
		}
	}
}

// WithCooldownSeconds overrides the resend cooldown only.
func WithCooldownSeconds(seconds int) SessionOption {
	return func(o *sessionOptions) {
		if seconds >= 0 {
			o.cooldownSeconds = seconds
		}
	}
}

// WithSessionLogger sets the logger for session events. Nil keeps the no-op
// logger.
func WithSessionLogger(logger *zap.Logger) SessionOption {
	return func(o *sessionOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithTickerFactory substitutes the cooldown ticker source.
func WithTickerFactory(f TickerFactory) SessionOption {
	return func(o *sessionOptions) {
		if f != nil {
			o.tickers = f
		}
	}
}

func buildSessionOptions(defaultCooldown int, opts []SessionOption) sessionOptions {
	o := sessionOptions{
		flow:            DefaultFlowConfig(),
		cooldownSeconds: -1,
		logger:          zap.NewNop(),
		tickers:         newStdTicker,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	if o.cooldownSeconds < 0 {
		o.cooldownSeconds = defaultCooldown
		if defaultCooldown < 0 {
			o.cooldownSeconds = o.flow.CooldownSeconds
		}
	}
	return o
}

// Snapshot is an immutable copy of a Session for rendering.
type Snapshot struct {
	ID                string
	Step              Step
	Method            Method
	Identifier        string
	OTP               string
	Cooldown          int
	Err               error
	ErrorMessage      string
	Info              string
	Busy              bool
	CanResend         bool
	CanSubmitPassword bool
	Password          PasswordCheck
}

// Session drives one forgot-password attempt through EnterIdentifier,
// EnterOtp, SetNewPassword and Complete. All methods are safe for concurrent
// use; gateway calls run without the lock held, and their results are
// dropped if the session moved on or closed in the meantime.
type Session struct {
	mu     sync.Mutex
	id     string
	gw     Gateway
	opts   sessionOptions
	logger *zap.Logger

	step       Step
	method     Method
	identifier string
	otp        string
	check      PasswordCheck
	errSlot    error
	info       string

	busy       bool
	generation uint64
	cancel     context.CancelFunc
	closed     bool
	cooldown   *cooldown
}

// NewSession returns a session in EnterIdentifier{MethodEmail}.
func NewSession(gw Gateway, opts ...SessionOption) *Session {
	o := buildSessionOptions(-1, opts)
	s := &Session{
		id:   uuid.NewString(),
		gw:   gw,
		opts: o,
		step: EnterIdentifier{Method: MethodEmail},
	}
	s.logger = o.logger.With(zap.String("session_id", s.id))
	s.cooldown = newCooldown(&s.mu, o.flow.TickInterval, o.tickers)
	return s
}

// ID returns the random identifier that tags this session's log lines.
func (s *Session) ID() string { return s.id }

// Snapshot returns the current state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, inOtp := s.step.(EnterOtp)
	_, inPassword := s.step.(SetNewPassword)

	return Snapshot{
		ID:                s.id,
		Step:              s.step,
		Method:            s.method,
		Identifier:        s.identifier,
		OTP:               s.otp,
		Cooldown:          s.cooldown.remaining,
		Err:               s.errSlot,
		ErrorMessage:      UserMessageForDigits(s.errSlot, s.method, s.opts.flow.CodeDigits),
		Info:              s.info,
		Busy:              s.busy,
		CanResend:         inOtp && !s.closed && !s.busy && s.cooldown.remaining == 0,
		CanSubmitPassword: inPassword && !s.closed && !s.busy && s.check.CanSubmit,
		Password:          s.check,
	}
}

// EvaluatePassword scores the candidate pair and records it for Snapshot.
func (s *Session) EvaluatePassword(newPassword, confirm string) PasswordCheck {
	c := EvaluatePassword(newPassword, confirm)
	s.mu.Lock()
	s.check = c
	s.mu.Unlock()
	return c
}

// SubmitIdentifier validates identifier for the current method and requests
// a code. On acknowledgement the session moves to EnterOtp and the resend
// cooldown starts.
func (s *Session) SubmitIdentifier(ctx context.Context, identifier string) error {
	s.mu.Lock()
	cur, ok := s.step.(EnterIdentifier)
	if err := s.guardLocked(ok); err != nil {
		s.mu.Unlock()
		return err
	}
	if s.busy {
		s.mu.Unlock()
		return ErrSessionBusy
	}

	s.method = cur.Method
	s.identifier = identifier
	if err := ValidateIdentifier(cur.Method, identifier); err != nil {
		s.setErrorLocked(ErrInvalidIdentifierFormat)
		s.mu.Unlock()
		return ErrInvalidIdentifierFormat
	}
	s.clearMessagesLocked()

	id := Identifier{Value: identifier, Method: cur.Method}
	gen, callCtx, cancel := s.beginLocked(ctx)
	s.mu.Unlock()
	defer cancel()

	dispatch, err := s.gw.RequestOTP(callCtx, id)

	s.mu.Lock()
	defer s.mu.Unlock()
	if stale := s.finishLocked(gen); stale != nil {
		s.logger.Debug("discarding stale dispatch result", zap.String("method", id.Method.String()))
		return stale
	}
	if err != nil {
		s.logger.Warn("code dispatch failed", zap.String("method", id.Method.String()), zap.Error(err))
		return s.failLocked(ErrDispatchFailed, err)
	}

	s.step = EnterOtp{}
	s.otp = ""
	s.cooldown.restart(s.opts.cooldownSeconds)
	expires := dispatch.ExpiresIn
	if expires <= 0 {
		expires = s.opts.flow.ClaimedExpiry
	}
	s.setInfoLocked(dispatchedMessage(id, s.opts.flow.CodeDigits, expires))
	s.logger.Debug("code dispatched", zap.String("method", id.Method.String()), zap.String("destination", DescribeDestination(id)))
	return nil
}

// SwitchMethod changes the identifier method without dispatching. An
// in-flight dispatch is cancelled and its result ignored.
func (s *Session) SwitchMethod(m Method) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.step.(EnterIdentifier)
	if err := s.guardLocked(ok); err != nil {
		return err
	}
	s.abandonLocked()
	s.step = EnterIdentifier{Method: m}
	s.method = m
	s.errSlot = nil
	return nil
}

// SubmitOTP strips non-digits from code and checks it with the gateway.
func (s *Session) SubmitOTP(ctx context.Context, code string) error {
	s.mu.Lock()
	_, ok := s.step.(EnterOtp)
	if err := s.guardLocked(ok); err != nil {
		s.mu.Unlock()
		return err
	}
	if s.busy {
		s.mu.Unlock()
		return ErrSessionBusy
	}

	s.otp = digitsOnly(code)
	if len(s.otp) != s.opts.flow.CodeDigits {
		s.setErrorLocked(ErrOtpIncomplete)
		s.mu.Unlock()
		return ErrOtpIncomplete
	}
	s.errSlot = nil

	id := Identifier{Value: s.identifier, Method: s.method}
	candidate := s.otp
	gen, callCtx, cancel := s.beginLocked(ctx)
	s.mu.Unlock()
	defer cancel()

	accepted, err := s.gw.VerifyOTP(callCtx, id, candidate)

	s.mu.Lock()
	defer s.mu.Unlock()
	if stale := s.finishLocked(gen); stale != nil {
		return stale
	}
	switch {
	case err != nil:
		s.logger.Warn("code check failed", zap.Error(err))
		return s.failLocked(ErrDispatchFailed, err)
	case !accepted:
		s.setErrorLocked(ErrOtpRejected)
		return ErrOtpRejected
	}

	s.step = SetNewPassword{}
	s.clearMessagesLocked()
	s.logger.Debug("code accepted")
	return nil
}

// Resend requests a new code once the cooldown has reached zero.
func (s *Session) Resend(ctx context.Context) error {
	s.mu.Lock()
	_, ok := s.step.(EnterOtp)
	if err := s.guardLocked(ok); err != nil {
		s.mu.Unlock()
		return err
	}
	if s.busy || s.cooldown.remaining > 0 {
		s.mu.Unlock()
		return ErrResendCooldown
	}
	s.errSlot = nil

	id := Identifier{Value: s.identifier, Method: s.method}
	gen, callCtx, cancel := s.beginLocked(ctx)
	s.mu.Unlock()
	defer cancel()

	_, err := s.gw.RequestOTP(callCtx, id)

	s.mu.Lock()
	defer s.mu.Unlock()
	if stale := s.finishLocked(gen); stale != nil {
		return stale
	}
	if err != nil {
		s.logger.Warn("code resend failed", zap.Error(err))
		return s.failLocked(ErrDispatchFailed, err)
	}

	s.cooldown.restart(s.opts.cooldownSeconds)
	s.setInfoLocked(resentMessage(id))
	return nil
}

// ChangeIdentifier returns to EnterIdentifier for the same method. The
// cooldown keeps running.
func (s *Session) ChangeIdentifier() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.step.(EnterOtp)
	if err := s.guardLocked(ok); err != nil {
		return err
	}
	s.abandonLocked()
	s.step = EnterIdentifier{Method: s.method}
	s.otp = ""
	s.clearMessagesLocked()
	return nil
}

// SubmitPassword checks strength and confirmation locally, then commits.
func (s *Session) SubmitPassword(ctx context.Context, newPassword, confirm string) error {
	s.mu.Lock()
	_, ok := s.step.(SetNewPassword)
	if err := s.guardLocked(ok); err != nil {
		s.mu.Unlock()
		return err
	}
	if s.busy {
		s.mu.Unlock()
		return ErrSessionBusy
	}

	s.check = EvaluatePassword(newPassword, confirm)
	switch {
	case !s.check.StrongEnough:
		s.setErrorLocked(ErrPasswordTooWeak)
		s.mu.Unlock()
		return ErrPasswordTooWeak
	case !s.check.Matches:
		s.setErrorLocked(ErrPasswordMismatch)
		s.mu.Unlock()
		return ErrPasswordMismatch
	}
	s.errSlot = nil

	id := Identifier{Value: s.identifier, Method: s.method}
	gen, callCtx, cancel := s.beginLocked(ctx)
	s.mu.Unlock()
	defer cancel()

	err := s.gw.CommitNewPassword(callCtx, id, newPassword)

	s.mu.Lock()
	defer s.mu.Unlock()
	if stale := s.finishLocked(gen); stale != nil {
		return stale
	}
	if err != nil {
		s.logger.Warn("password commit failed", zap.Error(err))
		if errors.Is(err, ErrPasswordTooWeak) {
			return s.failLocked(ErrPasswordTooWeak, err)
		}
		return s.failLocked(ErrCommitFailed, err)
	}

	s.step = Complete{}
	s.cooldown.halt()
	s.clearMessagesLocked()
	s.logger.Info("password recovery complete", zap.String("method", s.method.String()))
	return nil
}

// Back returns from SetNewPassword to EnterOtp. The code candidate and the
// cooldown are kept.
func (s *Session) Back() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.step.(SetNewPassword)
	if err := s.guardLocked(ok); err != nil {
		return err
	}
	s.abandonLocked()
	s.step = EnterOtp{}
	s.clearMessagesLocked()
	return nil
}

// Close stops the cooldown ticker, cancels any in-flight call and makes every
// later operation return ErrSessionClosed. It is idempotent and returns once
// the ticker goroutine has exited.
func (s *Session) Close() {
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

func (s *Session) guardLocked(stepAllows bool) error {
	if s.closed {
		return ErrSessionClosed
	}
	if _, done := s.step.(Complete); done || !stepAllows {
		return ErrInvalidTransition
	}
	return nil
}

// beginLocked marks the session busy and derives the context for one gateway
// call. The returned generation identifies the call's result.
func (s *Session) beginLocked(ctx context.Context) (uint64, context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	callCtx, cancel := context.WithCancel(ctx)
	s.generation++
	s.busy = true
	s.cancel = cancel
	return s.generation, callCtx, cancel
}

// finishLocked reports nil when the result of call gen may be applied.
func (s *Session) finishLocked(gen uint64) error {
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

// abandonLocked cancels and invalidates the in-flight call, if any.
func (s *Session) abandonLocked() {
	if !s.busy {
		return
	}
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.generation++
	s.busy = false
}

func (s *Session) failLocked(slot, cause error) error {
	s.setErrorLocked(slot)
	return fmt.Errorf("%w: %v", slot, cause)
}

func (s *Session) setErrorLocked(err error) {
	if err == nil || isGuardError(err) {
		return
	}
	s.errSlot = err
	s.info = ""
}

func (s *Session) setInfoLocked(msg string) {
	s.info = msg
	s.errSlot = nil
}

func (s *Session) clearMessagesLocked() {
	s.errSlot = nil
	s.info = ""
}

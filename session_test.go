package goRecover

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

/*
====================================
TEST DOUBLES
====================================
*/

type fakeTicker struct {
	c       chan time.Time
	mu      sync.Mutex
	stopped bool
}

func (f *fakeTicker) C() <-chan time.Time { return f.c }

func (f *fakeTicker) Stop() {
	f.mu.Lock()
	f.stopped = true
	f.mu.Unlock()
}

func (f *fakeTicker) isStopped() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopped
}

// fakeClock hands out manually driven tickers.
type fakeClock struct {
	mu      sync.Mutex
	tickers []*fakeTicker
}

func (c *fakeClock) factory(time.Duration) Ticker {
	t := &fakeTicker{c: make(chan time.Time)}
	c.mu.Lock()
	c.tickers = append(c.tickers, t)
	c.mu.Unlock()
	return t
}

func (c *fakeClock) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.tickers)
}

func (c *fakeClock) latest(t *testing.T) *fakeTicker {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.tickers) == 0 {
		t.Fatalf("no ticker started")
	}
	return c.tickers[len(c.tickers)-1]
}

// tick delivers n ticks to the latest ticker. It fails when the ticker
// goroutine stops receiving.
func (c *fakeClock) tick(t *testing.T, n int) {
	t.Helper()
	ft := c.latest(t)
	for i := 0; i < n; i++ {
		select {
		case ft.c <- time.Now():
		case <-time.After(2 * time.Second):
			t.Fatalf("ticker not receiving at tick %d", i+1)
		}
	}
}

// scriptedGateway records calls. While hold, holdVerify or holdCommit is set
// the matching call blocks until a value arrives on release, ignoring
// cancellation.
type scriptedGateway struct {
	mu       sync.Mutex
	accept   string
	requests []Identifier
	verifies []string
	commits  []string

	requestErr error
	verifyErr  error
	commitErr  error

	hold       bool
	holdVerify bool
	holdCommit bool
	entered    chan Identifier
	release chan struct{}
}

func newScriptedGateway() *scriptedGateway {
	return &scriptedGateway{
		accept:  DefaultMockCode,
		entered: make(chan Identifier, 4),
		release: make(chan struct{}, 4),
	}
}

// park blocks the caller when *flag is set.
func (g *scriptedGateway) park(flag *bool, id Identifier) {
	g.mu.Lock()
	hold := *flag
	g.mu.Unlock()
	if hold {
		g.entered <- id
		<-g.release
	}
}

func (g *scriptedGateway) setHold(flag *bool, on bool) {
	g.mu.Lock()
	*flag = on
	g.mu.Unlock()
}

func (g *scriptedGateway) RequestOTP(_ context.Context, id Identifier) (Dispatch, error) {
	g.park(&g.hold, id)

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.requestErr != nil {
		return Dispatch{}, g.requestErr
	}
	g.requests = append(g.requests, id)
	return Dispatch{Destination: DescribeDestination(id), ExpiresIn: 10 * time.Minute}, nil
}

func (g *scriptedGateway) VerifyOTP(_ context.Context, id Identifier, code string) (bool, error) {
	g.park(&g.holdVerify, id)
	g.mu.Lock()
	defer g.mu.Unlock()
	g.verifies = append(g.verifies, code)
	if g.verifyErr != nil {
		return false, g.verifyErr
	}
	return code == g.accept, nil
}

func (g *scriptedGateway) CommitNewPassword(_ context.Context, id Identifier, pw string) error {
	g.park(&g.holdCommit, id)
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.commitErr != nil {
		return g.commitErr
	}
	g.commits = append(g.commits, pw)
	return nil
}

func (g *scriptedGateway) requestCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.requests)
}

func newTestSession(t *testing.T, gw Gateway) (*Session, *fakeClock) {
	t.Helper()
	clock := &fakeClock{}
	s := NewSession(gw, WithTickerFactory(clock.factory))
	t.Cleanup(s.Close)
	return s, clock
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func toOtp(t *testing.T, s *Session, identifier string) {
	t.Helper()
	if err := s.SubmitIdentifier(context.Background(), identifier); err != nil {
		t.Fatalf("submit identifier: %v", err)
	}
}

func toPassword(t *testing.T, s *Session) {
	t.Helper()
	toOtp(t, s, "user@example.com")
	if err := s.SubmitOTP(context.Background(), DefaultMockCode); err != nil {
		t.Fatalf("submit otp: %v", err)
	}
}

/*
====================================
FLOW
====================================
*/

func TestSubmitEmailMovesToEnterOtp(t *testing.T) {
	gw := newScriptedGateway()
	s, _ := newTestSession(t, gw)

	toOtp(t, s, "user@example.com")

	snap := s.Snapshot()
	if _, ok := snap.Step.(EnterOtp); !ok {
		t.Fatalf("expected EnterOtp, got %s", snap.Step.Name())
	}
	if snap.Cooldown != 60 {
		t.Fatalf("expected cooldown 60, got %d", snap.Cooldown)
	}
	if !strings.Contains(snap.Info, "user@example.com") {
		t.Fatalf("info missing email: %q", snap.Info)
	}
	if snap.Info != "We've sent a 6-digit code to user@example.com. It expires in 10 minutes." {
		t.Fatalf("unexpected info: %q", snap.Info)
	}
	if snap.Err != nil || snap.CanResend {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
}

func TestInvalidEmailStaysOnIdentifier(t *testing.T) {
	gw := newScriptedGateway()
	s, _ := newTestSession(t, gw)

	err := s.SubmitIdentifier(context.Background(), "not-an-email")
	if !errors.Is(err, ErrInvalidIdentifierFormat) {
		t.Fatalf("expected ErrInvalidIdentifierFormat, got %v", err)
	}
	snap := s.Snapshot()
	if st, ok := snap.Step.(EnterIdentifier); !ok || st.Method != MethodEmail {
		t.Fatalf("expected EnterIdentifier(email), got %v", snap.Step)
	}
	if !errors.Is(snap.Err, ErrInvalidIdentifierFormat) {
		t.Fatalf("expected error slot set, got %v", snap.Err)
	}
	if snap.ErrorMessage != "Please enter a valid email address." {
		t.Fatalf("unexpected message %q", snap.ErrorMessage)
	}
	if gw.requestCount() != 0 {
		t.Fatalf("expected no dispatch")
	}
}

func TestMockCodeMovesToSetNewPassword(t *testing.T) {
	s, _ := newTestSession(t, NewMockGateway())
	toOtp(t, s, "user@example.com")

	if err := s.SubmitOTP(context.Background(), "123456"); err != nil {
		t.Fatalf("submit otp: %v", err)
	}
	snap := s.Snapshot()
	if _, ok := snap.Step.(SetNewPassword); !ok {
		t.Fatalf("expected SetNewPassword, got %s", snap.Step.Name())
	}
	if snap.Info != "" {
		t.Fatalf("info should be cleared, got %q", snap.Info)
	}
}

func TestMockRejectsOtherCodes(t *testing.T) {
	s, _ := newTestSession(t, NewMockGateway())
	toOtp(t, s, "user@example.com")

	err := s.SubmitOTP(context.Background(), "654321")
	if !errors.Is(err, ErrOtpRejected) {
		t.Fatalf("expected ErrOtpRejected, got %v", err)
	}
	snap := s.Snapshot()
	if _, ok := snap.Step.(EnterOtp); !ok {
		t.Fatalf("expected EnterOtp, got %s", snap.Step.Name())
	}
	if snap.OTP != "654321" {
		t.Fatalf("candidate should be kept, got %q", snap.OTP)
	}
}

func TestWeakPasswordBlocked(t *testing.T) {
	gw := newScriptedGateway()
	s, _ := newTestSession(t, gw)
	toPassword(t, s)

	check := s.EvaluatePassword("abc", "abc")
	if check.Score != 0 || check.CanSubmit {
		t.Fatalf("unexpected check %+v", check)
	}
	if s.Snapshot().CanSubmitPassword {
		t.Fatalf("submission must be disabled")
	}

	err := s.SubmitPassword(context.Background(), "abc", "abc")
	if !errors.Is(err, ErrPasswordTooWeak) {
		t.Fatalf("expected ErrPasswordTooWeak, got %v", err)
	}
	if len(gw.commits) != 0 {
		t.Fatalf("weak password must not be committed")
	}
	if _, ok := s.Snapshot().Step.(SetNewPassword); !ok {
		t.Fatalf("expected to stay in SetNewPassword")
	}
}

func TestPasswordMismatchBlocked(t *testing.T) {
	gw := newScriptedGateway()
	s, _ := newTestSession(t, gw)
	toPassword(t, s)

	err := s.SubmitPassword(context.Background(), "Abcd1234!", "Abcd1235!")
	if !errors.Is(err, ErrPasswordMismatch) {
		t.Fatalf("expected ErrPasswordMismatch, got %v", err)
	}
	snap := s.Snapshot()
	if snap.Password.Score != 4 {
		t.Fatalf("expected score 4, got %d", snap.Password.Score)
	}
	if _, ok := snap.Step.(SetNewPassword); !ok {
		t.Fatalf("expected no transition, got %s", snap.Step.Name())
	}
	if len(gw.commits) != 0 {
		t.Fatalf("mismatch must not be committed")
	}
}

func TestStrongMatchingPasswordCompletes(t *testing.T) {
	gw := newScriptedGateway()
	s, clock := newTestSession(t, gw)
	toPassword(t, s)

	if err := s.SubmitPassword(context.Background(), "Abcd1234!", "Abcd1234!"); err != nil {
		t.Fatalf("submit password: %v", err)
	}
	snap := s.Snapshot()
	if _, ok := snap.Step.(Complete); !ok {
		t.Fatalf("expected Complete, got %s", snap.Step.Name())
	}
	if snap.Err != nil || snap.Info != "" {
		t.Fatalf("messages should be cleared: %+v", snap)
	}
	waitFor(t, "ticker stop", clock.latest(t).isStopped)

	// Terminal: every operation is refused.
	ctx := context.Background()
	for name, err := range map[string]error{
		"identifier": s.SubmitIdentifier(ctx, "user@example.com"),
		"switch":     s.SwitchMethod(MethodPhone),
		"otp":        s.SubmitOTP(ctx, "123456"),
		"resend":     s.Resend(ctx),
		"change":     s.ChangeIdentifier(),
		"password":   s.SubmitPassword(ctx, "Abcd1234!", "Abcd1234!"),
		"back":       s.Back(),
	} {
		if !errors.Is(err, ErrInvalidTransition) {
			t.Fatalf("%s: expected ErrInvalidTransition, got %v", name, err)
		}
	}
}

/*
====================================
TRANSITIONS
====================================
*/

func TestPhoneDispatchMasksDestination(t *testing.T) {
	gw := newScriptedGateway()
	s, _ := newTestSession(t, gw)

	if err := s.SwitchMethod(MethodPhone); err != nil {
		t.Fatalf("switch: %v", err)
	}
	toOtp(t, s, "+15551234567")

	snap := s.Snapshot()
	want := "We've sent a 6-digit code to your phone ending in 4567. It expires in 10 minutes."
	if snap.Info != want {
		t.Fatalf("got %q want %q", snap.Info, want)
	}
	if snap.Method != MethodPhone {
		t.Fatalf("expected phone method")
	}
}

func TestInvalidPhoneMessage(t *testing.T) {
	s, _ := newTestSession(t, newScriptedGateway())
	_ = s.SwitchMethod(MethodPhone)

	if err := s.SubmitIdentifier(context.Background(), "0123"); !errors.Is(err, ErrInvalidIdentifierFormat) {
		t.Fatalf("expected format error, got %v", err)
	}
	want := "Please enter a valid phone number with country code (e.g. +15550000000)."
	if got := s.Snapshot().ErrorMessage; got != want {
		t.Fatalf("got %q", got)
	}
}

func TestSwitchMethodClearsError(t *testing.T) {
	s, _ := newTestSession(t, newScriptedGateway())
	_ = s.SubmitIdentifier(context.Background(), "bad")

	if err := s.SwitchMethod(MethodPhone); err != nil {
		t.Fatalf("switch: %v", err)
	}
	snap := s.Snapshot()
	if snap.Err != nil {
		t.Fatalf("error should be cleared, got %v", snap.Err)
	}
	if st := snap.Step.(EnterIdentifier); st.Method != MethodPhone {
		t.Fatalf("expected phone, got %v", st.Method)
	}
}

func TestDispatchFailureStays(t *testing.T) {
	gw := newScriptedGateway()
	gw.requestErr = errors.New("smtp down")
	s, _ := newTestSession(t, gw)

	err := s.SubmitIdentifier(context.Background(), "user@example.com")
	if !errors.Is(err, ErrDispatchFailed) {
		t.Fatalf("expected ErrDispatchFailed, got %v", err)
	}
	snap := s.Snapshot()
	if _, ok := snap.Step.(EnterIdentifier); !ok {
		t.Fatalf("expected to stay in EnterIdentifier")
	}
	if snap.ErrorMessage != "We couldn't send or check your code right now. Please try again." {
		t.Fatalf("unexpected message %q", snap.ErrorMessage)
	}
	if snap.Busy {
		t.Fatalf("busy must be cleared")
	}
}

func TestIncompleteOtpStripsNonDigits(t *testing.T) {
	gw := newScriptedGateway()
	s, _ := newTestSession(t, gw)
	toOtp(t, s, "user@example.com")

	if err := s.SubmitOTP(context.Background(), "12-34a"); !errors.Is(err, ErrOtpIncomplete) {
		t.Fatalf("expected ErrOtpIncomplete, got %v", err)
	}
	snap := s.Snapshot()
	if snap.OTP != "1234" {
		t.Fatalf("expected stripped candidate, got %q", snap.OTP)
	}
	if snap.ErrorMessage != "Please enter a valid 6-digit code." {
		t.Fatalf("unexpected message %q", snap.ErrorMessage)
	}
	if snap.Info != "" {
		t.Fatalf("setting an error must clear info")
	}
	if len(gw.verifies) != 0 {
		t.Fatalf("incomplete code must not reach the gateway")
	}

	if err := s.SubmitOTP(context.Background(), "12 34 56"); err != nil {
		t.Fatalf("spaced code should be accepted: %v", err)
	}
}

func TestIncompleteOtpMessageUsesConfiguredLength(t *testing.T) {
	flow := DefaultFlowConfig()
	flow.CodeDigits = 8
	clock := &fakeClock{}
	s := NewSession(newScriptedGateway(), WithSessionConfig(flow), WithTickerFactory(clock.factory))
	defer s.Close()
	toOtp(t, s, "user@example.com")

	if err := s.SubmitOTP(context.Background(), "123456"); !errors.Is(err, ErrOtpIncomplete) {
		t.Fatalf("expected ErrOtpIncomplete for 6 of 8 digits, got %v", err)
	}
	if got := s.Snapshot().ErrorMessage; got != "Please enter a valid 8-digit code." {
		t.Fatalf("unexpected message %q", got)
	}
	if got := UserMessage(ErrOtpIncomplete, MethodEmail); got != "Please enter a valid 6-digit code." {
		t.Fatalf("default length message: %q", got)
	}
}

func TestVerifyBackendErrorIsGeneric(t *testing.T) {
	gw := newScriptedGateway()
	gw.verifyErr = errors.New("timeout")
	s, _ := newTestSession(t, gw)
	toOtp(t, s, "user@example.com")

	err := s.SubmitOTP(context.Background(), "123456")
	if !errors.Is(err, ErrDispatchFailed) {
		t.Fatalf("expected ErrDispatchFailed, got %v", err)
	}
	if _, ok := s.Snapshot().Step.(EnterOtp); !ok {
		t.Fatalf("expected to stay in EnterOtp")
	}
}

func TestCommitFailureMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"backend", errors.New("db down"), ErrCommitFailed},
		{"server says weak", ErrPasswordTooWeak, ErrPasswordTooWeak},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			gw := newScriptedGateway()
			gw.commitErr = tc.err
			s, _ := newTestSession(t, gw)
			toPassword(t, s)

			err := s.SubmitPassword(context.Background(), "Abcd1234!", "Abcd1234!")
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			snap := s.Snapshot()
			if !errors.Is(snap.Err, tc.want) {
				t.Fatalf("slot: expected %v, got %v", tc.want, snap.Err)
			}
			if _, ok := snap.Step.(SetNewPassword); !ok {
				t.Fatalf("expected to stay in SetNewPassword")
			}
		})
	}
}

func TestBackKeepsCandidateAndCooldown(t *testing.T) {
	s, _ := newTestSession(t, newScriptedGateway())
	toPassword(t, s)

	if err := s.Back(); err != nil {
		t.Fatalf("back: %v", err)
	}
	snap := s.Snapshot()
	if _, ok := snap.Step.(EnterOtp); !ok {
		t.Fatalf("expected EnterOtp")
	}
	if snap.OTP != DefaultMockCode || snap.Cooldown != 60 {
		t.Fatalf("expected candidate and cooldown kept: %+v", snap)
	}
}

func TestChangeIdentifierKeepsCooldown(t *testing.T) {
	gw := newScriptedGateway()
	s, clock := newTestSession(t, gw)
	toOtp(t, s, "user@example.com")
	clock.tick(t, 6)
	waitFor(t, "cooldown 54", func() bool { return s.Snapshot().Cooldown <= 55 })

	if err := s.ChangeIdentifier(); err != nil {
		t.Fatalf("change identifier: %v", err)
	}
	snap := s.Snapshot()
	if st, ok := snap.Step.(EnterIdentifier); !ok || st.Method != MethodEmail {
		t.Fatalf("expected EnterIdentifier(email), got %v", snap.Step)
	}
	if snap.OTP != "" || snap.Info != "" || snap.Err != nil {
		t.Fatalf("expected cleared candidate and messages: %+v", snap)
	}
	if snap.Cooldown == 0 || snap.Cooldown == 60 {
		t.Fatalf("cooldown should keep running, got %d", snap.Cooldown)
	}

	// Submitting again mid-cooldown is allowed and restarts it.
	toOtp(t, s, "other@example.com")
	if got := s.Snapshot().Cooldown; got != 60 {
		t.Fatalf("expected fresh cooldown, got %d", got)
	}
	if gw.requestCount() != 2 {
		t.Fatalf("expected two dispatches, got %d", gw.requestCount())
	}
}

/*
====================================
COOLDOWN / RESEND
====================================
*/

func TestCooldownCountsDownAndStopsAtZero(t *testing.T) {
	clock := &fakeClock{}
	s := NewSession(newScriptedGateway(), WithTickerFactory(clock.factory), WithCooldownSeconds(3))
	defer s.Close()
	toOtp(t, s, "user@example.com")

	if got := s.Snapshot().Cooldown; got != 3 {
		t.Fatalf("expected 3, got %d", got)
	}
	clock.tick(t, 3)
	waitFor(t, "cooldown zero", func() bool { return s.Snapshot().Cooldown == 0 })
	waitFor(t, "ticker stop", clock.latest(t).isStopped)

	// The goroutine is gone; nothing receives further ticks.
	select {
	case clock.latest(t).c <- time.Now():
		t.Fatalf("ticker still receiving after zero")
	case <-time.After(20 * time.Millisecond):
	}
	if got := s.Snapshot().Cooldown; got != 0 {
		t.Fatalf("cooldown went negative: %d", got)
	}
}

func TestResendDisabledUntilZero(t *testing.T) {
	gw := newScriptedGateway()
	clock := &fakeClock{}
	s := NewSession(gw, WithTickerFactory(clock.factory), WithCooldownSeconds(2))
	defer s.Close()
	toOtp(t, s, "user@example.com")

	for i := 0; i < 5; i++ {
		if err := s.Resend(context.Background()); !errors.Is(err, ErrResendCooldown) {
			t.Fatalf("expected ErrResendCooldown, got %v", err)
		}
	}
	if gw.requestCount() != 1 {
		t.Fatalf("resend during cooldown dispatched: %d", gw.requestCount())
	}
	if s.Snapshot().Err != nil {
		t.Fatalf("guard errors must not reach the slot")
	}

	clock.tick(t, 1)
	waitFor(t, "cooldown 1", func() bool { return s.Snapshot().Cooldown == 1 })
	if s.Snapshot().CanResend {
		t.Fatalf("resend enabled at 1")
	}
	clock.tick(t, 1)
	waitFor(t, "resend enabled", func() bool { return s.Snapshot().CanResend })

	if err := s.Resend(context.Background()); err != nil {
		t.Fatalf("resend: %v", err)
	}
	snap := s.Snapshot()
	if snap.Cooldown != 2 {
		t.Fatalf("expected cooldown reset, got %d", snap.Cooldown)
	}
	if snap.Info != "A new code has been sent to user@example.com." {
		t.Fatalf("unexpected info %q", snap.Info)
	}
	if gw.requestCount() != 2 {
		t.Fatalf("expected 2 dispatches, got %d", gw.requestCount())
	}
	if clock.count() != 2 {
		t.Fatalf("expected a fresh ticker, got %d", clock.count())
	}
}

func TestResendResetsToSixty(t *testing.T) {
	gw := newScriptedGateway()
	s, clock := newTestSession(t, gw)
	toOtp(t, s, "user@example.com")

	clock.tick(t, 60)
	waitFor(t, "cooldown zero", func() bool { return s.Snapshot().Cooldown == 0 })

	if err := s.Resend(context.Background()); err != nil {
		t.Fatalf("resend: %v", err)
	}
	if got := s.Snapshot().Cooldown; got != 60 {
		t.Fatalf("expected 60, got %d", got)
	}
}

func TestResendFailureSetsDispatchFailed(t *testing.T) {
	gw := newScriptedGateway()
	clock := &fakeClock{}
	s := NewSession(gw, WithTickerFactory(clock.factory), WithCooldownSeconds(0))
	defer s.Close()
	toOtp(t, s, "user@example.com")

	gw.mu.Lock()
	gw.requestErr = errors.New("boom")
	gw.mu.Unlock()

	if err := s.Resend(context.Background()); !errors.Is(err, ErrDispatchFailed) {
		t.Fatalf("expected ErrDispatchFailed, got %v", err)
	}
	if !errors.Is(s.Snapshot().Err, ErrDispatchFailed) {
		t.Fatalf("expected slot set")
	}
}

/*
====================================
CONCURRENCY / TEARDOWN
====================================
*/

func TestSwitchMethodDuringDispatchOnlyLatestWins(t *testing.T) {
	gw := newScriptedGateway()
	gw.hold = true
	s, _ := newTestSession(t, gw)

	emailDone := make(chan error, 1)
	go func() {
		emailDone <- s.SubmitIdentifier(context.Background(), "user@example.com")
	}()
	<-gw.entered

	if !s.Snapshot().Busy {
		t.Fatalf("expected busy during dispatch")
	}
	if err := s.SwitchMethod(MethodPhone); err != nil {
		t.Fatalf("switch while busy: %v", err)
	}
	gw.release <- struct{}{}
	if err := <-emailDone; !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("stale dispatch should report ErrInvalidTransition, got %v", err)
	}

	snap := s.Snapshot()
	if st, ok := snap.Step.(EnterIdentifier); !ok || st.Method != MethodPhone {
		t.Fatalf("stale email result moved the flow: %v", snap.Step)
	}

	phoneDone := make(chan error, 1)
	go func() {
		phoneDone <- s.SubmitIdentifier(context.Background(), "+15551234567")
	}()
	<-gw.entered
	gw.release <- struct{}{}
	if err := <-phoneDone; err != nil {
		t.Fatalf("phone dispatch: %v", err)
	}

	snap = s.Snapshot()
	if _, ok := snap.Step.(EnterOtp); !ok || snap.Method != MethodPhone {
		t.Fatalf("expected EnterOtp for phone, got %v / %v", snap.Step, snap.Method)
	}
	if !strings.Contains(snap.Info, "ending in 4567") {
		t.Fatalf("info should describe the phone, got %q", snap.Info)
	}
}

// Each resubmission starts from a session holding the previous failure and
// checks the slot is empty while the new call is still pending.
func TestResubmitClearsErrorWhileInFlight(t *testing.T) {
	cases := []struct {
		name    string
		prepare func(t *testing.T, s *Session, gw *scriptedGateway) error
		hold    func(gw *scriptedGateway) *bool
		retry   func(s *Session) error
	}{
		{
			name: "otp",
			prepare: func(t *testing.T, s *Session, gw *scriptedGateway) error {
				toOtp(t, s, "user@example.com")
				return s.SubmitOTP(context.Background(), "000000")
			},
			hold:  func(gw *scriptedGateway) *bool { return &gw.holdVerify },
			retry: func(s *Session) error { return s.SubmitOTP(context.Background(), DefaultMockCode) },
		},
		{
			name: "resend",
			prepare: func(t *testing.T, s *Session, gw *scriptedGateway) error {
				toOtp(t, s, "user@example.com")
				gw.mu.Lock()
				gw.requestErr = errors.New("smtp down")
				gw.mu.Unlock()
				err := s.Resend(context.Background())
				gw.mu.Lock()
				gw.requestErr = nil
				gw.mu.Unlock()
				return err
			},
			hold:  func(gw *scriptedGateway) *bool { return &gw.hold },
			retry: func(s *Session) error { return s.Resend(context.Background()) },
		},
		{
			name: "password",
			prepare: func(t *testing.T, s *Session, gw *scriptedGateway) error {
				toPassword(t, s)
				gw.mu.Lock()
				gw.commitErr = errors.New("db down")
				gw.mu.Unlock()
				err := s.SubmitPassword(context.Background(), "Abcd1234!", "Abcd1234!")
				gw.mu.Lock()
				gw.commitErr = nil
				gw.mu.Unlock()
				return err
			},
			hold:  func(gw *scriptedGateway) *bool { return &gw.holdCommit },
			retry: func(s *Session) error { return s.SubmitPassword(context.Background(), "Abcd1234!", "Abcd1234!") },
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			gw := newScriptedGateway()
			clock := &fakeClock{}
			s := NewSession(gw, WithTickerFactory(clock.factory), WithCooldownSeconds(0))
			defer s.Close()

			if err := tc.prepare(t, s, gw); err == nil {
				t.Fatalf("expected the first attempt to fail")
			}
			if s.Snapshot().Err == nil {
				t.Fatalf("expected the first failure in the error slot")
			}

			gw.setHold(tc.hold(gw), true)
			done := make(chan error, 1)
			go func() { done <- tc.retry(s) }()
			<-gw.entered

			snap := s.Snapshot()
			if snap.Err != nil || snap.ErrorMessage != "" || !snap.Busy {
				t.Fatalf("expected a cleared slot while busy, got busy=%v err=%v", snap.Busy, snap.Err)
			}

			gw.release <- struct{}{}
			if err := <-done; err != nil {
				t.Fatalf("retry: %v", err)
			}
			if s.Snapshot().Err != nil {
				t.Fatalf("error slot set after a successful retry")
			}
		})
	}
}

func TestBusyRejectsSecondSubmit(t *testing.T) {
	gw := newScriptedGateway()
	gw.hold = true
	s, _ := newTestSession(t, gw)

	done := make(chan error, 1)
	go func() { done <- s.SubmitIdentifier(context.Background(), "user@example.com") }()
	<-gw.entered

	if err := s.SubmitIdentifier(context.Background(), "user@example.com"); !errors.Is(err, ErrSessionBusy) {
		t.Fatalf("expected ErrSessionBusy, got %v", err)
	}
	gw.release <- struct{}{}
	if err := <-done; err != nil {
		t.Fatalf("first submit: %v", err)
	}
}

func TestCloseDiscardsInFlightResult(t *testing.T) {
	gw := newScriptedGateway()
	gw.hold = true
	s, clock := newTestSession(t, gw)

	done := make(chan error, 1)
	go func() { done <- s.SubmitIdentifier(context.Background(), "user@example.com") }()
	<-gw.entered

	s.Close()
	gw.release <- struct{}{}
	if err := <-done; !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("expected ErrSessionClosed, got %v", err)
	}
	if _, ok := s.Snapshot().Step.(EnterIdentifier); !ok {
		t.Fatalf("late result applied after close")
	}
	if clock.count() != 0 {
		t.Fatalf("no ticker should have started")
	}
}

func TestCloseStopsTickerAndIsIdempotent(t *testing.T) {
	s, clock := newTestSession(t, newScriptedGateway())
	toOtp(t, s, "user@example.com")

	s.Close()
	s.Close()
	if !clock.latest(t).isStopped() {
		t.Fatalf("ticker not stopped after Close")
	}
	before := s.Snapshot().Cooldown
	select {
	case clock.latest(t).c <- time.Now():
		t.Fatalf("tick delivered after close")
	case <-time.After(20 * time.Millisecond):
	}
	if s.Snapshot().Cooldown != before {
		t.Fatalf("cooldown changed after close")
	}

	if err := s.SubmitOTP(context.Background(), "123456"); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("expected ErrSessionClosed, got %v", err)
	}
	if err := s.Resend(context.Background()); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("expected ErrSessionClosed, got %v", err)
	}
}

func TestInvalidTransitionsAreGuards(t *testing.T) {
	s, _ := newTestSession(t, newScriptedGateway())
	ctx := context.Background()

	if err := s.SubmitOTP(ctx, "123456"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("otp in EnterIdentifier: %v", err)
	}
	if err := s.Back(); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("back in EnterIdentifier: %v", err)
	}
	if err := s.SubmitPassword(ctx, "Abcd1234!", "Abcd1234!"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("password in EnterIdentifier: %v", err)
	}
	if s.Snapshot().Err != nil {
		t.Fatalf("guard errors must not reach the slot")
	}
}

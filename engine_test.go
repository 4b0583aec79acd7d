package goRecover

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/goRecover/password"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

/*
====================================
TEST DOUBLES
====================================
*/

type memUsers struct {
	mu    sync.Mutex
	users map[string]*UserRecord

	updateCalls int
	failUpdate  error
}

func newMemUsers() *memUsers {
	return &memUsers{users: make(map[string]*UserRecord)}
}

func (m *memUsers) add(u UserRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := u
	m.users[u.UserID] = &cp
}

func (m *memUsers) get(id string) UserRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.users[id]
}

func (m *memUsers) GetUserByIdentifier(_ context.Context, id Identifier) (UserRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if (id.Method == MethodEmail && u.Email == id.Value) || (id.Method == MethodPhone && u.Phone == id.Value) {
			return *u, nil
		}
	}
	return UserRecord{}, fmt.Errorf("lookup %q: %w", id.Value, ErrUserNotFound)
}

func (m *memUsers) GetUserByID(_ context.Context, userID string) (UserRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return UserRecord{}, ErrUserNotFound
	}
	return *u, nil
}

func (m *memUsers) UpdatePasswordHash(_ context.Context, userID, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updateCalls++
	if m.failUpdate != nil {
		return m.failUpdate
	}
	u, ok := m.users[userID]
	if !ok {
		return ErrUserNotFound
	}
	u.PasswordHash = hash
	return nil
}

func (m *memUsers) MarkEmailVerified(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return ErrUserNotFound
	}
	u.EmailVerified = true
	return nil
}

type outbox struct {
	mu   sync.Mutex
	sent []Delivery
	err  error
}

func (o *outbox) Send(_ context.Context, d Delivery) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.err != nil {
		return o.err
	}
	o.sent = append(o.sent, d)
	return nil
}

func (o *outbox) count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.sent)
}

func (o *outbox) last(t *testing.T) Delivery {
	t.Helper()
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.sent) == 0 {
		t.Fatalf("nothing sent")
	}
	return o.sent[len(o.sent)-1]
}

type engineFixture struct {
	engine *Engine
	users  *memUsers
	out    *outbox
	redis  *miniredis.Miniredis
	audit  *AuditChannelSink
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Password = PasswordConfig{Memory: 8 * 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}
	cfg.Recovery.EnumerationDelay = false
	cfg.EmailVerification.Enabled = true
	cfg.Metrics.Enabled = true
	cfg.Audit.Enabled = true
	return cfg
}

func newEngineFixture(t *testing.T, mutate func(*Config)) *engineFixture {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	cfg := testConfig()
	if mutate != nil {
		mutate(&cfg)
	}

	users := newMemUsers()
	hasher, err := password.New(password.Params{Memory: 8 * 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32})
	if err != nil {
		t.Fatalf("hasher: %v", err)
	}
	hash, err := hasher.Hash("Original1!")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	users.add(UserRecord{UserID: "u1", Name: "Ada", Email: "user@example.com", Phone: "+15551234567", PasswordHash: hash})

	out := &outbox{}
	sink := NewChannelAuditSink(256)
	engine, err := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithUserProvider(users).
		WithNotifier(out).
		WithAuditSink(sink).
		Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	t.Cleanup(engine.Close)

	return &engineFixture{engine: engine, users: users, out: out, redis: mr, audit: sink}
}

var (
	emailID = Identifier{Value: "user@example.com", Method: MethodEmail}
	phoneID = Identifier{Value: "+15551234567", Method: MethodPhone}
)

func wrongCode(code string) string {
	if code == "000000" {
		return "111111"
	}
	return "000000"
}

/*
====================================
RECOVERY
====================================
*/

func TestEngineRecoveryHappyPath(t *testing.T) {
	f := newEngineFixture(t, nil)
	ctx := context.Background()

	d, err := f.engine.RequestOTP(ctx, Identifier{Value: "  USER@example.com", Method: MethodEmail})
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if d.Destination != "user@example.com" || d.ExpiresIn != 10*time.Minute {
		t.Fatalf("unexpected dispatch %+v", d)
	}
	sent := f.out.last(t)
	if sent.UserID != "u1" || sent.Purpose != PurposeRecovery || len(sent.Code) != 6 || !isDigits(sent.Code) {
		t.Fatalf("unexpected delivery %+v", sent)
	}

	ok, err := f.engine.VerifyOTP(ctx, emailID, wrongCode(sent.Code))
	if err != nil || ok {
		t.Fatalf("wrong code: ok=%v err=%v", ok, err)
	}
	ok, err = f.engine.VerifyOTP(ctx, emailID, sent.Code)
	if err != nil || !ok {
		t.Fatalf("right code: ok=%v err=%v", ok, err)
	}

	if err := f.engine.CommitNewPassword(ctx, emailID, "abc"); !errors.Is(err, ErrPasswordTooWeak) {
		t.Fatalf("expected ErrPasswordTooWeak, got %v", err)
	}
	if err := f.engine.CommitNewPassword(ctx, emailID, "Abcd1234!"); err != nil {
		t.Fatalf("commit: %v", err)
	}

	if _, err := f.engine.Authenticate(ctx, emailID, "Abcd1234!"); err != nil {
		t.Fatalf("authenticate with new password: %v", err)
	}
	if _, err := f.engine.Authenticate(ctx, emailID, "Original1!"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("old password should fail, got %v", err)
	}

	snap := f.engine.MetricsSnapshot()
	if snap.Counters[MetricOTPRequest] != 1 || snap.Counters[MetricPasswordCommitSuccess] != 1 {
		t.Fatalf("unexpected counters %v", snap.Counters)
	}
}

func TestEngineCodeIsSingleUse(t *testing.T) {
	f := newEngineFixture(t, nil)
	ctx := context.Background()

	if _, err := f.engine.RequestOTP(ctx, phoneID); err != nil {
		t.Fatalf("request: %v", err)
	}
	code := f.out.last(t).Code
	if ok, _ := f.engine.VerifyOTP(ctx, phoneID, code); !ok {
		t.Fatalf("first verify should pass")
	}
	if ok, err := f.engine.VerifyOTP(ctx, phoneID, code); ok || err != nil {
		t.Fatalf("second verify: ok=%v err=%v", ok, err)
	}
}

func TestEngineNewCodeReplacesOld(t *testing.T) {
	f := newEngineFixture(t, nil)
	ctx := context.Background()

	_, _ = f.engine.RequestOTP(ctx, emailID)
	first := f.out.last(t).Code
	_, _ = f.engine.RequestOTP(ctx, emailID)
	second := f.out.last(t).Code
	if first == second {
		t.Skip("codes collided")
	}

	if ok, _ := f.engine.VerifyOTP(ctx, emailID, first); ok {
		t.Fatalf("superseded code accepted")
	}
	if ok, _ := f.engine.VerifyOTP(ctx, emailID, second); !ok {
		t.Fatalf("latest code rejected")
	}
}

func TestEngineUnknownIdentifierIsSilent(t *testing.T) {
	f := newEngineFixture(t, nil)

	d, err := f.engine.RequestOTP(context.Background(), Identifier{Value: "ghost@example.com", Method: MethodEmail})
	if err != nil {
		t.Fatalf("unknown identifier should be acknowledged, got %v", err)
	}
	if d.Destination != "ghost@example.com" {
		t.Fatalf("unexpected destination %q", d.Destination)
	}
	if f.out.count() != 0 {
		t.Fatalf("nothing should be sent for an unknown identifier")
	}
}

func TestEngineInvalidIdentifier(t *testing.T) {
	f := newEngineFixture(t, nil)

	_, err := f.engine.RequestOTP(context.Background(), Identifier{Value: "nope", Method: MethodEmail})
	if !errors.Is(err, ErrInvalidIdentifierFormat) {
		t.Fatalf("expected ErrInvalidIdentifierFormat, got %v", err)
	}
	if errors.Is(err, ErrDispatchFailed) {
		t.Fatalf("format errors are not dispatch failures")
	}
}

func TestEngineAttemptsBurnChallenge(t *testing.T) {
	f := newEngineFixture(t, nil)
	ctx := context.Background()

	_, _ = f.engine.RequestOTP(ctx, emailID)
	code := f.out.last(t).Code
	bad := wrongCode(code)

	for i := 0; i < 5; i++ {
		if ok, err := f.engine.VerifyOTP(ctx, emailID, bad); ok || err != nil {
			t.Fatalf("attempt %d: ok=%v err=%v", i+1, ok, err)
		}
	}
	if ok, err := f.engine.VerifyOTP(ctx, emailID, code); ok || err != nil {
		t.Fatalf("burned challenge accepted: ok=%v err=%v", ok, err)
	}
	if got := f.engine.Metrics().Value(MetricOTPAttemptsExceeded); got != 1 {
		t.Fatalf("expected one attempts-exceeded, got %d", got)
	}
}

func TestEngineRequestRateLimited(t *testing.T) {
	f := newEngineFixture(t, nil)
	ctx := WithClientIP(context.Background(), "203.0.113.7")

	for i := 0; i < 5; i++ {
		if _, err := f.engine.RequestOTP(ctx, emailID); err != nil {
			t.Fatalf("request %d: %v", i+1, err)
		}
	}
	_, err := f.engine.RequestOTP(ctx, emailID)
	if !errors.Is(err, ErrDispatchFailed) || !errors.Is(err, ErrRecoveryRateLimited) {
		t.Fatalf("expected rate-limited dispatch failure, got %v", err)
	}
	if f.out.count() != 5 {
		t.Fatalf("expected 5 deliveries, got %d", f.out.count())
	}
}

func TestEngineNotifierFailureDeletesChallenge(t *testing.T) {
	f := newEngineFixture(t, nil)
	ctx := context.Background()

	f.out.err = errors.New("provider down")
	_, err := f.engine.RequestOTP(ctx, emailID)
	if !errors.Is(err, ErrDispatchFailed) {
		t.Fatalf("expected ErrDispatchFailed, got %v", err)
	}
	if keys := f.redis.Keys(); len(keys) > 0 {
		for _, k := range keys {
			if strings.Contains(k, ":c:") {
				t.Fatalf("challenge left behind: %v", keys)
			}
		}
	}
}

func TestEngineCommitRequiresVerification(t *testing.T) {
	f := newEngineFixture(t, nil)

	err := f.engine.CommitNewPassword(context.Background(), emailID, "Abcd1234!")
	if !errors.Is(err, ErrCommitFailed) || !errors.Is(err, ErrRecoveryNotVerified) {
		t.Fatalf("expected not-verified commit failure, got %v", err)
	}
	if f.users.updateCalls != 0 {
		t.Fatalf("store must not be touched")
	}
}

func TestEngineGrantIsSingleUse(t *testing.T) {
	f := newEngineFixture(t, nil)
	ctx := context.Background()

	_, _ = f.engine.RequestOTP(ctx, emailID)
	g, err := f.engine.VerifyOTPWithGrant(ctx, emailID, f.out.last(t).Code)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if g.GrantID == "" || !g.ExpiresAt.After(time.Now()) {
		t.Fatalf("unexpected grant %+v", g)
	}

	if err := f.engine.CommitNewPasswordWithGrant(ctx, emailID, "not-the-grant", "Abcd1234!"); !errors.Is(err, ErrRecoveryNotVerified) {
		t.Fatalf("foreign grant id: %v", err)
	}
	if err := f.engine.CommitNewPasswordWithGrant(ctx, emailID, g.GrantID, "Abcd1234!"); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := f.engine.CommitNewPasswordWithGrant(ctx, emailID, g.GrantID, "Abcd1234!"); !errors.Is(err, ErrRecoveryNotVerified) {
		t.Fatalf("replayed grant: %v", err)
	}
}

func TestEngineUpdateFailureIsCommitFailed(t *testing.T) {
	f := newEngineFixture(t, nil)
	ctx := context.Background()

	_, _ = f.engine.RequestOTP(ctx, emailID)
	_, _ = f.engine.VerifyOTP(ctx, emailID, f.out.last(t).Code)
	f.users.failUpdate = errors.New("db down")

	if err := f.engine.CommitNewPassword(ctx, emailID, "Abcd1234!"); !errors.Is(err, ErrCommitFailed) {
		t.Fatalf("expected ErrCommitFailed, got %v", err)
	}
}

func TestEngineRecoveryDisabled(t *testing.T) {
	f := newEngineFixture(t, func(c *Config) { c.Recovery.Enabled = false })

	_, err := f.engine.RequestOTP(context.Background(), emailID)
	if !errors.Is(err, ErrRecoveryDisabled) {
		t.Fatalf("expected ErrRecoveryDisabled, got %v", err)
	}
}

/*
====================================
EMAIL VERIFICATION
====================================
*/

func TestEngineEmailVerification(t *testing.T) {
	f := newEngineFixture(t, nil)
	ctx := context.Background()

	if _, err := f.engine.RequestEmailVerification(ctx, "user@example.com"); err != nil {
		t.Fatalf("request: %v", err)
	}
	sent := f.out.last(t)
	if sent.Purpose != PurposeVerification {
		t.Fatalf("unexpected purpose %q", sent.Purpose)
	}

	ok, err := f.engine.ConfirmEmailVerification(ctx, "user@example.com", wrongCode(sent.Code))
	if ok || err != nil {
		t.Fatalf("wrong code: ok=%v err=%v", ok, err)
	}
	ok, err = f.engine.ConfirmEmailVerification(ctx, "user@example.com", sent.Code)
	if !ok || err != nil {
		t.Fatalf("right code: ok=%v err=%v", ok, err)
	}
	if !f.users.get("u1").EmailVerified {
		t.Fatalf("user not marked verified")
	}

	// Already verified: acknowledged, nothing sent.
	before := f.out.count()
	if _, err := f.engine.RequestEmailVerification(ctx, "user@example.com"); err != nil {
		t.Fatalf("second request: %v", err)
	}
	if f.out.count() != before {
		t.Fatalf("verified address received another code")
	}
}

func TestEngineVerificationCodesDoNotCrossPurpose(t *testing.T) {
	f := newEngineFixture(t, nil)
	ctx := context.Background()

	_, _ = f.engine.RequestOTP(ctx, emailID)
	code := f.out.last(t).Code

	if ok, _ := f.engine.ConfirmEmailVerification(ctx, emailID.Value, code); ok {
		t.Fatalf("recovery code confirmed an email")
	}
	if ok, _ := f.engine.VerifyOTP(ctx, emailID, code); !ok {
		t.Fatalf("recovery code should still be valid")
	}
}

func TestEngineVerificationDisabled(t *testing.T) {
	f := newEngineFixture(t, func(c *Config) { c.EmailVerification.Enabled = false })

	_, err := f.engine.RequestEmailVerification(context.Background(), "user@example.com")
	if !errors.Is(err, ErrVerificationDisabled) {
		t.Fatalf("expected ErrVerificationDisabled, got %v", err)
	}
}

/*
====================================
AUTHENTICATE / MOCK
====================================
*/

func TestEngineAuthenticate(t *testing.T) {
	f := newEngineFixture(t, nil)
	ctx := context.Background()

	u, err := f.engine.Authenticate(ctx, emailID, "Original1!")
	if err != nil || u.UserID != "u1" {
		t.Fatalf("authenticate: %+v %v", u, err)
	}
	if _, err := f.engine.Authenticate(ctx, emailID, "password"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("mock password accepted outside mock mode: %v", err)
	}
	if _, err := f.engine.Authenticate(ctx, Identifier{Value: "ghost@example.com"}, "x"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("unknown user: %v", err)
	}
}

func TestEngineAuthenticateUpgradesWeakHash(t *testing.T) {
	f := newEngineFixture(t, func(c *Config) { c.Password.Time = 2 })

	before := f.users.get("u1").PasswordHash
	if _, err := f.engine.Authenticate(context.Background(), emailID, "Original1!"); err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	after := f.users.get("u1").PasswordHash
	if before == after {
		t.Fatalf("hash was not upgraded")
	}
	if !strings.Contains(after, "t=2") {
		t.Fatalf("upgraded hash has wrong params: %s", after)
	}
}

func TestEngineMockMode(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	cfg := testConfig()
	cfg.Mock.Enabled = true
	users := newMemUsers()
	users.add(UserRecord{UserID: "u1", Email: "user@example.com"})

	out := &outbox{}
	engine, err := New().WithConfig(cfg).WithRedis(rdb).WithUserProvider(users).WithNotifier(out).Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer engine.Close()
	ctx := context.Background()

	if _, err := engine.RequestOTP(ctx, emailID); err != nil {
		t.Fatalf("request: %v", err)
	}
	if ok, _ := engine.VerifyOTP(ctx, emailID, wrongCode(out.lastCode())); ok {
		t.Fatalf("mock accepted the wrong code")
	}
	if ok, err := engine.VerifyOTP(ctx, emailID, "123456"); !ok || err != nil {
		t.Fatalf("mock code: ok=%v err=%v", ok, err)
	}

	// The code that was really delivered is accepted too.
	if _, err := engine.RequestOTP(ctx, emailID); err != nil {
		t.Fatalf("second request: %v", err)
	}
	if ok, err := engine.VerifyOTP(ctx, emailID, out.lastCode()); !ok || err != nil {
		t.Fatalf("delivered code in mock mode: ok=%v err=%v", ok, err)
	}
	if err := engine.CommitNewPassword(ctx, emailID, "Abcd1234!"); err != nil {
		t.Fatalf("commit after delivered code: %v", err)
	}
	if _, err := engine.Authenticate(ctx, emailID, "password"); err != nil {
		t.Fatalf("mock password: %v", err)
	}
}

func TestBuilderRequirements(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	if _, err := New().WithUserProvider(newMemUsers()).WithNotifier(&outbox{}).Build(); err == nil {
		t.Fatalf("expected redis requirement")
	}
	if _, err := New().WithRedis(rdb).WithNotifier(&outbox{}).Build(); err == nil {
		t.Fatalf("expected user provider requirement")
	}
	if _, err := New().WithRedis(rdb).WithUserProvider(newMemUsers()).Build(); err == nil {
		t.Fatalf("expected notifier requirement")
	}

	b := New().WithConfig(testConfig()).WithRedis(rdb).WithUserProvider(newMemUsers()).WithNotifier(&outbox{})
	e, err := b.Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer e.Close()
	if _, err := b.Build(); err == nil {
		t.Fatalf("builder reuse must fail")
	}
}

/*
====================================
SESSION OVER ENGINE
====================================
*/

func TestEngineSessionEndToEnd(t *testing.T) {
	f := newEngineFixture(t, nil)
	clock := &fakeClock{}
	s := f.engine.NewSession(WithTickerFactory(clock.factory))
	defer s.Close()
	ctx := context.Background()

	if err := s.SwitchMethod(MethodPhone); err != nil {
		t.Fatalf("switch: %v", err)
	}
	if err := s.SubmitIdentifier(ctx, "+15551234567"); err != nil {
		t.Fatalf("identifier: %v", err)
	}
	if err := s.SubmitOTP(ctx, f.out.last(t).Code); err != nil {
		t.Fatalf("otp: %v", err)
	}
	if err := s.SubmitPassword(ctx, "Zyxw9876#", "Zyxw9876#"); err != nil {
		t.Fatalf("password: %v", err)
	}
	if _, ok := s.Snapshot().Step.(Complete); !ok {
		t.Fatalf("expected Complete")
	}
	if _, err := f.engine.Authenticate(ctx, phoneID, "Zyxw9876#"); err != nil {
		t.Fatalf("new password not stored: %v", err)
	}
}

func TestEngineVerificationSession(t *testing.T) {
	f := newEngineFixture(t, nil)
	clock := &fakeClock{}
	s := f.engine.NewVerificationSession("user@example.com", WithTickerFactory(clock.factory))
	defer s.Close()
	ctx := context.Background()

	if err := s.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if got := s.Snapshot().Cooldown; got != 30 {
		t.Fatalf("expected 30s cooldown, got %d", got)
	}
	if err := s.SubmitCode(ctx, f.out.last(t).Code); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if s.Snapshot().Step != Verified || !f.users.get("u1").EmailVerified {
		t.Fatalf("verification not applied")
	}
}

/*
====================================
AUDIT
====================================
*/

func TestEngineAuditNeverCarriesCode(t *testing.T) {
	f := newEngineFixture(t, nil)
	ctx := context.Background()

	_, _ = f.engine.RequestOTP(ctx, phoneID)
	code := f.out.last(t).Code
	_, _ = f.engine.VerifyOTP(ctx, phoneID, code)
	f.engine.Close()

	var events int
	for {
		select {
		case ev := <-f.audit.Events():
			events++
			if ev.Destination == phoneID.Value {
				t.Fatalf("raw phone in audit event: %+v", ev)
			}
			for k, v := range ev.Metadata {
				if strings.Contains(v, code) {
					t.Fatalf("code leaked in metadata %s=%s", k, v)
				}
			}
		default:
			if events < 2 {
				t.Fatalf("expected request and verify events, got %d", events)
			}
			return
		}
	}
}

func (o *outbox) lastCode() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.sent) == 0 {
		return ""
	}
	return o.sent[len(o.sent)-1].Code
}

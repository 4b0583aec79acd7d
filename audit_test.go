package goRecover

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type countingSink struct {
	count atomic.Int64
}

func (s *countingSink) Emit(context.Context, AuditEvent) {
	s.count.Add(1)
}

func buildAuditTestEngine(t *testing.T, cfg Config, sink AuditSink) (*Engine, *outbox) {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	users := newMemUsers()
	users.add(UserRecord{UserID: "u1", Email: "user@example.com", Phone: "+15551234567"})
	out := &outbox{}

	engine, err := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithUserProvider(users).
		WithNotifier(out).
		WithAuditSink(sink).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)
	return engine, out
}

// drain closes the engine so the dispatcher flushes, then collects what the
// sink received.
func drain(engine *Engine, sink *AuditChannelSink) []AuditEvent {
	engine.Close()
	var events []AuditEvent
	for {
		select {
		case ev := <-sink.Events():
			events = append(events, ev)
		default:
			return events
		}
	}
}

func TestAuditDisabledNoSinkCalls(t *testing.T) {
	cfg := testConfig()
	cfg.Audit.Enabled = false

	sink := &countingSink{}
	engine, _ := buildAuditTestEngine(t, cfg, sink)

	_, _ = engine.RequestOTP(WithClientIP(context.Background(), "203.0.113.1"), emailID)
	_, _ = engine.VerifyOTP(context.Background(), emailID, "000000")
	time.Sleep(30 * time.Millisecond)

	if n := sink.count.Load(); n != 0 {
		t.Fatalf("expected no audit sink calls when disabled, got %d", n)
	}
}

func TestAuditRequestEventFields(t *testing.T) {
	sink := NewChannelAuditSink(16)
	engine, _ := buildAuditTestEngine(t, testConfig(), sink)

	ctx := WithClientIP(context.Background(), "198.51.100.33")
	if _, err := engine.RequestOTP(ctx, phoneID); err != nil {
		t.Fatalf("RequestOTP failed: %v", err)
	}

	events := drain(engine, sink)
	if len(events) == 0 {
		t.Fatal("expected audit event to be received")
	}
	ev := events[0]
	if ev.EventType != "recovery_code_request" {
		t.Fatalf("expected recovery_code_request, got %q", ev.EventType)
	}
	if !ev.Success || ev.UserID != "u1" || ev.Method != "phone" {
		t.Fatalf("unexpected event: %+v", ev)
	}
	if ev.IP != "198.51.100.33" {
		t.Fatalf("expected IP 198.51.100.33, got %q", ev.IP)
	}
	if ev.Destination == phoneID.Value || ev.Destination == "" {
		t.Fatalf("expected masked destination, got %q", ev.Destination)
	}
	if ev.Timestamp.IsZero() {
		t.Fatal("expected timestamp to be set")
	}
}

func TestAuditUnknownIdentifierMarkedEnumerationSafe(t *testing.T) {
	sink := NewChannelAuditSink(16)
	engine, out := buildAuditTestEngine(t, testConfig(), sink)

	if _, err := engine.RequestOTP(context.Background(), Identifier{Value: "nobody@example.com", Method: MethodEmail}); err != nil {
		t.Fatalf("RequestOTP failed: %v", err)
	}
	if out.count() != 0 {
		t.Fatal("expected nothing sent for an unknown identifier")
	}

	events := drain(engine, sink)
	if len(events) != 1 {
		t.Fatalf("expected one event, got %d", len(events))
	}
	if events[0].UserID != "" || events[0].Metadata["enumeration_safe"] != "true" {
		t.Fatalf("unexpected event: %+v", events[0])
	}
}

func TestAuditRateLimitEmitted(t *testing.T) {
	cfg := testConfig()
	cfg.Recovery.MaxRequestsPerWindow = 1

	sink := NewChannelAuditSink(32)
	engine, _ := buildAuditTestEngine(t, cfg, sink)
	ctx := context.Background()

	if _, err := engine.RequestOTP(ctx, emailID); err != nil {
		t.Fatalf("first request failed: %v", err)
	}
	if _, err := engine.RequestOTP(ctx, emailID); err == nil {
		t.Fatal("expected second request to be rate limited")
	}

	var limited bool
	for _, ev := range drain(engine, sink) {
		if ev.EventType == "rate_limit_triggered" {
			limited = true
			if ev.Metadata["scope"] != "recovery_request" {
				t.Fatalf("unexpected scope %q", ev.Metadata["scope"])
			}
		}
	}
	if !limited {
		t.Fatal("expected a rate_limit_triggered event")
	}
}

func TestAuditNoSecretsInEvents(t *testing.T) {
	sink := NewChannelAuditSink(32)
	engine, out := buildAuditTestEngine(t, testConfig(), sink)
	ctx := context.Background()

	const newPassword = "Sup3r!secret-pass"
	if _, err := engine.RequestOTP(ctx, emailID); err != nil {
		t.Fatalf("RequestOTP failed: %v", err)
	}
	code := out.last(t).Code
	if ok, err := engine.VerifyOTP(ctx, emailID, code); err != nil || !ok {
		t.Fatalf("VerifyOTP = %v, %v", ok, err)
	}
	if err := engine.CommitNewPassword(ctx, emailID, newPassword); err != nil {
		t.Fatalf("CommitNewPassword failed: %v", err)
	}

	events := drain(engine, sink)
	if len(events) < 3 {
		t.Fatalf("expected request, verify and commit events, got %d", len(events))
	}
	for _, ev := range events {
		for _, needle := range []string{code, newPassword} {
			if strings.Contains(ev.Error, needle) {
				t.Fatalf("sensitive value leaked in audit error field: %q", needle)
			}
			for k, v := range ev.Metadata {
				if strings.Contains(k, needle) || strings.Contains(v, needle) {
					t.Fatalf("sensitive value leaked in audit metadata: %q", needle)
				}
			}
		}
	}
}

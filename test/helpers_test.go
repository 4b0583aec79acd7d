//go:build integration
// +build integration

package test

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	goRecover "github.com/MrEthical07/goRecover"
	"github.com/MrEthical07/goRecover/store"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// redisMode describes which Redis backend a suite runs against.
type redisMode struct {
	name  string
	setup func(t *testing.T) (redis.UniversalClient, func())
}

// redisModes always includes miniredis. A real server is added when
// REDIS_ADDR is set.
func redisModes(t *testing.T) []redisMode {
	t.Helper()
	modes := []redisMode{
		{
			name: "miniredis",
			setup: func(t *testing.T) (redis.UniversalClient, func()) {
				t.Helper()
				mr, err := miniredis.Run()
				if err != nil {
					t.Fatalf("miniredis: %v", err)
				}
				rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
				return rdb, func() { _ = rdb.Close(); mr.Close() }
			},
		},
	}

	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		modes = append(modes, redisMode{
			name: "standalone:" + addr,
			setup: func(t *testing.T) (redis.UniversalClient, func()) {
				t.Helper()
				rdb := redis.NewClient(&redis.Options{Addr: addr})
				ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
				defer cancel()
				if err := rdb.Ping(ctx).Err(); err != nil {
					t.Skipf("cannot connect to Redis at %s: %v", addr, err)
				}
				rdb.FlushDB(context.Background())
				return rdb, func() { rdb.FlushDB(context.Background()); _ = rdb.Close() }
			},
		})
	}
	return modes
}

// codeBox records the last code delivered to each destination.
type codeBox struct {
	mu    sync.Mutex
	codes map[string]string
	sent  int
}

func newCodeBox() *codeBox {
	return &codeBox{codes: map[string]string{}}
}

func (b *codeBox) Send(_ context.Context, d goRecover.Delivery) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.codes[d.To.Value] = d.Code
	b.sent++
	return nil
}

func (b *codeBox) code(to string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.codes[to]
}

func (b *codeBox) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sent
}

type fixture struct {
	engine *goRecover.Engine
	users  *store.Memory
	box    *codeBox
}

func testConfig() goRecover.Config {
	cfg := goRecover.DefaultConfig()
	cfg.Recovery.EnumerationDelay = false
	cfg.EmailVerification.Enabled = true
	cfg.Password = goRecover.PasswordConfig{Memory: 8 * 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}
	cfg.Metrics.Enabled = true
	return cfg
}

func newFixture(t *testing.T, rdb redis.UniversalClient, cfg goRecover.Config) *fixture {
	t.Helper()

	users := store.NewMemory()
	if err := users.CreateUser(context.Background(), goRecover.UserRecord{
		UserID: "u1",
		Email:  "user@example.com",
		Phone:  "+15551234567",
	}); err != nil {
		t.Fatalf("seed user: %v", err)
	}

	box := newCodeBox()
	engine, err := goRecover.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithUserProvider(users).
		WithNotifier(box).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)

	return &fixture{engine: engine, users: users, box: box}
}

var emailID = goRecover.Identifier{Value: "user@example.com", Method: goRecover.MethodEmail}

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	goRecover "github.com/MrEthical07/goRecover"
	"github.com/MrEthical07/goRecover/store"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// codeSink keeps the last code sent to each identifier.
type codeSink struct {
	codes sync.Map
}

func (c *codeSink) Send(_ context.Context, d goRecover.Delivery) error {
	c.codes.Store(d.To.Value, d.Code)
	return nil
}

func (c *codeSink) code(to string) string {
	v, _ := c.codes.Load(to)
	s, _ := v.(string)
	return s
}

func main() {
	var (
		users       = flag.Int("users", 2000, "number of users to seed")
		concurrency = flag.Int("concurrency", 64, "number of concurrent workers")
		flows       = flag.Int("flows", 2000, "recovery flows to run; each user is recovered at most once")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
		prefix      = flag.String("prefix", "gr", "redis key prefix")
	)
	flag.Parse()

	if *users <= 0 || *concurrency <= 0 || *flows <= 0 {
		fmt.Fprintln(os.Stderr, "users, concurrency, and flows must be > 0")
		os.Exit(2)
	}
	if *flows > *users {
		*flows = *users
	}

	ctx := context.Background()

	client, closeRedis, err := openRedis(*redisAddr)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer closeRedis()

	cfg := goRecover.DefaultConfig()
	cfg.Redis.Prefix = *prefix
	cfg.Recovery.EnumerationDelay = false
	// Every worker shares one address; per-IP windows would cap the run.
	cfg.Recovery.EnableIPThrottle = false
	cfg.Password = goRecover.PasswordConfig{Memory: 8 * 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}
	cfg.Metrics.Enabled = true
	cfg.Metrics.EnableLatencyHistograms = true

	userStore := store.NewMemory()
	fmt.Printf("seeding %d users...\n", *users)
	for i := 0; i < *users; i++ {
		if err := userStore.CreateUser(ctx, goRecover.UserRecord{UserID: fmt.Sprintf("u%d", i), Email: emailFor(i)}); err != nil {
			fmt.Fprintf(os.Stderr, "seed failed: %v\n", err)
			os.Exit(1)
		}
	}

	sink := &codeSink{}
	engine, err := goRecover.New().
		WithConfig(cfg).
		WithRedis(client).
		WithUserProvider(userStore).
		WithNotifier(sink).
		Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "build engine: %v\n", err)
		os.Exit(1)
	}
	defer engine.Close()

	rec := newRecorder(*flows)
	start := time.Now()
	runFlows(ctx, engine, sink, rec, *flows, *concurrency)
	elapsed := time.Since(start)

	fmt.Println("---- results ----")
	fmt.Printf("flows=%d failures=%d total=%s flows/sec=%.0f\n",
		*flows, rec.failures.Load(), elapsed.Round(time.Millisecond), float64(*flows)/elapsed.Seconds())
	for _, st := range steps {
		fmt.Println(rec.summary(st))
	}
	snap := engine.MetricsSnapshot()
	fmt.Printf("counters: requested=%d verified=%d committed=%d commit_failures=%d\n",
		snap.Counters[goRecover.MetricOTPRequest],
		snap.Counters[goRecover.MetricOTPVerifySuccess],
		snap.Counters[goRecover.MetricPasswordCommitSuccess],
		snap.Counters[goRecover.MetricPasswordCommitFailure],
	)
}

// openRedis connects to addr, then REDIS_ADDR, and falls back to an
// in-process miniredis when neither is set.
func openRedis(addr string) (redis.UniversalClient, func(), error) {
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}
	if addr != "" {
		client := redis.NewClient(&redis.Options{Addr: addr})
		fmt.Printf("using redis at %s\n", addr)
		return client, func() { _ = client.Close() }, nil
	}

	mr, err := miniredis.Run()
	if err != nil {
		return nil, nil, fmt.Errorf("start miniredis: %w", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	fmt.Printf("using miniredis at %s\n", mr.Addr())
	return client, func() {
		_ = client.Close()
		mr.Close()
	}, nil
}

type step int

const (
	stepRequest step = iota
	stepVerify
	stepCommit
	stepFlow
)

var steps = []step{stepRequest, stepVerify, stepCommit, stepFlow}

func (s step) String() string {
	return [...]string{"request", "verify", "commit", "flow"}[s]
}

// recorder collects per-step latencies from all workers.
type recorder struct {
	mu       sync.Mutex
	samples  [4][]time.Duration
	failures atomic.Int64
}

func newRecorder(capacity int) *recorder {
	r := &recorder{}
	for i := range r.samples {
		r.samples[i] = make([]time.Duration, 0, capacity)
	}
	return r
}

func (r *recorder) add(st step, d time.Duration) {
	r.mu.Lock()
	r.samples[st] = append(r.samples[st], d)
	r.mu.Unlock()
}

func (r *recorder) summary(st step) string {
	r.mu.Lock()
	sorted := slices.Clone(r.samples[st])
	r.mu.Unlock()
	if len(sorted) == 0 {
		return fmt.Sprintf("%-8s no samples", st)
	}
	slices.Sort(sorted)
	at := func(p int) time.Duration {
		return sorted[(len(sorted)-1)*p/100].Round(time.Microsecond)
	}
	return fmt.Sprintf("%-8s n=%d p50=%s p95=%s p99=%s max=%s",
		st, len(sorted), at(50), at(95), at(99), sorted[len(sorted)-1].Round(time.Microsecond))
}

// runFlows recovers users 0..flows-1 with a fixed pool of workers.
func runFlows(ctx context.Context, engine *goRecover.Engine, sink *codeSink, rec *recorder, flows, concurrency int) {
	var (
		wg   sync.WaitGroup
		next atomic.Int64
	)
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				i := int(next.Add(1)) - 1
				if i >= flows {
					return
				}
				t0 := time.Now()
				if err := recoverOne(ctx, engine, sink, rec, emailFor(i)); err != nil {
					rec.failures.Add(1)
					continue
				}
				rec.add(stepFlow, time.Since(t0))
			}
		}()
	}
	wg.Wait()
}

func recoverOne(ctx context.Context, engine *goRecover.Engine, sink *codeSink, rec *recorder, email string) error {
	id := goRecover.Identifier{Value: email, Method: goRecover.MethodEmail}

	t := time.Now()
	if _, err := engine.RequestOTP(ctx, id); err != nil {
		return err
	}
	rec.add(stepRequest, time.Since(t))

	t = time.Now()
	ok, err := engine.VerifyOTP(ctx, id, sink.code(email))
	if err != nil {
		return err
	}
	if !ok {
		return goRecover.ErrOtpRejected
	}
	rec.add(stepVerify, time.Since(t))

	t = time.Now()
	if err := engine.CommitNewPassword(ctx, id, "Load!test1"); err != nil {
		return err
	}
	rec.add(stepCommit, time.Since(t))
	return nil
}

func emailFor(i int) string {
	return fmt.Sprintf("user%d@example.com", i)
}

package goRecover

import (
	"context"
	"errors"

	"github.com/MrEthical07/goRecover/internal/audit"
	"github.com/MrEthical07/goRecover/internal/limiters"
	"github.com/MrEthical07/goRecover/internal/stores"
	"github.com/MrEthical07/goRecover/password"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Builder assembles an Engine. Configure it once during startup; Build may
// only be called once.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	userProvider UserProvider
	notifier     Notifier
	codeVerifier CodeVerifier
	auditSink    AuditSink
	logger       *zap.Logger

	built bool
}

// New returns a Builder seeded with DefaultConfig.
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the client for challenges, grants and throttle counters.
// Any go-redis client works, including cluster and ring clients.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

func (b *Builder) WithUserProvider(up UserProvider) *Builder {
	b.userProvider = up
	return b
}

// WithNotifier sets the channel codes are delivered through. It is required
// unless mock mode is enabled.
func (b *Builder) WithNotifier(n Notifier) *Builder {
	b.notifier = n
	return b
}

// WithCodeVerifier replaces the code check. By default codes are checked
// against the hashed challenge in Redis, or against Mock.AcceptCode in mock
// mode.
func (b *Builder) WithCodeVerifier(v CodeVerifier) *Builder {
	b.codeVerifier = v
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

func (b *Builder) WithLogger(logger *zap.Logger) *Builder {
	b.logger = logger
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and wires the engine.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)

	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b.userProvider == nil {
		return nil, errors.New("user provider required")
	}
	if b.notifier == nil && !cfg.Mock.Enabled {
		return nil, errors.New("notifier required")
	}

	logger := b.logger
	if logger == nil {
		logger = zap.NewNop()
	}

	// -------- STORES / LIMITERS --------
	engine := &Engine{
		config:       cloneConfig(cfg),
		logger:       logger,
		challenges:   stores.NewChallengeStore(b.redis, cfg.Redis.Prefix),
		userProvider: b.userProvider,
		notifier:     b.notifier,
	}
	engine.recoveryLimiter = limiters.NewChallengeLimiter(b.redis, limiters.ChallengeConfig{
		Prefix:                   cfg.Redis.Prefix + ":rl:r:",
		EnableIdentifierThrottle: cfg.Recovery.EnableIdentifierThrottle,
		EnableIPThrottle:         cfg.Recovery.EnableIPThrottle,
		Window:                   cfg.Recovery.ThrottleWindow,
		MaxRequests:              cfg.Recovery.MaxRequestsPerWindow,
		MaxVerifies:              cfg.Recovery.MaxVerifiesPerWindow,
	})
	engine.verificationLimiter = limiters.NewChallengeLimiter(b.redis, limiters.ChallengeConfig{
		Prefix:                   cfg.Redis.Prefix + ":rl:v:",
		EnableIdentifierThrottle: true,
		EnableIPThrottle:         true,
		Window:                   cfg.EmailVerification.ThrottleWindow,
		MaxRequests:              cfg.EmailVerification.MaxRequestsPerWindow,
		MaxVerifies:              cfg.EmailVerification.MaxVerifiesPerWindow,
	})

	// -------- OBSERVABILITY --------
	sink := b.auditSink
	if sink == nil && cfg.Audit.Enabled {
		sink = audit.NewZapSink(logger.Named("audit"))
	}
	engine.audit = audit.NewDispatcher(audit.Config{
		Enabled:    cfg.Audit.Enabled,
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
		Logger:     logger.Named("audit"),
	}, sink)
	engine.metrics = NewMetrics(cfg.Metrics)

	// -------- PASSWORDS --------
	ph, err := password.New(password.Params{
		Memory:      cfg.Password.Memory,
		Time:        cfg.Password.Time,
		Parallelism: cfg.Password.Parallelism,
		SaltLength:  cfg.Password.SaltLength,
		KeyLength:   cfg.Password.KeyLength,
	})
	if err != nil {
		engine.Close()
		return nil, err
	}
	engine.passwordHash = ph

	// -------- CODE CHECK --------
	stored := &storeCodeVerifier{
		store: engine.challenges,
		maxAttempts: map[string]int{
			PurposeRecovery:     cfg.Recovery.MaxAttempts,
			PurposeVerification: cfg.EmailVerification.MaxAttempts,
		},
	}
	switch {
	case b.codeVerifier != nil:
		engine.codeVerifier = b.codeVerifier
	case cfg.Mock.Enabled:
		engine.codeVerifier = &mockCodeVerifier{accept: cfg.Mock.AcceptCode, users: b.userProvider, next: stored}
		logger.Warn("mock mode enabled: every identifier accepts the fixed code")
	default:
		engine.codeVerifier = stored
	}
	if engine.notifier == nil {
		engine.notifier = NotifierFunc(func(_ context.Context, d Delivery) error {
			logger.Info("mock delivery", zap.String("purpose", d.Purpose), zap.String("to", DescribeDestination(d.To)))
			return nil
		})
	}

	engine.flows = engine.buildFlowDeps()

	b.built = true

	return engine, nil
}

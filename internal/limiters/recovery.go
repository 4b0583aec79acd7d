package limiters

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/goRecover/internal/rate"
	"github.com/redis/go-redis/v9"
)

var (
	ErrChallengeRateLimited      = errors.New("challenge rate limited")
	ErrChallengeRedisUnavailable = errors.New("challenge limiter redis unavailable")
)

// ChallengeConfig tunes a [ChallengeLimiter]. Prefix separates the recovery
// and email-verification key spaces.
type ChallengeConfig struct {
	Prefix                   string
	EnableIdentifierThrottle bool
	EnableIPThrottle         bool
	Window                   time.Duration
	MaxRequests              int
	MaxVerifies              int
}

// ChallengeLimiter throttles code issuance and code checks per subject and
// per client IP.
type ChallengeLimiter struct {
	config  ChallengeConfig
	request *rate.Window
	verify  *rate.Window
}

func NewChallengeLimiter(redisClient redis.UniversalClient, cfg ChallengeConfig) *ChallengeLimiter {
	if cfg.Prefix == "" {
		cfg.Prefix = "grl"
	}
	return &ChallengeLimiter{
		config:  cfg,
		request: rate.NewWindow(redisClient, cfg.MaxRequests, cfg.Window),
		verify:  rate.NewWindow(redisClient, cfg.MaxVerifies, cfg.Window),
	}
}

func (l *ChallengeLimiter) CheckRequest(ctx context.Context, subject, ip string) error {
	if l.config.EnableIdentifierThrottle {
		if err := hit(ctx, l.request, l.key("q", subject)); err != nil {
			return err
		}
	}
	if l.config.EnableIPThrottle && ip != "" {
		if err := hit(ctx, l.request, l.key("qip", ip)); err != nil {
			return err
		}
	}
	return nil
}

func (l *ChallengeLimiter) CheckVerify(ctx context.Context, subject, ip string) error {
	if l.config.EnableIdentifierThrottle {
		if err := hit(ctx, l.verify, l.key("v", subject)); err != nil {
			return err
		}
	}
	if l.config.EnableIPThrottle && ip != "" {
		if err := hit(ctx, l.verify, l.key("vip", ip)); err != nil {
			return err
		}
	}
	return nil
}

// ResetVerify clears the per-subject verify counter after a successful check.
func (l *ChallengeLimiter) ResetVerify(ctx context.Context, subject string) error {
	if err := l.verify.Reset(ctx, l.key("v", subject)); err != nil {
		return fmt.Errorf("%w: %v", ErrChallengeRedisUnavailable, err)
	}
	return nil
}

func (l *ChallengeLimiter) Window() time.Duration {
	return l.config.Window
}

func (l *ChallengeLimiter) key(kind, value string) string {
	return l.config.Prefix + kind + ":" + value
}

func hit(ctx context.Context, w *rate.Window, key string) error {
	if _, err := w.Hit(ctx, key); err != nil {
		if errors.Is(err, rate.ErrRateLimited) {
			return ErrChallengeRateLimited
		}
		return fmt.Errorf("%w: %v", ErrChallengeRedisUnavailable, err)
	}
	return nil
}

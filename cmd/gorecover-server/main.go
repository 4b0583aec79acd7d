package main

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	goRecover "github.com/MrEthical07/goRecover"
	"github.com/MrEthical07/goRecover/httpapi"
	promexport "github.com/MrEthical07/goRecover/metrics/export/prometheus"
	"github.com/MrEthical07/goRecover/notify"
	"github.com/MrEthical07/goRecover/store"
	"github.com/alicebob/miniredis/v2"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	envErr := godotenv.Load()

	cfg, err := loadConfig(os.Args[1:], os.Getenv)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}

	logger, err := newLogger(cfg.Debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()
	if envErr != nil {
		logger.Debug("no .env file loaded", zap.Error(envErr))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("gorecover-server failed", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("gorecover-server exited")
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func run(ctx context.Context, cfg serverConfig, logger *zap.Logger) error {
	rdb, closeRedis, err := openRedis(cfg.RedisAddr, logger)
	if err != nil {
		return err
	}
	defer closeRedis()

	users, err := store.Open(store.WithDSN(cfg.DatabaseDSN), store.WithLogger(logger.Named("store")))
	if err != nil {
		return fmt.Errorf("open user store: %w", err)
	}
	defer users.Close()

	notifier, err := buildNotifier(cfg, logger)
	if err != nil {
		return err
	}

	engineCfg, err := engineConfig(cfg, logger)
	if err != nil {
		return err
	}

	engine, err := goRecover.New().
		WithConfig(engineCfg).
		WithRedis(rdb).
		WithUserProvider(users).
		WithNotifier(notifier).
		WithLogger(logger.Named("engine")).
		Build()
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}
	defer engine.Close()

	signer, err := httpapi.NewSigner(engine.Config())
	if err != nil {
		return fmt.Errorf("grant signer: %w", err)
	}
	metrics, err := promexport.Handler(engine)
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	api := httpapi.New(engine, signer,
		httpapi.WithLogger(logger),
		httpapi.WithMetricsHandler(metrics),
		httpapi.WithTrustProxy(cfg.TrustProxy),
		httpapi.WithHealthCheck(func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}),
	)

	srv := &http.Server{Addr: cfg.Addr, Handler: api.Router()}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", cfg.Addr), zap.Bool("mock", cfg.Mock))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func engineConfig(cfg serverConfig, logger *zap.Logger) (goRecover.Config, error) {
	c := goRecover.DefaultConfig()
	c.Redis.Prefix = cfg.RedisPrefix
	c.Mock.Enabled = cfg.Mock
	c.Security.ProductionMode = cfg.Production
	c.EmailVerification.Enabled = cfg.EmailVerification
	c.Metrics.Enabled = true
	c.Metrics.EnableLatencyHistograms = true
	c.Audit.Enabled = true

	if cfg.GrantSecret != "" {
		c.Grant.PrivateKey = []byte(cfg.GrantSecret)
	} else {
		secret := make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return goRecover.Config{}, err
		}
		c.Grant.PrivateKey = secret
		logger.Warn("no grant secret configured; using an ephemeral one, grants will not survive a restart")
	}
	return c, c.Validate()
}

func buildNotifier(cfg serverConfig, logger *zap.Logger) (goRecover.Notifier, error) {
	fallback := notify.Log{Logger: logger.Named("delivery"), RevealCode: cfg.LogCodes}
	router := notify.Router{Email: fallback, SMS: fallback}

	if cfg.SMTP.Host != "" {
		email, err := notify.NewSMTPEmail(notify.SMTPConfig{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			From:     cfg.SMTP.From,
		})
		if err != nil {
			return nil, err
		}
		router.Email = email
	} else if cfg.Production {
		return nil, errors.New("production requires SMTP_HOST")
	}

	if os.Getenv("TWILIO_ACCOUNT_SID") != "" {
		sms, err := notify.NewTwilioSMS(notify.WithTwilioLogger(logger.Named("twilio")))
		if err != nil {
			return nil, err
		}
		router.SMS = sms
	} else if cfg.Production {
		return nil, errors.New("production requires Twilio credentials")
	}
	return router, nil
}

func openRedis(addr string, logger *zap.Logger) (redis.UniversalClient, func(), error) {
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			return nil, nil, fmt.Errorf("start miniredis: %w", err)
		}
		client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{mr.Addr()}})
		logger.Warn("no REDIS_ADDR set; using in-process miniredis", zap.String("addr", mr.Addr()))
		return client, func() {
			_ = client.Close()
			mr.Close()
		}, nil
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
	return client, func() { _ = client.Close() }, nil
}

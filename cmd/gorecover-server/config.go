package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Default configuration constants
const (
	DefaultAddr        = ":8080"
	DefaultRedisPrefix = "gr"
)

type smtpConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
}

// serverConfig is built from .env, the environment, flags and finally an
// optional YAML file. Keys present in the file win.
type serverConfig struct {
	Addr              string        `yaml:"addr"`
	RedisAddr         string        `yaml:"redis_addr"`
	RedisPrefix       string        `yaml:"redis_prefix"`
	DatabaseDSN       string        `yaml:"database_dsn"`
	GrantSecret       string        `yaml:"grant_secret"`
	Mock              bool          `yaml:"mock"`
	Production        bool          `yaml:"production"`
	EmailVerification bool          `yaml:"email_verification"`
	TrustProxy        bool          `yaml:"trust_proxy"`
	Debug             bool          `yaml:"debug"`
	LogCodes          bool          `yaml:"log_codes"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
	SMTP              smtpConfig    `yaml:"smtp"`
}

func envConfig(getenv func(string) string) serverConfig {
	cfg := serverConfig{
		Addr:              getenv("GORECOVER_ADDR"),
		RedisAddr:         getenv("REDIS_ADDR"),
		RedisPrefix:       getenv("GORECOVER_REDIS_PREFIX"),
		DatabaseDSN:       getenv("DATABASE_URL"),
		GrantSecret:       getenv("GORECOVER_GRANT_SECRET"),
		Mock:              envBool(getenv("GORECOVER_MOCK")),
		Production:        envBool(getenv("GORECOVER_PRODUCTION")),
		EmailVerification: envBool(getenv("GORECOVER_EMAIL_VERIFICATION")),
		TrustProxy:        envBool(getenv("GORECOVER_TRUST_PROXY")),
		LogCodes:          envBool(getenv("GORECOVER_LOG_CODES")),
		ShutdownTimeout:   10 * time.Second,
		SMTP: smtpConfig{
			Host:     getenv("SMTP_HOST"),
			Username: getenv("SMTP_USERNAME"),
			Password: getenv("SMTP_PASSWORD"),
			From:     getenv("SMTP_FROM"),
		},
	}
	if port, err := strconv.Atoi(getenv("SMTP_PORT")); err == nil {
		cfg.SMTP.Port = port
	}
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	if cfg.RedisPrefix == "" {
		cfg.RedisPrefix = DefaultRedisPrefix
	}
	return cfg
}

// loadConfig parses args over the environment defaults, then applies the
// YAML file named by -config if any.
func loadConfig(args []string, getenv func(string) string) (serverConfig, error) {
	cfg := envConfig(getenv)

	fs := flag.NewFlagSet("gorecover-server", flag.ContinueOnError)
	configPath := fs.String("config", getenv("GORECOVER_CONFIG"), "optional YAML config file (overrides $GORECOVER_CONFIG)")
	fs.StringVar(&cfg.Addr, "addr", cfg.Addr, "listen address (overrides $GORECOVER_ADDR)")
	fs.StringVar(&cfg.RedisAddr, "redis-addr", cfg.RedisAddr, "redis address; empty starts an in-process miniredis (overrides $REDIS_ADDR)")
	fs.StringVar(&cfg.RedisPrefix, "redis-prefix", cfg.RedisPrefix, "redis key prefix")
	fs.StringVar(&cfg.DatabaseDSN, "db-dsn", cfg.DatabaseDSN, "user store DSN: postgres URL, sqlite path, or empty for memory (overrides $DATABASE_URL)")
	fs.BoolVar(&cfg.Mock, "mock", cfg.Mock, "accept the fixed demo code and password")
	fs.BoolVar(&cfg.Production, "production", cfg.Production, "refuse insecure settings")
	fs.BoolVar(&cfg.EmailVerification, "email-verification", cfg.EmailVerification, "enable the email verification routes")
	fs.BoolVar(&cfg.TrustProxy, "trust-proxy", cfg.TrustProxy, "take the client address from X-Forwarded-For")
	fs.BoolVar(&cfg.Debug, "debug", cfg.Debug, "development logging")
	fs.BoolVar(&cfg.LogCodes, "log-codes", cfg.LogCodes, "log issued codes when no delivery channel is configured")
	fs.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout", cfg.ShutdownTimeout, "graceful shutdown timeout")
	if err := fs.Parse(args); err != nil {
		return serverConfig{}, err
	}

	if *configPath != "" {
		data, err := os.ReadFile(*configPath)
		if err != nil {
			return serverConfig{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return serverConfig{}, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.validate(); err != nil {
		return serverConfig{}, err
	}
	return cfg, nil
}

func (c serverConfig) validate() error {
	if c.Production {
		if c.Mock {
			return errors.New("mock mode is not allowed in production")
		}
		if len(c.GrantSecret) < 32 {
			return errors.New("production requires GORECOVER_GRANT_SECRET of at least 32 bytes")
		}
		if c.RedisAddr == "" {
			return errors.New("production requires REDIS_ADDR")
		}
		if c.LogCodes {
			return errors.New("log-codes is not allowed in production")
		}
	}
	if c.GrantSecret != "" && len(c.GrantSecret) < 32 {
		return errors.New("grant secret must be at least 32 bytes")
	}
	return nil
}

func envBool(v string) bool {
	b, _ := strconv.ParseBool(v)
	return b
}

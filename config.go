package goRecover

import (
	"errors"
	"strings"
	"time"

	"github.com/MrEthical07/goRecover/grant"
)

// Config is the complete engine configuration. Start from DefaultConfig and
// override what you need; Build calls Validate.
type Config struct {
	Flow              FlowConfig
	Recovery          RecoveryConfig
	EmailVerification EmailVerificationConfig
	Password          PasswordConfig
	Grant             GrantConfig
	Mock              MockConfig
	Audit             AuditConfig
	Metrics           MetricsConfig
	Security          SecurityConfig
	Redis             RedisConfig
}

/*
====================================
FLOW CONFIG
====================================
*/

// FlowConfig tunes the client-side Session. CodeDigits and ClaimedExpiry
// only shape the messages and the local length check; the server is
// authoritative for both.
type FlowConfig struct {
	CooldownSeconds int
	TickInterval    time.Duration
	CodeDigits      int
	ClaimedExpiry   time.Duration
}

/*
====================================
RECOVERY CONFIG
====================================
*/

type RecoveryConfig struct {
	Enabled                  bool
	OTPDigits                int
	CodeTTL                  time.Duration
	GrantTTL                 time.Duration
	MaxAttempts              int
	EnableIdentifierThrottle bool
	EnableIPThrottle         bool
	ThrottleWindow           time.Duration
	MaxRequestsPerWindow     int
	MaxVerifiesPerWindow     int
	MinPasswordStrength      int
	// EnumerationDelay adds a random 20-40ms pause before acknowledging an
	// identifier that matches no account.
	EnumerationDelay bool
}

type EmailVerificationConfig struct {
	Enabled               bool
	OTPDigits             int
	CodeTTL               time.Duration
	ResendCooldownSeconds int
	MaxAttempts           int
	ThrottleWindow        time.Duration
	MaxRequestsPerWindow  int
	MaxVerifiesPerWindow  int
}

/*
====================================
PASSWORD / GRANT CONFIG
====================================
*/

type PasswordConfig struct {
	Memory      uint32 // in KB
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// GrantConfig controls the signed tokens the HTTP API hands out after a
// successful code check. The engine itself does not need them.
type GrantConfig struct {
	SigningMethod string // "hs256" (default) or "ed25519"
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
}

/*
====================================
MOCK CONFIG
====================================
*/

// MockConfig enables demo mode: AcceptCode is accepted for any identifier
// and AcceptPassword passes Authenticate. Codes actually delivered through
// the Notifier keep working alongside AcceptCode.
type MockConfig struct {
	Enabled        bool
	AcceptCode     string
	AcceptPassword string
}

/*
====================================
AUDIT / METRICS / SECURITY
====================================
*/

type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

type SecurityConfig struct {
	ProductionMode bool
}

type RedisConfig struct {
	Prefix string
}

/*
====================================
DEFAULT CONFIG
====================================
*/

// DefaultConfig returns the recommended configuration. Recovery is enabled,
// email verification and mock mode are not.
func DefaultConfig() Config {
	return Config{
		Flow: FlowConfig{
			CooldownSeconds: 60,
			TickInterval:    time.Second,
			CodeDigits:      6,
			ClaimedExpiry:   10 * time.Minute,
		},
		Recovery: RecoveryConfig{
			Enabled:                  true,
			OTPDigits:                6,
			CodeTTL:                  10 * time.Minute,
			GrantTTL:                 10 * time.Minute,
			MaxAttempts:              5,
			EnableIdentifierThrottle: true,
			EnableIPThrottle:         true,
			ThrottleWindow:           15 * time.Minute,
			MaxRequestsPerWindow:     5,
			MaxVerifiesPerWindow:     10,
			MinPasswordStrength:      MinPasswordStrength,
			EnumerationDelay:         true,
		},
		EmailVerification: EmailVerificationConfig{
			Enabled:               false,
			OTPDigits:             6,
			CodeTTL:               10 * time.Minute,
			ResendCooldownSeconds: 30,
			MaxAttempts:           5,
			ThrottleWindow:        15 * time.Minute,
			MaxRequestsPerWindow:  5,
			MaxVerifiesPerWindow:  10,
		},
		Password: PasswordConfig{
			Memory:      65536,
			Time:        3,
			Parallelism: 2,
			SaltLength:  16,
			KeyLength:   32,
		},
		Grant: GrantConfig{
			SigningMethod: string(grant.MethodHS256),
			Issuer:        "gorecover",
		},
		Mock: MockConfig{
			Enabled:        false,
			AcceptCode:     "123456",
			AcceptPassword: "password",
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 false,
			EnableLatencyHistograms: false,
		},
		Redis: RedisConfig{
			Prefix: "gr",
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.Grant.PrivateKey = cloneBytes(cfg.Grant.PrivateKey)
	out.Grant.PublicKey = cloneBytes(cfg.Grant.PublicKey)
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate checks every section and returns the first problem found.
func (c *Config) Validate() error {
	if err := c.Flow.Validate(); err != nil {
		return err
	}

	// Recovery
	if c.Recovery.Enabled {
		if c.Recovery.OTPDigits < 6 || c.Recovery.OTPDigits > 10 {
			return errors.New("Recovery OTPDigits must be between 6 and 10")
		}
		if c.Recovery.CodeTTL <= 0 || c.Recovery.CodeTTL > time.Hour {
			return errors.New("Recovery CodeTTL must be in (0, 1h]")
		}
		if c.Recovery.GrantTTL <= 0 || c.Recovery.GrantTTL > time.Hour {
			return errors.New("Recovery GrantTTL must be in (0, 1h]")
		}
		if c.Recovery.MaxAttempts <= 0 || c.Recovery.MaxAttempts > 10 {
			return errors.New("Recovery MaxAttempts must be between 1 and 10")
		}
		if c.Recovery.ThrottleWindow <= 0 {
			return errors.New("Recovery ThrottleWindow must be > 0")
		}
		if c.Recovery.MaxRequestsPerWindow <= 0 || c.Recovery.MaxVerifiesPerWindow <= 0 {
			return errors.New("Recovery per-window limits must be > 0")
		}
		if c.Recovery.MinPasswordStrength < 0 || c.Recovery.MinPasswordStrength > MaxPasswordStrength {
			return errors.New("Recovery MinPasswordStrength must be between 0 and 4")
		}
		if c.Flow.CodeDigits != c.Recovery.OTPDigits {
			return errors.New("Flow CodeDigits must equal Recovery OTPDigits")
		}
	}

	// Email verification
	if c.EmailVerification.Enabled {
		if c.EmailVerification.OTPDigits < 6 || c.EmailVerification.OTPDigits > 10 {
			return errors.New("EmailVerification OTPDigits must be between 6 and 10")
		}
		if c.EmailVerification.CodeTTL <= 0 {
			return errors.New("EmailVerification CodeTTL must be > 0")
		}
		if c.EmailVerification.ResendCooldownSeconds < 0 {
			return errors.New("EmailVerification ResendCooldownSeconds must be >= 0")
		}
		if c.EmailVerification.MaxAttempts <= 0 {
			return errors.New("EmailVerification MaxAttempts must be > 0")
		}
		if c.EmailVerification.ThrottleWindow <= 0 ||
			c.EmailVerification.MaxRequestsPerWindow <= 0 ||
			c.EmailVerification.MaxVerifiesPerWindow <= 0 {
			return errors.New("EmailVerification throttle settings must be > 0")
		}
	}

	// Password
	if c.Password.Memory < 8*1024 {
		return errors.New("Password Memory must be >= 8192 KB")
	}
	if c.Password.Time < 1 {
		return errors.New("Password Time must be >= 1")
	}
	if c.Password.Parallelism < 1 {
		return errors.New("Password Parallelism must be >= 1")
	}
	if c.Password.SaltLength < 16 {
		return errors.New("Password SaltLength must be >= 16")
	}
	if c.Password.KeyLength < 16 {
		return errors.New("Password KeyLength must be >= 16")
	}

	// Grant
	switch grant.SigningMethod(c.Grant.SigningMethod) {
	case grant.MethodHS256, grant.MethodEd25519:
	default:
		return errors.New("Grant SigningMethod must be 'hs256' or 'ed25519'")
	}

	// Mock
	if c.Mock.Enabled {
		if c.Security.ProductionMode {
			return errors.New("Mock mode cannot be enabled in ProductionMode")
		}
		if len(c.Mock.AcceptCode) != c.Flow.CodeDigits || !isDigits(c.Mock.AcceptCode) {
			return errors.New("Mock AcceptCode must be a numeric code of Flow CodeDigits length")
		}
		if c.Mock.AcceptPassword == "" {
			return errors.New("Mock AcceptPassword must not be empty")
		}
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0")
	}

	// Redis
	if strings.TrimSpace(c.Redis.Prefix) == "" {
		return errors.New("Redis Prefix must not be empty")
	}
	if strings.ContainsAny(c.Redis.Prefix, " \t\r\n") {
		return errors.New("Redis Prefix must not contain whitespace")
	}

	return nil
}

// Validate checks the client-side flow settings.
func (f FlowConfig) Validate() error {
	if f.CooldownSeconds < 0 {
		return errors.New("Flow CooldownSeconds must be >= 0")
	}
	if f.TickInterval <= 0 {
		return errors.New("Flow TickInterval must be > 0")
	}
	if f.CodeDigits < 4 || f.CodeDigits > 10 {
		return errors.New("Flow CodeDigits must be between 4 and 10")
	}
	if f.ClaimedExpiry <= 0 {
		return errors.New("Flow ClaimedExpiry must be > 0")
	}
	return nil
}

// DefaultFlowConfig returns DefaultConfig().Flow.
func DefaultFlowConfig() FlowConfig {
	return DefaultConfig().Flow
}

package ticketauth

import (
	"errors"
	"strings"
	"time"

	"github.com/MrEthical07/ticketauth/access"
)

// Config is the complete engine configuration. Start from DefaultConfig and
// override fields; Build validates the result.
type Config struct {
	Token        TokenConfig
	Revocation   RevocationConfig
	Verification VerificationConfig
	Captcha      CaptchaConfig
	Access       AccessConfig
	Registration RegistrationConfig
	Federation   FederationConfig
	Security     SecurityConfig
	Password     PasswordConfig
	Audit        AuditConfig
	Metrics      MetricsConfig
}

/*
====================================
TOKEN CONFIG
====================================
*/

// TokenConfig configures token signing.
type TokenConfig struct {
	TTL           time.Duration
	SigningMethod string // "hs256" (default) or "ed25519"
	// PrivateKey is the HS256 secret or Ed25519 private key. An empty HS256
	// key makes the engine generate a random secret at Build.
	PrivateKey []byte
	PublicKey  []byte
	Issuer     string
	Leeway     time.Duration
}

/*
====================================
REVOCATION CONFIG
====================================
*/

// RevocationBackend selects where revoked tokens are kept.
type RevocationBackend string

const (
	RevocationMemory RevocationBackend = "memory"
	RevocationRedis  RevocationBackend = "redis"
)

type RevocationConfig struct {
	Backend RevocationBackend
	// SweepBatch bounds the opportunistic sweep done by each Revoke.
	SweepBatch int
	// SweepInterval runs a background sweep for the memory backend. Zero
	// disables it.
	SweepInterval time.Duration
	RedisPrefix   string
}

/*
====================================
VERIFICATION CONFIG
====================================
*/

// VerificationConfig configures email verification codes.
type VerificationConfig struct {
	CodeLength     int
	CodeTTL        time.Duration
	ResendInterval time.Duration
	MaxRetries     int
	// RequireCaptcha makes SendVerificationCode refuse to run without a
	// solved captcha.
	RequireCaptcha bool
	// MaxSendsPerIP caps code sends per client IP within SendWindow. Zero
	// disables the cap.
	MaxSendsPerIP int
	SendWindow    time.Duration
	// RegistrationReplayWindow lets a duplicate CompleteRegistrationWithCode
	// with an already redeemed code resolve to a login for this long. Zero
	// makes every code strictly one-shot.
	RegistrationReplayWindow time.Duration
	RedisPrefix              string
}

/*
====================================
CAPTCHA CONFIG
====================================
*/

type CaptchaConfig struct {
	Length      int
	TTL         time.Duration
	RedisPrefix string
}

/*
====================================
ACCESS CONFIG
====================================
*/

// AccessConfig is the route authorization table.
type AccessConfig struct {
	PublicPaths []string
	Rules       []access.Rule
}

/*
====================================
REGISTRATION CONFIG
====================================
*/

type RegistrationConfig struct {
	DefaultRole string
	// UsernameAttempts bounds suffix retries when a derived username is taken.
	UsernameAttempts int
	// PendingRedisPrefix stores the password supplied to LoginOrRegister
	// until the code is confirmed.
	PendingRedisPrefix string
}

/*
====================================
FEDERATION CONFIG
====================================
*/

type FederationConfig struct {
	Enabled        bool
	StateTTL       time.Duration
	UsernamePrefix string
	RedisPrefix    string
}

/*
====================================
SECURITY CONFIG
====================================
*/

// SecurityConfig configures the failed-login throttle.
type SecurityConfig struct {
	EnableLoginThrottle   bool
	EnableIPThrottle      bool
	MaxLoginAttempts      int
	LoginCooldownDuration time.Duration
}

/*
====================================
PASSWORD CONFIG
====================================
*/

// PasswordConfig tunes the default argon2id hasher.
type PasswordConfig struct {
	Memory      uint32 // in KB
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

/*
====================================
AUDIT & METRICS CONFIG
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

/*
====================================
DEFAULTS
====================================
*/

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		Token: TokenConfig{
			TTL:           12 * time.Hour,
			SigningMethod: "hs256",
		},
		Revocation: RevocationConfig{
			Backend:       RevocationMemory,
			SweepBatch:    64,
			SweepInterval: 10 * time.Minute,
			RedisPrefix:   "ta:rv",
		},
		Verification: VerificationConfig{
			CodeLength:     6,
			CodeTTL:        15 * time.Minute,
			ResendInterval: 60 * time.Second,
			MaxRetries:     3,
			SendWindow:     time.Hour,

			RegistrationReplayWindow: 2 * time.Minute,
			RedisPrefix:              "ta:vc",
		},
		Captcha: CaptchaConfig{
			Length:      4,
			TTL:         5 * time.Minute,
			RedisPrefix: "ta:captcha",
		},
		Access: AccessConfig{
			PublicPaths: access.DefaultPublicPaths(),
			Rules:       access.DefaultRules(),
		},
		Registration: RegistrationConfig{
			DefaultRole:        access.RoleUser,
			UsernameAttempts:   5,
			PendingRedisPrefix: "ta:pr",
		},
		Federation: FederationConfig{
			StateTTL:       10 * time.Minute,
			UsernamePrefix: "wx_",
			RedisPrefix:    "ta:oauth",
		},
		Security: SecurityConfig{
			EnableLoginThrottle:   true,
			MaxLoginAttempts:      5,
			LoginCooldownDuration: 15 * time.Minute,
		},
		Password: PasswordConfig{
			Memory:      64 * 1024,
			Time:        3,
			Parallelism: 2,
			SaltLength:  16,
			KeyLength:   32,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled: false,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.Token.PrivateKey = cloneBytes(cfg.Token.PrivateKey)
	out.Token.PublicKey = cloneBytes(cfg.Token.PublicKey)
	policy := access.Policy{PublicPaths: cfg.Access.PublicPaths, Rules: cfg.Access.Rules}.Clone()
	out.Access.PublicPaths = policy.PublicPaths
	out.Access.Rules = policy.Rules
	return out
}

func cloneBytes(b []byte) []byte {
	if b == nil {
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

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.Token.TTL <= 0 {
		return errors.New("Token TTL must be > 0")
	}
	switch strings.ToLower(c.Token.SigningMethod) {
	case "", "hs256":
		if len(c.Token.PrivateKey) > 0 && len(c.Token.PrivateKey) < 32 {
			return errors.New("Token hs256 key must be at least 32 bytes")
		}
	case "ed25519":
		if len(c.Token.PrivateKey) == 0 || len(c.Token.PublicKey) == 0 {
			return errors.New("Token ed25519 requires PrivateKey and PublicKey")
		}
	default:
		return errors.New("Token SigningMethod must be hs256 or ed25519")
	}
	if c.Token.Leeway < 0 {
		return errors.New("Token Leeway must be >= 0")
	}

	switch c.Revocation.Backend {
	case RevocationMemory, RevocationRedis:
	default:
		return errors.New("Revocation Backend must be memory or redis")
	}
	if c.Revocation.SweepBatch <= 0 {
		return errors.New("Revocation SweepBatch must be > 0")
	}
	if c.Revocation.SweepInterval < 0 {
		return errors.New("Revocation SweepInterval must be >= 0")
	}

	if c.Verification.CodeLength < 4 || c.Verification.CodeLength > 10 {
		return errors.New("Verification CodeLength must be between 4 and 10")
	}
	if c.Verification.CodeTTL <= 0 {
		return errors.New("Verification CodeTTL must be > 0")
	}
	if c.Verification.ResendInterval <= 0 {
		return errors.New("Verification ResendInterval must be > 0")
	}
	if c.Verification.ResendInterval >= c.Verification.CodeTTL {
		return errors.New("Verification ResendInterval must be shorter than CodeTTL")
	}
	if c.Verification.MaxRetries < 0 {
		return errors.New("Verification MaxRetries must be >= 0")
	}
	if c.Verification.MaxSendsPerIP < 0 {
		return errors.New("Verification MaxSendsPerIP must be >= 0")
	}
	if c.Verification.RegistrationReplayWindow < 0 {
		return errors.New("Verification RegistrationReplayWindow must be >= 0")
	}
	if c.Verification.MaxSendsPerIP > 0 && c.Verification.SendWindow <= 0 {
		return errors.New("Verification SendWindow must be > 0 when MaxSendsPerIP is set")
	}

	if c.Captcha.Length < 4 || c.Captcha.Length > 12 {
		return errors.New("Captcha Length must be between 4 and 12")
	}
	if c.Captcha.TTL <= 0 {
		return errors.New("Captcha TTL must be > 0")
	}

	for _, rule := range c.Access.Rules {
		if rule.Prefix == "" {
			return errors.New("Access rule Prefix must not be empty")
		}
		if len(rule.Roles) == 0 {
			return errors.New("Access rule " + rule.Prefix + " must name at least one role")
		}
	}

	if strings.TrimSpace(c.Registration.DefaultRole) == "" {
		return errors.New("Registration DefaultRole must not be empty")
	}
	if c.Registration.UsernameAttempts <= 0 {
		return errors.New("Registration UsernameAttempts must be > 0")
	}

	if c.Federation.Enabled && c.Federation.StateTTL <= 0 {
		return errors.New("Federation StateTTL must be > 0 when enabled")
	}

	if c.Security.EnableLoginThrottle {
		if c.Security.MaxLoginAttempts <= 0 {
			return errors.New("Security MaxLoginAttempts must be > 0 when the login throttle is enabled")
		}
		if c.Security.LoginCooldownDuration <= 0 {
			return errors.New("Security LoginCooldownDuration must be > 0 when the login throttle is enabled")
		}
	}

	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when enabled")
	}

	return nil
}

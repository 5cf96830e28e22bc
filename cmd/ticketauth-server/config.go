package main

import (
	"encoding/base64"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/MrEthical07/ticketauth"
	"github.com/MrEthical07/ticketauth/middleware"
	"github.com/joho/godotenv"
)

// Config contains runtime configuration values.
type Config struct {
	Environment   string
	HTTPPort      string
	DatabaseURL   string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	SnowflakeNode int64

	TokenTTL          time.Duration
	TokenSecret       []byte
	RevocationBackend string
	RateLimitRPM      int
	TrustedProxies    []string
	RequireCaptcha    bool
	MaxSendsPerIP     int
	AuditEnabled      bool

	WechatAppID       string
	WechatAppSecret   string
	WechatRedirectURI string

	AdminEmail    string
	AdminPassword string

	ShutdownTimeout time.Duration
}

// Load reads configuration from the environment, after loading a .env file
// when one exists.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		Environment:       getEnv("APP_ENV", "development"),
		HTTPPort:          getEnv("HTTP_PORT", "8080"),
		DatabaseURL:       strings.TrimSpace(os.Getenv("DATABASE_URL")),
		RedisAddr:         getEnv("REDIS_ADDR", "127.0.0.1:6379"),
		RedisPassword:     os.Getenv("REDIS_PASSWORD"),
		RedisDB:           getInt("REDIS_DB", 0),
		SnowflakeNode:     int64(getInt("SNOWFLAKE_NODE", 1)),
		TokenTTL:          getDuration("TOKEN_TTL", 12*time.Hour),
		RevocationBackend: strings.ToLower(getEnv("REVOCATION_BACKEND", string(ticketauth.RevocationRedis))),
		RateLimitRPM:      getInt("RATE_LIMIT_RPM", 60),
		TrustedProxies:    getList("TRUSTED_PROXIES"),
		RequireCaptcha:    getBool("REQUIRE_CAPTCHA", false),
		MaxSendsPerIP:     getInt("MAX_CODE_SENDS_PER_IP", 20),
		AuditEnabled:      getBool("AUDIT_ENABLED", true),
		WechatAppID:       strings.TrimSpace(os.Getenv("WECHAT_APP_ID")),
		WechatAppSecret:   strings.TrimSpace(os.Getenv("WECHAT_APP_SECRET")),
		WechatRedirectURI: strings.TrimSpace(os.Getenv("WECHAT_REDIRECT_URI")),
		AdminEmail:        strings.TrimSpace(os.Getenv("ADMIN_EMAIL")),
		AdminPassword:     os.Getenv("ADMIN_PASSWORD"),
		ShutdownTimeout:   getDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
	}

	if raw := strings.TrimSpace(os.Getenv("TOKEN_SECRET")); raw != "" {
		secret, err := base64.StdEncoding.DecodeString(raw)
		if err != nil {
			return Config{}, fmt.Errorf("TOKEN_SECRET must be base64: %w", err)
		}
		if len(secret) < 32 {
			return Config{}, fmt.Errorf("TOKEN_SECRET must decode to at least 32 bytes")
		}
		cfg.TokenSecret = secret
	}

	if (cfg.AdminEmail == "") != (cfg.AdminPassword == "") {
		return Config{}, fmt.Errorf("ADMIN_EMAIL and ADMIN_PASSWORD must be set together")
	}
	if _, err := middleware.ParseTrustedProxies(cfg.TrustedProxies); err != nil {
		return Config{}, fmt.Errorf("TRUSTED_PROXIES: %w", err)
	}
	if cfg.FederationEnabled() && cfg.WechatRedirectURI == "" {
		return Config{}, fmt.Errorf("WECHAT_REDIRECT_URI is required when WECHAT_APP_ID is set")
	}

	return cfg, nil
}

// FederationEnabled reports whether WeChat login is configured.
func (c Config) FederationEnabled() bool {
	return c.WechatAppID != "" && c.WechatAppSecret != ""
}

// EngineConfig maps the runtime settings onto the library defaults.
func (c Config) EngineConfig() ticketauth.Config {
	cfg := ticketauth.DefaultConfig()
	cfg.Token.TTL = c.TokenTTL
	cfg.Token.PrivateKey = c.TokenSecret
	cfg.Revocation.Backend = ticketauth.RevocationBackend(c.RevocationBackend)
	cfg.Verification.RequireCaptcha = c.RequireCaptcha
	cfg.Verification.MaxSendsPerIP = c.MaxSendsPerIP
	cfg.Federation.Enabled = c.FederationEnabled()
	cfg.Audit.Enabled = c.AuditEnabled
	cfg.Metrics.Enabled = true
	cfg.Metrics.EnableLatencyHistograms = true
	cfg.Access.PublicPaths = append(cfg.Access.PublicPaths, extraPublicPaths...)
	return cfg
}

// extraPublicPaths are the unauthenticated endpoints this server adds on
// top of the library defaults.
var extraPublicPaths = []string{
	"/api/auth/user/register/verify",
	"/api/auth/verification/**",
	"/healthz",
}

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

func getDuration(key string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok {
		d, err := time.ParseDuration(v)
		if err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return def
}

func getBool(key string, def bool) bool {
	if v, ok := os.LookupEnv(key); ok {
		switch strings.ToLower(v) {
		case "1", "true", "t", "yes", "y", "on":
			return true
		case "0", "false", "f", "no", "n", "off":
			return false
		}
	}
	return def
}

// getList splits a comma separated variable, dropping blank entries.
func getList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

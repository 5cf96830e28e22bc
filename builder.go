package ticketauth

import (
	"context"
	"errors"
	"strings"

	"github.com/MrEthical07/ticketauth/access"
	internalaudit "github.com/MrEthical07/ticketauth/internal/audit"
	"github.com/MrEthical07/ticketauth/internal/rate"
	"github.com/MrEthical07/ticketauth/internal/stores"
	"github.com/MrEthical07/ticketauth/jwt"
	"github.com/MrEthical07/ticketauth/password"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Builder assembles an Engine. A Builder can be used for one Build only.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	credentials CredentialStore
	mailer      EmailSender
	renderer    CaptchaRenderer
	passwords   PasswordHasher
	federation  FederatedProvider
	auditSink   AuditSink
	logger      *zap.Logger

	built bool
}

// New returns a Builder seeded with DefaultConfig.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the client backing verification codes, captchas, the login
// throttle and (optionally) revocation. It is required.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithCredentialStore sets the identity store. It is required.
func (b *Builder) WithCredentialStore(store CredentialStore) *Builder {
	b.credentials = store
	return b
}

// WithEmailSender sets the verification code transport. It is required.
func (b *Builder) WithEmailSender(sender EmailSender) *Builder {
	b.mailer = sender
	return b
}

// WithCaptchaRenderer sets the captcha image renderer. Without one,
// IssueCaptcha returns the key with an empty image.
func (b *Builder) WithCaptchaRenderer(renderer CaptchaRenderer) *Builder {
	b.renderer = renderer
	return b
}

// WithPasswordHasher replaces the default argon2id hasher.
func (b *Builder) WithPasswordHasher(hasher PasswordHasher) *Builder {
	b.passwords = hasher
	return b
}

// WithFederatedProvider sets the third-party login bridge. It is required
// when Config.Federation.Enabled is set.
func (b *Builder) WithFederatedProvider(provider FederatedProvider) *Builder {
	b.federation = provider
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithLogger sets the logger used for operational warnings. Defaults to a
// no-op logger.
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

// Build validates the configuration and wires every component.
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
	if b.credentials == nil {
		return nil, errors.New("credential store required")
	}
	if b.mailer == nil {
		return nil, errors.New("email sender required")
	}
	if cfg.Federation.Enabled && b.federation == nil {
		return nil, errors.New("federation enabled but no provider configured")
	}

	logger := b.logger
	if logger == nil {
		logger = zap.NewNop()
	}

	codec, err := jwt.NewManager(jwt.Config{
		TTL:           cfg.Token.TTL,
		SigningMethod: jwt.SigningMethod(strings.ToLower(cfg.Token.SigningMethod)),
		PrivateKey:    cloneBytes(cfg.Token.PrivateKey),
		PublicKey:     cloneBytes(cfg.Token.PublicKey),
		Issuer:        cfg.Token.Issuer,
		Leeway:        cfg.Token.Leeway,
	})
	if err != nil {
		return nil, err
	}

	passwords := b.passwords
	if passwords == nil {
		ph, err := password.NewArgon2(password.Config{
			Memory:      cfg.Password.Memory,
			Time:        cfg.Password.Time,
			Parallelism: cfg.Password.Parallelism,
			SaltLength:  cfg.Password.SaltLength,
			KeyLength:   cfg.Password.KeyLength,
		})
		if err != nil {
			return nil, err
		}
		passwords = ph
	}

	engine := &Engine{
		config:      cloneConfig(cfg),
		codec:       codec,
		credentials: b.credentials,
		mailer:      b.mailer,
		renderer:    b.renderer,
		passwords:   passwords,
		federation:  b.federation,
		logger:      logger.Named("ticketauth"),
		policy: access.Policy{
			PublicPaths: cfg.Access.PublicPaths,
			Rules:       cfg.Access.Rules,
		}.Clone(),
	}

	// -------- REVOCATION --------
	revocationCfg := stores.RevocationConfig{
		MalformedTTL: cfg.Token.TTL,
		SweepBatch:   cfg.Revocation.SweepBatch,
		Prefix:       cfg.Revocation.RedisPrefix,
	}
	switch cfg.Revocation.Backend {
	case RevocationRedis:
		engine.revocations = stores.NewRedisRevocationStore(b.redis, codec.ExpiresAt, revocationCfg)
	default:
		memory := stores.NewMemoryRevocationStore(codec.ExpiresAt, revocationCfg)
		engine.revocations = memory
		if cfg.Revocation.SweepInterval > 0 {
			ctx, cancel := context.WithCancel(context.Background())
			done := make(chan struct{})
			go func() {
				defer close(done)
				memory.Run(ctx, cfg.Revocation.SweepInterval)
			}()
			engine.stopJanitor = cancel
			engine.janitorDone = done
		}
	}

	// -------- VERIFICATION & CHALLENGES --------
	engine.codes = stores.NewVerificationCodeStore(b.redis, cfg.Verification.RedisPrefix, stores.VerificationCodeConfig{
		CodeTTL:        cfg.Verification.CodeTTL,
		ResendInterval: cfg.Verification.ResendInterval,
		MaxRetries:     cfg.Verification.MaxRetries,
	})
	engine.pending = stores.NewPendingRegistrationStore(b.redis, cfg.Registration.PendingRedisPrefix)
	engine.captchas = stores.NewChallengeStore(b.redis, cfg.Captcha.RedisPrefix)
	engine.states = stores.NewChallengeStore(b.redis, cfg.Federation.RedisPrefix)

	engine.limiter = rate.New(b.redis, rate.Config{
		EnableIPThrottle:      cfg.Security.EnableIPThrottle,
		MaxLoginAttempts:      cfg.Security.MaxLoginAttempts,
		LoginCooldownDuration: cfg.Security.LoginCooldownDuration,
		MaxCodeSendsPerIP:     cfg.Verification.MaxSendsPerIP,
		CodeSendWindow:        cfg.Verification.SendWindow,
	})

	// -------- AUDIT & METRICS --------
	sink := b.auditSink
	if sink == nil && cfg.Audit.Enabled {
		sink = internalaudit.NewZapSink(logger.Named("audit"))
	}
	engine.audit = internalaudit.NewDispatcher(internalaudit.Config{
		Enabled:    cfg.Audit.Enabled,
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
		Logger:     logger.Named("audit"),
	}, sink)
	engine.metrics = NewMetrics(cfg.Metrics)

	b.built = true

	return engine, nil
}

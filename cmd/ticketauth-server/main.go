// Command ticketauth-server runs the ticket-sales authentication API.
//
// Configuration is read from the environment (and a .env file when
// present). Without DATABASE_URL identities are kept in memory.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/MrEthical07/ticketauth"
	"github.com/MrEthical07/ticketauth/credstore/memory"
	"github.com/MrEthical07/ticketauth/credstore/postgres"
	"github.com/MrEthical07/ticketauth/federation"
	"github.com/MrEthical07/ticketauth/metrics/export/prometheus"
	"github.com/MrEthical07/ticketauth/middleware"
	"github.com/MrEthical07/ticketauth/password"
	"github.com/bwmarrin/snowflake"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

func main() {
	app := fx.New(
		fx.Provide(
			newConfig,
			newLogger,
			newSnowflake,
			newRedisClient,
			newCredentialStore,
			newMailer,
			newRenderer,
			newPasswordHasher,
			newFederationProvider,
			newEngine,
			newHandler,
			newRouter,
			newHTTPServer,
		),
		fx.Invoke(ensureAdmin, startHTTPServer),
	)

	app.Run()
}

func newConfig() (Config, error) {
	return Load()
}

func newLogger(cfg Config) (*zap.Logger, error) {
	var (
		logger *zap.Logger
		err    error
	)
	if cfg.Environment == "development" {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return nil, err
	}
	zap.ReplaceGlobals(logger)
	return logger, nil
}

func newSnowflake(cfg Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.SnowflakeNode)
}

func newRedisClient(lc fx.Lifecycle, cfg Config) (redis.UniversalClient, error) {
	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    []string{cfg.RedisAddr},
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})
	return client, nil
}

func newCredentialStore(lc fx.Lifecycle, cfg Config, node *snowflake.Node, logger *zap.Logger) (ticketauth.CredentialStore, error) {
	if cfg.DatabaseURL == "" {
		logger.Warn("DATABASE_URL not set, identities are kept in memory")
		return memory.NewWithNode(node), nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := postgres.New(pool, node)
	if err := store.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			pool.Close()
			return nil
		},
	})
	return store, nil
}

func newMailer(logger *zap.Logger) ticketauth.EmailSender {
	return newLogMailer(logger)
}

func newRenderer() ticketauth.CaptchaRenderer {
	return svgRenderer{noiseLines: 6}
}

func newPasswordHasher(cfg Config) (*password.Argon2, error) {
	p := cfg.EngineConfig().Password
	return password.NewArgon2(password.Config{
		Memory:      p.Memory,
		Time:        p.Time,
		Parallelism: p.Parallelism,
		SaltLength:  p.SaltLength,
		KeyLength:   p.KeyLength,
	})
}

func newFederationProvider(cfg Config) (ticketauth.FederatedProvider, error) {
	if !cfg.FederationEnabled() {
		return nil, nil
	}
	provider, err := federation.New(federation.Config{
		AppID:       cfg.WechatAppID,
		AppSecret:   cfg.WechatAppSecret,
		RedirectURL: cfg.WechatRedirectURI,
		Fragment:    "wechat_redirect",
	})
	if err != nil {
		return nil, fmt.Errorf("wechat provider: %w", err)
	}
	return provider, nil
}

type engineParams struct {
	fx.In

	Lifecycle  fx.Lifecycle
	Config     Config
	Redis      redis.UniversalClient
	Store      ticketauth.CredentialStore
	Mailer     ticketauth.EmailSender
	Renderer   ticketauth.CaptchaRenderer
	Hasher     *password.Argon2
	Federation ticketauth.FederatedProvider
	Logger     *zap.Logger
}

func newEngine(p engineParams) (*ticketauth.Engine, error) {
	builder := ticketauth.New().
		WithConfig(p.Config.EngineConfig()).
		WithRedis(p.Redis).
		WithCredentialStore(p.Store).
		WithEmailSender(p.Mailer).
		WithCaptchaRenderer(p.Renderer).
		WithPasswordHasher(p.Hasher).
		WithLogger(p.Logger).
		WithAuditSink(ticketauth.NewZapSink(p.Logger.Named("audit")))
	if p.Federation != nil {
		builder = builder.WithFederatedProvider(p.Federation)
	}

	engine, err := builder.Build()
	if err != nil {
		return nil, fmt.Errorf("build engine: %w", err)
	}

	p.Lifecycle.Append(fx.Hook{
		OnStop: func(context.Context) error {
			engine.Close()
			return nil
		},
	})
	return engine, nil
}

// newRouter mounts /metrics outside the gate and every other route behind
// it. The request logger wraps both, and RealIP runs first so every layer
// keys on the same client address.
func newRouter(handler *Handler, engine *ticketauth.Engine, cfg Config, logger *zap.Logger) (http.Handler, error) {
	proxies, err := middleware.ParseTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		return nil, err
	}

	api := http.NewServeMux()
	handler.Routes(api, middleware.RateLimit(cfg.RateLimitRPM))

	root := http.NewServeMux()
	root.Handle("GET /metrics", prometheus.NewExporter(engine).Handler())
	root.Handle("/", middleware.Gate(engine)(api))

	return middleware.RealIP(proxies)(middleware.RequestLogger(logger)(root)), nil
}

// ensureAdmin seeds the configured administrator once.
func ensureAdmin(lc fx.Lifecycle, cfg Config, store ticketauth.CredentialStore, hasher *password.Argon2, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return seedAdmin(ctx, cfg, store, hasher, logger)
		},
	})
}

func seedAdmin(ctx context.Context, cfg Config, store ticketauth.CredentialStore, hasher ticketauth.PasswordHasher, logger *zap.Logger) error {
	email := strings.ToLower(strings.TrimSpace(cfg.AdminEmail))
	if email == "" {
		return nil
	}

	if _, err := store.FindByEmail(ctx, email); err == nil {
		return nil
	} else if !errors.Is(err, ticketauth.ErrIdentityNotFound) {
		return fmt.Errorf("bootstrap lookup admin: %w", err)
	}

	hash, err := hasher.Hash(cfg.AdminPassword)
	if err != nil {
		return fmt.Errorf("bootstrap hash password: %w", err)
	}

	created, err := store.Create(ctx, ticketauth.Identity{
		Email:        email,
		Username:     "admin_" + strings.SplitN(email, "@", 2)[0],
		DisplayName:  "Admin",
		PasswordHash: hash,
		Role:         ticketauth.RoleAdmin,
		Status:       ticketauth.StatusEnabled,
		CreatedAt:    time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("bootstrap create admin: %w", err)
	}

	logger.Info("admin identity created", zap.Int64("user_id", created.ID), zap.String("email", email))
	return nil
}

func startHTTPServer(lc fx.Lifecycle, srv *HTTPServer, cfg Config, logger *zap.Logger) {
	addr := ":" + cfg.HTTPPort
	var (
		cancel context.CancelFunc
		done   chan struct{}
	)

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			runCtx, stop := context.WithCancel(context.Background())
			cancel = stop
			done = make(chan struct{})

			go func() {
				if err := srv.Run(runCtx, addr); err != nil {
					logger.Error("http server stopped", zap.Error(err))
				}
				close(done)
			}()

			logger.Info("http server listening", zap.String("addr", addr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if cancel != nil {
				cancel()
			}
			if done == nil {
				return nil
			}
			select {
			case <-done:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	})
}

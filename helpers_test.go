package ticketauth

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/ticketauth/password"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t testing.TB) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
		mr.Close()
	})
	return mr, client
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Password = PasswordConfig{
		Memory:      8 * 1024,
		Time:        1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   32,
	}
	cfg.Revocation.SweepInterval = 0
	cfg.Metrics.Enabled = true
	return cfg
}

func newTestHasher(t testing.TB) *password.Argon2 {
	t.Helper()
	cfg := testConfig().Password
	hasher, err := password.NewArgon2(password.Config{
		Memory:      cfg.Memory,
		Time:        cfg.Time,
		Parallelism: cfg.Parallelism,
		SaltLength:  cfg.SaltLength,
		KeyLength:   cfg.KeyLength,
	})
	if err != nil {
		t.Fatalf("NewArgon2 failed: %v", err)
	}
	return hasher
}

type mockCredentialStore struct {
	mu       sync.Mutex
	nextID   int64
	byID     map[int64]Identity
	creates  int
	updates  int
	createFn func()
	touchFn  func()
}

func newMockCredentialStore() *mockCredentialStore {
	return &mockCredentialStore{
		nextID: 100,
		byID:   map[int64]Identity{},
	}
}

func (m *mockCredentialStore) add(identity Identity) Identity {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	identity.ID = m.nextID
	m.byID[identity.ID] = identity
	return identity
}

func (m *mockCredentialStore) FindByEmail(_ context.Context, email string) (Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, identity := range m.byID {
		if identity.Email != "" && strings.EqualFold(identity.Email, email) {
			return identity, nil
		}
	}
	return Identity{}, ErrIdentityNotFound
}

func (m *mockCredentialStore) FindByID(_ context.Context, id int64) (Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	identity, ok := m.byID[id]
	if !ok {
		return Identity{}, ErrIdentityNotFound
	}
	return identity, nil
}

func (m *mockCredentialStore) FindByExternalID(_ context.Context, externalID string) (Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, identity := range m.byID {
		if identity.ExternalID != "" && identity.ExternalID == externalID {
			return identity, nil
		}
	}
	return Identity{}, ErrIdentityNotFound
}

func (m *mockCredentialStore) Create(_ context.Context, identity Identity) (Identity, error) {
	if m.createFn != nil {
		m.createFn()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.byID {
		if identity.Email != "" && strings.EqualFold(existing.Email, identity.Email) {
			return Identity{}, ErrIdentityExists
		}
		if identity.ExternalID != "" && existing.ExternalID == identity.ExternalID {
			return Identity{}, ErrIdentityExists
		}
	}
	for _, existing := range m.byID {
		if existing.Username == identity.Username {
			return Identity{}, ErrUsernameTaken
		}
	}

	m.nextID++
	identity.ID = m.nextID
	m.byID[identity.ID] = identity
	m.creates++
	return identity, nil
}

func (m *mockCredentialStore) Update(_ context.Context, identity Identity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byID[identity.ID]; !ok {
		return ErrIdentityNotFound
	}
	m.byID[identity.ID] = identity
	m.updates++
	return nil
}

func (m *mockCredentialStore) TouchLastLogin(_ context.Context, id int64, at time.Time) error {
	if m.touchFn != nil {
		m.touchFn()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	identity, ok := m.byID[id]
	if !ok {
		return ErrIdentityNotFound
	}
	identity.LastLoginAt = at
	m.byID[id] = identity
	return nil
}

func (m *mockCredentialStore) createCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.creates
}

type captureMailer struct {
	mu    sync.Mutex
	codes map[string][]string
	fail  bool
}

func newCaptureMailer() *captureMailer {
	return &captureMailer{codes: map[string][]string{}}
}

func (m *captureMailer) SendVerificationCode(_ context.Context, email, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errors.New("smtp: connection refused")
	}
	m.codes[email] = append(m.codes[email], code)
	return nil
}

func (m *captureMailer) setFail(fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail = fail
}

func (m *captureMailer) last(t *testing.T, email string) string {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	codes := m.codes[email]
	if len(codes) == 0 {
		t.Fatalf("no code delivered to %s", email)
	}
	return codes[len(codes)-1]
}

func (m *captureMailer) count(email string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.codes[email])
}

type stubRenderer struct{}

func (stubRenderer) Render(text string) ([]byte, string, error) {
	return []byte("<svg>" + text + "</svg>"), "image/svg+xml", nil
}

type testEnv struct {
	engine *Engine
	mr     *miniredis.Miniredis
	rdb    *redis.Client
	store  *mockCredentialStore
	mailer *captureMailer
	hasher *password.Argon2
}

func newTestEnv(t testing.TB, mutate func(*Config), opts ...func(*Builder)) *testEnv {
	t.Helper()

	cfg := testConfig()
	if mutate != nil {
		mutate(&cfg)
	}

	mr, rdb := newTestRedis(t)
	env := &testEnv{
		mr:     mr,
		rdb:    rdb,
		store:  newMockCredentialStore(),
		mailer: newCaptureMailer(),
		hasher: newTestHasher(t),
	}

	builder := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithCredentialStore(env.store).
		WithEmailSender(env.mailer).
		WithCaptchaRenderer(stubRenderer{}).
		WithPasswordHasher(env.hasher)
	for _, opt := range opts {
		opt(builder)
	}

	engine, err := builder.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)
	env.engine = engine
	return env
}

func (env *testEnv) addIdentity(t testing.TB, email, pass, role string, status IdentityStatus) Identity {
	t.Helper()
	hash, err := env.hasher.Hash(pass)
	if err != nil {
		t.Fatalf("hash failed: %v", err)
	}
	return env.store.add(Identity{
		Email:        email,
		Username:     strings.SplitN(email, "@", 2)[0],
		DisplayName:  email,
		PasswordHash: hash,
		Role:         role,
		Status:       status,
		CreatedAt:    time.Now(),
	})
}

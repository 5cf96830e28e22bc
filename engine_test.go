package ticketauth

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/ticketauth/access"
)

func TestLoginIssuesVerifiableToken(t *testing.T) {
	env := newTestEnv(t, nil)
	identity := env.addIdentity(t, "a@x.com", "secret1", RoleUser, StatusEnabled)

	before := time.Now()
	result, err := env.engine.Login(context.Background(), " A@x.com ", "secret1")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if result.SubjectID != identity.ID || result.Role != RoleUser || result.Username != "a" {
		t.Fatalf("unexpected login result: %+v", result)
	}
	if result.NewIdentity {
		t.Fatal("existing identity reported as new")
	}

	want := before.Add(12 * time.Hour)
	if d := result.ExpiresAt.Sub(want); d < -2*time.Second || d > 2*time.Second {
		t.Fatalf("expected expiry near %v, got %v", want, result.ExpiresAt)
	}

	principal, err := env.engine.VerifyToken(context.Background(), result.Token)
	if err != nil {
		t.Fatalf("VerifyToken failed: %v", err)
	}
	if principal.SubjectID != identity.ID || principal.Role != RoleUser || principal.Username != "a" {
		t.Fatalf("unexpected principal: %+v", principal)
	}

	stored, _ := env.store.FindByID(context.Background(), identity.ID)
	if stored.LastLoginAt.IsZero() {
		t.Fatal("expected last login bookkeeping")
	}
}

func TestLoginDisabledAccount(t *testing.T) {
	env := newTestEnv(t, nil)
	env.addIdentity(t, "a@x.com", "secret1", RoleUser, StatusDisabled)

	result, err := env.engine.Login(context.Background(), "a@x.com", "secret1")
	if !errors.Is(err, ErrAccountDisabled) {
		t.Fatalf("expected ErrAccountDisabled, got %v", err)
	}
	if result.Token != "" {
		t.Fatal("no token may be issued for a disabled account")
	}
}

func TestLoginBookkeepingKeepsConcurrentDisable(t *testing.T) {
	env := newTestEnv(t, nil)
	identity := env.addIdentity(t, "a@x.com", "secret1", RoleUser, StatusEnabled)
	ctx := context.Background()

	// an administrator disables the account while the login is in flight
	env.store.touchFn = func() {
		disabled := identity
		disabled.Status = StatusDisabled
		if err := env.store.Update(ctx, disabled); err != nil {
			t.Errorf("disable failed: %v", err)
		}
	}
	if _, err := env.engine.Login(ctx, "a@x.com", "secret1"); err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	stored, err := env.store.FindByID(ctx, identity.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Status != StatusDisabled {
		t.Fatalf("last-login write reverted the disable: %+v", stored)
	}
	if stored.LastLoginAt.IsZero() {
		t.Fatal("expected last login to be recorded")
	}
}

func TestLoginFailuresAreIndistinguishable(t *testing.T) {
	env := newTestEnv(t, nil)
	env.addIdentity(t, "a@x.com", "secret1", RoleUser, StatusEnabled)
	ctx := context.Background()

	_, errUnknown := env.engine.Login(ctx, "nobody@x.com", "secret1")
	_, errWrong := env.engine.Login(ctx, "a@x.com", "wrong-password")
	_, errEmpty := env.engine.Login(ctx, "a@x.com", "")

	for name, err := range map[string]error{"unknown": errUnknown, "wrong": errWrong, "empty": errEmpty} {
		if !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("%s: expected ErrInvalidCredentials, got %v", name, err)
		}
	}
}

func TestLoginAsRequiresRole(t *testing.T) {
	env := newTestEnv(t, nil)
	env.addIdentity(t, "user@x.com", "secret1", RoleUser, StatusEnabled)
	env.addIdentity(t, "admin@x.com", "secret1", RoleAdmin, StatusEnabled)
	ctx := context.Background()

	if _, err := env.engine.LoginAs(ctx, "user@x.com", "secret1", RoleAdmin); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for role mismatch, got %v", err)
	}
	result, err := env.engine.LoginAs(ctx, "admin@x.com", "secret1", RoleAdmin)
	if err != nil || result.Role != RoleAdmin {
		t.Fatalf("expected admin login, result=%+v err=%v", result, err)
	}
}

func TestLoginThrottleLocksOutEmail(t *testing.T) {
	env := newTestEnv(t, func(c *Config) {
		c.Security.MaxLoginAttempts = 3
	})
	env.addIdentity(t, "a@x.com", "secret1", RoleUser, StatusEnabled)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := env.engine.Login(ctx, "a@x.com", "bad-password"); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("attempt %d: expected ErrInvalidCredentials, got %v", i+1, err)
		}
	}
	if _, err := env.engine.Login(ctx, "a@x.com", "secret1"); !errors.Is(err, ErrLoginRateLimited) {
		t.Fatalf("expected ErrLoginRateLimited, got %v", err)
	}

	env.mr.FastForward(16 * time.Minute)
	if _, err := env.engine.Login(ctx, "a@x.com", "secret1"); err != nil {
		t.Fatalf("expected login after cooldown, got %v", err)
	}
}

func TestLoginOrRegisterNewEmailRequiresVerification(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	outcome, err := env.engine.LoginOrRegister(ctx, "new@x.com", "secret1", "")
	if err != nil {
		t.Fatalf("LoginOrRegister failed: %v", err)
	}
	if outcome.Kind != OutcomeVerificationRequired {
		t.Fatalf("expected verification required, got %v", outcome.Kind)
	}
	if outcome.Result.Token != "" {
		t.Fatal("no token may be issued before verification")
	}

	code := env.mailer.last(t, "new@x.com")
	if !regexp.MustCompile(`^[0-9]{6}$`).MatchString(code) {
		t.Fatalf("expected a 6-digit code, got %q", code)
	}

	remaining, ok, err := env.engine.VerificationCodeRemaining(ctx, "new@x.com")
	if err != nil || !ok {
		t.Fatalf("expected an active code, ok=%v err=%v", ok, err)
	}
	if remaining < 14*time.Minute || remaining > 15*time.Minute {
		t.Fatalf("expected ~15m remaining, got %v", remaining)
	}
	if env.store.createCount() != 0 {
		t.Fatal("identity must not be created before verification")
	}
}

func TestLoginOrRegisterExistingIdentityNeverRegisters(t *testing.T) {
	env := newTestEnv(t, nil)
	env.addIdentity(t, "a@x.com", "secret1", RoleUser, StatusEnabled)
	ctx := context.Background()

	if _, err := env.engine.LoginOrRegister(ctx, "a@x.com", "wrong-password", ""); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if env.mailer.count("a@x.com") != 0 {
		t.Fatal("no code may be sent for an existing identity")
	}

	outcome, err := env.engine.LoginOrRegister(ctx, "a@x.com", "secret1", "")
	if err != nil || outcome.Kind != OutcomeLoggedIn || outcome.Result.Token == "" {
		t.Fatalf("expected logged in outcome, outcome=%+v err=%v", outcome, err)
	}
}

func TestCompleteRegistrationCreatesIdentity(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	if _, err := env.engine.LoginOrRegister(ctx, "New.User@x.com", "secret1", "Fan"); err != nil {
		t.Fatalf("LoginOrRegister failed: %v", err)
	}
	code := env.mailer.last(t, "new.user@x.com")

	if _, err := env.engine.CompleteRegistrationWithCode(ctx, "new.user@x.com", "000000x"); !errors.Is(err, ErrCodeMismatch) {
		t.Fatalf("expected ErrCodeMismatch, got %v", err)
	}

	result, err := env.engine.CompleteRegistrationWithCode(ctx, "new.user@x.com", code)
	if err != nil {
		t.Fatalf("CompleteRegistrationWithCode failed: %v", err)
	}
	if !result.NewIdentity || result.Role != RoleUser || result.Username != "new.user" {
		t.Fatalf("unexpected registration result: %+v", result)
	}

	identity, err := env.store.FindByEmail(ctx, "new.user@x.com")
	if err != nil {
		t.Fatalf("identity not stored: %v", err)
	}
	if identity.DisplayName != "Fan" || identity.Status != StatusEnabled {
		t.Fatalf("unexpected identity: %+v", identity)
	}

	// the password given at registration is the account password
	if _, err := env.engine.Login(ctx, "new.user@x.com", "secret1"); err != nil {
		t.Fatalf("expected login with registration password, got %v", err)
	}
}

func TestLoginOrRegisterDoubleSubmitKeepsPendingPassword(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	if _, err := env.engine.LoginOrRegister(ctx, "new@x.com", "secret1", "Fan"); err != nil {
		t.Fatalf("LoginOrRegister failed: %v", err)
	}
	code := env.mailer.last(t, "new@x.com")
	if _, err := env.engine.LoginOrRegister(ctx, "new@x.com", "secret1", "Fan"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited inside the resend interval, got %v", err)
	}

	if _, err := env.engine.CompleteRegistrationWithCode(ctx, "new@x.com", code); err != nil {
		t.Fatalf("CompleteRegistrationWithCode failed: %v", err)
	}
	identity, err := env.store.FindByEmail(ctx, "new@x.com")
	if err != nil {
		t.Fatalf("identity not stored: %v", err)
	}
	if identity.DisplayName != "Fan" || identity.PasswordHash == "" {
		t.Fatalf("pending registration lost: %+v", identity)
	}
	if _, err := env.engine.Login(ctx, "new@x.com", "secret1"); err != nil {
		t.Fatalf("expected login with registration password, got %v", err)
	}
}

func TestLoginOrRegisterLaterCallCannotReplacePassword(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	if _, err := env.engine.LoginOrRegister(ctx, "new@x.com", "victimpw", "Victim"); err != nil {
		t.Fatalf("first LoginOrRegister failed: %v", err)
	}
	env.mr.FastForward(61 * time.Second)
	if _, err := env.engine.LoginOrRegister(ctx, "new@x.com", "attackerpw", "Attacker"); err != nil {
		t.Fatalf("second LoginOrRegister failed: %v", err)
	}

	if _, err := env.engine.CompleteRegistrationWithCode(ctx, "new@x.com", env.mailer.last(t, "new@x.com")); err != nil {
		t.Fatalf("CompleteRegistrationWithCode failed: %v", err)
	}
	if _, err := env.engine.Login(ctx, "new@x.com", "victimpw"); err != nil {
		t.Fatalf("expected first password to stand, got %v", err)
	}
	if _, err := env.engine.Login(ctx, "new@x.com", "attackerpw"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected later password to be rejected, got %v", err)
	}
	if identity, _ := env.store.FindByEmail(ctx, "new@x.com"); identity.DisplayName != "Victim" {
		t.Fatalf("expected first display name, got %q", identity.DisplayName)
	}
}

func TestLoginOrRegisterBadCaptchaKeepsPending(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	if _, err := env.engine.LoginOrRegister(ctx, "new@x.com", "secret1", "Fan"); err != nil {
		t.Fatalf("LoginOrRegister failed: %v", err)
	}
	code := env.mailer.last(t, "new@x.com")
	env.mr.FastForward(61 * time.Second)
	if _, err := env.engine.LoginOrRegisterWithCaptcha(ctx, "new@x.com", "other", "", "missing", "ABCD"); !errors.Is(err, ErrCaptchaMismatch) {
		t.Fatalf("expected ErrCaptchaMismatch, got %v", err)
	}

	if _, err := env.engine.CompleteRegistrationWithCode(ctx, "new@x.com", code); err != nil {
		t.Fatalf("CompleteRegistrationWithCode failed: %v", err)
	}
	if _, err := env.engine.Login(ctx, "new@x.com", "secret1"); err != nil {
		t.Fatalf("expected login with registration password, got %v", err)
	}
}

func TestResendExtendsPendingRegistration(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	if _, err := env.engine.LoginOrRegister(ctx, "new@x.com", "secret1", "Fan"); err != nil {
		t.Fatalf("LoginOrRegister failed: %v", err)
	}
	env.mr.FastForward(14 * time.Minute)
	if err := env.engine.ResendVerificationCode(ctx, "new@x.com"); err != nil {
		t.Fatalf("ResendVerificationCode failed: %v", err)
	}
	// past the lifetime of the first code, inside the resent one
	env.mr.FastForward(5 * time.Minute)

	if _, err := env.engine.CompleteRegistrationWithCode(ctx, "new@x.com", env.mailer.last(t, "new@x.com")); err != nil {
		t.Fatalf("CompleteRegistrationWithCode failed: %v", err)
	}
	if _, err := env.engine.Login(ctx, "new@x.com", "secret1"); err != nil {
		t.Fatalf("expected pending password after resend, got %v", err)
	}
}

func TestCompleteRegistrationSuffixesTakenUsername(t *testing.T) {
	env := newTestEnv(t, nil)
	env.addIdentity(t, "fan@y.com", "secret1", RoleUser, StatusEnabled)
	ctx := context.Background()

	if err := env.engine.SendVerificationCode(ctx, "fan@x.com"); err != nil {
		t.Fatalf("send failed: %v", err)
	}
	result, err := env.engine.CompleteRegistrationWithCode(ctx, "fan@x.com", env.mailer.last(t, "fan@x.com"))
	if err != nil {
		t.Fatalf("CompleteRegistrationWithCode failed: %v", err)
	}
	if !regexp.MustCompile(`^fan_[0-9]{3}$`).MatchString(result.Username) {
		t.Fatalf("expected suffixed username, got %q", result.Username)
	}
}

func TestCompleteRegistrationConcurrentDuplicateSubmission(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	if _, err := env.engine.LoginOrRegister(ctx, "new@x.com", "secret1", ""); err != nil {
		t.Fatalf("LoginOrRegister failed: %v", err)
	}
	code := env.mailer.last(t, "new@x.com")

	// hold creates until both callers are inside the store
	var arrived sync.WaitGroup
	arrived.Add(2)
	release := make(chan struct{})
	env.store.createFn = func() {
		arrived.Done()
		<-release
	}
	go func() {
		arrived.Wait()
		close(release)
	}()

	var wg sync.WaitGroup
	results := make([]LoginResult, 2)
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = env.engine.CompleteRegistrationWithCode(ctx, "new@x.com", code)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("caller %d failed: %v", i, err)
		}
	}
	if env.store.createCount() != 1 {
		t.Fatalf("expected exactly one identity, got %d", env.store.createCount())
	}
	if results[0].SubjectID != results[1].SubjectID {
		t.Fatalf("expected same subject, got %d and %d", results[0].SubjectID, results[1].SubjectID)
	}
	if results[0].NewIdentity == results[1].NewIdentity {
		t.Fatal("expected exactly one caller to report a new identity")
	}

	for i, result := range results {
		principal, decision, err := env.engine.Authorize(ctx, "/api/user/orders", result.Token)
		if err != nil || decision != access.Allow || principal.SubjectID != result.SubjectID {
			t.Fatalf("caller %d token unusable: decision=%v err=%v", i, decision, err)
		}
	}
	if got := env.engine.MetricsSnapshot().Counters[MetricRegistrationRace]; got != 1 {
		t.Fatalf("expected one registration race, got %d", got)
	}
}

func TestAuthorizeRoutingTable(t *testing.T) {
	env := newTestEnv(t, nil)
	env.addIdentity(t, "user@x.com", "secret1", RoleUser, StatusEnabled)
	env.addIdentity(t, "admin@x.com", "secret1", RoleAdmin, StatusEnabled)
	ctx := context.Background()

	user, err := env.engine.Login(ctx, "user@x.com", "secret1")
	if err != nil {
		t.Fatal(err)
	}
	admin, err := env.engine.Login(ctx, "admin@x.com", "secret1")
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name     string
		path     string
		token    string
		decision access.Decision
		err      error
	}{
		{"user on admin path", "/api/admin/user", user.Token, access.Forbidden, ErrForbidden},
		{"admin on admin path", "/api/admin/user", admin.Token, access.Allow, nil},
		{"admin on user path", "/api/user/orders", admin.Token, access.Allow, nil},
		{"public without token", "/api/events", "", access.Allow, nil},
		{"public prefix without token", "/api/captcha/image/abc", "", access.Allow, nil},
		{"protected without token", "/api/user/orders", "", access.Unauthorized, ErrUnauthorized},
		{"garbage token", "/api/user/orders", "not.a.jwt", access.Unauthorized, ErrUnauthorized},
		{"unmatched path needs any token", "/api/orders/1", user.Token, access.Allow, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			principal, decision, err := env.engine.Authorize(ctx, tt.path, tt.token)
			if decision != tt.decision {
				t.Fatalf("expected %v, got %v", tt.decision, decision)
			}
			if !errors.Is(err, tt.err) && !(tt.err == nil && err == nil) {
				t.Fatalf("expected %v, got %v", tt.err, err)
			}
			if decision != access.Allow && principal != nil {
				t.Fatal("rejected request must not carry a principal")
			}
		})
	}
}

func TestLogoutRevokesUntilExpiry(t *testing.T) {
	env := newTestEnv(t, nil)
	env.addIdentity(t, "a@x.com", "secret1", RoleUser, StatusEnabled)
	ctx := context.Background()

	result, err := env.engine.Login(ctx, "a@x.com", "secret1")
	if err != nil {
		t.Fatal(err)
	}
	if _, decision, _ := env.engine.Authorize(ctx, "/api/user/me", result.Token); decision != access.Allow {
		t.Fatalf("expected allow before logout, got %v", decision)
	}

	if err := env.engine.Logout(ctx, result.Token); err != nil {
		t.Fatalf("Logout failed: %v", err)
	}
	if _, decision, err := env.engine.Authorize(ctx, "/api/user/me", result.Token); decision != access.Unauthorized || !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized after logout, decision=%v err=%v", decision, err)
	}
	if _, err := env.engine.VerifyToken(ctx, result.Token); !errors.Is(err, ErrTokenRevoked) {
		t.Fatalf("expected ErrTokenRevoked, got %v", err)
	}

	for _, token := range []string{result.Token, "", "garbage"} {
		if err := env.engine.Logout(ctx, token); err != nil {
			t.Fatalf("Logout(%q) must be idempotent, got %v", token, err)
		}
	}
}

func TestLogoutWithRedisRevocationBackend(t *testing.T) {
	env := newTestEnv(t, func(c *Config) {
		c.Revocation.Backend = RevocationRedis
	})
	env.addIdentity(t, "a@x.com", "secret1", RoleUser, StatusEnabled)
	ctx := context.Background()

	result, err := env.engine.Login(ctx, "a@x.com", "secret1")
	if err != nil {
		t.Fatal(err)
	}
	if err := env.engine.Logout(ctx, result.Token); err != nil {
		t.Fatal(err)
	}
	if _, decision, _ := env.engine.Authorize(ctx, "/api/user/me", result.Token); decision != access.Unauthorized {
		t.Fatalf("expected unauthorized, got %v", decision)
	}

	// a revocation backend outage fails closed
	other, err := env.engine.Login(ctx, "a@x.com", "secret1")
	if err != nil {
		t.Fatal(err)
	}
	env.mr.Close()
	if _, decision, _ := env.engine.Authorize(ctx, "/api/user/me", other.Token); decision != access.Unauthorized {
		t.Fatalf("expected unauthorized while redis is down, got %v", decision)
	}
}

func TestBuildRequiresCollaborators(t *testing.T) {
	_, rdb := newTestRedis(t)

	if _, err := New().WithCredentialStore(newMockCredentialStore()).WithEmailSender(newCaptureMailer()).Build(); err == nil {
		t.Fatal("expected error without redis")
	}
	if _, err := New().WithRedis(rdb).WithEmailSender(newCaptureMailer()).Build(); err == nil {
		t.Fatal("expected error without credential store")
	}
	if _, err := New().WithRedis(rdb).WithCredentialStore(newMockCredentialStore()).Build(); err == nil {
		t.Fatal("expected error without email sender")
	}

	cfg := testConfig()
	cfg.Federation.Enabled = true
	if _, err := New().WithConfig(cfg).WithRedis(rdb).WithCredentialStore(newMockCredentialStore()).WithEmailSender(newCaptureMailer()).Build(); err == nil {
		t.Fatal("expected error for federation without provider")
	}

	b := New().WithConfig(testConfig()).WithRedis(rdb).WithCredentialStore(newMockCredentialStore()).WithEmailSender(newCaptureMailer())
	engine, err := b.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	defer engine.Close()
	if _, err := b.Build(); err == nil {
		t.Fatal("expected builder reuse to fail")
	}
}

func TestCloseStopsJanitor(t *testing.T) {
	env := newTestEnv(t, func(c *Config) {
		c.Revocation.SweepInterval = 10 * time.Millisecond
	})
	done := make(chan struct{})
	go func() {
		env.engine.Close()
		env.engine.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not return")
	}
}

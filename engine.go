package ticketauth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/ticketauth/access"
	internalaudit "github.com/MrEthical07/ticketauth/internal/audit"
	"github.com/MrEthical07/ticketauth/internal/flows"
	"github.com/MrEthical07/ticketauth/internal/rate"
	"github.com/MrEthical07/ticketauth/internal/stores"
	"github.com/MrEthical07/ticketauth/jwt"
	"go.uber.org/zap"
)

// Engine is the authentication orchestrator. Build one with New()...Build()
// and share it; every method is safe for concurrent use.
type Engine struct {
	config Config
	codec  *jwt.Manager
	policy access.Policy

	revocations stores.RevocationStore
	codes       *stores.VerificationCodeStore
	pending     *stores.PendingRegistrationStore
	captchas    *stores.ChallengeStore
	states      *stores.ChallengeStore
	limiter     *rate.Limiter

	credentials CredentialStore
	mailer      EmailSender
	renderer    CaptchaRenderer
	passwords   PasswordHasher
	federation  FederatedProvider

	audit   *internalaudit.Dispatcher
	metrics *Metrics
	logger  *zap.Logger

	stopJanitor context.CancelFunc
	janitorDone chan struct{}
}

// Close stops the revocation janitor and flushes pending audit events.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.stopJanitor != nil {
		e.stopJanitor()
		<-e.janitorDone
		e.stopJanitor = nil
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDropped returns the number of audit events discarded because the
// buffer was full.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

// Login describes the login operation and its observable behavior.
//
// Unknown email and wrong password both return ErrInvalidCredentials. A
// disabled identity returns ErrAccountDisabled once the password matched.
func (e *Engine) Login(ctx context.Context, email, password string) (LoginResult, error) {
	return e.login(ctx, email, password, "")
}

// LoginAs is Login restricted to identities carrying role. A role mismatch
// is reported as ErrInvalidCredentials.
func (e *Engine) LoginAs(ctx context.Context, email, password, role string) (LoginResult, error) {
	if role == "" {
		return LoginResult{}, ErrInvalidCredentials
	}
	return e.login(ctx, email, password, role)
}

func (e *Engine) login(ctx context.Context, email, password, role string) (LoginResult, error) {
	if e == nil || e.credentials == nil {
		return LoginResult{}, ErrEngineNotReady
	}
	deps := e.loginDeps()
	deps.RequiredRole = role

	result, err := flows.RunLogin(ctx, stores.NormalizeEmail(email), password, deps)
	if err != nil {
		return LoginResult{}, err
	}
	return toLoginResult(result), nil
}

// LoginOrRegister logs in an existing identity, or starts registration for
// an unknown email by sending a verification code. Credential failures for
// an existing identity are returned unchanged and never fall through to
// registration.
//
// When Verification.RequireCaptcha is set, use LoginOrRegisterWithCaptcha.
func (e *Engine) LoginOrRegister(ctx context.Context, email, password, displayName string) (LoginOutcome, error) {
	return e.loginOrRegister(ctx, email, password, displayName, nil)
}

// LoginOrRegisterWithCaptcha is LoginOrRegister with the captcha answer
// checked before any code is sent. The captcha is only consumed when the
// registration branch is taken.
func (e *Engine) LoginOrRegisterWithCaptcha(ctx context.Context, email, password, displayName, captchaKey, captchaAnswer string) (LoginOutcome, error) {
	return e.loginOrRegister(ctx, email, password, displayName, e.captchaGate(captchaKey, captchaAnswer))
}

func (e *Engine) loginOrRegister(ctx context.Context, email, password, displayName string, captcha func(context.Context) error) (LoginOutcome, error) {
	if e == nil || e.credentials == nil {
		return LoginOutcome{}, ErrEngineNotReady
	}
	email = stores.NormalizeEmail(email)

	deps := e.registrationDeps()
	deps.SendCode = func(ctx context.Context, email string) error {
		return e.sendCode(ctx, email, stores.IssueSend, captcha)
	}

	outcome, err := flows.RunLoginOrRegister(ctx, email, password, displayName, deps)
	if err != nil {
		return LoginOutcome{}, err
	}
	if !outcome.LoggedIn {
		return LoginOutcome{Kind: OutcomeVerificationRequired}, nil
	}
	return LoginOutcome{Kind: OutcomeLoggedIn, Result: toLoginResult(outcome.Result)}, nil
}

// CompleteRegistrationWithCode consumes the verification code for email and
// creates the identity. If a concurrent call already created it, the
// existing identity is logged in and NewIdentity is false.
func (e *Engine) CompleteRegistrationWithCode(ctx context.Context, email, code string) (LoginResult, error) {
	if e == nil || e.credentials == nil {
		return LoginResult{}, ErrEngineNotReady
	}

	result, err := flows.RunCompleteRegistration(ctx, stores.NormalizeEmail(email), code, e.registrationDeps())
	if err != nil {
		return LoginResult{}, err
	}
	return toLoginResult(result), nil
}

// Logout revokes token until its embedded expiry. Empty, malformed and
// already revoked tokens are accepted.
func (e *Engine) Logout(ctx context.Context, token string) error {
	if e == nil || e.revocations == nil {
		return ErrEngineNotReady
	}

	return flows.RunLogout(ctx, token, flows.LogoutDeps{
		Revoke: func(ctx context.Context, token string) error {
			if err := e.revocations.Revoke(ctx, token); err != nil {
				return fmt.Errorf("%w: %v", ErrRevocationUnavailable, err)
			}
			return nil
		},
		SubjectID: e.codec.SubjectID,
		MetricInc: e.metricIncInt,
		EmitAudit: e.emitAudit,
		Metrics:   flowMetrics(),
		Events:    flowEvents(),
		Errors:    flowErrors(),
	})
}

// Authorize makes the access decision for a request to path carrying token.
//
// Public paths are allowed without a token and return a nil Principal.
// Every token problem, including a revocation backend failure, yields
// access.Unauthorized with ErrUnauthorized. A role outside the route's rule
// yields access.Forbidden with ErrForbidden.
func (e *Engine) Authorize(ctx context.Context, path, token string) (*Principal, access.Decision, error) {
	if e == nil || e.codec == nil {
		return nil, access.Unauthorized, ErrEngineNotReady
	}

	var start time.Time
	if e.metrics.LatencyEnabled() {
		start = time.Now()
	}

	subject, decision := flows.RunAuthorize(ctx, path, token, flows.AuthorizeDeps{
		IsPublic:  e.policy.IsPublic,
		Check:     e.policy.Check,
		IsRevoked: e.revocations.IsRevoked,
		Verify: func(token string) (flows.Subject, error) {
			claims, err := e.codec.Verify(token)
			if err != nil {
				return flows.Subject{}, err
			}
			return flows.Subject{ID: claims.UserID, Username: claims.Username, Role: claims.Role}, nil
		},
		Warn:      e.warn,
		MetricInc: e.metricIncInt,
		Metrics:   flowMetrics(),
	})

	if !start.IsZero() {
		e.metrics.Observe(MetricAuthorizeLatency, time.Since(start))
	}

	switch decision {
	case access.Allow:
		if subject == nil {
			return nil, access.Allow, nil
		}
		return &Principal{SubjectID: subject.ID, Username: subject.Username, Role: subject.Role}, access.Allow, nil
	case access.Forbidden:
		return nil, access.Forbidden, ErrForbidden
	default:
		return nil, access.Unauthorized, ErrUnauthorized
	}
}

// VerifyToken checks signature, expiry and revocation without consulting
// the routing policy. Errors are ErrTokenMalformed, ErrTokenExpired,
// ErrTokenRevoked or ErrRevocationUnavailable.
func (e *Engine) VerifyToken(ctx context.Context, token string) (*Principal, error) {
	if e == nil || e.codec == nil {
		return nil, ErrEngineNotReady
	}

	revoked, err := e.revocations.IsRevoked(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRevocationUnavailable, err)
	}
	if revoked {
		return nil, ErrTokenRevoked
	}

	claims, err := e.codec.Verify(token)
	if err != nil {
		return nil, err
	}
	return &Principal{SubjectID: claims.UserID, Username: claims.Username, Role: claims.Role}, nil
}

// Policy returns a copy of the routing table.
func (e *Engine) Policy() access.Policy {
	return e.policy.Clone()
}

/*
====================================
   FLOW WIRING
====================================
*/

func (e *Engine) loginDeps() flows.LoginDeps {
	deps := flows.LoginDeps{
		FindByEmail: func(ctx context.Context, email string) (flows.Account, error) {
			identity, err := e.credentials.FindByEmail(ctx, email)
			if err != nil {
				return flows.Account{}, err
			}
			return toAccount(identity), nil
		},
		VerifyPassword: e.passwords.Verify,
		IssueToken:     e.issueToken,
		UpdateLastLogin: func(ctx context.Context, account flows.Account) error {
			return e.credentials.TouchLastLogin(ctx, account.ID, time.Now().UTC())
		},
		Warn:      e.warn,
		MetricInc: e.metricIncInt,
		EmitAudit: e.emitAudit,
		Metrics:   flowMetrics(),
		Events:    flowEvents(),
		Errors:    flowErrors(),
	}

	if e.config.Security.EnableLoginThrottle && e.limiter != nil {
		deps.CheckThrottle = func(ctx context.Context, email string) error {
			return e.throttleErr(e.limiter.CheckLogin(ctx, email, ClientIPFromContext(ctx)))
		}
		deps.RecordFailure = func(ctx context.Context, email string) error {
			return e.throttleErr(e.limiter.IncrementLogin(ctx, email, ClientIPFromContext(ctx)))
		}
		deps.ResetThrottle = func(ctx context.Context, email string) {
			if err := e.limiter.ResetLogin(ctx, email, ClientIPFromContext(ctx)); err != nil {
				e.warn("login throttle reset failed", err)
			}
		}
	}

	return deps
}

// throttleErr maps limiter errors to ErrLoginRateLimited. A throttle
// backend failure blocks the attempt.
func (e *Engine) throttleErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, rate.ErrRedisUnavailable) {
		e.warn("login throttle unavailable", err)
	}
	return ErrLoginRateLimited
}

func (e *Engine) registrationDeps() flows.RegistrationDeps {
	return flows.RegistrationDeps{
		Login:        e.loginDeps(),
		HashPassword: e.passwords.Hash,
		SavePending: func(ctx context.Context, email string, pending flows.Pending) error {
			ttl := e.config.Verification.CodeTTL
			saved, err := e.pending.SaveIfAbsent(ctx, email, stores.PendingRegistration{
				PasswordHash: pending.PasswordHash,
				DisplayName:  pending.DisplayName,
			}, ttl)
			if err != nil || saved {
				return err
			}
			// keep the earlier record alive as long as the fresh code
			return e.pending.Touch(ctx, email, ttl)
		},
		LoadPending: func(ctx context.Context, email string) (flows.Pending, bool, error) {
			record, ok, err := e.pending.Get(ctx, email)
			if err != nil || !ok {
				return flows.Pending{}, ok, err
			}
			return flows.Pending{PasswordHash: record.PasswordHash, DisplayName: record.DisplayName}, true, nil
		},
		DeletePending: e.pending.Delete,
		SendCode: func(ctx context.Context, email string) error {
			return e.sendCode(ctx, email, stores.IssueSend, nil)
		},
		VerifyCode: e.redeemCode,
		Create: func(ctx context.Context, account flows.Account) (flows.Account, error) {
			identity := toIdentity(account)
			identity.CreatedAt = time.Now().UTC()
			created, err := e.credentials.Create(ctx, identity)
			if err != nil {
				return flows.Account{}, err
			}
			return toAccount(created), nil
		},
		DefaultRole:      e.config.Registration.DefaultRole,
		UsernameAttempts: e.config.Registration.UsernameAttempts,
	}
}

func (e *Engine) issueToken(account flows.Account) (flows.IssuedToken, error) {
	token, err := e.codec.Issue(jwt.Subject{
		UserID:   account.ID,
		Username: account.Username,
		Role:     account.Role,
	})
	if err != nil {
		return flows.IssuedToken{}, err
	}
	exp, err := e.codec.ExpiresAt(token)
	if err != nil {
		return flows.IssuedToken{}, err
	}
	return flows.IssuedToken{Token: token, ExpiresAt: exp}, nil
}

func (e *Engine) warn(msg string, err error) {
	if e.logger == nil {
		return
	}
	e.logger.Warn(msg, zap.Error(err))
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) metricIncInt(id int) {
	e.metricInc(MetricID(id))
}

func flowMetrics() flows.Metrics {
	return flows.Metrics{
		LoginSuccess:          int(MetricLoginSuccess),
		LoginFailure:          int(MetricLoginFailure),
		LoginRateLimited:      int(MetricLoginRateLimited),
		RegistrationStarted:   int(MetricRegistrationStarted),
		RegistrationSuccess:   int(MetricRegistrationSuccess),
		RegistrationRace:      int(MetricRegistrationRace),
		CodeMismatch:          int(MetricCodeMismatch),
		CodeSent:              int(MetricCodeSent),
		CodeRateLimited:       int(MetricCodeRateLimited),
		CodeRetryExceeded:     int(MetricCodeRetryExceeded),
		CodeDeliveryFailed:    int(MetricCodeDeliveryFailed),
		FederatedLogin:        int(MetricFederatedLogin),
		Logout:                int(MetricLogout),
		AuthorizeAllowed:      int(MetricAuthorizeAllowed),
		AuthorizeUnauthorized: int(MetricAuthorizeUnauthorized),
		AuthorizeForbidden:    int(MetricAuthorizeForbidden),
	}
}

func flowEvents() flows.Events {
	return flows.Events{
		LoginSuccess:        auditEventLoginSuccess,
		LoginFailure:        auditEventLoginFailure,
		LoginRateLimited:    auditEventLoginRateLimited,
		RegistrationStarted: auditEventRegistrationStarted,
		RegistrationSuccess: auditEventRegistrationSuccess,
		RegistrationFailure: auditEventRegistrationFailure,
		CodeSent:            auditEventCodeSent,
		CodeSendFailure:     auditEventCodeSendFailure,
		FederatedLogin:      auditEventFederatedLogin,
		Logout:              auditEventLogout,
	}
}

func flowErrors() flows.Errors {
	return flows.Errors{
		EngineNotReady:     ErrEngineNotReady,
		InvalidCredentials: ErrInvalidCredentials,
		AccountDisabled:    ErrAccountDisabled,
		Forbidden:          ErrForbidden,
		LoginRateLimited:   ErrLoginRateLimited,
		CodeMismatch:       ErrCodeMismatch,
		CaptchaMismatch:    ErrCaptchaMismatch,
		RateLimited:        ErrRateLimited,
		RetryExceeded:      ErrRetryExceeded,
		DeliveryFailed:     ErrDeliveryFailed,
		IdentityNotFound:   ErrIdentityNotFound,
		IdentityExists:     ErrIdentityExists,
		UsernameTaken:      ErrUsernameTaken,
		StateInvalid:       ErrFederationStateInvalid,
	}
}

func toAccount(identity Identity) flows.Account {
	return flows.Account{
		ID:           identity.ID,
		Email:        identity.Email,
		Username:     identity.Username,
		DisplayName:  identity.DisplayName,
		PasswordHash: identity.PasswordHash,
		Role:         identity.Role,
		Enabled:      identity.Status == StatusEnabled,
		ExternalID:   identity.ExternalID,
		AvatarURL:    identity.AvatarURL,
	}
}

func toIdentity(account flows.Account) Identity {
	status := StatusDisabled
	if account.Enabled {
		status = StatusEnabled
	}
	return Identity{
		ID:           account.ID,
		Email:        account.Email,
		Username:     account.Username,
		DisplayName:  account.DisplayName,
		PasswordHash: account.PasswordHash,
		Role:         account.Role,
		Status:       status,
		ExternalID:   account.ExternalID,
		AvatarURL:    account.AvatarURL,
	}
}

func toLoginResult(result flows.LoginResult) LoginResult {
	return LoginResult{
		Token:       result.Token.Token,
		ExpiresAt:   result.Token.ExpiresAt,
		SubjectID:   result.Account.ID,
		Username:    result.Account.Username,
		Role:        result.Account.Role,
		NewIdentity: result.NewIdentity,
	}
}

package flows

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Pending is the flow-local view of a registration awaiting its code.
type Pending struct {
	PasswordHash string
	DisplayName  string
}

// RegisterOutcome reports which branch RunLoginOrRegister took. Result is
// only set when LoggedIn is true.
type RegisterOutcome struct {
	LoggedIn bool
	Result   LoginResult
}

// RegistrationDeps wires the collaborators used by the registration flows.
type RegistrationDeps struct {
	Login LoginDeps

	HashPassword func(password string) (string, error)
	// SavePending must keep an existing record for email untouched.
	SavePending   func(ctx context.Context, email string, pending Pending) error
	LoadPending   func(ctx context.Context, email string) (Pending, bool, error)
	DeletePending func(ctx context.Context, email string) error
	SendCode      func(ctx context.Context, email string) error
	VerifyCode    func(ctx context.Context, email, code string) (bool, error)
	Create        func(ctx context.Context, account Account) (Account, error)

	DefaultRole      string
	UsernameAttempts int
	Now              func() time.Time
}

func normalizeRegistrationDeps(deps *RegistrationDeps) {
	normalizeLoginDeps(&deps.Login)
	if deps.UsernameAttempts <= 0 {
		deps.UsernameAttempts = 5
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
}

// RunLoginOrRegister logs an existing identity in, or starts verification
// for an unknown email. Credential failures for an existing identity are
// returned as-is and never fall through to registration. The first password
// supplied for an unknown email is the one the completed account gets.
func RunLoginOrRegister(ctx context.Context, email, password, displayName string, deps RegistrationDeps) (RegisterOutcome, error) {
	normalizeRegistrationDeps(&deps)
	if deps.Login.FindByEmail == nil || deps.SendCode == nil || deps.SavePending == nil {
		return RegisterOutcome{}, deps.Login.Errors.EngineNotReady
	}

	_, err := deps.Login.FindByEmail(ctx, email)
	switch {
	case err == nil:
		result, err := RunLogin(ctx, email, password, deps.Login)
		if err != nil {
			return RegisterOutcome{}, err
		}
		return RegisterOutcome{LoggedIn: true, Result: result}, nil
	case !errors.Is(err, deps.Login.Errors.IdentityNotFound):
		return RegisterOutcome{}, err
	}

	pending := Pending{DisplayName: strings.TrimSpace(displayName)}
	if password != "" && deps.HashPassword != nil {
		hash, err := deps.HashPassword(password)
		if err != nil {
			return RegisterOutcome{}, err
		}
		pending.PasswordHash = hash
	}
	// The code is issued before the pending record is written. A call that
	// fails to issue leaves whatever an earlier call stored.
	if err := deps.SendCode(ctx, email); err != nil {
		deps.Login.EmitAudit(ctx, deps.Login.Events.RegistrationFailure, false, 0, email, err, func() map[string]string {
			return map[string]string{"reason": "code_send"}
		})
		return RegisterOutcome{}, err
	}
	if err := deps.SavePending(ctx, email, pending); err != nil {
		deps.Login.Warn("pending registration save failed", err)
		return RegisterOutcome{}, err
	}

	deps.Login.MetricInc(deps.Login.Metrics.RegistrationStarted)
	deps.Login.EmitAudit(ctx, deps.Login.Events.RegistrationStarted, true, 0, email, nil, nil)
	return RegisterOutcome{}, nil
}

// RunCompleteRegistration consumes a verification code and creates the
// identity. When a concurrent caller already created it, the existing
// identity is logged in instead.
func RunCompleteRegistration(ctx context.Context, email, code string, deps RegistrationDeps) (LoginResult, error) {
	normalizeRegistrationDeps(&deps)
	if deps.VerifyCode == nil || deps.Create == nil || deps.Login.FindByEmail == nil {
		return LoginResult{}, deps.Login.Errors.EngineNotReady
	}

	ok, err := deps.VerifyCode(ctx, email, code)
	if err != nil {
		return LoginResult{}, err
	}
	if !ok {
		deps.Login.MetricInc(deps.Login.Metrics.CodeMismatch)
		deps.Login.EmitAudit(ctx, deps.Login.Events.RegistrationFailure, false, 0, email, deps.Login.Errors.CodeMismatch, nil)
		return LoginResult{}, deps.Login.Errors.CodeMismatch
	}

	var pending Pending
	if deps.LoadPending != nil {
		p, found, err := deps.LoadPending(ctx, email)
		if err != nil {
			deps.Login.Warn("pending registration lookup failed", err)
		} else if found {
			pending = p
		}
	}

	local := emailLocalPart(email)
	displayName := pending.DisplayName
	if displayName == "" {
		displayName = local
	}

	account, created, err := createWithUniqueUsername(ctx, Account{
		Email:        email,
		Username:     SanitizeUsername(local),
		DisplayName:  displayName,
		PasswordHash: pending.PasswordHash,
		Role:         deps.DefaultRole,
		Enabled:      true,
	}, deps, func(ctx context.Context) (Account, error) {
		return deps.Login.FindByEmail(ctx, email)
	})
	if err != nil {
		deps.Login.EmitAudit(ctx, deps.Login.Events.RegistrationFailure, false, 0, email, err, func() map[string]string {
			return map[string]string{"reason": "create"}
		})
		return LoginResult{}, err
	}

	if deps.DeletePending != nil {
		if err := deps.DeletePending(ctx, email); err != nil {
			deps.Login.Warn("pending registration cleanup failed", err)
		}
	}

	if created {
		deps.Login.MetricInc(deps.Login.Metrics.RegistrationSuccess)
		deps.Login.EmitAudit(ctx, deps.Login.Events.RegistrationSuccess, true, account.ID, email, nil, nil)
	}
	if !account.Enabled {
		return LoginResult{}, deps.Login.Errors.AccountDisabled
	}
	return completeLogin(ctx, account, created, deps.Login)
}

// createWithUniqueUsername creates account, appending a short numeric suffix
// to the username while the store reports it taken. An identity conflict
// resolves through reread, and created is false in that case.
func createWithUniqueUsername(
	ctx context.Context,
	account Account,
	deps RegistrationDeps,
	reread func(ctx context.Context) (Account, error),
) (Account, bool, error) {
	base := account.Username
	for attempt := 0; attempt < deps.UsernameAttempts; attempt++ {
		if attempt > 0 {
			account.Username = fmt.Sprintf("%s_%03d", base, (deps.Now().UnixMilli()+int64(attempt))%1000)
		}

		created, err := deps.Create(ctx, account)
		switch {
		case err == nil:
			return created, true, nil
		case errors.Is(err, deps.Login.Errors.UsernameTaken):
			continue
		case errors.Is(err, deps.Login.Errors.IdentityExists):
			deps.Login.MetricInc(deps.Login.Metrics.RegistrationRace)
			existing, rerr := reread(ctx)
			if rerr != nil {
				return Account{}, false, rerr
			}
			return existing, false, nil
		default:
			return Account{}, false, err
		}
	}
	return Account{}, false, deps.Login.Errors.UsernameTaken
}

func emailLocalPart(email string) string {
	email = strings.TrimSpace(email)
	if at := strings.IndexByte(email, '@'); at >= 0 {
		return email[:at]
	}
	return email
}

const maxUsernameLen = 32

// SanitizeUsername lowercases s and keeps letters, digits, '.', '_' and
// '-'. An empty result becomes "user".
func SanitizeUsername(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '.', r == '_', r == '-':
			b.WriteRune(r)
		}
		if b.Len() >= maxUsernameLen {
			break
		}
	}
	if b.Len() == 0 {
		return "user"
	}
	return b.String()
}

package flows

import (
	"context"
	"errors"
	"strconv"
)

// LoginDeps wires the collaborators used by RunLogin.
type LoginDeps struct {
	// RequiredRole restricts login to accounts carrying exactly this role.
	// Empty accepts any role.
	RequiredRole string

	FindByEmail     func(ctx context.Context, email string) (Account, error)
	VerifyPassword  func(password, hash string) (bool, error)
	IssueToken      func(account Account) (IssuedToken, error)
	UpdateLastLogin func(ctx context.Context, account Account) error
	Warn            func(msg string, err error)

	// Throttle hooks are optional. CheckThrottle and RecordFailure return
	// Errors.LoginRateLimited once the identifier is locked out.
	CheckThrottle func(ctx context.Context, email string) error
	RecordFailure func(ctx context.Context, email string) error
	ResetThrottle func(ctx context.Context, email string)

	MetricInc func(int)
	EmitAudit AuditFunc
	Metrics   Metrics
	Events    Events
	Errors    Errors
}

func normalizeLoginDeps(deps *LoginDeps) {
	if deps.MetricInc == nil {
		deps.MetricInc = noopMetric
	}
	if deps.EmitAudit == nil {
		deps.EmitAudit = noopAudit
	}
	if deps.Warn == nil {
		deps.Warn = func(string, error) {}
	}
}

// RunLogin authenticates email and password and issues a token.
//
// Unknown email and wrong password are indistinguishable to the caller.
// Disabled accounts are reported only after the password matched.
func RunLogin(ctx context.Context, email, password string, deps LoginDeps) (LoginResult, error) {
	normalizeLoginDeps(&deps)
	if deps.FindByEmail == nil || deps.VerifyPassword == nil || deps.IssueToken == nil {
		return LoginResult{}, deps.Errors.EngineNotReady
	}

	if deps.CheckThrottle != nil {
		if err := deps.CheckThrottle(ctx, email); err != nil {
			return LoginResult{}, loginRateLimited(ctx, email, err, &deps)
		}
	}

	fail := func(userID int64, reason string) (LoginResult, error) {
		if deps.RecordFailure != nil {
			if err := deps.RecordFailure(ctx, email); err != nil {
				return LoginResult{}, loginRateLimited(ctx, email, err, &deps)
			}
		}
		deps.MetricInc(deps.Metrics.LoginFailure)
		deps.EmitAudit(ctx, deps.Events.LoginFailure, false, userID, email, deps.Errors.InvalidCredentials, func() map[string]string {
			return map[string]string{"reason": reason}
		})
		return LoginResult{}, deps.Errors.InvalidCredentials
	}

	if password == "" {
		return fail(0, "empty_password")
	}

	account, err := deps.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, deps.Errors.IdentityNotFound) {
			return fail(0, "identity_not_found")
		}
		deps.MetricInc(deps.Metrics.LoginFailure)
		deps.EmitAudit(ctx, deps.Events.LoginFailure, false, 0, email, err, func() map[string]string {
			return map[string]string{"reason": "credential_store"}
		})
		return LoginResult{}, err
	}

	ok, err := deps.VerifyPassword(password, account.PasswordHash)
	if err != nil || !ok {
		return fail(account.ID, "password_mismatch")
	}

	if !account.Enabled {
		deps.MetricInc(deps.Metrics.LoginFailure)
		deps.EmitAudit(ctx, deps.Events.LoginFailure, false, account.ID, email, deps.Errors.AccountDisabled, func() map[string]string {
			return map[string]string{"reason": "account_disabled"}
		})
		return LoginResult{}, deps.Errors.AccountDisabled
	}

	if deps.RequiredRole != "" && account.Role != deps.RequiredRole {
		return fail(account.ID, "role_mismatch")
	}

	return completeLogin(ctx, account, false, deps)
}

// completeLogin performs post-authentication bookkeeping and token issue.
func completeLogin(ctx context.Context, account Account, newIdentity bool, deps LoginDeps) (LoginResult, error) {
	normalizeLoginDeps(&deps)

	if deps.ResetThrottle != nil {
		deps.ResetThrottle(ctx, account.Email)
	}
	if deps.UpdateLastLogin != nil {
		if err := deps.UpdateLastLogin(ctx, account); err != nil {
			deps.Warn("last login bookkeeping failed", err)
		}
	}

	token, err := deps.IssueToken(account)
	if err != nil {
		deps.MetricInc(deps.Metrics.LoginFailure)
		deps.EmitAudit(ctx, deps.Events.LoginFailure, false, account.ID, account.Email, err, func() map[string]string {
			return map[string]string{"reason": "token_issue"}
		})
		return LoginResult{}, err
	}

	deps.MetricInc(deps.Metrics.LoginSuccess)
	deps.EmitAudit(ctx, deps.Events.LoginSuccess, true, account.ID, account.Email, nil, func() map[string]string {
		return map[string]string{
			"role":         account.Role,
			"new_identity": strconv.FormatBool(newIdentity),
		}
	})
	return LoginResult{Account: account, Token: token, NewIdentity: newIdentity}, nil
}

func loginRateLimited(ctx context.Context, email string, cause error, deps *LoginDeps) error {
	deps.MetricInc(deps.Metrics.LoginRateLimited)
	deps.EmitAudit(ctx, deps.Events.LoginRateLimited, false, 0, email, cause, nil)
	if errors.Is(cause, deps.Errors.LoginRateLimited) {
		return deps.Errors.LoginRateLimited
	}
	return cause
}

package flows

import (
	"context"
	"errors"
	"strings"
)

// ExternalProfile is what the federated provider reports about a caller.
type ExternalProfile struct {
	ExternalID string
	Name       string
	Email      string
	AvatarURL  string
}

// FederatedDeps wires the collaborators used by RunFederatedLogin.
type FederatedDeps struct {
	Registration RegistrationDeps

	FindByExternalID func(ctx context.Context, externalID string) (Account, error)
	UsernamePrefix   string
}

// RunFederatedLogin finds the identity linked to profile, creating it on
// first sight, and issues a token.
func RunFederatedLogin(ctx context.Context, profile ExternalProfile, deps FederatedDeps) (LoginResult, error) {
	reg := deps.Registration
	normalizeRegistrationDeps(&reg)
	errs := reg.Login.Errors

	if deps.FindByExternalID == nil || reg.Create == nil || reg.Login.IssueToken == nil {
		return LoginResult{}, errs.EngineNotReady
	}
	if strings.TrimSpace(profile.ExternalID) == "" {
		return LoginResult{}, errs.StateInvalid
	}

	account, err := deps.FindByExternalID(ctx, profile.ExternalID)
	created := false
	switch {
	case err == nil:
	case errors.Is(err, errs.IdentityNotFound):
		displayName := strings.TrimSpace(profile.Name)
		if displayName == "" {
			displayName = federatedUsername(deps.UsernamePrefix, profile.ExternalID)
		}
		account, created, err = createWithUniqueUsername(ctx, Account{
			Email:       strings.TrimSpace(profile.Email),
			Username:    federatedUsername(deps.UsernamePrefix, profile.ExternalID),
			DisplayName: displayName,
			Role:        reg.DefaultRole,
			Enabled:     true,
			ExternalID:  profile.ExternalID,
			AvatarURL:   profile.AvatarURL,
		}, reg, func(ctx context.Context) (Account, error) {
			return deps.FindByExternalID(ctx, profile.ExternalID)
		})
		if err != nil {
			return LoginResult{}, err
		}
	default:
		return LoginResult{}, err
	}

	if !account.Enabled {
		reg.Login.MetricInc(reg.Login.Metrics.LoginFailure)
		reg.Login.EmitAudit(ctx, reg.Login.Events.LoginFailure, false, account.ID, account.Email, errs.AccountDisabled, func() map[string]string {
			return map[string]string{"reason": "account_disabled", "method": "federated"}
		})
		return LoginResult{}, errs.AccountDisabled
	}

	reg.Login.MetricInc(reg.Login.Metrics.FederatedLogin)
	reg.Login.EmitAudit(ctx, reg.Login.Events.FederatedLogin, true, account.ID, account.Email, nil, nil)
	return completeLogin(ctx, account, created, reg.Login)
}

func federatedUsername(prefix, externalID string) string {
	id := SanitizeUsername(externalID)
	if len(id) > 8 {
		id = id[:8]
	}
	return prefix + id
}

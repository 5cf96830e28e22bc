package ticketauth

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrEthical07/ticketauth/internal"
	"github.com/MrEthical07/ticketauth/internal/flows"
)

// FederatedAuthURL starts a third-party login. The returned state is stored
// one-shot for Federation.StateTTL and must come back with the callback.
func (e *Engine) FederatedAuthURL(ctx context.Context) (url string, state string, err error) {
	if e == nil || e.states == nil {
		return "", "", ErrEngineNotReady
	}
	if !e.config.Federation.Enabled || e.federation == nil {
		return "", "", ErrFederationDisabled
	}

	state, err = internal.NewState()
	if err != nil {
		return "", "", err
	}
	if err := e.states.Put(ctx, state, "1", e.config.Federation.StateTTL); err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrFederationStateInvalid, err)
	}
	return e.federation.AuthCodeURL(state), state, nil
}

// FederatedLogin completes a third-party login. The state is consumed
// whether or not the exchange succeeds. An identity linked to the external
// ID is logged in; otherwise one is created with the default role.
func (e *Engine) FederatedLogin(ctx context.Context, state, code string) (LoginResult, error) {
	if e == nil || e.states == nil || e.credentials == nil {
		return LoginResult{}, ErrEngineNotReady
	}
	if !e.config.Federation.Enabled || e.federation == nil {
		return LoginResult{}, ErrFederationDisabled
	}

	_, ok, err := e.states.Take(ctx, state)
	if err != nil {
		return LoginResult{}, fmt.Errorf("%w: %v", ErrFederationStateInvalid, err)
	}
	if !ok || code == "" {
		e.emitAudit(ctx, auditEventFederatedLogin, false, 0, "", ErrFederationStateInvalid, nil)
		return LoginResult{}, ErrFederationStateInvalid
	}

	profile, err := e.federation.Exchange(ctx, code)
	if err != nil {
		e.emitAudit(ctx, auditEventFederatedLogin, false, 0, "", err, func() map[string]string {
			return map[string]string{"reason": "exchange"}
		})
		if errors.Is(err, ErrFederationStateInvalid) {
			return LoginResult{}, err
		}
		return LoginResult{}, fmt.Errorf("%w: %v", ErrFederationStateInvalid, err)
	}

	result, err := flows.RunFederatedLogin(ctx, flows.ExternalProfile{
		ExternalID: profile.ExternalID,
		Name:       profile.Name,
		Email:      profile.Email,
		AvatarURL:  profile.AvatarURL,
	}, flows.FederatedDeps{
		Registration: e.registrationDeps(),
		FindByExternalID: func(ctx context.Context, externalID string) (flows.Account, error) {
			identity, err := e.credentials.FindByExternalID(ctx, externalID)
			if err != nil {
				return flows.Account{}, err
			}
			return toAccount(identity), nil
		},
		UsernamePrefix: e.config.Federation.UsernamePrefix,
	})
	if err != nil {
		return LoginResult{}, err
	}
	return toLoginResult(result), nil
}

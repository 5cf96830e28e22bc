package flows

import (
	"context"
	"time"
)

// Account is the flow-local identity model. The engine converts to and from
// its public Identity type.
type Account struct {
	ID           int64
	Email        string
	Username     string
	DisplayName  string
	PasswordHash string
	Role         string
	Enabled      bool
	ExternalID   string
	AvatarURL    string
}

// IssuedToken is a signed token plus its embedded expiry.
type IssuedToken struct {
	Token     string
	ExpiresAt time.Time
}

// LoginResult is the flow-local login response shape.
type LoginResult struct {
	Account     Account
	Token       IssuedToken
	NewIdentity bool
}

// Errors carries host-level sentinel errors so flows never import the root
// package.
type Errors struct {
	EngineNotReady     error
	InvalidCredentials error
	AccountDisabled    error
	Forbidden          error
	LoginRateLimited   error
	CodeMismatch       error
	CaptchaMismatch    error
	RateLimited        error
	RetryExceeded      error
	DeliveryFailed     error
	IdentityNotFound   error
	IdentityExists     error
	UsernameTaken      error
	StateInvalid       error
}

// Metrics carries metric IDs used by flows.
type Metrics struct {
	LoginSuccess          int
	LoginFailure          int
	LoginRateLimited      int
	RegistrationStarted   int
	RegistrationSuccess   int
	RegistrationRace      int
	CodeMismatch          int
	CodeSent              int
	CodeRateLimited       int
	CodeRetryExceeded     int
	CodeDeliveryFailed    int
	FederatedLogin        int
	Logout                int
	AuthorizeAllowed      int
	AuthorizeUnauthorized int
	AuthorizeForbidden    int
}

// Events carries audit event names used by flows.
type Events struct {
	LoginSuccess        string
	LoginFailure        string
	LoginRateLimited    string
	RegistrationStarted string
	RegistrationSuccess string
	RegistrationFailure string
	CodeSent            string
	CodeSendFailure     string
	FederatedLogin      string
	Logout              string
}

// AuditFunc emits one audit event.
type AuditFunc func(ctx context.Context, event string, success bool, userID int64, email string, err error, metadata func() map[string]string)

func noopAudit(context.Context, string, bool, int64, string, error, func() map[string]string) {}

func noopMetric(int) {}

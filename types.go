package ticketauth

import (
	"context"
	"time"

	"github.com/MrEthical07/ticketauth/access"
	internalaudit "github.com/MrEthical07/ticketauth/internal/audit"
)

// IdentityStatus is the lifecycle state of an identity.
type IdentityStatus uint8

const (
	// StatusDisabled blocks login even with correct credentials.
	StatusDisabled IdentityStatus = 0
	// StatusEnabled is the normal state.
	StatusEnabled IdentityStatus = 1
)

const (
	RoleUser  = access.RoleUser
	RoleAdmin = access.RoleAdmin
)

// Identity is the credential record owned by the user domain.
type Identity struct {
	ID           int64
	Email        string
	Username     string
	DisplayName  string
	PasswordHash string
	Role         string
	Status       IdentityStatus
	ExternalID   string
	AvatarURL    string
	LastLoginAt  time.Time
	CreatedAt    time.Time
}

// CredentialStore is the identity persistence boundary.
//
// Lookups return ErrIdentityNotFound when nothing matches. Create returns
// ErrIdentityExists for a duplicate email or external ID and
// ErrUsernameTaken for a duplicate username; the returned Identity carries
// the assigned ID.
type CredentialStore interface {
	FindByEmail(ctx context.Context, email string) (Identity, error)
	FindByID(ctx context.Context, id int64) (Identity, error)
	FindByExternalID(ctx context.Context, externalID string) (Identity, error)
	Create(ctx context.Context, identity Identity) (Identity, error)
	Update(ctx context.Context, identity Identity) error
	// TouchLastLogin sets last_login_at and leaves every other field alone.
	TouchLastLogin(ctx context.Context, id int64, at time.Time) error
}

// EmailSender delivers verification codes.
type EmailSender interface {
	SendVerificationCode(ctx context.Context, email, code string) error
}

// CaptchaRenderer turns challenge text into an image payload and its
// content type.
type CaptchaRenderer interface {
	Render(text string) ([]byte, string, error)
}

// PasswordHasher hashes and verifies passwords. password.Argon2 satisfies it.
type PasswordHasher interface {
	Hash(password string) (string, error)
	Verify(password, encodedHash string) (bool, error)
}

// ExternalProfile is the caller identity reported by a FederatedProvider.
type ExternalProfile struct {
	ExternalID string
	Name       string
	Email      string
	AvatarURL  string
}

// FederatedProvider is the third-party login bridge.
type FederatedProvider interface {
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (ExternalProfile, error)
}

// LoginResult is returned by every successful login path.
type LoginResult struct {
	Token       string
	ExpiresAt   time.Time
	SubjectID   int64
	Username    string
	Role        string
	NewIdentity bool
}

// OutcomeKind tags a LoginOutcome.
type OutcomeKind uint8

const (
	// OutcomeLoggedIn means Result holds a token.
	OutcomeLoggedIn OutcomeKind = iota + 1
	// OutcomeVerificationRequired means a code was sent and
	// CompleteRegistrationWithCode must follow.
	OutcomeVerificationRequired
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeLoggedIn:
		return "logged_in"
	case OutcomeVerificationRequired:
		return "verification_required"
	default:
		return "unknown"
	}
}

// LoginOutcome is the result of LoginOrRegister. Result is only meaningful
// when Kind is OutcomeLoggedIn.
type LoginOutcome struct {
	Kind   OutcomeKind
	Result LoginResult
}

// Principal is the identity attached to an authorized request.
type Principal struct {
	SubjectID int64
	Username  string
	Role      string
}

// CaptchaChallenge is an issued captcha. Key must be sent back with the
// answer; Image is rendered by the configured CaptchaRenderer.
type CaptchaChallenge struct {
	Key         string
	Image       []byte
	ContentType string
	ExpiresAt   time.Time
}

type (
	AuditEvent = internalaudit.Event
	AuditSink  = internalaudit.Sink
)

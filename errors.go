package ticketauth

import (
	"errors"

	"github.com/MrEthical07/ticketauth/jwt"
)

var (
	// ErrInvalidCredentials is returned for an unknown email or a wrong password.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAccountDisabled is returned when the identity's status is disabled.
	ErrAccountDisabled = errors.New("account disabled")
	// ErrTokenMalformed is returned for a token with a bad signature, structure or claims.
	ErrTokenMalformed = jwt.ErrTokenMalformed
	// ErrTokenExpired is returned for a token past its embedded expiry.
	ErrTokenExpired = jwt.ErrTokenExpired
	// ErrTokenRevoked is returned for a token that was logged out.
	ErrTokenRevoked = errors.New("token revoked")
	// ErrUnauthorized is the collapsed outcome for every token failure.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrForbidden is returned when an authenticated role does not match the route.
	ErrForbidden = errors.New("forbidden")
	// ErrRateLimited is returned while the verification send interval is locked.
	ErrRateLimited = errors.New("rate limited")
	// ErrRetryExceeded is returned once resends reach the configured maximum.
	ErrRetryExceeded = errors.New("verification retries exceeded")
	// ErrCodeMismatch is returned when a verification code does not match.
	ErrCodeMismatch = errors.New("verification code mismatch")
	// ErrCaptchaMismatch is returned when a captcha answer is wrong, expired or reused.
	ErrCaptchaMismatch = errors.New("captcha mismatch")
	// ErrDeliveryFailed is returned when the email sender rejected a code.
	ErrDeliveryFailed = errors.New("verification code delivery failed")

	ErrLoginRateLimited        = errors.New("login rate limited")
	ErrIdentityNotFound        = errors.New("identity not found")
	ErrIdentityExists          = errors.New("identity already exists")
	ErrUsernameTaken           = errors.New("username taken")
	ErrEngineNotReady          = errors.New("engine not initialized")
	ErrVerificationUnavailable = errors.New("verification backend unavailable")
	ErrRevocationUnavailable   = errors.New("revocation backend unavailable")
	ErrCaptchaUnavailable      = errors.New("captcha backend unavailable")
	ErrFederationDisabled      = errors.New("federated login disabled")
	ErrFederationStateInvalid  = errors.New("federated login state invalid")
)

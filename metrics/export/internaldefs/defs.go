package internaldefs

import "github.com/MrEthical07/ticketauth"

// Namespace prefixes every exported metric name.
const Namespace = "ticketauth"

type CounterDef struct {
	ID   ticketauth.MetricID
	Name string
	Help string
}

type HistogramDef struct {
	ID   ticketauth.MetricID
	Name string
	Help string
}

// CounterDefs lists every engine counter in exposition order.
var CounterDefs = []CounterDef{
	{ID: ticketauth.MetricLoginSuccess, Name: "ticketauth_login_success_total", Help: "Successful logins, including federated and post-registration logins."},
	{ID: ticketauth.MetricLoginFailure, Name: "ticketauth_login_failure_total", Help: "Rejected login attempts."},
	{ID: ticketauth.MetricLoginRateLimited, Name: "ticketauth_login_rate_limited_total", Help: "Login attempts refused by the per-email throttle."},
	{ID: ticketauth.MetricRegistrationStarted, Name: "ticketauth_registration_started_total", Help: "Registrations that sent a verification code."},
	{ID: ticketauth.MetricRegistrationSuccess, Name: "ticketauth_registration_success_total", Help: "Identities created by registration."},
	{ID: ticketauth.MetricRegistrationRace, Name: "ticketauth_registration_race_total", Help: "Creates that lost a uniqueness race and fell back to the existing identity."},
	{ID: ticketauth.MetricCodeSent, Name: "ticketauth_code_sent_total", Help: "Verification codes delivered."},
	{ID: ticketauth.MetricCodeRateLimited, Name: "ticketauth_code_rate_limited_total", Help: "Code sends refused by the resend interval or IP budget."},
	{ID: ticketauth.MetricCodeRetryExceeded, Name: "ticketauth_code_retry_exceeded_total", Help: "Resends refused after the retry limit."},
	{ID: ticketauth.MetricCodeDeliveryFailed, Name: "ticketauth_code_delivery_failed_total", Help: "Code deliveries that failed and were rolled back."},
	{ID: ticketauth.MetricCodeVerified, Name: "ticketauth_code_verified_total", Help: "Verification codes accepted."},
	{ID: ticketauth.MetricCodeMismatch, Name: "ticketauth_code_mismatch_total", Help: "Verification codes rejected."},
	{ID: ticketauth.MetricCaptchaIssued, Name: "ticketauth_captcha_issued_total", Help: "Captcha challenges issued."},
	{ID: ticketauth.MetricCaptchaPassed, Name: "ticketauth_captcha_passed_total", Help: "Captcha answers accepted."},
	{ID: ticketauth.MetricCaptchaFailed, Name: "ticketauth_captcha_failed_total", Help: "Captcha answers rejected."},
	{ID: ticketauth.MetricFederatedLogin, Name: "ticketauth_federated_login_total", Help: "Successful federated logins."},
	{ID: ticketauth.MetricLogout, Name: "ticketauth_logout_total", Help: "Tokens revoked by logout."},
	{ID: ticketauth.MetricAuthorizeAllowed, Name: "ticketauth_authorize_allowed_total", Help: "Requests allowed by the access gate."},
	{ID: ticketauth.MetricAuthorizeUnauthorized, Name: "ticketauth_authorize_unauthorized_total", Help: "Requests rejected with 401."},
	{ID: ticketauth.MetricAuthorizeForbidden, Name: "ticketauth_authorize_forbidden_total", Help: "Requests rejected with 403."},
}

var HistogramDefs = []HistogramDef{
	{ID: ticketauth.MetricAuthorizeLatency, Name: "ticketauth_authorize_latency_seconds", Help: "Access gate decision latency."},
}

// AuditDropped describes the dispatcher backpressure counter.
var AuditDropped = CounterDef{
	Name: "ticketauth_audit_dropped_total",
	Help: "Audit events dropped because the dispatcher buffer was full.",
}

// HistogramBounds are the upper bounds, in seconds, of the engine's
// latency buckets.
var HistogramBounds = [BucketCount]string{
	"0.0001",
	"0.00025",
	"0.0005",
	"0.001",
	"0.0025",
	"0.005",
	"0.01",
	"+Inf",
}

// HistogramBoundSuffix names each bucket for exporters that cannot carry
// labels.
var HistogramBoundSuffix = [BucketCount]string{
	"0_0001",
	"0_00025",
	"0_0005",
	"0_001",
	"0_0025",
	"0_005",
	"0_01",
	"inf",
}

const BucketCount = 8

// NormalizeBuckets copies raw into a fixed-size array, zero-filling
// missing buckets.
func NormalizeBuckets(raw []uint64) [BucketCount]uint64 {
	var out [BucketCount]uint64
	copy(out[:], raw)
	return out
}

func CumulativeBuckets(raw [BucketCount]uint64) [BucketCount]uint64 {
	var out [BucketCount]uint64
	var running uint64
	for i, v := range raw {
		running += v
		out[i] = running
	}
	return out
}

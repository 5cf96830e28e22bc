package stores

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrVerificationRateLimited       = errors.New("verification send interval not elapsed")
	ErrVerificationRetryExceeded     = errors.New("verification retries exceeded")
	ErrVerificationRedisUnavailable  = errors.New("verification redis unavailable")
	errVerificationUnexpectedPayload = errors.New("unexpected verification script reply")
)

// IssueMode selects how an issue call treats the retry counter.
type IssueMode uint8

const (
	// IssueSend resets the retry counter to zero.
	IssueSend IssueMode = iota
	// IssueResend increments the retry counter.
	IssueResend
)

// issueCodeLua gates and stores a new code in one step.
// KEYS[1] = code key
// KEYS[2] = interval lock key
// KEYS[3] = retry counter key
// ARGV[1] = new code
// ARGV[2] = code ttl (ms)
// ARGV[3] = interval ttl (ms)
// ARGV[4] = max retries
// ARGV[5] = mode ("send" | "resend")
//
// Returns {previous code or "", previous code pttl} on success
// error string: "rate_limited", "retry_exceeded"
var issueCodeLua = redis.NewScript(`
if redis.call('EXISTS', KEYS[2]) == 1 then
  return {err='rate_limited'}
end

local retry = tonumber(redis.call('GET', KEYS[3]) or '0')
if retry >= tonumber(ARGV[4]) then
  return {err='retry_exceeded'}
end

local prevCode = redis.call('GET', KEYS[1])
local prevTTL = redis.call('PTTL', KEYS[1])

if ARGV[5] == 'resend' then
  redis.call('INCR', KEYS[3])
  if redis.call('PTTL', KEYS[3]) < 0 then
    redis.call('PEXPIRE', KEYS[3], ARGV[2])
  end
else
  redis.call('SET', KEYS[3], '0', 'PX', ARGV[2])
end

redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[2])
redis.call('SET', KEYS[2], '1', 'PX', ARGV[3])

if not prevCode then
  prevCode = ''
end
return {prevCode, prevTTL}
`)

// rollbackResendLua undoes a resend whose delivery failed. The interval lock
// stays in place.
// KEYS[1] = code key
// KEYS[2] = retry counter key
// ARGV[1] = code written by the failed resend
// ARGV[2] = previous code or ""
// ARGV[3] = remaining ttl for the previous code (ms)
var rollbackResendLua = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  local ttl = tonumber(ARGV[3])
  if ARGV[2] ~= '' and ttl > 0 then
    redis.call('SET', KEYS[1], ARGV[2], 'PX', ttl)
  else
    redis.call('DEL', KEYS[1])
  end
end

local retry = tonumber(redis.call('GET', KEYS[2]) or '0')
if retry > 0 then
  redis.call('DECR', KEYS[2])
end
return 1
`)

// verifyCodeLua atomically compares and consumes a code.
// KEYS[1] = code key, KEYS[2] = interval key, KEYS[3] = retry key
// ARGV[1] = submitted code
var verifyCodeLua = redis.NewScript(`
local stored = redis.call('GET', KEYS[1])
if not stored then
  return 0
end
if stored ~= ARGV[1] then
  return 0
end
redis.call('DEL', KEYS[1], KEYS[2], KEYS[3])
return 1
`)

// redeemCodeLua is verifyCodeLua plus a short-lived receipt, so a duplicate
// submission of the same code can be recognised after the code is gone.
// KEYS[1..3] as verifyCodeLua, KEYS[4] = receipt key
// ARGV[1] = submitted code
// ARGV[2] = receipt ttl (ms)
//
// Returns 1 on match, 2 when a receipt for the same code exists, else 0.
var redeemCodeLua = redis.NewScript(`
local stored = redis.call('GET', KEYS[1])
if stored and stored == ARGV[1] then
  redis.call('DEL', KEYS[1], KEYS[2], KEYS[3])
  redis.call('SET', KEYS[4], ARGV[1], 'PX', ARGV[2])
  return 1
end
if redis.call('GET', KEYS[4]) == ARGV[1] then
  return 2
end
return 0
`)

// RedeemResult is the outcome of Redeem.
type RedeemResult uint8

const (
	RedeemMismatch RedeemResult = iota
	RedeemMatched
	// RedeemReplayed means the code was already redeemed within the
	// receipt window.
	RedeemReplayed
)

// VerificationCodeConfig tunes code lifetime and gating.
type VerificationCodeConfig struct {
	CodeTTL        time.Duration
	ResendInterval time.Duration
	MaxRetries     int
}

// IssuedCode describes a stored code and what it replaced, so a failed
// delivery can be undone.
type IssuedCode struct {
	Code         string
	Mode         IssueMode
	PreviousCode string
	PreviousTTL  time.Duration
	IssuedAt     time.Time
}

// VerificationCodeStore keeps one active code per email together with its
// send-interval lock and retry counter.
type VerificationCodeStore struct {
	redis  redis.UniversalClient
	prefix string
	config VerificationCodeConfig
	now    func() time.Time
}

func NewVerificationCodeStore(redisClient redis.UniversalClient, prefix string, cfg VerificationCodeConfig) *VerificationCodeStore {
	if prefix == "" {
		prefix = "ta:vc"
	}
	return &VerificationCodeStore{
		redis:  redisClient,
		prefix: prefix,
		config: cfg,
		now:    time.Now,
	}
}

// NormalizeEmail is the canonical key form for an address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// keys share a hash tag so scripts stay single-slot on Redis Cluster.
func (s *VerificationCodeStore) keys(email string) []string {
	tag := "{" + NormalizeEmail(email) + "}"
	return []string{
		s.prefix + ":code:" + tag,
		s.prefix + ":interval:" + tag,
		s.prefix + ":retry:" + tag,
	}
}

func (s *VerificationCodeStore) receiptKey(email string) string {
	return s.prefix + ":receipt:{" + NormalizeEmail(email) + "}"
}

// Issue stores code for email after checking the interval lock and retry
// bound.
func (s *VerificationCodeStore) Issue(ctx context.Context, email, code string, mode IssueMode) (IssuedCode, error) {
	modeArg := "send"
	if mode == IssueResend {
		modeArg = "resend"
	}

	issuedAt := s.now()
	raw, err := issueCodeLua.Run(ctx, s.redis, s.keys(email),
		code,
		s.config.CodeTTL.Milliseconds(),
		s.config.ResendInterval.Milliseconds(),
		s.config.MaxRetries,
		modeArg,
	).Result()
	if err != nil {
		return IssuedCode{}, mapVerificationScriptError(err)
	}

	reply, ok := raw.([]interface{})
	if !ok || len(reply) != 2 {
		return IssuedCode{}, errVerificationUnexpectedPayload
	}
	prevCode, _ := reply[0].(string)
	prevTTL, _ := reply[1].(int64)

	issued := IssuedCode{
		Code:         code,
		Mode:         mode,
		PreviousCode: prevCode,
		IssuedAt:     issuedAt,
	}
	if prevTTL > 0 {
		issued.PreviousTTL = time.Duration(prevTTL) * time.Millisecond
	}
	return issued, nil
}

// Rollback undoes an Issue whose delivery failed. A failed send removes all
// state for the email. A failed resend restores the previous code with the
// time it had left and gives back the retry.
func (s *VerificationCodeStore) Rollback(ctx context.Context, email string, issued IssuedCode) error {
	keys := s.keys(email)
	if issued.Mode == IssueSend {
		if err := s.redis.Del(ctx, keys...).Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrVerificationRedisUnavailable, err)
		}
		return nil
	}

	remaining := issued.PreviousTTL - s.now().Sub(issued.IssuedAt)
	if remaining < 0 {
		remaining = 0
	}
	err := rollbackResendLua.Run(ctx, s.redis, []string{keys[0], keys[2]},
		issued.Code,
		issued.PreviousCode,
		remaining.Milliseconds(),
	).Err()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrVerificationRedisUnavailable, err)
	}
	return nil
}

// Verify consumes the active code when it equals code. A successful match
// also clears the interval lock and retry counter.
func (s *VerificationCodeStore) Verify(ctx context.Context, email, code string) (bool, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return false, nil
	}
	n, err := verifyCodeLua.Run(ctx, s.redis, s.keys(email), code).Int64()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrVerificationRedisUnavailable, err)
	}
	return n == 1, nil
}

// Redeem is Verify for flows that must tolerate a duplicate submission. A
// match leaves a receipt for window, and the same code submitted again
// while the receipt lives reports RedeemReplayed.
func (s *VerificationCodeStore) Redeem(ctx context.Context, email, code string, window time.Duration) (RedeemResult, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return RedeemMismatch, nil
	}
	if window <= 0 {
		ok, err := s.Verify(ctx, email, code)
		if err != nil || !ok {
			return RedeemMismatch, err
		}
		return RedeemMatched, nil
	}

	keys := append(s.keys(email), s.receiptKey(email))
	n, err := redeemCodeLua.Run(ctx, s.redis, keys, code, window.Milliseconds()).Int64()
	if err != nil {
		return RedeemMismatch, fmt.Errorf("%w: %v", ErrVerificationRedisUnavailable, err)
	}
	switch n {
	case 1:
		return RedeemMatched, nil
	case 2:
		return RedeemReplayed, nil
	default:
		return RedeemMismatch, nil
	}
}

// Remaining reports the lifetime left on the active code. ok is false when
// no code is active.
func (s *VerificationCodeStore) Remaining(ctx context.Context, email string) (time.Duration, bool, error) {
	ttl, err := s.redis.PTTL(ctx, s.keys(email)[0]).Result()
	if err != nil {
		return 0, false, fmt.Errorf("%w: %v", ErrVerificationRedisUnavailable, err)
	}
	if ttl <= 0 {
		return 0, false, nil
	}
	return ttl, true, nil
}

// Clear removes every key for email, including a redemption receipt.
func (s *VerificationCodeStore) Clear(ctx context.Context, email string) error {
	keys := append(s.keys(email), s.receiptKey(email))
	if err := s.redis.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrVerificationRedisUnavailable, err)
	}
	return nil
}

func mapVerificationScriptError(err error) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "rate_limited"):
		return ErrVerificationRateLimited
	case strings.Contains(msg, "retry_exceeded"):
		return ErrVerificationRetryExceeded
	default:
		return fmt.Errorf("%w: %v", ErrVerificationRedisUnavailable, err)
	}
}

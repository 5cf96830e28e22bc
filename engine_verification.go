package ticketauth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/ticketauth/internal"
	"github.com/MrEthical07/ticketauth/internal/flows"
	"github.com/MrEthical07/ticketauth/internal/rate"
	"github.com/MrEthical07/ticketauth/internal/stores"
)

// SendVerificationCode issues a fresh code for email, resetting the retry
// counter, and delivers it through the EmailSender.
//
// It returns ErrRateLimited while the send interval is locked,
// ErrRetryExceeded once the retry budget is spent, and ErrDeliveryFailed
// when the sender fails, in which case no code is left behind. With
// Verification.RequireCaptcha set it always returns ErrCaptchaMismatch;
// use SendVerificationCodeWithCaptcha.
func (e *Engine) SendVerificationCode(ctx context.Context, email string) error {
	if e == nil || e.codes == nil {
		return ErrEngineNotReady
	}
	return e.sendCode(ctx, stores.NormalizeEmail(email), stores.IssueSend, nil)
}

// SendVerificationCodeWithCaptcha validates the captcha answer before
// sending. A wrong, expired or reused answer returns ErrCaptchaMismatch and
// nothing is sent.
func (e *Engine) SendVerificationCodeWithCaptcha(ctx context.Context, email, captchaKey, captchaAnswer string) error {
	if e == nil || e.codes == nil {
		return ErrEngineNotReady
	}
	return e.sendCode(ctx, stores.NormalizeEmail(email), stores.IssueSend, e.captchaGate(captchaKey, captchaAnswer))
}

// ResendVerificationCode replaces the active code and consumes one retry.
// If delivery fails, the previous code is restored with its remaining
// lifetime and the retry is returned; the interval lock stays.
func (e *Engine) ResendVerificationCode(ctx context.Context, email string) error {
	if e == nil || e.codes == nil {
		return ErrEngineNotReady
	}
	email = stores.NormalizeEmail(email)
	if err := e.sendCode(ctx, email, stores.IssueResend, nil); err != nil {
		return err
	}
	if e.pending != nil {
		if err := e.pending.Touch(ctx, email, e.config.Verification.CodeTTL); err != nil {
			e.warn("pending registration refresh failed", err)
		}
	}
	return nil
}

// VerifyCode reports whether code matches the active code for email. A
// match consumes the code together with its interval lock and retry
// counter. Absent, expired and mismatched codes all return false.
func (e *Engine) VerifyCode(ctx context.Context, email, code string) (bool, error) {
	if e == nil || e.codes == nil {
		return false, ErrEngineNotReady
	}
	return e.verifyCode(ctx, stores.NormalizeEmail(email), code)
}

// VerificationCodeRemaining returns the lifetime left on the active code.
// ok is false when no code is active.
func (e *Engine) VerificationCodeRemaining(ctx context.Context, email string) (remaining time.Duration, ok bool, err error) {
	if e == nil || e.codes == nil {
		return 0, false, ErrEngineNotReady
	}
	remaining, ok, err = e.codes.Remaining(ctx, stores.NormalizeEmail(email))
	if err != nil {
		return 0, false, fmt.Errorf("%w: %v", ErrVerificationUnavailable, err)
	}
	return remaining, ok, nil
}

// ClearVerificationCode removes the code, interval lock and retry counter
// for email.
func (e *Engine) ClearVerificationCode(ctx context.Context, email string) error {
	if e == nil || e.codes == nil {
		return ErrEngineNotReady
	}
	if err := e.codes.Clear(ctx, stores.NormalizeEmail(email)); err != nil {
		return fmt.Errorf("%w: %v", ErrVerificationUnavailable, err)
	}
	return nil
}

func (e *Engine) verifyCode(ctx context.Context, email, code string) (bool, error) {
	ok, err := e.codes.Verify(ctx, email, code)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrVerificationUnavailable, err)
	}
	if ok {
		e.metricInc(MetricCodeVerified)
	} else {
		e.metricInc(MetricCodeMismatch)
	}
	return ok, nil
}

// redeemCode verifies a registration code. A duplicate submission of a code
// redeemed moments ago also passes, so the second caller can fall through
// to logging in the identity the first one created.
func (e *Engine) redeemCode(ctx context.Context, email, code string) (bool, error) {
	result, err := e.codes.Redeem(ctx, email, code, e.config.Verification.RegistrationReplayWindow)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrVerificationUnavailable, err)
	}
	switch result {
	case stores.RedeemMatched:
		e.metricInc(MetricCodeVerified)
		return true, nil
	case stores.RedeemReplayed:
		return true, nil
	default:
		e.metricInc(MetricCodeMismatch)
		return false, nil
	}
}

// sendCode runs the send flow. captcha is nil for the plain entry points;
// only IssueSend is captcha gated.
func (e *Engine) sendCode(ctx context.Context, email string, mode stores.IssueMode, captcha func(context.Context) error) error {
	if mode == stores.IssueSend && e.config.Verification.RequireCaptcha && captcha == nil {
		captcha = func(context.Context) error {
			e.metricInc(MetricCaptchaFailed)
			return ErrCaptchaMismatch
		}
	}

	deps := flows.CodeDeps{
		CheckCaptcha: captcha,
		NewCode: func() (string, error) {
			return internal.NewOTP(e.config.Verification.CodeLength)
		},
		Issue: func(ctx context.Context, email, code string, mode stores.IssueMode) (stores.IssuedCode, error) {
			issued, err := e.codes.Issue(ctx, email, code, mode)
			switch {
			case err == nil:
				return issued, nil
			case errors.Is(err, stores.ErrVerificationRateLimited):
				return stores.IssuedCode{}, ErrRateLimited
			case errors.Is(err, stores.ErrVerificationRetryExceeded):
				return stores.IssuedCode{}, ErrRetryExceeded
			default:
				return stores.IssuedCode{}, fmt.Errorf("%w: %v", ErrVerificationUnavailable, err)
			}
		},
		Rollback:  e.codes.Rollback,
		Deliver:   e.mailer.SendVerificationCode,
		Warn:      e.warn,
		MetricInc: e.metricIncInt,
		EmitAudit: e.emitAudit,
		Metrics:   flowMetrics(),
		Events:    flowEvents(),
		Errors:    flowErrors(),
	}

	if mode == stores.IssueSend && e.limiter != nil {
		deps.CheckIP = func(ctx context.Context) error {
			err := e.limiter.CheckCodeSend(ctx, ClientIPFromContext(ctx))
			switch {
			case err == nil:
				return nil
			case errors.Is(err, rate.ErrRateLimited):
				return ErrRateLimited
			default:
				return fmt.Errorf("%w: %v", ErrVerificationUnavailable, err)
			}
		}
	}

	return flows.RunSendCode(ctx, email, mode, deps)
}

package flows

import (
	"context"
	"errors"

	"github.com/MrEthical07/ticketauth/internal/stores"
)

// CodeDeps wires the collaborators used by RunSendCode.
type CodeDeps struct {
	// CheckCaptcha and CheckIP are optional gates run before anything is
	// stored.
	CheckCaptcha func(ctx context.Context) error
	CheckIP      func(ctx context.Context) error

	NewCode  func() (string, error)
	Issue    func(ctx context.Context, email, code string, mode stores.IssueMode) (stores.IssuedCode, error)
	Rollback func(ctx context.Context, email string, issued stores.IssuedCode) error
	Deliver  func(ctx context.Context, email, code string) error
	Warn     func(msg string, err error)

	MetricInc func(int)
	EmitAudit AuditFunc
	Metrics   Metrics
	Events    Events
	Errors    Errors
}

// RunSendCode issues a fresh verification code for email and delivers it.
// When delivery fails the stored state is rolled back, so the caller is
// never left with a code that was not sent. A failed resend keeps the
// previously delivered code usable.
func RunSendCode(ctx context.Context, email string, mode stores.IssueMode, deps CodeDeps) error {
	if deps.MetricInc == nil {
		deps.MetricInc = noopMetric
	}
	if deps.EmitAudit == nil {
		deps.EmitAudit = noopAudit
	}
	if deps.Warn == nil {
		deps.Warn = func(string, error) {}
	}
	if deps.NewCode == nil || deps.Issue == nil || deps.Rollback == nil || deps.Deliver == nil {
		return deps.Errors.EngineNotReady
	}

	reject := func(err error, reason string) error {
		deps.EmitAudit(ctx, deps.Events.CodeSendFailure, false, 0, email, err, func() map[string]string {
			return map[string]string{"reason": reason, "mode": modeName(mode)}
		})
		return err
	}

	if deps.CheckCaptcha != nil {
		if err := deps.CheckCaptcha(ctx); err != nil {
			return reject(err, "captcha")
		}
	}
	if deps.CheckIP != nil {
		if err := deps.CheckIP(ctx); err != nil {
			deps.MetricInc(deps.Metrics.CodeRateLimited)
			return reject(err, "ip_budget")
		}
	}

	code, err := deps.NewCode()
	if err != nil {
		return err
	}

	issued, err := deps.Issue(ctx, email, code, mode)
	if err != nil {
		switch {
		case errors.Is(err, deps.Errors.RateLimited):
			deps.MetricInc(deps.Metrics.CodeRateLimited)
			return reject(err, "interval")
		case errors.Is(err, deps.Errors.RetryExceeded):
			deps.MetricInc(deps.Metrics.CodeRetryExceeded)
			return reject(err, "retries")
		}
		return reject(err, "store")
	}

	if err := deps.Deliver(ctx, email, code); err != nil {
		deps.MetricInc(deps.Metrics.CodeDeliveryFailed)
		if rbErr := deps.Rollback(ctx, email, issued); rbErr != nil {
			deps.Warn("verification code rollback failed", rbErr)
		}
		deps.Warn("verification code delivery failed", err)
		return reject(deps.Errors.DeliveryFailed, "delivery")
	}

	deps.MetricInc(deps.Metrics.CodeSent)
	deps.EmitAudit(ctx, deps.Events.CodeSent, true, 0, email, nil, func() map[string]string {
		return map[string]string{"mode": modeName(mode)}
	})
	return nil
}

func modeName(mode stores.IssueMode) string {
	if mode == stores.IssueResend {
		return "resend"
	}
	return "send"
}

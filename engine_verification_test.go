package ticketauth

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestSendVerificationCodeIntervalLock(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	if err := env.engine.SendVerificationCode(ctx, "a@x.com"); err != nil {
		t.Fatalf("first send failed: %v", err)
	}
	if err := env.engine.SendVerificationCode(ctx, "a@x.com"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited inside the interval, got %v", err)
	}

	env.mr.FastForward(61 * time.Second)
	if err := env.engine.SendVerificationCode(ctx, "a@x.com"); err != nil {
		t.Fatalf("send after interval failed: %v", err)
	}
	if env.mailer.count("a@x.com") != 2 {
		t.Fatalf("expected 2 deliveries, got %d", env.mailer.count("a@x.com"))
	}
}

func TestResendRetryBoundIsInclusive(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	if err := env.engine.SendVerificationCode(ctx, "a@x.com"); err != nil {
		t.Fatal(err)
	}
	for i := 1; i <= 3; i++ {
		env.mr.FastForward(61 * time.Second)
		if err := env.engine.ResendVerificationCode(ctx, "a@x.com"); err != nil {
			t.Fatalf("resend %d failed: %v", i, err)
		}
	}

	env.mr.FastForward(61 * time.Second)
	if err := env.engine.ResendVerificationCode(ctx, "a@x.com"); !errors.Is(err, ErrRetryExceeded) {
		t.Fatalf("expected ErrRetryExceeded at retryCount == max, got %v", err)
	}
	if got := env.engine.MetricsSnapshot().Counters[MetricCodeRetryExceeded]; got != 1 {
		t.Fatalf("expected retry exceeded metric 1, got %d", got)
	}
}

func TestResendReplacesPreviousCode(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	if err := env.engine.SendVerificationCode(ctx, "a@x.com"); err != nil {
		t.Fatal(err)
	}
	first := env.mailer.last(t, "a@x.com")

	env.mr.FastForward(61 * time.Second)
	if err := env.engine.ResendVerificationCode(ctx, "a@x.com"); err != nil {
		t.Fatal(err)
	}
	second := env.mailer.last(t, "a@x.com")

	if first != second {
		if ok, _ := env.engine.VerifyCode(ctx, "a@x.com", first); ok {
			t.Fatal("replaced code must be unusable")
		}
	}
	if ok, _ := env.engine.VerifyCode(ctx, "a@x.com", second); !ok {
		t.Fatal("latest code must verify")
	}
}

func TestSendDeliveryFailureRollsBack(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	env.mailer.setFail(true)
	if err := env.engine.SendVerificationCode(ctx, "a@x.com"); !errors.Is(err, ErrDeliveryFailed) {
		t.Fatalf("expected ErrDeliveryFailed, got %v", err)
	}
	if _, ok, _ := env.engine.VerificationCodeRemaining(ctx, "a@x.com"); ok {
		t.Fatal("no code may remain after a failed send")
	}

	// the interval lock was rolled back too
	env.mailer.setFail(false)
	if err := env.engine.SendVerificationCode(ctx, "a@x.com"); err != nil {
		t.Fatalf("expected immediate send after rollback, got %v", err)
	}
}

func TestResendDeliveryFailureKeepsPreviousCode(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	if err := env.engine.SendVerificationCode(ctx, "a@x.com"); err != nil {
		t.Fatal(err)
	}
	first := env.mailer.last(t, "a@x.com")

	env.mr.FastForward(61 * time.Second)
	env.mailer.setFail(true)
	if err := env.engine.ResendVerificationCode(ctx, "a@x.com"); !errors.Is(err, ErrDeliveryFailed) {
		t.Fatalf("expected ErrDeliveryFailed, got %v", err)
	}

	if ok, _ := env.engine.VerifyCode(ctx, "a@x.com", first); !ok {
		t.Fatal("previous code must survive a failed resend")
	}
}

func TestVerifyCodeSucceedsAtMostOnce(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	if err := env.engine.SendVerificationCode(ctx, "a@x.com"); err != nil {
		t.Fatal(err)
	}
	code := env.mailer.last(t, "a@x.com")

	if ok, err := env.engine.VerifyCode(ctx, "a@x.com", code); err != nil || !ok {
		t.Fatalf("expected first verify to succeed, ok=%v err=%v", ok, err)
	}
	if ok, _ := env.engine.VerifyCode(ctx, "a@x.com", code); ok {
		t.Fatal("second verify with the same code must fail")
	}
}

func TestClearVerificationCode(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	if err := env.engine.SendVerificationCode(ctx, "a@x.com"); err != nil {
		t.Fatal(err)
	}
	if err := env.engine.ClearVerificationCode(ctx, "a@x.com"); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := env.engine.VerificationCodeRemaining(ctx, "a@x.com"); ok {
		t.Fatal("expected no active code after clear")
	}
	if err := env.engine.SendVerificationCode(ctx, "a@x.com"); err != nil {
		t.Fatalf("expected send right after clear, got %v", err)
	}
}

func TestSendCodePerIPBudget(t *testing.T) {
	env := newTestEnv(t, func(c *Config) {
		c.Verification.MaxSendsPerIP = 2
	})
	ctx := WithClientIP(context.Background(), "203.0.113.9")

	for _, email := range []string{"a@x.com", "b@x.com"} {
		if err := env.engine.SendVerificationCode(ctx, email); err != nil {
			t.Fatalf("send to %s failed: %v", email, err)
		}
	}
	if err := env.engine.SendVerificationCode(ctx, "c@x.com"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited past the IP budget, got %v", err)
	}
	if env.mailer.count("c@x.com") != 0 {
		t.Fatal("no code may be delivered past the IP budget")
	}
}

func TestCaptchaValidateIsOneShot(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	if err := env.engine.captchas.Put(ctx, "k1", "AB12", time.Minute); err != nil {
		t.Fatal(err)
	}
	if ok, err := env.engine.ValidateCaptcha(ctx, "k1", " ab12 "); err != nil || !ok {
		t.Fatalf("expected first validate to succeed, ok=%v err=%v", ok, err)
	}
	if ok, _ := env.engine.ValidateCaptcha(ctx, "k1", "AB12"); ok {
		t.Fatal("second validate must fail")
	}
}

func TestCaptchaWrongAnswerConsumesChallenge(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	challenge, err := env.engine.IssueCaptcha(ctx)
	if err != nil {
		t.Fatalf("IssueCaptcha failed: %v", err)
	}
	if challenge.Key == "" || challenge.ContentType != "image/svg+xml" || len(challenge.Image) == 0 {
		t.Fatalf("unexpected challenge: %+v", challenge)
	}
	answer, err := env.mr.Get("ta:captcha:" + challenge.Key)
	if err != nil || len(answer) != 4 {
		t.Fatalf("expected stored 4 character answer, got %q err=%v", answer, err)
	}

	if ok, _ := env.engine.ValidateCaptcha(ctx, challenge.Key, "????"); ok {
		t.Fatal("wrong answer must fail")
	}
	if ok, _ := env.engine.ValidateCaptcha(ctx, challenge.Key, answer); ok {
		t.Fatal("challenge must be consumed by the failed attempt")
	}
}

func TestCaptchaExpires(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	challenge, err := env.engine.IssueCaptcha(ctx)
	if err != nil {
		t.Fatal(err)
	}
	answer, _ := env.mr.Get("ta:captcha:" + challenge.Key)

	env.mr.FastForward(6 * time.Minute)
	if ok, _ := env.engine.ValidateCaptcha(ctx, challenge.Key, answer); ok {
		t.Fatal("expired challenge must fail")
	}
}

func TestRequireCaptchaGatesSend(t *testing.T) {
	env := newTestEnv(t, func(c *Config) {
		c.Verification.RequireCaptcha = true
	})
	ctx := context.Background()

	if err := env.engine.SendVerificationCode(ctx, "a@x.com"); !errors.Is(err, ErrCaptchaMismatch) {
		t.Fatalf("expected ErrCaptchaMismatch without captcha, got %v", err)
	}
	if err := env.engine.SendVerificationCodeWithCaptcha(ctx, "a@x.com", "missing", "ABCD"); !errors.Is(err, ErrCaptchaMismatch) {
		t.Fatalf("expected ErrCaptchaMismatch for unknown key, got %v", err)
	}
	if env.mailer.count("a@x.com") != 0 {
		t.Fatal("no code may be sent without a solved captcha")
	}

	if err := env.engine.captchas.Put(ctx, "k2", "WXYZ", time.Minute); err != nil {
		t.Fatal(err)
	}
	if err := env.engine.SendVerificationCodeWithCaptcha(ctx, "a@x.com", "k2", "wxyz"); err != nil {
		t.Fatalf("expected send with solved captcha, got %v", err)
	}

	if err := env.engine.captchas.Put(ctx, "k3", "QRST", time.Minute); err != nil {
		t.Fatal(err)
	}
	outcome, err := env.engine.LoginOrRegisterWithCaptcha(ctx, "new@x.com", "secret1", "", "k3", "QRST")
	if err != nil || outcome.Kind != OutcomeVerificationRequired {
		t.Fatalf("expected verification required, outcome=%+v err=%v", outcome, err)
	}
}

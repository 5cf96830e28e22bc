package ticketauth

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/MrEthical07/ticketauth/internal"
	"github.com/google/uuid"
)

// IssueCaptcha creates a one-shot challenge. The answer is stored under a
// random key for Captcha.TTL and rendered by the CaptchaRenderer, if any.
func (e *Engine) IssueCaptcha(ctx context.Context) (CaptchaChallenge, error) {
	if e == nil || e.captchas == nil {
		return CaptchaChallenge{}, ErrEngineNotReady
	}

	answer, err := internal.NewCaptchaText(e.config.Captcha.Length)
	if err != nil {
		return CaptchaChallenge{}, err
	}
	key := uuid.NewString()

	challenge := CaptchaChallenge{
		Key:       key,
		ExpiresAt: time.Now().Add(e.config.Captcha.TTL),
	}
	if e.renderer != nil {
		image, contentType, err := e.renderer.Render(answer)
		if err != nil {
			return CaptchaChallenge{}, err
		}
		challenge.Image = image
		challenge.ContentType = contentType
	}

	if err := e.captchas.Put(ctx, key, answer, e.config.Captcha.TTL); err != nil {
		return CaptchaChallenge{}, fmt.Errorf("%w: %v", ErrCaptchaUnavailable, err)
	}

	e.metricInc(MetricCaptchaIssued)
	return challenge, nil
}

// ValidateCaptcha compares answer with the challenge under key, ignoring
// surrounding whitespace and case. The challenge is deleted on every
// attempt, so a key can be checked only once.
func (e *Engine) ValidateCaptcha(ctx context.Context, key, answer string) (bool, error) {
	if e == nil || e.captchas == nil {
		return false, ErrEngineNotReady
	}

	stored, ok, err := e.captchas.Take(ctx, strings.TrimSpace(key))
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrCaptchaUnavailable, err)
	}

	answer = strings.TrimSpace(answer)
	if !ok || answer == "" || !strings.EqualFold(stored, answer) {
		e.metricInc(MetricCaptchaFailed)
		return false, nil
	}

	e.metricInc(MetricCaptchaPassed)
	return true, nil
}

func (e *Engine) captchaGate(key, answer string) func(context.Context) error {
	return func(ctx context.Context) error {
		ok, err := e.ValidateCaptcha(ctx, key, answer)
		if err != nil {
			return err
		}
		if !ok {
			return ErrCaptchaMismatch
		}
		return nil
	}
}

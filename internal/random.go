package internal

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"
	"strings"
)

// captchaAlphabet omits glyphs that are easy to confuse when rendered
// (0/O, 1/I/L).
const captchaAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

const stateSize = 24

// NewOTP returns a uniformly random numeric code of the given length.
func NewOTP(digits int) (string, error) {
	if digits < 4 || digits > 10 {
		return "", errors.New("invalid otp digits")
	}
	return randomFrom("0123456789", digits)
}

// NewCaptchaText returns an uppercase challenge answer of length n.
func NewCaptchaText(n int) (string, error) {
	if n < 4 || n > 12 {
		return "", errors.New("invalid captcha length")
	}
	return randomFrom(captchaAlphabet, n)
}

// NewState returns an opaque, URL-safe value for one-shot redirect state.
func NewState() (string, error) {
	var raw [stateSize]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw[:]), nil
}

func randomFrom(alphabet string, n int) (string, error) {
	var b strings.Builder
	b.Grow(n)

	max := big.NewInt(int64(len(alphabet)))
	for i := 0; i < n; i++ {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(alphabet[idx.Int64()])
	}

	out := b.String()
	if len(out) != n {
		return "", fmt.Errorf("invalid random generation length")
	}
	return out, nil
}

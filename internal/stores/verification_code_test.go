package stores

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newTestCodeStore(t *testing.T) (*VerificationCodeStore, func(time.Duration)) {
	t.Helper()
	mr, rdb := newTestRedis(t)
	s := NewVerificationCodeStore(rdb, "vc", VerificationCodeConfig{
		CodeTTL:        15 * time.Minute,
		ResendInterval: time.Minute,
		MaxRetries:     3,
	})
	return s, mr.FastForward
}

func TestIssueSendThenIntervalLock(t *testing.T) {
	ctx := context.Background()
	s, ff := newTestCodeStore(t)

	if _, err := s.Issue(ctx, "a@x.com", "111111", IssueSend); err != nil {
		t.Fatalf("first send failed: %v", err)
	}
	if _, err := s.Issue(ctx, "a@x.com", "222222", IssueSend); !errors.Is(err, ErrVerificationRateLimited) {
		t.Fatalf("expected ErrVerificationRateLimited, got %v", err)
	}

	ff(61 * time.Second)
	if _, err := s.Issue(ctx, "a@x.com", "333333", IssueSend); err != nil {
		t.Fatalf("send after interval failed: %v", err)
	}
	ok, err := s.Verify(ctx, "a@x.com", "333333")
	if err != nil || !ok {
		t.Fatalf("expected latest code to verify, ok=%v err=%v", ok, err)
	}
}

func TestIssueResendRetryBoundIsInclusive(t *testing.T) {
	ctx := context.Background()
	s, ff := newTestCodeStore(t)

	if _, err := s.Issue(ctx, "b@x.com", "100000", IssueSend); err != nil {
		t.Fatalf("send failed: %v", err)
	}
	for i := 0; i < 3; i++ {
		ff(61 * time.Second)
		if _, err := s.Issue(ctx, "b@x.com", "10000"+string(rune('1'+i)), IssueResend); err != nil {
			t.Fatalf("resend %d failed: %v", i+1, err)
		}
	}

	ff(61 * time.Second)
	if _, err := s.Issue(ctx, "b@x.com", "999999", IssueResend); !errors.Is(err, ErrVerificationRetryExceeded) {
		t.Fatalf("expected ErrVerificationRetryExceeded at retry==max, got %v", err)
	}
	if _, err := s.Issue(ctx, "b@x.com", "999999", IssueSend); !errors.Is(err, ErrVerificationRetryExceeded) {
		t.Fatalf("expected send to honor the retry bound too, got %v", err)
	}
}

func TestResendReplacesPriorCode(t *testing.T) {
	ctx := context.Background()
	s, ff := newTestCodeStore(t)

	if _, err := s.Issue(ctx, "c@x.com", "123456", IssueSend); err != nil {
		t.Fatalf("send failed: %v", err)
	}
	ff(61 * time.Second)
	issued, err := s.Issue(ctx, "c@x.com", "654321", IssueResend)
	if err != nil {
		t.Fatalf("resend failed: %v", err)
	}
	if issued.PreviousCode != "123456" || issued.PreviousTTL <= 0 {
		t.Fatalf("expected previous code to be reported, got %+v", issued)
	}

	if ok, _ := s.Verify(ctx, "c@x.com", "123456"); ok {
		t.Fatal("prior code must be unusable after resend")
	}
	if ok, _ := s.Verify(ctx, "c@x.com", "654321"); !ok {
		t.Fatal("new code should verify")
	}
}

func TestVerifyIsOneShot(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestCodeStore(t)

	if _, err := s.Issue(ctx, "d@x.com", "424242", IssueSend); err != nil {
		t.Fatalf("send failed: %v", err)
	}
	if ok, _ := s.Verify(ctx, "d@x.com", " 424242 "); !ok {
		t.Fatal("expected trimmed code to verify")
	}
	if ok, _ := s.Verify(ctx, "d@x.com", "424242"); ok {
		t.Fatal("second verify with the same code must fail")
	}

	// success also clears the interval lock
	if _, err := s.Issue(ctx, "d@x.com", "111111", IssueSend); err != nil {
		t.Fatalf("expected send to be allowed after successful verify, got %v", err)
	}
}

func TestVerifyFailsClosed(t *testing.T) {
	ctx := context.Background()
	s, ff := newTestCodeStore(t)

	if ok, err := s.Verify(ctx, "nobody@x.com", "000000"); ok || err != nil {
		t.Fatalf("expected false for missing record, ok=%v err=%v", ok, err)
	}

	if _, err := s.Issue(ctx, "e@x.com", "777777", IssueSend); err != nil {
		t.Fatalf("send failed: %v", err)
	}
	if ok, _ := s.Verify(ctx, "e@x.com", "777778"); ok {
		t.Fatal("expected mismatch to fail")
	}
	if ok, _ := s.Verify(ctx, "e@x.com", ""); ok {
		t.Fatal("expected empty code to fail")
	}

	ff(16 * time.Minute)
	if ok, _ := s.Verify(ctx, "e@x.com", "777777"); ok {
		t.Fatal("expected expired code to fail")
	}
}

func TestRollbackSendRemovesAllState(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestCodeStore(t)

	issued, err := s.Issue(ctx, "f@x.com", "121212", IssueSend)
	if err != nil {
		t.Fatalf("send failed: %v", err)
	}
	if err := s.Rollback(ctx, "f@x.com", issued); err != nil {
		t.Fatalf("rollback failed: %v", err)
	}

	if _, ok, _ := s.Remaining(ctx, "f@x.com"); ok {
		t.Fatal("expected no active code after rollback")
	}
	if _, err := s.Issue(ctx, "f@x.com", "343434", IssueSend); err != nil {
		t.Fatalf("expected interval lock removed by rollback, got %v", err)
	}
}

func TestRollbackResendRestoresPreviousCode(t *testing.T) {
	ctx := context.Background()
	s, ff := newTestCodeStore(t)

	if _, err := s.Issue(ctx, "g@x.com", "111111", IssueSend); err != nil {
		t.Fatalf("send failed: %v", err)
	}
	ff(61 * time.Second)
	issued, err := s.Issue(ctx, "g@x.com", "222222", IssueResend)
	if err != nil {
		t.Fatalf("resend failed: %v", err)
	}
	if err := s.Rollback(ctx, "g@x.com", issued); err != nil {
		t.Fatalf("rollback failed: %v", err)
	}

	remaining, ok, err := s.Remaining(ctx, "g@x.com")
	if err != nil || !ok {
		t.Fatalf("expected previous code to remain active, ok=%v err=%v", ok, err)
	}
	if remaining > 14*time.Minute {
		t.Fatalf("restored code should keep its reduced lifetime, got %v", remaining)
	}

	// the retry was given back: three resends are still possible
	for i := 0; i < 3; i++ {
		ff(61 * time.Second)
		if _, err := s.Issue(ctx, "g@x.com", "30000"+string(rune('0'+i)), IssueResend); err != nil {
			t.Fatalf("resend %d after rollback failed: %v", i+1, err)
		}
	}
}

func TestRollbackResendWithoutPreviousCodeDeletesNewCode(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestCodeStore(t)

	issued, err := s.Issue(ctx, "h@x.com", "555555", IssueResend)
	if err != nil {
		t.Fatalf("resend failed: %v", err)
	}
	if err := s.Rollback(ctx, "h@x.com", issued); err != nil {
		t.Fatalf("rollback failed: %v", err)
	}
	if ok, _ := s.Verify(ctx, "h@x.com", "555555"); ok {
		t.Fatal("undelivered code must not verify")
	}
}

func TestRemainingAndClear(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestCodeStore(t)

	if _, ok, err := s.Remaining(ctx, "i@x.com"); ok || err != nil {
		t.Fatalf("expected no active code, ok=%v err=%v", ok, err)
	}
	if _, err := s.Issue(ctx, "I@X.com ", "999000", IssueSend); err != nil {
		t.Fatalf("send failed: %v", err)
	}
	remaining, ok, err := s.Remaining(ctx, "i@x.com")
	if err != nil || !ok {
		t.Fatalf("expected active code, ok=%v err=%v", ok, err)
	}
	if remaining <= 14*time.Minute || remaining > 15*time.Minute {
		t.Fatalf("expected ~15m remaining, got %v", remaining)
	}

	if err := s.Clear(ctx, "i@x.com"); err != nil {
		t.Fatalf("clear failed: %v", err)
	}
	if _, ok, _ := s.Remaining(ctx, "i@x.com"); ok {
		t.Fatal("expected clear to remove the code")
	}
	if _, err := s.Issue(ctx, "i@x.com", "999001", IssueSend); err != nil {
		t.Fatalf("expected clear to drop the interval lock, got %v", err)
	}
}

func TestRedeemReplayWithinWindow(t *testing.T) {
	ctx := context.Background()
	s, ff := newTestCodeStore(t)

	if _, err := s.Issue(ctx, "g@x.com", "135790", IssueSend); err != nil {
		t.Fatalf("send failed: %v", err)
	}
	if got, err := s.Redeem(ctx, "g@x.com", "135790", time.Minute); err != nil || got != RedeemMatched {
		t.Fatalf("expected RedeemMatched, got %v err=%v", got, err)
	}
	if got, _ := s.Redeem(ctx, "g@x.com", "135790", time.Minute); got != RedeemReplayed {
		t.Fatalf("expected RedeemReplayed for duplicate submission, got %v", got)
	}
	if got, _ := s.Redeem(ctx, "g@x.com", "000000", time.Minute); got != RedeemMismatch {
		t.Fatalf("expected RedeemMismatch for a different code, got %v", got)
	}

	// the receipt never makes plain Verify succeed
	if ok, _ := s.Verify(ctx, "g@x.com", "135790"); ok {
		t.Fatal("Verify must stay one-shot")
	}

	ff(61 * time.Second)
	if got, _ := s.Redeem(ctx, "g@x.com", "135790", time.Minute); got != RedeemMismatch {
		t.Fatalf("expected receipt to expire, got %v", got)
	}
}

func TestRedeemWithoutWindowIsOneShot(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestCodeStore(t)

	if _, err := s.Issue(ctx, "h@x.com", "246802", IssueSend); err != nil {
		t.Fatalf("send failed: %v", err)
	}
	if got, _ := s.Redeem(ctx, "h@x.com", "246802", 0); got != RedeemMatched {
		t.Fatalf("expected RedeemMatched, got %v", got)
	}
	if got, _ := s.Redeem(ctx, "h@x.com", "246802", 0); got != RedeemMismatch {
		t.Fatalf("expected RedeemMismatch without a receipt window, got %v", got)
	}
}

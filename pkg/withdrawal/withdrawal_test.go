package withdrawal

import (
	"testing"
	"time"

	"github.com/influence20/bluerocksite-sub000/pkg/errx"
	"github.com/influence20/bluerocksite-sub000/pkg/otp"
)

func pendingWithdrawal(now time.Time, pin string) *Withdrawal {
	return &Withdrawal{
		ID:     "w1",
		Status: StatusPending,
		PIN: otp.Secret{
			CodeHash:    otp.HashCode(pin),
			IssuedAt:    now,
			ExpiresAt:   now.Add(48 * time.Hour),
			MaxAttempts: 3,
		},
	}
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusPending, StatusProcessing, true},
		{StatusPending, StatusCancelled, true},
		{StatusPending, StatusCompleted, false},
		{StatusProcessing, StatusCompleted, true},
		{StatusProcessing, StatusRejected, true},
		{StatusProcessing, StatusCancelled, true},
		{StatusProcessing, StatusPending, false},
		{StatusCompleted, StatusCancelled, false},
		{StatusRejected, StatusCancelled, false},
		{StatusCancelled, StatusPending, false},
	}
	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}

	for _, s := range []Status{StatusCompleted, StatusRejected, StatusCancelled} {
		if !s.IsTerminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
}

func TestVerifyPINTransitionsOnce(t *testing.T) {
	now := time.Now()
	w := pendingWithdrawal(now, "123456")

	if err := w.VerifyPIN(now, "123456"); err != nil {
		t.Fatalf("VerifyPIN: %v", err)
	}
	if w.Status != StatusProcessing || w.ProcessedAt == nil {
		t.Fatalf("status = %s", w.Status)
	}
	processedAt := *w.ProcessedAt

	err := w.VerifyPIN(now.Add(time.Minute), "123456")
	if !errx.IsCode(err, otp.CodeAlreadyVerified) {
		t.Errorf("second VerifyPIN = %v", err)
	}
	if w.Status != StatusProcessing || !w.ProcessedAt.Equal(processedAt) {
		t.Error("second verification must not transition again")
	}
}

func TestVerifyPINCountsFailures(t *testing.T) {
	now := time.Now()
	w := pendingWithdrawal(now, "123456")

	for i := 0; i < 3; i++ {
		if err := w.VerifyPIN(now, "000000"); !errx.IsCode(err, otp.CodeInvalidCode) {
			t.Fatalf("attempt %d: %v", i+1, err)
		}
	}
	if err := w.VerifyPIN(now, "123456"); !errx.IsCode(err, otp.CodeAttemptsExhausted) {
		t.Errorf("correct PIN after lockout = %v", err)
	}
	if w.Status != StatusPending {
		t.Errorf("status = %s", w.Status)
	}
}

func TestVerifyPINExpiry(t *testing.T) {
	now := time.Now()
	w := pendingWithdrawal(now, "123456")
	if err := w.VerifyPIN(w.PIN.ExpiresAt.Add(time.Millisecond), "123456"); !errx.IsCode(err, otp.CodeExpired) {
		t.Errorf("VerifyPIN after expiry = %v", err)
	}
}

func TestVerifyPINOnCancelled(t *testing.T) {
	now := time.Now()
	w := pendingWithdrawal(now, "123456")
	if err := w.TransitionTo(StatusCancelled, now); err != nil {
		t.Fatal(err)
	}
	if err := w.VerifyPIN(now, "123456"); !errx.IsCode(err, CodeNotPending) {
		t.Errorf("VerifyPIN on cancelled = %v", err)
	}
	if w.PIN.Attempts != 0 {
		t.Error("refused verification must not count an attempt")
	}
}

func TestResetPIN(t *testing.T) {
	now := time.Now()
	w := pendingWithdrawal(now, "123456")
	_ = w.VerifyPIN(now, "000000")

	gen, err := otp.NewGenerator(func() time.Time { return now }).Generate(6, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if err := w.ResetPIN(gen, 5); err != nil {
		t.Fatalf("ResetPIN: %v", err)
	}
	if w.PIN.Attempts != 0 || w.PIN.MaxAttempts != 5 || w.PIN.CodeHash != gen.Hash {
		t.Errorf("PIN not reset: %+v", w.PIN)
	}

	_ = w.TransitionTo(StatusCancelled, now)
	if err := w.ResetPIN(gen, 5); !errx.IsCode(err, CodeNotPending) {
		t.Errorf("ResetPIN on cancelled = %v", err)
	}
}

func TestReject(t *testing.T) {
	now := time.Now()
	w := pendingWithdrawal(now, "123456")
	if err := w.Reject("nope", now); !errx.IsCode(err, CodeInvalidTransition) {
		t.Errorf("reject pending = %v", err)
	}
	_ = w.VerifyPIN(now, "123456")
	if err := w.Reject("  destination closed ", now); err != nil {
		t.Fatalf("Reject: %v", err)
	}
	if w.RejectedReason != "destination closed" || w.RejectedAt == nil {
		t.Errorf("reject not recorded: %+v", w)
	}
}

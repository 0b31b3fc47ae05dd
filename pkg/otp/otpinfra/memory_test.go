package otpinfra

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/influence20/bluerocksite-sub000/pkg/errx"
	"github.com/influence20/bluerocksite-sub000/pkg/otp"
)

func newCode(id, subject string, purpose otp.Purpose, plaintext string, issued time.Time) *otp.Code {
	return &otp.Code{
		ID:        id,
		SubjectID: subject,
		Purpose:   purpose,
		Secret: otp.Secret{
			CodeHash:    otp.HashCode(plaintext),
			IssuedAt:    issued,
			ExpiresAt:   issued.Add(10 * time.Minute),
			MaxAttempts: 5,
		},
	}
}

func TestMemoryStore_ReplaceSupersedes(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Now()

	_, _ = s.Replace(ctx, newCode("a", "u1", otp.PurposeLogin, "111111", now), time.Time{})
	_, _ = s.Replace(ctx, newCode("b", "u1", otp.PurposeLogin, "222222", now), time.Time{})
	_, _ = s.Replace(ctx, newCode("c", "u1", otp.PurposeWithdrawal, "333333", now), time.Time{})

	got, err := s.Latest(ctx, "u1", otp.PurposeLogin)
	if err != nil || got == nil {
		t.Fatalf("Latest: %v, %v", got, err)
	}
	if got.ID != "b" {
		t.Errorf("Latest ID = %s, want b", got.ID)
	}
	other, _ := s.Latest(ctx, "u1", otp.PurposeWithdrawal)
	if other == nil || other.ID != "c" {
		t.Error("codes of other purposes must be untouched")
	}
}

func TestMemoryStore_LatestMissing(t *testing.T) {
	got, err := NewMemoryStore().Latest(context.Background(), "nobody", otp.PurposeLogin)
	if got != nil || err != nil {
		t.Errorf("Latest = %v, %v; want nil, nil", got, err)
	}
}

func TestMemoryStore_VerifyPersistsFailedAttempts(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Now()
	_, _ = s.Replace(ctx, newCode("a", "u1", otp.PurposeLogin, "111111", now), time.Time{})

	_, err := s.Verify(ctx, "u1", otp.PurposeLogin, func(c *otp.Code) error {
		return c.Check(now, "999999")
	})
	if !errx.IsCode(err, otp.CodeInvalidCode) {
		t.Fatalf("Verify = %v", err)
	}
	got, _ := s.Latest(ctx, "u1", otp.PurposeLogin)
	if got.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", got.Attempts)
	}
}

func TestMemoryStore_VerifyMissing(t *testing.T) {
	_, err := NewMemoryStore().Verify(context.Background(), "u1", otp.PurposeLogin, func(*otp.Code) error { return nil })
	if !errx.IsCode(err, otp.CodeNotFound) {
		t.Errorf("Verify = %v, want %s", err, otp.CodeNotFound)
	}
}

func TestMemoryStore_ConcurrentVerifyNeverExceedsMax(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Now()
	_, _ = s.Replace(ctx, newCode("a", "u1", otp.PurposeLogin, "111111", now), time.Time{})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.Verify(ctx, "u1", otp.PurposeLogin, func(c *otp.Code) error {
				return c.Check(now, "000000")
			})
		}()
	}
	wg.Wait()

	got, _ := s.Latest(ctx, "u1", otp.PurposeLogin)
	if got.Attempts != got.MaxAttempts {
		t.Errorf("Attempts = %d, want exactly %d", got.Attempts, got.MaxAttempts)
	}
}

func TestMemoryStore_ReplaceHonoursCutoff(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	issued := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	_, _ = s.Replace(ctx, newCode("first", "u1", otp.PurposeLogin, "111111", issued), time.Time{})

	current, err := s.Replace(ctx, newCode("second", "u1", otp.PurposeLogin, "222222", issued.Add(30*time.Second)), issued.Add(-30*time.Second))
	if err != nil {
		t.Fatal(err)
	}
	if current == nil || current.ID != "first" {
		t.Fatalf("blocking record = %v, want first", current)
	}
	if got, _ := s.Latest(ctx, "u1", otp.PurposeLogin); got.ID != "first" {
		t.Errorf("record overwritten by %s", got.ID)
	}

	current, err = s.Replace(ctx, newCode("third", "u1", otp.PurposeLogin, "333333", issued.Add(2*time.Minute)), issued.Add(time.Minute))
	if err != nil || current != nil {
		t.Fatalf("Replace past cutoff = %v, %v", current, err)
	}
	if got, _ := s.Latest(ctx, "u1", otp.PurposeLogin); got.ID != "third" {
		t.Errorf("Latest = %s, want third", got.ID)
	}
}

func TestMemoryStore_DeleteByIDLeavesNewerCode(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Now()
	_, _ = s.Replace(ctx, newCode("old", "u1", otp.PurposeLogin, "111111", now), time.Time{})
	_, _ = s.Replace(ctx, newCode("new", "u1", otp.PurposeLogin, "222222", now), time.Time{})

	_ = s.DeleteByID(ctx, "old")
	if got, _ := s.Latest(ctx, "u1", otp.PurposeLogin); got == nil || got.ID != "new" {
		t.Errorf("newer code removed: %v", got)
	}

	_ = s.DeleteByID(ctx, "new")
	if got, _ := s.Latest(ctx, "u1", otp.PurposeLogin); got != nil {
		t.Error("code should be gone")
	}
}

func TestSweepService_KeepsFreshEvidence(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	issued := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	stale := newCode("stale", "u1", otp.PurposeLogin, "111111", issued.Add(-30*time.Minute))
	verified := newCode("verified", "u2", otp.PurposeLogin, "222222", issued)
	verifiedAt := issued.Add(9 * time.Minute)
	verified.Verified = true
	verified.VerifiedAt = &verifiedAt
	live := newCode("live", "u3", otp.PurposeLogin, "333333", issued.Add(time.Hour))

	for _, c := range []*otp.Code{stale, verified, live} {
		_, _ = s.Replace(ctx, c, time.Time{})
	}

	sweep := NewSweepService(s, time.Minute, 30*time.Minute)
	sweep.now = func() time.Time { return issued.Add(35 * time.Minute) }

	if n := sweep.RunOnce(ctx); n != 1 {
		t.Fatalf("removed %d, want 1", n)
	}
	if got, _ := s.Latest(ctx, "u1", otp.PurposeLogin); got != nil {
		t.Error("expired unverified code should be swept")
	}
	if got, _ := s.Latest(ctx, "u2", otp.PurposeLogin); got == nil {
		t.Error("verified code inside the freshness window must be kept")
	}

	sweep.now = func() time.Time { return issued.Add(45 * time.Minute) }
	if n := sweep.RunOnce(ctx); n != 1 {
		t.Errorf("second sweep removed %d, want 1", n)
	}
	if got, _ := s.Latest(ctx, "u2", otp.PurposeLogin); got != nil {
		t.Error("verified code past the freshness window should be swept")
	}
	if got, _ := s.Latest(ctx, "u3", otp.PurposeLogin); got == nil {
		t.Error("live code must never be swept")
	}
}

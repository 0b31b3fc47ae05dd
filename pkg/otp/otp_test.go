package otp

import (
	"strconv"
	"testing"
	"time"

	"github.com/influence20/bluerocksite-sub000/pkg/errx"
)

func TestGenerateCode_Length(t *testing.T) {
	for length := MinCodeLength; length <= MaxCodeLength; length++ {
		code, err := GenerateCode(length)
		if err != nil {
			t.Fatalf("GenerateCode(%d): %v", length, err)
		}
		if len(code) != length {
			t.Errorf("GenerateCode(%d) = %q, len %d", length, code, len(code))
		}
		if code[0] == '0' {
			t.Errorf("GenerateCode(%d) = %q has a leading zero", length, code)
		}
		if _, err := strconv.ParseUint(code, 10, 64); err != nil {
			t.Errorf("GenerateCode(%d) = %q is not numeric", length, code)
		}
	}
}

func TestGenerateCode_RejectsBadLength(t *testing.T) {
	for _, length := range []int{0, 3, 11} {
		if _, err := GenerateCode(length); err == nil {
			t.Errorf("GenerateCode(%d) should fail", length)
		}
	}
}

func TestGenerateCode_Distinct(t *testing.T) {
	seen := make(map[string]bool, 1000)
	for i := 0; i < 1000; i++ {
		code, err := GenerateCode(10)
		if err != nil {
			t.Fatalf("GenerateCode: %v", err)
		}
		if seen[code] {
			t.Fatalf("duplicate code after %d draws: %s", i, code)
		}
		seen[code] = true
	}
}

func TestGenerator_StampsExpiry(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	g := NewGenerator(func() time.Time { return now })

	gen, err := g.Generate(DefaultCodeLength, 10*time.Minute)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if !gen.ExpiresAt.Equal(now.Add(10 * time.Minute)) {
		t.Errorf("ExpiresAt = %v", gen.ExpiresAt)
	}
	if gen.Hash != HashCode(gen.Plaintext) {
		t.Error("Hash does not match plaintext")
	}
	if len(gen.Hash) != 64 {
		t.Errorf("hash length = %d, want 64", len(gen.Hash))
	}
}

func TestCodeMatches(t *testing.T) {
	hash := HashCode("123456")
	if !CodeMatches("123456", hash) {
		t.Error("should match")
	}
	if CodeMatches("654321", hash) {
		t.Error("should not match a different code")
	}
	if CodeMatches("", hash) || CodeMatches("123456", "") {
		t.Error("empty inputs should never match")
	}
	if CodeMatches("123456", "a"+hash) {
		t.Error("should reject a hash of different length")
	}
}

func newSecret(code string, now time.Time) Secret {
	return Secret{
		CodeHash:    HashCode(code),
		IssuedAt:    now,
		ExpiresAt:   now.Add(10 * time.Minute),
		MaxAttempts: 3,
	}
}

func TestSecretCheck_Success(t *testing.T) {
	now := time.Now()
	s := newSecret("111111", now)

	if err := s.Check(now, "111111"); err != nil {
		t.Fatalf("Check: %v", err)
	}
	if !s.Verified || s.VerifiedAt == nil || !s.VerifiedAt.Equal(now) {
		t.Errorf("secret not marked verified: %+v", s)
	}
	if s.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", s.Attempts)
	}
}

func TestSecretCheck_ExpiryBoundary(t *testing.T) {
	now := time.Now()

	before := newSecret("111111", now)
	if err := before.Check(before.ExpiresAt.Add(-time.Millisecond), "111111"); err != nil {
		t.Errorf("1ms before expiry: %v", err)
	}

	after := newSecret("111111", now)
	err := after.Check(after.ExpiresAt.Add(time.Millisecond), "111111")
	if !errx.IsCode(err, CodeExpired) {
		t.Errorf("1ms after expiry: got %v, want %s", err, CodeExpired)
	}
	if after.Attempts != 0 {
		t.Error("expired check must not consume an attempt")
	}
}

func TestSecretCheck_InvalidReportsAttemptsLeft(t *testing.T) {
	now := time.Now()
	s := newSecret("111111", now)

	err := s.Check(now, "222222")
	e, ok := errx.As(err)
	if !ok || e.Code != string(CodeInvalidCode) {
		t.Fatalf("got %v, want %s", err, CodeInvalidCode)
	}
	if e.Details["attempts_left"] != 2 {
		t.Errorf("attempts_left = %v, want 2", e.Details["attempts_left"])
	}
}

func TestSecretCheck_ExhaustionBlocksCorrectCode(t *testing.T) {
	now := time.Now()
	s := newSecret("111111", now)

	for i := 0; i < s.MaxAttempts; i++ {
		if err := s.Check(now, "000000"); !errx.IsCode(err, CodeInvalidCode) {
			t.Fatalf("attempt %d: got %v", i+1, err)
		}
	}
	if err := s.Check(now, "111111"); !errx.IsCode(err, CodeAttemptsExhausted) {
		t.Errorf("correct code after exhaustion: got %v, want %s", err, CodeAttemptsExhausted)
	}
	if s.Attempts != s.MaxAttempts {
		t.Errorf("Attempts = %d, must not exceed %d", s.Attempts, s.MaxAttempts)
	}
}

func TestSecretCheck_VerifiedIsTerminal(t *testing.T) {
	now := time.Now()
	s := newSecret("111111", now)
	if err := s.Check(now, "111111"); err != nil {
		t.Fatal(err)
	}
	first := *s.VerifiedAt

	if err := s.Check(now.Add(time.Second), "111111"); !errx.IsCode(err, CodeAlreadyVerified) {
		t.Errorf("second check: got %v, want %s", err, CodeAlreadyVerified)
	}
	if !s.VerifiedAt.Equal(first) {
		t.Error("VerifiedAt must be set exactly once")
	}
}

func TestSecretIsFresh(t *testing.T) {
	now := time.Now()
	s := newSecret("111111", now)
	if s.IsFresh(now, time.Minute) {
		t.Error("unverified secret is never fresh")
	}
	_ = s.Check(now, "111111")
	if !s.IsFresh(now.Add(time.Minute), time.Minute) {
		t.Error("should be fresh at the window edge")
	}
	if s.IsFresh(now.Add(time.Minute+time.Millisecond), time.Minute) {
		t.Error("should be stale past the window")
	}
}

func TestParsePurpose(t *testing.T) {
	for _, p := range []string{"login", "withdrawal", "profile_update", "email_verification", "other"} {
		if _, err := ParsePurpose(p); err != nil {
			t.Errorf("ParsePurpose(%q): %v", p, err)
		}
	}
	if _, err := ParsePurpose("signup"); !errx.IsCode(err, CodeInvalidPurpose) {
		t.Errorf("ParsePurpose(signup) = %v", err)
	}
}

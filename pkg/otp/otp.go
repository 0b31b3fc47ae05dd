package otp

import (
	"fmt"
	"time"
)

// Purpose scopes a code to one use case. Codes of different purposes never interfere.
type Purpose string

const (
	PurposeLogin             Purpose = "login"
	PurposeWithdrawal        Purpose = "withdrawal"
	PurposeProfileUpdate     Purpose = "profile_update"
	PurposeEmailVerification Purpose = "email_verification"
	PurposeOther             Purpose = "other"
)

var purposes = []Purpose{
	PurposeLogin,
	PurposeWithdrawal,
	PurposeProfileUpdate,
	PurposeEmailVerification,
	PurposeOther,
}

func (p Purpose) String() string { return string(p) }

func (p Purpose) IsValid() bool {
	for _, known := range purposes {
		if p == known {
			return true
		}
	}
	return false
}

// ParsePurpose validates a purpose coming from a request.
func ParsePurpose(s string) (Purpose, error) {
	p := Purpose(s)
	if !p.IsValid() {
		return "", ErrInvalidPurpose().WithDetail("purpose", s).WithDetail("allowed", purposes)
	}
	return p, nil
}

// Secret is the hashed, expiring, attempt-limited credential shared by generic
// one-time codes and the PIN embedded in a withdrawal.
type Secret struct {
	CodeHash    string     `db:"code_hash" json:"-"`
	IssuedAt    time.Time  `db:"issued_at" json:"issued_at"`
	ExpiresAt   time.Time  `db:"expires_at" json:"expires_at"`
	Attempts    int        `db:"attempts" json:"attempts"`
	MaxAttempts int        `db:"max_attempts" json:"max_attempts"`
	Verified    bool       `db:"verified" json:"verified"`
	VerifiedAt  *time.Time `db:"verified_at" json:"verified_at,omitempty"`
}

// IsExpired reports whether now is past the expiry. The expiry instant itself is still valid.
func (s *Secret) IsExpired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

func (s *Secret) IsExhausted() bool {
	return s.Attempts >= s.MaxAttempts
}

// IsLive reports whether the secret can still be verified.
func (s *Secret) IsLive(now time.Time) bool {
	return !s.IsExpired(now) && !s.IsExhausted() && !s.Verified
}

func (s *Secret) AttemptsLeft() int {
	if left := s.MaxAttempts - s.Attempts; left > 0 {
		return left
	}
	return 0
}

// IsFresh reports whether a verified secret still authorizes within window.
func (s *Secret) IsFresh(now time.Time, window time.Duration) bool {
	return s.Verified && s.VerifiedAt != nil && now.Sub(*s.VerifiedAt) <= window
}

// Check runs one verification attempt against submitted. It must be called while
// the caller holds the store's atomic section for this secret: it mutates Attempts
// and, on success, Verified/VerifiedAt, and the caller persists the result whether
// or not an error is returned.
func (s *Secret) Check(now time.Time, submitted string) error {
	if s.IsExpired(now) {
		return ErrExpired().WithDetail("expired_at", s.ExpiresAt).WithDetail("remedy", "resend")
	}
	if s.Verified {
		return ErrAlreadyVerified()
	}
	if s.IsExhausted() {
		return ErrAttemptsExhausted().WithDetail("remedy", "resend")
	}

	s.Attempts++

	if !CodeMatches(submitted, s.CodeHash) {
		return ErrInvalidCode().WithDetail("attempts_left", s.AttemptsLeft())
	}

	verifiedAt := now
	s.Verified = true
	s.VerifiedAt = &verifiedAt
	return nil
}

// Reset replaces the secret with a freshly generated one.
func (s *Secret) Reset(hash string, issuedAt, expiresAt time.Time, maxAttempts int) {
	s.CodeHash = hash
	s.IssuedAt = issuedAt
	s.ExpiresAt = expiresAt
	s.Attempts = 0
	s.MaxAttempts = maxAttempts
	s.Verified = false
	s.VerifiedAt = nil
}

// Code is a one-time code issued to a subject for one purpose.
type Code struct {
	ID        string  `db:"id" json:"id"`
	SubjectID string  `db:"subject_id" json:"subject_id"`
	Purpose   Purpose `db:"purpose" json:"purpose"`
	Secret
}

// Key identifies the (subject, purpose) pair a code belongs to.
func (c *Code) Key() string {
	return Key(c.SubjectID, c.Purpose)
}

func Key(subjectID string, purpose Purpose) string {
	return fmt.Sprintf("%s:%s", subjectID, purpose)
}

package otp

import (
	"context"
	"time"
)

// Store persists one code per (subject, purpose). Expired records may still be
// returned by Latest and Verify so the engine can report Expired; they are removed
// by DeleteExpired.
type Store interface {
	// Replace supersedes the record for the code's pair with code, atomically.
	// When cutoff is non-zero and the current record was issued after it, nothing
	// is written and the current record is returned instead.
	Replace(ctx context.Context, code *Code, cutoff time.Time) (*Code, error)
	// Latest returns the record for the pair, or nil when there is none.
	Latest(ctx context.Context, subjectID string, purpose Purpose) (*Code, error)
	// Verify loads the record under the store's atomic primitive, applies fn and
	// persists the record before returning fn's error. Returns ErrNotFound when absent.
	Verify(ctx context.Context, subjectID string, purpose Purpose, fn func(*Code) error) (*Code, error)
	Delete(ctx context.Context, subjectID string, purpose Purpose) error
	// DeleteByID removes exactly one record; used to roll back an undelivered code.
	DeleteByID(ctx context.Context, id string) error
	// DeleteExpired removes records whose expiry and verification both precede before.
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// Delivery is what a notifier needs to send a code out of band.
type Delivery struct {
	SubjectID  string
	Purpose    Purpose
	Code       string
	ExpiresAt  time.Time
	Attributes map[string]string
}

// Notifier sends a plaintext code to its subject.
type Notifier interface {
	SendCode(ctx context.Context, d Delivery) error
}

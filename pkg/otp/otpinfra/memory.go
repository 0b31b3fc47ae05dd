package otpinfra

import (
	"context"
	"sync"
	"time"

	"github.com/influence20/bluerocksite-sub000/pkg/otp"
)

// MemoryStore is an in-process otp.Store. A single mutex makes every operation atomic.
type MemoryStore struct {
	mu    sync.Mutex
	codes map[string]otp.Code
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{codes: make(map[string]otp.Code)}
}

func (s *MemoryStore) Replace(ctx context.Context, code *otp.Code, cutoff time.Time) (*otp.Code, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.codes[code.Key()]; ok && !cutoff.IsZero() && cur.IssuedAt.After(cutoff) {
		cp := copyCode(cur)
		return &cp, nil
	}
	s.codes[code.Key()] = copyCode(*code)
	return nil, nil
}

func (s *MemoryStore) Latest(ctx context.Context, subjectID string, purpose otp.Purpose) (*otp.Code, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.codes[otp.Key(subjectID, purpose)]
	if !ok {
		return nil, nil
	}
	cp := copyCode(c)
	return &cp, nil
}

func (s *MemoryStore) Verify(ctx context.Context, subjectID string, purpose otp.Purpose, fn func(*otp.Code) error) (*otp.Code, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := otp.Key(subjectID, purpose)
	c, ok := s.codes[key]
	if !ok {
		return nil, otp.ErrNotFound()
	}
	working := copyCode(c)
	fnErr := fn(&working)
	s.codes[key] = copyCode(working)
	return &working, fnErr
}

func (s *MemoryStore) Delete(ctx context.Context, subjectID string, purpose otp.Purpose) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.codes, otp.Key(subjectID, purpose))
	return nil
}

func (s *MemoryStore) DeleteByID(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, c := range s.codes {
		if c.ID == id {
			delete(s.codes, key)
			return nil
		}
	}
	return nil
}

func (s *MemoryStore) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for key, c := range s.codes {
		if sweepable(&c, before) {
			delete(s.codes, key)
			n++
		}
	}
	return n, nil
}

// sweepable mirrors the WHERE clause of the Postgres sweep.
func sweepable(c *otp.Code, before time.Time) bool {
	if !c.ExpiresAt.Before(before) {
		return false
	}
	return c.VerifiedAt == nil || c.VerifiedAt.Before(before)
}

func copyCode(c otp.Code) otp.Code {
	if c.VerifiedAt != nil {
		t := *c.VerifiedAt
		c.VerifiedAt = &t
	}
	return c
}

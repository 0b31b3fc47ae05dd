package otpinfra

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/influence20/bluerocksite-sub000/pkg/errx"
	"github.com/influence20/bluerocksite-sub000/pkg/otp"
	"github.com/redis/go-redis/v9"
)

const maxWatchRetries = 10

// RedisStore keeps each (subject, purpose) code under one key whose TTL covers the
// code's expiry plus the retention window. Verify uses WATCH/MULTI so concurrent
// attempts cannot overwrite each other's counter.
type RedisStore struct {
	client    *redis.Client
	retention time.Duration
	now       otp.Clock
}

func NewRedisStore(client *redis.Client, retention time.Duration) *RedisStore {
	return &RedisStore{client: client, retention: retention, now: time.Now}
}

// record is the stored form; otp.Code hides its hash from JSON.
type record struct {
	ID          string     `json:"id"`
	SubjectID   string     `json:"subject_id"`
	Purpose     string     `json:"purpose"`
	CodeHash    string     `json:"code_hash"`
	IssuedAt    time.Time  `json:"issued_at"`
	ExpiresAt   time.Time  `json:"expires_at"`
	Attempts    int        `json:"attempts"`
	MaxAttempts int        `json:"max_attempts"`
	Verified    bool       `json:"verified"`
	VerifiedAt  *time.Time `json:"verified_at,omitempty"`
}

func toRecord(c *otp.Code) record {
	return record{
		ID:          c.ID,
		SubjectID:   c.SubjectID,
		Purpose:     string(c.Purpose),
		CodeHash:    c.CodeHash,
		IssuedAt:    c.IssuedAt,
		ExpiresAt:   c.ExpiresAt,
		Attempts:    c.Attempts,
		MaxAttempts: c.MaxAttempts,
		Verified:    c.Verified,
		VerifiedAt:  c.VerifiedAt,
	}
}

func (r record) toCode() *otp.Code {
	return &otp.Code{
		ID:        r.ID,
		SubjectID: r.SubjectID,
		Purpose:   otp.Purpose(r.Purpose),
		Secret: otp.Secret{
			CodeHash:    r.CodeHash,
			IssuedAt:    r.IssuedAt,
			ExpiresAt:   r.ExpiresAt,
			Attempts:    r.Attempts,
			MaxAttempts: r.MaxAttempts,
			Verified:    r.Verified,
			VerifiedAt:  r.VerifiedAt,
		},
	}
}

func codeKey(subjectID string, purpose otp.Purpose) string {
	return fmt.Sprintf("otp:code:%s", otp.Key(subjectID, purpose))
}

func idKey(id string) string {
	return fmt.Sprintf("otp:id:%s", id)
}

func (s *RedisStore) ttlFor(c *otp.Code) time.Duration {
	end := c.ExpiresAt
	if c.VerifiedAt != nil && c.VerifiedAt.After(end) {
		end = *c.VerifiedAt
	}
	ttl := end.Add(s.retention).Sub(s.now())
	if ttl < time.Second {
		ttl = time.Second
	}
	return ttl
}

// Replace watches the pair's key so the cutoff check and the write happen against
// the same version of the record.
func (s *RedisStore) Replace(ctx context.Context, c *otp.Code, cutoff time.Time) (*otp.Code, error) {
	data, err := json.Marshal(toRecord(c))
	if err != nil {
		return nil, errx.Wrap(err, "failed to marshal code", errx.TypeInternal)
	}
	key := codeKey(c.SubjectID, c.Purpose)
	ttl := s.ttlFor(c)

	var current *otp.Code
	txf := func(tx *redis.Tx) error {
		current = nil
		if !cutoff.IsZero() {
			raw, err := tx.Get(ctx, key).Bytes()
			if err != nil && !errors.Is(err, redis.Nil) {
				return err
			}
			if err == nil {
				var rec record
				if err := json.Unmarshal(raw, &rec); err != nil {
					return err
				}
				if rec.IssuedAt.After(cutoff) {
					current = rec.toCode()
					return nil
				}
			}
		}
		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, ttl)
			pipe.Set(ctx, idKey(c.ID), key, ttl)
			return nil
		})
		return err
	}

	for i := 0; i < maxWatchRetries; i++ {
		err := s.client.Watch(ctx, txf, key)
		if err == nil {
			return current, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return nil, errx.Wrap(err, "failed to store code in Redis", errx.TypeInternal)
	}
	return nil, errx.New("code is under heavy contention, retry", errx.TypeConflict)
}

func (s *RedisStore) Latest(ctx context.Context, subjectID string, purpose otp.Purpose) (*otp.Code, error) {
	data, err := s.client.Get(ctx, codeKey(subjectID, purpose)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, errx.Wrap(err, "failed to get code from Redis", errx.TypeInternal)
	}
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, errx.Wrap(err, "failed to unmarshal code", errx.TypeInternal)
	}
	return rec.toCode(), nil
}

func (s *RedisStore) Verify(ctx context.Context, subjectID string, purpose otp.Purpose, fn func(*otp.Code) error) (*otp.Code, error) {
	key := codeKey(subjectID, purpose)

	var (
		result *otp.Code
		fnErr  error
	)
	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return otp.ErrNotFound()
		}
		if err != nil {
			return err
		}
		var rec record
		if err := json.Unmarshal(data, &rec); err != nil {
			return err
		}

		c := rec.toCode()
		before := c.Attempts
		fnErr = fn(c)
		result = c
		if c.Attempts == before {
			return nil
		}

		updated, err := json.Marshal(toRecord(c))
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, updated, s.ttlFor(c))
			return nil
		})
		return err
	}

	for i := 0; i < maxWatchRetries; i++ {
		err := s.client.Watch(ctx, txf, key)
		if err == nil {
			return result, fnErr
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if _, ok := errx.As(err); ok {
			return nil, err
		}
		return nil, errx.Wrap(err, "failed to verify code in Redis", errx.TypeInternal)
	}
	return nil, errx.New("code is under heavy contention, retry", errx.TypeConflict)
}

func (s *RedisStore) Delete(ctx context.Context, subjectID string, purpose otp.Purpose) error {
	if err := s.client.Del(ctx, codeKey(subjectID, purpose)).Err(); err != nil {
		return errx.Wrap(err, "failed to delete code from Redis", errx.TypeInternal)
	}
	return nil
}

// DeleteByID removes the code only if the pair still holds that id, so rolling back
// an old issuance never deletes a newer code.
func (s *RedisStore) DeleteByID(ctx context.Context, id string) error {
	ik := idKey(id)
	key, err := s.client.Get(ctx, ik).Result()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return errx.Wrap(err, "failed to resolve code id", errx.TypeInternal)
	}

	err = s.client.Watch(ctx, func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return err
		}
		var rec record
		if err := json.Unmarshal(data, &rec); err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if rec.ID == id {
				pipe.Del(ctx, key)
			}
			pipe.Del(ctx, ik)
			return nil
		})
		return err
	}, key)
	if err != nil {
		return errx.Wrap(err, "failed to delete code from Redis", errx.TypeInternal)
	}
	return nil
}

// DeleteExpired is a no-op: key TTLs already cover expiry plus retention.
func (s *RedisStore) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	return 0, nil
}

// Ping checks connectivity for the health endpoint.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

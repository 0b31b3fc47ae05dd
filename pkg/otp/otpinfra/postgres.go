package otpinfra

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/influence20/bluerocksite-sub000/pkg/errx"
	"github.com/influence20/bluerocksite-sub000/pkg/otp"
	"github.com/jmoiron/sqlx"
)

const codeColumns = `id, subject_id, purpose, code_hash, issued_at, expires_at,
	attempts, max_attempts, verified, verified_at`

type PostgresStore struct {
	db *sqlx.DB
}

func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const upsertCode = `
    INSERT INTO one_time_codes (` + codeColumns + `, created_at)
    VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW())
    ON CONFLICT (subject_id, purpose) DO UPDATE SET
        id = EXCLUDED.id,
        code_hash = EXCLUDED.code_hash,
        issued_at = EXCLUDED.issued_at,
        expires_at = EXCLUDED.expires_at,
        attempts = EXCLUDED.attempts,
        max_attempts = EXCLUDED.max_attempts,
        verified = EXCLUDED.verified,
        verified_at = EXCLUDED.verified_at,
        created_at = EXCLUDED.created_at
    WHERE $11::timestamptz IS NULL OR one_time_codes.issued_at <= $11::timestamptz
    RETURNING id
`

// maxReplaceRetries bounds the re-reads when the blocking row vanishes between
// the refused upsert and the lookup.
const maxReplaceRetries = 3

// Replace upserts on (subject_id, purpose) in one statement, so concurrent issues
// for the same pair never collide on the unique constraint. The cutoff is applied
// in the conflict clause against the locked row.
func (r *PostgresStore) Replace(ctx context.Context, c *otp.Code, cutoff time.Time) (*otp.Code, error) {
	var cut *time.Time
	if !cutoff.IsZero() {
		cut = &cutoff
	}

	for i := 0; i < maxReplaceRetries; i++ {
		var id string
		err := r.db.QueryRowxContext(ctx, upsertCode,
			c.ID, c.SubjectID, string(c.Purpose), c.CodeHash, c.IssuedAt, c.ExpiresAt,
			c.Attempts, c.MaxAttempts, c.Verified, c.VerifiedAt, cut,
		).Scan(&id)
		if err == nil {
			return nil, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, errx.Wrap(err, "failed to store code", errx.TypeInternal).
				WithDetail("purpose", c.Purpose)
		}

		current, err := r.Latest(ctx, c.SubjectID, c.Purpose)
		if err != nil {
			return nil, err
		}
		if current != nil {
			return current, nil
		}
	}
	return nil, errx.New("code is under heavy contention, retry", errx.TypeConflict)
}

func (r *PostgresStore) Latest(ctx context.Context, subjectID string, purpose otp.Purpose) (*otp.Code, error) {
	query := `SELECT ` + codeColumns + ` FROM one_time_codes WHERE subject_id = $1 AND purpose = $2`

	var c otp.Code
	err := r.db.GetContext(ctx, &c, query, subjectID, string(purpose))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errx.Wrap(err, "failed to get code", errx.TypeInternal).
			WithDetail("purpose", purpose)
	}
	return &c, nil
}

// Verify locks the row with SELECT ... FOR UPDATE so concurrent attempts serialize
// and the attempts counter cannot be lost.
func (r *PostgresStore) Verify(ctx context.Context, subjectID string, purpose otp.Purpose, fn func(*otp.Code) error) (*otp.Code, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, errx.Wrap(err, "failed to begin verify transaction", errx.TypeInternal)
	}
	defer tx.Rollback()

	var c otp.Code
	err = tx.GetContext(ctx, &c,
		`SELECT `+codeColumns+` FROM one_time_codes WHERE subject_id = $1 AND purpose = $2 FOR UPDATE`,
		subjectID, string(purpose),
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, otp.ErrNotFound()
	}
	if err != nil {
		return nil, errx.Wrap(err, "failed to load code", errx.TypeInternal)
	}

	before := c.Attempts
	fnErr := fn(&c)

	if c.Attempts != before {
		_, err = tx.ExecContext(ctx, `
            UPDATE one_time_codes
            SET attempts = $1, verified = $2, verified_at = $3
            WHERE id = $4 AND attempts = $5
        `, c.Attempts, c.Verified, c.VerifiedAt, c.ID, before)
		if err != nil {
			return nil, errx.Wrap(err, "failed to record attempt", errx.TypeInternal)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, errx.Wrap(err, "failed to commit attempt", errx.TypeInternal)
	}
	return &c, fnErr
}

func (r *PostgresStore) Delete(ctx context.Context, subjectID string, purpose otp.Purpose) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM one_time_codes WHERE subject_id = $1 AND purpose = $2`,
		subjectID, string(purpose),
	)
	if err != nil {
		return errx.Wrap(err, "failed to delete code", errx.TypeInternal)
	}
	return nil
}

func (r *PostgresStore) DeleteByID(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM one_time_codes WHERE id = $1`, id)
	if err != nil {
		return errx.Wrap(err, "failed to delete code", errx.TypeInternal).WithDetail("id", id)
	}
	return nil
}

// DeleteExpired removes all expired codes that are not serving as recent verification evidence.
func (r *PostgresStore) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	query := `
        DELETE FROM one_time_codes
        WHERE expires_at < $1
          AND (verified_at IS NULL OR verified_at < $1)
    `
	res, err := r.db.ExecContext(ctx, query, before)
	if err != nil {
		return 0, errx.Wrap(err, "failed to delete expired codes", errx.TypeInternal)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errx.Wrap(err, "failed to get rows affected", errx.TypeInternal)
	}
	return n, nil
}

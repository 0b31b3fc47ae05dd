package withdrawalinfra

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/influence20/bluerocksite-sub000/pkg/db"
	"github.com/influence20/bluerocksite-sub000/pkg/errx"
	"github.com/influence20/bluerocksite-sub000/pkg/kernel"
	"github.com/influence20/bluerocksite-sub000/pkg/otp"
	"github.com/influence20/bluerocksite-sub000/pkg/withdrawal"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

const withdrawalColumns = `id, account_id, amount, currency, method, destination, status, note,
	rejected_reason, pin_hash, pin_issued_at, pin_expires_at, pin_attempts, pin_max_attempts,
	pin_verified, pin_verified_at, created_at, updated_at, processed_at, completed_at,
	cancelled_at, rejected_at`

// row is the flat table shape; the PIN lives in pin_* columns.
type row struct {
	ID             string          `db:"id"`
	AccountID      string          `db:"account_id"`
	Amount         decimal.Decimal `db:"amount"`
	Currency       string          `db:"currency"`
	Method         string          `db:"method"`
	Destination    string          `db:"destination"`
	Status         string          `db:"status"`
	Note           string          `db:"note"`
	RejectedReason string          `db:"rejected_reason"`
	PINHash        string          `db:"pin_hash"`
	PINIssuedAt    time.Time       `db:"pin_issued_at"`
	PINExpiresAt   time.Time       `db:"pin_expires_at"`
	PINAttempts    int             `db:"pin_attempts"`
	PINMaxAttempts int             `db:"pin_max_attempts"`
	PINVerified    bool            `db:"pin_verified"`
	PINVerifiedAt  *time.Time      `db:"pin_verified_at"`
	CreatedAt      time.Time       `db:"created_at"`
	UpdatedAt      time.Time       `db:"updated_at"`
	ProcessedAt    *time.Time      `db:"processed_at"`
	CompletedAt    *time.Time      `db:"completed_at"`
	CancelledAt    *time.Time      `db:"cancelled_at"`
	RejectedAt     *time.Time      `db:"rejected_at"`
}

func toRow(w *withdrawal.Withdrawal) row {
	return row{
		ID:             w.ID.String(),
		AccountID:      w.AccountID.String(),
		Amount:         w.Amount,
		Currency:       w.Currency,
		Method:         string(w.Method),
		Destination:    w.Destination,
		Status:         string(w.Status),
		Note:           w.Note,
		RejectedReason: w.RejectedReason,
		PINHash:        w.PIN.CodeHash,
		PINIssuedAt:    w.PIN.IssuedAt,
		PINExpiresAt:   w.PIN.ExpiresAt,
		PINAttempts:    w.PIN.Attempts,
		PINMaxAttempts: w.PIN.MaxAttempts,
		PINVerified:    w.PIN.Verified,
		PINVerifiedAt:  w.PIN.VerifiedAt,
		CreatedAt:      w.CreatedAt,
		UpdatedAt:      w.UpdatedAt,
		ProcessedAt:    w.ProcessedAt,
		CompletedAt:    w.CompletedAt,
		CancelledAt:    w.CancelledAt,
		RejectedAt:     w.RejectedAt,
	}
}

func (r row) toWithdrawal() *withdrawal.Withdrawal {
	return &withdrawal.Withdrawal{
		ID:             kernel.WithdrawalID(r.ID),
		AccountID:      kernel.AccountID(r.AccountID),
		Amount:         r.Amount,
		Currency:       r.Currency,
		Method:         withdrawal.Method(r.Method),
		Destination:    r.Destination,
		Status:         withdrawal.Status(r.Status),
		Note:           r.Note,
		RejectedReason: r.RejectedReason,
		PIN: otp.Secret{
			CodeHash:    r.PINHash,
			IssuedAt:    r.PINIssuedAt,
			ExpiresAt:   r.PINExpiresAt,
			Attempts:    r.PINAttempts,
			MaxAttempts: r.PINMaxAttempts,
			Verified:    r.PINVerified,
			VerifiedAt:  r.PINVerifiedAt,
		},
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
		ProcessedAt: r.ProcessedAt,
		CompletedAt: r.CompletedAt,
		CancelledAt: r.CancelledAt,
		RejectedAt:  r.RejectedAt,
	}
}

type PostgresRepository struct {
	db *sqlx.DB
}

func NewPostgresRepository(db *sqlx.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, w *withdrawal.Withdrawal) error {
	query := `
		INSERT INTO withdrawals (` + withdrawalColumns + `)
		VALUES (:id, :account_id, :amount, :currency, :method, :destination, :status, :note,
			:rejected_reason, :pin_hash, :pin_issued_at, :pin_expires_at, :pin_attempts, :pin_max_attempts,
			:pin_verified, :pin_verified_at, :created_at, :updated_at, :processed_at, :completed_at,
			:cancelled_at, :rejected_at)`
	if _, err := r.db.NamedExecContext(ctx, query, toRow(w)); err != nil {
		return errx.Wrap(err, "failed to create withdrawal", errx.TypeInternal).
			WithDetail("withdrawal_id", w.ID.String())
	}
	return nil
}

func (r *PostgresRepository) FindByID(ctx context.Context, id kernel.WithdrawalID) (*withdrawal.Withdrawal, error) {
	var rw row
	err := r.db.GetContext(ctx, &rw, `SELECT `+withdrawalColumns+` FROM withdrawals WHERE id = $1`, id.String())
	if errors.Is(err, sql.ErrNoRows) {
		return nil, withdrawal.ErrNotFound().WithDetail("withdrawal_id", id.String())
	}
	if err != nil {
		return nil, errx.Wrap(err, "failed to get withdrawal", errx.TypeInternal).
			WithDetail("withdrawal_id", id.String())
	}
	return rw.toWithdrawal(), nil
}

func (r *PostgresRepository) List(ctx context.Context, opts withdrawal.ListOptions) ([]*withdrawal.Withdrawal, int, error) {
	var (
		where []string
		args  []any
	)
	if !opts.AccountID.IsEmpty() {
		args = append(args, opts.AccountID.String())
		where = append(where, fmt.Sprintf("account_id = $%d", len(args)))
	}
	if opts.Status != "" {
		args = append(args, string(opts.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM withdrawals`+clause, args...); err != nil {
		return nil, 0, errx.Wrap(err, "failed to count withdrawals", errx.TypeInternal)
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit, opts.Offset)
	query := fmt.Sprintf(`SELECT %s FROM withdrawals%s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		withdrawalColumns, clause, len(args)-1, len(args))

	var rows []row
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, 0, errx.Wrap(err, "failed to list withdrawals", errx.TypeInternal)
	}
	out := make([]*withdrawal.Withdrawal, 0, len(rows))
	for _, rw := range rows {
		out = append(out, rw.toWithdrawal())
	}
	return out, total, nil
}

// Update holds a row lock for the duration of fn, so PIN attempts and status
// changes from concurrent requests serialize. fn runs inside the transaction: a
// balance debit made through its context commits with the status change or not at all.
func (r *PostgresRepository) Update(ctx context.Context, id kernel.WithdrawalID, fn func(context.Context, *withdrawal.Withdrawal) error) (*withdrawal.Withdrawal, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, errx.Wrap(err, "failed to begin withdrawal transaction", errx.TypeInternal)
	}
	defer tx.Rollback()

	var rw row
	err = tx.GetContext(ctx, &rw, `SELECT `+withdrawalColumns+` FROM withdrawals WHERE id = $1 FOR UPDATE`, id.String())
	if errors.Is(err, sql.ErrNoRows) {
		return nil, withdrawal.ErrNotFound().WithDetail("withdrawal_id", id.String())
	}
	if err != nil {
		return nil, errx.Wrap(err, "failed to lock withdrawal", errx.TypeInternal)
	}

	w := rw.toWithdrawal()
	fnErr := fn(db.WithTx(ctx, tx), w)

	query := `
		UPDATE withdrawals SET
			status = :status,
			note = :note,
			rejected_reason = :rejected_reason,
			pin_hash = :pin_hash,
			pin_issued_at = :pin_issued_at,
			pin_expires_at = :pin_expires_at,
			pin_attempts = :pin_attempts,
			pin_max_attempts = :pin_max_attempts,
			pin_verified = :pin_verified,
			pin_verified_at = :pin_verified_at,
			updated_at = :updated_at,
			processed_at = :processed_at,
			completed_at = :completed_at,
			cancelled_at = :cancelled_at,
			rejected_at = :rejected_at
		WHERE id = :id`
	if _, err := tx.NamedExecContext(ctx, query, toRow(w)); err != nil {
		return nil, errx.Wrap(err, "failed to update withdrawal", errx.TypeInternal).
			WithDetail("withdrawal_id", id.String())
	}
	if err := tx.Commit(); err != nil {
		return nil, errx.Wrap(err, "failed to commit withdrawal", errx.TypeInternal)
	}
	return w, fnErr
}

func (r *PostgresRepository) Delete(ctx context.Context, id kernel.WithdrawalID) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM withdrawals WHERE id = $1`, id.String()); err != nil {
		return errx.Wrap(err, "failed to delete withdrawal", errx.TypeInternal).
			WithDetail("withdrawal_id", id.String())
	}
	return nil
}

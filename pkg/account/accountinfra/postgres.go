package accountinfra

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/influence20/bluerocksite-sub000/pkg/account"
	"github.com/influence20/bluerocksite-sub000/pkg/db"
	"github.com/influence20/bluerocksite-sub000/pkg/errx"
	"github.com/influence20/bluerocksite-sub000/pkg/kernel"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

const accountColumns = `id, email, name, phone, password_hash, role, status, email_verified,
	two_factor_enabled, balance, last_login_at, created_at, updated_at`

type PostgresAccountRepository struct {
	db *sqlx.DB
}

func NewPostgresAccountRepository(db *sqlx.DB) account.Repository {
	return &PostgresAccountRepository{db: db}
}

func (r *PostgresAccountRepository) FindByID(ctx context.Context, id kernel.AccountID) (*account.Account, error) {
	var a account.Account
	err := r.db.GetContext(ctx, &a, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id.String())
	if errors.Is(err, sql.ErrNoRows) {
		return nil, account.ErrNotFound().WithDetail("account_id", id.String())
	}
	if err != nil {
		return nil, errx.Wrap(err, "failed to find account by id", errx.TypeInternal).
			WithDetail("account_id", id.String())
	}
	return &a, nil
}

func (r *PostgresAccountRepository) FindByEmail(ctx context.Context, email string) (*account.Account, error) {
	var a account.Account
	err := r.db.GetContext(ctx, &a, `SELECT `+accountColumns+` FROM accounts WHERE LOWER(email) = $1`, account.NormalizeEmail(email))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, account.ErrNotFound().WithDetail("email", email)
	}
	if err != nil {
		return nil, errx.Wrap(err, "failed to find account by email", errx.TypeInternal)
	}
	return &a, nil
}

func (r *PostgresAccountRepository) List(ctx context.Context, opts account.ListOptions) ([]*account.Account, int, error) {
	var (
		where []string
		args  []any
	)
	if opts.Status != "" {
		args = append(args, string(opts.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if opts.Role != "" {
		args = append(args, string(opts.Role))
		where = append(where, fmt.Sprintf("role = $%d", len(args)))
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM accounts`+clause, args...); err != nil {
		return nil, 0, errx.Wrap(err, "failed to count accounts", errx.TypeInternal)
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit, opts.Offset)
	query := fmt.Sprintf(`SELECT %s FROM accounts%s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		accountColumns, clause, len(args)-1, len(args))

	accounts := []*account.Account{}
	if err := r.db.SelectContext(ctx, &accounts, query, args...); err != nil {
		return nil, 0, errx.Wrap(err, "failed to list accounts", errx.TypeInternal)
	}
	return accounts, total, nil
}

// Save inserts the account or updates every mutable column. Balance is only
// changed through AdjustBalance.
func (r *PostgresAccountRepository) Save(ctx context.Context, a account.Account) error {
	query := `
		INSERT INTO accounts (` + accountColumns + `)
		VALUES (:id, :email, :name, :phone, :password_hash, :role, :status, :email_verified,
			:two_factor_enabled, :balance, :last_login_at, :created_at, :updated_at)
		ON CONFLICT (id) DO UPDATE SET
			email = EXCLUDED.email,
			name = EXCLUDED.name,
			phone = EXCLUDED.phone,
			password_hash = EXCLUDED.password_hash,
			role = EXCLUDED.role,
			status = EXCLUDED.status,
			email_verified = EXCLUDED.email_verified,
			two_factor_enabled = EXCLUDED.two_factor_enabled,
			last_login_at = EXCLUDED.last_login_at,
			updated_at = EXCLUDED.updated_at`

	_, err := r.db.NamedExecContext(ctx, query, a)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return account.ErrAlreadyExists().WithDetail("email", a.Email)
		}
		return errx.Wrap(err, "failed to save account", errx.TypeInternal).
			WithDetail("account_id", a.ID.String())
	}
	return nil
}

func (r *PostgresAccountRepository) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists,
		`SELECT EXISTS(SELECT 1 FROM accounts WHERE LOWER(email) = $1)`, account.NormalizeEmail(email))
	if err != nil {
		return false, errx.Wrap(err, "failed to check account email", errx.TypeInternal)
	}
	return exists, nil
}

// AdjustBalance joins the transaction carried by ctx, if any, so a debit commits
// or rolls back together with the caller's writes.
func (r *PostgresAccountRepository) AdjustBalance(ctx context.Context, id kernel.AccountID, delta decimal.Decimal) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := sqlx.GetContext(ctx, db.Ext(ctx, r.db), &balance, `
		UPDATE accounts
		SET balance = balance + $1, updated_at = NOW()
		WHERE id = $2 AND balance + $1 >= 0
		RETURNING balance`, delta, id.String())
	if errors.Is(err, sql.ErrNoRows) {
		if _, findErr := r.FindByID(ctx, id); findErr != nil {
			return decimal.Zero, findErr
		}
		return decimal.Zero, account.ErrInsufficientFunds().WithDetail("requested", delta.Neg().String())
	}
	if err != nil {
		return decimal.Zero, errx.Wrap(err, "failed to adjust balance", errx.TypeInternal).
			WithDetail("account_id", id.String())
	}
	return balance, nil
}

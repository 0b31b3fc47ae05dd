package account

import (
	"context"

	"github.com/influence20/bluerocksite-sub000/pkg/kernel"
	"github.com/shopspring/decimal"
)

type Repository interface {
	FindByID(ctx context.Context, id kernel.AccountID) (*Account, error)
	FindByEmail(ctx context.Context, email string) (*Account, error)
	List(ctx context.Context, opts ListOptions) ([]*Account, int, error)
	Save(ctx context.Context, a Account) error
	ExistsByEmail(ctx context.Context, email string) (bool, error)
	// AdjustBalance adds delta atomically and fails with ErrInsufficientFunds
	// instead of letting the balance go negative.
	AdjustBalance(ctx context.Context, id kernel.AccountID, delta decimal.Decimal) (decimal.Decimal, error)
}

type PasswordService interface {
	HashPassword(password string) (string, error)
	VerifyPassword(hashedPassword, password string) bool
}

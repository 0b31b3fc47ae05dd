package withdrawal

import (
	"context"

	"github.com/influence20/bluerocksite-sub000/pkg/kernel"
)

type Repository interface {
	Create(ctx context.Context, w *Withdrawal) error
	FindByID(ctx context.Context, id kernel.WithdrawalID) (*Withdrawal, error)
	List(ctx context.Context, opts ListOptions) ([]*Withdrawal, int, error)
	// Update loads the withdrawal under the store's lock, applies fn and persists the
	// result even when fn fails, so PIN attempts are never lost. fn's error is returned.
	// fn receives a context carrying the store's transaction, if it has one; writes
	// made through it commit together with the withdrawal.
	Update(ctx context.Context, id kernel.WithdrawalID, fn func(context.Context, *Withdrawal) error) (*Withdrawal, error)
	Delete(ctx context.Context, id kernel.WithdrawalID) error
}

package accountinfra

import (
	"context"
	"sort"
	"sync"

	"github.com/influence20/bluerocksite-sub000/pkg/account"
	"github.com/influence20/bluerocksite-sub000/pkg/kernel"
	"github.com/shopspring/decimal"
)

// MemoryAccountRepository keeps accounts in process. Used by tests and the
// all-in-memory development mode.
type MemoryAccountRepository struct {
	mu       sync.RWMutex
	accounts map[kernel.AccountID]account.Account
}

func NewMemoryAccountRepository() *MemoryAccountRepository {
	return &MemoryAccountRepository{accounts: make(map[kernel.AccountID]account.Account)}
}

func (r *MemoryAccountRepository) FindByID(ctx context.Context, id kernel.AccountID) (*account.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.accounts[id]
	if !ok {
		return nil, account.ErrNotFound().WithDetail("account_id", id.String())
	}
	return &a, nil
}

func (r *MemoryAccountRepository) FindByEmail(ctx context.Context, email string) (*account.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	email = account.NormalizeEmail(email)
	for _, a := range r.accounts {
		if account.NormalizeEmail(a.Email) == email {
			return &a, nil
		}
	}
	return nil, account.ErrNotFound().WithDetail("email", email)
}

func (r *MemoryAccountRepository) List(ctx context.Context, opts account.ListOptions) ([]*account.Account, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	matched := []*account.Account{}
	for _, a := range r.accounts {
		if opts.Status != "" && a.Status != opts.Status {
			continue
		}
		if opts.Role != "" && a.Role != opts.Role {
			continue
		}
		a := a
		matched = append(matched, &a)
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := len(matched)
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}
	start := min(opts.Offset, total)
	end := min(start+limit, total)
	return matched[start:end], total, nil
}

func (r *MemoryAccountRepository) Save(ctx context.Context, a account.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	email := account.NormalizeEmail(a.Email)
	for id, existing := range r.accounts {
		if id != a.ID && account.NormalizeEmail(existing.Email) == email {
			return account.ErrAlreadyExists().WithDetail("email", a.Email)
		}
	}
	if existing, ok := r.accounts[a.ID]; ok {
		a.Balance = existing.Balance
	}
	r.accounts[a.ID] = a
	return nil
}

func (r *MemoryAccountRepository) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	_, err := r.FindByEmail(ctx, email)
	return err == nil, nil
}

func (r *MemoryAccountRepository) AdjustBalance(ctx context.Context, id kernel.AccountID, delta decimal.Decimal) (decimal.Decimal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.accounts[id]
	if !ok {
		return decimal.Zero, account.ErrNotFound().WithDetail("account_id", id.String())
	}
	next := a.Balance.Add(delta)
	if next.IsNegative() {
		return decimal.Zero, account.ErrInsufficientFunds().WithDetail("requested", delta.Neg().String())
	}
	a.Balance = next
	r.accounts[id] = a
	return next, nil
}

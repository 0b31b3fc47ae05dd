package withdrawalinfra

import (
	"context"
	"sort"
	"sync"

	"github.com/influence20/bluerocksite-sub000/pkg/kernel"
	"github.com/influence20/bluerocksite-sub000/pkg/withdrawal"
)

// MemoryRepository keeps withdrawals in process. A single mutex serializes Update,
// which is the same guarantee the Postgres row lock gives.
type MemoryRepository struct {
	mu          sync.Mutex
	withdrawals map[kernel.WithdrawalID]withdrawal.Withdrawal
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{withdrawals: make(map[kernel.WithdrawalID]withdrawal.Withdrawal)}
}

func (r *MemoryRepository) Create(ctx context.Context, w *withdrawal.Withdrawal) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.withdrawals[w.ID] = *w
	return nil
}

func (r *MemoryRepository) FindByID(ctx context.Context, id kernel.WithdrawalID) (*withdrawal.Withdrawal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.withdrawals[id]
	if !ok {
		return nil, withdrawal.ErrNotFound().WithDetail("withdrawal_id", id.String())
	}
	return &w, nil
}

func (r *MemoryRepository) List(ctx context.Context, opts withdrawal.ListOptions) ([]*withdrawal.Withdrawal, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	matched := []*withdrawal.Withdrawal{}
	for _, w := range r.withdrawals {
		if !opts.AccountID.IsEmpty() && w.AccountID != opts.AccountID {
			continue
		}
		if opts.Status != "" && w.Status != opts.Status {
			continue
		}
		w := w
		matched = append(matched, &w)
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

func (r *MemoryRepository) Update(ctx context.Context, id kernel.WithdrawalID, fn func(context.Context, *withdrawal.Withdrawal) error) (*withdrawal.Withdrawal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	w, ok := r.withdrawals[id]
	if !ok {
		return nil, withdrawal.ErrNotFound().WithDetail("withdrawal_id", id.String())
	}
	fnErr := fn(ctx, &w)
	r.withdrawals[id] = w
	return &w, fnErr
}

func (r *MemoryRepository) Delete(ctx context.Context, id kernel.WithdrawalID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.withdrawals, id)
	return nil
}

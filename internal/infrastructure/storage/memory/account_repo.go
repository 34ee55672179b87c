package memory

import (
	"context"
	"errors"

	"txguard/internal/core/apperror"
	"txguard/internal/core/id"
	"txguard/internal/domain/account"
)

// ErrReadOnly is returned when a write is attempted in a read-only transaction.
var ErrReadOnly = errors.New("write in read-only transaction")

// Compile-time check
var _ account.Repository = (*AccountRepo)(nil)

// AccountRepo stores accounts in a Store. Inside a transaction, reads see the
// transaction's own staged writes and writes are staged until commit.
// Outside a transaction, writes apply immediately.
type AccountRepo struct {
	store *Store
}

// NewAccountRepo creates an account repository over store.
func NewAccountRepo(store *Store) *AccountRepo {
	return &AccountRepo{store: store}
}

// Create inserts a new account.
func (r *AccountRepo) Create(ctx context.Context, acc *account.Account) error {
	if t := GetTx(ctx); t != nil {
		t.mu.Lock()
		defer t.mu.Unlock()
		if t.readOnly {
			return ErrReadOnly
		}
		if _, ok := t.writes[acc.ID]; ok {
			return apperror.NewConcurrentModification("account", acc.ID)
		}
		t.writes[acc.ID] = &staged{acc: *acc, created: true}
		return nil
	}

	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if _, ok := r.store.accounts[acc.ID]; ok {
		return apperror.NewConcurrentModification("account", acc.ID)
	}
	r.store.accounts[acc.ID] = *acc
	return nil
}

// GetByID retrieves an account.
func (r *AccountRepo) GetByID(ctx context.Context, accID id.ID) (*account.Account, error) {
	if t := GetTx(ctx); t != nil {
		t.mu.Lock()
		w, ok := t.writes[accID]
		t.mu.Unlock()
		if ok {
			acc := w.acc
			return &acc, nil
		}
	}

	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	acc, ok := r.store.accounts[accID]
	if !ok {
		return nil, apperror.NewNotFound("account", accID)
	}
	return &acc, nil
}

// GetForUpdate retrieves an account. There are no row locks in memory;
// conflicting writers are rejected at commit by version check.
func (r *AccountRepo) GetForUpdate(ctx context.Context, accID id.ID) (*account.Account, error) {
	return r.GetByID(ctx, accID)
}

// Update stores acc if its current version equals expectedVersion.
func (r *AccountRepo) Update(ctx context.Context, acc *account.Account, expectedVersion int) error {
	if t := GetTx(ctx); t != nil {
		return r.stage(t, acc, expectedVersion)
	}

	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	current, ok := r.store.accounts[acc.ID]
	if !ok {
		return apperror.NewNotFound("account", acc.ID)
	}
	if current.Version != expectedVersion {
		return apperror.NewConcurrentModification("account", acc.ID)
	}
	r.store.accounts[acc.ID] = *acc
	return nil
}

func (r *AccountRepo) stage(t *Tx, acc *account.Account, expectedVersion int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.readOnly {
		return ErrReadOnly
	}

	if w, ok := t.writes[acc.ID]; ok {
		if w.acc.Version != expectedVersion {
			return apperror.NewConcurrentModification("account", acc.ID)
		}
		w.acc = *acc
		return nil
	}

	r.store.mu.RLock()
	current, ok := r.store.accounts[acc.ID]
	r.store.mu.RUnlock()
	if !ok {
		return apperror.NewNotFound("account", acc.ID)
	}
	if current.Version != expectedVersion {
		return apperror.NewConcurrentModification("account", acc.ID)
	}
	t.writes[acc.ID] = &staged{acc: *acc, baseVersion: expectedVersion}
	return nil
}

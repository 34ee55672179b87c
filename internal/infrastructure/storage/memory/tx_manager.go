// Package memory provides an in-process storage backend: a transaction manager
// with staged writes and account, journal and outbox stores on top of it.
// It backs local runs and tests; rollback really discards staged work.
package memory

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"txguard/internal/core/apperror"
	"txguard/internal/core/id"
	"txguard/internal/core/tx"
	"txguard/internal/domain/account"
)

// Compile-time check that TxManager implements tx.Manager interface.
var _ tx.Manager = (*TxManager)(nil)

// Store holds committed state.
type Store struct {
	mu       sync.RWMutex
	accounts map[id.ID]account.Account
	journal  []account.JournalEntry
	events   []account.Event
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{accounts: make(map[id.ID]account.Account)}
}

// Journal returns a copy of the committed journal entries.
func (s *Store) Journal() []account.JournalEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]account.JournalEntry(nil), s.journal...)
}

// Events returns a copy of the committed events.
func (s *Store) Events() []account.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]account.Event(nil), s.events...)
}

// staged is an account write pending commit.
type staged struct {
	acc         account.Account
	baseVersion int
	created     bool
}

// Tx is an in-memory transaction. Writes are staged until Commit.
type Tx struct {
	id         id.ID
	readOnly   bool
	mu         sync.Mutex
	writes     map[id.ID]*staged
	journal    []account.JournalEntry
	events     []account.Event
	terminated bool
}

// ID implements tx.Handle.
func (t *Tx) ID() id.ID { return t.id }

// txKey is the context key for active transaction.
type txKey struct{}

// Stats counts demarcation calls.
type Stats struct {
	Begins    int64
	Commits   int64
	Rollbacks int64
}

// TxManager manages in-memory transactions over a Store.
type TxManager struct {
	store     *Store
	begins    atomic.Int64
	commits   atomic.Int64
	rollbacks atomic.Int64
}

// NewTxManager creates a transaction manager for store.
func NewTxManager(store *Store) *TxManager {
	return &TxManager{store: store}
}

// Begin starts a transaction and returns a context carrying it.
func (m *TxManager) Begin(ctx context.Context, opts tx.Options) (context.Context, tx.Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	m.begins.Add(1)
	t := &Tx{
		id:       id.New(),
		readOnly: opts.ReadOnly,
		writes:   make(map[id.ID]*staged),
	}
	return context.WithValue(ctx, txKey{}, t), t, nil
}

// Commit applies staged writes. Accounts changed by another transaction since
// they were read fail the commit with CONCURRENT_MODIFICATION.
func (m *TxManager) Commit(ctx context.Context, h tx.Handle) error {
	t, err := m.terminate(h)
	if err != nil {
		return err
	}
	m.commits.Add(1)

	m.store.mu.Lock()
	defer m.store.mu.Unlock()

	for accID, w := range t.writes {
		current, exists := m.store.accounts[accID]
		switch {
		case w.created && exists:
			return apperror.NewConcurrentModification("account", accID)
		case !w.created && (!exists || current.Version != w.baseVersion):
			return apperror.NewConcurrentModification("account", accID)
		}
	}
	for accID, w := range t.writes {
		m.store.accounts[accID] = w.acc
	}
	m.store.journal = append(m.store.journal, t.journal...)
	m.store.events = append(m.store.events, t.events...)
	return nil
}

// Rollback discards staged writes.
func (m *TxManager) Rollback(ctx context.Context, h tx.Handle) error {
	if _, err := m.terminate(h); err != nil {
		return err
	}
	m.rollbacks.Add(1)
	return nil
}

// Stats returns demarcation counters.
func (m *TxManager) Stats() Stats {
	return Stats{
		Begins:    m.begins.Load(),
		Commits:   m.commits.Load(),
		Rollbacks: m.rollbacks.Load(),
	}
}

func (m *TxManager) terminate(h tx.Handle) (*Tx, error) {
	t, ok := h.(*Tx)
	if !ok || t == nil {
		return nil, fmt.Errorf("%w: %T", tx.ErrUnknownHandle, h)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.terminated {
		return nil, tx.ErrHandleTerminated
	}
	t.terminated = true
	return t, nil
}

// GetTx returns the current transaction from context, or nil if none.
func GetTx(ctx context.Context) *Tx {
	if t, ok := ctx.Value(txKey{}).(*Tx); ok {
		return t
	}
	return nil
}

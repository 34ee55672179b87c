package memory

import (
	"context"

	"txguard/internal/domain/account"
)

var (
	_ account.Journal        = (*Journal)(nil)
	_ account.EventPublisher = (*Outbox)(nil)
)

// Journal records account journal entries in the store.
type Journal struct {
	store *Store
}

// NewJournal creates a journal over store.
func NewJournal(store *Store) *Journal {
	return &Journal{store: store}
}

// Record stages entry in the active transaction, or appends it directly.
func (j *Journal) Record(ctx context.Context, entry account.JournalEntry) error {
	if t := GetTx(ctx); t != nil {
		t.mu.Lock()
		defer t.mu.Unlock()
		if t.readOnly {
			return ErrReadOnly
		}
		t.journal = append(t.journal, entry)
		return nil
	}
	j.store.mu.Lock()
	defer j.store.mu.Unlock()
	j.store.journal = append(j.store.journal, entry)
	return nil
}

// Outbox collects account events in the store.
type Outbox struct {
	store *Store
}

// NewOutbox creates an outbox over store.
func NewOutbox(store *Store) *Outbox {
	return &Outbox{store: store}
}

// Publish stages event in the active transaction, or appends it directly.
func (o *Outbox) Publish(ctx context.Context, event account.Event) error {
	if t := GetTx(ctx); t != nil {
		t.mu.Lock()
		defer t.mu.Unlock()
		if t.readOnly {
			return ErrReadOnly
		}
		t.events = append(t.events, event)
		return nil
	}
	o.store.mu.Lock()
	defer o.store.mu.Unlock()
	o.store.events = append(o.store.events, event)
	return nil
}

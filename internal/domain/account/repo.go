package account

import (
	"context"
	"encoding/json"

	"txguard/internal/core/id"
)

// Repository defines the interface for Account persistence.
// Implementations read the active transaction from ctx when there is one.
type Repository interface {
	// Create inserts a new account.
	Create(ctx context.Context, acc *Account) error

	// GetByID retrieves an account.
	GetByID(ctx context.Context, id id.ID) (*Account, error)

	// GetForUpdate retrieves an account with row lock.
	GetForUpdate(ctx context.Context, id id.ID) (*Account, error)

	// Update persists balance changes using optimistic locking on Version.
	// expectedVersion is the version the caller read.
	Update(ctx context.Context, acc *Account, expectedVersion int) error
}

// Action names a recorded account operation.
type Action string

const (
	ActionOpen     Action = "open"
	ActionDeposit  Action = "deposit"
	ActionWithdraw Action = "withdraw"
	ActionTransfer Action = "transfer"
)

// JournalEntry is an audit record of an account operation.
type JournalEntry struct {
	AccountID id.ID
	Action    Action
	Changes   map[string]any
}

// Journal records account operations in the caller's unit of work.
type Journal interface {
	Record(ctx context.Context, entry JournalEntry) error
}

// Event is a domain event emitted by a committed account operation.
type Event struct {
	AccountID id.ID
	Type      string
	Payload   json.RawMessage
}

// Event types
const (
	EventOpened      = "AccountOpened"
	EventDeposited   = "FundsDeposited"
	EventWithdrawn   = "FundsWithdrawn"
	EventTransferred = "FundsTransferred"
)

// EventPublisher writes events in the caller's unit of work (transactional outbox).
type EventPublisher interface {
	Publish(ctx context.Context, event Event) error
}

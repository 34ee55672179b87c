package account

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"txguard/internal/core/apperror"
	"txguard/internal/core/id"
	"txguard/internal/core/types"
)

// Service is what handlers and other callers depend on.
// It says nothing about transactions; see Ledger.TransactionalMethods.
type Service interface {
	Open(ctx context.Context, owner string, opening types.Money) (*Account, error)
	Deposit(ctx context.Context, accountID id.ID, amount types.Money) (*Account, error)
	Withdraw(ctx context.Context, accountID id.ID, amount types.Money) (*Account, error)
	Transfer(ctx context.Context, fromID, toID id.ID, amount types.Money) (*Transfer, error)
	Get(ctx context.Context, accountID id.ID) (*Account, error)
	Balance(ctx context.Context, accountID id.ID) (types.Money, error)
}

// Compile-time check that Ledger implements Service.
var _ Service = (*Ledger)(nil)

// LedgerConfig holds Ledger dependencies. Journal and Events are optional.
type LedgerConfig struct {
	Repo    Repository
	Journal Journal
	Events  EventPublisher
}

// Ledger provides business logic for accounts.
//
// Ledger assumes it runs inside a transaction for every mutating method and
// does not demarcate one itself; wrap it with NewTransactionalService.
type Ledger struct {
	repo    Repository
	journal Journal
	events  EventPublisher
}

// NewLedger creates a new account ledger.
func NewLedger(cfg LedgerConfig) *Ledger {
	return &Ledger{
		repo:    cfg.Repo,
		journal: cfg.Journal,
		events:  cfg.Events,
	}
}

// TransactionalMethods declares the Ledger methods that need a transaction.
func (l *Ledger) TransactionalMethods() []string {
	return []string{"Open", "Deposit", "Withdraw", "Transfer"}
}

// Open creates an account with an opening balance.
func (l *Ledger) Open(ctx context.Context, owner string, opening types.Money) (*Account, error) {
	acc, err := New(owner, opening)
	if err != nil {
		return nil, err
	}
	if err := l.repo.Create(ctx, acc); err != nil {
		return nil, fmt.Errorf("create account: %w", err)
	}
	if err := l.record(ctx, acc.ID, ActionOpen, map[string]any{
		"owner":   acc.Owner,
		"balance": acc.Balance.String(),
	}); err != nil {
		return nil, err
	}
	if err := l.publish(ctx, acc.ID, EventOpened, acc); err != nil {
		return nil, err
	}
	return acc, nil
}

// Deposit credits amount to an account.
func (l *Ledger) Deposit(ctx context.Context, accountID id.ID, amount types.Money) (*Account, error) {
	acc, err := l.repo.GetForUpdate(ctx, accountID)
	if err != nil {
		return nil, err
	}
	before := acc.Balance
	version := acc.Version
	if err := acc.Credit(amount); err != nil {
		return nil, err
	}
	if err := l.repo.Update(ctx, acc, version); err != nil {
		return nil, err
	}
	if err := l.record(ctx, acc.ID, ActionDeposit, balanceChange(before, acc.Balance, amount)); err != nil {
		return nil, err
	}
	if err := l.publish(ctx, acc.ID, EventDeposited, movement{AccountID: acc.ID, Amount: amount, Balance: acc.Balance}); err != nil {
		return nil, err
	}
	return acc, nil
}

// Withdraw debits amount from an account. Fails with INSUFFICIENT_FUNDS when
// the balance does not cover the amount.
func (l *Ledger) Withdraw(ctx context.Context, accountID id.ID, amount types.Money) (*Account, error) {
	acc, err := l.repo.GetForUpdate(ctx, accountID)
	if err != nil {
		return nil, err
	}
	before := acc.Balance
	version := acc.Version
	if err := acc.Debit(amount); err != nil {
		return nil, err
	}
	if err := l.repo.Update(ctx, acc, version); err != nil {
		return nil, err
	}
	if err := l.record(ctx, acc.ID, ActionWithdraw, balanceChange(before, acc.Balance, amount)); err != nil {
		return nil, err
	}
	if err := l.publish(ctx, acc.ID, EventWithdrawn, movement{AccountID: acc.ID, Amount: amount, Balance: acc.Balance}); err != nil {
		return nil, err
	}
	return acc, nil
}

// Transfer moves amount between two accounts. Both rows are locked in ID order.
func (l *Ledger) Transfer(ctx context.Context, fromID, toID id.ID, amount types.Money) (*Transfer, error) {
	if fromID == toID {
		return nil, apperror.NewValidation("cannot transfer to the same account")
	}

	first, second := fromID, toID
	if bytes.Compare(first[:], second[:]) > 0 {
		first, second = second, first
	}
	locked := make(map[id.ID]*Account, 2)
	for _, accID := range []id.ID{first, second} {
		acc, err := l.repo.GetForUpdate(ctx, accID)
		if err != nil {
			return nil, err
		}
		locked[accID] = acc
	}
	from, to := locked[fromID], locked[toID]

	fromVersion, toVersion := from.Version, to.Version
	if err := from.Debit(amount); err != nil {
		return nil, err
	}
	if err := to.Credit(amount); err != nil {
		return nil, err
	}
	if err := l.repo.Update(ctx, from, fromVersion); err != nil {
		return nil, err
	}
	if err := l.repo.Update(ctx, to, toVersion); err != nil {
		return nil, err
	}

	transfer := &Transfer{ID: id.New(), From: from, To: to, Amount: amount}
	changes := map[string]any{
		"transfer_id": transfer.ID.String(),
		"from":        from.ID.String(),
		"to":          to.ID.String(),
		"amount":      amount.String(),
	}
	for _, accID := range []id.ID{from.ID, to.ID} {
		if err := l.record(ctx, accID, ActionTransfer, changes); err != nil {
			return nil, err
		}
	}
	if err := l.publish(ctx, from.ID, EventTransferred, changes); err != nil {
		return nil, err
	}
	return transfer, nil
}

// Get retrieves an account.
func (l *Ledger) Get(ctx context.Context, accountID id.ID) (*Account, error) {
	return l.repo.GetByID(ctx, accountID)
}

// Balance returns the current balance of an account.
func (l *Ledger) Balance(ctx context.Context, accountID id.ID) (types.Money, error) {
	acc, err := l.repo.GetByID(ctx, accountID)
	if err != nil {
		return types.Zero(), err
	}
	return acc.Balance, nil
}

func (l *Ledger) record(ctx context.Context, accountID id.ID, action Action, changes map[string]any) error {
	if l.journal == nil {
		return nil
	}
	if err := l.journal.Record(ctx, JournalEntry{AccountID: accountID, Action: action, Changes: changes}); err != nil {
		return fmt.Errorf("record %s: %w", action, err)
	}
	return nil
}

func (l *Ledger) publish(ctx context.Context, accountID id.ID, eventType string, payload any) error {
	if l.events == nil {
		return nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", eventType, err)
	}
	if err := l.events.Publish(ctx, Event{AccountID: accountID, Type: eventType, Payload: raw}); err != nil {
		return fmt.Errorf("publish %s: %w", eventType, err)
	}
	return nil
}

type movement struct {
	AccountID id.ID       `json:"accountId"`
	Amount    types.Money `json:"amount"`
	Balance   types.Money `json:"balance"`
}

func balanceChange(before, after, amount types.Money) map[string]any {
	return map[string]any{
		"amount": amount.String(),
		"before": before.String(),
		"after":  after.String(),
	}
}

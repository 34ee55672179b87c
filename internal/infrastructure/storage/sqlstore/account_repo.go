package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"

	"txguard/internal/core/apperror"
	"txguard/internal/core/id"
	"txguard/internal/domain/account"
)

const accountsTable = "accounts"

var accountColumns = []string{"id", "owner", "balance", "version", "created_at", "updated_at"}

var (
	_ account.Repository     = (*AccountRepo)(nil)
	_ account.Journal        = (*Journal)(nil)
	_ account.EventPublisher = (*Outbox)(nil)
)

// builder returns a squirrel builder with PostgreSQL placeholder format.
func builder() squirrel.StatementBuilderType {
	return squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)
}

// AccountRepo stores accounts through sqlx.
type AccountRepo struct {
	txManager *TxManager
}

// NewAccountRepo creates an account repository.
func NewAccountRepo(txManager *TxManager) *AccountRepo {
	return &AccountRepo{txManager: txManager}
}

// Create inserts a new account.
func (r *AccountRepo) Create(ctx context.Context, acc *account.Account) error {
	query, args, err := builder().
		Insert(accountsTable).
		Columns(accountColumns...).
		Values(acc.ID, acc.Owner, acc.Balance, acc.Version, acc.CreatedAt, acc.UpdatedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}
	if _, err := r.txManager.GetQuerier(ctx).ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert %s: %w", accountsTable, err)
	}
	return nil
}

// GetByID retrieves an account.
func (r *AccountRepo) GetByID(ctx context.Context, accountID id.ID) (*account.Account, error) {
	return r.get(ctx, accountID, "")
}

// GetForUpdate retrieves an account and locks its row.
func (r *AccountRepo) GetForUpdate(ctx context.Context, accountID id.ID) (*account.Account, error) {
	if r.txManager.GetTx(ctx) == nil {
		return nil, fmt.Errorf("select for update requires transaction context")
	}
	return r.get(ctx, accountID, "FOR UPDATE")
}

// Update persists balance changes with optimistic locking.
func (r *AccountRepo) Update(ctx context.Context, acc *account.Account, expectedVersion int) error {
	query, args, err := builder().
		Update(accountsTable).
		Set("balance", acc.Balance).
		Set("version", acc.Version).
		Set("updated_at", acc.UpdatedAt).
		Where(squirrel.Eq{"id": acc.ID, "version": expectedVersion}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}

	result, err := r.txManager.GetQuerier(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update %s: %w", accountsTable, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return apperror.NewConcurrentModification(accountsTable, acc.ID)
	}
	return nil
}

func (r *AccountRepo) get(ctx context.Context, accountID id.ID, suffix string) (*account.Account, error) {
	q := builder().
		Select(accountColumns...).
		From(accountsTable).
		Where(squirrel.Eq{"id": accountID}).
		Limit(1)
	if suffix != "" {
		q = q.Suffix(suffix)
	}
	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var acc account.Account
	if err := r.txManager.GetQuerier(ctx).GetContext(ctx, &acc, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NewNotFound("account", accountID)
		}
		return nil, fmt.Errorf("get account: %w", err)
	}
	return &acc, nil
}

// Journal writes account journal entries to sys_audit uncompressed.
type Journal struct {
	txManager *TxManager
}

// NewJournal creates a journal.
func NewJournal(txManager *TxManager) *Journal {
	return &Journal{txManager: txManager}
}

// Record implements account.Journal.
func (j *Journal) Record(ctx context.Context, entry account.JournalEntry) error {
	changes, err := json.Marshal(entry.Changes)
	if err != nil {
		return fmt.Errorf("marshal changes: %w", err)
	}
	query, args, err := builder().
		Insert("sys_audit").
		Columns("id", "entity_type", "entity_id", "action", "changes", "compression_algo", "created_at").
		Values(id.New(), "account", entry.AccountID, string(entry.Action), string(changes), "none", time.Now().UTC()).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}
	if _, err := j.txManager.GetQuerier(ctx).ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

// Outbox writes account events to sys_outbox. It requires a transaction.
type Outbox struct {
	txManager *TxManager
}

// NewOutbox creates an outbox writer.
func NewOutbox(txManager *TxManager) *Outbox {
	return &Outbox{txManager: txManager}
}

// Publish implements account.EventPublisher.
func (o *Outbox) Publish(ctx context.Context, event account.Event) error {
	t := o.txManager.GetTx(ctx)
	if t == nil {
		return fmt.Errorf("outbox publish requires transaction context")
	}
	query, args, err := builder().
		Insert("sys_outbox").
		Columns("id", "aggregate_type", "aggregate_id", "event_type", "payload", "status", "created_at").
		Values(id.New(), "account", event.AccountID, event.Type, string(event.Payload), "pending", time.Now().UTC()).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}
	if _, err := t.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert outbox message: %w", err)
	}
	return nil
}

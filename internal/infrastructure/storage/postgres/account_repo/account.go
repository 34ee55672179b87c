// Package account_repo provides the PostgreSQL implementation of account.Repository.
package account_repo

import (
	"context"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"

	"txguard/internal/core/apperror"
	"txguard/internal/core/id"
	"txguard/internal/domain/account"
	"txguard/internal/infrastructure/storage/postgres"
)

const tableName = "accounts"

// Compile-time check
var _ account.Repository = (*Repo)(nil)

// Repo stores accounts in PostgreSQL. It joins the transaction carried by ctx,
// if any, through the TxManager's querier.
type Repo struct {
	txManager  *postgres.TxManager
	selectCols []string
}

// New creates an account repository.
func New(txManager *postgres.TxManager) *Repo {
	return &Repo{
		txManager:  txManager,
		selectCols: postgres.ExtractDBColumns[account.Account](),
	}
}

// Builder returns a new squirrel builder with PostgreSQL placeholder format.
func (r *Repo) Builder() squirrel.StatementBuilderType {
	return squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)
}

// Create inserts a new account using its "db" tags.
func (r *Repo) Create(ctx context.Context, acc *account.Account) error {
	q := r.Builder().
		Insert(tableName).
		SetMap(postgres.StructToMap(acc))

	sql, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}

	if _, err := r.txManager.GetQuerier(ctx).Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("insert %s: %w", tableName, err)
	}
	return nil
}

// GetByID retrieves an account.
func (r *Repo) GetByID(ctx context.Context, accountID id.ID) (*account.Account, error) {
	return r.get(ctx, r.baseSelect().Where(squirrel.Eq{"id": accountID}), accountID)
}

// GetForUpdate retrieves an account and locks its row until the transaction ends.
func (r *Repo) GetForUpdate(ctx context.Context, accountID id.ID) (*account.Account, error) {
	if r.txManager.GetTx(ctx) == nil {
		return nil, fmt.Errorf("select for update requires transaction context")
	}
	return r.get(ctx, r.selectForUpdate(accountID), accountID)
}

// Update persists balance changes with optimistic locking.
func (r *Repo) Update(ctx context.Context, acc *account.Account, expectedVersion int) error {
	sql, args, err := r.updateVersioned(acc, expectedVersion).ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}

	result, err := r.txManager.GetQuerier(ctx).Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("update %s: %w", tableName, err)
	}
	if result.RowsAffected() == 0 {
		return apperror.NewConcurrentModification(tableName, acc.ID)
	}
	return nil
}

// updateVersioned matches no row when the stored version moved on.
func (r *Repo) updateVersioned(acc *account.Account, expectedVersion int) squirrel.UpdateBuilder {
	return r.Builder().
		Update(tableName).
		Set("balance", acc.Balance).
		Set("version", acc.Version).
		Set("updated_at", acc.UpdatedAt).
		Where(squirrel.Eq{"id": acc.ID}).
		Where(squirrel.Eq{"version": expectedVersion})
}

func (r *Repo) selectForUpdate(accountID id.ID) squirrel.SelectBuilder {
	return r.baseSelect().Where(squirrel.Eq{"id": accountID}).Suffix("FOR UPDATE")
}

func (r *Repo) baseSelect() squirrel.SelectBuilder {
	return r.Builder().
		Select(r.selectCols...).
		From(tableName).
		Limit(1)
}

func (r *Repo) get(ctx context.Context, q squirrel.SelectBuilder, accountID id.ID) (*account.Account, error) {
	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var acc account.Account
	if err := pgxscan.Get(ctx, r.txManager.GetQuerier(ctx), &acc, sql, args...); err != nil {
		if pgxscan.NotFound(err) {
			return nil, apperror.NewNotFound("account", accountID)
		}
		return nil, fmt.Errorf("get account: %w", err)
	}
	return &acc, nil
}

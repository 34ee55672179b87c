package account_repo

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"txguard/internal/core/id"
	"txguard/internal/core/types"
	"txguard/internal/domain/account"
	"txguard/internal/infrastructure/storage/postgres"
)

func newTestRepo() *Repo {
	return New(postgres.NewTxManagerFromRawPool(nil, postgres.DefaultTxOptions()))
}

func TestRepo_SelectForUpdate(t *testing.T) {
	accountID := id.New()

	query, args, err := newTestRepo().selectForUpdate(accountID).ToSql()
	require.NoError(t, err)

	assert.Equal(t,
		"SELECT id, owner, balance, version, created_at, updated_at FROM accounts WHERE id = $1 LIMIT 1 FOR UPDATE",
		query)
	assert.Equal(t, []any{accountID}, args)
}

func TestRepo_UpdateChecksVersion(t *testing.T) {
	acc, err := account.New("alice", types.MustMoney("100"))
	require.NoError(t, err)
	acc.Version = 4

	query, args, err := newTestRepo().updateVersioned(acc, 3).ToSql()
	require.NoError(t, err)

	assert.Equal(t,
		"UPDATE accounts SET balance = $1, version = $2, updated_at = $3 WHERE id = $4 AND version = $5",
		query)
	require.Len(t, args, 5)
	assert.Equal(t, acc.ID, args[3])
	assert.Equal(t, 3, args[4])
}

func TestRepo_GetForUpdateRequiresTransaction(t *testing.T) {
	_, err := newTestRepo().GetForUpdate(context.Background(), id.New())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires transaction context")
}

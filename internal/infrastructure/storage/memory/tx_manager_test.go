package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"txguard/internal/core/apperror"
	"txguard/internal/core/tx"
	"txguard/internal/core/types"
	"txguard/internal/domain/account"
)

func openAccount(t *testing.T, repo *AccountRepo, balance string) *account.Account {
	t.Helper()
	acc, err := account.New("alice", types.MustMoney(balance))
	require.NoError(t, err)
	require.NoError(t, repo.Create(context.Background(), acc))
	return acc
}

func TestTxManager_CommitAppliesStagedWrites(t *testing.T) {
	store := NewStore()
	txm := NewTxManager(store)
	repo := NewAccountRepo(store)
	acc := openAccount(t, repo, "100")

	txCtx, h, err := txm.Begin(context.Background(), tx.DefaultOptions())
	require.NoError(t, err)

	loaded, err := repo.GetForUpdate(txCtx, acc.ID)
	require.NoError(t, err)
	version := loaded.Version
	require.NoError(t, loaded.Debit(types.MustMoney("30")))
	require.NoError(t, repo.Update(txCtx, loaded, version))

	outside, err := repo.GetByID(context.Background(), acc.ID)
	require.NoError(t, err)
	assert.True(t, outside.Balance.Equal(types.MustMoney("100")), "staged write visible outside tx")

	inside, err := repo.GetByID(txCtx, acc.ID)
	require.NoError(t, err)
	assert.True(t, inside.Balance.Equal(types.MustMoney("70")))

	require.NoError(t, txm.Commit(context.Background(), h))

	after, err := repo.GetByID(context.Background(), acc.ID)
	require.NoError(t, err)
	assert.True(t, after.Balance.Equal(types.MustMoney("70")))
	assert.Equal(t, Stats{Begins: 1, Commits: 1}, txm.Stats())
}

func TestTxManager_RollbackDiscards(t *testing.T) {
	store := NewStore()
	txm := NewTxManager(store)
	repo := NewAccountRepo(store)
	journal := NewJournal(store)
	outbox := NewOutbox(store)
	acc := openAccount(t, repo, "100")

	txCtx, h, err := txm.Begin(context.Background(), tx.DefaultOptions())
	require.NoError(t, err)

	loaded, err := repo.GetForUpdate(txCtx, acc.ID)
	require.NoError(t, err)
	version := loaded.Version
	require.NoError(t, loaded.Credit(types.MustMoney("5")))
	require.NoError(t, repo.Update(txCtx, loaded, version))
	require.NoError(t, journal.Record(txCtx, account.JournalEntry{AccountID: acc.ID, Action: account.ActionDeposit}))
	require.NoError(t, outbox.Publish(txCtx, account.Event{AccountID: acc.ID, Type: account.EventDeposited}))

	require.NoError(t, txm.Rollback(context.Background(), h))

	after, err := repo.GetByID(context.Background(), acc.ID)
	require.NoError(t, err)
	assert.True(t, after.Balance.Equal(types.MustMoney("100")))
	assert.Empty(t, store.Journal())
	assert.Empty(t, store.Events())
}

func TestTxManager_HandleTerminatesOnce(t *testing.T) {
	txm := NewTxManager(NewStore())

	_, h, err := txm.Begin(context.Background(), tx.DefaultOptions())
	require.NoError(t, err)
	require.NoError(t, txm.Commit(context.Background(), h))

	assert.ErrorIs(t, txm.Commit(context.Background(), h), tx.ErrHandleTerminated)
	assert.ErrorIs(t, txm.Rollback(context.Background(), h), tx.ErrHandleTerminated)
}

type foreignHandle struct{ tx.Handle }

func TestTxManager_UnknownHandle(t *testing.T) {
	txm := NewTxManager(NewStore())
	assert.ErrorIs(t, txm.Commit(context.Background(), foreignHandle{}), tx.ErrUnknownHandle)
}

func TestTxManager_BeginCancelledContext(t *testing.T) {
	txm := NewTxManager(NewStore())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := txm.Begin(ctx, tx.DefaultOptions())
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, txm.Stats().Begins)
}

func TestTxManager_ConflictingCommit(t *testing.T) {
	store := NewStore()
	txm := NewTxManager(store)
	repo := NewAccountRepo(store)
	acc := openAccount(t, repo, "100")

	debit := func(ctx context.Context) {
		loaded, err := repo.GetForUpdate(ctx, acc.ID)
		require.NoError(t, err)
		version := loaded.Version
		require.NoError(t, loaded.Debit(types.MustMoney("10")))
		require.NoError(t, repo.Update(ctx, loaded, version))
	}

	ctx1, h1, err := txm.Begin(context.Background(), tx.DefaultOptions())
	require.NoError(t, err)
	ctx2, h2, err := txm.Begin(context.Background(), tx.DefaultOptions())
	require.NoError(t, err)
	debit(ctx1)
	debit(ctx2)

	require.NoError(t, txm.Commit(context.Background(), h1))
	err = txm.Commit(context.Background(), h2)
	assert.True(t, apperror.HasCode(err, apperror.CodeConcurrentModification))

	after, err := repo.GetByID(context.Background(), acc.ID)
	require.NoError(t, err)
	assert.True(t, after.Balance.Equal(types.MustMoney("90")))
}

func TestTxManager_ReadOnlyRejectsWrites(t *testing.T) {
	store := NewStore()
	txm := NewTxManager(store)
	repo := NewAccountRepo(store)
	acc := openAccount(t, repo, "1")

	txCtx, h, err := txm.Begin(context.Background(), tx.Options{ReadOnly: true})
	require.NoError(t, err)
	defer func() { _ = txm.Rollback(context.Background(), h) }()

	loaded, err := repo.GetByID(txCtx, acc.ID)
	require.NoError(t, err)
	assert.ErrorIs(t, repo.Update(txCtx, loaded, loaded.Version), ErrReadOnly)
}

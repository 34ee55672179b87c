package account_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"txguard/internal/core/apperror"
	"txguard/internal/core/id"
	"txguard/internal/core/types"
	"txguard/internal/domain/account"
	"txguard/internal/infrastructure/storage/memory"
)

type fixture struct {
	store   *memory.Store
	txm     *memory.TxManager
	service account.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.NewStore()
	txm := memory.NewTxManager(store)
	ledger := account.NewLedger(account.LedgerConfig{
		Repo:    memory.NewAccountRepo(store),
		Journal: memory.NewJournal(store),
		Events:  memory.NewOutbox(store),
	})
	classifier, err := account.Classifier()
	require.NoError(t, err)
	service, err := account.NewTransactionalService(ledger, classifier, txm)
	require.NoError(t, err)
	return &fixture{store: store, txm: txm, service: service}
}

func (f *fixture) open(t *testing.T, balance string) *account.Account {
	t.Helper()
	acc, err := f.service.Open(context.Background(), "alice", types.MustMoney(balance))
	require.NoError(t, err)
	return acc
}

func TestService_OpenCommits(t *testing.T) {
	f := newFixture(t)

	acc := f.open(t, "100")

	got, err := f.service.Get(context.Background(), acc.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice", got.Owner)
	assert.Equal(t, memory.Stats{Begins: 1, Commits: 1}, f.txm.Stats())
	require.Len(t, f.store.Events(), 1)
	assert.Equal(t, account.EventOpened, f.store.Events()[0].Type)
}

func TestService_WithdrawInsufficientFundsRollsBack(t *testing.T) {
	f := newFixture(t)
	acc := f.open(t, "50")
	before := f.txm.Stats()

	_, err := f.service.Withdraw(context.Background(), acc.ID, types.MustMoney("80"))
	require.Error(t, err)

	assert.True(t, apperror.IsTransactionalOperationFailed(err))
	assert.True(t, apperror.IsInsufficientFunds(err))
	assert.Equal(t, 422, apperror.GetHTTPStatus(err))

	after := f.txm.Stats()
	assert.Equal(t, before.Begins+1, after.Begins)
	assert.Equal(t, before.Rollbacks+1, after.Rollbacks)
	assert.Equal(t, before.Commits, after.Commits)

	balance, err := f.service.Balance(context.Background(), acc.ID)
	require.NoError(t, err)
	assert.True(t, balance.Equal(types.MustMoney("50")), "balance = %s", balance)
	assert.Len(t, f.store.Journal(), 1, "only the opening entry is journaled")
}

func TestService_ReadsNeverTouchManager(t *testing.T) {
	f := newFixture(t)
	acc := f.open(t, "10")
	before := f.txm.Stats()

	_, err := f.service.Balance(context.Background(), acc.ID)
	require.NoError(t, err)
	_, err = f.service.Get(context.Background(), acc.ID)
	require.NoError(t, err)

	_, err = f.service.Balance(context.Background(), id.New())
	assert.True(t, apperror.IsNotFound(err))
	assert.False(t, apperror.IsTransactionalOperationFailed(err), "pass-through errors are not wrapped")

	assert.Equal(t, before, f.txm.Stats())
}

func TestService_DepositAndWithdraw(t *testing.T) {
	f := newFixture(t)
	acc := f.open(t, "10")

	_, err := f.service.Deposit(context.Background(), acc.ID, types.MustMoney("15.50"))
	require.NoError(t, err)
	updated, err := f.service.Withdraw(context.Background(), acc.ID, types.MustMoney("5.25"))
	require.NoError(t, err)

	assert.True(t, updated.Balance.Equal(types.MustMoney("20.25")))
	assert.Equal(t, 3, updated.Version)
}

func TestService_TransferIsAtomic(t *testing.T) {
	f := newFixture(t)
	from := f.open(t, "30")
	to := f.open(t, "0")

	_, err := f.service.Transfer(context.Background(), from.ID, to.ID, types.MustMoney("20"))
	require.NoError(t, err)

	_, err = f.service.Transfer(context.Background(), from.ID, to.ID, types.MustMoney("20"))
	require.True(t, apperror.IsInsufficientFunds(err))

	fromBalance, err := f.service.Balance(context.Background(), from.ID)
	require.NoError(t, err)
	toBalance, err := f.service.Balance(context.Background(), to.ID)
	require.NoError(t, err)
	assert.True(t, fromBalance.Equal(types.MustMoney("10")))
	assert.True(t, toBalance.Equal(types.MustMoney("20")))
}

func TestService_TransferToMissingAccountLeavesSourceUntouched(t *testing.T) {
	f := newFixture(t)
	from := f.open(t, "30")

	_, err := f.service.Transfer(context.Background(), from.ID, id.New(), types.MustMoney("5"))
	require.True(t, apperror.IsNotFound(err))
	assert.Equal(t, 404, apperror.GetHTTPStatus(err))

	balance, err := f.service.Balance(context.Background(), from.ID)
	require.NoError(t, err)
	assert.True(t, balance.Equal(types.MustMoney("30")))
}

func TestService_ValidationRollsBack(t *testing.T) {
	f := newFixture(t)

	_, err := f.service.Open(context.Background(), "  ", types.Zero())
	require.Error(t, err)
	assert.True(t, apperror.HasCode(err, apperror.CodeValidation))
	assert.Equal(t, int64(1), f.txm.Stats().Rollbacks)
}

func TestService_ConcurrentWithdrawalsNeverOverdraw(t *testing.T) {
	f := newFixture(t)
	acc := f.open(t, "100")

	var (
		wg        sync.WaitGroup
		succeeded atomic.Int64
	)
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.service.Withdraw(context.Background(), acc.ID, types.MustMoney("10")); err == nil {
				succeeded.Add(1)
			}
		}()
	}
	wg.Wait()

	balance, err := f.service.Balance(context.Background(), acc.ID)
	require.NoError(t, err)
	assert.False(t, balance.IsNegative())

	stats := f.txm.Stats()
	assert.Equal(t, stats.Begins, stats.Commits+stats.Rollbacks, "every transaction terminated once")

	withdrawn := types.MustMoney("100").Sub(balance)
	expected := decimal.NewFromInt(succeeded.Load()).Mul(types.MustMoney("10"))
	assert.True(t, withdrawn.Equal(expected), "withdrawn %s, expected %s", withdrawn, expected)
}

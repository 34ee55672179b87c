package txproxy

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"txguard/internal/core/apperror"
	"txguard/internal/core/id"
	"txguard/internal/core/tx"
)

var (
	errInsufficientFunds = errors.New("insufficient funds")
	errLookup            = errors.New("lookup failed")
)

// Account is a test target: Withdraw and friends are transactional, the rest are not.
type Account struct {
	balance atomic.Int64
}

func newAccount(balance int64) *Account {
	a := &Account{}
	a.balance.Store(balance)
	return a
}

func (a *Account) TransactionalMethods() []string {
	return []string{"Withdraw", "Settle", "Explode", "Tag"}
}

func (a *Account) Withdraw(ctx context.Context, amount int64) (int64, error) {
	for {
		current := a.balance.Load()
		if amount > current {
			return current, errInsufficientFunds
		}
		if a.balance.CompareAndSwap(current, current-amount) {
			return current - amount, nil
		}
	}
}

func (a *Account) GetBalance() int64 {
	return a.balance.Load()
}

func (a *Account) Lookup(ctx context.Context, owner string) (string, error) {
	if owner == "" {
		return "", errLookup
	}
	return "acc-" + owner, nil
}

// Settle reports the transaction handle it ran under.
func (a *Account) Settle(ctx context.Context, fail bool) (id.ID, error) {
	h := handleFrom(ctx)
	if h == nil {
		return id.ID{}, errors.New("no transaction in context")
	}
	if fail {
		return h.id, errors.New("settlement rejected")
	}
	return h.id, nil
}

func (a *Account) Explode(ctx context.Context) error {
	panic("boom")
}

func (a *Account) Tag(ctx context.Context, tags ...string) (int, error) {
	return len(tags), nil
}

var (
	ctxType    = reflect.TypeFor[context.Context]()
	int64Type  = reflect.TypeFor[int64]()
	stringType = reflect.TypeFor[string]()
	boolType   = reflect.TypeFor[bool]()

	withdraw   = NewMethod("Withdraw", ctxType, int64Type)
	getBalance = NewMethod("GetBalance")
	lookup     = NewMethod("Lookup", ctxType, stringType)
	settle     = NewMethod("Settle", ctxType, boolType)
	explode    = NewMethod("Explode", ctxType)
	tag        = NewMethod("Tag", ctxType, reflect.TypeFor[[]string]())
)

func newAccountInterceptor(t *testing.T, balance int64, opts ...Option) (*Interceptor, *recordingManager) {
	t.Helper()
	classifier, err := NewBuilder().Declare(&Account{}).Build()
	require.NoError(t, err)
	txm := newRecordingManager()
	ic, err := New(newAccount(balance), classifier, txm, opts...)
	require.NoError(t, err)
	return ic, txm
}

func TestInvoke_TransactionalCommit(t *testing.T) {
	ic, txm := newAccountInterceptor(t, 100)

	results, err := ic.Invoke(context.Background(), withdraw, context.Background(), int64(30))
	require.NoError(t, err)
	assert.Equal(t, []any{int64(70)}, results)

	begins, commits, rollbacks := txm.counts()
	assert.Equal(t, 1, begins)
	assert.Equal(t, 1, commits)
	assert.Equal(t, 0, rollbacks)
	assert.Equal(t, tx.DefaultOptions(), txm.lastOptions)
}

func TestInvoke_WithdrawInsufficientFundsRollsBack(t *testing.T) {
	ic, txm := newAccountInterceptor(t, 20)

	results, err := ic.Invoke(context.Background(), withdraw, context.Background(), int64(50))
	require.Error(t, err)
	assert.Nil(t, results)

	assert.True(t, apperror.IsTransactionalOperationFailed(err))
	assert.ErrorIs(t, err, errInsufficientFunds)

	appErr, ok := apperror.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, "Account.Withdraw", appErr.Details["method"])
	assert.Equal(t, "execute", appErr.Details["phase"])
	assert.Equal(t, true, appErr.Details["rolled_back"])

	begins, commits, rollbacks := txm.counts()
	assert.Equal(t, 1, begins)
	assert.Equal(t, 0, commits)
	assert.Equal(t, 1, rollbacks)
}

func TestInvoke_PassThroughNeverTouchesManager(t *testing.T) {
	ic, txm := newAccountInterceptor(t, 100)

	results, err := ic.Invoke(context.Background(), getBalance)
	require.NoError(t, err)
	assert.Equal(t, []any{int64(100)}, results)

	results, err = ic.Invoke(context.Background(), lookup, context.Background(), "bob")
	require.NoError(t, err)
	assert.Equal(t, []any{"acc-bob"}, results)

	begins, commits, rollbacks := txm.counts()
	assert.Zero(t, begins)
	assert.Zero(t, commits)
	assert.Zero(t, rollbacks)
}

func TestInvoke_PassThroughErrorIsUnmodified(t *testing.T) {
	ic, txm := newAccountInterceptor(t, 100)

	results, err := ic.Invoke(context.Background(), lookup, context.Background(), "")
	assert.Same(t, errLookup, err)
	assert.Equal(t, []any{""}, results)
	assert.False(t, apperror.IsTransactionalOperationFailed(err))

	begins, _, _ := txm.counts()
	assert.Zero(t, begins)
}

func TestInvoke_UnknownMethodFailsBeforeManager(t *testing.T) {
	ic, txm := newAccountInterceptor(t, 100)

	_, err := ic.Invoke(context.Background(), NewMethod("Transfer", ctxType, int64Type), context.Background(), int64(1))
	require.Error(t, err)
	assert.True(t, apperror.IsMethodResolution(err))

	_, err = ic.Invoke(context.Background(), NewMethod("Withdraw", ctxType, reflect.TypeFor[int]()), context.Background(), 1)
	require.Error(t, err)
	assert.True(t, apperror.IsMethodResolution(err))

	begins, commits, rollbacks := txm.counts()
	assert.Zero(t, begins)
	assert.Zero(t, commits)
	assert.Zero(t, rollbacks)
}

func TestInvoke_BadArgumentsFailBeforeManager(t *testing.T) {
	ic, txm := newAccountInterceptor(t, 100)

	_, err := ic.Invoke(context.Background(), withdraw, context.Background())
	assert.True(t, apperror.HasCode(err, apperror.CodeInvalidInvocation))

	_, err = ic.Invoke(context.Background(), withdraw, context.Background(), "thirty")
	assert.True(t, apperror.HasCode(err, apperror.CodeInvalidInvocation))

	_, err = ic.Invoke(context.Background(), withdraw, context.Background(), nil)
	assert.True(t, apperror.HasCode(err, apperror.CodeInvalidInvocation))

	begins, _, _ := txm.counts()
	assert.Zero(t, begins)
}

func TestInvoke_TargetRunsWithTransactionContext(t *testing.T) {
	ic, txm := newAccountInterceptor(t, 0)

	results, err := ic.Invoke(context.Background(), settle, nil, false)
	require.NoError(t, err)
	require.Len(t, results, 1)

	handleID := results[0].(id.ID)
	assert.Equal(t, 1, txm.terminated[handleID])
}

func TestInvoke_Variadic(t *testing.T) {
	ic, txm := newAccountInterceptor(t, 0)

	results, err := ic.Invoke(context.Background(), tag, context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, []any{2}, results)

	_, commits, _ := txm.counts()
	assert.Equal(t, 1, commits)
}

func TestInvoke_CommitFailureDoesNotRollBack(t *testing.T) {
	ic, txm := newAccountInterceptor(t, 100)
	commitErr := errors.New("serialization failure")
	txm.commitErr = commitErr

	results, err := ic.Invoke(context.Background(), withdraw, context.Background(), int64(10))
	require.Error(t, err)
	assert.Nil(t, results)
	assert.True(t, apperror.IsTransactionalOperationFailed(err))
	assert.ErrorIs(t, err, commitErr)

	appErr, _ := apperror.AsAppError(err)
	assert.Equal(t, "commit", appErr.Details["phase"])
	assert.Equal(t, false, appErr.Details["rolled_back"])

	_, commits, rollbacks := txm.counts()
	assert.Equal(t, 1, commits)
	assert.Equal(t, 0, rollbacks)
}

func TestInvoke_RollbackFailureKeepsCause(t *testing.T) {
	ic, txm := newAccountInterceptor(t, 0)
	rollbackErr := errors.New("connection reset")
	txm.rollbackErr = rollbackErr

	_, err := ic.Invoke(context.Background(), withdraw, context.Background(), int64(10))
	require.Error(t, err)
	assert.True(t, apperror.IsTransactionalOperationFailed(err))
	assert.ErrorIs(t, err, errInsufficientFunds)
	assert.ErrorIs(t, err, rollbackErr)

	appErr, _ := apperror.AsAppError(err)
	assert.Equal(t, false, appErr.Details["rolled_back"])

	_, commits, rollbacks := txm.counts()
	assert.Equal(t, 0, commits)
	assert.Equal(t, 1, rollbacks)
}

func TestInvoke_BeginFailure(t *testing.T) {
	ic, txm := newAccountInterceptor(t, 100)
	beginErr := errors.New("pool exhausted")
	txm.beginErr = beginErr

	_, err := ic.Invoke(context.Background(), withdraw, context.Background(), int64(10))
	require.Error(t, err)
	assert.ErrorIs(t, err, beginErr)
	assert.Equal(t, int64(100), ic.target.Interface().(*Account).GetBalance())

	_, commits, rollbacks := txm.counts()
	assert.Zero(t, commits)
	assert.Zero(t, rollbacks)
}

func TestInvoke_PanicRollsBackAndRepanics(t *testing.T) {
	ic, txm := newAccountInterceptor(t, 0)

	assert.PanicsWithValue(t, "boom", func() {
		_, _ = ic.Invoke(context.Background(), explode, context.Background())
	})

	_, commits, rollbacks := txm.counts()
	assert.Equal(t, 0, commits)
	assert.Equal(t, 1, rollbacks)
}

func TestCall_TypedProxyPath(t *testing.T) {
	ic, txm := newAccountInterceptor(t, 100)
	target := ic.target.Interface().(*Account)

	balance, err := Call(context.Background(), ic, withdraw, func(ctx context.Context) (int64, error) {
		require.NotNil(t, handleFrom(ctx))
		return target.Withdraw(ctx, 40)
	})
	require.NoError(t, err)
	assert.Equal(t, int64(60), balance)

	balance, err = Call(context.Background(), ic, getBalance, func(ctx context.Context) (int64, error) {
		assert.Nil(t, handleFrom(ctx))
		return target.GetBalance(), nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(60), balance)

	balance, err = Call(context.Background(), ic, withdraw, func(ctx context.Context) (int64, error) {
		return target.Withdraw(ctx, 500)
	})
	assert.Zero(t, balance)
	assert.True(t, apperror.IsTransactionalOperationFailed(err))
	assert.ErrorIs(t, err, errInsufficientFunds)

	begins, commits, rollbacks := txm.counts()
	assert.Equal(t, 2, begins)
	assert.Equal(t, 1, commits)
	assert.Equal(t, 1, rollbacks)
}

func TestInvoke_ConcurrentCallsUseIndependentHandles(t *testing.T) {
	ic, txm := newAccountInterceptor(t, 0)

	const calls = 10
	seen := make([]id.ID, calls)
	errs := make([]error, calls)

	var wg sync.WaitGroup
	for i := 0; i < calls; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			fail := i%2 == 1
			_, errs[i] = Call(context.Background(), ic, settle, func(ctx context.Context) (struct{}, error) {
				h, err := ic.target.Interface().(*Account).Settle(ctx, fail)
				seen[i] = h
				return struct{}{}, err
			})
		}(i)
	}
	wg.Wait()

	unique := make(map[id.ID]struct{}, calls)
	for i, h := range seen {
		unique[h] = struct{}{}
		assert.Equal(t, 1, txm.terminated[h], "handle %d terminated more than once", i)
		if i%2 == 1 {
			assert.True(t, apperror.IsTransactionalOperationFailed(errs[i]))
		} else {
			assert.NoError(t, errs[i])
		}
	}
	assert.Len(t, unique, calls)

	begins, commits, rollbacks := txm.counts()
	assert.Equal(t, calls, begins)
	assert.Equal(t, calls/2, commits)
	assert.Equal(t, calls/2, rollbacks)
}

func TestInvoke_RecordsMetrics(t *testing.T) {
	metrics := NewMetrics(prometheus.NewRegistry())
	ic, _ := newAccountInterceptor(t, 50, WithMetrics(metrics))

	_, _ = ic.Invoke(context.Background(), withdraw, context.Background(), int64(10))
	_, _ = ic.Invoke(context.Background(), withdraw, context.Background(), int64(1000))
	_, _ = ic.Invoke(context.Background(), getBalance)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.invocations.WithLabelValues("Account.Withdraw", OutcomeCommitted)))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.invocations.WithLabelValues("Account.Withdraw", OutcomeRolledBack)))
	assert.Equal(t, 2, testutil.CollectAndCount(metrics.invocations))
}

func TestNew_RejectsMissingCollaborators(t *testing.T) {
	classifier, err := NewBuilder().Build()
	require.NoError(t, err)

	_, err = New(nil, classifier, newRecordingManager())
	assert.Error(t, err)
	_, err = New(&Account{}, nil, newRecordingManager())
	assert.Error(t, err)
	_, err = New(&Account{}, classifier, nil)
	assert.Error(t, err)
}

func TestInvoke_PanicMarksSpanFailed(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	ic, _ := newAccountInterceptor(t, 0, WithTracerProvider(tp))

	assert.Panics(t, func() {
		_, _ = ic.Invoke(context.Background(), explode, nil)
	})

	spans := rec.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "txproxy.invoke", spans[0].Name())
	assert.Equal(t, codes.Error, spans[0].Status().Code)
}

func TestInvoke_CommitLeavesSpanUnset(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	ic, _ := newAccountInterceptor(t, 100, WithTracerProvider(tp))

	_, err := ic.Invoke(context.Background(), withdraw, nil, int64(10))
	require.NoError(t, err)

	spans := rec.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Unset, spans[0].Status().Code)
}

func TestInvoke_NilHandleIsBeginFailure(t *testing.T) {
	ic, txm := newAccountInterceptor(t, 100)
	txm.nilHandle = true

	_, err := ic.Invoke(context.Background(), withdraw, nil, int64(10))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "begin transaction")
	assert.Equal(t, int64(100), ic.target.Interface().(*Account).GetBalance())

	_, commits, rollbacks := txm.counts()
	assert.Zero(t, commits)
	assert.Zero(t, rollbacks)
}

type requestKey struct{}

func TestInvoke_TransactionDerivesFromContextArgument(t *testing.T) {
	ic, txm := newAccountInterceptor(t, 100)
	argCtx := context.WithValue(context.Background(), requestKey{}, "req-1")

	_, err := ic.Invoke(context.Background(), withdraw, argCtx, int64(10))
	require.NoError(t, err)

	txm.mu.Lock()
	defer txm.mu.Unlock()
	require.NotNil(t, txm.lastCtx)
	assert.Equal(t, "req-1", txm.lastCtx.Value(requestKey{}))
}

func TestInvoke_NilContextArgumentUsesInvokeContext(t *testing.T) {
	ic, txm := newAccountInterceptor(t, 100)
	ctx := context.WithValue(context.Background(), requestKey{}, "outer")

	_, err := ic.Invoke(ctx, withdraw, nil, int64(10))
	require.NoError(t, err)

	txm.mu.Lock()
	defer txm.mu.Unlock()
	assert.Equal(t, "outer", txm.lastCtx.Value(requestKey{}))
}

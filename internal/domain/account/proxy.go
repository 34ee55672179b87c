package account

import (
	"context"
	"reflect"

	"txguard/internal/core/id"
	"txguard/internal/core/tx"
	"txguard/internal/core/txproxy"
	"txguard/internal/core/types"
)

var (
	ctxType    = reflect.TypeFor[context.Context]()
	idType     = reflect.TypeFor[id.ID]()
	moneyType  = reflect.TypeFor[types.Money]()
	stringType = reflect.TypeFor[string]()
)

// Method identities of Service, as declared by implementations.
var (
	MethodOpen     = txproxy.NewMethod("Open", ctxType, stringType, moneyType)
	MethodDeposit  = txproxy.NewMethod("Deposit", ctxType, idType, moneyType)
	MethodWithdraw = txproxy.NewMethod("Withdraw", ctxType, idType, moneyType)
	MethodTransfer = txproxy.NewMethod("Transfer", ctxType, idType, idType, moneyType)
	MethodGet      = txproxy.NewMethod("Get", ctxType, idType)
	MethodBalance  = txproxy.NewMethod("Balance", ctxType, idType)
)

// transactionalService routes every Service call through an interceptor.
type transactionalService struct {
	ic     *txproxy.Interceptor
	target Service
}

// NewTransactionalService wraps target so that the methods its concrete type
// marks as transactional run inside a transaction from txm.
func NewTransactionalService(target Service, classifier *txproxy.Classifier, txm tx.Manager, opts ...txproxy.Option) (Service, error) {
	ic, err := txproxy.New(target, classifier, txm, opts...)
	if err != nil {
		return nil, err
	}
	return &transactionalService{ic: ic, target: target}, nil
}

func (s *transactionalService) Open(ctx context.Context, owner string, opening types.Money) (*Account, error) {
	return txproxy.Call(ctx, s.ic, MethodOpen, func(ctx context.Context) (*Account, error) {
		return s.target.Open(ctx, owner, opening)
	})
}

func (s *transactionalService) Deposit(ctx context.Context, accountID id.ID, amount types.Money) (*Account, error) {
	return txproxy.Call(ctx, s.ic, MethodDeposit, func(ctx context.Context) (*Account, error) {
		return s.target.Deposit(ctx, accountID, amount)
	})
}

func (s *transactionalService) Withdraw(ctx context.Context, accountID id.ID, amount types.Money) (*Account, error) {
	return txproxy.Call(ctx, s.ic, MethodWithdraw, func(ctx context.Context) (*Account, error) {
		return s.target.Withdraw(ctx, accountID, amount)
	})
}

func (s *transactionalService) Transfer(ctx context.Context, fromID, toID id.ID, amount types.Money) (*Transfer, error) {
	return txproxy.Call(ctx, s.ic, MethodTransfer, func(ctx context.Context) (*Transfer, error) {
		return s.target.Transfer(ctx, fromID, toID, amount)
	})
}

func (s *transactionalService) Get(ctx context.Context, accountID id.ID) (*Account, error) {
	return txproxy.Call(ctx, s.ic, MethodGet, func(ctx context.Context) (*Account, error) {
		return s.target.Get(ctx, accountID)
	})
}

func (s *transactionalService) Balance(ctx context.Context, accountID id.ID) (types.Money, error) {
	return txproxy.Call(ctx, s.ic, MethodBalance, func(ctx context.Context) (types.Money, error) {
		return s.target.Balance(ctx, accountID)
	})
}

// Classifier builds a classifier that honors the Ledger's own declarations.
func Classifier() (*txproxy.Classifier, error) {
	return txproxy.NewBuilder().Declare(&Ledger{}).Build()
}

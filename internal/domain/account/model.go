// Package account provides the account domain: balances, deposits, withdrawals
// and transfers. Mutating operations are declared transactional on the service
// implementation and run through a txproxy interceptor.
package account

import (
	"strings"
	"time"

	"txguard/internal/core/apperror"
	"txguard/internal/core/id"
	"txguard/internal/core/types"
)

// Account is a single balance holder.
type Account struct {
	ID        id.ID       `db:"id" json:"id"`
	Owner     string      `db:"owner" json:"owner"`
	Balance   types.Money `db:"balance" json:"balance"`
	Version   int         `db:"version" json:"version"`
	CreatedAt time.Time   `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time   `db:"updated_at" json:"updatedAt"`
}

// New creates an account with an opening balance.
func New(owner string, opening types.Money) (*Account, error) {
	owner = strings.TrimSpace(owner)
	if owner == "" {
		return nil, apperror.NewValidation("owner is required")
	}
	if opening.IsNegative() {
		return nil, apperror.NewValidation("opening balance cannot be negative").
			WithDetail("opening", opening.String())
	}
	now := time.Now().UTC()
	return &Account{
		ID:        id.New(),
		Owner:     owner,
		Balance:   opening,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// Credit adds amount to the balance.
func (a *Account) Credit(amount types.Money) error {
	if err := validateAmount(amount); err != nil {
		return err
	}
	a.Balance = a.Balance.Add(amount)
	a.touch()
	return nil
}

// Debit subtracts amount from the balance. The balance never goes negative.
func (a *Account) Debit(amount types.Money) error {
	if err := validateAmount(amount); err != nil {
		return err
	}
	if a.Balance.LessThan(amount) {
		return apperror.NewInsufficientFunds(a.ID.String(), amount.String(), a.Balance.String())
	}
	a.Balance = a.Balance.Sub(amount)
	a.touch()
	return nil
}

func (a *Account) touch() {
	a.Version++
	a.UpdatedAt = time.Now().UTC()
}

func validateAmount(amount types.Money) error {
	if !amount.IsPositive() {
		return apperror.NewValidation("amount must be positive").
			WithDetail("amount", amount.String())
	}
	return nil
}

// Transfer is the outcome of moving funds between two accounts.
type Transfer struct {
	ID     id.ID       `json:"id"`
	From   *Account    `json:"from"`
	To     *Account    `json:"to"`
	Amount types.Money `json:"amount"`
}

package dto

import (
	"time"

	"txguard/internal/core/types"
	"txguard/internal/domain/account"
)

// OpenAccountRequest for opening accounts.
type OpenAccountRequest struct {
	Owner          string      `json:"owner" binding:"required"`
	OpeningBalance types.Money `json:"openingBalance"`
}

// AmountRequest for deposits and withdrawals.
type AmountRequest struct {
	Amount types.Money `json:"amount"`
}

// TransferRequest for moving funds between accounts.
type TransferRequest struct {
	From   string      `json:"from" binding:"required"`
	To     string      `json:"to" binding:"required"`
	Amount types.Money `json:"amount"`
}

// AccountResponse contains account fields.
type AccountResponse struct {
	ID        string      `json:"id"`
	Owner     string      `json:"owner"`
	Balance   types.Money `json:"balance"`
	Version   int         `json:"version"`
	CreatedAt time.Time   `json:"createdAt"`
	UpdatedAt time.Time   `json:"updatedAt"`
}

// FromAccount creates AccountResponse from account.Account.
func FromAccount(a *account.Account) AccountResponse {
	return AccountResponse{
		ID:        a.ID.String(),
		Owner:     a.Owner,
		Balance:   a.Balance,
		Version:   a.Version,
		CreatedAt: a.CreatedAt,
		UpdatedAt: a.UpdatedAt,
	}
}

// BalanceResponse for balance queries.
type BalanceResponse struct {
	AccountID string      `json:"accountId"`
	Balance   types.Money `json:"balance"`
}

// TransferResponse describes a completed transfer.
type TransferResponse struct {
	ID     string          `json:"id"`
	Amount types.Money     `json:"amount"`
	From   AccountResponse `json:"from"`
	To     AccountResponse `json:"to"`
}

// FromTransfer creates TransferResponse from account.Transfer.
func FromTransfer(t *account.Transfer) TransferResponse {
	return TransferResponse{
		ID:     t.ID.String(),
		Amount: t.Amount,
		From:   FromAccount(t.From),
		To:     FromAccount(t.To),
	}
}

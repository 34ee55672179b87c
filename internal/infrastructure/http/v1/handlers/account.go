package handlers

import (
	"github.com/gin-gonic/gin"

	"txguard/internal/domain/account"
	"txguard/internal/infrastructure/http/v1/dto"
)

// AccountHandler handles account endpoints. The service it is given is the
// transactional proxy; handlers never demarcate transactions themselves.
type AccountHandler struct {
	*BaseHandler
	service account.Service
}

// NewAccountHandler creates a new account handler.
func NewAccountHandler(base *BaseHandler, service account.Service) *AccountHandler {
	return &AccountHandler{BaseHandler: base, service: service}
}

// RegisterRoutes registers account and transfer routes.
func (h *AccountHandler) RegisterRoutes(rg *gin.RouterGroup) {
	accounts := rg.Group("/accounts")
	{
		accounts.POST("", h.Open)
		accounts.GET("/:id", h.Get)
		accounts.GET("/:id/balance", h.Balance)
		accounts.POST("/:id/deposit", h.Deposit)
		accounts.POST("/:id/withdraw", h.Withdraw)
	}
	rg.POST("/transfers", h.Transfer)
}

// Open opens an account.
// POST /api/v1/accounts
func (h *AccountHandler) Open(c *gin.Context) {
	var req dto.OpenAccountRequest
	if !h.BindJSON(c, &req) {
		return
	}

	acc, err := h.service.Open(c.Request.Context(), req.Owner, req.OpeningBalance)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.Created(c, dto.FromAccount(acc))
}

// Get returns an account.
// GET /api/v1/accounts/:id
func (h *AccountHandler) Get(c *gin.Context) {
	accountID, ok := h.ParamID(c, "id")
	if !ok {
		return
	}

	acc, err := h.service.Get(c.Request.Context(), accountID)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.FromAccount(acc))
}

// Balance returns an account balance.
// GET /api/v1/accounts/:id/balance
func (h *AccountHandler) Balance(c *gin.Context) {
	accountID, ok := h.ParamID(c, "id")
	if !ok {
		return
	}

	balance, err := h.service.Balance(c.Request.Context(), accountID)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.BalanceResponse{AccountID: accountID.String(), Balance: balance})
}

// Deposit credits an account.
// POST /api/v1/accounts/:id/deposit
func (h *AccountHandler) Deposit(c *gin.Context) {
	accountID, ok := h.ParamID(c, "id")
	if !ok {
		return
	}
	var req dto.AmountRequest
	if !h.BindJSON(c, &req) {
		return
	}

	acc, err := h.service.Deposit(c.Request.Context(), accountID, req.Amount)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.FromAccount(acc))
}

// Withdraw debits an account.
// POST /api/v1/accounts/:id/withdraw
func (h *AccountHandler) Withdraw(c *gin.Context) {
	accountID, ok := h.ParamID(c, "id")
	if !ok {
		return
	}
	var req dto.AmountRequest
	if !h.BindJSON(c, &req) {
		return
	}

	acc, err := h.service.Withdraw(c.Request.Context(), accountID, req.Amount)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.FromAccount(acc))
}

// Transfer moves funds between accounts.
// POST /api/v1/transfers
func (h *AccountHandler) Transfer(c *gin.Context) {
	var req dto.TransferRequest
	if !h.BindJSON(c, &req) {
		return
	}
	fromID, ok := h.ParseID(c, "from", req.From)
	if !ok {
		return
	}
	toID, ok := h.ParseID(c, "to", req.To)
	if !ok {
		return
	}

	transfer, err := h.service.Transfer(c.Request.Context(), fromID, toID, req.Amount)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.Created(c, dto.FromTransfer(transfer))
}

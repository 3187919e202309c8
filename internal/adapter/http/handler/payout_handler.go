package handler

import (
	"wallet-ledger/internal/adapter/http/dto"
	"wallet-ledger/internal/core/ports"
	"wallet-ledger/pkg/response"

	"github.com/gin-gonic/gin"
)

// PayoutHandler handles transfers out to bank accounts.
type PayoutHandler struct {
	payoutSvc ports.PayoutService
}

// NewPayoutHandler creates a new PayoutHandler.
func NewPayoutHandler(payoutSvc ports.PayoutService) *PayoutHandler {
	return &PayoutHandler{payoutSvc: payoutSvc}
}

// InitiatePayout handles POST /api/v1/transfers/bank.
// The entry stays PENDING until the provider webhook settles it.
func (h *PayoutHandler) InitiatePayout(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	var req dto.PayoutRequest
	if !bindJSON(c, &req, false) {
		return
	}

	txn, err := h.payoutSvc.InitiatePayout(c.Request.Context(), ports.PayoutRequest{
		UserID:        userID,
		BankCode:      req.BankCode,
		AccountNumber: req.AccountNumber,
		Amount:        req.Amount.MinorUnits(),
		Reason:        req.Reason,
		Reference:     req.Reference,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, dto.NewTransactionResponse(txn))
}

// ListBanks handles GET /api/v1/transfers/banks.
func (h *PayoutHandler) ListBanks(c *gin.Context) {
	if _, ok := currentUser(c); !ok {
		return
	}

	banks, err := h.payoutSvc.ListBanks(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	if banks == nil {
		banks = []ports.Bank{}
	}
	response.OK(c, banks)
}

// GetPayoutStatus handles GET /api/v1/transfers/:reference.
func (h *PayoutHandler) GetPayoutStatus(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	txn, err := h.payoutSvc.GetPayoutStatus(c.Request.Context(), userID, c.Param("reference"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, dto.NewTransactionResponse(txn))
}

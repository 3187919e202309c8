package handler

import (
	"wallet-ledger/internal/adapter/http/dto"
	"wallet-ledger/internal/core/domain"
	"wallet-ledger/internal/core/ports"
	"wallet-ledger/pkg/apperror"
	"wallet-ledger/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// WalletHandler handles wallet and ledger endpoints.
type WalletHandler struct {
	walletSvc ports.WalletService
}

// NewWalletHandler creates a new WalletHandler.
func NewWalletHandler(walletSvc ports.WalletService) *WalletHandler {
	return &WalletHandler{walletSvc: walletSvc}
}

// CreateOrFind handles POST /api/v1/wallets.
// Responds 201 when a wallet was opened and 200 when one already existed.
func (h *WalletHandler) CreateOrFind(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	var req dto.CreateWalletRequest
	if !bindJSON(c, &req, true) {
		return
	}

	wallet, created, err := h.walletSvc.CreateOrFindWallet(c.Request.Context(), userID, currencyOf(req.Currency))
	if err != nil {
		response.Error(c, err)
		return
	}

	if created {
		response.Created(c, dto.NewWalletResponse(wallet))
		return
	}
	response.OK(c, dto.NewWalletResponse(wallet))
}

// GetWallet handles GET /api/v1/wallets.
func (h *WalletHandler) GetWallet(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	wallet, err := h.walletSvc.GetWallet(c.Request.Context(), userID, currencyOf(c.Query("currency")))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, dto.NewWalletResponse(wallet))
}

// GetBalance handles GET /api/v1/wallets/balance.
func (h *WalletHandler) GetBalance(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	currency := currencyOf(c.Query("currency"))
	if currency == "" {
		currency = domain.DefaultCurrency
	}
	balance, err := h.walletSvc.GetBalance(c.Request.Context(), userID, currency)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, dto.BalanceResponse{
		Balance:        balance,
		BalanceDisplay: domain.FormatMinorUnits(balance),
		Currency:       string(currency),
	})
}

// Fund handles POST /api/v1/wallets/fund.
func (h *WalletHandler) Fund(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	var req dto.FundRequest
	if !bindJSON(c, &req, false) {
		return
	}

	txn, err := h.walletSvc.Fund(c.Request.Context(), ports.FundRequest{
		UserID:    userID,
		Amount:    req.Amount.MinorUnits(),
		Currency:  currencyOf(req.Currency),
		Reference: req.Reference,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, dto.NewTransactionResponse(txn))
}

// Transfer handles POST /api/v1/wallets/transfer.
func (h *WalletHandler) Transfer(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	var req dto.TransferRequest
	if !bindJSON(c, &req, false) {
		return
	}

	receipt, err := h.walletSvc.Transfer(c.Request.Context(), ports.TransferRequest{
		UserID:              userID,
		TargetAccountNumber: req.AccountNumber,
		Amount:              req.Amount.MinorUnits(),
		Currency:            currencyOf(req.Currency),
		Reference:           req.Reference,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, dto.TransferResponse{
		Reference: receipt.Reference,
		Debit:     dto.NewTransactionResponse(receipt.Debit),
		Credit:    dto.NewTransactionResponse(receipt.Credit),
	})
}

// ListTransactions handles GET /api/v1/wallets/transactions.
func (h *WalletHandler) ListTransactions(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	page, pageSize := pageParams(c)
	txns, hasMore, err := h.walletSvc.ListTransactions(c.Request.Context(), ports.TransactionListParams{
		UserID:   userID,
		Currency: currencyOf(c.Query("currency")),
		Page:     page,
		PageSize: pageSize,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	items := make([]dto.TransactionResponse, 0, len(txns))
	for i := range txns {
		items = append(items, dto.NewTransactionResponse(&txns[i]))
	}
	response.Paginated(c, items, page, pageSize, hasMore)
}

// GetTransaction handles GET /api/v1/transactions/:id.
func (h *WalletHandler) GetTransaction(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, apperror.ErrNotFound("transaction"))
		return
	}

	txn, err := h.walletSvc.GetTransaction(c.Request.Context(), userID, id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, dto.NewTransactionResponse(txn))
}

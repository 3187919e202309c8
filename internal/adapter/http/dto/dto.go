package dto

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"wallet-ledger/internal/core/domain"
)

// Amount is a money value sent in major units, either as a JSON string
// ("1500.50") or a number (1500.5), held exactly in minor units.
type Amount int64

// UnmarshalJSON converts the decimal literal without going through float64.
func (a *Amount) UnmarshalJSON(b []byte) error {
	raw := bytes.TrimSpace(b)
	if bytes.Equal(raw, []byte("null")) {
		*a = 0
		return nil
	}
	if len(raw) > 0 && raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return err
		}
		raw = []byte(s)
	}
	minor, err := domain.ParseAmount(string(raw))
	if err != nil {
		return fmt.Errorf("amount: %w", err)
	}
	*a = Amount(minor)
	return nil
}

// MinorUnits returns the amount in kobo/cents.
func (a Amount) MinorUnits() int64 { return int64(a) }

// CreateWalletRequest is the request body for wallet creation.
type CreateWalletRequest struct {
	Currency string `json:"currency" binding:"omitempty,len=3,alpha"`
}

// FundRequest is the request body for funding a wallet.
type FundRequest struct {
	Amount    Amount `json:"amount" binding:"required"`
	Currency  string `json:"currency" binding:"omitempty,len=3,alpha"`
	Reference string `json:"reference" binding:"omitempty,max=100,safe_id"`
}

// TransferRequest is the request body for a wallet-to-wallet transfer.
type TransferRequest struct {
	AccountNumber string `json:"account_number" binding:"required,account_number"`
	Amount        Amount `json:"amount" binding:"required"`
	Currency      string `json:"currency" binding:"omitempty,len=3,alpha"`
	Reference     string `json:"reference" binding:"omitempty,max=100,safe_id"`
}

// PayoutRequest is the request body for a transfer to a bank account.
type PayoutRequest struct {
	BankCode      string `json:"bank_code" binding:"required,max=10,numeric"`
	AccountNumber string `json:"account_number" binding:"required,account_number"`
	Amount        Amount `json:"amount" binding:"required"`
	Reason        string `json:"reason" binding:"omitempty,max=200"`
	Reference     string `json:"reference" binding:"omitempty,max=100,safe_id"`
}

// WalletResponse is the response body for wallet queries.
type WalletResponse struct {
	ID             string `json:"id"`
	AccountNumber  string `json:"account_number"`
	Currency       string `json:"currency"`
	Balance        int64  `json:"balance"`
	BalanceDisplay string `json:"balance_display"`
	CreatedAt      string `json:"created_at"`
}

// BalanceResponse is the response for balance query.
type BalanceResponse struct {
	Balance        int64  `json:"balance"`
	BalanceDisplay string `json:"balance_display"`
	Currency       string `json:"currency"`
}

// TransactionResponse is the response body for a ledger entry.
type TransactionResponse struct {
	ID            string          `json:"id"`
	WalletID      string          `json:"wallet_id"`
	Reference     string          `json:"reference"`
	Type          string          `json:"type"`
	Status        string          `json:"status"`
	Amount        int64           `json:"amount"`
	AmountDisplay string          `json:"amount_display"`
	Metadata      domain.Metadata `json:"metadata"`
	CreatedAt     string          `json:"created_at"`
	UpdatedAt     string          `json:"updated_at"`
}

// TransferResponse pairs the two entries written by a transfer.
type TransferResponse struct {
	Reference string              `json:"reference"`
	Debit     TransactionResponse `json:"debit"`
	Credit    TransactionResponse `json:"credit"`
}

// NewWalletResponse converts a domain.Wallet to its DTO.
func NewWalletResponse(w *domain.Wallet) WalletResponse {
	return WalletResponse{
		ID:             w.ID.String(),
		AccountNumber:  w.AccountNumber,
		Currency:       string(w.Currency),
		Balance:        w.Balance,
		BalanceDisplay: domain.FormatMinorUnits(w.Balance),
		CreatedAt:      w.CreatedAt.Format(time.RFC3339),
	}
}

// NewTransactionResponse converts a domain.Transaction to its DTO.
func NewTransactionResponse(t *domain.Transaction) TransactionResponse {
	return TransactionResponse{
		ID:            t.ID.String(),
		WalletID:      t.WalletID.String(),
		Reference:     t.Reference,
		Type:          string(t.Type),
		Status:        string(t.Status),
		Amount:        t.Amount,
		AmountDisplay: domain.FormatMinorUnits(t.Amount),
		Metadata:      t.Metadata,
		CreatedAt:     t.CreatedAt.Format(time.RFC3339),
		UpdatedAt:     t.UpdatedAt.Format(time.RFC3339),
	}
}

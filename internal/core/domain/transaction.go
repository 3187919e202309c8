package domain

import (
	"time"

	"github.com/google/uuid"
)

// TransactionType is the direction of a ledger entry relative to its wallet.
type TransactionType string

const (
	TransactionTypeCredit TransactionType = "CREDIT"
	TransactionTypeDebit  TransactionType = "DEBIT"
)

// TransactionStatus represents the lifecycle state of a transaction.
type TransactionStatus string

const (
	TransactionStatusPending  TransactionStatus = "PENDING"
	TransactionStatusSuccess  TransactionStatus = "SUCCESS"
	TransactionStatusFailed   TransactionStatus = "FAILED"
	TransactionStatusReversed TransactionStatus = "REVERSED"
)

// Action names the operation that produced a ledger entry.
type Action string

const (
	ActionFund     Action = "fund"
	ActionTransfer Action = "transfer"
	ActionPayout   Action = "payout"
)

// Transaction is a single ledger entry against one wallet.
type Transaction struct {
	ID        uuid.UUID         `json:"id"`
	WalletID  uuid.UUID         `json:"wallet_id"`
	Amount    int64             `json:"amount"` // minor units, always > 0
	Type      TransactionType   `json:"type"`
	Reference string            `json:"reference"`
	Status    TransactionStatus `json:"status"`
	Metadata  Metadata          `json:"metadata"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// IsTerminal returns true if the transaction is in a final state.
func (t *Transaction) IsTerminal() bool {
	return t.Status == TransactionStatusSuccess ||
		t.Status == TransactionStatusFailed ||
		t.Status == TransactionStatusReversed
}

// IsRefunded returns true once the debited amount has been credited back.
func (t *Transaction) IsRefunded() bool {
	return t.Type == TransactionTypeDebit &&
		(t.Status == TransactionStatusFailed || t.Status == TransactionStatusReversed)
}

// Counterparty identifies the other side of a transfer or payout.
type Counterparty struct {
	WalletID      *uuid.UUID `json:"wallet_id,omitempty"`
	AccountNumber string     `json:"account_number,omitempty"`
	BankCode      string     `json:"bank_code,omitempty"`
}

// ProviderInfo records what the payment provider reported about a payout.
type ProviderInfo struct {
	TransferCode   string     `json:"transfer_code,omitempty"`
	RecipientCode  string     `json:"recipient_code,omitempty"`
	FailureReason  string     `json:"failure_reason,omitempty"`
	ReversalReason string     `json:"reversal_reason,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	FailedAt       *time.Time `json:"failed_at,omitempty"`
	RefundedAt     *time.Time `json:"refunded_at,omitempty"`
	ReversedAt     *time.Time `json:"reversed_at,omitempty"`
}

// Metadata is the audit record attached to every ledger entry.
type Metadata struct {
	PerformedBy  string         `json:"performed_by,omitempty"`
	Action       Action         `json:"action,omitempty"`
	Timestamp    time.Time      `json:"timestamp"`
	Counterparty *Counterparty  `json:"counterparty,omitempty"`
	Reason       string         `json:"reason,omitempty"`
	Error        string         `json:"error,omitempty"`
	Provider     *ProviderInfo  `json:"provider,omitempty"`
	Extra        map[string]any `json:"extra,omitempty"`
}

// ProviderDetails returns the provider section, creating it when absent.
func (m *Metadata) ProviderDetails() *ProviderInfo {
	if m.Provider == nil {
		m.Provider = &ProviderInfo{}
	}
	return m.Provider
}

// Set stores a provider-specific value that has no dedicated field.
func (m *Metadata) Set(key string, value any) {
	if m.Extra == nil {
		m.Extra = make(map[string]any)
	}
	m.Extra[key] = value
}

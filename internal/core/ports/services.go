package ports

import (
	"context"
	"time"

	"wallet-ledger/internal/core/domain"

	"github.com/google/uuid"
)

// --- Infrastructure Ports ---

// LockOptions bounds one acquisition of a lock set.
type LockOptions struct {
	TTL        time.Duration
	MaxRetries int // attempts after the first
}

// Locker serializes work on named resources across processes.
// fn runs only while every key is held; all keys are released when it returns.
type Locker interface {
	WithLock(ctx context.Context, keys []string, opts LockOptions, fn func(ctx context.Context) error) error
}

// ReferenceCache remembers committed references so replays are rejected
// before a lock is taken. It is a hint; storage stays authoritative.
type ReferenceCache interface {
	Seen(ctx context.Context, reference string) (bool, error)
	Remember(ctx context.Context, reference string) error
}

// SignatureService handles HMAC-SHA512 signing and verification.
type SignatureService interface {
	Sign(secret string, payload []byte) string
	Verify(secret string, payload []byte, signature string) bool
}

// TokenService handles JWT token operations.
type TokenService interface {
	Generate(userID uuid.UUID) (string, time.Time, error)
	Validate(tokenString string) (*TokenClaims, error)
}

// TokenClaims holds the parsed JWT claims.
type TokenClaims struct {
	UserID uuid.UUID
}

// MetricsRecorder receives operational measurements.
type MetricsRecorder interface {
	ObserveLockAcquire(result string, elapsed time.Duration)
	ObserveLockHeld(held time.Duration)
	ObserveOperation(operation, result string, elapsed time.Duration)
	ObserveWebhook(event, result string)
}

// --- Payment Provider ---

// PaymentGateway is the external payout provider.
type PaymentGateway interface {
	CreateRecipient(ctx context.Context, bankCode, accountNumber string) (string, error)
	// InitiateTransfer creates the recipient and then the transfer.
	// A declined transfer is reported through TransferResult, not an error.
	InitiateTransfer(ctx context.Context, instruction TransferInstruction) (*TransferResult, error)
	ListBanks(ctx context.Context) ([]Bank, error)
	VerifySignature(signature string, rawBody []byte) bool
}

// TransferInstruction describes a payout to a bank account.
type TransferInstruction struct {
	BankCode      string
	AccountNumber string
	Amount        int64 // minor units
	Reason        string
	Reference     string
}

// TransferResult is the provider's answer to a transfer request.
type TransferResult struct {
	Accepted      bool
	Message       string
	Status        string // provider-side transfer status, e.g. "pending", "otp"
	TransferCode  string
	RecipientCode string
}

// Bank is a destination bank known to the provider.
type Bank struct {
	Name     string `json:"name"`
	Code     string `json:"code"`
	Slug     string `json:"slug"`
	Currency string `json:"currency"`
	Country  string `json:"country"`
	Active   bool   `json:"active"`
}

// --- Service Ports (Business Logic) ---

// WalletService covers wallet lifecycle and internal money movement.
type WalletService interface {
	CreateOrFindWallet(ctx context.Context, userID uuid.UUID, currency domain.Currency) (*domain.Wallet, bool, error)
	GetWallet(ctx context.Context, userID uuid.UUID, currency domain.Currency) (*domain.Wallet, error)
	GetBalance(ctx context.Context, userID uuid.UUID, currency domain.Currency) (int64, error)
	Fund(ctx context.Context, req FundRequest) (*domain.Transaction, error)
	Transfer(ctx context.Context, req TransferRequest) (*TransferReceipt, error)
	GetTransaction(ctx context.Context, userID, transactionID uuid.UUID) (*domain.Transaction, error)
	ListTransactions(ctx context.Context, params TransactionListParams) ([]domain.Transaction, bool, error)
}

// FundRequest holds validated input for crediting a wallet.
type FundRequest struct {
	UserID    uuid.UUID
	Amount    int64
	Currency  domain.Currency
	Reference string // optional idempotency key
}

// TransferRequest holds validated input for a wallet-to-wallet transfer.
type TransferRequest struct {
	UserID              uuid.UUID
	TargetAccountNumber string
	Amount              int64
	Currency            domain.Currency
	Reference           string
}

// TransferReceipt is the ledger pair written by a transfer.
type TransferReceipt struct {
	Reference string
	Debit     *domain.Transaction
	Credit    *domain.Transaction
}

// TransactionListParams holds filter + pagination for listing transactions.
type TransactionListParams struct {
	UserID   uuid.UUID
	Currency domain.Currency
	Page     int
	PageSize int
}

// PayoutService covers transfers out to bank accounts.
type PayoutService interface {
	InitiatePayout(ctx context.Context, req PayoutRequest) (*domain.Transaction, error)
	ListBanks(ctx context.Context) ([]Bank, error)
	GetPayoutStatus(ctx context.Context, userID uuid.UUID, reference string) (*domain.Transaction, error)
}

// PayoutRequest holds validated input for an external payout.
type PayoutRequest struct {
	UserID        uuid.UUID
	BankCode      string
	AccountNumber string
	Amount        int64
	Reason        string
	Reference     string
}

// ReconciliationService applies provider notifications to the ledger.
type ReconciliationService interface {
	HandleEvent(ctx context.Context, event domain.ProviderEvent) error
}

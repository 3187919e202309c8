package ports

import (
	"context"

	"wallet-ledger/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// WalletRepository defines persistence operations for wallets.
// Methods accepting pgx.Tx are used inside transaction blocks for pessimistic locking.
type WalletRepository interface {
	Create(ctx context.Context, tx pgx.Tx, wallet *domain.Wallet) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Wallet, error)
	GetByUser(ctx context.Context, userID uuid.UUID, currency domain.Currency) (*domain.Wallet, error)
	GetByAccountNumber(ctx context.Context, accountNumber string) (*domain.Wallet, error)
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Wallet, error)
	UpdateBalance(ctx context.Context, tx pgx.Tx, walletID uuid.UUID, balance int64) error
	AccountNumberExists(ctx context.Context, tx pgx.Tx, accountNumber string) (bool, error)
}

// TransactionRepository defines persistence operations for ledger entries.
type TransactionRepository interface {
	// Create inserts an entry. A nil tx writes directly through the pool,
	// which is how failure audit entries survive a rolled-back operation.
	Create(ctx context.Context, tx pgx.Tx, transaction *domain.Transaction) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Transaction, error)
	// ExistsByReference reports whether any entry carries the reference, whatever its type.
	ExistsByReference(ctx context.Context, tx pgx.Tx, reference string) (bool, error)
	GetByReference(ctx context.Context, reference string, txType domain.TransactionType) (*domain.Transaction, error)
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Transaction, error)
	// Update persists status and metadata.
	Update(ctx context.Context, tx pgx.Tx, transaction *domain.Transaction) error
	ListByWallet(ctx context.Context, walletID uuid.UUID, limit, offset int) ([]domain.Transaction, error)
}

// DBTransactor provides database transaction management.
type DBTransactor interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

package postgres

import (
	"context"
	"errors"
	"fmt"

	"wallet-ledger/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const walletColumns = `id, user_id, balance, currency, account_number, is_deleted, created_at, updated_at`

// WalletRepo implements ports.WalletRepository.
type WalletRepo struct {
	pool Pool
}

// NewWalletRepo creates a new WalletRepo.
func NewWalletRepo(pool Pool) *WalletRepo {
	return &WalletRepo{pool: pool}
}

// Create inserts a new wallet. Returns domain.ErrWalletExists when the user
// already holds a wallet in that currency.
func (r *WalletRepo) Create(ctx context.Context, tx pgx.Tx, w *domain.Wallet) error {
	query := `INSERT INTO wallets (` + walletColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := pick(r.pool, tx).Exec(ctx, query,
		w.ID, w.UserID, w.Balance, w.Currency, w.AccountNumber,
		w.IsDeleted, w.CreatedAt, w.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrWalletExists
		}
		return fmt.Errorf("insert wallet: %w", err)
	}
	return nil
}

// GetByID fetches a wallet by its UUID (without locking).
func (r *WalletRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Wallet, error) {
	query := `SELECT ` + walletColumns + ` FROM wallets WHERE id = $1 AND is_deleted = false`

	w, err := scanWallet(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		return nil, fmt.Errorf("get wallet by id: %w", err)
	}
	return w, nil
}

// GetByUser fetches a user's wallet in the given currency (non-locking read).
func (r *WalletRepo) GetByUser(ctx context.Context, userID uuid.UUID, currency domain.Currency) (*domain.Wallet, error) {
	query := `SELECT ` + walletColumns + ` FROM wallets
		WHERE user_id = $1 AND currency = $2 AND is_deleted = false`

	w, err := scanWallet(r.pool.QueryRow(ctx, query, userID, currency))
	if err != nil {
		return nil, fmt.Errorf("get wallet by user: %w", err)
	}
	return w, nil
}

// GetByAccountNumber fetches a wallet by its account number.
func (r *WalletRepo) GetByAccountNumber(ctx context.Context, accountNumber string) (*domain.Wallet, error) {
	query := `SELECT ` + walletColumns + ` FROM wallets
		WHERE account_number = $1 AND is_deleted = false`

	w, err := scanWallet(r.pool.QueryRow(ctx, query, accountNumber))
	if err != nil {
		return nil, fmt.Errorf("get wallet by account number: %w", err)
	}
	return w, nil
}

// GetByIDForUpdate fetches a wallet by ID with pessimistic locking.
// This MUST be called within a transaction.
func (r *WalletRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Wallet, error) {
	query := `SELECT ` + walletColumns + ` FROM wallets
		WHERE id = $1 AND is_deleted = false FOR UPDATE`

	w, err := scanWallet(tx.QueryRow(ctx, query, id))
	if err != nil {
		return nil, fmt.Errorf("get wallet for update by id: %w", err)
	}
	return w, nil
}

// UpdateBalance sets a wallet's balance within a transaction.
func (r *WalletRepo) UpdateBalance(ctx context.Context, tx pgx.Tx, walletID uuid.UUID, balance int64) error {
	if balance < 0 {
		return fmt.Errorf("update wallet balance: negative balance %d for %s", balance, walletID)
	}

	query := `UPDATE wallets SET balance = $1, updated_at = NOW() WHERE id = $2 AND is_deleted = false`

	tag, err := tx.Exec(ctx, query, balance, walletID)
	if err != nil {
		return fmt.Errorf("update wallet balance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("wallet not found: %s", walletID)
	}
	return nil
}

// AccountNumberExists checks whether an account number is already assigned,
// including to soft-deleted wallets.
func (r *WalletRepo) AccountNumberExists(ctx context.Context, tx pgx.Tx, accountNumber string) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM wallets WHERE account_number = $1)`

	var exists bool
	if err := pick(r.pool, tx).QueryRow(ctx, query, accountNumber).Scan(&exists); err != nil {
		return false, fmt.Errorf("check account number: %w", err)
	}
	return exists, nil
}

// scanWallet returns nil, nil when no row matched.
func scanWallet(row pgx.Row) (*domain.Wallet, error) {
	w := &domain.Wallet{}
	err := row.Scan(
		&w.ID, &w.UserID, &w.Balance, &w.Currency, &w.AccountNumber,
		&w.IsDeleted, &w.CreatedAt, &w.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return w, nil
}

package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"wallet-ledger/internal/core/domain"
	"wallet-ledger/internal/core/ports"
	"wallet-ledger/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const accountNumberAttempts = 5

// WalletServiceImpl implements ports.WalletService.
type WalletServiceImpl struct {
	walletRepo ports.WalletRepository
	txRepo     ports.TransactionRepository
	transactor ports.DBTransactor
	locker     ports.Locker
	refCache   ports.ReferenceCache
	metrics    ports.MetricsRecorder
	locks      LockPolicy
	log        zerolog.Logger
	now        func() time.Time
}

// NewWalletService creates a new WalletServiceImpl.
func NewWalletService(
	walletRepo ports.WalletRepository,
	txRepo ports.TransactionRepository,
	transactor ports.DBTransactor,
	locker ports.Locker,
	refCache ports.ReferenceCache,
	metrics ports.MetricsRecorder,
	locks LockPolicy,
	log zerolog.Logger,
) *WalletServiceImpl {
	return &WalletServiceImpl{
		walletRepo: walletRepo,
		txRepo:     txRepo,
		transactor: transactor,
		locker:     locker,
		refCache:   refCache,
		metrics:    metrics,
		locks:      locks,
		log:        log,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// CreateOrFindWallet returns the user's wallet in currency, creating it when
// absent. The boolean reports whether a wallet was created.
func (s *WalletServiceImpl) CreateOrFindWallet(ctx context.Context, userID uuid.UUID, currency domain.Currency) (*domain.Wallet, bool, error) {
	currency, err := resolveCurrency(currency)
	if err != nil {
		return nil, false, err
	}

	existing, err := s.walletRepo.GetByUser(ctx, userID, currency)
	if err != nil {
		return nil, false, apperror.ErrDatabaseError(err)
	}
	if existing != nil {
		return existing, false, nil
	}

	for range accountNumberAttempts {
		accountNumber, err := domain.GenerateAccountNumber(currency)
		if err != nil {
			return nil, false, apperror.InternalError(err)
		}
		taken, err := s.walletRepo.AccountNumberExists(ctx, nil, accountNumber)
		if err != nil {
			return nil, false, apperror.ErrDatabaseError(err)
		}
		if taken {
			continue
		}

		now := s.now()
		wallet := &domain.Wallet{
			ID:            uuid.New(),
			UserID:        userID,
			Currency:      currency,
			AccountNumber: accountNumber,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		err = s.walletRepo.Create(ctx, nil, wallet)
		if err == nil {
			s.log.Info().
				Str("wallet_id", wallet.ID.String()).
				Str("user_id", userID.String()).
				Str("currency", string(currency)).
				Msg("wallet created")
			return wallet, true, nil
		}
		if !errors.Is(err, domain.ErrWalletExists) {
			return nil, false, apperror.ErrDatabaseError(err)
		}

		// Either a concurrent request created the wallet or the account number collided.
		existing, err := s.walletRepo.GetByUser(ctx, userID, currency)
		if err != nil {
			return nil, false, apperror.ErrDatabaseError(err)
		}
		if existing != nil {
			return existing, false, nil
		}
	}

	return nil, false, apperror.InternalError(fmt.Errorf("no free account number after %d attempts", accountNumberAttempts))
}

// GetWallet returns the user's wallet in currency.
func (s *WalletServiceImpl) GetWallet(ctx context.Context, userID uuid.UUID, currency domain.Currency) (*domain.Wallet, error) {
	currency, err := resolveCurrency(currency)
	if err != nil {
		return nil, err
	}
	wallet, err := s.walletRepo.GetByUser(ctx, userID, currency)
	if err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}
	if wallet == nil {
		return nil, apperror.ErrNotFound("wallet")
	}
	return wallet, nil
}

// GetBalance returns the wallet balance in minor units.
func (s *WalletServiceImpl) GetBalance(ctx context.Context, userID uuid.UUID, currency domain.Currency) (int64, error) {
	wallet, err := s.GetWallet(ctx, userID, currency)
	if err != nil {
		return 0, err
	}
	return wallet.Balance, nil
}

// Fund credits the user's wallet. A reference that was already recorded is a Conflict.
func (s *WalletServiceImpl) Fund(ctx context.Context, req ports.FundRequest) (txn *domain.Transaction, err error) {
	start := time.Now()
	defer func() { s.metrics.ObserveOperation("fund", outcome(err), time.Since(start)) }()

	if req.Amount <= 0 {
		return nil, apperror.ErrInvalidAmount()
	}
	wallet, err := s.GetWallet(ctx, req.UserID, req.Currency)
	if err != nil {
		return nil, err
	}

	reference := strings.TrimSpace(req.Reference)
	if reference == "" {
		reference = domain.NewTransactionReference(req.UserID, s.now())
	}
	if err := referenceGuard(ctx, s.refCache, s.log, reference); err != nil {
		return nil, err
	}

	keys := []string{wallet.LockKey(), domain.ReferenceLockKey(reference)}
	err = s.locker.WithLock(ctx, keys, s.locks.Fund, func(lockCtx context.Context) error {
		var lockedErr error
		txn, lockedErr = s.fundLocked(context.WithoutCancel(lockCtx), wallet.ID, req, reference)
		return lockedErr
	})
	if err != nil {
		if apperror.Attempted(err) {
			entry := newEntry(wallet.ID, req.Amount, domain.TransactionTypeCredit, domain.TransactionStatusFailed,
				reference, req.UserID, domain.ActionFund, s.now())
			recordFailure(ctx, s.txRepo, s.log, entry, err)
		}
		s.log.Warn().
			Err(err).
			Str("wallet_id", wallet.ID.String()).
			Str("reference", reference).
			Int64("amount", req.Amount).
			Msg("fund failed")
		return nil, err
	}

	rememberReference(ctx, s.refCache, s.log, reference)

	s.log.Info().
		Str("tx_id", txn.ID.String()).
		Str("wallet_id", wallet.ID.String()).
		Str("reference", reference).
		Int64("amount", req.Amount).
		Msg("wallet funded")

	return txn, nil
}

func (s *WalletServiceImpl) fundLocked(ctx context.Context, walletID uuid.UUID, req ports.FundRequest, reference string) (*domain.Transaction, error) {
	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	exists, err := s.txRepo.ExistsByReference(ctx, dbTx, reference)
	if err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}
	if exists {
		return nil, apperror.ErrDuplicateTransaction(reference)
	}

	wallet, err := s.walletRepo.GetByIDForUpdate(ctx, dbTx, walletID)
	if err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("lock wallet: %w", err))
	}
	if wallet == nil {
		return nil, apperror.ErrNotFound("wallet")
	}
	if wallet.Balance > math.MaxInt64-req.Amount {
		return nil, apperror.Validation("Amount would overflow wallet balance")
	}

	if err := s.walletRepo.UpdateBalance(ctx, dbTx, wallet.ID, wallet.Balance+req.Amount); err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("update balance: %w", err))
	}

	txn := newEntry(wallet.ID, req.Amount, domain.TransactionTypeCredit, domain.TransactionStatusSuccess,
		reference, req.UserID, domain.ActionFund, s.now())
	if err := s.txRepo.Create(ctx, dbTx, txn); err != nil {
		return nil, duplicateOr(err, reference)
	}

	if err := dbTx.Commit(ctx); err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("commit tx: %w", err))
	}
	return txn, nil
}

// Transfer moves amount from the user's wallet to the wallet holding
// TargetAccountNumber, writing one DEBIT and one CREDIT under one reference.
func (s *WalletServiceImpl) Transfer(ctx context.Context, req ports.TransferRequest) (receipt *ports.TransferReceipt, err error) {
	start := time.Now()
	defer func() { s.metrics.ObserveOperation("transfer", outcome(err), time.Since(start)) }()

	if req.Amount <= 0 {
		return nil, apperror.ErrInvalidAmount()
	}
	target := strings.TrimSpace(req.TargetAccountNumber)
	if target == "" {
		return nil, apperror.Validation("Target account number is required")
	}

	source, err := s.GetWallet(ctx, req.UserID, req.Currency)
	if err != nil {
		return nil, err
	}
	recipient, err := s.walletRepo.GetByAccountNumber(ctx, target)
	if err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}
	if recipient == nil {
		return nil, apperror.ErrNotFound("recipient wallet")
	}
	if recipient.ID == source.ID {
		return nil, apperror.Validation("Cannot transfer to the same wallet")
	}
	if recipient.Currency != source.Currency {
		return nil, apperror.Validation("Recipient wallet currency does not match")
	}
	if !source.CanDebit(req.Amount) {
		return nil, apperror.ErrInsufficientFunds()
	}

	reference := strings.TrimSpace(req.Reference)
	if reference == "" {
		reference = domain.NewTransactionReference(req.UserID, s.now())
	}
	if err := referenceGuard(ctx, s.refCache, s.log, reference); err != nil {
		return nil, err
	}

	keys := []string{source.LockKey(), recipient.LockKey(), domain.ReferenceLockKey(reference)}
	err = s.locker.WithLock(ctx, keys, s.locks.Transfer, func(lockCtx context.Context) error {
		var lockedErr error
		receipt, lockedErr = s.transferLocked(context.WithoutCancel(lockCtx), source, recipient, req, reference)
		return lockedErr
	})
	if err != nil {
		if apperror.Attempted(err) {
			entry := newEntry(source.ID, req.Amount, domain.TransactionTypeDebit, domain.TransactionStatusFailed,
				reference, req.UserID, domain.ActionTransfer, s.now())
			entry.Metadata.Counterparty = &domain.Counterparty{WalletID: &recipient.ID, AccountNumber: recipient.AccountNumber}
			recordFailure(ctx, s.txRepo, s.log, entry, err)
		}
		s.log.Warn().
			Err(err).
			Str("source_wallet_id", source.ID.String()).
			Str("recipient_wallet_id", recipient.ID.String()).
			Str("reference", reference).
			Int64("amount", req.Amount).
			Msg("transfer failed")
		return nil, err
	}

	rememberReference(ctx, s.refCache, s.log, reference)

	s.log.Info().
		Str("source_wallet_id", source.ID.String()).
		Str("recipient_wallet_id", recipient.ID.String()).
		Str("reference", reference).
		Int64("amount", req.Amount).
		Msg("transfer completed")

	return receipt, nil
}

func (s *WalletServiceImpl) transferLocked(ctx context.Context, source, recipient *domain.Wallet, req ports.TransferRequest, reference string) (*ports.TransferReceipt, error) {
	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	exists, err := s.txRepo.ExistsByReference(ctx, dbTx, reference)
	if err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}
	if exists {
		return nil, apperror.ErrDuplicateTransaction(reference)
	}

	// Row locks are taken in id order so concurrent opposite transfers cannot deadlock.
	locked := make(map[uuid.UUID]*domain.Wallet, 2)
	for _, id := range orderedIDs(source.ID, recipient.ID) {
		w, err := s.walletRepo.GetByIDForUpdate(ctx, dbTx, id)
		if err != nil {
			return nil, apperror.ErrDatabaseError(fmt.Errorf("lock wallet: %w", err))
		}
		if w == nil {
			return nil, apperror.ErrNotFound("wallet")
		}
		locked[id] = w
	}
	src, dst := locked[source.ID], locked[recipient.ID]

	if !src.CanDebit(req.Amount) {
		return nil, apperror.ErrInsufficientFunds()
	}
	if dst.Balance > math.MaxInt64-req.Amount {
		return nil, apperror.Validation("Amount would overflow recipient balance")
	}

	if err := s.walletRepo.UpdateBalance(ctx, dbTx, src.ID, src.Balance-req.Amount); err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("debit source: %w", err))
	}
	if err := s.walletRepo.UpdateBalance(ctx, dbTx, dst.ID, dst.Balance+req.Amount); err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("credit recipient: %w", err))
	}

	now := s.now()
	debit := newEntry(src.ID, req.Amount, domain.TransactionTypeDebit, domain.TransactionStatusSuccess,
		reference, req.UserID, domain.ActionTransfer, now)
	debit.Metadata.Counterparty = &domain.Counterparty{WalletID: &dst.ID, AccountNumber: dst.AccountNumber}

	credit := newEntry(dst.ID, req.Amount, domain.TransactionTypeCredit, domain.TransactionStatusSuccess,
		reference, req.UserID, domain.ActionTransfer, now)
	credit.Metadata.Counterparty = &domain.Counterparty{WalletID: &src.ID, AccountNumber: src.AccountNumber}

	if err := s.txRepo.Create(ctx, dbTx, debit); err != nil {
		return nil, duplicateOr(err, reference)
	}
	if err := s.txRepo.Create(ctx, dbTx, credit); err != nil {
		return nil, duplicateOr(err, reference)
	}

	if err := dbTx.Commit(ctx); err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("commit tx: %w", err))
	}

	return &ports.TransferReceipt{Reference: reference, Debit: debit, Credit: credit}, nil
}

// GetTransaction returns a transaction belonging to one of the user's wallets.
func (s *WalletServiceImpl) GetTransaction(ctx context.Context, userID, transactionID uuid.UUID) (*domain.Transaction, error) {
	txn, err := s.txRepo.GetByID(ctx, transactionID)
	if err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}
	if txn == nil {
		return nil, apperror.ErrNotFound("transaction")
	}
	if err := s.ensureOwner(ctx, userID, txn.WalletID, "transaction"); err != nil {
		return nil, err
	}
	return txn, nil
}

// ListTransactions returns one page of the wallet's entries, newest first,
// and whether more pages follow.
func (s *WalletServiceImpl) ListTransactions(ctx context.Context, params ports.TransactionListParams) ([]domain.Transaction, bool, error) {
	wallet, err := s.GetWallet(ctx, params.UserID, params.Currency)
	if err != nil {
		return nil, false, err
	}

	page, pageSize := normalizePage(params.Page, params.PageSize)
	items, err := s.txRepo.ListByWallet(ctx, wallet.ID, pageSize+1, (page-1)*pageSize)
	if err != nil {
		return nil, false, apperror.ErrDatabaseError(err)
	}

	hasMore := len(items) > pageSize
	if hasMore {
		items = items[:pageSize]
	}
	return items, hasMore, nil
}

func (s *WalletServiceImpl) ensureOwner(ctx context.Context, userID, walletID uuid.UUID, entity string) error {
	wallet, err := s.walletRepo.GetByID(ctx, walletID)
	if err != nil {
		return apperror.ErrDatabaseError(err)
	}
	if wallet == nil || wallet.UserID != userID {
		return apperror.ErrNotFound(entity)
	}
	return nil
}

func normalizePage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return page, pageSize
}

func orderedIDs(a, b uuid.UUID) []uuid.UUID {
	if strings.Compare(a.String(), b.String()) <= 0 {
		return []uuid.UUID{a, b}
	}
	return []uuid.UUID{b, a}
}
